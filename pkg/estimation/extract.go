package estimation

import (
	"strings"

	"vtkkrig/internal/models"
)

// Coordinates names the sample fields holding x, y and z.
type Coordinates struct {
	X, Y, Z string
}

// coordinateVocabulary lists the accepted field names per axis, lower case.
var coordinateVocabulary = [3][]string{
	{"x", "xc", "xcentre", "xcenter", "x_centre", "x_center", "xcoord", "x_coord", "mid_x", "midx", "east", "easting"},
	{"y", "yc", "ycentre", "ycenter", "y_centre", "y_center", "ycoord", "y_coord", "mid_y", "midy", "north", "northing"},
	{"z", "zc", "zcentre", "zcenter", "z_centre", "z_center", "zcoord", "z_coord", "mid_z", "midz", "elev", "elevation", "rl"},
}

var axisLabels = [3]string{"x", "y", "z"}

// DetectCoordinates finds the coordinate fields of a sample set by name,
// ignoring case and surrounding blanks. Each axis must match exactly one
// numeric field.
func DetectCoordinates(samples *models.SampleSet) (Coordinates, error) {
	var found [3]string
	for axis, vocabulary := range coordinateVocabulary {
		var candidates []string
		for _, field := range samples.Fields() {
			name := strings.ToLower(strings.TrimSpace(field))
			for _, word := range vocabulary {
				if name == word {
					candidates = append(candidates, field)
					break
				}
			}
		}

		switch len(candidates) {
		case 0:
			return Coordinates{}, &SchemaError{Field: axisLabels[axis], Reason: "no coordinate field found"}
		case 1:
		default:
			return Coordinates{}, &SchemaError{Field: axisLabels[axis], Reason: "ambiguous coordinate field", Candidates: candidates}
		}

		col, _ := samples.Column(candidates[0])
		if !col.IsNumeric() {
			return Coordinates{}, &SchemaError{Field: axisLabels[axis], Reason: "coordinate field " + candidates[0] + " is not numeric"}
		}
		found[axis] = candidates[0]
	}
	return Coordinates{X: found[0], Y: found[1], Z: found[2]}, nil
}

// SamplePoints returns the sample locations. Rows with a missing coordinate
// have NaN components.
func (c Coordinates) SamplePoints(samples *models.SampleSet) []models.Point3D {
	xs, _ := samples.Numbers(c.X)
	ys, _ := samples.Numbers(c.Y)
	zs, _ := samples.Numbers(c.Z)
	points := make([]models.Point3D, samples.Len())
	for i := range points {
		points[i] = models.Point3D{X: xs[i], Y: ys[i], Z: zs[i]}
	}
	return points
}

// CellCenters returns the grid cell centres ordered by cell index.
func CellCenters(grid *models.Grid) []models.Point3D {
	return grid.CellCenters()
}

// CategoryLabels holds the normalised category labels of both data sets.
type CategoryLabels struct {
	Key     string
	Grid    []string
	Samples []string
}

// CategoryArrays returns the category labels for key. It reports false when
// key is empty or missing from the grid arrays or the sample fields, in which
// case the data is treated as a single partition.
func CategoryArrays(grid *models.Grid, samples *models.SampleSet, key string) (*CategoryLabels, bool) {
	if key == "" {
		return nil, false
	}
	arr, ok := grid.Array(key)
	if !ok {
		return nil, false
	}
	col, ok := samples.Column(key)
	if !ok {
		return nil, false
	}
	return &CategoryLabels{
		Key:     key,
		Grid:    arr.CategoryLabels(),
		Samples: col.CategoryLabels(),
	}, true
}
