package models

import (
	"fmt"
	"math"
	"strconv"
)

// Undefined marks a cell that received no estimate. It is only used at the
// storage boundary (grid arrays, files); in-memory results carry an explicit
// coverage mask instead.
var Undefined = math.NaN()

// IsUndefined reports whether v is the undefined cell marker.
func IsUndefined(v float64) bool {
	return math.IsNaN(v)
}

// Point3D represents a 3D point
type Point3D struct {
	X, Y, Z float64
}

// CellArray is a named per-cell array. Exactly one of Values or Labels is set.
type CellArray struct {
	// Name of the array as stored in the grid file
	Name string

	// Values holds numeric cell data, NaN for undefined cells
	Values []float64

	// Labels holds categorical cell data, "" for missing labels
	Labels []string
}

// Len returns the number of cells covered by the array.
func (a *CellArray) Len() int {
	if a.Labels != nil {
		return len(a.Labels)
	}
	return len(a.Values)
}

// IsNumeric reports whether the array stores numbers rather than labels.
func (a *CellArray) IsNumeric() bool {
	return a.Labels == nil
}

// CategoryLabels returns the array as normalised category labels.
// Numeric values are formatted with FormatLabel so that 1 and 1.0 compare equal.
func (a *CellArray) CategoryLabels() []string {
	if !a.IsNumeric() {
		out := make([]string, len(a.Labels))
		for i, l := range a.Labels {
			out[i] = NormalizeLabel(l)
		}
		return out
	}
	out := make([]string, len(a.Values))
	for i, v := range a.Values {
		out[i] = FormatLabel(v)
	}
	return out
}

// FormatLabel formats a numeric category value. NaN maps to the missing label "".
func FormatLabel(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// NormalizeLabel canonicalises a textual category value: numeric text is
// reformatted with FormatLabel, anything else is kept verbatim.
func NormalizeLabel(s string) string {
	if s == "" {
		return ""
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return FormatLabel(v)
	}
	return s
}

// Grid represents a rectilinear block model whose cells are addressed by a
// single integer index, x varying fastest: i + nx*(j + ny*k).
type Grid struct {
	// Dims is the number of cells along x, y and z
	Dims [3]int

	// XAxis, YAxis and ZAxis are the node coordinates along each axis.
	// Each axis has Dims[d]+1 entries in increasing order.
	XAxis, YAxis, ZAxis []float64

	// Title is the free-form header line carried by the grid file
	Title string

	arrays map[string]*CellArray
	order  []string
}

// NewGrid creates a grid from explicit node axes.
func NewGrid(x, y, z []float64) (*Grid, error) {
	for d, axis := range [][]float64{x, y, z} {
		if len(axis) < 2 {
			return nil, fmt.Errorf("axis %d needs at least 2 nodes, got %d", d, len(axis))
		}
		for i := 1; i < len(axis); i++ {
			if !(axis[i] > axis[i-1]) {
				return nil, fmt.Errorf("axis %d is not strictly increasing at node %d", d, i)
			}
		}
	}
	return &Grid{
		Dims:   [3]int{len(x) - 1, len(y) - 1, len(z) - 1},
		XAxis:  x,
		YAxis:  y,
		ZAxis:  z,
		arrays: make(map[string]*CellArray),
	}, nil
}

// NewRegularGrid creates a grid of uniformly sized cells.
// dims are cell counts, origin is the lowest node corner.
func NewRegularGrid(dims [3]int, origin, spacing [3]float64) (*Grid, error) {
	axes := make([][]float64, 3)
	for d := 0; d < 3; d++ {
		if dims[d] < 1 {
			return nil, fmt.Errorf("dimension %d must be positive, got %d", d, dims[d])
		}
		if !(spacing[d] > 0) {
			return nil, fmt.Errorf("spacing %d must be positive, got %g", d, spacing[d])
		}
		axes[d] = make([]float64, dims[d]+1)
		for i := range axes[d] {
			axes[d][i] = origin[d] + float64(i)*spacing[d]
		}
	}
	return NewGrid(axes[0], axes[1], axes[2])
}

// NumCells returns the number of cells in the grid.
func (g *Grid) NumCells() int {
	return g.Dims[0] * g.Dims[1] * g.Dims[2]
}

// CellIndex converts (i, j, k) cell coordinates to the linear cell index.
func (g *Grid) CellIndex(i, j, k int) int {
	return i + g.Dims[0]*(j+g.Dims[1]*k)
}

// CellCenters returns the centre of every cell ordered by cell index.
func (g *Grid) CellCenters() []Point3D {
	nx, ny, nz := g.Dims[0], g.Dims[1], g.Dims[2]
	centers := make([]Point3D, 0, g.NumCells())
	for k := 0; k < nz; k++ {
		cz := (g.ZAxis[k] + g.ZAxis[k+1]) / 2
		for j := 0; j < ny; j++ {
			cy := (g.YAxis[j] + g.YAxis[j+1]) / 2
			for i := 0; i < nx; i++ {
				centers = append(centers, Point3D{
					X: (g.XAxis[i] + g.XAxis[i+1]) / 2,
					Y: cy,
					Z: cz,
				})
			}
		}
	}
	return centers
}

// Regular reports whether every axis is uniformly spaced, returning the
// origin and spacing when it is.
func (g *Grid) Regular() (origin, spacing [3]float64, ok bool) {
	for d, axis := range [][]float64{g.XAxis, g.YAxis, g.ZAxis} {
		step := axis[1] - axis[0]
		for i := 2; i < len(axis); i++ {
			if math.Abs((axis[i]-axis[i-1])-step) > 1e-9*math.Max(1, math.Abs(step)) {
				return origin, spacing, false
			}
		}
		origin[d] = axis[0]
		spacing[d] = step
	}
	return origin, spacing, true
}

// ArrayNames returns the names of the per-cell arrays in insertion order.
func (g *Grid) ArrayNames() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// HasArray reports whether the grid holds a per-cell array with that name.
func (g *Grid) HasArray(name string) bool {
	_, ok := g.arrays[name]
	return ok
}

// Array returns the named per-cell array.
func (g *Grid) Array(name string) (*CellArray, bool) {
	a, ok := g.arrays[name]
	return a, ok
}

// SetValues creates or replaces a numeric per-cell array.
func (g *Grid) SetValues(name string, values []float64) error {
	return g.SetArray(&CellArray{Name: name, Values: values})
}

// SetLabels creates or replaces a categorical per-cell array.
func (g *Grid) SetLabels(name string, labels []string) error {
	if labels == nil {
		labels = []string{}
	}
	return g.SetArray(&CellArray{Name: name, Labels: labels})
}

// SetArray creates or replaces a per-cell array. The array length must match
// the cell count.
func (g *Grid) SetArray(a *CellArray) error {
	if a.Name == "" {
		return fmt.Errorf("cell array needs a name")
	}
	if a.Len() != g.NumCells() {
		return fmt.Errorf("cell array %q has %d values, grid has %d cells", a.Name, a.Len(), g.NumCells())
	}
	if g.arrays == nil {
		g.arrays = make(map[string]*CellArray)
	}
	if _, exists := g.arrays[a.Name]; !exists {
		g.order = append(g.order, a.Name)
	}
	g.arrays[a.Name] = a
	return nil
}
