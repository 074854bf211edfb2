// Package visualization renders estimated grid variables as PNG slice heat
// maps and value histograms.
package visualization

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"vtkkrig/internal/models"
)

// ErrNotNumeric reports a request to plot a label array.
var ErrNotNumeric = errors.New("array is not numeric")

const (
	plotWidth    = 6 * vg.Inch
	plotHeight   = 5 * vg.Inch
	paletteSize  = 64
	maxHistBins  = 30
	minHistBins  = 1
	flatMaxDelta = 1e-9
)

// Viewer draws cell arrays of a grid.
type Viewer struct {
	grid   *models.Grid
	logger *zap.Logger
}

// NewViewer creates a viewer over grid. A nil logger discards output.
func NewViewer(grid *models.Grid, logger *zap.Logger) *Viewer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Viewer{grid: grid, logger: logger}
}

// Slice is one axis-aligned layer of cells. It implements plotter.GridXYZ
// with cell centres as coordinates; undefined cells are NaN.
type Slice struct {
	Axis     string
	Position int
	xs, ys   []float64
	values   [][]float64 // [column][row]
}

// Dims returns the number of columns and rows.
func (s *Slice) Dims() (c, r int) { return len(s.xs), len(s.ys) }

// Z returns the value of the cell at column c and row r.
func (s *Slice) Z(c, r int) float64 { return s.values[c][r] }

// X returns the coordinate of column c.
func (s *Slice) X(c int) float64 { return s.xs[c] }

// Y returns the coordinate of row r.
func (s *Slice) Y(r int) float64 { return s.ys[r] }

// Min returns the smallest defined value, or NaN when none is defined.
func (s *Slice) Min() float64 {
	lo, _ := s.bounds()
	return lo
}

// Max returns the largest defined value, or NaN when none is defined.
func (s *Slice) Max() float64 {
	_, hi := s.bounds()
	return hi
}

// Defined counts cells holding a value.
func (s *Slice) Defined() int {
	n := 0
	for _, col := range s.values {
		for _, v := range col {
			if !models.Missing(v) {
				n++
			}
		}
	}
	return n
}

func (s *Slice) bounds() (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, col := range s.values {
		for _, v := range col {
			if models.Missing(v) {
				continue
			}
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	if lo > hi {
		return math.NaN(), math.NaN()
	}
	return lo, hi
}

// ExtractSlice cuts the numeric array variable at cell index position along
// axis (x, y or z). Columns and rows run along the two remaining axes in
// x, y, z order.
func (v *Viewer) ExtractSlice(variable, axis string, position int) (*Slice, error) {
	arr, err := v.numeric(variable)
	if err != nil {
		return nil, err
	}
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	g := v.grid
	centers := [3][]float64{midpoints(g.XAxis), midpoints(g.YAxis), midpoints(g.ZAxis)}

	var fixed, colAxis, rowAxis int
	switch strings.ToLower(axis) {
	case "x":
		fixed, colAxis, rowAxis = 0, 1, 2
	case "y":
		fixed, colAxis, rowAxis = 1, 0, 2
	case "z":
		fixed, colAxis, rowAxis = 2, 0, 1
	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}
	if position >= g.Dims[fixed] {
		return nil, fmt.Errorf("position %d exceeds %s size %d", position, axis, g.Dims[fixed])
	}

	s := &Slice{
		Axis:     strings.ToLower(axis),
		Position: position,
		xs:       centers[colAxis],
		ys:       centers[rowAxis],
		values:   make([][]float64, g.Dims[colAxis]),
	}
	var ijk [3]int
	ijk[fixed] = position
	for c := range s.values {
		s.values[c] = make([]float64, g.Dims[rowAxis])
		ijk[colAxis] = c
		for r := range s.values[c] {
			ijk[rowAxis] = r
			s.values[c][r] = arr.Values[g.CellIndex(ijk[0], ijk[1], ijk[2])]
		}
	}
	return s, nil
}

// SaveSlice draws a slice as a heat map PNG. It returns false without writing
// anything when no cell of the slice is defined.
func (v *Viewer) SaveSlice(s *Slice, title, filename string) (bool, error) {
	lo, hi := s.bounds()
	if math.IsNaN(lo) {
		return false, nil
	}
	if hi-lo < flatMaxDelta {
		hi = lo + 1
	}

	p := plot.New()
	p.Title.Text = title
	labels := map[string][2]string{"x": {"Y", "Z"}, "y": {"X", "Z"}, "z": {"X", "Y"}}[s.Axis]
	p.X.Label.Text = labels[0]
	p.Y.Label.Text = labels[1]

	hm := plotter.NewHeatMap(s, palette.Heat(paletteSize, 1))
	hm.Min, hm.Max = lo, hi
	p.Add(hm)

	if err := p.Save(plotWidth, plotHeight, filename); err != nil {
		return false, fmt.Errorf("saving %s: %w", filename, err)
	}
	v.logger.Debug("Saved slice", zap.String("file", filename), zap.String("axis", s.Axis), zap.Int("position", s.Position))
	return true, nil
}

// SaveHistogram draws the distribution of the defined values of variable.
// It returns false without writing anything when no value is defined.
func (v *Viewer) SaveHistogram(variable, filename string) (bool, error) {
	arr, err := v.numeric(variable)
	if err != nil {
		return false, err
	}

	values := make(plotter.Values, 0, len(arr.Values))
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, x := range arr.Values {
		if models.Missing(x) {
			continue
		}
		values = append(values, x)
		lo, hi = math.Min(lo, x), math.Max(hi, x)
	}
	if len(values) == 0 {
		return false, nil
	}

	bins := int(math.Ceil(math.Sqrt(float64(len(values)))))
	if bins > maxHistBins {
		bins = maxHistBins
	}
	if hi-lo < flatMaxDelta || bins < minHistBins {
		bins = minHistBins
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s (%d cells)", variable, len(values))
	p.X.Label.Text = variable
	p.Y.Label.Text = "Cells"

	h, err := plotter.NewHist(values, bins)
	if err != nil {
		return false, err
	}
	p.Add(h)

	if err := p.Save(plotWidth, plotHeight, filename); err != nil {
		return false, fmt.Errorf("saving %s: %w", filename, err)
	}
	v.logger.Debug("Saved histogram", zap.String("file", filename), zap.Int("values", len(values)))
	return true, nil
}

// SaveSliceSequence writes one heat map per layer of variable along axis and
// returns the files written. Layers without defined cells are skipped.
func (v *Viewer) SaveSliceSequence(variable, axis, outputDir string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}

	var n int
	switch strings.ToLower(axis) {
	case "x":
		n = v.grid.Dims[0]
	case "y":
		n = v.grid.Dims[1]
	case "z":
		n = v.grid.Dims[2]
	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	var files []string
	for pos := 0; pos < n; pos++ {
		s, err := v.ExtractSlice(variable, axis, pos)
		if err != nil {
			return files, err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("%s_%s_%03d.png", fileStem(variable), strings.ToLower(axis), pos))
		ok, err := v.SaveSlice(s, fmt.Sprintf("%s, %s = %d", variable, strings.ToLower(axis), pos), filename)
		if err != nil {
			return files, err
		}
		if ok {
			files = append(files, filename)
		}
	}
	return files, nil
}

// SaveVariable writes the middle z-layer heat map and the histogram of
// variable into outputDir and returns the files written.
func (v *Viewer) SaveVariable(variable, outputDir string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}

	mid := v.grid.Dims[2] / 2
	s, err := v.ExtractSlice(variable, "z", mid)
	if err != nil {
		return nil, err
	}

	var files []string
	stem := fileStem(variable)
	sliceFile := filepath.Join(outputDir, stem+"_slice.png")
	ok, err := v.SaveSlice(s, fmt.Sprintf("%s, z = %d", variable, mid), sliceFile)
	if err != nil {
		return nil, err
	}
	if ok {
		files = append(files, sliceFile)
	} else {
		v.logger.Info("No defined cells in slice, skipping", zap.String("variable", variable), zap.Int("z", mid))
	}

	histFile := filepath.Join(outputDir, stem+"_hist.png")
	ok, err = v.SaveHistogram(variable, histFile)
	if err != nil {
		return files, err
	}
	if ok {
		files = append(files, histFile)
	} else {
		v.logger.Info("No defined values, skipping histogram", zap.String("variable", variable))
	}
	return files, nil
}

func (v *Viewer) numeric(variable string) (*models.CellArray, error) {
	arr, ok := v.grid.Array(variable)
	if !ok {
		return nil, fmt.Errorf("grid has no array %q", variable)
	}
	if !arr.IsNumeric() {
		return nil, fmt.Errorf("%q: %w", variable, ErrNotNumeric)
	}
	return arr, nil
}

func midpoints(axis []float64) []float64 {
	out := make([]float64, len(axis)-1)
	for i := range out {
		out[i] = (axis[i] + axis[i+1]) / 2
	}
	return out
}

// fileStem keeps letters, digits, dot, dash and underscore.
func fileStem(name string) string {
	stem := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
	if stem == "" {
		return "variable"
	}
	return stem
}
