// Package vtk reads and writes block-model grids in the legacy ASCII VTK
// format. Only cell data is kept; point data is parsed and dropped. An axis
// with a single point is read as one layer of cells centred on that point,
// so 2-D image data loads as a one-layer block model.
package vtk

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"vtkkrig/internal/models"
)

// ErrUnsupported reports a valid VTK file this package cannot represent.
var ErrUnsupported = errors.New("unsupported vtk content")

// Read loads a grid from a legacy VTK file.
func Read(path string) (*models.Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	g, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return g, nil
}

// Decode parses a legacy ASCII VTK stream.
func Decode(r io.Reader) (*models.Grid, error) {
	br := bufio.NewReader(r)

	header, err := br.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("missing header: %w", err)
	}
	if !strings.HasPrefix(strings.TrimSpace(header), "# vtk DataFile") {
		return nil, fmt.Errorf("not a legacy vtk file")
	}
	title, err := br.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("missing title: %w", err)
	}

	p := &parser{sc: bufio.NewScanner(br)}
	p.sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	p.sc.Split(bufio.ScanWords)

	format, err := p.word()
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(format, "ASCII") {
		return nil, fmt.Errorf("%w: %s encoding, re-save the grid as ASCII (pyvista: save(path, binary=False))", ErrUnsupported, format)
	}

	if err := p.expect("DATASET"); err != nil {
		return nil, err
	}
	kind, err := p.word()
	if err != nil {
		return nil, err
	}

	var g *models.Grid
	switch strings.ToUpper(kind) {
	case "STRUCTURED_POINTS":
		g, err = p.structuredPoints()
	case "RECTILINEAR_GRID":
		g, err = p.rectilinearGrid()
	default:
		return nil, fmt.Errorf("%w: dataset %s", ErrUnsupported, kind)
	}
	if err != nil {
		return nil, err
	}
	g.Title = strings.TrimSpace(title)

	points := p.points
	for {
		section, err := p.word()
		if errors.Is(err, io.EOF) {
			return g, nil
		}
		if err != nil {
			return nil, err
		}
		switch strings.ToUpper(section) {
		case "CELL_DATA":
			n, err := p.int()
			if err != nil {
				return nil, err
			}
			if n != g.NumCells() {
				return nil, fmt.Errorf("CELL_DATA has %d entries, grid has %d cells", n, g.NumCells())
			}
			p.target, p.count = g, n
		case "POINT_DATA":
			n, err := p.int()
			if err != nil {
				return nil, err
			}
			if n != points {
				return nil, fmt.Errorf("POINT_DATA has %d entries, grid has %d points", n, points)
			}
			p.target, p.count = nil, n
		case "METADATA":
			if err := p.metadata(); err != nil {
				return nil, err
			}
		default:
			if p.count == 0 && !strings.EqualFold(section, "FIELD") {
				return nil, fmt.Errorf("unexpected keyword %q", section)
			}
			if err := p.attribute(strings.ToUpper(section)); err != nil {
				return nil, err
			}
		}
	}
}

// parser walks the whitespace separated body of the file. Attributes are
// stored in target, or discarded when target is nil.
type parser struct {
	sc     *bufio.Scanner
	target *models.Grid
	count  int
	// points is the point count declared by DIMENSIONS
	points int
}

func (p *parser) word() (string, error) {
	if p.sc.Scan() {
		return p.sc.Text(), nil
	}
	if err := p.sc.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func (p *parser) mustWord() (string, error) {
	w, err := p.word()
	if errors.Is(err, io.EOF) {
		return "", io.ErrUnexpectedEOF
	}
	return w, err
}

func (p *parser) expect(keyword string) error {
	w, err := p.mustWord()
	if err != nil {
		return err
	}
	if !strings.EqualFold(w, keyword) {
		return fmt.Errorf("expected %s, got %q", keyword, w)
	}
	return nil
}

func (p *parser) int() (int, error) {
	w, err := p.mustWord()
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(w)
	if err != nil {
		return 0, fmt.Errorf("expected an integer, got %q", w)
	}
	return n, nil
}

func (p *parser) float() (float64, error) {
	w, err := p.mustWord()
	if err != nil {
		return 0, err
	}
	return parseFloat(w)
}

func (p *parser) floats(n int) ([]float64, error) {
	out := make([]float64, n)
	for i := range out {
		v, err := p.float()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (p *parser) skip(n int) error {
	for i := 0; i < n; i++ {
		if _, err := p.mustWord(); err != nil {
			return err
		}
	}
	return nil
}

func parseFloat(w string) (float64, error) {
	v, err := strconv.ParseFloat(w, 64)
	if err == nil {
		return v, nil
	}
	switch strings.ToLower(w) {
	case "-nan", "+nan", "nan(ind)", "-nan(ind)", "1.#qnan", "-1.#ind":
		return math.NaN(), nil
	}
	return 0, fmt.Errorf("expected a number, got %q", w)
}

func (p *parser) dims() ([3]int, error) {
	if err := p.expect("DIMENSIONS"); err != nil {
		return [3]int{}, err
	}
	return p.dimValues()
}

// dimValues reads the three point counts following DIMENSIONS.
func (p *parser) dimValues() ([3]int, error) {
	var d [3]int
	for i := range d {
		n, err := p.int()
		if err != nil {
			return d, err
		}
		if n < 1 {
			return d, fmt.Errorf("dimension %d has %d points", i, n)
		}
		d[i] = n
	}
	p.points = d[0] * d[1] * d[2]
	return d, nil
}

func (p *parser) structuredPoints() (*models.Grid, error) {
	var dims [3]int
	var origin [3]float64
	spacing := [3]float64{1, 1, 1}
	seen := 0

	for seen < 3 {
		w, err := p.mustWord()
		if err != nil {
			return nil, err
		}
		var target *[3]float64
		switch strings.ToUpper(w) {
		case "DIMENSIONS":
			if dims, err = p.dimValues(); err != nil {
				return nil, err
			}
			seen++
			continue
		case "ORIGIN":
			target = &origin
		case "SPACING", "ASPECT_RATIO":
			target = &spacing
		default:
			return nil, fmt.Errorf("unexpected keyword %q in STRUCTURED_POINTS", w)
		}
		for i := range target {
			if target[i], err = p.float(); err != nil {
				return nil, err
			}
		}
		seen++
	}

	var cells [3]int
	for i := range dims {
		cells[i] = dims[i] - 1
		if dims[i] == 1 {
			cells[i] = 1
			if !(spacing[i] > 0) {
				spacing[i] = 1
			}
			origin[i] -= spacing[i] / 2
		}
	}
	return models.NewRegularGrid(cells, origin, spacing)
}

func (p *parser) rectilinearGrid() (*models.Grid, error) {
	dims, err := p.dims()
	if err != nil {
		return nil, err
	}
	var axes [3][]float64
	for i, keyword := range []string{"X_COORDINATES", "Y_COORDINATES", "Z_COORDINATES"} {
		if err := p.expect(keyword); err != nil {
			return nil, err
		}
		n, err := p.int()
		if err != nil {
			return nil, err
		}
		if n != dims[i] {
			return nil, fmt.Errorf("%s has %d values, DIMENSIONS says %d", keyword, n, dims[i])
		}
		if _, err := p.mustWord(); err != nil { // data type
			return nil, err
		}
		if axes[i], err = p.floats(n); err != nil {
			return nil, err
		}
		if n == 1 {
			v := axes[i][0]
			axes[i] = []float64{v - 0.5, v + 0.5}
		}
	}
	return models.NewGrid(axes[0], axes[1], axes[2])
}

// attribute reads one dataset attribute of p.count tuples.
func (p *parser) attribute(keyword string) error {
	n := p.count
	switch keyword {
	case "SCALARS":
		name, err := p.mustWord()
		if err != nil {
			return err
		}
		dataType, err := p.mustWord()
		if err != nil {
			return err
		}
		components := 1
		w, err := p.mustWord()
		if err != nil {
			return err
		}
		if c, convErr := strconv.Atoi(w); convErr == nil {
			components = c
			if w, err = p.mustWord(); err != nil {
				return err
			}
		}
		if strings.EqualFold(w, "LOOKUP_TABLE") {
			if _, err := p.mustWord(); err != nil {
				return err
			}
		} else {
			return fmt.Errorf("expected LOOKUP_TABLE after SCALARS %s, got %q", name, w)
		}
		return p.store(decodeString(name), dataType, components, n)
	case "FIELD":
		if _, err := p.mustWord(); err != nil { // field name
			return err
		}
		arrays, err := p.int()
		if err != nil {
			return err
		}
		for i := 0; i < arrays; i++ {
			name, err := p.mustWord()
			if err != nil {
				return err
			}
			components, err := p.int()
			if err != nil {
				return err
			}
			tuples, err := p.int()
			if err != nil {
				return err
			}
			dataType, err := p.mustWord()
			if err != nil {
				return err
			}
			if tuples != n {
				// not a per-cell array
				if err := p.skip(components * tuples); err != nil {
					return err
				}
				continue
			}
			if err := p.store(decodeString(name), dataType, components, tuples); err != nil {
				return err
			}
		}
		return nil
	case "LOOKUP_TABLE":
		if _, err := p.mustWord(); err != nil {
			return err
		}
		size, err := p.int()
		if err != nil {
			return err
		}
		return p.skip(4 * size)
	case "COLOR_SCALARS":
		if _, err := p.mustWord(); err != nil {
			return err
		}
		components, err := p.int()
		if err != nil {
			return err
		}
		return p.skip(components * n)
	case "VECTORS", "NORMALS":
		if err := p.skip(2); err != nil {
			return err
		}
		return p.skip(3 * n)
	case "TENSORS":
		if err := p.skip(2); err != nil {
			return err
		}
		return p.skip(9 * n)
	case "TEXTURE_COORDINATES":
		if _, err := p.mustWord(); err != nil {
			return err
		}
		dim, err := p.int()
		if err != nil {
			return err
		}
		if _, err := p.mustWord(); err != nil {
			return err
		}
		return p.skip(dim * n)
	default:
		return fmt.Errorf("%w: attribute %s", ErrUnsupported, keyword)
	}
}

// store reads an array and keeps it on the target grid when it is scalar.
func (p *parser) store(name, dataType string, components, tuples int) error {
	if strings.EqualFold(dataType, "string") {
		labels := make([]string, components*tuples)
		for i := range labels {
			w, err := p.mustWord()
			if err != nil {
				return err
			}
			labels[i] = decodeString(w)
		}
		if p.target == nil || components != 1 {
			return nil
		}
		return p.target.SetLabels(name, labels)
	}

	values, err := p.floats(components * tuples)
	if err != nil {
		return fmt.Errorf("array %s: %w", name, err)
	}
	if p.target == nil || components != 1 {
		return nil
	}
	return p.target.SetValues(name, values)
}

// metadata skips an empty METADATA block.
func (p *parser) metadata() error {
	if err := p.expect("INFORMATION"); err != nil {
		return err
	}
	n, err := p.int()
	if err != nil {
		return err
	}
	if n != 0 {
		return fmt.Errorf("%w: METADATA with %d entries", ErrUnsupported, n)
	}
	return nil
}
