// Package tabular loads hard data tables into sample sets.
package tabular

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"vtkkrig/internal/models"
	"vtkkrig/pkg/vtk"
)

// ErrUnknownFormat reports a file extension with no loader.
var ErrUnknownFormat = errors.New("unrecognised table format")

// missingTokens are read as missing values, compared case-insensitively.
var missingTokens = map[string]bool{
	"":     true,
	"nan":  true,
	"na":   true,
	"n/a":  true,
	"null": true,
	"none": true,
}

// Load reads a sample table, choosing the reader by file extension:
// delimited text (.csv, .tsv, .txt, .asc, .dat) or a VTK grid whose cell
// centres become x, y, z next to the cell arrays (.vtk).
func Load(path string) (*models.SampleSet, error) {
	var (
		s   *models.SampleSet
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".tsv", ".txt", ".asc", ".dat":
		var f *os.File
		f, err = os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		s, err = ReadDelimited(f)
	case ".vtk":
		var g *models.Grid
		g, err = vtk.Read(path)
		if err != nil {
			return nil, err
		}
		s, err = FromGrid(g)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	s.Source = path
	return s, nil
}

// ReadDelimited parses a delimited table with a header row. The delimiter is
// the most frequent of comma, semicolon and tab in the header; a header with
// none of them is split on blanks.
func ReadDelimited(r io.Reader) (*models.SampleSet, error) {
	br := bufio.NewReader(r)
	first, err := peekLine(br)
	if err != nil {
		return nil, err
	}

	var records [][]string
	if delim, ok := sniffDelimiter(first); ok {
		cr := csv.NewReader(br)
		cr.Comma = delim
		cr.Comment = '#'
		cr.FieldsPerRecord = -1
		cr.LazyQuotes = true
		cr.TrimLeadingSpace = delim != '\t'
		records, err = cr.ReadAll()
		if err != nil {
			return nil, err
		}
	} else {
		records, err = readBlankSeparated(br)
		if err != nil {
			return nil, err
		}
	}
	if len(records) == 0 {
		return nil, errors.New("table has no header")
	}

	header := records[0]
	header[0] = strings.TrimPrefix(header[0], "\ufeff")
	names := uniqueNames(header)
	rows := records[1:]

	columns := make([]*models.Column, len(names))
	for c, name := range names {
		raw := make([]string, len(rows))
		for i, row := range rows {
			if len(row) > len(names) {
				return nil, fmt.Errorf("row %d has %d fields, header has %d", i+2, len(row), len(names))
			}
			if c < len(row) {
				raw[i] = strings.TrimSpace(row[c])
			}
		}
		columns[c] = parseColumn(name, raw)
	}
	return models.NewSampleSet(columns...)
}

// FromGrid turns a grid into a sample table: one row per cell with the cell
// centre as x, y and z followed by every cell array.
func FromGrid(g *models.Grid) (*models.SampleSet, error) {
	centers := g.CellCenters()
	xs := make([]float64, len(centers))
	ys := make([]float64, len(centers))
	zs := make([]float64, len(centers))
	for i, c := range centers {
		xs[i], ys[i], zs[i] = c.X, c.Y, c.Z
	}

	arrays := g.ArrayNames()
	names := uniqueNames(append([]string{"x", "y", "z"}, arrays...))
	columns := []*models.Column{
		models.NumericColumn(names[0], xs...),
		models.NumericColumn(names[1], ys...),
		models.NumericColumn(names[2], zs...),
	}
	for i, name := range arrays {
		arr, _ := g.Array(name)
		if arr.IsNumeric() {
			columns = append(columns, models.NumericColumn(names[i+3], append([]float64(nil), arr.Values...)...))
		} else {
			columns = append(columns, models.TextColumn(names[i+3], append([]string(nil), arr.Labels...)...))
		}
	}
	return models.NewSampleSet(columns...)
}

// parseColumn keeps a column numeric when every present entry is a number.
func parseColumn(name string, raw []string) *models.Column {
	numbers := make([]float64, len(raw))
	numeric := true
	for i, s := range raw {
		if IsMissing(s) {
			numbers[i] = models.Undefined
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			numeric = false
			break
		}
		numbers[i] = v
	}
	if numeric {
		return models.NumericColumn(name, numbers...)
	}

	text := make([]string, len(raw))
	for i, s := range raw {
		if !IsMissing(s) {
			text[i] = s
		}
	}
	return models.TextColumn(name, text...)
}

// IsMissing reports whether a table token stands for a missing value.
func IsMissing(token string) bool {
	return missingTokens[strings.ToLower(strings.TrimSpace(token))]
}

func peekLine(br *bufio.Reader) (string, error) {
	for n := 64; ; n *= 2 {
		buf, err := br.Peek(n)
		if i := strings.IndexByte(string(buf), '\n'); i >= 0 {
			return string(buf[:i]), nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, bufio.ErrBufferFull) {
				return string(buf), nil
			}
			return "", err
		}
	}
}

func sniffDelimiter(header string) (rune, bool) {
	best, count := rune(0), 0
	for _, d := range []rune{',', ';', '\t'} {
		if n := strings.Count(header, string(d)); n > count {
			best, count = d, n
		}
	}
	return best, count > 0
}

func readBlankSeparated(r io.Reader) ([][]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	var records [][]string
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		records = append(records, strings.Fields(line))
	}
	return records, sc.Err()
}

// uniqueNames trims field names, names empty ones by position and suffixes
// repeats with .1, .2 and so on.
func uniqueNames(header []string) []string {
	out := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		name := strings.TrimSpace(h)
		if name == "" {
			name = fmt.Sprintf("Unnamed: %d", i)
		}
		candidate := name
		for k := 1; seen[candidate]; k++ {
			candidate = fmt.Sprintf("%s.%d", name, k)
		}
		seen[candidate] = true
		out[i] = candidate
	}
	return out
}
