package vtk

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"vtkkrig/internal/models"
)

const valuesPerLine = 9

// Write saves a grid as a legacy ASCII VTK file. Uniform grids are written as
// STRUCTURED_POINTS, others as RECTILINEAR_GRID. All cell arrays go into one
// FIELD block so numeric and label arrays keep their names verbatim.
func Write(grid *models.Grid, path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("error creating output directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Encode(f, grid); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

// Encode writes a grid in legacy ASCII VTK form.
func Encode(w io.Writer, grid *models.Grid) error {
	bw := bufio.NewWriter(w)

	title := strings.TrimSpace(strings.ReplaceAll(grid.Title, "\n", " "))
	if title == "" {
		title = "vtkkrig block model"
	}
	fmt.Fprintln(bw, "# vtk DataFile Version 3.0")
	fmt.Fprintln(bw, title)
	fmt.Fprintln(bw, "ASCII")

	d := grid.Dims
	if origin, spacing, ok := grid.Regular(); ok {
		fmt.Fprintln(bw, "DATASET STRUCTURED_POINTS")
		fmt.Fprintf(bw, "DIMENSIONS %d %d %d\n", d[0]+1, d[1]+1, d[2]+1)
		fmt.Fprintf(bw, "ORIGIN %s %s %s\n", formatFloat(origin[0]), formatFloat(origin[1]), formatFloat(origin[2]))
		fmt.Fprintf(bw, "SPACING %s %s %s\n", formatFloat(spacing[0]), formatFloat(spacing[1]), formatFloat(spacing[2]))
	} else {
		fmt.Fprintln(bw, "DATASET RECTILINEAR_GRID")
		fmt.Fprintf(bw, "DIMENSIONS %d %d %d\n", d[0]+1, d[1]+1, d[2]+1)
		for i, axis := range [][]float64{grid.XAxis, grid.YAxis, grid.ZAxis} {
			fmt.Fprintf(bw, "%s_COORDINATES %d double\n", "XYZ"[i:i+1], len(axis))
			writeFloats(bw, axis)
		}
	}

	names := grid.ArrayNames()
	if len(names) > 0 {
		fmt.Fprintf(bw, "CELL_DATA %d\n", grid.NumCells())
		fmt.Fprintf(bw, "FIELD FieldData %d\n", len(names))
		for _, name := range names {
			arr, _ := grid.Array(name)
			if arr.IsNumeric() {
				fmt.Fprintf(bw, "%s 1 %d double\n", encodeString(name), arr.Len())
				writeFloats(bw, arr.Values)
				continue
			}
			fmt.Fprintf(bw, "%s 1 %d string\n", encodeString(name), arr.Len())
			for _, l := range arr.Labels {
				fmt.Fprintln(bw, encodeString(l))
			}
		}
	}
	return bw.Flush()
}

func writeFloats(w *bufio.Writer, values []float64) {
	for i, v := range values {
		if i > 0 {
			if i%valuesPerLine == 0 {
				w.WriteByte('\n')
			} else {
				w.WriteByte(' ')
			}
		}
		w.WriteString(formatFloat(v))
	}
	w.WriteByte('\n')
}

func formatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// encodeString percent-encodes blanks, control bytes and '%' so a value is a
// single token. The empty string becomes "%00".
func encodeString(s string) string {
	if s == "" {
		return "%00"
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c <= ' ' || c == '%' || c >= 0x7f {
			fmt.Fprintf(&b, "%%%02X", c)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func decodeString(s string) string {
	if s == "%00" {
		return ""
	}
	if !strings.Contains(s, "%") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			if v, err := strconv.ParseUint(s[i+1:i+3], 16, 8); err == nil {
				b.WriteByte(byte(v))
				i += 2
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
