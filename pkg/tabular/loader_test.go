package tabular

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vtkkrig/internal/models"
	"vtkkrig/pkg/vtk"
)

func TestReadDelimited(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"comma", "x,y,z,grade,lito\n1,2,3,0.5,A\n4,5,6,NA,B\n"},
		{"semicolon", "x;y;z;grade;lito\n1;2;3;0.5;A\n4;5;6;nan;B\n"},
		{"tab", "x\ty\tz\tgrade\tlito\n1\t2\t3\t0.5\tA\n4\t5\t6\t\tB\n"},
		{"blank", "x y z grade lito\n1 2 3 0.5 A\n# comment\n4 5 6 null B\n"},
		{"bom and quotes", "\ufeffx,y,z,grade,lito\n1, 2, 3, 0.5,\"A\"\n4,5,6,None,B\n"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			s, err := ReadDelimited(strings.NewReader(tc.input))
			require.NoError(t, err)

			assert.Equal(t, []string{"x", "y", "z", "grade", "lito"}, s.Fields())
			assert.Equal(t, 2, s.Len())

			x, ok := s.Numbers("x")
			require.True(t, ok)
			assert.Equal(t, []float64{1, 4}, x)

			grade, ok := s.Numbers("grade")
			require.True(t, ok)
			assert.Equal(t, 0.5, grade[0])
			assert.True(t, math.IsNaN(grade[1]))

			lito, ok := s.Column("lito")
			require.True(t, ok)
			assert.False(t, lito.IsNumeric())
			assert.Equal(t, []string{"A", "B"}, lito.Text)
		})
	}
}

func TestReadDelimitedColumnTypes(t *testing.T) {
	input := "x,code,note,,x\n1,10,ok,a,7\n2,n/a,,b,8\n3,20A,NA,c,9\n"
	s, err := ReadDelimited(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, []string{"x", "code", "note", "Unnamed: 3", "x.1"}, s.Fields())

	code, _ := s.Column("code")
	assert.False(t, code.IsNumeric(), "one bad token makes the column text")
	assert.Equal(t, []string{"10", "", "20A"}, code.Text)

	note, _ := s.Column("note")
	assert.Equal(t, []string{"ok", "", ""}, note.Text)

	dup, ok := s.Numbers("x.1")
	require.True(t, ok)
	assert.Equal(t, []float64{7, 8, 9}, dup)
}

func TestReadDelimitedShortRows(t *testing.T) {
	s, err := ReadDelimited(strings.NewReader("x,y,z\n1,2\n4,5,6\n"))
	require.NoError(t, err)
	z, _ := s.Numbers("z")
	assert.True(t, math.IsNaN(z[0]))
	assert.Equal(t, 6.0, z[1])

	_, err = ReadDelimited(strings.NewReader("x,y\n1,2,3\n"))
	assert.Error(t, err)

	_, err = ReadDelimited(strings.NewReader(""))
	assert.Error(t, err)
}

func TestIsMissing(t *testing.T) {
	for _, tok := range []string{"", " ", "NaN", "nan", "NA", "n/a", "N/A", "NULL", "none"} {
		assert.True(t, IsMissing(tok), tok)
	}
	for _, tok := range []string{"0", "-", "A", "nano"} {
		assert.False(t, IsMissing(tok), tok)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	csvPath := filepath.Join(dir, "hard.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("X,Y,Z,cu\n0,0,0,1.5\n"), 0644))
	s, err := Load(csvPath)
	require.NoError(t, err)
	assert.Equal(t, csvPath, s.Source)
	assert.Equal(t, []string{"X", "Y", "Z", "cu"}, s.Fields())

	_, err = Load(filepath.Join(dir, "hard.xlsx"))
	assert.True(t, errors.Is(err, ErrUnknownFormat))

	_, err = Load(filepath.Join(dir, "missing.csv"))
	assert.Error(t, err)
}

func TestLoadGrid(t *testing.T) {
	g, err := models.NewRegularGrid([3]int{2, 1, 1}, [3]float64{0, 0, 0}, [3]float64{10, 10, 10})
	require.NoError(t, err)
	require.NoError(t, g.SetValues("x", []float64{7, 8}))
	require.NoError(t, g.SetValues("cu", []float64{0.3, math.NaN()}))
	require.NoError(t, g.SetLabels("lito", []string{"ox", "sulf"}))

	path := filepath.Join(t.TempDir(), "samples.vtk")
	require.NoError(t, vtk.Write(g, path))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y", "z", "x.1", "cu", "lito"}, s.Fields())

	x, _ := s.Numbers("x")
	assert.Equal(t, []float64{5, 15}, x)
	z, _ := s.Numbers("z")
	assert.Equal(t, []float64{5, 5}, z)
	renamed, _ := s.Numbers("x.1")
	assert.Equal(t, []float64{7, 8}, renamed)

	lito, _ := s.Column("lito")
	assert.Equal(t, []string{"ox", "sulf"}, lito.Text)
}
