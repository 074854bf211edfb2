package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"vtkkrig/internal/models"
	"vtkkrig/pkg/estimation"
	"vtkkrig/pkg/runstore"
	"vtkkrig/pkg/vtk"
)

// writeInputs creates a 4x4x2 block model split into two lithologies along x
// and a sample table with a linear cu trend and au known in lithology 1 only.
func writeInputs(t *testing.T, dir string) (soft, hard string) {
	t.Helper()

	g, err := models.NewRegularGrid([3]int{4, 4, 2}, [3]float64{0, 0, 0}, [3]float64{10, 10, 10})
	require.NoError(t, err)
	lito := make([]float64, g.NumCells())
	for k := 0; k < 2; k++ {
		for j := 0; j < 4; j++ {
			for i := 0; i < 4; i++ {
				lito[g.CellIndex(i, j, k)] = 1
				if i >= 2 {
					lito[g.CellIndex(i, j, k)] = 2
				}
			}
		}
	}
	require.NoError(t, g.SetValues("lito", lito))
	soft = filepath.Join(dir, "grid.vtk")
	require.NoError(t, vtk.Write(g, soft))

	var b strings.Builder
	b.WriteString("X,Y,Z,lito,cu,au\n")
	points := [][3]float64{
		{2, 3, 1}, {15, 8, 12}, {8, 35, 4}, {18, 30, 17},
		{22, 5, 3}, {38, 12, 15}, {25, 28, 9}, {36, 37, 18},
	}
	for n, p := range points {
		l := 1
		au := fmt.Sprintf("%g", 0.5+0.01*p[1])
		if p[0] >= 20 {
			l = 2
			au = "NA"
		}
		fmt.Fprintf(&b, "%g,%g,%g,%d,%g,%s\n", p[0], p[1], p[2], l, 0.1*p[0]+0.01*p[1]+0.001*float64(n), au)
	}
	hard = filepath.Join(dir, "hard.csv")
	require.NoError(t, os.WriteFile(hard, []byte(b.String()), 0644))
	return soft, hard
}

func writeSettings(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "variogram.yaml")
	content := "algorithm: ordinary\nvariogram_model: linear\nvariogram_parameters: [1.0, 0.0]\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestRunEndToEnd(t *testing.T) {
	dir := t.TempDir()
	soft, hard := writeInputs(t, dir)
	opts := options{
		soft:      soft,
		hard:      hard,
		lito:      "lito",
		variables: "cu; au",
		variogram: writeSettings(t, dir),
		output:    filepath.Join(dir, "out", "estimated.vtk"),
		display:   true,
		plotsDir:  filepath.Join(dir, "plots"),
		workers:   2,
		ledger:    filepath.Join(dir, "runs.db"),
	}

	require.NoError(t, run(context.Background(), zaptest.NewLogger(t), opts))

	g, err := vtk.Read(opts.output)
	require.NoError(t, err)
	lito, _ := g.Array("lito")

	cu, ok := g.Array("cu")
	require.True(t, ok)
	for i, v := range cu.Values {
		assert.False(t, math.IsNaN(v), "cu cell %d undefined", i)
	}

	au, ok := g.Array("au")
	require.True(t, ok)
	for i, v := range au.Values {
		if lito.Values[i] == 1 {
			assert.False(t, math.IsNaN(v), "au cell %d undefined", i)
		} else {
			assert.True(t, math.IsNaN(v), "au cell %d should be undefined", i)
		}
	}

	store, err := runstore.Open(opts.ledger)
	require.NoError(t, err)
	defer store.Close()
	runs, err := store.Runs(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, []string{"cu", "au"}, runs[0].Variables)
	assert.Equal(t, []string{"1", "2"}, runs[0].Categories)
	assert.Equal(t, 3, runs[0].Estimated)
	assert.Equal(t, 1, runs[0].Absent)

	parts, err := store.Partitions(context.Background(), runs[0].ID)
	require.NoError(t, err)
	require.Len(t, parts, 4)
	assert.Equal(t, string(estimation.StatusAbsent), parts[3].Status)

	for _, name := range []string{"cu_slice.png", "cu_hist.png", "au_slice.png", "au_hist.png"} {
		_, err := os.Stat(filepath.Join(opts.plotsDir, name))
		assert.NoError(t, err, name)
	}
}

func TestRunWithoutCategory(t *testing.T) {
	dir := t.TempDir()
	soft, hard := writeInputs(t, dir)
	opts := options{
		soft:      soft,
		hard:      hard,
		variables: "cu",
		variogram: filepath.Join(dir, "missing.yaml"),
		output:    filepath.Join(dir, "out.vtk"),
		workers:   1,
	}

	// an unreadable settings file falls back to defaults
	require.NoError(t, run(context.Background(), zaptest.NewLogger(t), opts))

	g, err := vtk.Read(opts.output)
	require.NoError(t, err)
	assert.True(t, g.HasArray("cu"))
}

func TestRunFatalErrors(t *testing.T) {
	dir := t.TempDir()
	soft, hard := writeInputs(t, dir)
	logger := zaptest.NewLogger(t)

	err := run(context.Background(), logger, options{soft: soft, hard: hard})
	assert.True(t, errors.Is(err, errUsage))

	err = run(context.Background(), logger, options{soft: filepath.Join(dir, "none.vtk"), hard: hard, variables: "cu"})
	assert.Error(t, err)

	err = run(context.Background(), logger, options{soft: soft, hard: filepath.Join(dir, "none.csv"), variables: "cu"})
	assert.Error(t, err)

	err = run(context.Background(), logger, options{soft: soft, hard: hard, variables: "zn", workers: 1})
	var schemaErr *estimation.SchemaError
	assert.True(t, errors.As(err, &schemaErr), "expected SchemaError, got %v", err)
}

func TestRunWriteConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "default.yaml")
	require.NoError(t, run(context.Background(), zaptest.NewLogger(t), options{writeConfig: path}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "variogram_model: gaussian")
}

func TestSplitVariables(t *testing.T) {
	assert.Equal(t, []string{"cu", "au", "ag"}, splitVariables(" cu;au ;;ag;"))
	assert.Empty(t, splitVariables(""))
}
