package estimation

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"vtkkrig/internal/models"
	"vtkkrig/pkg/config"
)

type predictFunc func(ctx context.Context, samples []models.Point3D, values []float64, targets []models.Point3D) (models.Prediction, error)

type mockCall struct {
	samples []models.Point3D
	values  []float64
	targets []models.Point3D
	params  config.Params
}

// mockEstimator records its calls. By default it predicts the sample mean
// plus the target x coordinate.
type mockEstimator struct {
	mu    sync.Mutex
	calls []mockCall
	fn    predictFunc
}

func (m *mockEstimator) FitAndPredict(ctx context.Context, samples []models.Point3D, values []float64, targets []models.Point3D, params config.Params) (models.Prediction, error) {
	m.mu.Lock()
	m.calls = append(m.calls, mockCall{samples: samples, values: values, targets: targets, params: params})
	m.mu.Unlock()

	if m.fn != nil {
		return m.fn(ctx, samples, values, targets)
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	out := make([]float64, len(targets))
	for i, t := range targets {
		out[i] = mean + t.X
	}
	return models.Prediction{Values: out}, nil
}

func (m *mockEstimator) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func mockFactory(m *mockEstimator) EstimatorFactory {
	return func(config.Family) (Estimator, error) { return m, nil }
}

// fourCellGrid has cell centres (0,0,0), (1,0,0), (0,1,0), (1,1,0)
func fourCellGrid(t *testing.T) *models.Grid {
	t.Helper()
	g, err := models.NewRegularGrid([3]int{2, 2, 1}, [3]float64{-0.5, -0.5, -0.5}, [3]float64{1, 1, 1})
	require.NoError(t, err)
	return g
}

func threeSamples(t *testing.T) *models.SampleSet {
	return mustSamples(t,
		models.NumericColumn("x", 0, 1, 0),
		models.NumericColumn("y", 0, 0, 1),
		models.NumericColumn("z", 0, 0, 0),
		models.NumericColumn("grade", 1.0, 2.0, 1.5))
}

func gradeValues(t *testing.T, g *models.Grid) []float64 {
	t.Helper()
	arr, ok := g.Array("grade")
	require.True(t, ok, "grade array missing")
	return arr.Values
}

func TestRun_EndToEnd(t *testing.T) {
	t.Parallel()
	grid := fourCellGrid(t)
	mock := &mockEstimator{}
	engine := NewEngine(zaptest.NewLogger(t), config.Defaults(), WithFactory(mockFactory(mock)))

	report, err := engine.Run(context.Background(), grid, threeSamples(t), Params{Variables: []string{"grade"}})
	require.NoError(t, err)

	require.Equal(t, 1, mock.callCount())
	call := mock.calls[0]
	assert.Len(t, call.samples, 3)
	assert.Len(t, call.targets, 4)
	assert.Equal(t, []models.Point3D{{X: 0}, {X: 1}, {X: 0, Y: 1}, {X: 1, Y: 1}}, call.targets)
	assert.Equal(t, "gaussian", call.params.VariogramModel)

	values := gradeValues(t, grid)
	require.Len(t, values, 4)
	for i, v := range values {
		assert.False(t, models.IsUndefined(v), "cell %d undefined", i)
	}
	assert.InDelta(t, 1.5, values[0], 1e-12)
	assert.InDelta(t, 2.5, values[1], 1e-12)

	_, err = uuid.Parse(report.RunID)
	assert.NoError(t, err)
	assert.False(t, report.Partitioned)
	require.Len(t, report.Pairs, 1)
	assert.Equal(t, StatusEstimated, report.Pairs[0].Status)
	assert.Equal(t, "all", report.Pairs[0].Category)
	assert.Equal(t, 4, report.Pairs[0].Defined)
}

func TestRun_EndToEndWithKriging(t *testing.T) {
	t.Parallel()
	grid := fourCellGrid(t)
	cfg, err := config.Resolve(config.Source{Values: map[string]any{
		"variogram_model":      "linear",
		"variogram_parameters": []any{1.0, 0.0},
	}})
	require.NoError(t, err)

	report, err := NewEngine(zaptest.NewLogger(t), cfg).Run(context.Background(), grid, threeSamples(t), Params{Variables: []string{"grade"}})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(StatusEstimated))

	values := gradeValues(t, grid)
	assert.InDelta(t, 1.0, values[0], 1e-9)
	assert.InDelta(t, 2.0, values[1], 1e-9)
	assert.InDelta(t, 1.5, values[2], 1e-9)
	assert.False(t, math.IsNaN(values[3]))
}

func TestRun_Categorical(t *testing.T) {
	t.Parallel()
	grid := fourCellGrid(t)
	require.NoError(t, grid.SetLabels("lito", []string{"A", "B", "A", "B"}))
	samples := mustSamples(t,
		models.NumericColumn("x", 0, 1, 0),
		models.NumericColumn("y", 0, 0, 1),
		models.NumericColumn("z", 0, 0, 0),
		models.NumericColumn("grade", 1.0, 2.0, 1.5),
		models.TextColumn("lito", "A", "C", "A"))
	mock := &mockEstimator{}
	engine := NewEngine(zaptest.NewLogger(t), config.Defaults(), WithFactory(mockFactory(mock)))

	report, err := engine.Run(context.Background(), grid, samples, Params{Category: "lito", Variables: []string{"grade"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"A"}, report.Categories)
	require.Equal(t, 1, mock.callCount())
	assert.Equal(t, []float64{1.0, 1.5}, mock.calls[0].values)
	assert.Equal(t, []models.Point3D{{X: 0}, {X: 0, Y: 1}}, mock.calls[0].targets)

	values := gradeValues(t, grid)
	assert.InDelta(t, 1.25, values[0], 1e-12)
	assert.True(t, models.IsUndefined(values[1]))
	assert.InDelta(t, 1.25, values[2], 1e-12)
	assert.True(t, models.IsUndefined(values[3]))
}

func TestRun_MissingCategoryKeyUsesOnePartition(t *testing.T) {
	t.Parallel()
	grid := fourCellGrid(t)
	mock := &mockEstimator{}
	engine := NewEngine(nil, config.Defaults(), WithFactory(mockFactory(mock)))

	report, err := engine.Run(context.Background(), grid, threeSamples(t), Params{Category: "lito", Variables: []string{"grade"}})
	require.NoError(t, err)
	assert.False(t, report.Partitioned)
	assert.Equal(t, 1, mock.callCount())
}

func TestRun_SchemaErrorsLeaveGridUntouched(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		samples   func(t *testing.T) *models.SampleSet
		variables []string
	}{
		{"unknown variable", threeSamples, []string{"grade", "gold"}},
		{"no variables", threeSamples, nil},
		{"text variable", func(t *testing.T) *models.SampleSet {
			return mustSamples(t,
				models.NumericColumn("x", 0), models.NumericColumn("y", 0), models.NumericColumn("z", 0),
				models.TextColumn("grade", "high"))
		}, []string{"grade"}},
		{"no coordinates", func(t *testing.T) *models.SampleSet {
			return mustSamples(t, models.NumericColumn("a", 0), models.NumericColumn("grade", 1))
		}, []string{"grade"}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			grid := fourCellGrid(t)
			mock := &mockEstimator{}
			engine := NewEngine(nil, config.Defaults(), WithFactory(mockFactory(mock)))

			report, err := engine.Run(context.Background(), grid, tc.samples(t), Params{Variables: tc.variables})
			var schemaErr *SchemaError
			require.True(t, errors.As(err, &schemaErr), "expected SchemaError, got %v", err)
			assert.Nil(t, report)
			assert.Empty(t, grid.ArrayNames())
			assert.Zero(t, mock.callCount())
		})
	}
}

func TestRun_FailureIsScopedToPair(t *testing.T) {
	t.Parallel()
	grid := fourCellGrid(t)
	require.NoError(t, grid.SetLabels("lito", []string{"A", "A", "B", "B"}))
	samples := mustSamples(t,
		models.NumericColumn("x", 0, 1, 0, 1),
		models.NumericColumn("y", 0, 0, 1, 1),
		models.NumericColumn("z", 0, 0, 0, 0),
		models.NumericColumn("grade", 1, 2, 3, math.NaN()),
		models.NumericColumn("cu", 0, 0, 5, 5),
		models.TextColumn("lito", "A", "A", "B", "B"))

	mock := &mockEstimator{}
	mock.fn = func(_ context.Context, _ []models.Point3D, values []float64, targets []models.Point3D) (models.Prediction, error) {
		if values[0] == 5 {
			return models.Prediction{}, errors.New("singular matrix")
		}
		out := make([]float64, len(targets))
		for i := range out {
			out[i] = values[0]
		}
		return models.Prediction{Values: out}, nil
	}
	engine := NewEngine(nil, config.Defaults(), WithFactory(mockFactory(mock)))

	report, err := engine.Run(context.Background(), grid, samples, Params{Category: "lito", Variables: []string{"grade", "cu"}})
	require.NoError(t, err)

	require.Len(t, report.Pairs, 4)
	statuses := make(map[string]Status)
	for _, p := range report.Pairs {
		statuses[p.Category+"/"+p.Variable] = p.Status
	}
	assert.Equal(t, map[string]Status{
		"A/grade": StatusEstimated,
		"A/cu":    StatusEstimated,
		"B/grade": StatusEstimated,
		"B/cu":    StatusFailed,
	}, statuses)

	grade := gradeValues(t, grid)
	assert.Equal(t, []float64{1, 1, 3, 3}, grade)

	cu, ok := grid.Array("cu")
	require.True(t, ok)
	assert.Equal(t, []float64{0, 0}, cu.Values[:2], "zero estimates stay defined")
	assert.True(t, models.IsUndefined(cu.Values[2]))
	assert.True(t, models.IsUndefined(cu.Values[3]))

	for _, p := range report.Pairs {
		if p.Status == StatusFailed {
			var estErr *EstimationError
			assert.True(t, errors.As(p.Err, &estErr))
		}
	}
}

func TestRun_AbsentCategory(t *testing.T) {
	t.Parallel()
	grid := fourCellGrid(t)
	require.NoError(t, grid.SetLabels("lito", []string{"A", "A", "B", "B"}))
	samples := mustSamples(t,
		models.NumericColumn("x", 0, 0),
		models.NumericColumn("y", 0, 1),
		models.NumericColumn("z", 0, 0),
		models.NumericColumn("grade", 1, math.NaN()),
		models.TextColumn("lito", "A", "B"))
	mock := &mockEstimator{}
	engine := NewEngine(nil, config.Defaults(), WithFactory(mockFactory(mock)))

	report, err := engine.Run(context.Background(), grid, samples, Params{Category: "lito", Variables: []string{"grade"}})
	require.NoError(t, err)

	assert.Equal(t, 1, mock.callCount())
	assert.Equal(t, 1, report.Count(StatusAbsent))
	values := gradeValues(t, grid)
	assert.False(t, models.IsUndefined(values[0]))
	assert.True(t, models.IsUndefined(values[2]))
	assert.True(t, models.IsUndefined(values[3]))
}

func TestRun_WorkersMatchSequential(t *testing.T) {
	t.Parallel()
	build := func() (*models.Grid, *models.SampleSet) {
		grid, err := models.NewRegularGrid([3]int{4, 3, 2}, [3]float64{0, 0, 0}, [3]float64{1, 1, 1})
		require.NoError(t, err)
		labels := make([]float64, grid.NumCells())
		for i := range labels {
			labels[i] = float64(i % 3)
		}
		require.NoError(t, grid.SetValues("domain", labels))
		samples := mustSamples(t,
			models.NumericColumn("x", 0.5, 1.5, 2.5, 3.5, 0.5, 1.5),
			models.NumericColumn("y", 0.5, 0.5, 1.5, 1.5, 2.5, 2.5),
			models.NumericColumn("z", 0.5, 0.5, 1.5, 1.5, 0.5, 1.5),
			models.NumericColumn("grade", 1, 2, 3, 4, 5, 6),
			models.NumericColumn("cu", 0.1, 0.2, 0.3, 0.4, 0.5, 0.6),
			models.NumericColumn("domain", 0, 1, 2, 0, 1, 2))
		return grid, samples
	}
	params := Params{Category: "domain", Variables: []string{"grade", "cu"}}

	seqGrid, samples := build()
	seq, err := NewEngine(nil, config.Defaults(), WithFactory(mockFactory(&mockEstimator{}))).Run(context.Background(), seqGrid, samples, params)
	require.NoError(t, err)

	var progress []int
	parGrid, samples := build()
	par, err := NewEngine(nil, config.Defaults(),
		WithFactory(mockFactory(&mockEstimator{})),
		WithWorkers(4),
		WithProgressCallback(func(completed, total int, _ string) {
			assert.Equal(t, 6, total)
			progress = append(progress, completed)
		}),
	).Run(context.Background(), parGrid, samples, params)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, progress)
	for _, v := range params.Variables {
		a, _ := seqGrid.Array(v)
		b, _ := parGrid.Array(v)
		if diff := cmp.Diff(a.Values, b.Values, cmpopts.EquateNaNs()); diff != "" {
			t.Errorf("%s mismatch (-sequential +parallel):\n%s", v, diff)
		}
	}
	assert.Equal(t, []string{"0", "1", "2"}, par.Categories)
	assert.Equal(t, len(seq.Pairs), len(par.Pairs))
	for i := range seq.Pairs {
		assert.Equal(t, seq.Pairs[i].Category, par.Pairs[i].Category)
		assert.Equal(t, seq.Pairs[i].Variable, par.Pairs[i].Variable)
		assert.Equal(t, seq.Pairs[i].Status, par.Pairs[i].Status)
	}
}

func TestRun_CancelledContextStillWritesArrays(t *testing.T) {
	t.Parallel()
	grid := fourCellGrid(t)
	mock := &mockEstimator{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := NewEngine(nil, config.Defaults(), WithFactory(mockFactory(mock))).Run(ctx, grid, threeSamples(t), Params{Variables: []string{"grade"}})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Equal(t, 1, report.Count(StatusCancelled))
	assert.Zero(t, mock.callCount())

	for _, v := range gradeValues(t, grid) {
		assert.True(t, models.IsUndefined(v))
	}
}

func TestRun_CancelDuringPoolMarksPendingCancelled(t *testing.T) {
	t.Parallel()
	grid := fourCellGrid(t)
	samples := mustSamples(t,
		models.NumericColumn("x", 0, 1, 0),
		models.NumericColumn("y", 0, 0, 1),
		models.NumericColumn("z", 0, 0, 0),
		models.NumericColumn("grade", 1, 2, 3),
		models.NumericColumn("cu", 1, 2, 3),
		models.NumericColumn("au", 1, 2, 3),
		models.NumericColumn("ag", 1, 2, 3))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var once sync.Once
	mock := &mockEstimator{fn: func(ctx context.Context, _ []models.Point3D, _ []float64, _ []models.Point3D) (models.Prediction, error) {
		once.Do(cancel)
		<-ctx.Done()
		return models.Prediction{}, ctx.Err()
	}}

	engine := NewEngine(nil, config.Defaults(), WithFactory(mockFactory(mock)), WithWorkers(2))
	report, err := engine.Run(ctx, grid, samples, Params{Variables: []string{"grade", "cu", "au", "ag"}})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	require.Len(t, report.Pairs, 4)
	assert.Equal(t, 4, report.Count(StatusCancelled))
	assert.Zero(t, report.Count(StatusFailed))
	for _, p := range report.Pairs {
		assert.NoError(t, p.Err, p.Variable)
	}
}

func TestRun_EstimatorPanicFailsOnlyItsPair(t *testing.T) {
	t.Parallel()
	samples := mustSamples(t,
		models.NumericColumn("x", 0, 1, 0, 1),
		models.NumericColumn("y", 0, 0, 1, 1),
		models.NumericColumn("z", 0, 0, 0, 0),
		models.NumericColumn("grade", 1, 1, 7, 7),
		models.TextColumn("lito", "A", "A", "B", "B"))

	mock := &mockEstimator{fn: func(_ context.Context, _ []models.Point3D, values []float64, targets []models.Point3D) (models.Prediction, error) {
		if values[0] == 7 {
			panic("makeslice: len out of range")
		}
		out := make([]float64, len(targets))
		for i := range out {
			out[i] = values[0]
		}
		return models.Prediction{Values: out}, nil
	}}

	for _, workers := range []int{1, 2} {
		g := fourCellGrid(t)
		require.NoError(t, g.SetLabels("lito", []string{"A", "A", "B", "B"}))
		engine := NewEngine(nil, config.Defaults(), WithFactory(mockFactory(mock)), WithWorkers(workers))
		report, err := engine.Run(context.Background(), g, samples, Params{Category: "lito", Variables: []string{"grade"}})
		require.NoError(t, err)
		assert.Equal(t, 1, report.Count(StatusEstimated))
		assert.Equal(t, 1, report.Count(StatusFailed))

		var estErr *EstimationError
		assert.True(t, errors.As(report.Pairs[1].Err, &estErr))
		assert.Equal(t, []float64{1, 1}, gradeValues(t, g)[:2])
	}
}

func TestRun_SelectsFamily(t *testing.T) {
	t.Parallel()
	cfg, err := config.Resolve(config.Source{Values: map[string]any{"algorithm": "universal", "comment": "ignored"}})
	require.NoError(t, err)

	var got config.Family
	mock := &mockEstimator{}
	factory := func(f config.Family) (Estimator, error) {
		got = f
		return mock, nil
	}
	_, err = NewEngine(nil, cfg, WithFactory(factory)).Run(context.Background(), fourCellGrid(t), threeSamples(t), Params{Variables: []string{"grade"}})
	require.NoError(t, err)
	assert.Equal(t, config.Universal, got)
}

func TestDefaultFactory(t *testing.T) {
	t.Parallel()
	for _, f := range []config.Family{config.Ordinary, config.Universal} {
		est, err := DefaultFactory(f)
		require.NoError(t, err)
		assert.NotNil(t, est)
	}
	_, err := DefaultFactory("simple")
	assert.Error(t, err)
}
