// Package estimation runs categorical kriging over a block-model grid: it
// splits samples and cells by category, estimates every requested variable in
// every category and merges the results into one array per variable.
package estimation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vtkkrig/internal/models"
	"vtkkrig/pkg/config"
)

// ProgressCallback reports progress after every estimated pair
type ProgressCallback func(completed, total int, message string)

// Status is the outcome of one (category, variable) pair.
type Status string

const (
	StatusEstimated Status = "estimated"
	StatusAbsent    Status = "absent"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Params selects what a run estimates.
type Params struct {
	// Category is the partition key; empty estimates everything together
	Category string

	// Variables are the sample fields to estimate onto the grid
	Variables []string
}

// PairReport describes one (category, variable) estimation.
type PairReport struct {
	Category    string
	Variable    string
	Status      Status
	Samples     int
	Targets     int
	Defined     int
	Duration    time.Duration
	Err         error
	Summary     Summary
	Diagnostics models.Diagnostics
}

// Report describes a completed run.
type Report struct {
	RunID       string
	Family      config.Family
	Category    string
	Partitioned bool
	Coordinates Coordinates
	Variables   []string
	Categories  []string
	Pairs       []PairReport
	Started     time.Time
	Duration    time.Duration
}

// Count returns the number of pairs with the given status.
func (r *Report) Count(status Status) int {
	n := 0
	for _, p := range r.Pairs {
		if p.Status == status {
			n++
		}
	}
	return n
}

// Option configures an Engine
type Option func(*Engine)

// WithFactory replaces the estimator factory
func WithFactory(factory EstimatorFactory) Option {
	return func(e *Engine) { e.factory = factory }
}

// WithWorkers runs up to n pairs concurrently
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithTimeout bounds every estimator call
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithProgressCallback sets a function to receive progress updates
func WithProgressCallback(cb ProgressCallback) Option {
	return func(e *Engine) { e.progress = cb }
}

// Engine orchestrates a run.
type Engine struct {
	logger   *zap.Logger
	cfg      *config.EstimationConfig
	factory  EstimatorFactory
	workers  int
	timeout  time.Duration
	progress ProgressCallback
}

// NewEngine creates an engine for a resolved configuration.
func NewEngine(logger *zap.Logger, cfg *config.EstimationConfig, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		cfg = config.Defaults()
	}
	e := &Engine{
		logger:  logger,
		cfg:     cfg,
		factory: DefaultFactory,
		workers: 1,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// task is one (category, variable) estimation with its own inputs
type task struct {
	index     int
	partition int
	category  string
	variable  string
	samples   SampleMatrix
	targets   []models.Point3D
}

type taskResult struct {
	task task
	// skipped is set for queued tasks a worker dropped after cancellation
	skipped  bool
	outcome  Outcome
	err      error
	duration time.Duration
}

// Run estimates every requested variable in every shared category and writes
// one array per variable into grid. Schema problems are returned before the
// grid is touched. Estimator failures only leave their cells undefined and
// are listed in the report. When ctx is cancelled the remaining pairs are
// skipped, the partial results are written, and ctx's error is returned with
// the report.
func (e *Engine) Run(ctx context.Context, grid *models.Grid, samples *models.SampleSet, p Params) (*Report, error) {
	started := time.Now()
	report := &Report{
		RunID:    uuid.New().String(),
		Family:   e.cfg.Algorithm,
		Category: p.Category,
		Started:  started,
	}
	logger := e.logger.With(zap.String("run_id", report.RunID))

	coords, err := DetectCoordinates(samples)
	if err != nil {
		return nil, err
	}
	report.Coordinates = coords

	variables, err := validateVariables(samples, p.Variables)
	if err != nil {
		return nil, err
	}
	report.Variables = variables

	params, err := e.cfg.Select(e.cfg.Algorithm)
	if err != nil {
		return nil, err
	}
	estimator, err := e.factory(e.cfg.Algorithm)
	if err != nil {
		return nil, err
	}
	adapter := NewAdapter(logger, estimator, params, e.timeout)

	labels, partitioned := CategoryArrays(grid, samples, p.Category)
	if p.Category != "" && !partitioned {
		logger.Warn("Category key not found in both grid and samples, estimating without partitions",
			zap.String("key", p.Category),
			zap.Bool("in_grid", grid.HasArray(p.Category)),
			zap.Bool("in_samples", samples.Has(p.Category)))
	}
	partitions := Plan(labels, samples.Len(), grid.NumCells())
	report.Partitioned = partitioned
	if partitioned {
		report.Categories = Categories(labels)
	}

	logger.Info("Starting estimation run",
		zap.String("family", string(e.cfg.Algorithm)),
		zap.String("variogram_model", params.VariogramModel),
		zap.Strings("variables", variables),
		zap.Strings("categories", report.Categories),
		zap.String("coordinates", fmt.Sprintf("%s,%s,%s", coords.X, coords.Y, coords.Z)),
		zap.Int("samples", samples.Len()),
		zap.Int("cells", grid.NumCells()),
		zap.Int("workers", e.workers))

	// category-major, variable-minor
	centers := CellCenters(grid)
	tasks := make([]task, 0, len(partitions)*len(variables))
	for pi, part := range partitions {
		targets := BuildTargets(centers, part.CellMask)
		for _, v := range variables {
			sm, err := BuildSampleMatrix(samples, coords, v, part.SampleMask)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, task{
				index:     len(tasks),
				partition: pi,
				category:  part.Name(),
				variable:  v,
				samples:   sm,
				targets:   append([]models.Point3D(nil), targets...),
			})
		}
	}

	accumulators := make(map[string]*Accumulator, len(variables))
	for _, v := range variables {
		accumulators[v] = NewAccumulator(grid.NumCells())
	}

	report.Pairs = make([]PairReport, len(tasks))
	for _, t := range tasks {
		report.Pairs[t.index] = PairReport{
			Category: t.category,
			Variable: t.variable,
			Status:   StatusCancelled,
			Samples:  t.samples.Len(),
			Targets:  len(t.targets),
		}
	}

	completed := 0
	handle := func(r taskResult) {
		pr := &report.Pairs[r.task.index]
		if r.skipped || (r.err != nil && ctx.Err() != nil && errors.Is(r.err, ctx.Err())) {
			// interrupted by the caller, not a failure of the pair
			pr.Status = StatusCancelled
			pr.Duration = r.duration
			return
		}
		pr.Duration = r.duration
		switch {
		case r.err != nil:
			pr.Status = StatusFailed
			pr.Err = r.err
			logger.Warn("Estimation failed, cells left undefined",
				zap.String("category", r.task.category),
				zap.String("variable", r.task.variable),
				zap.Error(r.err))
		case r.outcome.Absent:
			pr.Status = StatusAbsent
			logger.Info("No sample data, cells left undefined",
				zap.String("category", r.task.category),
				zap.String("variable", r.task.variable))
		default:
			pr.Status = StatusEstimated
			pr.Summary = r.outcome.Summary
			pr.Diagnostics = r.outcome.Diagnostics
			n, err := accumulators[r.task.variable].Merge(partitions[r.task.partition].CellMask, r.outcome)
			if err != nil {
				pr.Status = StatusFailed
				pr.Err = &EstimationError{Category: r.task.category, Variable: r.task.variable, Err: err}
				logger.Warn("Discarding misaligned estimates", zap.Error(pr.Err))
			}
			pr.Defined = n
		}
		completed++
		if e.progress != nil {
			e.progress(completed, len(tasks), fmt.Sprintf("%s / %s: %s", r.task.category, r.task.variable, pr.Status))
		}
	}

	if e.workers > 1 && len(tasks) > 1 {
		e.runPool(ctx, adapter, tasks, handle)
	} else {
		for _, t := range tasks {
			if ctx.Err() != nil {
				break
			}
			handle(e.execute(ctx, adapter, t))
		}
	}

	for _, v := range variables {
		if err := WriteBack(grid, v, accumulators[v]); err != nil {
			return report, err
		}
	}
	report.Duration = time.Since(started)

	logger.Info("Estimation run finished",
		zap.Int("pairs", len(report.Pairs)),
		zap.Int("estimated", report.Count(StatusEstimated)),
		zap.Int("absent", report.Count(StatusAbsent)),
		zap.Int("failed", report.Count(StatusFailed)),
		zap.Int("cancelled", report.Count(StatusCancelled)),
		zap.Duration("duration", report.Duration))

	return report, ctx.Err()
}

func (e *Engine) execute(ctx context.Context, adapter *Adapter, t task) taskResult {
	start := time.Now()
	outcome, err := adapter.Estimate(ctx, t.category, t.variable, t.samples, t.targets)
	return taskResult{task: t, outcome: outcome, err: err, duration: time.Since(start)}
}

// runPool feeds tasks to a fixed set of workers. Results are handled on the
// calling goroutine only.
func (e *Engine) runPool(ctx context.Context, adapter *Adapter, tasks []task, handle func(taskResult)) {
	var wg sync.WaitGroup
	taskChan := make(chan task, e.workers*2)
	resultChan := make(chan taskResult, len(tasks))

	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		e.logger.Debug("Starting worker", zap.Int("id", i))
		go e.worker(ctx, i, adapter, taskChan, resultChan, &wg)
	}

	go func() {
		defer close(taskChan)
		for _, t := range tasks {
			select {
			case <-ctx.Done():
				return
			case taskChan <- t:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	for r := range resultChan {
		handle(r)
	}
}

func (e *Engine) worker(ctx context.Context, id int, adapter *Adapter, tasks <-chan task, results chan<- taskResult, wg *sync.WaitGroup) {
	defer wg.Done()

	for t := range tasks {
		if ctx.Err() != nil {
			results <- taskResult{task: t, skipped: true}
			continue
		}
		e.logger.Debug("Processing pair",
			zap.Int("worker", id),
			zap.String("category", t.category),
			zap.String("variable", t.variable))
		results <- e.execute(ctx, adapter, t)
	}
}

// validateVariables checks that every variable is a numeric sample field and
// drops repeated names.
func validateVariables(samples *models.SampleSet, variables []string) ([]string, error) {
	if len(variables) == 0 {
		return nil, &SchemaError{Field: "variables", Reason: "no variable requested"}
	}
	seen := make(map[string]bool, len(variables))
	var out []string
	var errs []error
	for _, v := range variables {
		if seen[v] {
			continue
		}
		seen[v] = true
		col, ok := samples.Column(v)
		switch {
		case !ok:
			errs = append(errs, &SchemaError{Field: v, Reason: "variable not found in samples"})
		case !col.IsNumeric():
			errs = append(errs, &SchemaError{Field: v, Reason: "variable is not numeric"})
		default:
			out = append(out, v)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}
