package estimation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"vtkkrig/internal/models"
	"vtkkrig/pkg/config"
	"vtkkrig/pkg/interpolation"
)

// Estimator fits a model to samples and predicts one value per target, in
// target order.
type Estimator interface {
	FitAndPredict(ctx context.Context, samples []models.Point3D, values []float64, targets []models.Point3D, params config.Params) (models.Prediction, error)
}

// EstimatorFactory builds the estimator of a family.
type EstimatorFactory func(config.Family) (Estimator, error)

// DefaultFactory returns the kriging estimators.
func DefaultFactory(family config.Family) (Estimator, error) {
	switch family {
	case config.Ordinary:
		return interpolation.NewOrdinary(), nil
	case config.Universal:
		return interpolation.NewUniversal(), nil
	default:
		return nil, fmt.Errorf("unknown estimator family %q", family)
	}
}

// SampleMatrix is the usable hard data for one category and variable.
type SampleMatrix struct {
	Points []models.Point3D
	Values []float64
}

// Len returns the number of sample rows.
func (m SampleMatrix) Len() int {
	return len(m.Values)
}

// BuildSampleMatrix keeps the rows selected by mask whose coordinates and
// value are all present. Rows with a missing entry are dropped.
func BuildSampleMatrix(samples *models.SampleSet, coords Coordinates, variable string, mask []bool) (SampleMatrix, error) {
	values, ok := samples.Numbers(variable)
	if !ok {
		return SampleMatrix{}, &SchemaError{Field: variable, Reason: "variable is missing or not numeric"}
	}
	points := coords.SamplePoints(samples)

	var m SampleMatrix
	for i, v := range values {
		if mask != nil && !mask[i] {
			continue
		}
		p := points[i]
		if models.Missing(v) || models.Missing(p.X) || models.Missing(p.Y) || models.Missing(p.Z) {
			continue
		}
		m.Points = append(m.Points, p)
		m.Values = append(m.Values, v)
	}
	return m, nil
}

// BuildTargets returns the cell centres selected by mask, in cell order.
func BuildTargets(centers []models.Point3D, mask []bool) []models.Point3D {
	targets := make([]models.Point3D, 0, countTrue(mask))
	for i, c := range centers {
		if mask[i] {
			targets = append(targets, c)
		}
	}
	return targets
}

// Outcome is the result of one estimation. Absent means there was no sample
// data and the estimator was not called; otherwise Values is aligned with the
// targets and non-finite entries mark targets without an estimate.
type Outcome struct {
	Absent      bool
	Values      []float64
	Variances   []float64
	Diagnostics models.Diagnostics
	Summary     Summary
}

// Adapter runs one estimator for (category, variable) pairs.
type Adapter struct {
	logger    *zap.Logger
	estimator Estimator
	params    config.Params
	timeout   time.Duration
}

// NewAdapter creates an adapter. A zero timeout means no deadline.
func NewAdapter(logger *zap.Logger, estimator Estimator, params config.Params, timeout time.Duration) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{logger: logger, estimator: estimator, params: params, timeout: timeout}
}

// Estimate runs the estimator on one sample matrix. An empty matrix yields an
// absent outcome without calling the estimator. Failures are returned as
// *EstimationError.
func (a *Adapter) Estimate(ctx context.Context, category, variable string, samples SampleMatrix, targets []models.Point3D) (Outcome, error) {
	if samples.Len() == 0 {
		return Outcome{Absent: true}, nil
	}
	if len(targets) == 0 {
		return Outcome{Values: []float64{}}, nil
	}

	fail := func(err error) (Outcome, error) {
		return Outcome{}, &EstimationError{Category: category, Variable: variable, Err: err}
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	pred, err := a.fitAndPredict(ctx, samples, targets)
	if err != nil {
		return fail(err)
	}
	if len(pred.Values) != len(targets) {
		return fail(fmt.Errorf("estimator returned %d values for %d targets", len(pred.Values), len(targets)))
	}

	summary := Describe(pred.Values)
	if summary.Count == 0 {
		return fail(errors.New("estimator returned no finite values"))
	}

	a.logger.Info("Estimated",
		zap.String("category", category),
		zap.String("variable", variable),
		zap.Int("samples", samples.Len()),
		zap.Int("targets", len(targets)),
		zap.Object("summary", summary),
		zap.Object("diagnostics", diagnosticsObject(pred.Diagnostics)))

	return Outcome{
		Values:      pred.Values,
		Variances:   pred.Variances,
		Diagnostics: pred.Diagnostics,
		Summary:     summary,
	}, nil
}

// fitAndPredict calls the estimator, turning a panic into an error so that
// one bad pair cannot stop the run.
func (a *Adapter) fitAndPredict(ctx context.Context, samples SampleMatrix, targets []models.Point3D) (pred models.Prediction, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("estimator panic: %v", r)
		}
	}()
	return a.estimator.FitAndPredict(ctx, samples.Points, samples.Values, targets, a.params)
}
