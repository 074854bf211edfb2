package interpolation

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"vtkkrig/internal/models"
	"vtkkrig/pkg/config"
)

var (
	// ErrSingular is returned when the kriging system cannot be solved even
	// after regularisation.
	ErrSingular = errors.New("kriging system is singular")

	// ErrInvalidParameters reports unusable estimator parameters or inputs.
	ErrInvalidParameters = errors.New("invalid kriging parameters")

	// ErrInsufficientData is returned when there are no samples to krige from.
	ErrInsufficientData = errors.New("insufficient sample data")
)

const (
	// DefaultDiagnosticLimit is the largest sample count for which
	// leave-one-out statistics are computed.
	DefaultDiagnosticLimit = 2000

	// conditionLimit triggers the diagonal ridge
	conditionLimit = 1e13

	// ridgeFactor scales the ridge relative to the largest semivariance
	ridgeFactor = 1e-10

	// ctxCheckInterval is how many targets are solved between context checks
	ctxCheckInterval = 64
)

var axisNames = [3]string{"x", "y", "z"}

// Kriging is a 3-D kriging estimator. The ordinary variant estimates with an
// unknown constant mean; the universal variant adds a regional linear drift
// in each coordinate that varies across the samples.
type Kriging struct {
	family config.Family

	// DiagnosticLimit caps the sample count for leave-one-out statistics.
	// Zero or negative disables them.
	DiagnosticLimit int
}

// NewOrdinary creates an ordinary kriging estimator
func NewOrdinary() *Kriging {
	return &Kriging{family: config.Ordinary, DiagnosticLimit: DefaultDiagnosticLimit}
}

// NewUniversal creates a universal kriging estimator with linear drift
func NewUniversal() *Kriging {
	return &Kriging{family: config.Universal, DiagnosticLimit: DefaultDiagnosticLimit}
}

// Family returns the estimator family
func (k *Kriging) Family() config.Family {
	return k.family
}

// FitAndPredict fits a variogram to the samples (unless explicit parameters
// are given) and estimates a value and a kriging variance at every target.
// Targets whose local system cannot be solved in moving-window mode are NaN.
func (k *Kriging) FitAndPredict(ctx context.Context, samples []models.Point3D, values []float64, targets []models.Point3D, params config.Params) (models.Prediction, error) {
	if err := validateInputs(samples, values, params); err != nil {
		return models.Prediction{}, err
	}
	if err := ctx.Err(); err != nil {
		return models.Prediction{}, err
	}

	points, vals, merged := mergeCoincident(samples, values)
	aniso := newAnisotropy(params, points)
	pts := aniso.applyAll(points)
	tgts := aniso.applyAll(targets)

	model := VariogramModel(params.VariogramModel)
	var vgm Variogram
	var err error
	fitted := params.VariogramParameters == nil
	if fitted {
		lags, semivariance := experimentalVariogram(pts, vals, params.NLags)
		vgm, err = fitVariogram(model, lags, semivariance)
	} else {
		vgm, err = variogramFromConfig(model, params.VariogramParameters)
	}
	if err != nil {
		return models.Prediction{}, err
	}

	pred := models.Prediction{
		Values:    make([]float64, len(targets)),
		Variances: make([]float64, len(targets)),
		Diagnostics: models.Diagnostics{
			Model:      string(vgm.Model),
			Parameters: append([]float64(nil), vgm.Params...),
			Fitted:     fitted,
			Samples:    len(pts),
			Merged:     merged,
		},
	}

	window := params.NClosestPoints
	if window > 0 && window < len(pts) {
		err = k.predictWindowed(ctx, pts, vals, tgts, vgm, window, &pred)
	} else {
		err = k.predictGlobal(ctx, pts, vals, tgts, vgm, &pred)
	}
	if err != nil {
		return models.Prediction{}, err
	}
	return pred, nil
}

func validateInputs(samples []models.Point3D, values []float64, params config.Params) error {
	if len(samples) != len(values) {
		return fmt.Errorf("%w: %d sample locations but %d values", ErrInvalidParameters, len(samples), len(values))
	}
	if len(samples) == 0 {
		return ErrInsufficientData
	}
	for i, v := range values {
		p := samples[i]
		if !finite(v) || !finite(p.X) || !finite(p.Y) || !finite(p.Z) {
			return fmt.Errorf("%w: sample %d is not finite", ErrInvalidParameters, i)
		}
	}
	if _, err := VariogramModel(params.VariogramModel).numParams(); err != nil {
		return err
	}
	if params.NLags < 1 || params.NLags > config.MaxNLags {
		return fmt.Errorf("%w: nlags must be between 1 and %d, got %d", ErrInvalidParameters, config.MaxNLags, params.NLags)
	}
	if !(params.AnisotropyScalingY > 0) || !(params.AnisotropyScalingZ > 0) {
		return fmt.Errorf("%w: anisotropy scaling must be positive", ErrInvalidParameters)
	}
	if params.NClosestPoints < 0 {
		return fmt.Errorf("%w: n_closest_points must not be negative", ErrInvalidParameters)
	}
	return nil
}

func (k *Kriging) predictGlobal(ctx context.Context, pts []models.Point3D, vals []float64, tgts []models.Point3D, vgm Variogram, pred *models.Prediction) error {
	sys, err := newSystem(pts, vgm, k.driftFor(pts))
	if err != nil {
		return err
	}
	pred.Diagnostics.DriftTerms = sys.driftNames()
	pred.Diagnostics.Regularized = sys.regularized

	for i, t := range tgts {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		est, variance, err := sys.estimate(vals, t)
		if err != nil {
			return err
		}
		pred.Values[i] = est
		pred.Variances[i] = variance
	}

	if k.DiagnosticLimit > 0 && len(pts) >= 3 && len(pts) <= k.DiagnosticLimit {
		if err := sys.crossValidate(vals, &pred.Diagnostics); err != nil {
			return err
		}
	}
	return nil
}

func (k *Kriging) predictWindowed(ctx context.Context, pts []models.Point3D, vals []float64, tgts []models.Point3D, vgm Variogram, window int, pred *models.Prediction) error {
	index := newNeighborIndex(pts)
	local := make([]models.Point3D, window)
	localVals := make([]float64, window)
	solved := 0
	drift := make(map[string]bool)

	for i, t := range tgts {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		for j, idx := range index.nearest(t, window) {
			local[j] = pts[idx]
			localVals[j] = vals[idx]
		}

		pred.Values[i] = math.NaN()
		pred.Variances[i] = math.NaN()
		sys, err := newSystem(local, vgm, k.driftFor(local))
		if errors.Is(err, ErrSingular) {
			continue
		}
		if err != nil {
			return err
		}
		est, variance, err := sys.estimate(localVals, t)
		if err != nil {
			continue
		}
		pred.Values[i] = est
		pred.Variances[i] = variance
		pred.Diagnostics.Regularized = pred.Diagnostics.Regularized || sys.regularized
		for _, name := range sys.driftNames() {
			drift[name] = true
		}
		solved++
	}

	if solved == 0 && len(tgts) > 0 {
		return fmt.Errorf("%w: no local system could be solved", ErrSingular)
	}
	for _, name := range axisNames {
		if drift[name] {
			pred.Diagnostics.DriftTerms = append(pred.Diagnostics.DriftTerms, name)
		}
	}
	return nil
}

// driftTerm is one linear drift function, the centred coordinate along an
// axis divided by its half range.
type driftTerm struct {
	axis         int
	center, half float64
}

func (d driftTerm) at(p models.Point3D) float64 {
	return (coordinate(p, d.axis) - d.center) / d.half
}

// driftFor returns the drift terms for a point set: none for ordinary
// kriging, one per varying axis for universal kriging.
func (k *Kriging) driftFor(pts []models.Point3D) []driftTerm {
	if k.family != config.Universal || len(pts) == 0 {
		return nil
	}
	var terms []driftTerm
	for axis := 0; axis < 3; axis++ {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, p := range pts {
			c := coordinate(p, axis)
			lo = math.Min(lo, c)
			hi = math.Max(hi, c)
		}
		if hi-lo > zeroDistance*(1+math.Max(math.Abs(lo), math.Abs(hi))) {
			terms = append(terms, driftTerm{axis: axis, center: (lo + hi) / 2, half: (hi - lo) / 2})
		}
	}
	return terms
}

// system is a factorised kriging matrix
//
//	| Γ   1   F |
//	| 1ᵀ  0   0 |
//	| Fᵀ  0   0 |
//
// where Γ holds the semivariances between samples and F the drift values.
type system struct {
	points      []models.Point3D
	vgm         Variogram
	drift       []driftTerm
	lu          mat.LU
	size        int
	regularized bool
}

func newSystem(points []models.Point3D, vgm Variogram, drift []driftTerm) (*system, error) {
	n := len(points)
	size := n + 1 + len(drift)
	a := mat.NewDense(size, size, nil)

	maxGamma := 0.0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			g := vgm.At(distance(points[i], points[j]))
			a.Set(i, j, g)
			a.Set(j, i, g)
			maxGamma = math.Max(maxGamma, math.Abs(g))
		}
		a.Set(i, n, 1)
		a.Set(n, i, 1)
		for l, d := range drift {
			f := d.at(points[i])
			a.Set(i, n+1+l, f)
			a.Set(n+1+l, i, f)
		}
	}

	s := &system{points: points, vgm: vgm, drift: drift, size: size}
	s.lu.Factorize(a)
	if s.lu.Cond() <= conditionLimit {
		return s, nil
	}

	if maxGamma == 0 {
		maxGamma = 1
	}
	ridge := ridgeFactor * maxGamma
	for i := 0; i < n; i++ {
		a.Set(i, i, a.At(i, i)+ridge)
	}
	s.lu.Factorize(a)
	s.regularized = true
	if cond := s.lu.Cond(); math.IsInf(cond, 0) || math.IsNaN(cond) || cond > mat.ConditionTolerance {
		return nil, fmt.Errorf("%w: condition number %g with %d samples", ErrSingular, cond, n)
	}
	return s, nil
}

func (s *system) rhs(t models.Point3D) *mat.VecDense {
	n := len(s.points)
	b := mat.NewVecDense(s.size, nil)
	for i, p := range s.points {
		b.SetVec(i, s.vgm.At(distance(p, t)))
	}
	b.SetVec(n, 1)
	for l, d := range s.drift {
		b.SetVec(n+1+l, d.at(t))
	}
	return b
}

// estimate returns the kriged value and the kriging variance at t.
func (s *system) estimate(vals []float64, t models.Point3D) (float64, float64, error) {
	b := s.rhs(t)
	var x mat.VecDense
	if err := s.lu.SolveVecTo(&x, false, b); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return 0, 0, fmt.Errorf("%w: %v", ErrSingular, err)
		}
	}

	est := 0.0
	for i, v := range vals {
		est += x.AtVec(i) * v
	}
	variance := mat.Dot(&x, b)
	if variance < 0 {
		variance = 0
	}
	return est, variance, nil
}

func (s *system) driftNames() []string {
	if len(s.drift) == 0 {
		return nil
	}
	names := make([]string, len(s.drift))
	for i, d := range s.drift {
		names[i] = axisNames[d.axis]
	}
	return names
}

func coordinate(p models.Point3D, axis int) float64 {
	switch axis {
	case 0:
		return p.X
	case 1:
		return p.Y
	default:
		return p.Z
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
