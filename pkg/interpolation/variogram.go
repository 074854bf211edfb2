package interpolation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"

	"vtkkrig/internal/models"
	"vtkkrig/pkg/config"
)

// VariogramModel names a variogram model family
type VariogramModel string

const (
	Linear      VariogramModel = "linear"
	Power       VariogramModel = "power"
	Gaussian    VariogramModel = "gaussian"
	Spherical   VariogramModel = "spherical"
	Exponential VariogramModel = "exponential"
	HoleEffect  VariogramModel = "hole-effect"
)

// zeroDistance is the separation below which two locations are the same point.
const zeroDistance = 1e-9

// Variogram is a variogram model with concrete parameters.
//
// Params layout by model:
//   - Linear: slope, nugget
//   - Power: scale, exponent, nugget
//   - others: partial sill, range, nugget
type Variogram struct {
	Model  VariogramModel
	Params []float64
}

// numParams returns how many parameters a model takes.
func (m VariogramModel) numParams() (int, error) {
	switch m {
	case Linear:
		return 2, nil
	case Power, Gaussian, Spherical, Exponential, HoleEffect:
		return 3, nil
	default:
		return 0, fmt.Errorf("%w: unknown variogram model %q", ErrInvalidParameters, m)
	}
}

// At returns the semivariance at separation h. Coincident locations have zero
// semivariance so the estimate honours the sample values exactly.
func (v Variogram) At(h float64) float64 {
	if h < zeroDistance {
		return 0
	}
	return v.model(h)
}

// model evaluates the bare model function, nugget included.
func (v Variogram) model(h float64) float64 {
	p := v.Params
	switch v.Model {
	case Linear:
		return p[0]*h + p[1]
	case Power:
		return p[0]*math.Pow(h, p[1]) + p[2]
	case Gaussian:
		r := p[1] * 4.0 / 7.0
		return p[0]*(1-math.Exp(-(h*h)/(r*r))) + p[2]
	case Exponential:
		return p[0]*(1-math.Exp(-h/(p[1]/3.0))) + p[2]
	case Spherical:
		if h >= p[1] {
			return p[0] + p[2]
		}
		r := h / p[1]
		return p[0]*(1.5*r-0.5*r*r*r) + p[2]
	case HoleEffect:
		a := h / (p[1] / 3.0)
		return p[0]*(1-(1-a)*math.Exp(-a)) + p[2]
	default:
		return math.NaN()
	}
}

// Validate checks the parameter count and ranges.
func (v Variogram) Validate() error {
	n, err := v.Model.numParams()
	if err != nil {
		return err
	}
	if len(v.Params) != n {
		return fmt.Errorf("%w: %s variogram takes %d parameters, got %d", ErrInvalidParameters, v.Model, n, len(v.Params))
	}
	for i, p := range v.Params {
		if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 {
			return fmt.Errorf("%w: %s parameter %d must be a non-negative number, got %g", ErrInvalidParameters, v.Model, i, p)
		}
	}
	switch v.Model {
	case Power:
		if v.Params[1] <= 0 || v.Params[1] >= 2 {
			return fmt.Errorf("%w: power exponent must be in (0, 2), got %g", ErrInvalidParameters, v.Params[1])
		}
	case Gaussian, Spherical, Exponential, HoleEffect:
		if v.Params[1] <= 0 {
			return fmt.Errorf("%w: range must be positive, got %g", ErrInvalidParameters, v.Params[1])
		}
	}
	return nil
}

// variogramFromConfig turns explicit configuration parameters into a model.
// A positional list follows the file convention: slope, nugget for linear;
// scale, exponent, nugget for power; full sill, range, nugget otherwise.
func variogramFromConfig(model VariogramModel, p *config.VariogramParameters) (Variogram, error) {
	n, err := model.numParams()
	if err != nil {
		return Variogram{}, err
	}

	var params []float64
	if p.Named != nil {
		params, err = namedParameters(model, p.Named)
		if err != nil {
			return Variogram{}, err
		}
	} else {
		if len(p.List) != n {
			return Variogram{}, fmt.Errorf("%w: %s variogram takes %d parameters, got %d", ErrInvalidParameters, model, n, len(p.List))
		}
		params = append([]float64(nil), p.List...)
		if n == 3 && model != Power {
			// full sill -> partial sill
			params[0] -= params[2]
		}
	}

	v := Variogram{Model: model, Params: params}
	return v, v.Validate()
}

func namedParameters(model VariogramModel, named map[string]float64) ([]float64, error) {
	get := func(key string) (float64, error) {
		v, ok := named[key]
		if !ok {
			return 0, fmt.Errorf("%w: %s variogram needs %q", ErrInvalidParameters, model, key)
		}
		return v, nil
	}

	var keys []string
	switch model {
	case Linear:
		keys = []string{"slope", "nugget"}
	case Power:
		keys = []string{"scale", "exponent", "nugget"}
	default:
		nugget, err := get("nugget")
		if err != nil {
			return nil, err
		}
		rng, err := get("range")
		if err != nil {
			return nil, err
		}
		if psill, ok := named["psill"]; ok {
			return []float64{psill, rng, nugget}, nil
		}
		sill, err := get("sill")
		if err != nil {
			return nil, fmt.Errorf("%w: %s variogram needs \"sill\" or \"psill\"", ErrInvalidParameters, model)
		}
		return []float64{sill - nugget, rng, nugget}, nil
	}

	out := make([]float64, len(keys))
	for i, key := range keys {
		v, err := get(key)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// experimentalVariogram bins half squared differences of all sample pairs into
// nlags equal-width distance classes and returns the non-empty classes. There
// are never more classes than sample pairs.
func experimentalVariogram(points []models.Point3D, values []float64, nlags int) (lags, semivariance []float64) {
	n := len(points)
	if n < 2 || nlags < 1 {
		return nil, nil
	}
	nlags = min(nlags, n*(n-1)/2)

	dmin, dmax := math.Inf(1), math.Inf(-1)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := distance(points[i], points[j])
			dmin = math.Min(dmin, d)
			dmax = math.Max(dmax, d)
		}
	}

	width := (dmax - dmin) / float64(nlags)
	sumD := make([]float64, nlags)
	sumG := make([]float64, nlags)
	count := make([]int, nlags)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := distance(points[i], points[j])
			bin := 0
			if width > 0 {
				bin = int((d - dmin) / width)
			}
			if bin >= nlags {
				bin = nlags - 1
			}
			diff := values[i] - values[j]
			sumD[bin] += d
			sumG[bin] += 0.5 * diff * diff
			count[bin]++
		}
	}

	for b := 0; b < nlags; b++ {
		if count[b] == 0 {
			continue
		}
		lags = append(lags, sumD[b]/float64(count[b]))
		semivariance = append(semivariance, sumG[b]/float64(count[b]))
	}
	return lags, semivariance
}

// bound is a closed parameter interval; hi may be +Inf.
type bound struct{ lo, hi float64 }

func (b bound) fromFree(u float64) float64 {
	if math.IsInf(b.hi, 1) {
		return b.lo + math.Exp(u)
	}
	return b.lo + (b.hi-b.lo)/(1+math.Exp(-u))
}

func (b bound) toFree(x float64) float64 {
	if math.IsInf(b.hi, 1) {
		return math.Log(math.Max(x-b.lo, 1e-12))
	}
	t := (x - b.lo) / (b.hi - b.lo)
	t = math.Min(math.Max(t, 1e-6), 1-1e-6)
	return math.Log(t / (1 - t))
}

// fitVariogram fits model parameters to an experimental variogram by least
// squares, searching with Nelder-Mead inside the usual parameter bounds.
func fitVariogram(model VariogramModel, lags, semivariance []float64) (Variogram, error) {
	if _, err := model.numParams(); err != nil {
		return Variogram{}, err
	}
	if len(lags) == 0 {
		// a single location carries no spatial structure; any model will do
		return defaultVariogram(model, 1, 0), nil
	}

	minL, maxL := minMax(lags)
	minS, maxS := minMax(semivariance)
	if maxS <= 0 {
		return defaultVariogram(model, maxL, 0), nil
	}

	slope := (maxS - minS) / (maxL - minL)
	if maxL == minL {
		slope = maxS / maxL
	}

	var x0 []float64
	var bounds []bound
	switch model {
	case Linear:
		x0 = []float64{slope, minS}
		bounds = []bound{{0, math.Inf(1)}, {0, maxS}}
	case Power:
		x0 = []float64{slope, 1.1, minS}
		bounds = []bound{{0, math.Inf(1)}, {0.001, 1.999}, {0, maxS}}
	default:
		x0 = []float64{maxS - minS, 0.25 * maxL, minS}
		bounds = []bound{{0, 10 * maxS}, {0, maxL}, {0, maxS}}
	}

	decode := func(u []float64) []float64 {
		x := make([]float64, len(u))
		for i := range u {
			x[i] = bounds[i].fromFree(u[i])
		}
		return x
	}
	cost := func(u []float64) float64 {
		v := Variogram{Model: model, Params: decode(u)}
		sum := 0.0
		for i, h := range lags {
			r := v.model(h) - semivariance[i]
			sum += r * r
		}
		if math.IsNaN(sum) {
			return math.Inf(1)
		}
		return sum
	}

	u0 := make([]float64, len(x0))
	for i := range x0 {
		u0[i] = bounds[i].toFree(x0[i])
	}

	best := u0
	problem := optimize.Problem{Func: cost}
	settings := &optimize.Settings{FuncEvaluations: 5000}
	result, err := optimize.Minimize(problem, u0, settings, &optimize.NelderMead{})
	if result != nil && cost(result.X) <= cost(u0) {
		best = result.X
	} else if err != nil {
		// keep the initial guess; it is a valid model
		best = u0
	}

	v := Variogram{Model: model, Params: decode(best)}
	if model != Linear && model != Power && v.Params[1] <= 0 {
		v.Params[1] = math.Max(maxL, zeroDistance)
	}
	return v, nil
}

func defaultVariogram(model VariogramModel, scale, nugget float64) Variogram {
	if !(scale > 0) {
		scale = 1
	}
	switch model {
	case Linear:
		return Variogram{Model: model, Params: []float64{0, nugget}}
	case Power:
		return Variogram{Model: model, Params: []float64{0, 1, nugget}}
	default:
		return Variogram{Model: model, Params: []float64{0, scale, nugget}}
	}
}

func minMax(xs []float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, x := range xs {
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	return lo, hi
}

func distance(a, b models.Point3D) float64 {
	dx := b.X - a.X
	dy := b.Y - a.Y
	dz := b.Z - a.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}
