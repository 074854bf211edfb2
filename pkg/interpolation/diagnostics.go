package interpolation

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"vtkkrig/internal/models"
)

// crossValidate computes leave-one-out statistics without refitting, using
// the inverse of the full kriging matrix B: removing sample i leaves the error
// (B·[z;0])ᵢ/Bᵢᵢ and the kriging variance -1/Bᵢᵢ.
func (s *system) crossValidate(vals []float64, diag *models.Diagnostics) error {
	n := len(s.points)
	eye := mat.NewDiagDense(s.size, nil)
	for i := 0; i < s.size; i++ {
		eye.SetDiag(i, 1)
	}
	var inv mat.Dense
	if err := s.lu.SolveTo(&inv, false, eye); err != nil {
		if _, ok := err.(mat.Condition); !ok {
			return err
		}
	}

	z := mat.NewVecDense(s.size, nil)
	for i, v := range vals {
		z.SetVec(i, v)
	}
	var c mat.VecDense
	c.MulVec(&inv, z)

	errs := make([]float64, 0, n)
	standardized := make([]float64, 0, n)
	logVariances := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		bii := inv.At(i, i)
		if !(bii < 0) {
			continue
		}
		e := c.AtVec(i) / bii
		variance := -1 / bii
		errs = append(errs, e)
		standardized = append(standardized, e/math.Sqrt(variance))
		logVariances = append(logVariances, math.Log(variance))
	}
	if len(errs) == 0 {
		return nil
	}

	squares := make([]float64, len(standardized))
	for i, v := range standardized {
		squares[i] = v * v
	}
	sqErrs := make([]float64, len(errs))
	for i, e := range errs {
		sqErrs[i] = e * e
	}

	diag.Q1 = stat.Mean(standardized, nil)
	diag.Q2 = stat.Mean(squares, nil)
	diag.CR = diag.Q2 * math.Exp(stat.Mean(logVariances, nil))
	diag.RMSE = math.Sqrt(stat.Mean(sqErrs, nil))
	diag.CrossValidated = true
	return nil
}
