package estimation

import (
	"math"
	"sort"

	"go.uber.org/zap/zapcore"
	"gonum.org/v1/gonum/stat"

	"vtkkrig/internal/models"
)

// Summary describes a sequence of estimates. Non-finite values are ignored.
type Summary struct {
	Count     int
	Undefined int
	Mean      float64
	Std       float64
	Min       float64
	Q1        float64
	Median    float64
	Q3        float64
	Max       float64
}

// Describe summarises values.
func Describe(values []float64) Summary {
	defined := make([]float64, 0, len(values))
	for _, v := range values {
		if !models.Missing(v) {
			defined = append(defined, v)
		}
	}
	s := Summary{Count: len(defined), Undefined: len(values) - len(defined)}
	if len(defined) == 0 {
		nan := math.NaN()
		s.Mean, s.Std, s.Min, s.Q1, s.Median, s.Q3, s.Max = nan, nan, nan, nan, nan, nan, nan
		return s
	}

	sort.Float64s(defined)
	s.Mean, s.Std = stat.MeanStdDev(defined, nil)
	if len(defined) == 1 {
		s.Std = 0
	}
	s.Min = defined[0]
	s.Max = defined[len(defined)-1]
	s.Q1 = stat.Quantile(0.25, stat.LinInterp, defined, nil)
	s.Median = stat.Quantile(0.5, stat.LinInterp, defined, nil)
	s.Q3 = stat.Quantile(0.75, stat.LinInterp, defined, nil)
	return s
}

// MarshalLogObject implements zapcore.ObjectMarshaler
func (s Summary) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("count", s.Count)
	enc.AddInt("undefined", s.Undefined)
	if s.Count == 0 {
		return nil
	}
	enc.AddFloat64("mean", s.Mean)
	enc.AddFloat64("std", s.Std)
	enc.AddFloat64("min", s.Min)
	enc.AddFloat64("25%", s.Q1)
	enc.AddFloat64("50%", s.Median)
	enc.AddFloat64("75%", s.Q3)
	enc.AddFloat64("max", s.Max)
	return nil
}

// diagnosticsObject adapts the estimator report for structured logging
type diagnosticsObject models.Diagnostics

func (d diagnosticsObject) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("model", d.Model)
	enc.AddBool("fitted", d.Fitted)
	if err := enc.AddArray("parameters", floatArray(d.Parameters)); err != nil {
		return err
	}
	enc.AddInt("samples", d.Samples)
	if d.Merged > 0 {
		enc.AddInt("merged", d.Merged)
	}
	if len(d.DriftTerms) > 0 {
		if err := enc.AddArray("drift", zapcore.ArrayMarshalerFunc(func(ae zapcore.ArrayEncoder) error {
			for _, t := range d.DriftTerms {
				ae.AppendString(t)
			}
			return nil
		})); err != nil {
			return err
		}
	}
	if d.CrossValidated {
		enc.AddFloat64("Q1", d.Q1)
		enc.AddFloat64("Q2", d.Q2)
		enc.AddFloat64("cR", d.CR)
		enc.AddFloat64("rmse", d.RMSE)
	}
	if d.Regularized {
		enc.AddBool("regularized", true)
	}
	return nil
}

type floatArray []float64

func (a floatArray) MarshalLogArray(enc zapcore.ArrayEncoder) error {
	for _, v := range a {
		enc.AppendFloat64(v)
	}
	return nil
}
