package models

// Prediction is what an estimator returns for one set of target points.
type Prediction struct {
	// Values holds one estimate per target point, in target order
	Values []float64

	// Variances holds the estimation variance per target point.
	// It may be nil when the estimator does not compute it.
	Variances []float64

	// Diagnostics describes the fitted model and cross-validation quality
	Diagnostics Diagnostics
}

// Diagnostics is the estimator's internal report. It is informational only.
type Diagnostics struct {
	// Model is the variogram model name
	Model string

	// Parameters are the variogram parameters actually used
	Parameters []float64

	// Fitted is true when the parameters came from an automatic fit
	Fitted bool

	// Samples is the number of distinct sample locations used
	Samples int

	// Merged counts samples folded into a coincident neighbour
	Merged int

	// DriftTerms lists the drift terms used by universal kriging
	DriftTerms []string

	// Q1, Q2 and CR are the leave-one-out statistics of the standardised
	// errors: mean, mean square, and Q2 scaled by the geometric mean variance.
	Q1, Q2, CR float64

	// RMSE is the leave-one-out root mean square error
	RMSE float64

	// CrossValidated is false when the leave-one-out statistics were skipped
	CrossValidated bool

	// Regularized is true when the kriging matrix needed a diagonal ridge
	Regularized bool
}
