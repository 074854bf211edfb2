package estimation

import (
	"fmt"
	"strings"
)

// SchemaError reports sample or grid data that cannot be used at all. It is
// fatal: a run that returns it has not modified the grid.
type SchemaError struct {
	// Field is the axis, variable or key concerned
	Field string

	// Reason describes the problem
	Reason string

	// Candidates lists the fields that matched, if any
	Candidates []string
}

func (e *SchemaError) Error() string {
	if len(e.Candidates) > 0 {
		return fmt.Sprintf("schema: %s: %s (candidates: %s)", e.Field, e.Reason, strings.Join(e.Candidates, ", "))
	}
	return fmt.Sprintf("schema: %s: %s", e.Field, e.Reason)
}

// EstimationError reports an estimator failure for one category and variable.
// Only that pair is affected; its cells stay undefined.
type EstimationError struct {
	Category string
	Variable string
	Err      error
}

func (e *EstimationError) Error() string {
	return fmt.Sprintf("estimating %q in category %q: %v", e.Variable, e.Category, e.Err)
}

func (e *EstimationError) Unwrap() error { return e.Err }
