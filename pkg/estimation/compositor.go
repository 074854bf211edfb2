package estimation

import (
	"fmt"

	"vtkkrig/internal/models"
)

// Compose spreads an outcome over the full cell range. Cells outside mask, and
// all cells of an absent outcome, are left uncovered. The returned values hold
// models.Undefined wherever covered is false.
func Compose(cellCount int, mask []bool, outcome Outcome) (values []float64, covered []bool, err error) {
	if len(mask) != cellCount {
		return nil, nil, fmt.Errorf("mask has %d entries, grid has %d cells", len(mask), cellCount)
	}
	values = make([]float64, cellCount)
	covered = make([]bool, cellCount)
	for i := range values {
		values[i] = models.Undefined
	}
	if outcome.Absent {
		return values, covered, nil
	}
	if n := countTrue(mask); n != len(outcome.Values) {
		return nil, nil, fmt.Errorf("outcome has %d values for %d selected cells", len(outcome.Values), n)
	}

	next := 0
	for i, selected := range mask {
		if !selected {
			continue
		}
		v := outcome.Values[next]
		next++
		if models.Missing(v) {
			continue
		}
		values[i] = v
		covered[i] = true
	}
	return values, covered, nil
}

// Accumulator collects the estimates of one variable across partitions.
type Accumulator struct {
	values  []float64
	covered []bool
}

// NewAccumulator creates an empty accumulator for cellCount cells.
func NewAccumulator(cellCount int) *Accumulator {
	return &Accumulator{
		values:  make([]float64, cellCount),
		covered: make([]bool, cellCount),
	}
}

// Merge adds a partition outcome and returns the number of cells it defined.
// Cells already defined by an earlier partition are never changed.
func (a *Accumulator) Merge(mask []bool, outcome Outcome) (int, error) {
	values, covered, err := Compose(len(a.values), mask, outcome)
	if err != nil {
		return 0, err
	}
	n := 0
	for i, ok := range covered {
		if ok && !a.covered[i] {
			a.values[i] = values[i]
			a.covered[i] = true
			n++
		}
	}
	return n, nil
}

// Covered returns the number of defined cells.
func (a *Accumulator) Covered() int {
	return countTrue(a.covered)
}

// Values returns the dense cell array with models.Undefined for uncovered cells.
func (a *Accumulator) Values() []float64 {
	out := make([]float64, len(a.values))
	for i, v := range a.values {
		if a.covered[i] {
			out[i] = v
		} else {
			out[i] = models.Undefined
		}
	}
	return out
}

// WriteBack stores the accumulated values as the named grid array, replacing
// any existing array of that name.
func WriteBack(grid *models.Grid, name string, acc *Accumulator) error {
	return grid.SetValues(name, acc.Values())
}
