package estimation

import (
	"sort"
	"strconv"
)

// Partition is one category's share of the samples and the grid cells.
type Partition struct {
	// Label is the category value; empty for the implicit whole-data partition
	Label string

	// Implicit is true when no category key partitions the data
	Implicit bool

	// SampleMask selects the sample rows of this category
	SampleMask []bool

	// CellMask selects the grid cells of this category
	CellMask []bool
}

// Name returns the label used in logs and reports.
func (p Partition) Name() string {
	if p.Implicit {
		return "all"
	}
	return p.Label
}

// Cells returns the number of selected cells.
func (p Partition) Cells() int {
	return countTrue(p.CellMask)
}

// Categories returns the category values present in both the grid and the
// samples, numbers first in ascending order, then text in lexical order.
// The missing label never takes part.
func Categories(labels *CategoryLabels) []string {
	if labels == nil {
		return nil
	}
	inGrid := make(map[string]bool)
	for _, l := range labels.Grid {
		if l != "" {
			inGrid[l] = true
		}
	}
	seen := make(map[string]bool)
	var out []string
	for _, l := range labels.Samples {
		if l != "" && inGrid[l] && !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return labelLess(out[i], out[j]) })
	return out
}

// Plan returns the partitions to estimate, in category order. Without labels
// the whole data set is one implicit partition.
func Plan(labels *CategoryLabels, sampleCount, cellCount int) []Partition {
	if labels == nil {
		return []Partition{{
			Implicit:   true,
			SampleMask: allTrue(sampleCount),
			CellMask:   allTrue(cellCount),
		}}
	}

	categories := Categories(labels)
	partitions := make([]Partition, 0, len(categories))
	for _, c := range categories {
		partitions = append(partitions, Partition{
			Label:      c,
			SampleMask: equalMask(labels.Samples, c),
			CellMask:   equalMask(labels.Grid, c),
		})
	}
	return partitions
}

func labelLess(a, b string) bool {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	switch {
	case errA == nil && errB == nil:
		if fa != fb {
			return fa < fb
		}
		return a < b
	case errA == nil:
		return true
	case errB == nil:
		return false
	default:
		return a < b
	}
}

func equalMask(labels []string, value string) []bool {
	mask := make([]bool, len(labels))
	for i, l := range labels {
		mask[i] = l == value
	}
	return mask
}

func allTrue(n int) []bool {
	mask := make([]bool, n)
	for i := range mask {
		mask[i] = true
	}
	return mask
}

func countTrue(mask []bool) int {
	n := 0
	for _, m := range mask {
		if m {
			n++
		}
	}
	return n
}
