package models

import (
	"fmt"
	"math"
)

// Column is one field of a SampleSet. Numeric columns hold NaN for missing
// entries; text columns hold "".
type Column struct {
	Name    string
	Numbers []float64
	Text    []string
}

// IsNumeric reports whether the column parsed entirely as numbers.
func (c *Column) IsNumeric() bool {
	return c.Text == nil
}

// Len returns the number of rows in the column.
func (c *Column) Len() int {
	if c.Text != nil {
		return len(c.Text)
	}
	return len(c.Numbers)
}

// CategoryLabels returns the column as normalised category labels.
func (c *Column) CategoryLabels() []string {
	out := make([]string, c.Len())
	if c.IsNumeric() {
		for i, v := range c.Numbers {
			out[i] = FormatLabel(v)
		}
		return out
	}
	for i, s := range c.Text {
		out[i] = NormalizeLabel(s)
	}
	return out
}

// SampleSet is an immutable table of hard data rows.
type SampleSet struct {
	// Source is the path the table was loaded from, if any
	Source string

	fields  []string
	columns map[string]*Column
	rows    int
}

// NewSampleSet builds a sample set from columns of equal length.
// Field order follows the argument order.
func NewSampleSet(columns ...*Column) (*SampleSet, error) {
	s := &SampleSet{columns: make(map[string]*Column, len(columns))}
	for i, c := range columns {
		if c.Name == "" {
			return nil, fmt.Errorf("column %d has no name", i)
		}
		if _, dup := s.columns[c.Name]; dup {
			return nil, fmt.Errorf("duplicate column %q", c.Name)
		}
		if i == 0 {
			s.rows = c.Len()
		} else if c.Len() != s.rows {
			return nil, fmt.Errorf("column %q has %d rows, expected %d", c.Name, c.Len(), s.rows)
		}
		s.fields = append(s.fields, c.Name)
		s.columns[c.Name] = c
	}
	return s, nil
}

// NumericColumn is a convenience constructor for a numeric column.
func NumericColumn(name string, values ...float64) *Column {
	if values == nil {
		values = []float64{}
	}
	return &Column{Name: name, Numbers: values}
}

// TextColumn is a convenience constructor for a text column.
func TextColumn(name string, values ...string) *Column {
	if values == nil {
		values = []string{}
	}
	return &Column{Name: name, Text: values}
}

// Len returns the number of rows.
func (s *SampleSet) Len() int {
	return s.rows
}

// Fields returns the field names in table order.
func (s *SampleSet) Fields() []string {
	out := make([]string, len(s.fields))
	copy(out, s.fields)
	return out
}

// Has reports whether the set has a field with that name.
func (s *SampleSet) Has(name string) bool {
	_, ok := s.columns[name]
	return ok
}

// Column returns the named column.
func (s *SampleSet) Column(name string) (*Column, bool) {
	c, ok := s.columns[name]
	return c, ok
}

// Numbers returns the values of a numeric column.
func (s *SampleSet) Numbers(name string) ([]float64, bool) {
	c, ok := s.columns[name]
	if !ok || !c.IsNumeric() {
		return nil, false
	}
	return c.Numbers, true
}

// Missing reports whether v is a missing numeric entry.
func Missing(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}
