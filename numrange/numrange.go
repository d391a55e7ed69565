// Package numrange implements the numeric-interval domain model used for
// numerical, date, and IP quasi-identifiers. A QID's root Range is built
// once (from the backend's reported min/max, or the whole IPv4 address
// space for IP QIDs) and is immutable thereafter.
package numrange

import "fmt"

// Range is a closed integer interval [Min, Max]. Dates are represented as
// epoch-unit integers so the same type serves both numerical and date
// QIDs; only the external serialization differs (see the attribute
// package's DateRange wrapper).
type Range struct {
	Min, Max int
}

// New constructs a Range from its bounds.
func New(min, max int) *Range {
	return &Range{Min: min, Max: max}
}

// Value renders the range the way the rest of the engine renders a
// generalized numeric value: "min,max", or a single integer when the
// range has collapsed to one point.
func (r *Range) Value() string {
	if r.Min == r.Max {
		return fmt.Sprintf("%d", r.Min)
	}
	return fmt.Sprintf("%d,%d", r.Min, r.Max)
}

// Width is the range's span, max - min.
func (r *Range) Width() int {
	return r.Max - r.Min
}

// Len is the range's width, so that numeric and hierarchical root
// metadata can be normalized through one shared `len(root)` call site.
func (r *Range) Len() int {
	return r.Width()
}
