// Package attribute implements the per-QID generalization state carried by
// every partition. Attribute is a small sum type over four variants
// (hierarchical, integer range, date range, and IP range) dispatched via
// narrow capability interfaces rather than runtime type switches on a
// shared struct, so each variant only exposes the operations that make
// sense for it.
//
// Every mutation returns a new value; nothing in this package mutates an
// Attribute already in use by a Partition. That discipline is what lets
// GenTree and NumRange roots be shared, read-only, across every partition
// in a run.
package attribute

import (
	"fmt"

	"github.com/majkutK-unitn/anonymization-module/gentree"
	"github.com/majkutK-unitn/anonymization-module/numrange"
)

// Kind identifies which of the four variants an Attribute is.
type Kind int

const (
	KindHierarchical Kind = iota
	KindIntRange
	KindDateRange
	KindIPRange
)

func (k Kind) String() string {
	switch k {
	case KindHierarchical:
		return "hierarchical"
	case KindIntRange:
		return "numerical"
	case KindDateRange:
		return "date"
	case KindIPRange:
		return "ip"
	default:
		return "unknown"
	}
}

// RootMetadata is the shared, immutable per-QID domain descriptor used to
// normalize width: a GenTree root for hierarchical QIDs, a NumRange for
// every other kind.
type RootMetadata interface {
	Len() int
}

// Attribute is the generalization state of one QID within one partition.
type Attribute interface {
	Name() string
	Kind() Kind
	Width() int
	GenValue() string
	SplitAllowed() bool

	// NormalizedWidth is Width / len(root metadata); callers validate the
	// >1 invariant themselves (see mondrian.chooseQID).
	NormalizedWidth() float64

	// WithSplitAllowed returns a copy with split-allowed set to allowed,
	// never mutating the receiver.
	WithSplitAllowed(allowed bool) Attribute
}

// Splitter is implemented by variants that can advance their own
// generalization one step without external input: Hierarchical (moves to
// the tree's children) and IPRange (fixes one more mask bit).
type Splitter interface {
	Attribute
	Split() ([]Attribute, error)
}

// Bounder is implemented by every range-like variant, exposing the
// integer bounds a backend needs to build an inclusive-range filter.
type Bounder interface {
	Attribute
	Bounds() (lo, hi int)
}

// RangeAttribute is implemented by the two variants Mondrian can split
// along a backend-supplied median: IntRange and DateRange. IPRange is
// deliberately excluded; its splits bisect the mask, not a median.
type RangeAttribute interface {
	Bounder

	// Refresh returns a copy whose bounds reflect the partition's actual
	// in-partition min/max. Callers keep the refresh even when the
	// subsequent split attempt is rejected; it is a tightening, never a
	// loosening, of the range.
	Refresh(lo, hi int) RangeAttribute

	// SplitAt forms the two child Attributes [lo, splitAt] and
	// [nextUnique, hi].
	SplitAt(splitAt, nextUnique int) []Attribute
}

// LeafValuer is implemented by Hierarchical, exposing the leaf set
// covered by the attribute's current generalized node, the set a
// document-oriented backend needs for an `IN (...)`/terms filter.
type LeafValuer interface {
	Attribute
	LeafValues() []string
}

// ---- Hierarchical --------------------------------------------------

// Hierarchical is the generalization state of a categorical QID: the
// current node (by value) within a shared, immutable GenTree.
type Hierarchical struct {
	name         string
	root         *gentree.Tree // the whole hierarchy's root, fixed for the run
	width        int
	genValue     string
	splitAllowed bool
}

// NewHierarchical builds the root generalization for a categorical QID.
func NewHierarchical(name string, root *gentree.Tree) *Hierarchical {
	return &Hierarchical{
		name:         name,
		root:         root,
		width:        root.Len(),
		genValue:     root.Value,
		splitAllowed: true,
	}
}

func (h *Hierarchical) Name() string         { return h.name }
func (h *Hierarchical) Kind() Kind           { return KindHierarchical }
func (h *Hierarchical) Width() int           { return h.width }
func (h *Hierarchical) GenValue() string     { return h.genValue }
func (h *Hierarchical) SplitAllowed() bool   { return h.splitAllowed }
func (h *Hierarchical) NormalizedWidth() float64 {
	if h.root.Len() == 0 {
		return 0
	}
	return float64(h.width) / float64(h.root.Len())
}

func (h *Hierarchical) WithSplitAllowed(allowed bool) Attribute {
	clone := *h
	clone.splitAllowed = allowed
	return &clone
}

// NewHierarchicalAt builds the generalization state pinned at an
// arbitrary node of the hierarchy, rather than at its root; used by
// Datafly to seed initial partitions at a configured tree level and to
// walk a node up to its parent during a generalization step.
func NewHierarchicalAt(name string, root *gentree.Tree, node *gentree.Tree) *Hierarchical {
	return &Hierarchical{
		name:         name,
		root:         root,
		width:        node.Len(),
		genValue:     node.Value,
		splitAllowed: !node.IsLeaf(),
	}
}

// Split returns the child Attribute for every direct child of the current
// tree node. Returns an empty, non-error slice when the current node is a
// leaf (nothing to split into); the caller treats that as split-unproductive.
func (h *Hierarchical) Split() ([]Attribute, error) {
	node := h.root.Node(h.genValue)
	if node == nil {
		return nil, fmt.Errorf("attribute: hierarchical QID %q: value %q not found in its hierarchy", h.name, h.genValue)
	}

	children := make([]Attribute, 0, len(node.Children))
	for _, child := range node.Children {
		children = append(children, &Hierarchical{
			name:         h.name,
			root:         h.root,
			width:        child.Len(),
			genValue:     child.Value,
			splitAllowed: !child.IsLeaf(),
		})
	}
	return children, nil
}

// LeafValues returns the leaf set covered by the current generalized
// node, for backend filter construction.
func (h *Hierarchical) LeafValues() []string {
	node := h.root.Node(h.genValue)
	if node == nil {
		return nil
	}
	return node.LeafValues()
}

// ---- IntRange -------------------------------------------------------

// IntRange is the generalization state of a numerical QID.
type IntRange struct {
	name         string
	root         *numrange.Range // the whole QID's domain, fixed for the run
	min, max     int
	splitAllowed bool
}

// NewIntRange builds the root generalization for a numerical QID.
func NewIntRange(name string, root *numrange.Range) *IntRange {
	return &IntRange{
		name:         name,
		root:         root,
		min:          root.Min,
		max:          root.Max,
		splitAllowed: true,
	}
}

func (r *IntRange) Name() string       { return r.name }
func (r *IntRange) Kind() Kind         { return KindIntRange }
func (r *IntRange) Width() int         { return r.max - r.min }
func (r *IntRange) SplitAllowed() bool { return r.splitAllowed }
func (r *IntRange) GenValue() string {
	return numrange.New(r.min, r.max).Value()
}
func (r *IntRange) NormalizedWidth() float64 {
	// A domain that holds a single value has width 0; every attribute
	// over it is already fully specific.
	if r.root.Len() == 0 {
		return 0
	}
	return float64(r.Width()) / float64(r.root.Len())
}
func (r *IntRange) Bounds() (lo, hi int) { return r.min, r.max }

func (r *IntRange) WithSplitAllowed(allowed bool) Attribute {
	clone := *r
	clone.splitAllowed = allowed
	return &clone
}

func (r *IntRange) Refresh(lo, hi int) RangeAttribute {
	clone := *r
	clone.min, clone.max = lo, hi
	clone.splitAllowed = lo != hi
	return &clone
}

func (r *IntRange) SplitAt(splitAt, nextUnique int) []Attribute {
	left := &IntRange{name: r.name, root: r.root, min: r.min, max: splitAt, splitAllowed: r.min != splitAt}
	right := &IntRange{name: r.name, root: r.root, min: nextUnique, max: r.max, splitAllowed: nextUnique != r.max}
	return []Attribute{left, right}
}

// ---- DateRange --------------------------------------------------------

// DateRange reuses IntRange's epoch-integer arithmetic and differs only
// in how the generalized value is rendered for publication, per the
// Design Notes' instruction to treat dates as integers internally.
type DateRange struct {
	IntRange
}

// NewDateRange builds the root generalization for a date QID.
func NewDateRange(name string, root *numrange.Range) *DateRange {
	return &DateRange{IntRange: *NewIntRange(name, root)}
}

func (d *DateRange) Kind() Kind { return KindDateRange }

func (d *DateRange) WithSplitAllowed(allowed bool) Attribute {
	clone := *d
	clone.splitAllowed = allowed
	return &clone
}

func (d *DateRange) Refresh(lo, hi int) RangeAttribute {
	clone := *d
	clone.min, clone.max = lo, hi
	clone.splitAllowed = lo != hi
	return &clone
}

func (d *DateRange) SplitAt(splitAt, nextUnique int) []Attribute {
	left := &DateRange{IntRange: IntRange{name: d.name, root: d.root, min: d.min, max: splitAt, splitAllowed: d.min != splitAt}}
	right := &DateRange{IntRange: IntRange{name: d.name, root: d.root, min: nextUnique, max: d.max, splitAllowed: nextUnique != d.max}}
	return []Attribute{left, right}
}
