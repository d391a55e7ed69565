// Package partition implements the multiset-of-records abstraction both
// anonymization algorithms operate over: a record count plus one
// Attribute per QID.
package partition

import (
	"sort"
	"strings"

	"github.com/majkutK-unitn/anonymization-module/attribute"
)

// Partition is one (candidate or final) equivalence class.
type Partition struct {
	Count      int
	Attributes map[string]attribute.Attribute
}

// New builds a Partition, copying the attribute map so the caller's map
// can be freely reused or discarded.
func New(count int, attrs map[string]attribute.Attribute) *Partition {
	return &Partition{Count: count, Attributes: cloneMap(attrs)}
}

// Clone returns a Partition with its own, independent attribute map.
// Attribute values themselves are never mutated in place (see the
// attribute package's doc comment), so sharing the individual pointers
// across the clone and the original is safe; only the containing map
// needs to be copied so that replacing one entry in one partition never
// affects a sibling.
func (p *Partition) Clone() *Partition {
	return &Partition{Count: p.Count, Attributes: cloneMap(p.Attributes)}
}

// WithAttribute returns a clone of p with attrs[name] replaced by attr.
func (p *Partition) WithAttribute(name string, attr attribute.Attribute) *Partition {
	clone := p.Clone()
	clone.Attributes[name] = attr
	return clone
}

func cloneMap(attrs map[string]attribute.Attribute) map[string]attribute.Attribute {
	out := make(map[string]attribute.Attribute, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}

// Signature is the partition's de-duplication key: the ordered
// concatenation of (qid, generalized value) pairs, ordered by qidOrder
// (Config's QID order) so two partitions with the same generalized
// values always hash identically regardless of map iteration order.
func (p *Partition) Signature(qidOrder []string) string {
	var b strings.Builder
	for _, qid := range qidOrder {
		attr, ok := p.Attributes[qid]
		if !ok {
			continue
		}
		b.WriteString(qid)
		b.WriteByte('=')
		b.WriteString(attr.GenValue())
		b.WriteByte(';')
	}
	return b.String()
}

// String renders the partition's attribute map as "'qid': 'value'" pairs,
// in qidOrder.
func (p *Partition) String(qidOrder []string) string {
	parts := make([]string, 0, len(qidOrder))
	for _, qid := range qidOrder {
		attr, ok := p.Attributes[qid]
		if !ok {
			continue
		}
		parts = append(parts, "'"+qid+"': '"+attr.GenValue()+"'")
	}
	return strings.Join(parts, ", ")
}

// SortBySignature orders partitions deterministically, for tests and
// any reporting that wants stable output ordering.
func SortBySignature(partitions []*Partition, qidOrder []string) {
	sort.Slice(partitions, func(i, j int) bool {
		return partitions[i].Signature(qidOrder) < partitions[j].Signature(qidOrder)
	})
}
