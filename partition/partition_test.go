package partition_test

import (
	"testing"

	"github.com/majkutK-unitn/anonymization-module/attribute"
	"github.com/majkutK-unitn/anonymization-module/numrange"
	"github.com/majkutK-unitn/anonymization-module/partition"
)

func TestCloneIsIndependent(t *testing.T) {
	root := numrange.New(0, 100)
	p := partition.New(10, map[string]attribute.Attribute{
		"age": attribute.NewIntRange("age", root),
	})

	clone := p.Clone()
	clone.Attributes["age"] = clone.Attributes["age"].WithSplitAllowed(false)

	if !p.Attributes["age"].SplitAllowed() {
		t.Error("mutating the clone's map affected the original's attribute entry")
	}
	if clone.Attributes["age"].SplitAllowed() {
		t.Error("clone's attribute should have split-allowed = false")
	}
}

func TestSignatureOrderedByQIDOrder(t *testing.T) {
	root := numrange.New(0, 100)
	p1 := partition.New(5, map[string]attribute.Attribute{
		"age":   attribute.NewIntRange("age", root),
		"score": attribute.NewIntRange("score", root),
	})
	p2 := p1.Clone()

	order := []string{"age", "score"}
	if p1.Signature(order) != p2.Signature(order) {
		t.Errorf("identical partitions should have identical signatures: %q vs %q", p1.Signature(order), p2.Signature(order))
	}

	p3 := p1.WithAttribute("age", p1.Attributes["age"].(attribute.RangeAttribute).Refresh(0, 50))
	if p1.Signature(order) == p3.Signature(order) {
		t.Error("partitions with different generalized values should have different signatures")
	}
}

func TestWithAttributeDoesNotMutateOriginal(t *testing.T) {
	root := numrange.New(0, 100)
	p := partition.New(5, map[string]attribute.Attribute{
		"age": attribute.NewIntRange("age", root),
	})

	refreshed := p.Attributes["age"].(attribute.RangeAttribute).Refresh(10, 20)
	child := p.WithAttribute("age", refreshed)

	if p.Attributes["age"].GenValue() == child.Attributes["age"].GenValue() {
		t.Error("WithAttribute should not have mutated the original partition")
	}
}
