// Package gentree implements generalization hierarchies (taxonomy trees)
// for categorical quasi-identifiers. A tree is built once, bottom-up, from
// a nested value/children description and is immutable and safely shared
// by reference across every partition for the remainder of a run.
package gentree

import "fmt"

// Tree is one node of a generalization hierarchy. The root of a hierarchy
// is itself a *Tree with Level 0 and an empty Ancestors list.
type Tree struct {
	Value    string
	Level    int
	Ancestors []*Tree // nearest-first: Ancestors[0] is the direct parent
	Children []*Tree

	// covered indexes every node in the subtree rooted here by value,
	// including the node itself. Only the root's index is ever queried
	// from outside the package, but every node maintains one so that
	// Node can be called against any handle, not just the root.
	covered map[string]*Tree

	leafCount int
}

// Spec is the nested input shape used to build a Tree: a value and its
// direct children, recursively.
type Spec struct {
	Value    string `json:"value" yaml:"value"`
	Children []Spec `json:"children" yaml:"children"`
}

// Build constructs a generalization hierarchy from its nested description.
// The returned *Tree is the root.
func Build(spec Spec) (*Tree, error) {
	if spec.Value == "" {
		return nil, fmt.Errorf("gentree: root node must have a non-empty value")
	}
	return build(spec, nil), nil
}

func build(spec Spec, parent *Tree) *Tree {
	n := &Tree{
		Value:   spec.Value,
		covered: make(map[string]*Tree),
	}

	if parent != nil {
		n.Ancestors = make([]*Tree, 0, len(parent.Ancestors)+1)
		n.Ancestors = append(n.Ancestors, parent)
		n.Ancestors = append(n.Ancestors, parent.Ancestors...)
		n.Level = parent.Level + 1
		parent.Children = append(parent.Children, n)
	}

	n.covered[n.Value] = n

	isLeaf := len(spec.Children) == 0
	for _, childSpec := range spec.Children {
		build(childSpec, n)
	}

	// Register this node (and, for leaves, increment leaf counts) on
	// every ancestor, nearest first, so counts stay correct as the
	// tree grows bottom-up.
	for _, ancestor := range n.Ancestors {
		ancestor.covered[n.Value] = n
		if isLeaf {
			ancestor.leafCount++
		}
	}
	return n
}

// Node returns the descendant (or the receiver itself) whose value equals
// the argument, or nil if no such node exists in this subtree.
func (t *Tree) Node(value string) *Tree {
	if t == nil {
		return nil
	}
	return t.covered[value]
}

// Len returns the node's leaf-count: the number of descendants with no
// children. A leaf's own Len is 0.
func (t *Tree) Len() int {
	return t.leafCount
}

// ValuesOnLevel enumerates the values of every descendant (including the
// receiver) at the given depth, where depth is measured from this tree's
// own root (Level 0 is the root itself).
func (t *Tree) ValuesOnLevel(level int) []string {
	var values []string
	for _, node := range t.covered {
		if node.Level == level {
			values = append(values, node.Value)
		}
	}
	return values
}

// NodesOnLevel is ValuesOnLevel's node-returning counterpart, used by
// Datafly's initial bucketing, which needs the nodes themselves (to read
// their Len and Value), not just their values.
func (t *Tree) NodesOnLevel(level int) []*Tree {
	var nodes []*Tree
	for _, node := range t.covered {
		if node.Level == level {
			nodes = append(nodes, node)
		}
	}
	return nodes
}

// LeafValues enumerates the values of every leaf in this subtree.
func (t *Tree) LeafValues() []string {
	if len(t.Children) == 0 {
		return []string{t.Value}
	}
	var values []string
	for _, node := range t.covered {
		if len(node.Children) == 0 {
			values = append(values, node.Value)
		}
	}
	return values
}

// Parent returns the direct parent, or nil at the root.
func (t *Tree) Parent() *Tree {
	if len(t.Ancestors) == 0 {
		return nil
	}
	return t.Ancestors[0]
}

// IsLeaf reports whether this node has no children.
func (t *Tree) IsLeaf() bool {
	return len(t.Children) == 0
}
