package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/majkutK-unitn/anonymization-module/gentree"
	"gopkg.in/yaml.v3"
)

// LoadHierarchyFile builds a generalization hierarchy from an external
// file. Two formats are accepted, distinguished by extension:
//
//   - .yaml/.yml: a single gentree.Spec document, decoded directly with
//     gopkg.in/yaml.v3 (kept independent of the run config's own Viper
//     loading, so a hierarchy file can be authored and versioned on its
//     own).
//   - anything else: the semicolon-delimited, leaf-to-root-per-line
//     taxonomy format.
func LoadHierarchyFile(path string) (*gentree.Tree, error) {
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		return loadYAMLHierarchy(path)
	}
	return loadTextHierarchy(path)
}

func loadYAMLHierarchy(path string) (*gentree.Tree, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("hierarchy: reading %s: %w", path, err)
	}
	var spec gentree.Spec
	if err := yaml.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("hierarchy: decoding %s: %w", path, err)
	}
	return gentree.Build(spec)
}

// specNode is a mutable, pointer-linked counterpart of gentree.Spec used
// only while merging the taxonomy file's per-line paths; it is converted
// to an immutable gentree.Spec once every line has been folded in.
type specNode struct {
	value    string
	children []*specNode
}

// loadTextHierarchy parses the semicolon-delimited format: each
// non-blank line lists one root-to-leaf path as leaf;...;root (i.e. in
// reverse, nearest-to-the-value-first order), and lines are folded
// together into a single tree: a value that already exists anywhere in
// the tree is reused rather than added again.
func loadTextHierarchy(path string) (*gentree.Tree, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("hierarchy: opening %s: %w", path, err)
	}
	defer f.Close()

	root := &specNode{value: "*"}
	byValue := map[string]*specNode{"*": root}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}

		items := strings.Split(line, ";")
		for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
			items[i], items[j] = items[j], items[i]
		}

		for i := 1; i < len(items); i++ {
			value := items[i]
			if _, exists := byValue[value]; exists {
				continue
			}
			parent, ok := byValue[items[i-1]]
			if !ok {
				return nil, fmt.Errorf("hierarchy: %s: line %q references unknown parent %q", path, line, items[i-1])
			}
			node := &specNode{value: value}
			parent.children = append(parent.children, node)
			byValue[value] = node
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("hierarchy: reading %s: %w", path, err)
	}

	return gentree.Build(toSpec(root))
}

func toSpec(n *specNode) gentree.Spec {
	spec := gentree.Spec{Value: n.value}
	for _, c := range n.children {
		spec.Children = append(spec.Children, toSpec(c))
	}
	return spec
}
