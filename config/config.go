package config

import (
	"context"
	"fmt"

	"github.com/majkutK-unitn/anonymization-module/attribute"
	"github.com/majkutK-unitn/anonymization-module/backend"
	"github.com/majkutK-unitn/anonymization-module/gentree"
	"github.com/majkutK-unitn/anonymization-module/numrange"
)

// Config is the resolved, immutable run configuration the algorithms and
// the driver consume. Unlike RawConfig it carries no file-path fields:
// every hierarchy has been loaded into a gentree.Tree and every numeric
// range's bounds have been queried from the backend.
type Config struct {
	K int

	// QIDNames is the ordered list of QID field names, preserved from
	// RawConfig.QIDs so tie-breaking stays deterministic.
	QIDNames []string

	SensitiveAttrs []string

	Kinds map[string]QIDType

	// Trees holds the resolved hierarchy for every hierarchical QID.
	Trees map[string]*gentree.Tree

	// Ranges holds the resolved whole-dataset bounds for every
	// numerical/date/ip QID.
	Ranges map[string]*numrange.Range

	DataflyInitLevel   map[string]int
	DataflyNumOfBuckets map[string]int

	// IPMaskBits holds the per-QID ip_mask_bits override for every ip
	// QID; zero means "use attribute's default".
	IPMaskBits map[string]int

	DatasetSize int
}

// ipv4AddressSpace spans the full 32-bit IPv4 address space: 0.0.0.0 to
// 255.255.255.255. An ip QID's root generalization always starts here,
// never at the backend's observed min/max of the field, which would be a
// tiny sliver of the address space for any real dataset and would blow
// out NormalizedWidth far past 1 on the very first Mondrian split choice.
var ipv4AddressSpace = numrange.New(0, 1<<32-1)

// NewInitialAttribute builds the unsplit, whole-dataset Attribute for the
// named QID, from this Config's resolved metadata.
func (c *Config) NewInitialAttribute(name string) (attribute.Attribute, error) {
	switch c.Kinds[name] {
	case TypeHierarchical:
		tree, ok := c.Trees[name]
		if !ok {
			return nil, fmt.Errorf("config: no resolved hierarchy for qid %q", name)
		}
		return attribute.NewHierarchical(name, tree), nil
	case TypeNumerical:
		r, ok := c.Ranges[name]
		if !ok {
			return nil, fmt.Errorf("config: no resolved range for qid %q", name)
		}
		return attribute.NewIntRange(name, r), nil
	case TypeDate:
		r, ok := c.Ranges[name]
		if !ok {
			return nil, fmt.Errorf("config: no resolved range for qid %q", name)
		}
		return attribute.NewDateRange(name, r), nil
	case TypeIP:
		r, ok := c.Ranges[name]
		if !ok {
			return nil, fmt.Errorf("config: no resolved range for qid %q", name)
		}
		return attribute.NewIPRange(name, r, c.IPMaskBits[name]), nil
	default:
		return nil, fmt.Errorf("config: qid %q has unknown type %q", name, c.Kinds[name])
	}
}

// Resolve turns a RawConfig into a Config, loading every inline or
// external hierarchy and querying the backend for every numeric QID's
// whole-dataset min/max and the dataset's total record count. Resolve is
// the only place in the core that is allowed to see a Backend at
// configuration time; the algorithms themselves only ever see
// already-built Attribute values.
func Resolve(ctx context.Context, raw RawConfig, be backend.Backend) (*Config, error) {
	if raw.K < 2 {
		return nil, fmt.Errorf("config: k must be >= 2, got %d", raw.K)
	}
	if len(raw.QIDs) == 0 {
		return nil, fmt.Errorf("config: at least one qid is required")
	}

	cfg := &Config{
		K:                   raw.K,
		QIDNames:            make([]string, 0, len(raw.QIDs)),
		SensitiveAttrs:      append([]string(nil), raw.SensitiveAttributes...),
		Kinds:               make(map[string]QIDType, len(raw.QIDs)),
		Trees:               make(map[string]*gentree.Tree),
		Ranges:              make(map[string]*numrange.Range),
		DataflyInitLevel:    make(map[string]int, len(raw.QIDs)),
		DataflyNumOfBuckets: make(map[string]int, len(raw.QIDs)),
		IPMaskBits:          make(map[string]int, len(raw.QIDs)),
	}

	for _, q := range raw.QIDs {
		if q.Name == "" {
			return nil, fmt.Errorf("config: qid entry missing a name")
		}
		cfg.QIDNames = append(cfg.QIDNames, q.Name)
		cfg.Kinds[q.Name] = q.Type
		cfg.DataflyInitLevel[q.Name] = q.DataflyInitLevel
		cfg.DataflyNumOfBuckets[q.Name] = q.DataflyNumOfBuckets

		switch q.Type {
		case TypeHierarchical:
			tree, err := resolveHierarchy(q)
			if err != nil {
				return nil, fmt.Errorf("config: qid %q: %w", q.Name, err)
			}
			cfg.Trees[q.Name] = tree

		case TypeNumerical, TypeDate:
			lo, hi, err := be.AttributeMinMax(ctx, q.Name, nil)
			if err != nil {
				return nil, fmt.Errorf("config: qid %q: resolving bounds: %w", q.Name, err)
			}
			cfg.Ranges[q.Name] = numrange.New(lo, hi)

		case TypeIP:
			// The root generalization for an ip QID is always the whole
			// 32-bit address space, never the backend's observed min/max
			// of the field (see ipv4AddressSpace's doc comment).
			if q.IPMaskBits < 0 || q.IPMaskBits > 31 {
				return nil, fmt.Errorf("config: qid %q: ip_mask_bits must be in 0..31, got %d", q.Name, q.IPMaskBits)
			}
			cfg.Ranges[q.Name] = ipv4AddressSpace
			cfg.IPMaskBits[q.Name] = q.IPMaskBits

		default:
			return nil, fmt.Errorf("config: qid %q has unknown type %q", q.Name, q.Type)
		}
	}

	size, err := be.DocumentCount(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("config: resolving dataset size: %w", err)
	}
	cfg.DatasetSize = size

	return cfg, nil
}

// resolveHierarchy loads the gentree.Tree for one hierarchical QID, from
// either its inline Tree or its external HierarchyFile; the two are
// mutually exclusive.
func resolveHierarchy(q QIDRaw) (*gentree.Tree, error) {
	switch {
	case q.Tree != nil && q.HierarchyFile != "":
		return nil, fmt.Errorf("tree and hierarchy_file are mutually exclusive")
	case q.Tree != nil:
		return gentree.Build(*q.Tree)
	case q.HierarchyFile != "":
		return LoadHierarchyFile(q.HierarchyFile)
	default:
		return nil, fmt.Errorf("hierarchical qid requires either tree or hierarchy_file")
	}
}
