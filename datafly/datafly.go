// Package datafly implements greedy full-domain generalization: each
// step generalizes one QID across every partition at once (numerical
// ranges merge pairwise; hierarchical values at the deepest current
// tree level move up to their parent while shallower ones wait), until
// the total count below k drops to k or fewer.
package datafly

import (
	"context"
	"fmt"
	"sort"

	"github.com/majkutK-unitn/anonymization-module/attribute"
	"github.com/majkutK-unitn/anonymization-module/backend"
	"github.com/majkutK-unitn/anonymization-module/config"
	"github.com/majkutK-unitn/anonymization-module/ncp"
	"github.com/majkutK-unitn/anonymization-module/numrange"
	"github.com/majkutK-unitn/anonymization-module/partition"
)

// Result is the outcome of a full Datafly run.
type Result struct {
	Partitions []*partition.Partition
	NCP        float64
}

// Run builds the initial bucketed partitions and repeatedly generalizes
// the QID with the most distinct generalized values until the number of
// records stuck below k no longer exceeds k itself, then closes out any
// QID that was never bucketed.
func Run(ctx context.Context, be backend.Backend, cfg *config.Config) (*Result, error) {
	partitions, err := generateInitialPartitions(ctx, be, cfg)
	if err != nil {
		return nil, fmt.Errorf("datafly: %w", err)
	}

	for {
		suppressed := 0
		for _, p := range partitions {
			if p.Count < cfg.K {
				suppressed += p.Count
			}
		}
		if suppressed <= cfg.K {
			break
		}

		qidName, ok := chooseMostDistinctQID(partitions, cfg)
		if !ok {
			return nil, fmt.Errorf("datafly: no qid left to generalize but %d records remain below k=%d", suppressed, cfg.K)
		}

		partitions, err = generalize(partitions, qidName, cfg)
		if err != nil {
			return nil, fmt.Errorf("datafly: generalizing qid %q: %w", qidName, err)
		}
	}

	partitions, err = closeOut(partitions, cfg)
	if err != nil {
		return nil, fmt.Errorf("datafly: %w", err)
	}

	total := 0
	for _, p := range partitions {
		total += p.Count
	}
	if total != cfg.DatasetSize {
		return nil, fmt.Errorf("datafly: final partitions account for %d records, want %d", total, cfg.DatasetSize)
	}

	score, err := ncp.Compute(partitions, cfg.QIDNames, cfg.DatasetSize)
	if err != nil {
		return nil, fmt.Errorf("datafly: computing NCP: %w", err)
	}

	return &Result{Partitions: partitions, NCP: score}, nil
}

// generateInitialPartitions forms the Cartesian product of each QID's
// configured initial bucketing (numeric/date) or tree level
// (hierarchical), drops combinations with a zero backend count, and
// leaves any QID with no initial bucketing unset; closeOut adds it back
// at its root generalization once the loop is done.
func generateInitialPartitions(ctx context.Context, be backend.Backend, cfg *config.Config) ([]*partition.Partition, error) {
	combos := []map[string]attribute.Attribute{{}}

	for _, name := range cfg.QIDNames {
		choices, err := initialChoices(ctx, be, cfg, name)
		if err != nil {
			return nil, err
		}
		if len(choices) == 0 {
			continue
		}

		next := make([]map[string]attribute.Attribute, 0, len(combos)*len(choices))
		for _, combo := range combos {
			for _, attr := range choices {
				nc := make(map[string]attribute.Attribute, len(combo)+1)
				for k, v := range combo {
					nc[k] = v
				}
				nc[name] = attr
				next = append(next, nc)
			}
		}
		combos = next
	}

	var partitions []*partition.Partition
	for _, combo := range combos {
		count, err := be.DocumentCount(ctx, combo)
		if err != nil {
			return nil, fmt.Errorf("counting initial combination: %w", err)
		}
		if count == 0 {
			continue
		}
		partitions = append(partitions, partition.New(count, combo))
	}
	if len(partitions) == 0 {
		return nil, fmt.Errorf("no initial partition has a non-zero backend count")
	}
	return partitions, nil
}

// initialChoices returns the candidate Attributes one QID contributes to
// the initial Cartesian product, or nil when the QID has no initial
// bucketing configured (num_of_buckets/initial_level of zero).
func initialChoices(ctx context.Context, be backend.Backend, cfg *config.Config, name string) ([]attribute.Attribute, error) {
	switch cfg.Kinds[name] {
	case config.TypeHierarchical:
		level := cfg.DataflyInitLevel[name]
		if level <= 0 {
			return nil, nil
		}
		tree := cfg.Trees[name]
		nodes := tree.NodesOnLevel(level)
		if len(nodes) == 0 {
			return nil, fmt.Errorf("qid %q: no tree nodes at initial level %d", name, level)
		}
		sort.Slice(nodes, func(i, j int) bool { return nodes[i].Value < nodes[j].Value })

		choices := make([]attribute.Attribute, len(nodes))
		for i, n := range nodes {
			choices[i] = attribute.NewHierarchicalAt(name, tree, n)
		}
		return choices, nil

	case config.TypeNumerical, config.TypeDate:
		buckets := cfg.DataflyNumOfBuckets[name]
		if buckets <= 0 {
			return nil, nil
		}
		ranges, err := be.UniformBuckets(ctx, name, buckets)
		if err != nil {
			return nil, fmt.Errorf("qid %q: uniform buckets: %w", name, err)
		}

		choices := make([]attribute.Attribute, 0, len(ranges))
		for _, r := range ranges {
			attr, err := rangeAttributeAt(cfg, name, r)
			if err != nil {
				return nil, err
			}
			choices = append(choices, attr)
		}
		return choices, nil

	default:
		return nil, nil
	}
}

func rangeAttributeAt(cfg *config.Config, name string, r *numrange.Range) (attribute.Attribute, error) {
	root, err := cfg.NewInitialAttribute(name)
	if err != nil {
		return nil, err
	}
	rangeAttr, ok := root.(attribute.RangeAttribute)
	if !ok {
		return nil, fmt.Errorf("qid %q's root attribute does not support range refresh", name)
	}
	return rangeAttr.Refresh(r.Min, r.Max), nil
}

// chooseMostDistinctQID picks, among the QIDs already present in the
// partitions and still generalizable further, the one with the largest
// number of distinct generalized values, breaking ties by cfg.QIDNames
// order.
func chooseMostDistinctQID(partitions []*partition.Partition, cfg *config.Config) (string, bool) {
	if len(partitions) == 0 {
		return "", false
	}

	present := make(map[string]bool, len(partitions[0].Attributes))
	for name := range partitions[0].Attributes {
		present[name] = true
	}

	best := ""
	bestDistinct := -1
	for _, name := range cfg.QIDNames {
		if !present[name] || !canGeneralizeFurther(partitions, name, cfg) {
			continue
		}

		distinct := make(map[string]bool)
		for _, p := range partitions {
			if attr, ok := p.Attributes[name]; ok {
				distinct[attr.GenValue()] = true
			}
		}
		if len(distinct) > bestDistinct {
			bestDistinct = len(distinct)
			best = name
		}
	}
	if best == "" {
		return "", false
	}
	return best, true
}

// canGeneralizeFurther reports whether generalizing this QID one more
// step could still change anything: a hierarchical QID with at least one
// partition not yet at the root, or a numerical/date QID with at least two
// distinct generalized values left to merge.
func canGeneralizeFurther(partitions []*partition.Partition, name string, cfg *config.Config) bool {
	if cfg.Kinds[name] == config.TypeHierarchical {
		tree := cfg.Trees[name]
		for _, p := range partitions {
			attr, ok := p.Attributes[name]
			if !ok {
				continue
			}
			if node := tree.Node(attr.GenValue()); node != nil && node.Level > 0 {
				return true
			}
		}
		return false
	}

	distinct := make(map[string]bool)
	for _, p := range partitions {
		if attr, ok := p.Attributes[name]; ok {
			distinct[attr.GenValue()] = true
		}
	}
	return len(distinct) > 1
}

func generalize(partitions []*partition.Partition, name string, cfg *config.Config) ([]*partition.Partition, error) {
	switch cfg.Kinds[name] {
	case config.TypeHierarchical:
		return generalizeHierarchical(partitions, name, cfg)
	case config.TypeNumerical, config.TypeDate:
		return generalizeNumerical(partitions, name, cfg)
	default:
		return nil, fmt.Errorf("qid %q has a kind that datafly cannot generalize", name)
	}
}

// generalizeNumerical sorts the distinct range values ascending and
// merges adjacent pairs at indices 2i/2i+1 into [min_i, max_{i+1}]; an
// odd value out passes through unchanged.
func generalizeNumerical(partitions []*partition.Partition, name string, cfg *config.Config) ([]*partition.Partition, error) {
	seen := make(map[string]attribute.Bounder)
	for _, p := range partitions {
		attr, ok := p.Attributes[name]
		if !ok {
			continue
		}
		b, ok := attr.(attribute.Bounder)
		if !ok {
			return nil, fmt.Errorf("qid %q's attribute does not expose bounds", name)
		}
		seen[attr.GenValue()] = b
	}

	values := make([]attribute.Bounder, 0, len(seen))
	for _, b := range seen {
		values = append(values, b)
	}
	sort.Slice(values, func(i, j int) bool {
		lo1, _ := values[i].Bounds()
		lo2, _ := values[j].Bounds()
		return lo1 < lo2
	})

	merged := make(map[string]attribute.Attribute, len(values))
	for i := 0; i+1 < len(values); i += 2 {
		lo, _ := values[i].Bounds()
		_, hi := values[i+1].Bounds()

		rangeAttr, ok := values[i].(attribute.RangeAttribute)
		if !ok {
			return nil, fmt.Errorf("qid %q's attribute cannot be refreshed into a merged range", name)
		}
		mergedAttr := rangeAttr.Refresh(lo, hi)
		merged[values[i].GenValue()] = mergedAttr
		merged[values[i+1].GenValue()] = mergedAttr
	}
	if len(values)%2 == 1 {
		last := values[len(values)-1]
		merged[last.GenValue()] = last
	}

	next := make([]*partition.Partition, 0, len(partitions))
	for _, p := range partitions {
		attr, ok := p.Attributes[name]
		if !ok {
			next = append(next, p)
			continue
		}
		next = append(next, p.WithAttribute(name, merged[attr.GenValue()]))
	}

	return mergeDuplicates(next, cfg.QIDNames), nil
}

// generalizeHierarchical generalizes every partition whose current node
// sits at the maximum current tree level for this QID to its direct
// parent; partitions already shallower are left alone.
func generalizeHierarchical(partitions []*partition.Partition, name string, cfg *config.Config) ([]*partition.Partition, error) {
	tree := cfg.Trees[name]

	maxLevel := -1
	for _, p := range partitions {
		attr, ok := p.Attributes[name]
		if !ok {
			continue
		}
		node := tree.Node(attr.GenValue())
		if node == nil {
			return nil, fmt.Errorf("qid %q: value %q not found in its hierarchy", name, attr.GenValue())
		}
		if node.Level > maxLevel {
			maxLevel = node.Level
		}
	}

	next := make([]*partition.Partition, 0, len(partitions))
	for _, p := range partitions {
		attr, ok := p.Attributes[name]
		if !ok {
			next = append(next, p)
			continue
		}

		node := tree.Node(attr.GenValue())
		if node.Level != maxLevel {
			next = append(next, p)
			continue
		}

		parent := node.Parent()
		if parent == nil {
			next = append(next, p)
			continue
		}
		next = append(next, p.WithAttribute(name, attribute.NewHierarchicalAt(name, tree, parent)))
	}

	return mergeDuplicates(next, cfg.QIDNames), nil
}

// mergeDuplicates collapses partitions that became identical after a
// generalization step, summing their counts, and otherwise preserves
// first-seen order.
func mergeDuplicates(partitions []*partition.Partition, qidOrder []string) []*partition.Partition {
	bySig := make(map[string]*partition.Partition, len(partitions))
	order := make([]string, 0, len(partitions))

	for _, p := range partitions {
		sig := p.Signature(qidOrder)
		if existing, ok := bySig[sig]; ok {
			existing.Count += p.Count
			continue
		}
		clone := p.Clone()
		bySig[sig] = clone
		order = append(order, sig)
	}

	merged := make([]*partition.Partition, 0, len(order))
	for _, sig := range order {
		merged = append(merged, bySig[sig])
	}
	return merged
}

// closeOut adds the root generalization for every QID that never
// received an initial bucketing (num_of_buckets/initial_level of zero),
// to every surviving partition, before the run is published.
func closeOut(partitions []*partition.Partition, cfg *config.Config) ([]*partition.Partition, error) {
	if len(partitions) == 0 {
		return partitions, nil
	}

	present := make(map[string]bool, len(partitions[0].Attributes))
	for name := range partitions[0].Attributes {
		present[name] = true
	}

	var missing []string
	for _, name := range cfg.QIDNames {
		if !present[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return partitions, nil
	}

	next := make([]*partition.Partition, len(partitions))
	for i, p := range partitions {
		cur := p
		for _, name := range missing {
			root, err := cfg.NewInitialAttribute(name)
			if err != nil {
				return nil, fmt.Errorf("closing out qid %q: %w", name, err)
			}
			cur = cur.WithAttribute(name, root)
		}
		next[i] = cur
	}
	return next, nil
}
