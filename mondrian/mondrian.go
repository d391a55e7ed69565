// Package mondrian implements top-down, multidimensional k-anonymous
// partitioning: starting from the whole dataset as a single partition,
// repeatedly pick the quasi-identifier with the largest normalized
// width and split the partition along it, until no attribute can be
// split any further without dropping an equivalence class below k.
package mondrian

import (
	"context"
	"fmt"

	"github.com/majkutK-unitn/anonymization-module/attribute"
	"github.com/majkutK-unitn/anonymization-module/backend"
	"github.com/majkutK-unitn/anonymization-module/config"
	"github.com/majkutK-unitn/anonymization-module/ncp"
	"github.com/majkutK-unitn/anonymization-module/partition"
)

// Result is the outcome of a full Mondrian run.
type Result struct {
	Partitions []*partition.Partition
	NCP        float64
}

// Run builds the whole-dataset partition from cfg and recursively
// anonymizes it against be, per cfg.K.
func Run(ctx context.Context, be backend.Backend, cfg *config.Config) (*Result, error) {
	attrs := make(map[string]attribute.Attribute, len(cfg.QIDNames))
	for _, name := range cfg.QIDNames {
		attr, err := cfg.NewInitialAttribute(name)
		if err != nil {
			return nil, fmt.Errorf("mondrian: %w", err)
		}
		attrs[name] = attr
	}

	count, err := be.DocumentCount(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("mondrian: counting whole dataset: %w", err)
	}

	whole := partition.New(count, attrs)

	var final []*partition.Partition
	if err := anonymize(ctx, be, cfg, whole, &final); err != nil {
		return nil, err
	}

	total := 0
	for _, p := range final {
		total += p.Count
	}
	if total != whole.Count {
		return nil, fmt.Errorf("mondrian: final partitions account for %d records, want %d", total, whole.Count)
	}

	score, err := ncp.Compute(final, cfg.QIDNames, whole.Count)
	if err != nil {
		return nil, fmt.Errorf("mondrian: computing NCP: %w", err)
	}

	return &Result{Partitions: final, NCP: score}, nil
}

// checkSplittable reports whether p can be split at all, the
// recursion's base case. A partition is splittable iff it holds at
// least 2k records (both halves of any split must retain k) and at
// least one attribute still allows a split.
func checkSplittable(p *partition.Partition, k int) bool {
	if p.Count < 2*k {
		return false
	}
	for _, attr := range p.Attributes {
		if attr.SplitAllowed() {
			return true
		}
	}
	return false
}

// chooseQID picks the splittable QID with the largest normalized
// width, breaking ties by cfg.QIDNames order so the choice is
// deterministic regardless of map iteration order.
func chooseQID(p *partition.Partition, qidOrder []string) (string, error) {
	maxNormWidth := -1.0
	qidName := ""

	for _, name := range qidOrder {
		attr, ok := p.Attributes[name]
		if !ok || !attr.SplitAllowed() {
			continue
		}
		nw := attr.NormalizedWidth()
		if nw > maxNormWidth {
			maxNormWidth = nw
			qidName = name
		}
	}

	if maxNormWidth > 1 {
		return "", fmt.Errorf("mondrian: normalized width %.4f exceeds 1 choosing a qid to split", maxNormWidth)
	}
	if qidName == "" {
		return "", fmt.Errorf("mondrian: no splittable qid found")
	}
	return qidName, nil
}

func anonymize(ctx context.Context, be backend.Backend, cfg *config.Config, p *partition.Partition, final *[]*partition.Partition) error {
	if !checkSplittable(p, cfg.K) {
		*final = append(*final, p)
		return nil
	}

	qidName, err := chooseQID(p, cfg.QIDNames)
	if err != nil {
		return err
	}

	subs, refreshed, err := splitPartition(ctx, be, cfg.K, p, qidName)
	if err != nil {
		return err
	}

	if len(subs) == 0 {
		var nextAttr attribute.Attribute
		if refreshed != nil {
			nextAttr = refreshed.WithSplitAllowed(false)
		} else {
			nextAttr = p.Attributes[qidName].WithSplitAllowed(false)
		}
		return anonymize(ctx, be, cfg, p.WithAttribute(qidName, nextAttr), final)
	}

	for _, sub := range subs {
		if err := anonymize(ctx, be, cfg, sub, final); err != nil {
			return err
		}
	}
	return nil
}

// splitPartition dispatches to the numerical or discrete splitting
// strategy depending on the chosen QID's attribute capabilities.
// refreshed is non-nil only for the numerical path: the range refresh
// is kept even when the split attempt that triggered it turns out to
// be unproductive, since it tightens the range and never loosens it.
func splitPartition(ctx context.Context, be backend.Backend, k int, p *partition.Partition, qidName string) ([]*partition.Partition, attribute.RangeAttribute, error) {
	attr := p.Attributes[qidName]

	if _, ok := attr.(attribute.RangeAttribute); ok {
		return splitNumerical(ctx, be, k, p, qidName)
	}
	if _, ok := attr.(attribute.Splitter); ok {
		subs, err := splitDiscrete(ctx, be, k, p, qidName)
		return subs, nil, err
	}
	return nil, nil, fmt.Errorf("mondrian: qid %q's attribute supports neither range nor discrete splitting", qidName)
}

// splitNumerical splits a numerical or date QID along the backend's
// reported median, producing [min,splitAt] and [nextUnique,max]. Both
// halves must retain at least k records or the split is rejected.
func splitNumerical(ctx context.Context, be backend.Backend, k int, p *partition.Partition, qidName string) ([]*partition.Partition, attribute.RangeAttribute, error) {
	rangeAttr := p.Attributes[qidName].(attribute.RangeAttribute)

	lo, hi, err := be.AttributeMinMax(ctx, qidName, p.Attributes)
	if err != nil {
		return nil, nil, fmt.Errorf("mondrian: resolving bounds for qid %q: %w", qidName, err)
	}
	refreshed := rangeAttr.Refresh(lo, hi)

	splitAt, nextUnique, ok, err := be.SplitPoint(ctx, qidName, p)
	if err != nil {
		return nil, nil, fmt.Errorf("mondrian: finding split point for qid %q: %w", qidName, err)
	}
	if !ok {
		return nil, refreshed, nil
	}

	children := refreshed.SplitAt(splitAt, nextUnique)
	leftCandidate := p.WithAttribute(qidName, children[0])
	rightCandidate := p.WithAttribute(qidName, children[1])

	leftCount, err := be.DocumentCount(ctx, leftCandidate.Attributes)
	if err != nil {
		return nil, nil, fmt.Errorf("mondrian: counting left split of qid %q: %w", qidName, err)
	}
	rightCount, err := be.DocumentCount(ctx, rightCandidate.Attributes)
	if err != nil {
		return nil, nil, fmt.Errorf("mondrian: counting right split of qid %q: %w", qidName, err)
	}

	if leftCount < k || rightCount < k {
		return nil, refreshed, nil
	}

	return []*partition.Partition{
		partition.New(leftCount, leftCandidate.Attributes),
		partition.New(rightCount, rightCandidate.Attributes),
	}, refreshed, nil
}

// splitDiscrete splits a hierarchical or IP QID by descending one step
// in its generalization: one sub-partition per child value. A child
// with no records is skipped; any other child whose count would drop
// below k aborts the whole split, so a categorical split is
// all-or-nothing.
func splitDiscrete(ctx context.Context, be backend.Backend, k int, p *partition.Partition, qidName string) ([]*partition.Partition, error) {
	splitter := p.Attributes[qidName].(attribute.Splitter)

	children, err := splitter.Split()
	if err != nil {
		return nil, fmt.Errorf("mondrian: splitting qid %q: %w", qidName, err)
	}
	if len(children) == 0 {
		return nil, nil
	}

	var subs []*partition.Partition
	for _, child := range children {
		candidate := p.WithAttribute(qidName, child)
		count, err := be.DocumentCount(ctx, candidate.Attributes)
		if err != nil {
			return nil, fmt.Errorf("mondrian: counting child %q of qid %q: %w", child.GenValue(), qidName, err)
		}
		if count == 0 {
			continue
		}
		if count < k {
			return nil, nil
		}
		subs = append(subs, partition.New(count, candidate.Attributes))
	}

	total := 0
	for _, s := range subs {
		total += s.Count
	}
	if total != p.Count {
		return nil, fmt.Errorf("mondrian: sub-partitions of qid %q account for %d records, want %d", qidName, total, p.Count)
	}

	return subs, nil
}
