// Package backendtest provides a fixed-slice, in-memory Backend used
// only by the algorithm packages' own unit tests, so Mondrian and
// Datafly can be exercised without any real storage. It is never one of
// the driver's selectable backends.
package backendtest

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/majkutK-unitn/anonymization-module/attribute"
	"github.com/majkutK-unitn/anonymization-module/numrange"
	"github.com/majkutK-unitn/anonymization-module/partition"
)

// Record is one test fixture row.
type Record struct {
	Categorical map[string]string
	Numeric     map[string]int
	Sensitive   map[string]string
}

// Fake is an in-memory Backend over a fixed slice of Records, set up by
// the test itself rather than loaded from any file.
type Fake struct {
	Records []Record

	// Pushed accumulates every call to PushPartitions, so tests can
	// assert on what the algorithm under test ultimately produced.
	Pushed [][]*partition.Partition
}

func matches(rec Record, attrs map[string]attribute.Attribute) bool {
	for name, attr := range attrs {
		if b, ok := attr.(attribute.Bounder); ok {
			v, present := rec.Numeric[name]
			if !present {
				return false
			}
			lo, hi := b.Bounds()
			if v < lo || v > hi {
				return false
			}
			continue
		}
		if lv, ok := attr.(attribute.LeafValuer); ok {
			v, present := rec.Categorical[name]
			if !present {
				return false
			}
			found := false
			for _, l := range lv.LeafValues() {
				if l == v {
					found = true
					break
				}
			}
			if !found {
				return false
			}
			continue
		}
	}
	return true
}

func (f *Fake) DocumentCount(ctx context.Context, attrs map[string]attribute.Attribute) (int, error) {
	if len(attrs) == 0 {
		return len(f.Records), nil
	}
	n := 0
	for _, r := range f.Records {
		if matches(r, attrs) {
			n++
		}
	}
	return n, nil
}

func (f *Fake) AttributeMinMax(ctx context.Context, name string, attrs map[string]attribute.Attribute) (int, int, error) {
	lo, hi := math.MaxInt, math.MinInt
	found := false
	for _, r := range f.Records {
		if len(attrs) > 0 && !matches(r, attrs) {
			continue
		}
		v, ok := r.Numeric[name]
		if !ok {
			continue
		}
		found = true
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if !found {
		return 0, 0, fmt.Errorf("backendtest: no records carry numeric field %q", name)
	}
	return lo, hi, nil
}

func (f *Fake) SplitPoint(ctx context.Context, name string, p *partition.Partition) (int, int, bool, error) {
	var values []int
	for _, r := range f.Records {
		if !matches(r, p.Attributes) {
			continue
		}
		if v, ok := r.Numeric[name]; ok {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return 0, 0, false, nil
	}
	sort.Ints(values)

	median := medianOf(values)
	maxValue := values[len(values)-1]

	if median == maxValue {
		prev, ok := previousUnique(values, maxValue)
		if !ok {
			return 0, 0, false, nil
		}
		return prev, median, true, nil
	}
	next, ok := nextUnique(values, median)
	if !ok {
		return 0, 0, false, nil
	}
	return median, next, true, nil
}

// medianOf returns the lower median, always an actual value from the
// set, matching the two real backends.
func medianOf(sorted []int) int {
	return sorted[(len(sorted)-1)/2]
}

func nextUnique(sorted []int, v int) (int, bool) {
	for _, x := range sorted {
		if x > v {
			return x, true
		}
	}
	return 0, false
}

func previousUnique(sorted []int, v int) (int, bool) {
	for i := len(sorted) - 1; i >= 0; i-- {
		if sorted[i] < v {
			return sorted[i], true
		}
	}
	return 0, false
}

func (f *Fake) UniformBuckets(ctx context.Context, name string, numBuckets int) ([]*numrange.Range, error) {
	if numBuckets <= 0 {
		return nil, fmt.Errorf("backendtest: num buckets must be positive, got %d", numBuckets)
	}
	var values []int
	for _, r := range f.Records {
		if v, ok := r.Numeric[name]; ok {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("backendtest: no records carry numeric field %q", name)
	}
	sort.Ints(values)
	min := values[0]

	cutSet := make(map[int]struct{}, numBuckets)
	for i := 1; i <= numBuckets; i++ {
		percentile := float64(i) / float64(numBuckets)
		idx := int(percentile*float64(len(values)-1) + 0.5)
		if idx >= len(values) {
			idx = len(values) - 1
		}
		cutSet[values[idx]] = struct{}{}
	}

	cuts := make([]int, 0, len(cutSet))
	for c := range cutSet {
		cuts = append(cuts, c)
	}
	sort.Ints(cuts)

	ranges := make([]*numrange.Range, 0, len(cuts))
	for i, bound := range cuts {
		switch {
		case i == 0:
			ranges = append(ranges, numrange.New(min, bound))
		case cuts[i-1] == bound:
			ranges = append(ranges, numrange.New(bound, bound))
		default:
			ranges = append(ranges, numrange.New(cuts[i-1]+1, bound))
		}
	}
	return ranges, nil
}

func (f *Fake) PushPartitions(ctx context.Context, partitions []*partition.Partition) error {
	f.Pushed = append(f.Pushed, partitions)
	return nil
}
