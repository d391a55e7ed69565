// Package memdoc implements the document-oriented Backend: the whole
// dataset is loaded into memory from a single JSON file at startup and
// results are written back to a second JSON file, guarded by a
// gofrs/flock lock, the one place in this backend where concurrent
// access across processes is a real concern, since every other method
// only ever reads the in-memory snapshot.
package memdoc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/majkutK-unitn/anonymization-module/attribute"
	"github.com/majkutK-unitn/anonymization-module/numrange"
	"github.com/majkutK-unitn/anonymization-module/partition"
)

const (
	lockTimeout    = 5 * time.Second
	lockRetryDelay = 100 * time.Millisecond
)

// record is one source row: its quasi-identifier values, split by
// representation (string for hierarchical QIDs, int for numerical,
// date and IP QIDs, which all resolve to an integer domain in the
// attribute package), plus its sensitive attribute values.
type record struct {
	UUID        string
	Categorical map[string]string
	Numeric     map[string]int
	Sensitive   map[string]string
}

// inputRow is the on-disk shape of one record in the source JSON file.
type inputRow struct {
	UUID        string            `json:"uuid"`
	Categorical map[string]string `json:"categorical"`
	Numeric     map[string]int    `json:"numeric"`
	Sensitive   map[string]string `json:"sensitive"`
}

// Store is a Backend over an in-memory snapshot of a JSON document file.
// Aggregate reads take mu.RLock so they never contend with one another;
// only PushPartitions takes the write lock (plus the cross-process file
// lock on the output path).
type Store struct {
	outputPath string
	queries    *slog.Logger

	mu      sync.RWMutex
	records []record
}

// New loads every record from inputPath. Records without an explicit
// uuid field are assigned one. Every aggregate query is logged through
// queries; pass nil to discard query logging.
func New(inputPath, outputPath string, queries *slog.Logger) (*Store, error) {
	raw, err := os.ReadFile(inputPath)
	if err != nil {
		return nil, fmt.Errorf("memdoc: reading %s: %w", inputPath, err)
	}

	var rows []inputRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("memdoc: decoding %s: %w", inputPath, err)
	}

	records := make([]record, 0, len(rows))
	for _, row := range rows {
		id := row.UUID
		if id == "" {
			id = uuid.New().String()
		}
		records = append(records, record{
			UUID:        id,
			Categorical: row.Categorical,
			Numeric:     row.Numeric,
			Sensitive:   row.Sensitive,
		})
	}

	if queries == nil {
		queries = slog.New(slog.DiscardHandler)
	}

	return &Store{outputPath: outputPath, queries: queries, records: records}, nil
}

// matches reports whether rec falls within every attribute filter in
// attrs: inside a range attribute's bounds, or under a hierarchical
// attribute's current generalized node.
func matches(rec record, attrs map[string]attribute.Attribute) bool {
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
			if !containsString(lv.LeafValues(), v) {
				return false
			}
			continue
		}
	}
	return true
}

func containsString(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

// filterSummary renders attrs compactly for query logging.
func filterSummary(attrs map[string]attribute.Attribute) string {
	if len(attrs) == 0 {
		return "<all>"
	}
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+attrs[name].GenValue())
	}
	return strings.Join(parts, " ")
}

func (s *Store) DocumentCount(ctx context.Context, attrs map[string]attribute.Attribute) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	if len(attrs) == 0 {
		n = len(s.records)
	} else {
		for _, r := range s.records {
			if matches(r, attrs) {
				n++
			}
		}
	}
	s.queries.Info("document count", "filter", filterSummary(attrs), "count", n)
	return n, nil
}

func (s *Store) AttributeMinMax(ctx context.Context, name string, attrs map[string]attribute.Attribute) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lo, hi := math.MaxInt, math.MinInt
	found := false
	for _, r := range s.records {
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
		return 0, 0, fmt.Errorf("memdoc: no records carry numeric field %q", name)
	}
	s.queries.Info("attribute min/max", "field", name, "filter", filterSummary(attrs), "min", lo, "max", hi)
	return lo, hi, nil
}

// SplitPoint finds the partition's median, then the next unique value
// past it (or, when the median coincides with the partition's maximum,
// the previous unique value paired back with the median).
func (s *Store) SplitPoint(ctx context.Context, name string, p *partition.Partition) (int, int, bool, error) {
	s.mu.RLock()
	splitAt, next, ok := s.splitPoint(name, p)
	s.mu.RUnlock()

	s.queries.Info("split point", "field", name, "filter", filterSummary(p.Attributes), "split_at", splitAt, "next_unique", next, "ok", ok)
	return splitAt, next, ok, nil
}

func (s *Store) splitPoint(name string, p *partition.Partition) (int, int, bool) {
	var values []int
	for _, r := range s.records {
		if !matches(r, p.Attributes) {
			continue
		}
		if v, ok := r.Numeric[name]; ok {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return 0, 0, false
	}
	sort.Ints(values)

	median := medianOf(values)
	maxValue := values[len(values)-1]

	if median == maxValue {
		prev, ok := previousUnique(values, maxValue)
		if !ok {
			return 0, 0, false
		}
		return prev, median, true
	}

	next, ok := nextUnique(values, median)
	if !ok {
		return 0, 0, false
	}
	return median, next, true
}

// medianOf returns the lower median, always an actual value from the
// set, so the [min, median] / [next, max] halves land on real record
// boundaries.
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

// UniformBuckets mirrors spread_attribute_into_uniform_buckets: compute
// numBuckets equally spaced percentile cut points over the whole
// dataset's domain, dedup and sort them, then stitch the gaps between
// consecutive cut points into contiguous NumRanges.
func (s *Store) UniformBuckets(ctx context.Context, name string, numBuckets int) ([]*numrange.Range, error) {
	if numBuckets <= 0 {
		return nil, fmt.Errorf("memdoc: num buckets must be positive, got %d", numBuckets)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var values []int
	for _, r := range s.records {
		if v, ok := r.Numeric[name]; ok {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("memdoc: no records carry numeric field %q", name)
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
	s.queries.Info("uniform buckets", "field", name, "requested", numBuckets, "buckets", len(ranges))
	return ranges, nil
}

// publishedValue renders one Attribute for the output document: a
// hierarchical attribute publishes as the set of leaf
// values its current node covers; a range attribute publishes as
// {gte, lte}, with a date range rendered in RFC 3339 rather than bare
// epoch integers; anything else (IPRange) falls back to its CIDR
// GenValue, since "gte/lte" has no natural reading over an address
// block.
func publishedValue(attr attribute.Attribute) interface{} {
	if lv, ok := attr.(attribute.LeafValuer); ok {
		return lv.LeafValues()
	}
	if b, ok := attr.(attribute.Bounder); ok && attr.Kind() != attribute.KindIPRange {
		lo, hi := b.Bounds()
		if attr.Kind() == attribute.KindDateRange {
			return map[string]string{
				"gte": time.Unix(int64(lo), 0).UTC().Format(time.RFC3339),
				"lte": time.Unix(int64(hi), 0).UTC().Format(time.RFC3339),
			}
		}
		return map[string]int{"gte": lo, "lte": hi}
	}
	return attr.GenValue()
}

// PushPartitions writes one output row per source record matching each
// partition: QID fields carry the partition's generalized values,
// sensitive fields are copied from the source record verbatim. The
// write is the only part of this backend that needs cross-process
// coordination, so it is the only part that takes the file lock.
func (s *Store) PushPartitions(ctx context.Context, partitions []*partition.Partition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []map[string]interface{}
	for _, p := range partitions {
		generalized := make(map[string]interface{}, len(p.Attributes))
		for name, attr := range p.Attributes {
			generalized[name] = publishedValue(attr)
		}
		for _, r := range s.records {
			if !matches(r, p.Attributes) {
				continue
			}
			row := make(map[string]interface{}, len(generalized)+len(r.Sensitive)+1)
			row["uuid"] = r.UUID
			for k, v := range generalized {
				row[k] = v
			}
			for k, v := range r.Sensitive {
				row[k] = v
			}
			out = append(out, row)
		}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("memdoc: marshaling output: %w", err)
	}

	fl := flock.New(s.outputPath + ".lock")
	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	locked, err := fl.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("memdoc: acquiring output lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("memdoc: could not acquire output lock for %s", s.outputPath)
	}
	defer func() { _ = fl.Unlock() }()

	tmp := s.outputPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("memdoc: writing temp output: %w", err)
	}
	if err := os.Rename(tmp, s.outputPath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("memdoc: renaming output: %w", err)
	}
	return nil
}
