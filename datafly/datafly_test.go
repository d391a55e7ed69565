package datafly_test

import (
	"context"
	"testing"

	"github.com/majkutK-unitn/anonymization-module/backend/backendtest"
	"github.com/majkutK-unitn/anonymization-module/config"
	"github.com/majkutK-unitn/anonymization-module/datafly"
	"github.com/majkutK-unitn/anonymization-module/gentree"
	"github.com/majkutK-unitn/anonymization-module/partition"
)

func numericRecords() []backendtest.Record {
	ages := []int{20, 22, 25, 28, 30, 33, 40, 41, 45, 50, 55, 60}
	recs := make([]backendtest.Record, len(ages))
	for i, age := range ages {
		recs[i] = backendtest.Record{
			Numeric:   map[string]int{"age": age},
			Sensitive: map[string]string{"diagnosis": "flu"},
		}
	}
	return recs
}

func jobTreeSpec() gentree.Spec {
	return gentree.Spec{
		Value: "*",
		Children: []gentree.Spec{
			{Value: "X", Children: []gentree.Spec{{Value: "X1"}, {Value: "X2"}}},
			{Value: "Y", Children: []gentree.Spec{
				{Value: "Y1", Children: []gentree.Spec{{Value: "Y1a"}, {Value: "Y1b"}}},
				{Value: "Y2"},
			}},
		},
	}
}

func categoricalRecords() []backendtest.Record {
	values := []string{"X1", "X1", "X2", "X2", "Y1a", "Y1a", "Y1b", "Y1b", "Y2", "Y2", "Y2", "X1"}
	recs := make([]backendtest.Record, len(values))
	for i, v := range values {
		recs[i] = backendtest.Record{
			Categorical: map[string]string{"job": v},
			Sensitive:   map[string]string{"diagnosis": "flu"},
		}
	}
	return recs
}

func TestRunNumericBucketsProduceKAnonymousPartitions(t *testing.T) {
	recs := numericRecords()
	be := &backendtest.Fake{Records: recs}

	raw := config.RawConfig{
		K: 4,
		QIDs: []config.QIDRaw{
			{Name: "age", Type: config.TypeNumerical, DataflyNumOfBuckets: 6},
		},
		SensitiveAttributes: []string{"diagnosis"},
	}
	cfg, err := config.Resolve(context.Background(), raw, be)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	result, err := datafly.Run(context.Background(), be, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	total := 0
	suppressed := 0
	for _, p := range result.Partitions {
		total += p.Count
		if p.Count < cfg.K {
			suppressed += p.Count
		}
	}
	if total != len(recs) {
		t.Errorf("final partitions account for %d records, want %d", total, len(recs))
	}
	// The loop's exit guard is sum(count for count<k) <= k, not that
	// every partition individually reaches k.
	if suppressed > cfg.K {
		t.Errorf("suppressed mass %d exceeds k=%d after the loop exited", suppressed, cfg.K)
	}
	if result.NCP < 0 || result.NCP > 100 {
		t.Errorf("NCP = %v, want a value in [0,100]", result.NCP)
	}
}

func TestRunHierarchicalInitialLevelProducesKAnonymousPartitions(t *testing.T) {
	recs := categoricalRecords()
	be := &backendtest.Fake{Records: recs}
	spec := jobTreeSpec()

	raw := config.RawConfig{
		K: 4,
		QIDs: []config.QIDRaw{
			{Name: "job", Type: config.TypeHierarchical, Tree: &spec, DataflyInitLevel: 2},
		},
	}

	cfg, err := config.Resolve(context.Background(), raw, be)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	result, err := datafly.Run(context.Background(), be, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	total := 0
	for _, p := range result.Partitions {
		total += p.Count
	}
	if total != len(recs) {
		t.Errorf("final partitions account for %d records, want %d", total, len(recs))
	}

	suppressed := 0
	for _, p := range result.Partitions {
		if p.Count < cfg.K {
			suppressed += p.Count
		}
	}
	if suppressed > cfg.K {
		t.Errorf("suppressed mass %d exceeds k=%d after the loop exited", suppressed, cfg.K)
	}
}

func TestRunClosesOutQIDsWithoutInitialBucketing(t *testing.T) {
	recs := numericRecords()
	be := &backendtest.Fake{Records: recs}

	raw := config.RawConfig{
		K: 4,
		QIDs: []config.QIDRaw{
			{Name: "age", Type: config.TypeNumerical}, // num_of_buckets=0: never bucketed up front
		},
	}
	cfg, err := config.Resolve(context.Background(), raw, be)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	result, err := datafly.Run(context.Background(), be, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// With no initial bucketing, closeOut's root generalization must
	// collapse everything into a single partition spanning the whole
	// dataset (the only way a QID absent from every initial partition
	// is represented once the loop never ran).
	if len(result.Partitions) != 1 {
		t.Fatalf("len(Partitions) = %d, want 1 when the only qid has no initial bucketing", len(result.Partitions))
	}
	if result.Partitions[0].Count != len(recs) {
		t.Errorf("partition count = %d, want %d", result.Partitions[0].Count, len(recs))
	}
}

// ipRecords gives four records clustered at 10.0.0.1-10.0.0.4 (as the
// uint32 IPv4 addresses 167772161-167772164), for exercising the ip QID
// type end to end.
func ipRecords() []backendtest.Record {
	ips := []int{167772161, 167772162, 167772163, 167772164}
	recs := make([]backendtest.Record, len(ips))
	for i, ip := range ips {
		recs[i] = backendtest.Record{Numeric: map[string]int{"client_ip": ip}}
	}
	return recs
}

// TestRunIPQIDClosedOutAtRootStaysWithinNormalizedWidthBound guards
// against a config.Resolve regression where an ip QID's root range was
// built from the backend's observed min/max of the field instead of the
// full 32-bit address space: NCP's per-partition NormalizedWidth call
// would then divide by a near-zero root width and land far outside the
// [0,100] bound, even though Datafly itself never
// tries to bucket or split an ip QID (num_of_buckets has no ip case in
// initialChoices, so it is only ever closed out at its root).
func TestRunIPQIDClosedOutAtRootStaysWithinNormalizedWidthBound(t *testing.T) {
	recs := ipRecords()
	be := &backendtest.Fake{Records: recs}

	raw := config.RawConfig{
		K:    2,
		QIDs: []config.QIDRaw{{Name: "client_ip", Type: config.TypeIP}}, // no bucketing: closed out at the root
	}
	cfg, err := config.Resolve(context.Background(), raw, be)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	result, err := datafly.Run(context.Background(), be, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(result.Partitions) != 1 {
		t.Fatalf("len(Partitions) = %d, want 1 when the only qid has no initial bucketing", len(result.Partitions))
	}
	if result.Partitions[0].Count != len(recs) {
		t.Errorf("partition count = %d, want %d", result.Partitions[0].Count, len(recs))
	}
	if result.NCP < 99.999 || result.NCP > 100.001 {
		t.Errorf("NCP = %v, want ~100 (every qid at its root generalization)", result.NCP)
	}
}

func TestRunPartitionsAreDisjoint(t *testing.T) {
	recs := numericRecords()
	be := &backendtest.Fake{Records: recs}

	raw := config.RawConfig{
		K: 4,
		QIDs: []config.QIDRaw{
			{Name: "age", Type: config.TypeNumerical, DataflyNumOfBuckets: 6},
		},
	}
	cfg, err := config.Resolve(context.Background(), raw, be)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	result, err := datafly.Run(context.Background(), be, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	partition.SortBySignature(result.Partitions, cfg.QIDNames)
	seen := make(map[string]bool)
	for _, p := range result.Partitions {
		sig := p.Signature(cfg.QIDNames)
		if seen[sig] {
			t.Errorf("duplicate partition signature %q after merge/dedup", sig)
		}
		seen[sig] = true
	}
}
