package mondrian_test

import (
	"context"
	"testing"

	"github.com/majkutK-unitn/anonymization-module/backend/backendtest"
	"github.com/majkutK-unitn/anonymization-module/config"
	"github.com/majkutK-unitn/anonymization-module/gentree"
	"github.com/majkutK-unitn/anonymization-module/mondrian"
	"github.com/majkutK-unitn/anonymization-module/partition"
)

func sampleRecords() []backendtest.Record {
	ages := []int{20, 22, 25, 30, 40, 45, 50, 60, 61, 62, 63, 64}
	jobs := []string{"A1", "A1", "A2", "A2", "B", "B", "A1", "A2", "A1", "A2", "B", "B"}
	recs := make([]backendtest.Record, len(ages))
	for i, age := range ages {
		recs[i] = backendtest.Record{
			Numeric:     map[string]int{"age": age},
			Categorical: map[string]string{"job": jobs[i]},
			Sensitive:   map[string]string{"diagnosis": "flu"},
		}
	}
	return recs
}

func TestRunProducesKAnonymousPartitions(t *testing.T) {
	be := &backendtest.Fake{Records: sampleRecords()}

	raw := config.RawConfig{
		K:                   2,
		QIDs:                []config.QIDRaw{{Name: "age", Type: config.TypeNumerical}},
		SensitiveAttributes: []string{"diagnosis"},
	}
	cfg, err := config.Resolve(context.Background(), raw, be)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	result, err := mondrian.Run(context.Background(), be, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(result.Partitions) == 0 {
		t.Fatal("expected at least one final partition")
	}

	total := 0
	for _, p := range result.Partitions {
		if p.Count < cfg.K {
			t.Errorf("partition count %d is below k=%d", p.Count, cfg.K)
		}
		total += p.Count
	}
	if total != len(sampleRecords()) {
		t.Errorf("final partitions account for %d records, want %d", total, len(sampleRecords()))
	}

	if result.NCP < 0 || result.NCP > 100 {
		t.Errorf("NCP = %v, want a value in [0,100]", result.NCP)
	}
}

// TestRunMedianSplitOnFourValues pins the exact split boundaries: with
// ages 10,20,30,40 and k=2, the median split must land on actual record
// values, yielding [10,20] and [30,40], each holding two records.
func TestRunMedianSplitOnFourValues(t *testing.T) {
	ages := []int{10, 20, 30, 40}
	recs := make([]backendtest.Record, len(ages))
	for i, age := range ages {
		recs[i] = backendtest.Record{Numeric: map[string]int{"age": age}}
	}
	be := &backendtest.Fake{Records: recs}

	raw := config.RawConfig{
		K:    2,
		QIDs: []config.QIDRaw{{Name: "age", Type: config.TypeNumerical}},
	}
	cfg, err := config.Resolve(context.Background(), raw, be)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	result, err := mondrian.Run(context.Background(), be, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(result.Partitions) != 2 {
		t.Fatalf("len(Partitions) = %d, want 2", len(result.Partitions))
	}
	byValue := make(map[string]int)
	for _, p := range result.Partitions {
		byValue[p.Attributes["age"].GenValue()] = p.Count
	}
	if byValue["10,20"] != 2 {
		t.Errorf("partition [10,20] count = %d, want 2 (got %v)", byValue["10,20"], byValue)
	}
	if byValue["30,40"] != 2 {
		t.Errorf("partition [30,40] count = %d, want 2 (got %v)", byValue["30,40"], byValue)
	}
}

// TestRunAllValuesEqualClosesAttribute exercises the split-unproductive
// path: every record has the same age, so no interior split point
// exists; the attribute is closed and the whole dataset finalizes as a
// single, width-zero partition with an NCP of 0.
func TestRunAllValuesEqualClosesAttribute(t *testing.T) {
	recs := make([]backendtest.Record, 10)
	for i := range recs {
		recs[i] = backendtest.Record{Numeric: map[string]int{"age": 7}}
	}
	be := &backendtest.Fake{Records: recs}

	raw := config.RawConfig{
		K:    5,
		QIDs: []config.QIDRaw{{Name: "age", Type: config.TypeNumerical}},
	}
	cfg, err := config.Resolve(context.Background(), raw, be)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	result, err := mondrian.Run(context.Background(), be, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(result.Partitions) != 1 {
		t.Fatalf("len(Partitions) = %d, want 1", len(result.Partitions))
	}
	p := result.Partitions[0]
	if p.Count != len(recs) {
		t.Errorf("partition count = %d, want %d", p.Count, len(recs))
	}
	if p.Attributes["age"].GenValue() != "7" {
		t.Errorf("gen value = %q, want the collapsed single value \"7\"", p.Attributes["age"].GenValue())
	}
	if result.NCP != 0 {
		t.Errorf("NCP = %v, want 0 for a width-zero partition", result.NCP)
	}
}

func TestRunHighKCollapsesToSinglePartition(t *testing.T) {
	be := &backendtest.Fake{Records: sampleRecords()}

	raw := config.RawConfig{
		K:    len(sampleRecords()),
		QIDs: []config.QIDRaw{{Name: "age", Type: config.TypeNumerical}},
	}
	cfg, err := config.Resolve(context.Background(), raw, be)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	result, err := mondrian.Run(context.Background(), be, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(result.Partitions) != 1 {
		t.Fatalf("len(Partitions) = %d, want 1 when k equals the dataset size", len(result.Partitions))
	}
	if result.Partitions[0].Count != len(sampleRecords()) {
		t.Errorf("single partition count = %d, want %d", result.Partitions[0].Count, len(sampleRecords()))
	}
}

// jobTreeSpec builds the hierarchy *→{A→{A1,A2}, B}.
func jobTreeSpec() gentree.Spec {
	return gentree.Spec{
		Value: "*",
		Children: []gentree.Spec{
			{Value: "A", Children: []gentree.Spec{{Value: "A1"}, {Value: "A2"}}},
			{Value: "B"},
		},
	}
}

// jobOnlyRecords gives the counts A1=2, A2=2, B=4.
func jobOnlyRecords() []backendtest.Record {
	jobs := []string{"A1", "A1", "A2", "A2", "B", "B", "B", "B"}
	recs := make([]backendtest.Record, len(jobs))
	for i, job := range jobs {
		recs[i] = backendtest.Record{Categorical: map[string]string{"job": job}}
	}
	return recs
}

// TestRunHierarchicalSplitStopsBelowTwoK:
// splitting "*" into A (count 4) and B (count 4) succeeds since both meet
// k=3; A and B each hold fewer than 2k=6 records, so checkSplittable
// finalizes them as-is and A is never split into A1 (count 2) and A2
// (count 2). This exercises splitDiscrete's hierarchical path end to
// end, never reached by any age-only QID test in this file.
func TestRunHierarchicalSplitStopsBelowTwoK(t *testing.T) {
	recs := jobOnlyRecords()
	be := &backendtest.Fake{Records: recs}
	spec := jobTreeSpec()

	raw := config.RawConfig{
		K:    3,
		QIDs: []config.QIDRaw{{Name: "job", Type: config.TypeHierarchical, Tree: &spec}},
	}
	cfg, err := config.Resolve(context.Background(), raw, be)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	result, err := mondrian.Run(context.Background(), be, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(result.Partitions) != 2 {
		t.Fatalf("len(Partitions) = %d, want 2 (A and B)", len(result.Partitions))
	}

	byValue := make(map[string]int)
	for _, p := range result.Partitions {
		byValue[p.Attributes["job"].GenValue()] = p.Count
	}
	if byValue["A"] != 4 {
		t.Errorf("partition A count = %d, want 4 (A1+A2, never split further)", byValue["A"])
	}
	if byValue["B"] != 4 {
		t.Errorf("partition B count = %d, want 4", byValue["B"])
	}

	total := 0
	for _, p := range result.Partitions {
		total += p.Count
	}
	if total != len(recs) {
		t.Errorf("final partitions account for %d records, want %d", total, len(recs))
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

// TestRunIPQIDResolvedThroughConfigStaysWithinNormalizedWidthBound
// guards against a config.Resolve regression where an ip QID's root
// range was built from the backend's observed min/max of the field
// (a handful of addresses) instead of the full 32-bit address space:
// that made the root attribute's NormalizedWidth many orders of
// magnitude greater than 1. With k equal to the whole dataset the
// partition fails checkSplittable, so chooseQID is never called; the
// correct, fixed behavior is a single final partition spanning every
// record, exactly the established "k equals dataset size" shape already
// used for numeric QIDs, whose NCP is 100 only when the root range is
// the whole address space.
func TestRunIPQIDResolvedThroughConfigStaysWithinNormalizedWidthBound(t *testing.T) {
	recs := ipRecords()
	be := &backendtest.Fake{Records: recs}

	raw := config.RawConfig{
		K:    len(recs),
		QIDs: []config.QIDRaw{{Name: "client_ip", Type: config.TypeIP}},
	}
	cfg, err := config.Resolve(context.Background(), raw, be)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	result, err := mondrian.Run(context.Background(), be, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(result.Partitions) != 1 {
		t.Fatalf("len(Partitions) = %d, want 1 when k equals the dataset size", len(result.Partitions))
	}
	if result.Partitions[0].Count != len(recs) {
		t.Errorf("single partition count = %d, want %d", result.Partitions[0].Count, len(recs))
	}
	if result.NCP < 99.999 || result.NCP > 100.001 {
		t.Errorf("NCP = %v, want ~100 (the qid at its root generalization)", result.NCP)
	}
}

func TestRunPartitionsAreDisjoint(t *testing.T) {
	be := &backendtest.Fake{Records: sampleRecords()}

	raw := config.RawConfig{
		K:    2,
		QIDs: []config.QIDRaw{{Name: "age", Type: config.TypeNumerical}},
	}
	cfg, err := config.Resolve(context.Background(), raw, be)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	result, err := mondrian.Run(context.Background(), be, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	partition.SortBySignature(result.Partitions, cfg.QIDNames)
	seen := make(map[string]bool)
	for _, p := range result.Partitions {
		sig := p.Signature(cfg.QIDNames)
		if seen[sig] {
			t.Errorf("duplicate partition signature %q", sig)
		}
		seen[sig] = true
	}
}
