package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/majkutK-unitn/anonymization-module/attribute"
	"github.com/majkutK-unitn/anonymization-module/config"
	"github.com/majkutK-unitn/anonymization-module/gentree"
	"github.com/majkutK-unitn/anonymization-module/numrange"
	"github.com/majkutK-unitn/anonymization-module/partition"
)

// fakeBackend is a minimal stand-in satisfying backend.Backend, used only
// to exercise config.Resolve in isolation from any real store.
type fakeBackend struct {
	size   int
	ranges map[string][2]int
}

func (f *fakeBackend) DocumentCount(ctx context.Context, attrs map[string]attribute.Attribute) (int, error) {
	return f.size, nil
}

func (f *fakeBackend) AttributeMinMax(ctx context.Context, name string, attrs map[string]attribute.Attribute) (int, int, error) {
	r := f.ranges[name]
	return r[0], r[1], nil
}

func (f *fakeBackend) SplitPoint(ctx context.Context, name string, p *partition.Partition) (int, int, bool, error) {
	return 0, 0, false, nil
}

func (f *fakeBackend) UniformBuckets(ctx context.Context, name string, numBuckets int) ([]*numrange.Range, error) {
	return nil, nil
}

func (f *fakeBackend) PushPartitions(ctx context.Context, partitions []*partition.Partition) error {
	return nil
}

func TestResolveHierarchicalAndNumerical(t *testing.T) {
	be := &fakeBackend{size: 100, ranges: map[string][2]int{"age": {18, 65}}}

	raw := config.RawConfig{
		K: 5,
		QIDs: []config.QIDRaw{
			{
				Name: "job",
				Type: config.TypeHierarchical,
				Tree: &gentree.Spec{
					Value: "*",
					Children: []gentree.Spec{
						{Value: "A", Children: []gentree.Spec{{Value: "A1"}}},
						{Value: "B"},
					},
				},
			},
			{Name: "age", Type: config.TypeNumerical},
		},
		SensitiveAttributes: []string{"diagnosis"},
	}

	cfg, err := config.Resolve(context.Background(), raw, be)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if cfg.K != 5 {
		t.Errorf("K = %d, want 5", cfg.K)
	}
	if got, want := cfg.QIDNames, []string{"job", "age"}; len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("QIDNames = %v, want %v", got, want)
	}
	if cfg.DatasetSize != 100 {
		t.Errorf("DatasetSize = %d, want 100", cfg.DatasetSize)
	}

	jobAttr, err := cfg.NewInitialAttribute("job")
	if err != nil {
		t.Fatalf("NewInitialAttribute(job): %v", err)
	}
	if jobAttr.GenValue() != "*" {
		t.Errorf("job initial gen value = %q, want *", jobAttr.GenValue())
	}

	ageAttr, err := cfg.NewInitialAttribute("age")
	if err != nil {
		t.Fatalf("NewInitialAttribute(age): %v", err)
	}
	lo, hi := ageAttr.(attribute.Bounder).Bounds()
	if lo != 18 || hi != 65 {
		t.Errorf("age bounds = [%d,%d], want [18,65]", lo, hi)
	}
}

func TestResolveRejectsZeroK(t *testing.T) {
	be := &fakeBackend{size: 10}
	raw := config.RawConfig{K: 0, QIDs: []config.QIDRaw{{Name: "age", Type: config.TypeNumerical}}}

	if _, err := config.Resolve(context.Background(), raw, be); err == nil {
		t.Error("expected an error for k=0")
	}
}

func TestResolveRejectsKBelowTwo(t *testing.T) {
	be := &fakeBackend{size: 10}
	raw := config.RawConfig{K: 1, QIDs: []config.QIDRaw{{Name: "age", Type: config.TypeNumerical}}}

	if _, err := config.Resolve(context.Background(), raw, be); err == nil {
		t.Error("expected an error for k=1; k must be at least 2")
	}
}

func TestResolveRejectsTreeAndHierarchyFileTogether(t *testing.T) {
	be := &fakeBackend{size: 10}
	raw := config.RawConfig{
		K: 2,
		QIDs: []config.QIDRaw{
			{
				Name:          "job",
				Type:          config.TypeHierarchical,
				Tree:          &gentree.Spec{Value: "*"},
				HierarchyFile: "somewhere.txt",
			},
		},
	}

	if _, err := config.Resolve(context.Background(), raw, be); err == nil {
		t.Error("expected an error when tree and hierarchy_file are both set")
	}
}

func TestLoadHierarchyFileTextFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "adult_job.txt")
	// Each line is leaf;...;root, mirroring the taxonomy file format.
	content := "A1;A;*\nA2;A;*\nB;*\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	tree, err := config.LoadHierarchyFile(path)
	if err != nil {
		t.Fatalf("LoadHierarchyFile: %v", err)
	}
	if tree.Value != "*" {
		t.Fatalf("root value = %q, want *", tree.Value)
	}
	if tree.Len() != 3 {
		t.Errorf("leaf count = %d, want 3", tree.Len())
	}
	if tree.Node("A1") == nil || tree.Node("A2") == nil || tree.Node("B") == nil {
		t.Error("expected A1, A2 and B to all be present in the merged tree")
	}
	if tree.Node("A1").Parent().Value != "A" {
		t.Errorf("A1's parent = %q, want A", tree.Node("A1").Parent().Value)
	}
}

func TestLoadHierarchyFileYAMLFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "job.yaml")
	content := "value: \"*\"\nchildren:\n  - value: A\n    children:\n      - value: A1\n  - value: B\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	tree, err := config.LoadHierarchyFile(path)
	if err != nil {
		t.Fatalf("LoadHierarchyFile: %v", err)
	}
	if tree.Len() != 2 {
		t.Errorf("leaf count = %d, want 2", tree.Len())
	}
}
