package config

import "github.com/majkutK-unitn/anonymization-module/gentree"

// QIDType is the on-disk type tag for one QID.
type QIDType string

const (
	TypeHierarchical QIDType = "hierarchical"
	TypeNumerical    QIDType = "numerical"
	TypeDate         QIDType = "date"
	TypeIP           QIDType = "ip"
)

// QIDRaw is the on-disk description of one quasi-identifier, as read from
// the run configuration file before the hierarchy/range metadata has been
// resolved against the backend.
type QIDRaw struct {
	// Name is the QID's field name. It doubles as the ordering key: QIDs
	// are declared as an ordered list (not a map) precisely so Config can
	// preserve the deterministic iteration order the algorithms'
	// tie-breaking rules depend on (a bare map gives no such guarantee).
	Name string `mapstructure:"name" yaml:"name" json:"name"`

	Type QIDType `mapstructure:"type" yaml:"type" json:"type"`

	// Tree is the inline nested hierarchy description for
	// type=hierarchical QIDs. Mutually exclusive with HierarchyFile.
	Tree *gentree.Spec `mapstructure:"tree" yaml:"tree" json:"tree"`

	// HierarchyFile points at a line-oriented, semicolon-delimited
	// taxonomy file, for QIDs whose hierarchy is kept out of the main
	// config file.
	HierarchyFile string `mapstructure:"hierarchy_file" yaml:"hierarchy_file" json:"hierarchy_file"`

	// DataflyInitLevel is Datafly's initial bucketing depth for
	// hierarchical QIDs (0 disables initial bucketing on this QID).
	DataflyInitLevel int `mapstructure:"datafly_init_level" yaml:"datafly_init_level" json:"datafly_init_level"`

	// DataflyNumOfBuckets is Datafly's initial bucket count for
	// numerical/date QIDs (0 disables initial bucketing on this QID).
	DataflyNumOfBuckets int `mapstructure:"datafly_num_of_buckets" yaml:"datafly_num_of_buckets" json:"datafly_num_of_buckets"`

	// IPMaskBits overrides the deepest mask width type=ip splitting is
	// allowed to reach (at most 31). Zero means "use the default".
	IPMaskBits int `mapstructure:"ip_mask_bits" yaml:"ip_mask_bits" json:"ip_mask_bits"`
}

// RawConfig is the whole on-disk run configuration, before resolution.
type RawConfig struct {
	K                   int      `mapstructure:"k" yaml:"k" json:"k"`
	QIDs                []QIDRaw `mapstructure:"qids" yaml:"qids" json:"qids"`
	SensitiveAttributes []string `mapstructure:"sensitive_attributes" yaml:"sensitive_attributes" json:"sensitive_attributes"`
}
