// Package backend defines the narrow aggregate-query contract the
// anonymization core consumes from a storage backend. The core never
// imports a concrete backend, only this interface, so that Mondrian
// and Datafly stay ignorant of whatever store sits behind it.
package backend

import (
	"context"

	"github.com/majkutK-unitn/anonymization-module/attribute"
	"github.com/majkutK-unitn/anonymization-module/numrange"
	"github.com/majkutK-unitn/anonymization-module/partition"
)

// Backend is the aggregate-query surface both Mondrian and Datafly
// require. Every method that takes an attrs filter treats a nil/empty
// map as "no filter" (whole-dataset aggregate).
type Backend interface {
	// DocumentCount returns the number of records matching every
	// Attribute filter in attrs, or the dataset's total size when attrs
	// is empty.
	DocumentCount(ctx context.Context, attrs map[string]attribute.Attribute) (int, error)

	// AttributeMinMax returns the min and max of the named field among
	// records matching attrs.
	AttributeMinMax(ctx context.Context, name string, attrs map[string]attribute.Attribute) (lo, hi int, err error)

	// SplitPoint returns the median value and the next unique value
	// strictly greater than it within p (or, when the median equals
	// p's max, the previous unique value strictly less than the max,
	// paired with the median), so the caller always receives a split
	// point strictly inside the value set. ok is false when the
	// partition has no interior value to split at (e.g. every value in
	// the partition is identical).
	SplitPoint(ctx context.Context, name string, p *partition.Partition) (valueToSplitAt, nextUniqueValue int, ok bool, err error)

	// UniformBuckets divides the named field's whole-dataset domain into
	// at most numBuckets contiguous, percentile-sized integer ranges;
	// percentile cut points that coincide yield a single range.
	UniformBuckets(ctx context.Context, name string, numBuckets int) ([]*numrange.Range, error)

	// PushPartitions persists one output record per source record: QID
	// fields carry the owning partition's generalized values, sensitive
	// fields are copied verbatim. This is the sole mutating call in the
	// contract.
	PushPartitions(ctx context.Context, partitions []*partition.Partition) error
}
