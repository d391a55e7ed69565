// Package ncp computes Normalized Certainty Penalty, the information
// loss metric both algorithms report alongside their partitions:
// roughly, how much of each QID's domain a partition had to generalize
// over, weighted by how many records fall into it.
package ncp

import (
	"fmt"

	"github.com/majkutK-unitn/anonymization-module/partition"
)

// Compute returns the dataset-wide NCP, as a percentage, for a finished
// set of partitions: the per-partition sum of each QID's normalized
// width, weighted by partition size, averaged across QIDs and the
// whole dataset's record count.
func Compute(partitions []*partition.Partition, qidNames []string, datasetSize int) (float64, error) {
	if datasetSize <= 0 {
		return 0, fmt.Errorf("ncp: dataset size must be positive, got %d", datasetSize)
	}
	if len(qidNames) == 0 {
		return 0, fmt.Errorf("ncp: at least one qid is required")
	}

	total := 0.0
	for _, p := range partitions {
		rowNCP := 0.0
		for _, name := range qidNames {
			attr, ok := p.Attributes[name]
			if !ok {
				return 0, fmt.Errorf("ncp: partition is missing qid %q", name)
			}
			rowNCP += attr.NormalizedWidth()
		}
		total += rowNCP * float64(p.Count)
	}

	total /= float64(len(qidNames))
	total /= float64(datasetSize)
	total *= 100

	return total, nil
}
