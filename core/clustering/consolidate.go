package clustering

import (
	"fmt"
	"sort"

	"github.com/checktor/amnesiadb/core"
)

// Group is one consolidated cluster: its members and a representative
// vector (the member mean), mirroring how repeat detections of the
// same face collapse to a single remembered point.
type Group struct {
	Label          string    `json:"label"`
	Members        []string  `json:"members"`
	Representative []float32 `json:"representative,omitempty"`

	// Sources carries the merged provenance of all members, in member
	// order. Filled by callers that track source metadata.
	Sources []core.SourceRef `json:"sources,omitempty"`
}

// Consolidate turns a clustering result into groups with mean-vector
// representatives. vectors maps each clustered id to the vector the
// distances were computed over; ids without a vector yield an error.
// Groups are sorted by label.
func Consolidate(vectors map[string][]float32, result *Result) ([]Group, error) {
	clusters := result.Clusters()

	labels := make([]string, 0, len(clusters))
	for label := range clusters {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	groups := make([]Group, 0, len(labels))
	for _, label := range labels {
		members := clusters[label]
		memberVectors := make([][]float32, 0, len(members))
		for _, id := range members {
			vec, ok := vectors[id]
			if !ok {
				return nil, fmt.Errorf("no vector for clustered id %s", id)
			}
			memberVectors = append(memberVectors, vec)
		}

		mean, err := core.MeanVector(memberVectors)
		if err != nil {
			return nil, fmt.Errorf("cluster %s: %w", label, err)
		}
		groups = append(groups, Group{
			Label:          label,
			Members:        members,
			Representative: mean,
		})
	}
	return groups, nil
}
