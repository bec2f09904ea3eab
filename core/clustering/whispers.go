// Package clustering merges near-duplicate detections by label
// propagation over a similarity graph, after Biemann's Chinese
// Whispers (2006). The algorithm is local and greedy: near-linear per
// pass, bounded by a maximum pass count because convergence is not
// guaranteed on every graph.
package clustering

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/checktor/amnesiadb/core"
)

// Options control graph construction and propagation. A zero Options
// value is not usable; start from DefaultOptions.
type Options struct {
	// SimilarityThreshold is the minimum similarity for an edge.
	SimilarityThreshold float32

	// MaxIterations bounds the number of full passes.
	MaxIterations int

	// Seed drives the randomized visit order.
	Seed int64

	// Similarity maps distance to edge weight; nil selects
	// core.InverseDistanceSimilarity.
	Similarity core.SimilarityFunc
}

// DefaultOptions correspond to the face-grouping defaults: the 0.45
// distance cutoff for same-person descriptors expressed as a
// similarity, and the pass bound from the original paper.
func DefaultOptions() Options {
	return Options{
		SimilarityThreshold: core.InverseDistanceSimilarity(0.45),
		MaxIterations:       30,
		Seed:                1,
	}
}

// Result is a partition of the input ids into labeled clusters.
type Result struct {
	Labels map[string]string // id -> cluster label
}

// Clusters groups ids by label, members sorted for stable output.
func (r *Result) Clusters() map[string][]string {
	clusters := make(map[string][]string)
	for id, label := range r.Labels {
		clusters[label] = append(clusters[label], id)
	}
	for _, members := range clusters {
		sort.Strings(members)
	}
	return clusters
}

type edge struct {
	neighbor int
	weight   float32
}

// Cluster partitions the ids. distances must be a symmetric
// len(ids) x len(ids) matrix of pairwise exact distances; only the
// upper triangle is read. Nodes with no incident edge above the
// threshold stay singleton clusters. Deterministic for a fixed seed
// and input.
func Cluster(ids []string, distances [][]float32, opts Options) (*Result, error) {
	if opts.MaxIterations <= 0 {
		return nil, fmt.Errorf("max iterations must be positive, got %d", opts.MaxIterations)
	}
	if len(distances) != len(ids) {
		return nil, fmt.Errorf("distance matrix has %d rows for %d ids", len(distances), len(ids))
	}
	for i, row := range distances {
		if len(row) != len(ids) {
			return nil, fmt.Errorf("distance matrix row %d has %d columns for %d ids", i, len(row), len(ids))
		}
	}

	simFn := opts.Similarity
	if simFn == nil {
		simFn = core.InverseDistanceSimilarity
	}

	n := len(ids)
	adjacency := make([][]edge, n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			sim := simFn(distances[i][j])
			if sim > opts.SimilarityThreshold {
				adjacency[i] = append(adjacency[i], edge{neighbor: j, weight: sim})
				adjacency[j] = append(adjacency[j], edge{neighbor: i, weight: sim})
			}
		}
	}

	// Every node starts in its own singleton cluster.
	labels := make([]string, n)
	copy(labels, ids)

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	weights := make(map[string]float32)

	for pass := 0; pass < opts.MaxIterations; pass++ {
		changed := false
		rng.Shuffle(n, func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})

		for _, node := range order {
			if len(adjacency[node]) == 0 {
				continue
			}

			// Sum incident edge weight per neighboring label.
			clear(weights)
			for _, e := range adjacency[node] {
				weights[labels[e.neighbor]] += e.weight
			}

			// Heaviest label wins; ties go to the smallest label
			// so reruns agree.
			var best string
			var bestWeight float32 = -1
			for label, weight := range weights {
				if weight > bestWeight || (weight == bestWeight && label < best) {
					best = label
					bestWeight = weight
				}
			}

			if best != labels[node] {
				labels[node] = best
				changed = true
			}
		}

		if !changed {
			break
		}
	}

	result := &Result{Labels: make(map[string]string, n)}
	for i, id := range ids {
		result.Labels[id] = labels[i]
	}
	return result, nil
}
