package index

import (
	"fmt"
	"sort"

	"github.com/checktor/amnesiadb/core"
)

// Grid bounds for parameter calibration.
const (
	maxCalibrationTables    = 10
	maxCalibrationFunctions = 20
)

// CalibrationResult describes one evaluated parameter combination.
type CalibrationResult struct {
	Params        core.IndexParams
	MissingTotal  int // relevant ids the LSH structure failed to return, over all queries
	CandidateLoad int // total candidates gathered, a proxy for query cost
}

// CalibrateLSHParams searches the (L, k) grid for the cheapest
// parameter combination that loses at most maxMissing relevant results
// compared to an exact scan. Sample holds reduced vectors keyed by id;
// relevance means exact distance to a query at or below the threshold.
//
// The returned parameters minimize candidate load first, then L, then
// k, so repeated calibrations over the same inputs agree.
func CalibrateLSHParams(sample map[string][]float32, queries [][]float32,
	bucketWidth float32, targetDim int, distanceThreshold float32,
	maxMissing int, seed int64) (core.IndexParams, error) {

	if len(sample) == 0 {
		return core.IndexParams{}, fmt.Errorf("%w: calibration sample is empty", core.ErrInsufficientData)
	}
	if len(queries) == 0 {
		return core.IndexParams{}, fmt.Errorf("%w: no calibration queries", core.ErrInsufficientData)
	}

	ids := make([]string, 0, len(sample))
	for id := range sample {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	// Exact scan establishes the desired result per query.
	relevant := make([]map[string]struct{}, len(queries))
	for qi, query := range queries {
		relevant[qi] = make(map[string]struct{})
		for _, id := range ids {
			dist, err := core.EuclideanDistance(query, sample[id])
			if err != nil {
				return core.IndexParams{}, fmt.Errorf("calibration query %d: %w", qi, err)
			}
			if dist <= distanceThreshold {
				relevant[qi][id] = struct{}{}
			}
		}
	}

	var best *CalibrationResult
	for numTables := 1; numTables <= maxCalibrationTables; numTables++ {
		for numFunctions := 1; numFunctions <= maxCalibrationFunctions; numFunctions++ {
			params := core.IndexParams{
				NumTables:    numTables,
				NumFunctions: numFunctions,
				BucketWidth:  bucketWidth,
				TargetDim:    targetDim,
				Seed:         seed,
			}

			lsh, err := NewLSHIndex(params, "")
			if err != nil {
				return core.IndexParams{}, err
			}
			for _, id := range ids {
				if err := lsh.Insert(id, sample[id]); err != nil {
					return core.IndexParams{}, fmt.Errorf("calibration insert %s: %w", id, err)
				}
			}

			missing := 0
			load := 0
			for qi, query := range queries {
				candidates, err := lsh.Candidates(query)
				if err != nil {
					return core.IndexParams{}, err
				}
				load += len(candidates)
				found := make(map[string]struct{}, len(candidates))
				for _, id := range candidates {
					found[id] = struct{}{}
				}
				for id := range relevant[qi] {
					if _, ok := found[id]; !ok {
						missing++
					}
				}
			}

			if missing > maxMissing {
				continue
			}
			if best == nil || load < best.CandidateLoad {
				best = &CalibrationResult{Params: params, MissingTotal: missing, CandidateLoad: load}
			}
		}
	}

	if best == nil {
		return core.IndexParams{}, fmt.Errorf("%w: no parameter combination met the recall requirement",
			core.ErrInsufficientData)
	}
	return best.Params, nil
}
