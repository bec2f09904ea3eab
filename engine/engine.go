// Package engine wires the vector store, dimensionality reducer, LSH
// index and clustering stage into the retrieval pipeline callers use:
// ingest, query, group.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/checktor/amnesiadb/core"
	"github.com/checktor/amnesiadb/core/clustering"
	"github.com/checktor/amnesiadb/core/reduction"
)

// snapshot is an immutable pairing of a reduction basis with the index
// built against it. Queries read whichever snapshot is published;
// re-fits build a new snapshot aside and swap the pointer atomically.
type snapshot struct {
	basis *reduction.Basis
	index core.Index
}

// Engine is the retrieval engine. All state mutations go through the
// coarse engine lock; retrieval takes the read side plus the published
// snapshot, so concurrent queries never observe a half-built index.
type Engine struct {
	mu          sync.RWMutex
	persistence core.Persistence
	factory     core.IndexFactory
	params      core.IndexParams
	indexType   string
	points      map[string]core.DataPoint
	order       []string // ids in ingestion order
	dimension   int      // full embedding dimension, 0 until first ingest
	snap        atomic.Pointer[snapshot]
}

// Option configures an Engine.
type Option func(*Engine)

// WithParams overrides the default LSH parameters.
func WithParams(params core.IndexParams) Option {
	return func(e *Engine) {
		e.params = params
	}
}

// WithIndexType selects the candidate structure: "lsh" (default) or
// "flat".
func WithIndexType(indexType string) Option {
	return func(e *Engine) {
		e.indexType = indexType
	}
}

// New creates an empty engine on top of the given persistence layer
// and index factory.
func New(persistence core.Persistence, factory core.IndexFactory, opts ...Option) *Engine {
	e := &Engine{
		persistence: persistence,
		factory:     factory,
		params:      core.DefaultIndexParams(),
		indexType:   "lsh",
		points:      make(map[string]core.DataPoint),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewWithRecovery creates an engine and restores the persisted bundle:
// data points, basis, parameters and index state. A bundle that fails
// structural or dimensional validation is rejected with
// core.ErrCorruptState; an empty store yields an empty engine.
func NewWithRecovery(ctx context.Context, persistence core.Persistence, factory core.IndexFactory, opts ...Option) (*Engine, error) {
	e := New(persistence, factory, opts...)

	pts, err := persistence.LoadDataPoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load data points: %w", err)
	}
	sort.Slice(pts, func(i, j int) bool {
		if pts[i].CreatedAt.Equal(pts[j].CreatedAt) {
			return pts[i].ID < pts[j].ID
		}
		return pts[i].CreatedAt.Before(pts[j].CreatedAt)
	})
	for _, pt := range pts {
		if err := core.ValidateDataPoint(pt); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrCorruptState, err)
		}
		if e.dimension == 0 {
			e.dimension = len(pt.Embedding)
		} else if len(pt.Embedding) != e.dimension {
			return nil, fmt.Errorf("%w: point %s has dimension %d, corpus has %d",
				core.ErrCorruptState, pt.ID, len(pt.Embedding), e.dimension)
		}
		e.points[pt.ID] = pt
		e.order = append(e.order, pt.ID)
	}

	if params, err := persistence.LoadParams(ctx); err != nil {
		return nil, fmt.Errorf("failed to load index parameters: %w", err)
	} else if params != nil {
		e.params = *params
	}

	basisBlob, err := persistence.LoadBasis(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load basis: %w", err)
	}
	if basisBlob == nil {
		return e, nil
	}

	var basis reduction.Basis
	if err := json.Unmarshal(basisBlob, &basis); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal basis: %v", core.ErrCorruptState, err)
	}
	if err := basis.Validate(); err != nil {
		return nil, err
	}
	if e.dimension != 0 && basis.FullDim != e.dimension {
		return nil, fmt.Errorf("%w: basis dimension %d does not match corpus dimension %d",
			core.ErrCorruptState, basis.FullDim, e.dimension)
	}
	for _, id := range e.order {
		pt := e.points[id]
		if pt.Deleted || pt.Reduced == nil {
			continue
		}
		if pt.BasisVersion == basis.Version && len(pt.Reduced) != basis.TargetDim {
			return nil, fmt.Errorf("%w: point %s has reduced dimension %d, basis expects %d",
				core.ErrCorruptState, id, len(pt.Reduced), basis.TargetDim)
		}
	}

	idx, err := e.restoreIndex(ctx, &basis)
	if err != nil {
		return nil, err
	}

	e.snap.Store(&snapshot{basis: &basis, index: idx})
	return e, nil
}

// restoreIndex deserializes the persisted index state, or rebuilds the
// index from stored reduced vectors when no state was saved. The
// restored basis version is kept as-is: a state saved against an older
// basis surfaces as ErrStaleIndex at query time rather than being
// silently rebuilt.
func (e *Engine) restoreIndex(ctx context.Context, basis *reduction.Basis) (core.Index, error) {
	blob, err := e.persistence.LoadIndexState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load index state: %w", err)
	}

	if blob != nil {
		idx, err := e.factory.CreateIndex(e.indexType, e.params, basis.Version)
		if err != nil {
			return nil, fmt.Errorf("failed to create index: %w", err)
		}
		if err := idx.Deserialize(blob); err != nil {
			return nil, err
		}
		return idx, nil
	}

	params := e.params
	params.TargetDim = basis.TargetDim
	idx, err := e.factory.CreateIndex(e.indexType, params, basis.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}
	for _, id := range e.order {
		pt := e.points[id]
		if pt.Deleted || pt.BasisVersion != basis.Version {
			continue
		}
		if err := idx.Insert(id, pt.Reduced); err != nil {
			return nil, fmt.Errorf("failed to rebuild index for %s: %w", id, err)
		}
	}
	return idx, nil
}

// Ingest stores an embedding with its source metadata and, when a
// basis is published, hashes it into every table before it becomes
// query-visible. Returns the assigned id.
func (e *Engine) Ingest(ctx context.Context, embedding []float32, source core.SourceRef) (string, error) {
	if err := core.ValidateEmbedding(embedding); err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dimension == 0 {
		e.dimension = len(embedding)
	} else if err := core.ValidateDimension(embedding, e.dimension); err != nil {
		return "", err
	}

	pt := core.DataPoint{
		ID:        uuid.New().String(),
		Embedding: embedding,
		Source:    source,
		CreatedAt: time.Now().UTC(),
	}

	snap := e.snap.Load()
	if snap != nil {
		reduced, err := snap.basis.Transform(embedding)
		if err != nil {
			return "", err
		}
		pt.Reduced = reduced
		pt.BasisVersion = snap.basis.Version
	}

	if err := e.persistence.SaveDataPoint(ctx, pt); err != nil {
		return "", fmt.Errorf("failed to save data point: %w", err)
	}

	if snap != nil {
		if err := snap.index.Insert(pt.ID, pt.Reduced); err != nil {
			return "", fmt.Errorf("failed to index data point: %w", err)
		}
		e.saveIndexStateBestEffort(ctx, snap.index)
	}

	e.points[pt.ID] = pt
	e.order = append(e.order, pt.ID)

	return pt.ID, nil
}

// Remove soft-deletes a point in the store and purges its id from
// every index bucket.
func (e *Engine) Remove(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	pt, ok := e.points[id]
	if !ok || pt.Deleted {
		return fmt.Errorf("%w: %s", core.ErrPointNotFound, id)
	}

	pt.Deleted = true
	if err := e.persistence.SaveDataPoint(ctx, pt); err != nil {
		return fmt.Errorf("failed to persist deletion: %w", err)
	}
	e.points[id] = pt

	if snap := e.snap.Load(); snap != nil && pt.BasisVersion == snap.basis.Version {
		if err := snap.index.Remove(id); err != nil {
			return fmt.Errorf("failed to remove from index: %w", err)
		}
		e.saveIndexStateBestEffort(ctx, snap.index)
	}

	return nil
}

// Get returns a stored point by id.
func (e *Engine) Get(ctx context.Context, id string) (core.DataPoint, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	pt, ok := e.points[id]
	if !ok || pt.Deleted {
		return core.DataPoint{}, fmt.Errorf("%w: %s", core.ErrPointNotFound, id)
	}
	return pt, nil
}

// Fit learns a fresh reduction basis from the live corpus, rebuilds
// the index against it and publishes both as a new snapshot. The
// previous snapshot stays intact and serving until the swap; a
// cancelled or failed fit publishes nothing.
func (e *Engine) Fit(ctx context.Context, targetDim int) error {
	// Stage 1: copy the live corpus and parameters in ingestion order.
	e.mu.RLock()
	params := e.params
	ids := make([]string, 0, len(e.order))
	corpus := make([][]float32, 0, len(e.order))
	for _, id := range e.order {
		pt := e.points[id]
		if pt.Deleted {
			continue
		}
		ids = append(ids, id)
		corpus = append(corpus, pt.Embedding)
	}
	e.mu.RUnlock()

	// Stage 2: eigen-decomposition, off the lock.
	basis, err := reduction.Fit(ctx, corpus, targetDim)
	if err != nil {
		return err
	}

	// Stage 3: hash the corpus into a fresh index.
	params.TargetDim = targetDim
	idx, err := e.factory.CreateIndex(e.indexType, params, basis.Version)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	reduced := make(map[string][]float32, len(ids))
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		r, err := basis.Transform(corpus[i])
		if err != nil {
			return err
		}
		if err := idx.Insert(id, r); err != nil {
			return fmt.Errorf("failed to index %s: %w", id, err)
		}
		reduced[id] = r
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	// Stage 4: catch up with concurrent mutations, persist the new
	// bundle, then swap.
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, id := range e.order {
		pt := e.points[id]
		if pt.Deleted {
			if _, indexed := reduced[id]; indexed {
				if err := idx.Remove(id); err != nil {
					return fmt.Errorf("failed to drop removed point %s: %w", id, err)
				}
				delete(reduced, id)
			}
			continue
		}
		if _, indexed := reduced[id]; indexed {
			continue
		}
		r, err := basis.Transform(pt.Embedding)
		if err != nil {
			return err
		}
		if err := idx.Insert(id, r); err != nil {
			return fmt.Errorf("failed to index %s: %w", id, err)
		}
		reduced[id] = r
	}

	updated := make([]core.DataPoint, 0, len(reduced))
	for _, id := range e.order {
		pt := e.points[id]
		if pt.Deleted {
			continue
		}
		pt.Reduced = reduced[id]
		pt.BasisVersion = basis.Version
		updated = append(updated, pt)
	}

	// The basis goes last: recovery treats it as the commit record for
	// the whole bundle. A crash before it lands leaves the previous
	// basis (or none) and the index state mismatch is surfaced instead
	// of quietly serving an empty index.
	if err := e.persistence.SaveParams(ctx, params); err != nil {
		return fmt.Errorf("failed to save parameters: %w", err)
	}
	if err := e.persistence.SaveDataPoints(ctx, updated); err != nil {
		return fmt.Errorf("failed to save data points: %w", err)
	}
	idxBlob, err := idx.Serialize()
	if err != nil {
		return fmt.Errorf("failed to serialize index: %w", err)
	}
	if err := e.persistence.SaveIndexState(ctx, idxBlob); err != nil {
		return fmt.Errorf("failed to save index state: %w", err)
	}
	basisBlob, err := json.Marshal(basis)
	if err != nil {
		return fmt.Errorf("failed to marshal basis: %w", err)
	}
	if err := e.persistence.SaveBasis(ctx, basisBlob); err != nil {
		return fmt.Errorf("failed to save basis: %w", err)
	}

	for _, pt := range updated {
		e.points[pt.ID] = pt
	}
	e.params = params
	e.snap.Store(&snapshot{basis: basis, index: idx})

	return nil
}

// Search runs the retrieval pipeline: reduce the query, gather LSH
// candidates, re-rank by exact distance, then apply the threshold and
// top-k selection. Empty candidate sets are a valid empty result.
func (e *Engine) Search(ctx context.Context, req core.SearchRequest) ([]core.SearchResult, error) {
	snap := e.snap.Load()
	if snap == nil {
		return nil, core.ErrNoBasis
	}
	if snap.index.BasisVersion() != snap.basis.Version {
		return nil, fmt.Errorf("%w: index was built for basis %s, active basis is %s",
			core.ErrStaleIndex, snap.index.BasisVersion(), snap.basis.Version)
	}

	if err := core.ValidateSearchRequest(req, snap.basis.FullDim); err != nil {
		return nil, err
	}

	reducedQuery, err := snap.basis.Transform(req.Query)
	if err != nil {
		return nil, err
	}

	candidates, err := snap.index.Candidates(reducedQuery)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	results := make([]core.SearchResult, 0, len(candidates))
	for _, id := range candidates {
		pt, ok := e.points[id]
		if !ok || pt.Deleted {
			continue
		}
		reduced := pt.Reduced
		if pt.BasisVersion != snap.basis.Version {
			if reduced, err = snap.basis.Transform(pt.Embedding); err != nil {
				e.mu.RUnlock()
				return nil, err
			}
		}
		dist, err := core.EuclideanDistance(reducedQuery, reduced)
		if err != nil {
			e.mu.RUnlock()
			return nil, err
		}
		source := pt.Source
		results = append(results, core.SearchResult{ID: id, Distance: dist, Source: &source})
	}
	e.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance == results[j].Distance {
			return results[i].ID < results[j].ID
		}
		return results[i].Distance < results[j].Distance
	})

	if req.DistanceThreshold > 0 {
		cut := len(results)
		for i, r := range results {
			if r.Distance > req.DistanceThreshold {
				cut = i
				break
			}
		}
		results = results[:cut]
	}
	if req.TopK > 0 && len(results) > req.TopK {
		results = results[:req.TopK]
	}

	return results, nil
}

// GroupResults clusters a candidate set from a previous Search call
// into identity groups. The pairwise graph is built over the reduced
// vectors of the named candidates.
func (e *Engine) GroupResults(ctx context.Context, results []core.SearchResult, opts clustering.Options) ([]clustering.Group, error) {
	snap := e.snap.Load()
	if snap == nil {
		return nil, core.ErrNoBasis
	}

	ids := make([]string, 0, len(results))
	vectors := make(map[string][]float32, len(results))
	sources := make(map[string]core.SourceRef, len(results))

	e.mu.RLock()
	for _, r := range results {
		pt, ok := e.points[r.ID]
		if !ok || pt.Deleted {
			continue
		}
		reduced := pt.Reduced
		if pt.BasisVersion != snap.basis.Version {
			var err error
			if reduced, err = snap.basis.Transform(pt.Embedding); err != nil {
				e.mu.RUnlock()
				return nil, err
			}
		}
		ids = append(ids, r.ID)
		vectors[r.ID] = reduced
		sources[r.ID] = pt.Source
	}
	e.mu.RUnlock()

	if len(ids) == 0 {
		return []clustering.Group{}, nil
	}

	distances := make([][]float32, len(ids))
	for i := range ids {
		distances[i] = make([]float32, len(ids))
	}
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			dist, err := core.EuclideanDistance(vectors[ids[i]], vectors[ids[j]])
			if err != nil {
				return nil, err
			}
			distances[i][j] = dist
			distances[j][i] = dist
		}
	}

	result, err := clustering.Cluster(ids, distances, opts)
	if err != nil {
		return nil, err
	}
	groups, err := clustering.Consolidate(vectors, result)
	if err != nil {
		return nil, err
	}
	for gi := range groups {
		refs := make([]core.SourceRef, 0, len(groups[gi].Members))
		for _, id := range groups[gi].Members {
			refs = append(refs, sources[id])
		}
		groups[gi].Sources = refs
	}
	return groups, nil
}

// Stats describes the engine state for callers and handlers.
type Stats struct {
	Points       int              `json:"points"`
	Deleted      int              `json:"deleted"`
	Dimension    int              `json:"dimension"`
	BasisVersion string           `json:"basis_version,omitempty"`
	TargetDim    int              `json:"target_dim,omitempty"`
	IndexType    string           `json:"index_type,omitempty"`
	IndexSize    int              `json:"index_size"`
	Params       core.IndexParams `json:"params"`
}

// Stats returns a point-in-time view of the engine.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := Stats{
		Dimension: e.dimension,
		Params:    e.params,
	}
	for _, pt := range e.points {
		if pt.Deleted {
			stats.Deleted++
		} else {
			stats.Points++
		}
	}
	if snap := e.snap.Load(); snap != nil {
		stats.BasisVersion = snap.basis.Version
		stats.TargetDim = snap.basis.TargetDim
		stats.IndexType = snap.index.Type()
		stats.IndexSize = snap.index.Size()
	}
	return stats
}

// BasisVersion returns the version of the published basis, or "" when
// no fit has happened.
func (e *Engine) BasisVersion() string {
	if snap := e.snap.Load(); snap != nil {
		return snap.basis.Version
	}
	return ""
}

// Close releases the underlying persistence layer.
func (e *Engine) Close() error {
	return e.persistence.Close()
}

// saveIndexStateBestEffort persists the index state after a mutation.
// The mutation itself already succeeded, so a failed state save is not
// surfaced; recovery rebuilds the index from reduced vectors instead.
func (e *Engine) saveIndexStateBestEffort(ctx context.Context, idx core.Index) {
	blob, err := idx.Serialize()
	if err != nil {
		return
	}
	_ = e.persistence.SaveIndexState(ctx, blob)
}
