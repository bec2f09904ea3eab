package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/checktor/amnesiadb/core"
	"github.com/checktor/amnesiadb/core/clustering"
	"github.com/checktor/amnesiadb/index"
	"github.com/checktor/amnesiadb/persistence"
)

const testDim = 16

func testEngine(t *testing.T) (*Engine, *persistence.MemoryPersistence) {
	t.Helper()

	persist := persistence.NewMemoryPersistence()
	params := core.DefaultIndexParams()
	params.TargetDim = 4
	eng := New(persist, index.NewDefaultFactory(), WithParams(params))
	t.Cleanup(func() { eng.Close() })
	return eng, persist
}

// seedCorpus ingests n embeddings drawn around per-cluster centers and
// returns the assigned ids grouped by cluster.
func seedCorpus(t *testing.T, eng *Engine, centers [][]float32, perCenter int, seed int64) [][]string {
	t.Helper()

	ctx := context.Background()
	rng := rand.New(rand.NewSource(seed))

	groups := make([][]string, len(centers))
	for ci, center := range centers {
		for i := 0; i < perCenter; i++ {
			vec := make([]float32, testDim)
			for j := range vec {
				vec[j] = center[j] + float32(rng.NormFloat64())*0.01
			}
			id, err := eng.Ingest(ctx, vec, core.SourceRef{MediaPath: "img.jpg"})
			if err != nil {
				t.Fatalf("ingest failed: %v", err)
			}
			groups[ci] = append(groups[ci], id)
		}
	}
	return groups
}

func testCenters(n int, seed int64) [][]float32 {
	rng := rand.New(rand.NewSource(seed))
	centers := make([][]float32, n)
	for i := range centers {
		center := make([]float32, testDim)
		for j := range center {
			center[j] = float32(rng.NormFloat64()) * 10
		}
		centers[i] = center
	}
	return centers
}

func TestSearchBeforeFit(t *testing.T) {
	eng, _ := testEngine(t)
	seedCorpus(t, eng, testCenters(1, 1), 3, 2)

	_, err := eng.Search(context.Background(), core.SearchRequest{
		Query: make([]float32, testDim),
		TopK:  5,
	})
	if !errors.Is(err, core.ErrNoBasis) {
		t.Errorf("expected ErrNoBasis, got %v", err)
	}
}

func TestIngestValidation(t *testing.T) {
	eng, _ := testEngine(t)
	ctx := context.Background()

	if _, err := eng.Ingest(ctx, nil, core.SourceRef{}); !errors.Is(err, core.ErrEmptyVector) {
		t.Errorf("expected ErrEmptyVector, got %v", err)
	}

	if _, err := eng.Ingest(ctx, make([]float32, testDim), core.SourceRef{}); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	// The first ingest fixes the corpus dimensionality.
	if _, err := eng.Ingest(ctx, make([]float32, testDim+1), core.SourceRef{}); !errors.Is(err, core.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestIngestFitSearch(t *testing.T) {
	eng, _ := testEngine(t)
	ctx := context.Background()

	centers := testCenters(2, 3)
	groups := seedCorpus(t, eng, centers, 10, 4)

	if err := eng.Fit(ctx, 4); err != nil {
		t.Fatalf("fit failed: %v", err)
	}

	results, err := eng.Search(ctx, core.SearchRequest{Query: centers[0], TopK: 10})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("search returned no results")
	}

	// Results are sorted by ascending distance.
	for i := 1; i < len(results); i++ {
		if results[i].Distance < results[i-1].Distance {
			t.Errorf("results out of order at %d: %v > %v", i, results[i-1].Distance, results[i].Distance)
		}
	}

	// The nearest result belongs to the queried cluster and carries
	// its source metadata.
	wanted := make(map[string]struct{}, len(groups[0]))
	for _, id := range groups[0] {
		wanted[id] = struct{}{}
	}
	if _, ok := wanted[results[0].ID]; !ok {
		t.Errorf("nearest result %s is not from the queried cluster", results[0].ID)
	}
	if results[0].Source == nil || results[0].Source.MediaPath != "img.jpg" {
		t.Errorf("result lost its source metadata: %+v", results[0].Source)
	}
}

func TestSearchTopKAndThreshold(t *testing.T) {
	eng, _ := testEngine(t)
	ctx := context.Background()

	centers := testCenters(1, 5)
	seedCorpus(t, eng, centers, 12, 6)

	if err := eng.Fit(ctx, 4); err != nil {
		t.Fatalf("fit failed: %v", err)
	}

	results, err := eng.Search(ctx, core.SearchRequest{Query: centers[0], TopK: 3})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) > 3 {
		t.Errorf("top-k returned %d results", len(results))
	}

	// All cluster members sit within a tight radius of the center, so
	// a generous threshold returns all of them and a tiny one returns
	// none.
	results, err = eng.Search(ctx, core.SearchRequest{Query: centers[0], DistanceThreshold: 5})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	for _, r := range results {
		if r.Distance > 5 {
			t.Errorf("result %s at distance %v exceeds threshold", r.ID, r.Distance)
		}
	}

	results, err = eng.Search(ctx, core.SearchRequest{Query: centers[0], DistanceThreshold: 1e-6})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results under a tiny threshold, got %d", len(results))
	}
}

func TestRemoveExcludesFromSearch(t *testing.T) {
	eng, _ := testEngine(t)
	ctx := context.Background()

	centers := testCenters(1, 7)
	groups := seedCorpus(t, eng, centers, 5, 8)

	if err := eng.Fit(ctx, 4); err != nil {
		t.Fatalf("fit failed: %v", err)
	}

	removed := groups[0][0]
	if err := eng.Remove(ctx, removed); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	results, err := eng.Search(ctx, core.SearchRequest{Query: centers[0], TopK: 10})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	for _, r := range results {
		if r.ID == removed {
			t.Error("removed point still appears in search results")
		}
	}

	if _, err := eng.Get(ctx, removed); !errors.Is(err, core.ErrPointNotFound) {
		t.Errorf("expected ErrPointNotFound after removal, got %v", err)
	}
	if err := eng.Remove(ctx, removed); !errors.Is(err, core.ErrPointNotFound) {
		t.Errorf("expected ErrPointNotFound for double removal, got %v", err)
	}
}

func TestIngestAfterFitIsSearchable(t *testing.T) {
	eng, _ := testEngine(t)
	ctx := context.Background()

	centers := testCenters(1, 9)
	seedCorpus(t, eng, centers, 6, 10)

	if err := eng.Fit(ctx, 4); err != nil {
		t.Fatalf("fit failed: %v", err)
	}

	// A fresh point near the center must be reduced with the active
	// basis and become query-visible without a re-fit.
	late := make([]float32, testDim)
	copy(late, centers[0])
	late[0] += 0.005
	id, err := eng.Ingest(ctx, late, core.SourceRef{})
	if err != nil {
		t.Fatalf("ingest after fit failed: %v", err)
	}

	results, err := eng.Search(ctx, core.SearchRequest{Query: centers[0], TopK: 10})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	found := false
	for _, r := range results {
		if r.ID == id {
			found = true
			break
		}
	}
	if !found {
		t.Error("point ingested after fit is not searchable")
	}
}

func TestFitInsufficientCorpus(t *testing.T) {
	eng, _ := testEngine(t)
	ctx := context.Background()

	seedCorpus(t, eng, testCenters(1, 11), 2, 12)

	if err := eng.Fit(ctx, 4); !errors.Is(err, core.ErrInsufficientData) {
		t.Errorf("expected ErrInsufficientData, got %v", err)
	}
	if eng.BasisVersion() != "" {
		t.Error("failed fit published a basis")
	}
}

func TestFitCancelledKeepsOldSnapshot(t *testing.T) {
	eng, _ := testEngine(t)
	ctx := context.Background()

	centers := testCenters(1, 13)
	seedCorpus(t, eng, centers, 8, 14)

	if err := eng.Fit(ctx, 4); err != nil {
		t.Fatalf("fit failed: %v", err)
	}
	version := eng.BasisVersion()

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if err := eng.Fit(cancelled, 4); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// The old snapshot keeps serving.
	if eng.BasisVersion() != version {
		t.Error("cancelled fit replaced the published basis")
	}
	if _, err := eng.Search(ctx, core.SearchRequest{Query: centers[0], TopK: 3}); err != nil {
		t.Errorf("search after cancelled fit failed: %v", err)
	}
}

func TestRefitChangesVersionAndKeepsServing(t *testing.T) {
	eng, _ := testEngine(t)
	ctx := context.Background()

	centers := testCenters(1, 15)
	seedCorpus(t, eng, centers, 8, 16)

	if err := eng.Fit(ctx, 4); err != nil {
		t.Fatalf("fit failed: %v", err)
	}
	first := eng.BasisVersion()

	if err := eng.Fit(ctx, 4); err != nil {
		t.Fatalf("re-fit failed: %v", err)
	}
	second := eng.BasisVersion()

	if first == second {
		t.Error("re-fit kept the old basis version")
	}
	if _, err := eng.Search(ctx, core.SearchRequest{Query: centers[0], TopK: 3}); err != nil {
		t.Errorf("search after re-fit failed: %v", err)
	}
}

func TestSearchTiesOrderedByID(t *testing.T) {
	// Mirror-image points around the origin are exactly equidistant
	// from a centered query; equal distances must come back in
	// ascending id order.
	persist := persistence.NewMemoryPersistence()
	params := core.DefaultIndexParams()
	params.TargetDim = 2
	eng := New(persist, index.NewDefaultFactory(), WithParams(params), WithIndexType("flat"))
	defer eng.Close()
	ctx := context.Background()

	for _, axis := range []int{0, 1} {
		for _, sign := range []float32{1, -1} {
			vec := make([]float32, testDim)
			vec[axis] = sign
			if _, err := eng.Ingest(ctx, vec, core.SourceRef{}); err != nil {
				t.Fatalf("ingest failed: %v", err)
			}
		}
	}
	if err := eng.Fit(ctx, 2); err != nil {
		t.Fatalf("fit failed: %v", err)
	}

	results, err := eng.Search(ctx, core.SearchRequest{Query: make([]float32, testDim), TopK: 10})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("expected all 4 points, got %d results", len(results))
	}

	ties := 0
	for i := 1; i < len(results); i++ {
		if results[i].Distance < results[i-1].Distance {
			t.Errorf("results out of order at %d: %v > %v", i, results[i-1].Distance, results[i].Distance)
		}
		if results[i].Distance == results[i-1].Distance {
			ties++
			if results[i-1].ID >= results[i].ID {
				t.Errorf("tied results out of id order: %s before %s", results[i-1].ID, results[i].ID)
			}
		}
	}
	// Each mirror pair shares an exact distance, so at least two
	// adjacent ties must occur.
	if ties < 2 {
		t.Errorf("expected at least 2 exact distance ties, got %d", ties)
	}
}

func TestConcurrentFits(t *testing.T) {
	eng, _ := testEngine(t)
	ctx := context.Background()

	centers := testCenters(1, 27)
	seedCorpus(t, eng, centers, 8, 28)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = eng.Fit(ctx, 4)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("concurrent fit %d failed: %v", i, err)
		}
	}
	if eng.BasisVersion() == "" {
		t.Fatal("no basis published after concurrent fits")
	}
	if _, err := eng.Search(ctx, core.SearchRequest{Query: centers[0], TopK: 3}); err != nil {
		t.Errorf("search after concurrent fits failed: %v", err)
	}
}

// failingPersistence fails basis saves to simulate a crash in the
// middle of persisting a fit bundle.
type failingPersistence struct {
	core.Persistence
}

func (f *failingPersistence) SaveBasis(ctx context.Context, data []byte) error {
	return fmt.Errorf("disk full")
}

func TestInterruptedFitVisibleAfterRecovery(t *testing.T) {
	persist := persistence.NewMemoryPersistence()
	params := core.DefaultIndexParams()
	params.TargetDim = 4
	eng := New(&failingPersistence{Persistence: persist}, index.NewDefaultFactory(), WithParams(params))
	ctx := context.Background()

	centers := testCenters(1, 29)
	rng := rand.New(rand.NewSource(30))
	for i := 0; i < 8; i++ {
		vec := make([]float32, testDim)
		for j := range vec {
			vec[j] = centers[0][j] + float32(rng.NormFloat64())*0.01
		}
		if _, err := eng.Ingest(ctx, vec, core.SourceRef{}); err != nil {
			t.Fatalf("ingest failed: %v", err)
		}
	}

	// The fit persists points and index state, then dies on the basis
	// save. Nothing is published.
	if err := eng.Fit(ctx, 4); err == nil {
		t.Fatal("expected fit to fail on basis save")
	}
	if eng.BasisVersion() != "" {
		t.Error("failed fit published a basis")
	}
	eng.Close()

	// Recovery over the partial bundle must report the missing basis
	// loudly rather than serve an empty index.
	recovered, err := NewWithRecovery(ctx, persist, index.NewDefaultFactory(), WithParams(params))
	if err != nil {
		t.Fatalf("recovery failed: %v", err)
	}
	defer recovered.Close()

	_, err = recovered.Search(ctx, core.SearchRequest{Query: centers[0], TopK: 3})
	if !errors.Is(err, core.ErrNoBasis) {
		t.Errorf("expected ErrNoBasis, got %v", err)
	}
}

func TestRecoveryRoundTrip(t *testing.T) {
	persist := persistence.NewMemoryPersistence()
	params := core.DefaultIndexParams()
	params.TargetDim = 4
	eng := New(persist, index.NewDefaultFactory(), WithParams(params))
	ctx := context.Background()

	centers := testCenters(2, 17)
	rng := rand.New(rand.NewSource(18))
	ids := make([]string, 0, 16)
	for _, center := range centers {
		for i := 0; i < 8; i++ {
			vec := make([]float32, testDim)
			for j := range vec {
				vec[j] = center[j] + float32(rng.NormFloat64())*0.01
			}
			id, err := eng.Ingest(ctx, vec, core.SourceRef{MediaPath: "img.jpg"})
			if err != nil {
				t.Fatalf("ingest failed: %v", err)
			}
			ids = append(ids, id)
		}
	}
	if err := eng.Fit(ctx, 4); err != nil {
		t.Fatalf("fit failed: %v", err)
	}
	version := eng.BasisVersion()

	want, err := eng.Search(ctx, core.SearchRequest{Query: centers[0], TopK: 5})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	eng.Close()

	// A fresh engine on the same store serves identical results.
	recovered, err := NewWithRecovery(ctx, persist, index.NewDefaultFactory(), WithParams(params))
	if err != nil {
		t.Fatalf("recovery failed: %v", err)
	}
	defer recovered.Close()

	if recovered.BasisVersion() != version {
		t.Errorf("recovered basis %s, expected %s", recovered.BasisVersion(), version)
	}

	got, err := recovered.Search(ctx, core.SearchRequest{Query: centers[0], TopK: 5})
	if err != nil {
		t.Fatalf("search after recovery failed: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("recovered search returned %d results, expected %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i].ID {
			t.Errorf("result %d: got %s, expected %s", i, got[i].ID, want[i].ID)
		}
	}

	if _, err := recovered.Get(ctx, ids[0]); err != nil {
		t.Errorf("recovered engine lost point %s: %v", ids[0], err)
	}
}

func TestRecoveryRebuildsIndexWithoutState(t *testing.T) {
	persist := persistence.NewMemoryPersistence()
	params := core.DefaultIndexParams()
	params.TargetDim = 4
	eng := New(persist, index.NewDefaultFactory(), WithParams(params))
	ctx := context.Background()

	centers := testCenters(1, 19)
	rng := rand.New(rand.NewSource(20))
	for i := 0; i < 8; i++ {
		vec := make([]float32, testDim)
		for j := range vec {
			vec[j] = centers[0][j] + float32(rng.NormFloat64())*0.01
		}
		if _, err := eng.Ingest(ctx, vec, core.SourceRef{}); err != nil {
			t.Fatalf("ingest failed: %v", err)
		}
	}
	if err := eng.Fit(ctx, 4); err != nil {
		t.Fatalf("fit failed: %v", err)
	}
	eng.Close()

	// Drop the serialized index; recovery must rebuild it from the
	// stored reduced vectors.
	if err := persist.SaveIndexState(ctx, nil); err != nil {
		t.Fatalf("failed to clear index state: %v", err)
	}

	recovered, err := NewWithRecovery(ctx, persist, index.NewDefaultFactory(), WithParams(params))
	if err != nil {
		t.Fatalf("recovery failed: %v", err)
	}
	defer recovered.Close()

	results, err := recovered.Search(ctx, core.SearchRequest{Query: centers[0], TopK: 5})
	if err != nil {
		t.Fatalf("search after rebuild failed: %v", err)
	}
	if len(results) == 0 {
		t.Error("rebuilt index returned no results")
	}
}

func TestRecoveryCorruptBasis(t *testing.T) {
	persist := persistence.NewMemoryPersistence()
	ctx := context.Background()

	if err := persist.SaveBasis(ctx, []byte("not a basis")); err != nil {
		t.Fatalf("failed to plant corrupt basis: %v", err)
	}

	_, err := NewWithRecovery(ctx, persist, index.NewDefaultFactory())
	if !errors.Is(err, core.ErrCorruptState) {
		t.Errorf("expected ErrCorruptState, got %v", err)
	}
}

func TestStaleIndexSurfacesAtSearch(t *testing.T) {
	persist := persistence.NewMemoryPersistence()
	params := core.DefaultIndexParams()
	params.TargetDim = 4
	eng := New(persist, index.NewDefaultFactory(), WithParams(params))
	ctx := context.Background()

	centers := testCenters(1, 21)
	rng := rand.New(rand.NewSource(22))
	for i := 0; i < 8; i++ {
		vec := make([]float32, testDim)
		for j := range vec {
			vec[j] = centers[0][j] + float32(rng.NormFloat64())*0.01
		}
		if _, err := eng.Ingest(ctx, vec, core.SourceRef{}); err != nil {
			t.Fatalf("ingest failed: %v", err)
		}
	}
	if err := eng.Fit(ctx, 4); err != nil {
		t.Fatalf("fit failed: %v", err)
	}

	// Keep the index state from the first fit, then re-fit and restore
	// the stale state, as if the process died between the two saves.
	staleState, err := persist.LoadIndexState(ctx)
	if err != nil {
		t.Fatalf("failed to load index state: %v", err)
	}
	if err := eng.Fit(ctx, 4); err != nil {
		t.Fatalf("re-fit failed: %v", err)
	}
	if err := persist.SaveIndexState(ctx, staleState); err != nil {
		t.Fatalf("failed to restore stale state: %v", err)
	}
	eng.Close()

	recovered, err := NewWithRecovery(ctx, persist, index.NewDefaultFactory(), WithParams(params))
	if err != nil {
		t.Fatalf("recovery failed: %v", err)
	}
	defer recovered.Close()

	_, err = recovered.Search(ctx, core.SearchRequest{Query: centers[0], TopK: 3})
	if !errors.Is(err, core.ErrStaleIndex) {
		t.Errorf("expected ErrStaleIndex, got %v", err)
	}
}

func TestGroupResults(t *testing.T) {
	// Exhaustive candidate lookup keeps both identities in the result
	// set regardless of their separation.
	persist := persistence.NewMemoryPersistence()
	params := core.DefaultIndexParams()
	params.TargetDim = 4
	eng := New(persist, index.NewDefaultFactory(), WithParams(params), WithIndexType("flat"))
	defer eng.Close()
	ctx := context.Background()

	// Two identities close enough to match the same query.
	base := testCenters(1, 23)[0]
	other := make([]float32, testDim)
	copy(other, base)
	other[0] += 2

	groups := seedCorpus(t, eng, [][]float32{base, other}, 6, 24)

	if err := eng.Fit(ctx, 4); err != nil {
		t.Fatalf("fit failed: %v", err)
	}

	results, err := eng.Search(ctx, core.SearchRequest{Query: base, DistanceThreshold: 10})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 12 {
		t.Fatalf("expected both identities in the result set, got %d results", len(results))
	}

	clustered, err := eng.GroupResults(ctx, results, clustering.DefaultOptions())
	if err != nil {
		t.Fatalf("grouping failed: %v", err)
	}
	if len(clustered) != 2 {
		t.Fatalf("expected 2 identity groups, got %d", len(clustered))
	}

	members := make(map[string]string, 12)
	for _, g := range clustered {
		if len(g.Members) != 6 {
			t.Errorf("group %s has %d members, expected 6", g.Label, len(g.Members))
		}
		if len(g.Representative) != 4 {
			t.Errorf("group %s representative has dimension %d, expected 4", g.Label, len(g.Representative))
		}
		if len(g.Sources) != len(g.Members) {
			t.Errorf("group %s carries %d sources for %d members", g.Label, len(g.Sources), len(g.Members))
		}
		for _, id := range g.Members {
			members[id] = g.Label
		}
	}
	for _, id := range groups[0][1:] {
		if members[id] != members[groups[0][0]] {
			t.Error("first identity was split across groups")
		}
	}
	for _, id := range groups[1] {
		if members[id] == members[groups[0][0]] {
			t.Error("the two identities were merged")
		}
	}
}

func TestGroupResultsWithoutBasis(t *testing.T) {
	eng, _ := testEngine(t)

	_, err := eng.GroupResults(context.Background(), nil, clustering.DefaultOptions())
	if !errors.Is(err, core.ErrNoBasis) {
		t.Errorf("expected ErrNoBasis, got %v", err)
	}
}

func TestStats(t *testing.T) {
	eng, _ := testEngine(t)
	ctx := context.Background()

	centers := testCenters(1, 25)
	groups := seedCorpus(t, eng, centers, 6, 26)

	stats := eng.Stats()
	if stats.Points != 6 || stats.Deleted != 0 {
		t.Errorf("stats before fit: %+v", stats)
	}
	if stats.BasisVersion != "" {
		t.Error("stats report a basis before any fit")
	}

	if err := eng.Fit(ctx, 4); err != nil {
		t.Fatalf("fit failed: %v", err)
	}
	if err := eng.Remove(ctx, groups[0][0]); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	stats = eng.Stats()
	if stats.Points != 5 || stats.Deleted != 1 {
		t.Errorf("stats after removal: %+v", stats)
	}
	if stats.BasisVersion == "" || stats.TargetDim != 4 {
		t.Errorf("stats missing basis info: %+v", stats)
	}
	if stats.IndexType != "lsh" || stats.IndexSize != 5 {
		t.Errorf("stats missing index info: %+v", stats)
	}
}
