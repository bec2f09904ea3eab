package persistence

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/checktor/amnesiadb/core"
)

func TestMemoryPersistence(t *testing.T) {
	persist := NewMemoryPersistence()
	defer persist.Close()

	testPersistenceOperations(t, persist)
}

func TestBoltPersistence(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.bolt")

	persist, err := NewBoltPersistence(dbPath)
	if err != nil {
		t.Fatalf("Failed to create BoltDB persistence: %v", err)
	}
	defer persist.Close()

	testPersistenceOperations(t, persist)
}

func TestBadgerPersistence(t *testing.T) {
	tmpDir := t.TempDir()

	persist, err := NewBadgerPersistence(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create BadgerDB persistence: %v", err)
	}
	defer persist.Close()

	testPersistenceOperations(t, persist)
}

// testPersistenceOperations runs the shared suite on any persistence
// implementation.
func testPersistenceOperations(t *testing.T, persist core.Persistence) {
	ctx := context.Background()

	frame := 3
	pt := core.DataPoint{
		ID:           "pt1",
		Embedding:    []float32{1, 2, 3, 4},
		Reduced:      []float32{0.5, 0.5},
		BasisVersion: "v1",
		Source: core.SourceRef{
			MediaPath:  "video.mp4",
			FrameIndex: &frame,
			Box:        core.BoundingBox{X: 10, Y: 20, Width: 30, Height: 40},
		},
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	if err := persist.SaveDataPoint(ctx, pt); err != nil {
		t.Fatalf("Failed to save data point: %v", err)
	}

	loaded, err := persist.LoadDataPoint(ctx, "pt1")
	if err != nil {
		t.Fatalf("Failed to load data point: %v", err)
	}
	if loaded.ID != pt.ID ||
		!reflect.DeepEqual(loaded.Embedding, pt.Embedding) ||
		!reflect.DeepEqual(loaded.Reduced, pt.Reduced) ||
		loaded.BasisVersion != pt.BasisVersion {
		t.Errorf("Loaded point differs: %+v vs %+v", loaded, pt)
	}
	if loaded.Source.MediaPath != pt.Source.MediaPath ||
		loaded.Source.FrameIndex == nil || *loaded.Source.FrameIndex != frame ||
		loaded.Source.Box != pt.Source.Box {
		t.Errorf("Loaded source differs: %+v vs %+v", loaded.Source, pt.Source)
	}

	// Overwriting a point replaces it.
	pt.Deleted = true
	if err := persist.SaveDataPoint(ctx, pt); err != nil {
		t.Fatalf("Failed to overwrite data point: %v", err)
	}
	loaded, err = persist.LoadDataPoint(ctx, "pt1")
	if err != nil {
		t.Fatalf("Failed to reload data point: %v", err)
	}
	if !loaded.Deleted {
		t.Error("Overwrite did not persist the deletion flag")
	}

	// Batch save plus load-all.
	batch := []core.DataPoint{
		{ID: "pt2", Embedding: []float32{5, 6, 7, 8}, CreatedAt: time.Now().UTC()},
		{ID: "pt3", Embedding: []float32{9, 10, 11, 12}, CreatedAt: time.Now().UTC()},
	}
	if err := persist.SaveDataPoints(ctx, batch); err != nil {
		t.Fatalf("Failed to save batch: %v", err)
	}
	all, err := persist.LoadDataPoints(ctx)
	if err != nil {
		t.Fatalf("Failed to load all points: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("Loaded %d points, expected 3", len(all))
	}

	// Missing ids are a not-found error.
	if _, err := persist.LoadDataPoint(ctx, "missing"); !errors.Is(err, core.ErrPointNotFound) {
		t.Errorf("Expected ErrPointNotFound, got %v", err)
	}

	// Deleting removes the record entirely.
	if err := persist.DeleteDataPoint(ctx, "pt3"); err != nil {
		t.Fatalf("Failed to delete data point: %v", err)
	}
	if _, err := persist.LoadDataPoint(ctx, "pt3"); !errors.Is(err, core.ErrPointNotFound) {
		t.Errorf("Expected ErrPointNotFound after delete, got %v", err)
	}
	if err := persist.DeleteDataPoint(ctx, "pt3"); !errors.Is(err, core.ErrPointNotFound) {
		t.Errorf("Expected ErrPointNotFound for double delete, got %v", err)
	}

	// Bundle blobs: unset loads are (nil, nil).
	blob, err := persist.LoadBasis(ctx)
	if err != nil {
		t.Fatalf("Failed to load unset basis: %v", err)
	}
	if blob != nil {
		t.Errorf("Unset basis should load as nil, got %v", blob)
	}

	basisBlob := []byte(`{"version":"v1"}`)
	if err := persist.SaveBasis(ctx, basisBlob); err != nil {
		t.Fatalf("Failed to save basis: %v", err)
	}
	blob, err = persist.LoadBasis(ctx)
	if err != nil {
		t.Fatalf("Failed to load basis: %v", err)
	}
	if !reflect.DeepEqual(blob, basisBlob) {
		t.Errorf("Loaded basis %s, expected %s", blob, basisBlob)
	}

	stateBlob := []byte(`{"tables":[]}`)
	if err := persist.SaveIndexState(ctx, stateBlob); err != nil {
		t.Fatalf("Failed to save index state: %v", err)
	}
	blob, err = persist.LoadIndexState(ctx)
	if err != nil {
		t.Fatalf("Failed to load index state: %v", err)
	}
	if !reflect.DeepEqual(blob, stateBlob) {
		t.Errorf("Loaded index state %s, expected %s", blob, stateBlob)
	}

	// Parameters: unset loads are (nil, nil).
	params, err := persist.LoadParams(ctx)
	if err != nil {
		t.Fatalf("Failed to load unset params: %v", err)
	}
	if params != nil {
		t.Errorf("Unset params should load as nil, got %+v", params)
	}

	saved := core.IndexParams{NumTables: 7, NumFunctions: 6, BucketWidth: 0.95, TargetDim: 32, Seed: 1}
	if err := persist.SaveParams(ctx, saved); err != nil {
		t.Fatalf("Failed to save params: %v", err)
	}
	params, err = persist.LoadParams(ctx)
	if err != nil {
		t.Fatalf("Failed to load params: %v", err)
	}
	if params == nil || *params != saved {
		t.Errorf("Loaded params %+v, expected %+v", params, saved)
	}
}

func TestBoltPersistenceReopen(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.bolt")

	persist, err := NewBoltPersistence(dbPath)
	if err != nil {
		t.Fatalf("Failed to create BoltDB persistence: %v", err)
	}

	ctx := context.Background()
	pt := core.DataPoint{ID: "pt1", Embedding: []float32{1, 2, 3}, CreatedAt: time.Now().UTC()}
	if err := persist.SaveDataPoint(ctx, pt); err != nil {
		t.Fatalf("Failed to save data point: %v", err)
	}
	if err := persist.SaveBasis(ctx, []byte("basis")); err != nil {
		t.Fatalf("Failed to save basis: %v", err)
	}
	if err := persist.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}

	// Data survives process restart.
	reopened, err := NewBoltPersistence(dbPath)
	if err != nil {
		t.Fatalf("Failed to reopen BoltDB persistence: %v", err)
	}
	defer reopened.Close()

	if _, err := reopened.LoadDataPoint(ctx, "pt1"); err != nil {
		t.Errorf("Point lost across reopen: %v", err)
	}
	blob, err := reopened.LoadBasis(ctx)
	if err != nil {
		t.Fatalf("Failed to load basis after reopen: %v", err)
	}
	if string(blob) != "basis" {
		t.Errorf("Basis lost across reopen: %s", blob)
	}
}

func TestFactoryCreatePersistence(t *testing.T) {
	factory := NewDefaultFactory()

	mem, err := factory.CreatePersistence(PersistenceConfig{Type: PersistenceMemory})
	if err != nil {
		t.Fatalf("Failed to create memory persistence: %v", err)
	}
	mem.Close()

	tmpDir := t.TempDir()
	bolt, err := factory.CreatePersistence(PersistenceConfig{
		Type: PersistenceBolt,
		Path: filepath.Join(tmpDir, "test.bolt"),
	})
	if err != nil {
		t.Fatalf("Failed to create bolt persistence: %v", err)
	}
	bolt.Close()

	if _, err := factory.CreatePersistence(PersistenceConfig{Type: "cassandra"}); err == nil {
		t.Error("Expected error for unsupported persistence type")
	}
}

func TestValidateConfig(t *testing.T) {
	if err := ValidateConfig(PersistenceConfig{Type: PersistenceMemory}); err != nil {
		t.Errorf("Memory config rejected: %v", err)
	}
	if err := ValidateConfig(PersistenceConfig{Type: PersistenceBolt}); err == nil {
		t.Error("Expected error for bolt config without path")
	}
	if err := ValidateConfig(PersistenceConfig{Type: PersistenceBadger}); err == nil {
		t.Error("Expected error for badger config without path")
	}
	if err := ValidateConfig(PersistenceConfig{Type: "cassandra", Path: "x"}); err == nil {
		t.Error("Expected error for unknown type")
	}
}
