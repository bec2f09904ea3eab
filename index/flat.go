package index

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/checktor/amnesiadb/core"
)

// FlatIndex is the exhaustive fallback: every indexed id is a
// candidate for every query. Retrieval stays exact because the engine
// re-ranks by true distance; this structure exists for small corpora
// and as the ground truth when calibrating LSH parameters.
type FlatIndex struct {
	mu           sync.RWMutex
	targetDim    int
	basisVersion string
	order        []string
	present      map[string]struct{}
}

// NewFlatIndex creates a new flat index over reduced vectors.
func NewFlatIndex(targetDim int, basisVersion string) (*FlatIndex, error) {
	if targetDim <= 0 {
		return nil, fmt.Errorf("target dimension must be positive, got %d", targetDim)
	}
	return &FlatIndex{
		targetDim:    targetDim,
		basisVersion: basisVersion,
		present:      make(map[string]struct{}),
	}, nil
}

// Insert records the id. The vector is only checked for dimensional
// consistency; flat lookup does not need to retain it.
func (f *FlatIndex) Insert(id string, vector []float32) error {
	if id == "" {
		return fmt.Errorf("id cannot be empty")
	}
	if err := core.ValidateDimension(vector, f.targetDim); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.present[id]; exists {
		return fmt.Errorf("%w: %s", core.ErrDuplicateID, id)
	}
	f.present[id] = struct{}{}
	f.order = append(f.order, id)
	return nil
}

// Remove deletes the id from the index.
func (f *FlatIndex) Remove(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.present[id]; !exists {
		return fmt.Errorf("%w: %s", core.ErrPointNotFound, id)
	}
	delete(f.present, id)
	for i, oid := range f.order {
		if oid == id {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	return nil
}

// Candidates returns every indexed id in insertion order.
func (f *FlatIndex) Candidates(query []float32) ([]string, error) {
	if err := core.ValidateDimension(query, f.targetDim); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	candidates := make([]string, len(f.order))
	copy(candidates, f.order)
	return candidates, nil
}

// BasisVersion returns the reduction basis generation of the index.
func (f *FlatIndex) BasisVersion() string {
	return f.basisVersion
}

// Size returns the number of indexed ids.
func (f *FlatIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.present)
}

// Type returns the index type
func (f *FlatIndex) Type() string {
	return "flat"
}

// flatIndexState represents the serializable state of a FlatIndex
type flatIndexState struct {
	TargetDim    int      `json:"target_dim"`
	BasisVersion string   `json:"basis_version"`
	Order        []string `json:"order"`
}

// Serialize converts the index state to bytes
func (f *FlatIndex) Serialize() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	state := flatIndexState{
		TargetDim:    f.targetDim,
		BasisVersion: f.basisVersion,
		Order:        f.order,
	}
	return json.Marshal(state)
}

// Deserialize restores the index state from bytes
func (f *FlatIndex) Deserialize(data []byte) error {
	var state flatIndexState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("%w: failed to unmarshal flat index state: %v", core.ErrCorruptState, err)
	}
	if state.TargetDim <= 0 {
		return fmt.Errorf("%w: flat index state has invalid dimension %d",
			core.ErrCorruptState, state.TargetDim)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.targetDim = state.TargetDim
	f.basisVersion = state.BasisVersion
	f.order = state.Order
	f.present = make(map[string]struct{}, len(state.Order))
	for _, id := range state.Order {
		f.present[id] = struct{}{}
	}
	return nil
}
