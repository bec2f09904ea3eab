package persistence

import (
	"context"
	"fmt"
	"sync"

	"github.com/checktor/amnesiadb/core"
)

// MemoryPersistence implements in-memory storage (non-persistent)
type MemoryPersistence struct {
	mu         sync.RWMutex
	points     map[string]core.DataPoint
	basis      []byte
	indexState []byte
	params     *core.IndexParams
}

// NewMemoryPersistence creates a new in-memory persistence layer
func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{
		points: make(map[string]core.DataPoint),
	}
}

// SaveDataPoint stores a data point in memory
func (m *MemoryPersistence) SaveDataPoint(ctx context.Context, pt core.DataPoint) error {
	if err := core.ValidateDataPoint(pt); err != nil {
		return fmt.Errorf("invalid data point: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.points[pt.ID] = pt
	return nil
}

// SaveDataPoints stores a batch of data points
func (m *MemoryPersistence) SaveDataPoints(ctx context.Context, pts []core.DataPoint) error {
	for _, pt := range pts {
		if err := core.ValidateDataPoint(pt); err != nil {
			return fmt.Errorf("invalid data point: %w", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, pt := range pts {
		m.points[pt.ID] = pt
	}
	return nil
}

// LoadDataPoint retrieves a data point by ID
func (m *MemoryPersistence) LoadDataPoint(ctx context.Context, id string) (core.DataPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pt, exists := m.points[id]
	if !exists {
		return core.DataPoint{}, fmt.Errorf("%w: %s", core.ErrPointNotFound, id)
	}
	return pt, nil
}

// LoadDataPoints retrieves all stored data points
func (m *MemoryPersistence) LoadDataPoints(ctx context.Context) ([]core.DataPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pts := make([]core.DataPoint, 0, len(m.points))
	for _, pt := range m.points {
		pts = append(pts, pt)
	}
	return pts, nil
}

// DeleteDataPoint removes a data point record
func (m *MemoryPersistence) DeleteDataPoint(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.points[id]; !exists {
		return fmt.Errorf("%w: %s", core.ErrPointNotFound, id)
	}
	delete(m.points, id)
	return nil
}

// SaveBasis stores the serialized reduction basis
func (m *MemoryPersistence) SaveBasis(ctx context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.basis = append([]byte(nil), data...)
	return nil
}

// LoadBasis retrieves the serialized reduction basis, nil if unset
func (m *MemoryPersistence) LoadBasis(ctx context.Context) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.basis == nil {
		return nil, nil
	}
	return append([]byte(nil), m.basis...), nil
}

// SaveIndexState stores the serialized index state
func (m *MemoryPersistence) SaveIndexState(ctx context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.indexState = append([]byte(nil), data...)
	return nil
}

// LoadIndexState retrieves the serialized index state, nil if unset
func (m *MemoryPersistence) LoadIndexState(ctx context.Context) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.indexState == nil {
		return nil, nil
	}
	return append([]byte(nil), m.indexState...), nil
}

// SaveParams stores the LSH parameters
func (m *MemoryPersistence) SaveParams(ctx context.Context, params core.IndexParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.params = &params
	return nil
}

// LoadParams retrieves the LSH parameters, nil if unset
func (m *MemoryPersistence) LoadParams(ctx context.Context) (*core.IndexParams, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.params == nil {
		return nil, nil
	}
	params := *m.params
	return &params, nil
}

// Close is a no-op for memory persistence
func (m *MemoryPersistence) Close() error {
	return nil
}
