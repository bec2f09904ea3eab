package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/checktor/amnesiadb/core"
)

const (
	// Bucket names for different data types
	pointsBucket  = "points"
	bundleBucket  = "bundle"
	basisKey      = "basis"
	indexStateKey = "index_state"
	paramsKey     = "params"
)

// BoltPersistence implements persistence using BoltDB
type BoltPersistence struct {
	db   *bbolt.DB
	path string
}

// NewBoltPersistence creates a new BoltDB persistence layer
func NewBoltPersistence(dbPath string) (*BoltPersistence, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open BoltDB at %s: %w", dbPath, err)
	}

	p := &BoltPersistence{
		db:   db,
		path: dbPath,
	}

	if err := p.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return p, nil
}

// initBuckets creates the required buckets if they don't exist
func (b *BoltPersistence) initBuckets() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(pointsBucket)); err != nil {
			return fmt.Errorf("failed to create points bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(bundleBucket)); err != nil {
			return fmt.Errorf("failed to create bundle bucket: %w", err)
		}
		return nil
	})
}

// SaveDataPoint stores a data point in BoltDB
func (b *BoltPersistence) SaveDataPoint(ctx context.Context, pt core.DataPoint) error {
	if err := core.ValidateDataPoint(pt); err != nil {
		return fmt.Errorf("invalid data point: %w", err)
	}

	data, err := json.Marshal(pt)
	if err != nil {
		return fmt.Errorf("failed to marshal data point: %w", err)
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(pointsBucket)).Put([]byte(pt.ID), data)
	})
}

// SaveDataPoints stores a batch of data points in one transaction
func (b *BoltPersistence) SaveDataPoints(ctx context.Context, pts []core.DataPoint) error {
	for _, pt := range pts {
		if err := core.ValidateDataPoint(pt); err != nil {
			return fmt.Errorf("invalid data point: %w", err)
		}
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(pointsBucket))
		for _, pt := range pts {
			data, err := json.Marshal(pt)
			if err != nil {
				return fmt.Errorf("failed to marshal data point %s: %w", pt.ID, err)
			}
			if err := bucket.Put([]byte(pt.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadDataPoint retrieves a data point by ID from BoltDB
func (b *BoltPersistence) LoadDataPoint(ctx context.Context, id string) (core.DataPoint, error) {
	var pt core.DataPoint

	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(pointsBucket)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", core.ErrPointNotFound, id)
		}
		return json.Unmarshal(data, &pt)
	})

	if err != nil {
		return core.DataPoint{}, err
	}
	return pt, nil
}

// LoadDataPoints retrieves all data points from BoltDB
func (b *BoltPersistence) LoadDataPoints(ctx context.Context) ([]core.DataPoint, error) {
	var pts []core.DataPoint

	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(pointsBucket)).ForEach(func(k, v []byte) error {
			var pt core.DataPoint
			if err := json.Unmarshal(v, &pt); err != nil {
				return fmt.Errorf("%w: failed to unmarshal data point %s: %v", core.ErrCorruptState, k, err)
			}
			pts = append(pts, pt)
			return nil
		})
	})

	if err != nil {
		return nil, err
	}
	return pts, nil
}

// DeleteDataPoint removes a data point record from BoltDB
func (b *BoltPersistence) DeleteDataPoint(ctx context.Context, id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(pointsBucket))
		if bucket.Get([]byte(id)) == nil {
			return fmt.Errorf("%w: %s", core.ErrPointNotFound, id)
		}
		return bucket.Delete([]byte(id))
	})
}

// SaveBasis stores the serialized reduction basis
func (b *BoltPersistence) SaveBasis(ctx context.Context, data []byte) error {
	return b.putBundle(basisKey, data)
}

// LoadBasis retrieves the serialized reduction basis, nil if unset
func (b *BoltPersistence) LoadBasis(ctx context.Context) ([]byte, error) {
	return b.getBundle(basisKey)
}

// SaveIndexState stores the serialized index state
func (b *BoltPersistence) SaveIndexState(ctx context.Context, data []byte) error {
	return b.putBundle(indexStateKey, data)
}

// LoadIndexState retrieves the serialized index state, nil if unset
func (b *BoltPersistence) LoadIndexState(ctx context.Context) ([]byte, error) {
	return b.getBundle(indexStateKey)
}

// SaveParams stores the LSH parameters
func (b *BoltPersistence) SaveParams(ctx context.Context, params core.IndexParams) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal parameters: %w", err)
	}
	return b.putBundle(paramsKey, data)
}

// LoadParams retrieves the LSH parameters, nil if unset
func (b *BoltPersistence) LoadParams(ctx context.Context) (*core.IndexParams, error) {
	data, err := b.getBundle(paramsKey)
	if err != nil || data == nil {
		return nil, err
	}

	var params core.IndexParams
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal parameters: %v", core.ErrCorruptState, err)
	}
	return &params, nil
}

// Close closes the BoltDB database
func (b *BoltPersistence) Close() error {
	return b.db.Close()
}

func (b *BoltPersistence) putBundle(key string, data []byte) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bundleBucket)).Put([]byte(key), data)
	})
}

func (b *BoltPersistence) getBundle(key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bundleBucket)).Get([]byte(key))
		if data != nil {
			out = append([]byte(nil), data...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
