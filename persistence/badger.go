package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/checktor/amnesiadb/core"
)

const (
	// Key prefixes for different data types
	pointKeyPrefix  = "p:"
	bundleKeyPrefix = "b:"
)

// BadgerPersistence implements persistence using BadgerDB
type BadgerPersistence struct {
	db   *badger.DB
	path string
}

// NewBadgerPersistence creates a new BadgerDB persistence layer
func NewBadgerPersistence(dbPath string) (*BadgerPersistence, error) {
	// Ensure directory exists
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dbPath, err)
	}

	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Disable logging for cleaner output

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", dbPath, err)
	}

	return &BadgerPersistence{
		db:   db,
		path: dbPath,
	}, nil
}

func (b *BadgerPersistence) makePointKey(id string) []byte {
	return []byte(pointKeyPrefix + id)
}

func (b *BadgerPersistence) makeBundleKey(name string) []byte {
	return []byte(bundleKeyPrefix + name)
}

// SaveDataPoint stores a data point in BadgerDB
func (b *BadgerPersistence) SaveDataPoint(ctx context.Context, pt core.DataPoint) error {
	if err := core.ValidateDataPoint(pt); err != nil {
		return fmt.Errorf("invalid data point: %w", err)
	}

	data, err := json.Marshal(pt)
	if err != nil {
		return fmt.Errorf("failed to marshal data point: %w", err)
	}

	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(b.makePointKey(pt.ID), data)
	})
}

// SaveDataPoints stores a batch of data points using a write batch
func (b *BadgerPersistence) SaveDataPoints(ctx context.Context, pts []core.DataPoint) error {
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()

	for _, pt := range pts {
		if err := core.ValidateDataPoint(pt); err != nil {
			return fmt.Errorf("invalid data point: %w", err)
		}
		data, err := json.Marshal(pt)
		if err != nil {
			return fmt.Errorf("failed to marshal data point %s: %w", pt.ID, err)
		}
		if err := wb.Set(b.makePointKey(pt.ID), data); err != nil {
			return err
		}
	}

	return wb.Flush()
}

// LoadDataPoint retrieves a data point by ID from BadgerDB
func (b *BadgerPersistence) LoadDataPoint(ctx context.Context, id string) (core.DataPoint, error) {
	var pt core.DataPoint

	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(b.makePointKey(id))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return fmt.Errorf("%w: %s", core.ErrPointNotFound, id)
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &pt)
		})
	})

	if err != nil {
		return core.DataPoint{}, err
	}
	return pt, nil
}

// LoadDataPoints retrieves all stored data points
func (b *BadgerPersistence) LoadDataPoints(ctx context.Context) ([]core.DataPoint, error) {
	var pts []core.DataPoint
	prefix := []byte(pointKeyPrefix)

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchSize = 10
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var pt core.DataPoint
				if err := json.Unmarshal(val, &pt); err != nil {
					return fmt.Errorf("%w: failed to unmarshal data point: %v", core.ErrCorruptState, err)
				}
				pts = append(pts, pt)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		return nil, err
	}
	return pts, nil
}

// DeleteDataPoint removes a data point record from BadgerDB
func (b *BadgerPersistence) DeleteDataPoint(ctx context.Context, id string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		key := b.makePointKey(id)
		if _, err := txn.Get(key); err != nil {
			if err == badger.ErrKeyNotFound {
				return fmt.Errorf("%w: %s", core.ErrPointNotFound, id)
			}
			return err
		}
		return txn.Delete(key)
	})
}

// SaveBasis stores the serialized reduction basis
func (b *BadgerPersistence) SaveBasis(ctx context.Context, data []byte) error {
	return b.putBundle("basis", data)
}

// LoadBasis retrieves the serialized reduction basis, nil if unset
func (b *BadgerPersistence) LoadBasis(ctx context.Context) ([]byte, error) {
	return b.getBundle("basis")
}

// SaveIndexState stores the serialized index state
func (b *BadgerPersistence) SaveIndexState(ctx context.Context, data []byte) error {
	return b.putBundle("index_state", data)
}

// LoadIndexState retrieves the serialized index state, nil if unset
func (b *BadgerPersistence) LoadIndexState(ctx context.Context) ([]byte, error) {
	return b.getBundle("index_state")
}

// SaveParams stores the LSH parameters
func (b *BadgerPersistence) SaveParams(ctx context.Context, params core.IndexParams) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal parameters: %w", err)
	}
	return b.putBundle("params", data)
}

// LoadParams retrieves the LSH parameters, nil if unset
func (b *BadgerPersistence) LoadParams(ctx context.Context) (*core.IndexParams, error) {
	data, err := b.getBundle("params")
	if err != nil || data == nil {
		return nil, err
	}

	var params core.IndexParams
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal parameters: %v", core.ErrCorruptState, err)
	}
	return &params, nil
}

// Close closes the BadgerDB database
func (b *BadgerPersistence) Close() error {
	return b.db.Close()
}

func (b *BadgerPersistence) putBundle(name string, data []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(b.makeBundleKey(name), data)
	})
}

func (b *BadgerPersistence) getBundle(name string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(b.makeBundleKey(name))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			out = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
