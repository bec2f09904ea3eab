package core

import "context"

// Index is an approximate candidate-lookup structure over reduced
// vectors. Implementations prune the search space only; exact distance
// ranking is the retrieval engine's job.
type Index interface {
	// Insert hashes a reduced vector into the structure.
	Insert(id string, vector []float32) error

	// Remove deletes an id from every bucket it was placed in.
	Remove(id string) error

	// Candidates returns the ids colliding with the query, in a
	// deterministic first-seen order. An empty index yields an
	// empty set, never an error.
	Candidates(query []float32) ([]string, error)

	// BasisVersion is the reduction basis generation this index was
	// built against.
	BasisVersion() string

	// Size returns the number of indexed ids.
	Size() int

	// Type returns the index type
	Type() string

	// Serialize index state to bytes
	Serialize() ([]byte, error)

	// Deserialize index state from bytes
	Deserialize(data []byte) error
}

// IndexFactory creates index instances based on type and parameters.
type IndexFactory interface {
	CreateIndex(indexType string, params IndexParams, basisVersion string) (Index, error)
}

// Persistence handles durable storage of the full bundle: data points,
// the serialized reduction basis, the LSH parameters and the serialized
// index state. Basis and index state are opaque blobs at this layer;
// Load returns (nil, nil) when a blob was never saved.
type Persistence interface {
	// Data point operations
	SaveDataPoint(ctx context.Context, pt DataPoint) error
	SaveDataPoints(ctx context.Context, pts []DataPoint) error
	LoadDataPoint(ctx context.Context, id string) (DataPoint, error)
	LoadDataPoints(ctx context.Context) ([]DataPoint, error)
	DeleteDataPoint(ctx context.Context, id string) error

	// Reduction basis blob
	SaveBasis(ctx context.Context, data []byte) error
	LoadBasis(ctx context.Context) ([]byte, error)

	// Index state blob
	SaveIndexState(ctx context.Context, data []byte) error
	LoadIndexState(ctx context.Context) ([]byte, error)

	// LSH parameters
	SaveParams(ctx context.Context, params IndexParams) error
	LoadParams(ctx context.Context) (*IndexParams, error)

	// Lifecycle
	Close() error
}
