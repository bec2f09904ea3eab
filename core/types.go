package core

import (
	"time"
)

// BoundingBox locates a detected face inside its source frame.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// SourceRef identifies where a detection came from. FrameIndex is nil
// for still images.
type SourceRef struct {
	MediaPath  string      `json:"media_path"`
	FrameIndex *int        `json:"frame_index,omitempty"`
	Box        BoundingBox `json:"box"`
}

// DataPoint is a single ingested face detection: the full embedding
// produced by the external extractor plus the reduced vector derived
// from the active basis. Reduced is nil until a basis has been fit.
type DataPoint struct {
	ID           string    `json:"id"`
	Embedding    []float32 `json:"embedding"`
	Reduced      []float32 `json:"reduced,omitempty"`
	BasisVersion string    `json:"basis_version,omitempty"`
	Source       SourceRef `json:"source"`
	CreatedAt    time.Time `json:"created_at"`
	Deleted      bool      `json:"deleted,omitempty"`
}

// SearchRequest describes one retrieval call. Exactly one of TopK or
// DistanceThreshold should be set; when both are set, results are
// filtered by threshold first and then truncated to TopK.
type SearchRequest struct {
	Query             []float32 `json:"query"`
	TopK              int       `json:"top_k,omitempty"`
	DistanceThreshold float32   `json:"distance_threshold,omitempty"`
}

// SearchResult is a single ranked match. Distance is the exact
// Euclidean distance in the reduced space.
type SearchResult struct {
	ID       string     `json:"id"`
	Distance float32    `json:"distance"`
	Source   *SourceRef `json:"source,omitempty"`
}

// IndexParams are the tunables of the LSH structure. NumTables is L,
// NumFunctions is k in the usual LSH literature.
type IndexParams struct {
	NumTables    int     `json:"num_tables"`
	NumFunctions int     `json:"num_functions"`
	BucketWidth  float32 `json:"bucket_width"`
	TargetDim    int     `json:"target_dim"`
	Seed         int64   `json:"seed"`
}

// DefaultIndexParams mirror the defaults the retrieval structure was
// originally tuned with for dlib-style 128-d face descriptors.
func DefaultIndexParams() IndexParams {
	return IndexParams{
		NumTables:    7,
		NumFunctions: 6,
		BucketWidth:  0.95,
		TargetDim:    32,
		Seed:         1,
	}
}
