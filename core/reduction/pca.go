// Package reduction learns and applies principal-component projections
// that map full face embeddings down to the working dimensionality used
// by the LSH index.
package reduction

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/checktor/amnesiadb/core"
)

// Basis is a fitted principal-component projection. It is immutable
// once produced; a re-fit yields a new Basis with a new Version, and
// every structure derived from the old one becomes stale.
type Basis struct {
	Version    string      `json:"version"`
	Mean       []float32   `json:"mean"`
	Components [][]float32 `json:"components"` // TargetDim rows of FullDim entries
	FullDim    int         `json:"full_dim"`
	TargetDim  int         `json:"target_dim"`
}

// Fit computes the corpus mean and the top targetDim principal
// directions of the centered corpus. The corpus must contain at least
// targetDim vectors of equal dimensionality. Deterministic for a fixed
// input ordering and targetDim.
//
// The three stages (validation, decomposition, extraction) each check
// ctx so long-running fits can be abandoned without publishing anything.
func Fit(ctx context.Context, corpus [][]float32, targetDim int) (*Basis, error) {
	if targetDim <= 0 {
		return nil, fmt.Errorf("target dimension must be positive, got %d", targetDim)
	}
	if len(corpus) < targetDim {
		return nil, fmt.Errorf("%w: corpus size %d is smaller than target dimension %d",
			core.ErrInsufficientData, len(corpus), targetDim)
	}

	fullDim := len(corpus[0])
	if fullDim < targetDim {
		return nil, fmt.Errorf("%w: embedding dimension %d is smaller than target dimension %d",
			core.ErrInsufficientData, fullDim, targetDim)
	}
	for i, vec := range corpus {
		if len(vec) != fullDim {
			return nil, fmt.Errorf("%w: corpus vector %d has dimension %d, expected %d",
				core.ErrDimensionMismatch, i, len(vec), fullDim)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mean, err := core.MeanVector(corpus)
	if err != nil {
		return nil, fmt.Errorf("failed to compute corpus mean: %w", err)
	}

	// Center the corpus into a dense n x d matrix.
	n := len(corpus)
	data := make([]float64, n*fullDim)
	for i, vec := range corpus {
		for j, val := range vec {
			data[i*fullDim+j] = float64(val - mean[j])
		}
	}
	centered := mat.NewDense(n, fullDim, data)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The right singular vectors of the centered corpus are the
	// eigenvectors of the empirical covariance, ordered by variance.
	var svd mat.SVD
	if ok := svd.Factorize(centered, mat.SVDThin); !ok {
		return nil, fmt.Errorf("%w: SVD of corpus failed to converge", core.ErrInsufficientData)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Columns of V are the principal directions, ordered by
	// decreasing singular value.
	var v mat.Dense
	svd.VTo(&v)

	components := make([][]float32, targetDim)
	for i := 0; i < targetDim; i++ {
		row := make([]float32, fullDim)
		for j := 0; j < fullDim; j++ {
			row[j] = float32(v.At(j, i))
		}
		components[i] = row
	}

	return &Basis{
		Version:    uuid.New().String(),
		Mean:       mean,
		Components: components,
		FullDim:    fullDim,
		TargetDim:  targetDim,
	}, nil
}

// Transform projects a full-dimensional embedding into the reduced
// space: subtract the corpus mean, then apply the projection matrix.
func (b *Basis) Transform(vec []float32) ([]float32, error) {
	if len(vec) != b.FullDim {
		return nil, fmt.Errorf("%w: vector dimension %d does not match basis dimension %d",
			core.ErrDimensionMismatch, len(vec), b.FullDim)
	}

	centered := make([]float32, b.FullDim)
	for i, val := range vec {
		centered[i] = val - b.Mean[i]
	}

	reduced := make([]float32, b.TargetDim)
	for i, component := range b.Components {
		var dot float32
		for j, val := range centered {
			dot += val * component[j]
		}
		reduced[i] = dot
	}
	return reduced, nil
}

// TransformAll projects a batch of embeddings, failing on the first
// dimension mismatch.
func (b *Basis) TransformAll(vectors [][]float32) ([][]float32, error) {
	reduced := make([][]float32, len(vectors))
	for i, vec := range vectors {
		r, err := b.Transform(vec)
		if err != nil {
			return nil, fmt.Errorf("vector %d: %w", i, err)
		}
		reduced[i] = r
	}
	return reduced, nil
}

// Validate performs the structural checks applied to a basis loaded
// from a persisted bundle.
func (b *Basis) Validate() error {
	if b.Version == "" {
		return fmt.Errorf("%w: basis has no version", core.ErrCorruptState)
	}
	if b.FullDim <= 0 || b.TargetDim <= 0 || b.TargetDim > b.FullDim {
		return fmt.Errorf("%w: basis dimensions %dx%d are invalid",
			core.ErrCorruptState, b.FullDim, b.TargetDim)
	}
	if len(b.Mean) != b.FullDim {
		return fmt.Errorf("%w: basis mean has dimension %d, expected %d",
			core.ErrCorruptState, len(b.Mean), b.FullDim)
	}
	if len(b.Components) != b.TargetDim {
		return fmt.Errorf("%w: basis has %d components, expected %d",
			core.ErrCorruptState, len(b.Components), b.TargetDim)
	}
	for i, component := range b.Components {
		if len(component) != b.FullDim {
			return fmt.Errorf("%w: basis component %d has dimension %d, expected %d",
				core.ErrCorruptState, i, len(component), b.FullDim)
		}
	}
	return nil
}
