package core

import (
	"fmt"
	"math"
)

// EuclideanDistance calculates L2 distance between two vectors.
// Returns distance score (lower = more similar)
func EuclideanDistance(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}

	var sum float32
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}

	return float32(math.Sqrt(float64(sum))), nil
}

// SquaredEuclideanDistance skips the final square root. Useful when
// only the ordering of distances matters.
func SquaredEuclideanDistance(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}

	var sum float32
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}

	return sum, nil
}

// DotProduct calculates dot product between two vectors
func DotProduct(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}

	var product float32
	for i := range a {
		product += a[i] * b[i]
	}

	return product, nil
}

// MeanVector computes the component-wise mean of a set of
// equal-dimensional vectors.
func MeanVector(vectors [][]float32) ([]float32, error) {
	if len(vectors) == 0 {
		return nil, ErrInsufficientData
	}

	dim := len(vectors[0])
	sums := make([]float64, dim)
	for _, vec := range vectors {
		if len(vec) != dim {
			return nil, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(vec), dim)
		}
		for i, val := range vec {
			sums[i] += float64(val)
		}
	}

	mean := make([]float32, dim)
	n := float64(len(vectors))
	for i, sum := range sums {
		mean[i] = float32(sum / n)
	}
	return mean, nil
}

// SimilarityFunc maps a distance to a similarity in (0, 1]. The
// clustering stage treats any monotonically decreasing mapping as valid.
type SimilarityFunc func(distance float32) float32

// InverseDistanceSimilarity is the default distance-to-similarity
// mapping: 1 / (1 + d). Identical vectors score 1.
func InverseDistanceSimilarity(distance float32) float32 {
	return 1.0 / (1.0 + distance)
}
