package core

import (
	"fmt"
)

// ValidateEmbedding checks that a raw embedding is usable: non-empty
// and free of NaN or infinite entries.
func ValidateEmbedding(values []float32) error {
	if len(values) == 0 {
		return ErrEmptyVector
	}

	for i, val := range values {
		if isNaN(val) {
			return fmt.Errorf("embedding contains NaN at index %d", i)
		}
		if isInf(val) {
			return fmt.Errorf("embedding contains infinite value at index %d", i)
		}
	}

	return nil
}

// ValidateDimension checks a vector against the expected dimensionality.
func ValidateDimension(values []float32, expectedDim int) error {
	if len(values) != expectedDim {
		return fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(values), expectedDim)
	}
	return nil
}

// ValidateDataPoint checks a data point before it enters the store.
func ValidateDataPoint(pt DataPoint) error {
	if pt.ID == "" {
		return fmt.Errorf("data point ID cannot be empty")
	}
	if err := ValidateEmbedding(pt.Embedding); err != nil {
		return fmt.Errorf("invalid embedding for %s: %w", pt.ID, err)
	}
	return nil
}

// ValidateSearchRequest checks a retrieval request against the
// dimensionality of the corpus.
func ValidateSearchRequest(req SearchRequest, dimension int) error {
	if err := ValidateEmbedding(req.Query); err != nil {
		return fmt.Errorf("invalid query: %w", err)
	}

	if len(req.Query) != dimension {
		return fmt.Errorf("%w: query dimension %d does not match corpus dimension %d",
			ErrDimensionMismatch, len(req.Query), dimension)
	}

	if req.TopK < 0 {
		return fmt.Errorf("topK must not be negative, got %d", req.TopK)
	}
	if req.DistanceThreshold < 0 {
		return fmt.Errorf("distance threshold must not be negative, got %f", req.DistanceThreshold)
	}
	if req.TopK == 0 && req.DistanceThreshold == 0 {
		return fmt.Errorf("either topK or distance threshold must be set")
	}

	return nil
}

func isNaN(f float32) bool {
	return f != f
}

func isInf(f float32) bool {
	return f > 3.4e38 || f < -3.4e38
}
