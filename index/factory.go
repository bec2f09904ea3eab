package index

import (
	"fmt"

	"github.com/checktor/amnesiadb/core"
)

// DefaultFactory implements core.IndexFactory
type DefaultFactory struct{}

// NewDefaultFactory creates a new default index factory
func NewDefaultFactory() *DefaultFactory {
	return &DefaultFactory{}
}

// CreateIndex creates an index instance based on type and parameters
func (f *DefaultFactory) CreateIndex(indexType string, params core.IndexParams, basisVersion string) (core.Index, error) {
	switch indexType {
	case "lsh":
		return NewLSHIndex(params, basisVersion)
	case "flat":
		return NewFlatIndex(params.TargetDim, basisVersion)
	default:
		return nil, fmt.Errorf("unsupported index type: %s", indexType)
	}
}
