package persistence

import (
	"fmt"
)

// PersistenceType represents the type of persistence backend
type PersistenceType string

const (
	PersistenceMemory PersistenceType = "memory"
	PersistenceBolt   PersistenceType = "bolt"
	PersistenceBadger PersistenceType = "badger"
)

// PersistenceConfig holds configuration for persistence layers
type PersistenceConfig struct {
	// Type of persistence backend
	Type PersistenceType `json:"type" yaml:"type"`

	// Path to database directory/file
	Path string `json:"path" yaml:"path"`
}

// DefaultPersistenceConfig returns a default configuration for the specified type
func DefaultPersistenceConfig(persistenceType PersistenceType, path string) PersistenceConfig {
	return PersistenceConfig{
		Type: persistenceType,
		Path: path,
	}
}

// ValidateConfig validates a persistence configuration
func ValidateConfig(config PersistenceConfig) error {
	switch config.Type {
	case PersistenceMemory:
		// Memory persistence doesn't need a path
		return nil
	case PersistenceBolt, PersistenceBadger:
		if config.Path == "" {
			return fmt.Errorf("path is required for %s persistence", config.Type)
		}
		return nil
	default:
		return fmt.Errorf("unsupported persistence type: %s", config.Type)
	}
}
