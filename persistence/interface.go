package persistence

import (
	"github.com/checktor/amnesiadb/core"
)

// PersistenceFactory creates persistence instances from configuration
type PersistenceFactory interface {
	CreatePersistence(config PersistenceConfig) (core.Persistence, error)
}
