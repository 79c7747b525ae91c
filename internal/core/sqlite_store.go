package core

import (
	"github.com/i2kashif/CopperCore-sub002/internal/infra/persistence/sqlite"
	"github.com/i2kashif/CopperCore-sub002/pkg/domain"
)

// NewSQLiteStore constructs a SQLite-backed persistent store using the provided
// file path (may be empty for the default) and rules engine.
func NewSQLiteStore(path string, engine *domain.RulesEngine) (*sqlite.Store, error) {
	return sqlite.NewStore(path, engine)
}
