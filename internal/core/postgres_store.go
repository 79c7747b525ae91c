package core

import (
	"github.com/i2kashif/CopperCore-sub002/internal/infra/persistence/postgres"
	"github.com/i2kashif/CopperCore-sub002/pkg/domain"
)

// NewPostgresStore constructs a Postgres-backed store from the provided DSN.
func NewPostgresStore(dsn string, engine *domain.RulesEngine) (*postgres.Store, error) {
	return postgres.NewStore(dsn, engine)
}
