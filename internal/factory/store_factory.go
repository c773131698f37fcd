package factory

import (
	"fmt"

	"github.com/mikey/mail-sentinel/internal/adapters/store"
	"github.com/mikey/mail-sentinel/internal/config"
	"github.com/mikey/mail-sentinel/internal/core"
	"go.uber.org/zap"
)

// Store is the combined persistence surface; every backend implements all
// four store ports
type Store interface {
	core.VerdictStore
	core.IntegrationStore
	core.RemediationStore
	core.AllowlistStore
}

// NewStore creates the configured persistence backend
func NewStore(cfg *config.Config, logger *zap.Logger) (Store, error) {
	storeType := cfg.GetString("store.type")
	switch storeType {
	case "sqlite":
		return store.NewSQLiteStore(cfg.GetString("store.sqlite_path"), logger)
	case "mysql":
		return store.NewMySQLStore(cfg.GetString("store.mysql_dsn"), logger)
	case "memory":
		return store.NewMemoryStore(logger), nil
	default:
		return nil, fmt.Errorf("unknown store type: %s", storeType)
	}
}
