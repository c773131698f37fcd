package factory

import (
	"fmt"

	"github.com/mikey/mail-sentinel/internal/adapters/queue"
	"github.com/mikey/mail-sentinel/internal/config"
	"github.com/mikey/mail-sentinel/internal/core"
	"go.uber.org/zap"
)

// NewWorkQueue creates the configured durable queue backend
func NewWorkQueue(cfg *config.Config, logger *zap.Logger) (core.WorkQueue, error) {
	qc := cfg.GetQueue()
	switch qc.Type {
	case "redis":
		return queue.NewRedisQueue(queue.RedisConfig{
			Addr:      qc.RedisAddr,
			Password:  qc.RedisPassword,
			DB:        qc.RedisDB,
			KeyPrefix: qc.KeyPrefix,
		}, logger)
	case "memory":
		return queue.NewMemoryQueue(), nil
	default:
		return nil, fmt.Errorf("unknown queue type: %s", qc.Type)
	}
}
