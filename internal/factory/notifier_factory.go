package factory

import (
	"github.com/mikey/mail-sentinel/internal/config"
	"github.com/mikey/mail-sentinel/internal/core"
	"github.com/mikey/mail-sentinel/internal/notify"
	"go.uber.org/zap"
)

// NewNotifier creates the webhook notifier, or a no-op one when
// notifications are disabled
func NewNotifier(cfg *config.Config, logger *zap.Logger) (core.Notifier, error) {
	if !cfg.GetBool("notifications.enabled") || cfg.GetString("notifications.webhook_url") == "" {
		return notify.NewNopNotifier(), nil
	}
	timeout, err := cfg.GetDuration("notifications.timeout")
	if err != nil {
		return nil, err
	}
	return notify.NewWebhookNotifier(
		cfg.GetString("notifications.webhook_url"),
		cfg.GetString("notifications.secret"),
		timeout,
		logger,
	), nil
}
