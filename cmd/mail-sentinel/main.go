package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mikey/mail-sentinel/internal/config"
	"github.com/mikey/mail-sentinel/internal/core"
	"github.com/mikey/mail-sentinel/internal/di"
	"github.com/mikey/mail-sentinel/internal/httpapi"
	"github.com/mikey/mail-sentinel/internal/ingest"
	"github.com/mikey/mail-sentinel/internal/intel"
	"go.uber.org/zap"
)

func main() {
	container, err := di.BuildContainer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build container: %v\n", err)
		os.Exit(1)
	}

	if err := container.Invoke(run); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(
	cfg *config.Config,
	server *httpapi.Server,
	gateway *ingest.Gateway,
	providers map[string]core.MailProvider,
	intelSvc *intel.Service,
	logger *zap.Logger,
) error {
	defer logger.Sync()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// The domain-wide Gmail variant has no push notifications; poll it.
	pollStop := make(chan struct{})
	if _, ok := providers[core.ProviderGmailDomainWide]; ok {
		freq, err := cfg.GetDuration("providers.gmail_dw.poll_frequency")
		if err != nil {
			return err
		}
		go pollDomainWide(gateway, freq, pollStop, logger)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		close(pollStop)
		intelSvc.Stop()
		return err
	}

	close(pollStop)
	intelSvc.Stop()

	timeout, err := cfg.GetDuration("server.shutdown_timeout")
	if err != nil {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return server.Shutdown(ctx)
}

func pollDomainWide(gateway *ingest.Gateway, freq time.Duration, stopCh <-chan struct{}, logger *zap.Logger) {
	ticker := time.NewTicker(freq)
	defer ticker.Stop()

	logger.Info("Starting domain-wide mailbox polling", zap.Duration("frequency", freq))
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), freq)
			if err := gateway.PollIntegrations(ctx, core.ProviderGmailDomainWide); err != nil {
				logger.Error("Domain-wide poll failed", zap.Error(err))
			}
			cancel()
		case <-stopCh:
			return
		}
	}
}
