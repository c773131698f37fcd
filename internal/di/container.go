package di

import (
	"github.com/mikey/mail-sentinel/internal/config"
	"github.com/mikey/mail-sentinel/internal/core"
	"github.com/mikey/mail-sentinel/internal/factory"
	"github.com/mikey/mail-sentinel/internal/httpapi"
	"github.com/mikey/mail-sentinel/internal/ingest"
	"github.com/mikey/mail-sentinel/internal/logging"
	"github.com/mikey/mail-sentinel/internal/metrics"
	"github.com/mikey/mail-sentinel/internal/remediation"
	"github.com/mikey/mail-sentinel/internal/worker"
	"go.uber.org/dig"
	"go.uber.org/zap"
)

// BuildContainer wires the application graph
func BuildContainer() (*dig.Container, error) {
	c := dig.New()

	constructors := []any{
		config.New,
		logging.InitLogger,
		metrics.New,

		factory.NewStore,
		factory.NewWorkQueue,
		factory.NewReputationSource,
		factory.NewIntelService,
		factory.NewAnalyzer,
		factory.NewProviders,
		factory.NewNotifier,

		newDetectionService,
		newGateway,
		newRemediationEngine,
		newWorker,
		newServer,
	}
	for _, ctor := range constructors {
		if err := c.Provide(ctor); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func newDetectionService(analyzer core.Analyzer, store factory.Store, logger *zap.Logger) *core.DetectionService {
	return core.NewDetectionService(analyzer, store, store, logger)
}

func newGateway(
	cfg *config.Config,
	store factory.Store,
	queue core.WorkQueue,
	providers map[string]core.MailProvider,
	m *metrics.Metrics,
	logger *zap.Logger,
) (*ingest.Gateway, error) {
	wc, err := cfg.GetWorker()
	if err != nil {
		return nil, err
	}
	return ingest.NewGateway(store, queue, providers, wc.MaxMessagesPerItem, m, logger), nil
}

func newRemediationEngine(
	store factory.Store,
	providers map[string]core.MailProvider,
	notifier core.Notifier,
	m *metrics.Metrics,
	logger *zap.Logger,
) *remediation.Engine {
	return remediation.NewEngine(store, store, store, providers, notifier, m, logger)
}

func newWorker(
	cfg *config.Config,
	queue core.WorkQueue,
	store factory.Store,
	detection *core.DetectionService,
	engine *remediation.Engine,
	providers map[string]core.MailProvider,
	notifier core.Notifier,
	m *metrics.Metrics,
	logger *zap.Logger,
) (*worker.Worker, error) {
	wc, err := cfg.GetWorker()
	if err != nil {
		return nil, err
	}
	return worker.NewWorker(queue, store, store, detection, engine, providers, notifier, wc, m, logger), nil
}

func newServer(
	cfg *config.Config,
	gateway *ingest.Gateway,
	w *worker.Worker,
	engine *remediation.Engine,
	queue core.WorkQueue,
	m *metrics.Metrics,
	logger *zap.Logger,
) *httpapi.Server {
	return httpapi.NewServer(
		cfg.GetString("server.listen_address"),
		cfg.GetString("auth.jwt_secret"),
		gateway, w, engine, queue, m, logger,
	)
}
