package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mikey/mail-sentinel/internal/config"
	"github.com/mikey/mail-sentinel/internal/core"
	"github.com/mikey/mail-sentinel/internal/metrics"
	"github.com/mikey/mail-sentinel/internal/remediation"
	"go.uber.org/zap"
)

// credentialWindow is how close to expiry a token is still considered usable
const credentialWindow = 60 * time.Second

// Summary reports what one worker run accomplished
type Summary struct {
	Fetched           int      `json:"fetched"`
	ProcessedMessages int      `json:"processed_messages"`
	ThreatsFound      int      `json:"threats_found"`
	Requeued          int      `json:"requeued"`
	DeadLettered      int      `json:"dead_lettered"`
	Errors            []string `json:"errors,omitempty"`
	DurationMs        int64    `json:"duration_ms"`
}

// Worker drains the durable queue within a fixed time budget. Each run
// pops a batch, processes every message in each item through the detection
// pipeline, quarantines threats and advances the integration's sync cursor
// only when the whole item succeeded. Failed items are requeued with an
// attempt count or dead-lettered per the failure class.
type Worker struct {
	queue        core.WorkQueue
	integrations core.IntegrationStore
	verdicts     core.VerdictStore
	detection    *core.DetectionService
	engine       *remediation.Engine
	providers    map[string]core.MailProvider
	notifier     core.Notifier
	cfg          config.WorkerConfig
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

// NewWorker creates a new queue worker
func NewWorker(
	queue core.WorkQueue,
	integrations core.IntegrationStore,
	verdicts core.VerdictStore,
	detection *core.DetectionService,
	engine *remediation.Engine,
	providers map[string]core.MailProvider,
	notifier core.Notifier,
	cfg config.WorkerConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Worker {
	return &Worker{
		queue:        queue,
		integrations: integrations,
		verdicts:     verdicts,
		detection:    detection,
		engine:       engine,
		providers:    providers,
		notifier:     notifier,
		cfg:          cfg,
		metrics:      m,
		logger:       logger,
	}
}

// Run executes one worker pass. A limit of zero uses the configured batch
// size; any request is clamped to the configured maximum.
func (w *Worker) Run(ctx context.Context, limit int) (*Summary, error) {
	started := time.Now()
	deadline := started.Add(w.cfg.TimeBudget)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	if limit <= 0 {
		limit = w.cfg.BatchSize
	}
	if limit > w.cfg.MaxBatchSize {
		limit = w.cfg.MaxBatchSize
	}

	summary := &Summary{}
	items, err := w.queue.Dequeue(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue work items: %w", err)
	}
	summary.Fetched = len(items)

	for i, item := range items {
		// Budget exhaustion is not a failure: the untouched remainder
		// goes straight back without burning an attempt.
		if time.Until(deadline) < w.cfg.TimeReserve {
			w.logger.Info("Time budget exhausted, requeueing remaining items",
				zap.Int("remaining", len(items)-i))
			for _, rest := range items[i:] {
				if err := w.queue.Requeue(ctx, rest); err != nil {
					summary.Errors = append(summary.Errors, fmt.Sprintf("requeue %s: %v", rest.ID, err))
				} else {
					summary.Requeued++
					w.metrics.ItemsRequeued.Inc()
				}
			}
			break
		}

		if err := w.processItem(ctx, item, deadline, summary); err != nil {
			w.settleFailure(ctx, item, err, summary)
		}
	}

	summary.DurationMs = time.Since(started).Milliseconds()
	w.metrics.WorkerRunDuration.Observe(time.Since(started).Seconds())
	w.logger.Info("Worker run complete",
		zap.Int("fetched", summary.Fetched),
		zap.Int("processed_messages", summary.ProcessedMessages),
		zap.Int("threats_found", summary.ThreatsFound),
		zap.Int("requeued", summary.Requeued),
		zap.Int("dead_lettered", summary.DeadLettered),
		zap.Int64("duration_ms", summary.DurationMs))
	return summary, nil
}

// processItem handles one work item end to end. Any returned error fails
// the whole item; the sync cursor is advanced only on full success.
func (w *Worker) processItem(ctx context.Context, item *core.WorkItem, deadline time.Time, summary *Summary) error {
	conn, err := w.integrations.GetIntegration(ctx, item.IntegrationID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			// Integration removed while the item sat in the queue.
			return core.TerminalError(fmt.Errorf("integration %s no longer exists", item.IntegrationID))
		}
		return core.TransientError(fmt.Errorf("failed to load integration: %w", err))
	}

	provider, ok := w.providers[conn.Provider]
	if !ok {
		return core.TerminalError(fmt.Errorf("no provider adapter for %q", conn.Provider))
	}

	if err := w.ensureCredentials(ctx, provider, conn); err != nil {
		return err
	}

	processed := int64(0)
	threats := int64(0)
	for _, ref := range item.ProviderMessageRefs {
		if time.Until(deadline) < w.cfg.TimeReserve {
			return core.TransientError(fmt.Errorf("time budget exhausted after %d of %d messages",
				processed, len(item.ProviderMessageRefs)))
		}

		// Point lookup before fetch: a duplicate delivery skips the
		// provider round trip entirely.
		if _, err := w.verdicts.GetVerdict(ctx, item.TenantID, ref); err == nil {
			continue
		} else if !errors.Is(err, core.ErrNotFound) {
			return core.TransientError(fmt.Errorf("verdict lookup failed: %w", err))
		}

		email, err := provider.FetchMessage(ctx, conn, ref)
		if err != nil {
			if core.Classify(err) == core.ErrorMalformed {
				w.logger.Warn("Skipping unparseable message",
					zap.String("integration_id", conn.ID),
					zap.String("ref", ref),
					zap.Error(err))
				continue
			}
			return fmt.Errorf("failed to fetch message %s: %w", ref, err)
		}

		opts := core.AnalyzeOptions{
			SkipDeepAnalysis: time.Until(deadline) < w.cfg.DeepAnalysisReserve,
		}
		verdict, created, err := w.detection.ProcessMessage(ctx, item.TenantID, email, opts)
		if err != nil {
			return fmt.Errorf("failed to process message %s: %w", ref, err)
		}
		if created {
			processed++
			summary.ProcessedMessages++
			w.metrics.MessagesProcessed.Inc()
		}

		if verdict.Class.IsThreat() {
			if _, err := w.engine.Quarantine(ctx, conn, verdict, ref); err != nil {
				return fmt.Errorf("failed to quarantine message %s: %w", ref, err)
			}
			threats++
			summary.ThreatsFound++
			w.metrics.ThreatsFound.Inc()
		}
	}

	if item.SyncCursorAtEnqueue != "" {
		if err := w.integrations.UpdateCursor(ctx, conn.ID, item.SyncCursorAtEnqueue); err != nil {
			return core.TransientError(fmt.Errorf("failed to advance sync cursor: %w", err))
		}
	}
	if processed > 0 {
		if err := w.integrations.IncrementScanStats(ctx, conn.ID, processed, threats); err != nil {
			w.logger.Warn("Failed to update scan stats",
				zap.String("integration_id", conn.ID),
				zap.Error(err))
		}
	}

	if w.notifier != nil {
		if err := w.notifier.NotifySyncComplete(ctx, item.TenantID, conn.ID, int(processed), int(threats)); err != nil {
			w.logger.Warn("Sync notification failed", zap.Error(err))
		}
	}
	return nil
}

// settleFailure requeues or dead-letters a failed item based on the
// failure class and the attempt count
func (w *Worker) settleFailure(ctx context.Context, item *core.WorkItem, cause error, summary *Summary) {
	summary.Errors = append(summary.Errors, fmt.Sprintf("item %s: %v", item.ID, cause))

	if !core.IsRetryable(cause) {
		w.deadLetter(ctx, item, cause, summary)
		return
	}
	if item.Attempts >= w.cfg.MaxAttempts {
		w.deadLetter(ctx, item, fmt.Errorf("max attempts exceeded: %w", cause), summary)
		return
	}

	item.Attempts++
	item.LastError = cause.Error()
	if err := w.queue.Requeue(ctx, item); err != nil {
		w.logger.Error("Failed to requeue item",
			zap.String("item_id", item.ID),
			zap.Error(err))
		summary.Errors = append(summary.Errors, fmt.Sprintf("requeue %s: %v", item.ID, err))
		return
	}
	summary.Requeued++
	w.metrics.ItemsRequeued.Inc()
	w.logger.Warn("Work item requeued",
		zap.String("item_id", item.ID),
		zap.Int("attempts", item.Attempts),
		zap.Error(cause))
}

func (w *Worker) deadLetter(ctx context.Context, item *core.WorkItem, cause error, summary *Summary) {
	if err := w.queue.DeadLetter(ctx, item, cause.Error()); err != nil {
		w.logger.Error("Failed to dead-letter item",
			zap.String("item_id", item.ID),
			zap.Error(err))
		summary.Errors = append(summary.Errors, fmt.Sprintf("dead-letter %s: %v", item.ID, err))
		return
	}
	summary.DeadLettered++
	w.metrics.ItemsDeadLettered.Inc()
	w.logger.Warn("Work item dead-lettered",
		zap.String("item_id", item.ID),
		zap.Int("attempts", item.Attempts),
		zap.Error(cause))
}

// ensureCredentials refreshes the access token when it is expired or about
// to expire, persisting the new token before use
func (w *Worker) ensureCredentials(ctx context.Context, provider core.MailProvider, conn *core.IntegrationConnection) error {
	if !conn.CredentialsExpiring(credentialWindow) {
		return nil
	}
	accessToken, expiry, err := provider.RefreshCredentials(ctx, conn)
	if err != nil {
		return fmt.Errorf("failed to refresh credentials for integration %s: %w", conn.ID, err)
	}
	if err := w.integrations.UpdateCredentials(ctx, conn.ID, accessToken, expiry); err != nil {
		return core.TransientError(fmt.Errorf("failed to persist refreshed credentials: %w", err))
	}
	conn.AccessToken = accessToken
	conn.TokenExpiry = time.Unix(expiry, 0)
	return nil
}
