package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DetectionService is the idempotent boundary in front of the analyzer.
// It guarantees at most one stored verdict per (tenant, message): the
// existence check runs before invocation and the store treats a conflicting
// write as a no-op.
type DetectionService struct {
	analyzer  Analyzer
	verdicts  VerdictStore
	allowlist AllowlistStore
	logger    *zap.Logger
}

// NewDetectionService creates a new detection service
func NewDetectionService(
	analyzer Analyzer,
	verdicts VerdictStore,
	allowlist AllowlistStore,
	logger *zap.Logger,
) *DetectionService {
	return &DetectionService{
		analyzer:  analyzer,
		verdicts:  verdicts,
		allowlist: allowlist,
		logger:    logger,
	}
}

// ProcessMessage runs the pipeline for one message unless a verdict already
// exists. The returned bool reports whether a new verdict was created; a
// duplicate is a no-op, not an error.
func (s *DetectionService) ProcessMessage(ctx context.Context, tenantID string, email *Email, opts AnalyzeOptions) (*Verdict, bool, error) {
	existing, err := s.verdicts.GetVerdict(ctx, tenantID, email.MessageID)
	if err == nil {
		s.logger.Debug("Verdict already exists, skipping analysis",
			zap.String("tenant_id", tenantID),
			zap.String("message_id", email.MessageID))
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, fmt.Errorf("failed to check for existing verdict: %w", err)
	}

	if s.allowlist != nil {
		allowed, err := s.allowlist.IsAllowlisted(ctx, tenantID, email.From)
		if err != nil {
			s.logger.Warn("Allowlist lookup failed", zap.Error(err))
		} else if allowed {
			s.logger.Info("Skipping analysis for allowlisted sender",
				zap.String("tenant_id", tenantID),
				zap.String("sender", email.From))
			verdict := &Verdict{
				TenantID:    tenantID,
				MessageID:   email.MessageID,
				Class:       VerdictPass,
				Score:       0,
				Confidence:  1.0,
				Explanation: "Sender is on the tenant allowlist",
				CreatedAt:   time.Now(),
			}
			if err := s.verdicts.SaveVerdict(ctx, verdict); err != nil {
				return nil, false, fmt.Errorf("failed to save allowlist verdict: %w", err)
			}
			return verdict, true, nil
		}
	}

	started := time.Now()
	verdict, err := s.analyzer.Analyze(ctx, tenantID, email, opts)
	if err != nil {
		return nil, false, fmt.Errorf("analysis failed: %w", err)
	}

	verdict.TenantID = tenantID
	verdict.MessageID = email.MessageID
	verdict.ProcessingTimeMs = time.Since(started).Milliseconds()
	if verdict.CreatedAt.IsZero() {
		verdict.CreatedAt = time.Now()
	}

	if err := s.verdicts.SaveVerdict(ctx, verdict); err != nil {
		return nil, false, fmt.Errorf("failed to save verdict: %w", err)
	}

	s.logger.Info("Message analyzed",
		zap.String("tenant_id", tenantID),
		zap.String("message_id", email.MessageID),
		zap.String("class", string(verdict.Class)),
		zap.Float64("score", verdict.Score),
		zap.Int64("processing_time_ms", verdict.ProcessingTimeMs))

	return verdict, true, nil
}
