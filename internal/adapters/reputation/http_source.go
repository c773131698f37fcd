package reputation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/mikey/mail-sentinel/internal/core"
	"go.uber.org/zap"
)

// HTTPSource queries an external reputation service over JSON/HTTP. Called
// only on intel cache miss.
type HTTPSource struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *zap.Logger
}

// NewHTTPSource creates a new HTTP reputation source
func NewHTTPSource(endpoint, apiKey string, timeout time.Duration, logger *zap.Logger) *HTTPSource {
	return &HTTPSource{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

type lookupResponse struct {
	Malicious  bool     `json:"malicious"`
	Score      float64  `json:"score"`
	Categories []string `json:"categories"`
	Source     string   `json:"source"`
}

// Lookup classifies one subject
func (s *HTTPSource) Lookup(ctx context.Context, kind core.IntelType, subject string) (*core.Reputation, error) {
	u := fmt.Sprintf("%s?type=%s&subject=%s", s.endpoint, kind, url.QueryEscape(subject))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build reputation request: %w", err)
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, core.TransientError(fmt.Errorf("reputation request failed: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, core.TransientError(fmt.Errorf("reputation service returned %d", resp.StatusCode))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, core.CredentialError(fmt.Errorf("reputation service returned %d", resp.StatusCode))
	default:
		return nil, core.TerminalError(fmt.Errorf("reputation service returned %d", resp.StatusCode))
	}

	var parsed lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode reputation response: %w", err)
	}

	return &core.Reputation{
		Subject:    subject,
		Malicious:  parsed.Malicious,
		Score:      parsed.Score,
		Categories: parsed.Categories,
		Source:     parsed.Source,
		CheckedAt:  time.Now(),
	}, nil
}

// NullSource reports every subject as clean. Used when no reputation
// endpoint is configured; detection then relies on the analyzer alone.
type NullSource struct{}

// NewNullSource creates a new null reputation source
func NewNullSource() *NullSource {
	return &NullSource{}
}

// Lookup always returns a clean result
func (s *NullSource) Lookup(ctx context.Context, kind core.IntelType, subject string) (*core.Reputation, error) {
	return &core.Reputation{
		Subject:   subject,
		Malicious: false,
		Score:     0,
		Source:    "none",
		CheckedAt: time.Now(),
	}, nil
}
