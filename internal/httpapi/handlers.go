package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/mikey/mail-sentinel/internal/core"
	"github.com/mikey/mail-sentinel/internal/remediation"
	"go.uber.org/zap"
)

// maxWebhookBody caps notification payload size
const maxWebhookBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleWebhook accepts a provider change notification. The response is
// 200 regardless of payload validity so providers do not retry junk;
// a subscription validation handshake is echoed back as text/plain.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		s.logger.Warn("Failed to read webhook body", zap.Error(err))
		w.WriteHeader(http.StatusOK)
		return
	}

	// Graph delivers its validation handshake as a query parameter with
	// an empty body; normalize it into the payload.
	if token := r.URL.Query().Get("validationToken"); token != "" && len(payload) == 0 {
		payload, _ = json.Marshal(map[string]string{"validationToken": token})
	}

	validationToken, err := s.gateway.HandleNotification(r.Context(), providerName, payload)
	if err != nil {
		// Acknowledge anyway: a 5xx makes providers retry aggressively,
		// and the cursor was not advanced, so the next notification
		// re-diffs the same window.
		s.logger.Error("Failed to handle notification",
			zap.String("provider", providerName),
			zap.Error(err))
		w.WriteHeader(http.StatusOK)
		return
	}

	if validationToken != "" {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, validationToken)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleWorkerRun triggers one worker pass; ?limit=N overrides the batch size
func (s *Server) handleWorkerRun(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	summary, err := s.worker.Run(r.Context(), limit)
	if err != nil {
		s.logger.Error("Worker run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "worker run failed")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read queue stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	items, err := s.queue.DeadLetters(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read dead letters")
		return
	}
	if items == nil {
		items = []*core.WorkItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

type remediationRequest struct {
	Actor       string `json:"actor"`
	Reason      string `json:"reason,omitempty"`
	AllowSender string `json:"allow_sender,omitempty"`
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	tenantID, messageID, req, ok := s.remediationParams(w, r)
	if !ok {
		return
	}
	result, err := s.engine.Release(r.Context(), tenantID, messageID, req.Actor)
	s.writeRemediationResult(w, result, err)
}

func (s *Server) handleFalsePositive(w http.ResponseWriter, r *http.Request) {
	tenantID, messageID, req, ok := s.remediationParams(w, r)
	if !ok {
		return
	}
	result, err := s.engine.MarkFalsePositive(r.Context(), tenantID, messageID, req.Actor, req.Reason, req.AllowSender)
	s.writeRemediationResult(w, result, err)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	tenantID, messageID, req, ok := s.remediationParams(w, r)
	if !ok {
		return
	}
	result, err := s.engine.Delete(r.Context(), tenantID, messageID, req.Actor)
	s.writeRemediationResult(w, result, err)
}

func (s *Server) remediationParams(w http.ResponseWriter, r *http.Request) (string, string, *remediationRequest, bool) {
	tenantID := chi.URLParam(r, "tenant")
	messageID := chi.URLParam(r, "messageID")
	if tenantID == "" || messageID == "" {
		writeError(w, http.StatusBadRequest, "tenant and message id are required")
		return "", "", nil, false
	}

	req := &remediationRequest{}
	if r.Body != nil {
		// An empty body means an unattributed action; that is allowed.
		json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody)).Decode(req)
	}
	return tenantID, messageID, req, true
}

func (s *Server) writeRemediationResult(w http.ResponseWriter, result *remediation.Result, err error) {
	if err != nil {
		s.logger.Error("Remediation action failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "remediation failed")
		return
	}
	status := http.StatusOK
	if !result.Success {
		status = http.StatusConflict
		if result.Reason == "no remediation record" {
			status = http.StatusNotFound
		}
	}
	writeJSON(w, status, result)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
