// Package ingest is the front door that turns an incoming alert,
// delivered over HTTP or piped in on stdin, into an orchestrator run.
package ingest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/detectforge/runbookcore/core"
	"github.com/detectforge/runbookcore/model"
	"github.com/detectforge/runbookcore/telemetry"
)

// DispatchFunc hands a validated alert to the orchestrator and reports
// back the execution id it started. orchestrator.Orchestrator.Run,
// partially applied over its runbook-resolution inputs, satisfies this.
type DispatchFunc func(ctx context.Context, alert *model.AlertEvent) (executionID string, err error)

// Handler serves the two webhook endpoints: GET /health and
// POST /api/v1/alerts. Mux returns them already wrapped in
// otelhttp.NewHandler for request tracing.
type Handler struct {
	dispatch   DispatchFunc
	hmacSecret []byte
	logger     core.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithHMACSecret requires every POST body to carry a valid
// x-detectforge-signature header computed over it. A nil/empty secret
// (the default) disables signature verification.
func WithHMACSecret(secret string) Option {
	return func(h *Handler) {
		if secret != "" {
			h.hmacSecret = []byte(secret)
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(l core.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHandler returns a Handler that calls dispatch for every alert
// that passes minimum validity and, if configured, signature checks.
func NewHandler(dispatch DispatchFunc, opts ...Option) *Handler {
	h := &Handler{dispatch: dispatch, logger: &core.NoOpLogger{}}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Mux returns an http.Handler serving /health and /api/v1/alerts,
// wrapped in OpenTelemetry's HTTP instrumentation.
func (h *Handler) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/api/v1/alerts", h.handleAlerts)
	return otelhttp.NewHandler(mux, "ingest.webhook")
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed, use GET")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok", "timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) handleAlerts(w http.ResponseWriter, r *http.Request) {
	ctx, span := telemetry.StartSpan(r.Context(), "ingest.webhook.alert")
	defer span.End()

	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("panic handling alert", map[string]interface{}{"recover": rec})
			writeError(w, http.StatusInternalServerError, "internal error")
		}
	}()

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed, use POST")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unable to read request body")
		return
	}

	if len(h.hmacSecret) > 0 {
		if !validSignature(h.hmacSecret, body, r.Header.Get("x-detectforge-signature")) {
			writeError(w, http.StatusUnauthorized, "invalid or missing signature")
			return
		}
	}

	alert, errMsg := ParseAlert(body)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	telemetry.AddSpanEvent(ctx, "ingest.webhook.alert.accepted")
	executionID, err := h.dispatch(ctx, alert)
	if err != nil {
		telemetry.RecordSpanError(ctx, err)
		h.logger.Error("dispatch failed", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "failed to start execution")
		return
	}

	telemetry.Counter(ctx, "ingest.webhook.alerts_accepted")
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "execution_id": executionID})
}

func validSignature(secret, body []byte, header string) bool {
	if header == "" {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(header))
}

// ParseAlert decodes body into an AlertEvent and checks minimum
// validity. On failure it returns a human-facing reason instead of an
// error, matching the 400 response contract.
func ParseAlert(body []byte) (*model.AlertEvent, string) {
	var alert model.AlertEvent
	if err := json.Unmarshal(body, &alert); err != nil {
		return nil, "malformed JSON: " + err.Error()
	}
	if err := alert.Validate(); err != nil {
		return nil, err.Error()
	}
	return &alert, ""
}

func writeJSON(w http.ResponseWriter, status int, body map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"success": false, "error": message})
}
