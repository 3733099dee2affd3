package ingest

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/detectforge/runbookcore/model"
)

func validAlertBody() []byte {
	b, _ := json.Marshal(model.AlertEvent{
		Timestamp: "2026-07-29T00:00:00Z",
		Event:     model.EventBlock{Kind: "alert"},
	})
	return b
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestHandlerHealthOK(t *testing.T) {
	h := NewHandler(func(ctx context.Context, a *model.AlertEvent) (string, error) { return "exec-1", nil })
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHandlerHealthWrongMethod(t *testing.T) {
	h := NewHandler(func(ctx context.Context, a *model.AlertEvent) (string, error) { return "exec-1", nil })
	req := httptest.NewRequest(http.MethodPost, "/health", nil)
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandlerAlertsSuccess(t *testing.T) {
	var received *model.AlertEvent
	h := NewHandler(func(ctx context.Context, a *model.AlertEvent) (string, error) {
		received = a
		return "exec-42", nil
	})

	body := validAlertBody()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, received)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "exec-42", resp["execution_id"])
}

func TestHandlerAlertsWrongMethod(t *testing.T) {
	h := NewHandler(func(ctx context.Context, a *model.AlertEvent) (string, error) { return "", nil })
	req := httptest.NewRequest(http.MethodGet, "/api/v1/alerts", nil)
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandlerAlertsUnknownPath(t *testing.T) {
	h := NewHandler(func(ctx context.Context, a *model.AlertEvent) (string, error) { return "", nil })
	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerAlertsMalformedJSON(t *testing.T) {
	h := NewHandler(func(ctx context.Context, a *model.AlertEvent) (string, error) { return "", nil })
	req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerAlertsFailsMinimumValidity(t *testing.T) {
	h := NewHandler(func(ctx context.Context, a *model.AlertEvent) (string, error) { return "", nil })
	body, _ := json.Marshal(map[string]interface{}{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerAlertsRejectsMissingEventKey(t *testing.T) {
	h := NewHandler(func(ctx context.Context, a *model.AlertEvent) (string, error) { return "", nil })
	body, _ := json.Marshal(map[string]interface{}{"@timestamp": "2026-07-29T00:00:00Z"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerAlertsAcceptsEmptyEventObject(t *testing.T) {
	h := NewHandler(func(ctx context.Context, a *model.AlertEvent) (string, error) { return "exec-1", nil })
	body, _ := json.Marshal(map[string]interface{}{"@timestamp": "2026-07-29T00:00:00Z", "event": map[string]interface{}{}})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlerAlertsDispatchError(t *testing.T) {
	h := NewHandler(func(ctx context.Context, a *model.AlertEvent) (string, error) {
		return "", assertErr{}
	})
	body := validAlertBody()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

type assertErr struct{}

func (assertErr) Error() string { return "dispatch failed" }

func TestHandlerAlertsRequiresValidSignature(t *testing.T) {
	h := NewHandler(func(ctx context.Context, a *model.AlertEvent) (string, error) { return "exec-1", nil },
		WithHMACSecret("topsecret"))

	body := validAlertBody()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "missing signature should be rejected")

	req2 := httptest.NewRequest(http.MethodPost, "/api/v1/alerts", bytes.NewReader(body))
	req2.Header.Set("x-detectforge-signature", "deadbeef")
	rec2 := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusUnauthorized, rec2.Code, "wrong signature should be rejected")

	req3 := httptest.NewRequest(http.MethodPost, "/api/v1/alerts", bytes.NewReader(body))
	req3.Header.Set("x-detectforge-signature", sign("topsecret", body))
	rec3 := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec3, req3)
	assert.Equal(t, http.StatusOK, rec3.Code, "correct signature should be accepted")
}
