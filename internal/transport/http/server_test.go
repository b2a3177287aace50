package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xiaot623/relaychat/internal/adapter/hf"
	"github.com/xiaot623/relaychat/internal/config"
	"github.com/xiaot623/relaychat/internal/domain"
	"github.com/xiaot623/relaychat/internal/policy"
	"github.com/xiaot623/relaychat/internal/repository"
	"github.com/xiaot623/relaychat/internal/service"
)

func newTestServer(t *testing.T, limiter *RateLimiter) *echo.Echo {
	t.Helper()
	db, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)

	svc := service.New(db, hf.NewMockClient(), config.DefaultUpstreamModels(), engine, service.NewMetrics(), time.Minute, zap.NewNop())
	return NewRelayServer(svc, limiter, zap.NewNop())
}

func serve(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func assertCORS(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, PUT, DELETE, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type, Authorization", rec.Header().Get("Access-Control-Allow-Headers"))
}

func TestRelayTextGeneration(t *testing.T) {
	e := newTestServer(t, nil)

	rec := serve(e, http.MethodPost, "/", `{"model":"text-generation","inputs":"Hello"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assertCORS(t, rec)

	var out hf.TextGenerationOutput
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "[MOCK gpt2] Hello", out.GeneratedText)
}

func TestRelayImageClassificationReturnsList(t *testing.T) {
	e := newTestServer(t, nil)

	rec := serve(e, http.MethodPost, "/", `{"model":"image-classification","inputs":"data:image/png;base64,aGVsbG8="}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var labels []hf.ImageClassificationOutput
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &labels))
	assert.NotEmpty(t, labels)
}

func TestRelayErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "unsupported model", body: `{"model":"translation","inputs":"hola"}`, wantErr: "unsupported model type"},
		{name: "malformed body", body: `{"model":`, wantErr: "invalid request body"},
		{name: "empty prompt", body: `{"model":"text-generation","inputs":""}`, wantErr: "inputs must not be empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestServer(t, nil)

			rec := serve(e, http.MethodPost, "/", tt.body)
			require.Equal(t, http.StatusInternalServerError, rec.Code)
			assertCORS(t, rec)

			var resp domain.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Contains(t, resp.Error, tt.wantErr)
		})
	}
}

func TestRelayPreflight(t *testing.T) {
	e := newTestServer(t, nil)

	rec := serve(e, http.MethodOptions, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
	assertCORS(t, rec)
}

func TestRelayRateLimit(t *testing.T) {
	e := newTestServer(t, NewRateLimiter(0.001, 1))

	rec := serve(e, http.MethodPost, "/", `{"model":"text-generation","inputs":"Hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(e, http.MethodPost, "/", `{"model":"text-generation","inputs":"Hello"}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assertCORS(t, rec)
	assert.Contains(t, rec.Body.String(), "rate limit exceeded")

	// Preflight is still answered once the bucket is empty.
	rec = serve(e, http.MethodOptions, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
	assertCORS(t, rec)
}

func TestRelayCallsAndMetrics(t *testing.T) {
	e := newTestServer(t, nil)

	serve(e, http.MethodPost, "/", `{"model":"summarization","inputs":"One. Two."}`)

	rec := serve(e, http.MethodGet, "/v1/calls?model=summarization", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Calls []domain.InferenceCall `json:"calls"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Calls, 1)
	assert.Equal(t, domain.CallStatusSucceeded, listed.Calls[0].Status)

	rec = serve(e, http.MethodGet, "/v1/calls/"+listed.Calls[0].CallID, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = serve(e, http.MethodGet, "/v1/calls/call_missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = serve(e, http.MethodGet, "/v1/calls?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(e, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `relay_inference_requests_total{model="summarization",outcome="success"} 1`), rec.Body.String())
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	rl.Allow("10.0.0.1")
	rl.cleanup(time.Now().Add(time.Hour))
	assert.Empty(t, rl.visitors)
}
