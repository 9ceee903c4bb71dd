package handlers_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v5"

	"streamtally/pkg/config"
	"streamtally/pkg/handlers"
	"streamtally/pkg/middlewares"
	"streamtally/pkg/routes"
	"streamtally/pkg/service"
	"streamtally/pkg/types"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestServer(t *testing.T) *echo.Echo {
	t.Helper()
	logger := newTestLogger()
	cfg := &config.Config{
		NumThreads:      2,
		BatchSize:       1,
		QueueSize:       1000,
		WindowMS:        601_000,
		TokenMinLen:     3,
		IngestRateLimit: 50000,
		IngestRateBurst: 50000,
		MaxProcs:        2,
	}

	svc, err := service.New(cfg, logger)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	t.Cleanup(func() { _ = svc })

	h := handlers.New(svc, logger)
	e := echo.New()
	middlewares.Setup(e, logger)
	routes.Setup(e, h)
	return e
}

func TestIngestThenHistory(t *testing.T) {
	e := setupTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/ingest", strings.NewReader("[0:00:00] alphabet alphabet beta"))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("ingest status = %d, body = %s", rec.Code, rec.Body.String())
	}

	// Give the single-line batch a moment to flush: batch size 1 flushes
	// immediately on the worker goroutine, but the HTTP response returns
	// before that goroutine necessarily runs.
	waitForFlush(t, e, "alphabet")

	req = httptest.NewRequest(http.MethodGet, "/api/history?k=5", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("history status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp types.TopKResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].Word != "alphabet" || resp.Data[0].Count != 2 {
		t.Fatalf("history data = %+v, want alphabet:2 first", resp.Data)
	}
}

func TestIngestEmptyBodyRejected(t *testing.T) {
	e := setupTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/ingest", strings.NewReader(""))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHealthAndReady(t *testing.T) {
	e := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("/health status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("/ready status = %d", rec.Code)
	}
}

// waitForFlush polls /api/debug until the aggregator reports at least one
// bucket, avoiding a fixed sleep in a test that would otherwise race the
// worker goroutine.
func waitForFlush(t *testing.T, e *echo.Echo, _ string) {
	t.Helper()
	for i := 0; i < 200; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/debug", nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		var resp types.DebugResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err == nil {
			if bc, ok := resp.Aggregator["bucket_count"].(float64); ok && bc > 0 {
				return
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for ingest flush")
}
