package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"rollcall/internal/config"
	"rollcall/internal/remote"
)

// pingBackend lets tests control backend health.
type pingBackend struct {
	*remote.Memory
	pingFn func(context.Context) error
}

func (b *pingBackend) Ping(ctx context.Context) error {
	if b.pingFn != nil {
		return b.pingFn(ctx)
	}
	return nil
}

func testConfig() config.Config {
	return config.Config{
		EventID:     "test",
		Backend:     config.BackendMemory,
		PushTimeout: time.Second,
		PullTimeout: time.Second,
		CORSOrigin:  "*",
	}
}

func newTestService(t *testing.T, deps Deps) *Service {
	t.Helper()
	if deps.Backend == nil {
		deps.Backend = remote.NewMemory()
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	svc := New(testConfig(), deps)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestHealthEndpoint(t *testing.T) {
	svc := newTestService(t, Deps{})
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if ok, exists := response["ok"]; !exists || ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestReadyEndpoint_Success(t *testing.T) {
	svc := newTestService(t, Deps{Backend: &pingBackend{Memory: remote.NewMemory()}})
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response["status"] != "ready" {
		t.Errorf("expected status=ready, got %v", response["status"])
	}
	checks := response["checks"].(map[string]any)
	backend := checks["backend"].(map[string]any)
	if backend["status"] != "ok" || backend["name"] != "memory" {
		t.Errorf("unexpected backend check %v", backend)
	}
}

func TestReadyEndpoint_BackendDown(t *testing.T) {
	svc := newTestService(t, Deps{Backend: &pingBackend{
		Memory: remote.NewMemory(),
		pingFn: func(context.Context) error { return errors.New("connection refused") },
	}})
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rr.Code)
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response["ok"] != false {
		t.Errorf("expected ok=false, got %v", response["ok"])
	}
	checks := response["checks"].(map[string]any)
	backend := checks["backend"].(map[string]any)
	if backend["error"] != "connection refused" {
		t.Errorf("expected backend error, got %v", backend["error"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	svc := newTestService(t, Deps{})
	server := NewHTTPServer(svc, "*")
	handler := server.Handler()

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/health", nil))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{"rollcall_http_requests_total", "go_goroutines"} {
		if !containsLine(body, metric) {
			t.Errorf("expected %s in metrics output", metric)
		}
	}
}

func TestOpenBackendCreatesSQLiteDirectory(t *testing.T) {
	cfg := testConfig()
	cfg.Backend = config.BackendSQLite
	cfg.SQLitePath = filepath.Join(t.TempDir(), "data", "events", "rollcall.db")

	backend, err := OpenBackend(context.Background(), cfg)
	if err != nil {
		t.Fatalf("OpenBackend() error = %v", err)
	}
	defer backend.Close()
	if backend.Name() != "sqlite" {
		t.Fatalf("Name() = %q, want sqlite", backend.Name())
	}
	if err := backend.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
}
