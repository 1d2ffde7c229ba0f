package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goclaw/simnet/config"
	"github.com/goclaw/simnet/pkg/api/events"
	"github.com/goclaw/simnet/pkg/api/handlers"
	"github.com/goclaw/simnet/pkg/engine"
	"github.com/goclaw/simnet/pkg/logger"
	"github.com/goclaw/simnet/pkg/metrics"
	"github.com/goclaw/simnet/pkg/simulation"
	"github.com/goclaw/simnet/pkg/sorter"
	"github.com/goclaw/simnet/pkg/trace"
)

type testStack struct {
	cfg         *config.Config
	engine      *engine.Engine
	service     *simulation.Service
	broadcaster *events.Broadcaster
	metrics     *metrics.Manager
	handlers    *Handlers
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.CORS.Enabled = false
	return cfg
}

// newTestStack wires handlers over a real engine and simulation service.
func newTestStack(t testing.TB) *testStack {
	t.Helper()
	cfg := testConfig()
	log := logger.NewNop()

	b := events.NewBroadcaster()
	eng := engine.New(engine.Config{Name: "api-test"},
		engine.WithLogger(log),
		engine.WithEventBroadcaster(b),
	)
	svc := simulation.NewService(eng,
		simulation.WithLogger(log),
		simulation.WithTraceConfig(trace.Config{BatchSize: 8, FlushInterval: time.Millisecond}),
		simulation.WithSinks(trace.NewBroadcastSink(b, 0, 1)),
	)
	m := metrics.NewManager(metrics.DefaultConfig())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = eng.Shutdown(ctx)
		b.Close()
	})

	return &testStack{
		cfg:         cfg,
		engine:      eng,
		service:     svc,
		broadcaster: b,
		metrics:     m,
		handlers: &Handlers{
			Runs:           handlers.NewRunHandler(svc, handlers.RunDefaults{Sorter: sorter.DefaultConfig(), Trace: true}, log),
			Health:         handlers.NewHealthHandler(eng),
			WebSocket:      handlers.NewWebSocketHandler(log, handlers.WebSocketConfig{}),
			Metrics:        m,
			MetricsHandler: m.Handler(),
		},
	}
}

func TestNewRouter_Empty(t *testing.T) {
	router := NewRouter(testConfig(), logger.NewNop(), &Handlers{})
	if router == nil {
		t.Fatal("NewRouter returned nil")
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestRegisterRoutes_HealthEndpoints(t *testing.T) {
	stack := newTestStack(t)
	router := NewRouter(stack.cfg, logger.NewNop(), stack.handlers)

	for _, path := range []string{"/health", "/ready", "/status"} {
		t.Run(path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
			if w.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
			}
			if w.Header().Get("X-Request-ID") == "" {
				t.Error("missing X-Request-ID header")
			}
		})
	}
}

func TestRegisterRoutes_RunEndpoints(t *testing.T) {
	stack := newTestStack(t)
	router := NewRouter(stack.cfg, logger.NewNop(), stack.handlers)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"list", http.MethodGet, "/api/v1/runs", "", http.StatusOK},
		{"list trailing slash", http.MethodGet, "/api/v1/runs/", "", http.StatusOK},
		{"unknown run", http.MethodGet, "/api/v1/runs/nope", "", http.StatusNotFound},
		{"unknown trace", http.MethodGet, "/api/v1/runs/nope/trace", "", http.StatusNotFound},
		{"cancel unknown", http.MethodPost, "/api/v1/runs/nope/cancel", "", http.StatusConflict},
		{"submit invalid", http.MethodPost, "/api/v1/runs", `{"format":"xml"}`, http.StatusBadRequest},
		{"wrong method", http.MethodDelete, "/api/v1/runs/nope", "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body)))
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestRegisterRoutes_Metrics(t *testing.T) {
	stack := newTestStack(t)
	router := NewRouter(stack.cfg, logger.NewNop(), stack.handlers)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "http_requests_total{") {
		t.Error("metrics output does not include HTTP request counter")
	}
}

func TestRegisterRoutes_CORSPreflight(t *testing.T) {
	stack := newTestStack(t)
	stack.cfg.Server.CORS.Enabled = true
	stack.cfg.Server.CORS.AllowedOrigins = []string{"http://ui.example"}
	router := NewRouter(stack.cfg, logger.NewNop(), stack.handlers)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/runs", nil)
	req.Header.Set("Origin", "http://ui.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://ui.example" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestMetricsPath(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Path = ""
	if got := metricsPath(cfg); got != "/metrics" {
		t.Errorf("metricsPath = %q", got)
	}
	cfg.Metrics.Path = "/prom"
	if got := metricsPath(cfg); got != "/prom" {
		t.Errorf("metricsPath = %q", got)
	}
}
