package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orgoj/amqpgelf/internal/appender"
	"github.com/orgoj/amqpgelf/internal/config"
	"github.com/orgoj/amqpgelf/internal/logevent"
	"github.com/orgoj/amqpgelf/internal/logger"
	"github.com/orgoj/amqpgelf/internal/version"
)

type recordingRouter struct {
	mu     sync.Mutex
	events []*logevent.Event
}

func (r *recordingRouter) Log(ev *logevent.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingRouter) Names() []string { return []string{"rabbit"} }

func (r *recordingRouter) Stats() map[string]appender.Stats {
	return map[string]appender.Stats{"rabbit": {Published: 3, Dropped: 1}}
}

func (r *recordingRouter) received() []*logevent.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*logevent.Event(nil), r.events...)
}

// Helper function to create minimal valid config for testing
func createTestConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.Enabled = true
	cfg.Server.Host = "localhost"
	cfg.Server.Port = 8080
	cfg.Server.Mode = "production"
	cfg.Server.RequestLimits.MaxBodySize = 1024
	cfg.ShutdownTimeout = "5s"
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *recordingRouter) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	events := &recordingRouter{}
	s, err := NewServer(Dependencies{
		Config:    cfg,
		Events:    events,
		AppLogger: logger.NewAppLogger(&bytes.Buffer{}, logger.TRACE),
	})
	require.NoError(t, err)
	return s, events
}

func postLog(s *Server, body string, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/log", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestNewServer(t *testing.T) {
	t.Run("Creates server successfully", func(t *testing.T) {
		s, _ := newTestServer(t, createTestConfig())
		assert.NotNil(t, s.router)
		assert.Equal(t, "localhost:8080", s.httpServer.Addr)
	})

	t.Run("Invalid trusted proxies", func(t *testing.T) {
		cfg := createTestConfig()
		cfg.Server.TrustedProxies = []string{"nope"}
		_, err := NewServer(Dependencies{Config: cfg, Events: &recordingRouter{}})
		assert.Error(t, err)
	})

	t.Run("Panics without events", func(t *testing.T) {
		assert.Panics(t, func() {
			_, _ = NewServer(Dependencies{Config: createTestConfig()})
		})
	})
}

func TestHealthAndVersion(t *testing.T) {
	s, _ := newTestServer(t, createTestConfig())

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","appenders":["rabbit"],"stats":{"rabbit":{"published":3,"failed":0,"dropped":1}}}`, w.Body.String())

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodHead, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/version", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, version.Version, body["version"])
}

func TestLogHandler_Accepted(t *testing.T) {
	s, events := newTestServer(t, createTestConfig())

	w := postLog(s, `{
		"level": "error",
		"category": "app.http",
		"message": "request %s failed",
		"data": ["GET /"],
		"timestamp": "2024-03-01T12:00:00.5Z",
		"fields": {"_request_id": "r-1"}
	}`, "203.0.113.5:1234")

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.JSONEq(t, `{"status":"accepted","request_id":"r-1"}`, w.Body.String())
	got := events.received()
	require.Len(t, got, 1)

	ev := got[0]
	assert.Equal(t, logevent.ERROR, ev.Level)
	assert.Equal(t, "app.http", ev.Category)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 500_000_000, time.UTC), ev.Time.UTC())
	require.Len(t, ev.Data, 3)
	assert.Equal(t, "request %s failed", ev.Data[1])
	assert.Equal(t, "GET /", ev.Data[2])

	fields, ok := logevent.HasMarker(ev.Data[0])
	require.True(t, ok)
	assert.Equal(t, "r-1", fields["_request_id"])
	assert.Equal(t, "203.0.113.5", fields["_client_ip"])
}

func TestLogHandler_ClientIPFromTrustedProxy(t *testing.T) {
	cfg := createTestConfig()
	cfg.Server.TrustedProxies = []string{"10.0.0.0/8"}
	cfg.Server.ClientIPHeader = "X-Real-IP"
	s, events := newTestServer(t, cfg)

	req := httptest.NewRequest(http.MethodPost, "/log", strings.NewReader(`{"level":"info","message":"m"}`))
	req.RemoteAddr = "10.0.0.2:80"
	req.Header.Set("X-Real-IP", "198.51.100.7")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	fields, ok := logevent.HasMarker(events.received()[0].Data[0])
	require.True(t, ok)
	assert.Equal(t, "198.51.100.7", fields["_client_ip"])

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	_, err := uuid.Parse(resp["request_id"])
	assert.NoError(t, err, "a request id is generated when none is supplied")
	assert.Equal(t, resp["request_id"], fields["_request_id"])
	assert.True(t, events.received()[0].Time.IsZero(), "missing timestamp leaves the event unstamped")
}

func TestLogHandler_Rejected(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
	}{
		{"Invalid JSON", `{"level":`, http.StatusBadRequest},
		{"Missing message", `{"level":"info"}`, http.StatusBadRequest},
		{"Missing level", `{"message":"m"}`, http.StatusBadRequest},
		{"Unknown level", `{"level":"loud","message":"m"}`, http.StatusBadRequest},
		{"Invalid field name", `{"level":"info","message":"m","fields":{"user":"u1"}}`, http.StatusBadRequest},
		{"Body too large", `{"level":"info","message":"` + strings.Repeat("x", 2048) + `"}`, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, events := newTestServer(t, createTestConfig())
			w := postLog(s, tt.body, "")
			assert.Equal(t, tt.code, w.Code, w.Body.String())
			assert.Empty(t, events.received())
		})
	}
}

func TestRateLimit(t *testing.T) {
	cfg := createTestConfig()
	cfg.Server.RequestLimits.RateLimit = 2
	s, events := newTestServer(t, cfg)

	body := `{"level":"info","message":"m"}`
	assert.Equal(t, http.StatusAccepted, postLog(s, body, "203.0.113.5:1").Code)
	assert.Equal(t, http.StatusAccepted, postLog(s, body, "203.0.113.5:2").Code)
	assert.Equal(t, http.StatusTooManyRequests, postLog(s, body, "203.0.113.5:3").Code)

	// Limits are tracked per client IP.
	assert.Equal(t, http.StatusAccepted, postLog(s, body, "203.0.113.6:1").Code)
	assert.Len(t, events.received(), 3)

	// Health is not rate limited.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "203.0.113.5:4"
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStartAndShutdown(t *testing.T) {
	cfg := createTestConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	s, _ := newTestServer(t, cfg)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	// Give ListenAndServe a moment to start.
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Shutdown")
	}
}
