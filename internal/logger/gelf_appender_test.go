package logger

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/orgoj/amqpgelf/internal/appender"
	"github.com/orgoj/amqpgelf/internal/config"
	"github.com/orgoj/amqpgelf/internal/logevent"
	"gopkg.in/Graylog2/go-gelf.v2/gelf"
)

// mockGelfWriter is a mock gelf.Writer for testing
type mockGelfWriter struct {
	lastMessage *gelf.Message
	writeCalled bool
	writeErr    error
	closed      bool
}

func (m *mockGelfWriter) WriteMessage(msg *gelf.Message) error {
	m.writeCalled = true
	m.lastMessage = msg
	return m.writeErr
}

func (m *mockGelfWriter) Write(p []byte) (n int, err error) {
	return len(p), nil
}

func (m *mockGelfWriter) Close() error {
	m.closed = true
	return nil
}

// stubGelfFactories replaces the network writers for the duration of the test.
func stubGelfFactories(t *testing.T) *gelf.CompressType {
	t.Helper()
	origNewUDPWriter := gelfUDPWriterFactory
	origNewTCPWriter := gelfTCPWriterFactory
	origSetUDPCompression := setUDPCompression
	t.Cleanup(func() {
		gelfUDPWriterFactory = origNewUDPWriter
		gelfTCPWriterFactory = origNewTCPWriter
		setUDPCompression = origSetUDPCompression
	})

	captured := gelf.CompressType(99) // Invalid value that won't match any real value
	setUDPCompression = func(writer *gelf.UDPWriter, compType gelf.CompressType) {
		captured = compType
	}
	gelfUDPWriterFactory = func(addr string) (*gelf.UDPWriter, error) {
		return &gelf.UDPWriter{}, nil
	}
	gelfTCPWriterFactory = func(addr string) (*gelf.TCPWriter, error) {
		return &gelf.TCPWriter{}, nil
	}
	return &captured
}

func gelfConfig() config.AppenderConfig {
	return config.AppenderConfig{
		Name:     "graylog",
		Type:     config.TypeGelf,
		Enabled:  true,
		Host:     "localhost",
		Port:     12201,
		Hostname: "web-1",
		Facility: "svc",
	}
}

func TestNewGelfAppender_ValidationErrors(t *testing.T) {
	stubGelfFactories(t)

	cfg := gelfConfig()
	cfg.Host = ""
	if _, err := NewGelfAppender(cfg, NewAppLogger(&bytes.Buffer{}, WARN)); err == nil {
		t.Error("Expected error for missing host, got nil")
	}

	cfg = gelfConfig()
	cfg.Port = 0
	if _, err := NewGelfAppender(cfg, NewAppLogger(&bytes.Buffer{}, WARN)); err == nil {
		t.Error("Expected error for invalid port, got nil")
	}

	cfg = gelfConfig()
	cfg.Type = config.TypeFile
	if _, err := NewGelfAppender(cfg, NewAppLogger(&bytes.Buffer{}, WARN)); err == nil {
		t.Error("Expected error for wrong type, got nil")
	}
}

func TestNewGelfAppender_FactoryError(t *testing.T) {
	stubGelfFactories(t)
	gelfUDPWriterFactory = func(addr string) (*gelf.UDPWriter, error) {
		return nil, errors.New("no route")
	}

	_, err := NewGelfAppender(gelfConfig(), NewAppLogger(&bytes.Buffer{}, WARN))
	if err == nil || !strings.Contains(err.Error(), "failed to create GELF UDP writer") {
		t.Errorf("Expected UDP writer error, got %v", err)
	}
}

func TestGelfCompression(t *testing.T) {
	captured := stubGelfFactories(t)

	tests := []struct {
		name           string
		protocol       string
		compressionCfg string
		expectedType   gelf.CompressType
	}{
		{"UDP default", "udp", "", gelf.CompressNone},
		{"UDP none", "udp", "none", gelf.CompressNone},
		{"UDP gzip", "udp", "gzip", gelf.CompressGzip},
		{"UDP zlib", "udp", "zlib", gelf.CompressZlib},
		{"TCP ignores compression", "tcp", "", gelf.CompressType(99)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			*captured = 99
			cfg := gelfConfig()
			cfg.Protocol = tt.protocol
			cfg.CompressionType = tt.compressionCfg

			app, err := NewGelfAppender(cfg, NewAppLogger(&bytes.Buffer{}, WARN))
			if err != nil {
				t.Fatalf("NewGelfAppender() error = %v", err)
			}
			if *captured != tt.expectedType {
				t.Errorf("Expected compression type %v, got %v", tt.expectedType, *captured)
			}
			if tt.protocol == "tcp" {
				if _, ok := app.writer.(*gelf.TCPWriter); !ok {
					t.Errorf("Expected TCP writer, got %T", app.writer)
				}
			}
		})
	}
}

func TestGelfAppender_Append(t *testing.T) {
	stubGelfFactories(t)

	cfg := gelfConfig()
	cfg.CustomFields = map[string]interface{}{"_env": "prod", "env": "ignored"}
	cfg.MaxShortMessage = 20

	app, err := NewGelfAppender(cfg, NewAppLogger(&bytes.Buffer{}, WARN))
	if err != nil {
		t.Fatalf("NewGelfAppender() error = %v", err)
	}
	mockWriter := &mockGelfWriter{}
	app.writer = mockWriter

	app.Append(&logevent.Event{
		Level: logevent.WARN,
		Data: []interface{}{
			logevent.Fields(map[string]interface{}{"_user": "u1", "_id": "nope"}),
			"disk usage above threshold on /var",
		},
	})

	if err := app.Close(context.Background()); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if !mockWriter.closed {
		t.Error("Expected writer to be closed")
	}

	if !mockWriter.writeCalled {
		t.Fatal("Expected WriteMessage to be called")
	}
	msg := mockWriter.lastMessage
	if msg.Level != 4 {
		t.Errorf("Expected level 4, got %d", msg.Level)
	}
	if msg.Host != "web-1" {
		t.Errorf("Expected host 'web-1', got %q", msg.Host)
	}
	if len(msg.Short) != 20 || !strings.HasSuffix(msg.Short, "...truncated") {
		t.Errorf("Expected truncated short message of length 20, got %q", msg.Short)
	}
	expectedExtra := map[string]interface{}{"_env": "prod", "_facility": "svc", "_user": "u1"}
	if len(msg.Extra) != len(expectedExtra) {
		t.Errorf("Expected extra %v, got %v", expectedExtra, msg.Extra)
	}
	for k, v := range expectedExtra {
		if msg.Extra[k] != v {
			t.Errorf("Extra[%s] = %v, want %v", k, msg.Extra[k], v)
		}
	}
	if got := app.Stats(); got != (appender.Stats{Published: 1}) {
		t.Errorf("Stats() = %+v, want one published", got)
	}
}

func TestGelfAppender_WriteErrorIsReported(t *testing.T) {
	stubGelfFactories(t)

	var diag bytes.Buffer
	app, err := NewGelfAppender(gelfConfig(), NewAppLogger(&diag, WARN))
	if err != nil {
		t.Fatalf("NewGelfAppender() error = %v", err)
	}
	app.writer = &mockGelfWriter{writeErr: errors.New("connection refused")}

	app.Append(&logevent.Event{Level: logevent.INFO, Data: []interface{}{"hello"}})
	if err := app.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if got := app.Stats().Failed; got != 1 {
		t.Errorf("Expected 1 failed write, got %d", got)
	}
	if !strings.Contains(diag.String(), "failed to send GELF message: connection refused") {
		t.Errorf("Expected write error in diagnostics, got %q", diag.String())
	}
	if app.Name() != "graylog" {
		t.Errorf("Expected name to be 'graylog', got '%s'", app.Name())
	}
}

// stalledGelfWriter blocks every write until release is closed, like a TCP
// peer that stopped reading.
type stalledGelfWriter struct {
	mockGelfWriter
	entered   chan struct{}
	release   chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	writes    int
}

func newStalledGelfWriter() *stalledGelfWriter {
	return &stalledGelfWriter{entered: make(chan struct{}, 16), release: make(chan struct{})}
}

func (w *stalledGelfWriter) WriteMessage(msg *gelf.Message) error {
	w.entered <- struct{}{}
	<-w.release
	w.mu.Lock()
	w.writes++
	w.mu.Unlock()
	return nil
}

func (w *stalledGelfWriter) Close() error {
	w.closeOnce.Do(func() { close(w.release) })
	return nil
}

func TestGelfAppender_AppendDoesNotBlockOnStalledWriter(t *testing.T) {
	stubGelfFactories(t)

	var diag bytes.Buffer
	cfg := gelfConfig()
	cfg.BufferSize = 1
	app, err := NewGelfAppender(cfg, NewAppLogger(&diag, WARN))
	if err != nil {
		t.Fatalf("NewGelfAppender() error = %v", err)
	}
	writer := newStalledGelfWriter()
	app.writer = writer

	app.Append(&logevent.Event{Level: logevent.INFO, Data: []interface{}{"first"}})
	select {
	case <-writer.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first document never reached the writer")
	}

	returned := make(chan struct{})
	go func() {
		defer close(returned)
		app.Append(&logevent.Event{Level: logevent.INFO, Data: []interface{}{"queued"}})
		app.Append(&logevent.Event{Level: logevent.INFO, Data: []interface{}{"dropped"}})
	}()
	select {
	case <-returned:
	case <-time.After(5 * time.Second):
		t.Fatal("Append blocked on a stalled writer")
	}

	if got := app.Stats().Dropped; got != 1 {
		t.Errorf("Expected 1 dropped event, got %d", got)
	}

	writer.Close()
	if err := app.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := app.Stats(); got != (appender.Stats{Published: 2, Dropped: 1}) {
		t.Errorf("Stats() = %+v, want 2 published and 1 dropped", got)
	}
	if !strings.Contains(diag.String(), "publish queue is full") {
		t.Errorf("Expected queue-full report, got %q", diag.String())
	}
}

func TestGelfAppender_CloseAbortsStalledWrite(t *testing.T) {
	stubGelfFactories(t)

	app, err := NewGelfAppender(gelfConfig(), NewAppLogger(&bytes.Buffer{}, WARN))
	if err != nil {
		t.Fatalf("NewGelfAppender() error = %v", err)
	}
	writer := newStalledGelfWriter()
	app.writer = writer

	app.Append(&logevent.Event{Level: logevent.INFO, Data: []interface{}{"stuck"}})
	<-writer.entered
	app.Append(&logevent.Event{Level: logevent.INFO, Data: []interface{}{"never sent"}})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = app.Close(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline error, got %v", err)
	}
	if got := app.Stats().Dropped; got != 1 {
		t.Errorf("Expected the queued event to be dropped, got %d", got)
	}

	if err := app.Close(context.Background()); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	app.Append(&logevent.Event{Level: logevent.INFO, Data: []interface{}{"late"}})
	if got := app.Stats().Dropped; got != 2 {
		t.Errorf("Expected late event to be dropped, got %d", got)
	}
}
