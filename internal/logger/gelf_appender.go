// internal/logger/gelf_appender.go

package logger

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/orgoj/amqpgelf/internal/appender"
	"github.com/orgoj/amqpgelf/internal/config"
	"github.com/orgoj/amqpgelf/internal/formatter"
	"github.com/orgoj/amqpgelf/internal/layout"
	"github.com/orgoj/amqpgelf/internal/logevent"
	"gopkg.in/Graylog2/go-gelf.v2/gelf"
)

// Variables for factories to allow mocking in tests
var gelfUDPWriterFactory = gelf.NewUDPWriter
var gelfTCPWriterFactory = gelf.NewTCPWriter

// Function to set compression, can be mocked in tests
var setUDPCompression = func(writer *gelf.UDPWriter, compType gelf.CompressType) {
	writer.CompressionType = compType
}

// GelfAppender sends GELF documents straight to a Graylog input over UDP or TCP.
// Documents are queued and written by one goroutine, so a stalled TCP peer
// never blocks Append; when the queue is full the event is dropped.
type GelfAppender struct {
	name      string
	writer    gelf.Writer
	formatter *formatter.GelfFormatter
	appLogger *AppLogger

	mu        sync.RWMutex // guards closed and sends on queue
	closed    bool
	queue     chan *gelf.Message
	closeOnce sync.Once
	aborted   atomic.Bool
	done      chan struct{}

	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

// NewGelfAppender creates a new GELF UDP/TCP appender
func NewGelfAppender(cfg config.AppenderConfig, appLogger *AppLogger) (*GelfAppender, error) {
	if cfg.Type != config.TypeGelf {
		return nil, fmt.Errorf("appender '%s': unsupported type '%s'", cfg.Name, cfg.Type)
	}
	if err := config.ValidateAppender(&cfg); err != nil {
		return nil, err
	}

	l, err := layout.New(cfg.Layout)
	if err != nil {
		return nil, fmt.Errorf("appender '%s': %w", cfg.Name, err)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	var writer gelf.Writer
	if cfg.Protocol == "tcp" {
		tcpWriter, err := gelfTCPWriterFactory(addr)
		if err != nil {
			return nil, fmt.Errorf("failed to create GELF TCP writer: %w", err)
		}
		writer = tcpWriter
	} else {
		udpWriter, err := gelfUDPWriterFactory(addr)
		if err != nil {
			return nil, fmt.Errorf("failed to create GELF UDP writer: %w", err)
		}

		switch cfg.CompressionType {
		case "gzip":
			setUDPCompression(udpWriter, gelf.CompressGzip)
		case "zlib":
			setUDPCompression(udpWriter, gelf.CompressZlib)
		default:
			setUDPCompression(udpWriter, gelf.CompressNone)
		}

		writer = udpWriter
	}

	f := formatter.NewGelfFormatter(cfg.Hostname, cfg.Facility, cfg.CustomFields, l)
	f.SetMaxShortMessage(cfg.MaxShortMessage)

	bufferSize := cfg.BufferSize
	if bufferSize == 0 {
		bufferSize = appender.DefaultBufferSize
	}

	g := &GelfAppender{
		name:      cfg.Name,
		writer:    writer,
		formatter: f,
		appLogger: appLogger,
		queue:     make(chan *gelf.Message, bufferSize),
		done:      make(chan struct{}),
	}
	go g.run()
	return g, nil
}

// Append formats ev and queues the GELF document for the Graylog server.
func (g *GelfAppender) Append(ev *logevent.Event) {
	msg, err := g.formatter.Format(ev)
	if err != nil {
		g.dropped.Add(1)
		g.appLogger.Error("appender '%s': %v", g.name, err)
		return
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.closed {
		g.dropped.Add(1)
		g.appLogger.Error("appender '%s': dropping log event: %v", g.name, appender.ErrClosed)
		return
	}
	select {
	case g.queue <- msg:
	default:
		g.dropped.Add(1)
		g.appLogger.Error("appender '%s': dropping log event: %v", g.name, appender.ErrQueueFull)
	}
}

func (g *GelfAppender) run() {
	defer close(g.done)

	var skipped uint64
	for msg := range g.queue {
		if g.aborted.Load() {
			skipped++
			continue
		}
		if err := g.writer.WriteMessage(msg); err != nil {
			g.failed.Add(1)
			g.appLogger.Error("appender '%s': failed to send GELF message: %v", g.name, err)
			continue
		}
		g.sent.Add(1)
	}
	if skipped > 0 {
		g.dropped.Add(skipped)
		g.appLogger.Error("appender '%s': dropped %d queued log events on shutdown", g.name, skipped)
	}
}

// Close writes what is still queued and closes the GELF writer. If ctx is done
// first, the writer is closed under the pending write and the rest is dropped.
func (g *GelfAppender) Close(ctx context.Context) error {
	var closeErr error
	first := false
	g.closeOnce.Do(func() {
		first = true
		g.mu.Lock()
		g.closed = true
		close(g.queue)
		g.mu.Unlock()
	})

	select {
	case <-g.done:
		if first {
			closeErr = g.writer.Close()
		}
		return closeErr
	case <-ctx.Done():
		if first {
			g.aborted.Store(true)
			_ = g.writer.Close()
		}
		<-g.done
		return fmt.Errorf("appender '%s': close: %w", g.name, ctx.Err())
	}
}

// Stats returns a snapshot of the appender counters.
func (g *GelfAppender) Stats() appender.Stats {
	return appender.Stats{
		Published: g.sent.Load(),
		Failed:    g.failed.Load(),
		Dropped:   g.dropped.Load(),
	}
}

// Name returns the name of the appender
func (g *GelfAppender) Name() string {
	return g.name
}

var _ Appender = (*GelfAppender)(nil)
