// Package appender publishes GELF documents built from log events to an AMQP exchange.
package appender

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orgoj/amqpgelf/internal/broker"
	"github.com/orgoj/amqpgelf/internal/config"
	"github.com/orgoj/amqpgelf/internal/formatter"
	"github.com/orgoj/amqpgelf/internal/layout"
	"github.com/orgoj/amqpgelf/internal/logevent"
)

// DefaultBufferSize is the number of documents queued for publishing before
// new ones are dropped.
const DefaultBufferSize = 1024

var (
	// ErrClosed is reported for events appended after Close.
	ErrClosed = errors.New("appender is closed")
	// ErrQueueFull is reported when a document is dropped because the publish queue is full.
	ErrQueueFull = errors.New("publish queue is full")
	// ErrNotConnected is reported for documents that could not be published
	// because the broker connection was never established.
	ErrNotConnected = errors.New("not connected to broker")
)

// Diagnostics receives failures that must not reach the log call site.
type Diagnostics interface {
	Error(format string, args ...interface{})
}

type stderrDiagnostics struct{}

func (stderrDiagnostics) Error(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "[ERROR] "+format+"\n", args...)
}

// Stats counts what happened to appended events.
type Stats struct {
	Published uint64 `json:"published"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
}

// Option configures an Appender.
type Option func(*Appender)

// WithDialer replaces the amqp091-go dialer, e.g. with a fake in tests.
func WithDialer(d broker.Dialer) Option {
	return func(a *Appender) { a.dial = d }
}

// WithLayout overrides the layout selected by the configuration.
func WithLayout(l layout.Layout) Option {
	return func(a *Appender) { a.layout = l }
}

// WithDiagnostics sets where publish failures are reported. Defaults to stderr.
func WithDiagnostics(d Diagnostics) Option {
	return func(a *Appender) { a.diag = d }
}

// Appender formats log events as GELF and publishes them to an AMQP exchange.
//
// The broker connection is established once, in the background, as soon as the
// appender is created. A single dispatch goroutine owns the connection and its
// one channel; documents are published in the order Append was called.
// Append never blocks on the broker and never reports errors to its caller.
type Appender struct {
	name           string
	url            string
	routingKey     string
	exchange       config.ExchangeSpec
	connectTimeout time.Duration

	formatter *formatter.GelfFormatter
	layout    layout.Layout
	dial      broker.Dialer
	diag      Diagnostics

	mu        sync.RWMutex // guards closed and sends on queue
	closed    bool
	queue     chan []byte
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}

	published atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64

	// Owned by the dispatch goroutine.
	conn    broker.Connection
	ch      broker.Channel
	connErr error
}

// New validates cfg, builds the GELF formatter and starts connecting to the broker.
// Connection failures are reported to the diagnostics, not returned.
func New(cfg config.AppenderConfig, opts ...Option) (*Appender, error) {
	if cfg.Type != config.TypeAMQPGelf {
		return nil, fmt.Errorf("appender '%s': unsupported type '%s'", cfg.Name, cfg.Type)
	}
	if err := config.ValidateAppender(&cfg); err != nil {
		return nil, err
	}

	a := &Appender{
		name:       cfg.Name,
		url:        cfg.URL,
		routingKey: cfg.RoutingKey,
		exchange:   cfg.Exchange,
		diag:       stderrDiagnostics{},
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}

	if cfg.ConnectTimeout != "" {
		timeout, err := config.ParseDuration(cfg.ConnectTimeout)
		if err != nil {
			return nil, fmt.Errorf("appender '%s': invalid connect_timeout: %w", cfg.Name, err)
		}
		a.connectTimeout = timeout
	}
	if a.layout == nil {
		l, err := layout.New(cfg.Layout)
		if err != nil {
			return nil, fmt.Errorf("appender '%s': %w", cfg.Name, err)
		}
		a.layout = l
	}
	if a.dial == nil {
		a.dial = broker.DialAMQP(cfg.Name, a.connectTimeout)
	}

	a.formatter = formatter.NewGelfFormatter(cfg.Hostname, cfg.Facility, cfg.CustomFields, a.layout)
	a.formatter.SetMaxShortMessage(cfg.MaxShortMessage)

	bufferSize := cfg.BufferSize
	if bufferSize == 0 {
		bufferSize = DefaultBufferSize
	}
	a.queue = make(chan []byte, bufferSize)
	a.ctx, a.cancel = context.WithCancel(context.Background())

	go a.run()
	return a, nil
}

// Name returns the name of the appender
func (a *Appender) Name() string {
	return a.name
}

// Stats returns a snapshot of the appender counters.
func (a *Appender) Stats() Stats {
	return Stats{
		Published: a.published.Load(),
		Failed:    a.failed.Load(),
		Dropped:   a.dropped.Load(),
	}
}

// Append builds the GELF document for ev and queues it for publishing.
// The document is built before Append returns, so the removal of a leading
// GELF field object from ev.Data is visible to the caller.
func (a *Appender) Append(ev *logevent.Event) {
	defer func() {
		if r := recover(); r != nil {
			a.dropped.Add(1)
			a.diag.Error("appender '%s': panic while appending log event: %v", a.name, r)
		}
	}()

	msg, err := a.formatter.Format(ev)
	if err != nil {
		a.dropped.Add(1)
		a.diag.Error("appender '%s': %v", a.name, err)
		return
	}
	body, err := formatter.Marshal(msg)
	if err != nil {
		a.dropped.Add(1)
		a.diag.Error("appender '%s': %v", a.name, err)
		return
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		a.diag.Error("appender '%s': dropping log event: %v", a.name, ErrClosed)
		return
	}
	select {
	case a.queue <- body:
	default:
		a.dropped.Add(1)
		a.diag.Error("appender '%s': dropping log event: %v", a.name, ErrQueueFull)
	}
}

// Close stops accepting events, publishes what is still queued and closes the
// channel and the connection. If ctx is done first, in-flight work is aborted
// and the remaining documents are dropped.
func (a *Appender) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.queue)
		a.mu.Unlock()
	})

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		a.cancel()
		<-a.done
		return fmt.Errorf("appender '%s': close: %w", a.name, ctx.Err())
	}
}

// run is the dispatch loop. It is the only goroutine touching conn and ch.
func (a *Appender) run() {
	defer close(a.done)
	defer a.cancel()

	a.connect()

	var aborted uint64
	for body := range a.queue {
		if a.ctx.Err() != nil {
			aborted++
			continue
		}
		if err := a.publish(body); err != nil {
			a.failed.Add(1)
			a.diag.Error("appender '%s': failed to publish GELF message to exchange '%s': %v", a.name, a.exchange.Name, err)
			continue
		}
		a.published.Add(1)
	}
	if aborted > 0 {
		a.dropped.Add(aborted)
		a.diag.Error("appender '%s': dropped %d queued log events on shutdown", a.name, aborted)
	}

	a.release()
}

func (a *Appender) connect() {
	ctx := a.ctx
	if a.connectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.connectTimeout)
		defer cancel()
	}

	conn, err := a.dial(ctx, a.url)
	if err != nil {
		a.connErr = err
		a.diag.Error("appender '%s': %v", a.name, err)
		return
	}
	a.conn = conn

	if err := a.openChannel(); err != nil {
		a.diag.Error("appender '%s': %v", a.name, err)
	}
}

// openChannel opens the publishing channel and declares the exchange on it.
func (a *Appender) openChannel() error {
	ch, err := a.conn.Channel()
	if err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(a.exchange); err != nil {
		_ = ch.Close()
		return fmt.Errorf("declare exchange '%s': %w", a.exchange.Name, err)
	}
	a.ch = ch
	return nil
}

func (a *Appender) publish(body []byte) error {
	if a.conn == nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, a.connErr)
	}
	if a.ch == nil {
		if err := a.openChannel(); err != nil {
			return err
		}
	}
	if err := a.ch.Publish(a.ctx, a.exchange.Name, a.routingKey, body); err != nil {
		// The channel is unusable after a failed publish; reopen it next time.
		_ = a.ch.Close()
		a.ch = nil
		return err
	}
	return nil
}

func (a *Appender) release() {
	if a.ch != nil {
		if err := a.ch.Close(); err != nil {
			a.diag.Error("appender '%s': error closing channel: %v", a.name, err)
		}
		a.ch = nil
	}
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			a.diag.Error("appender '%s': error closing connection: %v", a.name, err)
		}
		a.conn = nil
	}
}
