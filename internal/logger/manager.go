// internal/logger/manager.go

package logger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gobwas/glob"
	"github.com/orgoj/amqpgelf/internal/appender"
	"github.com/orgoj/amqpgelf/internal/broker"
	"github.com/orgoj/amqpgelf/internal/config"
	"github.com/orgoj/amqpgelf/internal/logevent"
	"golang.org/x/sync/errgroup"
)

// route binds an appender to the categories it receives.
type route struct {
	appender   Appender
	categories []glob.Glob // empty means every category
}

func (r *route) matches(category string) bool {
	if len(r.categories) == 0 {
		return true
	}
	for _, g := range r.categories {
		if g.Match(category) {
			return true
		}
	}
	return false
}

// Manager handles the lifecycle of appenders and routes events to them.
type Manager struct {
	routes    []*route
	mu        sync.RWMutex
	appLogger *AppLogger
	dialer    broker.Dialer
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithAppLogger sets the diagnostic logger used by the manager and its appenders.
func WithAppLogger(l *AppLogger) ManagerOption {
	return func(m *Manager) { m.appLogger = l }
}

// WithBrokerDialer makes amqp-gelf appenders connect through d instead of amqp091-go.
func WithBrokerDialer(d broker.Dialer) ManagerOption {
	return func(m *Manager) { m.dialer = d }
}

// NewManager creates a new appender manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{appLogger: GetAppLogger()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// InitAppenders initializes appenders based on the provided configuration.
// Appenders that fail to initialize are skipped and reported in the returned error.
func (m *Manager) InitAppenders(cfgs []config.AppenderConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Close existing appenders first if any (e.g., on config reload)
	for _, r := range m.routes {
		if err := r.appender.Close(context.Background()); err != nil {
			m.appLogger.Warn("Error closing existing appender '%s' during re-initialization: %v", r.appender.Name(), err)
		}
	}
	m.routes = nil

	var initErrors []error
	for _, cfg := range cfgs {
		if !cfg.Enabled {
			continue
		}

		r, err := m.newRoute(cfg)
		if err != nil {
			m.appLogger.Error("Failed to initialize appender '%s' (type: %s): %v", cfg.Name, cfg.Type, err)
			initErrors = append(initErrors, fmt.Errorf("appender '%s': %w", cfg.Name, err))
			continue
		}

		m.routes = append(m.routes, r)
		m.appLogger.Info("Initialized appender '%s' (type: %s)", cfg.Name, cfg.Type)
	}

	if len(initErrors) > 0 {
		return fmt.Errorf("failed to initialize some appenders: %v", initErrors)
	}
	return nil
}

func (m *Manager) newRoute(cfg config.AppenderConfig) (*route, error) {
	globs := make([]glob.Glob, 0, len(cfg.Categories))
	for _, pattern := range cfg.Categories {
		g, err := glob.Compile(pattern, '.')
		if err != nil {
			return nil, fmt.Errorf("invalid category pattern '%s': %w", pattern, err)
		}
		globs = append(globs, g)
	}

	var app Appender
	var err error
	switch cfg.Type {
	case config.TypeAMQPGelf:
		opts := []appender.Option{appender.WithDiagnostics(m.appLogger)}
		if m.dialer != nil {
			opts = append(opts, appender.WithDialer(m.dialer))
		}
		app, err = appender.New(cfg, opts...)
	case config.TypeFile:
		app, err = NewFileAppender(cfg, m.appLogger)
	case config.TypeGelf:
		app, err = NewGelfAppender(cfg, m.appLogger)
	default:
		err = fmt.Errorf("unsupported appender type: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	return &route{appender: app, categories: globs}, nil
}

// Log hands ev to every appender whose categories match. Each appender gets
// its own copy of the event; a leading GELF field object is then removed from
// ev.Data so later consumers of the same event do not see it.
func (m *Manager) Log(ev *logevent.Event) {
	if ev == nil {
		return
	}

	m.mu.RLock()
	for _, r := range m.routes {
		if r.matches(ev.Category) {
			r.appender.Append(ev.Clone())
		}
	}
	m.mu.RUnlock()

	if len(ev.Data) > 0 {
		if _, ok := logevent.HasMarker(ev.Data[0]); ok {
			ev.Data = ev.Data[1:]
		}
	}
}

// GetAppender retrieves an appender by name.
// Returns nil if the appender is not found or not initialized.
func (m *Manager) GetAppender(name string) Appender {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.routes {
		if r.appender.Name() == name {
			return r.appender
		}
	}
	return nil
}

// Names returns the sorted names of all initialized appenders.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.routes))
	for _, r := range m.routes {
		names = append(names, r.appender.Name())
	}
	sort.Strings(names)
	return names
}

// statsReporter is implemented by appenders that count their deliveries.
type statsReporter interface {
	Stats() appender.Stats
}

// Stats returns the delivery counters of every appender that keeps them, keyed
// by appender name.
func (m *Manager) Stats() map[string]appender.Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := make(map[string]appender.Stats, len(m.routes))
	for _, r := range m.routes {
		if sr, ok := r.appender.(statsReporter); ok {
			stats[r.appender.Name()] = sr.Stats()
		}
	}
	return stats
}

// CloseAll closes all managed appenders in parallel, giving them until ctx is
// done to flush. It returns the first close error; every error is logged.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.appLogger.Info("Shutting down... Closing appenders.")
	var g errgroup.Group
	for _, r := range m.routes {
		app := r.appender
		g.Go(func() error {
			if err := app.Close(ctx); err != nil {
				m.appLogger.Warn("Error closing appender '%s': %v", app.Name(), err)
				return err
			}
			return nil
		})
	}
	err := g.Wait()
	m.appLogger.Info("Appenders closed.")
	m.routes = nil
	return err
}
