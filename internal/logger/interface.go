// internal/logger/interface.go

package logger

import (
	"context"

	"github.com/orgoj/amqpgelf/internal/logevent"
)

// Appender defines the interface for all log destination implementations.
type Appender interface {
	// Append formats and delivers a single log event. It must not block on
	// the destination and must not panic; failures go to the AppLogger.
	// Append may remove a leading GELF field object from ev.Data.
	Append(ev *logevent.Event)

	// Close flushes pending events and releases the destination.
	// It should be called during application shutdown.
	Close(ctx context.Context) error

	// Name returns the unique name of the appender instance (from config).
	Name() string
}
