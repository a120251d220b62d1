// internal/logger/file_appender.go

package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/orgoj/amqpgelf/internal/config"
	"github.com/orgoj/amqpgelf/internal/formatter"
	"github.com/orgoj/amqpgelf/internal/layout"
	"github.com/orgoj/amqpgelf/internal/logevent"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileAppender writes each event as one GELF JSON line to a file with optional rotation.
type FileAppender struct {
	mu        sync.Mutex
	writer    io.WriteCloser // Can be *os.File or *lumberjack.Logger
	formatter *formatter.GelfFormatter
	name      string
	appLogger *AppLogger
}

// NewFileAppender creates a new FileAppender instance.
func NewFileAppender(cfg config.AppenderConfig, appLogger *AppLogger) (*FileAppender, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("file appender requires a name")
	}
	if cfg.Type != config.TypeFile {
		return nil, fmt.Errorf("appender '%s': unsupported type '%s'", cfg.Name, cfg.Type)
	}
	if err := config.ValidateAppender(&cfg); err != nil {
		return nil, err
	}

	l, err := layout.New(cfg.Layout)
	if err != nil {
		return nil, fmt.Errorf("appender '%s': %w", cfg.Name, err)
	}

	writer, err := openLogFile(cfg.Path, cfg.Rotation, cfg.Name)
	if err != nil {
		return nil, err
	}

	f := formatter.NewGelfFormatter(cfg.Hostname, cfg.Facility, cfg.CustomFields, l)
	f.SetMaxShortMessage(cfg.MaxShortMessage)

	return &FileAppender{
		writer:    writer,
		formatter: f,
		name:      cfg.Name,
		appLogger: appLogger,
	}, nil
}

// openLogFile opens path for appending, through lumberjack when any rotation
// parameter is set.
func openLogFile(path string, rotation config.LogRotation, name string) (io.WriteCloser, error) {
	var maxSizeMB int
	var maxAgeDays int

	if rotation.MaxSize != "" {
		// The max_size value is in MB; units are accepted for compatibility.
		var err error
		maxSizeMB, err = strconv.Atoi(rotation.MaxSize)
		if err != nil {
			sizeBytes, err := config.ParseSize(rotation.MaxSize)
			if err != nil {
				return nil, fmt.Errorf("invalid rotation.max_size '%s' for '%s': %w", rotation.MaxSize, name, err)
			}
			maxSizeMB = int(sizeBytes / (1024 * 1024))
			if sizeBytes > 0 && maxSizeMB == 0 {
				// Minimum value is 1MB (lumberjack limitation)
				maxSizeMB = 1
			}
		}
		if maxSizeMB < 0 {
			maxSizeMB = 0
		}
	}

	if rotation.MaxAge != "" {
		ageDuration, err := config.ParseDuration(rotation.MaxAge)
		if err != nil {
			return nil, fmt.Errorf("invalid rotation.max_age '%s' for '%s': %w", rotation.MaxAge, name, err)
		}
		maxAgeDays = int(ageDuration.Hours() / 24)
		if maxAgeDays <= 0 && ageDuration > 0 {
			maxAgeDays = 1
		}
	}

	if maxSizeMB > 0 || maxAgeDays > 0 || rotation.MaxBackups > 0 {
		return &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSizeMB,
			MaxBackups: rotation.MaxBackups,
			MaxAge:     maxAgeDays,
			Compress:   rotation.Compress,
			LocalTime:  false, // Use UTC time for backups
		}, nil
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return file, nil
}

// Append writes the GELF document for ev as a JSON line.
func (a *FileAppender) Append(ev *logevent.Event) {
	msg, err := a.formatter.Format(ev)
	if err != nil {
		a.appLogger.Error("appender '%s': %v", a.name, err)
		return
	}
	line, err := formatter.Marshal(msg)
	if err != nil {
		a.appLogger.Error("appender '%s': %v", a.name, err)
		return
	}
	line = append(line, '\n')

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.writer == nil {
		a.appLogger.Error("appender '%s': write after close", a.name)
		return
	}
	if _, err := a.writer.Write(line); err != nil {
		a.appLogger.Error("appender '%s': failed to write log line: %v", a.name, err)
	}
}

// Close closes the underlying file writer.
func (a *FileAppender) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.writer == nil {
		return nil
	}
	err := a.writer.Close()
	a.writer = nil
	return err
}

// Name returns the name of the appender.
func (a *FileAppender) Name() string {
	return a.name
}

// Ensure FileAppender implements the Appender interface.
var _ Appender = (*FileAppender)(nil)
