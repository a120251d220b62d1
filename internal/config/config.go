package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/orgoj/amqpgelf/internal/iputil"
	"gopkg.in/yaml.v3"
)

// Appender types
const (
	TypeAMQPGelf = "amqp-gelf"
	TypeFile     = "file"
	TypeGelf     = "gelf"
)

// LogRotation defines parameters for log file rotation.
type LogRotation struct {
	MaxSize    string `yaml:"max_size,omitempty"` // MB, e.g. "10" (units accepted for compatibility)
	MaxAge     string `yaml:"max_age,omitempty"`  // e.g., "7d", "48h"
	MaxBackups int    `yaml:"max_backups,omitempty" validate:"gte=0"`
	Compress   bool   `yaml:"compress,omitempty"`
}

// ExchangeSpec identifies the AMQP exchange documents are published to.
type ExchangeSpec struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"` // direct, fanout, topic, headers
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// LayoutSpec selects the rendering rule for short_message.
type LayoutSpec struct {
	Type    string `yaml:"type"`              // messagePassThrough, basic, pattern
	Pattern string `yaml:"pattern,omitempty"` // Mandatory for type: pattern
}

// AppenderConfig represents a single log destination.
type AppenderConfig struct {
	Name    string `yaml:"name" validate:"required"`
	Type    string `yaml:"type" validate:"required"`
	Enabled bool   `yaml:"enabled"`

	// Categories restricts the appender to events whose category matches one of the globs.
	Categories []string `yaml:"categories,omitempty"`

	// BufferSize bounds the send queue of amqp-gelf and gelf appenders; 0 selects 1024.
	BufferSize int `yaml:"buffer_size,omitempty" validate:"gte=0"`

	// GELF document
	Hostname        string                 `yaml:"hostname,omitempty"`
	Facility        string                 `yaml:"facility,omitempty"`
	CustomFields    map[string]interface{} `yaml:"custom_fields,omitempty"`
	Layout          *LayoutSpec            `yaml:"layout,omitempty"`
	MaxShortMessage int                    `yaml:"max_short_message,omitempty" validate:"gte=0"`

	// AMQP specific
	URL            string       `yaml:"url,omitempty"`
	RoutingKey     string       `yaml:"routing_key,omitempty"`
	Exchange       ExchangeSpec `yaml:"exchange,omitempty"`
	ConnectTimeout string       `yaml:"connect_timeout,omitempty"`

	// File specific
	Path     string      `yaml:"path,omitempty"`
	Rotation LogRotation `yaml:"rotation,omitempty"`

	// GELF (UDP/TCP) specific
	Host            string `yaml:"host,omitempty"`
	Port            int    `yaml:"port,omitempty" validate:"gte=0,lte=65535"`
	Protocol        string `yaml:"protocol,omitempty"`         // udp or tcp, default udp
	CompressionType string `yaml:"compression_type,omitempty"` // gzip, zlib, none, default none
}

// Config represents the application configuration
type Config struct {
	AppLog struct {
		Level          string      `yaml:"level"`
		File           string      `yaml:"file,omitempty"`
		Rotation       LogRotation `yaml:"rotation,omitempty"`
		ShowHealthLogs bool        `yaml:"show_health_logs"`
	} `yaml:"app_log"`

	Server struct {
		Enabled        bool     `yaml:"enabled"`
		Host           string   `yaml:"host"`
		Port           int      `yaml:"port" validate:"gte=0,lte=65535"`
		Mode           string   `yaml:"mode"` // production or debug
		TrustedProxies []string `yaml:"trusted_proxies"`
		ClientIPHeader string   `yaml:"client_ip_header"` // honoured only behind trusted_proxies
		RequestLimits  struct {
			MaxBodySize int `yaml:"max_body_size" validate:"gte=0"` // bytes
			RateLimit   int `yaml:"rate_limit" validate:"gte=0"`    // requests per minute per client IP
		} `yaml:"request_limits"`
	} `yaml:"server"`

	ShutdownTimeout string `yaml:"shutdown_timeout"`

	Appenders []AppenderConfig `yaml:"appenders" validate:"dive"`
}

// LoadConfig loads and validates the configuration from a file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	var cfg Config
	// Defaults, overridden by the file
	cfg.AppLog.Level = "WARN"
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8080
	cfg.Server.Mode = "production"
	cfg.ShutdownTimeout = "5s"

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file '%s': %w", path, err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// validateConfig performs semantic validation of the configuration and fills
// in per-appender defaults.
func validateConfig(cfg *Config) error {
	if _, err := ParseDuration(cfg.ShutdownTimeout); err != nil {
		return fmt.Errorf("invalid shutdown_timeout: %w", err)
	}

	if cfg.Server.Enabled {
		if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
			return fmt.Errorf("invalid server.port: %d", cfg.Server.Port)
		}
		if cfg.Server.Mode != "production" && cfg.Server.Mode != "debug" {
			return fmt.Errorf("invalid server.mode: '%s', must be 'production' or 'debug'", cfg.Server.Mode)
		}
	}
	if _, err := iputil.ParsePrefixes(cfg.Server.TrustedProxies); err != nil {
		return fmt.Errorf("invalid server.trusted_proxies: %w", err)
	}
	if cfg.Server.RequestLimits.MaxBodySize < 0 {
		return errors.New("server.request_limits.max_body_size cannot be negative")
	}
	if cfg.Server.RequestLimits.RateLimit < 0 {
		return errors.New("server.request_limits.rate_limit cannot be negative")
	}
	if err := validateRotation(cfg.AppLog.Rotation, "app_log"); err != nil {
		return err
	}

	names := make(map[string]bool)
	for i := range cfg.Appenders {
		app := &cfg.Appenders[i]
		if app.Name == "" {
			return fmt.Errorf("appenders[%d]: name is required", i)
		}
		if names[app.Name] {
			return fmt.Errorf("appenders: duplicate name '%s' found", app.Name)
		}
		names[app.Name] = true

		if err := ValidateAppender(app); err != nil {
			return err
		}
	}

	return nil
}

// ValidateAppender checks a single appender configuration and applies its defaults.
func ValidateAppender(app *AppenderConfig) error {
	path := fmt.Sprintf("appenders[%s]", app.Name)

	switch app.Type {
	case TypeAMQPGelf:
		if app.URL == "" {
			return fmt.Errorf("%s: url is required for type '%s'", path, TypeAMQPGelf)
		}
		if !strings.HasPrefix(app.URL, "amqp://") && !strings.HasPrefix(app.URL, "amqps://") {
			return fmt.Errorf("%s: url '%s' must start with 'amqp://' or 'amqps://'", path, app.URL)
		}
		if app.Exchange.Name == "" {
			return fmt.Errorf("%s: exchange.name is required for type '%s'", path, TypeAMQPGelf)
		}
		switch app.Exchange.Type {
		case "":
			app.Exchange.Type = "direct"
		case "direct", "fanout", "topic", "headers":
		default:
			return fmt.Errorf("%s: invalid exchange.type '%s', must be 'direct', 'fanout', 'topic' or 'headers'", path, app.Exchange.Type)
		}
		if app.ConnectTimeout != "" {
			if _, err := ParseDuration(app.ConnectTimeout); err != nil {
				return fmt.Errorf("%s: invalid connect_timeout: %w", path, err)
			}
		}
		if app.BufferSize < 0 {
			return fmt.Errorf("%s: buffer_size cannot be negative", path)
		}
	case TypeFile:
		if app.Path == "" {
			return fmt.Errorf("%s: path is required for type '%s'", path, TypeFile)
		}
		if err := validateRotation(app.Rotation, path); err != nil {
			return err
		}
	case TypeGelf:
		if app.Host == "" {
			return fmt.Errorf("%s: host is required for type '%s'", path, TypeGelf)
		}
		if app.Port <= 0 || app.Port > 65535 {
			return fmt.Errorf("%s: invalid port %d for type '%s'", path, app.Port, TypeGelf)
		}
		switch app.Protocol {
		case "":
			app.Protocol = "udp"
		case "udp", "tcp":
		default:
			return fmt.Errorf("%s: invalid protocol '%s', must be 'udp' or 'tcp' for type '%s'", path, app.Protocol, TypeGelf)
		}
		switch app.CompressionType {
		case "":
			app.CompressionType = "none"
		case "gzip", "zlib", "none":
		default:
			return fmt.Errorf("%s: invalid compression_type '%s', must be 'gzip', 'zlib', or 'none' for type '%s'", path, app.CompressionType, TypeGelf)
		}
	default:
		return fmt.Errorf("%s: unknown type '%s'", path, app.Type)
	}

	if app.Layout != nil {
		switch app.Layout.Type {
		case "", "messagePassThrough", "basic":
		case "pattern":
			if app.Layout.Pattern == "" {
				return fmt.Errorf("%s: layout.pattern is required for layout type 'pattern'", path)
			}
		default:
			return fmt.Errorf("%s: unknown layout.type '%s'", path, app.Layout.Type)
		}
	}
	if app.MaxShortMessage < 0 {
		return fmt.Errorf("%s: max_short_message cannot be negative", path)
	}

	if app.Hostname == "" {
		hostName, err := os.Hostname()
		if err != nil {
			hostName = "unknown"
			fmt.Printf("[WARN] Failed to get hostname: %v, using '%s'\n", err, hostName)
		}
		app.Hostname = hostName
	}
	return nil
}

func validateRotation(r LogRotation, path string) error {
	if r.MaxSize != "" {
		if _, err := ParseSize(r.MaxSize); err != nil {
			return fmt.Errorf("%s: invalid rotation.max_size: %w", path, err)
		}
	}
	if r.MaxAge != "" {
		if _, err := ParseDuration(r.MaxAge); err != nil {
			return fmt.Errorf("%s: invalid rotation.max_age: %w", path, err)
		}
	}
	if r.MaxBackups < 0 {
		return fmt.Errorf("%s: rotation.max_backups cannot be negative", path)
	}
	return nil
}

// ValidateConfig uses go-playground/validator for struct-level validation.
// It complements the semantic validation in validateConfig.
func ValidateConfig(cfg *Config) error {
	validate := validator.New()

	err := validate.Struct(cfg)
	if err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return err
		}
		var validationErrors []string
		for _, err := range err.(validator.ValidationErrors) {
			message := fmt.Sprintf("Field validation for '%s' failed on the '%s' tag", err.Namespace(), err.Tag())
			validationErrors = append(validationErrors, message)
		}
		return errors.New(strings.Join(validationErrors, "; "))
	}

	return validateConfig(cfg)
}

// ParseDuration parses a duration string (e.g., "10m", "1h30m", "7d").
// Supports standard time.ParseDuration units plus 'd' for days.
// Returns an error if the format is invalid or the duration is non-positive.
func ParseDuration(durationStr string) (time.Duration, error) {
	durationStr = strings.TrimSpace(durationStr)
	if durationStr == "" {
		return 0, errors.New("duration string cannot be empty")
	}

	if strings.HasSuffix(strings.ToLower(durationStr), "d") {
		numStr := strings.TrimSuffix(strings.ToLower(durationStr), "d")
		days, err := strconv.ParseInt(numStr, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number format for days in '%s': %w", durationStr, err)
		}
		if days < 0 {
			return 0, fmt.Errorf("duration (days) cannot be negative: %d", days)
		}
		d := time.Duration(days) * 24 * time.Hour
		if d <= 0 && days > 0 {
			return 0, fmt.Errorf("duration %dd results in overflow or zero duration", days)
		} else if d <= 0 && days == 0 {
			return 0, fmt.Errorf("duration must be positive: '%s'", durationStr)
		}
		return d, nil
	}

	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return 0, fmt.Errorf("invalid duration format '%s': %w", durationStr, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive: '%s'", durationStr)
	}
	return d, nil
}

// ParseSize parses a size string (e.g., "10MB", "5k", "1G") into bytes.
// Supports K, M, G suffixes (case-insensitive).
func ParseSize(sizeStr string) (int64, error) {
	sizeStr = strings.TrimSpace(strings.ToUpper(sizeStr))
	if sizeStr == "" {
		return 0, errors.New("size string cannot be empty")
	}

	var multiplier int64 = 1
	suffix := ""

	for _, unit := range []struct {
		suffix string
		mult   int64
	}{
		{"KB", 1024}, {"K", 1024},
		{"MB", 1024 * 1024}, {"M", 1024 * 1024},
		{"GB", 1024 * 1024 * 1024}, {"G", 1024 * 1024 * 1024},
	} {
		if strings.HasSuffix(sizeStr, unit.suffix) {
			multiplier = unit.mult
			suffix = unit.suffix
			break
		}
	}

	numStr := strings.TrimSpace(strings.TrimSuffix(sizeStr, suffix))

	numBig := new(big.Int)
	if _, ok := numBig.SetString(numStr, 10); !ok {
		return 0, fmt.Errorf("invalid number format in size string '%s'", sizeStr)
	}
	if numBig.Sign() < 0 {
		return 0, fmt.Errorf("size cannot be negative: %s", numBig.String())
	}
	if numBig.Sign() == 0 {
		return 0, nil
	}

	resultBig := new(big.Int).Mul(numBig, big.NewInt(multiplier))
	if !resultBig.IsInt64() {
		return 0, fmt.Errorf("size value %s%s results in overflow (exceeds max int64)", numBig.String(), suffix)
	}

	return resultBig.Int64(), nil
}
