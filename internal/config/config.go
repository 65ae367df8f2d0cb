package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/streamjam/streamjam/pkg/server"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "streamjam.json"

	// DefaultAddress is the default listen address.
	DefaultAddress = "localhost:7755"

	// DefaultIdentity is the default session identity strategy.
	DefaultIdentity = "path"
)

// Config represents the complete streamjam.json configuration.
type Config struct {
	// Name is the project name.
	Name string `json:"name,omitempty"`

	// Address is the listen address, host:port.
	Address string `json:"address,omitempty"`

	// Identity selects the session identity strategy:
	// "path", "connection_id", or "remote_address".
	Identity string `json:"identity,omitempty"`

	// Log contains logging configuration.
	Log LogConfig `json:"log,omitempty"`

	// Session contains per-session tuning.
	Session SessionConfig `json:"session,omitempty"`

	// Service contains service layer tuning.
	Service ServiceConfig `json:"service,omitempty"`

	// ShutdownTimeout bounds graceful shutdown, e.g. "10s".
	ShutdownTimeout string `json:"shutdownTimeout,omitempty"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Level is the minimum level: "debug", "info", "warn", or "error".
	Level string `json:"level,omitempty"`

	// Format is "text" or "json".
	Format string `json:"format,omitempty"`
}

// SessionConfig contains per-session settings.
type SessionConfig struct {
	// IdleTTL is how long a disconnected session stays resumable,
	// e.g. "30m".
	IdleTTL string `json:"idleTTL,omitempty"`

	// WriteTimeout bounds each outbound transport write, e.g. "10s".
	WriteTimeout string `json:"writeTimeout,omitempty"`

	// MaxMessageSize is the largest accepted inbound message in bytes.
	MaxMessageSize int64 `json:"maxMessageSize,omitempty"`

	// OutboundQueueSize is the outbound message buffer per session.
	OutboundQueueSize int `json:"outboundQueueSize,omitempty"`

	// EventQueueSize is the event buffer per session.
	EventQueueSize int `json:"eventQueueSize,omitempty"`
}

// ServiceConfig contains service layer settings.
type ServiceConfig struct {
	// CallTimeout bounds each proxied service call, e.g. "30s".
	CallTimeout string `json:"callTimeout,omitempty"`
}

// New creates a new Config with default values.
func New() *Config {
	return &Config{
		Address:  DefaultAddress,
		Identity: DefaultIdentity,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Session: SessionConfig{
			IdleTTL:      "30m",
			WriteTimeout: "10s",
		},
		Service: ServiceConfig{
			CallTimeout: "30s",
		},
		ShutdownTimeout: "10s",
	}
}

// Load reads configuration from the specified directory. It looks for
// streamjam.json in the directory; a missing file yields the defaults.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, ConfigFileName))
}

// LoadFile reads configuration from the specified file path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := New()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.configPath = path
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveTo writes the configuration to the specified path.
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	c.configPath = path
	return nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// applyDefaults fills in default values for empty fields.
func (c *Config) applyDefaults() {
	if c.Address == "" {
		c.Address = DefaultAddress
	}
	if c.Identity == "" {
		c.Identity = DefaultIdentity
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Session.IdleTTL == "" {
		c.Session.IdleTTL = "30m"
	}
	if c.Session.WriteTimeout == "" {
		c.Session.WriteTimeout = "10s"
	}
	if c.Service.CallTimeout == "" {
		c.Service.CallTimeout = "30s"
	}
	if c.ShutdownTimeout == "" {
		c.ShutdownTimeout = "10s"
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if !server.IdentityStrategy(c.Identity).Valid() {
		return fmt.Errorf("config: unknown identity strategy %q", c.Identity)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	for _, d := range []struct {
		name  string
		value string
	}{
		{"session.idleTTL", c.Session.IdleTTL},
		{"session.writeTimeout", c.Session.WriteTimeout},
		{"service.callTimeout", c.Service.CallTimeout},
		{"shutdownTimeout", c.ShutdownTimeout},
	} {
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("config: invalid duration for %s: %q", d.name, d.value)
		}
	}
	return nil
}

// ServerConfig converts the file configuration into the server's runtime
// configuration. Call Validate (or LoadFile, which validates) first.
func (c *Config) ServerConfig() *server.ServerConfig {
	sc := server.DefaultServerConfig()
	sc.Address = c.Address
	sc.Identity = server.IdentityStrategy(c.Identity)

	if d, err := time.ParseDuration(c.Session.IdleTTL); err == nil {
		sc.SessionConfig.IdleTTL = d
	}
	if d, err := time.ParseDuration(c.Session.WriteTimeout); err == nil {
		sc.SessionConfig.WriteTimeout = d
	}
	if c.Session.MaxMessageSize > 0 {
		sc.SessionConfig.MaxMessageSize = c.Session.MaxMessageSize
	}
	if c.Session.OutboundQueueSize > 0 {
		sc.SessionConfig.OutboundQueueSize = c.Session.OutboundQueueSize
	}
	if c.Session.EventQueueSize > 0 {
		sc.SessionConfig.EventQueueSize = c.Session.EventQueueSize
	}
	if d, err := time.ParseDuration(c.Service.CallTimeout); err == nil {
		sc.ServiceCallTimeout = d
	}
	if d, err := time.ParseDuration(c.ShutdownTimeout); err == nil {
		sc.ShutdownTimeout = d
	}
	return sc
}

// Logger builds the process logger from the log settings.
func (c *Config) Logger() *slog.Logger {
	var level slog.Level
	switch c.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if c.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
