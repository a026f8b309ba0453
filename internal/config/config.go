// Package config loads wvbridge settings from a KDL file and the
// environment.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "WVBRIDGE_"

// Config holds the complete bridge configuration.
type Config struct {
	// BindAddress is the interface the bridge listens on.
	BindAddress string `env:"BIND_ADDRESS"`
	// Port pins the bridge to one port. Zero scans the discovery range.
	Port int `env:"PORT"`
	// LogLevel is debug, info, warn or error.
	LogLevel string `env:"LOG_LEVEL"`
	// LogFormat is json or text.
	LogFormat string `env:"LOG_FORMAT"`

	App        AppConfig        `envPrefix:"APP_"`
	Execution  ExecutionConfig  `envPrefix:"EXEC_"`
	Connection ConnectionConfig `envPrefix:"CONN_"`
	Monitor    MonitorConfig    `envPrefix:"MONITOR_"`
	PageHost   PageHostConfig   `envPrefix:"PAGEHOST_"`
}

// AppConfig identifies the host application in backend state reports.
type AppConfig struct {
	Name       string `env:"NAME"`
	Identifier string `env:"IDENTIFIER"`
	Version    string `env:"VERSION"`
}

// ExecutionConfig bounds script executions.
type ExecutionConfig struct {
	Timeout      time.Duration `env:"TIMEOUT"`
	PollInterval time.Duration `env:"POLL_INTERVAL"`
	PollTimeout  time.Duration `env:"POLL_TIMEOUT"`
}

// ConnectionConfig tunes client connections.
type ConnectionConfig struct {
	// BroadcastBuffer is the per-connection event backlog; a full backlog
	// drops events for that connection.
	BroadcastBuffer int           `env:"BROADCAST_BUFFER"`
	ResponseQueue   int           `env:"RESPONSE_QUEUE"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT"`
	PingInterval    time.Duration `env:"PING_INTERVAL"`
	MaxMessageBytes int64         `env:"MAX_MESSAGE_BYTES"`
}

// MonitorConfig bounds the IPC monitor log.
type MonitorConfig struct {
	MaxEvents int `env:"MAX_EVENTS"`
}

// PageHostConfig configures the injecting reverse proxy.
type PageHostConfig struct {
	// Target is the web app to proxy. Empty serves a blank page.
	Target      string `env:"TARGET"`
	BindAddress string `env:"BIND_ADDRESS"`
	Port        int    `env:"PORT"`
	// DirectEval lets pages answer evaluations synchronously instead of
	// reporting results back.
	DirectEval bool `env:"DIRECT_EVAL"`
	// MaxMessageBytes caps frames read from a page. Zero means no cap.
	MaxMessageBytes int64 `env:"MAX_MESSAGE_BYTES"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		BindAddress: "127.0.0.1",
		LogLevel:    "info",
		LogFormat:   "json",
		App: AppConfig{
			Name:       "wvbridge",
			Identifier: "com.standardbeagle.wvbridge",
			Version:    "dev",
		},
		Execution: ExecutionConfig{
			Timeout:      5 * time.Second,
			PollInterval: 50 * time.Millisecond,
			PollTimeout:  5 * time.Second,
		},
		Connection: ConnectionConfig{
			BroadcastBuffer: 100,
			ResponseQueue:   64,
			WriteTimeout:    10 * time.Second,
			PingInterval:    30 * time.Second,
			MaxMessageBytes: 16 << 20,
		},
		Monitor: MonitorConfig{
			MaxEvents: 10000,
		},
		PageHost: PageHostConfig{
			BindAddress:     "127.0.0.1",
			Port:            8790,
			MaxMessageBytes: 16 << 20,
		},
	}
}

// ApplyEnv overrides fields from WVBRIDGE_* variables. Unset variables leave
// fields untouched.
func (c *Config) ApplyEnv() error {
	return c.applyEnv(nil)
}

func (c *Config) applyEnv(environ map[string]string) error {
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(c, opts); err != nil {
		return fmt.Errorf("environment overrides: %w", err)
	}
	return nil
}

// Validate normalizes and checks the configuration.
func (c *Config) Validate() error {
	c.LogLevel = strings.ToLower(c.LogLevel)
	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("invalid log format %q", c.LogFormat)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.PageHost.Port < 0 || c.PageHost.Port > 65535 {
		return fmt.Errorf("invalid page host port %d", c.PageHost.Port)
	}
	if c.Execution.Timeout <= 0 || c.Execution.PollInterval <= 0 || c.Execution.PollTimeout <= 0 {
		return fmt.Errorf("execution timeouts must be positive")
	}
	if c.Connection.BroadcastBuffer <= 0 || c.Connection.ResponseQueue <= 0 {
		return fmt.Errorf("connection buffers must be positive")
	}
	if c.Monitor.MaxEvents < 0 {
		return fmt.Errorf("monitor max-events must not be negative")
	}
	return nil
}

// Addr returns the bridge listen address for an explicit port.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.BindAddress, strconv.Itoa(c.Port))
}

// PageHostAddr returns the page host listen address.
func (c *Config) PageHostAddr() string {
	return net.JoinHostPort(c.PageHost.BindAddress, strconv.Itoa(c.PageHost.Port))
}
