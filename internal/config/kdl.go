package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	kdl "github.com/sblinch/kdl-go"
)

// GlobalConfigFile is the file name looked up under the config directory.
const GlobalConfigFile = "config.kdl"

// KDLConfig mirrors the KDL file layout.
type KDLConfig struct {
	BindAddress string        `kdl:"bind-address"`
	Port        int           `kdl:"port"`
	LogLevel    string        `kdl:"log-level"`
	LogFormat   string        `kdl:"log-format"`
	App         KDLApp        `kdl:"app"`
	Execution   KDLExecution  `kdl:"execution"`
	Connection  KDLConnection `kdl:"connection"`
	Monitor     KDLMonitor    `kdl:"monitor"`
	PageHost    KDLPageHost   `kdl:"pagehost"`
}

// KDLApp holds the app identity block.
type KDLApp struct {
	Name       string `kdl:"name"`
	Identifier string `kdl:"identifier"`
	Version    string `kdl:"version"`
}

// KDLExecution holds execution timeouts in milliseconds.
type KDLExecution struct {
	TimeoutMs      int `kdl:"timeout-ms"`
	PollIntervalMs int `kdl:"poll-interval-ms"`
	PollTimeoutMs  int `kdl:"poll-timeout-ms"`
}

// KDLConnection holds connection tuning.
type KDLConnection struct {
	BroadcastBuffer int   `kdl:"broadcast-buffer"`
	ResponseQueue   int   `kdl:"response-queue"`
	WriteTimeoutMs  int   `kdl:"write-timeout-ms"`
	PingIntervalMs  int   `kdl:"ping-interval-ms"`
	MaxMessageBytes int64 `kdl:"max-message-bytes"`
}

// KDLMonitor holds monitor limits.
type KDLMonitor struct {
	MaxEvents int `kdl:"max-events"`
}

// KDLPageHost holds the page host block.
type KDLPageHost struct {
	Target      string `kdl:"target"`
	BindAddress string `kdl:"bind-address"`
	Port        int    `kdl:"port"`
	DirectEval  bool   `kdl:"direct-eval"`

	MaxMessageBytes int64 `kdl:"max-message-bytes"`
}

// DefaultPath returns $XDG_CONFIG_HOME/wvbridge/config.kdl, falling back to
// ~/.config.
func DefaultPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "wvbridge", GlobalConfigFile)
}

// Load reads the file at path (DefaultPath when empty), applies environment
// overrides and validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := DefaultConfig()
	if path != "" {
		fileCfg, err := LoadConfigFile(path)
		switch {
		case err == nil:
			cfg = fileCfg
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFile loads configuration from a specific file path.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseKDLConfig(string(data))
}

// ParseKDLConfig parses KDL data on top of the defaults.
func ParseKDLConfig(data string) (*Config, error) {
	var kdlCfg KDLConfig
	if err := kdl.Unmarshal([]byte(data), &kdlCfg); err != nil {
		return nil, err
	}
	return kdlConfigToConfig(&kdlCfg), nil
}

func kdlConfigToConfig(k *KDLConfig) *Config {
	cfg := DefaultConfig()

	if k.BindAddress != "" {
		cfg.BindAddress = k.BindAddress
	}
	if k.Port > 0 {
		cfg.Port = k.Port
	}
	if k.LogLevel != "" {
		cfg.LogLevel = k.LogLevel
	}
	if k.LogFormat != "" {
		cfg.LogFormat = k.LogFormat
	}

	if k.App.Name != "" {
		cfg.App.Name = k.App.Name
	}
	if k.App.Identifier != "" {
		cfg.App.Identifier = k.App.Identifier
	}
	if k.App.Version != "" {
		cfg.App.Version = k.App.Version
	}

	if k.Execution.TimeoutMs > 0 {
		cfg.Execution.Timeout = millis(k.Execution.TimeoutMs)
	}
	if k.Execution.PollIntervalMs > 0 {
		cfg.Execution.PollInterval = millis(k.Execution.PollIntervalMs)
	}
	if k.Execution.PollTimeoutMs > 0 {
		cfg.Execution.PollTimeout = millis(k.Execution.PollTimeoutMs)
	}

	if k.Connection.BroadcastBuffer > 0 {
		cfg.Connection.BroadcastBuffer = k.Connection.BroadcastBuffer
	}
	if k.Connection.ResponseQueue > 0 {
		cfg.Connection.ResponseQueue = k.Connection.ResponseQueue
	}
	if k.Connection.WriteTimeoutMs > 0 {
		cfg.Connection.WriteTimeout = millis(k.Connection.WriteTimeoutMs)
	}
	if k.Connection.PingIntervalMs > 0 {
		cfg.Connection.PingInterval = millis(k.Connection.PingIntervalMs)
	}
	if k.Connection.MaxMessageBytes > 0 {
		cfg.Connection.MaxMessageBytes = k.Connection.MaxMessageBytes
	}

	if k.Monitor.MaxEvents > 0 {
		cfg.Monitor.MaxEvents = k.Monitor.MaxEvents
	}

	if k.PageHost.Target != "" {
		cfg.PageHost.Target = k.PageHost.Target
	}
	if k.PageHost.BindAddress != "" {
		cfg.PageHost.BindAddress = k.PageHost.BindAddress
	}
	if k.PageHost.Port > 0 {
		cfg.PageHost.Port = k.PageHost.Port
	}
	cfg.PageHost.DirectEval = k.PageHost.DirectEval
	if k.PageHost.MaxMessageBytes > 0 {
		cfg.PageHost.MaxMessageBytes = k.PageHost.MaxMessageBytes
	}

	return cfg
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// WriteDefaultConfig writes a documented default file. An existing file is
// only replaced when force is set.
func WriteDefaultConfig(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(defaultKDL), 0644)
}

const defaultKDL = `// wvbridge configuration
// Environment variables prefixed with WVBRIDGE_ override these values,
// e.g. WVBRIDGE_PORT=9300 or WVBRIDGE_EXEC_TIMEOUT=10s.

bind-address "127.0.0.1"

// Leave at 0 to pick the first free port in 9223-9322.
port 0

log-level "info"  // debug, info, warn, error
log-format "json" // json, text

// Identity reported by get_backend_state
app {
    name "wvbridge"
    identifier "com.standardbeagle.wvbridge"
    version "dev"
}

execution {
    timeout-ms 5000       // wait for a script result
    poll-interval-ms 50   // async result polling cadence
    poll-timeout-ms 5000  // async result polling ceiling
}

connection {
    broadcast-buffer 100  // events buffered per client before dropping
    response-queue 64
    write-timeout-ms 10000
    ping-interval-ms 30000
    max-message-bytes 16777216
}

monitor {
    max-events 10000
}

// Reverse proxy that injects the bridge runtime into a web app
pagehost {
    // target "http://localhost:5173"
    bind-address "127.0.0.1"
    port 8790
    direct-eval false
    max-message-bytes 16777216 // largest frame a page may send
}
`
