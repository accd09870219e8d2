package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/codefionn/sockpong/internal/consts"
	"gopkg.in/yaml.v3"
)

// Overflow policies for a bounded outbound queue
const (
	OverflowReject     = "reject"
	OverflowDropOldest = "drop-oldest"
)

// Environment variables that override file values
const (
	EnvLogLevel   = "SOCKPONG_LOG_LEVEL"
	EnvLogPath    = "SOCKPONG_LOG_PATH"
	EnvSocketPath = "SOCKPONG_SOCKET"
)

// ErrSocketPathRequired is returned by Validate when no socket path is set
var ErrSocketPathRequired = errors.New("socket path is required")

// Duration is a time.Duration that reads and writes as "1s", "500ms", ...
// in both JSON and YAML. Plain numbers are taken as seconds.
type Duration time.Duration

// D returns the value as a time.Duration
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return d.parse(s)
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("invalid duration %s", string(data))
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.parse(value.Value)
}

func (d *Duration) parse(s string) error {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// SocketConfig holds the endpoint shared by server and client
type SocketConfig struct {
	Path        string `json:"path" yaml:"path"`
	Permissions string `json:"permissions" yaml:"permissions"` // octal, e.g. "0600"
}

// ServerConfig holds listener and handler settings
type ServerConfig struct {
	AcceptTimeout  Duration `json:"accept_timeout" yaml:"accept_timeout"`
	IdleTimeout    Duration `json:"idle_timeout" yaml:"idle_timeout"`
	JoinTimeout    Duration `json:"join_timeout" yaml:"join_timeout"`
	WriteTimeout   Duration `json:"write_timeout" yaml:"write_timeout"`
	MaxConnections int      `json:"max_connections" yaml:"max_connections"` // 0 = unlimited
	NotifyShutdown bool     `json:"notify_shutdown" yaml:"notify_shutdown"`
	PidFile        string   `json:"pid_file,omitempty" yaml:"pid_file,omitempty"`
}

// ClientConfig holds reconnection and queueing settings
type ClientConfig struct {
	ReconnectLimit int      `json:"reconnect_limit" yaml:"reconnect_limit"`
	BaseDelay      Duration `json:"base_delay" yaml:"base_delay"`
	MaxDelay       Duration `json:"max_delay" yaml:"max_delay"` // 0 = uncapped
	ConnectTimeout Duration `json:"connect_timeout" yaml:"connect_timeout"`
	ReadTimeout    Duration `json:"read_timeout" yaml:"read_timeout"` // 0 = none
	WriteTimeout   Duration `json:"write_timeout" yaml:"write_timeout"`
	QueueCapacity  int      `json:"queue_capacity" yaml:"queue_capacity"` // 0 = unbounded
	OverflowPolicy string   `json:"overflow_policy" yaml:"overflow_policy"`
	DefaultPayload string   `json:"default_payload" yaml:"default_payload"`
	WatchEndpoint  bool     `json:"watch_endpoint" yaml:"watch_endpoint"`
}

// AdminConfig holds the administrative HTTP endpoint settings
type AdminConfig struct {
	SocketPath string `json:"socket_path,omitempty" yaml:"socket_path,omitempty"` // "" = disabled
	Pprof      bool   `json:"pprof,omitempty" yaml:"pprof,omitempty"`             // mount /debug/pprof/
}

// Config represents application configuration
type Config struct {
	Socket   SocketConfig `json:"socket" yaml:"socket"`
	Server   ServerConfig `json:"server" yaml:"server"`
	Client   ClientConfig `json:"client" yaml:"client"`
	Admin    AdminConfig  `json:"admin" yaml:"admin"`
	LogLevel string       `json:"log_level" yaml:"log_level"`                   // debug, info, warn, error, none
	LogPath  string       `json:"log_path,omitempty" yaml:"log_path,omitempty"` // "" = stderr
}

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, "sockpong")
		}
	case "linux":
		if configHome := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); configHome != "" {
			return filepath.Join(configHome, "sockpong")
		}
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config", "sockpong")
}

// DefaultSocketPath returns the socket path used when none is configured
func DefaultSocketPath() string {
	return filepath.Join(os.TempDir(), consts.DefaultSocketName)
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Socket: SocketConfig{
			Path:        DefaultSocketPath(),
			Permissions: "0600",
		},
		Server: ServerConfig{
			AcceptTimeout:  Duration(consts.DefaultAcceptTimeout),
			IdleTimeout:    Duration(consts.DefaultIdleTimeout),
			JoinTimeout:    Duration(consts.DefaultJoinTimeout),
			WriteTimeout:   Duration(consts.DefaultWriteTimeout),
			NotifyShutdown: true,
		},
		Client: ClientConfig{
			ReconnectLimit: consts.DefaultReconnectLimit,
			BaseDelay:      Duration(consts.DefaultBaseDelay),
			MaxDelay:       Duration(consts.DefaultMaxDelay),
			ConnectTimeout: Duration(consts.DefaultConnectTimeout),
			WriteTimeout:   Duration(consts.DefaultWriteTimeout),
			OverflowPolicy: OverflowReject,
			DefaultPayload: "ping",
		},
		LogLevel: "info",
	}
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Load loads configuration from file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, err
	}

	// Unmarshal into default config (overrides only provided fields)
	if isYAML(path) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if config.Socket.Path == "" {
		config.Socket.Path = DefaultSocketPath()
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.Client.OverflowPolicy == "" {
		config.Client.OverflowPolicy = OverflowReject
	}

	return config, nil
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// ApplyEnv overrides file values with SOCKPONG_* environment variables
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		c.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogPath)); v != "" {
		c.LogPath = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvSocketPath)); v != "" {
		c.Socket.Path = v
	}
}

// SocketMode parses Socket.Permissions, falling back to 0600
func (c *Config) SocketMode() os.FileMode {
	mode, err := strconv.ParseUint(c.Socket.Permissions, 8, 32)
	if err != nil || c.Socket.Permissions == "" {
		return consts.DefaultSocketPermissions
	}
	return os.FileMode(mode)
}

// Validate checks the configuration for values that cannot work
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Socket.Path) == "" {
		return ErrSocketPathRequired
	}
	if c.Socket.Permissions != "" {
		if _, err := strconv.ParseUint(c.Socket.Permissions, 8, 32); err != nil {
			return fmt.Errorf("invalid socket permissions %q: %w", c.Socket.Permissions, err)
		}
	}
	if c.Server.AcceptTimeout <= 0 {
		return fmt.Errorf("server.accept_timeout must be positive")
	}
	if c.Server.IdleTimeout < 0 || c.Server.JoinTimeout < 0 {
		return fmt.Errorf("server timeouts must not be negative")
	}
	if c.Server.MaxConnections < 0 {
		return fmt.Errorf("server.max_connections must not be negative")
	}
	if c.Client.ReconnectLimit < 1 {
		return fmt.Errorf("client.reconnect_limit must be at least 1")
	}
	if c.Client.BaseDelay < 0 || c.Client.MaxDelay < 0 {
		return fmt.Errorf("client delays must not be negative")
	}
	if c.Client.QueueCapacity < 0 {
		return fmt.Errorf("client.queue_capacity must not be negative")
	}
	switch c.Client.OverflowPolicy {
	case OverflowReject, OverflowDropOldest:
	default:
		return fmt.Errorf("unknown client.overflow_policy %q", c.Client.OverflowPolicy)
	}
	return nil
}

// GetConfigPath returns the default config path
func GetConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.json")
}
