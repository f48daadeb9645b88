package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ClientType selects how the MCP transport reaches its server.
type ClientType string

const (
	ClientTypeSSE            ClientType = "sse"
	ClientTypeStreamableHTTP ClientType = "streamable_http"
	ClientTypeStdio          ClientType = "stdio"
)

// Transport kinds.
const (
	TransportLocal = "local"
	TransportMCP   = "mcp"
)

// Config holds the application configuration
type Config struct {
	LogLevel  string          `mapstructure:"log_level"`
	Server    ServerConfig    `mapstructure:"server"`
	Timeline  TimelineConfig  `mapstructure:"timeline"`
	Network   NetworkConfig   `mapstructure:"network"`
	History   HistoryConfig   `mapstructure:"history"`
	Transport TransportConfig `mapstructure:"transport"`
}

// ServerConfig holds the server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
}

// TimelineConfig tunes the message timeline.
type TimelineConfig struct {
	PageSize            int           `mapstructure:"page_size"`
	RevokeTimeLimit     time.Duration `mapstructure:"revoke_time_limit"`
	ResendDelay         time.Duration `mapstructure:"resend_delay"`
	InitialMessageCount int           `mapstructure:"initial_message_count"`
	SeedDays            int           `mapstructure:"seed_days"`
	DefaultSender       string        `mapstructure:"default_sender"`
}

// NetworkConfig tunes the connectivity monitor.
type NetworkConfig struct {
	ReconnectInterval    time.Duration `mapstructure:"reconnect_interval"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	Debounce             time.Duration `mapstructure:"debounce"`
	Probe                ProbeConfig   `mapstructure:"probe"`
}

// ProbeConfig configures the TCP reachability probe. An empty address
// disables probing and leaves connectivity under manual control.
type ProbeConfig struct {
	Address  string        `mapstructure:"address"`
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// HistoryConfig holds the message archive configuration. With the local
// transport, BackfillCount messages spread over BackfillDays days are
// archived behind the seeded timeline so history pages have something to load.
type HistoryConfig struct {
	DBPath        string `mapstructure:"db_path"`
	BackfillCount int    `mapstructure:"backfill_count"`
	BackfillDays  int    `mapstructure:"backfill_days"`
}

// TransportConfig selects and configures the remote transport.
type TransportConfig struct {
	Type    string          `mapstructure:"type"`
	Latency time.Duration   `mapstructure:"latency"`
	MCP     MCPServerConfig `mapstructure:"mcp"`
}

// MCPServerConfig describes the MCP server exposing the chat tools.
type MCPServerConfig struct {
	Name    string            `mapstructure:"name"`
	Type    ClientType        `mapstructure:"type"`
	URL     string            `mapstructure:"url"`
	Command string            `mapstructure:"command"`
	Args    []string          `mapstructure:"args"`
	Env     map[string]string `mapstructure:"env"`
	Headers map[string]string `mapstructure:"headers"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", "8080")

	v.SetDefault("timeline.page_size", 50)
	v.SetDefault("timeline.revoke_time_limit", 2*time.Minute)
	v.SetDefault("timeline.resend_delay", 100*time.Millisecond)
	v.SetDefault("timeline.initial_message_count", 1000)
	v.SetDefault("timeline.seed_days", 5)
	v.SetDefault("timeline.default_sender", "me")

	v.SetDefault("network.reconnect_interval", 3*time.Second)
	v.SetDefault("network.max_reconnect_attempts", 5)
	v.SetDefault("network.debounce", time.Duration(0))
	v.SetDefault("network.probe.address", "")
	v.SetDefault("network.probe.interval", 5*time.Second)
	v.SetDefault("network.probe.timeout", 2*time.Second)

	v.SetDefault("history.db_path", "history.db")
	v.SetDefault("history.backfill_count", 500)
	v.SetDefault("history.backfill_days", 30)

	v.SetDefault("transport.type", TransportLocal)
	v.SetDefault("transport.latency", 200*time.Millisecond)
	v.SetDefault("transport.mcp.name", "chat")
}

// Load loads the configuration from config.yaml in the working directory, or
// from the file named by CONFIG_PATH. A missing file is not an error: the
// defaults apply. Any key can be overridden with a CHATLINE_ environment
// variable, e.g. CHATLINE_TIMELINE_PAGE_SIZE.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("chatline")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects settings the timeline and monitor cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Timeline.PageSize <= 0 {
		errs = append(errs, errors.New("timeline.page_size must be positive"))
	}
	if c.Timeline.RevokeTimeLimit < 0 {
		errs = append(errs, errors.New("timeline.revoke_time_limit must not be negative"))
	}
	if c.Network.MaxReconnectAttempts <= 0 {
		errs = append(errs, errors.New("network.max_reconnect_attempts must be positive"))
	}
	if c.Network.ReconnectInterval <= 0 {
		errs = append(errs, errors.New("network.reconnect_interval must be positive"))
	}
	if c.History.BackfillCount < 0 || c.History.BackfillDays < 0 {
		errs = append(errs, errors.New("history.backfill_count and history.backfill_days must not be negative"))
	}
	switch c.Transport.Type {
	case TransportLocal:
	case TransportMCP:
		if c.Transport.MCP.Type == "" {
			errs = append(errs, errors.New("transport.mcp.type is required ('sse', 'streamable_http' or 'stdio')"))
		}
	default:
		errs = append(errs, errors.New("transport.type must be 'local' or 'mcp'"))
	}
	return errors.Join(errs...)
}
