package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Docker   DockerConfig   `mapstructure:"docker"`
	Stack    StackConfig    `mapstructure:"stack"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	LLM      LLMConfig      `mapstructure:"llm"`
	SSH      SSHConfig      `mapstructure:"ssh"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds the event log configuration.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`

	// PruneKeep trims the event log to the newest N events at startup.
	// Zero disables pruning.
	PruneKeep int `mapstructure:"prune_keep"`
}

// DockerConfig holds container runtime configuration.
type DockerConfig struct {
	Host      string `mapstructure:"host"`
	CLIBinary string `mapstructure:"cli_binary"`
}

// StackConfig describes the compose stack under management.
type StackConfig struct {
	ComposeFile   string   `mapstructure:"compose_file"`
	EnvFile       string   `mapstructure:"env_file"`
	LaunchCommand []string `mapstructure:"launch_command"`
}

// MonitorConfig holds background health monitoring configuration.
type MonitorConfig struct {
	// Interval between periodic health scans. Zero disables the monitor.
	Interval time.Duration `mapstructure:"interval"`

	// SweepDelay is the wait between a launch finishing and the
	// post-launch health sweep.
	SweepDelay time.Duration `mapstructure:"sweep_delay"`
}

// LLMConfig holds the AI analysis backend configuration.
type LLMConfig struct {
	// APIKey enables the OpenAI-backed client. Empty means AI actions
	// answer with a configuration prompt instead.
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// SSHConfig holds the optional remote-host execution configuration.
type SSHConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	User           string        `mapstructure:"user"`
	KeyFile        string        `mapstructure:"key_file"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 5055)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "0s") // streaming endpoints stay open
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("database.dsn", "./data/events.db")
	v.SetDefault("database.prune_keep", 0)
	v.SetDefault("docker.host", "")
	v.SetDefault("docker.cli_binary", "docker")
	v.SetDefault("stack.compose_file", "docker-compose.yml")
	v.SetDefault("stack.env_file", ".env")
	v.SetDefault("stack.launch_command", []string{"docker", "compose", "up", "-d", "--remove-orphans"})
	v.SetDefault("monitor.interval", "60s")
	v.SetDefault("monitor.sweep_delay", "8s")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("ssh.host", "")
	v.SetDefault("ssh.port", 22)
	v.SetDefault("ssh.user", "")
	v.SetDefault("ssh.key_file", "")
	v.SetDefault("ssh.connect_timeout", "10s")
	v.SetDefault("ssh.command_timeout", "30s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("DOCKFRA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The OpenAI key conventionally lives in OPENAI_API_KEY; honor it
	// when no dockfra-specific key is set.
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	return &cfg, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
