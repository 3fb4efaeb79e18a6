// ABOUTME: Configuration loading and parsing for tubeagent
// ABOUTME: Supports YAML files with environment variable expansion, duration parsing and defaults

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete tubeagent configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Auth         AuthConfig         `yaml:"auth"`
	Capability   CapabilityConfig   `yaml:"capability"`
	Conversation ConversationConfig `yaml:"conversation"`
	Jobs         JobsConfig         `yaml:"jobs"`
	Frontends    FrontendsConfig    `yaml:"frontends"`
	Logging      LoggingConfig      `yaml:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Dashboard    DashboardConfig    `yaml:"dashboard"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
	// SessionCacheSize bounds the number of session snapshots kept in memory.
	SessionCacheSize int `yaml:"session_cache_size"`
}

// AuthConfig holds authentication configuration.
// An empty JWTSecret runs the server in open development mode.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// Capability providers
const (
	ProviderMock = "mock"
	ProviderHTTP = "http"
)

// CapabilityConfig configures the AI text/video backend
type CapabilityConfig struct {
	Provider     string `yaml:"provider"` // "mock" or "http"
	BaseURL      string `yaml:"base_url"`
	VideoURL     string `yaml:"video_url"`
	APIKey       string `yaml:"api_key"`
	Model        string `yaml:"model"`
	SystemPrompt string `yaml:"system_prompt"`
	// MockPollsToComplete is how many polls a mock job takes to finish.
	MockPollsToComplete int `yaml:"mock_polls_to_complete"`

	// BreakerFailures is the consecutive failure count that opens the circuit.
	BreakerFailures uint32        `yaml:"breaker_failures"`
	RequestTimeout  time.Duration `yaml:"-"`
	BreakerTimeout  time.Duration `yaml:"-"`

	RequestTimeoutRaw string `yaml:"request_timeout"`
	BreakerTimeoutRaw string `yaml:"breaker_timeout"`
}

// ConversationConfig holds orchestrator tuning
type ConversationConfig struct {
	HistoryTurns int           `yaml:"history_turns"`
	ReplyTimeout time.Duration `yaml:"-"`
	RetryBackoff time.Duration `yaml:"-"`

	ReplyTimeoutRaw string `yaml:"reply_timeout"`
	RetryBackoffRaw string `yaml:"retry_backoff"`
}

// JobsConfig holds video job polling limits
type JobsConfig struct {
	MaxPolls     int           `yaml:"max_polls"`
	Concurrency  int           `yaml:"concurrency"`
	PollInterval time.Duration `yaml:"-"`
	MaxAge       time.Duration `yaml:"-"`

	PollIntervalRaw string `yaml:"poll_interval"`
	MaxAgeRaw       string `yaml:"max_age"`
}

// FrontendsConfig holds configuration for chat-bot integrations served by the gateway
type FrontendsConfig struct {
	Slack SlackConfig `yaml:"slack"`
}

// SlackConfig holds Slack events API configuration
type SlackConfig struct {
	Enabled         bool     `yaml:"enabled"`
	BotToken        string   `yaml:"bot_token"`
	APIURL          string   `yaml:"api_url"`
	AllowedChannels []string `yaml:"allowed_channels"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DashboardConfig holds web dashboard configuration
type DashboardConfig struct {
	Enabled bool   `yaml:"enabled"`
	Title   string `yaml:"title"`
	// RecentJobs is how many jobs the dashboard lists.
	RecentJobs int `yaml:"recent_jobs"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes raw YAML config bytes, applying env expansion and defaults.
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Database.SessionCacheSize == 0 {
		c.Database.SessionCacheSize = 1024
	}

	if c.Capability.Provider == "" {
		c.Capability.Provider = ProviderMock
	}
	if c.Capability.Model == "" {
		c.Capability.Model = "anthropic/claude-3-haiku"
	}
	if c.Capability.MockPollsToComplete == 0 {
		c.Capability.MockPollsToComplete = 3
	}
	if c.Capability.BreakerFailures == 0 {
		c.Capability.BreakerFailures = 5
	}
	if c.Capability.RequestTimeout == 0 {
		c.Capability.RequestTimeout = 30 * time.Second
	}
	if c.Capability.BreakerTimeout == 0 {
		c.Capability.BreakerTimeout = 30 * time.Second
	}

	if c.Conversation.HistoryTurns == 0 {
		c.Conversation.HistoryTurns = 10
	}
	if c.Conversation.ReplyTimeout == 0 {
		c.Conversation.ReplyTimeout = 45 * time.Second
	}
	if c.Conversation.RetryBackoff == 0 {
		c.Conversation.RetryBackoff = 500 * time.Millisecond
	}

	if c.Jobs.MaxPolls == 0 {
		c.Jobs.MaxPolls = 120
	}
	if c.Jobs.Concurrency == 0 {
		c.Jobs.Concurrency = 4
	}
	if c.Jobs.PollInterval == 0 {
		c.Jobs.PollInterval = 15 * time.Second
	}
	if c.Jobs.MaxAge == 0 {
		c.Jobs.MaxAge = time.Hour
	}

	if c.Frontends.Slack.APIURL == "" {
		c.Frontends.Slack.APIURL = "https://slack.com/api"
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	if c.Dashboard.Title == "" {
		c.Dashboard.Title = "tubeagent"
	}
	if c.Dashboard.RecentJobs == 0 {
		c.Dashboard.RecentJobs = 20
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Capability.Provider {
	case ProviderMock:
	case ProviderHTTP:
		if c.Capability.BaseURL == "" {
			return fmt.Errorf("capability.base_url is required for the http provider")
		}
		if c.Capability.VideoURL == "" {
			return fmt.Errorf("capability.video_url is required for the http provider")
		}
	default:
		return fmt.Errorf("capability.provider must be %q or %q, got %q", ProviderMock, ProviderHTTP, c.Capability.Provider)
	}

	if c.Conversation.HistoryTurns < 0 {
		return fmt.Errorf("conversation.history_turns must not be negative")
	}

	if c.Jobs.MaxPolls < 1 {
		return fmt.Errorf("jobs.max_polls must be at least 1")
	}

	if c.Frontends.Slack.Enabled && c.Frontends.Slack.BotToken == "" {
		return fmt.Errorf("frontends.slack.bot_token is required when slack is enabled")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"capability.request_timeout", cfg.Capability.RequestTimeoutRaw, &cfg.Capability.RequestTimeout},
		{"capability.breaker_timeout", cfg.Capability.BreakerTimeoutRaw, &cfg.Capability.BreakerTimeout},
		{"conversation.reply_timeout", cfg.Conversation.ReplyTimeoutRaw, &cfg.Conversation.ReplyTimeout},
		{"conversation.retry_backoff", cfg.Conversation.RetryBackoffRaw, &cfg.Conversation.RetryBackoff},
		{"jobs.poll_interval", cfg.Jobs.PollIntervalRaw, &cfg.Jobs.PollInterval},
		{"jobs.max_age", cfg.Jobs.MaxAgeRaw, &cfg.Jobs.MaxAge},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", f.name, f.raw)
		}
		*f.dst = d
	}

	return nil
}
