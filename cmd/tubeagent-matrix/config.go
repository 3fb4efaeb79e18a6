// ABOUTME: Configuration loading for the tubeagent Matrix bridge
// ABOUTME: Loads TOML config with environment variable expansion and duration defaults

package main

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the bridge configuration file.
type Config struct {
	Matrix  MatrixConfig  `toml:"matrix"`
	Gateway GatewayConfig `toml:"gateway"`
	Bridge  BridgeConfig  `toml:"bridge"`
	Logging LoggingConfig `toml:"logging"`
}

// MatrixConfig holds the bot account credentials.
type MatrixConfig struct {
	Homeserver  string `toml:"homeserver"`
	Username    string `toml:"username"`
	Password    string `toml:"password"`
	DeviceName  string `toml:"device_name"`
	RecoveryKey string `toml:"recovery_key"`
}

// GatewayConfig points at the tubeagent server. Token must be a bridge token.
type GatewayConfig struct {
	URL   string `toml:"url"`
	Token string `toml:"token"`

	// Timeout bounds a single chat request. The server may retry the AI call
	// once, so keep this above twice its reply timeout.
	Timeout      duration `toml:"timeout"`
	PollInterval duration `toml:"poll_interval"`
	WatchTimeout duration `toml:"watch_timeout"`
}

// BridgeConfig controls which messages the bridge answers.
type BridgeConfig struct {
	AllowedRooms    []string `toml:"allowed_rooms"`
	CommandPrefix   string   `toml:"command_prefix"`
	TypingIndicator bool     `toml:"typing_indicator"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// duration decodes TOML strings like "15s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	if v <= 0 {
		return fmt.Errorf("duration must be positive, got %q", text)
	}
	d.Duration = v
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads config from the given path, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(string(data))
}

// Parse decodes TOML config text.
func Parse(data string) (*Config, error) {
	expanded := envVarPattern.ReplaceAllStringFunc(data, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})

	var cfg Config
	if _, err := toml.Decode(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Matrix.DeviceName == "" {
		c.Matrix.DeviceName = "tubeagent-matrix"
	}
	if c.Gateway.Timeout.Duration == 0 {
		c.Gateway.Timeout.Duration = 2 * time.Minute
	}
	if c.Gateway.PollInterval.Duration == 0 {
		c.Gateway.PollInterval.Duration = 15 * time.Second
	}
	if c.Gateway.WatchTimeout.Duration == 0 {
		c.Gateway.WatchTimeout.Duration = 2 * time.Hour
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks that required config fields are present and valid.
func (c *Config) Validate() error {
	if c.Matrix.Homeserver == "" {
		return fmt.Errorf("matrix.homeserver is required")
	}
	if _, err := url.Parse(c.Matrix.Homeserver); err != nil {
		return fmt.Errorf("matrix.homeserver is not a valid URL: %w", err)
	}
	if c.Matrix.Username == "" {
		return fmt.Errorf("matrix.username is required")
	}
	if c.Matrix.Password == "" {
		return fmt.Errorf("matrix.password is required")
	}
	if c.Gateway.URL == "" {
		return fmt.Errorf("gateway.url is required")
	}
	u, err := url.Parse(c.Gateway.URL)
	if err != nil {
		return fmt.Errorf("gateway.url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("gateway.url must use http or https scheme")
	}
	return nil
}
