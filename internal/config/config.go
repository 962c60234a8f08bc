// ABOUTME: Configuration loading and parsing for coven-writer
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Supported model providers.
const (
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
)

// Defaults applied when the config file leaves a field empty.
const (
	DefaultProvider         = ProviderGemini
	DefaultGeminiModel      = "gemini-1.5-flash"
	DefaultOpenAIModel      = "gpt-4o-mini"
	DefaultAnthropicModel   = "claude-3-5-sonnet-20241022"
	DefaultTemperature      = 0.7
	DefaultMaxTokens        = 4096
	DefaultThrottleInterval = time.Second
	DefaultIdleTimeout      = time.Hour
	DefaultReapInterval     = 5 * time.Minute
)

// Config represents the complete coven-writer configuration
type Config struct {
	Matrix    MatrixConfig    `yaml:"matrix" toml:"matrix"`
	Model     ModelConfig     `yaml:"model" toml:"model"`
	Streaming StreamingConfig `yaml:"streaming" toml:"streaming"`
	Agents    AgentsConfig    `yaml:"agents" toml:"agents"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// MatrixConfig holds Matrix connection configuration
type MatrixConfig struct {
	Homeserver   string   `yaml:"homeserver" toml:"homeserver"`
	UserID       string   `yaml:"user_id" toml:"user_id"`
	AccessToken  string   `yaml:"access_token" toml:"access_token"`
	DeviceID     string   `yaml:"device_id" toml:"device_id"`
	RecoveryKey  string   `yaml:"recovery_key" toml:"recovery_key"`
	Encryption   bool     `yaml:"encryption" toml:"encryption"`
	AutoJoin     bool     `yaml:"auto_join" toml:"auto_join"`
	Rooms        []string `yaml:"rooms" toml:"rooms"`                 // rooms that get an agent at startup
	AllowedRooms []string `yaml:"allowed_rooms" toml:"allowed_rooms"` // empty means all rooms
}

// ModelConfig holds the generative model backend configuration.
// APIKey is not checked by Validate; a missing key is reported when an
// agent initializes its model.
type ModelConfig struct {
	Provider    string   `yaml:"provider" toml:"provider"`
	Name        string   `yaml:"name" toml:"name"`
	APIKey      string   `yaml:"api_key" toml:"api_key"`
	BaseURL     string   `yaml:"base_url" toml:"base_url"`
	Temperature *float64 `yaml:"temperature" toml:"temperature"`
	MaxTokens   int64    `yaml:"max_tokens" toml:"max_tokens"`
}

// StreamingConfig controls how partial output is written to the room
type StreamingConfig struct {
	ThrottleInterval time.Duration `yaml:"-" toml:"-"`

	ThrottleIntervalRaw string `yaml:"throttle_interval" toml:"throttle_interval"`
}

// AgentsConfig holds per-room agent lifecycle timing
type AgentsConfig struct {
	IdleTimeout  time.Duration `yaml:"-" toml:"-"`
	ReapInterval time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	IdleTimeoutRaw  string `yaml:"idle_timeout" toml:"idle_timeout"`
	ReapIntervalRaw string `yaml:"reap_interval" toml:"reap_interval"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded before decoding.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
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

// applyDefaults fills empty fields with their default values.
func (c *Config) applyDefaults() {
	if c.Model.Provider == "" {
		c.Model.Provider = DefaultProvider
	}
	c.Model.Provider = strings.ToLower(c.Model.Provider)
	if c.Model.Name == "" {
		c.Model.Name = DefaultModelName(c.Model.Provider)
	}
	if c.Model.Temperature == nil {
		t := DefaultTemperature
		c.Model.Temperature = &t
	}
	if c.Model.MaxTokens == 0 {
		c.Model.MaxTokens = DefaultMaxTokens
	}
	if c.Streaming.ThrottleInterval == 0 {
		c.Streaming.ThrottleInterval = DefaultThrottleInterval
	}
	if c.Agents.IdleTimeout == 0 {
		c.Agents.IdleTimeout = DefaultIdleTimeout
	}
	if c.Agents.ReapInterval == 0 {
		c.Agents.ReapInterval = DefaultReapInterval
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// DefaultModelName returns the model used for a provider when none is configured.
func DefaultModelName(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return DefaultOpenAIModel
	case ProviderAnthropic:
		return DefaultAnthropicModel
	default:
		return DefaultGeminiModel
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns a *ConfigurationError describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Matrix.Homeserver == "" {
		return required("matrix.homeserver")
	}
	u, err := url.Parse(c.Matrix.Homeserver)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return &ConfigurationError{Field: "matrix.homeserver", Reason: "must be an http or https URL"}
	}
	if c.Matrix.UserID == "" {
		return required("matrix.user_id")
	}
	if !strings.HasPrefix(c.Matrix.UserID, "@") || !strings.Contains(c.Matrix.UserID, ":") {
		return &ConfigurationError{Field: "matrix.user_id", Reason: "must look like @user:server"}
	}
	if c.Matrix.AccessToken == "" {
		return required("matrix.access_token")
	}

	switch c.Model.Provider {
	case ProviderOpenAI, ProviderGemini, ProviderAnthropic:
	default:
		return &ConfigurationError{
			Field:  "model.provider",
			Reason: fmt.Sprintf("unknown provider %q (want openai, gemini or anthropic)", c.Model.Provider),
		}
	}
	if c.Model.Temperature != nil && (*c.Model.Temperature < 0 || *c.Model.Temperature > 2) {
		return &ConfigurationError{Field: "model.temperature", Reason: "must be between 0 and 2"}
	}
	if c.Model.MaxTokens < 0 {
		return &ConfigurationError{Field: "model.max_tokens", Reason: "must not be negative"}
	}

	if c.Streaming.ThrottleInterval < 0 {
		return &ConfigurationError{Field: "streaming.throttle_interval", Reason: "must not be negative"}
	}

	if c.Database.Path == "" {
		return required("database.path")
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
		{"throttle_interval", cfg.Streaming.ThrottleIntervalRaw, &cfg.Streaming.ThrottleInterval},
		{"idle_timeout", cfg.Agents.IdleTimeoutRaw, &cfg.Agents.IdleTimeout},
		{"reap_interval", cfg.Agents.ReapIntervalRaw, &cfg.Agents.ReapInterval},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
