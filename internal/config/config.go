// Package config loads and validates the gateway configuration.
//
// DESIGN: Configuration comes from a single YAML (or TOML) file with
// ${VAR:-default} expansion applied to the raw text before parsing.
// Environment overrides run after parsing, validation runs last.
//
// FILES:
//   - config.go:      Root Config struct, Load(), Validate()
//   - registry.go:    Upstream endpoints, model mappings, lookup Registry
//   - credentials.go: Credential pool and balance-check settings
//   - monitoring.go:  Logging settings
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the protocol gateway.
type Config struct {
	Server       ServerConfig      `yaml:"server" toml:"server"`               // HTTP server settings
	Upstream     UpstreamConfig    `yaml:"upstream" toml:"upstream"`           // Outgoing HTTP settings
	Endpoints    []EndpointConfig  `yaml:"endpoints" toml:"endpoints"`         // One per upstream type
	Models       []ModelConfig     `yaml:"models" toml:"models"`               // Exposed model catalogue
	SystemPrompt string            `yaml:"system_prompt" toml:"system_prompt"` // Injected ahead of client instructions
	Credentials  CredentialsConfig `yaml:"credentials" toml:"credentials"`     // Upstream key pool
	Balance      BalanceConfig     `yaml:"balance" toml:"balance"`             // Out-of-band balance checks
	Monitoring   MonitoringConfig  `yaml:"monitoring" toml:"monitoring"`       // Logging
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int      `yaml:"port" toml:"port"`                     // Port to listen on
	ReadTimeout  Duration `yaml:"read_timeout" toml:"read_timeout"`     // Max time to read request
	WriteTimeout Duration `yaml:"write_timeout" toml:"write_timeout"`   // Max time to write response (covers streams)
	IdleTimeout  Duration `yaml:"idle_timeout" toml:"idle_timeout"`     // Keep-alive idle timeout
	RateLimit    int      `yaml:"rate_limit" toml:"rate_limit"`         // Requests per second per client IP
	MaxBodyBytes int64    `yaml:"max_body_bytes" toml:"max_body_bytes"` // Request body cap
	KeyFile      string   `yaml:"key_file" toml:"key_file"`             // Write-once access key file
}

// UpstreamConfig contains settings for calls to upstream providers.
type UpstreamConfig struct {
	Timeout          Duration `yaml:"timeout" toml:"timeout"`                     // Whole-request timeout, streams included
	UserAgent        string   `yaml:"user_agent" toml:"user_agent"`               // Overrides the client's User-Agent
	AnthropicVersion string   `yaml:"anthropic_version" toml:"anthropic_version"` // Used when the client sends none
}

// Defaults applied before validation.
const (
	DefaultRateLimit        = 100
	DefaultMaxBodyBytes     = 50 * 1024 * 1024
	DefaultKeyFile          = "data/server-key.json"
	DefaultAnthropicVersion = "2023-06-01"
)

// Duration is a time.Duration read from Go duration strings ("30s", "5m")
// in both YAML and TOML files.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// String formats the duration the way time.Duration does.
func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalText parses a duration string. Used by the TOML decoder.
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText renders the duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalYAML parses a duration scalar.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

var envPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandEnvWithDefaults expands environment variables with support for default values.
// Supports both ${VAR} and ${VAR:-default} syntax.
func expandEnvWithDefaults(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultValue := ""
		if len(parts) > 2 {
			defaultValue = parts[2]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// Load reads configuration from a YAML or TOML file, chosen by extension.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return LoadTOMLFromBytes(data)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvWithDefaults(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return finish(&cfg)
}

// LoadTOMLFromBytes parses configuration from raw TOML bytes.
func LoadTOMLFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvWithDefaults(string(data))

	var cfg Config
	if err := toml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return finish(&cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ExpandEnvWithDefaults is exported for the CLI, which expands paths given on the command line.
func ExpandEnvWithDefaults(s string) string {
	return expandEnvWithDefaults(s)
}

// applyEnvOverrides applies environment variable overrides to the config.
func (c *Config) applyEnvOverrides() {
	// UPSTREAM_API_KEYS appends comma-separated keys after the configured ones
	if raw := os.Getenv("UPSTREAM_API_KEYS"); raw != "" {
		for _, k := range strings.Split(raw, ",") {
			c.Credentials.Keys = append(c.Credentials.Keys, k)
		}
	}

	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	if path := os.Getenv("SERVER_KEY_FILE"); path != "" {
		c.Server.KeyFile = path
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Monitoring.LogLevel = level
	}
}

// applyDefaults fills optional settings. Required settings stay zero so Validate can report them.
func (c *Config) applyDefaults() {
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = DefaultRateLimit
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.Server.KeyFile == "" {
		c.Server.KeyFile = DefaultKeyFile
	}
	if c.Upstream.AnthropicVersion == "" {
		c.Upstream.AnthropicVersion = DefaultAnthropicVersion
	}

	// Drop empty keys left behind by ${VAR:-} expansion
	keys := c.Credentials.Keys[:0]
	for _, k := range c.Credentials.Keys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	c.Credentials.Keys = keys

	c.Credentials.applyDefaults()
	c.Balance.applyDefaults()
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port == 0 {
		return fmt.Errorf("server.port is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout is required")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout is required")
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("invalid server.rate_limit: %d", c.Server.RateLimit)
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("upstream.timeout is required")
	}

	if len(c.Endpoints) == 0 {
		return fmt.Errorf("at least one endpoint is required")
	}
	seen := make(map[UpstreamType]bool, len(c.Endpoints))
	for i, ep := range c.Endpoints {
		if err := ep.Validate(); err != nil {
			return fmt.Errorf("endpoints[%d]: %w", i, err)
		}
		if seen[ep.Type] {
			return fmt.Errorf("endpoints[%d]: duplicate endpoint type %q", i, ep.Type)
		}
		seen[ep.Type] = true
	}

	ids := make(map[string]bool, len(c.Models))
	for i, m := range c.Models {
		if m.ID == "" {
			return fmt.Errorf("models[%d].id is required", i)
		}
		if ids[m.ID] {
			return fmt.Errorf("models[%d]: duplicate model id %q", i, m.ID)
		}
		ids[m.ID] = true
		if !m.Type.Valid() {
			return fmt.Errorf("models[%d]: invalid type %q", i, m.Type)
		}
		if !seen[m.Type] {
			return fmt.Errorf("models[%d]: no endpoint configured for type %q", i, m.Type)
		}
		if _, ok := ParseReasoningLevel(m.Reasoning); !ok {
			return fmt.Errorf("models[%d]: invalid reasoning level %q", i, m.Reasoning)
		}
	}

	if err := c.Credentials.Validate(); err != nil {
		return err
	}
	if err := c.Balance.Validate(); err != nil {
		return err
	}
	return nil
}

// validateHTTPURL checks that raw is an absolute http(s) URL.
func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid URL %q: must be absolute http(s)", raw)
	}
	return nil
}
