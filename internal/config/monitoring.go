// Monitoring configuration - logging settings.
//
// DESIGN: Logging is for operators. Request bodies are only logged when
// verbose_payloads is set, and only at debug level.
package config

// MonitoringConfig contains all monitoring settings.
type MonitoringConfig struct {
	LogLevel  string `yaml:"log_level" toml:"log_level"`   // debug, info, warn, error
	LogFormat string `yaml:"log_format" toml:"log_format"` // json, console
	LogOutput string `yaml:"log_output" toml:"log_output"` // stdout, stderr, or file path

	VerbosePayloads      bool     `yaml:"verbose_payloads" toml:"verbose_payloads"`             // Log request/response bodies
	EstimateTokens       bool     `yaml:"estimate_tokens" toml:"estimate_tokens"`               // Count prompt tokens with tiktoken
	HighLatencyThreshold Duration `yaml:"high_latency_threshold" toml:"high_latency_threshold"` // Warn above this latency
}
