// Package monitoring - alerts.go flags anomalies and errors.
//
// DESIGN: AlertManager logs notable events at appropriate levels:
//   - FlagHighLatency:          Warn when request exceeds threshold
//   - FlagProviderError:        Warn on upstream 4xx/5xx responses
//   - FlagCredentialExhausted:  Error when no credential is eligible
//   - FlagCredentialDeprecated: Warn when a credential is demoted
//   - FlagPanic:                Error on recovered panics
package monitoring

import "time"

// DefaultHighLatencyThreshold applies when none is configured.
const DefaultHighLatencyThreshold = 30 * time.Second

// AlertManager flags anomalies and errors.
type AlertManager struct {
	logger               *Logger
	highLatencyThreshold time.Duration
}

// NewAlertManager creates a new alert manager.
func NewAlertManager(logger *Logger, cfg AlertConfig) *AlertManager {
	threshold := cfg.HighLatencyThreshold
	if threshold == 0 {
		threshold = DefaultHighLatencyThreshold
	}
	return &AlertManager{logger: logger, highLatencyThreshold: threshold}
}

// FlagHighLatency logs when request latency exceeds threshold.
// Reports whether the alert fired.
func (am *AlertManager) FlagHighLatency(requestID string, latency time.Duration, upstream, path string) bool {
	if latency < am.highLatencyThreshold {
		return false
	}
	am.logger.Warn().
		Str("request_id", requestID).
		Dur("latency", latency).
		Str("upstream", upstream).
		Str("path", path).
		Msg("high_latency")
	return true
}

// FlagProviderError logs upstream provider error.
func (am *AlertManager) FlagProviderError(requestID, upstream string, statusCode int, body string) {
	am.logger.Warn().
		Str("request_id", requestID).
		Str("upstream", upstream).
		Int("status", statusCode).
		Str("body", truncate(body, 512)).
		Msg("provider_error")
}

// FlagInvalidRequest logs invalid request.
func (am *AlertManager) FlagInvalidRequest(requestID, reason string) {
	am.logger.Debug().
		Str("request_id", requestID).
		Str("reason", reason).
		Msg("invalid_request")
}

// FlagCredentialExhausted logs that the pool had no eligible credential.
func (am *AlertManager) FlagCredentialExhausted(requestID string, active, deprecated int) {
	am.logger.Error().
		Str("request_id", requestID).
		Int("active", active).
		Int("deprecated", deprecated).
		Msg("credential_exhausted")
}

// FlagCredentialDeprecated logs a credential demoted after a payment-required response.
func (am *AlertManager) FlagCredentialDeprecated(requestID string, index int, maskedKey string) {
	am.logger.Warn().
		Str("request_id", requestID).
		Int("index", index).
		Str("key", maskedKey).
		Msg("credential_deprecated")
}

// FlagPanic logs recovered panic.
func (am *AlertManager) FlagPanic(requestID string, panicValue interface{}, stack string) {
	am.logger.Error().
		Str("request_id", requestID).
		Interface("panic", panicValue).
		Str("stack", stack).
		Msg("panic_recovered")
}

// FlagUpstreamTimeout logs upstream timeout.
func (am *AlertManager) FlagUpstreamTimeout(requestID, upstream, targetURL string, timeout time.Duration) {
	am.logger.Error().
		Str("request_id", requestID).
		Str("upstream", upstream).
		Str("target", targetURL).
		Dur("timeout", timeout).
		Msg("upstream_timeout")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}
