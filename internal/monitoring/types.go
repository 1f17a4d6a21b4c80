// Package monitoring - types.go defines shared types.
//
// DESIGN: These types are used by both gateway/ and monitoring/ packages.
// Defined here ONCE to avoid duplication and circular imports.
package monitoring

import "time"

// =============================================================================
// CONFIG TYPES
// =============================================================================

// LoggerConfig contains logging configuration.
type LoggerConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AlertConfig contains alert thresholds.
type AlertConfig struct {
	HighLatencyThreshold time.Duration
}

// =============================================================================
// REQUEST OUTCOMES
// =============================================================================

// Outcome classifies a finished forward for metrics.
type Outcome string

const (
	OutcomeSuccess       Outcome = "success"
	OutcomeUpstreamError Outcome = "upstream_error"
	OutcomeTransport     Outcome = "transport_error"
	OutcomeRejected      Outcome = "rejected" // validation or no credential, no upstream call
)
