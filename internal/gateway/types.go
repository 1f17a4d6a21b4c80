// Package gateway types - types for the protocol gateway.
//
// DESIGN: Types used by the gateway for:
//   - Forward context carried from route resolution to relay
//   - Client-facing error bodies
//   - Header names and tuning constants
//
// Types are defined here to avoid circular imports and provide clear contracts.
package gateway

import (
	"strconv"
	"time"

	"github.com/compresr/protocol-gateway/internal/adapters"
	"github.com/compresr/protocol-gateway/internal/config"
	"github.com/compresr/protocol-gateway/internal/keypool"
	"github.com/compresr/protocol-gateway/internal/monitoring"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// HeaderRequestID correlates client, gateway and upstream logs.
	HeaderRequestID = "X-Request-ID"
	// HeaderEndpointAuthorization carries a client-owned upstream credential.
	HeaderEndpointAuthorization = "X-Endpoint-Authorization"
	// HeaderServerKey carries the gateway access key.
	HeaderServerKey = "X-Server-Key"

	// DefaultBufferSize is the read size for streamed upstream bodies.
	DefaultBufferSize = 32 * 1024
	// MaxErrorBodyBytes caps upstream error bodies relayed to clients.
	MaxErrorBodyBytes = 1 << 20
	// MaxRateLimitBuckets bounds per-IP limiter memory.
	MaxRateLimitBuckets = 10000
)

// =============================================================================
// FORWARD CONTEXT - Carries state through one forward
// =============================================================================

// ForwardContext carries everything needed to forward one request.
// Created after route resolution, consumed by forward().
type ForwardContext struct {
	RequestID string
	Route     string // client path, e.g. /v1/chat/completions

	Model    config.Model
	Endpoint config.EndpointConfig
	Adapter  adapters.Adapter
	Override string        // client-supplied upstream credential, "" for the pool
	Lease    keypool.Lease // set by forward

	Body      []byte // upstream body
	Stream    bool
	Translate bool // convert upstream responses to the Chat Completions schema

	ReceivedAt time.Time

	info *monitoring.ResponseInfo
}

// Upstream returns the upstream type as a label.
func (fc *ForwardContext) Upstream() string {
	return string(fc.Model.Type)
}

// credentialLabel names the credential for logs without exposing it.
func credentialLabel(l keypool.Lease) string {
	if !l.Pooled() {
		return "override"
	}
	return strconv.Itoa(l.Index)
}

// =============================================================================
// ERRORS
// =============================================================================

// apiError is a client-facing error with its HTTP status and JSON body.
type apiError struct {
	Status  int
	Message string // "error" field
	Detail  string // "message" field, omitted when empty
}

func (e *apiError) Error() string {
	if e.Detail != "" {
		return e.Message + ": " + e.Detail
	}
	return e.Message
}

func (e *apiError) body() map[string]string {
	b := map[string]string{"error": e.Message}
	if e.Detail != "" {
		b["message"] = e.Detail
	}
	return b
}
