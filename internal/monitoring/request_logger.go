// Package monitoring - request_logger.go logs HTTP request lifecycle.
//
// DESIGN: Structured logging for request tracing at DEBUG level:
//   - LogIncoming:      Request received from client
//   - LogOutgoing:      Request forwarded to upstream
//   - LogResponse:      Response sent to client
//   - LogUpstreamError: Non-2xx upstream reply (status + truncated body)
//   - LogPayload:       Bodies, only when verbose payloads are enabled
//
// The response line carries model, stream and converted. The middleware puts
// a *ResponseInfo in the request context and the forwarding path fills those
// fields once the route is resolved.
package monitoring

import (
	"context"
	"net/http"
	"time"
)

// MaxPayloadLogBytes caps bodies written by LogPayload.
const MaxPayloadLogBytes = 4096

// RequestLogger logs HTTP request lifecycle events.
type RequestLogger struct {
	logger   *Logger
	payloads bool
}

// NewRequestLogger creates a new request logger. verbosePayloads enables LogPayload.
func NewRequestLogger(logger *Logger, verbosePayloads bool) *RequestLogger {
	return &RequestLogger{logger: logger, payloads: verbosePayloads}
}

// RequestInfo contains incoming request information.
type RequestInfo struct {
	RequestID  string
	Method     string
	Path       string
	RemoteAddr string
	BodySize   int
	StartTime  time.Time
}

// NewRequestInfo creates RequestInfo from an HTTP request.
func NewRequestInfo(r *http.Request, requestID string, bodySize int) *RequestInfo {
	return &RequestInfo{
		RequestID:  requestID,
		Method:     r.Method,
		Path:       r.URL.Path,
		RemoteAddr: r.RemoteAddr,
		BodySize:   bodySize,
		StartTime:  time.Now(),
	}
}

// LogIncoming logs an incoming request.
func (rl *RequestLogger) LogIncoming(info *RequestInfo) {
	rl.logger.Debug().
		Str("request_id", info.RequestID).
		Str("method", info.Method).
		Str("path", info.Path).
		Str("remote_addr", info.RemoteAddr).
		Int("body_size", info.BodySize).
		Msg("incoming")
}

// OutgoingRequestInfo contains outgoing request information.
type OutgoingRequestInfo struct {
	RequestID    string
	Upstream     string
	TargetURL    string
	BodySize     int
	Stream       bool
	Credential   string // pool index or "override"
	PromptTokens int    // estimated, 0 when estimation is off
}

// LogOutgoing logs an outgoing request.
func (rl *RequestLogger) LogOutgoing(info *OutgoingRequestInfo) {
	event := rl.logger.Debug().
		Str("request_id", info.RequestID).
		Str("upstream", info.Upstream).
		Str("target", info.TargetURL).
		Int("body_size", info.BodySize).
		Bool("stream", info.Stream).
		Str("credential", info.Credential)
	if info.PromptTokens > 0 {
		event = event.Int("prompt_tokens_est", info.PromptTokens)
	}
	event.Msg("outgoing")
}

// ResponseInfo contains response information. Model is empty for requests
// that never reached an upstream.
type ResponseInfo struct {
	RequestID  string
	StatusCode int
	Latency    time.Duration
	Model      string
	Upstream   string
	Stream     bool
	Converted  bool // upstream response rewritten into Chat Completions
}

type responseInfoKey struct{}

// WithResponseInfo returns a context carrying info for later enrichment.
func WithResponseInfo(ctx context.Context, info *ResponseInfo) context.Context {
	return context.WithValue(ctx, responseInfoKey{}, info)
}

// ResponseInfoFromContext returns the request's ResponseInfo, or nil.
func ResponseInfoFromContext(ctx context.Context) *ResponseInfo {
	info, _ := ctx.Value(responseInfoKey{}).(*ResponseInfo)
	return info
}

// LogResponse logs a response.
func (rl *RequestLogger) LogResponse(info *ResponseInfo) {
	event := rl.logger.Debug().
		Str("request_id", info.RequestID).
		Int("status", info.StatusCode).
		Dur("latency", info.Latency)
	if info.Model != "" {
		event = event.
			Str("model", info.Model).
			Str("upstream", info.Upstream).
			Bool("stream", info.Stream).
			Bool("converted", info.Converted)
	}
	event.Msg("response")
}

// LogUpstreamError logs a non-2xx upstream reply.
func (rl *RequestLogger) LogUpstreamError(requestID, targetURL string, status int, body []byte) {
	rl.logger.Error().
		Str("request_id", requestID).
		Str("target", targetURL).
		Int("status", status).
		Str("body", truncate(string(body), 1024)).
		Msg("upstream_error")
}

// LogPayload logs a request or response body at debug level.
func (rl *RequestLogger) LogPayload(requestID, direction string, body []byte) {
	if !rl.payloads {
		return
	}
	rl.logger.Debug().
		Str("request_id", requestID).
		Str("direction", direction).
		Str("payload", truncate(string(body), MaxPayloadLogBytes)).
		Msg("payload")
}
