// Package adapters provides per-upstream request translation.
//
// DESIGN: The gateway speaks Chat Completions to clients and one of three wire
// protocols upstream. Each upstream type has one Adapter holding its whole
// mapping table:
//
//   - TranslateRequest: Chat Completions body -> native body (plus injection)
//   - Augment:          native body -> native body with system prompt and
//                       reasoning directive (direct /v1/responses, /v1/messages)
//   - Headers:          upstream request headers
//   - ConvertResponse:  native one-shot response -> Chat Completions object
//   - NewTranscoder:    per-request stream transcoder
//
// FLOW:
//  1. Gateway resolves the model's upstream type and gets the adapter from the Registry
//  2. Adapter shapes body and headers
//  3. Gateway forwards, then hands the response to ConvertResponse or the transcoder
//
// Adapters are stateless and thread-safe.
package adapters

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/compresr/protocol-gateway/internal/config"
	"github.com/compresr/protocol-gateway/internal/stream"
)

// ErrInvalidRequest reports a client body that cannot be translated.
var ErrInvalidRequest = errors.New("invalid request body")

// Thinking budgets per reasoning level for Anthropic upstreams.
var thinkingBudgets = map[config.ReasoningLevel]int{
	config.ReasoningLow:    4096,
	config.ReasoningMedium: 12288,
	config.ReasoningHigh:   24576,
}

// ThinkingBudget returns the budget_tokens for an explicit level, 0 otherwise.
func ThinkingBudget(level config.ReasoningLevel) int {
	return thinkingBudgets[level]
}

// Options carries the server-side augmentation for one request.
type Options struct {
	SystemPrompt string
	Reasoning    config.ReasoningLevel
}

// Adapter defines the per-upstream translation surface.
type Adapter interface {
	// Name returns the adapter identifier (e.g., "openai", "anthropic")
	Name() string

	// Upstream returns the upstream type this adapter serves
	Upstream() config.UpstreamType

	// TranslateRequest maps a Chat Completions request into the native shape.
	TranslateRequest(body []byte, opts Options) ([]byte, error)

	// Augment injects system prompt and reasoning into an already-native body.
	Augment(body []byte, opts Options) ([]byte, error)

	// Headers builds the upstream request headers.
	Headers(p HeaderParams) http.Header

	// ConvertResponse converts a one-shot native response into Chat Completions.
	ConvertResponse(body []byte, now time.Time) ([]byte, error)

	// NewTranscoder returns the stream transcoder for one request.
	NewTranscoder(model string, now time.Time) stream.Transcoder
}

// BaseAdapter provides common functionality for all adapters.
type BaseAdapter struct {
	name     string
	upstream config.UpstreamType
}

// Name returns the adapter name.
func (a *BaseAdapter) Name() string {
	return a.name
}

// Upstream returns the upstream type.
func (a *BaseAdapter) Upstream() config.UpstreamType {
	return a.upstream
}

// parseObject validates that body is a JSON object.
func parseObject(body []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("%w: malformed JSON", ErrInvalidRequest)
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return gjson.Result{}, fmt.Errorf("%w: expected a JSON object", ErrInvalidRequest)
	}
	return root, nil
}

// parseChatRequest validates the parts of a Chat Completions body the translators rely on.
func parseChatRequest(body []byte) (gjson.Result, error) {
	root, err := parseObject(body)
	if err != nil {
		return root, err
	}
	if msgs := root.Get("messages"); !msgs.IsArray() {
		return root, fmt.Errorf("%w: messages must be an array", ErrInvalidRequest)
	}
	return root, nil
}

// textOf extracts text from message content, which can be a string or an
// array of typed parts.
func textOf(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.String()
	}
	if !content.IsArray() {
		return ""
	}
	var text string
	for _, part := range content.Array() {
		switch part.Get("type").String() {
		case "text", "input_text", "output_text":
			text += part.Get("text").String()
		}
	}
	return text
}

// copyRaw copies top-level fields that exist in src into dst under new names.
func copyRaw(dst map[string]any, src gjson.Result, fields map[string]string) {
	for from, to := range fields {
		if v := src.Get(from); v.Exists() && v.Type != gjson.Null {
			dst[to] = rawJSON(v.Raw)
		}
	}
}

// firstInt returns the first existing integer field.
func firstInt(src gjson.Result, fields ...string) (int64, bool) {
	for _, f := range fields {
		if v := src.Get(f); v.Exists() && v.Type == gjson.Number {
			return v.Int(), true
		}
	}
	return 0, false
}
