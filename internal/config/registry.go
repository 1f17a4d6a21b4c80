// Upstream endpoints and model mappings.
//
// DESIGN: Endpoints and models are immutable after load. The Registry is
// built once from Config and answers read-only lookups for every request,
// so it needs no locking.
package config

import (
	"fmt"
	"strings"
)

// UpstreamType identifies the wire protocol spoken by an upstream endpoint.
type UpstreamType string

const (
	UpstreamAnthropic UpstreamType = "anthropic" // Anthropic Messages API
	UpstreamOpenAI    UpstreamType = "openai"    // OpenAI Responses API
	UpstreamCommon    UpstreamType = "common"    // Chat Completions passthrough
)

// Valid reports whether t is a known upstream type.
func (t UpstreamType) Valid() bool {
	switch t {
	case UpstreamAnthropic, UpstreamOpenAI, UpstreamCommon:
		return true
	}
	return false
}

// ReasoningLevel controls the reasoning/thinking directive injected upstream.
type ReasoningLevel string

const (
	ReasoningOff    ReasoningLevel = "off"
	ReasoningLow    ReasoningLevel = "low"
	ReasoningMedium ReasoningLevel = "medium"
	ReasoningHigh   ReasoningLevel = "high"
	ReasoningAuto   ReasoningLevel = "auto"
)

// ParseReasoningLevel normalizes a configured level. Empty means off.
// Unknown values map to off and report ok=false.
func ParseReasoningLevel(s string) (ReasoningLevel, bool) {
	switch level := ReasoningLevel(strings.ToLower(strings.TrimSpace(s))); level {
	case "":
		return ReasoningOff, true
	case ReasoningOff, ReasoningLow, ReasoningMedium, ReasoningHigh, ReasoningAuto:
		return level, true
	}
	return ReasoningOff, false
}

// Explicit reports whether the level sets an effort (low, medium or high).
func (l ReasoningLevel) Explicit() bool {
	return l == ReasoningLow || l == ReasoningMedium || l == ReasoningHigh
}

// Auth header placement for endpoint credentials.
const (
	AuthHeaderAuthorization = "authorization"
	AuthHeaderXAPIKey       = "x-api-key"
)

// EndpointConfig describes one upstream endpoint.
type EndpointConfig struct {
	Type       UpstreamType `yaml:"type" toml:"type"`
	BaseURL    string       `yaml:"base_url" toml:"base_url"`       // Full URL requests are POSTed to
	AuthHeader string       `yaml:"auth_header" toml:"auth_header"` // authorization (default) or x-api-key
}

// Validate checks a single endpoint.
func (e EndpointConfig) Validate() error {
	if !e.Type.Valid() {
		return fmt.Errorf("invalid type %q (must be anthropic, openai or common)", e.Type)
	}
	if e.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if err := validateHTTPURL(e.BaseURL); err != nil {
		return err
	}
	switch strings.ToLower(e.AuthHeader) {
	case "", AuthHeaderAuthorization, AuthHeaderXAPIKey:
	default:
		return fmt.Errorf("invalid auth_header %q", e.AuthHeader)
	}
	return nil
}

// UsesXAPIKey reports whether credentials go in x-api-key instead of Authorization.
func (e EndpointConfig) UsesXAPIKey() bool {
	return strings.EqualFold(e.AuthHeader, AuthHeaderXAPIKey)
}

// ModelConfig maps a client-visible model id to an upstream type.
type ModelConfig struct {
	ID        string       `yaml:"id" toml:"id"`
	Name      string       `yaml:"name" toml:"name"`
	Type      UpstreamType `yaml:"type" toml:"type"`
	Reasoning string       `yaml:"reasoning" toml:"reasoning"`
	OwnedBy   string       `yaml:"owned_by" toml:"owned_by"`
}

// Model is a resolved model mapping.
type Model struct {
	ID        string
	Name      string
	Type      UpstreamType
	Reasoning ReasoningLevel
	OwnedBy   string
}

// Registry answers model and endpoint lookups.
type Registry struct {
	models    []Model
	byID      map[string]Model
	endpoints map[UpstreamType]EndpointConfig
}

// NewRegistry builds a registry from a validated config.
func NewRegistry(cfg *Config) *Registry {
	r := &Registry{
		byID:      make(map[string]Model, len(cfg.Models)),
		endpoints: make(map[UpstreamType]EndpointConfig, len(cfg.Endpoints)),
	}
	for _, ep := range cfg.Endpoints {
		r.endpoints[ep.Type] = ep
	}
	for _, mc := range cfg.Models {
		level, _ := ParseReasoningLevel(mc.Reasoning)
		m := Model{ID: mc.ID, Name: mc.Name, Type: mc.Type, Reasoning: level, OwnedBy: mc.OwnedBy}
		if m.OwnedBy == "" {
			m.OwnedBy = string(m.Type)
		}
		r.models = append(r.models, m)
		r.byID[m.ID] = m
	}
	return r
}

// Model looks up a model by id.
func (r *Registry) Model(id string) (Model, bool) {
	m, ok := r.byID[id]
	return m, ok
}

// Endpoint returns the endpoint serving an upstream type.
func (r *Registry) Endpoint(t UpstreamType) (EndpointConfig, bool) {
	ep, ok := r.endpoints[t]
	return ep, ok
}

// ListModels returns models in configuration order.
func (r *Registry) ListModels() []Model {
	out := make([]Model, len(r.models))
	copy(out, r.models)
	return out
}
