// HTTP handlers for the client-facing API.
//
// DESIGN: Every /v1 POST route runs the same steps:
//  1. read and validate the JSON body
//  2. resolve model → endpoint + adapter (Router)
//  3. acquire a credential (client override or pool)
//  4. shape the upstream body: translate (chat) or augment (native routes)
//  5. forward() relays the upstream response
//
// Steps 1-3 never reach the upstream on failure.
package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/compresr/protocol-gateway/internal/adapters"
	"github.com/compresr/protocol-gateway/internal/config"
	"github.com/compresr/protocol-gateway/internal/monitoring"
)

// writeError writes a gateway-level JSON error response.
func (g *Gateway) writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{"message": msg, "type": "gateway_error"},
	})
}

// writeJSON writes v as a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, e *apiError) {
	writeJSON(w, e.Status, e.body())
}

// handleHealth returns gateway liveness and counters.
func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"time":    g.now().Format(time.RFC3339),
		"uptime":  time.Since(g.startedAt).Round(time.Second).String(),
		"key_set": g.keys.IsSet(),
		"metrics": g.metrics.Stats(),
	})
}

// =============================================================================
// MODELS
// =============================================================================

type modelEntry struct {
	ID         string        `json:"id"`
	Object     string        `json:"object"`
	Created    int64         `json:"created"`
	OwnedBy    string        `json:"owned_by"`
	Permission []interface{} `json:"permission"`
	Root       string        `json:"root"`
	Parent     *string       `json:"parent"`
}

type modelList struct {
	Object string       `json:"object"`
	Data   []modelEntry `json:"data"`
}

// handleModels lists the configured models in OpenAI format.
func (g *Gateway) handleModels(w http.ResponseWriter, _ *http.Request) {
	created := g.now().Unix()
	models := g.router.Models()

	out := modelList{Object: "list", Data: make([]modelEntry, 0, len(models))}
	for _, m := range models {
		out.Data = append(out.Data, modelEntry{
			ID:         m.ID,
			Object:     "model",
			Created:    created,
			OwnedBy:    m.OwnedBy,
			Permission: []interface{}{},
			Root:       m.ID,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// FORWARDING ROUTES
// =============================================================================

// handleChatCompletions translates a Chat Completions request for the model's upstream.
func (g *Gateway) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	fc, ok := g.prepare(w, r, "", r.Header.Get(HeaderEndpointAuthorization))
	if !ok {
		return
	}

	translated, err := fc.Adapter.TranslateRequest(fc.Body, g.adapterOptions(fc.Model))
	if err != nil {
		g.rejectBody(w, fc, err)
		return
	}
	fc.Body = translated
	fc.Stream = gjson.GetBytes(translated, "stream").Bool()
	fc.Translate = true

	g.forward(w, r, fc)
}

// handleResponses forwards a native Responses request to an openai upstream.
func (g *Gateway) handleResponses(w http.ResponseWriter, r *http.Request) {
	g.handleNative(w, r, config.UpstreamOpenAI)
}

// handleMessages forwards a native Messages request to an anthropic upstream.
func (g *Gateway) handleMessages(w http.ResponseWriter, r *http.Request) {
	g.handleNative(w, r, config.UpstreamAnthropic)
}

// handleNative injects system prompt and reasoning, then relays the upstream
// response without conversion.
func (g *Gateway) handleNative(w http.ResponseWriter, r *http.Request, native config.UpstreamType) {
	override := r.Header.Get(HeaderEndpointAuthorization)
	if override == "" {
		if k := strings.TrimSpace(r.Header.Get("X-Api-Key")); k != "" {
			override = "Bearer " + k
		}
	}

	fc, ok := g.prepare(w, r, native, override)
	if !ok {
		return
	}

	augmented, err := fc.Adapter.Augment(fc.Body, g.adapterOptions(fc.Model))
	if err != nil {
		g.rejectBody(w, fc, err)
		return
	}
	fc.Stream = gjson.GetBytes(fc.Body, "stream").Bool()
	fc.Body = augmented

	g.forward(w, r, fc)
}

// prepare reads and resolves the request. The credential is leased later, in
// forward, once the body has been shaped. On failure the response has been
// written and ok is false.
func (g *Gateway) prepare(w http.ResponseWriter, r *http.Request, native config.UpstreamType, override string) (*ForwardContext, bool) {
	requestID := monitoring.RequestIDFromContext(r.Context())
	receivedAt := g.now()

	body, apiErr := g.readBody(w, r)
	if apiErr != nil {
		g.alerts.FlagInvalidRequest(requestID, apiErr.Error())
		writeAPIError(w, apiErr)
		return nil, false
	}

	res, apiErr := g.router.Resolve(body, r.URL.Path, native)
	if apiErr != nil {
		g.alerts.FlagInvalidRequest(requestID, apiErr.Error())
		writeAPIError(w, apiErr)
		return nil, false
	}

	g.requestLogger.LogPayload(requestID, "client_request", body)

	return &ForwardContext{
		RequestID:  requestID,
		Route:      r.URL.Path,
		Model:      res.Model,
		Endpoint:   res.Endpoint,
		Adapter:    res.Adapter,
		Override:   override,
		Body:       body,
		ReceivedAt: receivedAt,
	}, true
}

// readBody reads the request body under the configured size cap and checks it is a JSON object.
func (g *Gateway) readBody(w http.ResponseWriter, r *http.Request) ([]byte, *apiError) {
	r.Body = http.MaxBytesReader(w, r.Body, g.cfg.Server.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, &apiError{Status: http.StatusRequestEntityTooLarge, Message: "Request body too large", Detail: err.Error()}
		}
		return nil, &apiError{Status: http.StatusBadRequest, Message: "Invalid JSON body", Detail: err.Error()}
	}
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		return nil, &apiError{Status: http.StatusBadRequest, Message: "Invalid JSON body", Detail: "request body must be a JSON object"}
	}
	return body, nil
}

// rejectBody answers a body the adapter cannot shape. No credential is leased yet.
func (g *Gateway) rejectBody(w http.ResponseWriter, fc *ForwardContext, err error) {
	g.alerts.FlagInvalidRequest(fc.RequestID, err.Error())
	g.metrics.RecordForward(fc.Upstream(), monitoring.OutcomeRejected, false, g.now().Sub(fc.ReceivedAt))
	if errors.Is(err, adapters.ErrInvalidRequest) {
		writeAPIError(w, &apiError{Status: http.StatusBadRequest, Message: "Invalid request", Detail: err.Error()})
		return
	}
	log.Error().Err(err).Str("request_id", fc.RequestID).Msg("request shaping failed")
	writeAPIError(w, &apiError{Status: http.StatusInternalServerError, Message: "Internal server error", Detail: err.Error()})
}

// adapterOptions returns the augmentation for model.
func (g *Gateway) adapterOptions(m config.Model) adapters.Options {
	return adapters.Options{SystemPrompt: g.cfg.SystemPrompt, Reasoning: m.Reasoning}
}
