// Router resolves a request's model to its upstream.
//
// DESIGN: Resolution runs before any credential is spent:
//  1. model id present in the body           → else 400
//  2. model known to the registry            → else 404
//  3. model type matches a native route      → else 400 (direct routes only)
//  4. endpoint configured for the model type → else 500
//  5. adapter registered for the model type  → else 500
package gateway

import (
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/compresr/protocol-gateway/internal/adapters"
	"github.com/compresr/protocol-gateway/internal/config"
)

// Router maps model ids to endpoints and adapters.
type Router struct {
	models   *config.Registry
	adapters *adapters.Registry
}

// NewRouter creates a router over the model and adapter registries.
func NewRouter(models *config.Registry, adapterRegistry *adapters.Registry) *Router {
	return &Router{models: models, adapters: adapterRegistry}
}

// Resolution is the outcome of a successful Resolve.
type Resolution struct {
	Model    config.Model
	Endpoint config.EndpointConfig
	Adapter  adapters.Adapter
}

// Resolve finds the upstream for body. native restricts the model type for
// direct routes; empty accepts any type.
func (r *Router) Resolve(body []byte, route string, native config.UpstreamType) (*Resolution, *apiError) {
	modelID := gjson.GetBytes(body, "model").String()
	if modelID == "" {
		return nil, &apiError{Status: http.StatusBadRequest, Message: "model is required"}
	}

	model, ok := r.models.Model(modelID)
	if !ok {
		return nil, &apiError{Status: http.StatusNotFound, Message: fmt.Sprintf("Model %s not found", modelID)}
	}

	if native != "" && model.Type != native {
		return nil, &apiError{
			Status:  http.StatusBadRequest,
			Message: "Invalid endpoint type",
			Detail:  fmt.Sprintf("%s only supports %s endpoints; model %s is %s", route, native, modelID, model.Type),
		}
	}

	endpoint, ok := r.models.Endpoint(model.Type)
	if !ok {
		return nil, &apiError{Status: http.StatusInternalServerError, Message: fmt.Sprintf("Endpoint type %s not found", model.Type)}
	}

	adapter := r.adapters.Get(model.Type)
	if adapter == nil {
		return nil, &apiError{Status: http.StatusInternalServerError, Message: fmt.Sprintf("Unknown endpoint type: %s", model.Type)}
	}

	return &Resolution{Model: model, Endpoint: endpoint, Adapter: adapter}, nil
}

// Models returns the configured models in order.
func (r *Router) Models() []config.Model {
	return r.models.ListModels()
}
