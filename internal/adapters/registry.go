// Registry maps upstream types to adapters.
//
// DESIGN: The three built-in adapters are registered in NewRegistry and the
// map is read-only afterwards, so lookups need no locking.
package adapters

import (
	"github.com/compresr/protocol-gateway/internal/config"
)

// Registry holds one adapter per upstream type.
type Registry struct {
	adapters map[config.UpstreamType]Adapter
}

// NewRegistry creates a registry with all built-in adapters.
func NewRegistry() *Registry {
	r := &Registry{
		adapters: make(map[config.UpstreamType]Adapter),
	}

	r.register(NewAnthropicAdapter())
	r.register(NewOpenAIAdapter())
	r.register(NewCommonAdapter())

	return r
}

func (r *Registry) register(adapter Adapter) {
	r.adapters[adapter.Upstream()] = adapter
}

// Get returns the adapter for an upstream type, or nil.
func (r *Registry) Get(t config.UpstreamType) Adapter {
	return r.adapters[t]
}
