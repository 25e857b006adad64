package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/casualjim/hoot/internal/registry"
)

// Adapter is implemented by every chat backend.
type Adapter interface {
	// Stream starts a completion. Validation failures and transport errors
	// are reported through the returned stream's Err.
	Stream(ctx context.Context, req Request) *Stream
}

// AdapterFunc adapts a function to the Adapter interface.
type AdapterFunc func(ctx context.Context, req Request) *Stream

func (f AdapterFunc) Stream(ctx context.Context, req Request) *Stream {
	return f(ctx, req)
}

// ModelMatcher reports whether a model name follows a provider's naming convention.
type ModelMatcher func(model string) bool

// Prefix accepts model names starting with any of the prefixes.
func Prefix(prefixes ...string) ModelMatcher {
	return func(model string) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(model, p) {
				return true
			}
		}
		return false
	}
}

// AnyModel accepts every non-empty model name.
func AnyModel(model string) bool {
	return strings.TrimSpace(model) != ""
}

type registration struct {
	adapter Adapter
	accepts ModelMatcher
}

// Registry resolves provider names to adapters.
type Registry struct {
	adapters registry.Registry[registration]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: registry.New[registration]()}
}

// Register adds or replaces the adapter for name. A nil matcher accepts any
// non-empty model name.
func (r *Registry) Register(name string, adapter Adapter, accepts ModelMatcher) {
	if accepts == nil {
		accepts = AnyModel
	}
	r.adapters.Add(name, registration{adapter: adapter, accepts: accepts})
}

// Unregister removes the adapter for name.
func (r *Registry) Unregister(name string) {
	r.adapters.Del(name)
}

// Names lists the registered providers.
func (r *Registry) Names() []string {
	return r.adapters.Names()
}

// Resolve returns the adapter for provider after checking that model follows
// its naming convention.
func (r *Registry) Resolve(provider, model string) (Adapter, error) {
	reg, ok := r.adapters.Get(provider)
	if !ok {
		return nil, NewError(provider, CodeUnknownProvider, fmt.Sprintf("provider %q is not registered", provider), 0, false, nil)
	}
	if !reg.accepts(model) {
		return nil, NewError(provider, CodeUnknownModel, fmt.Sprintf("model %q is not served by provider %q", model, provider), 0, false, nil)
	}
	return reg.adapter, nil
}
