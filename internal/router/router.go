// Package router resolves model aliases to concrete providers, skipping
// providers whose circuit breaker is open.
package router

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/relayworks/mirage-gateway/internal/config"
	"github.com/relayworks/mirage-gateway/internal/provider"
)

// ErrUnknownModel means the requested alias has no mapping at all; the
// caller reports it as a client error.
var ErrUnknownModel = errors.New("unknown model")

// ErrNoProvider means the alias is mapped but every candidate provider is
// unregistered, tripped, or unable to serve the operation.
var ErrNoProvider = errors.New("no available provider")

// Registry holds the configured provider adapters.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]provider.Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]provider.Provider)}
}

func (r *Registry) Register(name string, p provider.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

func (r *Registry) Get(name string) (provider.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Names returns the registered provider names, for the health endpoint.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// BuildFromConfig constructs provider adapters from the providers config.
// Unknown types fall back to the OpenAI-compatible adapter.
func BuildFromConfig(provCfg *config.ProvidersConfig) *Registry {
	registry := NewRegistry()
	for name, cfg := range provCfg.Providers {
		client := &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        cfg.MaxConcurrent,
				MaxIdleConnsPerHost: cfg.MaxConcurrent,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		}

		var p provider.Provider
		switch cfg.Type {
		case "anthropic":
			p = provider.NewAnthropic(name, cfg, client)
		default:
			p = provider.NewOpenAI(name, cfg, client)
		}
		registry.Register(name, p)
	}
	return registry
}

// Router resolves model aliases against the live models config and the
// registry. Both can be swapped on config reload.
type Router struct {
	mu       sync.RWMutex
	models   *config.ModelsConfig
	registry *Registry
	health   *HealthTracker
}

func New(models *config.ModelsConfig, registry *Registry, health *HealthTracker) *Router {
	return &Router{models: models, registry: registry, health: health}
}

// SetModels swaps the model mapping, used on hot reload.
func (rt *Router) SetModels(models *config.ModelsConfig) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.models = models
}

// SetRegistry swaps the provider registry, used on hot reload.
func (rt *Router) SetRegistry(registry *Registry) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.registry = registry
}

// Health exposes the underlying tracker so callers can record outcomes.
func (rt *Router) Health() *HealthTracker { return rt.health }

// Registry returns the current provider registry.
func (rt *Router) Registry() *Registry {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.registry
}

// Resolve picks the provider and concrete model id for an alias. The primary
// route wins unless its provider is missing, tripped, or cannot serve the
// operation; fallbacks are tried in order.
func (rt *Router) Resolve(alias, operation string) (provider.Provider, string, error) {
	rt.mu.RLock()
	models := rt.models
	registry := rt.registry
	rt.mu.RUnlock()

	mapping, ok := models.Models[alias]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownModel, alias)
	}

	routes := append([]config.ProviderRoute{mapping.Primary}, mapping.Fallback...)
	for _, route := range routes {
		p, ok := registry.Get(route.Provider)
		if !ok || !p.SupportsOperation(operation) {
			continue
		}
		if rt.health != nil && !rt.health.IsAvailable(route.Provider) {
			continue
		}
		return p, route.Model, nil
	}

	return nil, "", fmt.Errorf("%w for model: %s", ErrNoProvider, alias)
}

// Aliases returns the configured model aliases, for the models listing.
func (rt *Router) Aliases() []string {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	aliases := make([]string, 0, len(rt.models.Models))
	for alias := range rt.models.Models {
		aliases = append(aliases, alias)
	}
	return aliases
}
