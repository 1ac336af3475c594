package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ProviderRole is the job a provider does for the analysis pipeline.
type ProviderRole string

const (
	RoleExtraction ProviderRole = "extraction"
	RoleGrounding  ProviderRole = "grounding"
)

var ErrProviderUnavailable = errors.New("model provider unavailable")

// Registry holds configured providers by name and which provider serves each
// role. Names are case-insensitive.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	roles     map[ProviderRole]string
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		roles:     make(map[ProviderRole]string),
	}
}

func (r *Registry) Register(name string, provider Provider) {
	if r == nil || provider == nil {
		return
	}
	key := normalizeProviderName(name)
	if key == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[key] = provider
}

func (r *Registry) Get(name string) (Provider, bool) {
	if r == nil {
		return nil, false
	}
	key := normalizeProviderName(name)
	if key == "" {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	provider, ok := r.providers[key]
	return provider, ok
}

// Bind assigns the named provider to a role. The provider does not have to be
// registered yet; For reports it as unavailable until it is.
func (r *Registry) Bind(role ProviderRole, name string) {
	if r == nil || role == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles[role] = normalizeProviderName(name)
}

// For returns the provider bound to role.
func (r *Registry) For(role ProviderRole) (Provider, string, error) {
	if r == nil {
		return nil, "", fmt.Errorf("%w: no registry", ErrProviderUnavailable)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.roles[role]
	if !ok || name == "" {
		return nil, "", fmt.Errorf("%w: no provider bound to %s", ErrProviderUnavailable, role)
	}
	provider, ok := r.providers[name]
	if !ok {
		return nil, name, fmt.Errorf("%w: %s provider %q is not configured", ErrProviderUnavailable, role, name)
	}
	return provider, name, nil
}

// Names lists registered providers in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeProviderName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
