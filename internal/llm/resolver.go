package llm

import (
	"fmt"
	"sync"

	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/config"
	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/logging"
)

// Selection is the outcome of resolving providers for a user: a required
// primary and an optional fallback.
type Selection struct {
	Primary  Provider
	Fallback Provider
}

// HasFallback reports whether a fallback provider is configured.
func (s *Selection) HasFallback() bool {
	return s.Fallback != nil
}

// Resolver maps user IDs to their configured providers. Provider instances
// are built lazily and shared across users that name the same provider.
type Resolver struct {
	cfg *config.Config
	log *logging.Logger

	mu    sync.Mutex
	built map[string]Provider
}

// NewResolver creates a resolver over the loaded configuration.
func NewResolver(cfg *config.Config) *Resolver {
	return &Resolver{
		cfg:   cfg,
		log:   logging.Global().WithComponent("resolver"),
		built: make(map[string]Provider),
	}
}

// Resolve returns the primary and optional fallback provider for a user.
// A user with no override gets the global defaults. A missing or
// unconfigured primary is an error: the conversation turn cannot start
// without a model.
func (r *Resolver) Resolve(userID string) (*Selection, error) {
	primaryName := r.cfg.LLM.DefaultProvider
	fallbackName := r.cfg.LLM.FallbackProvider

	if up, ok := r.cfg.LLM.Users[userID]; ok {
		if up.Primary != "" {
			primaryName = up.Primary
		}
		// An explicit user entry controls the fallback even when empty:
		// empty means this user opted out of fallback.
		fallbackName = up.Fallback
	}

	if primaryName == "" {
		return nil, fmt.Errorf("%w: user %q has no primary provider", ErrNoProvider, userID)
	}

	primary, err := r.provider(primaryName)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve primary for user %q: %v", ErrNoProvider, userID, err)
	}

	sel := &Selection{Primary: primary}

	if fallbackName != "" && fallbackName != primaryName {
		fallback, err := r.provider(fallbackName)
		if err != nil {
			return nil, fmt.Errorf("resolve fallback for user %q: %w", userID, err)
		}
		sel.Fallback = fallback
	}

	r.log.Debug("resolved providers for user %s: primary=%s fallback=%v",
		userID, primaryName, fallbackName != "" && fallbackName != primaryName)

	return sel, nil
}

// provider returns a cached provider instance, building it on first use.
func (r *Resolver) provider(name string) (Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.built[name]; ok {
		return p, nil
	}

	pc, exists := r.cfg.LLM.Providers[name]
	if !exists {
		return nil, fmt.Errorf("provider %q not found in configuration", name)
	}

	p, err := NewProviderFromConfig(name, pc)
	if err != nil {
		return nil, err
	}

	r.built[name] = p
	return p, nil
}
