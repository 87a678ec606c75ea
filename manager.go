package steward

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// ModelRef names a (provider, model) pair.
type ModelRef struct {
	Provider string
	Model    string
}

// Selection is the outcome of provider routing for one turn.
type Selection struct {
	Provider         string
	Model            string
	FailedOver       bool
	OriginalProvider string
}

// ProviderManager owns the configured providers and their circuit breakers
// (1:1), per-user preferences, per-tier defaults and the ordered failover
// chain. Registered providers are expected to already be wrapped with
// WithResilience.
type ProviderManager struct {
	mu            sync.RWMutex
	providers     map[string]Provider
	breakers      map[string]*Breaker
	models        map[string][]string
	prefs         map[string]ModelRef
	tierDefaults  map[Tier]ModelRef
	defaultRef    ModelRef
	failoverChain []string
	logger        *slog.Logger
}

// ManagerOption configures a ProviderManager.
type ManagerOption func(*ProviderManager)

// FailoverChain sets the ordered list of provider names consulted when the
// preferred provider's circuit is open.
func FailoverChain(names ...string) ManagerOption {
	return func(m *ProviderManager) { m.failoverChain = names }
}

// TierDefault routes a tier to a specific provider/model by default,
// overriding the global default for that tier. Light traffic typically maps
// to a cheaper model.
func TierDefault(tier Tier, provider, model string) ManagerOption {
	return func(m *ProviderManager) {
		m.tierDefaults[tier] = ModelRef{Provider: provider, Model: model}
	}
}

// ManagerLogger sets the structured logger.
func ManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *ProviderManager) { m.logger = l }
}

// NewProviderManager creates a manager with the given global default.
func NewProviderManager(defaultProvider, defaultModel string, opts ...ManagerOption) *ProviderManager {
	m := &ProviderManager{
		providers:    make(map[string]Provider),
		breakers:     make(map[string]*Breaker),
		models:       make(map[string][]string),
		prefs:        make(map[string]ModelRef),
		tierDefaults: make(map[Tier]ModelRef),
		defaultRef:   ModelRef{Provider: defaultProvider, Model: defaultModel},
		logger:       nopLogger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds a provider under name with its breaker and the models it
// serves. Registering an existing name replaces it.
func (m *ProviderManager) Register(name string, p Provider, b *Breaker, models []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[name] = p
	m.breakers[name] = b
	m.models[name] = slices.Clone(models)
}

// Breaker returns the breaker owned by the named provider, or nil.
func (m *ProviderManager) Breaker(name string) *Breaker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.breakers[name]
}

// Providers returns the registered provider names.
func (m *ProviderManager) Providers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// SetUserPreference pins a user to a provider/model. Fails when the provider
// is unknown or the model is not in its configured list.
func (m *ProviderManager) SetUserPreference(userID, provider, model string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	models, ok := m.models[provider]
	if !ok {
		return fmt.Errorf("unknown provider %q", provider)
	}
	if !slices.Contains(models, model) {
		return fmt.Errorf("model %q not configured for provider %q", model, provider)
	}
	m.prefs[userID] = ModelRef{Provider: provider, Model: model}
	return nil
}

// SelectFor picks the provider and model for one turn. The user's preference
// (or the tier/global default) wins when its circuit allows execution;
// otherwise the failover chain is walked in order, then any remaining
// provider, skipping unusable breakers. The fallback's model defaults to the
// chosen provider's first configured model, or the preferred model when the
// fallback also serves it.
func (m *ProviderManager) SelectFor(userID string, tier Tier) (Selection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pref, ok := m.prefs[userID]
	if !ok {
		pref, ok = m.tierDefaults[tier]
		if !ok {
			pref = m.defaultRef
		}
	}

	if m.usable(pref.Provider) {
		return Selection{Provider: pref.Provider, Model: pref.Model}, nil
	}

	m.logger.Warn("preferred provider unusable, walking failover chain",
		"provider", pref.Provider, "user", userID)

	tried := map[string]bool{pref.Provider: true}
	for _, name := range m.failoverChain {
		if tried[name] {
			continue
		}
		tried[name] = true
		if sel, ok := m.fallback(name, pref); ok {
			return sel, nil
		}
	}
	// Chain exhausted: any remaining registered provider will do.
	for name := range m.providers {
		if tried[name] {
			continue
		}
		if sel, ok := m.fallback(name, pref); ok {
			return sel, nil
		}
	}
	return Selection{}, ErrAllProvidersUnavailable
}

// Chat dispatches a request to the named provider.
func (m *ProviderManager) Chat(ctx context.Context, name string, req ChatRequest) (ChatResponse, error) {
	m.mu.RLock()
	p, ok := m.providers[name]
	m.mu.RUnlock()
	if !ok {
		return ChatResponse{}, fmt.Errorf("unknown provider %q", name)
	}
	return p.Chat(ctx, req)
}

// usable reports whether name is registered and its breaker allows a call.
// Caller must hold m.mu.
func (m *ProviderManager) usable(name string) bool {
	b, ok := m.breakers[name]
	if !ok {
		return false
	}
	return b.CanExecute()
}

// fallback builds a failover Selection onto name, when usable. Caller must
// hold m.mu.
func (m *ProviderManager) fallback(name string, pref ModelRef) (Selection, bool) {
	if !m.usable(name) {
		return Selection{}, false
	}
	model := pref.Model
	if !slices.Contains(m.models[name], model) {
		if list := m.models[name]; len(list) > 0 {
			model = list[0]
		}
	}
	return Selection{
		Provider:         name,
		Model:            model,
		FailedOver:       true,
		OriginalProvider: pref.Provider,
	}, true
}
