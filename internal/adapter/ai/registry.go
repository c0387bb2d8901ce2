package ai

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skillsift/evalengine/internal/adapter/observability"
	"github.com/skillsift/evalengine/internal/domain"
)

const (
	// failureThreshold consecutive failures open a provider's block window.
	failureThreshold = 3
	baseBlockWindow  = 30 * time.Second
	maxBlockWindow   = 5 * time.Minute
)

// Registry implements domain.ProviderRegistry. It owns the fallback order,
// per-provider health counters, and temporary block windows. A provider that
// keeps failing is blocked for an exponentially growing window; a 429 blocks
// immediately for the upstream's Retry-After when one was sent.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]domain.ProviderAdapter
	configs  map[string]domain.ProviderConfig
	ordered  []string
	chain    []string
	states   map[string]*providerState
}

type providerState struct {
	successes           uint64
	failures            uint64
	consecutiveFailures int
	blockedUntil        time.Time
	blockWindow         time.Duration
}

// NewRegistry indexes the adapters and builds the fallback chain from
// priority. Only providers with a process-level credential join the chain;
// the rest stay selectable by explicit request. Unknown priority ids are
// rejected so typos surface at boot.
func NewRegistry(adapters []domain.ProviderAdapter, configs []domain.ProviderConfig, priority []string) (*Registry, error) {
	r := &Registry{
		adapters: make(map[string]domain.ProviderAdapter, len(adapters)),
		configs:  make(map[string]domain.ProviderConfig, len(configs)),
		states:   make(map[string]*providerState, len(configs)),
	}
	for _, a := range adapters {
		r.adapters[a.ID()] = a
	}
	for _, pc := range configs {
		if _, ok := r.adapters[pc.ID]; !ok {
			return nil, fmt.Errorf("%w: no adapter for provider %q", domain.ErrInvalidArgument, pc.ID)
		}
		r.configs[pc.ID] = pc
		r.ordered = append(r.ordered, pc.ID)
		r.states[pc.ID] = &providerState{}
	}
	for _, id := range priority {
		pc, ok := r.configs[id]
		if !ok {
			return nil, fmt.Errorf("%w: unknown provider %q in priority", domain.ErrInvalidArgument, id)
		}
		if pc.Configured {
			r.chain = append(r.chain, id)
		}
	}
	return r, nil
}

// Select returns the first usable provider: the explicitly requested one when
// given, then the configured chain in priority order. Excluded and currently
// blocked providers are skipped. When nothing remains the caller degrades.
func (r *Registry) Select(requestedID string, excluded map[string]bool) (domain.ProviderAdapter, domain.ProviderConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var candidates []string
	if requestedID != "" {
		if _, ok := r.configs[requestedID]; !ok {
			return nil, domain.ProviderConfig{}, fmt.Errorf("%w: unknown provider %q", domain.ErrInvalidArgument, requestedID)
		}
		candidates = append(candidates, requestedID)
	}
	for _, id := range r.chain {
		if id != requestedID {
			candidates = append(candidates, id)
		}
	}

	now := time.Now()
	for _, id := range candidates {
		if excluded[id] {
			continue
		}
		if st := r.states[id]; st.blockedUntil.After(now) {
			continue
		}
		if len(excluded) > 0 {
			observability.RecordFallback()
		}
		return r.adapters[id], r.configs[id], nil
	}
	return nil, domain.ProviderConfig{}, fmt.Errorf("%w: %d candidates, all excluded or blocked", domain.ErrProvidersExhausted, len(candidates))
}

// MarkSuccess resets the provider's failure streak and closes its block.
func (r *Registry) MarkSuccess(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[id]
	if !ok {
		return
	}
	st.successes++
	st.consecutiveFailures = 0
	st.blockedUntil = time.Time{}
	st.blockWindow = 0
}

// MarkFailure records one failed call. Rate limits block immediately for the
// upstream's Retry-After; other failures open the window only once the
// consecutive threshold is reached.
func (r *Registry) MarkFailure(id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[id]
	if !ok {
		return
	}
	st.failures++
	st.consecutiveFailures++

	now := time.Now()
	if errors.Is(err, domain.ErrUpstreamRateLimit) {
		window := domain.RetryAfterHint(err)
		if window <= 0 {
			window = baseBlockWindow
		}
		if window > maxBlockWindow {
			window = maxBlockWindow
		}
		st.blockedUntil = now.Add(window)
		slog.Warn("provider rate limited, blocking",
			slog.String("provider", id),
			slog.Duration("window", window))
		return
	}
	if st.consecutiveFailures >= failureThreshold {
		if st.blockWindow == 0 {
			st.blockWindow = baseBlockWindow
		} else {
			st.blockWindow *= 2
			if st.blockWindow > maxBlockWindow {
				st.blockWindow = maxBlockWindow
			}
		}
		st.blockedUntil = now.Add(st.blockWindow)
		slog.Warn("provider blocked after consecutive failures",
			slog.String("provider", id),
			slog.Int("consecutive_failures", st.consecutiveFailures),
			slog.Duration("window", st.blockWindow))
	}
}

// Health reports one row per known provider in catalog order.
func (r *Registry) Health() []domain.ProviderStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	out := make([]domain.ProviderStatus, 0, len(r.ordered))
	for _, id := range r.ordered {
		st := r.states[id]
		var blockedFor time.Duration
		if st.blockedUntil.After(now) {
			blockedFor = st.blockedUntil.Sub(now).Round(time.Second)
		}
		out = append(out, domain.ProviderStatus{
			ID:                  id,
			Available:           r.configs[id].Configured && blockedFor == 0,
			BlockedFor:          blockedFor,
			Successes:           st.successes,
			Failures:            st.failures,
			ConsecutiveFailures: st.consecutiveFailures,
		})
	}
	return out
}

// Config returns the static metadata for id.
func (r *Registry) Config(id string) (domain.ProviderConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pc, ok := r.configs[id]
	return pc, ok
}
