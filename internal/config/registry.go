package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/scrumscribe/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned by [Registry.CreateSTT] when no
// factory has been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// STTFactory builds one backend from the stt section.
type STTFactory func(cfg STTConfig) (stt.Backend, error)

// Registry maps backend names to their constructor functions. It is safe
// for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	stt map[string]STTFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{stt: make(map[string]STTFactory)}
}

// RegisterSTT registers a backend factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, factory STTFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// STTNames lists the registered backends in sorted order.
func (r *Registry) STTNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.stt))
	for n := range r.stt {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// CreateSTT builds the backend registered under name.
func (r *Registry) CreateSTT(name string, cfg STTConfig) (stt.Backend, error) {
	r.mu.RLock()
	factory, ok := r.stt[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt %q", ErrProviderNotRegistered, name)
	}
	b, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: create stt %q: %w", name, err)
	}
	return b, nil
}

// CreateSTTTiers builds every backend of cfg.Tiers in order.
func (r *Registry) CreateSTTTiers(cfg STTConfig) ([]stt.Backend, error) {
	out := make([]stt.Backend, 0, len(cfg.Tiers))
	for _, name := range cfg.Tiers {
		b, err := r.CreateSTT(name, cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}
