package config

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/mockinterview/internal/speech"
	"github.com/MrWong99/mockinterview/internal/store"
)

// ErrNotRegistered is returned by Create* methods when no factory has been
// registered under the requested name.
var ErrNotRegistered = errors.New("config: component not registered")

// StoreFactory builds a session store from its config block.
type StoreFactory func(ctx context.Context, cfg StoreConfig) (store.Store, error)

// SpeechFactory builds a speech capability from its config block.
type SpeechFactory func(cfg SpeechConfig) (speech.Capability, error)

// Registry maps component names to constructor functions. It is safe for
// concurrent use.
type Registry struct {
	mu     sync.RWMutex
	stores map[StoreKind]StoreFactory
	speech map[string]SpeechFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stores: make(map[StoreKind]StoreFactory),
		speech: make(map[string]SpeechFactory),
	}
}

// RegisterStore registers a store factory under kind, replacing any earlier one.
func (r *Registry) RegisterStore(kind StoreKind, factory StoreFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[kind] = factory
}

// RegisterSpeech registers a speech capability factory under name.
func (r *Registry) RegisterSpeech(name string, factory SpeechFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.speech[name] = factory
}

// CreateStore instantiates the store selected by cfg.Kind.
// Returns [ErrNotRegistered] if no factory has been registered for it.
func (r *Registry) CreateStore(ctx context.Context, cfg StoreConfig) (store.Store, error) {
	r.mu.RLock()
	factory, ok := r.stores[cfg.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: store/%q", ErrNotRegistered, cfg.Kind)
	}
	return factory(ctx, cfg)
}

// CreateSpeech instantiates the speech capability selected by cfg.Name.
func (r *Registry) CreateSpeech(cfg SpeechConfig) (speech.Capability, error) {
	r.mu.RLock()
	factory, ok := r.speech[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: speech/%q", ErrNotRegistered, cfg.Name)
	}
	return factory(cfg)
}

// Names returns the sorted registered names per component kind, for startup
// logging.
func (r *Registry) Names() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := map[string][]string{}
	for k := range r.stores {
		out["store"] = append(out["store"], string(k))
	}
	for n := range r.speech {
		out["speech"] = append(out["speech"], n)
	}
	for _, v := range out {
		slices.Sort(v)
	}
	return out
}

// OptString extracts a string option. It returns "" when the map is nil, the
// key is absent, or the value is not a string.
func OptString(opts map[string]any, key string) string {
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
