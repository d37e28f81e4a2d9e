package goAuthClient

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/sync/singleflight"
)

// EngineFactory builds the engine for appID.
type EngineFactory func(ctx context.Context, appID string) (*Engine, error)

// Registry maps app ids to engines. It is owned by the process entry point; there is no
// package-level registry. Concurrent GetOrCreate calls for one app id build one engine.
type Registry struct {
	factory EngineFactory

	mu      sync.RWMutex
	engines map[string]*Engine

	sf singleflight.Group
}

// NewRegistry returns an empty registry that builds engines with factory.
func NewRegistry(factory EngineFactory) *Registry {
	return &Registry{
		factory: factory,
		engines: make(map[string]*Engine),
	}
}

// Get returns the engine for appID. Engines closed outside the registry are ignored.
func (r *Registry) Get(appID string) (*Engine, bool) {
	r.mu.RLock()
	e, ok := r.engines[appID]
	r.mu.RUnlock()
	if !ok || e.closed.Load() {
		return nil, false
	}
	return e, true
}

// GetOrCreate returns the engine for appID, building it on first use.
func (r *Registry) GetOrCreate(ctx context.Context, appID string) (*Engine, error) {
	if appID == "" {
		return nil, ErrUnexpectedArguments
	}
	if e, ok := r.Get(appID); ok {
		return e, nil
	}
	if r.factory == nil {
		return nil, errors.New("registry has no engine factory")
	}

	v, err, _ := r.sf.Do(appID, func() (any, error) {
		if e, ok := r.Get(appID); ok {
			return e, nil
		}
		e, err := r.factory(ctx, appID)
		if err != nil {
			return nil, err
		}
		if e == nil {
			return nil, fmt.Errorf("engine factory returned no engine for app %q", appID)
		}

		r.mu.Lock()
		r.engines[appID] = e
		r.mu.Unlock()
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Engine), nil
}

// Remove closes and forgets the engine for appID. It reports whether one was registered.
func (r *Registry) Remove(appID string) bool {
	r.mu.Lock()
	e, ok := r.engines[appID]
	delete(r.engines, appID)
	r.mu.Unlock()

	if ok {
		e.Close()
	}
	return ok
}

// AppIDs returns the registered app ids in sorted order.
func (r *Registry) AppIDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.engines))
	for id := range r.engines {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

// Clear closes and forgets every engine.
func (r *Registry) Clear() {
	r.mu.Lock()
	engines := r.engines
	r.engines = make(map[string]*Engine)
	r.mu.Unlock()

	for _, e := range engines {
		e.Close()
	}
}
