package core

import (
	"context"
	"fmt"
	"sync"
)

// ResourceFactory builds a named shared resource (store, embedder, LLM
// client, ...) from its configuration. Grounded on original_source's
// orka/registry.py ResourceRegistry, which dispatches construction by a
// string type tag (redis / sentence_transformer / openai / custom).
type ResourceFactory func(ctx context.Context, cfg map[string]interface{}) (interface{}, error)

// ResourceRegistry lazily and idempotently initializes shared resources
// named by string keys (spec §2 "Registry", §9 "Global mutable memory-store
// connection... all access flows through a connection-pool abstraction").
type ResourceRegistry struct {
	mu        sync.Mutex
	factories map[string]ResourceFactory
	configs   map[string]map[string]interface{}
	instances map[string]interface{}
	logger    Logger
}

// NewResourceRegistry builds an empty registry.
func NewResourceRegistry() *ResourceRegistry {
	return &ResourceRegistry{
		factories: make(map[string]ResourceFactory),
		configs:   make(map[string]map[string]interface{}),
		instances: make(map[string]interface{}),
		logger:    &NoOpLogger{},
	}
}

// SetLogger configures the logger used for initialization diagnostics.
func (r *ResourceRegistry) SetLogger(logger Logger) {
	if logger == nil {
		r.logger = &NoOpLogger{}
		return
	}
	if cal, ok := logger.(ComponentAwareLogger); ok {
		r.logger = cal.WithComponent("framework/registry")
		return
	}
	r.logger = logger
}

// Declare registers a named resource's factory and construction config
// without building it yet; construction happens lazily on first Get, or
// eagerly via InitializeAll.
func (r *ResourceRegistry) Declare(name string, factory ResourceFactory, cfg map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
	r.configs[name] = cfg
}

// Get returns the named resource, constructing it on first access. Repeat
// calls return the same instance (idempotent init, spec §8 round-trip
// property "calling initialize() twice is a no-op on the second call").
func (r *ResourceRegistry) Get(ctx context.Context, name string) (interface{}, error) {
	r.mu.Lock()
	if inst, ok := r.instances[name]; ok {
		r.mu.Unlock()
		return inst, nil
	}
	factory, ok := r.factories[name]
	if !ok {
		r.mu.Unlock()
		return nil, NewFrameworkError("registry.Get", KindConfiguration, fmt.Errorf("no resource factory declared for %q", name))
	}
	cfg := r.configs[name]
	r.mu.Unlock()

	inst, err := factory(ctx, cfg)
	if err != nil {
		return nil, NewFrameworkError("registry.Get", KindConfiguration, fmt.Errorf("initializing resource %q: %w", name, err))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another goroutine may have won the race; keep whichever was stored
	// first so every caller observes the same singleton instance.
	if existing, ok := r.instances[name]; ok {
		return existing, nil
	}
	r.instances[name] = inst
	r.logger.Info("resource initialized", map[string]interface{}{"resource": name})
	return inst, nil
}

// InitializeAll eagerly builds every declared resource, returning the first
// error encountered (construction order is declaration order is not
// guaranteed -- callers needing strict ordering should call Get explicitly).
func (r *ResourceRegistry) InitializeAll(ctx context.Context) error {
	r.mu.Lock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	r.mu.Unlock()

	for _, name := range names {
		if _, err := r.Get(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// Close releases any instance implementing io.Closer or Cleaner. A failing
// close does not stop the remaining resources from being released; Close
// returns the first such error and drops any later ones.
func (r *ResourceRegistry) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for name, inst := range r.instances {
		if closer, ok := inst.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("closing resource %q: %w", name, err)
			}
		} else if cleaner, ok := inst.(Cleaner); ok {
			if err := cleaner.Cleanup(ctx); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("cleaning up resource %q: %w", name, err)
			}
		}
		delete(r.instances, name)
	}
	return firstErr
}
