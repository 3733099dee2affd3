package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/detectforge/runbookcore/core"
	"github.com/detectforge/runbookcore/model"
)

// Registry holds adapters keyed by name, plus a secondary index from
// action to the set of adapter names that support it. It also owns
// one CircuitBreaker per registered adapter.
type Registry struct {
	mu        sync.RWMutex
	adapters  map[string]Adapter
	byAction  map[model.Action]map[string]bool
	breakers  map[string]*CircuitBreaker
	cbConfig  CircuitBreakerConfig
	logger    core.Logger
}

// NewRegistry returns an empty registry. A single CircuitBreakerConfig
// governs every adapter registered through it.
func NewRegistry(cbConfig CircuitBreakerConfig, logger core.Logger) *Registry {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Registry{
		adapters: make(map[string]Adapter),
		byAction: make(map[model.Action]map[string]bool),
		breakers: make(map[string]*CircuitBreaker),
		cbConfig: cbConfig,
		logger:   logger,
	}
}

// Register initializes a adapter and adds it to both indices. The
// adapter's name must not already be registered.
func (r *Registry) Register(ctx context.Context, a Adapter, config map[string]interface{}) error {
	name := a.Name()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[name]; exists {
		return core.NewEngineError("adapter.Register", core.ComponentAdapter, core.ErrAdapterAlreadyExists).WithEntity(name)
	}

	if err := a.Initialize(ctx, config); err != nil {
		return core.NewEngineError("adapter.Register", core.ComponentAdapter, err).WithEntity(name)
	}

	r.adapters[name] = a
	r.breakers[name] = NewCircuitBreaker(name, r.cbConfig)
	for _, action := range a.SupportedActions() {
		if r.byAction[action] == nil {
			r.byAction[action] = make(map[string]bool)
		}
		r.byAction[action][name] = true
	}

	r.logger.Info("adapter registered", map[string]interface{}{"adapter": name, "actions": len(a.SupportedActions())})
	return nil
}

// Unregister calls the adapter's Shutdown and removes it from both
// indices, swallowing a shutdown failure after logging it.
func (r *Registry) Unregister(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.adapters[name]
	if !ok {
		return core.NewEngineError("adapter.Unregister", core.ComponentAdapter, core.ErrAdapterNotFound).WithEntity(name)
	}

	if err := a.Shutdown(ctx); err != nil {
		r.logger.Warn("adapter shutdown failed during unregister", map[string]interface{}{"adapter": name, "error": err.Error()})
	}

	delete(r.adapters, name)
	delete(r.breakers, name)
	for action, names := range r.byAction {
		delete(names, name)
		if len(names) == 0 {
			delete(r.byAction, action)
		}
	}
	return nil
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Breaker returns the circuit breaker governing the named adapter.
func (r *Registry) Breaker(name string) (*CircuitBreaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.breakers[name]
	return cb, ok
}

// AdaptersForAction lists every adapter name that declares support
// for action.
func (r *Registry) AdaptersForAction(action model.Action) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byAction[action]))
	for name := range r.byAction[action] {
		names = append(names, name)
	}
	return names
}

// HealthResult pairs an adapter name with its probe outcome.
type HealthResult struct {
	Adapter string
	Health  Health
}

// HealthCheckAll fans out HealthCheck to every registered adapter
// concurrently. An adapter whose probe panics or never returns within
// timeout is recorded as unhealthy rather than failing the whole call.
func (r *Registry) HealthCheckAll(ctx context.Context, timeout time.Duration) []HealthResult {
	r.mu.RLock()
	names := make([]string, 0, len(r.adapters))
	adapters := make([]Adapter, 0, len(r.adapters))
	for name, a := range r.adapters {
		names = append(names, name)
		adapters = append(adapters, a)
	}
	r.mu.RUnlock()

	results := make([]HealthResult, len(names))
	var wg sync.WaitGroup
	for i := range names {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = HealthResult{Adapter: names[i], Health: r.probeOne(ctx, names[i], adapters[i], timeout)}
		}(i)
	}
	wg.Wait()
	return results
}

func (r *Registry) probeOne(ctx context.Context, name string, a Adapter, timeout time.Duration) Health {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan Health, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- Health{Status: HealthUnhealthy, Message: fmt.Sprintf("panic: %v", rec), CheckedAt: time.Now()}
			}
		}()
		done <- a.HealthCheck(cctx)
	}()

	select {
	case h := <-done:
		return h
	case <-cctx.Done():
		return Health{Status: HealthUnhealthy, Message: "health check timed out", CheckedAt: time.Now()}
	}
}

// ShutdownAll calls Shutdown on every registered adapter, collecting
// but not aborting on per-adapter failures.
func (r *Registry) ShutdownAll(ctx context.Context) map[string]error {
	r.mu.Lock()
	defer r.mu.Unlock()

	errs := make(map[string]error)
	for name, a := range r.adapters {
		if err := a.Shutdown(ctx); err != nil {
			errs[name] = err
			r.logger.Warn("adapter shutdown failed", map[string]interface{}{"adapter": name, "error": err.Error()})
		}
	}
	return errs
}
