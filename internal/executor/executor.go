package executor

import (
	"context"
	"fmt"
	"sync"

	"driftsync/internal/models"
)

// Executor performs exactly one business mutation for an action and
// reports a classified outcome. Implementations enforce their own
// timeouts and report a transient outcome on timeout.
type Executor interface {
	Execute(ctx context.Context, action *models.Action) models.Outcome
}

// Func adapts a plain function into an Executor.
type Func func(ctx context.Context, action *models.Action) models.Outcome

func (f Func) Execute(ctx context.Context, action *models.Action) models.Outcome {
	return f(ctx, action)
}

// Registry dispatches actions to the executor registered for their kind,
// falling back to a default executor when set. This is the integration
// point between the engine and the surrounding application.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Executor
	fallback Executor
}

func NewRegistry(fallback Executor) *Registry {
	return &Registry{handlers: make(map[string]Executor), fallback: fallback}
}

// Register binds kind to ex, replacing any previous binding.
func (r *Registry) Register(kind string, ex Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = ex
}

func (r *Registry) Execute(ctx context.Context, action *models.Action) models.Outcome {
	r.mu.RLock()
	ex, ok := r.handlers[action.Kind]
	if !ok {
		ex = r.fallback
	}
	r.mu.RUnlock()

	if ex == nil {
		return models.Terminal(fmt.Sprintf("no executor registered for kind %q", action.Kind))
	}
	return ex.Execute(ctx, action)
}
