package worker

import (
	"context"
	"fmt"
	"sync"

	"shopfloor/pkg/models"
)

// Handler processes one job. A nil return finalizes the job as succeeded;
// an error sends it through the retry policy. Handlers must be safe to
// re-run: a crashed worker's job is reaped and claimed again.
type Handler func(ctx context.Context, job *models.Job) error

// Registry maps job types to handlers. Registration happens at startup;
// lookups are concurrent.
type Registry struct {
	mu       sync.RWMutex
	handlers map[models.JobType]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[models.JobType]Handler)}
}

// Register binds a handler to a job type. Re-registering a type replaces
// the previous handler.
func (r *Registry) Register(t models.JobType, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = h
}

// Resolve returns the handler for a job type.
func (r *Registry) Resolve(t models.JobType) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[t]
	if !ok {
		return nil, fmt.Errorf("no handler registered for job type %q", t)
	}
	return h, nil
}

// Types returns the registered job types.
func (r *Registry) Types() []models.JobType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.JobType, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	return out
}
