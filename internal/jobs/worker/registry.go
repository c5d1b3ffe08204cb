package worker

import "sync"

// Registry maps job types to processors. Registration happens during wiring;
// lookups happen on every claim.
type Registry struct {
	mu         sync.RWMutex
	processors map[string]Processor
}

func NewRegistry() *Registry {
	return &Registry{processors: make(map[string]Processor)}
}

func (r *Registry) Register(jobType string, p Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors[jobType] = p
}

func (r *Registry) Get(jobType string) (Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.processors[jobType]
	return p, ok
}
