package reconcile

import (
	"sync"

	"github.com/mainteno/fieldsync/internal/queue"
)

// Registry holds conflict observers. New-conflict callbacks fire once per
// surfaced Conflict with the full record; change callbacks fire whenever the
// conflict list's membership changes. All notification is synchronous.
type Registry struct {
	mu        sync.Mutex
	nextID    int
	conflicts map[int]func(queue.Conflict)
	changes   map[int]func(remaining int)
}

// NewRegistry creates an empty observer registry.
func NewRegistry() *Registry {
	return &Registry{
		conflicts: make(map[int]func(queue.Conflict)),
		changes:   make(map[int]func(int)),
	}
}

// Subscribe registers a new-conflict observer and returns its cancel func.
func (r *Registry) Subscribe(fn func(queue.Conflict)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.conflicts[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.conflicts, id)
	}
}

// SubscribeChange registers a conflict-list-change observer.
func (r *Registry) SubscribeChange(fn func(remaining int)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.changes[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.changes, id)
	}
}

func (r *Registry) notifyConflict(c queue.Conflict) {
	r.mu.Lock()
	fns := make([]func(queue.Conflict), 0, len(r.conflicts))
	for _, fn := range r.conflicts {
		fns = append(fns, fn)
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}

func (r *Registry) notifyChange(remaining int) {
	r.mu.Lock()
	fns := make([]func(int), 0, len(r.changes))
	for _, fn := range r.changes {
		fns = append(fns, fn)
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn(remaining)
	}
}
