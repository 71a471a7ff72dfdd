package jobs

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
)

// task is the live supervising goroutine of one job
type task struct {
	cancel context.CancelFunc
	done   chan struct{}
	pid    atomic.Int64
}

// registry tracks at most one task per job id
type registry struct {
	mu     sync.Mutex
	tasks  map[string]*task
	closed bool
}

func newRegistry() *registry {
	return &registry{tasks: make(map[string]*task)}
}

// add registers t unless the id is already tracked or the registry is closed
func (r *registry) add(id string, t *task) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	if _, exists := r.tasks[id]; exists {
		return false
	}
	r.tasks[id] = t
	return true
}

func (r *registry) get(id string) *task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tasks[id]
}

func (r *registry) remove(id string, t *task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tasks[id] == t {
		delete(r.tasks, id)
	}
}

func (r *registry) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.tasks))
	for id := range r.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// close refuses new tasks and returns the live ones
func (r *registry) close() []*task {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	live := make([]*task, 0, len(r.tasks))
	for _, t := range r.tasks {
		live = append(live, t)
	}
	return live
}
