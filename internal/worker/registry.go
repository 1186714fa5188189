// Package worker supervises detached background tasks. A task's lifetime is
// tied to the registry rather than to the request that spawned it.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

var (
	ErrWorkerExists   = errors.New("worker already running")
	ErrWorkerNotFound = errors.New("worker not found")
	ErrRegistryClosed = errors.New("worker registry is shutting down")
)

// RecentLimit is how many finished handles stay reachable through Get and Cancel.
const RecentLimit = 128

// Task is the body of a detached worker. ctx is cancelled by Cancel or CancelAll.
type Task func(ctx context.Context) error

// Handle tracks one spawned task.
type Handle struct {
	ID        string
	StartedAt time.Time

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Done is closed once the task has returned.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the task's error. It is only meaningful after Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Running reports whether the task has not yet returned.
func (h *Handle) Running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Registry is a process-wide table of detached tasks keyed by id. Running
// tasks are kept until they return; after that only the last RecentLimit
// finished handles are remembered.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*Handle
	recent  []*Handle
	closed  bool
	wg      sync.WaitGroup
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*Handle)}
}

// Spawn starts task under id. The task runs on a context derived from
// context.Background, so it outlives whatever request triggered it.
// Panics inside the task are recovered and reported as its error.
func (r *Registry) Spawn(id string, task Task) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}
	if h, ok := r.handles[id]; ok && h.Running() {
		return nil, fmt.Errorf("%w: %s", ErrWorkerExists, id)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{ID: id, StartedAt: time.Now(), cancel: cancel, done: make(chan struct{})}
	r.handles[id] = h

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(h.done)
		defer r.retire(h)
		defer cancel()
		defer func() {
			if rec := recover(); rec != nil {
				log.Errorf("[Worker] Task %s panicked: %v", id, rec)
				h.err = fmt.Errorf("worker panic: %v", rec)
			}
		}()
		h.err = task(ctx)
		if h.err != nil {
			log.WithError(h.err).Debugf("[Worker] Task %s finished with error", id)
		}
	}()

	log.Debugf("[Worker] Spawned %s", id)
	return h, nil
}

// retire moves a returning task from the running table to the recent list.
func (r *Registry) retire(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handles[h.ID] == h {
		delete(r.handles, h.ID)
	}
	r.recent = append(r.recent, h)
	if over := len(r.recent) - RecentLimit; over > 0 {
		clear(r.recent[:over])
		r.recent = r.recent[over:]
	}
}

// lookupLocked finds a running or recently finished handle. r.mu must be held.
func (r *Registry) lookupLocked(id string) (*Handle, bool) {
	if h, ok := r.handles[id]; ok {
		return h, true
	}
	for i := len(r.recent) - 1; i >= 0; i-- {
		if r.recent[i].ID == id {
			return r.recent[i], true
		}
	}
	return nil, false
}

// Cancel requests cancellation of one task. Cancelling a finished task is a no-op.
func (r *Registry) Cancel(id string) error {
	r.mu.Lock()
	h, ok := r.lookupLocked(id)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrWorkerNotFound, id)
	}
	h.cancel()
	return nil
}

// CancelAll cancels every running task.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.handles {
		h.cancel()
	}
}

// Get returns the handle for a running or recently finished task.
func (r *Registry) Get(id string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookupLocked(id)
}

// Active returns the ids of tasks that are still running, oldest first.
func (r *Registry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var running []*Handle
	for _, h := range r.handles {
		if h.Running() {
			running = append(running, h)
		}
	}
	sort.Slice(running, func(i, j int) bool {
		return running[i].StartedAt.Before(running[j].StartedAt)
	})
	ids := make([]string, len(running))
	for i, h := range running {
		ids[i] = h.ID
	}
	return ids
}

// Wait blocks until every spawned task has returned or ctx is done.
// Once Wait is called no new tasks are accepted.
func (r *Registry) Wait(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
