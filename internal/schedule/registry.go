// Package schedule keeps the process-local registry of scheduled tasks.
//
// The ops interface only operates on the current process; cross-process
// cancellation is done by editing the sheet.
package schedule

import (
	"io"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fairyhunter13/subfleet/internal/domain"
)

// Task is one scheduled ad-hoc transition or pending re-attempt.
type Task struct {
	ID        string                `json:"id"`
	Email     string                `json:"email"`
	Kind      domain.TransitionKind `json:"kind"`
	RunAt     time.Time             `json:"run_at"`
	CreatedAt time.Time             `json:"created_at"`
}

// Registry is a mutex-guarded in-memory task map. One task per account and
// kind: re-adding the same pair replaces the existing entry.
type Registry struct {
	mu      sync.Mutex
	tasks   map[string]Task
	byKey   map[string]string // email+kind → task id
	now     func() time.Time
	entropy io.Reader
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		tasks: make(map[string]Task),
		byKey: make(map[string]string),
		now:   time.Now,
		// Monotonic entropy keeps ids unique within the same millisecond.
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

// WithClock overrides the registry clock; used by tests.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// Add registers a task and returns its id, replacing any existing entry for
// the same account and kind.
func (r *Registry) Add(email string, kind domain.TransitionKind, runAt time.Time) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.upsert(email, kind, runAt)
}

// UpsertPendingRetry records the next pending re-attempt for an account,
// replacing any previous entry for the same account and kind.
func (r *Registry) UpsertPendingRetry(email string, kind domain.TransitionKind, runAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upsert(email, kind, runAt)
}

// upsert is the single write path; callers hold r.mu.
func (r *Registry) upsert(email string, kind domain.TransitionKind, runAt time.Time) string {
	key := email + "|" + string(kind)
	if id, ok := r.byKey[key]; ok {
		t := r.tasks[id]
		t.RunAt = runAt
		r.tasks[id] = t
		return id
	}
	now := r.now()
	id := ulid.MustNew(ulid.Timestamp(now), r.entropy).String()
	r.tasks[id] = Task{ID: id, Email: email, Kind: kind, RunAt: runAt, CreatedAt: now}
	r.byKey[key] = id
	return id
}

// List returns all tasks ordered by run time.
func (r *Registry) List() []Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunAt.Before(out[j].RunAt) })
	return out
}

// Cancel removes a task by id; returns false when it does not exist.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return false
	}
	delete(r.tasks, id)
	delete(r.byKey, t.Email+"|"+string(t.Kind))
	return true
}

// CancelAll clears the registry and returns how many tasks were dropped.
func (r *Registry) CancelAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.tasks)
	r.tasks = make(map[string]Task)
	r.byKey = make(map[string]string)
	return n
}
