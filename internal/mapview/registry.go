package mapview

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultIdleTimeout is how long an untouched session is kept.
const DefaultIdleTimeout = 30 * time.Minute

type session struct {
	ctrl     *Controller
	lastUsed time.Time
}

// Registry holds the controllers of live map sessions keyed by id.
type Registry struct {
	deps Deps
	opts Options
	idle time.Duration
	now  func() time.Time

	mu       sync.Mutex
	sessions map[uuid.UUID]*session
}

// NewRegistry creates a registry. A non-positive idle selects
// DefaultIdleTimeout.
func NewRegistry(deps Deps, opts Options, idle time.Duration) *Registry {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	return &Registry{
		deps:     deps,
		opts:     opts,
		idle:     idle,
		now:      time.Now,
		sessions: make(map[uuid.UUID]*session),
	}
}

// Create starts a new session.
func (r *Registry) Create() (uuid.UUID, *Controller) {
	id := uuid.New()
	ctrl := NewController(r.deps, r.opts)

	r.mu.Lock()
	r.sessions[id] = &session{ctrl: ctrl, lastUsed: r.now()}
	r.mu.Unlock()
	return id, ctrl
}

// Get returns the session's controller and marks it used.
func (r *Registry) Get(id uuid.UUID) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	s.lastUsed = r.now()
	return s.ctrl, true
}

// Delete ends a session. It reports whether the session existed.
func (r *Registry) Delete(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Evict drops sessions idle for longer than the timeout and returns how
// many were removed.
func (r *Registry) Evict() int {
	cutoff := r.now().Add(-r.idle)

	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, s := range r.sessions {
		if s.lastUsed.Before(cutoff) {
			delete(r.sessions, id)
			n++
		}
	}
	return n
}

// Run evicts idle sessions every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = r.idle / 4
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Evict(); n > 0 {
				zap.L().Info("mapview: evicted idle sessions", zap.Int("evicted", n), zap.Int("live", r.Len()))
			}
		}
	}
}
