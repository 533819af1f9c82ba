// Package session keeps the live workflow machines of the HTTP surface,
// keyed by random session IDs.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fpang/ai-virtual-stylist/internal/workflow"
)

// Session is one user's workflow.
type Session struct {
	ID        string
	Machine   *workflow.Machine
	CreatedAt time.Time
}

// Hook runs once for every new session, before it is visible to Get.
// Surfaces use it to attach observers.
type Hook func(*Session)

// Registry maps session IDs to sessions. It is safe for concurrent use.
type Registry struct {
	gen   workflow.Generator
	ttl   time.Duration
	hooks []Hook
	now   func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry returns a registry whose machines generate with gen. Sessions
// older than ttl become eligible for Sweep.
func NewRegistry(gen workflow.Generator, ttl time.Duration, hooks ...Hook) *Registry {
	return &Registry{
		gen:      gen,
		ttl:      ttl,
		hooks:    hooks,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Create starts a new Idle session.
func (r *Registry) Create() *Session {
	s := &Session{
		ID:        uuid.NewString(),
		Machine:   workflow.New(r.gen),
		CreatedAt: r.now(),
	}
	for _, h := range r.hooks {
		h(s)
	}

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	log.Debug().Str("sessionId", s.ID).Msg("Session created")
	return s
}

// Get returns the session with the given ID. Malformed IDs are not found.
func (r *Registry) Get(id string) (*Session, bool) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[parsed.String()]
	return s, ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep removes sessions created more than ttl before now, skipping any with
// a stage in flight, and returns the removed IDs.
func (r *Registry) Sweep(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for id, s := range r.sessions {
		if now.Sub(s.CreatedAt) < r.ttl {
			continue
		}
		if s.Machine.Snapshot().Phase.Pending() {
			continue
		}
		delete(r.sessions, id)
		removed = append(removed, id)
	}
	if len(removed) > 0 {
		log.Info().Int("removed", len(removed)).Int("remaining", len(r.sessions)).Msg("Expired sessions swept")
	}
	return removed
}

// RunSweeper calls Sweep every interval until ctx ends, passing the removed
// IDs to onRemove when it is non-nil.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration, onRemove func(id string)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range r.Sweep(r.now()) {
				if onRemove != nil {
					onRemove(id)
				}
			}
		}
	}
}
