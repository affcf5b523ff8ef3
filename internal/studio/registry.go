package studio

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"comic-studio/backend/pkg/cache"
	"comic-studio/backend/pkg/logger"
)

// ErrSessionNotFound is returned when no live or persisted session has the id
var ErrSessionNotFound = errors.New("session not found")

const DefaultSessionTTL = 2 * time.Hour

// Registry holds live sessions and evicts idle ones
type Registry struct {
	deps     Deps
	sessions *cache.Cache[*Session]
	log      *logger.Logger

	// serializes creation so concurrent requests share one session
	mu sync.Mutex
}

// NewRegistry creates a registry whose sessions expire after ttl without use
func NewRegistry(deps Deps, ttl, cleanupInterval time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if cleanupInterval <= 0 {
		cleanupInterval = ttl / 4
	}
	if deps.Logger == nil {
		deps.Logger = logger.GetGlobal()
	}

	r := &Registry{
		deps:     deps,
		sessions: cache.New[*Session](ttl, cleanupInterval),
		log:      deps.Logger.With("component", "session_registry"),
	}
	r.sessions.SetOnEvicted(func(id string, s *Session) {
		r.log.Debug("session evicted", "session_id", id)
		s.Close()
	})
	return r
}

// Create starts a new, empty session
func (r *Registry) Create() *Session {
	s := NewSession(uuid.NewString(), r.deps)
	r.sessions.Set(s.ID(), s)
	r.log.Info("session created", "session_id", s.ID())
	return s
}

// Get returns a live session or rehydrates it from its snapshot
func (r *Registry) Get(ctx context.Context, id string) (*Session, error) {
	if s, ok := r.lookup(id); ok {
		return s, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.lookup(id); ok {
		return s, nil
	}
	if r.deps.Snapshots == nil {
		return nil, ErrSessionNotFound
	}

	snap, err := r.deps.Snapshots.LoadSnapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, ErrSessionNotFound
	}

	s := NewSession(id, r.deps)
	s.Restore(snap)
	r.sessions.Set(id, s)
	r.log.Info("session restored", "session_id", id, "messages", len(snap.Messages), "generation", snap.Comic.Generation)
	return s, nil
}

// Open returns the session with id, creating an empty one if it is unknown
func (r *Registry) Open(ctx context.Context, id string) (*Session, error) {
	s, err := r.Get(ctx, id)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.lookup(id); ok {
		return s, nil
	}
	s = NewSession(id, r.deps)
	r.sessions.Set(id, s)
	r.log.Info("session opened", "session_id", id)
	return s, nil
}

// Delete closes and forgets a session
func (r *Registry) Delete(id string) {
	r.sessions.Delete(id)
}

// Count returns the number of live sessions
func (r *Registry) Count() int {
	return r.sessions.Count()
}

// Close closes every live session
func (r *Registry) Close() {
	for _, s := range r.sessions.Items() {
		s.Close()
	}
	r.sessions.Flush()
}

func (r *Registry) lookup(id string) (*Session, bool) {
	s, ok := r.sessions.Get(id)
	if ok {
		r.sessions.Touch(id)
	}
	return s, ok
}
