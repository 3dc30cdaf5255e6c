// Package session holds the authenticated-participant slot of a caller.
//
// A Session is owned by whoever drives the ledger: one per connected client in
// the HTTP server, one per test in unit tests. It has no expiry of its own;
// Registry adds one for sessions that are reached through a token.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/xtrntr/energy-market/internal/models"
)

// ErrNoActiveSession is returned when signing out of an empty session.
var ErrNoActiveSession = errors.New("there is no logged-in participant")

// Session holds at most one participant snapshot.
type Session struct {
	mu          sync.RWMutex
	participant *models.Participant
}

// New returns an empty session.
func New() *Session {
	return &Session{}
}

// Set stores a copy of p as the authenticated participant, replacing any
// previous one.
func (s *Session) Set(p models.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participant = &p
}

// Clear signs the participant out.
func (s *Session) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.participant == nil {
		return ErrNoActiveSession
	}
	s.participant = nil
	return nil
}

// Current returns the snapshot, if any.
func (s *Session) Current() (models.Participant, bool) {
	if s == nil {
		return models.Participant{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.participant == nil {
		return models.Participant{}, false
	}
	return *s.participant, true
}

type entry struct {
	session   *Session
	expiresAt time.Time
}

// Registry maps session ids to sessions.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]entry
	now      func() time.Time
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]entry),
		now:      time.Now,
	}
}

// Put registers sess under id until expiresAt. Expired sessions are swept.
func (r *Registry) Put(id string, sess *Session, expiresAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for k, e := range r.sessions {
		if !now.Before(e.expiresAt) {
			delete(r.sessions, k)
		}
	}
	r.sessions[id] = entry{session: sess, expiresAt: expiresAt}
}

// Get returns the session for id. Expired sessions are removed.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	if !r.now().Before(e.expiresAt) {
		delete(r.sessions, id)
		return nil, false
	}
	return e.session, true
}

// Delete forgets the session for id.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Len returns the number of registered sessions, expired or not.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

type contextKey struct{}

// NewContext returns a copy of ctx carrying sess.
func NewContext(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, sess)
}

// FromContext returns the session carried by ctx.
func FromContext(ctx context.Context) (*Session, bool) {
	sess, ok := ctx.Value(contextKey{}).(*Session)
	return sess, ok && sess != nil
}
