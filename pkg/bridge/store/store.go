// Package store owns the in-memory map of conversation sessions. It is the
// only mutable state shared between the HTTP surface and the relays.
package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vozlab/voicebridge/pkg/bridge/agents"
)

// Status of a conversation session. Transitions are strictly
// initializing → active → ended; setting the current status again is a no-op.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusActive       Status = "active"
	StatusEnded        Status = "ended"
)

var (
	ErrNotFound      = errors.New("session not found")
	ErrBadTransition = errors.New("invalid status transition")
)

// Session is the logical record of one call, independent of any transport
// connection. Values returned by the store are copies.
type Session struct {
	ID           string
	Agent        agents.Agent
	CallerPhone  string
	CallerName   string
	Language     string
	Status       Status
	Custom       map[string]any
	CreatedAt    time.Time
	LastActivity time.Time
}

// Store is a mutex-guarded session map. Safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	now      func() time.Time
}

func New() *Store {
	return &Store{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Create inserts a new session with status initializing and returns its id.
type CreateParams struct {
	Agent       agents.Agent
	CallerPhone string
	CallerName  string
	Language    string
	Custom      map[string]any
}

func (s *Store) Create(p CreateParams) Session {
	id := uuid.NewString()
	now := s.now()

	language := p.Language
	if language == "" {
		language = p.Agent.Language
	}

	sess := &Session{
		ID:           id,
		Agent:        p.Agent,
		CallerPhone:  p.CallerPhone,
		CallerName:   p.CallerName,
		Language:     language,
		Status:       StatusInitializing,
		Custom:       p.Custom,
		CreatedAt:    now,
		LastActivity: now,
	}

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	return *sess
}

// Get returns a copy of the session, or ErrNotFound.
func (s *Store) Get(id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *sess, nil
}

// SetStatus applies a transition. Only initializing→active and
// {initializing,active}→ended are accepted; same-state sets are no-ops.
func (s *Store) SetStatus(id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if sess.Status == status {
		return nil
	}
	if !validTransition(sess.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, sess.Status, status)
	}
	sess.Status = status
	sess.LastActivity = s.now()
	return nil
}

func validTransition(from, to Status) bool {
	switch from {
	case StatusInitializing:
		return to == StatusActive || to == StatusEnded
	case StatusActive:
		return to == StatusEnded
	default:
		return false
	}
}

// Touch refreshes the session's activity timestamp.
func (s *Store) Touch(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.LastActivity = s.now()
	}
}

// Delete removes the session, reporting whether it existed.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	return true
}

// ActiveCount counts sessions that have not ended.
func (s *Store) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sess := range s.sessions {
		if sess.Status != StatusEnded {
			n++
		}
	}
	return n
}

// Len returns the total number of entries, ended included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Reap removes sessions idle for longer than maxIdle and returns their ids so
// callers can cancel any relay still bridging for them.
func (s *Store) Reap(maxIdle time.Duration) []string {
	cutoff := s.now().Add(-maxIdle)

	s.mu.Lock()
	defer s.mu.Unlock()
	var reaped []string
	for id, sess := range s.sessions {
		if sess.LastActivity.Before(cutoff) {
			delete(s.sessions, id)
			reaped = append(reaped, id)
		}
	}
	return reaped
}
