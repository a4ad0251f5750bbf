// Package session keeps conversation history for follow-up questions.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/newsgraph/helper"
	"github.com/siherrmann/newsgraph/model"
)

// Store is an in-memory session store. A session that was inactive for
// longer than the inactivity window starts over with an empty history.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
	config   model.SessionConfig
	logger   *slog.Logger
	now      func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty store.
func NewStore(config model.SessionConfig, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		sessions: map[string]*model.Session{},
		config:   config,
		logger:   helper.OrDiscard(logger).With(slog.String("component", "session")),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewID returns a fresh session id.
func NewID() string {
	return uuid.NewString()
}

// History returns a copy of the turns of session id, oldest first. Unknown
// and expired sessions have no history.
func (s *Store) History(id string) []model.Turn {
	if id == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.active(id)
	if session == nil {
		return nil
	}
	return append([]model.Turn(nil), session.Turns...)
}

// Append records turn, creating the session if needed. Only the newest
// MaxTurns turns are kept.
func (s *Store) Append(id string, turn model.Turn) {
	if id == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if turn.Timestamp.IsZero() {
		turn.Timestamp = now
	}
	session := s.active(id)
	if session == nil {
		session = &model.Session{ID: id, CreatedAt: now}
		s.sessions[id] = session
	}
	session.Turns = append(session.Turns, turn)
	if limit := s.config.MaxTurns; limit > 0 && len(session.Turns) > limit {
		session.Turns = append([]model.Turn(nil), session.Turns[len(session.Turns)-limit:]...)
	}
	session.LastActive = now
}

// Get returns a copy of session id.
func (s *Store) Get(id string) (*model.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.active(id)
	if session == nil {
		return nil, false
	}
	c := *session
	c.Turns = append([]model.Turn(nil), session.Turns...)
	return &c, true
}

// Reset forgets session id.
func (s *Store) Reset(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Evict drops every inactive session and returns how many were removed.
func (s *Store) Evict() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, session := range s.sessions {
		if s.expired(session) {
			delete(s.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debug("Evicted inactive sessions", slog.Int("count", removed))
	}
	return removed
}

// active returns the session if it exists and is not expired. Expired
// sessions are removed. Callers hold mu.
func (s *Store) active(id string) *model.Session {
	session, ok := s.sessions[id]
	if !ok {
		return nil
	}
	if s.expired(session) {
		delete(s.sessions, id)
		return nil
	}
	return session
}

func (s *Store) expired(session *model.Session) bool {
	window := s.config.InactivityWindow
	return window > 0 && s.now().Sub(session.LastActive) > window
}
