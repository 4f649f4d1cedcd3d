// Package conversation implements the multi-step plant registration flow and
// the text-triggered re-watering command.
package conversation

import (
	"sync"
	"time"

	"tg_plant_care_bot/internal/domain"
)

// Step identifies the current question of a registration conversation. The
// values are the step ids the original deployment stored, kept for log
// continuity.
type Step string

const (
	StepNickname       Step = "ask_apelido"
	StepScientificName Step = "ask_nome_cientifico"
	StepInterval       Step = "ask_intervalo"
	StepLastWatered    Step = "ask_ultima_rega"
	StepPhoto          Step = "ask_foto"
)

// DefaultSessionTTL is how long an idle conversation survives before being
// evicted. Abandoned flows must not accumulate for the life of the process.
const DefaultSessionTTL = 30 * time.Minute

// Session is the transient per-chat registration state. It lives only in
// process memory and is lost on restart.
type Session struct {
	Step        Step
	DefaultName string
	Draft       domain.Plant
	touchedAt   time.Time
}

// SessionStore holds at most one active conversation per chat id. Access is
// serialized by a mutex; entries idle past the TTL are evicted lazily on
// access and in bulk by PurgeStale.
type SessionStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[int64]*Session
	now      func() time.Time
}

// NewSessionStore constructs a store with the given idle TTL; a
// non-positive TTL falls back to DefaultSessionTTL.
func NewSessionStore(ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	return &SessionStore{
		ttl:      ttl,
		sessions: make(map[int64]*Session),
		now:      time.Now,
	}
}

// Get returns the chat's active session, evicting it first when it has been
// idle longer than the TTL.
func (s *SessionStore) Get(chatID int64) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[chatID]
	if !ok {
		return nil, false
	}
	if s.now().Sub(sess.touchedAt) > s.ttl {
		delete(s.sessions, chatID)
		return nil, false
	}

	return sess, true
}

// Put stores the chat's session and refreshes its idle timer.
func (s *SessionStore) Put(chatID int64, sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess.touchedAt = s.now()
	s.sessions[chatID] = sess
}

// Delete removes the chat's session, if any.
func (s *SessionStore) Delete(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, chatID)
}

// PurgeStale drops every session idle past the TTL and reports how many were
// removed.
func (s *SessionStore) PurgeStale() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for chatID, sess := range s.sessions {
		if now.Sub(sess.touchedAt) > s.ttl {
			delete(s.sessions, chatID)
			removed++
		}
	}

	return removed
}

// Len reports the number of active sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.sessions)
}
