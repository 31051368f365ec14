package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps sessions in a mutex-guarded map. State is lost on restart.
type MemoryStore struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	locks       *keyedMutex
	maxSessions int
	now         func() time.Time
}

type MemoryOption func(*MemoryStore)

// WithMaxSessions caps the number of sessions. When a new user arrives at the
// cap, the least recently seen idle session is dropped. Zero means no cap.
func WithMaxSessions(n int) MemoryOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.maxSessions = n
		}
	}
}

func WithNow(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		sessions: make(map[string]*Session),
		locks:    newKeyedMutex(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *MemoryStore) GetOrCreate(ctx context.Context, userID, today string) (Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if sess, ok := s.sessions[userID]; ok && !Expired(*sess, today) {
		sess.LastSeen = now
		return sess.Clone(), false, nil
	} else if !ok && s.maxSessions > 0 && len(s.sessions) >= s.maxSessions {
		s.evictOldestLocked()
	}

	sess := &Session{
		UserID:           userID,
		LastActivityDate: today,
		LastSeen:         now,
	}
	s.sessions[userID] = sess
	return sess.Clone(), true, nil
}

func (s *MemoryStore) RecordTurn(ctx context.Context, userID string, role Role, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[userID]
	if !ok {
		return ErrNotFound
	}
	sess.History = append(sess.History, Turn{Role: role, Text: text})
	sess.LastSeen = s.now()
	return nil
}

func (s *MemoryStore) IncrementAndCheckQuota(ctx context.Context, userID string, limit int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[userID]
	if !ok {
		return false, ErrNotFound
	}
	if !Allow(*sess, limit) {
		return false, nil
	}
	sess.RequestCount++
	return true, nil
}

func (s *MemoryStore) Touch(ctx context.Context, userID, today string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[userID]
	if !ok {
		return ErrNotFound
	}
	if Expired(*sess, today) {
		sess.LastActivityDate = today
	}
	sess.LastSeen = s.now()
	return nil
}

func (s *MemoryStore) SetDisplayName(ctx context.Context, userID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[userID]
	if !ok {
		return ErrNotFound
	}
	sess.DisplayName = name
	return nil
}

func (s *MemoryStore) Lock(ctx context.Context, userID string) (func(), error) {
	return s.locks.lock(ctx, userID)
}

func (s *MemoryStore) Evict(ctx context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[userID]; !ok {
		return false, nil
	}
	delete(s.sessions, userID)
	return true, nil
}

func (s *MemoryStore) EvictIdle(ctx context.Context, idle time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-idle)
	removed := 0
	for id, sess := range s.sessions {
		if sess.LastSeen.Before(cutoff) && !s.locks.busy(id) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Sessions: len(s.sessions)}
	for _, sess := range s.sessions {
		st.Turns += len(sess.History)
	}
	return st, nil
}

// evictOldestLocked drops the least recently seen session that is not in use.
// s.mu must be held.
func (s *MemoryStore) evictOldestLocked() {
	var (
		oldestID string
		oldest   time.Time
	)
	for id, sess := range s.sessions {
		if s.locks.busy(id) {
			continue
		}
		if oldestID == "" || sess.LastSeen.Before(oldest) {
			oldestID, oldest = id, sess.LastSeen
		}
	}
	if oldestID != "" {
		delete(s.sessions, oldestID)
	}
}
