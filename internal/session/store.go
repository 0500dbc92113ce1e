package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/voicegate-labs/voicegate/internal/config"
	"github.com/voicegate-labs/voicegate/internal/phrase"
)

// Status is the lifecycle state of a challenge session. Pending is the only
// state transitions occur from; the other three are terminal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusFailed   Status = "failed"
	StatusExpired  Status = "expired"
)

var (
	// ErrNotFound reports an absent or already-expired session id.
	ErrNotFound = errors.New("session not found")
	// ErrTerminal reports a trial against a session that already reached a
	// terminal state. The session is left untouched.
	ErrTerminal = errors.New("session already terminal")
)

// Session is one outstanding authentication attempt. Values returned by the
// store are copies; mutation happens only inside the store.
type Session struct {
	ID              string    `json:"session_id"`
	UserID          string    `json:"user_id"`
	Phrase          string    `json:"phrase"`
	TrialsRemaining int       `json:"trials_remaining"`
	Status          Status    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// Store is a concurrency-safe registry of challenge sessions. All state is
// in-memory; nothing survives the process.
type Store struct {
	cfg   config.ChallengeConfig
	gen   *phrase.Generator
	mu    sync.Mutex
	byID  map[string]*Session
	clock func() time.Time
}

func NewStore(cfg config.ChallengeConfig, gen *phrase.Generator) *Store {
	return &Store{
		cfg:   cfg,
		gen:   gen,
		byID:  make(map[string]*Session),
		clock: time.Now,
	}
}

// Create issues a new pending session with a fresh one-time phrase.
func (s *Store) Create(userID string) Session {
	now := s.clock()
	sess := &Session{
		ID:              uuid.NewString(),
		UserID:          userID,
		Phrase:          s.gen.GenerateN(s.cfg.MinWords, s.cfg.MaxWords),
		TrialsRemaining: s.cfg.MaxTrials,
		Status:          StatusPending,
		CreatedAt:       now,
		ExpiresAt:       now.Add(time.Duration(s.cfg.TTLSeconds) * time.Second),
	}

	s.mu.Lock()
	s.byID[sess.ID] = sess
	s.mu.Unlock()

	return *sess
}

// Get returns the session, applying lazy expiry: a pending session past its
// deadline flips to expired and is reported as not found, so a stale lookup
// can never hand back a usable session even before the sweeper runs.
func (s *Store) Get(id string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byID[id]
	if !ok {
		return Session{}, false
	}
	if s.expireLocked(sess) {
		return Session{}, false
	}
	return *sess, true
}

// RecordTrial applies one verification outcome. On success the session
// becomes verified; on failure the trial counter decrements and the session
// fails when it reaches zero. Both the decrement and the status transition
// happen under the store lock as one unit. A trial against a terminal
// session is a no-op and returns ErrTerminal.
func (s *Store) RecordTrial(id string, success bool) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byID[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	s.expireLocked(sess)
	if sess.Status != StatusPending {
		return *sess, ErrTerminal
	}

	if success {
		sess.Status = StatusVerified
	} else {
		sess.TrialsRemaining--
		if sess.TrialsRemaining <= 0 {
			sess.TrialsRemaining = 0
			sess.Status = StatusFailed
		}
	}
	return *sess, nil
}

// SweepExpired evicts every session past its deadline and returns how many
// were removed. Lazy expiry already keeps reads correct; the sweep only
// bounds memory.
func (s *Store) SweepExpired() int {
	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.byID {
		if now.After(sess.ExpiresAt) {
			delete(s.byID, id)
			removed++
		}
	}
	return removed
}

// RunSweeper periodically evicts expired sessions until ctx is done.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepExpired()
		}
	}
}

// Len reports the number of stored sessions, expired or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

func (s *Store) expireLocked(sess *Session) bool {
	if sess.Status == StatusPending && s.clock().After(sess.ExpiresAt) {
		sess.Status = StatusExpired
	}
	return sess.Status == StatusExpired
}
