package session

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voicegate-labs/voicegate/internal/config"
	"github.com/voicegate-labs/voicegate/internal/phrase"
)

func testConfig() config.ChallengeConfig {
	return config.ChallengeConfig{
		MaxTrials:      3,
		TTLSeconds:     300,
		MinWords:       3,
		MaxWords:       5,
		MatchThreshold: 0.5,
	}
}

func newTestStore() *Store {
	return NewStore(testConfig(), phrase.NewGenerator())
}

func TestCreateIssuesPendingSession(t *testing.T) {
	s := newTestStore()
	sess := s.Create("u1")

	if sess.ID == "" {
		t.Fatal("expected non-empty session id")
	}
	if sess.UserID != "u1" {
		t.Fatalf("expected user u1, got %q", sess.UserID)
	}
	if sess.Status != StatusPending {
		t.Fatalf("expected pending, got %s", sess.Status)
	}
	if sess.TrialsRemaining != 3 {
		t.Fatalf("expected 3 trials, got %d", sess.TrialsRemaining)
	}
	if n := len(strings.Fields(sess.Phrase)); n < 3 || n > 5 {
		t.Fatalf("expected 3-5 word phrase, got %q", sess.Phrase)
	}
	if got := sess.ExpiresAt.Sub(sess.CreatedAt); got != 5*time.Minute {
		t.Fatalf("expected 5 minute ttl, got %v", got)
	}
	if other := s.Create("u1"); other.ID == sess.ID {
		t.Fatal("expected unique session ids")
	}
}

func TestThreeFailedTrialsTerminalize(t *testing.T) {
	s := newTestStore()
	sess := s.Create("u1")

	for i := 3; i > 1; i-- {
		got, err := s.RecordTrial(sess.ID, false)
		if err != nil {
			t.Fatalf("trial %d: unexpected error: %v", i, err)
		}
		if got.Status != StatusPending {
			t.Fatalf("trial %d: expected still pending, got %s", i, got.Status)
		}
		if got.TrialsRemaining != i-1 {
			t.Fatalf("trial %d: expected %d remaining, got %d", i, i-1, got.TrialsRemaining)
		}
	}

	got, err := s.RecordTrial(sess.ID, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusFailed || got.TrialsRemaining != 0 {
		t.Fatalf("expected failed with 0 trials, got %s with %d", got.Status, got.TrialsRemaining)
	}

	// A further trial is a no-op against the terminal session.
	got, err = s.RecordTrial(sess.ID, true)
	if !errors.Is(err, ErrTerminal) {
		t.Fatalf("expected ErrTerminal, got %v", err)
	}
	if got.Status != StatusFailed || got.TrialsRemaining != 0 {
		t.Fatalf("terminal session mutated: %s with %d", got.Status, got.TrialsRemaining)
	}
}

func TestSuccessfulTrialVerifies(t *testing.T) {
	s := newTestStore()
	sess := s.Create("u1")

	got, err := s.RecordTrial(sess.ID, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusVerified {
		t.Fatalf("expected verified, got %s", got.Status)
	}

	if _, err := s.RecordTrial(sess.ID, false); !errors.Is(err, ErrTerminal) {
		t.Fatalf("expected ErrTerminal after verification, got %v", err)
	}
}

func TestRecordTrialUnknownSession(t *testing.T) {
	s := newTestStore()
	if _, err := s.RecordTrial("nope", true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLazyExpiryOnGet(t *testing.T) {
	s := newTestStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.clock = func() time.Time { return now }

	sess := s.Create("u1")
	if _, ok := s.Get(sess.ID); !ok {
		t.Fatal("expected session before expiry")
	}

	now = now.Add(5*time.Minute + time.Second)
	if _, ok := s.Get(sess.ID); ok {
		t.Fatal("expected expired session to be reported missing")
	}

	// The flip is sticky: the stored record is terminal now.
	got, err := s.RecordTrial(sess.ID, true)
	if !errors.Is(err, ErrTerminal) {
		t.Fatalf("expected ErrTerminal on expired session, got %v", err)
	}
	if got.Status != StatusExpired {
		t.Fatalf("expected expired status, got %s", got.Status)
	}
}

func TestSweepExpiredBoundsMemory(t *testing.T) {
	s := newTestStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.clock = func() time.Time { return now }

	s.Create("u1")
	s.Create("u2")
	now = now.Add(6 * time.Minute)
	fresh := s.Create("u3")

	if removed := s.SweepExpired(); removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 session left, got %d", s.Len())
	}
	if _, ok := s.Get(fresh.ID); !ok {
		t.Fatal("fresh session should survive the sweep")
	}
}

func TestConcurrentTrialsStayConsistent(t *testing.T) {
	s := newTestStore()
	sess := s.Create("u1")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.RecordTrial(sess.ID, false)
		}()
	}
	wg.Wait()

	got, err := s.RecordTrial(sess.ID, false)
	if !errors.Is(err, ErrTerminal) {
		t.Fatalf("expected terminal session, got err %v", err)
	}
	if got.TrialsRemaining != 0 {
		t.Fatalf("trials went negative or stuck: %d", got.TrialsRemaining)
	}
	if got.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
}
