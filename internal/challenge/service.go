// Package challenge exposes the session store over the bus: clients request
// a new challenge phrase and poll session status via NATS request/reply.
package challenge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/voicegate-labs/voicegate/internal/auditstore"
	"github.com/voicegate-labs/voicegate/internal/bus"
	"github.com/voicegate-labs/voicegate/internal/protocol"
	"github.com/voicegate-labs/voicegate/internal/session"
	"github.com/voicegate-labs/voicegate/internal/stt"
)

type Service struct {
	bus         *bus.Client
	log         *slog.Logger
	store       *session.Store
	transcriber stt.Transcriber
	audit       *auditstore.Store
	ctx         context.Context
	cancel      context.CancelFunc
	startSub    *nats.Subscription
	statusSub   *nats.Subscription
	wg          sync.WaitGroup
	ready       bool
}

func NewService(parent context.Context, busClient *bus.Client, store *session.Store,
	transcriber stt.Transcriber, audit *auditstore.Store, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		bus:         busClient,
		log:         logger.With(slog.String("component", "challenge")),
		store:       store,
		transcriber: transcriber,
		audit:       audit,
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (s *Service) Start() error {
	startSub, err := s.bus.Conn().Subscribe(protocol.SubjectChallengeStart, s.handleStart)
	if err != nil {
		return fmt.Errorf("subscribe challenge start: %w", err)
	}
	s.startSub = startSub

	statusSub, err := s.bus.Conn().Subscribe(protocol.SubjectChallengeStatus, s.handleStatus)
	if err != nil {
		_ = startSub.Drain()
		return fmt.Errorf("subscribe challenge status: %w", err)
	}
	s.statusSub = statusSub
	s.ready = true
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.startSub != nil {
		_ = s.startSub.Drain()
	}
	if s.statusSub != nil {
		_ = s.statusSub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return s.ready
}

func (s *Service) handleStart(msg *nats.Msg) {
	var req protocol.ChallengeRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.log.Warn("failed to decode challenge request", slogError(err))
		return
	}
	if req.UserID == "" {
		s.log.Warn("challenge request missing user id")
		return
	}

	issued := s.Issue(s.ctx, req.UserID)
	s.respond(msg, issued)
}

// Issue creates a fresh challenge session for the user. The phrase travels
// only in this reply; verification results never echo it back.
func (s *Service) Issue(ctx context.Context, userID string) protocol.ChallengeIssued {
	sess := s.store.Create(userID)

	if s.audit != nil {
		if err := s.audit.RecordSession(ctx, sess.ID, sess.UserID); err != nil {
			s.log.Warn("failed to record session", slog.String("session", sess.ID), slogError(err))
		}
	}

	s.log.Info("challenge issued",
		slog.String("session", sess.ID),
		slog.String("user", userID),
		slog.Int("trials", sess.TrialsRemaining))

	return protocol.ChallengeIssued{
		SessionID:       sess.ID,
		Phrase:          sess.Phrase,
		TrialsRemaining: sess.TrialsRemaining,
		ExpiresAt:       sess.ExpiresAt,
		STTAvailable:    s.transcriber != nil && s.transcriber.Available(),
	}
}

func (s *Service) handleStatus(msg *nats.Msg) {
	var req protocol.ChallengeStatusRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.log.Warn("failed to decode status request", slogError(err))
		return
	}
	s.respond(msg, s.Status(req.SessionID))
}

// Status reports the current state of a session without revealing its phrase.
func (s *Service) Status(sessionID string) protocol.ChallengeStatus {
	sess, ok := s.store.Get(sessionID)
	if !ok {
		return protocol.ChallengeStatus{Found: false}
	}
	return protocol.ChallengeStatus{
		Found:           true,
		SessionID:       sess.ID,
		UserID:          sess.UserID,
		Status:          string(sess.Status),
		TrialsRemaining: sess.TrialsRemaining,
		ExpiresAt:       sess.ExpiresAt,
	}
}

func (s *Service) respond(msg *nats.Msg, payload any) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("failed to marshal reply", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.log.Warn("failed to respond", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
