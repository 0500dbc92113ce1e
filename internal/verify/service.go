package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/voicegate-labs/voicegate/internal/auditstore"
	"github.com/voicegate-labs/voicegate/internal/bus"
	"github.com/voicegate-labs/voicegate/internal/config"
	"github.com/voicegate-labs/voicegate/internal/decision"
	"github.com/voicegate-labs/voicegate/internal/phrase"
	"github.com/voicegate-labs/voicegate/internal/protocol"
	"github.com/voicegate-labs/voicegate/internal/segmenter"
	"github.com/voicegate-labs/voicegate/internal/session"
	"github.com/voicegate-labs/voicegate/internal/speaker"
	"github.com/voicegate-labs/voicegate/internal/stt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DecisionSessionNotFound reports a verification attempt against an absent
// or expired session. Not a biometric verdict, hence outside the engine's
// outcome set.
const DecisionSessionNotFound = "SESSION_NOT_FOUND"

// Service consumes audio frames from the bus, endpoints them into
// utterances, fans out to the speaker and STT collaborators, fuses the
// results, and publishes the verdict.
type Service struct {
	cfg         config.Config
	bus         *bus.Client
	log         *slog.Logger
	store       *session.Store
	engine      *decision.Engine
	verifier    speaker.Verifier
	transcriber stt.Transcriber
	audit       *auditstore.Store

	ctx    context.Context
	cancel context.CancelFunc
	sub    *nats.Subscription
	wg     sync.WaitGroup

	// One segmenter per stream; frames for a subscription arrive in order
	// on a single NATS dispatch goroutine, so each segmenter keeps its
	// single-producer discipline.
	mu      sync.Mutex
	streams map[string]*segmenter.Segmenter

	chunkSamples int
	decisions    metric.Int64Counter
	ready        bool
}

func NewService(parent context.Context, cfg config.Config, busClient *bus.Client, store *session.Store,
	engine *decision.Engine, verifier speaker.Verifier, transcriber stt.Transcriber,
	audit *auditstore.Store, logger *slog.Logger) *Service {

	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:          cfg,
		bus:          busClient,
		log:          logger.With(slog.String("component", "verify")),
		store:        store,
		engine:       engine,
		verifier:     verifier,
		transcriber:  transcriber,
		audit:        audit,
		ctx:          ctx,
		cancel:       cancel,
		streams:      make(map[string]*segmenter.Segmenter),
		chunkSamples: cfg.Audio.SampleRate * cfg.Audio.ChunkDurationMS / 1000,
	}
	s.initMetrics()
	return s
}

func (s *Service) initMetrics() {
	meter := otel.Meter("github.com/voicegate-labs/voicegate/verify")
	counter, err := meter.Int64Counter("voicegate.decisions",
		metric.WithDescription("Verification decisions by outcome"))
	if err != nil {
		s.log.Warn("failed to initialize decision counter", slogError(err))
		return
	}
	s.decisions = counter
}

func (s *Service) Start() error {
	subject := protocol.SubjectAudioFramePrefix + ".>"
	sub, err := s.bus.Conn().Subscribe(subject, s.handleFrame)
	if err != nil {
		return fmt.Errorf("subscribe audio frames: %w", err)
	}
	s.sub = sub
	s.ready = true
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return s.ready
}

func (s *Service) handleFrame(msg *nats.Msg) {
	var frame protocol.AudioFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		s.log.Warn("failed to decode audio frame", slogError(err))
		return
	}
	if frame.SessionID == "" {
		return
	}
	if !frame.Final && len(frame.Samples) != s.chunkSamples {
		s.log.Warn("dropping malformed frame",
			slog.String("session", frame.SessionID),
			slog.Int("samples", len(frame.Samples)),
			slog.Int("want", s.chunkSamples))
		return
	}

	s.mu.Lock()
	seg := s.streams[frame.SessionID]
	if seg == nil {
		seg = segmenter.New(s.cfg.Audio, s.cfg.Segmenter)
		s.streams[frame.SessionID] = seg
	}
	s.mu.Unlock()

	if frame.Final {
		s.mu.Lock()
		delete(s.streams, frame.SessionID)
		s.mu.Unlock()
		return
	}

	segment := seg.AddChunk(frame.Samples)
	if segment == nil {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		result := s.Evaluate(s.ctx, frame.SessionID, segment)
		s.publishResult(result)
	}()
}

// Evaluate runs one full verification attempt for a complete utterance:
// speaker scoring and transcription concurrently, then phrase matching,
// score fusion, and the session trial update.
func (s *Service) Evaluate(ctx context.Context, sessionID string, samples []float32) protocol.VerifyResult {
	start := time.Now()

	sess, ok := s.store.Get(sessionID)
	if !ok {
		return protocol.VerifyResult{
			SessionID: sessionID,
			Decision:  DecisionSessionNotFound,
			Timestamp: time.Now().UTC(),
		}
	}

	score, transcript, scoreErr, sttErr := s.callCollaborators(ctx, sess, samples)

	var res decision.Result
	switch {
	case errors.Is(scoreErr, speaker.ErrNotEnrolled):
		res = s.engine.NotEnrolled()
	case scoreErr != nil:
		s.log.Warn("speaker scoring failed", slog.String("session", sessionID), slogError(scoreErr))
		res = s.engine.Failure()
	case sttErr != nil:
		s.log.Warn("transcription failed", slog.String("session", sessionID), slogError(sttErr))
		res = s.engine.Failure()
	default:
		pm := phrase.Evaluate(transcript, sess.Phrase, s.cfg.Challenge.MatchThreshold)
		res = s.engine.Decide(score, pm)
	}

	trialsRemaining := sess.TrialsRemaining
	if countsAsTrial(res.Decision) {
		updated, err := s.store.RecordTrial(sessionID, res.Authenticated)
		if err != nil && !errors.Is(err, session.ErrTerminal) {
			s.log.Warn("trial update failed", slog.String("session", sessionID), slogError(err))
		}
		if err == nil || errors.Is(err, session.ErrTerminal) {
			trialsRemaining = updated.TrialsRemaining
		}
	}

	result := protocol.VerifyResult{
		SessionID:       sessionID,
		UserID:          sess.UserID,
		Decision:        string(res.Decision),
		Band:            string(res.Band),
		Authenticated:   res.Authenticated,
		SpeakerScore:    res.SpeakerScore,
		PhraseScore:     res.PhraseScore,
		PhraseMatch:     res.PhraseMatch,
		Transcript:      transcript,
		TrialsRemaining: trialsRemaining,
		LatencyMS:       time.Since(start).Milliseconds(),
		Timestamp:       time.Now().UTC(),
	}

	s.recordAudit(ctx, result)
	if s.decisions != nil {
		s.decisions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("decision", result.Decision)))
	}
	return result
}

// callCollaborators issues the speaker and STT calls concurrently; neither
// depends on the other and both are seconds-scale, so joining them halves
// end-to-end latency. Each gets its own timeout so a hung collaborator
// surfaces as an ERROR decision instead of a stuck session.
func (s *Service) callCollaborators(ctx context.Context, sess session.Session, samples []float32) (float64, string, error, error) {
	type scoreReply struct {
		score float64
		err   error
	}
	type textReply struct {
		text string
		err  error
	}

	scoreCh := make(chan scoreReply, 1)
	textCh := make(chan textReply, 1)

	go func() {
		sctx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.Speaker.TimeoutMS)*time.Millisecond)
		defer cancel()
		score, err := s.verifier.Score(sctx, samples, sess.UserID)
		scoreCh <- scoreReply{score: score, err: err}
	}()
	go func() {
		tctx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.STT.TimeoutMS)*time.Millisecond)
		defer cancel()
		text, err := s.transcriber.Transcribe(tctx, samples, "Say: "+sess.Phrase)
		textCh <- textReply{text: text, err: err}
	}()

	sc := <-scoreCh
	tr := <-textCh
	return sc.score, strings.TrimSpace(tr.text), sc.err, tr.err
}

func (s *Service) recordAudit(ctx context.Context, result protocol.VerifyResult) {
	if s.audit == nil {
		return
	}
	att := auditstore.Attempt{
		SessionID:    result.SessionID,
		UserID:       result.UserID,
		Decision:     result.Decision,
		Band:         result.Band,
		SpeakerScore: result.SpeakerScore,
		PhraseScore:  result.PhraseScore,
		Authorized:   result.Authenticated,
	}
	if err := s.audit.RecordAttempt(ctx, att); err != nil {
		s.log.Warn("audit write failed", slog.String("session", result.SessionID), slogError(err))
	}
}

func (s *Service) publishResult(result protocol.VerifyResult) {
	data, err := json.Marshal(result)
	if err != nil {
		s.log.Warn("failed to marshal verify result", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectVerifyResult, data); err != nil {
		s.log.Warn("failed to publish verify result", slogError(err))
	}
}

// countsAsTrial reports whether an outcome consumes one of the session's
// trials. Infrastructure outcomes (missing enrollment, collaborator errors)
// never do: a transient model failure must not corrupt session state.
func countsAsTrial(outcome decision.Outcome) bool {
	switch outcome {
	case decision.OutcomeGrant, decision.OutcomeDeny, decision.OutcomeRechallenge:
		return true
	}
	return false
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
