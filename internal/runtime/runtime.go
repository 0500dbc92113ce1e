// Package runtime assembles the daemon: embedded bus, audit store, session
// store, collaborators, the verify and challenge services, and the HTTP
// surface for health, metrics, the stream gateway, and the challenge API.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voicegate-labs/voicegate/internal/auditstore"
	"github.com/voicegate-labs/voicegate/internal/bus"
	"github.com/voicegate-labs/voicegate/internal/challenge"
	"github.com/voicegate-labs/voicegate/internal/config"
	"github.com/voicegate-labs/voicegate/internal/decision"
	"github.com/voicegate-labs/voicegate/internal/natsserver"
	"github.com/voicegate-labs/voicegate/internal/phrase"
	"github.com/voicegate-labs/voicegate/internal/protocol"
	"github.com/voicegate-labs/voicegate/internal/session"
	"github.com/voicegate-labs/voicegate/internal/speaker"
	"github.com/voicegate-labs/voicegate/internal/stream"
	"github.com/voicegate-labs/voicegate/internal/stt"
	"github.com/voicegate-labs/voicegate/internal/verify"
)

const maxVerifyBody = 8 << 20

type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error

	embedded  *natsserver.EmbeddedServer
	busClient *bus.Client
	audit     *auditstore.Store
	store     *session.Store
	verifySvc *verify.Service
	challenge *challenge.Service
	gateway   *stream.Handler

	ready atomic.Bool
	wg    sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings up every component, serves until ctx is cancelled, then
// shuts everything down in reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	r.embedded = embedded

	busClient, err := bus.Connect(r.cfg.Bus, r.logger)
	if err != nil {
		r.embedded.Shutdown()
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	r.busClient = busClient

	audit, err := auditstore.Open(ctx, r.cfg.AuditStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open audit store: %w", err)
	}
	r.audit = audit

	r.store = session.NewStore(r.cfg.Challenge, phrase.NewGenerator())
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		interval := time.Duration(r.cfg.Challenge.SweepIntervalMS) * time.Millisecond
		r.store.RunSweeper(ctx, interval)
	}()

	verifier, err := buildVerifier(r.cfg)
	if err != nil {
		return fmt.Errorf("failed to build speaker verifier: %w", err)
	}
	transcriber, err := buildTranscriber(r.cfg)
	if err != nil {
		return fmt.Errorf("failed to build transcriber: %w", err)
	}

	engine := decision.NewEngine(r.cfg.Decision)

	r.verifySvc = verify.NewService(ctx, r.cfg, busClient, r.store, engine, verifier, transcriber, audit, r.logger)
	if err := r.verifySvc.Start(); err != nil {
		return fmt.Errorf("failed to start verify service: %w", err)
	}

	r.challenge = challenge.NewService(ctx, busClient, r.store, transcriber, audit, r.logger)
	if err := r.challenge.Start(); err != nil {
		return fmt.Errorf("failed to start challenge service: %w", err)
	}

	r.gateway = stream.NewHandler(ctx, r.cfg.Audio, busClient, r.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.Handle("/v1/stream", r.gateway)
	mux.HandleFunc("POST /v1/challenge/start", r.handleChallengeStart)
	mux.HandleFunc("GET /v1/challenge/{id}", r.handleChallengeStatus)
	mux.HandleFunc("POST /v1/verify/{id}", r.handleVerify)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	if metricHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricHandler)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("environment", r.cfg.Environment))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if r.metricsServer != nil {
		if err := r.metricsServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}
	r.gateway.Wait()
	r.challenge.Close()
	r.verifySvc.Close()
	r.busClient.Close()
	r.embedded.Shutdown()
	if err := r.audit.Close(); err != nil {
		r.logger.Error("audit store close error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func buildVerifier(cfg config.Config) (speaker.Verifier, error) {
	switch cfg.Speaker.Mode {
	case "exec":
		return speaker.NewExecVerifier(cfg.Speaker, cfg.Audio.SampleRate)
	default:
		return speaker.NewMockVerifier(cfg.Decision.HighAt), nil
	}
}

func buildTranscriber(cfg config.Config) (stt.Transcriber, error) {
	switch cfg.STT.Mode {
	case "exec":
		return stt.NewExecTranscriber(cfg.STT, cfg.Audio.SampleRate)
	default:
		return stt.NewMockTranscriber(""), nil
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.busClient.Healthy() && r.verifySvc.Healthy() && r.challenge.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleChallengeStart(w http.ResponseWriter, req *http.Request) {
	var body protocol.ChallengeRequest
	if err := json.NewDecoder(io.LimitReader(req.Body, 4<<10)).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, r.challenge.Issue(req.Context(), body.UserID))
}

func (r *Runtime) handleChallengeStatus(w http.ResponseWriter, req *http.Request) {
	status := r.challenge.Status(req.PathValue("id"))
	if !status.Found {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleVerify accepts a complete utterance as raw little-endian float32
// PCM and runs one verification attempt synchronously. It bypasses the
// segmenter; clients that stream chunked audio use the WebSocket gateway.
func (r *Runtime) handleVerify(w http.ResponseWriter, req *http.Request) {
	data, err := io.ReadAll(io.LimitReader(req.Body, maxVerifyBody))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	samples, err := stream.DecodePCM(data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	result := r.verifySvc.Evaluate(req.Context(), req.PathValue("id"), samples)
	if result.Decision == verify.DecisionSessionNotFound {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
