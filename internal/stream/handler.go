// Package stream bridges WebSocket clients onto the bus: inbound binary
// frames become audio.frame publications and verification results are
// pushed back over the same socket.
package stream

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"

	"github.com/voicegate-labs/voicegate/internal/bus"
	"github.com/voicegate-labs/voicegate/internal/config"
	"github.com/voicegate-labs/voicegate/internal/protocol"
)

const (
	writeTimeout   = 10 * time.Second
	maxFrameBytes  = 1 << 20
	controlFinal   = "final"
	handshakeLimit = 4 << 10
)

// Handshake is the first (text) message a client sends after connecting.
// The session must already exist; clients obtain one via the challenge API.
type Handshake struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

type control struct {
	Type string `json:"type"`
}

type Handler struct {
	cfg      config.AudioConfig
	bus      *bus.Client
	log      *slog.Logger
	upgrader websocket.Upgrader
	ctx      context.Context
	wg       sync.WaitGroup

	// Live connections, so shutdown can close them and unblock their read
	// loops. http.Server.Shutdown does not cover hijacked connections.
	mu      sync.Mutex
	conns   map[*websocket.Conn]struct{}
	closing bool
}

func NewHandler(ctx context.Context, cfg config.AudioConfig, busClient *bus.Client, logger *slog.Logger) *Handler {
	h := &Handler{
		cfg: cfg,
		bus: busClient,
		log: logger.With(slog.String("component", "stream")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients are expected to sit behind the deployment's
			// own proxy; origin policy belongs there.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		ctx:   ctx,
		conns: make(map[*websocket.Conn]struct{}),
	}
	go h.closeOnShutdown()
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", slogError(err))
		return
	}
	if !h.track(conn) {
		_ = conn.Close()
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer h.untrack(conn)
		defer conn.Close()
		if err := h.serve(conn); err != nil && h.ctx.Err() == nil {
			h.log.Debug("stream closed", slogError(err))
		}
	}()
}

// Wait blocks until all client connections have drained.
func (h *Handler) Wait() {
	h.wg.Wait()
}

func (h *Handler) track(conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.conns[conn] = struct{}{}
	return true
}

func (h *Handler) untrack(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, conn)
}

// closeOnShutdown closes every live connection once the handler context is
// cancelled. Closing is what unblocks a goroutine parked in ReadMessage.
func (h *Handler) closeOnShutdown() {
	<-h.ctx.Done()
	h.mu.Lock()
	h.closing = true
	for conn := range h.conns {
		_ = conn.Close()
	}
	h.mu.Unlock()
}

func (h *Handler) serve(conn *websocket.Conn) error {
	conn.SetReadLimit(handshakeLimit)
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read handshake: %w", err)
	}
	if msgType != websocket.TextMessage {
		return fmt.Errorf("handshake must be a text message")
	}
	var hs Handshake
	if err := json.Unmarshal(data, &hs); err != nil {
		return fmt.Errorf("decode handshake: %w", err)
	}
	if hs.UserID == "" || hs.SessionID == "" {
		return fmt.Errorf("handshake missing user_id or session_id")
	}
	conn.SetReadLimit(maxFrameBytes)

	h.log.Info("stream opened",
		slog.String("session", hs.SessionID),
		slog.String("user", hs.UserID))

	// Results for this session are relayed back over the socket. The
	// subscriber callback is the only writer besides close, but gorilla
	// connections allow one concurrent writer, so writes take writeMu.
	var writeMu sync.Mutex
	sub, err := h.bus.Conn().Subscribe(protocol.SubjectVerifyResult, func(msg *nats.Msg) {
		var result protocol.VerifyResult
		if err := json.Unmarshal(msg.Data, &result); err != nil {
			return
		}
		if result.SessionID != hs.SessionID {
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(result); err != nil {
			h.log.Warn("failed to push result", slog.String("session", hs.SessionID), slogError(err))
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe results: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	subject := protocol.SubjectAudioFramePrefix + "." + hs.SessionID
	sequence := 0

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if h.ctx.Err() != nil {
				// Shutdown closed the connection under us.
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}

		switch msgType {
		case websocket.BinaryMessage:
			samples, err := DecodePCM(data)
			if err != nil {
				h.log.Warn("bad audio frame", slog.String("session", hs.SessionID), slogError(err))
				continue
			}
			if err := h.publishFrame(subject, hs, sequence, samples, false); err != nil {
				return err
			}
			sequence++
		case websocket.TextMessage:
			var ctl control
			if err := json.Unmarshal(data, &ctl); err != nil {
				continue
			}
			if ctl.Type == controlFinal {
				if err := h.publishFrame(subject, hs, sequence, nil, true); err != nil {
					return err
				}
				sequence++
			}
		}
	}
}

func (h *Handler) publishFrame(subject string, hs Handshake, sequence int, samples []float32, final bool) error {
	frame := protocol.AudioFrame{
		SessionID:  hs.SessionID,
		UserID:     hs.UserID,
		Sequence:   sequence,
		SampleRate: h.cfg.SampleRate,
		Samples:    samples,
		Final:      final,
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if err := h.bus.Conn().Publish(subject, data); err != nil {
		return fmt.Errorf("publish frame: %w", err)
	}
	return nil
}

// DecodePCM interprets the payload as little-endian float32 mono PCM.
func DecodePCM(data []byte) ([]float32, error) {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, fmt.Errorf("payload length %d is not a whole number of float32 samples", len(data))
	}
	samples := make([]float32, len(data)/4)
	for i := range samples {
		bits := binary.LittleEndian.Uint32(data[i*4:])
		samples[i] = math.Float32frombits(bits)
	}
	return samples, nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
