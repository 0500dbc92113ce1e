package stream

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"math"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicegate-labs/voicegate/internal/bus"
	"github.com/voicegate-labs/voicegate/internal/config"
	"github.com/voicegate-labs/voicegate/internal/natsserver"
)

func TestDecodePCMRoundTrip(t *testing.T) {
	want := []float32{0, 0.5, -0.5, 1, -1, 0.25}
	data := make([]byte, len(want)*4)
	for i, v := range want {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}

	got, err := DecodePCM(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestWaitReturnsAfterContextCancel(t *testing.T) {
	cfg := config.Default()
	cfg.Bus.Port = -1
	cfg.Bus.StoreDir = t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv, err := natsserver.Start(cfg.Bus, logger)
	if err != nil {
		t.Fatalf("start embedded server: %v", err)
	}
	defer srv.Shutdown()

	cfg.Bus.Servers = []string{srv.ClientURL()}
	busClient, err := bus.Connect(cfg.Bus, logger)
	if err != nil {
		t.Fatalf("connect bus: %v", err)
	}
	defer busClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewHandler(ctx, cfg.Audio, busClient, logger)

	ts := httptest.NewServer(h)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"user_id":"alice","session_id":"s1"}`)); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	// Let the server goroutine get past the handshake into its read loop.
	time.Sleep(100 * time.Millisecond)

	cancel()

	done := make(chan struct{})
	go func() {
		h.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after context cancel with a client connected")
	}
}

func TestDecodePCMRejectsPartialSamples(t *testing.T) {
	if _, err := DecodePCM(make([]byte, 6)); err == nil {
		t.Fatal("expected error for ragged payload")
	}
	if _, err := DecodePCM(nil); err == nil {
		t.Fatal("expected error for empty payload")
	}
}
