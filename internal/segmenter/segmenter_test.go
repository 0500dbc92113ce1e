package segmenter

import (
	"testing"

	"github.com/voicegate-labs/voicegate/internal/config"
)

func newTestSegmenter() *Segmenter {
	audio := config.AudioConfig{SampleRate: 16000, Channels: 1, ChunkDurationMS: 100}
	cfg := config.SegmenterConfig{
		VADThreshold:      0.01,
		SilenceDurationMS: 300,
		MaxSpeechMS:       3000,
		MinSpeechMS:       300,
	}
	return New(audio, cfg)
}

func loudChunk() []float32 {
	chunk := make([]float32, 1600)
	for i := range chunk {
		chunk[i] = 0.1
	}
	return chunk
}

func quietChunk() []float32 {
	return make([]float32, 1600)
}

func TestQuietStreamNeverEmits(t *testing.T) {
	s := newTestSegmenter()
	for i := 0; i < 100; i++ {
		if seg := s.AddChunk(quietChunk()); seg != nil {
			t.Fatalf("chunk %d: unexpected segment of %d samples", i, len(seg))
		}
		if s.Speaking() {
			t.Fatalf("chunk %d: detector should stay silent", i)
		}
	}
}

func TestForcedEmissionAtMaxDuration(t *testing.T) {
	s := newTestSegmenter()
	// 30 chunks == 3000ms == max duration: nothing emits yet.
	for i := 0; i < 30; i++ {
		if seg := s.AddChunk(loudChunk()); seg != nil {
			t.Fatalf("chunk %d: premature emission", i)
		}
	}
	// The chunk that pushes past the cutoff forces emission of everything.
	seg := s.AddChunk(loudChunk())
	if seg == nil {
		t.Fatal("expected forced emission past max duration")
	}
	if len(seg) != 31*1600 {
		t.Fatalf("expected 31 chunks (%d samples), got %d", 31*1600, len(seg))
	}
	if s.Speaking() {
		t.Fatal("detector should reset after forced emission")
	}
}

func TestSilenceEndpointExcludesTrailingChunks(t *testing.T) {
	s := newTestSegmenter()
	for i := 0; i < 5; i++ {
		if seg := s.AddChunk(loudChunk()); seg != nil {
			t.Fatalf("chunk %d: premature emission", i)
		}
	}
	if seg := s.AddChunk(quietChunk()); seg != nil {
		t.Fatal("one silent chunk should not end the segment")
	}
	if seg := s.AddChunk(quietChunk()); seg != nil {
		t.Fatal("two silent chunks should not end the segment")
	}
	seg := s.AddChunk(quietChunk())
	if seg == nil {
		t.Fatal("expected emission after silence limit")
	}
	if len(seg) != 5*1600 {
		t.Fatalf("expected trailing silence excluded (%d samples), got %d", 5*1600, len(seg))
	}
}

func TestShortSilenceGapContinuesAccumulating(t *testing.T) {
	s := newTestSegmenter()
	for i := 0; i < 5; i++ {
		s.AddChunk(loudChunk())
	}
	// Two quiet chunks, below the three-chunk limit, then speech resumes.
	s.AddChunk(quietChunk())
	s.AddChunk(quietChunk())
	if seg := s.AddChunk(loudChunk()); seg != nil {
		t.Fatal("resumed speech should keep accumulating")
	}
	if !s.Speaking() {
		t.Fatal("detector should still be speaking")
	}
	for i := 0; i < 2; i++ {
		s.AddChunk(quietChunk())
	}
	seg := s.AddChunk(quietChunk())
	if seg == nil {
		t.Fatal("expected emission after full silence window")
	}
	// Interior pause chunks stay inside the segment.
	if len(seg) != 8*1600 {
		t.Fatalf("expected 8 chunks (%d samples), got %d", 8*1600, len(seg))
	}
}

func TestShortBurstDiscarded(t *testing.T) {
	s := newTestSegmenter()
	s.AddChunk(loudChunk())
	s.AddChunk(loudChunk())
	s.AddChunk(quietChunk())
	s.AddChunk(quietChunk())
	if seg := s.AddChunk(quietChunk()); seg != nil {
		t.Fatalf("200ms burst below min duration should be discarded, got %d samples", len(seg))
	}
	if s.Speaking() {
		t.Fatal("detector should reset after discarding a burst")
	}
}

func TestMalformedChunkPanics(t *testing.T) {
	s := newTestSegmenter()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for malformed chunk size")
		}
	}()
	s.AddChunk(make([]float32, 7))
}
