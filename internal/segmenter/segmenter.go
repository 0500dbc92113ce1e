package segmenter

import (
	"fmt"
	"math"

	"github.com/voicegate-labs/voicegate/internal/config"
)

// Segmenter turns a stream of fixed-duration float32 PCM chunks into complete
// utterance segments using energy-based voice activity detection.
//
// A Segmenter is owned by a single producer: one instance per audio stream,
// chunks delivered in arrival order. It is not safe for concurrent use.
type Segmenter struct {
	threshold    float64
	chunkSamples int
	chunkMS      int
	silenceLimit int
	maxSpeechMS  int
	minSamples   int

	speaking      bool
	chunks        [][]float32
	silenceChunks int
}

func New(audio config.AudioConfig, cfg config.SegmenterConfig) *Segmenter {
	return &Segmenter{
		threshold:    cfg.VADThreshold,
		chunkSamples: audio.SampleRate * audio.ChunkDurationMS / 1000,
		chunkMS:      audio.ChunkDurationMS,
		silenceLimit: cfg.SilenceDurationMS / audio.ChunkDurationMS,
		maxSpeechMS:  cfg.MaxSpeechMS,
		minSamples:   audio.SampleRate * cfg.MinSpeechMS / 1000,
	}
}

// AddChunk consumes one chunk and returns a complete utterance segment, or
// nil while a segment is still accumulating. Chunk length is fixed per
// stream; a mismatched chunk is a caller bug and panics.
func (s *Segmenter) AddChunk(chunk []float32) []float32 {
	if len(chunk) != s.chunkSamples {
		panic(fmt.Sprintf("segmenter: chunk has %d samples, want %d", len(chunk), s.chunkSamples))
	}

	energy := rms(chunk)

	if energy > s.threshold {
		if !s.speaking {
			s.speaking = true
			s.chunks = s.chunks[:0]
		}
		s.chunks = append(s.chunks, append([]float32(nil), chunk...))
		s.silenceChunks = 0

		// Hard cutoff so a continuous talker cannot buffer unboundedly.
		if len(s.chunks)*s.chunkMS > s.maxSpeechMS {
			segment := concat(s.chunks)
			s.Reset()
			return segment
		}
		return nil
	}

	if !s.speaking {
		return nil
	}

	// Trailing silence is buffered so an emitted segment keeps its natural
	// tail-off, then stripped again at emission time.
	s.chunks = append(s.chunks, append([]float32(nil), chunk...))
	s.silenceChunks++
	if s.silenceChunks < s.silenceLimit {
		return nil
	}

	segment := concat(s.chunks[:len(s.chunks)-s.silenceLimit])
	s.Reset()
	if len(segment) < s.minSamples {
		// Noise burst, not an utterance.
		return nil
	}
	return segment
}

// Speaking reports whether the detector is currently inside an utterance.
func (s *Segmenter) Speaking() bool {
	return s.speaking
}

// Reset clears all buffered state.
func (s *Segmenter) Reset() {
	s.speaking = false
	s.chunks = nil
	s.silenceChunks = 0
}

func concat(chunks [][]float32) []float32 {
	var n int
	for _, c := range chunks {
		n += len(c)
	}
	out := make([]float32, 0, n)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

func rms(chunk []float32) float64 {
	if len(chunk) == 0 {
		return 0
	}
	var sum float64
	for _, sample := range chunk {
		v := float64(sample)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(chunk)))
}
