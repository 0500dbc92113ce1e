package stt

import "context"

// Transcriber abstracts the external speech-to-text engine. An empty
// transcript is a valid result meaning no speech was recognized; callers
// treat it as an automatic phrase-match failure, not an error.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32, hint string) (string, error)
	Available() bool
}
