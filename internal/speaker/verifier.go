package speaker

import (
	"context"
	"errors"
)

// ErrNotEnrolled reports that no voiceprint exists for the claimed user.
// Callers must keep this distinct from scoring failures.
var ErrNotEnrolled = errors.New("no voiceprint enrolled for user")

// Verifier scores a live utterance against a user's stored voiceprint.
// Implementations wrap the external embedding model; the core never touches
// embeddings directly, only the similarity score in [-1, 1].
type Verifier interface {
	Score(ctx context.Context, samples []float32, userID string) (float64, error)
	Available() bool
}
