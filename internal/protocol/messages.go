package protocol

import "time"

// AudioFrame carries one fixed-duration block of float32 PCM for a stream.
// Frames for a session must be published in order by a single producer.
type AudioFrame struct {
	SessionID  string    `json:"session_id"`
	UserID     string    `json:"user_id"`
	Sequence   int       `json:"sequence"`
	SampleRate int       `json:"sample_rate"`
	Samples    []float32 `json:"samples"`
	Final      bool      `json:"final"`
}

// ChallengeRequest asks for a new challenge session.
type ChallengeRequest struct {
	UserID string `json:"user_id"`
}

// ChallengeIssued is the reply carrying the one-time phrase.
type ChallengeIssued struct {
	SessionID       string    `json:"session_id"`
	Phrase          string    `json:"phrase"`
	TrialsRemaining int       `json:"trials_remaining"`
	ExpiresAt       time.Time `json:"expires_at"`
	STTAvailable    bool      `json:"stt_available"`
}

// ChallengeStatusRequest looks up an existing session.
type ChallengeStatusRequest struct {
	SessionID string `json:"session_id"`
}

// ChallengeStatus is the reply for a status lookup.
type ChallengeStatus struct {
	Found           bool      `json:"found"`
	SessionID       string    `json:"session_id,omitempty"`
	UserID          string    `json:"user_id,omitempty"`
	Status          string    `json:"status,omitempty"`
	TrialsRemaining int       `json:"trials_remaining,omitempty"`
	ExpiresAt       time.Time `json:"expires_at,omitempty"`
}

// VerifyResult reports one completed verification attempt.
type VerifyResult struct {
	SessionID       string    `json:"session_id"`
	UserID          string    `json:"user_id"`
	Decision        string    `json:"decision"`
	Band            string    `json:"band"`
	Authenticated   bool      `json:"authenticated"`
	SpeakerScore    float64   `json:"speaker_score"`
	PhraseScore     float64   `json:"phrase_score"`
	PhraseMatch     bool      `json:"phrase_match"`
	Transcript      string    `json:"transcript"`
	TrialsRemaining int       `json:"trials_remaining"`
	LatencyMS       int64     `json:"latency_ms"`
	Timestamp       time.Time `json:"timestamp"`
}

const (
	SubjectAudioFramePrefix = "audio.frame"
	SubjectChallengeStart   = "auth.challenge.start"
	SubjectChallengeStatus  = "auth.challenge.status"
	SubjectVerifyResult     = "auth.result.final"
)
