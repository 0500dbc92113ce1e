package decision

import (
	"github.com/voicegate-labs/voicegate/internal/config"
	"github.com/voicegate-labs/voicegate/internal/phrase"
)

// Band is the qualitative tier a raw similarity score falls into. A single
// cutoff is too brittle against microphone variance, so scores map onto
// calibrated ranges instead.
type Band string

const (
	BandHigh     Band = "HIGH"
	BandMedium   Band = "MEDIUM"
	BandReview   Band = "REVIEW"
	BandImposter Band = "IMPOSTER"
	BandNone     Band = ""
)

// Outcome is the final authorization verdict.
type Outcome string

const (
	OutcomeGrant       Outcome = "GRANT"
	OutcomeDeny        Outcome = "DENY"
	OutcomeRechallenge Outcome = "RECHALLENGE"
	OutcomeNotEnrolled Outcome = "USER_NOT_ENROLLED"
	OutcomeError       Outcome = "ERROR"
)

// Result carries the verdict plus both raw signals so callers can render
// differentiated messaging. Authenticated is the single authoritative
// boolean fed back into the session trial counter.
type Result struct {
	Decision      Outcome
	Band          Band
	Authenticated bool
	SpeakerScore  float64
	PhraseScore   float64
	PhraseMatch   bool
}

// Engine fuses a biometric similarity score with a phrase-match verdict.
// Stateless; safe for concurrent use.
type Engine struct {
	cfg config.DecisionConfig
}

func NewEngine(cfg config.DecisionConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Decide evaluates one verification attempt.
//
// The phrase is a hard gate: a failed phrase denies outright no matter how
// well the voice matched, since that is exactly what a replayed recording
// looks like. An ambiguous biometric score with a strong phrase match earns
// a re-challenge rather than a denial.
func (e *Engine) Decide(speakerScore float64, pm phrase.MatchResult) Result {
	band := e.band(speakerScore)
	res := Result{
		Band:         band,
		SpeakerScore: speakerScore,
		PhraseScore:  pm.Ratio,
		PhraseMatch:  pm.Matched,
	}

	switch {
	case !pm.Matched:
		res.Decision = OutcomeDeny
	case band == BandImposter:
		res.Decision = OutcomeDeny
	case band == BandHigh || band == BandMedium:
		res.Decision = OutcomeGrant
		res.Authenticated = true
	case pm.Decision == phrase.DecisionOK:
		res.Decision = OutcomeRechallenge
	default:
		res.Decision = OutcomeDeny
	}
	return res
}

// NotEnrolled reports that no voiceprint exists for the claimed user. This
// is deliberately distinct from IMPOSTER: "we could not evaluate" must never
// read as "we evaluated and rejected".
func (e *Engine) NotEnrolled() Result {
	return Result{Decision: OutcomeNotEnrolled, Band: BandNone}
}

// Failure reports that a collaborator call failed or timed out.
func (e *Engine) Failure() Result {
	return Result{Decision: OutcomeError, Band: BandNone}
}

func (e *Engine) band(score float64) Band {
	switch {
	case score >= e.cfg.HighAt:
		return BandHigh
	case score >= e.cfg.BorderlineBelow:
		return BandMedium
	case score >= e.cfg.ImposterBelow:
		return BandReview
	default:
		return BandImposter
	}
}
