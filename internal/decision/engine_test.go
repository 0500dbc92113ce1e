package decision

import (
	"testing"

	"github.com/voicegate-labs/voicegate/internal/config"
	"github.com/voicegate-labs/voicegate/internal/phrase"
)

func newTestEngine() *Engine {
	return NewEngine(config.DecisionConfig{
		ImposterBelow:   0.15,
		BorderlineBelow: 0.30,
		HighAt:          0.40,
	})
}

func phraseOK() phrase.MatchResult {
	return phrase.MatchResult{Ratio: 1.0, Matched: true, Decision: phrase.DecisionOK}
}

func phraseBorderline() phrase.MatchResult {
	return phrase.MatchResult{Ratio: 0.6, Matched: true, Decision: phrase.DecisionBorderline}
}

func phraseFail() phrase.MatchResult {
	return phrase.MatchResult{Ratio: 0.2, Matched: false, Decision: phrase.DecisionFail}
}

func TestHighBandGrants(t *testing.T) {
	res := newTestEngine().Decide(0.60, phraseOK())
	if res.Decision != OutcomeGrant || !res.Authenticated {
		t.Fatalf("expected GRANT, got %s (auth=%v)", res.Decision, res.Authenticated)
	}
	if res.Band != BandHigh {
		t.Fatalf("expected HIGH band, got %s", res.Band)
	}
}

func TestMediumBandGrants(t *testing.T) {
	res := newTestEngine().Decide(0.35, phraseBorderline())
	if res.Decision != OutcomeGrant || res.Band != BandMedium {
		t.Fatalf("expected GRANT in MEDIUM band, got %s in %s", res.Decision, res.Band)
	}
}

func TestImposterBandDeniesRegardlessOfPhrase(t *testing.T) {
	res := newTestEngine().Decide(0.10, phraseOK())
	if res.Decision != OutcomeDeny || res.Authenticated {
		t.Fatalf("expected DENY, got %s (auth=%v)", res.Decision, res.Authenticated)
	}
	if res.Band != BandImposter {
		t.Fatalf("expected IMPOSTER band, got %s", res.Band)
	}
}

func TestPhraseFailureIsAHardGate(t *testing.T) {
	for _, score := range []float64{0.05, 0.25, 0.35, 0.80} {
		res := newTestEngine().Decide(score, phraseFail())
		if res.Decision != OutcomeDeny || res.Authenticated {
			t.Fatalf("score %v: expected DENY on phrase failure, got %s", score, res.Decision)
		}
	}
}

func TestReviewBandWithStrongPhraseRechallenges(t *testing.T) {
	res := newTestEngine().Decide(0.20, phraseOK())
	if res.Decision != OutcomeRechallenge {
		t.Fatalf("expected RECHALLENGE, got %s", res.Decision)
	}
	if res.Authenticated {
		t.Fatal("a re-challenge must not authenticate")
	}
}

func TestReviewBandWithWeakPhraseDenies(t *testing.T) {
	res := newTestEngine().Decide(0.20, phraseBorderline())
	if res.Decision != OutcomeDeny {
		t.Fatalf("expected DENY, got %s", res.Decision)
	}
}

func TestMissingInputsKeepDistinctLabels(t *testing.T) {
	e := newTestEngine()
	if res := e.NotEnrolled(); res.Decision != OutcomeNotEnrolled || res.Band == BandImposter {
		t.Fatalf("not-enrolled must not collapse into a biometric band: %+v", res)
	}
	if res := e.Failure(); res.Decision != OutcomeError || res.Authenticated {
		t.Fatalf("collaborator failure must map to ERROR: %+v", res)
	}
}

func TestResultCarriesRawScores(t *testing.T) {
	res := newTestEngine().Decide(0.47, phraseBorderline())
	if res.SpeakerScore != 0.47 || res.PhraseScore != 0.6 {
		t.Fatalf("expected raw scores reported, got %+v", res)
	}
}
