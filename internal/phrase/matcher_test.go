package phrase

import "testing"

func TestMatchExact(t *testing.T) {
	ok, score := Match("five red birds", "five red birds", DefaultThreshold)
	if !ok || score != 1.0 {
		t.Fatalf("expected (true, 1.0), got (%v, %v)", ok, score)
	}
}

func TestMatchSubstring(t *testing.T) {
	// "bird" vs "birds" is the classic dropped-plural STT error.
	ok, score := Match("five red bird", "five red birds", DefaultThreshold)
	if !ok || score != 1.0 {
		t.Fatalf("expected (true, 1.0), got (%v, %v)", ok, score)
	}
}

func TestMatchCompletelyWrong(t *testing.T) {
	ok, score := Match("two blue cats", "five red birds", DefaultThreshold)
	if ok || score != 0.0 {
		t.Fatalf("expected (false, 0.0), got (%v, %v)", ok, score)
	}
}

func TestMatchEmptyTranscript(t *testing.T) {
	ok, score := Match("", "five red birds", DefaultThreshold)
	if ok || score != 0.0 {
		t.Fatalf("expected (false, 0.0), got (%v, %v)", ok, score)
	}
}

func TestMatchPunctuationAndCase(t *testing.T) {
	ok, score := Match("Five, red BIRDS!", "five red birds", DefaultThreshold)
	if !ok || score != 1.0 {
		t.Fatalf("expected (true, 1.0), got (%v, %v)", ok, score)
	}
}

func TestMatchSoundAlikes(t *testing.T) {
	ok, score := Match("too blew cats", "two blue cats", DefaultThreshold)
	if !ok || score != 1.0 {
		t.Fatalf("expected sound-alike match, got (%v, %v)", ok, score)
	}
}

func TestMatchLeniencyOnLongerPhrases(t *testing.T) {
	// One word fully missed out of four: ratio lifts to the strong-match
	// floor rather than 0.75 exactly by accident of arithmetic below it.
	ok, score := Match("three dogs jump", "three small dogs jump", DefaultThreshold)
	if !ok {
		t.Fatalf("expected match with one missed word, got score %v", score)
	}
	if score < StrongMatchRatio {
		t.Fatalf("expected leniency to raise score to at least %v, got %v", StrongMatchRatio, score)
	}
}

func TestMatchConsumesTranscriptWordsOnce(t *testing.T) {
	// A repeated clear word must not satisfy several expected words.
	ok, score := Match("red", "red red bird", DefaultThreshold)
	if ok {
		t.Fatalf("expected failure, got score %v", score)
	}
	if score >= 0.5 {
		t.Fatalf("single transcript word inflated the score: %v", score)
	}
}

func TestEvaluateDecisions(t *testing.T) {
	cases := []struct {
		transcript string
		expected   string
		decision   Decision
	}{
		{"five red birds", "five red birds", DecisionOK},
		{"five cats jump", "five red birds", DecisionFail},
		{"two blue cats", "five red birds", DecisionFail},
	}
	for _, tc := range cases {
		got := Evaluate(tc.transcript, tc.expected, DefaultThreshold)
		if got.Decision != tc.decision {
			t.Fatalf("Evaluate(%q, %q): expected %s, got %s (ratio %v)",
				tc.transcript, tc.expected, tc.decision, got.Decision, got.Ratio)
		}
	}
}
