package phrase

import "strings"

// DefaultThreshold is the minimum match ratio counted as a phrase match.
const DefaultThreshold = 0.5

// StrongMatchRatio is the ratio at which a match is considered strong enough
// to warrant a re-challenge instead of a denial in the review band.
const StrongMatchRatio = 0.75

// Decision is the three-way phrase verdict.
type Decision string

const (
	DecisionOK         Decision = "ok"
	DecisionBorderline Decision = "borderline"
	DecisionFail       Decision = "fail"
)

// MatchResult is the outcome of scoring a transcript against a phrase.
type MatchResult struct {
	Ratio    float64
	Matched  bool
	Decision Decision
}

// Words the STT engine routinely swaps for one another. Entries are stored
// post-normalization, so "they're" appears as "theyre".
var soundAlikeGroups = [][]string{
	{"to", "two", "too"},
	{"for", "four"},
	{"one", "won"},
	{"their", "there", "theyre"},
	{"its"}, // "it's" normalizes to "its" already
	{"red", "read"},
	{"blue", "blew"},
	{"new", "knew"},
	{"ate", "eight"},
	{"sun", "son"},
}

var soundAlike = buildSoundAlikeIndex()

func buildSoundAlikeIndex() map[string]int {
	index := make(map[string]int)
	for group, words := range soundAlikeGroups {
		for _, w := range words {
			index[w] = group
		}
	}
	return index
}

// Match scores a noisy transcript against the expected phrase. It tolerates
// STT substitution errors and reordered function words, but consumes each
// transcript word at most once so a single clear word cannot satisfy several
// expected words.
func Match(transcript, expected string, threshold float64) (bool, float64) {
	spoken := tokenize(transcript)
	want := tokenize(expected)
	if len(spoken) == 0 || len(want) == 0 {
		return false, 0.0
	}

	consumed := make([]bool, len(spoken))
	matches := 0
	for _, w := range want {
		for i, s := range spoken {
			if consumed[i] {
				continue
			}
			if similar(w, s) {
				consumed[i] = true
				matches++
				break
			}
		}
	}

	ratio := float64(matches) / float64(len(want))

	// One missed word on a longer phrase is almost always the STT engine,
	// not the speaker.
	if len(want) >= 3 && matches >= len(want)-1 && ratio < StrongMatchRatio {
		ratio = StrongMatchRatio
	}

	return ratio >= threshold, ratio
}

// Evaluate wraps Match with the three-way decision used by the decision
// engine's stricter variant.
func Evaluate(transcript, expected string, threshold float64) MatchResult {
	matched, ratio := Match(transcript, expected, threshold)
	decision := DecisionFail
	switch {
	case ratio >= StrongMatchRatio:
		decision = DecisionOK
	case matched:
		decision = DecisionBorderline
	}
	return MatchResult{Ratio: ratio, Matched: matched, Decision: decision}
}

func similar(expected, candidate string) bool {
	if expected == candidate {
		return true
	}
	if strings.Contains(candidate, expected) || strings.Contains(expected, candidate) {
		return true
	}
	if g1, ok := soundAlike[expected]; ok {
		if g2, ok := soundAlike[candidate]; ok && g1 == g2 {
			return true
		}
	}
	if len(expected) > 2 && len(candidate) > 2 && absDiff(len(expected), len(candidate)) <= 2 {
		if overlapRatio(expected, candidate) >= 0.6 {
			return true
		}
	}
	return false
}

// overlapRatio counts expected characters present anywhere in the candidate,
// scaled by the longer word's length.
func overlapRatio(expected, candidate string) float64 {
	longer := len(expected)
	if len(candidate) > longer {
		longer = len(candidate)
	}
	if longer == 0 {
		return 0
	}
	overlap := 0
	for _, r := range expected {
		if strings.ContainsRune(candidate, r) {
			overlap++
		}
	}
	return float64(overlap) / float64(longer)
}

func tokenize(text string) []string {
	return strings.Fields(normalize(text))
}

func normalize(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', ',', '!', '?', '\'', ':', ';', '"':
			return -1
		}
		return r
	}, text)
}

func absDiff(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}
