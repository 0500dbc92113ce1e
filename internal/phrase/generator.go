package phrase

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Challenge phrases are built from short, common, easy-to-pronounce words so
// that both the user and the STT engine have a fair shot at them.
var (
	adjectives = []string{
		"red", "blue", "green", "happy", "fast", "slow", "big", "small",
		"bright", "dark", "cold", "hot", "soft", "hard", "new", "old",
	}
	nouns = []string{
		"cat", "dog", "bird", "tree", "house", "car", "book", "phone",
		"table", "chair", "door", "window", "river", "mountain", "sky", "moon",
	}
	verbs = []string{
		"runs", "jumps", "walks", "flies", "sits", "stands", "reads", "writes",
		"opens", "closes", "brings", "takes", "gives", "shows", "finds", "makes",
	}
	numbers = []string{
		"one", "two", "three", "four", "five", "six", "seven", "eight", "nine",
	}
)

// Generator produces random challenge phrases from template grammars. The
// phrase must be unpredictable to anyone who does not control the process,
// so selection uses crypto/rand throughout.
type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

// Generate returns a speakable random phrase. wordCount is clamped to [3, 5];
// larger counts unlock additional grammar templates.
func (g *Generator) Generate(wordCount int) string {
	if wordCount < 3 {
		wordCount = 3
	}
	if wordCount > 5 {
		wordCount = 5
	}

	patterns := []func() string{
		func() string { return pick(numbers) + " " + pick(adjectives) + " " + pick(nouns) },
		func() string { return pick(adjectives) + " " + pick(nouns) + " " + pick(verbs) },
		func() string { return pick(numbers) + " " + pick(nouns) + " " + pick(verbs) },
		func() string { return pick(adjectives) + " " + pick(adjectives) + " " + pick(nouns) },
	}
	if wordCount >= 4 {
		patterns = append(patterns,
			func() string {
				return pick(numbers) + " " + pick(adjectives) + " " + pick(nouns) + " " + pick(verbs)
			},
			func() string {
				return "the " + pick(adjectives) + " " + pick(nouns) + " " + pick(verbs)
			},
		)
	}
	if wordCount >= 5 {
		patterns = append(patterns,
			func() string {
				return pick(numbers) + " " + pick(adjectives) + " " + pick(nouns) + " " + pick(verbs) + " today"
			},
			func() string {
				return "my " + pick(adjectives) + " " + pick(nouns) + " " + pick(verbs) + " here"
			},
		)
	}

	return patterns[randomIndex(len(patterns))]()
}

// GenerateN returns a phrase with a word count drawn uniformly from
// [minWords, maxWords].
func (g *Generator) GenerateN(minWords, maxWords int) string {
	if maxWords < minWords {
		maxWords = minWords
	}
	return g.Generate(minWords + randomIndex(maxWords-minWords+1))
}

func pick(words []string) string {
	return words[randomIndex(len(words))]
}

func randomIndex(n int) int {
	if n <= 1 {
		return 0
	}
	idx, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		// crypto/rand failing means the process has no usable entropy
		// source; there is nothing sensible to fall back to.
		panic(fmt.Sprintf("phrase: crypto rand unavailable: %v", err))
	}
	return int(idx.Int64())
}
