package transcribe

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

// DefaultLeakSimilarity is the similarity at or above which a transcription
// is treated as an echo of the prompt.
const DefaultLeakSimilarity = 0.85

// LeakGuard detects transcriptions that merely repeat the glossary prompt
// handed to the provider. Some models do this when a snippet holds no
// recognisable speech.
type LeakGuard struct {
	prompt    string
	threshold float64
}

// NewLeakGuard returns a guard for prompt. A threshold outside (0, 1] is
// replaced with [DefaultLeakSimilarity].
func NewLeakGuard(prompt string, threshold float64) *LeakGuard {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultLeakSimilarity
	}
	return &LeakGuard{prompt: normalize(prompt), threshold: threshold}
}

// IsEcho reports whether text is near-identical to the prompt. An empty
// prompt or empty text is never an echo.
func (g *LeakGuard) IsEcho(text string) bool {
	if g == nil || g.prompt == "" {
		return false
	}
	n := normalize(text)
	if n == "" {
		return false
	}
	return Similarity(n, g.prompt) >= g.threshold
}

// Similarity returns 1 - levenshtein(a, b) / max(len(a), len(b)), counted in
// runes. Two empty strings are identical.
func Similarity(a, b string) float64 {
	maxLen := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(matchr.Levenshtein(a, b))/float64(maxLen)
}

// normalize lowercases s, drops punctuation and symbols, and collapses runs
// of whitespace to one space.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			space = b.Len() > 0
			continue
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
