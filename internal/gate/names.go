package gate

import (
	"cmp"
	"slices"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85

	// minMatchRunes skips fuzzy matching of very short fragments, which
	// match almost anything.
	minMatchRunes = 3
)

// MatchOption is a functional option for configuring a [NameMatcher].
type MatchOption func(*NameMatcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched variant to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) MatchOption {
	return func(m *NameMatcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found. Default: 0.85.
func WithFuzzyThreshold(threshold float64) MatchOption {
	return func(m *NameMatcher) {
		m.fuzzyThreshold = threshold
	}
}

// NameMatcher decides whether an utterance addresses the assistant by one of
// its name variants. Transcribers mangle unusual names, so besides exact
// matches it accepts words that sound alike or are spelled alike, compared
// word by word against each variant.
//
// A NameMatcher is read-only after construction and safe for concurrent use.
type NameMatcher struct {
	// variants are lowercase, longest first so that specific variants match
	// before fragments.
	variants []string

	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewNameMatcher returns a matcher for names. Empty names are ignored.
func NewNameMatcher(names []string, opts ...MatchOption) *NameMatcher {
	m := &NameMatcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	for _, n := range names {
		v := strings.Join(tokenize(n), " ")
		if v == "" || slices.Contains(m.variants, v) {
			continue
		}
		m.variants = append(m.variants, v)
	}
	slices.SortStableFunc(m.variants, func(a, b string) int {
		return cmp.Compare(len(b), len(a))
	})
	return m
}

// Variants returns the normalized name variants, longest first.
func (m *NameMatcher) Variants() []string { return slices.Clone(m.variants) }

// Addressed reports whether text mentions one of the name variants and
// returns the variant it matched.
func (m *NameMatcher) Addressed(text string) (variant string, ok bool) {
	tokens := tokenize(text)
	if len(tokens) == 0 || len(m.variants) == 0 {
		return "", false
	}

	padded := " " + strings.Join(tokens, " ") + " "
	for _, v := range m.variants {
		if strings.Contains(padded, " "+v+" ") {
			return v, true
		}
	}

	// Windows one token shorter or longer than the variant cover names the
	// transcriber joined or split.
	for _, v := range m.variants {
		vt := strings.Fields(v)
		for size := max(len(vt)-1, 1); size <= len(vt)+1; size++ {
			for i := 0; i+size <= len(tokens); i++ {
				if _, ok := m.matchTokens(tokens[i:i+size], vt); ok {
					return v, true
				}
			}
		}
	}
	return "", false
}

// Match finds the variant most similar to phrase as a whole.
func (m *NameMatcher) Match(phrase string) (variant string, confidence float64, matched bool) {
	tokens := tokenize(phrase)
	if len(tokens) == 0 {
		return "", 0, false
	}
	for _, v := range m.variants {
		if score, ok := m.matchTokens(tokens, strings.Fields(v)); ok && score > confidence {
			variant, confidence, matched = v, score, true
		}
	}
	return variant, confidence, matched
}

// matchTokens compares a phrase with a variant. Equal token counts are
// aligned word by word and every pair must match; otherwise the joined
// strings are compared.
func (m *NameMatcher) matchTokens(in, variant []string) (float64, bool) {
	if len(in) == len(variant) {
		total := 0.0
		for i := range in {
			s, ok := m.matchWord(in[i], variant[i])
			if !ok {
				return 0, false
			}
			total += s
		}
		return total / float64(len(in)), true
	}
	return m.matchWord(strings.Join(in, ""), strings.Join(variant, ""))
}

// matchWord accepts a word that sounds like the target (shared Double
// Metaphone code and Jaro-Winkler above the phonetic threshold) or is spelled
// like it (Jaro-Winkler above the fuzzy threshold).
func (m *NameMatcher) matchWord(word, target string) (float64, bool) {
	if word == target {
		return 1, true
	}
	if len([]rune(word)) < minMatchRunes {
		return 0, false
	}
	score := matchr.JaroWinkler(word, target, false)
	if score >= m.phoneticThreshold && codesOverlap(codes(word), codes(target)) {
		return score, true
	}
	return score, score >= m.fuzzyThreshold
}

// tokenize lowercases s and splits it into words, treating punctuation as a
// separator.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r)
	})
}

// codes returns the non-empty Double Metaphone codes of word.
func codes(word string) map[string]struct{} {
	out := make(map[string]struct{}, 2)
	p, alt := matchr.DoubleMetaphone(word)
	if p != "" {
		out[p] = struct{}{}
	}
	if alt != "" {
		out[alt] = struct{}{}
	}
	return out
}

func codesOverlap(a, b map[string]struct{}) bool {
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
