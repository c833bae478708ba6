// Package phonetic snaps misheard dictation tokens onto a canonical
// radiology vocabulary using Double Metaphone phonetic encoding combined
// with Jaro-Winkler similarity for ranked candidate selection.
//
// The matcher works in two stages:
//
//  1. Phonetic candidate filtering: Double Metaphone codes are computed
//     for the input tokens and for each vocabulary term. Any code overlap
//     makes the term a candidate.
//  2. Jaro-Winkler ranking: among candidates, the term with the highest
//     similarity (case-insensitive) wins, provided it clears the phonetic
//     threshold. When no phonetic candidate exists, a stricter pure
//     similarity fallback is tried.
//
// Multi-word terms ("pleural effusion") are supported: Correct slides
// n-gram windows over the token stream so a two-word mishearing can be
// replaced by a two-word canonical term.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option configures a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a
// phonetically matched term to be accepted. Default: 0.70.
func WithPhoneticThreshold(t float64) Option {
	return func(m *Matcher) { m.phoneticThreshold = t }
}

// WithFuzzyThreshold sets the minimum score for the pure-similarity
// fallback used when no phonetic candidate is found. Default: 0.85.
func WithFuzzyThreshold(t float64) Option {
	return func(m *Matcher) { m.fuzzyThreshold = t }
}

// term is a vocabulary entry with its precomputed phonetic codes.
type term struct {
	canonical string
	lower     string
	tokens    []string
	codes     map[string]struct{}
}

// Matcher corrects dictation tokens against a fixed vocabulary. It is
// read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	terms             []term
	maxTermWords      int
}

// New builds a [Matcher] over vocabulary. Phonetic codes for every term
// are precomputed once here so Match and Correct stay allocation-light.
func New(vocabulary []string, opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	for _, v := range vocabulary {
		lower := strings.ToLower(strings.TrimSpace(v))
		if lower == "" {
			continue
		}
		tokens := strings.Fields(lower)
		m.terms = append(m.terms, term{
			canonical: v,
			lower:     lower,
			tokens:    tokens,
			codes:     codesForTokens(tokens),
		})
		if len(tokens) > m.maxTermWords {
			m.maxTermWords = len(tokens)
		}
	}
	return m
}

// Match finds the vocabulary term most phonetically similar to word.
// word may be a single token or a space-separated n-gram. When matched is
// false, corrected equals word unchanged and confidence is 0.
func (m *Matcher) Match(word string) (corrected string, confidence float64, matched bool) {
	wordLower := strings.ToLower(strings.TrimSpace(word))
	if wordLower == "" || len(m.terms) == 0 {
		return word, 0, false
	}
	wordTokens := strings.Fields(wordLower)
	inputCodes := codesForTokens(wordTokens)

	type candidate struct {
		canonical string
		score     float64
		phonetic  bool
	}
	var best candidate

	for _, t := range m.terms {
		phoneticMatch := codesOverlap(inputCodes, t.codes)
		score := bestJWScore(wordTokens, t.tokens, wordLower, t.lower)

		if phoneticMatch {
			if score >= m.phoneticThreshold && (!best.phonetic || score > best.score) {
				best = candidate{canonical: t.canonical, score: score, phonetic: true}
			}
		} else if !best.phonetic && score >= m.fuzzyThreshold && score > best.score {
			best = candidate{canonical: t.canonical, score: score, phonetic: false}
		}
	}

	if best.canonical == "" {
		return word, 0, false
	}
	// Exact hits are not corrections.
	if strings.EqualFold(best.canonical, word) {
		return word, 0, false
	}
	return best.canonical, best.score, true
}

// Correct runs the matcher over every token of text, testing n-gram
// windows up to the longest vocabulary term so that multi-word terms take
// precedence over partial single-word matches. It returns the corrected
// text and the number of substitutions made.
func (m *Matcher) Correct(text string) (string, int) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 || m.maxTermWords == 0 {
		return text, 0
	}

	var out []string
	replaced := 0

	i := 0
	for i < len(tokens) {
		maxN := m.maxTermWords
		if i+maxN > len(tokens) {
			maxN = len(tokens) - i
		}

		matched := false
		for n := maxN; n >= 1; n-- {
			window := strings.Join(tokens[i:i+n], " ")
			canonical, _, ok := m.Match(window)
			if !ok {
				continue
			}
			out = append(out, strings.Fields(canonical)...)
			replaced++
			i += n
			matched = true
			break
		}
		if !matched {
			out = append(out, tokens[i])
			i++
		}
	}

	return strings.Join(out, " "), replaced
}

// codesForTokens returns the union of Double Metaphone codes for tokens.
// Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap reports whether the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore computes the highest Jaro-Winkler similarity between the
// input and the term, comparing the full strings and the space-stripped
// concatenations. Per-token comparisons are deliberately excluded: one
// shared token must not let an otherwise unrelated n-gram window win.
func bestJWScore(inputTokens, termTokens []string, inputFull, termFull string) float64 {
	score := matchr.JaroWinkler(inputFull, termFull, false)

	if len(inputTokens) > 1 || len(termTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(inputTokens, ""), strings.Join(termTokens, ""), false); s > score {
			score = s
		}
	}

	return score
}
