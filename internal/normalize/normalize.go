// Package normalize provides pure text transforms that turn raw dictation
// transcripts into cleaned, medically consistent report text.
//
// All functions are stateless and deterministic. They accept and return
// plain text, never fail on empty input, and use ASCII case rules only.
// CleanTranscript is idempotent; ApplyMedicalCorrections is not guaranteed
// idempotent for dictionary entries whose canonical form differs only in
// case from their lookup key (see the package tests for the documented
// gap). Callers choose the order in which the transforms run; the
// dictation finalizer applies CleanTranscript at minimum before a
// transcript is persisted.
package normalize

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)

	// sentenceStart matches terminal punctuation followed by whitespace and
	// a lower-case letter, which CleanTranscript upper-cases.
	sentenceStart = regexp.MustCompile(`([.!?])\s+([a-z])`)

	// dimensionPhrase matches spoken or abbreviated two-axis measurements
	// such as "5 by 3 millimeter" or "5 x 3 mm".
	dimensionPhrase = regexp.MustCompile(`(?i)(\d+)\s*(?:by|x)\s*(\d+)\s*(millimeters?|centimeters?|mm|cm)`)

	millimeterWord = regexp.MustCompile(`(?i)\bmillimeters?\b`)
	centimeterWord = regexp.MustCompile(`(?i)\bcentimeters?\b`)
)

// CleanTranscript trims the text, collapses internal whitespace runs to
// single spaces, capitalizes sentence starts (the first letter of the text
// and the first letter following terminal punctuation), and ensures the
// text ends with terminal punctuation. Applying it twice yields the same
// result as applying it once.
func CleanTranscript(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	text = whitespaceRun.ReplaceAllString(text, " ")

	text = sentenceStart.ReplaceAllStringFunc(text, func(m string) string {
		return m[:len(m)-1] + strings.ToUpper(m[len(m)-1:])
	})

	// Capitalize the very first letter.
	r := []rune(text)
	r[0] = unicode.ToUpper(r[0])
	text = string(r)

	// Terminate the final sentence.
	switch text[len(text)-1] {
	case '.', '!', '?':
	default:
		text += "."
	}

	return text
}

// ApplyMedicalCorrections replaces misrecognized radiology terms with
// their canonical casing and spelling. Matching is case-insensitive and
// word-boundary-bounded so partial words are never corrupted; text outside
// dictionary hits is untouched.
func ApplyMedicalCorrections(text string) string {
	if text == "" {
		return ""
	}
	for _, c := range corrections {
		text = c.pattern.ReplaceAllString(text, c.canonical)
	}
	return text
}

// ParseMedicalMeasurements normalizes spoken measurement phrases into the
// canonical "NxM unit" token and standardizes unit spellings
// (millimeter(s) → mm, centimeter(s) → cm).
func ParseMedicalMeasurements(text string) string {
	if text == "" {
		return ""
	}
	text = dimensionPhrase.ReplaceAllString(text, "${1}x${2} ${3}")
	text = millimeterWord.ReplaceAllString(text, "mm")
	text = centimeterWord.ReplaceAllString(text, "cm")
	return text
}
