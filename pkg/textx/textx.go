// Package textx provides small text utilities used across the project.
package textx

import (
	"strings"
	"unicode"
)

// SanitizeText removes control characters except tab/newline/CR and trims spaces.
func SanitizeText(s string) string {
	// strip control chars outside tab/newline/carriage return
	var b strings.Builder
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// Normalize lowercases s, replaces punctuation with spaces, and collapses
// whitespace runs to single spaces. Characters that carry meaning inside
// skill names (+ # . /) survive when embedded in a token, so "c++", "c#",
// "node.js", and "ci/cd" normalize to themselves.
func Normalize(s string) string {
	s = strings.ToLower(SanitizeText(s))
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s))
	for i, r := range runes {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '+' || r == '#':
			b.WriteRune(r)
		case r == '.' || r == '/':
			// keep only between alphanumerics ("node.js"), drop at edges
			if i > 0 && i < len(runes)-1 && isAlnum(runes[i-1]) && isAlnum(runes[i+1]) {
				b.WriteRune(r)
			} else {
				b.WriteRune(' ')
			}
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Tokens splits a normalized string into its space-separated tokens.
func Tokens(s string) []string {
	return strings.Fields(Normalize(s))
}

func isAlnum(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
