// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package textnorm folds text into a canonical form for comparison.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize decomposes s (NFD), strips combining marks, lowercases, drops
// everything except letters, digits, whitespace and '.', collapses runs of
// whitespace to a single space and trims. It never fails; an empty input
// yields an empty string.
func Normalize(s string) string {
	if s == "" {
		return ""
	}

	// A fresh transformer per call: transform.Chain is not safe for
	// concurrent use.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.M)))
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || r == '.' {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Tokens returns the whitespace-separated tokens of Normalize(s).
func Tokens(s string) []string {
	return strings.Fields(Normalize(s))
}
