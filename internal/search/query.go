// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"strings"

	"github.com/pdiddy/bookbuddy-search/pkg/types"
)

// BuildQuery maps free text and a field scope to the upstream query syntax.
// The text is trimmed; an empty result means "no results". Escaping is left
// to the transport.
func BuildQuery(raw string, scope types.FieldScope) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ""
	}
	switch types.FieldScope(strings.ToLower(string(scope))) {
	case types.ScopeTitle:
		return "intitle:" + text
	case types.ScopeAuthor:
		return "inauthor:" + text
	case types.ScopeISBN:
		isbn := isbnChars(text)
		if isbn == "" {
			return ""
		}
		return "isbn:" + isbn
	default:
		return text
	}
}

// isbnChars keeps digits and the X check character.
func isbnChars(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == 'X':
			b.WriteRune(r)
		case r == 'x':
			b.WriteRune('X')
		}
	}
	return b.String()
}
