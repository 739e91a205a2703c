// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pdiddy/bookbuddy-search/pkg/types"
)

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		scope types.FieldScope
		want  string
	}{
		{"general passes through", "the left hand of darkness", types.ScopeGeneral, "the left hand of darkness"},
		{"title is trimmed", "  dune  ", types.ScopeTitle, "intitle:dune"},
		{"author", "Ursula K. Le Guin", types.ScopeAuthor, "inauthor:Ursula K. Le Guin"},
		{"isbn strips hyphens", "123-4-567", types.ScopeISBN, "isbn:1234567"},
		{"isbn keeps check character", "0-8044-2957-x", types.ScopeISBN, "isbn:080442957X"},
		{"isbn without digits", "not a number", types.ScopeISBN, ""},
		{"scope is case-insensitive", "dune", types.FieldScope("TITLE"), "intitle:dune"},
		{"unknown scope passes through", "dune", types.FieldScope("publisher"), "dune"},
		{"blank", "   ", types.ScopeTitle, ""},
		{"empty", "", types.ScopeGeneral, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildQuery(tt.raw, tt.scope))
		})
	}
}

func TestIsClientError(t *testing.T) {
	assert.True(t, IsClientError(ErrInvalidPaginationRequest))
	assert.True(t, IsClientError(ErrUnknownOrExpiredSession))
	assert.True(t, IsClientError(ErrSessionOwnershipMismatch))
	assert.False(t, IsClientError(ErrUpstreamUnavailable))
	assert.False(t, IsClientError(nil))
}
