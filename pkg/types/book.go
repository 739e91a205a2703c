// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the bookbuddy search service.
package types

import "strings"

// Book is a candidate item returned by the upstream catalog. Values are
// treated as immutable once constructed from upstream data; the ranker works
// on copies.
type Book struct {
	// ID is the upstream catalog identifier (a Google Books volume ID).
	ID string `json:"googleBooksId" yaml:"id"`

	Title         string   `json:"title" yaml:"title"`
	Authors       []string `json:"authors" yaml:"authors,omitempty"`
	Publisher     string   `json:"publisher,omitempty" yaml:"publisher,omitempty"`
	PublishedDate string   `json:"publishedDate,omitempty" yaml:"published_date,omitempty"`

	// Description is plain text; upstream HTML is stripped by the client.
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	PageCount   int      `json:"pageCount,omitempty" yaml:"page_count,omitempty"`
	Categories  []string `json:"categories,omitempty" yaml:"categories,omitempty"`

	// AverageRating is nil when the catalog reports no rating.
	AverageRating *float64 `json:"averageRating,omitempty" yaml:"average_rating,omitempty"`

	MaturityRating string `json:"maturityRating,omitempty" yaml:"maturity_rating,omitempty"`
	Thumbnail      string `json:"thumbnail,omitempty" yaml:"thumbnail,omitempty"`
	Language       string `json:"language,omitempty" yaml:"language,omitempty"`
	PreviewLink    string `json:"previewLink,omitempty" yaml:"preview_link,omitempty"`

	// Score is the relevance score assigned by the last ranking pass. It is
	// scratch state for one response and is never persisted.
	Score int `json:"-" yaml:"-"`
}

// Rating returns a pointer to r, for building books with a rating.
func Rating(r float64) *float64 { return &r }

// FieldScope selects which part of a book a query is matched against.
type FieldScope string

const (
	ScopeGeneral FieldScope = "general"
	ScopeTitle   FieldScope = "title"
	ScopeAuthor  FieldScope = "author"
	ScopeISBN    FieldScope = "isbn"
)

// ParseFieldScope lowercases and trims s. An empty value maps to
// ScopeGeneral; unknown values are kept as given so callers can pass them
// through unchanged.
func ParseFieldScope(s string) FieldScope {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ScopeGeneral
	}
	return FieldScope(s)
}
