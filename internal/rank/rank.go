// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package rank orders candidate books against a free-text query using
// tokenized, fuzzy, per-field weighted matching.
package rank

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/pdiddy/bookbuddy-search/internal/textnorm"
	"github.com/pdiddy/bookbuddy-search/pkg/types"
)

// maxEditDistance is the Levenshtein threshold for a fuzzy match.
const maxEditDistance = 2

// Weights holds the per-field multipliers for one field scope.
type Weights struct {
	Title       int
	Author      int
	Description int
}

var weightsByScope = map[types.FieldScope]Weights{
	types.ScopeTitle:   {Title: 3, Author: 1, Description: 2},
	types.ScopeAuthor:  {Title: 0, Author: 5, Description: 1},
	types.ScopeISBN:    {Title: 2, Author: 1, Description: 0},
	types.ScopeGeneral: {Title: 2, Author: 2, Description: 1},
}

// WeightsFor returns the weights for scope, matched case-insensitively.
// Unknown scopes get the general weights.
func WeightsFor(scope types.FieldScope) Weights {
	if w, ok := weightsByScope[types.FieldScope(strings.ToLower(string(scope)))]; ok {
		return w
	}
	return weightsByScope[types.ScopeGeneral]
}

// collectionWords are whole-word markers of a multi-volume title.
var collectionWords = map[string]bool{
	"complete":   true,
	"collection": true,
	"companion":  true,
	"omnibus":    true,
}

// collectionTitle reports whether a normalized title contains a collection
// word or the pair "box set". Words are maximal runs of letters and digits.
func collectionTitle(title string) bool {
	words := strings.FieldsFunc(title, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for i, w := range words {
		if collectionWords[w] {
			return true
		}
		if w == "box" && i+1 < len(words) && words[i+1] == "set" {
			return true
		}
	}
	return false
}

// anthologyPhrases mark compilations; matching any of them costs a single
// penalty per book.
var anthologyPhrases = []string{
	"complete collection", "complete series", "box set", "boxed set",
	"omnibus", "companion", "anthology", "includes all", "set of",
	"books 1", "books one", "the entire series", "collection of",
}

// Rank scores every book against rawQuery and returns copies sorted by
// descending score. Ties keep input order. The input slice is returned
// unchanged when it is empty or the query is blank.
func Rank(books []types.Book, rawQuery string, scope types.FieldScope) []types.Book {
	if len(books) == 0 || strings.TrimSpace(rawQuery) == "" {
		return books
	}
	q := newQuery(rawQuery, scope)
	if q.text == "" {
		return books
	}

	ranked := make([]types.Book, len(books))
	for i, b := range books {
		b.Score = q.score(b)
		ranked[i] = b
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

// Score returns the relevance score of a single book.
func Score(b types.Book, rawQuery string, scope types.FieldScope) int {
	q := newQuery(rawQuery, scope)
	if q.text == "" {
		return 0
	}
	return q.score(b)
}

type query struct {
	text      string
	tokens    []string
	weights   Weights
	titleOnly bool
}

func newQuery(rawQuery string, scope types.FieldScope) query {
	text := textnorm.Normalize(rawQuery)
	return query{
		text:      text,
		tokens:    strings.Fields(text),
		weights:   WeightsFor(scope),
		titleOnly: strings.EqualFold(string(scope), string(types.ScopeTitle)),
	}
}

func (q query) score(b types.Book) int {
	title := textnorm.Normalize(b.Title)
	desc := textnorm.Normalize(b.Description)

	score := q.titleScore(title)
	for _, a := range b.Authors {
		score += q.authorScore(textnorm.Normalize(a))
	}
	if desc != "" {
		for _, tok := range q.tokens {
			if strings.Contains(desc, tok) {
				score += q.weights.Description
			}
		}
	}

	score += ratingBoost(b.AverageRating)

	if q.titleOnly {
		if collectionTitle(title) {
			score -= 5
		}
		if len(strings.Fields(title)) > 8 {
			score -= 2
		}
	}

	for _, phrase := range anthologyPhrases {
		if strings.Contains(title, phrase) || strings.Contains(desc, phrase) {
			score -= 3
			break
		}
	}
	return score
}

func (q query) titleScore(title string) int {
	if title == "" {
		return 0
	}
	score := 0
	if title == q.text {
		score += 6 * q.weights.Title
	} else {
		for _, tok := range q.tokens {
			if strings.Contains(title, tok) {
				score += 3 * q.weights.Title
			}
		}
	}
	// The fuzzy bonus compares each token with the whole title and stacks
	// with the substring bonus.
	for _, tok := range q.tokens {
		if Levenshtein(title, tok) <= maxEditDistance {
			score += 2 * q.weights.Title
		}
	}
	return score
}

func (q query) authorScore(author string) int {
	score := 0
	if author == q.text {
		score += 8 * q.weights.Author
	} else {
		for _, tok := range q.tokens {
			if strings.Contains(author, tok) {
				score += 2 * q.weights.Author
			}
		}
	}
	if Levenshtein(author, q.text) <= maxEditDistance {
		score += 3 * q.weights.Author
	}
	return score
}

// ratingBoost maps an average rating to 0..4 points: the rating is clamped
// to [0, 6] and scaled by 3/5.
func ratingBoost(rating *float64) int {
	if rating == nil || math.IsNaN(*rating) {
		return 0
	}
	r := math.Min(6, math.Max(0, *rating))
	return int(math.Round(r / 5 * 3))
}
