// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/bookbuddy-search/pkg/types"
)

// SearchFile is the on-disk representation of a search and the pages it
// returned. A saved search can be reviewed later without re-querying the
// catalog.
type SearchFile struct {
	Query   SearchParams  `yaml:"query"`
	Pages   []Page        `yaml:"pages"`
	Summary SearchSummary `yaml:"summary"`
}

// SearchParams stores the request parameters in a serializable form.
type SearchParams struct {
	Text     string           `yaml:"text"`
	Scope    types.FieldScope `yaml:"type"`
	PageSize int              `yaml:"page_size"`
}

// SearchSummary stores result statistics and a timestamp.
type SearchSummary struct {
	Books       int       `yaml:"books"`
	TotalItems  int       `yaml:"total_items"`
	HasNextPage bool      `yaml:"has_next_page"`
	SearchID    string    `yaml:"search_id,omitempty"`
	Timestamp   time.Time `yaml:"timestamp"`
}

// NewSearchFile builds a SearchFile for req and the pages it produced.
func NewSearchFile(req Request, pages []Page, now time.Time) SearchFile {
	sf := SearchFile{
		Query: SearchParams{
			Text:     req.Query,
			Scope:    types.ParseFieldScope(string(req.Scope)),
			PageSize: req.PageSize,
		},
		Pages:   pages,
		Summary: SearchSummary{Timestamp: now},
	}
	for _, p := range pages {
		sf.Summary.Books += len(p.Books)
	}
	if len(pages) > 0 {
		last := pages[len(pages)-1]
		sf.Summary.TotalItems = last.TotalItems
		sf.Summary.HasNextPage = last.HasNextPage
		sf.Summary.SearchID = last.SearchID
		sf.Query.PageSize = last.PageSize
	}
	return sf
}

// WriteSearchFile saves sf to a YAML file.
func WriteSearchFile(path string, sf SearchFile) error {
	data, err := yaml.Marshal(&sf)
	if err != nil {
		return fmt.Errorf("marshaling search file: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadSearchFile loads a previously saved search file from disk.
func ReadSearchFile(path string) (*SearchFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading search file: %w", err)
	}
	var sf SearchFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parsing search file: %w", err)
	}
	return &sf, nil
}
