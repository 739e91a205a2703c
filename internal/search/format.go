// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// FormatTable writes pages as a human-readable table to w. Ranks continue
// across pages.
func FormatTable(pages []Page, w io.Writer) {
	count := 0
	for _, p := range pages {
		count += len(p.Books)
	}
	if count == 0 {
		fmt.Fprintln(w, "No results found.")
		return
	}

	fmt.Fprintf(w, "%-4s  %-50s  %-20s  %-4s  %5s  %s\n",
		"Rank", "Title", "Authors", "Year", "Score", "ID")
	fmt.Fprintln(w, strings.Repeat("-", 110))

	rank := 0
	for _, p := range pages {
		for _, b := range p.Books {
			rank++
			fmt.Fprintf(w, "%-4d  %-50s  %-20s  %-4s  %5d  %s\n",
				rank, truncate(b.Title, 50), formatAuthors(b.Authors), year(b.PublishedDate), b.Score, b.ID)
		}
	}

	last := pages[len(pages)-1]
	fmt.Fprintf(w, "\n%d results on %d page(s) of %d total", count, len(pages), last.TotalItems)
	if last.HasNextPage {
		fmt.Fprint(w, "; more pages available")
	}
	fmt.Fprintln(w)
}

// FormatJSON writes pages as indented JSON to w.
func FormatJSON(pages []Page, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(pages)
}

func formatAuthors(authors []string) string {
	switch len(authors) {
	case 0:
		return ""
	case 1:
		return truncate(authors[0], 20)
	default:
		return truncate(authors[0], 14) + " et al."
	}
}

// year returns the leading year of a catalog date such as "2005-11-15".
func year(date string) string {
	if len(date) >= 4 {
		return date[:4]
	}
	return date
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
