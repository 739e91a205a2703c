// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/bookbuddy-search/internal/search"
	"github.com/pdiddy/bookbuddy-search/pkg/types"
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search the catalog and print ranked pages",
	Long: `Search runs one logical search against Google Books and prints up to --pages
consecutive pages. Pages never repeat a volume, and every volume passes the
configured validator before it is shown.

Use --type to scope the query to a title, author or isbn. Use --save to keep
the results in a YAML file and --show to print a saved file again.`,
	Args: cobra.ArbitraryArgs,
	RunE: runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	yamlOutput, _ := cmd.Flags().GetBool("yaml")

	if show, _ := cmd.Flags().GetString("show"); show != "" {
		sf, err := search.ReadSearchFile(show)
		if err != nil {
			return err
		}
		return printPages(sf.Pages, jsonOutput, yamlOutput)
	}

	query := strings.TrimSpace(strings.Join(args, " "))
	if query == "" {
		return fmt.Errorf("a search query is required")
	}
	scope, _ := cmd.Flags().GetString("type")
	pageSize, _ := cmd.Flags().GetInt("page-size")
	pages, _ := cmd.Flags().GetInt("pages")
	if pages < 1 {
		pages = 1
	}

	b, err := newBackend(serviceConfig(), nil)
	if err != nil {
		return err
	}
	defer b.Close()

	req := search.Request{
		UserID:   currentUser(),
		Query:    query,
		Scope:    types.ParseFieldScope(scope),
		Page:     1,
		PageSize: pageSize,
	}

	ctx := context.Background()
	var results []search.Page
	next := req
	for i := 0; i < pages; i++ {
		page, err := b.engine.Search(ctx, next)
		if err != nil {
			if len(results) == 0 {
				return err
			}
			logger.WithError(err).WithField("page", next.Page).Warn("stopping early")
			break
		}
		results = append(results, page)
		if !page.HasNextPage {
			break
		}
		next.Page++
		next.SearchID = page.SearchID
	}

	if savePath, _ := cmd.Flags().GetString("save"); savePath != "" {
		if err := search.WriteSearchFile(savePath, search.NewSearchFile(req, results, time.Now())); err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "Saved search to", savePath)
	}

	return printPages(results, jsonOutput, yamlOutput)
}

func printPages(pages []search.Page, jsonOutput, yamlOutput bool) error {
	switch {
	case jsonOutput:
		return search.FormatJSON(pages, os.Stdout)
	case yamlOutput:
		enc := yaml.NewEncoder(os.Stdout)
		defer enc.Close()
		return enc.Encode(pages)
	default:
		search.FormatTable(pages, os.Stdout)
		return nil
	}
}

// currentUser names the session owner for CLI searches.
func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "cli"
}

func init() {
	searchCmd.Flags().String("type", "general", "field scope: general, title, author, isbn")
	searchCmd.Flags().Int("page-size", 0, "results per page (default search.default_page_size)")
	searchCmd.Flags().Int("pages", 1, "number of consecutive pages to fetch")
	searchCmd.Flags().Bool("json", false, "output pages as JSON")
	searchCmd.Flags().Bool("yaml", false, "output pages as YAML")
	searchCmd.Flags().String("save", "", "save the search and its pages to a YAML file")
	searchCmd.Flags().String("show", "", "print a previously saved search file")
	searchCmd.MarkFlagsMutuallyExclusive("json", "yaml")

	rootCmd.AddCommand(searchCmd)
}
