// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package googlebooks is the upstream catalog client for the Google Books
// volumes API. It serves offset-based search chunks and single-volume
// detail lookups.
package googlebooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/pdiddy/bookbuddy-search/internal/httputil"
	"github.com/pdiddy/bookbuddy-search/internal/search"
	"github.com/pdiddy/bookbuddy-search/pkg/types"
)

// volumesBase is the Google Books volumes endpoint. Declared as a var so
// tests can substitute an httptest server.
var volumesBase = "https://www.googleapis.com/books/v1/volumes"

const (
	serviceName = "google books"

	defaultTimeout = 15 * time.Second
	defaultRPS     = 5
)

// ErrVolumeNotFound is returned when a detail lookup finds no volume.
var ErrVolumeNotFound = errors.New("volume not found")

// Client queries the Google Books API.
type Client struct {
	cfg       types.CatalogConfig
	http      *httputil.Retrier
	limiter   *rate.Limiter
	sanitizer *bluemonday.Policy
	logger    *logrus.Entry
}

// New creates a client. Zero values in cfg fall back to defaults. A nil
// logger discards output.
func New(cfg types.CatalogConfig, logger *logrus.Entry) *Client {
	if logger == nil {
		logger = logrus.NewEntry(&logrus.Logger{Out: io.Discard})
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaultRPS
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond)
		if cfg.Burst < 1 {
			cfg.Burst = 1
		}
	}
	logger = logger.WithField("component", "googlebooks")
	return &Client{
		cfg: cfg,
		http: &httputil.Retrier{
			Client:     &http.Client{Timeout: cfg.Timeout},
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  cfg.RetryBaseDelay,
			Logger:     logger,
		},
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger,
	}
}

// FetchChunk returns up to limit volumes matching query, starting at offset.
// limit is clamped to search.MaxChunkSize. Entries without volume metadata
// are dropped from Items but still counted in Returned.
func (c *Client) FetchChunk(ctx context.Context, query string, offset, limit int) (search.Chunk, error) {
	if limit <= 0 || limit > search.MaxChunkSize {
		limit = search.MaxChunkSize
	}
	if offset < 0 {
		offset = 0
	}

	params := url.Values{
		"q":          {query},
		"startIndex": {strconv.Itoa(offset)},
		"maxResults": {strconv.Itoa(limit)},
	}
	if c.cfg.APIKey != "" {
		params.Set("key", c.cfg.APIKey)
	}

	var list volumeList
	if err := c.getJSON(ctx, volumesBase+"?"+params.Encode(), &list); err != nil {
		return search.Chunk{}, fmt.Errorf("searching volumes at offset %d: %w", offset, err)
	}

	chunk := search.Chunk{
		Returned:   len(list.Items),
		TotalItems: -1,
	}
	if list.TotalItems != nil {
		chunk.TotalItems = *list.TotalItems
	}
	for _, v := range list.Items {
		if v.ID == "" || v.VolumeInfo == nil {
			continue
		}
		chunk.Items = append(chunk.Items, c.toBook(v))
	}
	return chunk, nil
}

// FetchDetail returns the full metadata of one volume. The public endpoint
// is tried first; on an HTTP error status the lookup is repeated with the
// API key when one is configured.
func (c *Client) FetchDetail(ctx context.Context, id string) (types.Book, error) {
	if id == "" {
		return types.Book{}, fmt.Errorf("empty volume id")
	}
	endpoint := volumesBase + "/" + url.PathEscape(id)

	var v volume
	err := c.getJSON(ctx, endpoint, &v)
	var se *httputil.StatusError
	if errors.As(err, &se) && c.cfg.APIKey != "" {
		c.logger.WithFields(logrus.Fields{"id": id, "status": se.StatusCode}).
			Debug("public volume lookup failed; retrying with api key")
		v = volume{}
		err = c.getJSON(ctx, endpoint+"?"+url.Values{"key": {c.cfg.APIKey}}.Encode(), &v)
	}
	if httputil.IsStatus(err, http.StatusNotFound) {
		return types.Book{}, fmt.Errorf("%w: %s", ErrVolumeNotFound, id)
	}
	if err != nil {
		return types.Book{}, fmt.Errorf("fetching volume %s: %w", id, err)
	}
	if v.VolumeInfo == nil {
		return types.Book{}, fmt.Errorf("%w: %s has no volume info", ErrVolumeNotFound, id)
	}
	if v.ID == "" {
		v.ID = id
	}
	return c.toBook(v), nil
}

func (c *Client) getJSON(ctx context.Context, reqURL string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("%s request: %w", serviceName, err)
	}
	defer resp.Body.Close()

	if err := httputil.CheckStatus(serviceName, resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parsing %s response: %w", serviceName, err)
	}
	return nil
}

func (c *Client) toBook(v volume) types.Book {
	info := v.VolumeInfo
	b := types.Book{
		ID:             v.ID,
		Title:          strings.TrimSpace(info.Title),
		Authors:        info.Authors,
		Publisher:      info.Publisher,
		PublishedDate:  info.PublishedDate,
		Description:    c.plainText(info.Description),
		PageCount:      info.PageCount,
		Categories:     info.Categories,
		AverageRating:  info.AverageRating,
		MaturityRating: info.MaturityRating,
		Language:       info.Language,
		PreviewLink:    info.PreviewLink,
	}
	if info.ImageLinks != nil {
		b.Thumbnail = info.ImageLinks.Thumbnail
		if b.Thumbnail == "" {
			b.Thumbnail = info.ImageLinks.SmallThumbnail
		}
	}
	return b
}

// plainText strips markup from an upstream description.
func (c *Client) plainText(s string) string {
	if s == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(c.sanitizer.Sanitize(s)))
}

type volumeList struct {
	TotalItems *int     `json:"totalItems"`
	Items      []volume `json:"items"`
}

type volume struct {
	ID         string      `json:"id"`
	VolumeInfo *volumeInfo `json:"volumeInfo"`
}

type volumeInfo struct {
	Title          string      `json:"title"`
	Authors        []string    `json:"authors"`
	Publisher      string      `json:"publisher"`
	PublishedDate  string      `json:"publishedDate"`
	Description    string      `json:"description"`
	PageCount      int         `json:"pageCount"`
	Categories     []string    `json:"categories"`
	AverageRating  *float64    `json:"averageRating"`
	MaturityRating string      `json:"maturityRating"`
	ImageLinks     *imageLinks `json:"imageLinks"`
	Language       string      `json:"language"`
	PreviewLink    string      `json:"previewLink"`
}

type imageLinks struct {
	SmallThumbnail string `json:"smallThumbnail"`
	Thumbnail      string `json:"thumbnail"`
}
