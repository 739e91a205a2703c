// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package search turns free-text book queries into stable, relevance-ranked
// pages sourced from an offset-based upstream catalog. A session per logical
// search carries the upstream cursor and the queue of validated candidates
// across page requests.
package search

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/bookbuddy-search/internal/rank"
	"github.com/pdiddy/bookbuddy-search/pkg/types"
)

const (
	// MaxChunkSize is the largest page the upstream catalog serves per call.
	MaxChunkSize = 40

	defaultPageSize         = 20
	defaultMaxPageSize      = 40
	defaultCallTimeout      = 10 * time.Second
	defaultDetailWorkers    = 8
	defaultMaxChunksPerPage = 10
)

// Upstream fetches one chunk of candidates from the catalog.
type Upstream interface {
	FetchChunk(ctx context.Context, query string, offset, limit int) (Chunk, error)
}

// Chunk is one batch of upstream results.
type Chunk struct {
	Items []types.Book

	// Returned is the number of raw entries the catalog sent, including
	// entries dropped while mapping. Zero means len(Items).
	Returned int

	// TotalItems is the catalog-reported total, or -1 when not reported.
	TotalItems int
}

// DetailSource resolves one identifier to full metadata.
type DetailSource interface {
	FetchDetail(ctx context.Context, id string) (types.Book, error)
}

// Validator reports which identifiers may be shown. Identifiers missing
// from the returned map are inadmissible.
type Validator interface {
	ValidateBatch(ctx context.Context, ids []string) (map[string]bool, error)
}

// Config encapsulates the settings for the search engine.
type Config struct {
	// The upstream catalog.
	Upstream Upstream

	// Resolves admitted identifiers to full books.
	Details DetailSource

	// Decides which newly seen identifiers are admissible.
	Validator Validator

	// The session registry. The engine borrows sessions from it for the
	// duration of one page request.
	Store *Store

	// The number of candidates requested per upstream call. If not
	// specified, MaxChunkSize is used.
	ChunkSize int

	// The page size used when a request does not name one. Defaults to 20.
	DefaultPageSize int

	// The largest page size a request may ask for. Defaults to 40.
	MaxPageSize int

	// Bounds each upstream fetch, detail lookup and validation call.
	// Defaults to 10 seconds.
	CallTimeout time.Duration

	// Bounds concurrent detail lookups per page. Defaults to 8.
	DetailWorkers int

	// Bounds upstream calls made while assembling a single page. A page
	// cut short by the bound still reports a next page when the catalog
	// may hold more. Defaults to 10.
	MaxChunksPerPage int

	// Optional Prometheus collectors.
	Metrics *Metrics

	// The logger to use. If not defined an output-discarding logger will
	// be used instead.
	Logger *logrus.Entry
}

func (cfg *Config) validate() error {
	var err error
	if cfg.Upstream == nil {
		err = multierror.Append(err, fmt.Errorf("upstream catalog has not been provided"))
	}
	if cfg.Details == nil {
		err = multierror.Append(err, fmt.Errorf("detail source has not been provided"))
	}
	if cfg.Validator == nil {
		err = multierror.Append(err, fmt.Errorf("validator has not been provided"))
	}
	if cfg.Store == nil {
		err = multierror.Append(err, fmt.Errorf("session store has not been provided"))
	}
	if cfg.ChunkSize < 0 || cfg.ChunkSize > MaxChunkSize {
		err = multierror.Append(err, fmt.Errorf("invalid value for chunk size: must be between 1 and %d", MaxChunkSize))
	} else if cfg.ChunkSize == 0 {
		cfg.ChunkSize = MaxChunkSize
	}
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = defaultPageSize
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = defaultMaxPageSize
	}
	if cfg.DefaultPageSize > cfg.MaxPageSize {
		err = multierror.Append(err, fmt.Errorf("default page size exceeds max page size"))
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.DetailWorkers <= 0 {
		cfg.DetailWorkers = defaultDetailWorkers
	}
	if cfg.MaxChunksPerPage <= 0 {
		cfg.MaxChunksPerPage = defaultMaxChunksPerPage
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(&logrus.Logger{Out: io.Discard})
	}
	return err
}

// Engine assembles search pages.
type Engine struct {
	cfg Config
}

// NewEngine creates a search engine with the specified config.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("search engine: config validation failed: %w", err)
	}
	return &Engine{cfg: cfg}, nil
}

// Request is one page request.
type Request struct {
	UserID   string
	Query    string
	Scope    types.FieldScope
	Page     int
	PageSize int

	// SearchID is the token returned with the previous page. Empty for a
	// first page.
	SearchID string
}

// Page is one assembled, ranked page of results.
type Page struct {
	Page        int          `json:"page" yaml:"page"`
	PageSize    int          `json:"pageSize" yaml:"page_size"`
	TotalItems  int          `json:"totalItems" yaml:"total_items"`
	HasNextPage bool         `json:"hasNextPage" yaml:"has_next_page"`
	SearchID    string       `json:"searchId" yaml:"search_id"`
	Books       []types.Book `json:"books" yaml:"books"`
}

// Search returns the requested page. The returned SearchID must be passed
// with the next page request; it differs from req.SearchID when the query
// or scope changed under the old token.
//
// Pagination contract violations return ErrInvalidPaginationRequest,
// ErrUnknownOrExpiredSession or ErrSessionOwnershipMismatch. When the
// catalog cannot be reached and nothing could be collected, Search returns
// an empty page together with ErrUpstreamUnavailable.
func (e *Engine) Search(ctx context.Context, req Request) (Page, error) {
	scope := types.ParseFieldScope(string(req.Scope))
	pageSize := e.pageSize(req.PageSize)
	out := Page{Page: req.Page, PageSize: pageSize, Books: []types.Book{}}

	upstreamQuery := BuildQuery(req.Query, scope)
	if upstreamQuery == "" {
		e.cfg.Metrics.page("empty")
		return out, nil
	}

	sess, err := e.cfg.Store.Acquire(Lookup{
		Token: req.SearchID,
		Owner: req.UserID,
		Query: upstreamQuery,
		Scope: scope,
		Page:  req.Page,
	})
	if err != nil {
		e.cfg.Metrics.page("rejected")
		return Page{}, err
	}
	defer e.cfg.Store.Release(sess)

	// Concurrent requests for one token must not interleave drain and refill.
	sess.mu.Lock()
	defer sess.mu.Unlock()

	res := e.assemblePage(ctx, sess, pageSize, req.Query, scope)
	out.SearchID = sess.Token
	if len(res.books) > 0 {
		out.Books = res.books
	}
	out.TotalItems = res.total
	out.HasNextPage = res.hasNext

	switch {
	case len(res.books) == 0 && res.fetchErr != nil:
		e.cfg.Metrics.page("unavailable")
		return out, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, res.fetchErr)
	case res.fetchErr != nil:
		e.cfg.Metrics.page("degraded")
	case res.budgetSpent:
		e.cfg.Metrics.page("budget")
	default:
		e.cfg.Metrics.page("ok")
	}

	e.cfg.Logger.WithFields(logrus.Fields{
		"search_id": sess.Token,
		"page":      req.Page,
		"items":     len(res.books),
		"has_next":  res.hasNext,
	}).Debug("assembled search page")
	return out, nil
}

func (e *Engine) pageSize(n int) int {
	switch {
	case n <= 0:
		return e.cfg.DefaultPageSize
	case n > e.cfg.MaxPageSize:
		return e.cfg.MaxPageSize
	default:
		return n
	}
}

type assembled struct {
	books   []types.Book
	total   int
	hasNext bool

	// fetchErr is the upstream failure that ended assembly early, if any.
	fetchErr error

	// budgetSpent is set when the chunk bound ended assembly of a short
	// page while the catalog may still hold more.
	budgetSpent bool
}

// assemblePage fills one page from the session's ready queue, pulling and
// validating further chunks while the page is short and the catalog may
// hold more. The caller holds sess.mu.
func (e *Engine) assemblePage(ctx context.Context, sess *Session, pageSize int, rawQuery string, scope types.FieldScope) assembled {
	log := e.cfg.Logger.WithField("search_id", sess.Token)

	books := e.drain(ctx, sess, nil, pageSize, log)

	var fetchErr error
	budgetSpent := false
	for calls := 0; len(books) < pageSize && sess.moreUpstream(); calls++ {
		if calls == e.cfg.MaxChunksPerPage {
			log.WithField("offset", sess.nextOffset).Warn("chunk budget for this page spent")
			budgetSpent = true
			break
		}

		chunk, err := e.fetchChunk(ctx, sess)
		if err != nil {
			fetchErr = err
			e.cfg.Metrics.chunk("error")
			log.WithError(err).WithField("offset", sess.nextOffset).Warn("upstream chunk fetch failed")
			break
		}

		returned := max(chunk.Returned, len(chunk.Items))
		sess.recordTotal(chunk.TotalItems)
		if returned == 0 {
			sess.exhausted = true
			e.cfg.Metrics.chunk("empty")
			break
		}
		e.cfg.Metrics.chunk("ok")

		ids := make([]string, 0, len(chunk.Items))
		for _, b := range chunk.Items {
			ids = append(ids, b.ID)
		}
		fresh := sess.markSeen(ids)
		sess.advance(returned)

		if len(fresh) > 0 {
			sess.admit(e.validate(ctx, fresh, log))
		}
		books = e.drain(ctx, sess, books, pageSize, log)
	}

	total := sess.totalItems
	if total == unknownTotal {
		total = len(sess.admitted)
	}
	return assembled{
		books:       rank.Rank(books, rawQuery, scope),
		total:       total,
		hasNext:     sess.hasNext(len(books) == pageSize) || (budgetSpent && sess.moreUpstream()),
		fetchErr:    fetchErr,
		budgetSpent: budgetSpent,
	}
}

// callContext detaches a collaborator call from the caller's cancellation
// and bounds it by the call timeout. Results of a call that outlives its
// caller still land in the session.
func (e *Engine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.cfg.CallTimeout)
}

func (e *Engine) fetchChunk(ctx context.Context, sess *Session) (Chunk, error) {
	callCtx, cancel := e.callContext(ctx)
	defer cancel()
	return e.cfg.Upstream.FetchChunk(callCtx, sess.Query, sess.nextOffset, e.cfg.ChunkSize)
}

// validate returns the admissible subset of ids, in order. A failed batch
// admits nothing.
func (e *Engine) validate(ctx context.Context, ids []string, log *logrus.Entry) []string {
	callCtx, cancel := e.callContext(ctx)
	defer cancel()

	verdicts, err := e.cfg.Validator.ValidateBatch(callCtx, ids)
	if err != nil {
		e.cfg.Metrics.verdict("unavailable", len(ids))
		log.WithError(fmt.Errorf("%w: %v", ErrValidationUnavailable, err)).
			WithField("batch", len(ids)).Warn("dropping validation batch")
		return nil
	}

	admissible := make([]string, 0, len(ids))
	for _, id := range ids {
		if verdicts[id] {
			admissible = append(admissible, id)
		}
	}
	e.cfg.Metrics.verdict("admitted", len(admissible))
	e.cfg.Metrics.verdict("rejected", len(ids)-len(admissible))
	return admissible
}

// drain moves ready identifiers into books until the page is full or the
// queue is empty. Identifiers whose lookup fails are dropped.
func (e *Engine) drain(ctx context.Context, sess *Session, books []types.Book, pageSize int, log *logrus.Entry) []types.Book {
	for len(books) < pageSize {
		ids := sess.popReady(pageSize - len(books))
		if len(ids) == 0 {
			break
		}
		books = append(books, e.resolve(ctx, ids, log)...)
	}
	return books
}

// resolve looks up ids concurrently and returns the successes in id order.
func (e *Engine) resolve(ctx context.Context, ids []string, log *logrus.Entry) []types.Book {
	found := make([]*types.Book, len(ids))

	// A plain group: one failed lookup must not cancel its siblings.
	var g errgroup.Group
	g.SetLimit(e.cfg.DetailWorkers)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			callCtx, cancel := e.callContext(ctx)
			defer cancel()

			b, err := e.cfg.Details.FetchDetail(callCtx, id)
			if err != nil {
				e.cfg.Metrics.detailFailed()
				log.WithError(err).WithField("id", id).Warn("detail lookup failed; skipping candidate")
				return nil
			}
			if b.ID == "" {
				b.ID = id
			}
			found[i] = &b
			return nil
		})
	}
	_ = g.Wait()

	books := make([]types.Book, 0, len(ids))
	for _, b := range found {
		if b != nil {
			books = append(books, *b)
		}
	}
	return books
}
