// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/bookbuddy-search/pkg/types"
)

// --- fakes ---

// fakeCatalog serves a fixed id list by offset and resolves any id.
type fakeCatalog struct {
	mu        sync.Mutex
	ids       []string
	total     int
	failAt    map[int]error
	badDetail map[string]bool
	offsets   []int
	queries   []string
}

func newFakeCatalog(n int) *fakeCatalog {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("b%02d", i+1)
	}
	return &fakeCatalog{ids: ids, total: n}
}

func (f *fakeCatalog) FetchChunk(_ context.Context, query string, offset, limit int) (Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offsets = append(f.offsets, offset)
	f.queries = append(f.queries, query)
	if err := f.failAt[offset]; err != nil {
		return Chunk{}, err
	}
	var items []types.Book
	for i := offset; i < offset+limit && i < len(f.ids); i++ {
		items = append(items, types.Book{ID: f.ids[i]})
	}
	return Chunk{Items: items, TotalItems: f.total}, nil
}

func (f *fakeCatalog) FetchDetail(_ context.Context, id string) (types.Book, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.badDetail[id] {
		return types.Book{}, errors.New("detail unavailable")
	}
	return types.Book{ID: id, Title: "Volume " + id}, nil
}

type fakeValidator struct {
	reject map[string]bool
	err    error
}

func (v fakeValidator) ValidateBatch(_ context.Context, ids []string) (map[string]bool, error) {
	if v.err != nil {
		return nil, v.err
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = !v.reject[id]
	}
	return out, nil
}

func newTestEngine(t *testing.T, cat *fakeCatalog, v Validator, store *Store) *Engine {
	t.Helper()
	if store == nil {
		store = newTestStore(t, testclock.NewClock(time.Now()))
	}
	e, err := NewEngine(Config{
		Upstream:        cat,
		Details:         cat,
		Validator:       v,
		Store:           store,
		ChunkSize:       10,
		DefaultPageSize: 10,
		Metrics:         NewMetrics(nil),
	})
	require.NoError(t, err)
	return e
}

func bookIDs(books []types.Book) []string {
	ids := make([]string, len(books))
	for i, b := range books {
		ids[i] = b.ID
	}
	return ids
}

// --- Search ---

func TestSearchPagesThroughCatalog(t *testing.T) {
	cat := newFakeCatalog(25)
	e := newTestEngine(t, cat, fakeValidator{}, nil)
	ctx := context.Background()

	tests := []struct {
		page     int
		wantLen  int
		wantNext bool
	}{
		{1, 10, true},
		{2, 10, true},
		{3, 5, false},
	}

	token := ""
	seen := make(map[string]bool)
	for _, tt := range tests {
		got, err := e.Search(ctx, Request{UserID: "alice", Query: "dune", Page: tt.page, SearchID: token})
		require.NoError(t, err)
		assert.Equal(t, tt.page, got.Page)
		assert.Equal(t, 10, got.PageSize)
		assert.Equal(t, 25, got.TotalItems)
		assert.Len(t, got.Books, tt.wantLen, "page %d", tt.page)
		assert.Equal(t, tt.wantNext, got.HasNextPage, "page %d", tt.page)
		if token != "" {
			assert.Equal(t, token, got.SearchID)
		}
		token = got.SearchID
		for _, id := range bookIDs(got.Books) {
			assert.False(t, seen[id], "duplicate %s", id)
			seen[id] = true
		}
	}
	assert.Len(t, seen, 25)
	assert.Equal(t, []int{0, 10, 20}, cat.offsets)
}

func TestSearchSendsScopedQuery(t *testing.T) {
	cat := newFakeCatalog(5)
	e := newTestEngine(t, cat, fakeValidator{}, nil)

	_, err := e.Search(context.Background(), Request{UserID: "alice", Query: "  dune ", Scope: types.ScopeTitle, Page: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"intitle:dune"}, cat.queries)
}

func TestSearchRejectedIDsNeverAppear(t *testing.T) {
	cat := newFakeCatalog(30)
	reject := map[string]bool{"b03": true, "b07": true}
	e := newTestEngine(t, cat, fakeValidator{reject: reject}, nil)
	ctx := context.Background()

	var all []string
	token := ""
	for page := 1; page <= 10; page++ {
		got, err := e.Search(ctx, Request{UserID: "alice", Query: "dune", Page: page, SearchID: token})
		require.NoError(t, err)
		token = got.SearchID
		all = append(all, bookIDs(got.Books)...)
		if !got.HasNextPage {
			break
		}
	}

	assert.Len(t, all, 28)
	assert.NotContains(t, all, "b03")
	assert.NotContains(t, all, "b07")
	unique := make(map[string]struct{})
	for _, id := range all {
		unique[id] = struct{}{}
	}
	assert.Len(t, unique, len(all))
}

func TestSearchDuplicateUpstreamIDs(t *testing.T) {
	cat := newFakeCatalog(0)
	cat.ids = []string{"a", "b", "a", "c", "b", "d"}
	cat.total = len(cat.ids)
	e := newTestEngine(t, cat, fakeValidator{}, nil)

	got, err := e.Search(context.Background(), Request{UserID: "alice", Query: "dune", Page: 1})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c", "d"}, bookIDs(got.Books))
	assert.False(t, got.HasNextPage)
}

func TestSearchSkipsFailedDetailLookups(t *testing.T) {
	cat := newFakeCatalog(25)
	cat.badDetail = map[string]bool{"b02": true}
	e := newTestEngine(t, cat, fakeValidator{}, nil)

	got, err := e.Search(context.Background(), Request{UserID: "alice", Query: "dune", Page: 1})
	require.NoError(t, err)
	ids := bookIDs(got.Books)
	assert.Len(t, ids, 10)
	assert.NotContains(t, ids, "b02")
	assert.Contains(t, ids, "b11")
	assert.True(t, got.HasNextPage)
}

func TestSearchValidatorFailureDropsBatches(t *testing.T) {
	cat := newFakeCatalog(25)
	e := newTestEngine(t, cat, fakeValidator{err: errors.New("validator down")}, nil)

	got, err := e.Search(context.Background(), Request{UserID: "alice", Query: "dune", Page: 1})
	require.NoError(t, err)
	assert.Empty(t, got.Books)
	assert.NotNil(t, got.Books)
	assert.False(t, got.HasNextPage)
	assert.NotEmpty(t, got.SearchID)
}

func TestSearchUpstreamUnavailable(t *testing.T) {
	cat := newFakeCatalog(25)
	cat.failAt = map[int]error{0: errors.New("connection refused")}
	e := newTestEngine(t, cat, fakeValidator{}, nil)

	got, err := e.Search(context.Background(), Request{UserID: "alice", Query: "dune", Page: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.False(t, IsClientError(err))
	assert.Empty(t, got.Books)
	assert.False(t, got.HasNextPage)
}

func TestSearchUpstreamFailureAfterPartialPage(t *testing.T) {
	cat := newFakeCatalog(25)
	cat.failAt = map[int]error{10: errors.New("timeout")}
	e := newTestEngine(t, cat, fakeValidator{}, nil)

	got, err := e.Search(context.Background(), Request{UserID: "alice", Query: "dune", Page: 1, PageSize: 20})
	require.NoError(t, err)
	assert.Len(t, got.Books, 10)
	assert.False(t, got.HasNextPage)

	// The cursor did not move past the failed chunk, so a retry resumes there.
	delete(cat.failAt, 10)
	next, err := e.Search(context.Background(), Request{UserID: "alice", Query: "dune", Page: 2, PageSize: 20, SearchID: got.SearchID})
	require.NoError(t, err)
	assert.Len(t, next.Books, 15)
	assert.Equal(t, "b11", next.Books[0].ID)
}

func TestSearchPaginationErrors(t *testing.T) {
	cat := newFakeCatalog(25)
	e := newTestEngine(t, cat, fakeValidator{}, nil)
	ctx := context.Background()

	first, err := e.Search(ctx, Request{UserID: "alice", Query: "dune", Page: 1})
	require.NoError(t, err)

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"page two without token", Request{UserID: "alice", Query: "dune", Page: 2}, ErrInvalidPaginationRequest},
		{"page zero", Request{UserID: "alice", Query: "dune", Page: 0}, ErrInvalidPaginationRequest},
		{"unknown token", Request{UserID: "alice", Query: "dune", Page: 2, SearchID: "stale"}, ErrUnknownOrExpiredSession},
		{"other user", Request{UserID: "bob", Query: "dune", Page: 2, SearchID: first.SearchID}, ErrSessionOwnershipMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Search(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, IsClientError(err))
		})
	}
}

func TestSearchBlankQuery(t *testing.T) {
	cat := newFakeCatalog(25)
	store := newTestStore(t, testclock.NewClock(time.Now()))
	e := newTestEngine(t, cat, fakeValidator{}, store)

	got, err := e.Search(context.Background(), Request{UserID: "alice", Query: "   ", Page: 1})
	require.NoError(t, err)
	assert.Empty(t, got.Books)
	assert.Empty(t, got.SearchID)
	assert.False(t, got.HasNextPage)
	assert.Equal(t, 0, store.Len())
	assert.Empty(t, cat.offsets)
}

func TestSearchQueryChangeUnderToken(t *testing.T) {
	cat := newFakeCatalog(25)
	e := newTestEngine(t, cat, fakeValidator{}, nil)
	ctx := context.Background()

	first, err := e.Search(ctx, Request{UserID: "alice", Query: "dune", Page: 1})
	require.NoError(t, err)

	changed, err := e.Search(ctx, Request{UserID: "alice", Query: "emma", Page: 2, SearchID: first.SearchID})
	require.NoError(t, err)
	assert.NotEqual(t, first.SearchID, changed.SearchID)
	assert.Equal(t, 2, changed.Page)
	assert.Equal(t, "b01", changed.Books[0].ID, "a new session starts from the first result")
}

func TestSearchEvictedSession(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	store := newTestStore(t, clk)
	e := newTestEngine(t, newFakeCatalog(25), fakeValidator{}, store)
	ctx := context.Background()

	first, err := e.Search(ctx, Request{UserID: "alice", Query: "dune", Page: 1})
	require.NoError(t, err)

	clk.Advance(31 * time.Minute)
	require.Equal(t, 1, store.EvictIdleOlderThan(30*time.Minute))

	_, err = e.Search(ctx, Request{UserID: "alice", Query: "dune", Page: 2, SearchID: first.SearchID})
	assert.ErrorIs(t, err, ErrUnknownOrExpiredSession)
}

func TestSearchConcurrentPagesOnOneToken(t *testing.T) {
	cat := newFakeCatalog(60)
	e := newTestEngine(t, cat, fakeValidator{}, nil)
	ctx := context.Background()

	first, err := e.Search(ctx, Request{UserID: "alice", Query: "dune", Page: 1})
	require.NoError(t, err)

	const workers = 5
	results := make([][]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := e.Search(ctx, Request{UserID: "alice", Query: "dune", Page: i + 2, SearchID: first.SearchID})
			if assert.NoError(t, err) {
				results[i] = bookIDs(got.Books)
			}
		}()
	}
	wg.Wait()

	unique := make(map[string]struct{})
	for _, id := range bookIDs(first.Books) {
		unique[id] = struct{}{}
	}
	total := len(first.Books)
	for _, ids := range results {
		assert.Len(t, ids, 10)
		total += len(ids)
		for _, id := range ids {
			unique[id] = struct{}{}
		}
	}
	assert.Equal(t, 60, total)
	assert.Len(t, unique, 60)
}

func TestSearchClampsPageSize(t *testing.T) {
	cat := newFakeCatalog(100)
	e := newTestEngine(t, cat, fakeValidator{}, nil)

	got, err := e.Search(context.Background(), Request{UserID: "alice", Query: "dune", Page: 1, PageSize: 500})
	require.NoError(t, err)
	assert.Equal(t, 40, got.PageSize)
	assert.Len(t, got.Books, 40)
	assert.True(t, got.HasNextPage)
}

func TestSearchRanksPage(t *testing.T) {
	cat := newFakeCatalog(3)
	e := newTestEngine(t, cat, fakeValidator{}, nil)

	got, err := e.Search(context.Background(), Request{UserID: "alice", Query: "Volume b03", Scope: types.ScopeTitle, Page: 1})
	require.NoError(t, err)
	require.Len(t, got.Books, 3)
	assert.Equal(t, "b03", got.Books[0].ID)
}

func TestSearchChunkBudgetKeepsSearchOpen(t *testing.T) {
	cat := newFakeCatalog(300)
	reject := make(map[string]bool)
	for _, id := range cat.ids[:150] {
		reject[id] = true
	}
	e := newTestEngine(t, cat, fakeValidator{reject: reject}, nil)
	ctx := context.Background()

	first, err := e.Search(ctx, Request{UserID: "alice", Query: "dune", Page: 1})
	require.NoError(t, err)
	assert.Empty(t, first.Books)
	assert.True(t, first.HasNextPage)
	assert.Equal(t, 300, first.TotalItems)
	assert.Len(t, cat.offsets, defaultMaxChunksPerPage)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.cfg.Metrics.pages.WithLabelValues("budget")))

	second, err := e.Search(ctx, Request{UserID: "alice", Query: "dune", Page: 2, SearchID: first.SearchID})
	require.NoError(t, err)
	assert.ElementsMatch(t, cat.ids[150:160], bookIDs(second.Books))
	assert.True(t, second.HasNextPage)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.cfg.Metrics.pages.WithLabelValues("ok")))
}

func TestSearchShortPageAtBudgetHasNext(t *testing.T) {
	tests := []struct {
		name     string
		catalog  int
		rejected int
		wantLen  int
		wantNext bool
	}{
		{"budget spent with more upstream", 200, 95, 5, true},
		{"catalog exhausted within budget", 100, 95, 5, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat := newFakeCatalog(tt.catalog)
			reject := make(map[string]bool)
			for _, id := range cat.ids[:tt.rejected] {
				reject[id] = true
			}
			e := newTestEngine(t, cat, fakeValidator{reject: reject}, nil)

			got, err := e.Search(context.Background(), Request{UserID: "alice", Query: "dune", Page: 1})
			require.NoError(t, err)
			assert.Len(t, got.Books, tt.wantLen)
			assert.Equal(t, tt.wantNext, got.HasNextPage)
		})
	}
}

func TestNewEngineRejectsInvalidConfig(t *testing.T) {
	_, err := NewEngine(Config{ChunkSize: 41})
	require.Error(t, err)
	for _, want := range []string{"upstream", "detail source", "validator", "session store", "chunk size"} {
		assert.Contains(t, err.Error(), want)
	}
}
