// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/bookbuddy-search/pkg/types"
)

func newTestStore(t *testing.T, clk *testclock.Clock) *Store {
	t.Helper()
	store, err := NewStore(StoreConfig{IdleTimeout: 30 * time.Minute, Shards: 4, Clock: clk})
	require.NoError(t, err)
	return store
}

func firstPage(owner, query string) Lookup {
	return Lookup{Owner: owner, Query: query, Scope: types.ScopeGeneral, Page: 1}
}

func TestStoreAcquireCreatesSession(t *testing.T) {
	store := newTestStore(t, testclock.NewClock(time.Now()))

	sess, err := store.Acquire(firstPage("alice", "dune"))
	require.NoError(t, err)
	store.Release(sess)

	assert.NotEmpty(t, sess.Token)
	assert.Equal(t, "alice", sess.Owner)
	assert.Equal(t, 1, store.Len())

	again, err := store.Acquire(Lookup{Token: sess.Token, Owner: "alice", Query: "dune", Scope: types.ScopeGeneral, Page: 2})
	require.NoError(t, err)
	store.Release(again)
	assert.Same(t, sess, again)
}

func TestStoreAcquireTokensAreUnique(t *testing.T) {
	store := newTestStore(t, testclock.NewClock(time.Now()))
	tokens := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		sess, err := store.Acquire(firstPage("alice", "dune"))
		require.NoError(t, err)
		store.Release(sess)
		tokens[sess.Token] = struct{}{}
	}
	assert.Len(t, tokens, 100)
	assert.Equal(t, 100, store.Len())
}

func TestStoreAcquireErrors(t *testing.T) {
	store := newTestStore(t, testclock.NewClock(time.Now()))
	sess, err := store.Acquire(firstPage("alice", "dune"))
	require.NoError(t, err)
	store.Release(sess)

	tests := []struct {
		name   string
		lookup Lookup
		want   error
	}{
		{"page zero", Lookup{Owner: "alice", Query: "dune", Page: 0}, ErrInvalidPaginationRequest},
		{"page two without token", Lookup{Owner: "alice", Query: "dune", Page: 2}, ErrInvalidPaginationRequest},
		{"unknown token", Lookup{Token: "nope", Owner: "alice", Query: "dune", Page: 2}, ErrUnknownOrExpiredSession},
		{"other owner", Lookup{Token: sess.Token, Owner: "bob", Query: "dune", Scope: types.ScopeGeneral, Page: 2}, ErrSessionOwnershipMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Acquire(tt.lookup)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestStoreAcquireUnknownTokenOnFirstPage(t *testing.T) {
	store := newTestStore(t, testclock.NewClock(time.Now()))

	sess, err := store.Acquire(Lookup{Token: "client-chosen", Owner: "alice", Query: "dune", Page: 1})
	require.NoError(t, err)
	store.Release(sess)
	assert.Equal(t, "client-chosen", sess.Token)
}

func TestStoreAcquireQueryChangeStartsNewSession(t *testing.T) {
	store := newTestStore(t, testclock.NewClock(time.Now()))
	old, err := store.Acquire(firstPage("alice", "dune"))
	require.NoError(t, err)
	store.Release(old)

	tests := []struct {
		name   string
		lookup Lookup
	}{
		{"query changed", Lookup{Token: old.Token, Owner: "alice", Query: "emma", Scope: types.ScopeGeneral, Page: 3}},
		{"scope changed", Lookup{Token: old.Token, Owner: "alice", Query: "dune", Scope: types.ScopeTitle, Page: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess, err := store.Acquire(tt.lookup)
			require.NoError(t, err)
			store.Release(sess)
			assert.NotEqual(t, old.Token, sess.Token)
			assert.Equal(t, tt.lookup.Query, sess.Query)
			assert.Equal(t, 0, sess.nextOffset)
		})
	}
}

func TestStoreEvictIdle(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	store := newTestStore(t, clk)

	stale, err := store.Acquire(firstPage("alice", "dune"))
	require.NoError(t, err)
	store.Release(stale)

	clk.Advance(20 * time.Minute)
	fresh, err := store.Acquire(firstPage("bob", "emma"))
	require.NoError(t, err)
	store.Release(fresh)

	clk.Advance(15 * time.Minute)
	assert.Equal(t, 1, store.EvictIdleOlderThan(30*time.Minute))
	assert.Equal(t, 1, store.Len())

	_, err = store.Acquire(Lookup{Token: stale.Token, Owner: "alice", Query: "dune", Scope: types.ScopeGeneral, Page: 2})
	assert.ErrorIs(t, err, ErrUnknownOrExpiredSession)
}

func TestStoreEvictSkipsInFlight(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	store := newTestStore(t, clk)

	sess, err := store.Acquire(firstPage("alice", "dune"))
	require.NoError(t, err)

	clk.Advance(time.Hour)
	assert.Equal(t, 0, store.EvictIdleOlderThan(30*time.Minute))

	store.Release(sess)
	assert.Equal(t, 0, store.EvictIdleOlderThan(30*time.Minute), "release touches the session")

	clk.Advance(time.Hour)
	assert.Equal(t, 1, store.EvictIdleOlderThan(30*time.Minute))
}

func TestStoreEvictsIdleOnAccess(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	store := newTestStore(t, clk)

	sess, err := store.Acquire(firstPage("alice", "dune"))
	require.NoError(t, err)
	store.Release(sess)

	clk.Advance(31 * time.Minute)
	_, err = store.Acquire(Lookup{Token: sess.Token, Owner: "alice", Query: "dune", Scope: types.ScopeGeneral, Page: 2})
	assert.ErrorIs(t, err, ErrUnknownOrExpiredSession)
	assert.Equal(t, 0, store.Len())
}

func TestStoreInfoEvictsIdleSession(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	store := newTestStore(t, clk)

	sess, err := store.Acquire(firstPage("alice", "dune"))
	require.NoError(t, err)
	store.Release(sess)

	clk.Advance(31 * time.Minute)
	_, err = store.Info(sess.Token, "alice")
	assert.ErrorIs(t, err, ErrUnknownOrExpiredSession)
	assert.Equal(t, 0, store.Len())
}

func TestStoreTouchAndInfo(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	store := newTestStore(t, clk)

	sess, err := store.Acquire(firstPage("alice", "dune"))
	require.NoError(t, err)
	store.Release(sess)

	clk.Advance(25 * time.Minute)
	assert.True(t, store.Touch(sess.Token))
	assert.False(t, store.Touch("missing"))

	clk.Advance(25 * time.Minute)
	assert.Equal(t, 0, store.EvictIdleOlderThan(30*time.Minute))

	info, err := store.Info(sess.Token, "alice")
	require.NoError(t, err)
	assert.Equal(t, "dune", info.Query)
	assert.Equal(t, unknownTotal, info.TotalItems)

	_, err = store.Info(sess.Token, "bob")
	assert.ErrorIs(t, err, ErrSessionOwnershipMismatch)
	_, err = store.Info("missing", "alice")
	assert.ErrorIs(t, err, ErrUnknownOrExpiredSession)
}

func TestNewStoreRejectsInvalidConfig(t *testing.T) {
	_, err := NewStore(StoreConfig{IdleTimeout: -time.Second, Shards: -1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "idle timeout")
	assert.Contains(t, err.Error(), "shards")
}

func TestSessionCursor(t *testing.T) {
	sess := newSession("t", "alice", "dune", types.ScopeGeneral, time.Now())

	assert.Equal(t, []string{"a", "b"}, sess.markSeen([]string{"a", "b", "a", ""}))
	assert.Equal(t, []string{"c"}, sess.markSeen([]string{"b", "c"}))

	assert.True(t, sess.moreUpstream(), "unknown total")
	sess.recordTotal(3)
	sess.recordTotal(99)
	assert.Equal(t, 3, sess.totalItems)

	sess.advance(3)
	sess.advance(-1)
	assert.Equal(t, 3, sess.nextOffset)
	assert.False(t, sess.moreUpstream())

	assert.Equal(t, 2, sess.admit([]string{"a", "c", "a"}))
	assert.Equal(t, []string{"a"}, sess.popReady(1))
	assert.True(t, sess.hasNext(true))
	assert.False(t, sess.hasNext(false))
	assert.Equal(t, []string{"c"}, sess.popReady(5))
	assert.Nil(t, sess.popReady(1))
	assert.False(t, sess.hasNext(true))
}
