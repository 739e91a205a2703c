// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"sync"
	"time"

	"github.com/pdiddy/bookbuddy-search/pkg/types"
)

// unknownTotal marks an upstream total that has not been reported yet.
const unknownTotal = -1

// Session tracks one multi-page search. The identity fields are fixed at
// creation. The cursor state below mu is only touched by the engine while it
// holds mu, which serializes concurrent requests for the same token.
type Session struct {
	Token string
	Owner string
	Query string
	Scope types.FieldScope

	// Guarded by the owning shard's lock.
	lastTouched time.Time
	inFlight    int

	mu         sync.Mutex
	nextOffset int
	totalItems int
	exhausted  bool
	seen       map[string]struct{}
	admitted   map[string]struct{}
	ready      []string
}

func newSession(token, owner, query string, scope types.FieldScope, now time.Time) *Session {
	return &Session{
		Token:       token,
		Owner:       owner,
		Query:       query,
		Scope:       scope,
		lastTouched: now,
		totalItems:  unknownTotal,
		seen:        make(map[string]struct{}),
		admitted:    make(map[string]struct{}),
	}
}

// SessionInfo is a point-in-time view of a session's cursor.
type SessionInfo struct {
	Token       string           `json:"searchId" yaml:"search_id"`
	Query       string           `json:"query" yaml:"query"`
	Scope       types.FieldScope `json:"type" yaml:"type"`
	NextOffset  int              `json:"nextOffset" yaml:"next_offset"`
	TotalItems  int              `json:"totalItems" yaml:"total_items"`
	Exhausted   bool             `json:"exhausted" yaml:"exhausted"`
	Seen        int              `json:"seen" yaml:"seen"`
	Admitted    int              `json:"admitted" yaml:"admitted"`
	Ready       int              `json:"ready" yaml:"ready"`
	LastTouched time.Time        `json:"lastTouched" yaml:"last_touched"`
}

// markSeen returns the ids not seen before, in order, and records them.
// Duplicates within ids are reported once.
func (s *Session) markSeen(ids []string) []string {
	var fresh []string
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := s.seen[id]; ok {
			continue
		}
		s.seen[id] = struct{}{}
		fresh = append(fresh, id)
	}
	return fresh
}

// advance moves the upstream cursor forward; it never moves back.
func (s *Session) advance(n int) {
	if n > 0 {
		s.nextOffset += n
	}
}

// recordTotal stores the first upstream total that becomes known.
func (s *Session) recordTotal(total int) {
	if s.totalItems == unknownTotal && total >= 0 {
		s.totalItems = total
	}
}

// admit appends ids to the ready queue, skipping ids already admitted.
// It returns the number of ids queued.
func (s *Session) admit(ids []string) int {
	n := 0
	for _, id := range ids {
		if _, ok := s.admitted[id]; ok {
			continue
		}
		s.admitted[id] = struct{}{}
		s.ready = append(s.ready, id)
		n++
	}
	return n
}

// popReady removes and returns up to n ids from the head of the ready queue.
func (s *Session) popReady(n int) []string {
	if n <= 0 || len(s.ready) == 0 {
		return nil
	}
	if n > len(s.ready) {
		n = len(s.ready)
	}
	out := make([]string, n)
	copy(out, s.ready[:n])
	s.ready = s.ready[n:]
	if len(s.ready) == 0 {
		s.ready = nil
	}
	return out
}

// moreUpstream reports whether the catalog may still hold unseen results.
func (s *Session) moreUpstream() bool {
	if s.exhausted {
		return false
	}
	return s.totalItems == unknownTotal || s.nextOffset < s.totalItems
}

// hasNext reports whether another page can follow a page that was full.
func (s *Session) hasNext(full bool) bool {
	return full && (len(s.ready) > 0 || s.moreUpstream())
}

// info snapshots the cursor. Callers hold mu.
func (s *Session) info(lastTouched time.Time) SessionInfo {
	return SessionInfo{
		Token:       s.Token,
		Query:       s.Query,
		Scope:       s.Scope,
		NextOffset:  s.nextOffset,
		TotalItems:  s.totalItems,
		Exhausted:   s.exhausted,
		Seen:        len(s.seen),
		Admitted:    len(s.admitted),
		Ready:       len(s.ready),
		LastTouched: lastTouched,
	}
}
