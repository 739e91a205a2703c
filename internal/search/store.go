// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/juju/clock"
	"github.com/sirupsen/logrus"

	"github.com/pdiddy/bookbuddy-search/pkg/types"
)

const (
	defaultIdleTimeout = 30 * time.Minute
	defaultShards      = 32
	maxMintAttempts    = 8
)

// StoreConfig configures a session Store.
type StoreConfig struct {
	// IdleTimeout is how long a session may go untouched before it is
	// evicted. If not specified, 30 minutes is used.
	IdleTimeout time.Duration

	// Shards is the number of map shards, rounded up to a power of two.
	// If not specified, 32 shards are used.
	Shards int

	// A clock instance for generating time-related events. If not
	// specified, the default wall-clock will be used instead.
	Clock clock.Clock

	// Metrics receives eviction counts. Optional.
	Metrics *Metrics

	// The logger to use. If not defined an output-discarding logger will
	// be used instead.
	Logger *logrus.Entry
}

func (cfg *StoreConfig) validate() error {
	var err error
	if cfg.IdleTimeout < 0 {
		err = multierror.Append(err, fmt.Errorf("invalid value for idle timeout"))
	} else if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Shards < 0 {
		err = multierror.Append(err, fmt.Errorf("invalid value for shards"))
	} else if cfg.Shards == 0 {
		cfg.Shards = defaultShards
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(&logrus.Logger{Out: io.Discard})
	}
	return err
}

// Store is the registry of in-progress searches, keyed by search token.
// Lookups on different tokens only contend when they hash to the same shard.
type Store struct {
	cfg    StoreConfig
	shards []*shard
	mask   uint32
}

type shard struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewStore creates an empty session store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("session store: config validation failed: %w", err)
	}
	n := 1
	for n < cfg.Shards {
		n <<= 1
	}
	s := &Store{
		cfg:    cfg,
		shards: make([]*shard, n),
		mask:   uint32(n - 1),
	}
	for i := range s.shards {
		s.shards[i] = &shard{sessions: make(map[string]*Session)}
	}
	return s, nil
}

// IdleTimeout returns the configured idle bound.
func (s *Store) IdleTimeout() time.Duration { return s.cfg.IdleTimeout }

func (s *Store) shardFor(token string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	return s.shards[h.Sum32()&s.mask]
}

// Lookup identifies the session a page request wants.
type Lookup struct {
	Token string
	Owner string
	Query string
	Scope types.FieldScope
	Page  int
}

// Acquire resolves or creates the session for l and marks it in flight.
// The returned session may carry a different token than l.Token when the
// query or scope changed. Every successful Acquire must be paired with
// Release.
func (s *Store) Acquire(l Lookup) (*Session, error) {
	if l.Page < 1 {
		return nil, fmt.Errorf("%w: page %d", ErrInvalidPaginationRequest, l.Page)
	}
	if l.Token == "" {
		if l.Page > 1 {
			return nil, fmt.Errorf("%w: a search token is required beyond page 1", ErrInvalidPaginationRequest)
		}
		return s.create(l)
	}

	sh := s.shardFor(l.Token)
	now := s.cfg.Clock.Now()

	sh.mu.Lock()
	sess, ok := sh.sessions[l.Token]
	if ok && sess.inFlight == 0 && now.Sub(sess.lastTouched) > s.cfg.IdleTimeout {
		delete(sh.sessions, l.Token)
		ok = false
		s.cfg.Metrics.evicted(1)
	}
	if !ok {
		if l.Page != 1 {
			sh.mu.Unlock()
			return nil, fmt.Errorf("%w: page %d", ErrUnknownOrExpiredSession, l.Page)
		}
		sess = newSession(l.Token, l.Owner, l.Query, l.Scope, now)
		sess.inFlight = 1
		sh.sessions[l.Token] = sess
		sh.mu.Unlock()
		return sess, nil
	}
	if sess.Owner != l.Owner {
		sh.mu.Unlock()
		return nil, ErrSessionOwnershipMismatch
	}
	if sess.Query != l.Query || sess.Scope != l.Scope {
		sh.mu.Unlock()
		s.cfg.Logger.WithField("previous_search_id", l.Token).Debug("query changed under token; starting a new session")
		return s.create(l)
	}
	sess.lastTouched = now
	sess.inFlight++
	sh.mu.Unlock()
	return sess, nil
}

// create registers a fresh session under a newly minted token.
func (s *Store) create(l Lookup) (*Session, error) {
	for attempt := 0; attempt < maxMintAttempts; attempt++ {
		id, err := uuid.NewRandom()
		if err != nil {
			return nil, fmt.Errorf("minting search token: %w", err)
		}
		token := id.String()

		sh := s.shardFor(token)
		sh.mu.Lock()
		if _, exists := sh.sessions[token]; exists {
			sh.mu.Unlock()
			continue
		}
		sess := newSession(token, l.Owner, l.Query, l.Scope, s.cfg.Clock.Now())
		sess.inFlight = 1
		sh.sessions[token] = sess
		sh.mu.Unlock()
		return sess, nil
	}
	return nil, errors.New("minting search token: no unique token after retries")
}

// Release ends a borrow started by Acquire and touches the session.
func (s *Store) Release(sess *Session) {
	sh := s.shardFor(sess.Token)
	sh.mu.Lock()
	if sess.inFlight > 0 {
		sess.inFlight--
	}
	sess.lastTouched = s.cfg.Clock.Now()
	sh.mu.Unlock()
}

// Touch refreshes the idle timer of token. It reports whether the token is known.
func (s *Store) Touch(token string) bool {
	sh := s.shardFor(token)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sess, ok := sh.sessions[token]
	if ok {
		sess.lastTouched = s.cfg.Clock.Now()
	}
	return ok
}

// Info returns a snapshot of the session registered under token for owner.
// It does not touch the session. A session found idle beyond the bound is
// evicted and reported as unknown.
func (s *Store) Info(token, owner string) (SessionInfo, error) {
	sh := s.shardFor(token)
	now := s.cfg.Clock.Now()

	sh.mu.Lock()
	sess, ok := sh.sessions[token]
	if ok && sess.inFlight == 0 && now.Sub(sess.lastTouched) > s.cfg.IdleTimeout {
		delete(sh.sessions, token)
		ok = false
		s.cfg.Metrics.evicted(1)
	}
	var touched time.Time
	if ok {
		touched = sess.lastTouched
	}
	sh.mu.Unlock()

	if !ok {
		return SessionInfo{}, ErrUnknownOrExpiredSession
	}
	if sess.Owner != owner {
		return SessionInfo{}, ErrSessionOwnershipMismatch
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.info(touched), nil
}

// EvictIdleOlderThan removes sessions untouched for longer than d. Sessions
// currently borrowed by a page request are never evicted. It returns the
// number of sessions removed.
func (s *Store) EvictIdleOlderThan(d time.Duration) int {
	now := s.cfg.Clock.Now()
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for token, sess := range sh.sessions {
			if sess.inFlight == 0 && now.Sub(sess.lastTouched) > d {
				delete(sh.sessions, token)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	s.cfg.Metrics.evicted(removed)
	return removed
}

// Len returns the number of registered sessions.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.sessions)
		sh.mu.Unlock()
	}
	return n
}
