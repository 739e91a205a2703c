// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/juju/clock"
	"github.com/sirupsen/logrus"
)

// ReaperConfig configures a Reaper.
type ReaperConfig struct {
	// The store to sweep.
	Store *Store

	// The time between sweeps.
	SweepInterval time.Duration

	// Sessions idle for longer than this are evicted. If not specified,
	// the store's idle timeout is used.
	IdleTimeout time.Duration

	// A clock instance for generating time-related events. If not
	// specified, the default wall-clock will be used instead.
	Clock clock.Clock

	// The logger to use. If not defined an output-discarding logger will
	// be used instead.
	Logger *logrus.Entry
}

func (cfg *ReaperConfig) validate() error {
	var err error
	if cfg.Store == nil {
		err = multierror.Append(err, fmt.Errorf("session store has not been provided"))
	}
	if cfg.SweepInterval <= 0 {
		err = multierror.Append(err, fmt.Errorf("invalid value for sweep interval"))
	}
	if cfg.IdleTimeout < 0 {
		err = multierror.Append(err, fmt.Errorf("invalid value for idle timeout"))
	} else if cfg.IdleTimeout == 0 && cfg.Store != nil {
		cfg.IdleTimeout = cfg.Store.IdleTimeout()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(&logrus.Logger{Out: io.Discard})
	}
	return err
}

// Reaper periodically evicts idle search sessions.
type Reaper struct {
	cfg ReaperConfig
}

// NewReaper creates a reaper with the specified config.
func NewReaper(cfg ReaperConfig) (*Reaper, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("session reaper: config validation failed: %w", err)
	}
	return &Reaper{cfg: cfg}, nil
}

// Run sweeps the store every SweepInterval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	r.cfg.Logger.WithFields(logrus.Fields{
		"sweep_interval": r.cfg.SweepInterval.String(),
		"idle_timeout":   r.cfg.IdleTimeout.String(),
	}).Info("starting session reaper")
	defer r.cfg.Logger.Info("stopped session reaper")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.cfg.Clock.After(r.cfg.SweepInterval):
			if n := r.cfg.Store.EvictIdleOlderThan(r.cfg.IdleTimeout); n > 0 {
				r.cfg.Logger.WithFields(logrus.Fields{
					"evicted":   n,
					"remaining": r.cfg.Store.Len(),
				}).Info("evicted idle search sessions")
			}
		}
	}
}
