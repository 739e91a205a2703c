// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/pdiddy/bookbuddy-search/internal/bookcache"
	"github.com/pdiddy/bookbuddy-search/internal/googlebooks"
	"github.com/pdiddy/bookbuddy-search/internal/search"
	"github.com/pdiddy/bookbuddy-search/internal/secrets"
	"github.com/pdiddy/bookbuddy-search/internal/validate"
	"github.com/pdiddy/bookbuddy-search/pkg/types"
)

func setDefaults() {
	viper.SetDefault("secrets_dir", ".secrets/")

	viper.SetDefault("catalog.timeout", 15*time.Second)
	viper.SetDefault("catalog.user_agent", "bookbuddy/"+version)
	viper.SetDefault("catalog.requests_per_second", 5.0)
	viper.SetDefault("catalog.burst", 5)
	viper.SetDefault("catalog.max_retries", 3)
	viper.SetDefault("catalog.retry_base_delay", 500*time.Millisecond)

	viper.SetDefault("validator.mode", string(types.ValidatorRules))
	viper.SetDefault("validator.timeout", 10*time.Second)
	viper.SetDefault("validator.language", "en")
	viper.SetDefault("validator.workers", 8)

	viper.SetDefault("session.idle_timeout", 30*time.Minute)
	viper.SetDefault("session.sweep_interval", time.Minute)
	viper.SetDefault("session.shards", 32)

	viper.SetDefault("search.chunk_size", search.MaxChunkSize)
	viper.SetDefault("search.default_page_size", 20)
	viper.SetDefault("search.max_page_size", 40)
	viper.SetDefault("search.call_timeout", 10*time.Second)
	viper.SetDefault("search.detail_workers", 8)
	viper.SetDefault("search.max_chunks_per_page", 10)

	viper.SetDefault("cache.path", ".cache/bookbuddy.db")
	viper.SetDefault("cache.size", 1000)
	viper.SetDefault("cache.ttl", 24*time.Hour)

	viper.SetDefault("server.listen_addr", ":8080")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
}

// serviceConfig assembles the typed configuration from viper and the loaded
// secrets. Explicit config values take precedence over secrets.
func serviceConfig() types.ServiceConfig {
	return types.ServiceConfig{
		Catalog: types.CatalogConfig{
			HTTPConfig: types.HTTPConfig{
				Timeout:   viper.GetDuration("catalog.timeout"),
				UserAgent: viper.GetString("catalog.user_agent"),
			},
			APIKey:            secretDefault(secrets.GoogleBooksAPIKey, viper.GetString("catalog.api_key")),
			RequestsPerSecond: viper.GetFloat64("catalog.requests_per_second"),
			Burst:             viper.GetInt("catalog.burst"),
			MaxRetries:        viper.GetInt("catalog.max_retries"),
			RetryBaseDelay:    viper.GetDuration("catalog.retry_base_delay"),
		},
		Validator: types.ValidatorConfig{
			HTTPConfig: types.HTTPConfig{
				Timeout:   viper.GetDuration("validator.timeout"),
				UserAgent: viper.GetString("catalog.user_agent"),
			},
			Mode:     types.ValidatorMode(strings.ToLower(viper.GetString("validator.mode"))),
			URL:      viper.GetString("validator.url"),
			Token:    secretDefault(secrets.ValidatorToken, viper.GetString("validator.token")),
			Language: viper.GetString("validator.language"),
			Workers:  viper.GetInt("validator.workers"),
		},
		Session: types.SessionConfig{
			IdleTimeout:   viper.GetDuration("session.idle_timeout"),
			SweepInterval: viper.GetDuration("session.sweep_interval"),
			Shards:        viper.GetInt("session.shards"),
		},
		Search: types.SearchConfig{
			ChunkSize:        viper.GetInt("search.chunk_size"),
			DefaultPageSize:  viper.GetInt("search.default_page_size"),
			MaxPageSize:      viper.GetInt("search.max_page_size"),
			CallTimeout:      viper.GetDuration("search.call_timeout"),
			DetailWorkers:    viper.GetInt("search.detail_workers"),
			MaxChunksPerPage: viper.GetInt("search.max_chunks_per_page"),
		},
		Cache: types.CacheConfig{
			Path: viper.GetString("cache.path"),
			Size: viper.GetInt("cache.size"),
			TTL:  viper.GetDuration("cache.ttl"),
		},
		Server: types.ServerConfig{
			ListenAddr: viper.GetString("server.listen_addr"),
		},
		Log: types.LogConfig{
			Level:  viper.GetString("log.level"),
			Format: viper.GetString("log.format"),
		},
	}
}

// secretDefault returns configured if set, otherwise the secret value for key.
func secretDefault(key, configured string) string {
	if configured != "" {
		return configured
	}
	return loadedSecrets.Get(key, "")
}

func newLogger(level, format string) *logrus.Entry {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	if lvl, err := logrus.ParseLevel(level); err == nil {
		l.SetLevel(lvl)
	}
	if strings.EqualFold(format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logrus.NewEntry(l)
}

// backend holds the wired search components.
type backend struct {
	cache  *bookcache.Cache
	store  *search.Store
	engine *search.Engine
}

// newBackend wires catalog, cache, validator, session store and engine.
// reg may be nil, in which case metrics are not registered.
func newBackend(cfg types.ServiceConfig, reg prometheus.Registerer) (*backend, error) {
	catalog := googlebooks.New(cfg.Catalog, logger)

	cache, err := bookcache.New(bookcache.Config{
		Source: catalog,
		Path:   cfg.Cache.Path,
		Size:   cfg.Cache.Size,
		TTL:    cfg.Cache.TTL,
		Logger: logger.WithField("component", "bookcache"),
	})
	if err != nil {
		return nil, err
	}

	validator, err := validate.New(cfg.Validator, cache, logger)
	if err != nil {
		cache.Close()
		return nil, err
	}

	var metrics *search.Metrics
	if reg != nil {
		metrics = search.NewMetrics(reg)
	}

	store, err := search.NewStore(search.StoreConfig{
		IdleTimeout: cfg.Session.IdleTimeout,
		Shards:      cfg.Session.Shards,
		Metrics:     metrics,
		Logger:      logger.WithField("component", "sessions"),
	})
	if err != nil {
		cache.Close()
		return nil, err
	}
	if reg != nil {
		search.RegisterSessionGauge(reg, store)
	}

	engine, err := search.NewEngine(search.Config{
		Upstream:         catalog,
		Details:          cache,
		Validator:        validator,
		Store:            store,
		ChunkSize:        cfg.Search.ChunkSize,
		DefaultPageSize:  cfg.Search.DefaultPageSize,
		MaxPageSize:      cfg.Search.MaxPageSize,
		CallTimeout:      cfg.Search.CallTimeout,
		DetailWorkers:    cfg.Search.DetailWorkers,
		MaxChunksPerPage: cfg.Search.MaxChunksPerPage,
		Metrics:          metrics,
		Logger:           logger.WithField("component", "search"),
	})
	if err != nil {
		cache.Close()
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"validator": cfg.Validator.Mode,
		"cache":     cfg.Cache.Path,
		"api_key":   cfg.Catalog.APIKey != "",
	}).Debug("search backend ready")

	return &backend{cache: cache, store: store, engine: engine}, nil
}

func (b *backend) Close() error {
	if err := b.cache.Close(); err != nil {
		return fmt.Errorf("closing cache: %w", err)
	}
	return nil
}
