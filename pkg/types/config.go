// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// HTTPConfig holds shared HTTP settings used by components that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "bookbuddy/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

// CatalogConfig holds settings for the upstream catalog client.
type CatalogConfig struct {
	HTTPConfig `yaml:",inline"`

	// APIKey is the Google Books API key. Detail lookups try the public
	// endpoint first and fall back to the key.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// RequestsPerSecond bounds the upstream call rate (default 5).
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`

	// Burst is the rate limiter burst size (default 5).
	Burst int `json:"burst" yaml:"burst"`

	// MaxRetries is the number of retries on HTTP 429/5xx (default 3).
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// RetryBaseDelay is the first backoff delay; it doubles per attempt.
	RetryBaseDelay time.Duration `json:"retry_base_delay" yaml:"retry_base_delay"`
}

// ValidatorMode selects the Validator implementation.
type ValidatorMode string

const (
	ValidatorHTTP  ValidatorMode = "http"
	ValidatorRules ValidatorMode = "rules"
	ValidatorNone  ValidatorMode = "none"
)

// ValidatorConfig holds settings for candidate validation.
type ValidatorConfig struct {
	HTTPConfig `yaml:",inline"`

	// Mode selects the validator: http, rules, or none.
	Mode ValidatorMode `json:"mode" yaml:"mode"`

	// URL is the endpoint of the remote validation service (mode http).
	URL string `json:"url" yaml:"url"`

	// Token is sent as a bearer token to the remote validation service.
	Token string `json:"token,omitempty" yaml:"token,omitempty"`

	// Language is the language code required by the rule validator (default "en").
	Language string `json:"language" yaml:"language"`

	// Workers bounds concurrent detail lookups in the rule validator (default 8).
	Workers int `json:"workers" yaml:"workers"`
}

// SessionConfig holds settings for the search session store.
type SessionConfig struct {
	// IdleTimeout is how long a session may go untouched before eviction (default 30m).
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`

	// SweepInterval is the period of the background reaper (default 1m).
	SweepInterval time.Duration `json:"sweep_interval" yaml:"sweep_interval"`

	// Shards is the number of session map shards, rounded up to a power of two (default 32).
	Shards int `json:"shards" yaml:"shards"`
}

// SearchConfig holds settings for page assembly.
type SearchConfig struct {
	// ChunkSize is the number of candidates requested per upstream call (default 40).
	ChunkSize int `json:"chunk_size" yaml:"chunk_size"`

	// DefaultPageSize is used when a request does not name a page size (default 20).
	DefaultPageSize int `json:"default_page_size" yaml:"default_page_size"`

	// MaxPageSize caps the requested page size (default 40).
	MaxPageSize int `json:"max_page_size" yaml:"max_page_size"`

	// CallTimeout bounds each upstream fetch and validator call (default 10s).
	CallTimeout time.Duration `json:"call_timeout" yaml:"call_timeout"`

	// DetailWorkers bounds concurrent detail lookups per page (default 8).
	DetailWorkers int `json:"detail_workers" yaml:"detail_workers"`

	// MaxChunksPerPage bounds upstream calls per page request (default 10).
	// A page cut short by the bound still reports a next page.
	MaxChunksPerPage int `json:"max_chunks_per_page" yaml:"max_chunks_per_page"`
}

// CacheConfig holds settings for the book detail cache.
type CacheConfig struct {
	// Path is the SQLite database file. Empty disables persistence.
	Path string `json:"path" yaml:"path"`

	// Size is the number of entries kept in memory (default 1000).
	Size int `json:"size" yaml:"size"`

	// TTL is how long a cached detail stays fresh (default 24h).
	TTL time.Duration `json:"ttl" yaml:"ttl"`
}

// ServerConfig holds settings for the HTTP surface.
type ServerConfig struct {
	// ListenAddr is the address the API listens on (default ":8080").
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `json:"level" yaml:"level"`

	// Format selects the formatter: text or json.
	Format string `json:"format" yaml:"format"`
}

// ServiceConfig groups all component configurations.
type ServiceConfig struct {
	Catalog   CatalogConfig   `json:"catalog" yaml:"catalog"`
	Validator ValidatorConfig `json:"validator" yaml:"validator"`
	Session   SessionConfig   `json:"session" yaml:"session"`
	Search    SearchConfig    `json:"search" yaml:"search"`
	Cache     CacheConfig     `json:"cache" yaml:"cache"`
	Server    ServerConfig    `json:"server" yaml:"server"`
	Log       LogConfig       `json:"log" yaml:"log"`
}
