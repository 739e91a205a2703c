// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package validate decides which candidate volumes may be shown to users.
//
// Three validators are provided: HTTPValidator calls a remote validation
// service, RuleValidator applies local completeness rules to full volume
// metadata, and AllowAll admits everything.
package validate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/bookbuddy-search/internal/httputil"
	"github.com/pdiddy/bookbuddy-search/internal/search"
	"github.com/pdiddy/bookbuddy-search/pkg/types"
)

const (
	serviceName = "validation service"

	defaultTimeout  = 10 * time.Second
	defaultLanguage = "en"
	defaultWorkers  = 8
)

// New returns the validator selected by cfg.Mode. The rule validator
// resolves candidates through details.
func New(cfg types.ValidatorConfig, details search.DetailSource, logger *logrus.Entry) (search.Validator, error) {
	switch cfg.Mode {
	case types.ValidatorHTTP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("validator mode %q requires a url", cfg.Mode)
		}
		return NewHTTPValidator(cfg, logger), nil
	case types.ValidatorRules, "":
		if details == nil {
			return nil, fmt.Errorf("validator mode %q requires a detail source", types.ValidatorRules)
		}
		return NewRuleValidator(cfg, details, logger), nil
	case types.ValidatorNone:
		return AllowAll{}, nil
	default:
		return nil, fmt.Errorf("unknown validator mode %q", cfg.Mode)
	}
}

// AllowAll admits every identifier.
type AllowAll struct{}

// ValidateBatch marks every id admissible.
func (AllowAll) ValidateBatch(_ context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

// HTTPValidator asks a remote service which identifiers are admissible.
// The service receives {"googleBooksIds": [...]} and answers with an object
// mapping each id to a boolean.
type HTTPValidator struct {
	url    string
	token  string
	agent  string
	http   *httputil.Retrier
	logger *logrus.Entry
}

// NewHTTPValidator creates a remote validator.
func NewHTTPValidator(cfg types.ValidatorConfig, logger *logrus.Entry) *HTTPValidator {
	if logger == nil {
		logger = logrus.NewEntry(&logrus.Logger{Out: io.Discard})
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger = logger.WithField("component", "validator")
	return &HTTPValidator{
		url:   cfg.URL,
		token: cfg.Token,
		agent: cfg.UserAgent,
		http: &httputil.Retrier{
			Client:     &http.Client{Timeout: timeout},
			MaxRetries: 2,
			Logger:     logger,
		},
		logger: logger,
	}
}

type validateRequest struct {
	GoogleBooksIDs []string `json:"googleBooksIds"`
}

// ValidateBatch posts ids to the service. Any transport, status or decoding
// failure fails the whole batch.
func (v *HTTPValidator) ValidateBatch(ctx context.Context, ids []string) (map[string]bool, error) {
	if len(ids) == 0 {
		return map[string]bool{}, nil
	}

	body, err := json.Marshal(validateRequest{GoogleBooksIDs: ids})
	if err != nil {
		return nil, fmt.Errorf("encoding validation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if v.token != "" {
		req.Header.Set("Authorization", "Bearer "+v.token)
	}
	if v.agent != "" {
		req.Header.Set("User-Agent", v.agent)
	}

	resp, err := v.http.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", search.ErrValidationUnavailable, err)
	}
	defer resp.Body.Close()

	if err := httputil.CheckStatus(serviceName, resp); err != nil {
		return nil, fmt.Errorf("%w: %v", search.ErrValidationUnavailable, err)
	}

	var verdicts map[string]bool
	if err := json.NewDecoder(resp.Body).Decode(&verdicts); err != nil {
		return nil, fmt.Errorf("%w: parsing response: %v", search.ErrValidationUnavailable, err)
	}
	if verdicts == nil {
		verdicts = map[string]bool{}
	}

	v.logger.WithFields(logrus.Fields{
		"batch":   len(ids),
		"answers": len(verdicts),
	}).Debug("validated batch")
	return verdicts, nil
}

// RuleValidator admits a volume when its full metadata is complete enough
// to display: the lookup succeeds, the language matches, the title is real,
// and publisher, description and thumbnail are present.
type RuleValidator struct {
	details       search.DetailSource
	language      string
	workers       int
	lookupTimeout time.Duration
	logger        *logrus.Entry
}

// NewRuleValidator creates a local validator over details.
func NewRuleValidator(cfg types.ValidatorConfig, details search.DetailSource, logger *logrus.Entry) *RuleValidator {
	if logger == nil {
		logger = logrus.NewEntry(&logrus.Logger{Out: io.Discard})
	}
	language := cfg.Language
	if language == "" {
		language = defaultLanguage
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	lookupTimeout := cfg.Timeout
	if lookupTimeout <= 0 {
		lookupTimeout = defaultTimeout
	}
	return &RuleValidator{
		details:       details,
		language:      language,
		workers:       workers,
		lookupTimeout: lookupTimeout,
		logger:        logger.WithField("component", "validator"),
	}
}

// ValidateBatch looks up every id concurrently. Each lookup runs under its
// own deadline, measured from when it starts, so ids queued behind a slow
// or rate-limited catalog are not rejected for waiting. A failed lookup
// rejects that id only; the batch never fails.
func (v *RuleValidator) ValidateBatch(ctx context.Context, ids []string) (map[string]bool, error) {
	verdicts := make([]bool, len(ids))

	var g errgroup.Group
	g.SetLimit(v.workers)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), v.lookupTimeout)
			defer cancel()

			b, err := v.details.FetchDetail(lookupCtx, id)
			if err != nil {
				v.logger.WithError(err).WithField("id", id).Debug("rejecting candidate: lookup failed")
				return nil
			}
			if reason := v.reject(b); reason != "" {
				v.logger.WithFields(logrus.Fields{"id": id, "reason": reason}).Debug("rejecting candidate")
				return nil
			}
			verdicts[i] = true
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]bool, len(ids))
	for i, id := range ids {
		out[id] = verdicts[i]
	}
	return out, nil
}

// reject returns why b is inadmissible, or "" when it is admissible.
func (v *RuleValidator) reject(b types.Book) string {
	if !strings.EqualFold(b.Language, v.language) {
		return "language"
	}
	switch strings.ToLower(strings.TrimSpace(b.Title)) {
	case "", "error", "untitled":
		return "title"
	}
	if strings.TrimSpace(b.Publisher) == "" {
		return "publisher"
	}
	if strings.TrimSpace(b.Description) == "" {
		return "description"
	}
	if b.Thumbnail == "" {
		return "thumbnail"
	}
	return ""
}
