// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package httputil provides the HTTP retry policy shared by the catalog and
// validator clients.
package httputil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultMaxRetries = 3
	defaultBaseDelay  = 500 * time.Millisecond
	maxBackoff        = 30 * time.Second
)

// Retrier executes requests and retries on HTTP 429 and 5xx with
// exponential backoff. A Retry-After header on a 429 overrides the computed
// delay when it is longer.
type Retrier struct {
	Client *http.Client

	// MaxRetries bounds retries after the first attempt. Zero means 3.
	MaxRetries int

	// BaseDelay is the first backoff; it doubles each attempt. Zero means
	// 500 ms.
	BaseDelay time.Duration

	Logger *logrus.Entry
}

// Do sends req, retrying retryable statuses. Requests with a body must set
// GetBody so the body can be replayed; http.NewRequest does this for the
// common in-memory readers.
//
// After exhausting retries the last response is returned as-is so the caller
// can inspect it. If ctx is cancelled during a backoff wait Do returns
// ctx.Err().
func (r *Retrier) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	maxRetries := r.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	base := r.BaseDelay
	if base <= 0 {
		base = defaultBaseDelay
	}

	for attempt := 0; ; attempt++ {
		attemptReq := req.Clone(ctx)
		if req.Body != nil && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("replaying request body: %w", err)
			}
			attemptReq.Body = body
		}

		resp, err := client.Do(attemptReq)
		if err != nil {
			return nil, err
		}
		replayable := req.Body == nil || req.GetBody != nil
		if !Retryable(resp.StatusCode) || attempt >= maxRetries || !replayable {
			return resp, nil
		}

		backoff := time.Duration(math.Pow(2, float64(attempt))) * base
		if after := retryAfter(resp); after > backoff {
			backoff = after
		}
		backoff = min(backoff, maxBackoff)

		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if r.Logger != nil {
			r.Logger.WithFields(logrus.Fields{
				"url":     req.URL.Redacted(),
				"status":  resp.StatusCode,
				"attempt": attempt + 1,
				"backoff": backoff.String(),
			}).Warn("retrying upstream request")
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// Retryable reports whether a response status is worth retrying.
func Retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// StatusError is returned by clients when a response has an unexpected status.
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned status %d", e.Service, e.StatusCode)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Service, e.StatusCode, e.Body)
}

// CheckStatus returns a *StatusError for any non-2xx response, including up
// to 512 bytes of the body. It does not close the body.
func CheckStatus(service string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Service: service, StatusCode: resp.StatusCode, Body: string(snippet)}
}

// IsStatus reports whether err is a *StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}
