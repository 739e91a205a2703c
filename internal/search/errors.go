// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import "errors"

// Pagination contract violations. These are client errors.
var (
	// ErrInvalidPaginationRequest is returned when a page beyond the first
	// is requested without a search token, or the page number is not positive.
	ErrInvalidPaginationRequest = errors.New("invalid pagination request")

	// ErrUnknownOrExpiredSession is returned for a page beyond the first
	// whose token is not (or no longer) registered.
	ErrUnknownOrExpiredSession = errors.New("unknown or expired search session")

	// ErrSessionOwnershipMismatch is returned when a token belongs to a
	// different user.
	ErrSessionOwnershipMismatch = errors.New("search session belongs to another user")
)

// Collaborator failures.
var (
	// ErrUpstreamUnavailable is returned when no candidates could be
	// collected because the catalog could not be reached. It is retryable.
	ErrUpstreamUnavailable = errors.New("upstream catalog unavailable")

	// ErrValidationUnavailable marks a failed validation batch. The engine
	// absorbs it by treating the batch as inadmissible.
	ErrValidationUnavailable = errors.New("validation service unavailable")
)

// IsClientError reports whether err is a pagination contract violation.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidPaginationRequest) ||
		errors.Is(err, ErrUnknownOrExpiredSession) ||
		errors.Is(err, ErrSessionOwnershipMismatch)
}
