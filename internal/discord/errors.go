package discord

import (
	"errors"
	"fmt"
)

// Sentinel errors for Discord API failures.
// These errors can be checked using errors.Is() for programmatic error handling.
var (
	// ErrUnauthorized indicates Discord rejected the access token or the
	// authorization code (HTTP 401, or invalid_grant from the token endpoint).
	ErrUnauthorized = errors.New("discord: unauthorized")

	// ErrRateLimited is the sentinel matched by every *RateLimitedError.
	ErrRateLimited = errors.New("discord: rate limited")

	// ErrClientNotInitialized indicates an API call before Init or after Close.
	ErrClientNotInitialized = errors.New("discord: client session not initialized")
)

// RateLimitedError carries Discord's HTTP 429 details. RetryAfter is passed
// through unchanged from the response.
type RateLimitedError struct {
	// RetryAfter is the number of seconds to wait, as sent by Discord.
	RetryAfter float64

	// Message is Discord's human readable message.
	Message string

	// Global is true when the limit applies to the whole application.
	Global bool
}

// Error implements the error interface.
func (e *RateLimitedError) Error() string {
	scope := "route"
	if e.Global {
		scope = "global"
	}
	return fmt.Sprintf("discord: %s rate limit, retry after %gs: %s", scope, e.RetryAfter, e.Message)
}

// Unwrap returns ErrRateLimited for use with errors.Is().
func (e *RateLimitedError) Unwrap() error {
	return ErrRateLimited
}

// APIError is any other non-2xx response from Discord.
type APIError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("discord: unexpected status %d: %s", e.StatusCode, e.Body)
}
