// Package discord is a small client for the parts of the Discord API the gate
// needs: the OAuth2 authorization code flow, the current user, the user's
// guild list and the user's membership record in one guild.
//
// Calls are made with the end user's access token. Every call is bounded by
// Config.RequestTimeout and is never retried. HTTP 401 maps to
// ErrUnauthorized and HTTP 429 to *RateLimitedError with Discord's
// retry_after passed through unchanged.
package discord
