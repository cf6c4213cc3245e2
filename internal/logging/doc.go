// Package logging provides structured logging utilities for discord-gate.
//
// All log output goes through the standard library's slog package. This
// package adds handler construction and a small set of attribute helpers so
// that every component uses the same keys.
//
// # Usage Patterns
//
// Build the process logger once at startup:
//
//	logger := logging.New(os.Stderr, logging.Options{Level: "info", Format: "json"})
//	slog.SetDefault(logger)
//
// Attach consistent attributes:
//
//	logger.Info("gate decision",
//	    logging.Subject(payload.SubjectID),
//	    logging.Guild(policy.GuildID),
//	    logging.Status(logging.StatusDenied))
//
// # Security Considerations
//
//   - Subject ids are hashed before they reach a log line
//   - Emails are hashed, only the domain is logged in clear
//   - Discord access tokens and session tokens are never logged; use SanitizeToken
//   - IP addresses in upstream error messages are redacted with SanitizedErr
package logging
