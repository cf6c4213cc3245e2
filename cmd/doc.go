// Package cmd provides the command-line interface for discord-gate.
//
// This package implements a Cobra-based CLI with these subcommands:
//   - serve: Starts the gate server (default behavior when no subcommand is provided)
//   - version: Displays the application version
//   - self-update: Updates the binary to the latest version from GitHub releases
//
// Command Structure:
//
//	discord-gate [flags]                 # Starts the gate server (default)
//	discord-gate serve [flags]           # Explicitly starts the gate server
//	discord-gate version                 # Shows version information
//	discord-gate self-update             # Updates to latest release
//
// The serve command is configured from the environment, optionally seeded
// from a dotenv file (--env-file, default ".env"). Variables already set in
// the process environment take precedence over the file:
//
//	CLIENT_ID, CLIENT_SECRET, CLIENT_REDIRECT_URI   Discord application (required)
//	JWT_SECRET                                      session signing secret (required)
//	GUILD_ID, ROLE_ID                               access policy (required)
//	HOST, PORT                                      listen address (127.0.0.1:8080)
//	UPSTREAM_TIMEOUT                                per-call Discord timeout (10s)
//	DISCORD_API_BASE_URL                            Discord API override
//	COOKIE_SECURE, ENABLE_HSTS                      TLS-facing deployments
//	METRICS_ADDR                                    dedicated metrics listener (:9090)
//	DEBUG, LOG_FORMAT                               logging
//
// Instrumentation variables (INSTRUMENTATION_ENABLED, METRICS_EXPORTER, ...)
// are read by the instrumentation package from the same environment.
package cmd
