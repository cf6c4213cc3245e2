// Package gate decides whether a session credential grants access.
//
// Access requires a verifiable credential, membership in the configured
// guild and, when Discord reports the member's roles, the configured role.
package gate
