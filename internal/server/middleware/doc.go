// Package middleware provides HTTP middleware for the gate server.
// It covers security headers, request size limits and request metrics.
package middleware
