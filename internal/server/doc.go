// Package server provides the ServerContext pattern and the HTTP surface of
// the Discord gate.
//
// This package implements:
//
//   - ServerContext: Encapsulates all server dependencies and lifecycle management
//   - Functional Options: Clean dependency injection and configuration
//   - GateHTTPServer: The login, callback and check endpoints plus health probes
//   - MetricsServer: A separate listener for Prometheus metrics
//
// The ServerContext Pattern:
//
// ServerContext holds the Discord client, the session minter, the access
// validator, the logger, the configuration and the instrumentation provider.
// Handlers read dependencies through it and never construct their own.
//
// Example usage:
//
//	serverCtx, err := NewServerContext(ctx,
//		WithDiscordClient(discordClient),
//		WithMinter(codec),
//		WithValidator(validator),
//		WithLogger(logger),
//		WithConfig(cfg),
//	)
//	if err != nil {
//		return err
//	}
//
//	gateServer, err := NewGateHTTPServer(serverCtx)
//	if err != nil {
//		return err
//	}
//	go func() { _ = gateServer.Start(cfg.Addr()) }()
//	defer gateServer.Shutdown(shutdownCtx)
//
// Endpoints:
//
//   - GET /_oauth2/login: HTML page refreshing to the Discord authorization URL
//   - GET /_oauth2/callback: exchanges the code, sets the session cookie and
//     redirects to the check endpoint
//   - GET /_oauth2/check: 200 when the session grants access, 401 otherwise
//   - GET /healthz, /readyz, /healthz/detailed: probes
//
// Upstream failures map to a fixed JSON contract: 401 Unauthorized,
// 429 RateLimited with the retry delay, and 500 Internal Error for
// everything else.
package server
