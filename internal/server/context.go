package server

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/giantswarm/discord-gate/internal/discord"
	"github.com/giantswarm/discord-gate/internal/gate"
	"github.com/giantswarm/discord-gate/internal/instrumentation"
)

// DiscordClient is the part of the Discord client used by the HTTP handlers
// and health checks. Implemented by *discord.Client.
type DiscordClient interface {
	LoginURL() string
	Exchange(ctx context.Context, code string) (string, error)
	CurrentUser(ctx context.Context, token string) (*discord.User, error)
	Ready() bool
	Close()
}

// SessionMinter issues session credentials. Implemented by *session.Codec.
type SessionMinter interface {
	Mint(subjectID int64, upstreamToken string) (string, error)
	Lifetime() time.Duration
}

// AccessValidator decides whether a session credential grants access.
// Implemented by *gate.Validator.
type AccessValidator interface {
	Validate(ctx context.Context, credential string) (gate.Decision, error)
}

// ServerContext encapsulates all dependencies needed by the gate server
// and provides a clean abstraction for dependency injection and lifecycle management.
type ServerContext struct {
	// Core dependencies
	discordClient DiscordClient
	minter        SessionMinter
	validator     AccessValidator
	logger        *slog.Logger
	config        *Config

	// OpenTelemetry instrumentation
	instrumentationProvider *instrumentation.Provider

	// Context management
	ctx    context.Context
	cancel context.CancelFunc

	// Lifecycle management
	mu       sync.RWMutex
	shutdown bool
}

// NewServerContext creates a new ServerContext with default values.
// Use the provided functional options to customize the context.
func NewServerContext(ctx context.Context, opts ...Option) (*ServerContext, error) {
	serverCtx, cancel := context.WithCancel(ctx)

	sc := &ServerContext{
		ctx:    serverCtx,
		cancel: cancel,
		config: NewDefaultConfig(),
		logger: slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(sc); err != nil {
			cancel()
			return nil, err
		}
	}

	if err := sc.validate(); err != nil {
		cancel()
		return nil, err
	}

	return sc, nil
}

// Context returns the server context for cancellation and deadlines.
func (sc *ServerContext) Context() context.Context {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.ctx
}

// DiscordClient returns the upstream client.
func (sc *ServerContext) DiscordClient() DiscordClient {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.discordClient
}

// Minter returns the session credential issuer.
func (sc *ServerContext) Minter() SessionMinter {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.minter
}

// Validator returns the access validator.
func (sc *ServerContext) Validator() AccessValidator {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.validator
}

// Logger returns the logger.
func (sc *ServerContext) Logger() *slog.Logger {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.logger
}

// Config returns the server configuration.
func (sc *ServerContext) Config() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config
}

// InstrumentationProvider returns the instrumentation provider, or nil.
func (sc *ServerContext) InstrumentationProvider() *instrumentation.Provider {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.instrumentationProvider
}

// Metrics returns the metrics recorder. Never nil.
func (sc *ServerContext) Metrics() *instrumentation.Metrics {
	return sc.InstrumentationProvider().Metrics()
}

// UpstreamReady reports whether the Discord client can serve requests.
func (sc *ServerContext) UpstreamReady() bool {
	client := sc.DiscordClient()
	return client != nil && client.Ready()
}

// Shutdown gracefully shuts down the server context.
// This closes the Discord client and cancels the context.
func (sc *ServerContext) Shutdown() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.shutdown {
		return nil
	}

	sc.logger.Info("Shutting down server context")

	if sc.discordClient != nil {
		sc.discordClient.Close()
	}

	if sc.cancel != nil {
		sc.cancel()
	}

	sc.shutdown = true

	sc.logger.Info("Server context shutdown complete")
	return nil
}

// IsShutdown returns true if the server context has been shutdown.
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// validate ensures all required dependencies are set.
func (sc *ServerContext) validate() error {
	if sc.discordClient == nil {
		return ErrMissingDiscordClient
	}
	if sc.minter == nil {
		return ErrMissingMinter
	}
	if sc.validator == nil {
		return ErrMissingValidator
	}
	if sc.logger == nil {
		return ErrMissingLogger
	}
	if sc.config == nil {
		return ErrMissingConfig
	}
	return nil
}

// DefaultCookieName is the cookie carrying the session credential.
const DefaultCookieName = "_auth_token"

// Config holds the server configuration.
type Config struct {
	// Server settings
	ServerName string `json:"serverName"`
	Version    string `json:"version"`
	Host       string `json:"host"`
	Port       int    `json:"port"`

	// Cookie settings
	CookieName   string `json:"cookieName"`
	CookieSecure bool   `json:"cookieSecure"`

	// HTTP security settings
	EnableHSTS bool `json:"enableHSTS"`

	// Logging settings
	LogLevel  string `json:"logLevel"`
	LogFormat string `json:"logFormat"`
}

// NewDefaultConfig creates a configuration with sensible defaults.
func NewDefaultConfig() *Config {
	return &Config{
		ServerName: "discord-gate",
		Version:    "dev",
		Host:       "127.0.0.1",
		Port:       8080,
		CookieName: DefaultCookieName,
		LogLevel:   "info",
		LogFormat:  "text",
	}
}

// Addr returns the host:port the gate listens on.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Clone creates a copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}
