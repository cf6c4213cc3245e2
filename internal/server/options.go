package server

import (
	"errors"
	"log/slog"

	"github.com/giantswarm/discord-gate/internal/instrumentation"
)

// Option is a functional option for configuring ServerContext.
type Option func(*ServerContext) error

// WithDiscordClient sets the upstream Discord client.
func WithDiscordClient(client DiscordClient) Option {
	return func(sc *ServerContext) error {
		if client == nil {
			return ErrMissingDiscordClient
		}
		sc.discordClient = client
		return nil
	}
}

// WithMinter sets the session credential issuer.
func WithMinter(minter SessionMinter) Option {
	return func(sc *ServerContext) error {
		if minter == nil {
			return ErrMissingMinter
		}
		sc.minter = minter
		return nil
	}
}

// WithValidator sets the access validator used by the check endpoint.
func WithValidator(validator AccessValidator) Option {
	return func(sc *ServerContext) error {
		if validator == nil {
			return ErrMissingValidator
		}
		sc.validator = validator
		return nil
	}
}

// WithLogger sets the logger for the ServerContext.
func WithLogger(logger *slog.Logger) Option {
	return func(sc *ServerContext) error {
		if logger == nil {
			return ErrMissingLogger
		}
		sc.logger = logger
		return nil
	}
}

// WithConfig sets the configuration for the ServerContext.
func WithConfig(config *Config) Option {
	return func(sc *ServerContext) error {
		if config == nil {
			return ErrMissingConfig
		}
		sc.config = config.Clone()
		if sc.config.CookieName == "" {
			sc.config.CookieName = DefaultCookieName
		}
		return nil
	}
}

// WithVersion sets the version reported by the health endpoints.
func WithVersion(version string) Option {
	return func(sc *ServerContext) error {
		if sc.config == nil {
			sc.config = NewDefaultConfig()
		}
		sc.config.Version = version
		return nil
	}
}

// WithInstrumentationProvider sets the OpenTelemetry instrumentation provider.
func WithInstrumentationProvider(provider *instrumentation.Provider) Option {
	return func(sc *ServerContext) error {
		sc.instrumentationProvider = provider
		return nil
	}
}

// Error definitions for ServerContext validation and operations.
var (
	ErrMissingDiscordClient = errors.New("discord client is required")
	ErrMissingMinter        = errors.New("session minter is required")
	ErrMissingValidator     = errors.New("access validator is required")
	ErrMissingLogger        = errors.New("logger is required")
	ErrMissingConfig        = errors.New("configuration is required")
	ErrServerShutdown       = errors.New("server context has been shutdown")
)
