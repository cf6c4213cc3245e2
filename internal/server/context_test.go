package server

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/discord-gate/internal/discord"
	"github.com/giantswarm/discord-gate/internal/gate"
)

// stubClient is a DiscordClient that records Close.
type stubClient struct {
	ready  bool
	closed int
}

func (s *stubClient) LoginURL() string { return testAuthURL }

func (s *stubClient) Exchange(context.Context, string) (string, error) {
	return testAccessToken, nil
}

func (s *stubClient) CurrentUser(context.Context, string) (*discord.User, error) {
	return &discord.User{ID: testUserID}, nil
}

func (s *stubClient) Ready() bool { return s.ready && s.closed == 0 }

func (s *stubClient) Close() { s.closed++ }

type stubMinter struct{}

func (stubMinter) Mint(int64, string) (string, error) { return "minted", nil }

func (stubMinter) Lifetime() time.Duration { return time.Hour }

type stubValidator struct {
	decision gate.Decision
	err      error
}

func (s stubValidator) Validate(context.Context, string) (gate.Decision, error) {
	return s.decision, s.err
}

func stubOptions(client DiscordClient) []Option {
	return []Option{
		WithDiscordClient(client),
		WithMinter(stubMinter{}),
		WithValidator(stubValidator{}),
	}
}

func TestNewServerContext(t *testing.T) {
	tests := []struct {
		name    string
		opts    []Option
		wantErr error
	}{
		{
			name: "all dependencies",
			opts: stubOptions(&stubClient{}),
		},
		{
			name:    "missing discord client",
			opts:    []Option{WithMinter(stubMinter{}), WithValidator(stubValidator{})},
			wantErr: ErrMissingDiscordClient,
		},
		{
			name:    "missing minter",
			opts:    []Option{WithDiscordClient(&stubClient{}), WithValidator(stubValidator{})},
			wantErr: ErrMissingMinter,
		},
		{
			name:    "missing validator",
			opts:    []Option{WithDiscordClient(&stubClient{}), WithMinter(stubMinter{})},
			wantErr: ErrMissingValidator,
		},
		{
			name:    "nil discord client option",
			opts:    append(stubOptions(&stubClient{}), WithDiscordClient(nil)),
			wantErr: ErrMissingDiscordClient,
		},
		{
			name:    "nil logger option",
			opts:    append(stubOptions(&stubClient{}), WithLogger(nil)),
			wantErr: ErrMissingLogger,
		},
		{
			name:    "nil config option",
			opts:    append(stubOptions(&stubClient{}), WithConfig(nil)),
			wantErr: ErrMissingConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc, err := NewServerContext(context.Background(), tt.opts...)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, sc)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, sc.Logger())
			assert.Equal(t, NewDefaultConfig(), sc.Config())
			assert.Nil(t, sc.InstrumentationProvider())
			assert.NotNil(t, sc.Metrics(), "metrics are never nil")
		})
	}
}

func TestWithConfig_ClonesAndDefaults(t *testing.T) {
	cfg := &Config{Host: "0.0.0.0", Port: 9000}

	sc, err := NewServerContext(context.Background(), append(stubOptions(&stubClient{}), WithConfig(cfg))...)
	require.NoError(t, err)

	cfg.Port = 1
	assert.Equal(t, 9000, sc.Config().Port, "config is copied")
	assert.Equal(t, DefaultCookieName, sc.Config().CookieName)
	assert.Equal(t, "0.0.0.0:9000", sc.Config().Addr())
}

func TestWithVersion(t *testing.T) {
	sc, err := NewServerContext(context.Background(), append(stubOptions(&stubClient{}), WithVersion("1.2.3"))...)
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", sc.Config().Version)
}

func TestWithLogger(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	sc, err := NewServerContext(context.Background(), append(stubOptions(&stubClient{}), WithLogger(logger))...)
	require.NoError(t, err)
	assert.Same(t, logger, sc.Logger())
}

func TestServerContext_Shutdown(t *testing.T) {
	client := &stubClient{ready: true}
	sc, err := NewServerContext(context.Background(), stubOptions(client)...)
	require.NoError(t, err)

	assert.True(t, sc.UpstreamReady())
	assert.False(t, sc.IsShutdown())

	require.NoError(t, sc.Shutdown())
	require.NoError(t, sc.Shutdown(), "shutdown is idempotent")

	assert.True(t, sc.IsShutdown())
	assert.Equal(t, 1, client.closed, "client closed exactly once")
	assert.False(t, sc.UpstreamReady())
	assert.Error(t, sc.Context().Err(), "context cancelled")
}

func TestConfig_Clone(t *testing.T) {
	var nilCfg *Config
	assert.Nil(t, nilCfg.Clone())

	cfg := NewDefaultConfig()
	clone := cfg.Clone()
	clone.Port = 1
	assert.NotEqual(t, cfg.Port, clone.Port)
}

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.Equal(t, "127.0.0.1:8080", cfg.Addr())
	assert.Equal(t, "_auth_token", cfg.CookieName)
	assert.False(t, cfg.CookieSecure)
}
