package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/giantswarm/discord-gate/internal/instrumentation"
	"github.com/giantswarm/discord-gate/internal/logging"
)

// Default Discord endpoints and limits.
const (
	DefaultAPIBaseURL     = "https://discord.com/api/v10"
	DefaultAuthURL        = "https://discord.com/oauth2/authorize"
	DefaultTokenURL       = "https://discord.com/api/oauth2/token"
	DefaultRequestTimeout = 10 * time.Second

	// maxResponseBytes caps how much of an upstream response is read.
	maxResponseBytes = 1 << 20

	// maxErrorBodyBytes caps the body kept in an APIError.
	maxErrorBodyBytes = 512

	userAgent = "discord-gate (https://github.com/giantswarm/discord-gate)"
)

// DefaultScopes are the OAuth2 scopes requested at login.
var DefaultScopes = []string{"identify", "guilds", "guilds.members.read", "email"}

// Operation names used for spans, metrics and logs.
const (
	OperationExchange    = "exchange"
	OperationCurrentUser = "current_user"
	OperationGuilds      = "guilds"
	OperationGuildMember = "guild_member"
)

// Endpoint templates, free of ids.
const (
	endpointToken       = "/oauth2/token"
	endpointCurrentUser = "/users/@me"
	endpointGuilds      = "/users/@me/guilds"
	endpointGuildMember = "/users/@me/guilds/{guild.id}/member"
)

// Config configures a Client.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string

	// Scopes defaults to DefaultScopes.
	Scopes []string

	// APIBaseURL, AuthURL and TokenURL default to the public Discord endpoints.
	APIBaseURL string
	AuthURL    string
	TokenURL   string

	// RequestTimeout bounds each upstream call (default: 10s).
	RequestTimeout time.Duration

	// HTTPClient replaces the pooled client built by Init. Used by tests.
	HTTPClient *http.Client
}

// Option configures optional Client collaborators.
type Option func(*Client)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics *instrumentation.Metrics) Option {
	return func(c *Client) {
		c.metrics = metrics
	}
}

// Client talks to Discord's OAuth2 and user API on behalf of a user.
//
// A Client must be initialised with Init before use. It is safe for
// concurrent use once initialised.
type Client struct {
	cfg     Config
	oauth   *oauth2.Config
	logger  *slog.Logger
	metrics *instrumentation.Metrics

	// http is nil until Init and after Close.
	http atomic.Pointer[http.Client]
}

// New creates an uninitialised Client. Defaults are applied to cfg.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("discord: client id is required")
	}
	if cfg.ClientSecret == "" {
		return nil, errors.New("discord: client secret is required")
	}
	if cfg.RedirectURI == "" {
		return nil, errors.New("discord: redirect uri is required")
	}

	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	if cfg.AuthURL == "" {
		cfg.AuthURL = DefaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	c := &Client{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Init builds the shared HTTP client and marks the client ready.
// Calling Init on a ready client is a no-op.
func (c *Client) Init(_ context.Context) error {
	if c.Ready() {
		return nil
	}

	hc := c.cfg.HTTPClient
	if hc == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.MaxIdleConnsPerHost = 32
		transport.IdleConnTimeout = 90 * time.Second
		hc = &http.Client{Transport: transport}
	}

	c.http.CompareAndSwap(nil, hc)
	c.logger.Debug("discord client initialized", logging.Host(c.cfg.APIBaseURL))
	return nil
}

// Ready reports whether Init has run and Close has not.
func (c *Client) Ready() bool {
	return c.http.Load() != nil
}

// Close releases idle connections. Later calls fail with ErrClientNotInitialized.
func (c *Client) Close() {
	if hc := c.http.Swap(nil); hc != nil {
		hc.CloseIdleConnections()
	}
}

// RequestTimeout returns the per-call timeout in effect.
func (c *Client) RequestTimeout() time.Duration {
	return c.cfg.RequestTimeout
}

// LoginURL returns the Discord authorization URL users are sent to.
func (c *Client) LoginURL() string {
	return c.oauth.AuthCodeURL("")
}

// Exchange trades an authorization code for an access token.
func (c *Client) Exchange(ctx context.Context, code string) (string, error) {
	hc := c.http.Load()
	if hc == nil {
		return "", ErrClientNotInitialized
	}

	ctx, span := instrumentation.StartUpstreamSpan(ctx, OperationExchange, endpointToken)
	defer span.End()
	start := time.Now()

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	token, err := c.oauth.Exchange(context.WithValue(callCtx, oauth2.HTTPClient, hc), code)
	if err == nil && token.AccessToken == "" {
		err = errors.New("discord: token response has no access token")
	}
	if err != nil {
		err = mapTokenError(err)
	}

	c.observe(ctx, span, OperationExchange, start, err)
	if err != nil {
		return "", err
	}
	return token.AccessToken, nil
}

// CurrentUser fetches the user owning token.
func (c *Client) CurrentUser(ctx context.Context, token string) (*User, error) {
	var user User
	if err := c.get(ctx, OperationCurrentUser, endpointCurrentUser, "/users/@me", token, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Guilds lists the guilds the user owning token belongs to.
func (c *Client) Guilds(ctx context.Context, token string) ([]Guild, error) {
	var guilds []Guild
	if err := c.get(ctx, OperationGuilds, endpointGuilds, "/users/@me/guilds", token, &guilds); err != nil {
		return nil, err
	}
	return guilds, nil
}

// GuildMember fetches the membership record of the token's user in guildID.
func (c *Client) GuildMember(ctx context.Context, token, guildID string) (*GuildMember, error) {
	var member GuildMember
	path := "/users/@me/guilds/" + url.PathEscape(guildID) + "/member"
	if err := c.get(ctx, OperationGuildMember, endpointGuildMember, path, token, &member); err != nil {
		return nil, err
	}
	return &member, nil
}

func (c *Client) get(ctx context.Context, operation, endpoint, path, token string, out any) error {
	hc := c.http.Load()
	if hc == nil {
		return ErrClientNotInitialized
	}

	ctx, span := instrumentation.StartUpstreamSpan(ctx, operation, endpoint)
	defer span.End()
	start := time.Now()

	statusCode, err := c.doGet(ctx, hc, path, token, out)
	if statusCode != 0 {
		span.SetAttributes(instrumentation.NewSpanAttributeBuilder().WithStatusCode(statusCode).Build()...)
	}

	c.observe(ctx, span, operation, start, err)
	return err
}

func (c *Client) doGet(ctx context.Context, hc *http.Client, path, token string, out any) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIBaseURL+path, nil)
	if err != nil {
		return 0, fmt.Errorf("discord: failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := hc.Do(req)
	if err != nil {
		return 0, fmt.Errorf("discord: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("discord: failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if err := json.Unmarshal(body, out); err != nil {
			return resp.StatusCode, fmt.Errorf("discord: failed to decode response: %w", err)
		}
		return resp.StatusCode, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return resp.StatusCode, ErrUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests:
		return resp.StatusCode, parseRateLimit(resp.Header, body)
	default:
		return resp.StatusCode, &APIError{StatusCode: resp.StatusCode, Body: truncate(body)}
	}
}

// observe records the span status, metrics and a debug log for one call.
func (c *Client) observe(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	duration := time.Since(start)
	status := statusOf(err)

	if err != nil {
		instrumentation.SetSpanError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}

	c.metrics.RecordDiscordRequest(ctx, operation, status, duration)

	attrs := []any{
		logging.Operation("discord." + operation),
		logging.Status(status),
		logging.Duration(duration),
	}
	if err != nil {
		c.logger.Debug("discord api call failed", append(attrs, logging.SanitizedErr(err))...)
		return
	}
	c.logger.Debug("discord api call", attrs...)
}

func statusOf(err error) string {
	switch {
	case err == nil:
		return instrumentation.StatusSuccess
	case errors.Is(err, ErrUnauthorized):
		return instrumentation.StatusUnauthorized
	case errors.Is(err, ErrRateLimited):
		return instrumentation.StatusRateLimited
	default:
		return instrumentation.StatusError
	}
}

// mapTokenError translates token endpoint failures into the package taxonomy.
func mapTokenError(err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) || re.Response == nil {
		return fmt.Errorf("discord: token exchange failed: %w", err)
	}

	switch re.Response.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized:
		if re.ErrorCode != "" {
			return fmt.Errorf("%w: %s", ErrUnauthorized, re.ErrorCode)
		}
		return ErrUnauthorized
	case http.StatusTooManyRequests:
		return parseRateLimit(re.Response.Header, re.Body)
	default:
		return &APIError{StatusCode: re.Response.StatusCode, Body: truncate(re.Body)}
	}
}

// parseRateLimit reads retry_after from the body, falling back to the
// Retry-After header.
func parseRateLimit(header http.Header, body []byte) *RateLimitedError {
	var payload rateLimitBody
	_ = json.Unmarshal(body, &payload)

	rl := &RateLimitedError{
		Message: payload.Message,
		Global:  payload.Global || strings.EqualFold(header.Get("X-RateLimit-Global"), "true"),
	}
	if payload.RetryAfter != nil {
		rl.RetryAfter = *payload.RetryAfter
	} else if v, err := strconv.ParseFloat(header.Get("Retry-After"), 64); err == nil {
		rl.RetryAfter = v
	}
	if rl.Message == "" {
		rl.Message = "You are being rate limited."
	}
	return rl
}

func truncate(body []byte) string {
	if len(body) > maxErrorBodyBytes {
		return string(body[:maxErrorBodyBytes])
	}
	return string(body)
}
