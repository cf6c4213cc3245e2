package discord

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testClientID     = "1234567890"
	testClientSecret = "client-secret" //nolint:gosec // Test value, not a real credential
	testRedirectURI  = "https://gate.example.com/_oauth2/callback"
	testAccessToken  = "user-access-token" //nolint:gosec // Test token, not a real credential
	testGuildID      = "613425648685547541"
)

// fakeDiscord is an httptest server standing in for the Discord API.
type fakeDiscord struct {
	*httptest.Server
	mux   *http.ServeMux
	calls atomic.Int32
}

func newFakeDiscord(t *testing.T) *fakeDiscord {
	t.Helper()

	f := &fakeDiscord{mux: http.NewServeMux()}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		f.mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeDiscord) handle(pattern string, h http.HandlerFunc) {
	f.mux.HandleFunc(pattern, h)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func assertBearer(t *testing.T, r *http.Request) {
	t.Helper()
	assert.Equal(t, "Bearer "+testAccessToken, r.Header.Get("Authorization"))
}

func newTestClient(t *testing.T, f *fakeDiscord, mutate ...func(*Config)) *Client {
	t.Helper()

	cfg := Config{
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
		RedirectURI:  testRedirectURI,
		APIBaseURL:   f.URL,
		TokenURL:     f.URL + "/oauth2/token",
		HTTPClient:   f.Client(),
	}
	for _, m := range mutate {
		m(&cfg)
	}

	c, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, c.Init(context.Background()))
	return c
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"missing client id", Config{ClientSecret: "s", RedirectURI: "r"}, "client id"},
		{"missing client secret", Config{ClientID: "c", RedirectURI: "r"}, "client secret"},
		{"missing redirect uri", Config{ClientID: "c", ClientSecret: "s"}, "redirect uri"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("defaults applied", func(t *testing.T) {
		c, err := New(Config{ClientID: "c", ClientSecret: "s", RedirectURI: "r", APIBaseURL: "https://example.com/api/"})
		require.NoError(t, err)
		assert.Equal(t, DefaultRequestTimeout, c.RequestTimeout())
		assert.Equal(t, "https://example.com/api", c.cfg.APIBaseURL)
		assert.Equal(t, DefaultScopes, c.cfg.Scopes)
		assert.Equal(t, DefaultTokenURL, c.cfg.TokenURL)
	})
}

func TestClient_Lifecycle(t *testing.T) {
	f := newFakeDiscord(t)
	f.handle("/users/@me/guilds", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []Guild{})
	})

	c, err := New(Config{
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
		RedirectURI:  testRedirectURI,
		APIBaseURL:   f.URL,
		HTTPClient:   f.Client(),
	})
	require.NoError(t, err)
	ctx := context.Background()

	assert.False(t, c.Ready())
	_, err = c.Guilds(ctx, testAccessToken)
	assert.ErrorIs(t, err, ErrClientNotInitialized)
	_, err = c.Exchange(ctx, "code")
	assert.ErrorIs(t, err, ErrClientNotInitialized)
	assert.Zero(t, f.calls.Load(), "no request may leave before Init")

	require.NoError(t, c.Init(ctx))
	require.NoError(t, c.Init(ctx), "Init is idempotent")
	assert.True(t, c.Ready())

	_, err = c.Guilds(ctx, testAccessToken)
	require.NoError(t, err)

	c.Close()
	assert.False(t, c.Ready())
	_, err = c.GuildMember(ctx, testAccessToken, testGuildID)
	assert.ErrorIs(t, err, ErrClientNotInitialized)
	_, err = c.CurrentUser(ctx, testAccessToken)
	assert.ErrorIs(t, err, ErrClientNotInitialized)
	assert.Equal(t, int32(1), f.calls.Load())

	c.Close() // second Close is harmless
}

func TestClient_LoginURL(t *testing.T) {
	c, err := New(Config{ClientID: testClientID, ClientSecret: testClientSecret, RedirectURI: testRedirectURI})
	require.NoError(t, err)

	u, err := url.Parse(c.LoginURL())
	require.NoError(t, err)

	assert.Equal(t, "discord.com", u.Host)
	assert.Equal(t, "/oauth2/authorize", u.Path)

	q := u.Query()
	assert.Equal(t, testClientID, q.Get("client_id"))
	assert.Equal(t, testRedirectURI, q.Get("redirect_uri"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "identify guilds guilds.members.read email", q.Get("scope"))
	assert.NotContains(t, c.LoginURL(), testClientSecret)
}

func TestClient_Exchange(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       any
		wantToken  string
		wantErrIs  error
		wantRetry  float64
		wantStatus int
	}{
		{
			name:      "success",
			status:    http.StatusOK,
			body:      map[string]any{"access_token": testAccessToken, "token_type": "Bearer", "expires_in": 604800},
			wantToken: testAccessToken,
		},
		{
			name:      "invalid grant",
			status:    http.StatusBadRequest,
			body:      map[string]any{"error": "invalid_grant", "error_description": "Invalid \"code\" in request."},
			wantErrIs: ErrUnauthorized,
		},
		{
			name:      "invalid client",
			status:    http.StatusUnauthorized,
			body:      map[string]any{"error": "invalid_client"},
			wantErrIs: ErrUnauthorized,
		},
		{
			name:      "rate limited",
			status:    http.StatusTooManyRequests,
			body:      map[string]any{"message": "You are being rate limited.", "retry_after": 1.337, "global": false},
			wantErrIs: ErrRateLimited,
			wantRetry: 1.337,
		},
		{
			name:       "server error",
			status:     http.StatusBadGateway,
			body:       map[string]any{"message": "upstream"},
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeDiscord(t)
			f.handle("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.NoError(t, r.ParseForm())
				assert.Equal(t, "the-code", r.Form.Get("code"))
				assert.Equal(t, "authorization_code", r.Form.Get("grant_type"))
				assert.Equal(t, testClientID, r.Form.Get("client_id"))
				assert.Equal(t, testRedirectURI, r.Form.Get("redirect_uri"))
				writeJSON(w, tt.status, tt.body)
			})
			c := newTestClient(t, f)

			token, err := c.Exchange(context.Background(), "the-code")

			switch {
			case tt.wantToken != "":
				require.NoError(t, err)
				assert.Equal(t, tt.wantToken, token)
			case tt.wantErrIs != nil:
				assert.ErrorIs(t, err, tt.wantErrIs)
				if tt.wantRetry != 0 {
					var rl *RateLimitedError
					require.True(t, errors.As(err, &rl))
					assert.Equal(t, tt.wantRetry, rl.RetryAfter)
				}
			default:
				var apiErr *APIError
				require.True(t, errors.As(err, &apiErr))
				assert.Equal(t, tt.wantStatus, apiErr.StatusCode)
			}
		})
	}
}

func TestClient_CurrentUser(t *testing.T) {
	f := newFakeDiscord(t)
	f.handle("/users/@me", func(w http.ResponseWriter, r *http.Request) {
		assertBearer(t, r)
		writeJSON(w, http.StatusOK, map[string]any{
			"id":       "1180726495196516372",
			"username": "gatekeeper",
			"email":    "gatekeeper@example.com",
			"verified": true,
		})
	})
	c := newTestClient(t, f)

	user, err := c.CurrentUser(context.Background(), testAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "gatekeeper", user.Username)

	id, err := user.SubjectID()
	require.NoError(t, err)
	assert.Equal(t, int64(1180726495196516372), id)
}

func TestUser_SubjectID(t *testing.T) {
	tests := []struct {
		id      string
		want    int64
		wantErr bool
	}{
		{"80351110224678912", 80351110224678912, false},
		{"", 0, true},
		{"abc", 0, true},
		{"0", 0, true},
		{"-1", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got, err := (&User{ID: tt.id}).SubjectID()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClient_Guilds(t *testing.T) {
	f := newFakeDiscord(t)
	f.handle("/users/@me/guilds", func(w http.ResponseWriter, r *http.Request) {
		assertBearer(t, r)
		writeJSON(w, http.StatusOK, []map[string]any{
			{"id": "1", "name": "Other"},
			{"id": testGuildID, "name": "Target", "owner": false},
		})
	})
	c := newTestClient(t, f)

	guilds, err := c.Guilds(context.Background(), testAccessToken)
	require.NoError(t, err)
	require.Len(t, guilds, 2)
	assert.True(t, ContainsGuild(guilds, testGuildID))
	assert.False(t, ContainsGuild(guilds, "999"))
}

func TestClient_GuildMember_Roles(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		wantHasRoles bool
		wantRole     bool
	}{
		{"roles present with target", `{"roles":["10","20"]}`, true, true},
		{"roles present without target", `{"roles":["10"]}`, true, false},
		{"roles empty", `{"roles":[]}`, true, false},
		{"roles absent", `{"nick":"someone"}`, false, false},
		{"roles null", `{"roles":null}`, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeDiscord(t)
			f.handle("/users/@me/guilds/"+testGuildID+"/member", func(w http.ResponseWriter, r *http.Request) {
				assertBearer(t, r)
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.body))
			})
			c := newTestClient(t, f)

			member, err := c.GuildMember(context.Background(), testAccessToken, testGuildID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantHasRoles, member.HasRoles())
			assert.Equal(t, tt.wantRole, member.HasRole("20"))
		})
	}
}

func TestClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{
			name: "401 is unauthorized",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "401: Unauthorized", "code": 0})
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrUnauthorized)
			},
		},
		{
			name: "429 passes retry_after through unchanged",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Retry-After", "65")
				writeJSON(w, http.StatusTooManyRequests, map[string]any{
					"message":     "You are being rate limited.",
					"retry_after": 64.57,
					"global":      true,
				})
			},
			check: func(t *testing.T, err error) {
				var rl *RateLimitedError
				require.True(t, errors.As(err, &rl))
				assert.Equal(t, 64.57, rl.RetryAfter)
				assert.Equal(t, "You are being rate limited.", rl.Message)
				assert.True(t, rl.Global)
				assert.ErrorIs(t, err, ErrRateLimited)
			},
		},
		{
			name: "429 without body falls back to header",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Retry-After", "3")
				w.WriteHeader(http.StatusTooManyRequests)
			},
			check: func(t *testing.T, err error) {
				var rl *RateLimitedError
				require.True(t, errors.As(err, &rl))
				assert.Equal(t, float64(3), rl.RetryAfter)
				assert.NotEmpty(t, rl.Message)
			},
		},
		{
			name: "other status is an APIError",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusForbidden, map[string]any{"message": "Missing Access"})
			},
			check: func(t *testing.T, err error) {
				var apiErr *APIError
				require.True(t, errors.As(err, &apiErr))
				assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
				assert.Contains(t, apiErr.Body, "Missing Access")
				assert.NotErrorIs(t, err, ErrUnauthorized)
			},
		},
		{
			name: "malformed success body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("not json"))
			},
			check: func(t *testing.T, err error) {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "decode")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeDiscord(t)
			f.handle("/users/@me/guilds", tt.handler)
			c := newTestClient(t, f)

			_, err := c.Guilds(context.Background(), testAccessToken)
			tt.check(t, err)
		})
	}
}

func TestClient_Timeout(t *testing.T) {
	f := newFakeDiscord(t)
	f.handle("/users/@me/guilds", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	c := newTestClient(t, f, func(cfg *Config) { cfg.RequestTimeout = 50 * time.Millisecond })

	start := time.Now()
	_, err := c.Guilds(context.Background(), testAccessToken)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, int32(1), f.calls.Load(), "no retries")
}
