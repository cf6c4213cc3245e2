package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/giantswarm/discord-gate/internal/discord"
	"github.com/giantswarm/discord-gate/internal/gate"
	"github.com/giantswarm/discord-gate/internal/session"
)

const (
	testClientID     = "1234567890"
	testClientSecret = "client-secret" //nolint:gosec // Test value, not a real credential
	testRedirectURI  = "https://gate.example.com/_oauth2/callback"
	testAuthURL      = "https://discord.example/oauth2/authorize"
	testAccessToken  = "upstream-access-token" //nolint:gosec // Test token, not a real credential
	testGuildID      = "613425648685547541"
	testRoleID       = "700000000000000001"
	testUserID       = "80351110224678912"
	testSubjectID    = int64(80351110224678912)
	testSecret       = "server-test-secret"
)

const (
	pathToken       = "/oauth2/token"
	pathCurrentUser = "/users/@me"
	pathGuilds      = "/users/@me/guilds"
	pathGuildMember = "/users/@me/guilds/" + testGuildID + "/member"
)

// fakeDiscord stands in for the Discord API. Every route answers the happy
// path unless overridden, and calls are counted per path.
type fakeDiscord struct {
	*httptest.Server

	mu        sync.Mutex
	calls     map[string]int
	overrides map[string]http.HandlerFunc
}

func newFakeDiscord(t *testing.T) *fakeDiscord {
	t.Helper()

	f := &fakeDiscord{
		calls:     make(map[string]int),
		overrides: make(map[string]http.HandlerFunc),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Close)
	return f
}

// on replaces the handler for path.
func (f *fakeDiscord) on(path string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.overrides[path] = h
}

// member makes the member endpoint return body verbatim.
func (f *fakeDiscord) member(body string) {
	f.on(pathGuildMember, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	})
}

func (f *fakeDiscord) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

func (f *fakeDiscord) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeDiscord) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.calls[r.URL.Path]++
	h, ok := f.overrides[r.URL.Path]
	f.mu.Unlock()

	if ok {
		h(w, r)
		return
	}

	if r.URL.Path != pathToken && r.Header.Get("Authorization") != "Bearer "+testAccessToken {
		replyJSON(w, http.StatusUnauthorized, map[string]any{"message": "401: Unauthorized", "code": 0})
		return
	}

	switch r.URL.Path {
	case pathToken:
		if err := r.ParseForm(); err != nil || r.PostForm.Get("code") == "" {
			replyJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
			return
		}
		replyJSON(w, http.StatusOK, map[string]any{
			"access_token":  testAccessToken,
			"token_type":    "Bearer",
			"expires_in":    604800,
			"refresh_token": "refresh",
			"scope":         "identify guilds guilds.members.read email",
		})
	case pathCurrentUser:
		replyJSON(w, http.StatusOK, discord.User{ID: testUserID, Username: "nelly"})
	case pathGuilds:
		replyJSON(w, http.StatusOK, []discord.Guild{{ID: "1", Name: "Other"}, {ID: testGuildID, Name: "Target"}})
	case pathGuildMember:
		replyJSON(w, http.StatusOK, map[string]any{"roles": []string{"5", testRoleID}})
	default:
		http.NotFound(w, r)
	}
}

func replyJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// testGate bundles a gate server wired to a fake Discord API.
type testGate struct {
	server  *GateHTTPServer
	sc      *ServerContext
	client  *discord.Client
	codec   *session.Codec
	discord *fakeDiscord
	logs    *bytes.Buffer
}

type gateOptions struct {
	skipInit bool
	config   *Config
}

func newTestGate(t *testing.T, opts gateOptions) *testGate {
	t.Helper()

	f := newFakeDiscord(t)
	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	client, err := discord.New(discord.Config{
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
		RedirectURI:  testRedirectURI,
		APIBaseURL:   f.URL,
		AuthURL:      testAuthURL,
		TokenURL:     f.URL + pathToken,
		HTTPClient:   f.Client(),
	}, discord.WithLogger(logger))
	require.NoError(t, err)
	if !opts.skipInit {
		require.NoError(t, client.Init(context.Background()))
	}

	codec, err := session.NewCodec([]byte(testSecret))
	require.NoError(t, err)

	validator, err := gate.NewValidator(codec, client,
		gate.Policy{GuildID: testGuildID, RoleID: testRoleID},
		gate.WithLogger(logger))
	require.NoError(t, err)

	cfg := opts.config
	if cfg == nil {
		cfg = NewDefaultConfig()
	}

	sc, err := NewServerContext(context.Background(),
		WithDiscordClient(client),
		WithMinter(codec),
		WithValidator(validator),
		WithLogger(logger),
		WithConfig(cfg),
	)
	require.NoError(t, err)

	srv, err := NewGateHTTPServer(sc)
	require.NoError(t, err)

	return &testGate{server: srv, sc: sc, client: client, codec: codec, discord: f, logs: logs}
}

// do runs a GET against the gate handler, carrying cookie when non-empty.
func (g *testGate) do(t *testing.T, target, cookie string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, target, nil)
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: cookie})
	}
	rec := httptest.NewRecorder()
	g.server.Handler().ServeHTTP(rec, req)
	return rec
}

// credential mints a valid session for the test user.
func (g *testGate) credential(t *testing.T) string {
	t.Helper()
	token, err := g.codec.Mint(testSubjectID, testAccessToken)
	require.NoError(t, err)
	return token
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}
