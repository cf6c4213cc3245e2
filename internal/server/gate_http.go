package server

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"time"

	"github.com/giantswarm/discord-gate/internal/instrumentation"
	"github.com/giantswarm/discord-gate/internal/logging"
	"github.com/giantswarm/discord-gate/internal/server/middleware"
)

// Gate endpoints.
const (
	LoginPath    = "/_oauth2/login"
	CallbackPath = "/_oauth2/callback"
	CheckPath    = "/_oauth2/check"
)

const (
	// DefaultReadHeaderTimeout is the default timeout for reading request headers
	DefaultReadHeaderTimeout = 10 * time.Second

	// DefaultWriteTimeout bounds a response, including up to three upstream calls
	DefaultWriteTimeout = 60 * time.Second

	// DefaultIdleTimeout is the default idle timeout for keepalive connections
	DefaultIdleTimeout = 120 * time.Second

	// DefaultShutdownTimeout is the default timeout for graceful server shutdown
	DefaultShutdownTimeout = 30 * time.Second
)

// Messages for the check endpoint.
const (
	msgNoCredential = "you do not have permission to be located here!"
	msgDenied       = "you do not have access, ask for permission!"
)

// GateHTTPServer serves the login, callback and check endpoints.
type GateHTTPServer struct {
	sc      *ServerContext
	health  *HealthChecker
	handler http.Handler

	httpServer *http.Server
}

// NewGateHTTPServer creates the gate server for sc.
func NewGateHTTPServer(sc *ServerContext) (*GateHTTPServer, error) {
	if sc == nil {
		return nil, errors.New("server context is required")
	}

	s := &GateHTTPServer{
		sc:     sc,
		health: NewHealthChecker(sc),
	}
	s.handler = s.buildHandler()
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
	}
	return s, nil
}

// HealthChecker returns the health checker backing the probe endpoints.
func (s *GateHTTPServer) HealthChecker() *HealthChecker {
	return s.health
}

// Handler returns the full handler chain.
func (s *GateHTTPServer) Handler() http.Handler {
	return s.handler
}

func (s *GateHTTPServer) buildHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+LoginPath, s.handleLogin)
	mux.HandleFunc("GET "+CallbackPath, s.handleCallback)
	mux.HandleFunc("GET "+CheckPath, s.handleCheck)
	s.health.RegisterHealthEndpoints(mux)

	cfg := s.sc.Config()
	var handler http.Handler = mux
	handler = middleware.MaxRequestSize(middleware.DefaultMaxRequestBytes)(handler)
	handler = middleware.SecurityHeaders(middleware.SecurityHeadersConfig{EnableHSTS: cfg.EnableHSTS})(handler)
	handler = middleware.HTTPMetrics(s.sc.InstrumentationProvider())(handler)
	return handler
}

// Start listens on addr and blocks until the server stops.
// It returns http.ErrServerClosed after Shutdown.
func (s *GateHTTPServer) Start(addr string) error {
	if s.sc.IsShutdown() {
		return ErrServerShutdown
	}

	s.httpServer.Addr = addr

	s.sc.Logger().Info("gate server listening",
		"addr", addr,
		"endpoints", []string{LoginPath, CallbackPath, CheckPath})
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting requests, drains in-flight ones and closes the
// server context. A later Start returns http.ErrServerClosed.
func (s *GateHTTPServer) Shutdown(ctx context.Context) error {
	s.health.SetReady(false)
	err := s.httpServer.Shutdown(ctx)
	return errors.Join(err, s.sc.Shutdown())
}

func (s *GateHTTPServer) handleLogin(w http.ResponseWriter, _ *http.Request) {
	writeRefreshPage(w, http.StatusOK, "discord authorization", s.sc.DiscordClient().LoginURL())
}

func (s *GateHTTPServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx, span := instrumentation.StartSpan(r.Context(), "gate.callback")
	defer span.End()
	logger := logging.WithOperation(s.sc.Logger(), "gate.callback")

	code := r.URL.Query().Get("code")
	if code == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "missing code"})
		return
	}

	client := s.sc.DiscordClient()
	accessToken, err := client.Exchange(ctx, code)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		writeUpstreamError(w, logger, "gate.callback", fmt.Errorf("exchange code: %w", err))
		return
	}

	user, err := client.CurrentUser(ctx, accessToken)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		writeUpstreamError(w, logger, "gate.callback", fmt.Errorf("current user: %w", err))
		return
	}

	subjectID, err := user.SubjectID()
	if err != nil {
		instrumentation.SetSpanError(span, err)
		writeUpstreamError(w, logger, "gate.callback", err)
		return
	}

	minter := s.sc.Minter()
	credential, err := minter.Mint(subjectID, accessToken)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		writeUpstreamError(w, logger, "gate.callback", fmt.Errorf("mint session: %w", err))
		return
	}
	s.sc.Metrics().RecordSessionIssued(ctx)

	http.SetCookie(w, s.sessionCookie(credential, int(minter.Lifetime().Seconds())))
	instrumentation.SetSpanSuccess(span)
	logger.Info("session issued", logging.Subject(subjectID))

	http.Redirect(w, r, CheckPath, http.StatusFound)
}

func (s *GateHTTPServer) handleCheck(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(s.sc.Config().CookieName)
	if err != nil {
		writeText(w, http.StatusUnauthorized, msgNoCredential)
		return
	}

	decision, err := s.sc.Validator().Validate(r.Context(), cookie.Value)
	if err != nil {
		writeUpstreamError(w, s.sc.Logger(), "gate.check", err)
		return
	}

	if !decision.Allowed {
		http.SetCookie(w, s.sessionCookie("", -1))
		writeText(w, http.StatusUnauthorized, msgDenied)
		return
	}

	writeRefreshPage(w, http.StatusOK, "ok", "/")
}

// sessionCookie builds the credential cookie. A negative maxAge deletes it.
func (s *GateHTTPServer) sessionCookie(value string, maxAge int) *http.Cookie {
	cfg := s.sc.Config()
	return &http.Cookie{
		Name:     cfg.CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = fmt.Fprintln(w, msg)
}

func writeRefreshPage(w http.ResponseWriter, status int, title, target string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, refreshPage, html.EscapeString(title), html.EscapeString(target))
}

const refreshPage = `<!DOCTYPE html>
<html>
	<head>
		<meta charset="utf-8">
		<title>%s</title>
		<meta http-equiv="refresh" content="0; url=%s">
	</head>
	<body>
		<p>You will be redirected in a few seconds.</p>
	</body>
</html>
`
