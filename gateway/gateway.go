// Package gateway is the browser-facing proxy in front of the backend
// authentication API. It keeps tokens out of script reach: token responses
// become HttpOnly cookies, and the only token-bearing surface the page
// sees is this gateway's own routes.
package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/carelinkhealth/go-session-client/auth"
	"github.com/carelinkhealth/go-session-client/authclient"
	"github.com/carelinkhealth/go-session-client/session"
)

const (
	defaultAccessMaxAge  = 15 * time.Minute
	defaultRefreshMaxAge = 7 * 24 * time.Hour
)

// Gateway terminates browser auth requests and shuffles cookies.
type Gateway struct {
	backend       auth.Backend
	logger        zerolog.Logger
	secure        bool
	accessMaxAge  time.Duration
	refreshMaxAge time.Duration
}

type Option func(*Gateway)

// WithSecureCookies marks cookies Secure; enable everywhere except local
// development over plain HTTP.
func WithSecureCookies(secure bool) Option {
	return func(g *Gateway) {
		g.secure = secure
	}
}

// WithCookieMaxAges overrides the access and refresh cookie lifetimes.
func WithCookieMaxAges(access, refresh time.Duration) Option {
	return func(g *Gateway) {
		g.accessMaxAge = access
		g.refreshMaxAge = refresh
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

func New(backend auth.Backend, options ...Option) (*Gateway, error) {
	if backend == nil {
		return nil, errors.New("[gateway.New] backend is required")
	}
	g := &Gateway{
		backend:       backend,
		logger:        zerolog.Nop(),
		secure:        true,
		accessMaxAge:  defaultAccessMaxAge,
		refreshMaxAge: defaultRefreshMaxAge,
	}
	for _, opt := range options {
		opt(g)
	}
	return g, nil
}

// Router returns the /api/auth route tree.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(hlog.NewHandler(g.logger))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, _ int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("duration", duration).
			Msg("request")
	}))

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/login", g.handleLogin)
		r.Post("/verify-2fa", g.handleVerifyTwoFactor)
		r.Post("/refresh", g.handleRefresh)
		r.Post("/logout", g.handleLogout)
		r.Get("/me", g.handleMe)
	})
	return r
}

type loginBody struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type verifyBody struct {
	ChallengeToken string `json:"challengeToken"`
	Code           string `json:"code"`
}

type logoutBody struct {
	AllSessions bool `json:"all_sessions"`
}

type challengeResponse struct {
	Requires2FA    bool   `json:"requires_2fa"`
	ChallengeToken string `json:"challengeToken"`
}

func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body loginBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		g.writeError(w, errors.Wrap(authclient.InvalidInputErr, "[handleLogin]"))
		return
	}

	outcome, err := g.backend.Login(r.Context(), body.Username, body.Password)
	if err != nil {
		g.writeError(w, err)
		return
	}

	if outcome.TwoFactorRequired() {
		// No tokens yet: nothing to persist until the code is verified.
		g.writeJSON(w, http.StatusOK, challengeResponse{
			Requires2FA:    true,
			ChallengeToken: outcome.ChallengeToken,
		})
		return
	}

	g.setAuthCookies(w, outcome)
	g.writeJSON(w, http.StatusOK, outcome.Session.User)
}

func (g *Gateway) handleVerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	var body verifyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		g.writeError(w, errors.Wrap(authclient.InvalidInputErr, "[handleVerifyTwoFactor]"))
		return
	}

	outcome, err := g.backend.VerifyTwoFactor(r.Context(), body.ChallengeToken, body.Code)
	if err != nil {
		g.writeError(w, err)
		return
	}

	g.setAuthCookies(w, outcome)
	g.writeJSON(w, http.StatusOK, outcome.Session.User)
}

func (g *Gateway) handleRefresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil {
		g.clearAuthCookies(w)
		g.writeError(w, errors.Wrap(session.SessionExpiredErr, "[handleRefresh] no refresh cookie"))
		return
	}

	result, err := g.backend.Refresh(r.Context(), cookie.Value)
	if err != nil {
		if errors.Is(err, session.SessionExpiredErr) {
			g.clearAuthCookies(w)
		}
		g.writeError(w, err)
		return
	}

	g.setAccessCookie(w, result.AccessToken)
	if result.RefreshToken != "" {
		g.setRefreshCookie(w, result.RefreshToken)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleLogout(w http.ResponseWriter, r *http.Request) {
	var body logoutBody
	_ = json.NewDecoder(r.Body).Decode(&body)

	// Best-effort server-side revocation: local cookie teardown happens
	// regardless, so the browser is never stuck logged in.
	if cookie, err := r.Cookie(refreshCookieName); err == nil {
		if err := g.backend.Logout(r.Context(), cookie.Value, body.AllSessions); err != nil {
			g.logger.Warn().Err(err).Msg("backend logout failed, clearing cookies anyway")
		}
	}

	g.clearAuthCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleMe(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(accessCookieName)
	if err != nil {
		g.writeError(w, errors.Wrap(session.SessionExpiredErr, "[handleMe] no access cookie"))
		return
	}

	user, err := g.backend.Me(r.Context(), cookie.Value)
	if err != nil {
		g.writeError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, user)
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		g.logger.Warn().Err(err).Msg("response encode failed")
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps the client error taxonomy onto HTTP statuses. Credential
// failures share one message so responses never reveal whether the
// username or the password was wrong.
func (g *Gateway) writeError(w http.ResponseWriter, err error) {
	var status int
	var message string
	switch {
	case errors.Is(err, authclient.InvalidInputErr):
		status, message = http.StatusBadRequest, "username and password are required"
	case errors.Is(err, authclient.InvalidCredentialsErr):
		status, message = http.StatusUnauthorized, "invalid username or password"
	case errors.Is(err, session.SessionExpiredErr):
		status, message = http.StatusUnauthorized, "session expired"
	case errors.Is(err, authclient.ForbiddenErr):
		status, message = http.StatusForbidden, "forbidden"
	case errors.Is(err, authclient.NetworkErr):
		status, message = http.StatusBadGateway, "backend unreachable"
	default:
		status, message = http.StatusInternalServerError, "internal error"
	}
	if status >= 500 {
		g.logger.Error().Err(err).Msg("gateway error")
	}
	g.writeJSON(w, status, errorResponse{Error: message})
}
