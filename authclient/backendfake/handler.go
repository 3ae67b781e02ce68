package backendfake

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/carelinkhealth/go-session-client/authclient"
	"github.com/carelinkhealth/go-session-client/session"
)

// Handler exposes the fake backend over the wire contract that
// authclient.Client speaks, for httptest servers and the demo daemon.
func Handler(b *Backend) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", b.handleLogin)
	mux.HandleFunc("POST /verify-2fa", b.handleVerify)
	mux.HandleFunc("POST /refresh", b.handleRefresh)
	mux.HandleFunc("POST /logout", b.handleLogout)
	mux.HandleFunc("GET /me", b.handleMe)
	mux.HandleFunc("POST /2fa/setup", b.handleSetup)
	mux.HandleFunc("POST /2fa/setup/confirm", b.handleSetupConfirm)
	return mux
}

type tokenPayload struct {
	Access         string        `json:"access,omitempty"`
	Refresh        string        `json:"refresh,omitempty"`
	User           *session.User `json:"user,omitempty"`
	Requires2FA    bool          `json:"requires_2fa,omitempty"`
	ChallengeToken string        `json:"challengeToken,omitempty"`
}

func (b *Backend) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	outcome, err := b.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	if outcome.TwoFactorRequired() {
		writeJSON(w, tokenPayload{Requires2FA: true, ChallengeToken: outcome.ChallengeToken})
		return
	}
	writeJSON(w, tokenPayload{
		Access:  outcome.Session.AccessToken,
		Refresh: outcome.RefreshToken,
		User:    outcome.Session.User,
	})
}

func (b *Backend) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChallengeToken string `json:"challengeToken"`
		Code           string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	outcome, err := b.VerifyTwoFactor(r.Context(), req.ChallengeToken, req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, tokenPayload{
		Access:  outcome.Session.AccessToken,
		Refresh: outcome.RefreshToken,
		User:    outcome.Session.User,
	})
}

func (b *Backend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Refresh string `json:"refresh"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := b.Refresh(r.Context(), req.Refresh)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, tokenPayload{Access: result.AccessToken, Refresh: result.RefreshToken})
}

func (b *Backend) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Refresh     string `json:"refresh"`
		AllSessions bool   `json:"all_sessions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	_ = b.Logout(r.Context(), req.Refresh, req.AllSessions)
	w.WriteHeader(http.StatusNoContent)
}

func (b *Backend) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := b.Me(r.Context(), bearerToken(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, user)
}

func (b *Backend) handleSetup(w http.ResponseWriter, r *http.Request) {
	info, err := b.RequestTwoFactorSetup(r.Context(), bearerToken(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, info)
}

func (b *Backend) handleSetupConfirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := b.ConfirmTwoFactorSetup(r.Context(), bearerToken(r), req.Code); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, authclient.InvalidInputErr):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, authclient.InvalidCredentialsErr),
		errors.Is(err, session.SessionExpiredErr):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, authclient.ForbiddenErr):
		http.Error(w, err.Error(), http.StatusForbidden)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
