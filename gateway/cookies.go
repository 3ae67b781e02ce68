package gateway

import (
	"net/http"
	"strconv"

	"github.com/carelinkhealth/go-session-client/authclient"
)

const (
	accessCookieName  = "access_token"
	refreshCookieName = "refresh_token"

	// UI-hint cookies are readable by page script so the frontend can
	// render role-appropriate chrome before /me resolves. They carry no
	// authority; every real decision re-reads the HttpOnly tokens.
	roleCookieName          = "user_role"
	emailVerifiedCookieName = "email_verified"
	approvalCookieName      = "approval_status"

	// The refresh token is only ever needed by this route tree.
	refreshCookiePath = "/api/auth"
)

func (g *Gateway) setAuthCookies(w http.ResponseWriter, outcome *authclient.Outcome) {
	g.setAccessCookie(w, outcome.Session.AccessToken)
	g.setRefreshCookie(w, outcome.RefreshToken)

	user := outcome.Session.User
	g.setHintCookie(w, roleCookieName, user.Role)
	g.setHintCookie(w, emailVerifiedCookieName, strconv.FormatBool(user.EmailVerified))
	g.setHintCookie(w, approvalCookieName, user.ApprovalStatus)
}

func (g *Gateway) setAccessCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     accessCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(g.accessMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   g.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (g *Gateway) setRefreshCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    token,
		Path:     refreshCookiePath,
		MaxAge:   int(g.refreshMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   g.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (g *Gateway) setHintCookie(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(g.accessMaxAge.Seconds()),
		Secure:   g.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (g *Gateway) clearAuthCookies(w http.ResponseWriter) {
	expire := func(name, path string, httpOnly bool) {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     path,
			MaxAge:   -1,
			HttpOnly: httpOnly,
			Secure:   g.secure,
			SameSite: http.SameSiteStrictMode,
		})
	}
	expire(accessCookieName, "/", true)
	expire(refreshCookieName, refreshCookiePath, true)
	expire(roleCookieName, "/", false)
	expire(emailVerifiedCookieName, "/", false)
	expire(approvalCookieName, "/", false)
}
