package authclient

import (
	"github.com/carelinkhealth/go-session-client/session"
	"github.com/carelinkhealth/go-session-client/token"
)

// Outcome is the result of a credential exchange: either a full session or
// a pending two-factor challenge, never both.
type Outcome struct {
	// Session is set when the backend authenticated the user outright.
	Session *session.Session

	// RefreshToken accompanies Session. Only cookie-writing callers (the
	// gateway) and the lifecycle service's private state may hold it; it
	// must never be stored on the tab-visible session.
	RefreshToken string

	// ChallengeToken is set when the backend requires a second factor
	// before issuing tokens.
	ChallengeToken string
}

// Authenticated reports whether tokens were issued.
func (o *Outcome) Authenticated() bool {
	return o != nil && o.Session != nil
}

// TwoFactorRequired reports whether a 2FA challenge is pending.
func (o *Outcome) TwoFactorRequired() bool {
	return o != nil && o.ChallengeToken != ""
}

// RefreshResult is the outcome of minting a new access token. The user is
// unchanged by a refresh, so only the token and its claims are returned;
// RefreshToken is non-empty only when the backend rotated it.
type RefreshResult struct {
	AccessToken  string
	Claims       *token.Claims
	RefreshToken string
}
