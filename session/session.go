// Package session holds the authenticated context for one browser tab
// instance and the tab-scoped store that is the single source of truth
// for "am I authenticated".
package session

import (
	"github.com/carelinkhealth/go-session-client/token"
)

// User is the identity snapshot attached to a session.
type User struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	Role           string `json:"role"`
	EmailVerified  bool   `json:"emailVerified"`
	ApprovalStatus string `json:"approvalStatus"`
}

// Session is the authenticated context for one tab. It never carries the
// refresh token: that credential stays in HttpOnly cookies (browser) or in
// the lifecycle service's private state (native clients).
type Session struct {
	AccessToken string
	User        *User
	Claims      *token.Claims
	TabID       string
}

// Clone returns a deep copy so callers can hand sessions across goroutines
// without sharing mutable fields.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	clone := *s
	if s.User != nil {
		user := *s.User
		clone.User = &user
	}
	if s.Claims != nil {
		claims := *s.Claims
		claims.Permissions = append([]string(nil), s.Claims.Permissions...)
		clone.Claims = &claims
	}
	return &clone
}
