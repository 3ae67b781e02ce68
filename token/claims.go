package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/carelinkhealth/go-session-client/internal/utils"
)

// Claim names embedded in access tokens issued by the backend.
const (
	ClaimSubject        = "sub"
	ClaimEmail          = "email"
	ClaimRole           = "role"
	ClaimSessionID      = "sid"
	ClaimTokenVersion   = "tv"
	ClaimPermissions    = "perms"
	ClaimEmailVerified  = "email_verified"
	ClaimApprovalStatus = "approval"
	ClaimIssuedAt       = "iat"
	ClaimExpiry         = "exp"
	ClaimTokenID        = "jti"
)

var MalformedTokenErr = errors.New("malformed access token")

// Claims is the decoded payload of an access token. The backend signs
// tokens and verifies them on every API call; this side only needs the
// payload, so tokens are parsed without signature verification.
type Claims struct {
	Subject        string
	Email          string
	Role           string
	SessionID      string
	TokenVersion   int
	Permissions    []string
	EmailVerified  bool
	ApprovalStatus string
	IssuedAt       time.Time
	ExpiresAt      time.Time
}

// Decode extracts the claims from a raw bearer token.
func Decode(rawToken string) (*Claims, error) {
	if rawToken == "" {
		return nil, errors.Wrap(MalformedTokenErr, "[Decode] empty token")
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(rawToken, jwt.MapClaims{})
	if err != nil {
		return nil, errors.Wrap(MalformedTokenErr, err.Error())
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.Wrap(MalformedTokenErr, "[Decode] error extracting claims")
	}

	sub, _ := mapClaims[ClaimSubject].(string)
	email, _ := mapClaims[ClaimEmail].(string)
	role, _ := mapClaims[ClaimRole].(string)
	sessionID, _ := mapClaims[ClaimSessionID].(string)
	approval, _ := mapClaims[ClaimApprovalStatus].(string)
	emailVerified, _ := mapClaims[ClaimEmailVerified].(bool)
	tokenVersion, _ := mapClaims[ClaimTokenVersion].(float64)
	iat, _ := mapClaims[ClaimIssuedAt].(float64)
	exp, _ := mapClaims[ClaimExpiry].(float64)

	var permissions []string
	if claimPerms, ok := mapClaims[ClaimPermissions].([]interface{}); ok {
		permissions = utils.ToStringSlice(claimPerms)
	}

	claims := &Claims{
		Subject:        sub,
		Email:          email,
		Role:           role,
		SessionID:      sessionID,
		TokenVersion:   int(tokenVersion),
		Permissions:    permissions,
		EmailVerified:  emailVerified,
		ApprovalStatus: approval,
	}
	if iat > 0 {
		claims.IssuedAt = time.Unix(int64(iat), 0)
	}
	if exp > 0 {
		claims.ExpiresAt = time.Unix(int64(exp), 0)
	}
	return claims, nil
}

// ExpiresWithin reports whether the token expires within the given margin
// of now. A token with no expiry claim is treated as already expired.
func (c *Claims) ExpiresWithin(now time.Time, margin time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return true
	}
	return !c.ExpiresAt.After(now.Add(margin))
}

// HasPermission reports whether the claims carry the named capability flag.
func (c *Claims) HasPermission(permission string) bool {
	for _, p := range c.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}
