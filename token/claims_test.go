package token_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/carelinkhealth/go-session-client/token"
)

const testSigningSecret = "test-secret"

func mintToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSigningSecret))
	require.NoError(t, err)
	return signed
}

func TestDecode(t *testing.T) {
	now := time.Now()

	t.Run("full claim set", func(t *testing.T) {
		raw := mintToken(t, jwt.MapClaims{
			token.ClaimSubject:        "user-1",
			token.ClaimEmail:          "jane@example.com",
			token.ClaimRole:           "provider",
			token.ClaimSessionID:      "sess-1",
			token.ClaimTokenVersion:   3,
			token.ClaimPermissions:    []string{"admin:access"},
			token.ClaimEmailVerified:  true,
			token.ClaimApprovalStatus: "approved",
			token.ClaimIssuedAt:       now.Unix(),
			token.ClaimExpiry:         now.Add(15 * time.Minute).Unix(),
		})

		claims, err := token.Decode(raw)
		require.NoError(t, err)
		require.Equal(t, "user-1", claims.Subject)
		require.Equal(t, "jane@example.com", claims.Email)
		require.Equal(t, "provider", claims.Role)
		require.Equal(t, "sess-1", claims.SessionID)
		require.Equal(t, 3, claims.TokenVersion)
		require.Equal(t, []string{"admin:access"}, claims.Permissions)
		require.True(t, claims.EmailVerified)
		require.Equal(t, "approved", claims.ApprovalStatus)
		require.Equal(t, now.Unix(), claims.IssuedAt.Unix())
		require.Equal(t, now.Add(15*time.Minute).Unix(), claims.ExpiresAt.Unix())
	})

	t.Run("missing optional claims decode to zero values", func(t *testing.T) {
		raw := mintToken(t, jwt.MapClaims{token.ClaimSubject: "user-2"})

		claims, err := token.Decode(raw)
		require.NoError(t, err)
		require.Equal(t, "user-2", claims.Subject)
		require.Empty(t, claims.Permissions)
		require.True(t, claims.IssuedAt.IsZero())
		require.True(t, claims.ExpiresAt.IsZero())
	})

	t.Run("empty token", func(t *testing.T) {
		_, err := token.Decode("")
		require.ErrorIs(t, err, token.MalformedTokenErr)
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := token.Decode("not.a.jwt")
		require.ErrorIs(t, err, token.MalformedTokenErr)
	})
}

func TestExpiresWithin(t *testing.T) {
	now := time.Now()

	t.Run("fresh token", func(t *testing.T) {
		c := &token.Claims{ExpiresAt: now.Add(10 * time.Minute)}
		require.False(t, c.ExpiresWithin(now, 30*time.Second))
	})

	t.Run("inside the margin", func(t *testing.T) {
		c := &token.Claims{ExpiresAt: now.Add(20 * time.Second)}
		require.True(t, c.ExpiresWithin(now, 30*time.Second))
	})

	t.Run("already expired", func(t *testing.T) {
		c := &token.Claims{ExpiresAt: now.Add(-time.Minute)}
		require.True(t, c.ExpiresWithin(now, 30*time.Second))
	})

	t.Run("no expiry claim counts as expired", func(t *testing.T) {
		c := &token.Claims{}
		require.True(t, c.ExpiresWithin(now, 30*time.Second))
	})
}

func TestHasPermission(t *testing.T) {
	c := &token.Claims{Permissions: []string{"users:manage", "audit:read"}}
	require.True(t, c.HasPermission("audit:read"))
	require.False(t, c.HasPermission("admin:access"))
}
