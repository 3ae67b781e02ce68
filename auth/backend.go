package auth

import (
	"context"

	"github.com/carelinkhealth/go-session-client/authclient"
	"github.com/carelinkhealth/go-session-client/session"
	"github.com/carelinkhealth/go-session-client/twofactor"
)

// Backend is the authentication API the lifecycle service drives. It is
// satisfied by authclient.Client over HTTP and by backendfake.Backend in
// tests and the demo daemon.
type Backend interface {
	Login(ctx context.Context, username, password string) (*authclient.Outcome, error)
	VerifyTwoFactor(ctx context.Context, challengeToken, code string) (*authclient.Outcome, error)
	Refresh(ctx context.Context, refreshToken string) (*authclient.RefreshResult, error)
	Logout(ctx context.Context, refreshToken string, everywhere bool) error
	Me(ctx context.Context, accessToken string) (*session.User, error)
	RequestTwoFactorSetup(ctx context.Context, accessToken string) (*twofactor.SetupInfo, error)
	ConfirmTwoFactorSetup(ctx context.Context, accessToken, code string) error
}

var _ Backend = (*authclient.Client)(nil)
