package auth_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/carelinkhealth/go-session-client/auth"
	"github.com/carelinkhealth/go-session-client/authclient"
	"github.com/carelinkhealth/go-session-client/authclient/backendfake"
	"github.com/carelinkhealth/go-session-client/broadcast/membus"
	"github.com/carelinkhealth/go-session-client/idle"
	"github.com/carelinkhealth/go-session-client/permissions"
	"github.com/carelinkhealth/go-session-client/session"
	"github.com/carelinkhealth/go-session-client/twofactor"
)

const (
	testUsername = "jane@example.com"
	testPassword = "password123"
	test2FACode  = "123456"
)

type serviceFixture struct {
	backend  *backendfake.Backend
	bus      *membus.Bus
	service  *auth.SessionService
	signOuts chan auth.SignOutReason
	warnings chan time.Duration
}

func setupServiceFixture(t *testing.T, backendOptions []backendfake.Option, serviceOptions ...auth.SessionServiceOption) *serviceFixture {
	t.Helper()

	f := &serviceFixture{
		backend:  backendfake.New(backendOptions...),
		bus:      membus.New(),
		signOuts: make(chan auth.SignOutReason, 8),
		warnings: make(chan time.Duration, 8),
	}
	t.Cleanup(func() { _ = f.bus.Close() })

	opts := append([]auth.SessionServiceOption{
		auth.WithTabID("tab-under-test"),
		auth.WithSignOutHandler(func(reason auth.SignOutReason) { f.signOuts <- reason }),
		auth.WithWarningHandler(func(window time.Duration) { f.warnings <- window }),
	}, serviceOptions...)

	service, err := auth.NewSessionService(f.backend, f.bus, opts...)
	require.NoError(t, err)
	t.Cleanup(service.Close)
	f.service = service
	return f
}

func (f *serviceFixture) addAccount(t *testing.T, account backendfake.Account) {
	t.Helper()
	if account.Username == "" {
		account.Username = testUsername
		account.Email = testUsername
	}
	require.NoError(t, f.backend.AddAccount(testPassword, account))
}

func (f *serviceFixture) login(t *testing.T) {
	t.Helper()
	result, err := f.service.Login(context.Background(), testUsername, testPassword)
	require.NoError(t, err)
	require.False(t, result.TwoFactorRequired)
}

func waitForSignOut(t *testing.T, ch chan auth.SignOutReason, want auth.SignOutReason) {
	t.Helper()
	select {
	case got := <-ch:
		require.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %q sign-out", want)
	}
}

func TestLoginEstablishesSession(t *testing.T) {
	f := setupServiceFixture(t, nil)
	f.addAccount(t, backendfake.Account{
		Role:           permissions.RoleProvider,
		EmailVerified:  true,
		ApprovalStatus: "approved",
		Permissions:    []string{permissions.PermAuditAccess},
	})

	require.False(t, f.service.IsAuthenticated())

	result, err := f.service.Login(context.Background(), testUsername, testPassword)
	require.NoError(t, err)
	require.False(t, result.TwoFactorRequired)
	require.Equal(t, testUsername, result.User.Email)

	require.True(t, f.service.IsAuthenticated())
	require.Equal(t, idle.StateActive, f.service.IdleState())
	require.True(t, f.service.HasRole(permissions.RoleProvider))
	require.True(t, f.service.HasPermission(permissions.PermAuditAccess))
	require.True(t, f.service.Permissions().AuditAccess)

	accessToken, err := f.service.AccessToken(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, accessToken)

	// The session snapshot never carries the refresh token; the claims on
	// it match the user.
	snapshot := f.service.Session()
	require.Equal(t, accessToken, snapshot.AccessToken)
	require.Equal(t, testUsername, snapshot.Claims.Email)
	require.Equal(t, "tab-under-test", snapshot.TabID)

	profile, err := f.service.Profile(context.Background())
	require.NoError(t, err)
	require.Equal(t, testUsername, profile.Email)
}

func TestLoginFailureLeavesStateUntouched(t *testing.T) {
	f := setupServiceFixture(t, nil)
	f.addAccount(t, backendfake.Account{Role: permissions.RolePatient})

	_, err := f.service.Login(context.Background(), testUsername, "wrong")
	require.ErrorIs(t, err, authclient.InvalidCredentialsErr)
	require.False(t, f.service.IsAuthenticated())
	require.Nil(t, f.service.CurrentUser())

	_, err = f.service.Login(context.Background(), "", testPassword)
	require.ErrorIs(t, err, authclient.InvalidInputErr)
}

func TestTwoFactorLoginFlow(t *testing.T) {
	f := setupServiceFixture(t, nil)
	f.addAccount(t, backendfake.Account{
		Role:             permissions.RoleProvider,
		TwoFactorEnabled: true,
		TwoFactorCode:    test2FACode,
	})

	result, err := f.service.Login(context.Background(), testUsername, testPassword)
	require.NoError(t, err)
	require.True(t, result.TwoFactorRequired)
	require.True(t, f.service.TwoFactorPending())
	require.False(t, f.service.IsAuthenticated())

	t.Run("wrong code keeps the challenge pending", func(t *testing.T) {
		_, err := f.service.VerifyTwoFactor(context.Background(), "000000")
		require.ErrorIs(t, err, authclient.InvalidCredentialsErr)
		require.True(t, f.service.TwoFactorPending())
		require.False(t, f.service.IsAuthenticated())
	})

	t.Run("correct code establishes the session", func(t *testing.T) {
		verified, err := f.service.VerifyTwoFactor(context.Background(), test2FACode)
		require.NoError(t, err)
		require.Equal(t, testUsername, verified.User.Email)
		require.True(t, f.service.IsAuthenticated())
		require.False(t, f.service.TwoFactorPending())
	})

	t.Run("no further verification possible", func(t *testing.T) {
		_, err := f.service.VerifyTwoFactor(context.Background(), test2FACode)
		require.ErrorIs(t, err, twofactor.NoPendingChallengeErr)
	})
}

func TestCancelTwoFactor(t *testing.T) {
	f := setupServiceFixture(t, nil)
	f.addAccount(t, backendfake.Account{
		TwoFactorEnabled: true,
		TwoFactorCode:    test2FACode,
	})

	result, err := f.service.Login(context.Background(), testUsername, testPassword)
	require.NoError(t, err)
	require.True(t, result.TwoFactorRequired)

	f.service.CancelTwoFactor()
	require.False(t, f.service.TwoFactorPending())

	_, err = f.service.VerifyTwoFactor(context.Background(), test2FACode)
	require.ErrorIs(t, err, twofactor.NoPendingChallengeErr)
}

func TestChallengeExpiry(t *testing.T) {
	f := setupServiceFixture(t, nil, auth.WithChallengeTTL(50*time.Millisecond))
	f.addAccount(t, backendfake.Account{
		TwoFactorEnabled: true,
		TwoFactorCode:    test2FACode,
	})

	_, err := f.service.Login(context.Background(), testUsername, testPassword)
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)
	_, err = f.service.VerifyTwoFactor(context.Background(), test2FACode)
	require.ErrorIs(t, err, twofactor.ChallengeExpiredErr)
	require.False(t, f.service.TwoFactorPending())
}

func TestLogout(t *testing.T) {
	f := setupServiceFixture(t, nil)
	f.addAccount(t, backendfake.Account{Role: permissions.RoleProvider})
	f.login(t)

	f.service.Logout(context.Background())

	require.False(t, f.service.IsAuthenticated())
	require.Equal(t, idle.StateStopped, f.service.IdleState())
	waitForSignOut(t, f.signOuts, auth.ReasonUser)

	_, err := f.service.AccessToken(context.Background())
	require.ErrorIs(t, err, session.SessionExpiredErr)
}

// failingLogoutBackend simulates a backend that rejects the logout call;
// local teardown must complete regardless.
type failingLogoutBackend struct {
	auth.Backend
}

func (b *failingLogoutBackend) Logout(context.Context, string, bool) error {
	return errors.New("backend unavailable")
}

func TestLogoutCompletesWhenBackendFails(t *testing.T) {
	fake := backendfake.New()
	require.NoError(t, fake.AddAccount(testPassword, backendfake.Account{
		Username: testUsername,
		Email:    testUsername,
		Role:     permissions.RoleProvider,
	}))

	bus := membus.New()
	t.Cleanup(func() { _ = bus.Close() })

	signOuts := make(chan auth.SignOutReason, 1)
	service, err := auth.NewSessionService(
		&failingLogoutBackend{Backend: fake},
		bus,
		auth.WithSignOutHandler(func(reason auth.SignOutReason) { signOuts <- reason }),
	)
	require.NoError(t, err)
	t.Cleanup(service.Close)

	_, err = service.Login(context.Background(), testUsername, testPassword)
	require.NoError(t, err)

	service.Logout(context.Background())
	require.False(t, service.IsAuthenticated())
	waitForSignOut(t, signOuts, auth.ReasonUser)
}

// Concurrent API callers finding a stale token share a single backend
// refresh.
func TestAccessTokenRefreshDeduplication(t *testing.T) {
	// The fake's clock starts in the past, so the login token is already
	// expired; once reset to the present, refreshed tokens are fresh and
	// late callers hit the fast path instead of refreshing again.
	var clockOffset atomic.Int64
	clockOffset.Store(int64(-time.Hour))
	fakeNow := func() time.Time {
		return time.Now().Add(time.Duration(clockOffset.Load()))
	}

	f := setupServiceFixture(t,
		[]backendfake.Option{backendfake.WithNowTime(fakeNow)},
	)
	f.addAccount(t, backendfake.Account{Role: permissions.RoleProvider})
	f.login(t)
	clockOffset.Store(0)

	const callers = 20
	tokens := make([]string, callers)
	errs := make([]error, callers)

	var start, done sync.WaitGroup
	start.Add(1)
	for i := 0; i < callers; i++ {
		done.Add(1)
		go func(i int) {
			defer done.Done()
			start.Wait()
			tokens[i], errs[i] = f.service.AccessToken(context.Background())
		}(i)
	}
	start.Done()
	done.Wait()

	require.Equal(t, 1, f.backend.RefreshCalls())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, tokens[0], tokens[i])
	}
	require.True(t, f.service.IsAuthenticated())
}

func TestRefreshRotationKeepsSessionAlive(t *testing.T) {
	f := setupServiceFixture(t,
		[]backendfake.Option{
			backendfake.WithAccessTTL(time.Second),
			backendfake.WithRefreshRotation(),
		},
		auth.WithRefreshMargin(30*time.Second),
	)
	f.addAccount(t, backendfake.Account{Role: permissions.RoleProvider})
	f.login(t)

	// Each call needs a refresh; with rotation, losing track of the
	// replacement token would kill the second one.
	_, err := f.service.AccessToken(context.Background())
	require.NoError(t, err)
	_, err = f.service.AccessToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, f.backend.RefreshCalls())
	require.True(t, f.service.IsAuthenticated())
}

func TestRevokedRefreshTokenEndsSession(t *testing.T) {
	f := setupServiceFixture(t,
		[]backendfake.Option{backendfake.WithAccessTTL(time.Second)},
		auth.WithRefreshMargin(30*time.Second),
	)
	f.addAccount(t, backendfake.Account{Role: permissions.RoleProvider})
	f.login(t)

	f.backend.RevokeRefreshTokens()

	_, err := f.service.AccessToken(context.Background())
	require.ErrorIs(t, err, session.SessionExpiredErr)
	require.False(t, f.service.IsAuthenticated())
	waitForSignOut(t, f.signOuts, auth.ReasonExpired)

	// Subsequent calls keep failing rather than resurrecting the session.
	_, err = f.service.AccessToken(context.Background())
	require.ErrorIs(t, err, session.SessionExpiredErr)
}

func TestInactivityWarningThenTimeout(t *testing.T) {
	f := setupServiceFixture(t, nil,
		auth.WithIdleTimeout(200*time.Millisecond, 80*time.Millisecond),
	)
	f.addAccount(t, backendfake.Account{Role: permissions.RoleProvider})
	f.login(t)

	select {
	case window := <-f.warnings:
		require.Equal(t, 80*time.Millisecond, window)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inactivity warning")
	}
	require.Equal(t, idle.StateWarning, f.service.IdleState())

	waitForSignOut(t, f.signOuts, auth.ReasonTimeout)
	require.False(t, f.service.IsAuthenticated())
}

func TestContinueSessionDismissesWarning(t *testing.T) {
	f := setupServiceFixture(t, nil,
		auth.WithIdleTimeout(200*time.Millisecond, 80*time.Millisecond),
	)
	f.addAccount(t, backendfake.Account{Role: permissions.RoleProvider})
	f.login(t)

	select {
	case <-f.warnings:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inactivity warning")
	}

	f.service.ContinueSession()
	require.Equal(t, idle.StateActive, f.service.IdleState())
	require.True(t, f.service.IsAuthenticated())
}

func TestSetupTwoFactorRequiresSession(t *testing.T) {
	f := setupServiceFixture(t, nil)
	f.addAccount(t, backendfake.Account{Role: permissions.RoleProvider})

	_, err := f.service.SetupTwoFactor(context.Background())
	require.ErrorIs(t, err, session.SessionExpiredErr)

	f.login(t)

	info, err := f.service.SetupTwoFactor(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, info.Secret)
	require.NoError(t, f.service.ConfirmTwoFactorSetup(context.Background(), test2FACode))
}

func TestCrossTabLogoutAll(t *testing.T) {
	fake := backendfake.New()
	require.NoError(t, fake.AddAccount(testPassword, backendfake.Account{
		Username: testUsername,
		Email:    testUsername,
		Role:     permissions.RoleProvider,
	}))

	bus := membus.New()
	t.Cleanup(func() { _ = bus.Close() })

	newTab := func(tabID string) (*auth.SessionService, chan auth.SignOutReason) {
		signOuts := make(chan auth.SignOutReason, 1)
		tab, err := auth.NewSessionService(fake, bus,
			auth.WithTabID(tabID),
			auth.WithSignOutHandler(func(reason auth.SignOutReason) { signOuts <- reason }),
		)
		require.NoError(t, err)
		t.Cleanup(tab.Close)
		return tab, signOuts
	}

	first, _ := newTab("tab-1")
	second, secondSignOuts := newTab("tab-2")

	_, err := first.Login(context.Background(), testUsername, testPassword)
	require.NoError(t, err)
	_, err = second.Login(context.Background(), testUsername, testPassword)
	require.NoError(t, err)

	first.LogoutAllTabs(context.Background())
	require.False(t, first.IsAuthenticated())

	waitForSignOut(t, secondSignOuts, auth.ReasonRemote)
	require.False(t, second.IsAuthenticated())

	// The backend revoked every session, so the peer could not have
	// refreshed its way back in anyway.
	require.Zero(t, fake.RefreshCalls())
}

func TestSingleTabLogoutLeavesPeersAlone(t *testing.T) {
	fake := backendfake.New()
	require.NoError(t, fake.AddAccount(testPassword, backendfake.Account{
		Username: testUsername,
		Email:    testUsername,
		Role:     permissions.RoleProvider,
	}))

	bus := membus.New()
	t.Cleanup(func() { _ = bus.Close() })

	first, err := auth.NewSessionService(fake, bus, auth.WithTabID("tab-1"))
	require.NoError(t, err)
	t.Cleanup(first.Close)
	second, err := auth.NewSessionService(fake, bus, auth.WithTabID("tab-2"))
	require.NoError(t, err)
	t.Cleanup(second.Close)

	_, err = first.Login(context.Background(), testUsername, testPassword)
	require.NoError(t, err)
	_, err = second.Login(context.Background(), testUsername, testPassword)
	require.NoError(t, err)

	first.Logout(context.Background())
	require.False(t, first.IsAuthenticated())

	// Broadcast delivery is asynchronous; give it time to arrive before
	// asserting the peer ignored it.
	time.Sleep(200 * time.Millisecond)
	require.True(t, second.IsAuthenticated())
}

// A tab's own login broadcast, echoed back by the bus, must not disturb
// the session it just established.
func TestOwnBroadcastEchoIsIgnored(t *testing.T) {
	f := setupServiceFixture(t, nil)
	f.addAccount(t, backendfake.Account{Role: permissions.RoleProvider})
	f.login(t)

	time.Sleep(200 * time.Millisecond)
	require.True(t, f.service.IsAuthenticated())
	select {
	case reason := <-f.signOuts:
		t.Fatalf("unexpected sign-out: %q", reason)
	default:
	}
}

func TestCloseIsNotLogout(t *testing.T) {
	f := setupServiceFixture(t, nil)
	f.addAccount(t, backendfake.Account{Role: permissions.RoleProvider})
	f.login(t)

	f.service.Close()
	require.True(t, f.service.IsAuthenticated())
	require.Equal(t, idle.StateStopped, f.service.IdleState())
}

func TestNewSessionServiceValidation(t *testing.T) {
	bus := membus.New()
	t.Cleanup(func() { _ = bus.Close() })

	_, err := auth.NewSessionService(nil, bus)
	require.Error(t, err)

	_, err = auth.NewSessionService(backendfake.New(), nil)
	require.Error(t, err)
}
