// Package auth wires the session lifecycle together: credential exchange,
// token store, refresh coordination, cross-tab broadcast, inactivity
// monitoring, and the two-factor intermediate state. One SessionService
// corresponds to one browser tab; tabs of the same browser share a
// broadcast bus.
package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/carelinkhealth/go-session-client/authclient"
	"github.com/carelinkhealth/go-session-client/broadcast"
	"github.com/carelinkhealth/go-session-client/idle"
	"github.com/carelinkhealth/go-session-client/observer"
	"github.com/carelinkhealth/go-session-client/permissions"
	"github.com/carelinkhealth/go-session-client/session"
	"github.com/carelinkhealth/go-session-client/session/refresh"
	"github.com/carelinkhealth/go-session-client/twofactor"
)

// SignOutReason annotates why a session ended, so the login surface can
// distinguish explicit logout from timeout from forced logout.
type SignOutReason string

const (
	ReasonUser    SignOutReason = "user"    // explicit sign-out
	ReasonTimeout SignOutReason = "timeout" // inactivity expiry
	ReasonExpired SignOutReason = "expired" // refresh token rejected
	ReasonRemote  SignOutReason = "remote"  // logout-all from another tab
)

// LoginResult reports how a credential exchange resolved. Exactly one of
// TwoFactorRequired or User is meaningful.
type LoginResult struct {
	TwoFactorRequired bool
	User              *session.User
}

// SessionService orchestrates authentication state for one tab.
type SessionService struct {
	backend     Backend
	bus         broadcast.Bus
	store       *session.Store
	coordinator *refresh.Coordinator
	idleMonitor *idle.Monitor
	challenge   *twofactor.Machine
	monitor     observer.Monitor
	logger      zerolog.Logger
	nowTime     func() time.Time
	tabID       string

	// refreshToken is the HttpOnly-cookie analogue: private to the
	// service, never placed on the tab-visible session.
	lock         sync.Mutex
	refreshToken string

	onSignedOut func(SignOutReason)
	onWarning   func(window time.Duration)

	unsubscribe func()
	closeOnce   sync.Once

	idleTimeout   time.Duration
	warningWindow time.Duration
	refreshMargin time.Duration
	challengeTTL  time.Duration
}

type SessionServiceOption func(*SessionService)

// WithTabID fixes the tab identifier (primarily for testing).
func WithTabID(tabID string) SessionServiceOption {
	return func(s *SessionService) {
		s.tabID = tabID
	}
}

func WithLogger(logger zerolog.Logger) SessionServiceOption {
	return func(s *SessionService) {
		s.logger = logger
	}
}

// WithObserver attaches a lifecycle monitor.
func WithObserver(monitor observer.Monitor) SessionServiceOption {
	return func(s *SessionService) {
		s.monitor = monitor
	}
}

// WithNowTime sets the now time function (primarily for testing).
func WithNowTime(nowFunc func() time.Time) SessionServiceOption {
	return func(s *SessionService) {
		s.nowTime = nowFunc
	}
}

// WithIdleTimeout overrides the inactivity timeout and warning window.
func WithIdleTimeout(timeout, warningWindow time.Duration) SessionServiceOption {
	return func(s *SessionService) {
		s.idleTimeout = timeout
		s.warningWindow = warningWindow
	}
}

// WithRefreshMargin overrides the token freshness safety margin.
func WithRefreshMargin(margin time.Duration) SessionServiceOption {
	return func(s *SessionService) {
		s.refreshMargin = margin
	}
}

// WithChallengeTTL overrides the two-factor challenge expiry.
func WithChallengeTTL(ttl time.Duration) SessionServiceOption {
	return func(s *SessionService) {
		s.challengeTTL = ttl
	}
}

// WithSignOutHandler registers the redirect-to-login hook. It runs after
// local state is cleared, possibly on timer or broadcast goroutines.
func WithSignOutHandler(handler func(SignOutReason)) SessionServiceOption {
	return func(s *SessionService) {
		s.onSignedOut = handler
	}
}

// WithWarningHandler registers the inactivity-warning hook, e.g. to show
// the countdown dialog.
func WithWarningHandler(handler func(window time.Duration)) SessionServiceOption {
	return func(s *SessionService) {
		s.onWarning = handler
	}
}

// NewSessionService creates the lifecycle service for one tab and
// subscribes it to the broadcast bus.
func NewSessionService(backend Backend, bus broadcast.Bus, options ...SessionServiceOption) (*SessionService, error) {
	if backend == nil {
		return nil, errors.New("[NewSessionService] backend is required")
	}
	if bus == nil {
		return nil, errors.New("[NewSessionService] broadcast bus is required")
	}

	s := &SessionService{
		backend:       backend,
		bus:           bus,
		store:         session.NewStore(),
		monitor:       observer.Nop(),
		logger:        zerolog.Nop(),
		nowTime:       time.Now,
		tabID:         uuid.New().String(),
		idleTimeout:   idle.DefaultTimeout,
		warningWindow: idle.DefaultWarningWindow,
		refreshMargin: refresh.DefaultMargin,
		challengeTTL:  twofactor.DefaultChallengeTTL,
	}
	for _, opt := range options {
		opt(s)
	}

	s.challenge = twofactor.NewMachine(
		twofactor.WithTTL(s.challengeTTL),
		twofactor.WithNowTime(s.nowTime),
	)
	s.idleMonitor = idle.NewMonitor(
		s.handleIdleWarning,
		s.handleIdleExpired,
		idle.WithTimeout(s.idleTimeout),
		idle.WithWarningWindow(s.warningWindow),
	)

	coordinator, err := refresh.NewCoordinator(
		s.store,
		refresh.RefresherFunc(s.refreshSession),
		refresh.WithMargin(s.refreshMargin),
		refresh.WithNowTime(s.nowTime),
		refresh.WithOnRefreshed(s.monitor.TokenRefreshed),
		refresh.WithOnExpired(s.handleRefreshExpired),
	)
	if err != nil {
		return nil, errors.Wrap(err, "[NewSessionService]")
	}
	s.coordinator = coordinator

	unsubscribe, err := bus.Subscribe(s.handleBroadcast)
	if err != nil {
		return nil, errors.Wrap(err, "[NewSessionService] bus subscribe")
	}
	s.unsubscribe = unsubscribe

	return s, nil
}

// Login exchanges credentials for a session or a two-factor challenge.
// Failures leave any prior state untouched.
func (s *SessionService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return nil, errors.Wrap(authclient.InvalidInputErr, "[SessionService.Login]")
	}

	outcome, err := s.backend.Login(ctx, username, password)
	if err != nil {
		s.monitor.LoginFailed(failureReason(err))
		return nil, errors.Wrap(err, "[SessionService.Login]")
	}

	if outcome.TwoFactorRequired() {
		s.challenge.Issue(outcome.ChallengeToken)
		s.monitor.TwoFactorChallenged()
		return &LoginResult{TwoFactorRequired: true}, nil
	}

	if err := s.establish(ctx, outcome); err != nil {
		return nil, errors.Wrap(err, "[SessionService.Login]")
	}
	return &LoginResult{User: outcome.Session.User}, nil
}

// VerifyTwoFactor completes the pending challenge. A rejected code leaves
// the challenge active for retry until it expires or is cancelled.
func (s *SessionService) VerifyTwoFactor(ctx context.Context, code string) (*LoginResult, error) {
	challengeToken, err := s.challenge.Token()
	if err != nil {
		return nil, errors.Wrap(err, "[SessionService.VerifyTwoFactor]")
	}

	outcome, err := s.backend.VerifyTwoFactor(ctx, challengeToken, code)
	if err != nil {
		s.monitor.LoginFailed(failureReason(err))
		return nil, errors.Wrap(err, "[SessionService.VerifyTwoFactor]")
	}

	if err := s.challenge.Resolve(); err != nil {
		return nil, errors.Wrap(err, "[SessionService.VerifyTwoFactor]")
	}
	if err := s.establish(ctx, outcome); err != nil {
		return nil, errors.Wrap(err, "[SessionService.VerifyTwoFactor]")
	}
	return &LoginResult{User: outcome.Session.User}, nil
}

// CancelTwoFactor discards the pending challenge ("back to login").
func (s *SessionService) CancelTwoFactor() {
	s.challenge.Cancel()
}

// TwoFactorPending reports whether a live challenge awaits a code.
func (s *SessionService) TwoFactorPending() bool {
	return s.challenge.Pending()
}

// Logout ends this tab's session. Peer tabs keep theirs until their own
// refresh fails. Local teardown always completes, even when the backend
// notification fails.
func (s *SessionService) Logout(ctx context.Context) {
	s.teardown(ctx, ReasonUser, broadcast.EventLogout, true, false)
}

// LogoutAllTabs ends the session in every tab and revokes the user's
// refresh tokens server-side.
func (s *SessionService) LogoutAllTabs(ctx context.Context) {
	s.teardown(ctx, ReasonUser, broadcast.EventLogoutAll, true, true)
}

// AccessToken returns an access token valid for at least the refresh
// margin, renewing it first when needed. Concurrent callers share one
// refresh. A failed refresh ends the session and returns
// session.SessionExpiredErr.
func (s *SessionService) AccessToken(ctx context.Context) (string, error) {
	return s.coordinator.AccessToken(ctx)
}

// Session returns a snapshot of the current session, or nil.
func (s *SessionService) Session() *session.Session {
	return s.store.Get().Clone()
}

// CurrentUser returns the authenticated identity, or nil.
func (s *SessionService) CurrentUser() *session.User {
	current := s.store.Get()
	if current == nil {
		return nil
	}
	user := *current.User
	return &user
}

// IsAuthenticated reports whether a session is established.
func (s *SessionService) IsAuthenticated() bool {
	return s.store.Get() != nil
}

// TabID identifies this tab on the broadcast channel.
func (s *SessionService) TabID() string {
	return s.tabID
}

// Permissions returns the capability flags derived from the current
// session's claims.
func (s *SessionService) Permissions() permissions.PermissionSet {
	return s.store.Permissions()
}

// HasPermission reports whether the current session carries the named
// capability.
func (s *SessionService) HasPermission(permission string) bool {
	current := s.store.Get()
	if current == nil {
		return false
	}
	return permissions.HasAnyPermission(current.Claims, permission)
}

// HasRole reports whether the current session carries the given role.
func (s *SessionService) HasRole(role string) bool {
	current := s.store.Get()
	if current == nil {
		return false
	}
	return permissions.HasRole(current.Claims, role)
}

// RecordActivity feeds a qualifying user interaction (pointer, key,
// scroll, touch) to the inactivity monitor.
func (s *SessionService) RecordActivity() {
	s.idleMonitor.Touch()
}

// ContinueSession is the explicit "stay signed in" action from the
// inactivity warning dialog.
func (s *SessionService) ContinueSession() {
	s.idleMonitor.Continue()
}

// IdleState exposes the inactivity machine state for the warning UI.
func (s *SessionService) IdleState() idle.State {
	return s.idleMonitor.State()
}

// Profile fetches the current user's profile with a fresh access token.
func (s *SessionService) Profile(ctx context.Context) (*session.User, error) {
	accessToken, err := s.AccessToken(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "[SessionService.Profile]")
	}
	user, err := s.backend.Me(ctx, accessToken)
	if err != nil {
		return nil, errors.Wrap(err, "[SessionService.Profile]")
	}
	return user, nil
}

// SetupTwoFactor starts the enable-2FA flow. It requires an established
// session; setting up 2FA while unauthenticated is impossible.
func (s *SessionService) SetupTwoFactor(ctx context.Context) (*twofactor.SetupInfo, error) {
	accessToken, err := s.AccessToken(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "[SessionService.SetupTwoFactor]")
	}
	info, err := s.backend.RequestTwoFactorSetup(ctx, accessToken)
	if err != nil {
		return nil, errors.Wrap(err, "[SessionService.SetupTwoFactor]")
	}
	return info, nil
}

// ConfirmTwoFactorSetup proves possession of the new secret and enables
// 2FA for the account.
func (s *SessionService) ConfirmTwoFactorSetup(ctx context.Context, code string) error {
	accessToken, err := s.AccessToken(ctx)
	if err != nil {
		return errors.Wrap(err, "[SessionService.ConfirmTwoFactorSetup]")
	}
	if err := s.backend.ConfirmTwoFactorSetup(ctx, accessToken, code); err != nil {
		return errors.Wrap(err, "[SessionService.ConfirmTwoFactorSetup]")
	}
	return nil
}

// Close detaches the service from the bus and cancels all timers. The
// session itself is left untouched: closing a tab is not a logout.
func (s *SessionService) Close() {
	s.closeOnce.Do(func() {
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
		s.idleMonitor.Stop()
	})
}

// establish installs a fresh session: store populated, login broadcast,
// inactivity monitor armed.
func (s *SessionService) establish(ctx context.Context, outcome *authclient.Outcome) error {
	sess := outcome.Session
	sess.TabID = s.tabID

	s.lock.Lock()
	s.refreshToken = outcome.RefreshToken
	s.lock.Unlock()

	if err := s.store.Set(sess); err != nil {
		return errors.Wrap(err, "[SessionService.establish]")
	}
	s.challenge.Reset()
	s.publish(ctx, broadcast.EventLogin)
	s.idleMonitor.Start()
	s.monitor.LoginSucceeded(sess.User.ID)
	return nil
}

// teardown clears local state, optionally broadcasts, and optionally
// notifies the backend. It always completes: a failed backend call is
// logged and swallowed so the user is never stuck logged in.
func (s *SessionService) teardown(ctx context.Context, reason SignOutReason, event broadcast.EventType, notifyBackend, everywhere bool) {
	s.lock.Lock()
	refreshToken := s.refreshToken
	s.refreshToken = ""
	s.lock.Unlock()

	s.idleMonitor.Stop()
	s.challenge.Reset()
	s.store.Clear()

	if event != "" {
		s.publish(ctx, event)
	}
	if notifyBackend && refreshToken != "" {
		if err := s.backend.Logout(ctx, refreshToken, everywhere); err != nil {
			s.logger.Warn().Err(err).Msg("backend logout failed, local session cleared anyway")
		}
	}

	s.monitor.SignedOut(string(reason))
	if s.onSignedOut != nil {
		s.onSignedOut(reason)
	}
}

// refreshSession is the coordinator's Refresher: it exchanges the private
// refresh token for a new access token and claims, keeping the user and
// tab identity.
func (s *SessionService) refreshSession(ctx context.Context) (*session.Session, error) {
	s.lock.Lock()
	refreshToken := s.refreshToken
	s.lock.Unlock()
	if refreshToken == "" {
		return nil, errors.Wrap(session.SessionExpiredErr, "[SessionService.refreshSession] no refresh token")
	}

	result, err := s.backend.Refresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	if result.RefreshToken != "" {
		s.lock.Lock()
		s.refreshToken = result.RefreshToken
		s.lock.Unlock()
	}

	current := s.store.Get()
	if current == nil {
		return nil, errors.Wrap(session.SessionExpiredErr, "[SessionService.refreshSession] session gone")
	}
	next := current.Clone()
	next.AccessToken = result.AccessToken
	next.Claims = result.Claims
	return next, nil
}

func (s *SessionService) handleRefreshExpired(err error) {
	s.logger.Warn().Err(err).Msg("token refresh failed, ending session")
	s.monitor.RefreshFailed()
	// The coordinator already cleared the store; refresh-token state,
	// timers, and the broadcast still need tearing down. The dead refresh
	// token is not worth a backend call.
	s.teardown(context.Background(), ReasonExpired, broadcast.EventLogout, false, false)
}

func (s *SessionService) handleIdleWarning(window time.Duration) {
	s.monitor.InactivityWarning()
	if s.onWarning != nil {
		s.onWarning(window)
	}
}

func (s *SessionService) handleIdleExpired() {
	s.logger.Info().Str("tab_id", s.tabID).Msg("inactivity timeout, ending session")
	s.teardown(context.Background(), ReasonTimeout, broadcast.EventLogout, true, false)
}

// handleBroadcast converges this tab with session events from peers. A
// message carrying our own tab ID is always a no-op: broadcasts are not
// ordered relative to local state changes, so acting on our own echo
// would tear down a session we just established.
func (s *SessionService) handleBroadcast(msg broadcast.Message) {
	if msg.TabID == s.tabID {
		return
	}

	switch msg.Type {
	case broadcast.EventLogoutAll:
		if s.store.Get() == nil && !s.challenge.Pending() {
			return
		}
		// Local teardown only: no re-broadcast (echo storms) and no
		// backend call (the originating tab already revoked the tokens).
		s.teardown(context.Background(), ReasonRemote, "", false, false)
	case broadcast.EventLogout:
		// Single-tab intent: the peer signed itself out. This tab keeps
		// its session until its own refresh fails.
		s.logger.Debug().Str("peer_tab", msg.TabID).Msg("peer tab signed out")
	case broadcast.EventLogin:
		s.logger.Debug().Str("peer_tab", msg.TabID).Msg("peer tab signed in")
	}
}

func (s *SessionService) publish(ctx context.Context, event broadcast.EventType) {
	msg := broadcast.Message{
		Type:      event,
		TabID:     s.tabID,
		Timestamp: s.nowTime(),
	}
	if err := s.bus.Publish(ctx, msg); err != nil {
		s.logger.Warn().Err(err).Str("event", string(event)).Msg("broadcast publish failed")
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, authclient.InvalidInputErr):
		return "invalid_input"
	case errors.Is(err, authclient.InvalidCredentialsErr):
		return "invalid_credentials"
	case errors.Is(err, authclient.NetworkErr):
		return "network"
	case errors.Is(err, authclient.ServerErrorErr):
		return "server_error"
	case errors.Is(err, twofactor.ChallengeExpiredErr):
		return "challenge_expired"
	case errors.Is(err, twofactor.NoPendingChallengeErr):
		return "no_pending_challenge"
	case errors.Is(err, session.SessionExpiredErr):
		return "session_expired"
	default:
		return "unknown"
	}
}
