// Package backendfake is an in-memory stand-in for the backend
// authentication API. It issues real HS256 tokens so claim decoding works
// end to end, and is used by tests and the demo daemon; production builds
// talk to the real backend through authclient.Client.
package backendfake

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/carelinkhealth/go-session-client/authclient"
	"github.com/carelinkhealth/go-session-client/session"
	"github.com/carelinkhealth/go-session-client/token"
	"github.com/carelinkhealth/go-session-client/twofactor"
)

const defaultAccessTTL = 15 * time.Minute

// Account is a registered user of the fake backend.
type Account struct {
	ID               string
	Username         string
	Email            string
	Role             string
	ApprovalStatus   string
	EmailVerified    bool
	Permissions      []string
	PasswordHash     []byte
	TwoFactorEnabled bool
	TwoFactorCode    string // accepted code; real TOTP is the backend's concern
}

// Backend is the in-memory fake. It returns the same error taxonomy as
// authclient.Client so the two are interchangeable behind the lifecycle
// service's Backend interface.
type Backend struct {
	lock          sync.Mutex
	accounts      map[string]*Account // keyed by username
	accountsByID  map[string]*Account
	refreshTokens map[string]string // refresh token -> account ID
	challenges    map[string]string // challenge token -> account ID
	pendingSetups map[string]string // account ID -> secret
	signingKey    []byte
	accessTTL     time.Duration
	rotateRefresh bool
	nowTime       func() time.Time

	loginCalls   int
	refreshCalls int
}

type Option func(*Backend)

func WithAccessTTL(ttl time.Duration) Option {
	return func(b *Backend) {
		b.accessTTL = ttl
	}
}

func WithNowTime(nowFunc func() time.Time) Option {
	return func(b *Backend) {
		b.nowTime = nowFunc
	}
}

// WithRefreshRotation makes every refresh mint a replacement refresh token.
func WithRefreshRotation() Option {
	return func(b *Backend) {
		b.rotateRefresh = true
	}
}

func New(options ...Option) *Backend {
	b := &Backend{
		accounts:      make(map[string]*Account),
		accountsByID:  make(map[string]*Account),
		refreshTokens: make(map[string]string),
		challenges:    make(map[string]string),
		pendingSetups: make(map[string]string),
		signingKey:    []byte(uuid.New().String()),
		accessTTL:     defaultAccessTTL,
		nowTime:       time.Now,
	}
	for _, opt := range options {
		opt(b)
	}
	return b
}

// AddAccount registers an account, hashing the password with bcrypt.
func (b *Backend) AddAccount(password string, account Account) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return errors.Wrap(err, "[Backend.AddAccount] bcrypt")
	}
	account.PasswordHash = hash
	if account.ID == "" {
		account.ID = uuid.New().String()
	}

	b.lock.Lock()
	defer b.lock.Unlock()
	b.accounts[account.Username] = &account
	b.accountsByID[account.ID] = &account
	return nil
}

func (b *Backend) Login(_ context.Context, username, password string) (*authclient.Outcome, error) {
	if username == "" || password == "" {
		return nil, errors.Wrap(authclient.InvalidInputErr, "[Backend.Login]")
	}

	b.lock.Lock()
	defer b.lock.Unlock()
	b.loginCalls++

	account, ok := b.accounts[username]
	if !ok {
		return nil, errors.Wrap(authclient.InvalidCredentialsErr, "[Backend.Login]")
	}
	if err := bcrypt.CompareHashAndPassword(account.PasswordHash, []byte(password)); err != nil {
		return nil, errors.Wrap(authclient.InvalidCredentialsErr, "[Backend.Login]")
	}

	if account.TwoFactorEnabled {
		challenge := randomToken()
		b.challenges[challenge] = account.ID
		return &authclient.Outcome{ChallengeToken: challenge}, nil
	}
	return b.issueLocked(account)
}

func (b *Backend) VerifyTwoFactor(_ context.Context, challengeToken, code string) (*authclient.Outcome, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	accountID, ok := b.challenges[challengeToken]
	if !ok {
		return nil, errors.Wrap(authclient.InvalidCredentialsErr, "[Backend.VerifyTwoFactor] unknown challenge")
	}
	account := b.accountsByID[accountID]
	if account == nil || code != account.TwoFactorCode {
		// Challenge survives a wrong code; retry limits are UI policy.
		return nil, errors.Wrap(authclient.InvalidCredentialsErr, "[Backend.VerifyTwoFactor]")
	}
	delete(b.challenges, challengeToken)
	return b.issueLocked(account)
}

func (b *Backend) Refresh(_ context.Context, refreshToken string) (*authclient.RefreshResult, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.refreshCalls++

	accountID, ok := b.refreshTokens[refreshToken]
	if !ok {
		return nil, errors.Wrap(session.SessionExpiredErr, "[Backend.Refresh] unknown refresh token")
	}
	account := b.accountsByID[accountID]
	if account == nil {
		return nil, errors.Wrap(session.SessionExpiredErr, "[Backend.Refresh] account gone")
	}

	access := b.mintAccessTokenLocked(account)
	claims, err := token.Decode(access)
	if err != nil {
		return nil, errors.Wrap(err, "[Backend.Refresh]")
	}

	result := &authclient.RefreshResult{AccessToken: access, Claims: claims}
	if b.rotateRefresh {
		delete(b.refreshTokens, refreshToken)
		rotated := randomToken()
		b.refreshTokens[rotated] = account.ID
		result.RefreshToken = rotated
	}
	return result, nil
}

func (b *Backend) Logout(_ context.Context, refreshToken string, everywhere bool) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	accountID, ok := b.refreshTokens[refreshToken]
	if !ok {
		return nil
	}
	delete(b.refreshTokens, refreshToken)
	if everywhere {
		for t, id := range b.refreshTokens {
			if id == accountID {
				delete(b.refreshTokens, t)
			}
		}
	}
	return nil
}

func (b *Backend) Me(_ context.Context, accessToken string) (*session.User, error) {
	account, err := b.accountForToken(accessToken)
	if err != nil {
		return nil, errors.Wrap(err, "[Backend.Me]")
	}
	return userSnapshot(account), nil
}

func (b *Backend) RequestTwoFactorSetup(_ context.Context, accessToken string) (*twofactor.SetupInfo, error) {
	account, err := b.accountForToken(accessToken)
	if err != nil {
		return nil, errors.Wrap(err, "[Backend.RequestTwoFactorSetup]")
	}

	secret := randomToken()
	b.lock.Lock()
	b.pendingSetups[account.ID] = secret
	b.lock.Unlock()

	return &twofactor.SetupInfo{
		Secret:    secret,
		QRPayload: "otpauth://totp/CareLink:" + account.Email + "?secret=" + secret,
	}, nil
}

func (b *Backend) ConfirmTwoFactorSetup(_ context.Context, accessToken, code string) error {
	account, err := b.accountForToken(accessToken)
	if err != nil {
		return errors.Wrap(err, "[Backend.ConfirmTwoFactorSetup]")
	}

	b.lock.Lock()
	defer b.lock.Unlock()
	if _, ok := b.pendingSetups[account.ID]; !ok {
		return errors.Wrap(authclient.InvalidCredentialsErr, "[Backend.ConfirmTwoFactorSetup] no setup in progress")
	}
	if code == "" {
		return errors.Wrap(authclient.InvalidInputErr, "[Backend.ConfirmTwoFactorSetup]")
	}
	delete(b.pendingSetups, account.ID)
	account.TwoFactorEnabled = true
	account.TwoFactorCode = code
	return nil
}

// RevokeRefreshTokens invalidates every outstanding refresh token, e.g. to
// simulate a server-side forced logout.
func (b *Backend) RevokeRefreshTokens() {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.refreshTokens = make(map[string]string)
}

// LoginCalls returns how many credential exchanges were attempted.
func (b *Backend) LoginCalls() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.loginCalls
}

// RefreshCalls returns how many refresh requests reached the backend.
func (b *Backend) RefreshCalls() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.refreshCalls
}

func (b *Backend) issueLocked(account *Account) (*authclient.Outcome, error) {
	access := b.mintAccessTokenLocked(account)
	claims, err := token.Decode(access)
	if err != nil {
		return nil, errors.Wrap(err, "[Backend.issue]")
	}

	refresh := randomToken()
	b.refreshTokens[refresh] = account.ID

	return &authclient.Outcome{
		Session: &session.Session{
			AccessToken: access,
			User:        userSnapshot(account),
			Claims:      claims,
		},
		RefreshToken: refresh,
	}, nil
}

func (b *Backend) mintAccessTokenLocked(account *Account) string {
	now := b.nowTime()
	claims := jwt.MapClaims{
		token.ClaimSubject:        account.ID,
		token.ClaimEmail:          account.Email,
		token.ClaimRole:           account.Role,
		token.ClaimSessionID:      uuid.New().String(),
		token.ClaimTokenVersion:   1,
		token.ClaimEmailVerified:  account.EmailVerified,
		token.ClaimApprovalStatus: account.ApprovalStatus,
		token.ClaimIssuedAt:       now.Unix(),
		token.ClaimExpiry:         now.Add(b.accessTTL).Unix(),
		token.ClaimTokenID:        uuid.New().String(),
	}
	if len(account.Permissions) > 0 {
		claims[token.ClaimPermissions] = account.Permissions
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.signingKey)
	if err != nil {
		// Signing with a static HS256 key cannot fail at runtime.
		panic(err)
	}
	return signed
}

func (b *Backend) accountForToken(accessToken string) (*Account, error) {
	parsed, err := jwt.Parse(accessToken, func(*jwt.Token) (any, error) {
		return b.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(b.nowTime))
	if err != nil || !parsed.Valid {
		return nil, authclient.InvalidCredentialsErr
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil {
		return nil, authclient.InvalidCredentialsErr
	}

	b.lock.Lock()
	defer b.lock.Unlock()
	account, ok := b.accountsByID[sub]
	if !ok {
		return nil, authclient.InvalidCredentialsErr
	}
	return account, nil
}

func userSnapshot(account *Account) *session.User {
	return &session.User{
		ID:             account.ID,
		Email:          account.Email,
		Role:           account.Role,
		EmailVerified:  account.EmailVerified,
		ApprovalStatus: account.ApprovalStatus,
	}
}

func randomToken() string {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		panic(err)
	}
	return hex.EncodeToString(tokenBytes)
}
