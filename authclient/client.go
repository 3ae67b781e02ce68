// Package authclient submits credentials to the backend REST API and
// interprets success, 2FA-required, and failure responses. It performs no
// state management of its own: the session lifecycle service owns the
// token store, broadcasting, and timers.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/carelinkhealth/go-session-client/session"
	"github.com/carelinkhealth/go-session-client/token"
	"github.com/carelinkhealth/go-session-client/twofactor"
)

// Backend endpoint paths.
const (
	loginPath         = "/login"
	verifyPath        = "/verify-2fa"
	refreshPath       = "/refresh"
	logoutPath        = "/logout"
	mePath            = "/me"
	setupPath         = "/2fa/setup"
	setupConfirmPath  = "/2fa/setup/confirm"
	defaultHTTPWindow = 15 * time.Second
)

// Client talks to the backend authentication endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

type ClientOption func(*Client)

// WithHTTPClient overrides the transport, e.g. to attach a cookie jar.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

func New(baseURL string, options ...ClientOption) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("[authclient.New] baseURL is required")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultHTTPWindow},
		logger:     zerolog.Nop(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// Wire types for the backend contract.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type verifyRequest struct {
	ChallengeToken string `json:"challengeToken"`
	Code           string `json:"code"`
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type logoutRequest struct {
	Refresh     string `json:"refresh"`
	AllSessions bool   `json:"all_sessions"`
}

type confirmSetupRequest struct {
	Code string `json:"code"`
}

type tokenEnvelope struct {
	Access         string        `json:"access"`
	Refresh        string        `json:"refresh"`
	User           *session.User `json:"user"`
	Requires2FA    bool          `json:"requires_2fa"`
	ChallengeToken string        `json:"challengeToken"`
}

// Login exchanges credentials for tokens or a two-factor challenge.
// Validation beyond non-empty strings is the UI's job.
func (c *Client) Login(ctx context.Context, username, password string) (*Outcome, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return nil, errors.Wrap(InvalidInputErr, "[Client.Login]")
	}

	var envelope tokenEnvelope
	status, err := c.postJSON(ctx, loginPath, "", loginRequest{Username: username, Password: password}, &envelope)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.Login]")
	}
	if status != http.StatusOK {
		return nil, c.statusError("[Client.Login]", status)
	}

	if envelope.Requires2FA {
		return &Outcome{ChallengeToken: envelope.ChallengeToken}, nil
	}
	return c.outcomeFromEnvelope("[Client.Login]", &envelope)
}

// VerifyTwoFactor completes a pending challenge. Challenge bookkeeping
// (TTL, retry policy) lives in the twofactor machine, not here.
func (c *Client) VerifyTwoFactor(ctx context.Context, challengeToken, code string) (*Outcome, error) {
	if strings.TrimSpace(code) == "" {
		return nil, errors.Wrap(InvalidInputErr, "[Client.VerifyTwoFactor]")
	}

	var envelope tokenEnvelope
	status, err := c.postJSON(ctx, verifyPath, "", verifyRequest{ChallengeToken: challengeToken, Code: code}, &envelope)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.VerifyTwoFactor]")
	}
	if status != http.StatusOK {
		return nil, c.statusError("[Client.VerifyTwoFactor]", status)
	}
	return c.outcomeFromEnvelope("[Client.VerifyTwoFactor]", &envelope)
}

// Refresh mints a new access token. A rejected refresh token is fatal for
// the session and surfaces as session.SessionExpiredErr.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	if refreshToken == "" {
		return nil, errors.Wrap(session.SessionExpiredErr, "[Client.Refresh] no refresh token")
	}

	var envelope tokenEnvelope
	status, err := c.postJSON(ctx, refreshPath, "", refreshRequest{Refresh: refreshToken}, &envelope)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.Refresh]")
	}
	switch {
	case status == http.StatusOK:
	case status == http.StatusBadRequest || status == http.StatusUnauthorized:
		return nil, errors.Wrap(session.SessionExpiredErr, "[Client.Refresh] refresh token rejected")
	default:
		return nil, c.statusError("[Client.Refresh]", status)
	}

	claims, err := token.Decode(envelope.Access)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.Refresh] decode access token")
	}
	return &RefreshResult{
		AccessToken:  envelope.Access,
		Claims:       claims,
		RefreshToken: envelope.Refresh,
	}, nil
}

// Logout asks the backend to invalidate the refresh token; with everywhere
// set, all of the user's sessions are revoked. Best-effort by contract:
// callers proceed with local teardown regardless of the result.
func (c *Client) Logout(ctx context.Context, refreshToken string, everywhere bool) error {
	status, err := c.postJSON(ctx, logoutPath, "", logoutRequest{Refresh: refreshToken, AllSessions: everywhere}, nil)
	if err != nil {
		return errors.Wrap(err, "[Client.Logout]")
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return c.statusError("[Client.Logout]", status)
	}
	return nil
}

// Me fetches the profile behind the access token.
func (c *Client) Me(ctx context.Context, accessToken string) (*session.User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+mePath, nil)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.Me]")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(NetworkErr, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError("[Client.Me]", resp.StatusCode)
	}
	var user session.User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, errors.Wrap(err, "[Client.Me] decode")
	}
	return &user, nil
}

// RequestTwoFactorSetup starts the enable-2FA flow for an authenticated
// user and returns the shared secret and QR payload to display.
func (c *Client) RequestTwoFactorSetup(ctx context.Context, accessToken string) (*twofactor.SetupInfo, error) {
	var info twofactor.SetupInfo
	status, err := c.postJSON(ctx, setupPath, accessToken, struct{}{}, &info)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.RequestTwoFactorSetup]")
	}
	if status != http.StatusOK {
		return nil, c.statusError("[Client.RequestTwoFactorSetup]", status)
	}
	return &info, nil
}

// ConfirmTwoFactorSetup proves possession of the secret and enables 2FA.
func (c *Client) ConfirmTwoFactorSetup(ctx context.Context, accessToken, code string) error {
	if strings.TrimSpace(code) == "" {
		return errors.Wrap(InvalidInputErr, "[Client.ConfirmTwoFactorSetup]")
	}
	status, err := c.postJSON(ctx, setupConfirmPath, accessToken, confirmSetupRequest{Code: code}, nil)
	if err != nil {
		return errors.Wrap(err, "[Client.ConfirmTwoFactorSetup]")
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return c.statusError("[Client.ConfirmTwoFactorSetup]", status)
	}
	return nil
}

func (c *Client) outcomeFromEnvelope(op string, envelope *tokenEnvelope) (*Outcome, error) {
	if envelope.Access == "" || envelope.User == nil {
		return nil, errors.Wrapf(ServerErrorErr, "%s incomplete token response", op)
	}
	claims, err := token.Decode(envelope.Access)
	if err != nil {
		return nil, errors.Wrapf(err, "%s decode access token", op)
	}
	return &Outcome{
		Session: &session.Session{
			AccessToken: envelope.Access,
			User:        envelope.User,
			Claims:      claims,
		},
		RefreshToken: envelope.Refresh,
	}, nil
}

// postJSON issues a POST with an optional bearer token and decodes the
// response body into out when provided. Transport failures map to
// NetworkErr; HTTP status interpretation is the caller's job.
func (c *Client) postJSON(ctx context.Context, path, accessToken string, body, out any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, errors.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, errors.Wrap(NetworkErr, err.Error())
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, errors.Wrap(err, "decode response")
		}
	}
	return resp.StatusCode, nil
}

// statusError translates backend status codes into the client error
// taxonomy. Credential endpoints deliberately return the same error for a
// wrong username and a wrong password.
func (c *Client) statusError(op string, status int) error {
	c.logger.Debug().Int("status", status).Str("op", op).Msg("backend rejected request")
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnauthorized:
		return errors.Wrap(InvalidCredentialsErr, op)
	case status == http.StatusForbidden:
		return errors.Wrap(ForbiddenErr, op)
	case status >= 500:
		return errors.Wrap(ServerErrorErr, op)
	default:
		return errors.Wrapf(ServerErrorErr, "%s unexpected status %d", op, status)
	}
}
