// Package twofactor models the intermediate "password verified, 2FA code
// pending" state between credential exchange and session establishment.
package twofactor

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// DefaultChallengeTTL bounds how long a challenge can be completed,
// independent of the backend's own expiry.
const DefaultChallengeTTL = 5 * time.Minute

var (
	NoPendingChallengeErr = errors.New("no pending two-factor challenge")
	ChallengeExpiredErr   = errors.New("two-factor challenge expired")
)

// State of the challenge machine.
type State int

const (
	StateNoChallenge State = iota
	StateChallengeIssued
	StateVerified
	StateExpired
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateNoChallenge:
		return "no_challenge"
	case StateChallengeIssued:
		return "challenge_issued"
	case StateVerified:
		return "verified"
	case StateExpired:
		return "expired"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Challenge is the transient reference to an in-progress login attempt.
type Challenge struct {
	Token    string
	IssuedAt time.Time
}

// SetupInfo is returned by the backend when enabling 2FA for an already
// authenticated user.
type SetupInfo struct {
	Secret    string `json:"secret"`
	QRPayload string `json:"qrPayload"`
}

// Machine tracks at most one pending challenge. A challenge only exists
// while no session does; resolving, cancelling, or expiring it returns the
// machine to a state requiring a fresh login.
type Machine struct {
	lock      sync.Mutex
	state     State
	challenge *Challenge
	ttl       time.Duration
	nowTime   func() time.Time
}

type MachineOption func(*Machine)

// WithTTL overrides the challenge expiry window.
func WithTTL(ttl time.Duration) MachineOption {
	return func(m *Machine) {
		m.ttl = ttl
	}
}

// WithNowTime sets the now time function (primarily for testing).
func WithNowTime(nowFunc func() time.Time) MachineOption {
	return func(m *Machine) {
		m.nowTime = nowFunc
	}
}

func NewMachine(options ...MachineOption) *Machine {
	m := &Machine{
		state:   StateNoChallenge,
		ttl:     DefaultChallengeTTL,
		nowTime: time.Now,
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// Issue records a challenge token returned by the backend, replacing any
// previous challenge.
func (m *Machine) Issue(challengeToken string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.state = StateChallengeIssued
	m.challenge = &Challenge{
		Token:    challengeToken,
		IssuedAt: m.nowTime(),
	}
}

// Token returns the active challenge token. It fails with
// NoPendingChallengeErr when no challenge is active, or ChallengeExpiredErr
// once the TTL has elapsed (which also transitions the machine to Expired).
func (m *Machine) Token() (string, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.state != StateChallengeIssued || m.challenge == nil {
		return "", errors.Wrap(NoPendingChallengeErr, "[Machine.Token]")
	}
	if m.nowTime().Sub(m.challenge.IssuedAt) > m.ttl {
		m.state = StateExpired
		m.challenge = nil
		return "", errors.Wrap(ChallengeExpiredErr, "[Machine.Token]")
	}
	return m.challenge.Token, nil
}

// Resolve marks the challenge as verified after the backend accepted the
// code. It fails if no challenge is active.
func (m *Machine) Resolve() error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.state != StateChallengeIssued {
		return errors.Wrap(NoPendingChallengeErr, "[Machine.Resolve]")
	}
	m.state = StateVerified
	m.challenge = nil
	return nil
}

// Cancel discards the challenge on explicit user action ("back to login").
// Idempotent when nothing is pending.
func (m *Machine) Cancel() {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.state == StateChallengeIssued {
		m.state = StateCancelled
	}
	m.challenge = nil
}

// Reset returns the machine to NoChallenge, e.g. when a session is
// established or torn down.
func (m *Machine) Reset() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.state = StateNoChallenge
	m.challenge = nil
}

// State returns the current machine state, accounting for TTL expiry.
func (m *Machine) State() State {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.state == StateChallengeIssued && m.challenge != nil &&
		m.nowTime().Sub(m.challenge.IssuedAt) > m.ttl {
		m.state = StateExpired
		m.challenge = nil
	}
	return m.state
}

// Pending reports whether a live challenge is awaiting a code.
func (m *Machine) Pending() bool {
	return m.State() == StateChallengeIssued
}
