package twofactor_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/carelinkhealth/go-session-client/twofactor"
)

func TestMachineLifecycle(t *testing.T) {
	t.Run("no challenge at rest", func(t *testing.T) {
		m := twofactor.NewMachine()
		require.Equal(t, twofactor.StateNoChallenge, m.State())
		require.False(t, m.Pending())

		_, err := m.Token()
		require.ErrorIs(t, err, twofactor.NoPendingChallengeErr)
		require.ErrorIs(t, m.Resolve(), twofactor.NoPendingChallengeErr)
	})

	t.Run("issue then resolve", func(t *testing.T) {
		m := twofactor.NewMachine()
		m.Issue("challenge-1")
		require.True(t, m.Pending())

		tok, err := m.Token()
		require.NoError(t, err)
		require.Equal(t, "challenge-1", tok)

		require.NoError(t, m.Resolve())
		require.Equal(t, twofactor.StateVerified, m.State())
		require.False(t, m.Pending())

		_, err = m.Token()
		require.ErrorIs(t, err, twofactor.NoPendingChallengeErr)
	})

	t.Run("cancel discards the challenge", func(t *testing.T) {
		m := twofactor.NewMachine()
		m.Issue("challenge-1")
		m.Cancel()
		require.Equal(t, twofactor.StateCancelled, m.State())

		_, err := m.Token()
		require.ErrorIs(t, err, twofactor.NoPendingChallengeErr)

		// Cancel with nothing pending is a no-op.
		m.Reset()
		m.Cancel()
		require.Equal(t, twofactor.StateNoChallenge, m.State())
	})

	t.Run("reissue replaces a pending challenge", func(t *testing.T) {
		m := twofactor.NewMachine()
		m.Issue("challenge-1")
		m.Issue("challenge-2")

		tok, err := m.Token()
		require.NoError(t, err)
		require.Equal(t, "challenge-2", tok)
	})
}

func TestMachineExpiry(t *testing.T) {
	now := time.Now()
	current := now
	m := twofactor.NewMachine(
		twofactor.WithTTL(5*time.Minute),
		twofactor.WithNowTime(func() time.Time { return current }),
	)

	m.Issue("challenge-1")
	require.True(t, m.Pending())

	current = now.Add(4 * time.Minute)
	tok, err := m.Token()
	require.NoError(t, err)
	require.Equal(t, "challenge-1", tok)

	current = now.Add(6 * time.Minute)
	_, err = m.Token()
	require.ErrorIs(t, err, twofactor.ChallengeExpiredErr)
	require.Equal(t, twofactor.StateExpired, m.State())

	// Expiry is sticky: a later read does not resurrect the challenge.
	_, err = m.Token()
	require.ErrorIs(t, err, twofactor.NoPendingChallengeErr)
}

func TestMachineStateStrings(t *testing.T) {
	require.Equal(t, "no_challenge", twofactor.StateNoChallenge.String())
	require.Equal(t, "challenge_issued", twofactor.StateChallengeIssued.String())
	require.Equal(t, "verified", twofactor.StateVerified.String())
	require.Equal(t, "expired", twofactor.StateExpired.String())
	require.Equal(t, "cancelled", twofactor.StateCancelled.String())
}
