package idle_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/carelinkhealth/go-session-client/idle"
)

const (
	testTimeout       = 200 * time.Millisecond
	testWarningWindow = 80 * time.Millisecond
)

type monitorFixture struct {
	monitor  *idle.Monitor
	warnings atomic.Int32
	expiries atomic.Int32
	warned   chan struct{}
	expired  chan struct{}
}

func newMonitorFixture(t *testing.T, options ...idle.MonitorOption) *monitorFixture {
	t.Helper()
	f := &monitorFixture{
		warned:  make(chan struct{}, 8),
		expired: make(chan struct{}, 8),
	}
	opts := append([]idle.MonitorOption{
		idle.WithTimeout(testTimeout),
		idle.WithWarningWindow(testWarningWindow),
	}, options...)
	f.monitor = idle.NewMonitor(
		func(time.Duration) {
			f.warnings.Add(1)
			f.warned <- struct{}{}
		},
		func() {
			f.expiries.Add(1)
			f.expired <- struct{}{}
		},
		opts...,
	)
	t.Cleanup(f.monitor.Stop)
	return f
}

func waitFor(t *testing.T, ch chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestMonitorWarnsThenExpires(t *testing.T) {
	f := newMonitorFixture(t)
	f.monitor.Start()
	require.Equal(t, idle.StateActive, f.monitor.State())

	waitFor(t, f.warned, "warning")
	require.Equal(t, idle.StateWarning, f.monitor.State())

	waitFor(t, f.expired, "expiry")
	require.Equal(t, idle.StateExpired, f.monitor.State())
	require.EqualValues(t, 1, f.warnings.Load())
	require.EqualValues(t, 1, f.expiries.Load())
}

func TestMonitorTouchResetsOnlyWhileActive(t *testing.T) {
	f := newMonitorFixture(t)
	f.monitor.Start()

	// Repeated activity keeps the monitor in Active past the point where
	// an untouched monitor would have warned.
	deadline := time.Now().Add(2 * testTimeout)
	for time.Now().Before(deadline) {
		f.monitor.Touch()
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, idle.StateActive, f.monitor.State())
	require.EqualValues(t, 0, f.warnings.Load())

	// Once warned, activity no longer dismisses the countdown.
	waitFor(t, f.warned, "warning")
	f.monitor.Touch()
	require.Equal(t, idle.StateWarning, f.monitor.State())

	waitFor(t, f.expired, "expiry")
	require.Equal(t, idle.StateExpired, f.monitor.State())
}

func TestMonitorContinueReturnsToActive(t *testing.T) {
	f := newMonitorFixture(t)
	f.monitor.Start()

	waitFor(t, f.warned, "warning")
	f.monitor.Continue()
	require.Equal(t, idle.StateActive, f.monitor.State())

	// The full cycle runs again after continuation.
	waitFor(t, f.warned, "second warning")
	waitFor(t, f.expired, "expiry")
	require.EqualValues(t, 2, f.warnings.Load())
	require.EqualValues(t, 1, f.expiries.Load())
}

func TestMonitorContinueOutsideWarningIsNoOp(t *testing.T) {
	f := newMonitorFixture(t)

	f.monitor.Continue()
	require.Equal(t, idle.StateStopped, f.monitor.State())

	f.monitor.Start()
	f.monitor.Continue()
	require.Equal(t, idle.StateActive, f.monitor.State())
}

func TestMonitorStop(t *testing.T) {
	f := newMonitorFixture(t)
	f.monitor.Start()
	f.monitor.Stop()
	require.Equal(t, idle.StateStopped, f.monitor.State())

	// No callbacks fire after Stop, even past the original deadlines.
	time.Sleep(testTimeout + testWarningWindow + 100*time.Millisecond)
	require.EqualValues(t, 0, f.warnings.Load())
	require.EqualValues(t, 0, f.expiries.Load())

	f.monitor.Stop()
	require.Equal(t, idle.StateStopped, f.monitor.State())
}

func TestMonitorRestartAfterExpiry(t *testing.T) {
	f := newMonitorFixture(t)
	f.monitor.Start()
	waitFor(t, f.warned, "warning")
	waitFor(t, f.expired, "expiry")

	f.monitor.Start()
	require.Equal(t, idle.StateActive, f.monitor.State())
	waitFor(t, f.warned, "warning after restart")
}

func TestMonitorClampsOversizedWarningWindow(t *testing.T) {
	m := idle.NewMonitor(nil, nil,
		idle.WithTimeout(100*time.Millisecond),
		idle.WithWarningWindow(5*time.Second),
	)
	defer m.Stop()

	m.Start()
	// With the window clamped below the timeout the monitor still reaches
	// Warning rather than expiring immediately.
	time.Sleep(70 * time.Millisecond)
	require.Equal(t, idle.StateWarning, m.State())
}
