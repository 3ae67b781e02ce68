// Package idle enforces inactivity-based session expiry: after a bounded
// idle period the user is warned, and without an explicit continuation the
// session is torn down. Conservative defaults follow HIPAA-motivated
// session-expiry practice.
package idle

import (
	"sync"
	"time"
)

const (
	DefaultTimeout       = 15 * time.Minute
	DefaultWarningWindow = 60 * time.Second
)

// State of the monitor.
type State int

const (
	StateStopped State = iota
	StateActive
	StateWarning
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateActive:
		return "active"
	case StateWarning:
		return "warning"
	case StateExpired:
		return "expired"
	}
	return "unknown"
}

// Monitor is the Active → Warning → Expired state machine. Qualifying
// activity resets the clock only while Active; once the warning is shown,
// only an explicit Continue returns to Active, so incidental pointer
// movement over the warning dialog cannot dismiss it.
type Monitor struct {
	lock          sync.Mutex
	state         State
	timeout       time.Duration
	warningWindow time.Duration
	onWarning     func(window time.Duration)
	onExpired     func()
	timer         *time.Timer
	generation    int
}

type MonitorOption func(*Monitor)

// WithTimeout sets the total idle period before expiry.
func WithTimeout(timeout time.Duration) MonitorOption {
	return func(m *Monitor) {
		m.timeout = timeout
	}
}

// WithWarningWindow sets how long the warning is shown before expiry.
func WithWarningWindow(window time.Duration) MonitorOption {
	return func(m *Monitor) {
		m.warningWindow = window
	}
}

// NewMonitor creates a stopped monitor. onWarning fires on the transition
// to Warning with the countdown duration; onExpired fires when the warning
// elapses without continuation. Both callbacks run on timer goroutines
// without the monitor lock held.
func NewMonitor(onWarning func(window time.Duration), onExpired func(), options ...MonitorOption) *Monitor {
	m := &Monitor{
		state:         StateStopped,
		timeout:       DefaultTimeout,
		warningWindow: DefaultWarningWindow,
		onWarning:     onWarning,
		onExpired:     onExpired,
	}
	for _, opt := range options {
		opt(m)
	}
	if m.warningWindow >= m.timeout {
		m.warningWindow = m.timeout / 2
	}
	return m
}

// Start arms the monitor. Restarting an armed monitor resets it.
func (m *Monitor) Start() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.armActiveLocked()
}

// Touch records qualifying user activity. It resets the idle clock only in
// Active; in Warning or any other state it is a no-op.
func (m *Monitor) Touch() {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.state != StateActive {
		return
	}
	m.armActiveLocked()
}

// Continue is the explicit "keep me signed in" action. It returns the
// monitor from Warning to Active with fresh timers.
func (m *Monitor) Continue() {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.state != StateWarning {
		return
	}
	m.armActiveLocked()
}

// Stop cancels all timers. Idempotent.
func (m *Monitor) Stop() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.generation++
	m.stopTimerLocked()
	m.state = StateStopped
}

// State returns the current monitor state.
func (m *Monitor) State() State {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.state
}

// armActiveLocked (re)enters Active and schedules the warning transition.
func (m *Monitor) armActiveLocked() {
	m.generation++
	gen := m.generation
	m.stopTimerLocked()
	m.state = StateActive
	m.timer = time.AfterFunc(m.timeout-m.warningWindow, func() {
		m.enterWarning(gen)
	})
}

func (m *Monitor) enterWarning(gen int) {
	m.lock.Lock()
	if gen != m.generation || m.state != StateActive {
		m.lock.Unlock()
		return
	}
	m.generation++
	warnGen := m.generation
	m.state = StateWarning
	m.timer = time.AfterFunc(m.warningWindow, func() {
		m.expire(warnGen)
	})
	onWarning := m.onWarning
	window := m.warningWindow
	m.lock.Unlock()

	if onWarning != nil {
		onWarning(window)
	}
}

func (m *Monitor) expire(gen int) {
	m.lock.Lock()
	if gen != m.generation || m.state != StateWarning {
		m.lock.Unlock()
		return
	}
	m.generation++
	m.state = StateExpired
	onExpired := m.onExpired
	m.lock.Unlock()

	if onExpired != nil {
		onExpired()
	}
}

// stopTimerLocked stops whichever timer is pending. Stale fires are also
// guarded by the generation check, so a lost race here is harmless.
func (m *Monitor) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}
