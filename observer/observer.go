// Package observer defines the collaborator notified on session lifecycle
// transitions. It replaces a hidden global health tracker with an
// injectable dependency so the core stays testable without static state.
package observer

// Monitor receives lifecycle notifications. Implementations must be safe
// for concurrent use and must not block.
type Monitor interface {
	LoginSucceeded(userID string)
	LoginFailed(reason string)
	TwoFactorChallenged()
	TokenRefreshed()
	RefreshFailed()
	InactivityWarning()
	SignedOut(reason string)
}

type nopMonitor struct{}

func (nopMonitor) LoginSucceeded(string) {}
func (nopMonitor) LoginFailed(string)    {}
func (nopMonitor) TwoFactorChallenged()  {}
func (nopMonitor) TokenRefreshed()       {}
func (nopMonitor) RefreshFailed()        {}
func (nopMonitor) InactivityWarning()    {}
func (nopMonitor) SignedOut(string)      {}

// Nop returns a Monitor that ignores every notification.
func Nop() Monitor {
	return nopMonitor{}
}
