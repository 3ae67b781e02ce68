package session

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/carelinkhealth/go-session-client/permissions"
)

// Store is the tab-scoped mutable cell holding at most one Session.
// Every read returns a full, consistent snapshot: a session is either
// entirely present (token and user) or absent, never half-replaced.
type Store struct {
	lock       sync.RWMutex
	current    *Session
	perms      permissions.PermissionSet
	listeners  map[int]func(*Session)
	listenerID int
}

func NewStore() *Store {
	return &Store{
		listeners: make(map[int]func(*Session)),
	}
}

// Get returns the current session, or nil when unauthenticated.
func (s *Store) Get() *Session {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.current
}

// Set atomically replaces the current session and recomputes the derived
// permission flags. A session with a token but no user (or vice versa) is
// rejected, so no reader can ever observe that state.
func (s *Store) Set(sess *Session) error {
	if sess == nil {
		s.Clear()
		return nil
	}
	if (sess.AccessToken == "") != (sess.User == nil) {
		return errors.Wrap(InconsistentSessionErr, "[Store.Set]")
	}
	if sess.AccessToken == "" {
		s.Clear()
		return nil
	}

	s.lock.Lock()
	s.current = sess
	s.perms = permissions.Derive(sess.Claims)
	handlers := s.snapshotListeners()
	s.lock.Unlock()

	for _, h := range handlers {
		h(sess)
	}
	return nil
}

// Clear removes the session. Calling it on an empty store is a no-op.
func (s *Store) Clear() {
	s.lock.Lock()
	cleared := s.current != nil
	s.current = nil
	s.perms = permissions.PermissionSet{}
	handlers := s.snapshotListeners()
	s.lock.Unlock()

	if !cleared {
		return
	}
	for _, h := range handlers {
		h(nil)
	}
}

// Permissions returns the capability flags derived from the current
// session's claims. An empty store yields the zero set.
func (s *Store) Permissions() permissions.PermissionSet {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.perms
}

// OnChange registers a listener invoked after every session replacement or
// clear. The returned function removes the listener.
func (s *Store) OnChange(handler func(*Session)) func() {
	s.lock.Lock()
	defer s.lock.Unlock()
	id := s.listenerID
	s.listenerID++
	s.listeners[id] = handler
	return func() {
		s.lock.Lock()
		defer s.lock.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Store) snapshotListeners() []func(*Session) {
	handlers := make([]func(*Session), 0, len(s.listeners))
	for _, h := range s.listeners {
		handlers = append(handlers, h)
	}
	return handlers
}
