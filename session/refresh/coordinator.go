// Package refresh serializes access-token renewal: any number of callers
// discovering a stale token share one backend refresh, and they all
// succeed or fail together.
package refresh

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/carelinkhealth/go-session-client/session"
)

// DefaultMargin is how close to expiry a token may get before it is
// renewed ahead of use.
const DefaultMargin = 30 * time.Second

// refreshKey: one logical token lifetime per store, so a single
// singleflight key suffices.
const refreshKey = "refresh"

// Refresher performs the actual backend refresh and returns the replacement
// session (new access token and claims, same user unless the role changed).
type Refresher interface {
	RefreshSession(ctx context.Context) (*session.Session, error)
}

// RefresherFunc adapts a function to the Refresher interface.
type RefresherFunc func(ctx context.Context) (*session.Session, error)

func (f RefresherFunc) RefreshSession(ctx context.Context) (*session.Session, error) {
	return f(ctx)
}

// Coordinator guards the token store's refresh path. A failed refresh is
// fatal for the session: the store is cleared and every waiter receives
// session.SessionExpiredErr.
type Coordinator struct {
	store     *session.Store
	refresher Refresher
	margin    time.Duration
	group     singleflight.Group
	nowTime   func() time.Time

	onRefreshed func()
	onExpired   func(err error)
}

type CoordinatorOption func(*Coordinator)

// WithMargin sets the freshness safety margin.
func WithMargin(margin time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.margin = margin
	}
}

// WithNowTime sets the now time function (primarily for testing).
func WithNowTime(nowFunc func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		c.nowTime = nowFunc
	}
}

// WithOnRefreshed registers a hook run after each successful refresh.
func WithOnRefreshed(hook func()) CoordinatorOption {
	return func(c *Coordinator) {
		c.onRefreshed = hook
	}
}

// WithOnExpired registers a hook run when a refresh fails and the session
// is torn down. The hook receives the underlying backend error.
func WithOnExpired(hook func(err error)) CoordinatorOption {
	return func(c *Coordinator) {
		c.onExpired = hook
	}
}

func NewCoordinator(store *session.Store, refresher Refresher, options ...CoordinatorOption) (*Coordinator, error) {
	if store == nil {
		return nil, errors.New("[NewCoordinator] store is required")
	}
	if refresher == nil {
		return nil, errors.New("[NewCoordinator] refresher is required")
	}

	c := &Coordinator{
		store:     store,
		refresher: refresher,
		margin:    DefaultMargin,
		nowTime:   time.Now,
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// AccessToken returns a token valid for at least the safety margin,
// refreshing it first when necessary. Concurrent callers needing a refresh
// attach to the same in-flight operation; exactly one backend call is made
// per expiry window.
func (c *Coordinator) AccessToken(ctx context.Context) (string, error) {
	if accessToken, ok := c.freshToken(); ok {
		return accessToken, nil
	}

	result, err, _ := c.group.Do(refreshKey, func() (any, error) {
		// Re-check inside the flight: a caller that lost the race to a
		// just-completed refresh finds a fresh token here and goes no
		// further.
		if accessToken, ok := c.freshToken(); ok {
			return accessToken, nil
		}
		if c.store.Get() == nil {
			return nil, errors.Wrap(session.SessionExpiredErr, "[Coordinator.AccessToken] no session")
		}

		next, err := c.refresher.RefreshSession(ctx)
		if err != nil {
			c.store.Clear()
			if c.onExpired != nil {
				c.onExpired(err)
			}
			if errors.Is(err, session.SessionExpiredErr) {
				return nil, err
			}
			return nil, errors.Wrap(session.SessionExpiredErr, err.Error())
		}

		if err := c.store.Set(next); err != nil {
			return nil, errors.Wrap(err, "[Coordinator.AccessToken]")
		}
		if c.onRefreshed != nil {
			c.onRefreshed()
		}
		return next.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// freshToken returns the current token when it comfortably outlives the
// margin, avoiding any network call.
func (c *Coordinator) freshToken() (string, bool) {
	current := c.store.Get()
	if current == nil {
		return "", false
	}
	if current.Claims == nil {
		return "", false
	}
	if current.Claims.ExpiresWithin(c.nowTime(), c.margin) {
		return "", false
	}
	return current.AccessToken, true
}
