package session

import "errors"

var (
	SessionExpiredErr      = errors.New("session expired")
	InconsistentSessionErr = errors.New("session must carry both an access token and a user")
)
