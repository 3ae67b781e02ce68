package authclient

import "errors"

var (
	InvalidInputErr       = errors.New("username and password are required")
	InvalidCredentialsErr = errors.New("invalid credentials")
	NetworkErr            = errors.New("network failure")
	ServerErrorErr        = errors.New("server error")
	ForbiddenErr          = errors.New("forbidden")
)
