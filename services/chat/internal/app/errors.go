package app

import "errors"

var (
	// ErrTurnInFlight rejects a turn while another one is still running.
	ErrTurnInFlight = errors.New("a turn is already in progress")
	// ErrSignInDisabled means no identity provider is configured.
	ErrSignInDisabled = errors.New("sign-in is not configured")
)
