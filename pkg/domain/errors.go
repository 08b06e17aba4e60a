package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed caller input rejected before any I/O.
	ErrValidation = errors.New("validation error")
	// ErrStoreUnavailable marks a missing session or an unreachable store.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrStoreError marks a reachable store that rejected the request or answered garbage.
	ErrStoreError = errors.New("store error")
	// ErrGeneration marks a failed or unusable text/image generation.
	ErrGeneration = errors.New("generation error")
	// ErrGenerationTimeout is a generation that ran past its deadline.
	ErrGenerationTimeout = fmt.Errorf("%w: timeout", ErrGeneration)
)
