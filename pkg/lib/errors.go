package lib

import (
	"errors"

	"github.com/slok/agentbox/internal/backtrack"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/session"
)

var (
	// ErrNotFound is returned when a session or snapshot doesn't exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a resource already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotValid is returned when the input is not valid.
	ErrNotValid = errors.New("not valid")
	// ErrRecoveryExhausted is returned when a step failed more times than allowed.
	ErrRecoveryExhausted = errors.New("recovery exhausted")
	// ErrReconnectLimit is returned when too many reconnections were attempted in a short time.
	ErrReconnectLimit = errors.New("reconnect limit reached")
)

// mapError converts internal errors to the public SDK errors keeping the original message.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, model.ErrNotFound):
		return joinErrors(err, ErrNotFound)
	case errors.Is(err, model.ErrAlreadyExists):
		return joinErrors(err, ErrAlreadyExists)
	case errors.Is(err, model.ErrNotValid):
		return joinErrors(err, ErrNotValid)
	case errors.Is(err, backtrack.ErrRecoveryExhausted):
		return joinErrors(err, ErrRecoveryExhausted)
	case errors.Is(err, session.ErrReconnectLimit):
		return joinErrors(err, ErrReconnectLimit)
	default:
		return err
	}
}

// joinErrors wraps the original error so both the message and the SDK sentinel are kept.
func joinErrors(original, sentinel error) error {
	return &sdkError{original: original, sentinel: sentinel}
}

type sdkError struct {
	original error
	sentinel error
}

func (e *sdkError) Error() string { return e.original.Error() }

func (e *sdkError) Is(target error) bool { return target == e.sentinel }

func (e *sdkError) Unwrap() error { return e.original }
