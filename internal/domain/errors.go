package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
	ErrValidation          = errors.New("validation failed")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrBatchNotReady       = errors.New("batch not ready")
	ErrBatchNotTerminal    = errors.New("batch still in progress")
	ErrNothingToBundle     = errors.New("nothing to bundle")
	ErrStorageFailure      = errors.New("storage failure")
	ErrProviderFailure     = errors.New("provider failure")
	ErrAlreadyTerminal     = errors.New("already terminal")
)
