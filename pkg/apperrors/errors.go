package apperrors

import "errors"

// Common errors
var (
	ErrUnauthorized          = errors.New("unauthorized")
	ErrForbidden             = errors.New("forbidden")
	ErrNotFound              = errors.New("not found")
	ErrInvalidInput          = errors.New("invalid input")
	ErrAlreadyExists         = errors.New("already exists")
	ErrDecode                = errors.New("malformed frame")
	ErrInvalidCallTransition = errors.New("invalid call transition")
	ErrCallConflict          = errors.New("already in an active call")
	ErrServiceUnavailable    = errors.New("service unavailable")
)
