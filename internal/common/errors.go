// Package common defines shared constants and sentinel errors used across
// gatekeeper components. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Protocol-level errors.
	ErrorUnsupportedPacket    = errors.New("unsupported packet type")
	ErrorDuplicateSession     = errors.New("duplicate session")
	ErrorMissingRequiredField = errors.New("missing required field")
	ErrorValidation           = errors.New("validation failed")

	// Account state machine errors.
	ErrorInvalidPayload     = errors.New("invalid payload")
	ErrorAlreadyExists      = errors.New("already exists")
	ErrorInvalidCredentials = errors.New("invalid credentials")
	ErrorLocked             = errors.New("account locked")
	ErrorDisabled           = errors.New("account disabled")
	ErrorInvalidSession     = errors.New("invalid session")
	ErrorPasswordTooWeak    = errors.New("password too weak")

	// Service-level errors (generic/internal flow control).
	ErrorInternal = errors.New("internal error")
	ErrorTimeout  = errors.New("handler timeout")
	ErrorThrottle = errors.New("request rate exceeded")
)
