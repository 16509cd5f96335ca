package protocol

// Status is the single-byte response code carried by StatusResponse.
type Status uint8

const (
	StatusOK Status = iota
	StatusInvalidPacket
	StatusInvalidPayload
	StatusAlreadyExists
	StatusInvalidCredentials
	StatusLocked
	StatusDisabled
	StatusInvalidSession
	StatusPasswordTooWeak
	StatusInternalError

	// Handshake control codes.
	StatusUnsupportedPacket
	StatusDuplicateSession
	StatusMissingRequiredField
	StatusValidationFailed
)

var statusNames = map[Status]string{
	StatusOK:                   "OK",
	StatusInvalidPacket:        "INVALID_PACKET",
	StatusInvalidPayload:       "INVALID_PAYLOAD",
	StatusAlreadyExists:        "ALREADY_EXISTS",
	StatusInvalidCredentials:   "INVALID_CREDENTIALS",
	StatusLocked:               "LOCKED",
	StatusDisabled:             "DISABLED",
	StatusInvalidSession:       "INVALID_SESSION",
	StatusPasswordTooWeak:      "PASSWORD_TOO_WEAK",
	StatusInternalError:        "INTERNAL_ERROR",
	StatusUnsupportedPacket:    "UNSUPPORTED_PACKET",
	StatusDuplicateSession:     "DUPLICATE_SESSION",
	StatusMissingRequiredField: "MISSING_REQUIRED_FIELD",
	StatusValidationFailed:     "VALIDATION_FAILED",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "UNKNOWN"
}

// RetryAdvice tells the client how to react to a non-OK response.
type RetryAdvice uint8

const (
	AdviceDoNotRetry RetryAdvice = iota
	AdviceFixAndRetry
	AdviceBackoffRetry
)
