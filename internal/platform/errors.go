package platform

import (
	"errors"
	"fmt"
)

// ErrorKind classifies platform failures so the API boundary can translate
// them into transport-level responses without string matching.
type ErrorKind int

const (
	// KindOther covers every failure without a more specific classification.
	KindOther ErrorKind = iota
	// KindInvalidCredentials marks a rejected username/password pair.
	KindInvalidCredentials
	// KindChallengeRequired marks accounts the platform wants verified
	// out-of-band before allowing API access.
	KindChallengeRequired
	// KindRateLimited marks throttling responses from the platform.
	KindRateLimited
	// KindBadRequest marks locally detected input problems, such as a
	// non-positive collection limit.
	KindBadRequest
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindChallengeRequired:
		return "challenge_required"
	case KindRateLimited:
		return "rate_limited"
	case KindBadRequest:
		return "bad_request"
	default:
		return "other"
	}
}

// Error carries a platform failure alongside its classification. Message is
// surfaced verbatim to API callers for KindOther failures.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with the provided kind and a formatted message.
func NewError(kind ErrorKind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the classification from err, defaulting to KindOther for
// errors that did not originate in this package.
func KindOf(err error) ErrorKind {
	var platformErr *Error
	if errors.As(err, &platformErr) {
		return platformErr.Kind
	}
	return KindOther
}
