package pipeline

import (
	"errors"
	"fmt"
)

// ErrSessionExpired is returned when the server keeps rejecting the
// credentials after a refresh, or the refresh itself failed. The session
// has been cleared by the time it is returned.
var ErrSessionExpired = errors.New("session expired")

// Kind classifies a failed request.
type Kind int

const (
	// KindTransient covers network errors, timeouts and retryable statuses
	// once the retry budget is spent.
	KindTransient Kind = iota + 1
	// KindAuth means the session is gone.
	KindAuth
	// KindStatus is any other non-2xx response.
	KindStatus
	// KindCanceled means the caller's context ended first. The session is
	// untouched.
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindAuth:
		return "auth"
	case KindStatus:
		return "status"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// RequestError is returned by Client.Do for every failed request.
type RequestError struct {
	Kind       Kind
	Method     string
	URL        string
	StatusCode int
	Body       []byte
	Metadata   Metadata
	Err        error
}

func (e *RequestError) Error() string {
	msg := fmt.Sprintf("%s %s", e.Method, e.URL)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Metadata.RetryCount > 0 {
		msg += fmt.Sprintf(" after %d retries", e.Metadata.RetryCount)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a RequestError of KindTransient.
func IsTransient(err error) bool {
	var re *RequestError
	return errors.As(err, &re) && re.Kind == KindTransient
}
