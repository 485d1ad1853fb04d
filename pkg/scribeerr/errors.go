// Package scribeerr defines the error kinds shared by the transcription pipeline.
//
// Every package wraps its failures with one of these sentinels so callers can
// classify them with errors.Is without depending on concrete error types.
package scribeerr

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration aborts the whole run.
	ErrConfiguration = errors.New("configuration error")

	// ErrDecode marks a failed stream inspection or audio extraction. The file is skipped.
	ErrDecode = errors.New("decode error")

	// ErrService marks a failed transcription call. The segment contributes no text.
	ErrService = errors.New("service error")

	// ErrTransient is matched in addition to ErrService or ErrDecode when a
	// retry may succeed (timeouts, rate limits, 5xx, network failures).
	ErrTransient = errors.New("transient error")

	// ErrIO marks an unreadable source or an unwritable output. The file is skipped.
	ErrIO = errors.New("io error")
)

// Configf returns a configuration error with a formatted message.
func Configf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// Wrap attaches kind to err, keeping err in the chain.
func Wrap(kind error, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, msg: msg, err: err}
}

// Transient marks err as retryable while keeping its existing kind.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: ErrTransient, err: err}
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// Kind returns the name of the first kind found in err's chain.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrService):
		return "service"
	case errors.Is(err, ErrIO):
		return "io"
	default:
		return "unknown"
	}
}

type kindError struct {
	kind error
	msg  string
	err  error
}

func (e *kindError) Error() string {
	if e.msg == "" {
		return e.err.Error()
	}
	return e.msg + ": " + e.err.Error()
}

func (e *kindError) Unwrap() []error {
	return []error{e.kind, e.err}
}
