package domain

import (
	"errors"
	"fmt"
)

var (
	ErrPermissionDenied    = errors.New("microphone permission denied")
	ErrDeviceError         = errors.New("recording device unavailable")
	ErrNoRecordingProduced = errors.New("no recording produced")
	ErrTransport           = errors.New("backend unreachable")
	ErrCommitRejected      = errors.New("backend rejected the activities")
	ErrUnauthenticated     = errors.New("not signed in to a family")
)

// Failure is a caregiver-visible failure of one pipeline step.
type Failure struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`

	cause error
}

// NewFailure builds a failure of the given code wrapping cause. When message
// is empty the cause's text is used.
func NewFailure(code ErrorCode, message string, cause error) *Failure {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &Failure{Code: code, Message: message, cause: cause}
}

func (f *Failure) Error() string {
	if f.cause != nil && f.cause.Error() != f.Message {
		return fmt.Sprintf("%s: %s: %v", f.Code, f.Message, f.cause)
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

// Unwrap exposes both the code's sentinel and the underlying cause.
func (f *Failure) Unwrap() []error {
	errs := make([]error, 0, 2)
	if sentinel := sentinelFor(f.Code); sentinel != nil {
		errs = append(errs, sentinel)
	}
	if f.cause != nil {
		errs = append(errs, f.cause)
	}
	return errs
}

// Retryable reports whether the caregiver can simply redo the action.
func (f *Failure) Retryable() bool {
	return f.Code.Retryable()
}

// Retryable reports whether failures of this code go away by trying again.
// Permission and sign-in problems need the caregiver to change something first.
func (c ErrorCode) Retryable() bool {
	switch c {
	case ErrorCodeTransport, ErrorCodeCommitRejected, ErrorCodeNoRecording, ErrorCodeDevice,
		ErrorCodeAudioStream, ErrorCodeSessionRefresh:
		return true
	default:
		return false
	}
}

// AsFailure finds the *Failure in err's chain.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

func sentinelFor(code ErrorCode) error {
	switch code {
	case ErrorCodePermissionDenied:
		return ErrPermissionDenied
	case ErrorCodeDevice:
		return ErrDeviceError
	case ErrorCodeNoRecording:
		return ErrNoRecordingProduced
	case ErrorCodeTransport:
		return ErrTransport
	case ErrorCodeCommitRejected:
		return ErrCommitRejected
	case ErrorCodeUnauthenticated:
		return ErrUnauthenticated
	default:
		return nil
	}
}
