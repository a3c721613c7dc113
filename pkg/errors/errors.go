// Package errors implements the plugin's error taxonomy: sentinel errors
// for internal conditions, and a WireError wrapper that carries the closed
// set of wire error kinds defined by the Launcher protocol.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// WireKind is the closed set of error kinds the Launcher protocol can
// carry on the wire as Error.errorCode.
type WireKind string

const (
	KindInvalidResponse     WireKind = "invalid-response"
	KindUnknown             WireKind = "unknown"
	KindRequestNotSupported WireKind = "request-not-supported"
	KindInvalidRequest      WireKind = "invalid-request"
	KindJobNotFound         WireKind = "job-not-found"
	KindPluginRestarted     WireKind = "plugin-restarted"
	KindTimeout             WireKind = "timeout"
	KindJobNotRunning       WireKind = "job-not-running"
	KindJobOutputNotFound   WireKind = "job-output-not-found"
	KindInvalidJobState     WireKind = "invalid-job-state"
	KindJobControlFailure   WireKind = "job-control-failure"
	KindUnsupportedVersion  WireKind = "unsupported-version"
)

// Sentinel errors for internal conditions. These never cross the wire
// directly; ClassifyToWireKind maps them to the wire kind of an Error
// response.
var (
	ErrJobNotFound       = errors.New("job not found")
	ErrJobNotRunning     = errors.New("job is not running")
	ErrInvalidJobSpec    = errors.New("invalid job specification")
	ErrJobControlFailed  = errors.New("job control operation failed")
	ErrJobOutputNotFound = errors.New("job output not found")
	ErrUnsupportedVer    = errors.New("unsupported plugin protocol version")
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrPluginRestarted   = errors.New("plugin was restarted")
	ErrTimeout           = errors.New("operation timed out")

	// Internal-only kinds; always surface as KindUnknown on the wire.
	ErrJSONParse         = errors.New("json parse error")
	ErrJSONSchema        = errors.New("json schema error")
	ErrOptionParse       = errors.New("option parse error")
	ErrProcessLaunch     = errors.New("process launch error")
	ErrProfileParse      = errors.New("profile parse error")
	ErrMountType         = errors.New("unsupported mount type")
	ErrJobConfigInvalid  = errors.New("job config validation error")
)

// WireError is a structured error with a stable wire kind, a numeric code,
// a human message, and an optional cause chain.
type WireError struct {
	Kind      WireKind
	Code      int
	Message   string
	Location  string
	Cause     error
}

func (e *WireError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *WireError) Unwrap() error { return e.Cause }

// NewWireError constructs a WireError.
func NewWireError(kind WireKind, message string, cause error) *WireError {
	return &WireError{Kind: kind, Message: message, Cause: cause}
}

// JobError decorates an error with the job id and operation that failed,
// mirroring the "job %s: operation %s: %v" shape used throughout the
// local backend.
type JobError struct {
	JobID     string
	Operation string
	Err       error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job %s: operation %s: %v", e.JobID, e.Operation, e.Err)
}

func (e *JobError) Unwrap() error { return e.Err }

func WrapJobError(jobID, operation string, err error) error {
	if err == nil {
		return nil
	}
	return &JobError{JobID: jobID, Operation: operation, Err: err}
}

// ClassifyToWireKind maps an error to the most specific wire kind it
// matches, falling back to KindUnknown. Internal-only sentinel errors
// always fall back to KindUnknown per spec.md §7's propagation policy.
func ClassifyToWireKind(err error) WireKind {
	if err == nil {
		return ""
	}

	var we *WireError
	if errors.As(err, &we) {
		return we.Kind
	}

	switch {
	case errors.Is(err, ErrJobNotFound):
		return KindJobNotFound
	case errors.Is(err, ErrJobNotRunning):
		return KindJobNotRunning
	case errors.Is(err, ErrJobOutputNotFound):
		return KindJobOutputNotFound
	case errors.Is(err, ErrInvalidJobSpec):
		return KindInvalidRequest
	case errors.Is(err, ErrJobControlFailed):
		return KindJobControlFailure
	case errors.Is(err, ErrUnsupportedVer):
		return KindUnsupportedVersion
	case errors.Is(err, ErrPluginRestarted):
		return KindPluginRestarted
	case errors.Is(err, ErrTimeout), IsContextError(err):
		return KindTimeout
	default:
		return KindUnknown
	}
}

// IsContextError reports whether err is a context cancellation/deadline.
func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// IsNotFound reports whether err represents any "not found" condition.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrJobNotFound) || errors.Is(err, ErrJobOutputNotFound)
}
