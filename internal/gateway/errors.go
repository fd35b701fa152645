package gateway

import (
	"context"
	"errors"
	"fmt"
)

// ErrorClass categorizes a failed tool call. The retry policy keys off
// these classes: transient failures may be retried, permission and
// invalid-arguments failures exclude the tool from later attempts.
type ErrorClass string

const (
	ErrorClassTransient   ErrorClass = "transient"
	ErrorClassInvalidArgs ErrorClass = "invalid_arguments"
	ErrorClassPermission  ErrorClass = "permission"
	ErrorClassUnknown     ErrorClass = "unknown"
)

// PermissionError signals the caller is not allowed to perform the action.
type PermissionError struct {
	Reason string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: %s", e.Reason)
}

// InvalidArgumentsError signals the arguments were malformed or out of range.
type InvalidArgumentsError struct {
	Reason string
}

func (e *InvalidArgumentsError) Error() string {
	return fmt.Sprintf("invalid arguments: %s", e.Reason)
}

// TransientError wraps a failure worth retrying, such as a network error
// or an upstream service hiccup.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Classify maps a tool error to its class. Context expiry counts as
// transient so a timed-out call can be retried on a later attempt.
func Classify(err error) ErrorClass {
	if err == nil {
		return ""
	}

	var perm *PermissionError
	if errors.As(err, &perm) {
		return ErrorClassPermission
	}

	var invalid *InvalidArgumentsError
	if errors.As(err, &invalid) {
		return ErrorClassInvalidArgs
	}

	var transient *TransientError
	if errors.As(err, &transient) {
		return ErrorClassTransient
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorClassTransient
	}

	return ErrorClassUnknown
}
