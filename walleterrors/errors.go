// Package walleterrors defines the failure taxonomy of the wallet state
// manager. Sentinels use the "code|Name: description" form so that
// GetErrorName and GetErrorCode can recover them from wrapped messages.
package walleterrors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation          = errors.New("W1|Validation: malformed fixed-size input")
	ErrNotFound            = errors.New("W2|NotFound: unknown note, nullifier, key or checkpoint depth")
	ErrCapacity            = errors.New("W3|Capacity: accumulator leaf capacity exhausted")
	ErrInsufficientBalance = errors.New("W4|InsufficientBalance: selection cannot meet target")
	ErrStateConsistency    = errors.New("W5|StateConsistency: wallet state is inconsistent with the request")
)

// taxonomyError wraps a sentinel with call-site context. The sentinel
// stays first in the message so GetErrorName keeps working.
type taxonomyError struct {
	kind   error
	detail string
}

func (e *taxonomyError) Error() string {
	return e.kind.Error() + ": " + e.detail
}

func (e *taxonomyError) Unwrap() error {
	return e.kind
}

func wrap(kind error, format string, args ...interface{}) error {
	return &taxonomyError{kind: kind, detail: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...interface{}) error {
	return wrap(ErrValidation, format, args...)
}

func NotFound(format string, args ...interface{}) error {
	return wrap(ErrNotFound, format, args...)
}

func Capacity(format string, args ...interface{}) error {
	return wrap(ErrCapacity, format, args...)
}

func StateConsistency(format string, args ...interface{}) error {
	return wrap(ErrStateConsistency, format, args...)
}

// InsufficientBalanceError reports the eligible balance against the target.
type InsufficientBalanceError struct {
	Have uint64
	Need uint64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("%s: have %d, need %d", ErrInsufficientBalance, e.Have, e.Need)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// GetErrorName extracts the taxonomy name ("NotFound", ...) from err.
func GetErrorName(err error) string {
	if err == nil {
		return "No Error"
	}
	for _, kind := range []error{ErrValidation, ErrNotFound, ErrCapacity, ErrInsufficientBalance, ErrStateConsistency} {
		if errors.Is(err, kind) {
			return nameOf(kind.Error())
		}
	}
	return nameOf(err.Error())
}

func nameOf(errStr string) string {
	if !strings.Contains(errStr, "|") || !strings.Contains(errStr, ":") {
		return errStr
	}
	parts := strings.SplitN(errStr, "|", 2)
	nameParts := strings.SplitN(parts[1], ":", 2)
	return strings.TrimSpace(nameParts[0])
}

// GetErrorCode extracts the error code from the error message.
func GetErrorCode(err error) string {
	if err == nil {
		return ""
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "|") {
		return ""
	}
	parts := strings.SplitN(errStr, "|", 2)
	return strings.TrimSpace(parts[0])
}
