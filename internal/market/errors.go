package market

import (
	"errors"
	"fmt"
)

// Error classes returned by the preview engine. Callers match them with errors.Is.
var (
	ErrConfig       = errors.New("market config error")
	ErrValidation   = errors.New("invalid input")
	ErrPrecondition = errors.New("precondition failed")
	ErrUnavailable  = errors.New("feature unavailable")
	ErrUpstream     = errors.New("upstream read failed")
)

// UpstreamError wraps a failed remote read. Error() returns the reader's message unchanged.
type UpstreamError struct {
	Op  string // e.g. "calculate_debt_n1" or "batch(max_borrowable x47)"
	Err error
}

func (e *UpstreamError) Error() string { return e.Err.Error() }

func (e *UpstreamError) Unwrap() error { return e.Err }

// Is reports ErrUpstream as a match so callers need not type-assert.
func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }

// Upstream wraps err as an *UpstreamError unless it already is one.
func Upstream(op string, err error) error {
	if err == nil {
		return nil
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return err
	}
	return &UpstreamError{Op: op, Err: err}
}

// Configf returns an error matching ErrConfig.
func Configf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

// Validationf returns an error matching ErrValidation.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Preconditionf returns an error matching ErrPrecondition.
func Preconditionf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPrecondition, fmt.Sprintf(format, args...))
}

// Unavailablef returns an error matching ErrUnavailable.
func Unavailablef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnavailable, fmt.Sprintf(format, args...))
}
