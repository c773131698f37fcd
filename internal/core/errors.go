package core

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorClass partitions failures for retry/dead-letter decisions
type ErrorClass string

const (
	// ErrorTransient covers network/timeout/rate-limit failures worth retrying
	ErrorTransient ErrorClass = "transient"
	// ErrorCredential covers expired or revoked provider credentials
	ErrorCredential ErrorClass = "credential"
	// ErrorMalformed covers unparseable provider payloads (log and drop)
	ErrorMalformed ErrorClass = "malformed"
	// ErrorTerminal covers everything else; terminal failures are never retried
	ErrorTerminal ErrorClass = "terminal"
)

// ClassifiedError attaches an ErrorClass to an underlying error. Adapters
// wrap provider and client errors at the point the failure is observed, so
// retryability never depends on matching message substrings.
type ClassifiedError struct {
	Class ErrorClass
	Err   error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// TransientError wraps err as retryable
func TransientError(err error) error {
	return &ClassifiedError{Class: ErrorTransient, Err: err}
}

// CredentialError wraps err as a credential failure
func CredentialError(err error) error {
	return &ClassifiedError{Class: ErrorCredential, Err: err}
}

// MalformedError wraps err as a malformed-payload failure
func MalformedError(err error) error {
	return &ClassifiedError{Class: ErrorMalformed, Err: err}
}

// TerminalError wraps err as non-retryable
func TerminalError(err error) error {
	return &ClassifiedError{Class: ErrorTerminal, Err: err}
}

// Classify returns the error class for err. Explicit classifications win;
// otherwise network timeouts and cancelled deadlines are treated as
// transient and anything unrecognized as terminal.
func Classify(err error) ErrorClass {
	if err == nil {
		return ""
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrorTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTransient
	}
	return ErrorTerminal
}

// IsRetryable reports whether a failed work item should be re-enqueued.
// Credential errors are retryable: the next attempt refreshes the token
// before touching the provider again.
func IsRetryable(err error) bool {
	switch Classify(err) {
	case ErrorTransient, ErrorCredential:
		return true
	default:
		return false
	}
}

// Sentinel errors shared by store implementations
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)
