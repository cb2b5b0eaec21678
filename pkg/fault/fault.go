// Package fault defines the error classes shared across the pipeline:
// parse failures, authorization failures, throttling, storage corruption
// and non-fatal ingestion warnings.
package fault

import (
	"errors"
	"fmt"
)

// ParseError reports a malformed policy or query input, naming the
// offending document or fragment.
type ParseError struct {
	// Document identifies the source: a policy ARN, inline policy path,
	// or "query" for DSL input.
	Document string
	// Fragment is the offending portion of the input, when known.
	Fragment string
	Err      error
}

func (e *ParseError) Error() string {
	if e.Fragment != "" {
		return fmt.Sprintf("parse error in %s at %q: %v", e.Document, e.Fragment, e.Err)
	}
	return fmt.Sprintf("parse error in %s: %v", e.Document, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// SyntaxError reports a malformed query string with the byte position of
// the failure.
type SyntaxError struct {
	Input    string
	Position int
	Message  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at position %d: %s", e.Position, e.Message)
}

// AuthError is a credential or authorization failure. It is permanent:
// callers must not retry.
type AuthError struct {
	Operation string
	Err       error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authorization failure during %s: %v", e.Operation, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ThrottleError is a rate-limit response from the provider. It is
// transient: callers retry with backoff up to a bounded attempt count
// before surfacing it.
type ThrottleError struct {
	Operation string
	Err       error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled during %s: %v", e.Operation, e.Err)
}

func (e *ThrottleError) Unwrap() error { return e.Err }

// StorageError is a persistence read, write or corruption failure. It
// always names the file involved.
type StorageError struct {
	Path string
	Op   string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed for %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IngestionWarning records a non-fatal ingestion defect: a dangling
// reference or an unfetchable sub-resource. Warnings accumulate during a
// run and are reported alongside a successful result.
type IngestionWarning struct {
	Subject string
	Detail  string
}

func (w IngestionWarning) String() string {
	return fmt.Sprintf("%s: %s", w.Subject, w.Detail)
}

// IsPermanent reports whether err must not be retried.
func IsPermanent(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsTransient reports whether err is a retryable throttling failure.
func IsTransient(err error) bool {
	var throttleErr *ThrottleError
	return errors.As(err, &throttleErr)
}
