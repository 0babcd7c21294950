// Package ipedserr wraps pkg/errors and adds error codes for the failure
// classes the ingestion pipeline distinguishes.
//
// A coded error keeps its cause, so callers can ask both "is this a download
// failure?" (Is(err, CodeDownload)) and "was it a timeout underneath?"
// (errors.Is(err, context.DeadlineExceeded)).
package ipedserr

import (
	"github.com/pkg/errors"
)

// Code is an error code which can be checked with Is.
type Code string

const (
	// CodeRemoteFetch: listing page unreachable or malformed. Fatal for that
	// year's scrape.
	CodeRemoteFetch Code = "RemoteFetch"
	// CodeDownload: one file failed to download. The batch continues.
	CodeDownload Code = "Download"
	// CodeDecode: payload could not be decoded as tabular text.
	CodeDecode Code = "Decode"
	// CodeSchemaConflict: per-year schemas disagree. Resolved by placeholder
	// columns, reported but never fatal.
	CodeSchemaConflict Code = "SchemaConflict"
	// CodeWriteLock: the store is held exclusively by another process. Retry later.
	CodeWriteLock Code = "WriteLock"
	// CodeValidationCheck: one validation check failed internally.
	CodeValidationCheck Code = "ValidationCheck"
	// CodeSkipped: the item was intentionally not processed (cached, exists).
	CodeSkipped Code = "Skipped"
	// CodeInvalidArgument: the whole operation is meaningless with these inputs.
	CodeInvalidArgument Code = "InvalidArgument"
	// CodeUncoded is returned by CodeOf for errors without a code.
	CodeUncoded Code = "Uncoded"
)

// codedError carries a code, a message and an optional cause.
type codedError struct {
	code    Code
	message string
	cause   error
}

func (ce *codedError) Error() string {
	if ce.cause == nil {
		return ce.message
	}
	if ce.message == "" {
		return ce.cause.Error()
	}
	return ce.message + ": " + ce.cause.Error()
}

func (ce *codedError) Unwrap() error { return ce.cause }

// Is matches another coded error with the same code.
func (ce *codedError) Is(target error) bool {
	t, ok := target.(*codedError)
	return ok && t.cause == nil && t.message == "" && t.code == ce.code
}

// New returns a coded error with a stack trace.
func New(code Code, message string) error {
	return errors.WithStack(&codedError{code: code, message: message})
}

// Newf is New with formatting.
func Newf(code Code, format string, args ...interface{}) error {
	return errors.WithStack(&codedError{code: code, message: errors.Errorf(format, args...).Error()})
}

// Wrap attaches code and message to err. A nil err returns nil.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(&codedError{code: code, message: message, cause: err})
}

// Wrapf is Wrap with formatting.
func Wrapf(err error, code Code, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(&codedError{code: code, message: errors.Errorf(format, args...).Error(), cause: err})
}

// Is reports whether any error in err's chain carries code.
func Is(err error, code Code) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, &codedError{code: code})
}

// CodeOf returns the outermost code in err's chain, or CodeUncoded.
func CodeOf(err error) Code {
	var ce *codedError
	if errors.As(err, &ce) {
		return ce.code
	}
	return CodeUncoded
}

// Cause returns the underlying cause of err (pkg/errors semantics).
func Cause(err error) error {
	return errors.Cause(err)
}
