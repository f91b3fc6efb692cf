package apperr

import (
	"errors"
	"fmt"
)

// Error codes shared by the pipeline and surfaced by the API.
const (
	CodeConfig             = "config_invalid"
	CodeMissingFingerprint = "missing_fingerprint"
	CodeNotImplemented     = "not_implemented"
	CodeStorage            = "storage_error"
	CodeMalformedPayload   = "malformed_payload"
	CodeNoFixtures         = "no_fixtures"
	CodeProviderNotFound   = "not_found"
	CodePathNotFound       = "path_not_found"
	CodeBadRequest         = "bad_request"
)

// Sentinels for errors.Is. Any *Error carrying the same code matches.
var (
	ErrConfig             = &Error{Code: CodeConfig, Message: "invalid provider configuration"}
	ErrMissingFingerprint = &Error{Code: CodeMissingFingerprint, Message: "no fingerprint found for alert enrichment"}
	ErrNotImplemented     = &Error{Code: CodeNotImplemented, Message: "method not implemented"}
	ErrStorage            = &Error{Code: CodeStorage, Message: "enrichment storage failed"}
	ErrMalformedPayload   = &Error{Code: CodeMalformedPayload, Message: "alert payload is not a mapping"}
	ErrNoFixtures         = &Error{Code: CodeNoFixtures, Message: "provider has no alert fixtures"}
	ErrProviderNotFound   = &Error{Code: CodeProviderNotFound, Message: "provider not found"}
	ErrPathNotFound       = &Error{Code: CodePathNotFound, Message: "result path not found"}
)

// Error is a typed error that can be surfaced to API clients.
type Error struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New constructs a typed error.
func New(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Newf constructs a typed error with a formatted message and no cause.
func Newf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
