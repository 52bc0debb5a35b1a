package auth

import (
	stderrors "errors"
	"fmt"

	"api-gateway/internal/common/errors"
)

// ErrorKind names the check that rejected a credential.
type ErrorKind string

const (
	MissingToken     ErrorKind = "missing_token"
	MalformedToken   ErrorKind = "malformed_token"
	BadSignature     ErrorKind = "bad_signature"
	IssuerMismatch   ErrorKind = "issuer_mismatch"
	AudienceMismatch ErrorKind = "audience_mismatch"
	Expired          ErrorKind = "expired"
)

var kindDetail = map[ErrorKind]string{
	MissingToken:     "Missing authentication token",
	MalformedToken:   "Malformed authentication token",
	BadSignature:     "Invalid token signature",
	IssuerMismatch:   "Invalid token issuer",
	AudienceMismatch: "Invalid token audience",
	Expired:          "Token has expired",
}

// Error is returned by Resolve for every rejected credential.
type Error struct {
	Kind  ErrorKind
	Cause error
}

func newError(kind ErrorKind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("auth: %s: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("auth: %s", e.Kind)
}

// Unwrap exposes the cause together with an authentication AppError whose
// code is the kind.
func (e *Error) Unwrap() []error {
	errs := []error{errors.AuthError(e.Detail()).WithCode(string(e.Kind))}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// Detail is the client-facing message for the rejection. It never includes
// the underlying cause.
func (e *Error) Detail() string {
	if d, ok := kindDetail[e.Kind]; ok {
		return d
	}
	return "Authentication failed"
}

// KindOf reports the ErrorKind carried by err, if any.
func KindOf(err error) (ErrorKind, bool) {
	var authErr *Error
	if stderrors.As(err, &authErr) {
		return authErr.Kind, true
	}
	return "", false
}
