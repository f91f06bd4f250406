package domain

import (
	"errors"
	"fmt"
)

// ErrorCode represents a semantic classification shared across transport layers.
type ErrorCode string

const (
	ErrCodeNotFound               ErrorCode = "NOT_FOUND"
	ErrCodeValidation             ErrorCode = "VALIDATION_FAILED"
	ErrCodeConflict               ErrorCode = "CONFLICT"
	ErrCodeForbidden              ErrorCode = "FORBIDDEN"
	ErrCodeUnauthorized           ErrorCode = "UNAUTHORIZED"
	ErrCodeInternal               ErrorCode = "INTERNAL"
	ErrCodeAuthFailure            ErrorCode = "AUTH_FAILURE"
	ErrCodeDuplicateIdentity      ErrorCode = "DUPLICATE_IDENTITY"
	ErrCodeWeakCredential         ErrorCode = "WEAK_CREDENTIAL"
	ErrCodeProfileMissing         ErrorCode = "PROFILE_MISSING"
	ErrCodePendingConfirmation    ErrorCode = "PENDING_CONFIRMATION"
	ErrCodeAccountRejected        ErrorCode = "ACCOUNT_REJECTED"
	ErrCodeInvalidTransition      ErrorCode = "INVALID_TRANSITION"
	ErrCodeRemoteUnavailable      ErrorCode = "REMOTE_UNAVAILABLE"
	ErrCodePersistenceUnavailable ErrorCode = "PERSISTENCE_UNAVAILABLE"
	ErrCodePartialRegistration    ErrorCode = "PARTIAL_REGISTRATION"
	ErrCodeSuperseded             ErrorCode = "SUPERSEDED"
)

// Error represents a domain-level error.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target classifies e. A class sentinel (see classes)
// matches every error of its code; any other target must also carry the same
// message, which keeps e.g. ErrProfileNotFound and ErrDocumentNotFound apart.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil || e.Code != t.Code {
		return false
	}
	if _, class := classes[t]; class {
		return true
	}
	return t.Message == "" || t.Message == e.Message
}

// NewError builds a domain error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError wraps an existing error with a domain classification.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain errors.
var (
	ErrProfileNotFound     = NewError(ErrCodeNotFound, "profile not found")
	ErrDocumentNotFound    = NewError(ErrCodeNotFound, "document not found")
	ErrSessionNotFound     = NewError(ErrCodeNotFound, "session not found")
	ErrIdentityNotFound    = NewError(ErrCodeNotFound, "identity not found")
	ErrUnauthorized        = NewError(ErrCodeUnauthorized, "unauthorized")
	ErrInvalidPayload      = NewError(ErrCodeValidation, "invalid payload")
	ErrAuthFailure         = NewError(ErrCodeAuthFailure, "invalid email or password")
	ErrDuplicateIdentity   = NewError(ErrCodeDuplicateIdentity, "email already in use")
	ErrWeakCredential      = NewError(ErrCodeWeakCredential, "password does not meet policy")
	ErrProfileMissing      = NewError(ErrCodeProfileMissing, "no profile exists for this identity")
	ErrPendingConfirmation = NewError(ErrCodePendingConfirmation, "your account is pending confirmation by an admin")
	ErrAccountRejected     = NewError(ErrCodeAccountRejected, "your registration was rejected by an admin")
	ErrForbidden           = NewError(ErrCodeForbidden, "operation not permitted for this session")
	ErrInvalidTransition   = NewError(ErrCodeInvalidTransition, "invalid status transition")
	ErrRemoteUnavailable   = NewError(ErrCodeRemoteUnavailable, "remote store unavailable")
	ErrStaleWrite          = NewError(ErrCodeConflict, "document changed concurrently")
	ErrSuperseded          = NewError(ErrCodeSuperseded, "identity superseded by a newer sign-in")
	ErrDeleteUnsupported   = NewError(ErrCodeInternal, "identity provider does not support deletion")
)

// classes are the sentinels that stand for their whole code. Codes with
// several distinct sentinels (NOT_FOUND, CONFLICT, INTERNAL) are left out.
var classes = map[*Error]struct{}{
	ErrUnauthorized:        {},
	ErrInvalidPayload:      {},
	ErrAuthFailure:         {},
	ErrDuplicateIdentity:   {},
	ErrWeakCredential:      {},
	ErrProfileMissing:      {},
	ErrPendingConfirmation: {},
	ErrAccountRejected:     {},
	ErrForbidden:           {},
	ErrInvalidTransition:   {},
	ErrRemoteUnavailable:   {},
	ErrSuperseded:          {},
}

// IsDomainError helps checking error codes.
func IsDomainError(err error, code ErrorCode) bool {
	var dErr *Error
	if errors.As(err, &dErr) {
		return dErr.Code == code
	}
	return false
}

// CodeOf returns the code of the first domain error in the chain, or INTERNAL.
func CodeOf(err error) ErrorCode {
	var dErr *Error
	if errors.As(err, &dErr) {
		return dErr.Code
	}
	return ErrCodeInternal
}
