// Package apperr defines the typed error taxonomy shared across the service.
// Every layer (store, service, handler) returns or wraps an *Error so the
// HTTP surface can map failures to status codes in one place instead of
// re-deriving them per handler.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the purpose of HTTP status mapping.
type Kind string

const (
	KindNotFound            Kind = "not_found"
	KindInvalidInput        Kind = "invalid_input"
	KindInsufficientCredits Kind = "insufficient_credits"
	KindConflict            Kind = "conflict"
	KindUnauthorized        Kind = "unauthorized"
	KindForbidden           Kind = "forbidden"
	KindEngineUnavailable   Kind = "engine_unavailable"
	KindEngineFailed        Kind = "engine_failed"
	KindInternal            Kind = "internal"
)

// Code is the machine-readable error tag returned to clients in error.code.
type Code string

const (
	CodeInvalidMode            Code = "INVALID_MODE"
	CodeInvalidSourceImage     Code = "INVALID_SOURCE_IMAGE"
	CodeMissingReferenceImage  Code = "MISSING_REFERENCE_IMAGE"
	CodeInvalidRequest         Code = "INVALID_REQUEST"
	CodeUnauthenticated        Code = "UNAUTHENTICATED"
	CodeForbidden              Code = "FORBIDDEN"
	CodeCreditNotEnough        Code = "CREDIT_NOT_ENOUGH"
	CodeBalanceWriteFailed     Code = "BALANCE_WRITE_FAILED"
	CodeImageLoadFailed        Code = "IMAGE_LOAD_FAILED"
	CodeResultSaveFailed       Code = "RESULT_SAVE_FAILED"
	CodeTaskDataNotFound       Code = "TASK_DATA_NOT_FOUND"
	CodeEngineUnavailable      Code = "ENGINE_UNAVAILABLE"
	CodeEngineTimeout          Code = "ENGINE_TIMEOUT"
	CodeEngineFailed           Code = "ENGINE_FAILED"
	CodeResultNotFound         Code = "RESULT_NOT_FOUND"
	CodePipelineError          Code = "PIPELINE_ERROR"
	CodeInternalError          Code = "INTERNAL_ERROR"
)

// codeKind binds each machine-readable code to the HTTP-status Kind it maps to.
var codeKind = map[Code]Kind{
	CodeInvalidMode:           KindInvalidInput,
	CodeInvalidSourceImage:    KindInvalidInput,
	CodeMissingReferenceImage: KindInvalidInput,
	CodeInvalidRequest:        KindInvalidInput,
	CodeUnauthenticated:       KindUnauthorized,
	CodeForbidden:             KindForbidden,
	CodeCreditNotEnough:       KindInsufficientCredits,
	CodeBalanceWriteFailed:    KindInternal,
	CodeImageLoadFailed:       KindInvalidInput,
	CodeResultSaveFailed:      KindInternal,
	CodeTaskDataNotFound:      KindNotFound,
	CodeEngineUnavailable:     KindEngineUnavailable,
	CodeEngineTimeout:         KindEngineFailed,
	CodeEngineFailed:          KindEngineFailed,
	CodeResultNotFound:        KindEngineFailed,
	CodePipelineError:         KindInternal,
	CodeInternalError:         KindInternal,
}

// Error is the structured application error. Message is safe to show to an
// end user; Details carries optional field-level or diagnostic context.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Details map[string]string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an *Error of the given kind with no underlying cause and no
// machine-readable code (used for internal plumbing errors that never
// reach a client verbatim).
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// NewCode builds an *Error carrying one of the taxonomy's machine-readable
// codes; its Kind is derived from the code.
func NewCode(code Code, message string) *Error {
	return &Error{Kind: codeKind[code], Code: code, Message: message}
}

// WrapCode builds an *Error carrying a machine-readable code and an
// underlying cause.
func WrapCode(code Code, message string, cause error) *Error {
	return &Error{Kind: codeKind[code], Code: code, Message: message, cause: cause}
}

// WithDetails attaches field-level detail strings and returns e for chaining.
func (e *Error) WithDetails(details map[string]string) *Error {
	e.Details = details
	return e
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error, defaulting
// to KindInternal otherwise.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// CodeOf extracts the machine-readable Code of err, defaulting to
// CodeInternalError when err carries none or isn't an *Error.
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Code != "" {
		return appErr.Code
	}
	return CodeInternalError
}

// Is reports whether err is (or wraps) an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
