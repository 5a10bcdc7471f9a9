// Package errors provides the unified error taxonomy for the integration core.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Family distinguishes infrastructure/programming errors from user-visible ones.
type Family string

const (
	FamilyInternal    Family = "internal"
	FamilyApplication Family = "application"
)

// Code is a stable numeric identifier for a CoreError kind.
type Code uint16

const (
	// Internal errors (infrastructure / programming)
	CodeUnknown Code = 1000 + iota
	CodeUniqueFieldViolation
	CodeTimeout
	CodeConnectionError
	CodeKeyNotFound
	CodeInvalidArgument
	CodeIoErr
	CodeEncryptionError
	CodeDecryptionError
	CodeConfigurationError
	CodeSerializeError
	CodeDeserializeError
	CodeScriptError
)

const (
	// Application errors (user-visible)
	CodeBadRequest Code = 2000 + iota
	CodeConflict
	CodeForbidden
	CodeInternalServerError
	CodeMethodNotAllowed
	CodeNotFound
	CodeNotImplemented
	CodeFailedDependency
	CodeServiceUnavailable
	CodeTooManyRequests
	CodeUnauthorized
	CodeUnprocessableEntity
)

var internalKeys = map[Code]string{
	CodeUnknown:              "unknown",
	CodeUniqueFieldViolation: "unique_field_violation",
	CodeTimeout:              "timeout",
	CodeConnectionError:      "connection_error",
	CodeKeyNotFound:          "key_not_found",
	CodeInvalidArgument:      "invalid_argument",
	CodeIoErr:                "io_err",
	CodeEncryptionError:      "encryption_error",
	CodeDecryptionError:      "decryption_error",
	CodeConfigurationError:   "configuration_error",
	CodeSerializeError:       "serialize_error",
	CodeDeserializeError:     "deserialize_error",
	CodeScriptError:          "script_error",
}

var applicationKeys = map[Code]string{
	CodeBadRequest:          "bad_request",
	CodeConflict:            "conflict",
	CodeForbidden:           "forbidden",
	CodeInternalServerError: "internal_server_error",
	CodeMethodNotAllowed:    "method_not_allowed",
	CodeNotFound:            "not_found",
	CodeNotImplemented:      "not_implemented",
	CodeFailedDependency:    "failed_dependency",
	CodeServiceUnavailable:  "service_unavailable",
	CodeTooManyRequests:     "too_many_requests",
	CodeUnauthorized:        "unauthorized",
	CodeUnprocessableEntity: "unprocessable_entity",
}

var internalHTTPStatus = map[Code]int{
	CodeUnknown:              http.StatusInternalServerError,
	CodeUniqueFieldViolation: http.StatusConflict,
	CodeTimeout:              http.StatusGatewayTimeout,
	CodeConnectionError:      http.StatusBadGateway,
	CodeKeyNotFound:          http.StatusNotFound,
	CodeInvalidArgument:      http.StatusBadRequest,
	CodeIoErr:                http.StatusInternalServerError,
	CodeEncryptionError:      http.StatusInternalServerError,
	CodeDecryptionError:      http.StatusInternalServerError,
	CodeConfigurationError:   http.StatusInternalServerError,
	CodeSerializeError:       http.StatusBadRequest,
	CodeDeserializeError:     http.StatusBadRequest,
	CodeScriptError:          http.StatusInternalServerError,
}

var applicationHTTPStatus = map[Code]int{
	CodeBadRequest:          http.StatusBadRequest,
	CodeConflict:            http.StatusConflict,
	CodeForbidden:           http.StatusForbidden,
	CodeInternalServerError: http.StatusInternalServerError,
	CodeMethodNotAllowed:    http.StatusMethodNotAllowed,
	CodeNotFound:            http.StatusNotFound,
	CodeNotImplemented:      http.StatusNotImplemented,
	CodeFailedDependency:    http.StatusFailedDependency,
	CodeServiceUnavailable:  http.StatusServiceUnavailable,
	CodeTooManyRequests:     http.StatusTooManyRequests,
	CodeUnauthorized:        http.StatusUnauthorized,
	CodeUnprocessableEntity: http.StatusUnprocessableEntity,
}

// CoreError is the structured error type carried through the core.
type CoreError struct {
	Family     Family
	Code       Code
	Subtype    string
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	Err        error
}

// Error implements the error interface.
func (e *CoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Key(), e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Key(), e.Message)
}

// Unwrap returns the underlying error, if any.
func (e *CoreError) Unwrap() error { return e.Err }

// Key returns the dotted error key, e.g. "err.internal.key_not_found" or
// "err.internal.key_not_found.cmd".
func (e *CoreError) Key() string {
	var name string
	if e.Family == FamilyInternal {
		name = internalKeys[e.Code]
	} else {
		name = applicationKeys[e.Code]
	}
	if name == "" {
		name = "unknown"
	}
	key := fmt.Sprintf("err.%s.%s", e.Family, name)
	if e.Subtype != "" {
		key += "." + e.Subtype
	}
	return key
}

// WithDetails attaches a diagnostic field and returns the receiver for chaining.
func (e *CoreError) WithDetails(key string, value interface{}) *CoreError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithSubtype sets the error's subtype segment.
func (e *CoreError) WithSubtype(subtype string) *CoreError {
	e.Subtype = subtype
	return e
}

func newInternal(code Code, message string, err error) *CoreError {
	return &CoreError{
		Family:     FamilyInternal,
		Code:       code,
		Message:    message,
		HTTPStatus: internalHTTPStatus[code],
		Err:        err,
	}
}

func newApplication(code Code, message string) *CoreError {
	return &CoreError{
		Family:     FamilyApplication,
		Code:       code,
		Message:    message,
		HTTPStatus: applicationHTTPStatus[code],
	}
}

// Internal error constructors

func Unknown(err error) *CoreError { return newInternal(CodeUnknown, "unknown error", err) }

func UniqueFieldViolation(field string, err error) *CoreError {
	return newInternal(CodeUniqueFieldViolation, "unique field violation", err).WithDetails("field", field)
}

func Timeout(operation string) *CoreError {
	return newInternal(CodeTimeout, "operation timed out", nil).WithDetails("operation", operation)
}

func ConnectionError(message string, err error) *CoreError {
	return newInternal(CodeConnectionError, message, err)
}

func KeyNotFound(resource, key string) *CoreError {
	return newInternal(CodeKeyNotFound, "key not found", nil).
		WithDetails("resource", resource).WithDetails("key", key)
}

func InvalidArgument(message string) *CoreError {
	return newInternal(CodeInvalidArgument, message, nil)
}

func IoErr(err error) *CoreError { return newInternal(CodeIoErr, "io error", err) }

func EncryptionError(err error) *CoreError {
	return newInternal(CodeEncryptionError, "encryption failed", err)
}

func DecryptionError(err error) *CoreError {
	return newInternal(CodeDecryptionError, "decryption failed", err)
}

func ConfigurationError(message string, err error) *CoreError {
	return newInternal(CodeConfigurationError, message, err)
}

func SerializeError(err error) *CoreError {
	return newInternal(CodeSerializeError, "serialize error", err)
}

func DeserializeError(err error) *CoreError {
	return newInternal(CodeDeserializeError, "deserialize error", err)
}

func ScriptError(message string) *CoreError {
	return newInternal(CodeScriptError, message, nil)
}

func ScriptTimeout() *CoreError {
	return newInternal(CodeScriptError, "script timed out", nil).WithSubtype("timeout")
}

// Application error constructors

func BadRequest(message string) *CoreError    { return newApplication(CodeBadRequest, message) }
func Conflict(message string) *CoreError      { return newApplication(CodeConflict, message) }
func Forbidden(message string) *CoreError     { return newApplication(CodeForbidden, message) }
func InternalServerError(message string) *CoreError {
	return newApplication(CodeInternalServerError, message)
}
func MethodNotAllowed(message string) *CoreError { return newApplication(CodeMethodNotAllowed, message) }
func NotFound(message string) *CoreError         { return newApplication(CodeNotFound, message) }
func NotImplemented(message string) *CoreError   { return newApplication(CodeNotImplemented, message) }
func FailedDependency(message string) *CoreError { return newApplication(CodeFailedDependency, message) }
func ServiceUnavailable(message string) *CoreError {
	return newApplication(CodeServiceUnavailable, message)
}
func TooManyRequests(message string) *CoreError  { return newApplication(CodeTooManyRequests, message) }
func Unauthorized(message string) *CoreError     { return newApplication(CodeUnauthorized, message) }
func UnprocessableEntity(message string) *CoreError {
	return newApplication(CodeUnprocessableEntity, message)
}

// IsCoreError reports whether err is (or wraps) a *CoreError.
func IsCoreError(err error) bool {
	var ce *CoreError
	return errors.As(err, &ce)
}

// As extracts a *CoreError from an error chain, if present.
func As(err error) *CoreError {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce
	}
	return nil
}

// HTTPStatus returns the mapped HTTP status for err, defaulting to 500.
func HTTPStatus(err error) int {
	if ce := As(err); ce != nil {
		if ce.HTTPStatus != 0 {
			return ce.HTTPStatus
		}
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}
