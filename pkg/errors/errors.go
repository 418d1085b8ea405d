package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Sentinel values used throughout the pipeline. Callers classify behavior
// with errors.Is against these rather than matching message strings.
var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrInternalError = errors.New("internal error")
	ErrTimeout       = errors.New("operation timed out")
	ErrCanceled      = errors.New("operation canceled")

	// Domain-specific sentinel values
	ErrDecodeFailed        = errors.New("audio frame decode failed")
	ErrSessionNotFound     = errors.New("call session not found")
	ErrSessionAlreadyExist = errors.New("call session already exists")
	ErrSessionClosed       = errors.New("call session closed")
	ErrBackendTransient    = errors.New("transcription backend transient failure")
	ErrBackendFatal        = errors.New("transcription backend fatal failure")
	ErrBufferOverflow      = errors.New("audio buffer limit exceeded")
	ErrInvalidMessage      = errors.New("invalid control message")
)

// Error is a structured error carrying contextual fields and the location
// where it was created.
type Error struct {
	original error
	message  string
	fields   map[string]interface{}
	file     string
	line     int

	// Code is an optional error code for categorization
	Code string
}

// New creates a new structured error with the given message.
func New(message string, fields ...map[string]interface{}) *Error {
	_, file, line, _ := runtime.Caller(1)
	return &Error{
		original: errors.New(message),
		message:  message,
		fields:   firstFieldMap(fields),
		file:     file,
		line:     line,
	}
}

// Wrap wraps an existing error with additional context.
func Wrap(err error, message string, fields ...map[string]interface{}) *Error {
	if err == nil {
		return nil
	}
	_, file, line, _ := runtime.Caller(1)
	return &Error{
		original: err,
		message:  message,
		fields:   firstFieldMap(fields),
		file:     file,
		line:     line,
	}
}

func firstFieldMap(fields []map[string]interface{}) map[string]interface{} {
	if len(fields) > 0 && fields[0] != nil {
		return fields[0]
	}
	return make(map[string]interface{})
}

// WithField returns a copy of the error with one additional context field.
func (e *Error) WithField(key string, value interface{}) *Error {
	if e == nil {
		return nil
	}
	fields := make(map[string]interface{}, len(e.fields)+1)
	for k, v := range e.fields {
		fields[k] = v
	}
	fields[key] = value
	return &Error{
		original: e.original,
		message:  e.message,
		fields:   fields,
		file:     e.file,
		line:     e.line,
		Code:     e.Code,
	}
}

// WithCode returns a copy of the error carrying the given code.
func (e *Error) WithCode(code string) *Error {
	if e == nil {
		return nil
	}
	return &Error{
		original: e.original,
		message:  e.message,
		fields:   e.fields,
		file:     e.file,
		line:     e.line,
		Code:     code,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil || e.original == nil {
		return ""
	}
	if e.message == "" {
		return e.original.Error()
	}
	return fmt.Sprintf("%s: %v", e.message, e.original)
}

// Unwrap implements the errors.Unwrap interface.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.original
}

// Location returns the file:line where the error was created.
func (e *Error) Location() string {
	if e == nil {
		return ""
	}
	parts := strings.Split(e.file, "/")
	return fmt.Sprintf("%s:%d", parts[len(parts)-1], e.line)
}

// GetFields returns the error's context fields.
func (e *Error) GetFields() map[string]interface{} {
	if e == nil {
		return nil
	}
	return e.fields
}

// Is reports whether any error in err's tree matches target.
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	if errors.Is(e.original, target) {
		return true
	}
	return e == target
}

// NewDecodeError wraps a frame-decode failure. Callers drop the frame and
// continue the session.
func NewDecodeError(details string, fields ...map[string]interface{}) *Error {
	_, file, line, _ := runtime.Caller(1)
	return &Error{
		original: ErrDecodeFailed,
		message:  fmt.Sprintf("audio frame decode failed: %s", details),
		fields:   firstFieldMap(fields),
		file:     file,
		line:     line,
		Code:     "DECODE_FAILED",
	}
}

// NewSessionNotFound reports a message addressed to an unknown stream.
func NewSessionNotFound(streamSid string) *Error {
	_, file, line, _ := runtime.Caller(1)
	return &Error{
		original: ErrSessionNotFound,
		message:  fmt.Sprintf("call session not found: %s", streamSid),
		fields:   map[string]interface{}{"stream_sid": streamSid},
		file:     file,
		line:     line,
		Code:     "SESSION_NOT_FOUND",
	}
}

// NewDuplicateStart reports a start message for a stream that already has a
// live session. Treated as an idempotent no-op by the gateway.
func NewDuplicateStart(streamSid string) *Error {
	_, file, line, _ := runtime.Caller(1)
	return &Error{
		original: ErrSessionAlreadyExist,
		message:  fmt.Sprintf("call session already exists: %s", streamSid),
		fields:   map[string]interface{}{"stream_sid": streamSid},
		file:     file,
		line:     line,
		Code:     "DUPLICATE_START",
	}
}

// NewBackendTransient wraps a recoverable backend failure (network blip,
// rate limit). The owning session logs it and continues.
func NewBackendTransient(err error, fields ...map[string]interface{}) *Error {
	_, file, line, _ := runtime.Caller(1)
	return &Error{
		original: fmt.Errorf("%w: %v", ErrBackendTransient, err),
		message:  "transcription backend error",
		fields:   firstFieldMap(fields),
		file:     file,
		line:     line,
		Code:     "BACKEND_TRANSIENT",
	}
}

// NewBackendFatal wraps a fatal-to-session backend failure (auth failure,
// backend explicitly closed). The owning session transitions to Closed.
func NewBackendFatal(err error, fields ...map[string]interface{}) *Error {
	_, file, line, _ := runtime.Caller(1)
	return &Error{
		original: fmt.Errorf("%w: %v", ErrBackendFatal, err),
		message:  "transcription backend failed",
		fields:   firstFieldMap(fields),
		file:     file,
		line:     line,
		Code:     "BACKEND_FATAL",
	}
}

// IsErrorType checks if an error is of a specific error type.
func IsErrorType(err, target error) bool {
	return errors.Is(err, target)
}

// GetErrorCode extracts the error code from a structured error.
func GetErrorCode(err error) string {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.Code
	}
	return ""
}
