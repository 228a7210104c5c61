package asyncrpc

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
)

// Error represents a structured runtime error with context and errno mapping
type Error struct {
	Op    string        // Operation that failed (e.g., "open", "poll", "call")
	Path  string        // File path or peer address ("" if not applicable)
	Code  ErrorCode     // High-level error category
	Errno syscall.Errno // Kernel errno (0 if not applicable)
	Msg   string        // Human-readable message
	Inner error         // Wrapped error
}

// Error implements the error interface
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}

	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("path=%s", e.Path))
	}

	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("asyncrpc: %s (%s)", msg, strings.Join(parts, " "))
	}

	return fmt.Sprintf("asyncrpc: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is provides errors.Is support against other structured errors
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}

	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}

	return false
}

// Timeout reports whether the error is a deadline expiry. Satisfies the
// net.Error convention so callers can test transport errors uniformly.
func (e *Error) Timeout() bool {
	return e.Code == CodeTimeout
}

// ErrorCode represents high-level error categories
type ErrorCode string

const (
	// Descriptor-level failures
	CodeIO               ErrorCode = "I/O error"
	CodeTimeout          ErrorCode = "I/O timeout"
	CodePending          ErrorCode = "I/O operation already pending"
	CodeAccessFailed     ErrorCode = "access failed"
	CodePermissionDenied ErrorCode = "permission denied"
	CodeFileNotFound     ErrorCode = "file not found"
	CodeDeviceNotFound   ErrorCode = "device not found"

	// Value-model and codec failures
	CodeSerialization ErrorCode = "serialization error"
	CodeConversion    ErrorCode = "conversion error"

	// Non-I/O OS failures (pipe, poll, fork, ...)
	CodeSystem ErrorCode = "system error"

	// Using an API outside its contract, e.g. async I/O on a
	// device that was not opened in async mode
	CodeInvalidOperation ErrorCode = "invalid operation"
)

// Error constructors

// NewError creates a new structured error
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{
		Op:   op,
		Code: code,
		Msg:  msg,
	}
}

// NewErrorWithErrno creates a new structured error with errno
func NewErrorWithErrno(op string, code ErrorCode, errno syscall.Errno) *Error {
	return &Error{
		Op:    op,
		Code:  code,
		Errno: errno,
		Msg:   errno.Error(),
	}
}

// NewPathError creates a new error carrying the path that failed
func NewPathError(op, path string, code ErrorCode, errno syscall.Errno) *Error {
	return &Error{
		Op:    op,
		Path:  path,
		Code:  code,
		Errno: errno,
		Msg:   errno.Error(),
	}
}

// SerializationError creates a codec-level error
func SerializationError(msg string) *Error {
	return &Error{Code: CodeSerialization, Msg: msg}
}

// ConversionError creates a value-coercion error
func ConversionError(msg string) *Error {
	return &Error{Code: CodeConversion, Msg: msg}
}

// WrapError wraps an existing error with operation context
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	// If it's already a structured error, just update the operation
	if ae, ok := inner.(*Error); ok {
		return &Error{
			Op:    op,
			Path:  ae.Path,
			Code:  ae.Code,
			Errno: ae.Errno,
			Msg:   ae.Msg,
			Inner: ae.Inner,
		}
	}

	// Map common syscall errors to error codes
	code := CodeIO
	if errno, ok := inner.(syscall.Errno); ok {
		code = mapErrnoToCode(errno)
		return &Error{
			Op:    op,
			Code:  code,
			Errno: errno,
			Msg:   errno.Error(),
			Inner: inner,
		}
	}

	return &Error{
		Op:    op,
		Code:  code,
		Msg:   inner.Error(),
		Inner: inner,
	}
}

// mapErrnoToCode maps syscall errno to error codes
func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.ENOENT:
		return CodeFileNotFound
	case syscall.ENODEV, syscall.ENXIO:
		return CodeDeviceNotFound
	case syscall.EPERM, syscall.EACCES:
		return CodePermissionDenied
	case syscall.ETIMEDOUT:
		return CodeTimeout
	case syscall.EINVAL, syscall.EBADF:
		return CodeInvalidOperation
	default:
		return CodeIO
	}
}

// OpenError maps an open(2) failure to the access-failed family
func OpenError(path string, errno syscall.Errno) *Error {
	code := CodeAccessFailed
	switch errno {
	case syscall.ENOENT:
		code = CodeFileNotFound
	case syscall.EPERM, syscall.EACCES:
		code = CodePermissionDenied
	case syscall.ENODEV, syscall.ENXIO:
		code = CodeDeviceNotFound
	}
	return NewPathError("open", path, code, errno)
}

// IsCode checks if an error matches a specific error code
func IsCode(err error, code ErrorCode) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}

// IsErrno checks if an error matches a specific errno
func IsErrno(err error, errno syscall.Errno) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Errno == errno
	}
	return false
}

// IsTimeout checks if an error is a deadline expiry
func IsTimeout(err error) bool {
	return IsCode(err, CodeTimeout)
}
