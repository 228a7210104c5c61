package asyncrpc

import (
	"errors"
	"syscall"
	"testing"
)

func TestStructuredError(t *testing.T) {
	// Test basic error creation
	err := NewError("open", CodeAccessFailed, "cannot open device")

	if err.Op != "open" {
		t.Errorf("Expected Op=open, got %s", err.Op)
	}

	if err.Code != CodeAccessFailed {
		t.Errorf("Expected Code=CodeAccessFailed, got %s", err.Code)
	}

	expected := "asyncrpc: cannot open device (op=open)"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
}

func TestErrorWithErrno(t *testing.T) {
	err := NewErrorWithErrno("poll", CodePermissionDenied, syscall.EPERM)

	if err.Errno != syscall.EPERM {
		t.Errorf("Expected Errno=EPERM, got %v", err.Errno)
	}

	if err.Code != CodePermissionDenied {
		t.Errorf("Expected Code=CodePermissionDenied, got %s", err.Code)
	}
}

func TestPathError(t *testing.T) {
	err := NewPathError("open", "/no/such/file", CodeFileNotFound, syscall.ENOENT)

	if err.Path != "/no/such/file" {
		t.Errorf("Expected Path=/no/such/file, got %s", err.Path)
	}

	expected := "asyncrpc: no such file or directory (op=open path=/no/such/file errno=2)"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
}

func TestWrapError(t *testing.T) {
	inner := syscall.ENOENT
	err := WrapError("open", inner)

	if err.Code != CodeFileNotFound {
		t.Errorf("Expected Code=CodeFileNotFound, got %s", err.Code)
	}

	if err.Errno != syscall.ENOENT {
		t.Errorf("Expected Errno=ENOENT, got %v", err.Errno)
	}

	if !errors.Is(err, syscall.ENOENT) {
		t.Error("Expected wrapped error to satisfy errors.Is for ENOENT")
	}
}

func TestWrapErrorStructured(t *testing.T) {
	inner := NewPathError("open", "/dev/null", CodePermissionDenied, syscall.EACCES)
	err := WrapError("redirect", inner)

	if err.Op != "redirect" {
		t.Errorf("Expected Op=redirect, got %s", err.Op)
	}
	if err.Path != "/dev/null" {
		t.Errorf("Expected path preserved, got %s", err.Path)
	}
	if err.Code != CodePermissionDenied {
		t.Errorf("Expected code preserved, got %s", err.Code)
	}
}

func TestOpenErrorMapping(t *testing.T) {
	tests := []struct {
		name  string
		errno syscall.Errno
		code  ErrorCode
	}{
		{"missing file", syscall.ENOENT, CodeFileNotFound},
		{"no permission", syscall.EACCES, CodePermissionDenied},
		{"no device", syscall.ENXIO, CodeDeviceNotFound},
		{"other", syscall.EMFILE, CodeAccessFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := OpenError("/some/path", tt.errno)
			if err.Code != tt.code {
				t.Errorf("OpenError(%v) code = %s, want %s", tt.errno, err.Code, tt.code)
			}
		})
	}
}

func TestIsCode(t *testing.T) {
	err := NewError("read", CodeTimeout, "deadline expired")

	if !IsCode(err, CodeTimeout) {
		t.Error("IsCode should match CodeTimeout")
	}
	if IsCode(err, CodeIO) {
		t.Error("IsCode should not match CodeIO")
	}
	if !IsTimeout(err) {
		t.Error("IsTimeout should report true")
	}
	if !err.Timeout() {
		t.Error("Timeout() should report true")
	}
}

func TestErrorsIsByCode(t *testing.T) {
	err := WrapError("endRead", NewError("read", CodePending, "read already in progress"))

	if !errors.Is(err, &Error{Code: CodePending}) {
		t.Error("errors.Is should match on code")
	}
}
