package errors

import (
	"fmt"
	"testing"
)

func TestTerminalError(t *testing.T) {
	cause := fmt.Errorf("write /dev/ptmx: %w", ErrProcessExited)
	err := NewTerminalError("write failed", cause).WithTerminalID("t1").WithOperation("write")

	want := "terminal error [terminal=t1, op=write]: write failed: write /dev/ptmx: process exited"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !Is(err, ErrProcessExited) {
		t.Error("expected Is(err, ErrProcessExited)")
	}
	if !IsUserFacing(err) {
		t.Error("terminal errors should be user facing")
	}
	if GetSeverity(err) != SeverityError {
		t.Errorf("GetSeverity = %v, want error", GetSeverity(err))
	}

	var termErr *TerminalError
	if !As(Wrap(err, "handle"), &termErr) || termErr.TerminalID != "t1" {
		t.Error("expected As to find TerminalError through a wrap")
	}
}

func TestTransportError(t *testing.T) {
	tests := []struct {
		name string
		err  *TransportError
		want string
	}{
		{
			name: "no context",
			err:  NewTransportError("mmap failed", nil),
			want: "transport error: mmap failed",
		},
		{
			name: "handle and shard",
			err:  NewTransportError("mmap failed", ErrBufferHandle).WithHandle("/dev/shm/a").WithShard(2),
			want: "transport error [handle=/dev/shm/a, shard=2]: mmap failed: invalid buffer handle",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}

	if IsRetryable(NewTransportError("x", nil)) {
		t.Error("transport errors are not retryable by default")
	}
	if !IsRetryable(NewTransportError("x", nil).WithRetryable(true)) {
		t.Error("WithRetryable(true) not honoured")
	}
}

func TestProtocolError(t *testing.T) {
	err := NewProtocolError("cannot decode", ErrMalformedMessage).WithMessageType("spawn")
	if !IsProtocol(err) {
		t.Error("IsProtocol = false")
	}
	if GetSeverity(err) != SeverityWarning {
		t.Errorf("severity = %v, want warning", GetSeverity(err))
	}
	if IsProtocol(ErrTerminalNotFound) {
		t.Error("IsProtocol(ErrTerminalNotFound) = true")
	}
}

func TestSemanticErrors(t *testing.T) {
	nf := NewNotFoundError("terminal", "abc").WithCause(ErrTerminalNotFound)
	if nf.Error() != "terminal not found: abc" {
		t.Errorf("Error() = %q", nf.Error())
	}
	if !Is(nf, ErrTerminalNotFound) {
		t.Error("NotFoundError should unwrap to its cause")
	}

	ae := NewAlreadyExistsError("terminal", "abc").WithCause(ErrTerminalExists)
	if !Is(ae, ErrTerminalExists) {
		t.Error("AlreadyExistsError should unwrap to its cause")
	}

	ve := NewValidationError("must be positive").WithField("cols").WithValue(0)
	if ve.Error() != "validation error [cols=0]: must be positive" {
		t.Errorf("Error() = %q", ve.Error())
	}
	if !Is(ve, ErrInvalidInput) {
		t.Error("ValidationError should match ErrInvalidInput")
	}
	if !IsUserFacing(ve) {
		t.Error("validation errors are user facing")
	}
}

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{NewNotFoundError("terminal", "x").WithCause(ErrTerminalNotFound), "terminal-not-found"},
		{Wrap(ErrBuffersInitialized, "init-buffers"), "buffers-initialized"},
		{NewTransportError("x", ErrBufferHandle), "transport"},
		{NewProtocolError("x", ErrUnknownMessage), "unknown-message"},
		{NewValidationError("bad"), "invalid-input"},
		{New("boom"), "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := Code(tt.err); got != tt.want {
				t.Errorf("Code(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, "x") != nil {
		t.Error("Wrap(nil) should be nil")
	}
}

func TestGetSeverity(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Severity
	}{
		{"nil", nil, SeverityDebug},
		{"terminal", NewTerminalError("x", nil), SeverityError},
		{"terminal override", NewTerminalError("x", ErrProcessExited).WithSeverity(SeverityInfo), SeverityInfo},
		{"wrapped protocol", Wrap(NewProtocolError("x", ErrMalformedMessage), "stdin"), SeverityWarning},
		{"not found", NewNotFoundError("terminal", "x").WithCause(ErrTerminalNotFound), SeverityWarning},
		{"validation", NewValidationError("bad"), SeverityWarning},
		{"foreign", New("boom"), SeverityError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetSeverity(tt.err); got != tt.want {
				t.Errorf("GetSeverity(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestSeverityString(t *testing.T) {
	if SeverityCritical.String() != "critical" || Severity(99).String() != "unknown" {
		t.Error("unexpected severity strings")
	}
}
