package mqtt

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"testing"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindGeneric},
		{"refused", &RefusedError{ReasonCode: 0x86}, KindRefused},
		{"wrapped refused", fmt.Errorf("attempt: %w", &RefusedError{ReasonCode: 0x87}), KindRefused},
		{"server disconnect", &DisconnectError{ReasonCode: 0x8E}, KindAbort},
		{"eof", io.EOF, KindAbort},
		{"unexpected eof", fmt.Errorf("read: %w", io.ErrUnexpectedEOF), KindAbort},
		{"reset", &net.OpError{Op: "read", Err: os.NewSyscallError("read", syscall.ECONNRESET)}, KindAbort},
		{"aborted", syscall.ECONNABORTED, KindAbort},
		{"broken pipe", &net.OpError{Op: "write", Err: os.NewSyscallError("write", syscall.EPIPE)}, KindAbort},
		{"closed", net.ErrClosed, KindAbort},
		{"dns", &net.DNSError{Err: "no such host", Name: "broker.test"}, KindGeneric},
		{"other", errors.New("boom"), KindGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestErrorKindString(t *testing.T) {
	for kind, want := range map[ErrorKind]string{KindGeneric: "generic", KindAbort: "abort", KindRefused: "refused"} {
		if got := kind.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", kind, got, want)
		}
	}
}

func TestRefusedError_Message(t *testing.T) {
	err := &RefusedError{ReasonCode: 0x87, Reason: "not authorized"}
	if got := err.Error(); got != "connection refused by broker: reason code 135: not authorized" {
		t.Errorf("Error() = %q", got)
	}
	bare := &DisconnectError{ReasonCode: 0x8B}
	if got := bare.Error(); got != "disconnected by broker: reason code 139" {
		t.Errorf("Error() = %q", got)
	}
}
