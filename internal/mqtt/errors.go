package mqtt

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// ErrorKind groups session failures for logging.
type ErrorKind int

const (
	// KindGeneric is any failure not otherwise classified.
	KindGeneric ErrorKind = iota
	// KindAbort is a connection torn down by the network or the broker.
	KindAbort
	// KindRefused is a CONNACK with a failure reason code.
	KindRefused
)

func (k ErrorKind) String() string {
	switch k {
	case KindAbort:
		return "abort"
	case KindRefused:
		return "refused"
	default:
		return "generic"
	}
}

// RefusedError is returned when the broker rejects CONNECT.
type RefusedError struct {
	ReasonCode byte
	Reason     string
}

func (e *RefusedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("connection refused by broker: reason code %d: %s", e.ReasonCode, e.Reason)
	}
	return fmt.Sprintf("connection refused by broker: reason code %d", e.ReasonCode)
}

// DisconnectError carries a server-initiated DISCONNECT.
type DisconnectError struct {
	ReasonCode byte
	Reason     string
}

func (e *DisconnectError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("disconnected by broker: reason code %d: %s", e.ReasonCode, e.Reason)
	}
	return fmt.Sprintf("disconnected by broker: reason code %d", e.ReasonCode)
}

// ClassifyError maps a session error to the kind used in log output.
// A nil error is generic.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return KindGeneric
	}

	var refused *RefusedError
	if errors.As(err, &refused) {
		return KindRefused
	}

	var disc *DisconnectError
	if errors.As(err, &disc) {
		return KindAbort
	}

	switch {
	case errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed):
		return KindAbort
	}
	return KindGeneric
}
