package proxy

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrMalformedTarget matches any *MalformedTargetError.
	ErrMalformedTarget = errors.New("malformed target")

	// ErrProtocolViolation matches any *ProtocolError.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrServerClosed is returned by Serve after Close.
	ErrServerClosed = errors.New("proxy: server closed")
)

// MalformedTargetError reports a first request whose destination could not be
// extracted. No destination is contacted.
type MalformedTargetError struct {
	Input  string
	Reason string
}

func (e *MalformedTargetError) Error() string {
	return fmt.Sprintf("malformed target %q: %s", e.Input, e.Reason)
}

func (e *MalformedTargetError) Is(target error) bool {
	return target == ErrMalformedTarget
}

// DialError reports a failed outbound connect. The client sees the
// connection close with no response.
type DialError struct {
	Target Target
	Err    error
}

func (e *DialError) Error() string {
	return fmt.Sprintf("dial %s: %v", e.Target, e.Err)
}

func (e *DialError) Unwrap() error { return e.Err }

// TransportError reports an I/O failure on the client or destination
// connection.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError reports a first request that could not be parsed. Status, if
// non-zero, is the HTTP status sent to the client before closing.
type ProtocolError struct {
	Status int
	Err    error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol violation: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocolViolation
}

// ErrorKind is a coarse, label-friendly classification of a session error.
type ErrorKind string

const (
	KindNone            ErrorKind = "none"
	KindMalformedTarget ErrorKind = "malformed_target"
	KindDial            ErrorKind = "dial"
	KindProtocol        ErrorKind = "protocol"
	KindTransport       ErrorKind = "transport"
	KindCanceled        ErrorKind = "canceled"
)

// Classify maps err to its ErrorKind.
func Classify(err error) ErrorKind {
	var (
		dialErr     *DialError
		protocolErr *ProtocolError
	)
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrMalformedTarget):
		return KindMalformedTarget
	case errors.As(err, &dialErr):
		return KindDial
	case errors.As(err, &protocolErr):
		return KindProtocol
	case errors.Is(err, context.Canceled):
		return KindCanceled
	default:
		return KindTransport
	}
}
