package message

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies every failure the subsystem can report.
// Construction errors surface synchronously; everything else arrives
// as a Failure result on the result channel.
type ErrorKind int

const (
	KindValidation    ErrorKind = iota // malformed request, caught at construction
	KindIO                             // local file unreadable
	KindTransport                      // connection refused, reset or timed out
	KindProtocol                       // malformed or unexpected response
	KindChannelClosed                  // consumer gone, logged only
	KindRemote                         // endpoint understood the request and refused it
	KindInternal                       // dispatch goroutine panicked
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindIO:
		return "io"
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindChannelClosed:
		return "channel_closed"
	case KindRemote:
		return "remote"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is. An *Error matches the sentinel of its Kind.
var (
	ErrValidation    = errors.New("validation error")
	ErrIO            = errors.New("io error")
	ErrTransport     = errors.New("transport error")
	ErrProtocol      = errors.New("protocol error")
	ErrChannelClosed = errors.New("result channel closed")
	ErrRemote        = errors.New("remote error")
	ErrInternal      = errors.New("internal error")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindIO:
		return ErrIO
	case KindTransport:
		return ErrTransport
	case KindProtocol:
		return ErrProtocol
	case KindChannelClosed:
		return ErrChannelClosed
	case KindRemote:
		return ErrRemote
	default:
		return ErrInternal
	}
}

// Error carries a kind, the operation that failed, and the underlying cause.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// Errorf builds an *Error whose cause is formatted like fmt.Errorf.
func Errorf(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind.sentinel())
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind.sentinel(), e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == e.Kind.sentinel() }

// Classifier lets lower layers (codec, transport) report their own kind
// without this package importing them.
type Classifier interface {
	ErrorKind() ErrorKind
}

// KindOf maps an arbitrary error onto an ErrorKind.
// Unknown errors count as transport faults: anything that escapes an
// exchange without a more specific kind happened on the wire.
func KindOf(err error) ErrorKind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	var c Classifier
	if errors.As(err, &c) {
		return c.ErrorKind()
	}
	switch {
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrIO):
		return KindIO
	case errors.Is(err, ErrProtocol):
		return KindProtocol
	case errors.Is(err, ErrRemote):
		return KindRemote
	case errors.Is(err, ErrChannelClosed):
		return KindChannelClosed
	case errors.Is(err, ErrInternal):
		return KindInternal
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindTransport
	}
	return KindTransport
}
