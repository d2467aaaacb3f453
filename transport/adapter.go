package transport

import (
	"errors"

	"github.com/google/uuid"
	"github.com/risa-org/chatlink/message"
)

// ErrTransportClosed is returned when you try to send on a closed transport.
// Named errors like this let callers check the exact cause with errors.Is()
// instead of comparing raw strings.
var ErrTransportClosed = errors.New("transport closed")

// ErrFrameTooLarge is reported when a peer announces a frame bigger than the
// adapter is willing to buffer.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// DefaultMaxFrameSize bounds a single frame. File bytes travel inside one
// frame, so this is also the largest file a session can move.
const DefaultMaxFrameSize = 64 << 20

// Message is what flows through a transport.
// It carries the raw bytes of an encoded request or result plus the id of
// the exchange it belongs to. The transport doesn't interpret either;
// it just moves them from one side to the other.
type Message struct {
	ID      uuid.UUID // correlation id, a reply carries the id of its request
	Payload []byte    // encoded frame, transport doesn't care what's in here
}

// DisconnectReason tells the session layer why a transport closed.
type DisconnectReason int

const (
	ReasonUnknown       DisconnectReason = iota // catch-all, should be rare
	ReasonNetworkError                          // underlying connection failed
	ReasonTimeout                               // no activity within deadline
	ReasonClosedClean                           // graceful shutdown by either side
	ReasonProtocolError                         // peer sent a frame we refuse to read
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonNetworkError:
		return "network_error"
	case ReasonTimeout:
		return "timeout"
	case ReasonClosedClean:
		return "closed_clean"
	case ReasonProtocolError:
		return "protocol_error"
	default:
		return "unknown"
	}
}

// DisconnectEvent is sent on the channel returned by Disconnected().
// It bundles the reason with an optional error for debugging.
type DisconnectEvent struct {
	Reason DisconnectReason
	Err    error // nil on clean close, populated on errors
}

// ErrorKind classifies the event for failure reporting. A peer that sent a
// frame we could not read is a protocol fault; everything else is transport.
func (e DisconnectEvent) ErrorKind() message.ErrorKind {
	if e.Reason == ReasonProtocolError {
		return message.KindProtocol
	}
	return message.KindTransport
}

func (e DisconnectEvent) Error() string {
	if e.Err != nil {
		return "disconnected (" + e.Reason.String() + "): " + e.Err.Error()
	}
	return "disconnected (" + e.Reason.String() + ")"
}

func (e DisconnectEvent) Unwrap() error { return e.Err }

// Adapter is the contract every transport must satisfy.
// The session layer only ever talks to this interface
// and never imports tcp, websocket, amqp, or anything concrete.
type Adapter interface {
	// Send delivers a message to the remote side.
	// Returns ErrTransportClosed if the transport is no longer active.
	// Safe for concurrent use: many exchanges share one adapter.
	Send(msg Message) error

	// Receive returns a channel that emits incoming messages.
	// The channel is closed when the transport closes.
	Receive() <-chan Message

	// Disconnected returns a channel that emits exactly one DisconnectEvent
	// when the transport closes, for any reason.
	Disconnected() <-chan DisconnectEvent

	// Close shuts down the transport cleanly.
	// Safe to call multiple times; subsequent calls are no-ops.
	Close() error
}
