package tcp

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/risa-org/chatlink/transport"
)

// Adapter implements transport.Adapter over a raw TCP connection.
//
// Wire format for each message:
//
//	[16 bytes: exchange id][4 bytes: payload length uint32 big-endian][N bytes: payload]
//
// TCP is a stream protocol with no message boundaries, so every frame is
// length-prefixed. The id is a raw UUID so replies can be matched to their
// request no matter how many exchanges share the connection.
type Adapter struct {
	conn         net.Conn                       // the underlying TCP connection
	incoming     chan transport.Message         // delivers received messages to caller
	disconnect   chan transport.DisconnectEvent // signals when connection closes
	closeOnce    sync.Once                      // guarantees cleanup runs exactly once
	writeMu      sync.Mutex                     // one writer at a time, frames must not interleave
	maxFrameSize uint32
}

// Option tunes an Adapter.
type Option func(*Adapter)

// WithMaxFrameSize caps the payload length accepted from the peer.
func WithMaxFrameSize(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.maxFrameSize = uint32(n)
		}
	}
}

// New wraps an existing net.Conn in a transport Adapter.
// The conn must already be established; dialing or accepting happens outside.
// Immediately starts a read loop goroutine in the background.
func New(conn net.Conn, opts ...Option) *Adapter {
	a := &Adapter{
		conn:         conn,
		incoming:     make(chan transport.Message, 64),        // buffered so reader doesn't block on slow consumers
		disconnect:   make(chan transport.DisconnectEvent, 1), // buffered so writer never blocks
		maxFrameSize: transport.DefaultMaxFrameSize,
	}
	for _, opt := range opts {
		opt(a)
	}

	go a.readLoop()

	return a
}

// Dial connects to addr and wraps the connection.
func Dial(addr string, opts ...Option) (*Adapter, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return New(conn, opts...), nil
}

// Send encodes a message and writes it to the TCP connection.
// Header and payload go out in a single Write while writeMu is held so
// concurrent senders never interleave partial frames.
func (a *Adapter) Send(msg transport.Message) error {
	if uint64(len(msg.Payload)) > uint64(a.maxFrameSize) {
		return transport.ErrFrameTooLarge
	}

	frame := make([]byte, 20+len(msg.Payload))
	copy(frame[:16], msg.ID[:])
	binary.BigEndian.PutUint32(frame[16:20], uint32(len(msg.Payload)))
	copy(frame[20:], msg.Payload)

	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	if _, err := a.conn.Write(frame); err != nil {
		return transport.ErrTransportClosed
	}
	return nil
}

// Receive returns the channel of incoming messages.
// The channel is closed when the connection closes.
func (a *Adapter) Receive() <-chan transport.Message {
	return a.incoming
}

// Disconnected returns a channel that emits exactly one event when
// the connection closes, for any reason.
func (a *Adapter) Disconnected() <-chan transport.DisconnectEvent {
	return a.disconnect
}

// Close shuts down the TCP connection cleanly.
// Safe to call multiple times; cleanup runs exactly once due to sync.Once.
func (a *Adapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		err = a.conn.Close()
	})
	return err
}

// RemoteAddr reports the peer address, for logging.
func (a *Adapter) RemoteAddr() string {
	return a.conn.RemoteAddr().String()
}

// readLoop runs in a goroutine and continuously reads frames from the
// TCP connection. When the connection closes it signals disconnect and exits.
func (a *Adapter) readLoop() {
	defer func() {
		close(a.incoming)
		a.Close()
	}()

	for {
		var header [20]byte
		if _, err := io.ReadFull(a.conn, header[:]); err != nil {
			a.signalDisconnect(err)
			return
		}

		var id uuid.UUID
		copy(id[:], header[:16])

		payloadLen := binary.BigEndian.Uint32(header[16:20])
		if payloadLen > a.maxFrameSize {
			a.signalDisconnect(transport.ErrFrameTooLarge)
			return
		}

		payload := make([]byte, payloadLen)
		if _, err := io.ReadFull(a.conn, payload); err != nil {
			a.signalDisconnect(err)
			return
		}

		a.incoming <- transport.Message{
			ID:      id,
			Payload: payload,
		}
	}
}

// signalDisconnect figures out the reason for disconnection and
// sends exactly one event on the disconnect channel.
func (a *Adapter) signalDisconnect(err error) {
	event := transport.DisconnectEvent{}

	switch {
	case err == nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe):
		// EOF means the remote side closed cleanly, ErrClosed means we did
		event.Reason = transport.ReasonClosedClean
	case errors.Is(err, transport.ErrFrameTooLarge):
		event.Reason = transport.ReasonProtocolError
		event.Err = err
	default:
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			event.Reason = transport.ReasonTimeout
		} else {
			event.Reason = transport.ReasonNetworkError
		}
		event.Err = err
	}

	// non-blocking send: channel is buffered(1) so this never blocks
	select {
	case a.disconnect <- event:
	default:
	}
}
