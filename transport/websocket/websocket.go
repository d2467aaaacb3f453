package websocket

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/risa-org/chatlink/transport"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Adapter implements transport.Adapter over a WebSocket connection.
// Uses JSON framing: each message is a JSON object with ID and Payload.
// Unlike TCP, WebSocket already has message boundaries built in,
// so we don't need to implement our own framing.
type Adapter struct {
	conn       *websocket.Conn
	incoming   chan transport.Message
	disconnect chan transport.DisconnectEvent
	closeOnce  sync.Once
	ctx        context.Context
	cancel     context.CancelFunc
}

type message struct {
	ID      uuid.UUID `json:"id"`
	Payload []byte    `json:"payload"`
}

// New wraps an existing *websocket.Conn in a transport Adapter.
// The read limit is raised to maxFrameSize (base64 inflates payloads by a
// third, so the limit leaves room for that); nhooyr's 32 KiB default would
// reject any real file transfer.
func New(conn *websocket.Conn, maxFrameSize int) *Adapter {
	if maxFrameSize <= 0 {
		maxFrameSize = transport.DefaultMaxFrameSize
	}
	conn.SetReadLimit(int64(maxFrameSize)*4/3 + 1024)

	ctx, cancel := context.WithCancel(context.Background())
	a := &Adapter{
		conn:       conn,
		incoming:   make(chan transport.Message, 64),
		disconnect: make(chan transport.DisconnectEvent, 1),
		ctx:        ctx,
		cancel:     cancel,
	}
	go a.readLoop()
	return a
}

// Dial opens a websocket to url and wraps it.
func Dial(ctx context.Context, url string, maxFrameSize int) (*Adapter, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return New(conn, maxFrameSize), nil
}

// Send writes one JSON frame. nhooyr connections allow concurrent writers,
// so no extra lock is needed here.
func (a *Adapter) Send(msg transport.Message) error {
	err := wsjson.Write(a.ctx, a.conn, message{
		ID:      msg.ID,
		Payload: msg.Payload,
	})
	if err != nil {
		return transport.ErrTransportClosed
	}
	return nil
}

func (a *Adapter) Receive() <-chan transport.Message {
	return a.incoming
}

func (a *Adapter) Disconnected() <-chan transport.DisconnectEvent {
	return a.disconnect
}

func (a *Adapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.cancel()
		err = a.conn.Close(websocket.StatusNormalClosure, "closed")
	})
	return err
}

func (a *Adapter) readLoop() {
	defer func() {
		close(a.incoming)
		a.Close()
	}()

	for {
		var msg message
		err := wsjson.Read(a.ctx, a.conn, &msg)
		if err != nil {
			a.signalDisconnect(err)
			return
		}
		a.incoming <- transport.Message{
			ID:      msg.ID,
			Payload: msg.Payload,
		}
	}
}

// signalDisconnect sends exactly one disconnect event.
// StatusNormalClosure (1000) and StatusGoingAway (1001) are both clean closes:
// different WebSocket implementations and shutdown timing produce either code.
// Context cancellation means we closed it ourselves, also clean.
// StatusMessageTooBig (1009) means the peer exceeded our read limit.
func (a *Adapter) signalDisconnect(err error) {
	event := transport.DisconnectEvent{}

	status := websocket.CloseStatus(err)
	switch {
	case status == websocket.StatusNormalClosure,
		status == websocket.StatusGoingAway,
		a.ctx.Err() != nil:
		event.Reason = transport.ReasonClosedClean
	case status == websocket.StatusMessageTooBig:
		event.Reason = transport.ReasonProtocolError
		event.Err = errors.Join(transport.ErrFrameTooLarge, err)
	default:
		event.Reason = transport.ReasonNetworkError
		event.Err = err
	}

	select {
	case a.disconnect <- event:
	default:
	}
}
