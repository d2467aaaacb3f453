package sender

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/risa-org/chatlink/codec"
	"github.com/risa-org/chatlink/message"
	"github.com/risa-org/chatlink/transport"
)

// Sender is the single place where an endpoint encodes a reply and puts it
// on the wire under the id of the request it answers.
//
// Before Sender existed, every handler had to do three things manually:
//
//	payload, err := codec.EncodeResult(res)
//	adapter.Send(transport.Message{ID: id, Payload: payload})
//	replies++ // easy to forget, counted even on failed sends
//
// Sender collapses this to one call:
//
//	sender.Reply(id, res)
//
// A reply is only counted if the transport accepted it.
type Sender struct {
	adapter transport.Adapter
	sent    atomic.Uint64
}

// New creates a Sender that delivers replies via adapter.
func New(adapter transport.Adapter) *Sender {
	return &Sender{adapter: adapter}
}

// Reply encodes res and sends it under id.
func (s *Sender) Reply(id uuid.UUID, res message.Result) error {
	payload, err := codec.EncodeResult(res)
	if err != nil {
		return fmt.Errorf("encode reply %s: %w", id, err)
	}
	return s.send(id, payload)
}

// Refuse sends an error frame under id.
func (s *Sender) Refuse(id uuid.UUID, code, reason string) error {
	payload, err := codec.EncodeError(code, reason)
	if err != nil {
		return fmt.Errorf("encode refusal %s: %w", id, err)
	}
	return s.send(id, payload)
}

// LoginOK sends the credential issued for a login under id.
func (s *Sender) LoginOK(id uuid.UUID, credential string) error {
	payload, err := codec.EncodeLoginOK(credential)
	if err != nil {
		return fmt.Errorf("encode login reply %s: %w", id, err)
	}
	return s.send(id, payload)
}

func (s *Sender) send(id uuid.UUID, payload []byte) error {
	if err := s.adapter.Send(transport.Message{ID: id, Payload: payload}); err != nil {
		// not counted, the reply never left
		return err
	}
	s.sent.Add(1)
	return nil
}

// Sent returns how many replies the transport accepted.
func (s *Sender) Sent() uint64 {
	return s.sent.Load()
}

// Adapter returns the underlying transport adapter.
// Useful for accessing Receive() and Disconnected() channels.
func (s *Sender) Adapter() transport.Adapter {
	return s.adapter
}
