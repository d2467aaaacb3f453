package transport

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/risa-org/chatlink/message"
)

// TestMessageFields checks that Message carries both id and payload correctly.
func TestMessageFields(t *testing.T) {
	id := uuid.New()
	msg := Message{
		ID:      id,
		Payload: []byte("hello"),
	}

	if msg.ID != id {
		t.Errorf("expected ID %s, got %s", id, msg.ID)
	}
	if string(msg.Payload) != "hello" {
		t.Errorf("expected payload 'hello', got '%s'", msg.Payload)
	}
}

// TestDisconnectReasonConstants checks all reasons are distinct.
// iota bugs (accidentally reordering constants) would break this.
func TestDisconnectReasonConstants(t *testing.T) {
	reasons := []DisconnectReason{
		ReasonUnknown,
		ReasonNetworkError,
		ReasonTimeout,
		ReasonClosedClean,
		ReasonProtocolError,
	}

	seen := make(map[DisconnectReason]bool)
	for _, r := range reasons {
		if seen[r] {
			t.Errorf("duplicate DisconnectReason value: %d", r)
		}
		seen[r] = true
	}
}

// TestDisconnectEvent checks the event struct carries reason and error together.
func TestDisconnectEvent(t *testing.T) {
	event := DisconnectEvent{
		Reason: ReasonNetworkError,
		Err:    ErrTransportClosed,
	}

	if event.Reason != ReasonNetworkError {
		t.Errorf("expected ReasonNetworkError, got %d", event.Reason)
	}
	if !errors.Is(event, ErrTransportClosed) {
		t.Errorf("expected event to unwrap to ErrTransportClosed, got %v", event.Err)
	}
}

func TestDisconnectEventKind(t *testing.T) {
	if got := message.KindOf(DisconnectEvent{Reason: ReasonProtocolError, Err: ErrFrameTooLarge}); got != message.KindProtocol {
		t.Errorf("expected KindProtocol for an oversized frame, got %v", got)
	}
	if got := message.KindOf(DisconnectEvent{Reason: ReasonNetworkError}); got != message.KindTransport {
		t.Errorf("expected KindTransport for a network error, got %v", got)
	}
}
