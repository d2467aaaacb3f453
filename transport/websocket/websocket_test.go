package websocket

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/risa-org/chatlink/transport"
	"nhooyr.io/websocket"
)

// dialPair creates a connected client/server WebSocket pair
// using an in-process HTTP test server.
func dialPair(t *testing.T) (*Adapter, *Adapter) {
	t.Helper()

	// channel to hand the server-side connection to the test
	serverConnCh := make(chan *websocket.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("server accept failed: %v", err)
			return
		}
		serverConnCh <- conn
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, err := Dial(context.Background(), wsURL, 0)
	if err != nil {
		t.Fatalf("client dial failed: %v", err)
	}

	serverConn := <-serverConnCh

	return New(serverConn, 0), client
}

func TestWebSocketSendAndReceive(t *testing.T) {
	server, client := dialPair(t)
	defer server.Close()
	defer client.Close()

	id := uuid.New()
	err := client.Send(transport.Message{
		ID:      id,
		Payload: []byte("hello over websocket"),
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case msg := <-server.Receive():
		if msg.ID != id {
			t.Errorf("expected ID %s, got %s", id, msg.ID)
		}
		if string(msg.Payload) != "hello over websocket" {
			t.Errorf("expected payload 'hello over websocket', got '%s'", msg.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

// Payloads well past nhooyr's default 32 KiB read limit must get through.
func TestWebSocketLargePayload(t *testing.T) {
	server, client := dialPair(t)
	defer server.Close()
	defer client.Close()

	big := bytes.Repeat([]byte("x"), 256*1024)
	if err := client.Send(transport.Message{ID: uuid.New(), Payload: big}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case msg := <-server.Receive():
		if !bytes.Equal(msg.Payload, big) {
			t.Errorf("expected %d bytes intact, got %d", len(big), len(msg.Payload))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for large message")
	}
}

func TestWebSocketMultipleMessages(t *testing.T) {
	server, client := dialPair(t)
	defer server.Close()
	defer client.Close()

	ids := make([]uuid.UUID, 5)
	for i := range ids {
		ids[i] = uuid.New()
		err := client.Send(transport.Message{
			ID:      ids[i],
			Payload: []byte("msg"),
		})
		if err != nil {
			t.Fatalf("Send %d failed: %v", i, err)
		}
	}

	for i := range ids {
		select {
		case msg := <-server.Receive():
			if msg.ID != ids[i] {
				t.Errorf("message %d: expected ID %s, got %s", i, ids[i], msg.ID)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
}

func TestWebSocketDisconnectSignal(t *testing.T) {
	server, client := dialPair(t)
	defer server.Close()

	client.Close()

	select {
	case event := <-server.Disconnected():
		if event.Reason != transport.ReasonClosedClean {
			t.Errorf("expected ReasonClosedClean, got %v", event.Reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for disconnect signal")
	}
}

func TestWebSocketCloseIsIdempotent(t *testing.T) {
	server, client := dialPair(t)
	defer client.Close()
	defer server.Close()

	server.Close()
	server.Close()
	server.Close()
}

func TestWebSocketSendOnClosedReturnsError(t *testing.T) {
	server, client := dialPair(t)
	defer server.Close()

	client.Close()
	time.Sleep(50 * time.Millisecond)

	err := client.Send(transport.Message{ID: uuid.New(), Payload: []byte("test")})
	if err == nil {
		t.Error("expected error sending on closed connection, got nil")
	}
}
