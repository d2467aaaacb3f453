// Package amqp carries exchanges over RabbitMQ in request/reply style.
//
// Clients publish to a shared request queue with CorrelationId set to the
// exchange id and ReplyTo set to a private, exclusive reply queue. The server
// side consumes the request queue, remembers each request's ReplyTo, and
// publishes the answer straight to it. Neither side needs to know how many
// peers share the broker.
package amqp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/risa-org/chatlink/transport"
)

const publishTimeout = 10 * time.Second

// Role decides which queue an Adapter consumes and where Send publishes.
type Role int

const (
	RoleClient Role = iota // consume a private reply queue, publish requests
	RoleServer             // consume the request queue, publish replies
)

// Adapter implements transport.Adapter over one AMQP connection and channel.
type Adapter struct {
	role       Role
	conn       *amqp.Connection
	ch         *amqp.Channel
	queue      string // shared request queue
	replyQueue string // client only: where answers come back

	incoming   chan transport.Message
	disconnect chan transport.DisconnectEvent
	notify     chan *amqp.Error
	closeOnce  sync.Once
	publishMu  sync.Mutex

	replyMu  sync.Mutex
	replyTos map[uuid.UUID]string // server only: request id -> reply queue
}

// DialClient connects to url and prepares a private reply queue.
func DialClient(url, queue string) (*Adapter, error) {
	return dial(url, queue, RoleClient)
}

// DialServer connects to url and starts consuming the request queue.
func DialServer(url, queue string) (*Adapter, error) {
	return dial(url, queue, RoleServer)
}

func dial(url, queue string, role Role) (*Adapter, error) {
	if queue == "" {
		return nil, fmt.Errorf("amqp: request queue name is required")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp: dial: %w", err)
	}
	a, err := newAdapter(conn, queue, role)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return a, nil
}

func newAdapter(conn *amqp.Connection, queue string, role Role) (*Adapter, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("amqp: open channel: %w", err)
	}

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("amqp: declare request queue %q: %w", queue, err)
	}

	a := &Adapter{
		role:       role,
		conn:       conn,
		ch:         ch,
		queue:      queue,
		incoming:   make(chan transport.Message, 64),
		disconnect: make(chan transport.DisconnectEvent, 1),
		notify:     conn.NotifyClose(make(chan *amqp.Error, 1)),
		replyTos:   make(map[uuid.UUID]string),
	}

	consumeFrom := queue
	if role == RoleClient {
		// server-named, exclusive, auto-deleted: lives exactly as long as we do
		q, err := ch.QueueDeclare("", false, true, true, false, nil)
		if err != nil {
			ch.Close()
			return nil, fmt.Errorf("amqp: declare reply queue: %w", err)
		}
		a.replyQueue = q.Name
		consumeFrom = q.Name
	}

	deliveries, err := ch.Consume(consumeFrom, "", true, role == RoleClient, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("amqp: consume %q: %w", consumeFrom, err)
	}

	go a.readLoop(deliveries)
	return a, nil
}

// Send publishes msg. Clients publish to the request queue; servers publish
// to the reply queue recorded when the request with the same id arrived.
func (a *Adapter) Send(msg transport.Message) error {
	pub := amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: msg.ID.String(),
		Timestamp:     time.Now(),
		Body:          msg.Payload,
	}

	key := a.queue
	if a.role == RoleServer {
		a.replyMu.Lock()
		replyTo, ok := a.replyTos[msg.ID]
		delete(a.replyTos, msg.ID)
		a.replyMu.Unlock()
		if !ok {
			return fmt.Errorf("amqp: no reply route for %s: %w", msg.ID, transport.ErrTransportClosed)
		}
		key = replyTo
	} else {
		pub.ReplyTo = a.replyQueue
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	a.publishMu.Lock()
	defer a.publishMu.Unlock()

	if err := a.ch.PublishWithContext(ctx, "", key, false, false, pub); err != nil {
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

// Close closes the channel and the connection. Safe to call repeatedly.
func (a *Adapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		_ = a.ch.Close()
		err = a.conn.Close()
	})
	return err
}

func (a *Adapter) readLoop(deliveries <-chan amqp.Delivery) {
	defer func() {
		close(a.incoming)
		a.Close()
	}()

	for d := range deliveries {
		id, err := uuid.Parse(d.CorrelationId)
		if err != nil {
			// not one of ours, nothing to correlate it with
			continue
		}
		if a.role == RoleServer {
			if d.ReplyTo == "" {
				continue
			}
			a.replyMu.Lock()
			a.replyTos[id] = d.ReplyTo
			a.replyMu.Unlock()
		}
		a.incoming <- transport.Message{ID: id, Payload: d.Body}
	}

	a.signalDisconnect()
}

// signalDisconnect reports the connection-level close reason if the broker
// gave one; a delivery channel that simply ended means we closed it.
func (a *Adapter) signalDisconnect() {
	event := transport.DisconnectEvent{Reason: transport.ReasonClosedClean}

	select {
	case amqpErr, ok := <-a.notify:
		if ok && amqpErr != nil {
			event.Reason = transport.ReasonNetworkError
			event.Err = amqpErr
		}
	default:
	}

	select {
	case a.disconnect <- event:
	default:
	}
}
