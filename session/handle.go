package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/risa-org/chatlink/transport"
	"go.uber.org/zap"
)

// Handle is a shared-ownership reference to one live transport session.
//
// Cloning a Handle adds a holder; it never opens a second connection. Every
// holder may run exchanges concurrently. Replies are routed back by exchange
// id, so one exchange timing out or receiving garbage never disturbs another
// that shares the same connection.
//
// The transport is closed when the last holder releases. Close marks the
// session closed for everyone: exchanges already in flight finish normally,
// new ones fail with ErrSessionClosed.
type Handle struct {
	core     *core
	released atomic.Bool
}

// core is the state shared by every clone of a Handle.
type core struct {
	adapter transport.Adapter
	logger  *zap.Logger

	mu      sync.Mutex
	state   State
	holders int
	pending map[uuid.UUID]chan transport.Message
	cause   error // why the transport went away, set once

	done chan struct{} // closed when the transport is gone
}

// Option tunes a Handle at construction.
type Option func(*core)

// WithLogger sets the logger used for routing diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(c *core) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewHandle takes ownership of adapter and returns the first holder.
// A routing goroutine runs until the adapter's receive channel closes.
func NewHandle(adapter transport.Adapter, opts ...Option) *Handle {
	c := &core{
		adapter: adapter,
		logger:  zap.NewNop(),
		state:   StateActive,
		holders: 1,
		pending: make(map[uuid.UUID]chan transport.Message),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.route()

	return &Handle{core: c}
}

// Clone returns a new holder of the same session. It never blocks on I/O.
func (h *Handle) Clone() *Handle {
	h.core.mu.Lock()
	h.core.holders++
	h.core.mu.Unlock()
	return &Handle{core: h.core}
}

// Release drops this holder. Calling it more than once on the same Handle
// value is a no-op. The last release closes the transport.
func (h *Handle) Release() {
	if !h.released.CompareAndSwap(false, true) {
		return
	}

	c := h.core
	c.mu.Lock()
	c.holders--
	last := c.holders == 0
	c.mu.Unlock()

	if last {
		if err := c.adapter.Close(); err != nil {
			c.logger.Debug("transport close", zap.Error(err))
		}
	}
}

// Close marks the session closed and releases this holder.
// In-flight exchanges on other clones run to completion.
func (h *Handle) Close() {
	c := h.core
	c.mu.Lock()
	if isValidTransition(c.state, StateClosed) {
		c.state = StateClosed
	}
	c.mu.Unlock()

	h.Release()
}

// State reports the current lifecycle state.
func (h *Handle) State() State {
	h.core.mu.Lock()
	defer h.core.mu.Unlock()
	return h.core.state
}

// Holders reports how many unreleased holders share the session.
func (h *Handle) Holders() int {
	h.core.mu.Lock()
	defer h.core.mu.Unlock()
	return h.core.holders
}

// Done is closed once the underlying transport has gone away.
func (h *Handle) Done() <-chan struct{} {
	return h.core.done
}

// Exchange sends payload under id and waits for the single reply carrying
// the same id. It fails if the session is not active, the send fails, the
// transport disconnects, or ctx ends first.
func (h *Handle) Exchange(ctx context.Context, id uuid.UUID, payload []byte) ([]byte, error) {
	c := h.core

	c.mu.Lock()
	if c.state != StateActive {
		err := c.stateErrLocked()
		c.mu.Unlock()
		return nil, err
	}
	if _, dup := c.pending[id]; dup {
		c.mu.Unlock()
		return nil, fmt.Errorf("exchange %s already in flight", id)
	}
	reply := make(chan transport.Message, 1) // route never blocks on delivery
	c.pending[id] = reply
	c.mu.Unlock()

	defer c.forget(id)

	if err := c.adapter.Send(transport.Message{ID: id, Payload: payload}); err != nil {
		return nil, fmt.Errorf("send %s: %w", id, err)
	}

	select {
	case msg := <-reply:
		return msg.Payload, nil
	case <-c.done:
		// a reply routed just before the disconnect still counts
		select {
		case msg := <-reply:
			return msg.Payload, nil
		default:
		}
		c.mu.Lock()
		err := c.cause
		c.mu.Unlock()
		return nil, err
	case <-ctx.Done():
		return nil, fmt.Errorf("exchange %s: %w", id, ctx.Err())
	}
}

func (c *core) forget(id uuid.UUID) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// stateErrLocked explains why an exchange cannot start. Must hold c.mu.
func (c *core) stateErrLocked() error {
	if c.state == StateDisconnected && c.cause != nil {
		return c.cause
	}
	return ErrSessionClosed
}

// route delivers each inbound frame to the exchange waiting on its id.
// Frames nobody is waiting for (late replies after a timeout, or a peer
// bug) are logged and dropped.
func (c *core) route() {
	for msg := range c.adapter.Receive() {
		c.mu.Lock()
		reply, ok := c.pending[msg.ID]
		if ok {
			delete(c.pending, msg.ID)
		}
		c.mu.Unlock()

		if !ok {
			c.logger.Warn("dropping frame for unknown exchange",
				zap.Stringer("id", msg.ID),
				zap.Int("bytes", len(msg.Payload)),
			)
			continue
		}
		reply <- msg
	}

	// adapters signal the disconnect before closing the receive channel
	event := transport.DisconnectEvent{Reason: transport.ReasonUnknown}
	select {
	case ev := <-c.adapter.Disconnected():
		event = ev
	default:
	}

	c.mu.Lock()
	c.cause = fmt.Errorf("%w: %w", transport.ErrTransportClosed, event)
	if isValidTransition(c.state, StateDisconnected) {
		c.state = StateDisconnected
	}
	inflight := len(c.pending)
	c.mu.Unlock()

	close(c.done)

	c.logger.Info("transport disconnected",
		zap.Stringer("reason", event.Reason),
		zap.Int("inflight", inflight),
		zap.NamedError("cause", event.Err),
	)
}
