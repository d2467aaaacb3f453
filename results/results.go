// Package results is the delivery path from dispatched work back to the
// consuming context.
//
// Any number of goroutines Send; one consumer Drains on its own schedule.
// Send never blocks, so network completion never waits on a draw cycle.
// The queue is unbounded: a consumer that stops draining lets the backlog
// grow until it resumes. Crossing the high-water mark is logged once per
// crossing so a stalled consumer is visible.
package results

import (
	"errors"
	"sync"

	"github.com/risa-org/chatlink/message"
	"github.com/risa-org/chatlink/metrics"
	"go.uber.org/zap"
)

// ErrChannelClosed is returned by Send once the consumer has gone.
// It matches message.ErrChannelClosed.
var ErrChannelClosed = &message.Error{
	Kind: message.KindChannelClosed,
	Op:   "results.Send",
	Err:  errors.New("consumer has been torn down"),
}

// DefaultHighWater is the backlog size that triggers a warning.
const DefaultHighWater = 1024

// Item pairs a result with the dispatch that produced it.
type Item struct {
	RequestID message.RequestID
	Result    message.Result
}

// Channel is an unbounded multi-producer, single-consumer queue of Items.
// Items from one producer keep their order; items from different producers
// interleave in arrival order.
type Channel struct {
	mu        sync.Mutex
	items     []Item
	closed    bool
	highWater int
	warned    bool

	ready  chan struct{} // buffered(1), holds a token while items are pending
	logger *zap.Logger
}

// Option tunes a Channel.
type Option func(*Channel)

// WithLogger sets the logger used for backlog warnings.
func WithLogger(l *zap.Logger) Option {
	return func(c *Channel) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithHighWater sets the backlog size that triggers a warning.
func WithHighWater(n int) Option {
	return func(c *Channel) {
		if n > 0 {
			c.highWater = n
		}
	}
}

// New creates an empty, open channel.
func New(opts ...Option) *Channel {
	c := &Channel{
		highWater: DefaultHighWater,
		ready:     make(chan struct{}, 1),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send queues item. It never blocks. After Close it drops the item and
// returns ErrChannelClosed; the caller is expected to log and move on.
func (c *Channel) Send(item Item) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		metrics.ResultsDropped.Inc()
		return ErrChannelClosed
	}
	c.items = append(c.items, item)
	depth := len(c.items)
	crossed := depth >= c.highWater && !c.warned
	if crossed {
		c.warned = true
	}
	c.mu.Unlock()

	metrics.ResultBacklog.Set(float64(depth))
	if crossed {
		c.logger.Warn("result backlog above high-water mark, consumer may be stalled",
			zap.Int("depth", depth),
			zap.Int("high_water", c.highWater),
		)
	}

	// wake the consumer; a token already waiting is enough
	select {
	case c.ready <- struct{}{}:
	default:
	}
	return nil
}

// Drain removes and returns everything pending, oldest first.
// Returns nil when nothing is pending. Never blocks on producers.
func (c *Channel) Drain() []Item {
	// take the wakeup first: a Send racing with us leaves a fresh one
	select {
	case <-c.ready:
	default:
	}

	c.mu.Lock()
	items := c.items
	c.items = nil
	c.warned = false
	c.mu.Unlock()

	metrics.ResultBacklog.Set(0)
	return items
}

// Ready receives a value when items may be pending. Consumers that would
// rather block than poll can select on it and then Drain.
func (c *Channel) Ready() <-chan struct{} {
	return c.ready
}

// Len reports the current backlog.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Close tears down the consumer end. Pending items are discarded and every
// later Send fails with ErrChannelClosed. Safe to call more than once.
func (c *Channel) Close() {
	c.mu.Lock()
	dropped := len(c.items)
	c.closed = true
	c.items = nil
	c.mu.Unlock()

	if dropped > 0 {
		metrics.ResultsDropped.Add(float64(dropped))
		c.logger.Info("result channel closed with pending items", zap.Int("dropped", dropped))
	}
	metrics.ResultBacklog.Set(0)
}

// Closed reports whether Close has been called.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
