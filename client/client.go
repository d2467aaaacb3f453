// Package client is the consuming side of the subsystem: it builds requests
// on the caller's goroutine, hands them to the dispatcher, and interprets
// results when the caller polls.
//
// Nothing in Client blocks on the network. Construction errors come back
// synchronously from SendText, Upload and friends; everything that happens
// later arrives through Poll.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/risa-org/chatlink/dispatch"
	"github.com/risa-org/chatlink/handshake"
	"github.com/risa-org/chatlink/message"
	"github.com/risa-org/chatlink/registry"
	"github.com/risa-org/chatlink/results"
	"github.com/risa-org/chatlink/session"
	"github.com/risa-org/chatlink/transport"
	"go.uber.org/zap"
)

// ErrUnknownFile is returned by FetchByName when no registered file has
// the requested name.
var ErrUnknownFile = errors.New("no registered file with that name")

// Handler receives interpreted results from Poll. Embed BaseHandler to
// implement only the callbacks you need.
type Handler interface {
	OnDelivered(id message.RequestID, r message.Delivered)
	OnFileMeta(id message.RequestID, r message.FileMeta)
	OnFileBytes(id message.RequestID, r message.FileBytes)
	OnDeleted(id message.RequestID, r message.DeletedAck)
	OnFailure(id message.RequestID, r message.Failure)
}

// BaseHandler ignores every result.
type BaseHandler struct{}

func (BaseHandler) OnDelivered(message.RequestID, message.Delivered) {}
func (BaseHandler) OnFileMeta(message.RequestID, message.FileMeta)   {}
func (BaseHandler) OnFileBytes(message.RequestID, message.FileBytes) {}
func (BaseHandler) OnDeleted(message.RequestID, message.DeletedAck)  {}
func (BaseHandler) OnFailure(message.RequestID, message.Failure)     {}

type options struct {
	logger        *zap.Logger
	timeout       time.Duration
	maxUploadSize int64
	highWater     int
}

// Option tunes a Client.
type Option func(*options)

// WithLogger sets the logger shared by the client, its session and its
// dispatcher.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTimeout bounds each exchange.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithMaxUploadSize caps the size of uploaded files.
func WithMaxUploadSize(n int64) Option {
	return func(o *options) { o.maxUploadSize = n }
}

// WithResultHighWater sets the backlog size that triggers a warning.
func WithResultHighWater(n int) Option {
	return func(o *options) { o.highWater = n }
}

// Client is one user's view of a chat endpoint.
type Client struct {
	author string
	target string
	logger *zap.Logger

	mu         sync.Mutex
	handle     *session.Handle
	credential string
	closed     bool
	// generation counts sessions; pending records the generation each
	// dispatch started on so results from a replaced session are not
	// applied to state that belongs to the current one.
	generation uint64
	pending    map[message.RequestID]uint64

	results    *results.Channel
	dispatcher *dispatch.Dispatcher
	registry   *registry.Registry

	filesMu sync.RWMutex
	files   map[uint64][]byte
}

// New creates a client over an already logged-in session. The client takes
// ownership of h.
func New(h *session.Handle, author, credential, target string, opts ...Option) *Client {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	out := results.New(results.WithLogger(o.logger), results.WithHighWater(o.highWater))
	return &Client{
		author:     message.NormalizeAuthor(author),
		target:     target,
		logger:     o.logger,
		handle:     h,
		credential: credential,
		results:    out,
		dispatcher: dispatch.New(out,
			dispatch.WithLogger(o.logger),
			dispatch.WithTimeout(o.timeout),
			dispatch.WithMaxUploadSize(o.maxUploadSize),
		),
		registry: registry.New(),
		files:    make(map[uint64][]byte),
		pending:  make(map[message.RequestID]uint64),
	}
}

// Connect wraps adapter in a session, logs in as author and returns a
// client addressing target.
func Connect(ctx context.Context, adapter transport.Adapter, author, secret, target string, opts ...Option) (*Client, error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	h := session.NewHandle(adapter, session.WithLogger(o.logger))
	cred, err := handshake.Login(ctx, h, author, secret)
	if err != nil {
		h.Close()
		return nil, err
	}
	return New(h, author, cred, target, opts...), nil
}

// SendText sends body to the client's target.
func (c *Client) SendText(body string, replyTo *message.MessageID) (message.RequestID, error) {
	return c.dispatch(func(cred string) (message.ClientRequest, error) {
		return message.NewText(body, c.target, cred, c.author, replyTo)
	})
}

// Upload sends the file at path. The file is read by the dispatch, not here.
func (c *Client) Upload(path string, replyTo *message.MessageID) (message.RequestID, error) {
	return c.dispatch(func(cred string) (message.ClientRequest, error) {
		return message.NewFileUpload(path, c.target, cred, c.author, replyTo)
	})
}

// Fetch asks for the content of file index.
func (c *Client) Fetch(index uint64) (message.RequestID, error) {
	return c.dispatch(func(cred string) (message.ClientRequest, error) {
		return message.NewFileFetch(index, cred, c.author), nil
	})
}

// FetchByName fetches the most recently registered file called name.
func (c *Client) FetchByName(name string) (message.RequestID, error) {
	entries := c.registry.Find(name)
	if len(entries) == 0 {
		return message.RequestID{}, fmt.Errorf("%w: %q", ErrUnknownFile, name)
	}
	return c.Fetch(entries[len(entries)-1].Index)
}

// Delete marks message id deleted.
func (c *Client) Delete(id message.MessageID) (message.RequestID, error) {
	return c.dispatch(func(cred string) (message.ClientRequest, error) {
		return message.NewDelete(id, cred, c.author), nil
	})
}

// dispatch builds a request with the current credential and schedules it
// on the current session.
func (c *Client) dispatch(build func(credential string) (message.ClientRequest, error)) (message.RequestID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return message.RequestID{}, session.ErrSessionClosed
	}
	req, err := build(c.credential)
	if err != nil {
		return message.RequestID{}, err
	}
	id := c.dispatcher.Dispatch(req, c.handle)
	c.pending[id] = c.generation
	return id, nil
}

// Poll drains every pending result, applies it to the client's state and
// reports it to h. h may be nil. Returns the number of results handled.
// Call it from one goroutine only.
//
// Results from a session replaced by Reconnect still reach h, but their
// file indices are not registered or cached: indices belong to the
// session that assigned them.
func (c *Client) Poll(h Handler) int {
	if h == nil {
		h = BaseHandler{}
	}

	items := c.results.Drain()
	for _, item := range items {
		switch r := item.Result.(type) {
		case message.Delivered:
			c.settle(item.RequestID, nil)
			h.OnDelivered(item.RequestID, r)
		case message.FileMeta:
			c.settle(item.RequestID, func() {
				size := r.Size
				c.registry.Register(r.Index, r.FileName, &size)
			})
			h.OnFileMeta(item.RequestID, r)
		case message.FileBytes:
			c.settle(item.RequestID, func() {
				c.filesMu.Lock()
				c.files[r.Index] = r.Bytes
				c.filesMu.Unlock()
			})
			h.OnFileBytes(item.RequestID, r)
		case message.DeletedAck:
			c.settle(item.RequestID, nil)
			h.OnDeleted(item.RequestID, r)
		case message.Failure:
			c.settle(item.RequestID, nil)
			c.logger.Debug("request failed",
				zap.Stringer("request_id", item.RequestID),
				zap.Stringer("kind", r.Kind),
				zap.String("reason", r.Reason),
			)
			h.OnFailure(item.RequestID, r)
		default:
			c.settle(item.RequestID, nil)
			c.logger.Error("unhandled result variant", zap.String("type", fmt.Sprintf("%T", r)))
		}
	}
	return len(items)
}

// settle forgets the dispatch behind id and runs apply if it was started on
// the current session. Holding mu keeps a concurrent Reconnect from
// clearing state between the check and apply.
func (c *Client) settle(id message.RequestID, apply func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	gen, ok := c.pending[id]
	delete(c.pending, id)
	if apply == nil {
		return
	}
	if ok && gen != c.generation {
		c.logger.Debug("ignoring file index from a previous session",
			zap.Stringer("request_id", id),
			zap.Uint64("generation", gen),
		)
		return
	}
	apply()
}

// Ready receives a value when results may be waiting for Poll.
func (c *Client) Ready() <-chan struct{} {
	return c.results.Ready()
}

// File returns the cached content of file index, if it has been fetched.
func (c *Client) File(index uint64) ([]byte, bool) {
	c.filesMu.RLock()
	defer c.filesMu.RUnlock()
	b, ok := c.files[index]
	return b, ok
}

// Registry exposes the file index registry for reading.
func (c *Client) Registry() *registry.Registry {
	return c.registry
}

// Author returns the name the client sends as.
func (c *Client) Author() string { return c.author }

// Reconnect replaces the session with one over adapter and logs in again.
// Indices learned on the old session are forgotten, including any carried
// by results that are polled later. Dispatches still running on the old
// session finish there.
func (c *Client) Reconnect(ctx context.Context, adapter transport.Adapter, secret string) error {
	h := session.NewHandle(adapter, session.WithLogger(c.logger))
	cred, err := handshake.Login(ctx, h, c.author, secret)
	if err != nil {
		h.Close()
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		h.Close()
		return session.ErrSessionClosed
	}
	old := c.handle
	c.handle = h
	c.credential = cred
	c.generation++
	c.registry.Reset()
	c.filesMu.Lock()
	c.files = make(map[uint64][]byte)
	c.filesMu.Unlock()
	c.mu.Unlock()

	old.Close()

	c.logger.Info("reconnected", zap.String("author", c.author))
	return nil
}

// Wait blocks until every dispatch started so far has reported.
func (c *Client) Wait() {
	c.dispatcher.Wait()
}

// Close stops new requests and closes the session. Dispatches already in
// flight still report, so a final Poll after Wait sees their results.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	h := c.handle
	c.mu.Unlock()

	h.Close()
}
