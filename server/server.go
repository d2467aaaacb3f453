// Package server is a reference endpoint for the chat protocol. It answers
// logins, accepts text messages and file uploads, serves stored files and
// marks messages deleted.
//
// One Server can serve any number of transports at once. Every frame is
// handled on its own goroutine and answered under the frame's id, so a slow
// upload never holds up a text message on the same connection.
package server

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/risa-org/chatlink/codec"
	"github.com/risa-org/chatlink/handshake"
	"github.com/risa-org/chatlink/message"
	"github.com/risa-org/chatlink/metrics"
	"github.com/risa-org/chatlink/transport"
	"github.com/risa-org/chatlink/transport/sender"
	"go.uber.org/zap"
)

// FileStore is the interface the server uses to keep uploaded files.
// Defined here so the server doesn't need to know how files are stored.
// Get must return an error matching fs.ErrNotExist for unknown indices.
type FileStore interface {
	Put(name string, content []byte) (message.FileMeta, error)
	Get(index uint64) (message.FileMeta, []byte, error)
	Count() int
}

// StoredMessage is a text message the server accepted.
type StoredMessage struct {
	ID      message.MessageID
	Author  string
	Target  string
	Body    string
	ReplyTo *message.MessageID
	SentAt  time.Time
	Deleted bool
}

// Server holds the endpoint state shared by every connection.
type Server struct {
	files        FileStore
	auth         *handshake.Handler
	logger       *zap.Logger
	maxFrameSize int

	mu       sync.RWMutex
	messages map[message.MessageID]*StoredMessage
	lastID   atomic.Uint64
}

// Option tunes a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMaxFrameSize bounds frames on the listeners the server opens.
func WithMaxFrameSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxFrameSize = n
		}
	}
}

// New creates a server storing files in files and checking credentials
// with auth.
func New(files FileStore, auth *handshake.Handler, opts ...Option) *Server {
	s := &Server{
		files:        files,
		auth:         auth,
		logger:       zap.NewNop(),
		maxFrameSize: transport.DefaultMaxFrameSize,
		messages:     make(map[message.MessageID]*StoredMessage),
	}
	for _, opt := range opts {
		opt(s)
	}
	metrics.StoredFiles.Set(float64(files.Count()))
	return s
}

// Serve answers frames from adapter until it disconnects, then waits for
// in-flight handlers and returns the disconnect event.
func (s *Server) Serve(adapter transport.Adapter) transport.DisconnectEvent {
	out := sender.New(adapter)

	metrics.ServerConnections.Inc()
	defer metrics.ServerConnections.Dec()

	var wg sync.WaitGroup
	for msg := range adapter.Receive() {
		wg.Add(1)
		go func(msg transport.Message) {
			defer wg.Done()
			s.handle(out, msg)
		}(msg)
	}
	wg.Wait()

	event := transport.DisconnectEvent{Reason: transport.ReasonUnknown}
	select {
	case event = <-adapter.Disconnected():
	default:
	}

	s.logger.Debug("connection finished",
		zap.Stringer("reason", event.Reason),
		zap.Uint64("replies", out.Sent()),
	)
	return event
}

// Message returns the stored text message with id.
func (s *Server) Message(id message.MessageID) (StoredMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return StoredMessage{}, false
	}
	return *m, true
}

// refusal is a request the server understood and will not carry out.
type refusal struct {
	code   string
	reason string
}

func (r *refusal) Error() string { return r.code + ": " + r.reason }

func refuse(code, reason string) *refusal { return &refusal{code: code, reason: reason} }

func (s *Server) handle(out *sender.Sender, msg transport.Message) {
	in, err := codec.DecodeRequest(msg.Payload)
	if err != nil {
		s.finish(out, msg, "malformed", nil, refuse(codec.CodeBadRequest, err.Error()))
		return
	}

	if in.Login != nil {
		s.login(out, msg, in.Login)
		return
	}

	res, err := s.apply(in)
	s.finish(out, msg, in.Type, res, err)
}

func (s *Server) login(out *sender.Sender, msg transport.Message, l *codec.Login) {
	result := s.auth.Login(handshake.LoginRequest{
		Author:      l.Author,
		Secret:      l.Secret,
		RequestedAt: time.Now(),
	})
	if !result.Accepted {
		s.finish(out, msg, codec.TypeLogin, nil, refuse(codec.CodeUnauthorized, result.Reason))
		return
	}

	if err := out.LoginOK(msg.ID, result.Credential); err != nil {
		s.logger.Debug("login reply not sent", zap.Error(err))
		return
	}
	metrics.ServerRequests.WithLabelValues(codec.TypeLogin, "ok").Inc()
	s.logger.Info("login", zap.String("author", strings.TrimSpace(l.Author)))
}

// finish sends the answer for msg and records the outcome.
func (s *Server) finish(out *sender.Sender, msg transport.Message, typ string, res message.Result, err error) {
	outcome := "ok"
	var sendErr error
	if err != nil {
		var r *refusal
		if !errors.As(err, &r) {
			s.logger.Error("request failed", zap.String("type", typ), zap.Error(err))
			r = refuse(codec.CodeInternal, "internal error")
		}
		outcome = r.code
		sendErr = out.Refuse(msg.ID, r.code, r.reason)
	} else {
		sendErr = out.Reply(msg.ID, res)
	}

	metrics.ServerRequests.WithLabelValues(typ, outcome).Inc()
	if sendErr != nil {
		s.logger.Debug("reply not sent", zap.Stringer("id", msg.ID), zap.Error(sendErr))
	}
}

// apply authenticates req and carries it out.
func (s *Server) apply(in codec.Incoming) (message.Result, error) {
	if err := s.auth.Verify(in.Request.Sender(), credentialOf(in.Request)); err != nil {
		return nil, refuse(codec.CodeUnauthorized, "invalid credential")
	}

	switch req := in.Request.(type) {
	case message.Text:
		return s.text(req)
	case message.FileUpload:
		return s.upload(req, in.Content)
	case message.FileFetch:
		return s.fetch(req)
	case message.DeleteMark:
		return s.delete(req)
	default:
		return nil, refuse(codec.CodeBadRequest, "unsupported request")
	}
}

func (s *Server) text(req message.Text) (message.Result, error) {
	body := strings.TrimSpace(req.Body)
	if body == "" {
		return nil, refuse(codec.CodeBadRequest, "empty message body")
	}

	id := message.MessageID(s.lastID.Add(1))
	m := &StoredMessage{
		ID:      id,
		Author:  req.Author,
		Target:  req.Target,
		Body:    body,
		ReplyTo: req.ReplyTo,
		SentAt:  time.Now().UTC(),
	}

	s.mu.Lock()
	s.messages[id] = m
	s.mu.Unlock()

	return message.Delivered{MessageID: id}, nil
}

func (s *Server) upload(req message.FileUpload, content []byte) (message.Result, error) {
	// the advertised name is untrusted; keep only its last element
	name := filepath.Base(filepath.Clean("/" + req.Path))
	if name == "/" || name == "." {
		return nil, refuse(codec.CodeBadRequest, "missing file name")
	}
	if len(content) > s.maxFrameSize {
		return nil, refuse(codec.CodeTooLarge, "file exceeds frame size")
	}

	meta, err := s.files.Put(name, content)
	if err != nil {
		return nil, err
	}
	metrics.StoredFiles.Set(float64(s.files.Count()))

	s.logger.Info("file stored",
		zap.Uint64("index", meta.Index),
		zap.String("name", meta.FileName),
		zap.Uint64("size", meta.Size),
		zap.String("author", req.Author),
	)
	return meta, nil
}

func (s *Server) fetch(req message.FileFetch) (message.Result, error) {
	meta, content, err := s.files.Get(req.Index)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, refuse(codec.CodeNotFound, "no such file")
	}
	if err != nil {
		return nil, err
	}
	return message.FileBytes{Index: meta.Index, Bytes: content}, nil
}

func (s *Server) delete(req message.DeleteMark) (message.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[req.MessageID]
	if !ok {
		return nil, refuse(codec.CodeNotFound, "no such message")
	}
	if m.Author != req.Author {
		return nil, refuse(codec.CodeForbidden, "message belongs to another author")
	}

	// deleting twice is not an error
	m.Deleted = true
	return message.DeletedAck{MessageID: req.MessageID}, nil
}

func credentialOf(req message.ClientRequest) string {
	switch r := req.(type) {
	case message.Text:
		return r.Credential
	case message.FileUpload:
		return r.Credential
	case message.FileFetch:
		return r.Credential
	case message.DeleteMark:
		return r.Credential
	default:
		return ""
	}
}
