// Package dispatch runs each client request off the caller's goroutine and
// reports exactly one result for it.
//
// Dispatch returns as soon as the work is scheduled. The spawned goroutine
// holds its own clone of the session handle, does all blocking work (file
// reads, the network exchange) and ends by pushing a single results.Item:
// the success variant that answers the request, or a Failure.
//
// There are no retries and no ordering between dispatches. Two requests
// sent back to back may complete in either order.
package dispatch

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/risa-org/chatlink/codec"
	"github.com/risa-org/chatlink/message"
	"github.com/risa-org/chatlink/metrics"
	"github.com/risa-org/chatlink/results"
	"github.com/risa-org/chatlink/session"
	"go.uber.org/zap"
)

const (
	// DefaultTimeout bounds one exchange with the remote endpoint.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxUploadSize keeps an upload inside one transport frame with
	// room for the envelope.
	DefaultMaxUploadSize = 32 << 20
)

// Dispatcher schedules requests and feeds their results into a channel.
type Dispatcher struct {
	results       *results.Channel
	logger        *zap.Logger
	timeout       time.Duration
	maxUploadSize int64

	wg sync.WaitGroup
}

// Option tunes a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger for dispatch diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithTimeout bounds each exchange. Non-positive values keep the default.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithMaxUploadSize caps the file size an upload may send.
func WithMaxUploadSize(n int64) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxUploadSize = n
		}
	}
}

// New creates a Dispatcher that reports into out.
func New(out *results.Channel, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		results:       out,
		logger:        zap.NewNop(),
		timeout:       DefaultTimeout,
		maxUploadSize: DefaultMaxUploadSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch schedules req on h and returns its id immediately. The caller
// keeps ownership of h; the dispatch holds a clone until it finishes.
// A nil h is reported as a validation failure under the returned id.
func (d *Dispatcher) Dispatch(req message.ClientRequest, h *session.Handle) message.RequestID {
	id := message.NewRequestID()
	if h == nil {
		d.report(id, req, message.NewFailure(req, message.Errorf(message.KindValidation, "dispatch", "no session")), 0)
		return id
	}
	held := h.Clone()

	d.wg.Add(1)
	metrics.DispatchInFlight.Inc()

	go d.run(id, req, held)

	return id
}

// Wait blocks until every dispatch started so far has reported.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) run(id message.RequestID, req message.ClientRequest, h *session.Handle) {
	start := time.Now()
	var res message.Result

	defer func() {
		if p := recover(); p != nil {
			d.logger.Error("dispatch panicked",
				zap.Stringer("request_id", id),
				zap.Any("panic", p),
			)
			res = message.NewFailure(req, message.Errorf(message.KindInternal, "dispatch", "panic: %v", p))
		}

		h.Release()
		d.report(id, req, res, time.Since(start))
		metrics.DispatchInFlight.Dec()
		d.wg.Done()
	}()

	res = d.execute(id, req, h)
}

// execute performs the request and returns its terminal result.
func (d *Dispatcher) execute(id message.RequestID, req message.ClientRequest, h *session.Handle) message.Result {
	var content []byte
	if up, ok := req.(message.FileUpload); ok {
		b, err := d.readUpload(up.Path)
		if err != nil {
			return message.NewFailure(req, err)
		}
		content = b
	}

	payload, err := codec.EncodeRequest(req, content)
	if err != nil {
		return message.NewFailure(req, &message.Error{Kind: message.KindProtocol, Op: "encode", Err: err})
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	reply, err := h.Exchange(ctx, id, payload)
	if err != nil {
		return message.NewFailure(req, exchangeError(err))
	}

	res, err := codec.DecodeResult(reply)
	if err != nil {
		return message.NewFailure(req, err)
	}
	if err := answers(req, res); err != nil {
		return message.NewFailure(req, err)
	}
	return res
}

// readUpload loads the file named by path, refusing anything over the
// upload limit. The file is re-checked here because it may have changed
// since the request was constructed.
func (d *Dispatcher) readUpload(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &message.Error{Kind: message.KindIO, Op: "upload", Err: err}
	}
	defer f.Close()

	// one extra byte tells us the file is over the limit
	b, err := io.ReadAll(io.LimitReader(f, d.maxUploadSize+1))
	if err != nil {
		return nil, &message.Error{Kind: message.KindIO, Op: "upload", Err: err}
	}
	if int64(len(b)) > d.maxUploadSize {
		return nil, message.Errorf(message.KindIO, "upload", "%s is larger than %d bytes", path, d.maxUploadSize)
	}
	return b, nil
}

// exchangeError classifies a failed exchange. A transport that went away
// because the peer sent an unreadable frame keeps its protocol kind;
// everything else that fails on the wire is a transport fault.
func exchangeError(err error) error {
	if message.KindOf(err) == message.KindProtocol {
		return err
	}
	return &message.Error{Kind: message.KindTransport, Op: "exchange", Err: err}
}

// answers checks that res is the success variant expected for req.
func answers(req message.ClientRequest, res message.Result) error {
	mismatch := func() error {
		return message.Errorf(message.KindProtocol, "decode", "%T does not answer %s", res, req.Kind())
	}

	switch r := req.(type) {
	case message.Text:
		if _, ok := res.(message.Delivered); !ok {
			return mismatch()
		}
	case message.FileUpload:
		if _, ok := res.(message.FileMeta); !ok {
			return mismatch()
		}
	case message.FileFetch:
		fb, ok := res.(message.FileBytes)
		if !ok {
			return mismatch()
		}
		if fb.Index != r.Index {
			return message.Errorf(message.KindProtocol, "decode", "asked for file %d, got file %d", r.Index, fb.Index)
		}
	case message.DeleteMark:
		ack, ok := res.(message.DeletedAck)
		if !ok {
			return mismatch()
		}
		if ack.MessageID != r.MessageID {
			return message.Errorf(message.KindProtocol, "decode", "asked to delete %d, got ack for %d", r.MessageID, ack.MessageID)
		}
	default:
		return fmt.Errorf("%w: unknown request %T", message.ErrInternal, req)
	}
	return nil
}

// report pushes the single terminal result of a dispatch.
func (d *Dispatcher) report(id message.RequestID, req message.ClientRequest, res message.Result, elapsed time.Duration) {
	kind := "unknown"
	if req != nil {
		kind = string(req.Kind())
	}

	outcome := "ok"
	if f, ok := res.(message.Failure); ok {
		outcome = f.Kind.String()
		d.logger.Debug("dispatch failed",
			zap.Stringer("request_id", id),
			zap.String("kind", kind),
			zap.Stringer("error_kind", f.Kind),
			zap.String("reason", f.Reason),
		)
	}
	metrics.DispatchTotal.WithLabelValues(kind, outcome).Inc()
	metrics.DispatchDuration.WithLabelValues(kind).Observe(elapsed.Seconds())

	if err := d.results.Send(results.Item{RequestID: id, Result: res}); err != nil {
		d.logger.Warn("result dropped",
			zap.Stringer("request_id", id),
			zap.String("kind", kind),
			zap.Error(err),
		)
	}
}
