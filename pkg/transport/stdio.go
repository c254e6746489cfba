package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/errgroup"

	hosterrors "github.com/ajitpratap0/langhost/pkg/errors"
	"github.com/ajitpratap0/langhost/pkg/logging"
	"github.com/ajitpratap0/langhost/pkg/protocol"
)

const stdioName = "stdio"

// ErrClosed is returned by Send after Stop.
var ErrClosed = errors.New("transport closed")

// StdioTransport speaks the LSP base protocol over a byte stream, normally
// the process' stdin and stdout. Requests are handled concurrently; notifications
// are handled in arrival order on the read loop so document edits apply in sequence.
type StdioTransport struct {
	*BaseTransport
	reader *bufio.Reader
	source io.Reader
	writer *bufio.Writer
	logger logging.Logger

	mutex        sync.Mutex // guards writer, closed and errorHandler
	closed       bool
	errorHandler ErrorHandler

	pendingMu sync.Mutex
	pending   map[string]context.CancelFunc
	inflight  sync.WaitGroup

	done     chan struct{}
	stopOnce sync.Once
}

// StdioOption configures a StdioTransport.
type StdioOption func(*StdioTransport)

// WithLogger sets the logger used for dropped and malformed messages.
func WithLogger(logger logging.Logger) StdioOption {
	return func(t *StdioTransport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithErrorHandler sets the handler for I/O and decoding errors.
func WithErrorHandler(handler ErrorHandler) StdioOption {
	return func(t *StdioTransport) { t.errorHandler = handler }
}

// NewStdioTransport creates a transport over r and w. Nil streams default to
// os.Stdin and os.Stdout.
func NewStdioTransport(r io.Reader, w io.Writer, opts ...StdioOption) *StdioTransport {
	if r == nil {
		r = os.Stdin
	}
	if w == nil {
		w = os.Stdout
	}
	t := &StdioTransport{
		BaseTransport: NewBaseTransport(),
		reader:        bufio.NewReader(r),
		source:        r,
		writer:        bufio.NewWriter(w),
		logger:        logging.Nop(),
		pending:       make(map[string]context.CancelFunc),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.WithFields(logging.String("component", "transport"), logging.String("transport", stdioName))
	return t
}

// Start reads framed messages until EOF, Stop, or ctx is cancelled. EOF is a
// clean return.
func (t *StdioTransport) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	readDone := make(chan struct{})

	g.Go(func() error {
		defer close(readDone)
		for {
			data, err := ReadMessage(t.reader)
			if err != nil {
				if t.isStopped() || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
					return nil
				}
				if errors.Is(err, ErrBadHeader) {
					t.handleError(err)
					continue
				}
				return hosterrors.TransportError(stdioName, "read_message", err)
			}

			select {
			case <-gctx.Done():
				return nil
			case <-t.done:
				return nil
			default:
			}
			t.processMessage(gctx, data)
		}
	})

	// Closing the source is the only way to unblock a pending read.
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-t.done:
		case <-readDone:
			return nil
		}
		if closer, ok := t.source.(io.Closer); ok {
			_ = closer.Close()
		}
		return nil
	})

	err := g.Wait()
	// After Stop, in-flight requests get the grace period Stop was given.
	if !t.isStopped() {
		t.cancelPending()
	}
	return err
}

// Stop halts the read loop, waits for in-flight requests until ctx expires,
// and flushes pending output. It is safe to call more than once.
func (t *StdioTransport) Stop(ctx context.Context) error {
	var flushErr error
	t.stopOnce.Do(func() {
		close(t.done)

		waited := make(chan struct{})
		go func() {
			t.inflight.Wait()
			close(waited)
		}()
		select {
		case <-waited:
		case <-ctx.Done():
			t.logger.Warn("abandoning in-flight requests", logging.ErrorField(ctx.Err()))
			t.cancelPending()
		}

		t.mutex.Lock()
		t.closed = true
		flushErr = t.writer.Flush()
		t.mutex.Unlock()
	})
	if flushErr != nil {
		return hosterrors.TransportError(stdioName, "flush_on_stop", flushErr)
	}
	return nil
}

// Send writes one framed message.
func (t *StdioTransport) Send(data []byte) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.closed {
		return hosterrors.TransportError(stdioName, "send_message", ErrClosed)
	}
	if err := WriteMessage(t.writer, data); err != nil {
		return hosterrors.TransportError(stdioName, "send_message", err)
	}
	if err := t.writer.Flush(); err != nil {
		return hosterrors.TransportError(stdioName, "flush_output", err)
	}
	return nil
}

// SendNotification sends a notification (one-way message)
func (t *StdioTransport) SendNotification(ctx context.Context, method string, params interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	notification, err := protocol.NewNotification(method, params)
	if err != nil {
		return fmt.Errorf("error creating notification: %w", err)
	}
	data, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("error marshalling notification: %w", err)
	}
	return t.Send(data)
}

// SetErrorHandler sets the handler for transport errors.
func (t *StdioTransport) SetErrorHandler(handler ErrorHandler) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.errorHandler = handler
}

func (t *StdioTransport) processMessage(ctx context.Context, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic processing message",
				logging.Any("panic", r), logging.String("stack", string(debug.Stack())))
		}
	}()

	switch protocol.Classify(data) {
	case protocol.KindRequest:
		var req protocol.Request
		if err := json.Unmarshal(data, &req); err != nil {
			t.reply(protocol.NewErrorResponse(nil, protocol.ParseError, err.Error(), nil))
			return
		}
		t.dispatchRequest(ctx, &req)

	case protocol.KindNotification:
		var notif protocol.Notification
		if err := json.Unmarshal(data, &notif); err != nil {
			t.handleError(fmt.Errorf("error unmarshalling notification: %w", err))
			return
		}
		if notif.Method == protocol.MethodCancel {
			t.cancelRequest(notif.Params)
			return
		}
		if err := t.HandleNotification(ctx, &notif); err != nil {
			if errors.Is(err, ErrUnsupportedMethod) {
				t.logger.Debug("ignoring notification", logging.String("method", notif.Method))
				return
			}
			t.logger.Warn("notification rejected",
				logging.String("method", notif.Method), logging.ErrorField(err))
		}

	case protocol.KindResponse:
		// The host issues no server-to-client requests.
		t.logger.Debug("ignoring response from client")

	default:
		t.reply(protocol.NewErrorResponse(nil, protocol.InvalidRequest, "invalid JSON-RPC message", nil))
	}
}

// dispatchRequest runs the request on its own goroutine so the read loop
// never blocks on handler execution.
func (t *StdioTransport) dispatchRequest(ctx context.Context, req *protocol.Request) {
	key := fmt.Sprint(req.ID)
	reqCtx, cancel := context.WithCancel(ctx)

	t.pendingMu.Lock()
	t.pending[key] = cancel
	t.pendingMu.Unlock()

	t.inflight.Add(1)
	go func() {
		defer t.inflight.Done()
		defer func() {
			t.pendingMu.Lock()
			delete(t.pending, key)
			t.pendingMu.Unlock()
			cancel()
		}()

		t.reply(t.HandleRequest(reqCtx, req))
	}()
}

func (t *StdioTransport) reply(resp *protocol.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		t.handleError(fmt.Errorf("error marshalling response for request %v: %w", resp.ID, err))
		return
	}
	if err := t.Send(data); err != nil {
		t.handleError(fmt.Errorf("error sending response for request %v: %w", resp.ID, err))
	}
}

func (t *StdioTransport) cancelRequest(params json.RawMessage) {
	var p protocol.CancelParams
	if err := json.Unmarshal(params, &p); err != nil {
		t.handleError(fmt.Errorf("invalid cancel params: %w", err))
		return
	}
	key := fmt.Sprint(p.ID)
	t.pendingMu.Lock()
	cancel, ok := t.pending[key]
	t.pendingMu.Unlock()
	if ok {
		cancel()
	}
}

func (t *StdioTransport) cancelPending() {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	for _, cancel := range t.pending {
		cancel()
	}
}

func (t *StdioTransport) isStopped() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *StdioTransport) handleError(err error) {
	t.mutex.Lock()
	handler := t.errorHandler
	t.mutex.Unlock()

	if handler != nil {
		handler(err)
		return
	}
	t.logger.Warn("transport error", logging.ErrorField(err))
}
