package languageserver

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/langhost/pkg/logging"
	"github.com/ajitpratap0/langhost/pkg/protocol"
	"github.com/ajitpratap0/langhost/pkg/transport"
)

type recordingTransport struct {
	mu   sync.Mutex
	sent []protocol.LogMessageParams
	err  error
}

func (r *recordingTransport) RegisterRequestHandler(string, transport.RequestHandler)           {}
func (r *recordingTransport) RegisterNotificationHandler(string, transport.NotificationHandler) {}
func (r *recordingTransport) Start(context.Context) error                                       { return nil }
func (r *recordingTransport) Stop(context.Context) error                                        { return nil }

func (r *recordingTransport) SendNotification(_ context.Context, method string, params interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if p, ok := params.(protocol.LogMessageParams); ok && method == protocol.MethodLogMessage {
		r.sent = append(r.sent, p)
	}
	return nil
}

func (r *recordingTransport) messages() []protocol.LogMessageParams {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.LogMessageParams(nil), r.sent...)
}

func TestMessageType(t *testing.T) {
	tests := []struct {
		level logging.Level
		want  protocol.MessageType
	}{
		{logging.TraceLevel, protocol.MessageLog},
		{logging.DebugLevel, protocol.MessageLog},
		{logging.InfoLevel, protocol.MessageInfo},
		{logging.WarnLevel, protocol.MessageWarning},
		{logging.ErrorLevel, protocol.MessageError},
		{logging.FatalLevel, protocol.MessageError},
	}
	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, messageType(tt.level))
		})
	}
}

func TestFormatEntrySortsFields(t *testing.T) {
	entry := &logging.Entry{Message: "loaded", Fields: map[string]interface{}{"z": 1, "a": "x"}}
	assert.Equal(t, "loaded a=x z=1", formatEntry(entry))
	assert.Equal(t, "bare", formatEntry(&logging.Entry{Message: "bare"}))
}

func TestLogForwarder(t *testing.T) {
	rt := &recordingTransport{}
	f := newLogForwarder(rt)

	logger := logging.New(io.Discard, logging.NewJSONFormatter())
	logger.SetLevel(logging.InfoLevel)
	logger.AddHook(f)

	logger.Debug("filtered")
	logger.WithFields(logging.String("module", "core")).Warn("slow factory")
	logger.Error("boom")
	f.close()

	msgs := rt.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, protocol.MessageWarning, msgs[0].Type)
	assert.Contains(t, msgs[0].Message, "module=core")
	assert.Equal(t, protocol.MessageError, msgs[1].Type)

	// nothing is forwarded after close
	logger.Error("late")
	assert.Len(t, rt.messages(), 2)
	f.close()
}

func TestLogForwarderStopsOnSendError(t *testing.T) {
	rt := &recordingTransport{err: errors.New("broken pipe")}
	f := newLogForwarder(rt)
	for i := 0; i < 10; i++ {
		f.Fire(&logging.Entry{Level: logging.InfoLevel, Message: "x"})
	}

	done := make(chan struct{})
	go func() {
		f.close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("close blocked after send error")
	}
	assert.Empty(t, rt.messages())
}
