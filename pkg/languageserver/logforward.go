package languageserver

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ajitpratap0/langhost/pkg/logging"
	"github.com/ajitpratap0/langhost/pkg/protocol"
	"github.com/ajitpratap0/langhost/pkg/transport"
)

const forwardQueue = 256

// logForwarder is a logging hook that relays entries to the client as
// window/logMessage notifications. Entries are queued so a log call never
// blocks on the transport; when the queue is full entries are dropped.
type logForwarder struct {
	t     transport.Transport
	queue chan protocol.LogMessageParams

	mu      sync.Mutex
	closed  bool
	started bool
	done    chan struct{}
}

func newLogForwarder(t transport.Transport) *logForwarder {
	return &logForwarder{
		t:     t,
		queue: make(chan protocol.LogMessageParams, forwardQueue),
		done:  make(chan struct{}),
	}
}

// Fire implements logging.Hook.
func (f *logForwarder) Fire(entry *logging.Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	if !f.started {
		f.started = true
		go f.pump()
	}
	select {
	case f.queue <- protocol.LogMessageParams{Type: messageType(entry.Level), Message: formatEntry(entry)}:
	default:
	}
}

func (f *logForwarder) pump() {
	defer close(f.done)
	for msg := range f.queue {
		if err := f.t.SendNotification(context.Background(), protocol.MethodLogMessage, msg); err != nil {
			// the client is gone; drain without sending
			for range f.queue {
			}
			return
		}
	}
}

// close flushes queued entries and stops forwarding.
func (f *logForwarder) close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	started := f.started
	close(f.queue)
	f.mu.Unlock()

	if started {
		<-f.done
	}
}

func messageType(level logging.Level) protocol.MessageType {
	switch {
	case level >= logging.ErrorLevel:
		return protocol.MessageError
	case level == logging.WarnLevel:
		return protocol.MessageWarning
	case level == logging.InfoLevel:
		return protocol.MessageInfo
	default:
		return protocol.MessageLog
	}
}

// formatEntry renders an entry as one line with sorted fields.
func formatEntry(entry *logging.Entry) string {
	if len(entry.Fields) == 0 {
		return entry.Message
	}
	keys := make([]string, 0, len(entry.Fields))
	for k := range entry.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(entry.Message)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, entry.Fields[k])
	}
	return b.String()
}
