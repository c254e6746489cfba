package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrShutdown is the cancellation cause of a fired token's context.
var ErrShutdown = errors.New("shutdown")

// ShutdownToken is a single-fire cancellation signal. Only the first Fire
// has any effect.
type ShutdownToken struct {
	fired  atomic.Bool
	reason atomic.Pointer[string]
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelCauseFunc
}

// NewShutdownToken returns an unfired token.
func NewShutdownToken() *ShutdownToken {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &ShutdownToken{
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Fire fires the token and reports whether this call was the one that did.
func (t *ShutdownToken) Fire(reason string) bool {
	if !t.fired.CompareAndSwap(false, true) {
		return false
	}
	t.reason.Store(&reason)
	t.cancel(fmt.Errorf("%w: %s", ErrShutdown, reason))
	close(t.done)
	return true
}

// Done is closed once the token fired.
func (t *ShutdownToken) Done() <-chan struct{} { return t.done }

// Fired reports whether the token fired.
func (t *ShutdownToken) Fired() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Reason returns the reason given to the winning Fire, or "".
func (t *ShutdownToken) Reason() string {
	if r := t.reason.Load(); r != nil {
		return *r
	}
	return ""
}

// Context is cancelled, with an ErrShutdown cause, when the token fires.
func (t *ShutdownToken) Context() context.Context { return t.ctx }
