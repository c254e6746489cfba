package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	hosterrors "github.com/ajitpratap0/langhost/pkg/errors"
	"github.com/ajitpratap0/langhost/pkg/logging"
)

// DefaultSignals are intercepted when Supervisor.Signals is empty.
var DefaultSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

// Supervisor routes interrupt signals and parent process exit into the
// shutdown token.
type Supervisor struct {
	Watcher ProcessWatcher
	Token   *ShutdownToken
	Logger  logging.Logger
	Signals []os.Signal
	// Escalate, when set, receives every signal that arrives after the
	// token already fired, for example to force an exit during the grace
	// period.
	Escalate func(os.Signal)

	mu      sync.Mutex
	started bool
	sigCh   chan os.Signal
	sub     Subscription
	stop    chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

// NewSupervisor returns a supervisor polling the parent once per second.
func NewSupervisor(token *ShutdownToken, logger logging.Logger) *Supervisor {
	return &Supervisor{
		Watcher: NewPollingWatcher(DefaultPollInterval),
		Token:   token,
		Logger:  logger,
	}
}

// Start begins supervision. Signals are intercepted, which suppresses their
// default terminating behaviour until Stop. If hostPID names a process the
// token fires when it exits, or immediately if it is already gone. A nil or
// negative hostPID leaves parent supervision inert.
func (s *Supervisor) Start(ctx context.Context, hostPID *int) error {
	if s.Token == nil {
		return errors.New("lifecycle: supervisor has no token")
	}
	if s.Logger == nil {
		s.Logger = logging.Nop()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("lifecycle: supervisor already started")
	}
	s.started = true
	s.stop = make(chan struct{})

	sigs := s.Signals
	if len(sigs) == 0 {
		sigs = DefaultSignals
	}
	s.sigCh = make(chan os.Signal, 1)
	signal.Notify(s.sigCh, sigs...)
	s.wg.Add(1)
	go s.watchSignals()

	if hostPID == nil || *hostPID < 0 {
		s.Logger.Debug("No host process id, parent supervision inactive")
		return nil
	}
	pid := *hostPID

	watcher := s.Watcher
	if watcher == nil {
		watcher = NewPollingWatcher(DefaultPollInterval)
	}
	sub, err := watcher.Attach(pid)
	switch {
	case errors.Is(err, ErrProcessNotFound):
		s.Logger.WithError(hosterrors.ParentProcessGone(pid, err)).
			Info("Host process already exited, shutting down", logging.Int("host_pid", pid))
		s.Token.Fire(fmt.Sprintf("host process %d not found", pid))
		return nil
	case err != nil:
		s.Logger.WithError(err).Warn("Cannot watch host process", logging.Int("host_pid", pid))
		return nil
	}

	s.sub = sub
	s.wg.Add(1)
	go s.watchParent(ctx, pid, sub)
	s.Logger.Debug("Watching host process", logging.Int("host_pid", pid))
	return nil
}

// watchSignals runs until Stop, not until the token fires: signals stay
// intercepted through the shutdown grace period.
func (s *Supervisor) watchSignals() {
	defer s.wg.Done()
	for {
		select {
		case sig := <-s.sigCh:
			if s.Token.Fire("signal: " + sig.String()) {
				s.Logger.Info("Interrupt received, shutting down", logging.String("signal", sig.String()))
				continue
			}
			s.Logger.Warn("Interrupt received, shutdown already in progress", logging.String("signal", sig.String()))
			if s.Escalate != nil {
				s.Escalate(sig)
			}
		case <-s.stop:
			return
		}
	}
}

func (s *Supervisor) watchParent(ctx context.Context, pid int, sub Subscription) {
	defer s.wg.Done()
	select {
	case <-sub.Exited():
		s.Logger.WithError(hosterrors.ParentProcessGone(pid, nil)).
			Info("Host process exited, shutting down", logging.Int("host_pid", pid))
		s.Token.Fire(fmt.Sprintf("host process %d exited", pid))
	case <-s.stop:
	case <-ctx.Done():
	}
}

// Stop restores default signal handling and releases the watcher. It is
// safe to call more than once and before Start.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	signal.Stop(s.sigCh)
	close(s.stop)
	if s.sub != nil {
		s.sub.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}
