package lifecycle

import (
	"errors"
	"sync"
	"time"
)

// ErrProcessNotFound is returned by Attach when the process does not exist.
var ErrProcessNotFound = errors.New("lifecycle: process not found")

// Subscription reports the exit of an attached process.
type Subscription interface {
	Exited() <-chan struct{}
	Close()
}

// ProcessWatcher attaches exit observers to foreign processes.
type ProcessWatcher interface {
	Attach(pid int) (Subscription, error)
}

// DefaultPollInterval is how often PollingWatcher checks liveness.
const DefaultPollInterval = time.Second

// PollingWatcher checks liveness on an interval.
type PollingWatcher struct {
	Interval time.Duration

	// Alive overrides the platform liveness probe.
	Alive func(pid int) (bool, error)
}

// NewPollingWatcher returns a watcher using the platform probe.
func NewPollingWatcher(interval time.Duration) *PollingWatcher {
	return &PollingWatcher{Interval: interval}
}

func (w *PollingWatcher) probe(pid int) (bool, error) {
	if w.Alive != nil {
		return w.Alive(pid)
	}
	return processAlive(pid)
}

// Attach checks the process once and, if it is alive, starts polling it.
func (w *PollingWatcher) Attach(pid int) (Subscription, error) {
	if pid <= 0 {
		return nil, ErrProcessNotFound
	}
	alive, err := w.probe(pid)
	if err != nil {
		return nil, err
	}
	if !alive {
		return nil, ErrProcessNotFound
	}

	interval := w.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	sub := &pollSubscription{
		exited: make(chan struct{}),
		stop:   make(chan struct{}),
	}
	go sub.poll(pid, interval, w.probe)
	return sub, nil
}

type pollSubscription struct {
	exited    chan struct{}
	stop      chan struct{}
	closeOnce sync.Once
}

func (s *pollSubscription) poll(pid int, interval time.Duration, probe func(int) (bool, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			// Probe errors other than "gone" are treated as alive.
			if alive, err := probe(pid); err == nil && !alive {
				close(s.exited)
				return
			}
		}
	}
}

func (s *pollSubscription) Exited() <-chan struct{} { return s.exited }

func (s *pollSubscription) Close() {
	s.closeOnce.Do(func() { close(s.stop) })
}
