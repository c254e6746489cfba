package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Step is one stage of the shutdown sequence.
type Step struct {
	Name string
	Run  func(ctx context.Context) error
}

// Sequence runs its steps at most once. Every caller of Run blocks until
// that single run has finished and observes the same result. Create one
// with NewSequence.
type Sequence struct {
	// Grace bounds the whole run. Zero means no bound beyond the caller's
	// context.
	Grace time.Duration

	mu      sync.Mutex
	steps   []Step
	started bool
	once    sync.Once
	done    chan struct{}
	err     error
}

// NewSequence returns an empty sequence with the given grace period.
func NewSequence(grace time.Duration) *Sequence {
	return &Sequence{Grace: grace, done: make(chan struct{})}
}

// Add appends a step. Steps added after Run started are rejected.
func (s *Sequence) Add(name string, fn func(ctx context.Context) error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return false
	}
	s.steps = append(s.steps, Step{Name: name, Run: fn})
	return true
}

// Run executes the steps in order. Step failures do not stop later steps;
// they are joined into the returned error.
func (s *Sequence) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.mu.Lock()
		s.started = true
		steps := append([]Step(nil), s.steps...)
		s.mu.Unlock()

		if s.Grace > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.Grace)
			defer cancel()
		}

		var errs []error
		for _, st := range steps {
			if err := runStep(ctx, st); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", st.Name, err))
			}
		}
		s.err = errors.Join(errs...)
		close(s.done)
	})
	return s.err
}

func runStep(ctx context.Context, st Step) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return st.Run(ctx)
}

// Done is closed when the single run finished.
func (s *Sequence) Done() <-chan struct{} { return s.done }
