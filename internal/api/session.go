package api

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/samcharles93/mmrunner/internal/runner"
)

// PositionObserver is told the runner's cursor after every call.
type PositionObserver interface {
	ObservePosition(pos int64)
}

// Session serialises access to a single runner. Every call except Stop
// holds the session for its whole duration.
type Session struct {
	runner       *runner.Runner
	sem          *semaphore.Weighted
	defaults     runner.GenerationConfig
	maxImageSide int
	observer     PositionObserver

	busy   atomic.Bool
	status atomic.Pointer[Status]
}

type SessionOption func(*Session)

func WithDefaults(cfg runner.GenerationConfig) SessionOption {
	return func(s *Session) { s.defaults = cfg }
}

// WithMaxImageSide bounds decoded request images. Zero keeps full size.
func WithMaxImageSide(n int) SessionOption {
	return func(s *Session) { s.maxImageSide = n }
}

func WithPositionObserver(o PositionObserver) SessionOption {
	return func(s *Session) { s.observer = o }
}

func NewSession(r *runner.Runner, opts ...SessionOption) *Session {
	s := &Session{
		runner:   r,
		sem:      semaphore.NewWeighted(1),
		defaults: runner.DefaultGenerationConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.snapshot()
	return s
}

// WithRunner waits for exclusive use of the runner, or until ctx is done.
func (s *Session) WithRunner(ctx context.Context, fn func(r *runner.Runner) error) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sem.Release(1)

	s.busy.Store(true)
	defer s.busy.Store(false)
	defer s.snapshot()
	return fn(s.runner)
}

// Stop interrupts a running Generate without waiting for the session.
func (s *Session) Stop() {
	s.runner.Stop()
}

// Status reports the state recorded at the end of the last call.
func (s *Session) Status() Status {
	st := *s.status.Load()
	st.Busy = s.busy.Load()
	return st
}

func (s *Session) snapshot() {
	st := &Status{
		Loaded:        s.runner.IsLoaded(),
		Pos:           s.runner.Pos(),
		Pending:       s.runner.HasPending(),
		MaxContextLen: s.runner.Metadata().MaxContextLen(),
	}
	s.status.Store(st)
	if s.observer != nil {
		s.observer.ObservePosition(st.Pos)
	}
}
