// Package serializer provides the single exclusive gate that every reasoning call passes
// through. Callers are granted the gate strictly in the order they asked for it.
package serializer

import (
	"context"
	"errors"
	"sync"
	"time"

	"crewsim/pkg/agent/middleware/metrics"
	"crewsim/pkg/logx"
)

// ErrClosed is returned to callers queued on, or arriving at, a closed serializer.
var ErrClosed = errors.New("serializer closed")

type waiter struct {
	ready chan struct{}
	err   error
}

// Serializer is a FIFO mutex. Unlike sync.Mutex it guarantees enqueue-order handoff
// and reports its queue depth.
type Serializer struct {
	mu     sync.Mutex
	busy   bool
	closed bool
	queue  []*waiter

	recorder metrics.Recorder
	logger   *logx.Logger
}

// New creates an idle serializer.
func New(recorder metrics.Recorder) *Serializer {
	if recorder == nil {
		recorder = metrics.Nop()
	}
	return &Serializer{
		recorder: recorder,
		logger:   logx.NewLogger("serializer"),
	}
}

// Do runs fn while holding the gate. It waits behind every caller that arrived earlier.
// If ctx ends while waiting, Do returns ctx.Err() and fn is not run. Once fn has started
// it runs to completion; the gate is released even if fn panics.
func (s *Serializer) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	start := time.Now()
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	if waited := time.Since(start); waited > time.Second {
		s.logger.Debug("SERIALIZER: granted after %.1fs", waited.Seconds())
	}
	s.recorder.ObserveSerializerWait(time.Since(start))

	return fn(ctx)
}

// Waiting returns the number of callers queued behind the current holder.
func (s *Serializer) Waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Busy reports whether a caller currently holds the gate.
func (s *Serializer) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// Close rejects every queued and future caller. The current holder finishes normally.
func (s *Serializer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for _, w := range s.queue {
		w.err = ErrClosed
		close(w.ready)
	}
	if n := len(s.queue); n > 0 {
		s.logger.Info("SERIALIZER: closed with %d callers still queued", n)
	}
	s.queue = nil
}

func (s *Serializer) acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if !s.busy {
		s.busy = true
		s.mu.Unlock()
		return nil
	}
	w := &waiter{ready: make(chan struct{})}
	s.queue = append(s.queue, w)
	s.mu.Unlock()

	select {
	case <-w.ready:
		return w.err
	case <-ctx.Done():
	}

	s.mu.Lock()
	select {
	case <-w.ready:
		// Handed the gate (or closed) while giving up. Pass it on.
		s.mu.Unlock()
		if w.err == nil {
			s.release()
		}
		return ctx.Err() //nolint:wrapcheck // Context error propagated as-is
	default:
	}
	for i, q := range s.queue {
		if q == w {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	return ctx.Err() //nolint:wrapcheck // Context error propagated as-is
}

// release hands the gate to the oldest waiter, or marks it idle.
func (s *Serializer) release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) > 0 {
		next := s.queue[0]
		s.queue = s.queue[1:]
		close(next.ready)
		return
	}
	s.busy = false
}
