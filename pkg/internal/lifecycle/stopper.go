// Package lifecycle implements the stop handle shared by producers and
// consumers.
package lifecycle

import (
	"context"
	"sync"
	"time"
)

// MaxWaitSlice bounds a single wait on a broker so that a stop request is
// noticed within that delay even by backends that ignore the context.
const MaxWaitSlice = time.Second

// Stopper is a cancellation token owned by one task. The zero value is
// ready to use.
type Stopper struct {
	once sync.Once
	mu   sync.Mutex
	ch   chan struct{}
}

func (s *Stopper) done() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil {
		s.ch = make(chan struct{})
	}
	return s.ch
}

// Stop requests the task to stop. It can be called more than once.
func (s *Stopper) Stop() {
	s.once.Do(func() { close(s.done()) })
}

// Stopped reports whether Stop has been called.
func (s *Stopper) Stopped() bool {
	select {
	case <-s.done():
		return true
	default:
		return false
	}
}

// Context returns a copy of parent that is canceled when Stop is called.
func (s *Stopper) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := s.done()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// Slice returns how long the next wait may last when the overall budget is
// timeout and since is when waiting began. A timeout <= 0 is unbounded.
func Slice(timeout time.Duration, since time.Time) time.Duration {
	if timeout <= 0 {
		return MaxWaitSlice
	}
	remaining := timeout - time.Since(since)
	if remaining <= 0 {
		// Let the backend try once more without waiting long.
		return time.Millisecond
	}
	return min(remaining, MaxWaitSlice)
}

// Expired reports whether the budget timeout counted from since is used up.
func Expired(timeout time.Duration, since time.Time) bool {
	return timeout > 0 && time.Since(since) > timeout
}
