// Package eventloop provides the single-threaded scheduling model the session
// engine runs on. Component state is only touched from loop callbacks; blocking
// work (network, disk, dialogs) runs off the loop and hands its outcome back.
package eventloop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Timer is a pending AfterFunc callback.
type Timer interface {
	// Stop prevents the callback from running. It reports whether the timer
	// was still pending.
	Stop() bool
}

// Runtime is what components schedule against.
type Runtime interface {
	Now() time.Time
	// AfterFunc runs fn on the loop once d has elapsed.
	AfterFunc(d time.Duration, fn func()) Timer
	// Go runs work off the loop and delivers its outcome to done on the loop.
	Go(work func(ctx context.Context) (any, error), done func(value any, err error))
}

// Call is the typed form of Runtime.Go.
func Call[T any](rt Runtime, work func(ctx context.Context) (T, error), done func(T, error)) {
	rt.Go(
		func(ctx context.Context) (any, error) {
			return work(ctx)
		},
		func(value any, err error) {
			typed, _ := value.(T)
			done(typed, err)
		},
	)
}

// Loop is the production Runtime: a FIFO of callbacks drained by Run.
type Loop struct {
	ctx  context.Context
	now  func() time.Time
	mu   sync.Mutex
	fifo []func()
	wake chan struct{}
}

func NewLoop(ctx context.Context) *Loop {
	return &Loop{
		ctx:  ctx,
		now:  time.Now,
		wake: make(chan struct{}, 1),
	}
}

func (l *Loop) Now() time.Time {
	return l.now()
}

// Post enqueues fn. Safe from any goroutine.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.fifo = append(l.fifo, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Do posts fn and waits for it to run. It must not be called from the loop.
func (l *Loop) Do(fn func()) error {
	finished := make(chan struct{})
	l.Post(func() {
		defer close(finished)
		fn()
	})
	select {
	case <-finished:
		return nil
	case <-l.ctx.Done():
		return l.ctx.Err()
	}
}

// Run drains callbacks until the loop context is cancelled.
func (l *Loop) Run() error {
	for {
		l.mu.Lock()
		batch := l.fifo
		l.fifo = nil
		l.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
		if len(batch) > 0 {
			continue
		}
		select {
		case <-l.ctx.Done():
			return l.ctx.Err()
		case <-l.wake:
		}
	}
}

func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	timer := &loopTimer{}
	timer.timer = time.AfterFunc(d, func() {
		l.Post(func() {
			if timer.stopped.Swap(true) {
				return
			}
			fn()
		})
	})
	return timer
}

func (l *Loop) Go(work func(ctx context.Context) (any, error), done func(any, error)) {
	go func() {
		value, err := work(l.ctx)
		l.Post(func() {
			done(value, err)
		})
	}()
}

type loopTimer struct {
	timer   *time.Timer
	stopped atomic.Bool
}

func (t *loopTimer) Stop() bool {
	wasPending := !t.stopped.Swap(true)
	t.timer.Stop()
	return wasPending
}
