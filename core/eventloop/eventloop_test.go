package eventloop

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestManualFiresTimersInDeadlineOrder(t *testing.T) {
	rt := NewManual(time.Unix(0, 0))
	var fired []string
	rt.AfterFunc(3*time.Second, func() { fired = append(fired, "c") })
	rt.AfterFunc(time.Second, func() { fired = append(fired, "a") })
	stopped := rt.AfterFunc(2*time.Second, func() { fired = append(fired, "b") })
	if !stopped.Stop() {
		t.Fatalf("expected pending timer to report stop")
	}
	if stopped.Stop() {
		t.Fatalf("expected second stop to report not pending")
	}

	rt.Advance(5 * time.Second)
	if len(fired) != 2 || fired[0] != "a" || fired[1] != "c" {
		t.Fatalf("unexpected firing order: %v", fired)
	}
	if got := rt.Now().Sub(time.Unix(0, 0)); got != 5*time.Second {
		t.Fatalf("unexpected clock: %s", got)
	}
}

func TestManualTimerScheduledFromCallbackFiresWithinSameAdvance(t *testing.T) {
	rt := NewManual(time.Unix(0, 0))
	count := 0
	rt.AfterFunc(time.Second, func() {
		count++
		rt.AfterFunc(time.Second, func() { count++ })
	})
	rt.Advance(2 * time.Second)
	if count != 2 {
		t.Fatalf("expected chained timers to fire, got %d", count)
	}
	if rt.PendingTimers() != 0 {
		t.Fatalf("expected no pending timers")
	}
}

func TestManualCompletesJobsOutOfOrder(t *testing.T) {
	rt := NewManual(time.Unix(0, 0))
	var order []int
	for i := 1; i <= 2; i++ {
		value := i
		Call(rt, func(context.Context) (int, error) {
			return value, nil
		}, func(got int, err error) {
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			order = append(order, got)
		})
	}
	if rt.Pending() != 2 {
		t.Fatalf("expected two pending jobs, got %d", rt.Pending())
	}
	rt.Complete(1)
	rt.Complete(0)
	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("unexpected completion order: %v", order)
	}
}

func TestCallDeliversZeroValueOnError(t *testing.T) {
	rt := NewManual(time.Unix(0, 0))
	boom := errors.New("boom")
	var gotErr error
	var got *int
	Call(rt, func(context.Context) (*int, error) {
		return nil, boom
	}, func(value *int, err error) {
		got = value
		gotErr = err
	})
	rt.CompleteAll()
	if got != nil || !errors.Is(gotErr, boom) {
		t.Fatalf("unexpected result value=%v err=%v", got, gotErr)
	}
}

func TestLoopRunsPostedWorkAndAsyncCompletions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop := NewLoop(ctx)
	go func() { _ = loop.Run() }()

	result := make(chan string, 1)
	if err := loop.Do(func() {
		Call(loop, func(context.Context) (string, error) {
			return "rendered", nil
		}, func(value string, err error) {
			result <- value
		})
	}); err != nil {
		t.Fatalf("do: %v", err)
	}
	select {
	case value := <-result:
		if value != "rendered" {
			t.Fatalf("unexpected value: %s", value)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for async completion")
	}
}

func TestLoopTimerStopPreventsCallback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop := NewLoop(ctx)
	go func() { _ = loop.Run() }()

	fired := make(chan struct{}, 2)
	var timer Timer
	_ = loop.Do(func() {
		timer = loop.AfterFunc(20*time.Millisecond, func() { fired <- struct{}{} })
	})
	_ = loop.Do(func() {
		if !timer.Stop() {
			t.Errorf("expected timer to be pending")
		}
	})
	_ = loop.Do(func() {
		loop.AfterFunc(time.Millisecond, func() { fired <- struct{}{} })
	})

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected second timer to fire")
	}
	select {
	case <-fired:
		t.Fatalf("stopped timer fired")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestLoopRunReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	loop := NewLoop(ctx)
	errs := make(chan error, 1)
	go func() { errs <- loop.Run() }()
	cancel()
	select {
	case err := <-errs:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("unexpected run error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not return after cancel")
	}
}
