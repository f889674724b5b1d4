package eventloop

import (
	"context"
	"sort"
	"time"
)

// Manual is a deterministic Runtime. Time only moves on Advance and async work
// only runs when a test completes it, in whatever order the test chooses.
type Manual struct {
	now    time.Time
	seq    int
	timers []*manualTimer
	jobs   []*Job
}

// Job is an async call waiting for Complete.
type Job struct {
	work func(ctx context.Context) (any, error)
	done func(any, error)
}

type manualTimer struct {
	at      time.Time
	seq     int
	fn      func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	wasPending := !t.stopped
	t.stopped = true
	return wasPending
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	return m.now
}

func (m *Manual) AfterFunc(d time.Duration, fn func()) Timer {
	m.seq++
	timer := &manualTimer{at: m.now.Add(d), seq: m.seq, fn: fn}
	m.timers = append(m.timers, timer)
	return timer
}

func (m *Manual) Go(work func(ctx context.Context) (any, error), done func(any, error)) {
	m.jobs = append(m.jobs, &Job{work: work, done: done})
}

// Advance moves the clock forward, firing due timers in deadline order.
func (m *Manual) Advance(d time.Duration) {
	target := m.now.Add(d)
	for {
		next := m.nextDue(target)
		if next == nil {
			break
		}
		m.now = next.at
		next.stopped = true
		next.fn()
	}
	m.now = target
}

func (m *Manual) nextDue(limit time.Time) *manualTimer {
	live := m.timers[:0]
	for _, timer := range m.timers {
		if !timer.stopped {
			live = append(live, timer)
		}
	}
	m.timers = live
	sort.SliceStable(m.timers, func(i, j int) bool {
		if m.timers[i].at.Equal(m.timers[j].at) {
			return m.timers[i].seq < m.timers[j].seq
		}
		return m.timers[i].at.Before(m.timers[j].at)
	})
	if len(m.timers) == 0 || m.timers[0].at.After(limit) {
		return nil
	}
	return m.timers[0]
}

// NextTimer reports the delay until the earliest pending timer.
func (m *Manual) NextTimer() (time.Duration, bool) {
	next := m.nextDue(m.now.Add(time.Duration(1<<62)))
	if next == nil {
		return 0, false
	}
	return next.at.Sub(m.now), true
}

// PendingTimers counts timers that have neither fired nor been stopped.
func (m *Manual) PendingTimers() int {
	count := 0
	for _, timer := range m.timers {
		if !timer.stopped {
			count++
		}
	}
	return count
}

// Pending counts async jobs waiting for completion.
func (m *Manual) Pending() int {
	return len(m.jobs)
}

// Complete runs the index-th pending job (in submission order) to completion.
func (m *Manual) Complete(index int) {
	if index < 0 || index >= len(m.jobs) {
		panic("eventloop: no pending job at index")
	}
	job := m.jobs[index]
	m.jobs = append(m.jobs[:index], m.jobs[index+1:]...)
	value, err := job.work(context.Background())
	job.done(value, err)
}

// CompleteAll completes jobs in submission order, including jobs spawned by
// completions, until none remain.
func (m *Manual) CompleteAll() {
	for len(m.jobs) > 0 {
		m.Complete(0)
	}
}
