// Package recovery decides, at startup and after a slot change, whether there
// is an unsaved document to offer back to the user. A local autosave always
// wins; the backend slot is only consulted when no local copy exists.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hajimeno-ipoo/NodeVision-Editor/core/autosave"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/eventloop"
	coreerrors "github.com/hajimeno-ipoo/NodeVision-Editor/core/errors"
)

const (
	DefaultMaxRetries   = 3
	DefaultBackoffStep  = 5 * time.Second
	DefaultBackoffMax   = 30 * time.Second
	DefaultSlotDebounce = 300 * time.Millisecond
)

// ErrNoCandidate is returned by Restore when nothing is on offer.
var ErrNoCandidate = errors.New("no recovery candidate")

type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseCheckingLocal   Phase = "checking_local"
	PhaseFoundLocal      Phase = "found_local"
	PhaseCheckingBackend Phase = "checking_backend"
	PhaseFoundBackend    Phase = "found_backend"
	PhaseNoCandidate     Phase = "no_candidate"
	PhaseError           Phase = "error"
	PhaseSatisfied       Phase = "satisfied"
)

type State struct {
	Phase      Phase
	Candidate  *Candidate
	PromptOpen bool
	Slot       string
	// Attempts counts automatic backend retries since the last success or
	// manual retry.
	Attempts    int
	NextRetryIn time.Duration
	Err         string
	LocalErr    string
	CheckedAt   time.Time
}

// Observer receives one call per finished query.
type Observer interface {
	ObserveRecovery(source, outcome string)
}

type Config struct {
	Runtime      eventloop.Runtime
	Local        autosave.LocalStore
	Slots        SlotStore
	Slot         string
	MaxRetries   int
	BackoffStep  time.Duration
	BackoffMax   time.Duration
	SlotDebounce time.Duration
	Logger       *slog.Logger
	Observer     Observer
	OnChange     func(State)
}

type Arbitrator struct {
	rt           eventloop.Runtime
	local        autosave.LocalStore
	slots        SlotStore
	maxRetries   int
	backoffStep  time.Duration
	backoffMax   time.Duration
	slotDebounce time.Duration
	logger       *slog.Logger
	observer     Observer
	onChange     func(State)

	// generation supersedes every outstanding query and timer.
	generation uint64
	retryTimer eventloop.Timer
	slotTimer  eventloop.Timer

	state State
}

func New(cfg Config) (*Arbitrator, error) {
	if cfg.Runtime == nil {
		return nil, fmt.Errorf("recovery arbitrator requires a runtime")
	}
	if cfg.Local == nil || cfg.Slots == nil {
		return nil, fmt.Errorf("recovery arbitrator requires local and slot stores")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Arbitrator{
		rt:           cfg.Runtime,
		local:        cfg.Local,
		slots:        cfg.Slots,
		maxRetries:   positiveInt(cfg.MaxRetries, DefaultMaxRetries),
		backoffStep:  positiveDuration(cfg.BackoffStep, DefaultBackoffStep),
		backoffMax:   positiveDuration(cfg.BackoffMax, DefaultBackoffMax),
		slotDebounce: positiveDuration(cfg.SlotDebounce, DefaultSlotDebounce),
		logger:       logger.With(slog.String("component", "recovery")),
		observer:     cfg.Observer,
		onChange:     cfg.OnChange,
		state:        State{Phase: PhaseIdle, Slot: NormalizeSlot(cfg.Slot)},
	}, nil
}

func (a *Arbitrator) State() State {
	return a.state
}

func (a *Arbitrator) Candidate() (Candidate, bool) {
	if a.state.Candidate == nil {
		return Candidate{}, false
	}
	return *a.state.Candidate, true
}

// Backoff is the wait before automatic retry number attempt (1-based).
func (a *Arbitrator) Backoff(attempt int) time.Duration {
	delay := a.backoffStep * time.Duration(attempt)
	if delay > a.backoffMax {
		return a.backoffMax
	}
	return delay
}

// Start runs a fresh arbitration: local store first, then the backend slot.
func (a *Arbitrator) Start() {
	generation := a.supersede()
	a.setState(State{Phase: PhaseCheckingLocal, Slot: a.state.Slot})

	eventloop.Call(a.rt,
		func(ctx context.Context) (autosave.Record, error) {
			return a.local.Read(ctx)
		},
		func(record autosave.Record, err error) {
			if generation != a.generation {
				return
			}
			a.localDone(record, err)
		},
	)
}

func (a *Arbitrator) localDone(record autosave.Record, err error) {
	next := a.state
	next.CheckedAt = a.rt.Now()
	switch {
	case err == nil && record.Project != nil:
		a.observe("local", "found")
		candidate := localCandidate(record)
		a.logger.Info("local autosave found", slog.String("path", record.Path))
		next.Phase = PhaseFoundLocal
		next.Candidate = candidate
		next.PromptOpen = true
		a.setState(next)
		return
	case err == nil, errors.Is(err, autosave.ErrNotFound):
		a.observe("local", "absent")
		next.LocalErr = ""
	default:
		a.observe("local", "error")
		a.logger.Warn("local autosave unreadable", slog.String("error", err.Error()))
		next.LocalErr = err.Error()
	}
	a.state = next
	a.queryBackend()
}

func (a *Arbitrator) queryBackend() {
	generation := a.supersede()
	slot := a.state.Slot
	next := a.state
	next.Phase = PhaseCheckingBackend
	next.NextRetryIn = 0
	a.setState(next)

	eventloop.Call(a.rt,
		func(ctx context.Context) (SlotDocument, error) {
			return a.slots.Load(ctx, slot)
		},
		func(doc SlotDocument, err error) {
			if generation != a.generation || slot != a.state.Slot {
				a.logger.Debug("stale slot query ignored", slog.String("slot", slot))
				return
			}
			a.backendDone(slot, doc, err)
		},
	)
}

func (a *Arbitrator) backendDone(slot string, doc SlotDocument, err error) {
	next := a.state
	next.CheckedAt = a.rt.Now()
	next.NextRetryIn = 0

	if err == nil && doc.Project != nil {
		a.observe("backend", "found")
		candidate := backendCandidate(slot, doc)
		a.logger.Info("backend slot document found", slog.String("slot", candidate.Slot))
		next.Phase = PhaseFoundBackend
		next.Candidate = candidate
		next.PromptOpen = true
		next.Attempts = 0
		next.Err = ""
		a.setState(next)
		return
	}
	if err == nil || coreerrors.CategoryOf(err) == coreerrors.CategoryNotFound {
		a.observe("backend", "absent")
		next.Phase = PhaseNoCandidate
		next.Candidate = nil
		next.PromptOpen = false
		next.Attempts = 0
		next.Err = ""
		a.setState(next)
		return
	}

	if coreerrors.HandlingOf(err) != coreerrors.HandlingAutoRetry && coreerrors.IsClassified(err) {
		a.observe("backend", "error")
		a.logger.Warn("backend slot query failed", slog.String("slot", slot), slog.String("error", err.Error()))
		next.Phase = PhaseError
		next.Err = err.Error()
		a.setState(next)
		return
	}

	if next.Attempts >= a.maxRetries {
		a.observe("backend", "error")
		a.logger.Warn("backend slot query gave up", slog.String("slot", slot), slog.Int("attempt", next.Attempts), slog.String("error", err.Error()))
		next.Phase = PhaseError
		next.Err = err.Error()
		a.setState(next)
		return
	}

	next.Attempts++
	delay := a.Backoff(next.Attempts)
	a.observe("backend", "retry")
	a.logger.Info("backend slot query scheduled for retry",
		slog.String("slot", slot),
		slog.Int("attempt", next.Attempts),
		slog.Duration("delay", delay),
		slog.String("error", err.Error()),
	)
	next.Phase = PhaseCheckingBackend
	next.Err = err.Error()
	next.NextRetryIn = delay
	a.setState(next)

	generation := a.generation
	a.retryTimer = a.rt.AfterFunc(delay, func() {
		a.retryTimer = nil
		if generation != a.generation {
			return
		}
		a.queryBackend()
	})
}

// Retry re-queries the backend after automatic retries gave up.
func (a *Arbitrator) Retry() {
	switch a.state.Phase {
	case PhaseError, PhaseNoCandidate:
	default:
		return
	}
	next := a.state
	next.Attempts = 0
	next.Err = ""
	a.state = next
	a.queryBackend()
}

// SetSlot re-targets the backend query. While the backend is being consulted,
// or was consulted, the stale query is superseded and the new slot is queried
// after a short debounce.
func (a *Arbitrator) SetSlot(slot string) {
	slot = NormalizeSlot(slot)
	if slot == a.state.Slot {
		return
	}
	next := a.state
	next.Slot = slot
	switch a.state.Phase {
	case PhaseCheckingBackend, PhaseFoundBackend, PhaseNoCandidate, PhaseError:
	default:
		a.setState(next)
		return
	}

	generation := a.supersede()
	next.Phase = PhaseCheckingBackend
	next.Attempts = 0
	next.Err = ""
	next.NextRetryIn = 0
	if next.Candidate != nil && next.Candidate.Kind == KindBackend {
		next.Candidate = nil
		next.PromptOpen = false
	}
	a.setState(next)
	a.logger.Info("recovery slot changed", slog.String("slot", slot))

	a.slotTimer = a.rt.AfterFunc(a.slotDebounce, func() {
		a.slotTimer = nil
		if generation != a.generation {
			return
		}
		a.queryBackend()
	})
}

// Restore hands the candidate to the caller and clears its origin.
func (a *Arbitrator) Restore() (Candidate, error) {
	candidate := a.state.Candidate
	if candidate == nil {
		return Candidate{}, ErrNoCandidate
	}
	a.supersede()
	a.clearOrigin(*candidate)
	next := a.state
	next.Phase = PhaseSatisfied
	next.Candidate = nil
	next.PromptOpen = false
	next.Err = ""
	a.setState(next)

	restored := *candidate
	restored.Project = candidate.Project.Clone()
	return restored, nil
}

// Discard drops the candidate and clears its origin. A discarded local copy
// falls through to the backend slot.
func (a *Arbitrator) Discard() {
	candidate := a.state.Candidate
	if candidate == nil {
		return
	}
	a.clearOrigin(*candidate)
	next := a.state
	next.Candidate = nil
	next.PromptOpen = false
	a.state = next

	if candidate.Kind == KindLocal {
		a.queryBackend()
		return
	}
	a.supersede()
	next.Phase = PhaseNoCandidate
	a.setState(next)
}

// Defer hides the prompt but keeps the candidate.
func (a *Arbitrator) Defer() {
	if !a.state.PromptOpen {
		return
	}
	next := a.state
	next.PromptOpen = false
	a.setState(next)
}

func (a *Arbitrator) ShowPrompt() {
	if a.state.Candidate == nil || a.state.PromptOpen {
		return
	}
	next := a.state
	next.PromptOpen = true
	a.setState(next)
}

// Satisfy ends arbitration after the project was saved somewhere durable.
func (a *Arbitrator) Satisfy() {
	a.supersede()
	next := a.state
	next.Phase = PhaseSatisfied
	next.Candidate = nil
	next.PromptOpen = false
	next.Attempts = 0
	next.Err = ""
	next.NextRetryIn = 0
	a.setState(next)
}

// Close stops timers and ignores outstanding queries.
func (a *Arbitrator) Close() {
	a.supersede()
}

func (a *Arbitrator) clearOrigin(candidate Candidate) {
	switch candidate.Kind {
	case KindLocal:
		eventloop.Call(a.rt,
			func(ctx context.Context) (struct{}, error) {
				return struct{}{}, a.local.Clear(ctx)
			},
			func(_ struct{}, err error) {
				if err != nil {
					a.logger.Warn("clear local autosave failed", slog.String("error", err.Error()))
				}
			},
		)
	case KindBackend:
		clearer, ok := a.slots.(SlotClearer)
		if !ok {
			return
		}
		slot := candidate.Slot
		eventloop.Call(a.rt,
			func(ctx context.Context) (struct{}, error) {
				return struct{}{}, clearer.ClearSlot(ctx, slot)
			},
			func(_ struct{}, err error) {
				if err != nil {
					a.logger.Warn("clear backend slot failed", slog.String("slot", slot), slog.String("error", err.Error()))
				}
			},
		)
	}
}

func (a *Arbitrator) supersede() uint64 {
	a.generation++
	if a.retryTimer != nil {
		a.retryTimer.Stop()
		a.retryTimer = nil
	}
	if a.slotTimer != nil {
		a.slotTimer.Stop()
		a.slotTimer = nil
	}
	return a.generation
}

func (a *Arbitrator) observe(source, outcome string) {
	if a.observer != nil {
		a.observer.ObserveRecovery(source, outcome)
	}
}

func (a *Arbitrator) setState(next State) {
	a.state = next
	if a.onChange != nil {
		a.onChange(next)
	}
}

func positiveInt(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}

func positiveDuration(value, fallback time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return fallback
}
