// Package autosave keeps a crash-recovery copy of the live project on disk.
// Edits mark the session dirty and restart a debounce timer; when it fires the
// current document is stamped with autosave metadata and written locally.
package autosave

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hajimeno-ipoo/NodeVision-Editor/core/eventloop"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/project"
)

const DefaultDelay = 5 * time.Second

// Reason codes stamped into metadata.autosave.reason.
const (
	ReasonAutoTimer   = "auto-timer"
	ReasonManualRetry = "manual-retry"
	ReasonRestore     = "restore"
	ReasonImported    = "imported"
	ReasonAutosave    = "autosave"
)

var reasonLabels = map[string]string{
	ReasonAutosave:    "autosave",
	ReasonAutoTimer:   "autosave",
	ReasonManualRetry: "manual retry",
	ReasonRestore:     "recovery",
	ReasonImported:    "external import",
}

// ReasonLabel is the human label for a reason code; unknown codes pass through.
func ReasonLabel(reason string) string {
	if label, ok := reasonLabels[reason]; ok {
		return label
	}
	return reason
}

type Status string

const (
	StatusIdle   Status = "idle"
	StatusSaving Status = "saving"
	StatusSaved  Status = "saved"
	StatusError  Status = "error"
)

type State struct {
	Dirty       bool
	Status      Status
	Err         string
	LastPath    string
	LastSavedAt time.Time
	LastReason  string
}

// Snapshot is the live document and its provenance at save time.
type Snapshot struct {
	Project    *project.Project
	SourcePath string
	Slot       string
}

// Observer receives one call per finished write.
type Observer interface {
	ObserveAutosave(outcome string, latency time.Duration)
}

type Config struct {
	Runtime eventloop.Runtime
	Store   LocalStore
	// Source returns the document to persist; a nil Project skips the save.
	Source     func() Snapshot
	Delay      time.Duration
	AppVersion string
	SessionID  string
	Logger     *slog.Logger
	Observer   Observer
	OnChange   func(State)
}

type Coordinator struct {
	rt         eventloop.Runtime
	store      LocalStore
	source     func() Snapshot
	delay      time.Duration
	appVersion string
	sessionID  string
	logger     *slog.Logger
	observer   Observer
	onChange   func(State)

	timer      eventloop.Timer
	editSeq    uint64
	generation uint64
	saving     bool
	queued     string

	state State
}

func New(cfg Config) (*Coordinator, error) {
	if cfg.Runtime == nil {
		return nil, fmt.Errorf("autosave coordinator requires a runtime")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("autosave coordinator requires a store")
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("autosave coordinator requires a source")
	}
	delay := cfg.Delay
	if delay <= 0 {
		delay = DefaultDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		rt:         cfg.Runtime,
		store:      cfg.Store,
		source:     cfg.Source,
		delay:      delay,
		appVersion: cfg.AppVersion,
		sessionID:  cfg.SessionID,
		logger:     logger.With(slog.String("component", "autosave")),
		observer:   cfg.Observer,
		onChange:   cfg.OnChange,
		state:      State{Status: StatusIdle},
	}, nil
}

func (c *Coordinator) State() State {
	return c.state
}

func (c *Coordinator) Dirty() bool {
	return c.state.Dirty
}

// MarkDirty records a history-worthy change and restarts the debounce timer.
func (c *Coordinator) MarkDirty() {
	c.editSeq++
	c.stopTimer()
	c.timer = c.rt.AfterFunc(c.delay, c.fire)
	if !c.state.Dirty {
		next := c.state
		next.Dirty = true
		c.setState(next)
	}
}

// RetryNow persists immediately, whether or not the session is dirty.
func (c *Coordinator) RetryNow() {
	c.stopTimer()
	c.persist(ReasonManualRetry)
}

// SaveNow persists immediately with the given reason.
func (c *Coordinator) SaveNow(reason string) {
	if reason == "" {
		reason = ReasonAutosave
	}
	c.stopTimer()
	c.persist(reason)
}

// MarkClean is called after the project was saved elsewhere. Any autosave
// still in flight is ignored when it completes.
func (c *Coordinator) MarkClean() {
	c.stopTimer()
	c.generation++
	c.queued = ""
	next := c.state
	next.Dirty = false
	next.Status = StatusIdle
	next.Err = ""
	c.setState(next)
}

// Reset is MarkClean for a replaced project; the last save is forgotten too.
func (c *Coordinator) Reset() {
	c.stopTimer()
	c.generation++
	c.queued = ""
	c.setState(State{Status: StatusIdle})
}

// Close stops the timer. Later completions are ignored.
func (c *Coordinator) Close() {
	c.stopTimer()
	c.generation++
	c.queued = ""
}

func (c *Coordinator) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Coordinator) fire() {
	c.timer = nil
	if !c.state.Dirty {
		return
	}
	c.persist(ReasonAutoTimer)
}

func (c *Coordinator) persist(reason string) {
	if c.saving {
		c.queued = reason
		return
	}
	snapshot := c.source()
	if snapshot.Project == nil {
		return
	}
	savedAt := c.rt.Now()
	stamped := snapshot.Project.WithAutosave(project.AutosaveRecord{
		SavedAt:    savedAt,
		Reason:     reason,
		AppVersion: c.appVersion,
		SourcePath: snapshot.SourcePath,
		Slot:       snapshot.Slot,
		SessionID:  c.sessionID,
	})
	seq := c.editSeq
	generation := c.generation
	c.saving = true

	next := c.state
	next.Status = StatusSaving
	next.Err = ""
	c.setState(next)

	eventloop.Call(c.rt,
		func(ctx context.Context) (string, error) {
			return c.store.Write(ctx, stamped)
		},
		func(path string, err error) {
			c.finish(generation, seq, reason, savedAt, path, err)
		},
	)
}

func (c *Coordinator) finish(generation, seq uint64, reason string, savedAt time.Time, path string, err error) {
	c.saving = false
	latency := c.rt.Now().Sub(savedAt)

	if generation == c.generation {
		if err != nil {
			c.logger.Warn("autosave failed", slog.String("reason", reason), slog.String("error", err.Error()))
			c.observe("error", latency)
			next := c.state
			next.Status = StatusError
			next.Err = err.Error()
			c.setState(next)
		} else {
			c.logger.Info("autosave written", slog.String("reason", reason), slog.String("path", path))
			c.observe("saved", latency)
			next := c.state
			next.Status = StatusSaved
			next.Err = ""
			next.LastPath = path
			next.LastSavedAt = savedAt
			next.LastReason = reason
			if seq == c.editSeq {
				next.Dirty = false
			}
			c.setState(next)
		}
	} else {
		c.logger.Debug("autosave result ignored", slog.String("reason", reason))
	}

	if queued := c.queued; queued != "" {
		c.queued = ""
		if c.state.Dirty || queued != ReasonAutoTimer {
			c.persist(queued)
		}
	}
}

func (c *Coordinator) observe(outcome string, latency time.Duration) {
	if c.observer != nil {
		c.observer.ObserveAutosave(outcome, latency)
	}
}

func (c *Coordinator) setState(next State) {
	c.state = next
	if c.onChange != nil {
		c.onChange(next)
	}
}
