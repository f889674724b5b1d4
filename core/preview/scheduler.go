// Package preview schedules preview renders for the live project: identical
// documents are not re-rendered, bursts of edits collapse to the newest one,
// at most one render is outstanding and late responses are dropped.
package preview

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hajimeno-ipoo/NodeVision-Editor/core/eventloop"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/fingerprint"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/project"
)

type Config struct {
	Runtime  eventloop.Runtime
	Renderer Renderer
	// Debounce delays the first dispatch after an edit. Zero dispatches at once.
	Debounce  time.Duration
	ProxyMode ProxyMode
	Logger    *slog.Logger
	Observer  Observer
	// OnChange is called on the loop after every visible state change.
	OnChange func(State)
}

type Scheduler struct {
	rt       eventloop.Runtime
	renderer Renderer
	debounce time.Duration
	mode     ProxyMode
	logger   *slog.Logger
	observer Observer
	onChange func(State)

	currentID  uint64
	inFlightID uint64

	latest       *project.Project
	pending      *project.Project
	pendingPrint string
	forced       bool
	lastPrint    string
	timer        eventloop.Timer

	state State
}

func New(cfg Config) (*Scheduler, error) {
	if cfg.Runtime == nil {
		return nil, fmt.Errorf("preview scheduler requires a runtime")
	}
	if cfg.Renderer == nil {
		return nil, fmt.Errorf("preview scheduler requires a renderer")
	}
	mode := cfg.ProxyMode
	if mode == "" {
		mode = ProxyAuto
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		rt:       cfg.Runtime,
		renderer: cfg.Renderer,
		debounce: cfg.Debounce,
		mode:     mode,
		logger:   logger.With(slog.String("component", "preview")),
		observer: cfg.Observer,
		onChange: cfg.OnChange,
		state:    State{Status: StatusIdle},
	}, nil
}

func (s *Scheduler) State() State {
	return s.state
}

func (s *Scheduler) ProxyMode() ProxyMode {
	return s.mode
}

// InFlight reports whether a render is outstanding.
func (s *Scheduler) InFlight() bool {
	return s.inFlightID != 0
}

// Schedule requests a render of p. A nil project clears the preview.
func (s *Scheduler) Schedule(p *project.Project) {
	if p == nil {
		s.clear()
		return
	}
	fp := fingerprint.Fingerprint(p)
	s.latest = p.Clone()
	if fp == s.lastPrint {
		if !s.forced {
			s.pending = nil
			s.pendingPrint = ""
		}
		return
	}
	s.pending = s.latest
	s.pendingPrint = fp
	s.forced = false
	s.kick()
}

// Refresh renders the latest project again even though it is unchanged. While
// a render is outstanding the refresh waits for it.
func (s *Scheduler) Refresh() {
	if s.latest == nil {
		return
	}
	s.pending = s.latest
	s.pendingPrint = fingerprint.Fingerprint(s.latest)
	s.forced = true
	s.stopTimer()
	if s.inFlightID == 0 {
		s.dispatch()
	}
}

// Reset is used when the project is replaced wholesale. Any outstanding
// response is abandoned before p is scheduled.
func (s *Scheduler) Reset(p *project.Project) {
	s.abandon()
	s.Schedule(p)
}

// SetProxyMode switches the forwarded proxy preference and re-renders.
func (s *Scheduler) SetProxyMode(mode ProxyMode) {
	if mode == "" {
		mode = ProxyAuto
	}
	if mode == s.mode {
		return
	}
	s.mode = mode
	s.logger.Info("preview proxy mode changed", slog.String("mode", string(mode)))
	s.Refresh()
}

// Close stops the debounce timer; outstanding responses are ignored.
func (s *Scheduler) Close() {
	s.abandon()
}

func (s *Scheduler) clear() {
	s.abandon()
	s.latest = nil
	s.setState(State{Status: StatusIdle, UpdatedAt: s.rt.Now()})
}

func (s *Scheduler) abandon() {
	s.stopTimer()
	s.currentID++
	s.inFlightID = 0
	s.pending = nil
	s.pendingPrint = ""
	s.forced = false
	s.lastPrint = ""
}

func (s *Scheduler) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) kick() {
	if s.inFlightID != 0 || s.pending == nil {
		return
	}
	if s.debounce <= 0 {
		s.dispatch()
		return
	}
	s.stopTimer()
	s.timer = s.rt.AfterFunc(s.debounce, func() {
		s.timer = nil
		if s.inFlightID == 0 {
			s.dispatch()
		}
	})
}

func (s *Scheduler) dispatch() {
	if s.pending == nil {
		return
	}
	snapshot := s.pending
	fp := s.pendingPrint
	s.pending = nil
	s.pendingPrint = ""
	s.forced = false

	s.currentID++
	id := s.currentID
	s.inFlightID = id
	s.lastPrint = fp

	opts := Options{ForceProxy: s.mode.ForceProxy()}
	started := s.rt.Now()
	s.setState(State{
		Status:    StatusLoading,
		Result:    s.state.Result,
		Profile:   s.state.Profile,
		RequestID: id,
		UpdatedAt: started,
	})
	s.logger.Debug("preview dispatched",
		slog.Uint64("request_id", id),
		slog.String("proxy_mode", string(s.mode)),
	)

	eventloop.Call(s.rt,
		func(ctx context.Context) (Result, error) {
			return s.renderer.GeneratePreview(ctx, snapshot, opts)
		},
		func(result Result, err error) {
			s.complete(id, started, result, err)
		},
	)
}

func (s *Scheduler) complete(id uint64, started time.Time, result Result, err error) {
	if s.inFlightID == id {
		s.inFlightID = 0
	}
	now := s.rt.Now()
	latency := now.Sub(started)

	switch {
	case id != s.currentID:
		s.logger.Debug("preview response discarded", slog.Uint64("request_id", id), slog.Uint64("current_id", s.currentID))
		s.observe(OutcomeStale, "", latency)
	case err != nil:
		s.logger.Warn("preview failed", slog.Uint64("request_id", id), slog.String("error", err.Error()))
		s.observe(OutcomeError, "", latency)
		s.setState(State{
			Status:    StatusError,
			Result:    s.state.Result,
			Profile:   s.state.Profile,
			Err:       err.Error(),
			RequestID: id,
			Latency:   latency,
			UpdatedAt: now,
		})
	default:
		profile := result.Profile()
		s.logger.Info("preview ready",
			slog.Uint64("request_id", id),
			slog.String("profile", profile),
			slog.Duration("latency", latency),
		)
		s.observe(OutcomeReady, profile, latency)
		if observer, ok := s.observer.(ResultObserver); ok {
			observer.ObservePreviewResult(result, latency)
		}
		applied := result
		s.setState(State{
			Status:    StatusReady,
			Result:    &applied,
			Profile:   profile,
			RequestID: id,
			Latency:   latency,
			UpdatedAt: now,
		})
	}

	if s.pending != nil && s.inFlightID == 0 && s.timer == nil {
		s.dispatch()
	}
}

func (s *Scheduler) observe(outcome, profile string, latency time.Duration) {
	if s.observer != nil {
		s.observer.ObservePreview(outcome, profile, latency)
	}
}

func (s *Scheduler) setState(next State) {
	s.state = next
	if s.onChange != nil {
		s.onChange(next)
	}
}
