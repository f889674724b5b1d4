package autosave

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hajimeno-ipoo/NodeVision-Editor/core/eventloop"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/project"
	"github.com/hajimeno-ipoo/NodeVision-Editor/internal/testutil"
)

type memoryStore struct {
	writes []*project.Project
	fail   error
}

func (s *memoryStore) Read(context.Context) (Record, error) {
	if len(s.writes) == 0 {
		return Record{}, ErrNotFound
	}
	last := s.writes[len(s.writes)-1]
	record, _ := last.Autosave()
	return Record{Project: last, Path: "mem://autosave", Autosave: record}, nil
}

func (s *memoryStore) Write(_ context.Context, p *project.Project) (string, error) {
	if s.fail != nil {
		return "", s.fail
	}
	s.writes = append(s.writes, p)
	return "mem://autosave", nil
}

func (s *memoryStore) Clear(context.Context) error {
	s.writes = nil
	return nil
}

type harness struct {
	rt      *eventloop.Manual
	store   *memoryStore
	current *project.Project
	coord   *Coordinator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	p, err := project.Parse([]byte(testutil.SampleProjectJSON))
	if err != nil {
		t.Fatalf("parse sample: %v", err)
	}
	h := &harness{
		rt:      eventloop.NewManual(time.Date(2025, 10, 26, 12, 0, 0, 0, time.UTC)),
		store:   &memoryStore{},
		current: p,
	}
	coord, err := New(Config{
		Runtime:    h.rt,
		Store:      h.store,
		AppVersion: "0.1.0",
		SessionID:  "session-1",
		Source: func() Snapshot {
			return Snapshot{Project: h.current, SourcePath: "projects/sample.nveproj", Slot: "electron-preview"}
		},
	})
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	h.coord = coord
	return h
}

func (h *harness) edit(exposure float64) {
	next := h.current.Clone()
	next.Nodes[1].Params["exposure"] = exposure
	h.current = next
	h.coord.MarkDirty()
}

func TestDebouncedAutosave(t *testing.T) {
	h := newHarness(t)
	h.edit(1)
	h.rt.Advance(3 * time.Second)
	h.edit(2)
	h.rt.Advance(4 * time.Second)
	if h.rt.Pending() != 0 {
		t.Fatalf("timer must restart on every edit")
	}
	h.rt.Advance(time.Second)
	if h.rt.Pending() != 1 {
		t.Fatalf("expected one autosave after the debounce, pending=%d", h.rt.Pending())
	}
	if h.coord.State().Status != StatusSaving {
		t.Fatalf("expected saving status, got %s", h.coord.State().Status)
	}
	h.rt.CompleteAll()

	state := h.coord.State()
	if state.Dirty || state.Status != StatusSaved || state.LastPath != "mem://autosave" {
		t.Fatalf("unexpected state: %+v", state)
	}
	if !state.LastSavedAt.Equal(time.Date(2025, 10, 26, 12, 0, 8, 0, time.UTC)) {
		t.Fatalf("unexpected saved-at %s", state.LastSavedAt)
	}
	written := h.store.writes[0]
	record, ok := written.Autosave()
	if !ok || record.Reason != ReasonAutoTimer || record.SourcePath != "projects/sample.nveproj" || record.Slot != "electron-preview" || record.SessionID != "session-1" || record.AppVersion != "0.1.0" {
		t.Fatalf("unexpected autosave record: %+v", record)
	}
	if written.Nodes[1].Params["exposure"] != 2.0 {
		t.Fatalf("expected the latest document to be written")
	}
	if _, stamped := h.current.Autosave(); stamped {
		t.Fatalf("stamping must not touch the live document")
	}
}

func TestFailureKeepsDirtyWithoutRetry(t *testing.T) {
	h := newHarness(t)
	h.store.fail = errors.New("disk full")
	h.edit(1)
	h.rt.Advance(DefaultDelay)
	h.rt.CompleteAll()

	state := h.coord.State()
	if !state.Dirty || state.Status != StatusError || state.Err != "disk full" {
		t.Fatalf("unexpected state: %+v", state)
	}
	h.rt.Advance(time.Hour)
	if h.rt.Pending() != 0 {
		t.Fatalf("failed autosave must not retry on its own")
	}

	h.store.fail = nil
	h.coord.RetryNow()
	h.rt.CompleteAll()
	if h.coord.Dirty() || h.coord.State().Status != StatusSaved {
		t.Fatalf("manual retry did not clear dirty: %+v", h.coord.State())
	}
	record, _ := h.store.writes[0].Autosave()
	if record.Reason != ReasonManualRetry {
		t.Fatalf("unexpected reason %q", record.Reason)
	}
}

func TestEditDuringSaveKeepsDirty(t *testing.T) {
	h := newHarness(t)
	h.edit(1)
	h.rt.Advance(DefaultDelay)
	h.edit(2)
	h.rt.Complete(0)
	if !h.coord.Dirty() {
		t.Fatalf("an edit made during the save must keep the session dirty")
	}
	h.rt.Advance(DefaultDelay)
	h.rt.CompleteAll()
	if h.coord.Dirty() || len(h.store.writes) != 2 {
		t.Fatalf("expected the follow-up autosave to clear dirty, writes=%d", len(h.store.writes))
	}
}

func TestSecondPersistIsQueuedOnce(t *testing.T) {
	h := newHarness(t)
	h.edit(1)
	h.coord.RetryNow()
	h.coord.RetryNow()
	h.coord.RetryNow()
	if h.rt.Pending() != 1 {
		t.Fatalf("expected one write in flight, pending=%d", h.rt.Pending())
	}
	h.rt.Complete(0)
	if h.rt.Pending() != 1 {
		t.Fatalf("expected exactly one queued write, pending=%d", h.rt.Pending())
	}
	h.rt.CompleteAll()
	if len(h.store.writes) != 2 {
		t.Fatalf("unexpected write count %d", len(h.store.writes))
	}
}

func TestMarkCleanIgnoresInFlightResult(t *testing.T) {
	h := newHarness(t)
	h.edit(1)
	h.rt.Advance(DefaultDelay)
	h.coord.MarkClean()
	h.rt.CompleteAll()

	state := h.coord.State()
	if state.Dirty || state.Status != StatusIdle || state.LastPath != "" {
		t.Fatalf("stale autosave result reached state: %+v", state)
	}

	h.edit(2)
	h.coord.MarkClean()
	h.rt.Advance(time.Minute)
	if h.rt.Pending() != 0 {
		t.Fatalf("MarkClean must cancel the pending timer")
	}
}

func TestResetForgetsLastSave(t *testing.T) {
	h := newHarness(t)
	h.edit(1)
	h.coord.RetryNow()
	h.rt.CompleteAll()
	if h.coord.State().LastPath == "" {
		t.Fatalf("expected a recorded save")
	}
	h.coord.Reset()
	if state := h.coord.State(); state.LastPath != "" || !state.LastSavedAt.IsZero() || state.Dirty {
		t.Fatalf("unexpected state after reset: %+v", state)
	}
}

func TestTimerSkipsCleanSession(t *testing.T) {
	h := newHarness(t)
	h.coord.MarkDirty()
	h.coord.state.Dirty = false
	h.rt.Advance(DefaultDelay)
	if h.rt.Pending() != 0 {
		t.Fatalf("timer must not save a clean session")
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	rt := eventloop.NewManual(time.Time{})
	source := func() Snapshot { return Snapshot{} }
	cases := []Config{
		{Store: &memoryStore{}, Source: source},
		{Runtime: rt, Source: source},
		{Runtime: rt, Store: &memoryStore{}},
	}
	for i, cfg := range cases {
		if _, err := New(cfg); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestReasonLabel(t *testing.T) {
	if ReasonLabel(ReasonManualRetry) != "manual retry" || ReasonLabel("custom") != "custom" {
		t.Fatalf("unexpected labels")
	}
}
