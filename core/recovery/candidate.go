package recovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hajimeno-ipoo/NodeVision-Editor/core/autosave"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/project"
)

const DefaultSlot = "electron-preview"

// NormalizeSlot trims slot and falls back to DefaultSlot.
func NormalizeSlot(slot string) string {
	if trimmed := strings.TrimSpace(slot); trimmed != "" {
		return trimmed
	}
	return DefaultSlot
}

type Kind string

const (
	KindLocal   Kind = "local"
	KindBackend Kind = "backend"
)

// Candidate is a document the user may restore.
type Candidate struct {
	Kind       Kind
	Project    *project.Project
	Path       string
	Slot       string
	SavedAt    time.Time
	Reason     string
	SourcePath string
	Summary    project.Summary
}

// Describe renders the prompt line, e.g.
// "local autosave from 3 minutes ago (autosave), 2 nodes / 1 edges".
func (c Candidate) Describe(now time.Time) string {
	var origin string
	switch c.Kind {
	case KindBackend:
		origin = fmt.Sprintf("backend slot %q", c.Slot)
	default:
		origin = "local autosave"
	}
	when := "at an unknown time"
	if !c.SavedAt.IsZero() {
		when = "from " + humanize.RelTime(c.SavedAt, now, "ago", "from now")
	}
	line := origin + " " + when
	if c.Reason != "" {
		line += " (" + autosave.ReasonLabel(c.Reason) + ")"
	}
	return fmt.Sprintf("%s, %d nodes / %d edges", line, c.Summary.Nodes, c.Summary.Edges)
}

func localCandidate(record autosave.Record) *Candidate {
	return &Candidate{
		Kind:       KindLocal,
		Project:    record.Project,
		Path:       record.Path,
		Slot:       record.Autosave.Slot,
		SavedAt:    record.Autosave.SavedAt,
		Reason:     record.Autosave.Reason,
		SourcePath: record.Autosave.SourcePath,
		Summary:    record.Summary,
	}
}

func backendCandidate(requested string, doc SlotDocument) *Candidate {
	slot := strings.TrimSpace(doc.Slot)
	if slot == "" {
		slot = requested
	}
	summary := doc.Summary
	if summary == (project.Summary{}) {
		summary = doc.Project.Summary()
	}
	candidate := &Candidate{
		Kind:    KindBackend,
		Project: doc.Project,
		Path:    doc.Path,
		Slot:    slot,
		Summary: summary,
	}
	if record, ok := doc.Project.Autosave(); ok {
		candidate.SavedAt = record.SavedAt
		candidate.Reason = record.Reason
		candidate.SourcePath = record.SourcePath
	}
	return candidate
}

// SlotDocument is a project stored in a backend slot.
type SlotDocument struct {
	Slot    string
	Path    string
	Project *project.Project
	Summary project.Summary
}

// SlotStore loads slot documents. A missing slot must be reported as a
// not_found classified error.
type SlotStore interface {
	Load(ctx context.Context, slot string) (SlotDocument, error)
}

// SlotClearer is implemented by stores that can delete a slot.
type SlotClearer interface {
	ClearSlot(ctx context.Context, slot string) error
}
