package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hajimeno-ipoo/NodeVision-Editor/core/autosave"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/backend"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/preview"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/project"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/recovery"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/validation"
)

type ValidationStatus string

const (
	ValidationIdle    ValidationStatus = "idle"
	ValidationValid   ValidationStatus = "valid"
	ValidationInvalid ValidationStatus = "invalid"
	ValidationError   ValidationStatus = "error"
)

type ValidationView struct {
	Status    ValidationStatus
	Issues    []validation.Issue
	CheckedAt time.Time
	Err       string
}

type SaveStatus string

const (
	SaveIdle   SaveStatus = "idle"
	SaveSaving SaveStatus = "saving"
	SaveSaved  SaveStatus = "saved"
	SaveError  SaveStatus = "error"
)

type SaveView struct {
	Status SaveStatus
	Path   string
	Slot   string
	Err    string
}

type BackendView struct {
	// Status is "pending", "ok" or "error".
	Status  string
	Health  backend.Health
	Err     string
	Catalog []project.CatalogItem
	// CatalogErr is kept apart so a failed catalog fetch does not mark a
	// healthy backend as down.
	CatalogErr string
}

type NoticeKind string

const (
	NoticeSuccess NoticeKind = "success"
	NoticeError   NoticeKind = "error"
	NoticeInfo    NoticeKind = "info"
)

type Notice struct {
	Kind    NoticeKind
	Message string
	At      time.Time
}

// View is a read-only snapshot of everything the editor shows.
type View struct {
	SessionID  string
	Project    *project.Project
	Summary    project.Summary
	SourcePath string
	FilePath   string
	Slot       string
	CanUndo    bool
	CanRedo    bool
	Err        string

	Preview        preview.State
	Autosave       autosave.State
	Recovery       recovery.State
	RecoveryPrompt string
	Validation     ValidationView
	Backend        BackendView
	FileSave       SaveView
	BackendSave    SaveView
	Notice         *Notice
}

// IssueReport is the exported validation issue document.
type IssueReport struct {
	GeneratedAt string             `json:"generatedAt"`
	Slot        string             `json:"slot"`
	Issues      []validation.Issue `json:"issues"`
}

// EncodeIssueReport renders report as indented JSON with a trailing newline.
func EncodeIssueReport(report IssueReport) ([]byte, error) {
	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode issue report: %w", err)
	}
	return append(encoded, '\n'), nil
}
