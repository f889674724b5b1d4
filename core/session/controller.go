// Package session owns the live project document and drives the preview,
// autosave, recovery and history components from user actions.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hajimeno-ipoo/NodeVision-Editor/core/autosave"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/backend"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/config"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/eventloop"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/history"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/preview"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/project"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/projectfile"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/recovery"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/validation"
)

var (
	ErrNoProject = errors.New("no project loaded")
	ErrCanceled  = errors.New("dialog canceled")
	ErrNoIssues  = errors.New("no validation issues to export")
)

// Backend is the remote collaborator: slot storage, preview rendering,
// health and the node catalog.
type Backend interface {
	recovery.SlotStore
	preview.Renderer
	Save(ctx context.Context, p *project.Project, slot string) (backend.SaveResult, error)
	Health(ctx context.Context) (backend.Health, error)
	Catalog(ctx context.Context) ([]project.CatalogItem, error)
}

// Dialog asks the user for a path. Both calls return ErrCanceled when the
// user backs out.
type Dialog interface {
	OpenFile(ctx context.Context) (string, error)
	SaveFile(ctx context.Context, defaultPath string) (string, error)
}

// Observers receive metrics from the owned components. Any may be nil.
type Observers struct {
	Preview  preview.Observer
	Autosave autosave.Observer
	Recovery recovery.Observer
}

type Config struct {
	Runtime   eventloop.Runtime
	Backend   Backend
	Local     autosave.LocalStore
	Gate      *validation.Gate
	Dialog    Dialog
	Settings  config.Settings
	SessionID string
	Logger    *slog.Logger
	Observers Observers
	// OnChange runs on the loop after every visible change.
	OnChange func(View)
}

type Controller struct {
	rt        eventloop.Runtime
	backend   Backend
	local     autosave.LocalStore
	gate      *validation.Gate
	dialog    Dialog
	sessionID string
	logger    *slog.Logger
	onChange  func(View)

	history  *history.Stack
	preview  *preview.Scheduler
	autosave *autosave.Coordinator
	recovery *recovery.Arbitrator

	project    *project.Project
	sourcePath string
	filePath   string
	slot       string
	err        string

	// docGen changes whenever the document is replaced wholesale; loadGen
	// whenever a load is requested. Async results from an older generation
	// are dropped.
	docGen  uint64
	loadGen uint64
	editSeq uint64

	validation  ValidationView
	backendView BackendView
	fileSave    SaveView
	backendSave SaveView
	notice      *Notice

	batching bool
}

func New(cfg Config) (*Controller, error) {
	if cfg.Runtime == nil {
		return nil, fmt.Errorf("session requires a runtime")
	}
	if cfg.Backend == nil {
		return nil, fmt.Errorf("session requires a backend")
	}
	if cfg.Local == nil {
		return nil, fmt.Errorf("session requires a local autosave store")
	}
	sessionID := strings.TrimSpace(cfg.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	settings := cfg.Settings
	proxyMode, err := preview.ParseProxyMode(settings.ProxyMode)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		rt:          cfg.Runtime,
		backend:     cfg.Backend,
		local:       cfg.Local,
		gate:        cfg.Gate,
		dialog:      cfg.Dialog,
		sessionID:   sessionID,
		logger:      logger.With(slog.String("component", "session"), slog.String("session_id", sessionID)),
		onChange:    cfg.OnChange,
		history:     history.New(settings.HistoryLimit),
		slot:        recovery.NormalizeSlot(settings.Slot),
		validation:  ValidationView{Status: ValidationIdle},
		backendView: BackendView{Status: "pending"},
		fileSave:    SaveView{Status: SaveIdle},
		backendSave: SaveView{Status: SaveIdle},
	}

	c.preview, err = preview.New(preview.Config{
		Runtime:   cfg.Runtime,
		Renderer:  cfg.Backend,
		Debounce:  settings.PreviewDelay,
		ProxyMode: proxyMode,
		Logger:    logger,
		Observer:  cfg.Observers.Preview,
		OnChange:  func(preview.State) { c.notify() },
	})
	if err != nil {
		return nil, err
	}
	c.autosave, err = autosave.New(autosave.Config{
		Runtime:    cfg.Runtime,
		Store:      cfg.Local,
		Source:     c.snapshot,
		Delay:      settings.AutosaveDelay,
		AppVersion: settings.AppVersion,
		SessionID:  sessionID,
		Logger:     logger,
		Observer:   cfg.Observers.Autosave,
		OnChange:   func(autosave.State) { c.notify() },
	})
	if err != nil {
		return nil, err
	}
	c.recovery, err = recovery.New(recovery.Config{
		Runtime:      cfg.Runtime,
		Local:        cfg.Local,
		Slots:        cfg.Backend,
		Slot:         c.slot,
		MaxRetries:   settings.MaxRetries,
		BackoffStep:  settings.BackoffStep,
		BackoffMax:   settings.BackoffMax,
		SlotDebounce: settings.SlotDebounce,
		Logger:       logger,
		Observer:     cfg.Observers.Recovery,
		OnChange:     func(recovery.State) { c.notify() },
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Controller) SessionID() string {
	return c.sessionID
}

// Start runs recovery arbitration and the backend health check.
func (c *Controller) Start() {
	c.logger.Info("session started", slog.String("slot", c.slot))
	c.batch(func() {
		c.recovery.Start()
		c.CheckBackend()
	})
}

// Close stops every timer; outstanding async results are ignored.
func (c *Controller) Close() {
	c.preview.Close()
	c.autosave.Close()
	c.recovery.Close()
	c.docGen++
	c.loadGen++
}

// LoadProject replaces the document wholesale, e.g. with the bundled sample.
func (c *Controller) LoadProject(p *project.Project, sourcePath string) error {
	if p == nil {
		return ErrNoProject
	}
	c.loadGen++
	c.replace(p, sourcePath, "")
	return nil
}

// OpenFile asks for a path and loads it.
func (c *Controller) OpenFile() error {
	if c.dialog == nil {
		return fmt.Errorf("session has no file dialog")
	}
	c.loadGen++
	generation := c.loadGen
	eventloop.Call(c.rt,
		func(ctx context.Context) (string, error) {
			return c.dialog.OpenFile(ctx)
		},
		func(path string, err error) {
			if generation != c.loadGen {
				return
			}
			if errors.Is(err, ErrCanceled) {
				return
			}
			if err != nil {
				c.fail("open file", err)
				return
			}
			c.openPath(generation, path)
		},
	)
	return nil
}

// OpenPath loads a project file without a dialog.
func (c *Controller) OpenPath(path string) {
	c.loadGen++
	c.openPath(c.loadGen, path)
}

func (c *Controller) openPath(generation uint64, path string) {
	eventloop.Call(c.rt,
		func(context.Context) (*project.Project, error) {
			return projectfile.Load(path, c.gate)
		},
		func(loaded *project.Project, err error) {
			if generation != c.loadGen {
				return
			}
			if err != nil {
				c.loadFailed("open project", err)
				return
			}
			c.replace(loaded, path, path)
		},
	)
}

// LoadFromBackend loads the current slot.
func (c *Controller) LoadFromBackend() {
	c.loadGen++
	generation := c.loadGen
	slot := c.slot
	eventloop.Call(c.rt,
		func(ctx context.Context) (recovery.SlotDocument, error) {
			return c.backend.Load(ctx, slot)
		},
		func(doc recovery.SlotDocument, err error) {
			if generation != c.loadGen {
				return
			}
			if err != nil {
				c.loadFailed("load slot", err)
				return
			}
			c.replace(doc.Project, doc.Path, "")
		},
	)
}

// Apply installs an edited document from the graph editor. A history-worthy
// edit is undoable and arms autosave.
func (c *Controller) Apply(next *project.Project, historyWorthy bool) error {
	if c.project == nil {
		return ErrNoProject
	}
	if next == nil {
		return fmt.Errorf("edited project is nil")
	}
	c.batch(func() {
		if historyWorthy {
			c.history.PushPast(c.project)
		}
		c.install(next)
		if historyWorthy {
			c.autosave.MarkDirty()
		}
	})
	return nil
}

func (c *Controller) EditNode(nodeID, displayName string, params map[string]any) error {
	if c.project == nil {
		return ErrNoProject
	}
	next, err := c.project.WithNodeEdit(nodeID, displayName, params)
	if err != nil {
		return err
	}
	return c.Apply(next, true)
}

// AddNode appends a node for a catalog item and returns its id.
func (c *Controller) AddNode(item project.CatalogItem) (string, error) {
	if c.project == nil {
		return "", ErrNoProject
	}
	next, id := c.project.WithNodeAdded(item)
	if err := c.Apply(next, true); err != nil {
		return "", err
	}
	return id, nil
}

func (c *Controller) DeleteSelection(nodeIDs, edgeKeys []string) error {
	if c.project == nil {
		return ErrNoProject
	}
	if len(nodeIDs) == 0 && len(edgeKeys) == 0 {
		return nil
	}
	return c.Apply(c.project.WithoutSelection(nodeIDs, edgeKeys), true)
}

func (c *Controller) Undo() bool {
	previous, ok := c.history.Undo(c.project)
	if !ok {
		return false
	}
	c.batch(func() {
		c.install(previous)
		c.autosave.MarkDirty()
	})
	return true
}

func (c *Controller) Redo() bool {
	next, ok := c.history.Redo(c.project)
	if !ok {
		return false
	}
	c.batch(func() {
		c.install(next)
		c.autosave.MarkDirty()
	})
	return true
}

// Validate runs the gate over the live document and records the outcome.
func (c *Controller) Validate() (validation.Result, error) {
	if c.project == nil {
		return validation.Result{}, ErrNoProject
	}
	if c.gate == nil {
		return validation.Result{}, fmt.Errorf("session has no validation gate")
	}
	result := c.gate.ValidateProject(c.project)
	status := ValidationValid
	if !result.Valid {
		status = ValidationInvalid
	}
	c.validation = ValidationView{Status: status, Issues: result.Issues, CheckedAt: c.rt.Now()}
	c.logger.Info("project validated", slog.Bool("valid", result.Valid), slog.Int("issues", len(result.Issues)))
	c.notify()
	return result, nil
}

// SaveToBackend validates and stores the document in the current slot. A
// document the gate rejects is returned as an error and never sent.
func (c *Controller) SaveToBackend() error {
	if c.project == nil {
		return ErrNoProject
	}
	prepared, err := c.prepareSave()
	if err != nil {
		c.backendSave = SaveView{Status: SaveError, Slot: c.slot, Err: err.Error()}
		c.post(NoticeError, "backend save failed: "+err.Error())
		return err
	}
	slot := c.slot
	docGen, seq := c.docGen, c.editSeq
	c.backendSave = SaveView{Status: SaveSaving, Slot: slot}
	c.notify()

	eventloop.Call(c.rt,
		func(ctx context.Context) (backend.SaveResult, error) {
			return c.backend.Save(ctx, prepared, slot)
		},
		func(result backend.SaveResult, err error) {
			if docGen != c.docGen {
				return
			}
			if err != nil {
				c.logger.Warn("backend save failed", slog.String("slot", slot), slog.String("error", err.Error()))
				c.backendSave = SaveView{Status: SaveError, Slot: slot, Err: err.Error()}
				c.recordIssues(err)
				c.post(NoticeError, "backend save failed: "+err.Error())
				return
			}
			c.backendSave = SaveView{Status: SaveSaved, Path: result.Path, Slot: result.Slot}
			c.sourcePath = result.Path
			c.saved(prepared, seq)
			c.post(NoticeSuccess, fmt.Sprintf("saved to backend slot %q", result.Slot))
		},
	)
	return nil
}

// SaveToFile writes to the file the project came from, or asks for one.
func (c *Controller) SaveToFile() error {
	if c.project == nil {
		return ErrNoProject
	}
	if strings.TrimSpace(c.filePath) == "" {
		return c.SaveAs()
	}
	return c.saveFile(c.filePath)
}

// SaveAs asks for a destination and writes there.
func (c *Controller) SaveAs() error {
	if c.project == nil {
		return ErrNoProject
	}
	if c.dialog == nil {
		return fmt.Errorf("session has no file dialog")
	}
	docGen := c.docGen
	defaultPath := c.filePath
	eventloop.Call(c.rt,
		func(ctx context.Context) (string, error) {
			return c.dialog.SaveFile(ctx, defaultPath)
		},
		func(path string, err error) {
			if docGen != c.docGen {
				return
			}
			if errors.Is(err, ErrCanceled) {
				c.fileSave = SaveView{Status: SaveIdle}
				c.notify()
				return
			}
			if err != nil {
				c.fileSave = SaveView{Status: SaveError, Err: err.Error()}
				c.post(NoticeError, "save as failed: "+err.Error())
				return
			}
			_ = c.saveFile(projectfile.WithExtension(path))
		},
	)
	return nil
}

// saveFile reports a rejected document synchronously; write failures land in
// the view.
func (c *Controller) saveFile(path string) error {
	prepared, err := c.prepareSave()
	if err != nil {
		c.fileSave = SaveView{Status: SaveError, Path: path, Err: err.Error()}
		c.post(NoticeError, "file save failed: "+err.Error())
		return err
	}
	docGen, seq := c.docGen, c.editSeq
	c.fileSave = SaveView{Status: SaveSaving, Path: path}
	c.notify()

	eventloop.Call(c.rt,
		func(context.Context) (struct{}, error) {
			return struct{}{}, projectfile.Save(path, prepared, nil, projectfile.SaveOptions{})
		},
		func(_ struct{}, err error) {
			if docGen != c.docGen {
				return
			}
			if err != nil {
				c.logger.Warn("file save failed", slog.String("path", path), slog.String("error", err.Error()))
				c.fileSave = SaveView{Status: SaveError, Path: path, Err: err.Error()}
				c.post(NoticeError, "file save failed: "+err.Error())
				return
			}
			c.fileSave = SaveView{Status: SaveSaved, Path: path}
			c.filePath = path
			c.sourcePath = path
			c.saved(prepared, seq)
			c.post(NoticeSuccess, "saved "+path)
		},
	)
	return nil
}

// prepareSave strips autosave metadata and runs the gate. Issues from a
// rejected document are recorded; storage is not touched.
func (c *Controller) prepareSave() (*project.Project, error) {
	prepared := c.project.StripAutosave()
	if c.gate == nil {
		return prepared, nil
	}
	if err := c.gate.Check(prepared); err != nil {
		c.recordIssues(err)
		return nil, err
	}
	return prepared, nil
}

// saved makes the stored document canonical: autosave is cleaned up and any
// recovery candidate is moot.
func (c *Controller) saved(stored *project.Project, seq uint64) {
	c.batch(func() {
		if seq == c.editSeq {
			c.project = stored.Clone()
			c.autosave.MarkClean()
		}
		c.recovery.Satisfy()
		c.clearLocal()
	})
}

func (c *Controller) clearLocal() {
	eventloop.Call(c.rt,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.local.Clear(ctx)
		},
		func(_ struct{}, err error) {
			if err != nil {
				c.logger.Warn("clear local autosave failed", slog.String("error", err.Error()))
			}
		},
	)
}

// RetryAutosave persists immediately with the manual-retry reason.
func (c *Controller) RetryAutosave() error {
	if c.project == nil {
		return ErrNoProject
	}
	c.autosave.RetryNow()
	return nil
}

// RestoreRecovery adopts the recovery candidate as the live document.
func (c *Controller) RestoreRecovery() error {
	candidate, err := c.recovery.Restore()
	if err != nil {
		return err
	}
	c.batch(func() {
		c.loadGen++
		if candidate.Kind == recovery.KindBackend && candidate.Slot != "" {
			c.slot = candidate.Slot
		}
		source := candidate.SourcePath
		if source == "" {
			source = candidate.Path
		}
		filePath := ""
		if candidate.Kind == recovery.KindLocal {
			filePath = candidate.SourcePath
		}
		c.replace(candidate.Project.StripAutosave(), source, filePath)
		c.autosave.MarkDirty()
	})
	c.post(NoticeInfo, "restored "+candidate.Describe(c.rt.Now()))
	return nil
}

func (c *Controller) DiscardRecovery() {
	c.recovery.Discard()
}

func (c *Controller) DeferRecovery() {
	c.recovery.Defer()
}

func (c *Controller) ShowRecoveryPrompt() {
	c.recovery.ShowPrompt()
}

func (c *Controller) RetryRecovery() {
	c.recovery.Retry()
}

// SetSlot changes the backend slot used for loads, saves and recovery.
func (c *Controller) SetSlot(slot string) {
	normalized := recovery.NormalizeSlot(slot)
	if normalized == c.slot {
		return
	}
	c.slot = normalized
	c.recovery.SetSlot(normalized)
	c.notify()
}

func (c *Controller) RefreshPreview() {
	c.preview.Refresh()
}

func (c *Controller) SetProxyMode(mode preview.ProxyMode) {
	c.preview.SetProxyMode(mode)
	c.notify()
}

func (c *Controller) CheckBackend() {
	c.backendView.Status = "pending"
	c.backendView.Err = ""
	eventloop.Call(c.rt,
		func(ctx context.Context) (backend.Health, error) {
			return c.backend.Health(ctx)
		},
		func(health backend.Health, err error) {
			if err != nil {
				c.logger.Warn("backend health check failed", slog.String("error", err.Error()))
				c.backendView.Status = "error"
				c.backendView.Err = err.Error()
			} else {
				c.backendView.Status = health.Status
				if c.backendView.Status == "" {
					c.backendView.Status = "ok"
				}
				c.backendView.Health = health
			}
			c.notify()
		},
	)
}

func (c *Controller) FetchCatalog() {
	c.backendView.CatalogErr = ""
	eventloop.Call(c.rt,
		func(ctx context.Context) ([]project.CatalogItem, error) {
			return c.backend.Catalog(ctx)
		},
		func(items []project.CatalogItem, err error) {
			if err != nil {
				c.backendView.CatalogErr = err.Error()
			} else {
				c.backendView.Catalog = items
			}
			c.notify()
		},
	)
}

// ExportIssues renders the recorded issues as {generatedAt, slot, issues}.
func (c *Controller) ExportIssues() ([]byte, error) {
	if len(c.validation.Issues) == 0 {
		return nil, ErrNoIssues
	}
	return EncodeIssueReport(IssueReport{
		GeneratedAt: c.rt.Now().UTC().Format(time.RFC3339),
		Slot:        c.slot,
		Issues:      c.validation.Issues,
	})
}

// DismissNotice clears the current notice.
func (c *Controller) DismissNotice() {
	if c.notice == nil {
		return
	}
	c.notice = nil
	c.notify()
}

func (c *Controller) View() View {
	view := View{
		SessionID:   c.sessionID,
		SourcePath:  c.sourcePath,
		FilePath:    c.filePath,
		Slot:        c.slot,
		CanUndo:     c.history.CanUndo(),
		CanRedo:     c.history.CanRedo(),
		Err:         c.err,
		Preview:     c.preview.State(),
		Autosave:    c.autosave.State(),
		Recovery:    c.recovery.State(),
		Validation:  c.validation,
		Backend:     c.backendView,
		FileSave:    c.fileSave,
		BackendSave: c.backendSave,
	}
	if c.project != nil {
		view.Project = c.project.Clone()
		view.Summary = c.project.Summary()
	}
	if candidate, ok := c.recovery.Candidate(); ok && view.Recovery.PromptOpen {
		view.RecoveryPrompt = candidate.Describe(c.rt.Now())
	}
	if c.notice != nil {
		notice := *c.notice
		view.Notice = &notice
	}
	return view
}

// replace installs a document wholesale: history and autosave state start
// over and the preview abandons anything outstanding.
func (c *Controller) replace(p *project.Project, sourcePath, filePath string) {
	c.batch(func() {
		c.docGen++
		c.editSeq++
		c.project = p.Clone()
		c.sourcePath = sourcePath
		c.filePath = filePath
		c.err = ""
		c.validation = ValidationView{Status: ValidationIdle}
		c.fileSave = SaveView{Status: SaveIdle}
		c.backendSave = SaveView{Status: SaveIdle}
		c.history.Reset()
		c.autosave.Reset()
		c.preview.Reset(c.project)
		c.logger.Info("project replaced",
			slog.String("source", sourcePath),
			slog.Int("nodes", len(c.project.Nodes)),
			slog.Int("edges", len(c.project.Edges)),
		)
	})
}

// install swaps in an edited document and feeds the preview.
func (c *Controller) install(next *project.Project) {
	c.batch(func() {
		c.editSeq++
		c.project = next.Clone()
		c.err = ""
		if c.validation.Status != ValidationIdle {
			c.validation = ValidationView{Status: ValidationIdle}
		}
		c.preview.Schedule(c.project)
	})
}

func (c *Controller) loadFailed(action string, err error) {
	c.recordIssues(err)
	c.fail(action, err)
}

func (c *Controller) recordIssues(err error) {
	if issues := validation.IssuesOf(err); len(issues) > 0 {
		c.validation = ValidationView{Status: ValidationInvalid, Issues: issues, CheckedAt: c.rt.Now()}
	}
}

func (c *Controller) fail(action string, err error) {
	c.logger.Warn(action+" failed", slog.String("error", err.Error()))
	c.err = err.Error()
	c.notify()
}

func (c *Controller) post(kind NoticeKind, message string) {
	c.notice = &Notice{Kind: kind, Message: message, At: c.rt.Now()}
	c.notify()
}

func (c *Controller) snapshot() autosave.Snapshot {
	return autosave.Snapshot{Project: c.project, SourcePath: c.sourcePath, Slot: c.slot}
}

// batch suppresses nested notifications and emits one at the end.
func (c *Controller) batch(fn func()) {
	if c.batching {
		fn()
		return
	}
	c.batching = true
	fn()
	c.batching = false
	c.notify()
}

func (c *Controller) notify() {
	if c.batching || c.onChange == nil {
		return
	}
	c.onChange(c.View())
}
