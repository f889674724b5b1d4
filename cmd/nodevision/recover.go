package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/hajimeno-ipoo/NodeVision-Editor/core/autosave"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/backend"
	coreerrors "github.com/hajimeno-ipoo/NodeVision-Editor/core/errors"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/eventloop"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/project"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/projectfile"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/recovery"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/session"
)

const defaultRecoverTimeout = 45 * time.Second

type candidateOutput struct {
	Kind        string          `json:"kind"`
	Path        string          `json:"path,omitempty"`
	Slot        string          `json:"slot,omitempty"`
	SavedAt     string          `json:"saved_at,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	SourcePath  string          `json:"source_path,omitempty"`
	Summary     project.Summary `json:"summary"`
	Description string          `json:"description"`
}

type recoverOutput struct {
	OK         bool             `json:"ok"`
	Slot       string           `json:"slot,omitempty"`
	Phase      string           `json:"phase,omitempty"`
	Candidate  *candidateOutput `json:"candidate,omitempty"`
	Action     string           `json:"action,omitempty"`
	RestoredTo string           `json:"restored_to,omitempty"`
	errorInfo
}

func runRecover(arguments []string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("Look for a recovery candidate (local autosave first, then the backend slot) and optionally restore it to a file or discard it.")
	}
	flagSet := flag.NewFlagSet("recover", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var configPath string
	var slot string
	var restoreTo string
	var discard bool
	var timeout time.Duration
	var jsonOutput bool
	var helpFlag bool

	flagSet.StringVar(&configPath, "config", "", "path to config.yaml")
	flagSet.StringVar(&slot, "slot", "", "backend slot to check (overrides config and environment)")
	flagSet.StringVar(&restoreTo, "restore-to", "", "restore the candidate and save it to this project file")
	flagSet.BoolVar(&discard, "discard", false, "discard the candidate")
	flagSet.DurationVar(&timeout, "timeout", defaultRecoverTimeout, "give up after this long, backend retries included")
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output")
	flagSet.BoolVar(&helpFlag, "help", false, "show help")

	if err := flagSet.Parse(arguments); err != nil {
		return writeRecoverOutput(jsonOutput, recoverOutput{errorInfo: errorInfo{Error: err.Error()}}, exitInvalidInput)
	}
	if helpFlag {
		printRecoverUsage()
		return exitOK
	}
	if len(flagSet.Args()) > 0 {
		return writeRecoverOutput(jsonOutput, recoverOutput{errorInfo: errorInfo{Error: "unexpected positional arguments"}}, exitInvalidInput)
	}
	if discard && strings.TrimSpace(restoreTo) != "" {
		return writeRecoverOutput(jsonOutput, recoverOutput{errorInfo: errorInfo{Error: "--restore-to and --discard are mutually exclusive"}}, exitInvalidInput)
	}
	if timeout <= 0 {
		timeout = defaultRecoverTimeout
	}

	env, err := loadEnvironment(configPath, os.Stderr)
	if err != nil {
		return writeRecoverOutput(jsonOutput, recoverOutput{errorInfo: errorInfoFor(err)}, exitCodeForError(err, exitInvalidInput))
	}
	if strings.TrimSpace(slot) != "" {
		env.settings.Slot = slot
	}
	client, err := backend.New(backend.Options{
		BaseURL: env.settings.BackendURL,
		Timeout: env.settings.BackendTimeout,
		Gate:    env.gate,
		Logger:  env.logger,
	})
	if err != nil {
		return writeRecoverOutput(jsonOutput, recoverOutput{errorInfo: errorInfoFor(err)}, exitCodeForError(err, exitInvalidInput))
	}
	store := autosave.NewFileStore(env.settings.AutosavePath(), env.gate)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	loop := eventloop.NewLoop(ctx)
	go func() {
		_ = loop.Run()
	}()

	waiter := &viewWaiter{}
	controller, err := session.New(session.Config{
		Runtime:  loop,
		Backend:  client,
		Local:    store,
		Gate:     env.gate,
		Dialog:   fixedDialog{path: restoreTo},
		Settings: env.settings,
		Logger:   env.logger,
		OnChange: waiter.observe,
	})
	if err != nil {
		return writeRecoverOutput(jsonOutput, recoverOutput{errorInfo: errorInfoFor(err)}, exitInvalidInput)
	}
	defer func() {
		_ = loop.Do(controller.Close)
	}()

	view, err := waiter.expect(ctx, loop, recoverySettled, func() error {
		controller.Start()
		return nil
	})
	if err != nil {
		return writeRecoverOutput(jsonOutput, recoverOutput{Slot: env.settings.Slot, errorInfo: errorInfoFor(timeoutError(err))}, exitBackendUnavailable)
	}
	output := describeRecovery(view)
	if view.Recovery.Phase == recovery.PhaseError {
		output.errorInfo = errorInfo{Error: view.Recovery.Err}
		return writeRecoverOutput(jsonOutput, output, exitBackendUnavailable)
	}

	switch {
	case strings.TrimSpace(restoreTo) != "":
		if output.Candidate == nil {
			output.errorInfo = errorInfoFor(recovery.ErrNoCandidate)
			return writeRecoverOutput(jsonOutput, output, exitNotFound)
		}
		saved, err := waiter.expect(ctx, loop, fileSaveSettled, func() error {
			if err := controller.RestoreRecovery(); err != nil {
				return err
			}
			return controller.SaveAs()
		})
		if err != nil {
			output.errorInfo = errorInfoFor(timeoutError(err))
			return writeRecoverOutput(jsonOutput, output, exitCodeForError(err, exitInternalFailure))
		}
		if saved.FileSave.Status != session.SaveSaved {
			output.errorInfo = errorInfo{Error: saved.FileSave.Err}
			return writeRecoverOutput(jsonOutput, output, exitInternalFailure)
		}
		// The session clears the local autosave off the loop; finish it
		// before the process exits.
		if err := store.Clear(context.Background()); err != nil {
			env.logger.Warn("clear local autosave failed", slog.String("error", err.Error()))
		}
		output.Action = "restored"
		output.RestoredTo = saved.FilePath
		output.Phase = string(saved.Recovery.Phase)
	case discard:
		if output.Candidate == nil {
			output.errorInfo = errorInfoFor(recovery.ErrNoCandidate)
			return writeRecoverOutput(jsonOutput, output, exitNotFound)
		}
		kind := output.Candidate.Kind
		next, err := waiter.expect(ctx, loop, recoverySettled, func() error {
			controller.DiscardRecovery()
			return nil
		})
		if err != nil {
			output.errorInfo = errorInfoFor(timeoutError(err))
			return writeRecoverOutput(jsonOutput, output, exitBackendUnavailable)
		}
		if kind == string(recovery.KindLocal) {
			if err := store.Clear(context.Background()); err != nil {
				env.logger.Warn("clear local autosave failed", slog.String("error", err.Error()))
			}
		}
		output = describeRecovery(next)
		output.Action = "discarded"
	}
	output.OK = true
	return writeRecoverOutput(jsonOutput, output, exitOK)
}

func describeRecovery(view session.View) recoverOutput {
	output := recoverOutput{Slot: view.Slot, Phase: string(view.Recovery.Phase)}
	candidate := view.Recovery.Candidate
	if candidate == nil {
		return output
	}
	output.Candidate = &candidateOutput{
		Kind:        string(candidate.Kind),
		Path:        candidate.Path,
		Slot:        candidate.Slot,
		Reason:      candidate.Reason,
		SourcePath:  candidate.SourcePath,
		Summary:     candidate.Summary,
		Description: candidate.Describe(time.Now()),
	}
	if !candidate.SavedAt.IsZero() {
		output.Candidate.SavedAt = candidate.SavedAt.UTC().Format(time.RFC3339)
	}
	return output
}

func recoverySettled(view session.View) bool {
	switch view.Recovery.Phase {
	case recovery.PhaseFoundLocal, recovery.PhaseFoundBackend, recovery.PhaseNoCandidate, recovery.PhaseError:
		return true
	default:
		return false
	}
}

func fileSaveSettled(view session.View) bool {
	return view.FileSave.Status == session.SaveSaved || view.FileSave.Status == session.SaveError
}

func timeoutError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return coreerrors.Wrap(err, coreerrors.CategoryNetworkTransient, "recover_timeout", "raise --timeout or check the backend", true)
	}
	return err
}

// viewWaiter hands the first session view matching a predicate to a
// goroutine outside the loop. match and done are only touched on the loop.
type viewWaiter struct {
	match func(session.View) bool
	done  chan session.View
}

func (w *viewWaiter) observe(view session.View) {
	if w.match == nil || !w.match(view) {
		return
	}
	w.match = nil
	w.done <- view
}

// expect arms the waiter and runs action on the loop, then blocks until a
// matching view arrives or ctx ends.
func (w *viewWaiter) expect(ctx context.Context, loop *eventloop.Loop, match func(session.View) bool, action func() error) (session.View, error) {
	done := make(chan session.View, 1)
	var actionErr error
	err := loop.Do(func() {
		w.match = match
		w.done = done
		actionErr = action()
		if actionErr != nil {
			w.match = nil
		}
	})
	if err != nil {
		return session.View{}, err
	}
	if actionErr != nil {
		return session.View{}, actionErr
	}
	select {
	case view := <-done:
		return view, nil
	case <-ctx.Done():
		return session.View{}, ctx.Err()
	}
}

// fixedDialog answers every save prompt with one path.
type fixedDialog struct {
	path string
}

func (d fixedDialog) OpenFile(context.Context) (string, error) {
	return "", session.ErrCanceled
}

func (d fixedDialog) SaveFile(context.Context, string) (string, error) {
	if strings.TrimSpace(d.path) == "" {
		return "", session.ErrCanceled
	}
	return projectfile.WithExtension(d.path), nil
}

func writeRecoverOutput(jsonOutput bool, output recoverOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if output.Phase != "" {
		fmt.Printf("recovery (slot %s): %s\n", output.Slot, output.Phase)
	}
	if output.Candidate != nil {
		fmt.Printf("candidate: %s\n", output.Candidate.Description)
	}
	switch output.Action {
	case "restored":
		fmt.Printf("restored to %s\n", output.RestoredTo)
	case "discarded":
		fmt.Println("candidate discarded")
	}
	if output.Error != "" {
		fmt.Printf("recover error: %s\n", output.Error)
	}
	return exitCode
}

func printRecoverUsage() {
	fmt.Println("Usage:")
	fmt.Println("  nodevision recover [--config <config.yaml>] [--slot <slot>] [--restore-to <path> | --discard] [--timeout <duration>] [--json] [--explain]")
}
