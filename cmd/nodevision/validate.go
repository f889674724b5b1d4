package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	coreerrors "github.com/hajimeno-ipoo/NodeVision-Editor/core/errors"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/fsx"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/project"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/projectfile"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/recovery"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/session"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/validation"
)

type validateOutput struct {
	OK         bool               `json:"ok"`
	Path       string             `json:"path,omitempty"`
	Size       string             `json:"size,omitempty"`
	Valid      bool               `json:"valid"`
	Summary    *project.Summary   `json:"summary,omitempty"`
	Issues     []validation.Issue `json:"issues,omitempty"`
	ExportPath string             `json:"export_path,omitempty"`
	errorInfo
}

func runValidate(arguments []string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("Validate a project file against the project schema and report issues with JSON-pointer paths.")
	}
	arguments = reorderInterspersedFlags(arguments, map[string]bool{
		"config": true,
		"schema": true,
		"export": true,
		"slot":   true,
	})
	flagSet := flag.NewFlagSet("validate", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var configPath string
	var schemaPath string
	var exportPath string
	var slot string
	var jsonOutput bool
	var helpFlag bool

	flagSet.StringVar(&configPath, "config", "", "path to config.yaml")
	flagSet.StringVar(&schemaPath, "schema", "", "project schema to validate against (default: bundled schema)")
	flagSet.StringVar(&exportPath, "export", "", "write {generatedAt, slot, issues} to this path when issues are found")
	flagSet.StringVar(&slot, "slot", "", "slot recorded in the exported issue report")
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output")
	flagSet.BoolVar(&helpFlag, "help", false, "show help")

	if err := flagSet.Parse(arguments); err != nil {
		return writeValidateOutput(jsonOutput, validateOutput{errorInfo: errorInfo{Error: err.Error()}}, exitInvalidInput)
	}
	if helpFlag {
		printValidateUsage()
		return exitOK
	}
	if len(flagSet.Args()) != 1 {
		return writeValidateOutput(jsonOutput, validateOutput{errorInfo: errorInfo{Error: "expected exactly one project path"}}, exitInvalidInput)
	}
	path := flagSet.Arg(0)

	env, err := loadEnvironment(configPath, os.Stderr)
	if err != nil {
		return writeValidateOutput(jsonOutput, validateOutput{Path: path, errorInfo: errorInfoFor(err)}, exitCodeForError(err, exitInvalidInput))
	}
	gate := env.gate
	if strings.TrimSpace(schemaPath) != "" {
		if gate, err = newGate(schemaPath); err != nil {
			return writeValidateOutput(jsonOutput, validateOutput{Path: path, errorInfo: errorInfoFor(err)}, exitCodeForError(err, exitInvalidInput))
		}
	}

	content, found, err := fsx.ReadFileIfExists(path)
	if err != nil {
		err = coreerrors.Wrap(err, coreerrors.CategoryIOFailure, "project_read_failed", "", false)
		return writeValidateOutput(jsonOutput, validateOutput{Path: path, errorInfo: errorInfoFor(err)}, exitInternalFailure)
	}
	if !found {
		err = coreerrors.Wrap(fmt.Errorf("project file %s does not exist", path), coreerrors.CategoryNotFound, "project_missing", "check the path", false)
		return writeValidateOutput(jsonOutput, validateOutput{Path: path, errorInfo: errorInfoFor(err)}, exitNotFound)
	}

	output := validateOutput{Path: path, Size: humanize.Bytes(uint64(len(content)))}
	parsed, err := projectfile.Parse(content, gate)
	if err == nil {
		summary := parsed.Summary()
		output.OK = true
		output.Valid = true
		output.Summary = &summary
		return writeValidateOutput(jsonOutput, output, exitOK)
	}

	output.Issues = validation.IssuesOf(err)
	output.errorInfo = errorInfoFor(err)
	if exportPath != "" && len(output.Issues) > 0 {
		report, encodeErr := session.EncodeIssueReport(session.IssueReport{
			GeneratedAt: time.Now().UTC().Format(time.RFC3339),
			Slot:        recovery.NormalizeSlot(firstNonEmpty(slot, env.settings.Slot)),
			Issues:      output.Issues,
		})
		if encodeErr == nil {
			encodeErr = fsx.WriteFileAtomic(exportPath, report, fsx.FileMode)
		}
		if encodeErr != nil {
			output.errorInfo = errorInfoFor(coreerrors.Wrap(encodeErr, coreerrors.CategoryIOFailure, "issue_export_failed", "", false))
			return writeValidateOutput(jsonOutput, output, exitInternalFailure)
		}
		output.ExportPath = exportPath
	}
	return writeValidateOutput(jsonOutput, output, exitCodeForError(err, exitValidationFailed))
}

func writeValidateOutput(jsonOutput bool, output validateOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if output.Valid && output.Summary != nil {
		fmt.Printf("valid: %s (%s)\n", output.Path, output.Size)
		fmt.Printf("summary: %d nodes / %d edges / %d assets, %g fps, %s, schema %s\n",
			output.Summary.Nodes, output.Summary.Edges, output.Summary.Assets,
			output.Summary.FPS, output.Summary.ColorSpace, output.Summary.SchemaVersion)
		return exitCode
	}
	if len(output.Issues) > 0 {
		fmt.Printf("invalid: %s (%d issues)\n", output.Path, len(output.Issues))
		for _, issue := range output.Issues {
			fmt.Printf("  %s: %s [%s]\n", issue.Path, issue.Message, issue.Keyword)
		}
		if output.ExportPath != "" {
			fmt.Printf("issues exported: %s\n", output.ExportPath)
		}
		return exitCode
	}
	fmt.Printf("validate error: %s\n", output.Error)
	return exitCode
}

func printValidateUsage() {
	fmt.Println("Usage:")
	fmt.Println("  nodevision validate <project.nveproj> [--schema <schema.json>] [--export <issues.json>] [--slot <slot>] [--config <config.yaml>] [--json] [--explain]")
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
