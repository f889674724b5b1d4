// Package projectfile reads and writes .nveproj documents through the
// validation gate.
package projectfile

import (
	"fmt"
	"path/filepath"
	"strings"

	coreerrors "github.com/hajimeno-ipoo/NodeVision-Editor/core/errors"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/fsx"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/project"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/validation"
)

const DefaultIndent = 2

type SaveOptions struct {
	// SkipValidation writes the document even if the gate rejects it.
	SkipValidation bool
	Indent         int
}

// Load reads and validates path. Undecodable files and schema violations both
// come back as validation failures carrying issues.
func Load(path string, gate *validation.Gate) (*project.Project, error) {
	content, found, err := fsx.ReadFileIfExists(path)
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CategoryIOFailure, "project_read_failed", "", false)
	}
	if !found {
		return nil, coreerrors.Wrap(fmt.Errorf("project file %s does not exist", path), coreerrors.CategoryNotFound, "project_missing", "check the path", false)
	}
	return Parse(content, gate)
}

// Parse decodes and validates an in-memory document.
func Parse(content []byte, gate *validation.Gate) (*project.Project, error) {
	if gate != nil {
		if result := gate.Validate(content); !result.Valid {
			return nil, validation.Invalid(result.Issues)
		}
	}
	parsed, err := project.Parse(content)
	if err != nil {
		return nil, validation.ParseFailure(err)
	}
	return parsed, nil
}

// Save validates p and replaces path atomically. A rejected project leaves the
// file untouched.
func Save(path string, p *project.Project, gate *validation.Gate, opts SaveOptions) error {
	if strings.TrimSpace(path) == "" {
		return coreerrors.Wrap(fmt.Errorf("save path is empty"), coreerrors.CategoryInvalidInput, "save_path_empty", "", false)
	}
	if p == nil {
		return coreerrors.Wrap(fmt.Errorf("no project to save"), coreerrors.CategoryInvalidInput, "save_project_missing", "", false)
	}
	if gate != nil && !opts.SkipValidation {
		if err := gate.Check(p); err != nil {
			return err
		}
	}
	indent := opts.Indent
	if indent <= 0 {
		indent = DefaultIndent
	}
	encoded, err := project.Marshal(p, indent)
	if err != nil {
		return coreerrors.Wrap(err, coreerrors.CategoryInternalFailure, "project_encode_failed", "", false)
	}
	encoded = append(encoded, '\n')
	if err := fsx.WriteFileAtomic(path, encoded, fsx.FileMode); err != nil {
		return coreerrors.Wrap(err, coreerrors.CategoryIOFailure, "project_write_failed", "check the destination directory", false)
	}
	return nil
}

// WithExtension appends .nveproj when path has no extension.
func WithExtension(path string) string {
	if filepath.Ext(path) == "" {
		return path + project.FileExtension
	}
	return path
}
