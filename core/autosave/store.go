package autosave

import (
	"context"
	"errors"
	"fmt"

	coreerrors "github.com/hajimeno-ipoo/NodeVision-Editor/core/errors"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/fsx"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/project"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/validation"
)

// ErrNotFound means no local autosave document exists.
var ErrNotFound = coreerrors.Wrap(errors.New("no local autosave"), coreerrors.CategoryNotFound, "autosave_not_found", "", false)

// Record is a local autosave read back from storage.
type Record struct {
	Project  *project.Project
	Path     string
	Autosave project.AutosaveRecord
	Summary  project.Summary
}

// LocalStore keeps the single local autosave document.
type LocalStore interface {
	// Read returns ErrNotFound when nothing is stored. A document that cannot
	// be decoded is a corrupt_payload error.
	Read(ctx context.Context) (Record, error)
	// Write stores an already stamped document and returns where it went.
	Write(ctx context.Context, p *project.Project) (string, error)
	Clear(ctx context.Context) error
}

// FileStore persists the autosave document to one file, atomically.
type FileStore struct {
	path string
	gate *validation.Gate
}

// NewFileStore stores at path. A non-nil gate validates on read and write.
func NewFileStore(path string, gate *validation.Gate) *FileStore {
	return &FileStore{path: path, gate: gate}
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Read(ctx context.Context) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	content, found, err := fsx.ReadFileIfExists(s.path)
	if err != nil {
		return Record{}, coreerrors.Wrap(err, coreerrors.CategoryIOFailure, "autosave_read_failed", "check permissions on the autosave directory", false)
	}
	if !found {
		return Record{}, ErrNotFound
	}
	parsed, err := project.Parse(content)
	if err != nil {
		return Record{}, coreerrors.Wrap(fmt.Errorf("autosave document is unreadable: %w", err), coreerrors.CategoryCorruptPayload, "autosave_corrupt", "discard the local autosave", false)
	}
	if s.gate != nil {
		if result := s.gate.ValidateProject(parsed); !result.Valid {
			invalid := &validation.InvalidError{Issues: result.Issues}
			return Record{}, coreerrors.Wrap(fmt.Errorf("autosave document is invalid: %w", invalid), coreerrors.CategoryCorruptPayload, "autosave_invalid", "discard the local autosave", false)
		}
	}
	record, _ := parsed.Autosave()
	return Record{
		Project:  parsed,
		Path:     s.path,
		Autosave: record,
		Summary:  parsed.Summary(),
	}, nil
}

func (s *FileStore) Write(ctx context.Context, p *project.Project) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if p == nil {
		return "", coreerrors.Wrap(errors.New("no project to autosave"), coreerrors.CategoryInvalidInput, "autosave_empty", "", false)
	}
	if s.gate != nil {
		if err := s.gate.Check(p); err != nil {
			return "", err
		}
	}
	encoded, err := project.Marshal(p, 2)
	if err != nil {
		return "", coreerrors.Wrap(err, coreerrors.CategoryInternalFailure, "autosave_encode_failed", "", false)
	}
	encoded = append(encoded, '\n')
	if err := fsx.WriteFileAtomic(s.path, encoded, fsx.FileMode); err != nil {
		return "", coreerrors.Wrap(err, coreerrors.CategoryIOFailure, "autosave_write_failed", "check free space and permissions, then retry", true)
	}
	return s.path, nil
}

func (s *FileStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fsx.RemoveIfExists(s.path); err != nil {
		return coreerrors.Wrap(err, coreerrors.CategoryIOFailure, "autosave_clear_failed", "", false)
	}
	return nil
}
