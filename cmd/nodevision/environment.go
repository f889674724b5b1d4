package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/hajimeno-ipoo/NodeVision-Editor/core/config"
	coreerrors "github.com/hajimeno-ipoo/NodeVision-Editor/core/errors"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/validation"
)

// envFiles are loaded when present. Variables already set in the process
// environment win.
var envFiles = []string{".env", ".env.local"}

type environment struct {
	configPath string
	settings   config.Settings
	logger     *slog.Logger
	gate       *validation.Gate
}

// loadEnvironment resolves settings from .env files, the YAML config and the
// process environment. An explicit config path must exist; the default may
// be missing.
func loadEnvironment(configPath string, stderr io.Writer) (environment, error) {
	if err := loadEnvFiles(envFiles...); err != nil {
		return environment{}, coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, "env_file_invalid", "fix the .env file syntax", false)
	}
	path := strings.TrimSpace(configPath)
	allowMissing := path == ""
	if allowMissing {
		path = config.DefaultPath
	}
	loaded, err := config.Load(path, allowMissing)
	if err != nil {
		return environment{}, coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, "config_invalid", "check "+path, false)
	}
	settings, err := loaded.Resolve(os.Getenv)
	if err != nil {
		return environment{}, coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, "config_invalid", "check "+path, false)
	}
	logger, err := newLogger(settings.LogLevel, settings.LogFormat, stderr)
	if err != nil {
		return environment{}, coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, "config_invalid", "log.level must be debug, info, warn or error", false)
	}
	gate, err := newGate(settings.SchemaPath)
	if err != nil {
		return environment{}, err
	}
	return environment{configPath: path, settings: settings, logger: logger, gate: gate}, nil
}

func loadEnvFiles(paths ...string) error {
	present := make([]string, 0, len(paths))
	for _, path := range paths {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			present = append(present, path)
		}
	}
	if len(present) == 0 {
		return nil
	}
	if err := godotenv.Load(present...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	return nil
}

func newLogger(level, format string, stderr io.Writer) (*slog.Logger, error) {
	var parsed slog.Level
	if err := parsed.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	if stderr == nil {
		stderr = io.Discard
	}
	options := &slog.HandlerOptions{Level: parsed}
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return slog.New(slog.NewJSONHandler(stderr, options)), nil
	}
	return slog.New(slog.NewTextHandler(stderr, options)), nil
}

func newGate(schemaPath string) (*validation.Gate, error) {
	if strings.TrimSpace(schemaPath) == "" {
		gate, err := validation.NewGate()
		if err != nil {
			return nil, coreerrors.Wrap(err, coreerrors.CategoryInternalFailure, "schema_invalid", "", false)
		}
		return gate, nil
	}
	gate, err := validation.NewGateFromFile(schemaPath)
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, "schema_invalid", "check storage.schema", false)
	}
	return gate, nil
}
