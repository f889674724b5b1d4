package doctor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/autosave"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/backend"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/config"
	coreerrors "github.com/hajimeno-ipoo/NodeVision-Editor/core/errors"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/metrics"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/validation"
)

const (
	statusPass = "pass"
	statusWarn = "warn"
	statusFail = "fail"
)

// HealthChecker is the slice of the backend client doctor needs.
type HealthChecker interface {
	Health(ctx context.Context) (backend.Health, error)
}

type Options struct {
	Settings        config.Settings
	ProducerVersion string
	Backend         HealthChecker
	Now             func() time.Time
}

type Result struct {
	SchemaID        string   `json:"schema_id"`
	SchemaVersion   string   `json:"schema_version"`
	CreatedAt       string   `json:"created_at"`
	ProducerVersion string   `json:"producer_version"`
	Status          string   `json:"status"`
	NonFixable      bool     `json:"non_fixable"`
	Summary         string   `json:"summary"`
	FixCommands     []string `json:"fix_commands"`
	Checks          []Check  `json:"checks"`
}

type Check struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Message    string `json:"message"`
	FixCommand string `json:"fix_command,omitempty"`
	NonFixable bool   `json:"non_fixable,omitempty"`
}

func (r Result) Failed() bool {
	return r.Status == statusFail
}

func Run(ctx context.Context, opts Options) Result {
	settings := opts.Settings
	producerVersion := strings.TrimSpace(opts.ProducerVersion)
	if producerVersion == "" {
		producerVersion = "0.0.0-dev"
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	gate, schemaCheck := checkSchema(settings.SchemaPath)
	checks := []Check{
		checkStorageDir(settings.StorageDir),
		schemaCheck,
		checkAutosave(ctx, settings.AutosavePath(), gate, now()),
		checkBenchLog(settings.BenchLog),
		checkBackend(ctx, opts.Backend, settings.BackendURL),
	}

	failed := 0
	warned := 0
	nonFixable := false
	fixCommands := make([]string, 0, len(checks))
	seenFixes := map[string]struct{}{}
	for _, check := range checks {
		switch check.Status {
		case statusFail:
			failed++
		case statusWarn:
			warned++
		}
		if check.NonFixable {
			nonFixable = true
		}
		if check.FixCommand != "" {
			if _, ok := seenFixes[check.FixCommand]; !ok {
				seenFixes[check.FixCommand] = struct{}{}
				fixCommands = append(fixCommands, check.FixCommand)
			}
		}
	}

	status := statusPass
	if failed > 0 {
		status = statusFail
	} else if warned > 0 {
		status = statusWarn
	}

	sort.Strings(fixCommands)
	summary := fmt.Sprintf("doctor: status=%s failed=%d warned=%d non_fixable=%t", status, failed, warned, nonFixable)

	return Result{
		SchemaID:        "nodevision.doctor.result",
		SchemaVersion:   "1.0.0",
		CreatedAt:       now().UTC().Format(time.RFC3339Nano),
		ProducerVersion: producerVersion,
		Status:          status,
		NonFixable:      nonFixable,
		Summary:         summary,
		FixCommands:     fixCommands,
		Checks:          checks,
	}
}

func checkStorageDir(storageDir string) Check {
	info, err := os.Stat(storageDir)
	if err != nil {
		if os.IsNotExist(err) {
			return Check{
				Name:       "storage_dir",
				Status:     statusWarn,
				Message:    "storage directory does not exist yet",
				FixCommand: fmt.Sprintf("mkdir -p %s", shellQuote(storageDir)),
			}
		}
		return Check{
			Name:    "storage_dir",
			Status:  statusFail,
			Message: fmt.Sprintf("storage directory check failed: %v", err),
		}
	}
	if !info.IsDir() {
		return Check{
			Name:    "storage_dir",
			Status:  statusFail,
			Message: "storage path is not a directory",
		}
	}
	if err := probeWritable(storageDir); err != nil {
		return Check{
			Name:       "storage_dir",
			Status:     statusFail,
			Message:    fmt.Sprintf("storage directory not writable: %v", err),
			FixCommand: fmt.Sprintf("chmod u+w %s", shellQuote(storageDir)),
		}
	}
	return Check{
		Name:    "storage_dir",
		Status:  statusPass,
		Message: "storage directory is writable",
	}
}

func checkSchema(schemaPath string) (*validation.Gate, Check) {
	if strings.TrimSpace(schemaPath) == "" {
		gate, err := validation.NewGate()
		if err != nil {
			return nil, Check{
				Name:       "schema",
				Status:     statusFail,
				Message:    fmt.Sprintf("built-in project schema does not compile: %v", err),
				NonFixable: true,
			}
		}
		return gate, Check{
			Name:    "schema",
			Status:  statusPass,
			Message: "using the built-in project schema",
		}
	}
	gate, err := validation.NewGateFromFile(schemaPath)
	if err != nil {
		return nil, Check{
			Name:       "schema",
			Status:     statusFail,
			Message:    fmt.Sprintf("project schema %s is unusable: %v", schemaPath, err),
			FixCommand: "point storage.schema at a valid JSON schema or remove it",
		}
	}
	return gate, Check{
		Name:    "schema",
		Status:  statusPass,
		Message: fmt.Sprintf("project schema %s compiles", schemaPath),
	}
}

func checkAutosave(ctx context.Context, path string, gate *validation.Gate, now time.Time) Check {
	record, err := autosave.NewFileStore(path, gate).Read(ctx)
	switch {
	case err == nil:
		message := "a local autosave is waiting to be recovered"
		if !record.Autosave.SavedAt.IsZero() {
			message = fmt.Sprintf("a local autosave from %s is waiting to be recovered", humanize.RelTime(record.Autosave.SavedAt, now, "ago", "from now"))
		}
		return Check{
			Name:       "autosave",
			Status:     statusWarn,
			Message:    message,
			FixCommand: "nodevision recover --restore-to <path> or nodevision recover --discard",
		}
	case errors.Is(err, autosave.ErrNotFound):
		return Check{
			Name:    "autosave",
			Status:  statusPass,
			Message: "no pending local autosave",
		}
	case coreerrors.CategoryOf(err) == coreerrors.CategoryCorruptPayload:
		return Check{
			Name:       "autosave",
			Status:     statusFail,
			Message:    fmt.Sprintf("local autosave cannot be recovered: %v", err),
			FixCommand: fmt.Sprintf("rm %s", shellQuote(path)),
		}
	default:
		return Check{
			Name:    "autosave",
			Status:  statusFail,
			Message: fmt.Sprintf("local autosave check failed: %v", err),
		}
	}
}

func checkBenchLog(benchLog string) Check {
	if strings.TrimSpace(benchLog) == "" {
		benchLog = filepath.FromSlash(metrics.DefaultBenchLog)
	}
	dir := filepath.Dir(benchLog)
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return Check{
				Name:    "bench_log",
				Status:  statusPass,
				Message: fmt.Sprintf("bench log %s will be created on the first preview", benchLog),
			}
		}
		return Check{
			Name:    "bench_log",
			Status:  statusFail,
			Message: fmt.Sprintf("bench log directory check failed: %v", err),
		}
	}
	if !info.IsDir() {
		return Check{
			Name:    "bench_log",
			Status:  statusFail,
			Message: "bench log parent is not a directory",
		}
	}
	if err := probeWritable(dir); err != nil {
		return Check{
			Name:       "bench_log",
			Status:     statusFail,
			Message:    fmt.Sprintf("bench log directory not writable: %v", err),
			FixCommand: fmt.Sprintf("chmod u+w %s", shellQuote(dir)),
		}
	}
	return Check{
		Name:    "bench_log",
		Status:  statusPass,
		Message: fmt.Sprintf("bench log %s is writable", benchLog),
	}
}

func checkBackend(ctx context.Context, client HealthChecker, baseURL string) Check {
	if client == nil {
		return Check{
			Name:    "backend",
			Status:  statusWarn,
			Message: "backend check skipped",
		}
	}
	health, err := client.Health(ctx)
	if err != nil {
		return Check{
			Name:       "backend",
			Status:     statusFail,
			Message:    fmt.Sprintf("backend %s unreachable: %v", baseURL, err),
			FixCommand: "start the preview backend or set NODEVISION_BACKEND_URL",
		}
	}
	if !strings.EqualFold(health.Status, "ok") {
		return Check{
			Name:    "backend",
			Status:  statusWarn,
			Message: fmt.Sprintf("backend %s reports status %q", baseURL, health.Status),
		}
	}
	return Check{
		Name:    "backend",
		Status:  statusPass,
		Message: fmt.Sprintf("backend %s is healthy (%s %s)", baseURL, health.Service, health.Version),
	}
}

func probeWritable(dir string) error {
	testPath := filepath.Join(dir, ".nodevision-doctor-writecheck")
	if err := os.WriteFile(testPath, []byte("ok"), 0o600); err != nil {
		return err
	}
	_ = os.Remove(testPath)
	return nil
}

func shellQuote(value string) string {
	if value == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}
