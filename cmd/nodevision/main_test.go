package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hajimeno-ipoo/NodeVision-Editor/core/autosave"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/config"
	coreerrors "github.com/hajimeno-ipoo/NodeVision-Editor/core/errors"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/project"
	"github.com/hajimeno-ipoo/NodeVision-Editor/internal/testutil"
)

func TestRunDispatch(t *testing.T) {
	withWorkingDir(t, t.TempDir())
	if code := run([]string{"nodevision"}); code != exitOK {
		t.Fatalf("run without args: expected %d got %d", exitOK, code)
	}
	if code := run([]string{"nodevision", "version"}); code != exitOK {
		t.Fatalf("run version: expected %d got %d", exitOK, code)
	}
	if code := run([]string{"nodevision", "unknown"}); code != exitInvalidInput {
		t.Fatalf("run unknown: expected %d got %d", exitInvalidInput, code)
	}
	for _, command := range []string{"validate", "fingerprint", "backend", "recover", "watch", "doctor"} {
		if code := run([]string{"nodevision", command, "--help"}); code != exitOK {
			t.Fatalf("run %s help: expected %d got %d", command, exitOK, code)
		}
		if code := run([]string{"nodevision", command, "--explain"}); code != exitOK {
			t.Fatalf("run %s explain: expected %d got %d", command, exitOK, code)
		}
	}
	if code := run([]string{"nodevision", "validate"}); code != exitInvalidInput {
		t.Fatalf("validate without path: expected %d got %d", exitInvalidInput, code)
	}
	if code := run([]string{"nodevision", "recover", "--discard", "--restore-to", "x"}); code != exitInvalidInput {
		t.Fatalf("recover with conflicting flags: expected %d got %d", exitInvalidInput, code)
	}
}

func TestValidateValidProject(t *testing.T) {
	workDir := isolate(t)
	path := testutil.WriteSampleProject(t, workDir)

	var code int
	raw := captureStdout(t, func() {
		code = run([]string{"nodevision", "validate", path, "--json"})
	})
	if code != exitOK {
		t.Fatalf("expected exit %d got %d: %s", exitOK, code, raw)
	}
	var output validateOutput
	if err := json.Unmarshal([]byte(raw), &output); err != nil {
		t.Fatalf("decode output: %v (%s)", err, raw)
	}
	if !output.OK || !output.Valid || output.Summary == nil || output.Summary.Nodes != 2 || output.Summary.Edges != 1 {
		t.Fatalf("unexpected output %+v", output)
	}
}

func TestValidateInvalidProjectExportsIssues(t *testing.T) {
	workDir := isolate(t)
	path := filepath.Join(workDir, "broken.nveproj")
	broken := strings.Replace(testutil.SampleProjectJSON, `"Rec.709",
  "projectFps"`, `"CMYK",
  "projectFps"`, 1)
	testutil.WriteFile(t, path, []byte(broken))
	exportPath := filepath.Join(workDir, "out", "issues.json")

	var code int
	raw := captureStdout(t, func() {
		code = run([]string{"nodevision", "validate", "--json", "--export", exportPath, "--slot", "studio", path})
	})
	if code != exitValidationFailed {
		t.Fatalf("expected exit %d got %d: %s", exitValidationFailed, code, raw)
	}
	decoded := testutil.MustDecodeJSON(t, []byte(raw))
	if decoded["ok"] != false || decoded["error_category"] != string(coreerrors.CategoryValidation) || decoded["export_path"] != exportPath {
		t.Fatalf("unexpected envelope %s", raw)
	}
	issues, _ := decoded["issues"].([]any)
	if len(issues) != 1 || issues[0].(map[string]any)["path"] != "/mediaColorSpace" {
		t.Fatalf("unexpected issues %v", decoded["issues"])
	}

	report := testutil.MustDecodeJSON(t, testutil.MustReadFile(t, exportPath))
	if report["slot"] != "studio" || report["generatedAt"] == "" {
		t.Fatalf("unexpected report %v", report)
	}
	if exported, _ := report["issues"].([]any); len(exported) != 1 {
		t.Fatalf("unexpected exported issues %v", report["issues"])
	}
}

func TestValidateMissingFile(t *testing.T) {
	workDir := isolate(t)
	var code int
	raw := captureStdout(t, func() {
		code = run([]string{"nodevision", "validate", "--json", filepath.Join(workDir, "missing.nveproj")})
	})
	if code != exitNotFound {
		t.Fatalf("expected exit %d got %d: %s", exitNotFound, code, raw)
	}
	if decoded := testutil.MustDecodeJSON(t, []byte(raw)); decoded["error_code"] != "project_missing" {
		t.Fatalf("unexpected envelope %s", raw)
	}
}

func TestFingerprintIgnoresKeyOrderAndAutosave(t *testing.T) {
	workDir := isolate(t)
	first := testutil.WriteSampleProject(t, workDir)

	sample, err := project.Parse([]byte(testutil.SampleProjectJSON))
	if err != nil {
		t.Fatalf("parse sample: %v", err)
	}
	stamped := sample.WithAutosave(project.AutosaveRecord{SavedAt: time.Date(2025, 10, 26, 9, 0, 0, 0, time.UTC), Reason: autosave.ReasonAutoTimer})
	encoded, err := project.Marshal(stamped, 4)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	second := filepath.Join(workDir, "second.nveproj")
	testutil.WriteFile(t, second, encoded)

	digests := make([]string, 0, 2)
	for _, path := range []string{first, second} {
		var code int
		raw := captureStdout(t, func() {
			code = run([]string{"nodevision", "fingerprint", path, "--json", "--digest"})
		})
		if code != exitOK {
			t.Fatalf("fingerprint %s: expected exit %d got %d: %s", path, exitOK, code, raw)
		}
		var output fingerprintOutput
		if err := json.Unmarshal([]byte(raw), &output); err != nil {
			t.Fatalf("decode output: %v", err)
		}
		if output.Fingerprint != "" {
			t.Fatalf("--digest must omit the canonical form")
		}
		digests = append(digests, output.Digest)
	}
	if digests[0] == "" || digests[0] != digests[1] {
		t.Fatalf("expected matching digests, got %v", digests)
	}
}

func TestBackendCommand(t *testing.T) {
	isolate(t)
	server := newBackendServer(t)

	var code int
	raw := captureStdout(t, func() {
		code = run([]string{"nodevision", "backend", "--url", server.URL, "--catalog", "--json"})
	})
	if code != exitOK {
		t.Fatalf("expected exit %d got %d: %s", exitOK, code, raw)
	}
	var output backendOutput
	if err := json.Unmarshal([]byte(raw), &output); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if output.Health == nil || output.Health.Status != "ok" || len(output.Catalog) != 1 || output.Catalog[0].NodeID != "ExposureAdjust" {
		t.Fatalf("unexpected output %+v", output)
	}
}

func TestDoctorCommand(t *testing.T) {
	workDir := isolate(t)
	server := newBackendServer(t)
	configPath, settings := writeConfig(t, workDir, server.URL)
	writeLocalAutosave(t, settings.AutosavePath())

	var code int
	raw := captureStdout(t, func() {
		code = run([]string{"nodevision", "doctor", "--config", configPath, "--json"})
	})
	if code != exitOK {
		t.Fatalf("expected exit %d got %d: %s", exitOK, code, raw)
	}
	var output doctorOutput
	if err := json.Unmarshal([]byte(raw), &output); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if !output.OK || output.Result == nil || output.Result.Status != "warn" {
		t.Fatalf("expected a warning result, got %+v", output)
	}
	statuses := map[string]string{}
	for _, check := range output.Result.Checks {
		statuses[check.Name] = check.Status
	}
	if statuses["backend"] != "pass" || statuses["autosave"] != "warn" || statuses["storage_dir"] != "pass" {
		t.Fatalf("unexpected check statuses %v", statuses)
	}
}

func TestDoctorCommandFailsOnUnreachableBackend(t *testing.T) {
	workDir := isolate(t)
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()
	configPath, _ := writeConfig(t, workDir, url)

	var code int
	raw := captureStdout(t, func() {
		code = run([]string{"nodevision", "doctor", "--config", configPath, "--json"})
	})
	if code != exitInternalFailure {
		t.Fatalf("expected exit %d got %d: %s", exitInternalFailure, code, raw)
	}
	code = 0
	_ = captureStdout(t, func() {
		code = run([]string{"nodevision", "doctor", "--config", configPath, "--offline"})
	})
	if code != exitOK {
		t.Fatalf("offline doctor: expected %d got %d", exitOK, code)
	}
}

func TestBackendCommandUnreachable(t *testing.T) {
	isolate(t)
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	var code int
	raw := captureStdout(t, func() {
		code = run([]string{"nodevision", "backend", "--url", url, "--json"})
	})
	if code != exitBackendUnavailable {
		t.Fatalf("expected exit %d got %d: %s", exitBackendUnavailable, code, raw)
	}
	decoded := testutil.MustDecodeJSON(t, []byte(raw))
	if decoded["error_category"] != string(coreerrors.CategoryNetworkTransient) || decoded["retryable"] != true {
		t.Fatalf("unexpected envelope %s", raw)
	}
}

func TestRecoverReportsAndRestoresLocalAutosave(t *testing.T) {
	workDir := isolate(t)
	server := newBackendServer(t)
	configPath, settings := writeConfig(t, workDir, server.URL)
	writeLocalAutosave(t, settings.AutosavePath())

	var code int
	raw := captureStdout(t, func() {
		code = run([]string{"nodevision", "recover", "--config", configPath, "--json", "--timeout", "10s"})
	})
	if code != exitOK {
		t.Fatalf("expected exit %d got %d: %s", exitOK, code, raw)
	}
	var output recoverOutput
	if err := json.Unmarshal([]byte(raw), &output); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if output.Phase != "found_local" || output.Candidate == nil || output.Candidate.Kind != "local" || output.Candidate.Summary.Nodes != 2 {
		t.Fatalf("unexpected output %s", raw)
	}
	if !strings.Contains(output.Candidate.Description, "local autosave") {
		t.Fatalf("unexpected description %q", output.Candidate.Description)
	}

	target := filepath.Join(workDir, "restored")
	raw = captureStdout(t, func() {
		code = run([]string{"nodevision", "recover", "--config", configPath, "--json", "--timeout", "10s", "--restore-to", target})
	})
	if code != exitOK {
		t.Fatalf("restore: expected exit %d got %d: %s", exitOK, code, raw)
	}
	output = recoverOutput{}
	if err := json.Unmarshal([]byte(raw), &output); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if output.Action != "restored" || output.RestoredTo != target+".nveproj" {
		t.Fatalf("unexpected restore output %s", raw)
	}
	restored, err := project.Parse(testutil.MustReadFile(t, target+".nveproj"))
	if err != nil {
		t.Fatalf("parse restored: %v", err)
	}
	if _, stamped := restored.Autosave(); stamped || len(restored.Nodes) != 2 {
		t.Fatalf("restored file must be the clean document")
	}
	if _, err := os.Stat(settings.AutosavePath()); !os.IsNotExist(err) {
		t.Fatalf("expected local autosave to be cleared, stat err=%v", err)
	}
}

func TestRecoverDiscardFallsThroughToBackend(t *testing.T) {
	workDir := isolate(t)
	server := newBackendServer(t)
	configPath, settings := writeConfig(t, workDir, server.URL)
	writeLocalAutosave(t, settings.AutosavePath())

	var code int
	raw := captureStdout(t, func() {
		code = run([]string{"nodevision", "recover", "--config", configPath, "--json", "--timeout", "10s", "--discard"})
	})
	if code != exitOK {
		t.Fatalf("expected exit %d got %d: %s", exitOK, code, raw)
	}
	var output recoverOutput
	if err := json.Unmarshal([]byte(raw), &output); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if output.Action != "discarded" || output.Phase != "no_candidate" || output.Candidate != nil {
		t.Fatalf("unexpected output %s", raw)
	}
	if _, err := os.Stat(settings.AutosavePath()); !os.IsNotExist(err) {
		t.Fatalf("expected local autosave to be cleared, stat err=%v", err)
	}
}

func TestRecoverWithoutCandidate(t *testing.T) {
	workDir := isolate(t)
	server := newBackendServer(t)
	configPath, _ := writeConfig(t, workDir, server.URL)

	var code int
	raw := captureStdout(t, func() {
		code = run([]string{"nodevision", "recover", "--config", configPath, "--json", "--restore-to", filepath.Join(workDir, "out")})
	})
	if code != exitNotFound {
		t.Fatalf("expected exit %d got %d: %s", exitNotFound, code, raw)
	}
}

func TestLoadEnvironmentReadsDotEnv(t *testing.T) {
	workDir := isolate(t)
	testutil.WriteFile(t, filepath.Join(workDir, ".env"), []byte("NODEVISION_SLOT=from-dotenv\n"))
	t.Cleanup(func() {
		_ = os.Unsetenv(config.EnvSlot)
	})
	_ = os.Unsetenv(config.EnvSlot)

	env, err := loadEnvironment("", io.Discard)
	if err != nil {
		t.Fatalf("load environment: %v", err)
	}
	if env.settings.Slot != "from-dotenv" {
		t.Fatalf("expected slot from .env, got %q", env.settings.Slot)
	}
	if _, err := loadEnvironment(filepath.Join(workDir, "missing.yaml"), io.Discard); coreerrors.CategoryOf(err) != coreerrors.CategoryInvalidInput {
		t.Fatalf("explicit missing config must fail, got %v", err)
	}
}

func TestNewLogger(t *testing.T) {
	if _, err := newLogger("verbose", "text", io.Discard); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	var buffer strings.Builder
	logger, err := newLogger("debug", "json", &buffer)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Debug("hello")
	if !strings.Contains(buffer.String(), `"msg":"hello"`) {
		t.Fatalf("expected JSON record, got %q", buffer.String())
	}
}

func TestClassifyWatchEvent(t *testing.T) {
	dir := t.TempDir()
	projectPath := filepath.Join(dir, "scene.nveproj")
	configPath := filepath.Join(dir, ".nodevision", "config.yaml")
	cases := []struct {
		name  string
		event fsnotify.Event
		want  watchTarget
	}{
		{"project write", fsnotify.Event{Name: projectPath, Op: fsnotify.Write}, watchProject},
		{"project replaced", fsnotify.Event{Name: projectPath, Op: fsnotify.Create}, watchProject},
		{"project chmod", fsnotify.Event{Name: projectPath, Op: fsnotify.Chmod}, watchIgnore},
		{"config write", fsnotify.Event{Name: configPath, Op: fsnotify.Write}, watchConfig},
		{"sibling", fsnotify.Event{Name: filepath.Join(dir, "other.nveproj"), Op: fsnotify.Write}, watchIgnore},
	}
	for _, tc := range cases {
		if got := classifyWatchEvent(tc.event, projectPath, configPath); got != tc.want {
			t.Fatalf("%s: expected %d got %d", tc.name, tc.want, got)
		}
	}
	if got := classifyWatchEvent(fsnotify.Event{Name: configPath, Op: fsnotify.Write}, projectPath, ""); got != watchIgnore {
		t.Fatalf("config events need a config path")
	}
}

func TestWatchDirs(t *testing.T) {
	dir := t.TempDir()
	projectPath := filepath.Join(dir, "scene.nveproj")
	if dirs := watchDirs(projectPath, filepath.Join(dir, "missing", "config.yaml")); len(dirs) != 1 {
		t.Fatalf("missing config dir must not be watched: %v", dirs)
	}
	if dirs := watchDirs(projectPath, filepath.Join(dir, "config.yaml")); len(dirs) != 1 {
		t.Fatalf("shared dir must be watched once: %v", dirs)
	}
	configDir := filepath.Join(dir, ".nodevision")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if dirs := watchDirs(projectPath, filepath.Join(configDir, "config.yaml")); len(dirs) != 2 || dirs[1] != configDir {
		t.Fatalf("unexpected dirs %v", dirs)
	}
}

func TestReorderInterspersedFlags(t *testing.T) {
	got := reorderInterspersedFlags([]string{"scene.nveproj", "--json", "--export", "issues.json", "--slot=s"}, map[string]bool{"export": true})
	want := []string{"--json", "--export", "issues.json", "--slot=s", "scene.nveproj"}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Fatalf("expected %v got %v", want, got)
	}
}

func TestExitCodeForError(t *testing.T) {
	cases := []struct {
		category coreerrors.Category
		want     int
	}{
		{coreerrors.CategoryInvalidInput, exitInvalidInput},
		{coreerrors.CategoryValidation, exitValidationFailed},
		{coreerrors.CategoryCorruptPayload, exitValidationFailed},
		{coreerrors.CategoryNotFound, exitNotFound},
		{coreerrors.CategoryNetworkTransient, exitBackendUnavailable},
		{coreerrors.CategoryIOFailure, exitInternalFailure},
	}
	for _, tc := range cases {
		err := coreerrors.Wrap(io.EOF, tc.category, "code", "", false)
		if got := exitCodeForError(err, exitOK); got != tc.want {
			t.Fatalf("%s: expected %d got %d", tc.category, tc.want, got)
		}
	}
	if got := exitCodeForError(io.EOF, exitValidationFailed); got != exitValidationFailed {
		t.Fatalf("unclassified errors use the fallback, got %d", got)
	}
}

// isolate runs the test in a fresh working directory with no backend or
// slot overrides from the environment.
func isolate(t *testing.T) string {
	t.Helper()
	workDir := t.TempDir()
	withWorkingDir(t, workDir)
	for _, key := range []string{config.EnvBackendURL, config.EnvBackendURLLegacy, config.EnvSlot, config.EnvBenchLog} {
		t.Setenv(key, "")
	}
	return workDir
}

func newBackendServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"status":"ok","service":"nodevision-backend","version":"0.1.0"}`)
	})
	mux.HandleFunc("/nodes/catalog", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `[{"nodeId":"ExposureAdjust","displayName":"Exposure","category":"Color","inputs":["video"],"outputs":["video"]}]`)
	})
	mux.HandleFunc("/projects/load", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"detail":{"message":"slot not found"}}`)
	})
	mux.HandleFunc("/preview/generate", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"detail":"renderer offline"}`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func writeConfig(t *testing.T, workDir, backendURL string) (string, config.Settings) {
	t.Helper()
	path := filepath.Join(workDir, "config.yaml")
	content := "backend:\n  url: " + backendURL + "\n  timeout: 5s\nstorage:\n  dir: " + filepath.Join(workDir, "state") + "\nlog:\n  level: error\n"
	testutil.WriteFile(t, path, []byte(content))
	loaded, err := config.Load(path, false)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	settings, err := loaded.Resolve(nil)
	if err != nil {
		t.Fatalf("resolve config: %v", err)
	}
	return path, settings
}

func writeLocalAutosave(t *testing.T, path string) {
	t.Helper()
	sample, err := project.Parse([]byte(testutil.SampleProjectJSON))
	if err != nil {
		t.Fatalf("parse sample: %v", err)
	}
	stamped := sample.WithAutosave(project.AutosaveRecord{
		SavedAt:    time.Now().Add(-3 * time.Minute),
		Reason:     autosave.ReasonAutoTimer,
		SourcePath: "/projects/scene.nveproj",
	})
	encoded, err := project.Marshal(stamped, 2)
	if err != nil {
		t.Fatalf("marshal autosave: %v", err)
	}
	testutil.WriteFile(t, path, encoded)
}

func withWorkingDir(t *testing.T, path string) {
	t.Helper()
	current, err := os.Getwd()
	if err != nil {
		t.Fatalf("get wd: %v", err)
	}
	if err := os.Chdir(path); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(current)
	})
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	original := os.Stdout
	reader, writer, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	os.Stdout = writer
	defer func() {
		os.Stdout = original
	}()

	type readResult struct {
		raw []byte
		err error
	}
	resultCh := make(chan readResult, 1)
	go func() {
		raw, readErr := io.ReadAll(reader)
		resultCh <- readResult{raw: raw, err: readErr}
	}()

	fn()

	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	result := <-resultCh
	if result.err != nil {
		t.Fatalf("read stdout: %v", result.err)
	}
	return strings.TrimSpace(string(result.raw))
}
