package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hajimeno-ipoo/NodeVision-Editor/core/autosave"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/backend"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/config"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/eventloop"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/fingerprint"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/metrics"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/preview"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/project"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/projectfile"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/session"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/validation"
)

// Editors often write a file in several steps; changes inside this window
// collapse into one reload.
const watchSettle = 150 * time.Millisecond

type watchTarget int

const (
	watchIgnore watchTarget = iota
	watchProject
	watchConfig
)

func runWatch(arguments []string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("Open a project in a live session: file changes become undoable edits with debounced preview and autosave, config changes re-target the backend slot, and metrics are served over HTTP.")
	}
	arguments = reorderInterspersedFlags(arguments, map[string]bool{
		"config":       true,
		"slot":         true,
		"metrics-addr": true,
		"bench-log":    true,
		"proxy":        true,
	})
	flagSet := flag.NewFlagSet("watch", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var configPath string
	var slot string
	var metricsAddr string
	var benchLog string
	var proxyMode string
	var noBench bool
	var helpFlag bool

	flagSet.StringVar(&configPath, "config", "", "path to config.yaml")
	flagSet.StringVar(&slot, "slot", "", "backend slot (overrides config and environment)")
	flagSet.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	flagSet.StringVar(&benchLog, "bench-log", "", "preview bench log path (default: BENCH_LOG or "+metrics.DefaultBenchLog+")")
	flagSet.StringVar(&proxyMode, "proxy", "", "preview proxy mode: auto, on or off")
	flagSet.BoolVar(&noBench, "no-bench", false, "do not write the preview bench log")
	flagSet.BoolVar(&helpFlag, "help", false, "show help")

	if err := flagSet.Parse(arguments); err != nil {
		fmt.Printf("watch error: %s\n", err)
		return exitInvalidInput
	}
	if helpFlag {
		printWatchUsage()
		return exitOK
	}
	if len(flagSet.Args()) != 1 {
		fmt.Println("watch error: expected exactly one project path")
		return exitInvalidInput
	}
	projectPath, err := filepath.Abs(flagSet.Arg(0))
	if err != nil {
		fmt.Printf("watch error: %s\n", err)
		return exitInvalidInput
	}

	env, err := loadEnvironment(configPath, os.Stderr)
	if err != nil {
		fmt.Printf("watch error: %s\n", err)
		return exitCodeForError(err, exitInvalidInput)
	}
	if strings.TrimSpace(slot) != "" {
		env.settings.Slot = slot
	}
	if strings.TrimSpace(proxyMode) != "" {
		env.settings.ProxyMode = strings.ToLower(strings.TrimSpace(proxyMode))
	}
	if strings.TrimSpace(metricsAddr) != "" {
		env.settings.MetricsAddr = metricsAddr
	}
	if strings.TrimSpace(benchLog) != "" {
		env.settings.BenchLog = benchLog
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := watchProjectFile(ctx, env, projectPath, noBench); err != nil {
		fmt.Printf("watch error: %s\n", err)
		return exitCodeForError(err, exitInternalFailure)
	}
	return exitOK
}

func watchProjectFile(ctx context.Context, env environment, projectPath string, noBench bool) error {
	logger := env.logger
	client, err := backend.New(backend.Options{
		BaseURL: env.settings.BackendURL,
		Timeout: env.settings.BackendTimeout,
		Gate:    env.gate,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	sessionMetrics := metrics.New(metrics.Options{ProcessCollectors: true})
	previewObservers := metrics.PreviewFanout{sessionMetrics}
	if !noBench {
		bench := metrics.NewBenchLog(env.settings.BenchLog, logger)
		previewObservers = append(previewObservers, bench)
		logger.Info("preview bench log enabled", slog.String("path", bench.Path()))
	}

	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	loop := eventloop.NewLoop(loopCtx)
	loopDone := make(chan error, 1)
	go func() {
		loopDone <- loop.Run()
	}()

	reporter := &watchReporter{logger: logger}
	controller, err := session.New(session.Config{
		Runtime:  loop,
		Backend:  client,
		Local:    autosave.NewFileStore(env.settings.AutosavePath(), env.gate),
		Gate:     env.gate,
		Settings: env.settings,
		Logger:   logger,
		Observers: session.Observers{
			Preview:  previewObservers,
			Autosave: sessionMetrics,
			Recovery: sessionMetrics,
		},
		OnChange: reporter.observe,
	})
	if err != nil {
		return err
	}

	var server *http.Server
	if addr := strings.TrimSpace(env.settings.MetricsAddr); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", sessionMetrics.Handler())
		server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", slog.String("addr", addr), slog.String("error", err.Error()))
			}
		}()
		logger.Info("serving metrics", slog.String("addr", addr))
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() {
		_ = watcher.Close()
	}()
	configPath := ""
	if absolute, err := filepath.Abs(env.configPath); err == nil {
		configPath = absolute
	}
	for _, dir := range watchDirs(projectPath, configPath) {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	reloader := &projectReloader{
		loop:       loop,
		controller: controller,
		gate:       env.gate,
		path:       projectPath,
		logger:     logger,
	}
	loop.Post(func() {
		controller.Start()
		controller.FetchCatalog()
		controller.OpenPath(projectPath)
	})
	logger.Info("watching project", slog.String("path", projectPath), slog.String("slot", env.settings.Slot))

	var watchErr error
	running := true
	for running {
		select {
		case <-ctx.Done():
			running = false
		case event, ok := <-watcher.Events:
			if !ok {
				watchErr = fmt.Errorf("watcher closed unexpectedly")
				running = false
				continue
			}
			switch classifyWatchEvent(event, projectPath, configPath) {
			case watchProject:
				loop.Post(reloader.schedule)
			case watchConfig:
				reloadConfig(loop, controller, configPath, logger)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				watchErr = fmt.Errorf("watcher error channel closed")
				running = false
				continue
			}
			logger.Warn("file watcher error", slog.String("error", err.Error()))
		}
	}

	_ = loop.Do(controller.Close)
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = server.Shutdown(shutdownCtx)
		cancel()
	}
	stopLoop()
	<-loopDone
	logger.Info("watch stopped")
	return watchErr
}

// watchDirs lists the directories to watch. Files are watched through their
// directory so atomic replaces are seen.
func watchDirs(projectPath, configPath string) []string {
	dirs := []string{filepath.Dir(projectPath)}
	if configPath == "" {
		return dirs
	}
	configDir := filepath.Dir(configPath)
	if info, err := os.Stat(configDir); err != nil || !info.IsDir() {
		return dirs
	}
	if configDir != dirs[0] {
		dirs = append(dirs, configDir)
	}
	return dirs
}

func classifyWatchEvent(event fsnotify.Event, projectPath, configPath string) watchTarget {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return watchIgnore
	}
	name := filepath.Clean(event.Name)
	switch {
	case name == filepath.Clean(projectPath):
		return watchProject
	case configPath != "" && name == filepath.Clean(configPath):
		return watchConfig
	default:
		return watchIgnore
	}
}

func reloadConfig(loop *eventloop.Loop, controller *session.Controller, configPath string, logger *slog.Logger) {
	loaded, err := config.Load(configPath, true)
	if err != nil {
		logger.Warn("config reload failed", slog.String("path", configPath), slog.String("error", err.Error()))
		return
	}
	settings, err := loaded.Resolve(os.Getenv)
	if err != nil {
		logger.Warn("config reload failed", slog.String("path", configPath), slog.String("error", err.Error()))
		return
	}
	loop.Post(func() {
		controller.SetSlot(settings.Slot)
		if mode, err := preview.ParseProxyMode(settings.ProxyMode); err == nil {
			controller.SetProxyMode(mode)
		}
	})
	logger.Info("config reloaded", slog.String("slot", settings.Slot), slog.String("proxy_mode", settings.ProxyMode))
}

// projectReloader turns file changes into session edits. Its fields are only
// touched on the loop.
type projectReloader struct {
	loop       *eventloop.Loop
	controller *session.Controller
	gate       *validation.Gate
	path       string
	logger     *slog.Logger
	timer      eventloop.Timer
	generation uint64
}

func (r *projectReloader) schedule() {
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = r.loop.AfterFunc(watchSettle, r.reload)
}

func (r *projectReloader) reload() {
	r.timer = nil
	r.generation++
	generation := r.generation
	eventloop.Call(r.loop,
		func(context.Context) (*project.Project, error) {
			return projectfile.Load(r.path, r.gate)
		},
		func(loaded *project.Project, err error) {
			if generation != r.generation {
				return
			}
			if err != nil {
				r.logger.Warn("project reload rejected", slog.String("path", r.path), slog.String("error", err.Error()))
				return
			}
			current := r.controller.View().Project
			if current == nil {
				_ = r.controller.LoadProject(loaded, r.path)
				return
			}
			if fingerprint.Fingerprint(current) == fingerprint.Fingerprint(loaded) {
				return
			}
			if err := r.controller.Apply(loaded, true); err != nil {
				r.logger.Warn("project reload failed", slog.String("error", err.Error()))
				return
			}
			r.logger.Info("project change applied", slog.String("digest", fingerprint.Digest(loaded)))
		},
	)
}

// watchReporter logs visible status transitions.
type watchReporter struct {
	logger   *slog.Logger
	preview  preview.Status
	autosave autosave.Status
	recovery string
	err      string
}

func (r *watchReporter) observe(view session.View) {
	if view.Preview.Status != r.preview {
		r.preview = view.Preview.Status
		attrs := []any{slog.String("status", string(r.preview))}
		if view.Preview.Profile != "" {
			attrs = append(attrs, slog.String("profile", view.Preview.Profile), slog.Duration("latency", view.Preview.Latency))
		}
		if view.Preview.Err != "" {
			attrs = append(attrs, slog.String("error", view.Preview.Err))
		}
		r.logger.Info("preview", attrs...)
	}
	if view.Autosave.Status != r.autosave {
		r.autosave = view.Autosave.Status
		r.logger.Info("autosave", slog.String("status", string(r.autosave)), slog.Bool("dirty", view.Autosave.Dirty), slog.String("path", view.Autosave.LastPath))
	}
	if phase := string(view.Recovery.Phase); phase != r.recovery {
		r.recovery = phase
		if view.RecoveryPrompt != "" {
			r.logger.Info("recovery candidate available", slog.String("phase", phase), slog.String("candidate", view.RecoveryPrompt))
		} else {
			r.logger.Info("recovery", slog.String("phase", phase))
		}
	}
	if view.Err != r.err {
		r.err = view.Err
		if r.err != "" {
			r.logger.Warn("session error", slog.String("error", r.err))
		}
	}
}

func printWatchUsage() {
	fmt.Println("Usage:")
	fmt.Println("  nodevision watch <project.nveproj> [--config <config.yaml>] [--slot <slot>] [--proxy auto|on|off] [--metrics-addr <host:port>] [--bench-log <path>] [--no-bench] [--explain]")
}
