// Package config loads the session configuration file and resolves it, with
// environment overrides, into the typed settings the engine runs with.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

const DefaultPath = ".nodevision/config.yaml"

const (
	DefaultBackendURL     = "http://127.0.0.1:8000"
	DefaultSlot           = "electron-preview"
	DefaultStorageDir     = ".nodevision"
	DefaultBackendTimeout = 30 * time.Second
	DefaultAutosaveDelay  = 5 * time.Second
	DefaultHistoryLimit   = 50
	DefaultProxyMode      = "auto"
	DefaultMaxRetries     = 3
	DefaultBackoffStep    = 5 * time.Second
	DefaultBackoffMax     = 30 * time.Second
	DefaultSlotDebounce   = 300 * time.Millisecond
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
)

// Environment variables consulted by Resolve.
const (
	EnvBackendURL       = "NODEVISION_BACKEND_URL"
	EnvBackendURLLegacy = "BACKEND_URL"
	EnvSlot             = "NODEVISION_SLOT"
	EnvBenchLog         = "BENCH_LOG"
)

// Config mirrors the YAML file. Durations stay strings until Resolve.
type Config struct {
	Backend  BackendConfig  `yaml:"backend"`
	Storage  StorageConfig  `yaml:"storage"`
	Autosave AutosaveConfig `yaml:"autosave"`
	History  HistoryConfig  `yaml:"history"`
	Preview  PreviewConfig  `yaml:"preview"`
	Recovery RecoveryConfig `yaml:"recovery"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type BackendConfig struct {
	URL     string `yaml:"url"`
	Slot    string `yaml:"slot"`
	Timeout string `yaml:"timeout"`
}

type StorageConfig struct {
	Dir    string `yaml:"dir"`
	Schema string `yaml:"schema"`
}

type AutosaveConfig struct {
	Delay      string `yaml:"delay"`
	AppVersion string `yaml:"app_version"`
}

type HistoryConfig struct {
	Limit int `yaml:"limit"`
}

type PreviewConfig struct {
	ProxyMode string `yaml:"proxy_mode"`
	Debounce  string `yaml:"debounce"`
	BenchLog  string `yaml:"bench_log"`
}

type RecoveryConfig struct {
	MaxRetries   int    `yaml:"max_retries"`
	BackoffStep  string `yaml:"backoff_step"`
	BackoffMax   string `yaml:"backoff_max"`
	SlotDebounce string `yaml:"slot_debounce"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Settings is the resolved configuration.
type Settings struct {
	BackendURL     string
	Slot           string
	BackendTimeout time.Duration
	StorageDir     string
	SchemaPath     string
	AutosaveDelay  time.Duration
	AppVersion     string
	HistoryLimit   int
	ProxyMode      string
	PreviewDelay   time.Duration
	BenchLog       string
	MaxRetries     int
	BackoffStep    time.Duration
	BackoffMax     time.Duration
	SlotDebounce   time.Duration
	LogLevel       string
	LogFormat      string
	MetricsAddr    string
}

// AutosavePath is where the local autosave document lives.
func (s Settings) AutosavePath() string {
	return filepath.Join(s.StorageDir, "autosave", "autosave.nveproj")
}

func Default() Settings {
	settings, _ := Config{}.Resolve(nil)
	return settings
}

func Load(path string, allowMissing bool) (Config, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return Config{}, fmt.Errorf("config path is required")
	}

	// #nosec G304 -- config path is explicit local user input.
	content, err := os.ReadFile(trimmedPath)
	if err != nil {
		if os.IsNotExist(err) && allowMissing {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if len(strings.TrimSpace(string(content))) == 0 {
		return Config{}, nil
	}

	var configuration Config
	if err := yaml.Unmarshal(content, &configuration); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	configuration.normalize()
	return configuration, nil
}

func (configuration *Config) normalize() {
	configuration.Backend.URL = strings.TrimRight(strings.TrimSpace(configuration.Backend.URL), "/")
	configuration.Backend.Slot = strings.TrimSpace(configuration.Backend.Slot)
	configuration.Backend.Timeout = strings.TrimSpace(configuration.Backend.Timeout)
	configuration.Storage.Dir = strings.TrimSpace(configuration.Storage.Dir)
	configuration.Storage.Schema = strings.TrimSpace(configuration.Storage.Schema)
	configuration.Autosave.Delay = strings.TrimSpace(configuration.Autosave.Delay)
	configuration.Autosave.AppVersion = strings.TrimSpace(configuration.Autosave.AppVersion)
	configuration.Preview.ProxyMode = strings.ToLower(strings.TrimSpace(configuration.Preview.ProxyMode))
	configuration.Preview.Debounce = strings.TrimSpace(configuration.Preview.Debounce)
	configuration.Preview.BenchLog = strings.TrimSpace(configuration.Preview.BenchLog)
	configuration.Recovery.BackoffStep = strings.TrimSpace(configuration.Recovery.BackoffStep)
	configuration.Recovery.BackoffMax = strings.TrimSpace(configuration.Recovery.BackoffMax)
	configuration.Recovery.SlotDebounce = strings.TrimSpace(configuration.Recovery.SlotDebounce)
	configuration.Log.Level = strings.ToLower(strings.TrimSpace(configuration.Log.Level))
	configuration.Log.Format = strings.ToLower(strings.TrimSpace(configuration.Log.Format))
	configuration.Metrics.Addr = strings.TrimSpace(configuration.Metrics.Addr)
}

// Resolve applies defaults and environment overrides. A nil getenv disables
// overrides.
func (configuration Config) Resolve(getenv func(string) string) (Settings, error) {
	if getenv == nil {
		getenv = func(string) string { return "" }
	}
	settings := Settings{
		BackendURL:   firstNonEmpty(getenv(EnvBackendURL), getenv(EnvBackendURLLegacy), configuration.Backend.URL, DefaultBackendURL),
		Slot:         firstNonEmpty(getenv(EnvSlot), configuration.Backend.Slot, DefaultSlot),
		StorageDir:   firstNonEmpty(configuration.Storage.Dir, DefaultStorageDir),
		SchemaPath:   configuration.Storage.Schema,
		AppVersion:   configuration.Autosave.AppVersion,
		HistoryLimit: configuration.History.Limit,
		ProxyMode:    firstNonEmpty(configuration.Preview.ProxyMode, DefaultProxyMode),
		BenchLog:     firstNonEmpty(getenv(EnvBenchLog), configuration.Preview.BenchLog),
		MaxRetries:   configuration.Recovery.MaxRetries,
		LogLevel:     firstNonEmpty(configuration.Log.Level, DefaultLogLevel),
		LogFormat:    firstNonEmpty(configuration.Log.Format, DefaultLogFormat),
		MetricsAddr:  configuration.Metrics.Addr,
	}
	settings.BackendURL = strings.TrimRight(strings.TrimSpace(settings.BackendURL), "/")
	settings.Slot = strings.TrimSpace(settings.Slot)

	if settings.HistoryLimit < 0 {
		return Settings{}, fmt.Errorf("history.limit must be >= 0")
	}
	if settings.HistoryLimit == 0 {
		settings.HistoryLimit = DefaultHistoryLimit
	}
	if settings.MaxRetries < 0 {
		return Settings{}, fmt.Errorf("recovery.max_retries must be >= 0")
	}
	if settings.MaxRetries == 0 {
		settings.MaxRetries = DefaultMaxRetries
	}
	switch settings.ProxyMode {
	case "auto", "on", "off":
	default:
		return Settings{}, fmt.Errorf("preview.proxy_mode must be auto, on or off, got %q", settings.ProxyMode)
	}
	switch settings.LogFormat {
	case "text", "json":
	default:
		return Settings{}, fmt.Errorf("log.format must be text or json, got %q", settings.LogFormat)
	}

	durations := []struct {
		key      string
		raw      string
		fallback time.Duration
		target   *time.Duration
	}{
		{"backend.timeout", configuration.Backend.Timeout, DefaultBackendTimeout, &settings.BackendTimeout},
		{"autosave.delay", configuration.Autosave.Delay, DefaultAutosaveDelay, &settings.AutosaveDelay},
		{"preview.debounce", configuration.Preview.Debounce, 0, &settings.PreviewDelay},
		{"recovery.backoff_step", configuration.Recovery.BackoffStep, DefaultBackoffStep, &settings.BackoffStep},
		{"recovery.backoff_max", configuration.Recovery.BackoffMax, DefaultBackoffMax, &settings.BackoffMax},
		{"recovery.slot_debounce", configuration.Recovery.SlotDebounce, DefaultSlotDebounce, &settings.SlotDebounce},
	}
	for _, entry := range durations {
		value, err := parseDuration(entry.raw, entry.fallback)
		if err != nil {
			return Settings{}, fmt.Errorf("%s: %w", entry.key, err)
		}
		*entry.target = value
	}
	return settings, nil
}

func parseDuration(raw string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if value < 0 {
		return 0, fmt.Errorf("duration must be >= 0")
	}
	return value, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
