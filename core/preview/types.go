package preview

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hajimeno-ipoo/NodeVision-Editor/core/project"
)

// ProxyMode is forwarded to the renderer as-is; the renderer decides what a
// proxy render means.
type ProxyMode string

const (
	ProxyAuto ProxyMode = "auto"
	ProxyOn   ProxyMode = "on"
	ProxyOff  ProxyMode = "off"
)

func ParseProxyMode(value string) (ProxyMode, error) {
	switch mode := ProxyMode(strings.ToLower(strings.TrimSpace(value))); mode {
	case "":
		return ProxyAuto, nil
	case ProxyAuto, ProxyOn, ProxyOff:
		return mode, nil
	default:
		return "", fmt.Errorf("unsupported proxy mode %q (expected auto, on or off)", value)
	}
}

// ForceProxy maps the mode onto the renderer option: nil lets the renderer
// choose.
func (m ProxyMode) ForceProxy() *bool {
	switch m {
	case ProxyOn:
		value := true
		return &value
	case ProxyOff:
		value := false
		return &value
	default:
		return nil
	}
}

type Options struct {
	ForceProxy *bool `json:"forceProxy,omitempty"`
}

type Source struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type Proxy struct {
	Enabled        bool     `json:"enabled"`
	Scale          *float64 `json:"scale,omitempty"`
	Reason         string   `json:"reason,omitempty"`
	TargetDelayMs  *float64 `json:"targetDelayMs,omitempty"`
	AverageDelayMs *float64 `json:"averageDelayMs,omitempty"`
}

type Result struct {
	ImageBase64 string `json:"imageBase64"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Source      Source `json:"source"`
	Proxy       Proxy  `json:"proxy"`
	GeneratedAt string `json:"generatedAt"`
}

// ProxyScale is the reported scale, 1 when the renderer left it out.
func (r Result) ProxyScale() float64 {
	if r.Proxy.Scale == nil {
		return 1
	}
	return *r.Proxy.Scale
}

// Profile labels the render for latency accounting, e.g. "1920x1080" or
// "1920x1080_proxy_0.50".
func (r Result) Profile() string {
	profile := fmt.Sprintf("%dx%d", r.Source.Width, r.Source.Height)
	if r.Proxy.Enabled {
		profile += fmt.Sprintf("_proxy_%.2f", r.ProxyScale())
	}
	return profile
}

// Renderer produces a preview for a project snapshot. Implementations may
// block; the scheduler always calls them off the loop.
type Renderer interface {
	GeneratePreview(ctx context.Context, p *project.Project, opts Options) (Result, error)
}

type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusError   Status = "error"
)

// State is what the preview panel shows. Result survives a later loading or
// error status so the last good frame stays visible.
type State struct {
	Status    Status
	Result    *Result
	Profile   string
	Err       string
	RequestID uint64
	Latency   time.Duration
	UpdatedAt time.Time
}

// Outcome labels reported to an Observer.
const (
	OutcomeReady = "ready"
	OutcomeError = "error"
	OutcomeStale = "stale"
)

// Observer receives one call per finished render.
type Observer interface {
	ObservePreview(outcome, profile string, latency time.Duration)
}

// ResultObserver is an Observer that also wants every applied result.
type ResultObserver interface {
	Observer
	ObservePreviewResult(result Result, latency time.Duration)
}
