package metrics

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/hajimeno-ipoo/NodeVision-Editor/core/fsx"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/preview"
)

const DefaultBenchLog = "tmp/preview_bench.log"

// BenchLog appends one record per applied preview in the bench format
// "TAG,profile,value", the same file the backend averages delays from.
type BenchLog struct {
	path   string
	logger *slog.Logger
	// memoryMB is swapped in tests.
	memoryMB func() float64
}

func NewBenchLog(path string, logger *slog.Logger) *BenchLog {
	if strings.TrimSpace(path) == "" {
		path = filepath.FromSlash(DefaultBenchLog)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BenchLog{
		path:     path,
		logger:   logger.With(slog.String("component", "bench")),
		memoryMB: processMemoryMB,
	}
}

func (b *BenchLog) Path() string {
	return b.path
}

// ObservePreview is a no-op; records are written from the full result.
func (b *BenchLog) ObservePreview(string, string, time.Duration) {}

func (b *BenchLog) ObservePreviewResult(result preview.Result, latency time.Duration) {
	if err := fsx.AppendLines(b.path, BenchLines(result, latency, b.memoryMB()), fsx.FileMode); err != nil {
		b.logger.Warn("bench log append failed", slog.String("path", b.path), slog.String("error", err.Error()))
	}
}

// BenchLines renders the record for one preview.
func BenchLines(result preview.Result, latency time.Duration, memoryMB float64) []string {
	profile := result.Profile()
	delayMs := float64(latency) / float64(time.Millisecond)
	lines := []string{
		fmt.Sprintf("PREVIEW_DELAY,%s,%.2f", profile, delayMs),
		fmt.Sprintf("MEM_USAGE,%s,%.2f", profile, memoryMB),
	}
	if result.Proxy.Scale != nil {
		lines = append(lines, fmt.Sprintf("PROXY_SCALE,%s,%.2f", profile, *result.Proxy.Scale))
	}
	enabled := "0"
	if result.Proxy.Enabled {
		enabled = "1"
	}
	lines = append(lines, fmt.Sprintf("PROXY_ENABLED,%s,%s", profile, enabled))
	if reason := strings.TrimSpace(result.Proxy.Reason); reason != "" && !strings.ContainsAny(reason, "\r\n") {
		lines = append(lines, fmt.Sprintf("PROXY_REASON,%s,%s", profile, reason))
	}
	if result.Proxy.TargetDelayMs != nil {
		lines = append(lines, fmt.Sprintf("DELAY_TARGET,%s,%.2f", profile, *result.Proxy.TargetDelayMs))
	}
	if result.Proxy.AverageDelayMs != nil {
		lines = append(lines, fmt.Sprintf("DELAY_SNAPSHOT,%s,%.2f", profile, *result.Proxy.AverageDelayMs))
	}
	return lines
}

func processMemoryMB() float64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return float64(stats.Sys) / (1024 * 1024)
}
