package metrics

import (
	"time"

	"github.com/hajimeno-ipoo/NodeVision-Editor/core/preview"
)

// PreviewFanout forwards preview observations to every member. Nil members
// are skipped.
type PreviewFanout []preview.Observer

func (f PreviewFanout) ObservePreview(outcome, profile string, latency time.Duration) {
	for _, observer := range f {
		if observer != nil {
			observer.ObservePreview(outcome, profile, latency)
		}
	}
}

func (f PreviewFanout) ObservePreviewResult(result preview.Result, latency time.Duration) {
	for _, observer := range f {
		if withResult, ok := observer.(preview.ResultObserver); ok {
			withResult.ObservePreviewResult(result, latency)
		}
	}
}
