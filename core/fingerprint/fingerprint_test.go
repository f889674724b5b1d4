package fingerprint

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/hajimeno-ipoo/NodeVision-Editor/core/project"
	"github.com/hajimeno-ipoo/NodeVision-Editor/internal/testutil"
)

func sample(t *testing.T) *project.Project {
	t.Helper()
	p, err := project.Parse([]byte(testutil.SampleProjectJSON))
	if err != nil {
		t.Fatalf("parse sample: %v", err)
	}
	return p
}

func TestNullProject(t *testing.T) {
	if got := Fingerprint(nil); got != Null {
		t.Fatalf("expected sentinel, got %s", got)
	}
}

func TestStableAcrossCalls(t *testing.T) {
	p := sample(t)
	first := Fingerprint(p)
	reparsed, err := project.Parse(mustMarshal(t, p))
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if Fingerprint(p) != first || Fingerprint(reparsed) != first {
		t.Fatalf("fingerprint not stable under re-serialization")
	}
	if strings.Contains(first, "\n") || !strings.HasPrefix(first, `{"assets":[`) {
		t.Fatalf("unexpected canonical form: %s", first)
	}
}

func TestIgnoresElementOrdering(t *testing.T) {
	p := sample(t)
	reordered := p.Clone()
	reordered.Nodes[0], reordered.Nodes[1] = reordered.Nodes[1], reordered.Nodes[0]
	reordered.Nodes[0].Outputs = []string{"video"}
	reordered.Edges = append(reordered.Edges, project.Edge{From: "a:out", To: "b:in"})
	p.Edges = append([]project.Edge{{From: "a:out", To: "b:in"}}, p.Edges...)
	reordered.Assets = append(reordered.Assets, project.Asset{ID: "asset-0", Path: "x", Hash: "h"})
	p.Assets = append([]project.Asset{{ID: "asset-0", Path: "x", Hash: "h"}}, p.Assets...)

	if Fingerprint(p) != Fingerprint(reordered) {
		t.Fatalf("expected ordering-insensitive fingerprint")
	}
}

func TestIgnoresPropertyInsertionOrder(t *testing.T) {
	a, err := project.Parse([]byte(`{"schemaVersion":"1.0.0","mediaColorSpace":"sRGB","projectFps":24,"nodes":[{"id":"n","type":"T","params":{"a":1,"b":{"x":1,"y":2}}}],"metadata":{"k":1,"j":2}}`))
	if err != nil {
		t.Fatalf("parse a: %v", err)
	}
	b, err := project.Parse([]byte(`{"metadata":{"j":2,"k":1},"nodes":[{"params":{"b":{"y":2,"x":1},"a":1},"type":"T","id":"n"}],"projectFps":24,"mediaColorSpace":"sRGB","schemaVersion":"1.0.0"}`))
	if err != nil {
		t.Fatalf("parse b: %v", err)
	}
	if Fingerprint(a) != Fingerprint(b) {
		t.Fatalf("expected key-order-insensitive fingerprint\n%s\n%s", Fingerprint(a), Fingerprint(b))
	}
}

func TestIgnoresAutosaveMetadata(t *testing.T) {
	p := sample(t)
	stamped := p.WithAutosave(project.AutosaveRecord{
		SavedAt:    time.Date(2025, 10, 26, 12, 0, 0, 0, time.UTC),
		Reason:     "auto-timer",
		SourcePath: "tmp/sample.nveproj",
	})
	if Fingerprint(p) != Fingerprint(stamped) {
		t.Fatalf("autosave metadata changed the fingerprint")
	}
	if Digest(p) != Digest(stamped) {
		t.Fatalf("autosave metadata changed the digest")
	}
}

func TestDetectsParameterChange(t *testing.T) {
	p := sample(t)
	edited := p.Clone()
	edited.Nodes[1].Params["exposure"] = 0.75
	if Fingerprint(p) == Fingerprint(edited) {
		t.Fatalf("expected parameter change to alter fingerprint")
	}
	changed, next := Changed(Fingerprint(p), edited)
	if !changed || next != Fingerprint(edited) {
		t.Fatalf("Changed did not report the edit")
	}
	changed, _ = Changed(Fingerprint(p), p.Clone())
	if changed {
		t.Fatalf("Changed reported an identical clone")
	}
}

func TestChangedTreatsEmptyPreviousAsNull(t *testing.T) {
	changed, next := Changed("", nil)
	if changed || next != Null {
		t.Fatalf("expected absent project to match empty previous, got changed=%t next=%s", changed, next)
	}
}

func TestRoundsToSixDecimals(t *testing.T) {
	p := sample(t)
	a := p.Clone()
	b := p.Clone()
	a.Nodes[1].Params["exposure"] = 0.1234564
	b.Nodes[1].Params["exposure"] = 0.1234561
	if Fingerprint(a) != Fingerprint(b) {
		t.Fatalf("expected values equal at 6 decimals to match")
	}
	b.Nodes[1].Params["exposure"] = 0.123457
	if Fingerprint(a) == Fingerprint(b) {
		t.Fatalf("expected values differing at 6 decimals to differ")
	}
}

func TestNonFiniteNumbersBecomeNull(t *testing.T) {
	p := sample(t)
	a := p.Clone()
	b := p.Clone()
	a.Nodes[1].Params["exposure"] = math.NaN()
	b.Nodes[1].Params["exposure"] = nil
	if Fingerprint(a) != Fingerprint(b) {
		t.Fatalf("expected NaN to normalize to null")
	}
	a.Nodes[1].Params["exposure"] = math.Inf(-1)
	if Fingerprint(a) != Fingerprint(b) {
		t.Fatalf("expected -Inf to normalize to null")
	}
}

func TestTypedProgrammaticValues(t *testing.T) {
	p := sample(t)
	a := p.Clone()
	b := p.Clone()
	a.Nodes[1].Params["levels"] = []int{1, 2}
	b.Nodes[1].Params["levels"] = []any{1.0, 2.0}
	if Fingerprint(a) != Fingerprint(b) {
		t.Fatalf("expected typed slices to normalize like decoded ones")
	}
}

func mustMarshal(t *testing.T, p *project.Project) []byte {
	t.Helper()
	encoded, err := project.Marshal(p, 2)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return encoded
}
