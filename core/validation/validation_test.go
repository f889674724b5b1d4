package validation

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	coreerrors "github.com/hajimeno-ipoo/NodeVision-Editor/core/errors"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/project"
	"github.com/hajimeno-ipoo/NodeVision-Editor/internal/testutil"
)

const minimalNodesSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "nodes": {"type": "array", "minItems": 1}
  }
}`

func mustGate(t *testing.T) *Gate {
	t.Helper()
	gate, err := NewGate()
	if err != nil {
		t.Fatalf("compile embedded schema: %v", err)
	}
	return gate
}

func TestSampleProjectIsValid(t *testing.T) {
	gate := mustGate(t)
	result := gate.Validate([]byte(testutil.SampleProjectJSON))
	if !result.Valid || len(result.Issues) != 0 {
		t.Fatalf("expected sample to validate, issues=%+v", result.Issues)
	}
	if result.Summary == nil || result.Summary.Nodes != 2 || result.Summary.Edges != 1 {
		t.Fatalf("unexpected summary: %+v", result.Summary)
	}
}

func TestEmptyNodesReportsOneIssueAtNodes(t *testing.T) {
	gate, err := NewGateFromBytes([]byte(minimalNodesSchema))
	if err != nil {
		t.Fatalf("compile schema: %v", err)
	}
	result := gate.Validate([]byte(`{"nodes": []}`))
	if result.Valid {
		t.Fatalf("expected empty nodes to fail")
	}
	if len(result.Issues) != 1 {
		t.Fatalf("expected exactly one issue, got %+v", result.Issues)
	}
	issue := result.Issues[0]
	if issue.Path != "/nodes" || issue.Keyword != "minItems" || issue.Message == "" {
		t.Fatalf("unexpected issue: %+v", issue)
	}
}

func TestMissingRequiredFieldReportsRootIssue(t *testing.T) {
	gate := mustGate(t)
	p, err := project.Parse([]byte(testutil.SampleProjectJSON))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	encoded, err := project.Marshal(p, 0)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	doc := strings.Replace(string(encoded), `"schemaVersion":"1.0.0",`, "", 1)
	result := gate.Validate([]byte(doc))
	if result.Valid {
		t.Fatalf("expected missing schemaVersion to fail")
	}
	found := false
	for _, issue := range result.Issues {
		if issue.Keyword == "required" && issue.Path == RootPath {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected required issue at root, got %+v", result.Issues)
	}
}

func TestMalformedDocumentIsParseIssue(t *testing.T) {
	gate := mustGate(t)
	result := gate.Validate([]byte(`{"nodes": [`))
	if result.Valid || len(result.Issues) != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Issues[0].Keyword != KeywordParse || result.Issues[0].Path != RootPath {
		t.Fatalf("unexpected parse issue: %+v", result.Issues[0])
	}
}

func TestCheckClassifiesFailures(t *testing.T) {
	gate := mustGate(t)
	p, err := project.Parse([]byte(testutil.SampleProjectJSON))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := gate.Check(p); err != nil {
		t.Fatalf("expected valid sample, got %v", err)
	}

	broken := p.Clone()
	broken.MediaColorSpace = "CMYK"
	err = gate.Check(broken)
	if err == nil {
		t.Fatalf("expected invalid color space to fail")
	}
	if coreerrors.CategoryOf(err) != coreerrors.CategoryValidation {
		t.Fatalf("unexpected category %q", coreerrors.CategoryOf(err))
	}
	var invalid *InvalidError
	if !errors.As(err, &invalid) || len(invalid.Issues) == 0 {
		t.Fatalf("expected *InvalidError with issues, got %v", err)
	}
	if IssuesOf(err)[0].Path != "/mediaColorSpace" {
		t.Fatalf("unexpected issue path: %+v", IssuesOf(err))
	}
	if gate.Check(nil) == nil {
		t.Fatalf("expected nil project to fail")
	}
}

func TestParseFailureCarriesRootIssue(t *testing.T) {
	err := ParseFailure(errors.New("unexpected end of JSON input"))
	issues := IssuesOf(err)
	if len(issues) != 1 || issues[0].Keyword != KeywordParse || issues[0].Path != RootPath {
		t.Fatalf("unexpected issues: %+v", issues)
	}
	if !strings.Contains(err.Error(), "unexpected end of JSON input") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestNewGateFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schema.json")
	testutil.WriteFile(t, path, []byte(minimalNodesSchema))
	gate, err := NewGateFromFile(path)
	if err != nil {
		t.Fatalf("load schema: %v", err)
	}
	if !gate.Validate([]byte(`{"nodes": [{}]}`)).Valid {
		t.Fatalf("expected one-node document to pass the minimal schema")
	}
	if _, err := NewGateFromFile(filepath.Join(dir, "missing.json")); err == nil {
		t.Fatalf("expected error for missing schema")
	}
	if _, err := NewGateFromBytes([]byte("{")); err == nil {
		t.Fatalf("expected error for malformed schema")
	}
}

func TestLocationHelpers(t *testing.T) {
	cases := []struct {
		parent, location, want string
	}{
		{"", "", ""},
		{"", "#/nodes", "/nodes"},
		{"/nodes", "/nodes/0", "/nodes/0"},
		{"/nodes", "0", "/nodes/0"},
		{"/nodes", "", "/nodes"},
	}
	for _, tc := range cases {
		if got := joinLocation(tc.parent, tc.location); got != tc.want {
			t.Fatalf("joinLocation(%q, %q) = %q want %q", tc.parent, tc.location, got, tc.want)
		}
	}
	if displayPath("") != RootPath || displayPath("/edges/0") != "/edges/0" {
		t.Fatalf("unexpected display paths")
	}
}

func TestDedupeSortsAndCollapses(t *testing.T) {
	issues := dedupe([]Issue{
		{Path: "/nodes", Keyword: "minItems", Message: "m"},
		{Path: "(root)", Keyword: "required", Message: "r"},
		{Path: "/nodes", Keyword: "minItems", Message: "m"},
	})
	if len(issues) != 2 || issues[0].Path != "(root)" {
		t.Fatalf("unexpected deduped issues: %+v", issues)
	}
}
