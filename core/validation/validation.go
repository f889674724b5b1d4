// Package validation checks project documents against the project JSON schema
// and reports structured issues instead of failing outright.
package validation

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/kaptinlin/jsonschema"

	coreerrors "github.com/hajimeno-ipoo/NodeVision-Editor/core/errors"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/project"
)

//go:embed project_schema_v1.json
var defaultSchema []byte

const (
	RootPath       = "(root)"
	DefaultMessage = "validation error"
	KeywordParse   = "parse"
)

// Issue is one schema violation. Path is a JSON pointer into the document.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
	Keyword string `json:"keyword"`
}

type Result struct {
	Valid   bool             `json:"valid"`
	Issues  []Issue          `json:"issues"`
	Summary *project.Summary `json:"summary,omitempty"`
}

// InvalidError is returned by Check and by gated saves.
type InvalidError struct {
	Issues []Issue
}

func (e *InvalidError) Error() string {
	if len(e.Issues) == 0 {
		return "project failed validation"
	}
	first := e.Issues[0]
	if len(e.Issues) == 1 {
		return fmt.Sprintf("project failed validation: %s: %s", first.Path, first.Message)
	}
	return fmt.Sprintf("project failed validation: %s: %s (and %d more)", first.Path, first.Message, len(e.Issues)-1)
}

// Invalid classifies issues as a validation failure.
func Invalid(issues []Issue) error {
	return coreerrors.Wrap(&InvalidError{Issues: issues}, coreerrors.CategoryValidation, "project_invalid", "fix the listed issues and save again", false)
}

// ParseFailure reports an undecodable document the same way a schema
// violation is reported.
func ParseFailure(cause error) error {
	return Invalid([]Issue{{Path: RootPath, Message: cause.Error(), Keyword: KeywordParse}})
}

// IssuesOf extracts the issues carried by err, if any.
func IssuesOf(err error) []Issue {
	var invalid *InvalidError
	if errors.As(err, &invalid) {
		return invalid.Issues
	}
	return nil
}

type Gate struct {
	schema *jsonschema.Schema
}

// NewGate compiles the embedded project schema.
func NewGate() (*Gate, error) {
	return NewGateFromBytes(defaultSchema)
}

func NewGateFromFile(path string) (*Gate, error) {
	// #nosec G304 -- schema path comes from configuration.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return NewGateFromBytes(data)
}

func NewGateFromBytes(data []byte) (*Gate, error) {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	schema, err := compiler.Compile(data)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Gate{schema: schema}, nil
}

// DefaultSchema returns a copy of the embedded schema document.
func DefaultSchema() []byte {
	return append([]byte(nil), defaultSchema...)
}

// Validate checks a raw JSON document. Undecodable input yields a single
// parse issue at the root.
func (g *Gate) Validate(doc []byte) Result {
	var decoded any
	if err := json.Unmarshal(doc, &decoded); err != nil {
		return Result{Issues: []Issue{{Path: RootPath, Message: err.Error(), Keyword: KeywordParse}}}
	}
	issues := collectIssues(g.schema.ValidateJSON(doc))
	if issues == nil {
		issues = []Issue{}
	}
	result := Result{Valid: len(issues) == 0, Issues: issues}
	if parsed, err := project.Parse(doc); err == nil {
		summary := parsed.Summary()
		result.Summary = &summary
	}
	return result
}

func (g *Gate) ValidateProject(p *project.Project) Result {
	if p == nil {
		return Result{Issues: []Issue{{Path: RootPath, Message: "project is missing", Keyword: "type"}}}
	}
	encoded, err := project.Marshal(p, 0)
	if err != nil {
		return Result{Issues: []Issue{{Path: RootPath, Message: err.Error(), Keyword: KeywordParse}}}
	}
	return g.Validate(encoded)
}

// Check returns a classified *InvalidError when p does not validate.
func (g *Gate) Check(p *project.Project) error {
	result := g.ValidateProject(p)
	if result.Valid {
		return nil
	}
	return Invalid(result.Issues)
}

// applicators only summarize failures reported by their subschemas.
var applicators = map[string]bool{
	"properties":            true,
	"patternProperties":     true,
	"additionalProperties":  true,
	"items":                 true,
	"prefixItems":           true,
	"contains":              true,
	"allOf":                 true,
	"anyOf":                 true,
	"oneOf":                 true,
	"not":                   true,
	"if":                    true,
	"then":                  true,
	"else":                  true,
	"$ref":                  true,
	"$dynamicRef":           true,
	"dependentSchemas":      true,
	"unevaluatedItems":      true,
	"unevaluatedProperties": true,
	"propertyNames":         true,
}

func collectIssues(result *jsonschema.EvaluationResult) []Issue {
	if result == nil || result.IsValid() {
		return nil
	}
	var leaves, aggregates []Issue
	walk(result, "", func(issue Issue) {
		if applicators[issue.Keyword] {
			aggregates = append(aggregates, issue)
			return
		}
		leaves = append(leaves, issue)
	})
	issues := leaves
	if len(issues) == 0 {
		issues = aggregates
	}
	if len(issues) == 0 {
		issues = []Issue{{Path: RootPath, Message: DefaultMessage}}
	}
	return dedupe(issues)
}

func walk(node *jsonschema.EvaluationResult, parent string, emit func(Issue)) {
	if node == nil || node.IsValid() {
		return
	}
	location := joinLocation(parent, node.InstanceLocation)
	for keyword, evaluation := range node.Errors {
		issue := Issue{Path: displayPath(location), Keyword: keyword, Message: DefaultMessage}
		if evaluation != nil {
			if evaluation.Keyword != "" {
				issue.Keyword = evaluation.Keyword
			}
			if message := strings.TrimSpace(evaluation.Error()); message != "" {
				issue.Message = message
			}
		}
		emit(issue)
	}
	for _, detail := range node.Details {
		walk(detail, location, emit)
	}
}

func joinLocation(parent, location string) string {
	location = strings.TrimPrefix(location, "#")
	if location == "" {
		return parent
	}
	if parent == "" || strings.HasPrefix(location, parent) {
		return location
	}
	return strings.TrimSuffix(parent, "/") + "/" + strings.TrimPrefix(location, "/")
}

func displayPath(location string) string {
	if location == "" || location == "/" {
		return RootPath
	}
	return location
}

func dedupe(issues []Issue) []Issue {
	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].Path != issues[j].Path {
			return issues[i].Path < issues[j].Path
		}
		if issues[i].Keyword != issues[j].Keyword {
			return issues[i].Keyword < issues[j].Keyword
		}
		return issues[i].Message < issues[j].Message
	})
	out := make([]Issue, 0, len(issues))
	for _, issue := range issues {
		if len(out) > 0 && out[len(out)-1] == issue {
			continue
		}
		out = append(out, issue)
	}
	return out
}
