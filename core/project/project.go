// Package project holds the project document the session edits: its nodes,
// edges, assets, scalar settings and free-form metadata.
package project

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	FileExtension = ".nveproj"

	CachePolicyAuto   = "auto"
	CachePolicyAlways = "always"
	CachePolicyNever  = "never"
)

type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Node struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	DisplayName string         `json:"displayName,omitempty"`
	Params      map[string]any `json:"params"`
	Inputs      map[string]any `json:"inputs"`
	Outputs     []string       `json:"outputs"`
	CachePolicy string         `json:"cachePolicy,omitempty"`
	Position    *Position      `json:"position,omitempty"`
}

// Edge connects two ports written as "node:port".
type Edge struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Disabled bool   `json:"disabled,omitempty"`
}

// Key is the selection key used by the graph editor.
func (e Edge) Key() string {
	return e.From + "->" + e.To
}

type Asset struct {
	ID         string `json:"id"`
	Path       string `json:"path"`
	Hash       string `json:"hash"`
	ProxyPath  string `json:"proxyPath,omitempty"`
	ColorSpace string `json:"colorSpace,omitempty"`
	BitDepth   int    `json:"bitDepth,omitempty"`
}

type Project struct {
	SchemaVersion     string         `json:"schemaVersion"`
	MediaColorSpace   string         `json:"mediaColorSpace"`
	ProjectFPS        float64        `json:"projectFps"`
	ProjectResolution *Resolution    `json:"projectResolution,omitempty"`
	Nodes             []Node         `json:"nodes"`
	Edges             []Edge         `json:"edges"`
	Assets            []Asset        `json:"assets"`
	Metadata          map[string]any `json:"metadata"`
}

// Summary is the short description shown after loads and saves.
type Summary struct {
	Nodes         int     `json:"nodes"`
	Edges         int     `json:"edges"`
	Assets        int     `json:"assets"`
	FPS           float64 `json:"fps"`
	ColorSpace    string  `json:"colorSpace"`
	SchemaVersion string  `json:"schemaVersion"`
}

func (p *Project) Summary() Summary {
	if p == nil {
		return Summary{}
	}
	return Summary{
		Nodes:         len(p.Nodes),
		Edges:         len(p.Edges),
		Assets:        len(p.Assets),
		FPS:           p.ProjectFPS,
		ColorSpace:    p.MediaColorSpace,
		SchemaVersion: p.SchemaVersion,
	}
}

func (p *Project) NodeByID(id string) (*Node, bool) {
	if p == nil {
		return nil, false
	}
	for i := range p.Nodes {
		if p.Nodes[i].ID == id {
			return &p.Nodes[i], true
		}
	}
	return nil, false
}

// normalize replaces nil collections with empty ones so the document always
// serializes with the shapes the schema expects.
func (p *Project) normalize() {
	if p.Nodes == nil {
		p.Nodes = []Node{}
	}
	if p.Edges == nil {
		p.Edges = []Edge{}
	}
	if p.Assets == nil {
		p.Assets = []Asset{}
	}
	if p.Metadata == nil {
		p.Metadata = map[string]any{}
	}
	for i := range p.Nodes {
		if p.Nodes[i].Params == nil {
			p.Nodes[i].Params = map[string]any{}
		}
		if p.Nodes[i].Inputs == nil {
			p.Nodes[i].Inputs = map[string]any{}
		}
		if p.Nodes[i].Outputs == nil {
			p.Nodes[i].Outputs = []string{}
		}
	}
}

// Parse decodes a project document. Structural checks beyond JSON shape are
// the validation gate's job.
func Parse(data []byte) (*Project, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("project document is empty")
	}
	var decoded Project
	if err := json.Unmarshal(trimmed, &decoded); err != nil {
		return nil, fmt.Errorf("decode project: %w", err)
	}
	decoded.normalize()
	return &decoded, nil
}

// Marshal encodes the project with the given indent width (0 for compact).
func Marshal(p *Project, indent int) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("project is nil")
	}
	normalized := p.Clone()
	if indent <= 0 {
		return json.Marshal(normalized)
	}
	return json.MarshalIndent(normalized, "", strings.Repeat(" ", indent))
}
