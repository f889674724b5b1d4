// Package fingerprint derives an order-independent canonical form of a project
// document for change detection. Autosave metadata never affects it.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"reflect"
	"sort"
	"strings"

	"github.com/gowebpki/jcs"

	"github.com/hajimeno-ipoo/NodeVision-Editor/core/project"
)

// Null is the fingerprint of an absent project.
const Null = "null"

const precision = 1e6

// Fingerprint returns the RFC 8785 canonical JSON of the normalized project.
func Fingerprint(p *project.Project) string {
	if p == nil {
		return Null
	}
	encoded, err := json.Marshal(payload(p))
	if err != nil {
		// normalize only yields JSON-safe values; unreachable in practice.
		return Null
	}
	canonical, err := jcs.Transform(encoded)
	if err != nil {
		return string(encoded)
	}
	return string(canonical)
}

// Digest is the sha256 hex of Fingerprint, short enough for logs and labels.
func Digest(p *project.Project) string {
	sum := sha256.Sum256([]byte(Fingerprint(p)))
	return hex.EncodeToString(sum[:])
}

// Changed reports whether p differs from the document that produced previous.
// An empty previous fingerprint is treated as the absent project.
func Changed(previous string, p *project.Project) (bool, string) {
	if previous == "" {
		previous = Null
	}
	next := Fingerprint(p)
	return previous != next, next
}

func payload(p *project.Project) map[string]any {
	stripped := p.StripAutosave()

	var resolution any
	if stripped.ProjectResolution != nil {
		resolution = map[string]any{
			"width":  normalize(stripped.ProjectResolution.Width),
			"height": normalize(stripped.ProjectResolution.Height),
		}
	}

	return map[string]any{
		"schemaVersion":     stripped.SchemaVersion,
		"mediaColorSpace":   stripped.MediaColorSpace,
		"projectFps":        normalize(stripped.ProjectFPS),
		"projectResolution": resolution,
		"nodes":             nodes(stripped.Nodes),
		"edges":             edges(stripped.Edges),
		"assets":            assets(stripped.Assets),
		"metadata":          normalize(stripped.Metadata),
	}
}

func nodes(in []project.Node) []any {
	sorted := append([]project.Node(nil), in...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return strings.Compare(sorted[i].ID, sorted[j].ID) < 0
	})
	out := make([]any, 0, len(sorted))
	for _, node := range sorted {
		outputs := append([]string(nil), node.Outputs...)
		sort.Strings(outputs)
		var position any
		if node.Position != nil {
			position = map[string]any{
				"x": normalize(node.Position.X),
				"y": normalize(node.Position.Y),
			}
		}
		out = append(out, map[string]any{
			"id":          node.ID,
			"type":        node.Type,
			"displayName": optional(node.DisplayName),
			"params":      normalize(node.Params),
			"inputs":      normalize(node.Inputs),
			"outputs":     normalize(outputs),
			"cachePolicy": optional(node.CachePolicy),
			"position":    position,
		})
	}
	return out
}

func edges(in []project.Edge) []any {
	sorted := append([]project.Edge(nil), in...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if byFrom := strings.Compare(sorted[i].From, sorted[j].From); byFrom != 0 {
			return byFrom < 0
		}
		return strings.Compare(sorted[i].To, sorted[j].To) < 0
	})
	out := make([]any, 0, len(sorted))
	for _, edge := range sorted {
		out = append(out, map[string]any{
			"from":     edge.From,
			"to":       edge.To,
			"disabled": edge.Disabled,
		})
	}
	return out
}

func assets(in []project.Asset) []any {
	sorted := append([]project.Asset(nil), in...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return strings.Compare(sorted[i].ID, sorted[j].ID) < 0
	})
	out := make([]any, 0, len(sorted))
	for _, asset := range sorted {
		var bitDepth any
		if asset.BitDepth != 0 {
			bitDepth = normalize(asset.BitDepth)
		}
		out = append(out, map[string]any{
			"id":         asset.ID,
			"path":       asset.Path,
			"hash":       asset.Hash,
			"proxyPath":  optional(asset.ProxyPath),
			"colorSpace": optional(asset.ColorSpace),
			"bitDepth":   bitDepth,
		})
	}
	return out
}

func optional(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// normalize maps a decoded or programmatic value onto JSON-safe values with
// fixed float precision. Maps need no sorting here: jcs orders keys.
func normalize(value any) any {
	switch typed := value.(type) {
	case nil:
		return nil
	case string, bool:
		return typed
	case float64:
		return round(typed)
	case float32:
		return round(float64(typed))
	case int:
		return round(float64(typed))
	case int64:
		return round(float64(typed))
	case int32:
		return round(float64(typed))
	case uint:
		return round(float64(typed))
	case uint64:
		return round(float64(typed))
	case json.Number:
		parsed, err := typed.Float64()
		if err != nil {
			return nil
		}
		return round(parsed)
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, entry := range typed {
			out[key] = normalize(entry)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, entry := range typed {
			out[i] = normalize(entry)
		}
		return out
	case []string:
		out := make([]any, len(typed))
		for i, entry := range typed {
			out[i] = entry
		}
		return out
	}
	return normalizeReflected(value)
}

// normalizeReflected handles typed values set programmatically (structs,
// typed slices) by routing them through their JSON form.
func normalizeReflected(value any) any {
	if reflect.ValueOf(value).Kind() == reflect.Func {
		return nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil
	}
	var generic any
	if err := json.Unmarshal(encoded, &generic); err != nil {
		return nil
	}
	return normalize(generic)
}

func round(value float64) any {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil
	}
	if math.Abs(value) >= 1e15 {
		return value
	}
	rounded := math.Round(value*precision) / precision
	if rounded == 0 {
		// Collapse negative zero.
		return float64(0)
	}
	return rounded
}
