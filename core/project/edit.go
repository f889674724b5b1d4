package project

import (
	"fmt"
	"slices"
	"strings"
)

// CatalogItem describes a node type the backend can evaluate.
type CatalogItem struct {
	NodeID      string   `json:"nodeId"`
	DisplayName string   `json:"displayName"`
	Category    string   `json:"category"`
	Inputs      []string `json:"inputs"`
	Outputs     []string `json:"outputs"`
}

const (
	gridColumns = 5
	gridStepX   = 120
	gridStepY   = 140
)

// WithNodeEdit returns a clone where the node's display name and params are
// replaced. An empty display name removes it.
func (p *Project) WithNodeEdit(nodeID, displayName string, params map[string]any) (*Project, error) {
	next := p.Clone()
	node, ok := next.NodeByID(nodeID)
	if !ok {
		return nil, fmt.Errorf("node %q not found", nodeID)
	}
	node.DisplayName = strings.TrimSpace(displayName)
	node.Params = cloneMap(params)
	if node.Params == nil {
		node.Params = map[string]any{}
	}
	return next, nil
}

// WithNodeAdded appends a node for the catalog item using the first free
// "<base>-<n>" id and a grid position. It returns the new node id.
func (p *Project) WithNodeAdded(item CatalogItem) (*Project, string) {
	next := p.Clone()
	base := strings.TrimSpace(item.NodeID)
	if base == "" {
		base = strings.TrimSpace(item.DisplayName)
	}
	if base == "" {
		base = "Node"
	}
	existing := make(map[string]struct{}, len(next.Nodes))
	for _, node := range next.Nodes {
		existing[node.ID] = struct{}{}
	}
	id := ""
	for counter := 1; ; counter++ {
		id = fmt.Sprintf("%s-%d", base, counter)
		if _, taken := existing[id]; !taken {
			break
		}
	}
	count := len(next.Nodes)
	next.Nodes = append(next.Nodes, Node{
		ID:          id,
		Type:        item.NodeID,
		DisplayName: item.DisplayName,
		Params:      map[string]any{},
		Inputs:      map[string]any{},
		Outputs:     append([]string{}, item.Outputs...),
		CachePolicy: CachePolicyAuto,
		Position: &Position{
			X: float64(gridStepX * (count % gridColumns)),
			Y: float64(gridStepY * (count / gridColumns)),
		},
	})
	return next, id
}

// WithoutSelection removes the selected nodes and edges, plus every edge and
// input binding that referenced a removed node.
func (p *Project) WithoutSelection(nodeIDs, edgeKeys []string) *Project {
	next := p.Clone()
	removed := func(ref string) bool {
		node, _, _ := strings.Cut(ref, ":")
		return slices.Contains(nodeIDs, node)
	}

	nodes := next.Nodes[:0]
	for _, node := range next.Nodes {
		if slices.Contains(nodeIDs, node.ID) {
			continue
		}
		for key, value := range node.Inputs {
			if ref, ok := value.(string); ok && removed(ref) {
				delete(node.Inputs, key)
			}
		}
		nodes = append(nodes, node)
	}
	next.Nodes = nodes

	edges := next.Edges[:0]
	for _, edge := range next.Edges {
		if slices.Contains(edgeKeys, edge.Key()) || removed(edge.From) || removed(edge.To) {
			continue
		}
		edges = append(edges, edge)
	}
	next.Edges = edges
	return next
}
