package project

// Clone returns a deep copy. Params, inputs and metadata are copied value by
// value so snapshots never alias the live document.
func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	cloned := &Project{
		SchemaVersion:   p.SchemaVersion,
		MediaColorSpace: p.MediaColorSpace,
		ProjectFPS:      p.ProjectFPS,
		Metadata:        cloneMap(p.Metadata),
	}
	if p.ProjectResolution != nil {
		resolution := *p.ProjectResolution
		cloned.ProjectResolution = &resolution
	}
	cloned.Nodes = make([]Node, len(p.Nodes))
	for i, node := range p.Nodes {
		cloned.Nodes[i] = node.clone()
	}
	cloned.Edges = append([]Edge(nil), p.Edges...)
	cloned.Assets = append([]Asset(nil), p.Assets...)
	cloned.normalize()
	return cloned
}

func (n Node) clone() Node {
	cloned := n
	cloned.Params = cloneMap(n.Params)
	cloned.Inputs = cloneMap(n.Inputs)
	cloned.Outputs = append([]string(nil), n.Outputs...)
	if n.Position != nil {
		position := *n.Position
		cloned.Position = &position
	}
	return cloned
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = CloneValue(value)
	}
	return out
}

// CloneValue deep-copies a decoded JSON value.
func CloneValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return cloneMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i, entry := range typed {
			out[i] = CloneValue(entry)
		}
		return out
	case []string:
		return append([]string(nil), typed...)
	default:
		return typed
	}
}
