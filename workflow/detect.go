package workflow

import "strings"

// NodeMap records the role each detected node plays. Empty fields mean the
// role was not found; detection is best effort.
type NodeMap struct {
	PositivePrompt  string   `json:"positive_prompt,omitempty"`
	NegativePrompt  string   `json:"negative_prompt,omitempty"`
	Sampler         string   `json:"sampler,omitempty"`
	Checkpoint      string   `json:"checkpoint,omitempty"`
	Latent          string   `json:"latent,omitempty"`
	Output          string   `json:"output,omitempty"`
	ReferenceImages []string `json:"reference_images,omitempty"`
}

// IsReferenceImage reports whether id is one of the detected image loaders.
func (m NodeMap) IsReferenceImage(id string) bool {
	for _, ref := range m.ReferenceImages {
		if ref == id {
			return true
		}
	}
	return false
}

type detectStep func(g *Graph, m *NodeMap)

// detectSteps run in order. Later steps may depend on fields set by earlier
// ones, so the order is part of the contract.
var detectSteps = []detectStep{
	detectSampler,
	detectSamplerPrompts,
	detectFallbackPrompt,
	detectReferenceImages,
	detectFirst(func(m *NodeMap, id string) { m.Checkpoint = id }, "checkpoint"),
	detectFirst(func(m *NodeMap, id string) { m.Latent = id }, "latentimage", "emptylatent"),
	detectFirst(func(m *NodeMap, id string) { m.Output = id }, "saveimage", "previewimage"),
}

// Detect infers node roles from the graph's structure. It never fails.
func Detect(g *Graph) NodeMap {
	var m NodeMap
	if g == nil {
		return m
	}
	for _, step := range detectSteps {
		step(g, &m)
	}
	return m
}

func kindContains(n *Node, substrings ...string) bool {
	kind := strings.ToLower(n.ClassType)
	for _, s := range substrings {
		if strings.Contains(kind, s) {
			return true
		}
	}
	return false
}

func firstMatching(g *Graph, substrings ...string) string {
	for _, n := range g.Nodes() {
		if kindContains(n, substrings...) {
			return n.ID
		}
	}
	return ""
}

func detectFirst(set func(m *NodeMap, id string), substrings ...string) detectStep {
	return func(g *Graph, m *NodeMap) {
		if id := firstMatching(g, substrings...); id != "" {
			set(m, id)
		}
	}
}

func detectSampler(g *Graph, m *NodeMap) {
	m.Sampler = firstMatching(g, "sampler")
}

func detectSamplerPrompts(g *Graph, m *NodeMap) {
	if m.Sampler == "" {
		return
	}
	sampler, _ := g.Node(m.Sampler)
	m.PositivePrompt = followTextEdge(g, sampler, "positive")
	m.NegativePrompt = followTextEdge(g, sampler, "negative")
}

// followTextEdge returns the node an edge input points at, provided that node
// carries a literal string "text" input.
func followTextEdge(g *Graph, from *Node, input string) string {
	v, ok := from.Input(input)
	if !ok {
		return ""
	}
	ref, ok := v.Edge()
	if !ok {
		return ""
	}
	target, ok := g.Node(ref.NodeID)
	if !ok {
		return ""
	}
	text, ok := target.Input("text")
	if !ok {
		return ""
	}
	if _, ok := text.AsString(); !ok {
		return ""
	}
	return target.ID
}

func detectFallbackPrompt(g *Graph, m *NodeMap) {
	if m.PositivePrompt != "" {
		return
	}
	for _, n := range g.Nodes() {
		v, ok := n.Input("text")
		if !ok {
			continue
		}
		if s, ok := v.AsString(); ok && s != "" {
			m.PositivePrompt = n.ID
			return
		}
	}
}

func detectReferenceImages(g *Graph, m *NodeMap) {
	for _, n := range g.Nodes() {
		if kindContains(n, "loadimage") {
			m.ReferenceImages = append(m.ReferenceImages, n.ID)
		}
	}
}
