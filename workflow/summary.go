package workflow

import (
	"fmt"
	"strings"
)

// Summary is a short digest of a template's main generation parameters.
// Nil fields were absent or not literal.
type Summary struct {
	Checkpoint *string  `json:"checkpoint,omitempty"`
	Steps      *int     `json:"steps,omitempty"`
	CFG        *float64 `json:"cfg,omitempty"`
	Sampler    *string  `json:"sampler,omitempty"`
	Scheduler  *string  `json:"scheduler,omitempty"`
	Width      *int     `json:"width,omitempty"`
	Height     *int     `json:"height,omitempty"`
	NodeCount  int      `json:"node_count"`
}

// Summarize reads well-known literal inputs off the detected nodes.
func Summarize(g *Graph) Summary {
	s := Summary{NodeCount: g.Len()}
	m := Detect(g)

	if n, ok := g.Node(m.Sampler); ok {
		s.Steps = intInput(n, "steps")
		s.CFG = floatInput(n, "cfg")
		s.Sampler = stringInput(n, "sampler_name")
		s.Scheduler = stringInput(n, "scheduler")
	}
	if n, ok := g.Node(m.Latent); ok {
		s.Width = intInput(n, "width")
		s.Height = intInput(n, "height")
	}
	if n, ok := g.Node(m.Checkpoint); ok {
		s.Checkpoint = stringInput(n, "ckpt_name")
	}
	return s
}

func stringInput(n *Node, name string) *string {
	v, ok := n.Input(name)
	if !ok {
		return nil
	}
	if s, ok := v.AsString(); ok {
		return &s
	}
	return nil
}

func intInput(n *Node, name string) *int {
	v, ok := n.Input(name)
	if !ok {
		return nil
	}
	if i, ok := v.AsInt(); ok {
		return &i
	}
	return nil
}

func floatInput(n *Node, name string) *float64 {
	v, ok := n.Input(name)
	if !ok {
		return nil
	}
	if f, ok := v.AsFloat(); ok {
		return &f
	}
	return nil
}

// String renders the known fields on one line, e.g.
// "sd_xl_base.safetensors, 20 steps, cfg 7, euler/normal, 1024x1024, 7 nodes".
func (s Summary) String() string {
	var parts []string
	if s.Checkpoint != nil {
		parts = append(parts, *s.Checkpoint)
	}
	if s.Steps != nil {
		parts = append(parts, fmt.Sprintf("%d steps", *s.Steps))
	}
	if s.CFG != nil {
		parts = append(parts, fmt.Sprintf("cfg %g", *s.CFG))
	}
	switch {
	case s.Sampler != nil && s.Scheduler != nil:
		parts = append(parts, *s.Sampler+"/"+*s.Scheduler)
	case s.Sampler != nil:
		parts = append(parts, *s.Sampler)
	}
	if s.Width != nil && s.Height != nil {
		parts = append(parts, fmt.Sprintf("%dx%d", *s.Width, *s.Height))
	}
	parts = append(parts, fmt.Sprintf("%d nodes", s.NodeCount))
	return strings.Join(parts, ", ")
}
