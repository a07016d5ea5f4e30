package workflow

import (
	"fmt"
	"strings"
)

const (
	promptMarker    = " <- prompt injected here at generation"
	referenceMarker = " <- reference image injected here"
)

// Describe renders every node with its editable (non-edge) inputs, marking
// the nodes that generation fills in automatically.
func Describe(g *Graph) string {
	m := Detect(g)
	var b strings.Builder

	for _, n := range g.Nodes() {
		marker := ""
		switch {
		case n.ID == m.PositivePrompt:
			marker = promptMarker
		case m.IsReferenceImage(n.ID):
			marker = referenceMarker
		}
		fmt.Fprintf(&b, "Node #%s (%s) - %s%s\n", n.ID, n.ClassType, n.DisplayTitle(), marker)
		for _, in := range n.Inputs() {
			if in.Value.IsEdge() || isArray(in.Value) {
				continue
			}
			fmt.Fprintf(&b, "  %s: %s\n", in.Name, in.Value)
		}
		b.WriteByte('\n')
	}

	b.WriteString("To modify a parameter, use action \"modify\" with nodeId, input, and value.\n")
	b.WriteString("Example: nodeId=\"3\", input=\"steps\", value=\"30\"")
	return b.String()
}

func isArray(v Value) bool {
	raw := v.Raw()
	return len(raw) > 0 && raw[0] == '['
}
