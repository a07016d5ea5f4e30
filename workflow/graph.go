package workflow

import (
	"bytes"
	"encoding/json"
	"slices"
)

// Input is a named node input. Order follows the template document.
type Input struct {
	Name  string
	Value Value
}

type rawField struct {
	key string
	raw json.RawMessage
}

// Node is one operator in a ComfyUI API-format graph.
type Node struct {
	ID        string
	ClassType string
	// Title comes from _meta.title and is informational only.
	Title string

	inputs []Input
	meta   json.RawMessage
	extra  []rawField
}

// NewNode creates a node with the given id and class type.
func NewNode(id, classType string) *Node {
	return &Node{ID: id, ClassType: classType}
}

// Inputs returns a copy of the node's inputs in document order.
func (n *Node) Inputs() []Input {
	return slices.Clone(n.inputs)
}

// Input looks up an input by name.
func (n *Node) Input(name string) (Value, bool) {
	for _, in := range n.inputs {
		if in.Name == name {
			return in.Value, true
		}
	}
	return Value{}, false
}

// HasInput reports whether the node declares the named input.
func (n *Node) HasInput(name string) bool {
	_, ok := n.Input(name)
	return ok
}

// SetInput replaces an existing input in place or appends a new one, and
// returns the previous value if there was one.
func (n *Node) SetInput(name string, v Value) (Value, bool) {
	for i := range n.inputs {
		if n.inputs[i].Name == name {
			old := n.inputs[i].Value
			n.inputs[i].Value = v
			return old, true
		}
	}
	n.inputs = append(n.inputs, Input{Name: name, Value: v})
	return Value{}, false
}

// LiteralInputs returns the names of inputs that are not edge references.
func (n *Node) LiteralInputs() []string {
	names := make([]string, 0, len(n.inputs))
	for _, in := range n.inputs {
		if !in.Value.IsEdge() {
			names = append(names, in.Name)
		}
	}
	return names
}

// DisplayTitle is the _meta title when present, else the class type.
func (n *Node) DisplayTitle() string {
	if n.Title != "" {
		return n.Title
	}
	return n.ClassType
}

func (n *Node) clone() *Node {
	c := &Node{
		ID:        n.ID,
		ClassType: n.ClassType,
		Title:     n.Title,
		inputs:    make([]Input, len(n.inputs)),
		meta:      bytes.Clone(n.meta),
		extra:     make([]rawField, len(n.extra)),
	}
	for i, in := range n.inputs {
		v := in.Value
		v.raw = bytes.Clone(v.raw)
		c.inputs[i] = Input{Name: in.Name, Value: v}
	}
	for i, f := range n.extra {
		c.extra[i] = rawField{key: f.key, raw: bytes.Clone(f.raw)}
	}
	return c
}

// Graph is a ComfyUI workflow template: node id to node, in the template's
// own key order.
type Graph struct {
	ids   []string
	nodes map[string]*Node
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{nodes: make(map[string]*Node)}
}

// Add inserts a node. Re-adding an existing id replaces the node but keeps
// its original position.
func (g *Graph) Add(n *Node) {
	if _, exists := g.nodes[n.ID]; !exists {
		g.ids = append(g.ids, n.ID)
	}
	g.nodes[n.ID] = n
}

// Node looks up a node by id.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// IDs returns node ids in graph order.
func (g *Graph) IDs() []string {
	return slices.Clone(g.ids)
}

// Nodes returns nodes in graph order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.ids))
	for i, id := range g.ids {
		out[i] = g.nodes[id]
	}
	return out
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.ids)
}

// Clone returns a deep copy that shares nothing with g.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		ids:   slices.Clone(g.ids),
		nodes: make(map[string]*Node, len(g.nodes)),
	}
	for id, n := range g.nodes {
		c.nodes[id] = n.clone()
	}
	return c
}

// Equal compares two graphs by their canonical encoding.
func (g *Graph) Equal(other *Graph) bool {
	if g == nil || other == nil {
		return g == other
	}
	a, errA := g.MarshalJSON()
	b, errB := other.MarshalJSON()
	return errA == nil && errB == nil && bytes.Equal(a, b)
}
