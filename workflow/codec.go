package workflow

import (
	"bytes"
	"encoding/json"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"

	"github.com/BaSui01/imageflow/types"
)

const (
	keyClassType = "class_type"
	keyInputs    = "inputs"
	keyMeta      = "_meta"
)

var indentOptions = &pretty.Options{
	Width:    80,
	Prefix:   "",
	Indent:   "  ",
	SortKeys: false,
}

// Parse decodes a ComfyUI API-format template. Node and input order follow
// the document. Edge references are not checked against the node set.
func Parse(data []byte) (*Graph, error) {
	if !gjson.ValidBytes(data) {
		return nil, types.NewError(types.ErrValidation, "workflow is not valid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, types.NewError(types.ErrValidation, "workflow must be a JSON object of nodes")
	}

	g := NewGraph()
	var parseErr error
	root.ForEach(func(key, value gjson.Result) bool {
		n, err := parseNode(key.String(), value)
		if err != nil {
			parseErr = err
			return false
		}
		g.Add(n)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return g, nil
}

func parseNode(id string, value gjson.Result) (*Node, error) {
	if !value.IsObject() {
		return nil, types.Errorf(types.ErrValidation, "node %s is not an object", id)
	}
	n := &Node{ID: id}
	var (
		seenClass bool
		nodeErr   error
	)
	value.ForEach(func(key, field gjson.Result) bool {
		switch key.String() {
		case keyClassType:
			if field.Type != gjson.String {
				nodeErr = types.Errorf(types.ErrValidation, "node %s: class_type must be a string", id)
				return false
			}
			n.ClassType = field.Str
			seenClass = true
		case keyInputs:
			if !field.IsObject() {
				nodeErr = types.Errorf(types.ErrValidation, "node %s: inputs must be an object", id)
				return false
			}
			n.inputs = n.inputs[:0]
			field.ForEach(func(name, v gjson.Result) bool {
				n.SetInput(name.String(), valueFromResult(v))
				return true
			})
		case keyMeta:
			n.meta = json.RawMessage(pretty.Ugly([]byte(field.Raw)))
			if title := field.Get("title"); title.Type == gjson.String {
				n.Title = title.Str
			}
		default:
			n.extra = append(n.extra, rawField{key: key.String(), raw: pretty.Ugly([]byte(field.Raw))})
		}
		return true
	})
	if nodeErr != nil {
		return nil, nodeErr
	}
	if !seenClass {
		return nil, types.Errorf(types.ErrValidation, "node %s: missing class_type", id)
	}
	return n, nil
}

// MarshalJSON encodes the graph compactly, preserving node and input order.
func (g *Graph) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, id := range g.ids {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(quote(id))
		buf.WriteByte(':')
		g.nodes[id].encode(&buf)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (g *Graph) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*g = *parsed
	return nil
}

// MarshalIndent encodes the graph with two-space indentation, the on-disk
// format of the store.
func (g *Graph) MarshalIndent() ([]byte, error) {
	compact, err := g.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return pretty.PrettyOptions(compact, indentOptions), nil
}

// quote renders s as a JSON string literal.
func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func (n *Node) encode(buf *bytes.Buffer) {
	buf.WriteString(`{"inputs":{`)
	for i, in := range n.inputs {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(quote(in.Name))
		buf.WriteByte(':')
		buf.Write(in.Value.Raw())
	}
	buf.WriteString(`},"class_type":`)
	buf.WriteString(quote(n.ClassType))
	if len(n.meta) > 0 {
		buf.WriteString(`,"_meta":`)
		buf.Write(n.meta)
	} else if n.Title != "" {
		buf.WriteString(`,"_meta":{"title":`)
		buf.WriteString(quote(n.Title))
		buf.WriteByte('}')
	}
	for _, f := range n.extra {
		buf.WriteByte(',')
		buf.WriteString(quote(f.key))
		buf.WriteByte(':')
		buf.Write(f.raw)
	}
	buf.WriteByte('}')
}
