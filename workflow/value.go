package workflow

import (
	"encoding/json"
	"math"
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"

	"github.com/BaSui01/imageflow/types"
)

// ValueKind discriminates the two shapes an input value can take.
type ValueKind int

const (
	// KindLiteral is a plain JSON value supplied directly to the node.
	KindLiteral ValueKind = iota
	// KindEdge points at an output slot of another node.
	KindEdge
)

// EdgeRef references output slot Slot of node NodeID.
type EdgeRef struct {
	NodeID string
	Slot   int
}

// Value is a single node input. The literal/edge distinction is decided once
// when the value is parsed and never re-derived by callers.
type Value struct {
	kind ValueKind
	raw  json.RawMessage
	edge EdgeRef
}

// Literal wraps raw JSON as a literal value without re-checking its shape.
func Literal(raw []byte) Value {
	return Value{kind: KindLiteral, raw: pretty.Ugly(raw)}
}

// LiteralString is a convenience for a JSON string literal.
func LiteralString(s string) Value {
	return Value{kind: KindLiteral, raw: json.RawMessage(quote(s))}
}

// Edge builds an edge reference value.
func Edge(nodeID string, slot int) Value {
	return Value{kind: KindEdge, edge: EdgeRef{NodeID: nodeID, Slot: slot}}
}

// ParseValue decodes raw JSON into a Value, applying the edge discriminator:
// a two element array of a string followed by an integral number.
func ParseValue(raw []byte) (Value, error) {
	if !gjson.ValidBytes(raw) {
		return Value{}, types.Errorf(types.ErrValidation, "invalid JSON value %q", string(raw))
	}
	return valueFromResult(gjson.ParseBytes(raw)), nil
}

func valueFromResult(r gjson.Result) Value {
	if r.IsArray() {
		items := r.Array()
		if len(items) == 2 && items[0].Type == gjson.String && items[1].Type == gjson.Number &&
			items[1].Num == math.Trunc(items[1].Num) {
			return Edge(items[0].Str, int(items[1].Num))
		}
	}
	return Literal([]byte(r.Raw))
}

// Kind returns the value's discriminator.
func (v Value) Kind() ValueKind { return v.kind }

// IsEdge reports whether the value references another node.
func (v Value) IsEdge() bool { return v.kind == KindEdge }

// Edge returns the referenced node and slot for edge values.
func (v Value) Edge() (EdgeRef, bool) {
	if v.kind != KindEdge {
		return EdgeRef{}, false
	}
	return v.edge, true
}

// Raw returns the JSON encoding of the value.
func (v Value) Raw() json.RawMessage {
	if v.kind == KindEdge {
		return json.RawMessage(`[` + quote(v.edge.NodeID) + `,` + strconv.Itoa(v.edge.Slot) + `]`)
	}
	if len(v.raw) == 0 {
		return json.RawMessage("null")
	}
	return v.raw
}

// AsString returns the literal string content.
func (v Value) AsString() (string, bool) {
	if v.kind != KindLiteral {
		return "", false
	}
	r := gjson.ParseBytes(v.raw)
	if r.Type != gjson.String {
		return "", false
	}
	return r.Str, true
}

// AsFloat returns the literal numeric content.
func (v Value) AsFloat() (float64, bool) {
	if v.kind != KindLiteral {
		return 0, false
	}
	r := gjson.ParseBytes(v.raw)
	if r.Type != gjson.Number {
		return 0, false
	}
	return r.Num, true
}

// AsInt returns the literal numeric content when it is integral.
func (v Value) AsInt() (int, bool) {
	f, ok := v.AsFloat()
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

// String renders the value as compact JSON.
func (v Value) String() string {
	return string(v.Raw())
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return v.Raw(), nil
}
