// Package document defines the generic tree a schema file is parsed into.
//
// A Node is a closed tagged variant: exactly one of the value fields is
// meaningful, selected by Kind. Mappings keep their keys in insertion order
// so that the resolved output reads like the input, but Equal treats
// mappings as unordered.
package document

import (
	"encoding/json"
	"math"
	"strconv"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Kind selects which field of a Node holds its value.
type Kind int

const (
	NullKind Kind = iota
	BoolKind
	NumberKind
	StringKind
	SequenceKind
	MappingKind
)

// String returns the string representation of the Kind
func (k Kind) String() string {
	switch k {
	case NullKind:
		return "null"
	case BoolKind:
		return "boolean"
	case NumberKind:
		return "number"
	case StringKind:
		return "string"
	case SequenceKind:
		return "sequence"
	case MappingKind:
		return "mapping"
	default:
		return "unknown"
	}
}

// Fields is the ordered key/value storage of a mapping node.
type Fields = orderedmap.OrderedMap[string, *Node]

// Node is one value of a parsed document.
type Node struct {
	Kind   Kind
	Bool   bool
	Number json.Number
	String string
	Items  []*Node
	Fields *Fields
}

// Null returns a null node.
func Null() *Node { return &Node{Kind: NullKind} }

// Bool returns a boolean node.
func Bool(b bool) *Node { return &Node{Kind: BoolKind, Bool: b} }

// Int returns a number node holding an integer.
func Int(i int64) *Node {
	return &Node{Kind: NumberKind, Number: json.Number(strconv.FormatInt(i, 10))}
}

// Float returns a number node holding a finite float.
func Float(f float64) *Node {
	return &Node{Kind: NumberKind, Number: json.Number(strconv.FormatFloat(f, 'g', -1, 64))}
}

// Str returns a string node.
func Str(s string) *Node { return &Node{Kind: StringKind, String: s} }

// Seq returns a sequence node holding items in order.
func Seq(items ...*Node) *Node {
	if items == nil {
		items = []*Node{}
	}
	return &Node{Kind: SequenceKind, Items: items}
}

// Strings returns a sequence node of string nodes.
func Strings(values []string) *Node {
	items := make([]*Node, len(values))
	for i, v := range values {
		items[i] = Str(v)
	}
	return Seq(items...)
}

// Map returns a mapping node built from alternating string keys and *Node
// values. It panics on a malformed argument list; it is meant for literals.
func Map(pairs ...interface{}) *Node {
	if len(pairs)%2 != 0 {
		panic("document.Map: odd number of arguments")
	}
	n := &Node{Kind: MappingKind, Fields: orderedmap.New[string, *Node]()}
	for i := 0; i < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			panic("document.Map: key is not a string")
		}
		value, ok := pairs[i+1].(*Node)
		if !ok {
			panic("document.Map: value is not a *Node")
		}
		n.Fields.Set(key, value)
	}
	return n
}

// IsMapping reports whether n is a mapping.
func (n *Node) IsMapping() bool { return n != nil && n.Kind == MappingKind }

// Len returns the number of items of a sequence or entries of a mapping.
func (n *Node) Len() int {
	switch {
	case n == nil:
		return 0
	case n.Kind == SequenceKind:
		return len(n.Items)
	case n.Kind == MappingKind:
		return n.Fields.Len()
	default:
		return 0
	}
}

// Get returns the value stored under key in a mapping.
func (n *Node) Get(key string) (*Node, bool) {
	if !n.IsMapping() {
		return nil, false
	}
	return n.Fields.Get(key)
}

// Has reports whether a mapping defines key.
func (n *Node) Has(key string) bool {
	_, ok := n.Get(key)
	return ok
}

// Set stores value under key, appending the key if it is new. It panics if
// n is not a mapping.
func (n *Node) Set(key string, value *Node) {
	if !n.IsMapping() {
		panic("document: Set on " + n.Kind.String())
	}
	n.Fields.Set(key, value)
}

// Keys returns the mapping keys in order.
func (n *Node) Keys() []string {
	if !n.IsMapping() {
		return nil
	}
	keys := make([]string, 0, n.Fields.Len())
	for pair := n.Fields.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Child walks one segment into n: a mapping key, or a decimal index into a
// sequence.
func (n *Node) Child(segment string) (*Node, bool) {
	if n == nil {
		return nil, false
	}
	switch n.Kind {
	case MappingKind:
		return n.Fields.Get(segment)
	case SequenceKind:
		i, err := strconv.Atoi(segment)
		if err != nil || i < 0 || i >= len(n.Items) {
			return nil, false
		}
		return n.Items[i], true
	default:
		return nil, false
	}
}

// Clone returns a deep copy of n.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := &Node{Kind: n.Kind, Bool: n.Bool, Number: n.Number, String: n.String}
	switch n.Kind {
	case SequenceKind:
		out.Items = make([]*Node, len(n.Items))
		for i, item := range n.Items {
			out.Items[i] = item.Clone()
		}
	case MappingKind:
		out.Fields = orderedmap.New[string, *Node]()
		for pair := n.Fields.Oldest(); pair != nil; pair = pair.Next() {
			out.Fields.Set(pair.Key, pair.Value.Clone())
		}
	}
	return out
}

// Equal reports whether a and b hold the same value. Mapping key order is
// ignored and numbers are compared by value.
func Equal(a, b *Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case NullKind:
		return true
	case BoolKind:
		return a.Bool == b.Bool
	case NumberKind:
		if a.Number == b.Number {
			return true
		}
		fa, errA := a.Number.Float64()
		fb, errB := b.Number.Float64()
		return errA == nil && errB == nil && fa == fb
	case StringKind:
		return a.String == b.String
	case SequenceKind:
		if len(a.Items) != len(b.Items) {
			return false
		}
		for i := range a.Items {
			if !Equal(a.Items[i], b.Items[i]) {
				return false
			}
		}
		return true
	case MappingKind:
		if a.Fields.Len() != b.Fields.Len() {
			return false
		}
		for pair := a.Fields.Oldest(); pair != nil; pair = pair.Next() {
			other, ok := b.Fields.Get(pair.Key)
			if !ok || !Equal(pair.Value, other) {
				return false
			}
		}
		return true
	}
	return false
}

// Interface converts n to plain Go values: nil, bool, int64, float64, string,
// []interface{} and map[string]interface{}.
func (n *Node) Interface() interface{} {
	if n == nil {
		return nil
	}
	switch n.Kind {
	case BoolKind:
		return n.Bool
	case NumberKind:
		if i, err := n.Number.Int64(); err == nil {
			return i
		}
		if f, err := n.Number.Float64(); err == nil {
			return f
		}
		return n.Number.String()
	case StringKind:
		return n.String
	case SequenceKind:
		out := make([]interface{}, len(n.Items))
		for i, item := range n.Items {
			out[i] = item.Interface()
		}
		return out
	case MappingKind:
		out := make(map[string]interface{}, n.Fields.Len())
		for pair := n.Fields.Oldest(); pair != nil; pair = pair.Next() {
			out[pair.Key] = pair.Value.Interface()
		}
		return out
	default:
		return nil
	}
}

func isFinite(f float64) bool {
	return !math.IsInf(f, 0) && !math.IsNaN(f)
}
