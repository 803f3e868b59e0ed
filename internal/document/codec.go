package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gopkg.in/yaml.v3"
)

// maxAliasNodes bounds the number of nodes produced by expanding aliases in
// one document.
const maxAliasNodes = 1 << 20

// Decode parses YAML (and therefore JSON) bytes into a Node tree. An empty
// document decodes to a null node. Only the first document of a stream is
// read. Aliases are expanded in place; an alias that refers to one of its
// own ancestors is an error.
func Decode(data []byte) (*Node, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	if root.Kind == 0 {
		return Null(), nil
	}
	d := &decoder{expanding: make(map[*yaml.Node]bool)}
	return d.fromYAML(&root)
}

type decoder struct {
	expanding map[*yaml.Node]bool
	aliased   int
}

func (d *decoder) fromYAML(y *yaml.Node) (*Node, error) {
	if len(d.expanding) > 0 {
		d.aliased++
		if d.aliased > maxAliasNodes {
			return nil, fmt.Errorf("line %d: alias expansion exceeds %d nodes", y.Line, maxAliasNodes)
		}
	}

	switch y.Kind {
	case yaml.DocumentNode:
		if len(y.Content) == 0 {
			return Null(), nil
		}
		return d.fromYAML(y.Content[0])
	case yaml.AliasNode:
		if y.Alias == nil {
			return nil, fmt.Errorf("line %d: unknown alias %q", y.Line, y.Value)
		}
		if d.expanding[y.Alias] {
			return nil, fmt.Errorf("line %d: recursive alias %q", y.Line, y.Value)
		}
		d.expanding[y.Alias] = true
		defer delete(d.expanding, y.Alias)
		return d.fromYAML(y.Alias)
	case yaml.ScalarNode:
		return scalarFromYAML(y)
	case yaml.SequenceNode:
		items := make([]*Node, 0, len(y.Content))
		for _, c := range y.Content {
			item, err := d.fromYAML(c)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		return Seq(items...), nil
	case yaml.MappingNode:
		return d.mappingFromYAML(y)
	default:
		return nil, fmt.Errorf("line %d: unsupported YAML node kind %d", y.Line, y.Kind)
	}
}

func scalarFromYAML(y *yaml.Node) (*Node, error) {
	switch y.ShortTag() {
	case "!!null":
		return Null(), nil
	case "!!bool":
		var b bool
		if err := y.Decode(&b); err != nil {
			return nil, err
		}
		return Bool(b), nil
	case "!!int":
		var i int64
		if err := y.Decode(&i); err == nil {
			return Int(i), nil
		}
		var u uint64
		if err := y.Decode(&u); err == nil {
			return &Node{Kind: NumberKind, Number: json.Number(strconv.FormatUint(u, 10))}, nil
		}
		fallthrough
	case "!!float":
		var f float64
		if err := y.Decode(&f); err != nil {
			return nil, err
		}
		if !isFinite(f) {
			return nil, fmt.Errorf("line %d: non-finite number %q cannot be represented", y.Line, y.Value)
		}
		return Float(f), nil
	default:
		// !!str, !!timestamp, !!binary and custom tags keep their literal text.
		return Str(y.Value), nil
	}
}

func (d *decoder) mappingFromYAML(y *yaml.Node) (*Node, error) {
	out := &Node{Kind: MappingKind, Fields: orderedmap.New[string, *Node]()}
	var merges []*yaml.Node

	for i := 0; i+1 < len(y.Content); i += 2 {
		k, v := y.Content[i], y.Content[i+1]
		if k.ShortTag() == "!!merge" {
			merges = append(merges, v)
			continue
		}
		if k.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("line %d: mapping keys must be scalars", k.Line)
		}
		if out.Fields.Len() > 0 {
			if _, dup := out.Fields.Get(k.Value); dup {
				return nil, fmt.Errorf("line %d: mapping key %q already defined", k.Line, k.Value)
			}
		}
		value, err := d.fromYAML(v)
		if err != nil {
			return nil, err
		}
		out.Fields.Set(k.Value, value)
	}

	// Merge keys never override explicit keys.
	for _, m := range merges {
		src, err := d.fromYAML(m)
		if err != nil {
			return nil, err
		}
		sources := []*Node{src}
		if src.Kind == SequenceKind {
			sources = src.Items
		}
		for _, s := range sources {
			if !s.IsMapping() {
				return nil, fmt.Errorf("line %d: merge value must be a mapping", m.Line)
			}
			for pair := s.Fields.Oldest(); pair != nil; pair = pair.Next() {
				if !out.Has(pair.Key) {
					out.Fields.Set(pair.Key, pair.Value)
				}
			}
		}
	}
	return out, nil
}

// MarshalJSON encodes n as compact JSON, keeping mapping key order.
func (n *Node) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := n.writeJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (n *Node) writeJSON(buf *bytes.Buffer) error {
	if n == nil {
		buf.WriteString("null")
		return nil
	}
	switch n.Kind {
	case NullKind:
		buf.WriteString("null")
	case BoolKind:
		buf.WriteString(strconv.FormatBool(n.Bool))
	case NumberKind:
		buf.WriteString(n.Number.String())
	case StringKind:
		writeJSONString(buf, n.String)
	case SequenceKind:
		buf.WriteByte('[')
		for i, item := range n.Items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case MappingKind:
		buf.WriteByte('{')
		first := true
		for pair := n.Fields.Oldest(); pair != nil; pair = pair.Next() {
			if !first {
				buf.WriteByte(',')
			}
			first = false
			writeJSONString(buf, pair.Key)
			buf.WriteByte(':')
			if err := pair.Value.writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("document: cannot encode node kind %d", n.Kind)
	}
	return nil
}

func writeJSONString(buf *bytes.Buffer, s string) {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	// Encode never fails for a string and always appends a newline.
	_ = enc.Encode(s)
	buf.Truncate(buf.Len() - 1)
}

// EncodeJSON encodes n as JSON indented by two spaces, with a trailing newline.
func EncodeJSON(n *Node) ([]byte, error) {
	compact, err := n.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, compact, "", "  "); err != nil {
		return nil, err
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

// MarshalYAML implements yaml.Marshaler, keeping mapping key order.
func (n *Node) MarshalYAML() (interface{}, error) {
	return n.toYAML(), nil
}

func (n *Node) toYAML() *yaml.Node {
	if n == nil {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
	}
	switch n.Kind {
	case BoolKind:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(n.Bool)}
	case NumberKind:
		tag := "!!int"
		if strings.ContainsAny(n.Number.String(), ".eE") {
			tag = "!!float"
		}
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: n.Number.String()}
	case StringKind:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: n.String}
	case SequenceKind:
		out := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range n.Items {
			out.Content = append(out.Content, item.toYAML())
		}
		return out
	case MappingKind:
		out := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for pair := n.Fields.Oldest(); pair != nil; pair = pair.Next() {
			out.Content = append(out.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: pair.Key},
				pair.Value.toYAML(),
			)
		}
		return out
	default:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
	}
}

// EncodeYAML encodes n as a YAML document indented by two spaces.
func EncodeYAML(n *Node) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(n.toYAML()); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
