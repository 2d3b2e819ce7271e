package expr

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// NodeType identifies the kind of a condition node.
type NodeType string

const (
	NodeLeaf NodeType = "leaf" // field operator value
	NodeAll  NodeType = "all"  // every child true
	NodeAny  NodeType = "any"  // at least one child true
	NodeNone NodeType = "none" // no child true
)

// Operator is a leaf comparison operator.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpGreater     Operator = "gt"
	OpGreaterEq   Operator = "gte"
	OpLess        Operator = "lt"
	OpLessEq      Operator = "lte"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpExists      Operator = "exists"
	OpNotExists   Operator = "not_exists"
)

var knownOperators = map[Operator]bool{
	OpEquals: true, OpNotEquals: true, OpContains: true, OpNotContains: true,
	OpGreater: true, OpGreaterEq: true, OpLess: true, OpLessEq: true,
	OpIn: true, OpNotIn: true, OpExists: true, OpNotExists: true,
}

// Valid reports whether op belongs to the condition grammar.
func (op Operator) Valid() bool {
	return knownOperators[op]
}

// Node is one node of a condition tree.
//
// A nil *Node is the empty condition and always evaluates to true. A node
// whose Malformed field is set was decoded from a document that does not fit
// the grammar; it is kept so that loading never fails on a single bad rule,
// and it always evaluates to false.
type Node struct {
	Type      NodeType
	Field     string
	Operator  Operator
	Value     interface{}
	Children  []*Node
	Malformed string
}

// Leaf builds a comparison node.
func Leaf(field string, op Operator, value interface{}) *Node {
	return &Node{Type: NodeLeaf, Field: field, Operator: op, Value: value}
}

// All builds a node that is true when every child is true.
func All(children ...*Node) *Node {
	return &Node{Type: NodeAll, Children: children}
}

// Any builds a node that is true when at least one child is true.
func Any(children ...*Node) *Node {
	return &Node{Type: NodeAny, Children: children}
}

// None builds a node that is true when no child is true.
func None(children ...*Node) *Node {
	return &Node{Type: NodeNone, Children: children}
}

// Validate walks the tree and reports every structural problem found.
// Evaluation does not require a valid tree; linting does.
func (n *Node) Validate() error {
	var problems []string
	n.collectProblems("when", &problems)
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("invalid condition: %s", strings.Join(problems, "; "))
}

func (n *Node) collectProblems(path string, problems *[]string) {
	if n == nil {
		return
	}
	if n.Malformed != "" {
		*problems = append(*problems, fmt.Sprintf("%s: %s", path, n.Malformed))
		return
	}
	switch n.Type {
	case NodeLeaf:
		if n.Field == "" {
			*problems = append(*problems, fmt.Sprintf("%s: missing field", path))
		}
		if !n.Operator.Valid() {
			*problems = append(*problems, fmt.Sprintf("%s: unknown operator %q", path, n.Operator))
		}
	case NodeAll, NodeAny, NodeNone:
		for i, child := range n.Children {
			child.collectProblems(fmt.Sprintf("%s.%s[%d]", path, n.Type, i), problems)
		}
	default:
		*problems = append(*problems, fmt.Sprintf("%s: unknown node type %q", path, n.Type))
	}
}

// FromMap decodes a condition from its generic document form. It never
// fails: anything outside the grammar becomes a malformed node.
func FromMap(raw interface{}) *Node {
	if raw == nil {
		return nil
	}
	m, ok := asStringMap(raw)
	if !ok {
		return &Node{Malformed: fmt.Sprintf("expected mapping, got %T", raw)}
	}
	if len(m) == 0 {
		return nil
	}

	for _, t := range []NodeType{NodeAll, NodeAny, NodeNone} {
		rawChildren, present := m[string(t)]
		if !present {
			continue
		}
		if len(m) != 1 {
			return &Node{Malformed: fmt.Sprintf("%q must be the only key of its mapping", t)}
		}
		list, ok := rawChildren.([]interface{})
		if !ok {
			return &Node{Malformed: fmt.Sprintf("%q expects a list, got %T", t, rawChildren)}
		}
		node := &Node{Type: t, Children: make([]*Node, 0, len(list))}
		for _, item := range list {
			child := FromMap(item)
			if child == nil {
				child = &Node{Malformed: "empty child condition"}
			}
			node.Children = append(node.Children, child)
		}
		return node
	}

	field, _ := m["field"].(string)
	op, _ := m["operator"].(string)
	if field == "" || op == "" {
		return &Node{Malformed: fmt.Sprintf("leaf requires field and operator, got keys %s", keysOf(m))}
	}
	return &Node{Type: NodeLeaf, Field: field, Operator: Operator(op), Value: normalize(m["value"])}
}

// ToMap returns the generic document form of the node.
func (n *Node) ToMap() map[string]interface{} {
	if n == nil {
		return nil
	}
	if n.Malformed != "" {
		return map[string]interface{}{"malformed": n.Malformed}
	}
	if n.Type == NodeLeaf {
		out := map[string]interface{}{"field": n.Field, "operator": string(n.Operator)}
		if n.Value != nil {
			out["value"] = n.Value
		}
		return out
	}
	children := make([]interface{}, 0, len(n.Children))
	for _, c := range n.Children {
		children = append(children, c.ToMap())
	}
	return map[string]interface{}{string(n.Type): children}
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (n *Node) UnmarshalYAML(value *yaml.Node) error {
	var raw interface{}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	decoded := FromMap(raw)
	if decoded == nil {
		*n = Node{Type: NodeAll}
		return nil
	}
	*n = *decoded
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (n *Node) MarshalYAML() (interface{}, error) {
	return n.ToMap(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Node) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	decoded := FromMap(raw)
	if decoded == nil {
		*n = Node{Type: NodeAll}
		return nil
	}
	*n = *decoded
	return nil
}

// MarshalJSON implements json.Marshaler.
func (n *Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.ToMap())
}

// asStringMap accepts both map[string]interface{} (JSON, yaml.v3) and
// map[interface{}]interface{} shapes.
func asStringMap(raw interface{}) (map[string]interface{}, bool) {
	switch m := raw.(type) {
	case map[string]interface{}:
		return m, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, v := range m {
			out[fmt.Sprint(k)] = v
		}
		return out, true
	default:
		return nil, false
	}
}

// normalize converts nested maps to map[string]interface{} so that field
// lookups and comparisons see one shape regardless of decoder.
func normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case map[interface{}]interface{}:
		m, _ := asStringMap(val)
		return normalize(m)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	default:
		return v
	}
}

func keysOf(m map[string]interface{}) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return "[" + strings.Join(keys, ", ") + "]"
}
