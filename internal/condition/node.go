// Package condition parses, validates and evaluates boolean condition trees
// over technical indicators. A tree is built only through Parse, so every
// Node that reaches the evaluator has already passed validation.
package condition

import (
	"encoding/json"
	"fmt"
	"strings"

	"tradeforge/internal/domain"
)

// MaxDepth bounds the nesting of a condition tree.
const MaxDepth = 32

// NodeType tags the variant of a Node.
type NodeType string

const (
	TypeIndicator NodeType = "indicator"
	TypeAnd       NodeType = "and"
	TypeOr        NodeType = "or"
	TypeNot       NodeType = "not"
)

// Operator is the comparison a leaf applies.
type Operator string

const (
	OpAbove           Operator = "above"
	OpBelow           Operator = "below"
	OpOverbought      Operator = "overbought"
	OpOversold        Operator = "oversold"
	OpCrossesAbove    Operator = "crossesAbove"
	OpCrossesBelow    Operator = "crossesBelow"
	OpPriceAboveUpper Operator = "priceAboveUpper"
	OpPriceBelowLower Operator = "priceBelowLower"
)

var operators = map[string]Operator{
	"above": OpAbove, "below": OpBelow,
	"overbought": OpOverbought, "oversold": OpOversold,
	"crossesabove": OpCrossesAbove, "crossesbelow": OpCrossesBelow,
	"priceaboveupper": OpPriceAboveUpper, "pricebelowlower": OpPriceBelowLower,
}

// RawNode is the JSON wire form of a condition tree as stored by the
// strategy persistence layer.
type RawNode struct {
	Type      string        `json:"type"`
	Indicator *RawIndicator `json:"indicator,omitempty"`
	Children  []RawNode     `json:"children,omitempty"`
}

// RawIndicator is the JSON wire form of a leaf.
type RawIndicator struct {
	Type      string         `json:"type"`
	Params    map[string]any `json:"params,omitempty"`
	Condition string         `json:"condition"`
	Value     *float64       `json:"value,omitempty"`
	CompareTo *RawReference  `json:"compareTo,omitempty"`
}

// RawReference names a second indicator a leaf compares against.
type RawReference struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// comparison is the resolved primitive a leaf evaluates.
type comparison int

const (
	cmpAbove comparison = iota
	cmpBelow
	cmpCrossAbove
	cmpCrossBelow
)

// Leaf is a validated indicator comparison.
type Leaf struct {
	Op        Operator
	Subject   Spec
	Threshold *float64
	Reference *Spec

	cmp comparison
}

// Node is an immutable, validated condition tree.
type Node struct {
	typ      NodeType
	leaf     *Leaf
	children []Node
}

// Type returns the node's variant tag.
func (n Node) Type() NodeType { return n.typ }

// Leaf returns the leaf payload of an indicator node, or nil.
func (n Node) Leaf() *Leaf {
	if n.leaf == nil {
		return nil
	}
	l := *n.leaf
	return &l
}

// Children returns a copy of the node's children.
func (n Node) Children() []Node {
	return append([]Node(nil), n.children...)
}

// Walk visits every leaf in depth-first order.
func (n Node) Walk(fn func(Leaf)) {
	if n.leaf != nil {
		fn(*n.leaf)
		return
	}
	for _, c := range n.children {
		c.Walk(fn)
	}
}

// Leaves returns every leaf in the tree.
func (n Node) Leaves() []Leaf {
	var out []Leaf
	n.Walk(func(l Leaf) { out = append(out, l) })
	return out
}

// Parse validates raw and builds the immutable tree. Errors are
// *domain.ValidationError whose Field is the JSON path of the bad element.
func Parse(raw RawNode) (Node, error) {
	return parse(raw, "", 1)
}

// ParseJSON decodes and parses a single condition node.
func ParseJSON(data []byte) (Node, error) {
	var raw RawNode
	if err := json.Unmarshal(data, &raw); err != nil {
		return Node{}, domain.NewValidationError("", "decoding condition: %v", err)
	}
	return Parse(raw)
}

// ParseAt is Parse with error paths rooted at path.
func ParseAt(path string, raw RawNode) (Node, error) {
	return parse(raw, path, 1)
}

// ParseList parses a list of nodes; the list combines with OR.
func ParseList(raws []RawNode) ([]Node, error) {
	return ParseListAt("", raws)
}

// ParseListAt is ParseList with error paths rooted at path, e.g.
// "buy[1].indicator.condition".
func ParseListAt(path string, raws []RawNode) ([]Node, error) {
	out := make([]Node, 0, len(raws))
	for i, r := range raws {
		n, err := parse(r, join(path, fmt.Sprintf("[%d]", i)), 1)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func join(path, field string) string {
	if path == "" {
		return field
	}
	if strings.HasPrefix(field, "[") {
		return path + field
	}
	return path + "." + field
}

func parse(raw RawNode, path string, depth int) (Node, error) {
	if depth > MaxDepth {
		return Node{}, domain.NewValidationError(path, "condition tree exceeds maximum depth of %d", MaxDepth)
	}
	switch NodeType(strings.ToLower(raw.Type)) {
	case "":
		return Node{}, domain.NewValidationError(join(path, "type"), "is required")
	case TypeIndicator:
		leaf, err := parseLeaf(raw.Indicator, join(path, "indicator"))
		if err != nil {
			return Node{}, err
		}
		return Node{typ: TypeIndicator, leaf: leaf}, nil
	case TypeAnd, TypeOr:
		typ := NodeType(strings.ToLower(raw.Type))
		if len(raw.Children) < 2 {
			return Node{}, domain.NewValidationError(join(path, "children"), "%s node requires at least 2 children, got %d", typ, len(raw.Children))
		}
		return parseChildren(typ, raw.Children, path, depth)
	case TypeNot:
		if len(raw.Children) != 1 {
			return Node{}, domain.NewValidationError(join(path, "children"), "not node requires exactly 1 child, got %d", len(raw.Children))
		}
		return parseChildren(TypeNot, raw.Children, path, depth)
	default:
		return Node{}, domain.NewValidationError(join(path, "type"), "unknown node type %q", raw.Type)
	}
}

func parseChildren(typ NodeType, raws []RawNode, path string, depth int) (Node, error) {
	children := make([]Node, 0, len(raws))
	for i, c := range raws {
		child, err := parse(c, join(path, fmt.Sprintf("children[%d]", i)), depth+1)
		if err != nil {
			return Node{}, err
		}
		children = append(children, child)
	}
	return Node{typ: typ, children: children}, nil
}

func parseLeaf(raw *RawIndicator, path string) (*Leaf, error) {
	if raw == nil {
		return nil, domain.NewValidationError(path, "is required for indicator nodes")
	}
	if raw.Condition == "" {
		return nil, domain.NewValidationError(path+".condition", "is required")
	}
	op, ok := operators[strings.ToLower(raw.Condition)]
	if !ok {
		return nil, domain.NewValidationError(path+".condition", "unknown condition %q", raw.Condition)
	}
	subject, err := parseSpec(path, raw.Type, raw.Params)
	if err != nil {
		return nil, err
	}
	if raw.Value != nil && raw.CompareTo != nil {
		return nil, domain.NewValidationError(path+".compareTo", "value and compareTo are mutually exclusive")
	}

	leaf := &Leaf{Op: op, Subject: subject, Threshold: raw.Value}
	if raw.CompareTo != nil {
		ref, err := parseSpec(path+".compareTo", raw.CompareTo.Type, raw.CompareTo.Params)
		if err != nil {
			return nil, err
		}
		leaf.Reference = &ref
	}

	switch op {
	case OpOverbought, OpOversold:
		if subject.Kind != KindRSI {
			return nil, domain.NewValidationError(path+".condition", "%s applies only to rsi, not %s", op, subject.Kind)
		}
		if leaf.Reference != nil {
			return nil, domain.NewValidationError(path+".compareTo", "%s compares against a threshold value", op)
		}
		if leaf.Threshold == nil {
			def := 70.0
			if op == OpOversold {
				def = 30
			}
			leaf.Threshold = &def
		}
		leaf.cmp = cmpAbove
		if op == OpOversold {
			leaf.cmp = cmpBelow
		}
	case OpPriceAboveUpper, OpPriceBelowLower:
		if subject.Kind != KindBollinger {
			return nil, domain.NewValidationError(path+".condition", "%s applies only to bollinger, not %s", op, subject.Kind)
		}
		band := subject
		band.Field = "upper"
		leaf.cmp = cmpAbove
		if op == OpPriceBelowLower {
			band.Field = "lower"
			leaf.cmp = cmpBelow
		}
		leaf.Subject = Spec{Kind: KindPrice}
		leaf.Reference = &band
		leaf.Threshold = nil
	default:
		switch op {
		case OpAbove:
			leaf.cmp = cmpAbove
		case OpBelow:
			leaf.cmp = cmpBelow
		case OpCrossesAbove:
			leaf.cmp = cmpCrossAbove
		case OpCrossesBelow:
			leaf.cmp = cmpCrossBelow
		}
		if leaf.Threshold == nil && leaf.Reference == nil {
			// A bare MACD comparison means line versus signal.
			if subject.Kind != KindMACD {
				return nil, domain.NewValidationError(path+".value", "is required for %s without compareTo", op)
			}
			leaf.Subject.Field = "line"
			sig := leaf.Subject
			sig.Field = "signal"
			leaf.Reference = &sig
		}
	}
	return leaf, nil
}
