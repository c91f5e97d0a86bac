// Package condition implements the structured trigger-predicate language
// for conditional signals: comparison leaves over indicator/tick fields,
// AND/OR/NOT combinators, and bar-transition cross predicates.
//
// Conditions are pure data with a fixed JSON encoding. Evaluation never
// blocks and never allocates on the hot path.
package condition

import (
	"encoding/json"
	"fmt"
	"math"

	"trading-corev1/internal/model"
)

// Kind discriminates predicate nodes.
type Kind string

const (
	KindLeaf      Kind = "leaf"
	KindAnd       Kind = "and"
	KindOr        Kind = "or"
	KindNot       Kind = "not"
	KindCrossUp   Kind = "cross_up"
	KindCrossDown Kind = "cross_down"
)

// Op is a comparison operator for leaf predicates.
type Op string

const (
	OpLT Op = "<"
	OpLE Op = "<="
	OpGT Op = ">"
	OpGE Op = ">="
	OpEQ Op = "=="
)

// Node is one node of a predicate tree.
//
// An AND node with zero children is vacuously true; the orchestrator uses
// that form for immediate (market-style) entries.
type Node struct {
	Kind     Kind    `json:"kind"`
	Field    string  `json:"field,omitempty"` // leaf
	Op       Op      `json:"op,omitempty"`    // leaf
	Value    float64 `json:"value,omitempty"` // leaf
	Children []*Node `json:"children,omitempty"` // and, or
	Child    *Node   `json:"child,omitempty"`    // not
	FieldA   string  `json:"a,omitempty"` // cross
	FieldB   string  `json:"b,omitempty"` // cross
}

// Sample is one observation of the fields a condition may reference:
// the indicator name space plus "price" and "volume" (rupee floats).
type Sample map[string]float64

// validFields is the closed field name space for leaf and cross predicates.
var validFields = func() map[string]bool {
	m := map[string]bool{"price": true, "volume": true}
	for _, n := range model.IndicatorNames {
		m[n] = true
	}
	return m
}()

var validOps = map[Op]bool{OpLT: true, OpLE: true, OpGT: true, OpGE: true, OpEQ: true}

// Leaf builds a comparison predicate.
func Leaf(field string, op Op, value float64) *Node {
	return &Node{Kind: KindLeaf, Field: field, Op: op, Value: value}
}

// And builds a conjunction. And() with no children is the immediate-trigger
// predicate.
func And(children ...*Node) *Node { return &Node{Kind: KindAnd, Children: children} }

// Or builds a disjunction.
func Or(children ...*Node) *Node { return &Node{Kind: KindOr, Children: children} }

// Not negates a predicate.
func Not(child *Node) *Node { return &Node{Kind: KindNot, Child: child} }

// CrossUp is true on the bar where a crosses above b.
func CrossUp(a, b string) *Node { return &Node{Kind: KindCrossUp, FieldA: a, FieldB: b} }

// CrossDown is true on the bar where a crosses below b.
func CrossDown(a, b string) *Node { return &Node{Kind: KindCrossDown, FieldA: a, FieldB: b} }

// Immediate returns the always-true predicate used for market-style entries.
func Immediate() *Node { return And() }

// Marshal encodes a predicate tree to its canonical JSON form.
func Marshal(n *Node) json.RawMessage {
	b, _ := json.Marshal(n)
	return b
}

// Parse decodes and validates a JSON predicate tree. Anything that is not
// a structured predicate (in particular free-text conditions) is rejected.
func Parse(raw json.RawMessage) (*Node, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("condition: empty")
	}
	var n Node
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("condition: not a structured predicate: %w", err)
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	return &n, nil
}

// Validate checks the tree against the fixed field/op name space.
func (n *Node) Validate() error {
	switch n.Kind {
	case KindLeaf:
		if !validFields[n.Field] {
			return fmt.Errorf("condition: unknown field %q", n.Field)
		}
		if !validOps[n.Op] {
			return fmt.Errorf("condition: unknown op %q", n.Op)
		}
		if math.IsNaN(n.Value) || math.IsInf(n.Value, 0) {
			return fmt.Errorf("condition: non-finite value for field %q", n.Field)
		}
	case KindAnd, KindOr:
		for _, c := range n.Children {
			if err := c.Validate(); err != nil {
				return err
			}
		}
	case KindNot:
		if n.Child == nil {
			return fmt.Errorf("condition: NOT without child")
		}
		return n.Child.Validate()
	case KindCrossUp, KindCrossDown:
		if !validFields[n.FieldA] || !validFields[n.FieldB] {
			return fmt.Errorf("condition: cross references unknown field (%q, %q)", n.FieldA, n.FieldB)
		}
	default:
		return fmt.Errorf("condition: unknown kind %q", n.Kind)
	}
	return nil
}

// Eval evaluates the predicate against the current sample; prev is the
// previous sample in the same series, required only by cross predicates.
// Missing fields make the affected subtree false, never an error.
func (n *Node) Eval(cur, prev Sample) bool {
	switch n.Kind {
	case KindLeaf:
		v, ok := cur[n.Field]
		if !ok {
			return false
		}
		switch n.Op {
		case OpLT:
			return v < n.Value
		case OpLE:
			return v <= n.Value
		case OpGT:
			return v > n.Value
		case OpGE:
			return v >= n.Value
		case OpEQ:
			return v == n.Value
		}
		return false
	case KindAnd:
		for _, c := range n.Children {
			if !c.Eval(cur, prev) {
				return false
			}
		}
		return true
	case KindOr:
		for _, c := range n.Children {
			if c.Eval(cur, prev) {
				return true
			}
		}
		return false
	case KindNot:
		return !n.Child.Eval(cur, prev)
	case KindCrossUp:
		return cross(cur, prev, n.FieldA, n.FieldB, true)
	case KindCrossDown:
		return cross(cur, prev, n.FieldA, n.FieldB, false)
	}
	return false
}

func cross(cur, prev Sample, a, b string, up bool) bool {
	ca, ok1 := cur[a]
	cb, ok2 := cur[b]
	pa, ok3 := prev[a]
	pb, ok4 := prev[b]
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return false
	}
	if up {
		return pa <= pb && ca > cb
	}
	return pa >= pb && ca < cb
}

// Fields returns every field the predicate references. Used by the signal
// monitor to index signals by the fields that can trigger them.
func (n *Node) Fields() []string {
	seen := map[string]bool{}
	n.collectFields(seen)
	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	return out
}

func (n *Node) collectFields(seen map[string]bool) {
	switch n.Kind {
	case KindLeaf:
		seen[n.Field] = true
	case KindAnd, KindOr:
		for _, c := range n.Children {
			c.collectFields(seen)
		}
	case KindNot:
		n.Child.collectFields(seen)
	case KindCrossUp, KindCrossDown:
		seen[n.FieldA] = true
		seen[n.FieldB] = true
	}
}
