// Package template reads grammar template files (.pegt): optional YAML
// frontmatter in a /*--- ... ---*/ block, then grammar text with {{ ... }}
// action slots.
//
//	/*---
//	name: sum
//	actions: [calc.star]
//	---*/
//	sum = a:num "+" b:num {{ calc.add }}
//	num = digits:$[0-9]+ {{ lambda ctx, digits: int(digits) }}
//
// A slot holds either a reference to a library function, name or
// namespace.name, or an inline Starlark lambda.
package template

import "fmt"

// Position tracks source location for error reporting.
type Position struct {
	File   string
	Line   int
	Column int
}

func (p Position) String() string {
	if p.File != "" {
		return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Column)
	}
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Node is the interface for all template nodes.
type Node interface {
	Pos() Position
	node() // marker method to restrict implementation
}

// nodeBase provides common Position handling for all nodes.
type nodeBase struct {
	pos Position
}

func (n *nodeBase) Pos() Position { return n.pos }
func (n *nodeBase) node()         {}

// TextNode is grammar text, passed through unchanged.
type TextNode struct {
	nodeBase
	Text string
}

// SlotNode is a {{ ... }} action slot.
type SlotNode struct {
	nodeBase

	// Ref is a library reference, "name" or "namespace.name". Empty for
	// inline actions.
	Ref string

	// Source is the Starlark lambda of an inline action.
	Source string
}

// Template is a parsed template file.
type Template struct {
	Path        string
	Frontmatter *Frontmatter
	Nodes       []Node
}

// Slots returns the template's slots in order.
func (t *Template) Slots() []*SlotNode {
	var slots []*SlotNode
	for _, n := range t.Nodes {
		if s, ok := n.(*SlotNode); ok {
			slots = append(slots, s)
		}
	}
	return slots
}
