package hash

import (
	"fmt"
	"io"
)

// ---------------------------------------------------------------------------
// Canonical tree.
//
// A stripped-down parallel of the compiler tree: one generic node shape,
// variables replaced by function-wide slot numbers and no implicit
// conversions. Two functions that differ only in variable names produce
// identical trees.
// ---------------------------------------------------------------------------

// HPos is a source position. It is only present when positions were
// requested and never takes part in hashing.
type HPos struct {
	Line   int `cbor:"1,keyasint"`
	Column int `cbor:"2,keyasint"`
}

// HNode is one canonical tree node.
//
// Value holds the node's payload: a literal's text, an operator, a function
// name or a variable slot such as "#2". Type is a declared type name and is
// empty where the source declares none.
type HNode struct {
	Kind     byte     `cbor:"1,keyasint"`
	Value    string   `cbor:"2,keyasint,omitempty"`
	Type     string   `cbor:"3,keyasint,omitempty"`
	Pos      *HPos    `cbor:"4,keyasint,omitempty"`
	Children []*HNode `cbor:"5,keyasint,omitempty"`
}

// Print writes the tree one node per line, children indented.
func (n *HNode) Print(w io.Writer, prefix string) {
	line := prefix + KindName(n.Kind)
	if n.Value != "" {
		line += " " + n.Value
	}
	if n.Type != "" {
		line += " : " + n.Type
	}
	if n.Pos != nil {
		line += fmt.Sprintf(" @%d:%d", n.Pos.Line, n.Pos.Column)
	}
	fmt.Fprintln(w, line)
	for _, c := range n.Children {
		c.Print(w, prefix+"  ")
	}
}

// Count returns the number of nodes in the tree.
func (n *HNode) Count() int {
	total := 1
	for _, c := range n.Children {
		total += c.Count()
	}
	return total
}
