package compiler

import (
	"fmt"
	"io"
)

// ---------------------------------------------------------------------------
// AST: the node protocol shared by every construct
// ---------------------------------------------------------------------------

// Node is the interface implemented by all AST nodes.
//
// ReturnType must be free of side effects and must agree with ToWAT: ToWAT
// returns true iff it left exactly one value on the operand stack, which is
// the case iff ReturnType is non-empty.
type Node interface {
	Pos() FilePos
	TypeName() string
	Print(w io.Writer, prefix string)

	ReturnType(symbols *SymbolTable) Type
	TypeCheck(symbols *SymbolTable) error

	// InitializeWAT emits any global code the node needs (for example,
	// literal strings placed in memory). Called once before any ToWAT.
	InitializeWAT(control *Control)

	// ToWAT emits the node's instructions and reports whether a value was
	// left on the stack.
	ToWAT(control *Control) bool

	AddChild(child Node)
}

// Leaf is embedded by nodes that never own children.
type Leaf struct {
	pos FilePos
}

func (n *Leaf) Pos() FilePos { return n.pos }

// AddChild on a leaf means the tree is malformed.
func (n *Leaf) AddChild(child Node) {
	Fail("cannot add %s as a child of a leaf node at %s", child.TypeName(), n.pos)
}

func (n *Leaf) ReturnType(symbols *SymbolTable) Type { return NoType }
func (n *Leaf) TypeCheck(symbols *SymbolTable) error  { return nil }
func (n *Leaf) InitializeWAT(control *Control)        {}

// Parent is embedded by nodes that own an ordered list of children. The
// children are exclusively owned and only ever appended.
type Parent struct {
	pos      FilePos
	children []Node
}

func (p *Parent) Pos() FilePos { return p.pos }

// AddChild appends child.
func (p *Parent) AddChild(child Node) {
	assert(child != nil, "nil child added to node at %s", p.pos)
	p.children = append(p.children, child)
}

// NumChildren returns the number of children.
func (p *Parent) NumChildren() int { return len(p.children) }

// HasChild reports whether child id exists.
func (p *Parent) HasChild(id int) bool {
	return id >= 0 && id < len(p.children) && p.children[id] != nil
}

// Child returns child id; a missing child is an internal failure.
func (p *Parent) Child(id int) Node {
	assert(p.HasChild(id), "node at %s has no child %d", p.pos, id)
	return p.children[id]
}

// LastChild returns the final child.
func (p *Parent) LastChild() Node {
	assert(len(p.children) > 0, "node at %s has no children", p.pos)
	return p.children[len(p.children)-1]
}

// Children returns the children in order.
func (p *Parent) Children() []Node { return p.children }

// AdaptChild inserts a new node between this one and child id.
func (p *Parent) AdaptChild(id int, wrap func(Node) Node) {
	p.children[id] = wrap(p.Child(id))
}

func (p *Parent) ReturnType(symbols *SymbolTable) Type { return NoType }

// TypeCheck checks every child by default.
func (p *Parent) TypeCheck(symbols *SymbolTable) error {
	return p.TypeCheckChildren(symbols)
}

// TypeCheckChildren checks children in order, stopping at the first error.
func (p *Parent) TypeCheckChildren(symbols *SymbolTable) error {
	for _, child := range p.children {
		if err := child.TypeCheck(symbols); err != nil {
			return err
		}
	}
	return nil
}

func (p *Parent) InitializeWAT(control *Control) {
	for _, child := range p.children {
		child.InitializeWAT(control)
	}
}

// ChildToWAT generates child id. When outNeeded the child must leave a
// value; otherwise any value it leaves is dropped. It reports whether a value
// remains on the stack.
func (p *Parent) ChildToWAT(id int, control *Control, outNeeded bool) bool {
	child := p.Child(id)

	balanced := control.Guard()
	hasOut := child.ToWAT(control)
	balanced()

	want := !child.ReturnType(control.Symbols).IsEmpty()
	assert(hasOut == want, "%s at %s: ToWAT left a value = %v, but its return type is %s",
		child.TypeName(), child.Pos(), hasOut, child.ReturnType(control.Symbols))
	assert(!outNeeded || hasOut, "%s at %s must produce a value", child.TypeName(), child.Pos())

	if !outNeeded && hasOut {
		control.Drop()
		return false
	}
	return hasOut
}

// printNode writes one node line followed by its children.
func printNode(w io.Writer, prefix string, n Node, detail string, children []Node) {
	if detail != "" {
		fmt.Fprintf(w, "%s%s %s\n", prefix, n.TypeName(), detail)
	} else {
		fmt.Fprintf(w, "%s%s\n", prefix, n.TypeName())
	}
	for _, child := range children {
		child.Print(w, prefix+"  ")
	}
}

// terminator is implemented by nodes that can end a function body with its
// result value left on the stack.
type terminator interface {
	markTerminal() bool
}

// ---------------------------------------------------------------------------
// Block
// ---------------------------------------------------------------------------

// Block sequences statements in their own scope. A value left by a statement
// is dropped, except for a terminal return whose value is the block's value.
type Block struct {
	Parent
	terminal bool
}

// NewBlock creates a block holding stmts.
func NewBlock(pos FilePos, stmts ...Node) *Block {
	b := &Block{Parent: Parent{pos: pos}}
	for _, s := range stmts {
		b.AddChild(s)
	}
	return b
}

func (n *Block) TypeName() string { return "BLOCK" }

func (n *Block) Print(w io.Writer, prefix string) {
	printNode(w, prefix, n, "", n.children)
}

func (n *Block) markTerminal() bool {
	if len(n.children) == 0 {
		return false
	}
	if t, ok := n.LastChild().(terminator); ok && t.markTerminal() {
		n.terminal = true
	}
	return n.terminal
}

func (n *Block) ReturnType(symbols *SymbolTable) Type {
	if !n.terminal {
		return NoType
	}
	return n.LastChild().ReturnType(symbols)
}

func (n *Block) TypeCheck(symbols *SymbolTable) error {
	symbols.PushScope()
	defer symbols.PopScope()
	return n.TypeCheckChildren(symbols)
}

func (n *Block) ToWAT(control *Control) bool {
	last := len(n.children) - 1
	leftover := false
	for i := range n.children {
		keep := n.terminal && i == last && !n.children[i].ReturnType(control.Symbols).IsEmpty()
		leftover = n.ChildToWAT(i, control, keep)
	}
	return leftover
}
