package hash

import (
	"fmt"
	"strconv"

	"github.com/chazu/tubular/compiler"
)

// ---------------------------------------------------------------------------
// Normalization: compiler tree -> canonical tree
//
// Walks the compiler tree and produces the canonical tree with variables
// numbered by declaration order within their function. Function names are
// kept, since they are the exported interface.
// ---------------------------------------------------------------------------

// normalizer holds state for one walk.
type normalizer struct {
	scopes        []map[string]int // name -> slot, innermost last
	nextSlot      int
	withPositions bool
}

// Normalize converts a compiler tree into its canonical form. The tree may
// be checked or unchecked: implicit char-to-string conversions inserted by
// the type checker are elided so both give the same result.
func Normalize(node compiler.Node, withPositions bool) *HNode {
	n := &normalizer{withPositions: withPositions}
	return n.normalize(node)
}

// children is implemented by every interior compiler node.
type children interface {
	Children() []compiler.Node
}

func (n *normalizer) normalize(node compiler.Node) *HNode {
	switch c := node.(type) {
	case *compiler.Program:
		return n.node(KindProgram, c, "", "", n.each(c.Children()))

	case *compiler.Function:
		return n.normalizeFunction(c)

	case *compiler.Block:
		n.push()
		defer n.pop()
		return n.node(KindBlock, c, "", "", n.each(c.Children()))

	case *compiler.Declare:
		// The initializer is resolved before the name comes into scope.
		kids := n.each(c.Children())
		return n.node(KindDeclare, c, n.declare(c.Name), c.VarType.Name(), kids)

	case *compiler.If:
		kids := []*HNode{n.normalize(c.Child(0))}
		for _, branch := range c.Children()[1:] {
			kids = append(kids, n.scoped(branch))
		}
		return n.node(KindIf, c, "", "", kids)

	case *compiler.While:
		return n.node(KindWhile, c, "", "", []*HNode{n.normalize(c.Child(0)), n.scoped(c.Child(1))})

	case *compiler.Break:
		return n.node(KindBreak, c, "", "", nil)

	case *compiler.Continue:
		return n.node(KindContinue, c, "", "", nil)

	case *compiler.Return:
		return n.node(KindReturn, c, "", "", n.each(c.Children()))

	case *compiler.IntLit:
		return n.node(KindIntLit, c, strconv.Itoa(int(c.Value)), "", nil)

	case *compiler.CharLit:
		return n.node(KindCharLit, c, strconv.Itoa(int(c.Value)), "", nil)

	case *compiler.StringLit:
		return n.node(KindStringLit, c, c.Value, "", nil)

	case *compiler.Var:
		return n.node(KindVar, c, n.resolve(c.Name), "", nil)

	case *compiler.Assign:
		return n.node(KindAssign, c, n.resolve(c.Name), "", n.each(c.Children()))

	case *compiler.BinaryOp:
		return n.node(KindBinaryOp, c, c.Op, "", n.each(c.Children()))

	case *compiler.UnaryOp:
		return n.node(KindUnaryOp, c, c.Op, "", n.each(c.Children()))

	case *compiler.ToString:
		return n.normalize(c.Child(0))

	case *compiler.Index:
		return n.node(KindIndex, c, "", "", n.each(c.Children()))

	case *compiler.Call:
		return n.node(KindCall, c, c.Name, "", n.each(c.Children()))
	}

	var kids []*HNode
	if p, ok := node.(children); ok {
		kids = n.each(p.Children())
	}
	return n.node(KindReserved, node, node.TypeName(), "", kids)
}

func (n *normalizer) normalizeFunction(fn *compiler.Function) *HNode {
	n.nextSlot = 0
	n.push()
	defer n.pop()

	kids := make([]*HNode, 0, len(fn.Params)+1)
	for _, p := range fn.Params {
		param := &HNode{Kind: KindParam, Value: n.declare(p.Name), Type: p.Type.Name()}
		if n.withPositions {
			param.Pos = &HPos{Line: p.Pos.Line, Column: p.Pos.Column}
		}
		kids = append(kids, param)
	}
	kids = append(kids, n.normalize(fn.Body()))
	return n.node(KindFunction, fn, fn.Name, fn.Return.Name(), kids)
}

func (n *normalizer) node(kind byte, src compiler.Node, value, typ string, kids []*HNode) *HNode {
	h := &HNode{Kind: kind, Value: value, Type: typ, Children: kids}
	if n.withPositions {
		pos := src.Pos()
		h.Pos = &HPos{Line: pos.Line, Column: pos.Column}
	}
	return h
}

func (n *normalizer) each(nodes []compiler.Node) []*HNode {
	if len(nodes) == 0 {
		return nil
	}
	out := make([]*HNode, len(nodes))
	for i, c := range nodes {
		out[i] = n.normalize(c)
	}
	return out
}

// scoped normalizes a branch or loop body in its own scope.
func (n *normalizer) scoped(node compiler.Node) *HNode {
	n.push()
	defer n.pop()
	return n.normalize(node)
}

func (n *normalizer) push() { n.scopes = append(n.scopes, map[string]int{}) }

func (n *normalizer) pop() { n.scopes = n.scopes[:len(n.scopes)-1] }

// declare binds name in the innermost scope to the next free slot.
func (n *normalizer) declare(name string) string {
	slot := n.nextSlot
	n.nextSlot++
	if len(n.scopes) > 0 {
		n.scopes[len(n.scopes)-1][name] = slot
	}
	return slotName(slot)
}

// resolve finds the slot of name; unresolved names are kept as written.
func (n *normalizer) resolve(name string) string {
	for i := len(n.scopes) - 1; i >= 0; i-- {
		if slot, ok := n.scopes[i][name]; ok {
			return slotName(slot)
		}
	}
	return "?" + name
}

func slotName(slot int) string { return fmt.Sprintf("#%d", slot) }
