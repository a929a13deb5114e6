package compiler

import (
	"io"
	"strings"
	"testing"
)

// liar is a leaf whose ToWAT result is set independently of its type.
type liar struct {
	Leaf
	typ    Type
	pushes bool
}

func (n *liar) TypeName() string                     { return "LIAR" }
func (n *liar) Print(w io.Writer, prefix string)     { printNode(w, prefix, n, "", nil) }
func (n *liar) ReturnType(symbols *SymbolTable) Type { return n.typ }
func (n *liar) ToWAT(control *Control) bool {
	if n.pushes {
		control.Code("(i32.const 1)")
	}
	return n.pushes
}

func TestLeafAddChildFails(t *testing.T) {
	leaf := NewIntLit(FilePos{1, 1}, 1)
	expectInternalError(t, func() { leaf.AddChild(NewIntLit(FilePos{1, 2}, 2)) })
}

func TestParentMissingChildFails(t *testing.T) {
	b := NewBlock(FilePos{1, 1})
	expectInternalError(t, func() { b.Child(0) })
	expectInternalError(t, func() { b.AddChild(nil) })
}

func TestChildToWATDisagreementFails(t *testing.T) {
	c := NewControl(DefaultOptions())

	lies := []*liar{
		{typ: IntType, pushes: false},
		{typ: NoType, pushes: true},
	}
	for _, l := range lies {
		b := NewBlock(FilePos{1, 1}, l)
		expectInternalError(t, func() { b.ChildToWAT(0, c, false) })
	}
}

func TestChildToWATNeededValueMissingFails(t *testing.T) {
	c := NewControl(DefaultOptions())
	b := NewBlock(FilePos{1, 1}, &liar{typ: NoType})
	expectInternalError(t, func() { b.ChildToWAT(0, c, true) })
}

func TestChildToWATDropsUnneededValue(t *testing.T) {
	c := NewControl(DefaultOptions())
	b := NewBlock(FilePos{1, 1}, &liar{typ: IntType, pushes: true})

	if b.ChildToWAT(0, c, false) {
		t.Error("ChildToWAT reported a value after dropping it")
	}
	if got, want := c.String(), "(i32.const 1)\n(drop)\n"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}

	c = NewControl(DefaultOptions())
	if !b.ChildToWAT(0, c, true) {
		t.Error("ChildToWAT lost a needed value")
	}
	if strings.Contains(c.String(), "drop") {
		t.Errorf("needed value was dropped:\n%s", c.String())
	}
}

func TestBlockDropsStatementValues(t *testing.T) {
	c := NewControl(DefaultOptions())
	b := NewBlock(FilePos{1, 1},
		NewIntLit(FilePos{1, 1}, 1),
		NewIntLit(FilePos{2, 1}, 2),
	)

	if b.ReturnType(c.Symbols) != NoType {
		t.Errorf("non-terminal block ReturnType = %s", b.ReturnType(c.Symbols))
	}
	if b.ToWAT(c) {
		t.Error("non-terminal block reported a value")
	}
	if got := strings.Count(c.String(), "(drop)"); got != 2 {
		t.Errorf("got %d drops, want 2:\n%s", got, c.String())
	}
}

func TestBlockTerminalReturnKeepsValue(t *testing.T) {
	c := NewControl(DefaultOptions())
	ret := NewReturn(FilePos{2, 1}, NewIntLit(FilePos{2, 8}, 7))
	b := NewBlock(FilePos{1, 1}, NewIntLit(FilePos{1, 1}, 1), ret)

	if !b.markTerminal() || !ret.IsTerminal() {
		t.Fatal("block ending in return is not terminal")
	}
	if !b.ReturnType(c.Symbols).Equal(IntType) {
		t.Errorf("ReturnType = %s, want int", b.ReturnType(c.Symbols))
	}
	if !b.ToWAT(c) {
		t.Error("terminal block did not report its value")
	}
	out := c.String()
	if strings.Count(out, "(drop)") != 1 || strings.Contains(out, "(return)") {
		t.Errorf("unexpected code:\n%s", out)
	}
}

func TestBlockNestedTerminal(t *testing.T) {
	inner := NewBlock(FilePos{2, 1}, NewReturn(FilePos{2, 3}, NewIntLit(FilePos{2, 10}, 1)))
	outer := NewBlock(FilePos{1, 1}, inner)
	if !outer.markTerminal() {
		t.Error("block ending in a terminal block is not terminal")
	}

	notLast := NewReturn(FilePos{3, 1}, nil)
	b := NewBlock(FilePos{1, 1}, notLast, NewIntLit(FilePos{4, 1}, 1))
	if b.markTerminal() || notLast.IsTerminal() {
		t.Error("return before the last statement was marked terminal")
	}
}

func TestReturnNonTerminalEmitsReturn(t *testing.T) {
	c := NewControl(DefaultOptions())
	ret := NewReturn(FilePos{1, 1}, NewIntLit(FilePos{1, 8}, 3))
	if ret.ToWAT(c) {
		t.Error("non-terminal return reported a value")
	}
	if got, want := c.String(), "(i32.const 3)\n(return)\n"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestAdaptChild(t *testing.T) {
	op := NewBinaryOp(FilePos{1, 1}, "+", NewStringLit(FilePos{1, 1}, "a"), NewCharLit(FilePos{1, 7}, 'b'))
	op.AdaptChild(1, func(n Node) Node { return NewToString(n.Pos(), n) })

	conv, ok := op.Child(1).(*ToString)
	if !ok {
		t.Fatalf("child 1 = %s, want TO_STRING", op.Child(1).TypeName())
	}
	if _, ok := conv.Child(0).(*CharLit); !ok {
		t.Errorf("adapted node lost its child")
	}
}

func TestPrintTree(t *testing.T) {
	prog := parseOK(t, `function main(int n): int { return n + 1; }`)
	var sb strings.Builder
	prog.Print(&sb, "")

	want := "PROGRAM\n" +
		"  FUNCTION main(int n) : int\n" +
		"    BLOCK\n" +
		"      RETURN\n" +
		"        BINARY_OP +\n" +
		"          VAR n\n" +
		"          INT_LIT 1\n"
	if sb.String() != want {
		t.Errorf("Print =\n%s\nwant\n%s", sb.String(), want)
	}
}
