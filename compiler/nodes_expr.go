package compiler

import (
	"fmt"
	"io"
	"strconv"
)

// ---------------------------------------------------------------------------
// Expression nodes
// ---------------------------------------------------------------------------

// IntLit is an integer literal.
type IntLit struct {
	Leaf
	Value int32
}

// NewIntLit creates an integer literal.
func NewIntLit(pos FilePos, value int32) *IntLit {
	return &IntLit{Leaf: Leaf{pos: pos}, Value: value}
}

func (n *IntLit) TypeName() string { return "INT_LIT" }

func (n *IntLit) Print(w io.Writer, prefix string) {
	printNode(w, prefix, n, strconv.Itoa(int(n.Value)), nil)
}

func (n *IntLit) ReturnType(symbols *SymbolTable) Type { return IntType }

func (n *IntLit) ToWAT(control *Control) bool {
	control.Codef("(i32.const %d)", n.Value)
	return true
}

// CharLit is a character literal.
type CharLit struct {
	Leaf
	Value byte
}

// NewCharLit creates a character literal.
func NewCharLit(pos FilePos, value byte) *CharLit {
	return &CharLit{Leaf: Leaf{pos: pos}, Value: value}
}

func (n *CharLit) TypeName() string { return "CHAR_LIT" }

func (n *CharLit) Print(w io.Writer, prefix string) {
	printNode(w, prefix, n, strconv.QuoteRune(rune(n.Value)), nil)
}

func (n *CharLit) ReturnType(symbols *SymbolTable) Type { return CharType }

func (n *CharLit) ToWAT(control *Control) bool {
	control.Codef("(i32.const %d)", n.Value).Comment(strconv.QuoteRune(rune(n.Value)))
	return true
}

// StringLit is a string literal placed in the data segment.
type StringLit struct {
	Leaf
	Value string

	offset      int
	initialized bool
}

// NewStringLit creates a string literal.
func NewStringLit(pos FilePos, value string) *StringLit {
	return &StringLit{Leaf: Leaf{pos: pos}, Value: value}
}

func (n *StringLit) TypeName() string { return "STRING_LIT" }

func (n *StringLit) Print(w io.Writer, prefix string) {
	printNode(w, prefix, n, strconv.Quote(n.Value), nil)
}

func (n *StringLit) ReturnType(symbols *SymbolTable) Type { return StringType }

func (n *StringLit) InitializeWAT(control *Control) {
	n.offset = control.StringData(n.Value)
	n.initialized = true
}

func (n *StringLit) ToWAT(control *Control) bool {
	assert(n.initialized, "string literal at %s emitted before InitializeWAT", n.pos)
	control.Codef("(i32.const %d)", n.offset).Comment(strconv.Quote(n.Value))
	return true
}

// Var is a reference to a variable.
type Var struct {
	Leaf
	Name string

	sym *Symbol
}

// NewVar creates a variable reference.
func NewVar(pos FilePos, name string) *Var {
	return &Var{Leaf: Leaf{pos: pos}, Name: name}
}

func (n *Var) TypeName() string { return "VAR" }

func (n *Var) Print(w io.Writer, prefix string) { printNode(w, prefix, n, n.Name, nil) }

func (n *Var) ReturnType(symbols *SymbolTable) Type {
	return resolvedType(n.sym, n.Name, symbols)
}

func (n *Var) TypeCheck(symbols *SymbolTable) error {
	sym, err := symbols.Lookup(n.Name)
	if err != nil {
		return typeErrorf(n.pos, ErrUndeclared, "%v", err)
	}
	n.sym = sym
	return nil
}

func (n *Var) ToWAT(control *Control) bool {
	assert(n.sym != nil, "variable %s at %s emitted before type checking", n.Name, n.pos)
	control.Codef("(local.get $%s)", n.sym.Local)
	return true
}

// Assign stores its single child into a variable and yields the value.
type Assign struct {
	Parent
	Name string

	sym *Symbol
}

// NewAssign creates an assignment.
func NewAssign(pos FilePos, name string, value Node) *Assign {
	n := &Assign{Parent: Parent{pos: pos}, Name: name}
	n.AddChild(value)
	return n
}

func (n *Assign) TypeName() string { return "ASSIGN" }

func (n *Assign) Print(w io.Writer, prefix string) {
	printNode(w, prefix, n, n.Name, n.children)
}

func (n *Assign) ReturnType(symbols *SymbolTable) Type {
	return resolvedType(n.sym, n.Name, symbols)
}

func (n *Assign) TypeCheck(symbols *SymbolTable) error {
	if err := n.Child(0).TypeCheck(symbols); err != nil {
		return err
	}
	sym, err := symbols.Lookup(n.Name)
	if err != nil {
		return typeErrorf(n.pos, ErrUndeclared, "%v", err)
	}
	n.sym = sym
	return expectType(n.Child(0), symbols, sym.Type, "assignment to '"+n.Name+"'")
}

func (n *Assign) ToWAT(control *Control) bool {
	assert(n.sym != nil, "assignment to %s emitted before type checking", n.Name)
	n.ChildToWAT(0, control, true)
	control.Codef("(local.tee $%s)", n.sym.Local).Comment(n.Name + " = value")
	return true
}

// resolvedType returns the type of a cached binding, falling back to a
// lookup for nodes that have not been checked yet.
func resolvedType(sym *Symbol, name string, symbols *SymbolTable) Type {
	if sym != nil {
		return sym.Type
	}
	if symbols != nil {
		if s, err := symbols.Lookup(name); err == nil {
			return s.Type
		}
	}
	return NoType
}

// binaryKind selects the code shape of a BinaryOp after type checking.
type binaryKind int

const (
	binaryArith binaryKind = iota
	binaryCompare
	binaryLogical
	binaryConcat
)

var arithOps = map[string]string{
	"+": "i32.add",
	"-": "i32.sub",
	"*": "i32.mul",
	"/": "i32.div_s",
	"%": "i32.rem_s",
}

var compareOps = map[string]string{
	"==": "i32.eq",
	"!=": "i32.ne",
	"<":  "i32.lt_s",
	"<=": "i32.le_s",
	">":  "i32.gt_s",
	">=": "i32.ge_s",
}

// BinaryOp applies an infix operator to its two children.
type BinaryOp struct {
	Parent
	Op string

	kind   binaryKind
	result Type
}

// NewBinaryOp creates a binary operation.
func NewBinaryOp(pos FilePos, op string, lhs, rhs Node) *BinaryOp {
	n := &BinaryOp{Parent: Parent{pos: pos}, Op: op}
	n.AddChild(lhs)
	n.AddChild(rhs)
	return n
}

func (n *BinaryOp) TypeName() string { return "BINARY_OP" }

func (n *BinaryOp) Print(w io.Writer, prefix string) {
	printNode(w, prefix, n, n.Op, n.children)
}

func (n *BinaryOp) ReturnType(symbols *SymbolTable) Type { return n.result }

func (n *BinaryOp) TypeCheck(symbols *SymbolTable) error {
	if err := n.TypeCheckChildren(symbols); err != nil {
		return err
	}
	lhs, rhs := n.Child(0), n.Child(1)
	for _, operand := range []Node{lhs, rhs} {
		if operand.ReturnType(symbols).IsEmpty() {
			return typeErrorf(operand.Pos(), ErrArity, "operand of '%s': %s produces no value", n.Op, describe(operand))
		}
	}
	lt, rt := lhs.ReturnType(symbols), rhs.ReturnType(symbols)

	switch {
	case n.Op == "+" && (lt.Equal(StringType) || rt.Equal(StringType)):
		for i, t := range []Type{lt, rt} {
			switch {
			case t.Equal(CharType):
				n.AdaptChild(i, func(c Node) Node { return NewToString(c.Pos(), c) })
			case !t.Equal(StringType):
				return n.mismatch(lt, rt)
			}
		}
		n.kind, n.result = binaryConcat, StringType

	case arithOps[n.Op] != "":
		if !lt.Equal(IntType) || !rt.Equal(IntType) {
			return n.mismatch(lt, rt)
		}
		n.kind, n.result = binaryArith, IntType

	case compareOps[n.Op] != "":
		if !lt.Equal(rt) || lt.Equal(StringType) {
			return n.mismatch(lt, rt)
		}
		n.kind, n.result = binaryCompare, IntType

	case n.Op == "&&" || n.Op == "||":
		if !lt.Equal(IntType) || !rt.Equal(IntType) {
			return n.mismatch(lt, rt)
		}
		n.kind, n.result = binaryLogical, IntType

	default:
		return typeErrorf(n.pos, ErrSyntax, "unknown operator '%s'", n.Op)
	}
	return nil
}

func (n *BinaryOp) mismatch(lt, rt Type) error {
	return typeErrorf(n.pos, ErrTypeMismatch, "operator '%s' cannot combine %s and %s", n.Op, lt, rt)
}

func (n *BinaryOp) ToWAT(control *Control) bool {
	assert(!n.result.IsEmpty(), "operator %s at %s emitted before type checking", n.Op, n.pos)
	n.ChildToWAT(0, control, true)

	switch n.kind {
	case binaryConcat:
		n.ChildToWAT(1, control, true)
		control.Call(ConcatSig).Comment("string + string")

	case binaryArith:
		n.ChildToWAT(1, control, true)
		control.Codef("(%s)", arithOps[n.Op])

	case binaryCompare:
		n.ChildToWAT(1, control, true)
		control.Codef("(%s)", compareOps[n.Op])

	case binaryLogical:
		control.Code("(if (result i32)").Comment("short-circuit " + n.Op).Indent(1)
		if n.Op == "&&" {
			control.Code("(then").Indent(1)
			n.ChildToWAT(1, control, true)
			control.Code("(i32.const 0)").Code("(i32.ne)")
			control.Indent(-1).Code(")")
			control.Code("(else (i32.const 0))")
		} else {
			control.Code("(then (i32.const 1))")
			control.Code("(else").Indent(1)
			n.ChildToWAT(1, control, true)
			control.Code("(i32.const 0)").Code("(i32.ne)")
			control.Indent(-1).Code(")")
		}
		control.Indent(-1).Code(")")
	}
	return true
}

// UnaryOp applies a prefix operator: '-' negates, '!' is logical not.
type UnaryOp struct {
	Parent
	Op string
}

// NewUnaryOp creates a unary operation.
func NewUnaryOp(pos FilePos, op string, operand Node) *UnaryOp {
	n := &UnaryOp{Parent: Parent{pos: pos}, Op: op}
	n.AddChild(operand)
	return n
}

func (n *UnaryOp) TypeName() string { return "UNARY_OP" }

func (n *UnaryOp) Print(w io.Writer, prefix string) {
	printNode(w, prefix, n, n.Op, n.children)
}

func (n *UnaryOp) ReturnType(symbols *SymbolTable) Type { return IntType }

func (n *UnaryOp) TypeCheck(symbols *SymbolTable) error {
	if n.Op != "-" && n.Op != "!" {
		return typeErrorf(n.pos, ErrSyntax, "unknown unary operator '%s'", n.Op)
	}
	if err := n.Child(0).TypeCheck(symbols); err != nil {
		return err
	}
	return expectType(n.Child(0), symbols, IntType, "operand of unary '"+n.Op+"'")
}

func (n *UnaryOp) ToWAT(control *Control) bool {
	if n.Op == "-" {
		control.Code("(i32.const 0)")
		n.ChildToWAT(0, control, true)
		control.Code("(i32.sub)").Comment("negate")
		return true
	}
	n.ChildToWAT(0, control, true)
	control.Code("(i32.eqz)").Comment("logical not")
	return true
}

// ToString converts a char to a freshly allocated one-character string.
type ToString struct {
	Parent
}

// NewToString wraps a char-valued node.
func NewToString(pos FilePos, operand Node) *ToString {
	n := &ToString{Parent: Parent{pos: pos}}
	n.AddChild(operand)
	return n
}

func (n *ToString) TypeName() string { return "TO_STRING" }

func (n *ToString) Print(w io.Writer, prefix string) {
	printNode(w, prefix, n, "", n.children)
}

func (n *ToString) ReturnType(symbols *SymbolTable) Type { return StringType }

func (n *ToString) TypeCheck(symbols *SymbolTable) error {
	if err := n.Child(0).TypeCheck(symbols); err != nil {
		return err
	}
	return expectType(n.Child(0), symbols, CharType, "char conversion")
}

func (n *ToString) ToWAT(control *Control) bool {
	n.ChildToWAT(0, control, true)
	control.Call(CharToStringSig)
	return true
}

// Index reads one character of a string.
type Index struct {
	Parent
}

// NewIndex creates str[idx].
func NewIndex(pos FilePos, str, idx Node) *Index {
	n := &Index{Parent: Parent{pos: pos}}
	n.AddChild(str)
	n.AddChild(idx)
	return n
}

func (n *Index) TypeName() string { return "INDEX" }

func (n *Index) Print(w io.Writer, prefix string) {
	printNode(w, prefix, n, "", n.children)
}

func (n *Index) ReturnType(symbols *SymbolTable) Type { return CharType }

func (n *Index) TypeCheck(symbols *SymbolTable) error {
	if err := n.TypeCheckChildren(symbols); err != nil {
		return err
	}
	if err := expectType(n.Child(0), symbols, StringType, "indexed value"); err != nil {
		return err
	}
	return expectType(n.Child(1), symbols, IntType, "index")
}

func (n *Index) ToWAT(control *Control) bool {
	n.ChildToWAT(0, control, true)
	n.ChildToWAT(1, control, true)
	control.Code("(i32.add)").Comment("address of the character")
	control.Code("(i32.load8_u)")
	return true
}

// Call invokes a user function or a runtime builtin. Its children are the
// arguments.
type Call struct {
	Parent
	Name string

	info *FuncInfo
}

// NewCall creates a call with the given arguments.
func NewCall(pos FilePos, name string, args ...Node) *Call {
	n := &Call{Parent: Parent{pos: pos}, Name: name}
	for _, a := range args {
		n.AddChild(a)
	}
	return n
}

func (n *Call) TypeName() string { return "CALL" }

func (n *Call) Print(w io.Writer, prefix string) {
	printNode(w, prefix, n, n.Name, n.children)
}

func (n *Call) ReturnType(symbols *SymbolTable) Type {
	if n.info != nil {
		return n.info.Return
	}
	if symbols != nil {
		if info, err := symbols.LookupFunction(n.Name); err == nil {
			return info.Return
		}
	}
	return NoType
}

func (n *Call) TypeCheck(symbols *SymbolTable) error {
	info, err := symbols.LookupFunction(n.Name)
	if err != nil {
		return typeErrorf(n.pos, ErrUndeclared, "%v", err)
	}
	if err := n.TypeCheckChildren(symbols); err != nil {
		return err
	}
	if len(n.children) != len(info.Params) {
		return typeErrorf(n.pos, ErrArity, "function '%s' takes %d argument(s), %d given",
			n.Name, len(info.Params), len(n.children))
	}
	for i, want := range info.Params {
		if err := expectType(n.children[i], symbols, want, fmt.Sprintf("argument %d of '%s'", i+1, n.Name)); err != nil {
			return err
		}
	}
	n.info = info
	return nil
}

func (n *Call) ToWAT(control *Control) bool {
	assert(n.info != nil, "call to %s at %s emitted before type checking", n.Name, n.pos)
	for i := range n.children {
		n.ChildToWAT(i, control, true)
	}
	control.Codef("(call $%s)", n.info.Internal)
	return !n.info.Return.IsEmpty()
}
