package compiler

import (
	"fmt"
	"io"
	"strings"
)

// ---------------------------------------------------------------------------
// Statement and definition nodes
// ---------------------------------------------------------------------------

// Program is the tree root: an ordered list of function definitions.
type Program struct {
	Parent
}

// NewProgram creates an empty program.
func NewProgram(pos FilePos) *Program {
	return &Program{Parent: Parent{pos: pos}}
}

func (n *Program) TypeName() string { return "PROGRAM" }

func (n *Program) Print(w io.Writer, prefix string) {
	printNode(w, prefix, n, "", n.children)
}

// Functions returns the function definitions in source order.
func (n *Program) Functions() []*Function {
	fns := make([]*Function, 0, len(n.children))
	for _, child := range n.children {
		if fn, ok := child.(*Function); ok {
			fns = append(fns, fn)
		}
	}
	return fns
}

// TypeCheck registers every signature first so calls may refer to functions
// defined later, then checks each body.
func (n *Program) TypeCheck(symbols *SymbolTable) error {
	for _, fn := range n.Functions() {
		if err := fn.register(symbols); err != nil {
			return err
		}
	}
	return n.TypeCheckChildren(symbols)
}

func (n *Program) ToWAT(control *Control) bool {
	for i := range n.children {
		n.ChildToWAT(i, control, false)
	}
	return false
}

// ParamDecl is a typed function parameter.
type ParamDecl struct {
	Name string
	Type Type
	Pos  FilePos
}

// Function is a function definition; its single child is the body block.
type Function struct {
	Parent
	Name   string
	Params []ParamDecl
	Return Type

	info   *FuncInfo
	params []*Symbol
	locals []*Symbol
}

// NewFunction creates a function definition with the given body.
func NewFunction(pos FilePos, name string, params []ParamDecl, ret Type, body *Block) *Function {
	fn := &Function{Parent: Parent{pos: pos}, Name: name, Params: params, Return: ret}
	fn.AddChild(body)
	return fn
}

func (n *Function) TypeName() string { return "FUNCTION" }

func (n *Function) Print(w io.Writer, prefix string) {
	parts := make([]string, len(n.Params))
	for i, p := range n.Params {
		parts[i] = p.Type.String() + " " + p.Name
	}
	detail := fmt.Sprintf("%s(%s) : %s", n.Name, strings.Join(parts, ", "), n.Return)
	printNode(w, prefix, n, detail, n.children)
}

// Body returns the function body.
func (n *Function) Body() *Block {
	body, ok := n.Child(0).(*Block)
	assert(ok, "function %s at %s has no body block", n.Name, n.pos)
	return body
}

func (n *Function) register(symbols *SymbolTable) error {
	types := make([]Type, len(n.Params))
	for i, p := range n.Params {
		types[i] = p.Type
	}
	info, err := symbols.AddFunction(n.Name, types, n.Return)
	if err != nil {
		return typeErrorf(n.pos, ErrDuplicateFunction, "%v", err)
	}
	n.info = info
	return nil
}

func (n *Function) TypeCheck(symbols *SymbolTable) error {
	if n.info == nil {
		if err := n.register(symbols); err != nil {
			return err
		}
	}

	symbols.BeginFunction(n.info)
	symbols.PushScope()
	n.params = n.params[:0]
	for _, p := range n.Params {
		sym, err := symbols.Declare(p.Name, p.Type, KindParam, p.Pos)
		if err != nil {
			symbols.PopScope()
			symbols.EndFunction()
			return typeErrorf(p.Pos, ErrRedeclared, "%v", err)
		}
		n.params = append(n.params, sym)
	}

	body := n.Body()
	body.markTerminal()
	err := body.TypeCheck(symbols)
	symbols.PopScope()
	n.locals = symbols.EndFunction()
	return err
}

// Signature describes the emitted function.
func (n *Function) Signature() Signature {
	assert(n.info != nil, "function %s emitted before type checking", n.Name)
	sig := Signature{Name: n.info.Internal, Export: n.Name}
	for _, p := range n.params {
		sig.Params = append(sig.Params, Param{Name: p.Local, Type: p.Type.WAT()})
	}
	if !n.Return.IsEmpty() {
		sig.Results = []string{n.Return.WAT()}
	}
	for _, l := range n.locals {
		sig.Locals = append(sig.Locals, Param{Name: l.Local, Type: l.Type.WAT()})
	}
	return sig
}

func (n *Function) ToWAT(control *Control) bool {
	sig := n.Signature()
	control.CommentLine("Function " + n.Name).Func(sig)

	hasValue := n.ChildToWAT(0, control, !n.Body().ReturnType(control.Symbols).IsEmpty())
	if !n.Return.IsEmpty() && !hasValue {
		control.Code("(unreachable)").Comment("missing return")
	}

	control.EndFunc().CommentLine("")
	return false
}

// Declare introduces a local variable, optionally initialised.
type Declare struct {
	Parent
	Name    string
	VarType Type

	sym   *Symbol
	empty int // offset of "" for an uninitialised string
}

// NewDeclare creates a declaration; init may be nil.
func NewDeclare(pos FilePos, name string, typ Type, init Node) *Declare {
	n := &Declare{Parent: Parent{pos: pos}, Name: name, VarType: typ}
	if init != nil {
		n.AddChild(init)
	}
	return n
}

func (n *Declare) TypeName() string { return "DECLARE" }

func (n *Declare) Print(w io.Writer, prefix string) {
	printNode(w, prefix, n, n.VarType.String()+" "+n.Name, n.children)
}

func (n *Declare) TypeCheck(symbols *SymbolTable) error {
	if n.HasChild(0) {
		if err := n.Child(0).TypeCheck(symbols); err != nil {
			return err
		}
		if err := expectType(n.Child(0), symbols, n.VarType, "initializer of '"+n.Name+"'"); err != nil {
			return err
		}
	}
	sym, err := symbols.Declare(n.Name, n.VarType, KindLocal, n.pos)
	if err != nil {
		return typeErrorf(n.pos, ErrRedeclared, "%v", err)
	}
	n.sym = sym
	return nil
}

func (n *Declare) InitializeWAT(control *Control) {
	n.Parent.InitializeWAT(control)
	if !n.HasChild(0) && n.VarType.Equal(StringType) {
		n.empty = control.StringData("")
	}
}

// ToWAT always stores into the local, so a declaration without an
// initializer starts from zero (or "") even when re-entered in a loop.
func (n *Declare) ToWAT(control *Control) bool {
	assert(n.sym != nil, "declaration of %s emitted before type checking", n.Name)
	switch {
	case n.HasChild(0):
		n.ChildToWAT(0, control, true)
	case n.VarType.Equal(StringType):
		control.Codef("(i32.const %d)", n.empty).Comment(`""`)
	default:
		control.Code("(i32.const 0)")
	}
	control.Codef("(local.set $%s)", n.sym.Local).Comment("init " + n.Name)
	return false
}

// If is a conditional with an optional else branch.
type If struct {
	Parent
}

// NewIf creates a conditional; otherwise may be nil.
func NewIf(pos FilePos, cond, then, otherwise Node) *If {
	n := &If{Parent: Parent{pos: pos}}
	n.AddChild(cond)
	n.AddChild(then)
	if otherwise != nil {
		n.AddChild(otherwise)
	}
	return n
}

func (n *If) TypeName() string { return "IF" }

func (n *If) Print(w io.Writer, prefix string) {
	printNode(w, prefix, n, "", n.children)
}

func (n *If) TypeCheck(symbols *SymbolTable) error {
	if err := n.Child(0).TypeCheck(symbols); err != nil {
		return err
	}
	if err := expectType(n.Child(0), symbols, IntType, "if condition"); err != nil {
		return err
	}
	for i := 1; i < n.NumChildren(); i++ {
		if err := checkScoped(n.Child(i), symbols); err != nil {
			return err
		}
	}
	return nil
}

func (n *If) ToWAT(control *Control) bool {
	n.ChildToWAT(0, control, true)
	control.Code("(if").Comment("if condition is true").Indent(1)
	control.Code("(then").Indent(1)
	n.ChildToWAT(1, control, false)
	control.Indent(-1).Code(")")
	if n.HasChild(2) {
		control.Code("(else").Indent(1)
		n.ChildToWAT(2, control, false)
		control.Indent(-1).Code(")")
	}
	control.Indent(-1).Code(")").Comment("end if")
	return false
}

// While is a pre-tested loop.
type While struct {
	Parent
}

// NewWhile creates a loop.
func NewWhile(pos FilePos, cond, body Node) *While {
	n := &While{Parent: Parent{pos: pos}}
	n.AddChild(cond)
	n.AddChild(body)
	return n
}

func (n *While) TypeName() string { return "WHILE" }

func (n *While) Print(w io.Writer, prefix string) {
	printNode(w, prefix, n, "", n.children)
}

func (n *While) TypeCheck(symbols *SymbolTable) error {
	if err := n.Child(0).TypeCheck(symbols); err != nil {
		return err
	}
	if err := expectType(n.Child(0), symbols, IntType, "while condition"); err != nil {
		return err
	}
	symbols.EnterLoop()
	defer symbols.ExitLoop()
	return checkScoped(n.Child(1), symbols)
}

func (n *While) ToWAT(control *Control) bool {
	labels := control.PushLoop()
	defer control.PopLoop()

	control.Codef("(block $%s", labels.Exit).Comment("outer block for breaking").Indent(1)
	control.Codef("(loop $%s", labels.Continue).Comment("inner loop for continuing").Indent(1)
	n.ChildToWAT(0, control, true)
	control.Code("(i32.eqz)").Comment("invert the condition")
	control.Codef("(br_if $%s)", labels.Exit).Comment("exit when the condition is false")
	n.ChildToWAT(1, control, false)
	control.Codef("(br $%s)", labels.Continue).Comment("next iteration")
	control.Indent(-1).Code(")")
	control.Indent(-1).Code(")").Comment("end while")
	return false
}

// Break exits the innermost loop.
type Break struct {
	Leaf
}

// NewBreak creates a break statement.
func NewBreak(pos FilePos) *Break { return &Break{Leaf{pos: pos}} }

func (n *Break) TypeName() string { return "BREAK" }

func (n *Break) Print(w io.Writer, prefix string) { printNode(w, prefix, n, "", nil) }

func (n *Break) TypeCheck(symbols *SymbolTable) error {
	if !symbols.InLoop() {
		return typeErrorf(n.pos, ErrSyntax, "'break' outside of a loop")
	}
	return nil
}

func (n *Break) ToWAT(control *Control) bool {
	control.Codef("(br $%s)", control.Loop().Exit).Comment("break")
	return false
}

// Continue restarts the innermost loop.
type Continue struct {
	Leaf
}

// NewContinue creates a continue statement.
func NewContinue(pos FilePos) *Continue { return &Continue{Leaf{pos: pos}} }

func (n *Continue) TypeName() string { return "CONTINUE" }

func (n *Continue) Print(w io.Writer, prefix string) { printNode(w, prefix, n, "", nil) }

func (n *Continue) TypeCheck(symbols *SymbolTable) error {
	if !symbols.InLoop() {
		return typeErrorf(n.pos, ErrSyntax, "'continue' outside of a loop")
	}
	return nil
}

func (n *Continue) ToWAT(control *Control) bool {
	control.Codef("(br $%s)", control.Loop().Continue).Comment("continue")
	return false
}

// Return leaves a function. A terminal return, the last statement of the
// function body, leaves its value on the stack as the function result;
// any other return emits an explicit return instruction.
type Return struct {
	Parent
	terminal bool
}

// NewReturn creates a return; value may be nil.
func NewReturn(pos FilePos, value Node) *Return {
	n := &Return{Parent: Parent{pos: pos}}
	if value != nil {
		n.AddChild(value)
	}
	return n
}

func (n *Return) TypeName() string { return "RETURN" }

func (n *Return) Print(w io.Writer, prefix string) {
	detail := ""
	if n.terminal {
		detail = "(terminal)"
	}
	printNode(w, prefix, n, detail, n.children)
}

func (n *Return) markTerminal() bool {
	n.terminal = true
	return true
}

// IsTerminal reports whether this return ends the function body.
func (n *Return) IsTerminal() bool { return n.terminal }

func (n *Return) ReturnType(symbols *SymbolTable) Type {
	if n.terminal && n.HasChild(0) {
		return n.Child(0).ReturnType(symbols)
	}
	return NoType
}

func (n *Return) TypeCheck(symbols *SymbolTable) error {
	fn := symbols.CurrentFunction()
	if fn == nil {
		return typeErrorf(n.pos, ErrSyntax, "'return' outside of a function")
	}
	if !n.HasChild(0) {
		if !fn.Return.IsEmpty() {
			return typeErrorf(n.pos, ErrTypeMismatch, "function '%s' must return a value of type %s", fn.Name, fn.Return)
		}
		return nil
	}
	if err := n.Child(0).TypeCheck(symbols); err != nil {
		return err
	}
	if fn.Return.IsEmpty() {
		return typeErrorf(n.pos, ErrTypeMismatch, "function '%s' does not return a value", fn.Name)
	}
	return expectType(n.Child(0), symbols, fn.Return, "return value")
}

func (n *Return) ToWAT(control *Control) bool {
	if n.HasChild(0) {
		n.ChildToWAT(0, control, true)
		if n.terminal {
			return true
		}
	}
	control.Code("(return)")
	return false
}

// checkScoped type-checks a branch or loop body in its own scope.
func checkScoped(n Node, symbols *SymbolTable) error {
	symbols.PushScope()
	defer symbols.PopScope()
	return n.TypeCheck(symbols)
}

// expectType requires n to produce a value of type want.
func expectType(n Node, symbols *SymbolTable, want Type, what string) error {
	got := n.ReturnType(symbols)
	if got.IsEmpty() {
		return typeErrorf(n.Pos(), ErrArity, "%s: %s produces no value", what, describe(n))
	}
	if !got.Equal(want) {
		return typeErrorf(n.Pos(), ErrTypeMismatch, "%s: expected %s, found %s", what, want, got)
	}
	return nil
}

// describe names a node for error messages.
func describe(n Node) string {
	if call, ok := n.(*Call); ok {
		return "call to '" + call.Name + "'"
	}
	return n.TypeName()
}
