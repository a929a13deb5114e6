package vm

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tliron/commonlog"
)

// DefaultMaxSteps bounds execution when no limit is configured.
const DefaultMaxSteps = 10_000_000

// Execution errors. Every trap wraps ErrTrap.
var (
	ErrTrap          = errors.New("trap")
	ErrStepLimit     = fmt.Errorf("%w: step limit exceeded", ErrTrap)
	ErrUnknownFunc   = errors.New("unknown function")
	ErrArgumentCount = errors.New("wrong number of arguments")
)

func log() commonlog.Logger { return commonlog.GetLogger("tubular.vm") }

func trapf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrTrap, fmt.Sprintf(format, args...))
}

// ---------------------------------------------------------------------------
// Frame: Execution state for a function invocation
// ---------------------------------------------------------------------------

type frame struct {
	fn     *Func
	locals []int32
	stack  []int32
	labels []string // enclosing block labels, innermost last
}

func (f *frame) push(v int32) {
	f.stack = append(f.stack, v)
}

func (f *frame) pop() (int32, error) {
	if len(f.stack) == 0 {
		return 0, trapf("operand stack underflow in %s", f.fn.Name)
	}
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v, nil
}

// popN removes n values and returns them in push order.
func (f *frame) popN(n int) ([]int32, error) {
	if len(f.stack) < n {
		return nil, trapf("operand stack underflow in %s: need %d, have %d", f.fn.Name, n, len(f.stack))
	}
	vals := append([]int32(nil), f.stack[len(f.stack)-n:]...)
	f.stack = f.stack[:len(f.stack)-n]
	return vals, nil
}

// signal is how structured control leaves an instruction sequence.
type signal struct {
	kind  signalKind
	label string
}

type signalKind int

const (
	sigNone signalKind = iota
	sigBranch
	sigReturn
)

// ---------------------------------------------------------------------------
// Machine: Module instance and interpreter
// ---------------------------------------------------------------------------

// Machine is an instantiated module. It is not safe for concurrent use.
type Machine struct {
	Module   *Module
	MaxSteps int

	memory  []byte
	globals []int32
	steps   int
	depth   int
}

// maxCallDepth bounds recursion in interpreted code.
const maxCallDepth = 10000

// New instantiates mod: memory is zeroed, data segments are copied in and
// globals take their initial values.
func New(mod *Module) *Machine {
	m := &Machine{
		Module:   mod,
		MaxSteps: DefaultMaxSteps,
		memory:   make([]byte, mod.MemoryPages*PageSize),
		globals:  make([]int32, len(mod.Globals)),
	}
	for _, seg := range mod.Data {
		copy(m.memory[seg.Offset:], seg.Bytes)
	}
	for i, g := range mod.Globals {
		m.globals[i] = g.Init
	}
	return m
}

// LoadMachine loads module text and instantiates it.
func LoadMachine(text string) (*Machine, error) {
	mod, err := Load(text)
	if err != nil {
		return nil, err
	}
	return New(mod), nil
}

// Steps returns the number of instructions executed so far.
func (m *Machine) Steps() int { return m.steps }

// Memory returns the linear memory. Callers may read and write it.
func (m *Machine) Memory() []byte { return m.memory }

// Global returns the value of a global by name, with or without the '$'.
func (m *Machine) Global(name string) (int32, bool) {
	if !strings.HasPrefix(name, "$") {
		name = "$" + name
	}
	i, ok := m.Module.resolveGlobal(name)
	if !ok {
		return 0, false
	}
	return m.globals[i], true
}

// Invoke calls an exported function with i32 arguments and returns its
// results.
func (m *Machine) Invoke(export string, args ...int32) ([]int32, error) {
	fn, ok := m.Module.Exports[export]
	if !ok {
		return nil, fmt.Errorf("%w: no export %q", ErrUnknownFunc, export)
	}
	return m.invoke(fn, args)
}

// InvokeFunc calls a function by its internal name.
func (m *Machine) InvokeFunc(name string, args ...int32) ([]int32, error) {
	fn, ok := m.Module.Func(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunc, name)
	}
	return m.invoke(fn, args)
}

func (m *Machine) invoke(fn *Func, args []int32) ([]int32, error) {
	if len(args) != fn.Params {
		return nil, fmt.Errorf("%w: %s takes %d, got %d", ErrArgumentCount, fn.Name, fn.Params, len(args))
	}
	start := m.steps
	m.depth = 0
	results, err := m.call(fn, args)
	log().Debugf("%s%v -> %v (%d steps)", fn.Name, args, results, m.steps-start)
	return results, err
}

// call runs fn to completion and checks its stack effect: a function that
// falls off the end must leave exactly its declared results.
func (m *Machine) call(fn *Func, args []int32) ([]int32, error) {
	if m.depth >= maxCallDepth {
		return nil, trapf("call stack exhausted in %s", fn.Name)
	}
	m.depth++
	defer func() { m.depth-- }()

	f := &frame{fn: fn, locals: make([]int32, len(fn.Locals))}
	copy(f.locals, args)

	sig, err := m.execSeq(f, fn.Body)
	if err != nil {
		return nil, err
	}
	switch sig.kind {
	case sigBranch:
		return nil, trapf("branch to unknown label %s in %s", sig.label, fn.Name)
	case sigReturn:
		return f.popN(fn.Results)
	}
	if len(f.stack) != fn.Results {
		return nil, trapf("stack imbalance at end of %s: %d value(s) left, %d declared", fn.Name, len(f.stack), fn.Results)
	}
	return f.stack, nil
}

func (m *Machine) execSeq(f *frame, body []*SExpr) (signal, error) {
	for _, instr := range body {
		sig, err := m.exec(f, instr)
		if err != nil || sig.kind != sigNone {
			return sig, err
		}
	}
	return signal{}, nil
}

// exec runs one folded instruction: its operand sub-expressions first, then
// the instruction itself.
func (m *Machine) exec(f *frame, e *SExpr) (signal, error) {
	if !e.IsList() {
		return signal{}, trapf("line %d: plain instruction %q is not supported", e.Line, e.Atom)
	}
	m.steps++
	if m.MaxSteps > 0 && m.steps > m.MaxSteps {
		return signal{}, ErrStepLimit
	}

	op := e.Head()
	switch op {
	case "block", "loop":
		return m.execBlock(f, e, op == "loop")
	case "if":
		return m.execIf(f, e)
	}

	// Split immediates from folded operands.
	args := e.List[1:]
	var imm []*SExpr
	for len(args) > 0 && !args[0].IsList() {
		imm = append(imm, args[0])
		args = args[1:]
	}
	for _, operand := range args {
		sig, err := m.exec(f, operand)
		if err != nil || sig.kind != sigNone {
			return sig, err
		}
	}

	switch op {
	case "nop":
		return signal{}, nil
	case "unreachable":
		return signal{}, trapf("unreachable executed in %s", f.fn.Name)
	case "drop":
		_, err := f.pop()
		return signal{}, err
	case "return":
		return signal{kind: sigReturn}, nil
	case "br", "br_if":
		if len(imm) != 1 {
			return signal{}, trapf("line %d: %s needs a label", e.Line, op)
		}
		if op == "br_if" {
			c, err := f.pop()
			if err != nil || c == 0 {
				return signal{}, err
			}
		}
		label, err := f.resolveLabel(imm[0].Atom)
		if err != nil {
			return signal{}, err
		}
		return signal{kind: sigBranch, label: label}, nil
	case "call":
		return signal{}, m.execCall(f, e, imm)
	case "select":
		vals, err := f.popN(3)
		if err != nil {
			return signal{}, err
		}
		if vals[2] != 0 {
			f.push(vals[0])
		} else {
			f.push(vals[1])
		}
		return signal{}, nil
	}

	return signal{}, m.execSimple(f, e, op, imm)
}

func (f *frame) resolveLabel(ref string) (string, error) {
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 0 || n >= len(f.labels) {
			return "", trapf("branch depth %d out of range", n)
		}
		return f.labels[len(f.labels)-1-n], nil
	}
	for _, l := range f.labels {
		if l == ref {
			return ref, nil
		}
	}
	return "", trapf("unknown label %s in %s", ref, f.fn.Name)
}

// blockHeader reads an optional label and (result i32 ...) from a block,
// loop or if form and returns the remaining items.
func blockHeader(e *SExpr) (label string, results int, rest []*SExpr) {
	rest = e.List[1:]
	if len(rest) > 0 && rest[0].IsName() {
		label = rest[0].Atom
		rest = rest[1:]
	}
	for len(rest) > 0 && rest[0].Head() == "result" {
		results += len(rest[0].List) - 1
		rest = rest[1:]
	}
	return label, results, rest
}

// anonymous labels are unique per nesting depth so numeric branches can
// target them.
func (f *frame) enter(label string) string {
	if label == "" {
		label = "#" + strconv.Itoa(len(f.labels))
	}
	f.labels = append(f.labels, label)
	return label
}

func (f *frame) leave() { f.labels = f.labels[:len(f.labels)-1] }

// runBody executes a structured body whose entry stack height is base. A
// branch to label ends the body with the top results values kept; normal
// completion must leave exactly results values.
func (m *Machine) runBody(f *frame, label string, base, results int, body []*SExpr, isLoop bool) (signal, error) {
	for {
		sig, err := m.execSeq(f, body)
		if err != nil {
			return sig, err
		}
		switch {
		case sig.kind == sigBranch && sig.label == label && isLoop:
			f.stack = f.stack[:base]
			continue
		case sig.kind == sigBranch && sig.label == label:
			vals, err := f.popN(results)
			if err != nil {
				return signal{}, err
			}
			f.stack = append(f.stack[:base], vals...)
			return signal{}, nil
		case sig.kind != sigNone:
			return sig, nil
		}
		if len(f.stack) != base+results {
			return signal{}, trapf("stack imbalance at end of block %s in %s: %d value(s), %d expected",
				label, f.fn.Name, len(f.stack)-base, results)
		}
		return signal{}, nil
	}
}

func (m *Machine) execBlock(f *frame, e *SExpr, isLoop bool) (signal, error) {
	label, results, body := blockHeader(e)
	label = f.enter(label)
	defer f.leave()
	return m.runBody(f, label, len(f.stack), results, body, isLoop)
}

// execIf runs (if [label] [(result ...)] cond* (then ...) [(else ...)]).
// Without folded condition operands the condition is already on the stack.
func (m *Machine) execIf(f *frame, e *SExpr) (signal, error) {
	label, results, rest := blockHeader(e)

	var then, otherwise *SExpr
	var cond []*SExpr
	for _, item := range rest {
		switch item.Head() {
		case "then":
			then = item
		case "else":
			otherwise = item
		default:
			if then != nil {
				return signal{}, trapf("line %d: unexpected %s in if", item.Line, item)
			}
			cond = append(cond, item)
		}
	}
	if then == nil {
		return signal{}, trapf("line %d: if without then", e.Line)
	}

	sig, err := m.execSeq(f, cond)
	if err != nil || sig.kind != sigNone {
		return sig, err
	}
	c, err := f.pop()
	if err != nil {
		return signal{}, err
	}

	branch := then
	if c == 0 {
		branch = otherwise
	}
	label = f.enter(label)
	defer f.leave()
	if branch == nil {
		if results != 0 {
			return signal{}, trapf("line %d: if with a result needs an else", e.Line)
		}
		return signal{}, nil
	}
	return m.runBody(f, label, len(f.stack), results, branch.List[1:], false)
}

func (m *Machine) execCall(f *frame, e *SExpr, imm []*SExpr) error {
	if len(imm) != 1 {
		return trapf("line %d: call needs a function", e.Line)
	}
	callee, ok := m.Module.resolveFunc(imm[0].Atom)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFunc, imm[0].Atom)
	}
	args, err := f.popN(callee.Params)
	if err != nil {
		return err
	}
	results, err := m.call(callee, args)
	if err != nil {
		return err
	}
	f.stack = append(f.stack, results...)
	return nil
}
