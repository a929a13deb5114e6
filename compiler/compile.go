package compiler

import (
	"github.com/tliron/commonlog"
)

// log returns the package logger. It is looked up on use so that a backend
// registered after package initialization is honoured.
func log() commonlog.Logger { return commonlog.GetLogger("tubular.compiler") }

// Result is the output of a successful compilation.
type Result struct {
	Text    string
	Program *Program
	Control *Control
}

// Compile parses, checks and emits src as a complete module.
func Compile(src string, opts Options) (*Result, error) {
	prog, err := NewParser(src).ParseProgram()
	if err != nil {
		return nil, err
	}
	log().Debugf("parsed %d function(s)", len(prog.Functions()))
	return CompileProgram(prog, opts)
}

// CompileProgram checks and emits an already-built program tree. The first
// error aborts the pass and no text is produced.
func CompileProgram(prog *Program, opts Options) (*Result, error) {
	control := NewControl(opts)

	if err := RegisterRuntime(control.Symbols); err != nil {
		return nil, err
	}
	if err := prog.TypeCheck(control.Symbols); err != nil {
		return nil, err
	}
	if err := checkExports(prog, opts); err != nil {
		return nil, err
	}
	log().Debug("type check complete")

	if err := EmitModule(prog, control); err != nil {
		return nil, err
	}
	log().Debugf("emitted %d line(s), %d byte(s) of literal data", len(control.Lines()), control.DataEnd())

	return &Result{
		Text:    control.String(),
		Program: prog,
		Control: control,
	}, nil
}

// PageSize is the size of one linear memory page.
const PageSize = 65536

// EmitModule writes the whole module for a type-checked program. It fails
// when the literal data does not fit in the configured memory.
func EmitModule(prog *Program, control *Control) error {
	defer control.Guard()()
	opts := control.Options()

	control.Code("(module").Indent(1)
	control.Codef("(memory (export \"memory\") %d)", opts.MemoryPages)

	prog.InitializeWAT(control)
	if limit := opts.MemoryPages * PageSize; control.DataEnd() > limit {
		control.Indent(-1)
		return errorAt(dataOverflow(prog, limit), StageEmit, ErrMemoryLimit,
			"string data needs %d byte(s), memory holds %d (%d page(s))", control.DataEnd(), limit, opts.MemoryPages)
	}
	control.Codef("(global $%s (mut i32) (i32.const %d))", FreeMemGlobal, control.DataEnd()).
		Comment("start of unallocated memory").
		CommentLine("")

	GenerateRuntime(control)
	prog.ToWAT(control)

	for _, fn := range prog.Functions() {
		control.Export(fn.Signature())
	}
	if opts.ExportRuntime {
		ExportRuntime(control)
	}

	control.Indent(-1).Code(")").Comment("END program module")
	return nil
}

// dataOverflow finds the first node whose string data ends past limit.
func dataOverflow(n Node, limit int) FilePos {
	end := -1
	switch v := n.(type) {
	case *StringLit:
		end = v.offset + len(v.Value) + 1
	case *Declare:
		if !v.HasChild(0) && v.VarType.Equal(StringType) {
			end = v.empty + 1
		}
	}
	if end > limit {
		return n.Pos()
	}
	if p, ok := n.(interface{ Children() []Node }); ok {
		for _, c := range p.Children() {
			if pos := dataOverflow(c, limit); pos != (FilePos{}) {
				return pos
			}
		}
	}
	if _, ok := n.(*Program); ok {
		return n.Pos()
	}
	return FilePos{}
}

// checkExports rejects user functions whose public name would collide with
// the memory export or an exported runtime routine.
func checkExports(prog *Program, opts Options) error {
	reserved := map[string]bool{"memory": true}
	if opts.ExportRuntime {
		for _, rf := range Runtime {
			reserved[rf.Sig.Export] = true
		}
	}
	for _, fn := range prog.Functions() {
		if reserved[fn.Name] {
			return typeErrorf(fn.Pos(), ErrDuplicateFunction, "function '%s' conflicts with an export of the same name", fn.Name)
		}
	}
	return nil
}
