package vm

import (
	"errors"
	"fmt"
	"strconv"
)

// PageSize is the size of one linear memory page.
const PageSize = 65536

// ErrMalformed is wrapped by every module loading error.
var ErrMalformed = errors.New("malformed module")

// ---------------------------------------------------------------------------
// Module: a loaded, not yet instantiated, program
// ---------------------------------------------------------------------------

// DataSegment is bytes copied into memory at Offset on instantiation.
type DataSegment struct {
	Offset int32
	Bytes  []byte
}

// Global is a module-level i32 variable.
type Global struct {
	Name    string
	Mutable bool
	Init    int32
}

// Func is a function definition. Params come first in Locals.
type Func struct {
	Name    string
	Params  int
	Results int
	Locals  []string // names of params then locals; unnamed slots are ""
	Body    []*SExpr

	localIndex map[string]int
}

// LocalIndex resolves a $name or numeric local reference.
func (f *Func) LocalIndex(ref string) (int, bool) {
	if i, ok := f.localIndex[ref]; ok {
		return i, true
	}
	if n, err := strconv.Atoi(ref); err == nil && n >= 0 && n < len(f.Locals) {
		return n, true
	}
	return 0, false
}

// Module is the result of loading module text.
type Module struct {
	MemoryPages int
	Data        []DataSegment
	Globals     []*Global
	Funcs       []*Func
	Exports     map[string]*Func // public name -> function

	funcIndex   map[string]*Func
	globalIndex map[string]int
}

// Func returns a function by internal name, with or without the '$'.
func (m *Module) Func(name string) (*Func, bool) {
	if len(name) == 0 || name[0] != '$' {
		name = "$" + name
	}
	f, ok := m.funcIndex[name]
	return f, ok
}

// ExportNames returns the exported function names in no particular order.
func (m *Module) ExportNames() []string {
	names := make([]string, 0, len(m.Exports))
	for name := range m.Exports {
		names = append(names, name)
	}
	return names
}

func malformed(e *SExpr, format string, args ...interface{}) error {
	return fmt.Errorf("%w: line %d: %s", ErrMalformed, e.Line, fmt.Sprintf(format, args...))
}

// Load parses module text.
func Load(text string) (*Module, error) {
	exprs, err := ParseSExprs(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(exprs) != 1 || exprs[0].Head() != "module" {
		return nil, fmt.Errorf("%w: expected a single (module ...) form", ErrMalformed)
	}

	m := &Module{
		Exports:     make(map[string]*Func),
		funcIndex:   make(map[string]*Func),
		globalIndex: make(map[string]int),
	}

	// Exports may name functions defined later, so they are resolved last.
	type pendingExport struct {
		name string
		ref  *SExpr
	}
	var exports []pendingExport

	for _, field := range exprs[0].List[1:] {
		switch field.Head() {
		case "memory":
			if err := m.loadMemory(field); err != nil {
				return nil, err
			}
		case "data":
			if err := m.loadData(field); err != nil {
				return nil, err
			}
		case "global":
			if err := m.loadGlobal(field); err != nil {
				return nil, err
			}
		case "func":
			f, inline, err := m.loadFunc(field)
			if err != nil {
				return nil, err
			}
			for _, name := range inline {
				exports = append(exports, pendingExport{name, &SExpr{Atom: f.Name, Line: field.Line}})
			}
		case "export":
			if len(field.List) != 3 || !field.List[1].IsString() || !field.List[2].IsList() {
				return nil, malformed(field, "bad export")
			}
			desc := field.List[2]
			if desc.Head() != "func" {
				continue // memory and other exports need no resolution
			}
			if len(desc.List) != 2 {
				return nil, malformed(field, "bad export descriptor")
			}
			exports = append(exports, pendingExport{string(field.List[1].Str), desc.List[1]})
		case "type", "start", "table", "elem", "import":
			return nil, malformed(field, "unsupported module field %q", field.Head())
		default:
			return nil, malformed(field, "unknown module field %s", field)
		}
	}

	for _, ex := range exports {
		f, ok := m.resolveFunc(ex.ref.Atom)
		if !ok {
			return nil, malformed(ex.ref, "export %q names unknown function %s", ex.name, ex.ref.Atom)
		}
		if _, dup := m.Exports[ex.name]; dup {
			return nil, malformed(ex.ref, "duplicate export %q", ex.name)
		}
		m.Exports[ex.name] = f
	}

	for _, seg := range m.Data {
		if int(seg.Offset)+len(seg.Bytes) > m.MemoryPages*PageSize {
			return nil, fmt.Errorf("%w: data segment at %d does not fit in memory", ErrMalformed, seg.Offset)
		}
	}
	return m, nil
}

func (m *Module) resolveFunc(ref string) (*Func, bool) {
	if f, ok := m.funcIndex[ref]; ok {
		return f, true
	}
	if n, err := strconv.Atoi(ref); err == nil && n >= 0 && n < len(m.Funcs) {
		return m.Funcs[n], true
	}
	return nil, false
}

func (m *Module) resolveGlobal(ref string) (int, bool) {
	if i, ok := m.globalIndex[ref]; ok {
		return i, true
	}
	if n, err := strconv.Atoi(ref); err == nil && n >= 0 && n < len(m.Globals) {
		return n, true
	}
	return 0, false
}

// loadMemory accepts (memory [$id] [(export "name")] min [max]).
func (m *Module) loadMemory(e *SExpr) error {
	var nums []int
	for _, item := range e.List[1:] {
		switch {
		case item.IsName():
		case item.Head() == "export":
		case !item.IsList() && !item.IsString():
			n, err := strconv.Atoi(item.Atom)
			if err != nil || n < 0 {
				return malformed(e, "bad memory size %q", item.Atom)
			}
			nums = append(nums, n)
		default:
			return malformed(e, "unsupported memory form")
		}
	}
	if len(nums) == 0 || len(nums) > 2 {
		return malformed(e, "memory needs a page count")
	}
	m.MemoryPages = nums[0]
	return nil
}

// loadData accepts (data (i32.const N) "bytes"...).
func (m *Module) loadData(e *SExpr) error {
	if len(e.List) < 2 || e.List[1].Head() != "i32.const" || len(e.List[1].List) != 2 {
		return malformed(e, "data segment needs an (i32.const offset)")
	}
	off, err := parseI32(e.List[1].List[1].Atom)
	if err != nil {
		return malformed(e, "bad data offset: %v", err)
	}
	seg := DataSegment{Offset: off}
	for _, s := range e.List[2:] {
		if !s.IsString() {
			return malformed(e, "data contents must be strings")
		}
		seg.Bytes = append(seg.Bytes, s.Str...)
	}
	m.Data = append(m.Data, seg)
	return nil
}

// loadGlobal accepts (global $name (mut i32) (i32.const N)) and the
// immutable form with a bare i32.
func (m *Module) loadGlobal(e *SExpr) error {
	g := &Global{}
	rest := e.List[1:]
	if len(rest) > 0 && rest[0].IsName() {
		g.Name = rest[0].Atom
		rest = rest[1:]
	}
	if len(rest) != 2 {
		return malformed(e, "bad global")
	}
	switch {
	case rest[0].Head() == "mut" && len(rest[0].List) == 2 && rest[0].List[1].Atom == "i32":
		g.Mutable = true
	case rest[0].Atom == "i32":
	default:
		return malformed(e, "only i32 globals are supported")
	}
	if rest[1].Head() != "i32.const" || len(rest[1].List) != 2 {
		return malformed(e, "global initializer must be an i32.const")
	}
	v, err := parseI32(rest[1].List[1].Atom)
	if err != nil {
		return malformed(e, "bad global initializer: %v", err)
	}
	g.Init = v

	if g.Name != "" {
		if _, dup := m.globalIndex[g.Name]; dup {
			return malformed(e, "duplicate global %s", g.Name)
		}
		m.globalIndex[g.Name] = len(m.Globals)
	}
	m.Globals = append(m.Globals, g)
	return nil
}

// loadFunc reads a function header and keeps its body for execution. It
// returns any inline (export "name") names.
func (m *Module) loadFunc(e *SExpr) (*Func, []string, error) {
	f := &Func{localIndex: make(map[string]int)}
	rest := e.List[1:]
	if len(rest) > 0 && rest[0].IsName() {
		f.Name = rest[0].Atom
		rest = rest[1:]
	}
	if f.Name == "" {
		f.Name = strconv.Itoa(len(m.Funcs))
	}

	var exports []string
	addLocal := func(name string) error {
		if name != "" {
			if _, dup := f.localIndex[name]; dup {
				return malformed(e, "duplicate local %s in %s", name, f.Name)
			}
			f.localIndex[name] = len(f.Locals)
		}
		f.Locals = append(f.Locals, name)
		return nil
	}

	i := 0
	for ; i < len(rest); i++ {
		item := rest[i]
		head := item.Head()
		switch head {
		case "export":
			if len(item.List) != 2 || !item.List[1].IsString() {
				return nil, nil, malformed(item, "bad inline export")
			}
			exports = append(exports, string(item.List[1].Str))
			continue
		case "param", "local":
			if head == "param" && len(f.Locals) != f.Params {
				return nil, nil, malformed(item, "param after local in %s", f.Name)
			}
			decls := item.List[1:]
			if len(decls) == 2 && decls[0].IsName() {
				if decls[1].Atom != "i32" {
					return nil, nil, malformed(item, "only i32 values are supported")
				}
				if err := addLocal(decls[0].Atom); err != nil {
					return nil, nil, err
				}
				if head == "param" {
					f.Params++
				}
				continue
			}
			for _, d := range decls {
				if d.Atom != "i32" {
					return nil, nil, malformed(item, "only i32 values are supported")
				}
				if err := addLocal(""); err != nil {
					return nil, nil, err
				}
				if head == "param" {
					f.Params++
				}
			}
			continue
		case "result":
			for _, d := range item.List[1:] {
				if d.Atom != "i32" {
					return nil, nil, malformed(item, "only i32 results are supported")
				}
				f.Results++
			}
			continue
		}
		break
	}
	f.Body = rest[i:]

	if _, dup := m.funcIndex[f.Name]; dup {
		return nil, nil, malformed(e, "duplicate function %s", f.Name)
	}
	m.funcIndex[f.Name] = f
	m.Funcs = append(m.Funcs, f)
	return f, exports, nil
}

// parseI32 accepts signed decimal, unsigned decimal up to 2^32-1 and 0x hex.
func parseI32(s string) (int32, error) {
	if v, err := strconv.ParseInt(s, 0, 32); err == nil {
		return int32(v), nil
	}
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid i32 %q", s)
	}
	return int32(uint32(v)), nil
}
