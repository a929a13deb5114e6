package compiler

import (
	"fmt"
	"io"
	"sort"
)

// ---------------------------------------------------------------------------
// SymbolTable: scoped name resolution for the type-check pass
// ---------------------------------------------------------------------------

// SymbolKind is the storage class of a variable binding.
type SymbolKind int

const (
	KindLocal SymbolKind = iota
	KindParam
)

func (k SymbolKind) String() string {
	if k == KindParam {
		return "param"
	}
	return "local"
}

// Symbol is a variable binding.
type Symbol struct {
	Name  string
	Type  Type
	Kind  SymbolKind
	Local string // unique local name within the enclosing function
	Pos   FilePos
}

// FuncInfo is an entry in the global function table.
type FuncInfo struct {
	Name     string
	Params   []Type
	Return   Type
	Internal string // emitted function name, without the '$'
}

// SymbolTable is a stack of scopes plus a flat function table. Scopes push
// and pop strictly nested with block entry and exit.
type SymbolTable struct {
	scopes    []map[string]*Symbol
	functions map[string]*FuncInfo

	// Per-function state, reset by BeginFunction.
	current   *FuncInfo
	locals    []*Symbol
	nameCount map[string]int
	loopDepth int
}

// NewSymbolTable creates an empty table with no open scopes.
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{
		functions: make(map[string]*FuncInfo),
		nameCount: make(map[string]int),
	}
}

// PushScope opens a new innermost scope.
func (s *SymbolTable) PushScope() {
	s.scopes = append(s.scopes, make(map[string]*Symbol))
}

// PopScope discards the innermost scope and all of its bindings.
func (s *SymbolTable) PopScope() {
	assert(len(s.scopes) > 0, "PopScope with no open scope")
	s.scopes = s.scopes[:len(s.scopes)-1]
}

// Depth returns the number of open scopes.
func (s *SymbolTable) Depth() int {
	return len(s.scopes)
}

// Declare binds name in the innermost scope.
func (s *SymbolTable) Declare(name string, typ Type, kind SymbolKind, pos FilePos) (*Symbol, error) {
	assert(len(s.scopes) > 0, "Declare(%q) with no open scope", name)
	scope := s.scopes[len(s.scopes)-1]
	if prev, ok := scope[name]; ok {
		return nil, fmt.Errorf("%w of '%s' (previously declared at %s)", ErrRedeclared, name, prev.Pos)
	}

	s.nameCount[name]++
	local := name
	if n := s.nameCount[name]; n > 1 {
		local = fmt.Sprintf("%s_%d", name, n)
	}

	sym := &Symbol{Name: name, Type: typ, Kind: kind, Local: local, Pos: pos}
	scope[name] = sym
	if kind == KindLocal {
		s.locals = append(s.locals, sym)
	}
	return sym, nil
}

// Lookup resolves name from the innermost scope outwards.
func (s *SymbolTable) Lookup(name string) (*Symbol, error) {
	for i := len(s.scopes) - 1; i >= 0; i-- {
		if sym, ok := s.scopes[i][name]; ok {
			return sym, nil
		}
	}
	return nil, fmt.Errorf("%w '%s'", ErrUndeclared, name)
}

// AddFunction registers a function in the global table.
func (s *SymbolTable) AddFunction(name string, params []Type, ret Type) (*FuncInfo, error) {
	if _, ok := s.functions[name]; ok {
		return nil, fmt.Errorf("%w '%s'", ErrDuplicateFunction, name)
	}
	info := &FuncInfo{
		Name:     name,
		Params:   append([]Type(nil), params...),
		Return:   ret,
		Internal: "fn_" + name,
	}
	s.functions[name] = info
	return info, nil
}

// LookupFunction resolves a function by name. Functions are never nested.
func (s *SymbolTable) LookupFunction(name string) (*FuncInfo, error) {
	if info, ok := s.functions[name]; ok {
		return info, nil
	}
	return nil, fmt.Errorf("%w: unknown function '%s'", ErrUndeclared, name)
}

// BeginFunction resets per-function state before checking fn's body.
func (s *SymbolTable) BeginFunction(fn *FuncInfo) {
	s.current = fn
	s.locals = nil
	s.nameCount = make(map[string]int)
	s.loopDepth = 0
}

// EndFunction returns the locals declared since BeginFunction.
func (s *SymbolTable) EndFunction() []*Symbol {
	locals := s.locals
	s.current = nil
	s.locals = nil
	return locals
}

// CurrentFunction returns the function being checked, or nil.
func (s *SymbolTable) CurrentFunction() *FuncInfo {
	return s.current
}

// EnterLoop, ExitLoop and InLoop track loop nesting for break/continue.
func (s *SymbolTable) EnterLoop() { s.loopDepth++ }

func (s *SymbolTable) ExitLoop() {
	assert(s.loopDepth > 0, "ExitLoop outside a loop")
	s.loopDepth--
}

func (s *SymbolTable) InLoop() bool { return s.loopDepth > 0 }

// Print writes the function table and open scopes, for debugging.
func (s *SymbolTable) Print(w io.Writer) {
	names := make([]string, 0, len(s.functions))
	for name := range s.functions {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintln(w, "Functions:")
	for _, name := range names {
		info := s.functions[name]
		fmt.Fprintf(w, "  %s%v : %s ($%s)\n", name, info.Params, info.Return, info.Internal)
	}
	for i, scope := range s.scopes {
		fmt.Fprintf(w, "Scope %d:\n", i)
		vars := make([]string, 0, len(scope))
		for name := range scope {
			vars = append(vars, name)
		}
		sort.Strings(vars)
		for _, name := range vars {
			sym := scope[name]
			fmt.Fprintf(w, "  %s : %s (%s $%s)\n", name, sym.Type, sym.Kind, sym.Local)
		}
	}
}
