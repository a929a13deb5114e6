package compiler

import (
	"errors"
	"strings"
	"testing"
)

func TestSymbolTableRedeclaration(t *testing.T) {
	s := NewSymbolTable()
	s.PushScope()

	first := FilePos{Line: 3, Column: 5}
	second := FilePos{Line: 4, Column: 5}

	if _, err := s.Declare("x", IntType, KindLocal, first); err != nil {
		t.Fatalf("first Declare: %v", err)
	}
	_, err := s.Declare("x", CharType, KindLocal, second)
	if !errors.Is(err, ErrRedeclared) {
		t.Fatalf("second Declare err = %v, want ErrRedeclared", err)
	}
	if !strings.Contains(err.Error(), first.String()) {
		t.Errorf("error %q does not name the first declaration", err)
	}

	// The original binding is untouched.
	sym, err := s.Lookup("x")
	if err != nil || !sym.Type.Equal(IntType) {
		t.Errorf("Lookup(x) = %+v, %v", sym, err)
	}

	// A fresh scope may shadow it, and popping restores it.
	s.PushScope()
	inner, err := s.Declare("x", StringType, KindLocal, second)
	if err != nil {
		t.Fatalf("shadowing Declare: %v", err)
	}
	if inner.Local != "x_2" {
		t.Errorf("shadow local = %q, want x_2", inner.Local)
	}
	if got, _ := s.Lookup("x"); got != inner {
		t.Errorf("Lookup(x) in inner scope = %+v", got)
	}
	s.PopScope()
	if got, _ := s.Lookup("x"); !got.Type.Equal(IntType) {
		t.Errorf("Lookup(x) after pop = %+v", got)
	}
}

func TestSymbolTableRedeclareAfterPop(t *testing.T) {
	s := NewSymbolTable()
	s.PushScope()
	s.PushScope()
	if _, err := s.Declare("y", IntType, KindLocal, FilePos{1, 1}); err != nil {
		t.Fatal(err)
	}
	s.PopScope()
	s.PushScope()
	if _, err := s.Declare("y", CharType, KindLocal, FilePos{2, 1}); err != nil {
		t.Errorf("Declare after pop/push: %v", err)
	}
	if s.Depth() != 2 {
		t.Errorf("Depth = %d, want 2", s.Depth())
	}
}

func TestSymbolTableLookup(t *testing.T) {
	s := NewSymbolTable()
	s.PushScope()
	if _, err := s.Lookup("missing"); !errors.Is(err, ErrUndeclared) {
		t.Errorf("Lookup(missing) err = %v, want ErrUndeclared", err)
	}

	s.Declare("a", IntType, KindParam, FilePos{1, 1})
	s.PushScope()
	s.Declare("b", CharType, KindLocal, FilePos{2, 1})

	for _, name := range []string{"a", "b"} {
		if _, err := s.Lookup(name); err != nil {
			t.Errorf("Lookup(%s): %v", name, err)
		}
	}
	s.PopScope()
	if _, err := s.Lookup("b"); !errors.Is(err, ErrUndeclared) {
		t.Errorf("Lookup(b) after pop err = %v, want ErrUndeclared", err)
	}
}

func TestSymbolTableFunctions(t *testing.T) {
	s := NewSymbolTable()
	info, err := s.AddFunction("f", []Type{IntType, StringType}, CharType)
	if err != nil {
		t.Fatal(err)
	}
	if info.Internal != "fn_f" {
		t.Errorf("Internal = %q, want fn_f", info.Internal)
	}
	if _, err := s.AddFunction("f", nil, NoType); !errors.Is(err, ErrDuplicateFunction) {
		t.Errorf("duplicate AddFunction err = %v, want ErrDuplicateFunction", err)
	}

	// Functions are global: visible from any scope depth.
	s.PushScope()
	s.PushScope()
	got, err := s.LookupFunction("f")
	if err != nil || got != info {
		t.Errorf("LookupFunction(f) = %v, %v", got, err)
	}
	if _, err := s.LookupFunction("g"); !errors.Is(err, ErrUndeclared) {
		t.Errorf("LookupFunction(g) err = %v, want ErrUndeclared", err)
	}
}

func TestSymbolTableFunctionLocals(t *testing.T) {
	s := NewSymbolTable()
	fn, _ := s.AddFunction("f", []Type{IntType}, NoType)

	s.BeginFunction(fn)
	s.PushScope()
	s.Declare("n", IntType, KindParam, FilePos{1, 1})
	s.Declare("i", IntType, KindLocal, FilePos{2, 1})
	s.PushScope()
	s.Declare("i", IntType, KindLocal, FilePos{3, 1})
	s.Declare("n", IntType, KindLocal, FilePos{4, 1})
	s.PopScope()

	if s.CurrentFunction() != fn {
		t.Errorf("CurrentFunction = %v", s.CurrentFunction())
	}
	s.EnterLoop()
	if !s.InLoop() {
		t.Error("InLoop = false inside loop")
	}
	s.ExitLoop()
	if s.InLoop() {
		t.Error("InLoop = true after loop")
	}

	locals := s.EndFunction()
	s.PopScope()

	var names []string
	for _, l := range locals {
		names = append(names, l.Local)
	}
	if got := strings.Join(names, " "); got != "i i_2 n_2" {
		t.Errorf("locals = %s, want \"i i_2 n_2\"", got)
	}
	if s.CurrentFunction() != nil {
		t.Error("CurrentFunction not cleared by EndFunction")
	}
}

func TestSymbolTablePopEmptyFails(t *testing.T) {
	defer func() {
		r := recover()
		if _, ok := r.(*InternalError); !ok {
			t.Errorf("recovered %v, want *InternalError", r)
		}
	}()
	NewSymbolTable().PopScope()
}

func TestSymbolTablePrint(t *testing.T) {
	s := NewSymbolTable()
	s.AddFunction("main", nil, IntType)
	s.PushScope()
	s.Declare("x", StringType, KindLocal, FilePos{1, 1})

	var sb strings.Builder
	s.Print(&sb)
	out := sb.String()
	for _, want := range []string{"main[] : int ($fn_main)", "x : string (local $x)"} {
		if !strings.Contains(out, want) {
			t.Errorf("Print output missing %q:\n%s", want, out)
		}
	}
}
