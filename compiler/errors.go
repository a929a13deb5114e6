package compiler

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Errors: user-facing compilation errors and internal failures
// ---------------------------------------------------------------------------

// FilePos is a 1-based source location attached to every token and node.
type FilePos struct {
	Line   int
	Column int
}

func (p FilePos) String() string {
	return fmt.Sprintf("line %d, column %d", p.Line, p.Column)
}

// Stage identifies which compiler phase produced an error.
type Stage string

const (
	StageLexer     Stage = "lexer"
	StageParser    Stage = "parser"
	StageTypeCheck Stage = "typecheck"
	StageEmit      Stage = "emit"
)

// Sentinel conditions wrapped by *Error.
var (
	ErrSyntax            = errors.New("syntax error")
	ErrRedeclared        = errors.New("redeclaration")
	ErrUndeclared        = errors.New("undeclared identifier")
	ErrDuplicateFunction = errors.New("duplicate function")
	ErrTypeMismatch      = errors.New("type mismatch")
	ErrArity             = errors.New("arity mismatch")
	ErrMemoryLimit       = errors.New("memory limit exceeded")
)

// Error is a user-facing compilation error. The first one aborts the pass.
type Error struct {
	Pos   FilePos
	Stage Stage
	Msg   string
	Err   error // sentinel condition, may be nil
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// errorAt builds a user-facing error at pos.
func errorAt(pos FilePos, stage Stage, cause error, format string, args ...interface{}) *Error {
	return &Error{Pos: pos, Stage: stage, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// typeErrorf builds a type-check error at pos.
func typeErrorf(pos FilePos, cause error, format string, args ...interface{}) *Error {
	return errorAt(pos, StageTypeCheck, cause, format, args...)
}

// InternalError signals a broken compiler invariant: a malformed tree, an
// indentation imbalance, a stack-effect mismatch. It is raised with panic and
// is never downgraded to an *Error.
type InternalError struct {
	Msg string
}

func (e *InternalError) Error() string {
	return "internal compiler error: " + e.Msg
}

// Fail aborts compilation with an internal failure.
func Fail(format string, args ...interface{}) {
	panic(&InternalError{Msg: fmt.Sprintf(format, args...)})
}

// assert fails internally when cond is false.
func assert(cond bool, format string, args ...interface{}) {
	if !cond {
		Fail(format, args...)
	}
}
