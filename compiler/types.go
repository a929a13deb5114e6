package compiler

// ---------------------------------------------------------------------------
// Types: the value types a Tubular expression can produce
// ---------------------------------------------------------------------------

// Type names a primitive value type. The zero Type is the empty type and
// means "no value".
type Type struct {
	name string
}

// Built-in types. Every non-empty type is carried as an i32 on the operand
// stack; strings are byte offsets into linear memory.
var (
	NoType     = Type{}
	IntType    = Type{name: "int"}
	CharType   = Type{name: "char"}
	StringType = Type{name: "string"}
)

// NewType returns the type with the given name. An empty name yields the
// empty type.
func NewType(name string) Type {
	return Type{name: name}
}

// TypeByName resolves a type keyword.
func TypeByName(name string) (Type, bool) {
	switch name {
	case "int":
		return IntType, true
	case "char":
		return CharType, true
	case "string":
		return StringType, true
	}
	return NoType, false
}

// Name returns the textual name of the type.
func (t Type) Name() string { return t.name }

// IsEmpty reports whether t denotes "no value".
func (t Type) IsEmpty() bool { return t.name == "" }

// Equal compares types by name.
func (t Type) Equal(o Type) bool { return t.name == o.name }

// WAT returns the stack-machine value type used to carry t.
func (t Type) WAT() string {
	if t.IsEmpty() {
		return ""
	}
	return "i32"
}

func (t Type) String() string {
	if t.IsEmpty() {
		return "void"
	}
	return t.name
}
