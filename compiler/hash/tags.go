package hash

// ---------------------------------------------------------------------------
// Frozen kind tags for the canonical tree encoding.
//
// A kind tag must never change meaning once assigned. New kinds may be
// added; reusing or renumbering one changes every previously computed hash.
// ---------------------------------------------------------------------------

// HashVersion prefixes every encoded tree. Bumping it invalidates all
// existing hashes.
const HashVersion byte = 1

// Node kind tags.
const (
	KindReserved byte = 0x00

	// Definitions and statements
	KindProgram  byte = 0x01
	KindFunction byte = 0x02
	KindParam    byte = 0x03
	KindBlock    byte = 0x04
	KindDeclare  byte = 0x05
	KindIf       byte = 0x06
	KindWhile    byte = 0x07
	KindBreak    byte = 0x08
	KindContinue byte = 0x09
	KindReturn   byte = 0x0A

	// Reserved 0x0B-0x0F

	// Expressions
	KindIntLit    byte = 0x10
	KindCharLit   byte = 0x11
	KindStringLit byte = 0x12
	KindVar       byte = 0x13
	KindAssign    byte = 0x14
	KindBinaryOp  byte = 0x15
	KindUnaryOp   byte = 0x16
	KindIndex     byte = 0x17
	KindCall      byte = 0x18

	// Reserved 0xFE-0xFF
)

// kindNames is used when printing normalized trees.
var kindNames = map[byte]string{
	KindProgram:   "PROGRAM",
	KindFunction:  "FUNCTION",
	KindParam:     "PARAM",
	KindBlock:     "BLOCK",
	KindDeclare:   "DECLARE",
	KindIf:        "IF",
	KindWhile:     "WHILE",
	KindBreak:     "BREAK",
	KindContinue:  "CONTINUE",
	KindReturn:    "RETURN",
	KindIntLit:    "INT_LIT",
	KindCharLit:   "CHAR_LIT",
	KindStringLit: "STRING_LIT",
	KindVar:       "VAR",
	KindAssign:    "ASSIGN",
	KindBinaryOp:  "BINARY_OP",
	KindUnaryOp:   "UNARY_OP",
	KindIndex:     "INDEX",
	KindCall:      "CALL",
}

// allKinds lists every defined kind for uniqueness checks in tests.
var allKinds = []byte{
	KindReserved,
	KindProgram, KindFunction, KindParam, KindBlock, KindDeclare,
	KindIf, KindWhile, KindBreak, KindContinue, KindReturn,
	KindIntLit, KindCharLit, KindStringLit, KindVar, KindAssign,
	KindBinaryOp, KindUnaryOp, KindIndex, KindCall,
}

// KindName returns the printable name of a kind tag.
func KindName(kind byte) string {
	if name, ok := kindNames[kind]; ok {
		return name
	}
	return "UNKNOWN"
}
