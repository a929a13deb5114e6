package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Token types for the Tubular lexer
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError

	// Literals
	TokenInteger    // 42
	TokenChar       // 'a', '\n'
	TokenString     // "hello"
	TokenIdentifier // foo

	// Keywords
	TokenFunction
	TokenTypeName // int, char, string
	TokenIf
	TokenElse
	TokenWhile
	TokenReturn
	TokenBreak
	TokenContinue

	// Operators
	TokenOperator // + - * / % = == != < <= > >= && || !

	// Delimiters
	TokenLParen    // (
	TokenRParen    // )
	TokenLBrace    // {
	TokenRBrace    // }
	TokenLBracket  // [
	TokenRBracket  // ]
	TokenComma     // ,
	TokenSemicolon // ;
	TokenColon     // :
)

var tokenNames = map[TokenType]string{
	TokenEOF:        "EOF",
	TokenError:      "ERROR",
	TokenInteger:    "INTEGER",
	TokenChar:       "CHAR",
	TokenString:     "STRING",
	TokenIdentifier: "IDENTIFIER",
	TokenFunction:   "function",
	TokenTypeName:   "TYPE",
	TokenIf:         "if",
	TokenElse:       "else",
	TokenWhile:      "while",
	TokenReturn:     "return",
	TokenBreak:      "break",
	TokenContinue:   "continue",
	TokenOperator:   "OPERATOR",
	TokenLParen:     "(",
	TokenRParen:     ")",
	TokenLBrace:     "{",
	TokenRBrace:     "}",
	TokenLBracket:   "[",
	TokenRBracket:   "]",
	TokenComma:      ",",
	TokenSemicolon:  ";",
	TokenColon:      ":",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", t)
}

// Token represents a lexical token.
type Token struct {
	Type    TokenType
	Literal string  // the raw text; the decoded value for char and string literals
	Pos     FilePos // start position
}

func (t Token) String() string {
	if t.Type == TokenEOF {
		return "EOF"
	}
	if t.Type == TokenError {
		return fmt.Sprintf("ERROR(%s)", t.Literal)
	}
	if len(t.Literal) > 20 {
		return fmt.Sprintf("%s(%q...)", t.Type, t.Literal[:20])
	}
	return fmt.Sprintf("%s(%q)", t.Type, t.Literal)
}

// Reserved words mapped to their token types.
var reservedWords = map[string]TokenType{
	"function": TokenFunction,
	"int":      TokenTypeName,
	"char":     TokenTypeName,
	"string":   TokenTypeName,
	"if":       TokenIf,
	"else":     TokenElse,
	"while":    TokenWhile,
	"return":   TokenReturn,
	"break":    TokenBreak,
	"continue": TokenContinue,
}

// opInfo is an entry in the binary operator precedence table.
type opInfo struct {
	level int
	assoc byte // 'l' left, 'r' right, 'n' non-associative
}

// binaryOps holds every binary operator; higher levels bind tighter.
var binaryOps = map[string]opInfo{
	"=":  {1, 'r'},
	"||": {2, 'l'},
	"&&": {3, 'l'},
	"==": {4, 'n'},
	"!=": {4, 'n'},
	"<":  {5, 'n'},
	"<=": {5, 'n'},
	">":  {5, 'n'},
	">=": {5, 'n'},
	"+":  {6, 'l'},
	"-":  {6, 'l'},
	"*":  {7, 'l'},
	"/":  {7, 'l'},
	"%":  {7, 'l'},
}
