package compiler

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Lexer: Tokenizer for Tubular source
// ---------------------------------------------------------------------------

// Lexer tokenizes Tubular source code. Source is treated as bytes; string
// and char literals hold single bytes.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      byte // current character, 0 at EOF
	line    int  // line of ch (1-based)
	col     int  // column of ch (1-based)
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{
		input: input,
		line:  1,
	}
	l.readChar()
	return l
}

// readChar reads the next character.
func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.col = 0
	}
	if l.readPos >= len(l.input) {
		l.ch = 0 // EOF
		l.pos = len(l.input)
		l.readPos = len(l.input) + 1
		l.col++
		return
	}
	l.ch = l.input[l.readPos]
	l.pos = l.readPos
	l.readPos++
	l.col++
}

// peekChar returns the next character without consuming it.
func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

func (l *Lexer) atEOF() bool {
	return l.pos >= len(l.input)
}

// position returns the position of the current character.
func (l *Lexer) position() FilePos {
	return FilePos{Line: l.line, Column: l.col}
}

// Tokenize reads every token up to and including EOF, stopping early at the
// first error token.
func (l *Lexer) Tokenize() []Token {
	var toks []Token
	for {
		tok := l.NextToken()
		toks = append(toks, tok)
		if tok.Type == TokenEOF || tok.Type == TokenError {
			return toks
		}
	}
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	l.skipWhitespaceAndComments()

	pos := l.position()

	if l.atEOF() {
		return Token{Type: TokenEOF, Literal: "", Pos: pos}
	}

	switch ch := l.ch; {
	case ch == '(':
		l.readChar()
		return Token{Type: TokenLParen, Literal: "(", Pos: pos}
	case ch == ')':
		l.readChar()
		return Token{Type: TokenRParen, Literal: ")", Pos: pos}
	case ch == '{':
		l.readChar()
		return Token{Type: TokenLBrace, Literal: "{", Pos: pos}
	case ch == '}':
		l.readChar()
		return Token{Type: TokenRBrace, Literal: "}", Pos: pos}
	case ch == '[':
		l.readChar()
		return Token{Type: TokenLBracket, Literal: "[", Pos: pos}
	case ch == ']':
		l.readChar()
		return Token{Type: TokenRBracket, Literal: "]", Pos: pos}
	case ch == ',':
		l.readChar()
		return Token{Type: TokenComma, Literal: ",", Pos: pos}
	case ch == ';':
		l.readChar()
		return Token{Type: TokenSemicolon, Literal: ";", Pos: pos}
	case ch == ':':
		l.readChar()
		return Token{Type: TokenColon, Literal: ":", Pos: pos}

	case ch == '\'':
		return l.readCharLiteral(pos)

	case ch == '"':
		return l.readString(pos)

	case isDigit(ch):
		return l.readNumber(pos)

	case isLetter(ch):
		return l.readIdentifier(pos)

	case strings.IndexByte("+-*/%=!<>&|", ch) >= 0:
		return l.readOperator(pos)

	default:
		l.readChar()
		return Token{Type: TokenError, Literal: fmt.Sprintf("unexpected character: %q", ch), Pos: pos}
	}
}

// skipWhitespaceAndComments skips whitespace and // comments.
func (l *Lexer) skipWhitespaceAndComments() {
	for !l.atEOF() {
		switch {
		case l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r':
			l.readChar()
		case l.ch == '/' && l.peekChar() == '/':
			for !l.atEOF() && l.ch != '\n' {
				l.readChar()
			}
		default:
			return
		}
	}
}

// readIdentifier reads an identifier or reserved word.
func (l *Lexer) readIdentifier(pos FilePos) Token {
	start := l.pos
	for !l.atEOF() && (isLetter(l.ch) || isDigit(l.ch)) {
		l.readChar()
	}
	lit := l.input[start:l.pos]
	if typ, ok := reservedWords[lit]; ok {
		return Token{Type: typ, Literal: lit, Pos: pos}
	}
	return Token{Type: TokenIdentifier, Literal: lit, Pos: pos}
}

// readNumber reads a decimal integer literal.
func (l *Lexer) readNumber(pos FilePos) Token {
	start := l.pos
	for !l.atEOF() && isDigit(l.ch) {
		l.readChar()
	}
	if !l.atEOF() && isLetter(l.ch) {
		return Token{Type: TokenError, Literal: fmt.Sprintf("malformed number %q", l.input[start:l.pos+1]), Pos: pos}
	}
	return Token{Type: TokenInteger, Literal: l.input[start:l.pos], Pos: pos}
}

// readOperator reads a one- or two-character operator.
func (l *Lexer) readOperator(pos FilePos) Token {
	first := l.ch
	l.readChar()
	if !l.atEOF() {
		two := string([]byte{first, l.ch})
		switch two {
		case "==", "!=", "<=", ">=", "&&", "||":
			l.readChar()
			return Token{Type: TokenOperator, Literal: two, Pos: pos}
		}
	}
	if first == '&' || first == '|' {
		return Token{Type: TokenError, Literal: fmt.Sprintf("unexpected character: %q", first), Pos: pos}
	}
	return Token{Type: TokenOperator, Literal: string(first), Pos: pos}
}

// readEscape decodes the character after a backslash.
func (l *Lexer) readEscape() (byte, bool) {
	l.readChar() // consume backslash
	var b byte
	switch l.ch {
	case 'n':
		b = '\n'
	case 't':
		b = '\t'
	case 'r':
		b = '\r'
	case '0':
		b = 0
	case '\\', '\'', '"':
		b = l.ch
	default:
		return 0, false
	}
	if l.atEOF() {
		return 0, false
	}
	l.readChar()
	return b, true
}

// readCharLiteral reads a character literal such as 'a' or '\n'.
func (l *Lexer) readCharLiteral(pos FilePos) Token {
	l.readChar() // consume opening quote
	if l.atEOF() || l.ch == '\n' || l.ch == '\'' {
		return Token{Type: TokenError, Literal: "malformed character literal", Pos: pos}
	}

	var b byte
	if l.ch == '\\' {
		var ok bool
		if b, ok = l.readEscape(); !ok {
			return Token{Type: TokenError, Literal: "unknown escape sequence in character literal", Pos: pos}
		}
	} else {
		b = l.ch
		l.readChar()
	}

	if l.atEOF() || l.ch != '\'' {
		return Token{Type: TokenError, Literal: "unterminated character literal", Pos: pos}
	}
	l.readChar() // consume closing quote
	return Token{Type: TokenChar, Literal: string([]byte{b}), Pos: pos}
}

// readString reads a double-quoted string literal.
func (l *Lexer) readString(pos FilePos) Token {
	l.readChar() // consume opening quote

	var sb strings.Builder
	for {
		if l.atEOF() || l.ch == '\n' {
			return Token{Type: TokenError, Literal: "unterminated string literal", Pos: pos}
		}
		if l.ch == '"' {
			l.readChar()
			return Token{Type: TokenString, Literal: sb.String(), Pos: pos}
		}
		if l.ch == '\\' {
			b, ok := l.readEscape()
			if !ok {
				return Token{Type: TokenError, Literal: "unknown escape sequence in string literal", Pos: pos}
			}
			if b == 0 {
				return Token{Type: TokenError, Literal: "string literals cannot contain a null byte", Pos: pos}
			}
			sb.WriteByte(b)
			continue
		}
		sb.WriteByte(l.ch)
		l.readChar()
	}
}

func isLetter(ch byte) bool {
	return ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch == '_'
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}
