package vm

import (
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// SExpr: the syntax tree of module text
// ---------------------------------------------------------------------------

// SExpr is an atom, a string literal or a parenthesised list.
type SExpr struct {
	Atom string   // keyword, $name or number; empty for lists and strings
	Str  []byte   // decoded bytes of a string literal
	List []*SExpr // elements of a list
	Line int

	isList bool
	isStr  bool
}

// IsList reports whether e is a parenthesised list.
func (e *SExpr) IsList() bool { return e.isList }

// IsString reports whether e is a string literal.
func (e *SExpr) IsString() bool { return e.isStr }

// Head returns the leading atom of a list, or "".
func (e *SExpr) Head() string {
	if !e.isList || len(e.List) == 0 || e.List[0].isList || e.List[0].isStr {
		return ""
	}
	return e.List[0].Atom
}

// IsName reports whether e is a $-prefixed identifier.
func (e *SExpr) IsName() bool {
	return !e.isList && !e.isStr && strings.HasPrefix(e.Atom, "$")
}

func (e *SExpr) String() string {
	switch {
	case e.isStr:
		return strconv.Quote(string(e.Str))
	case !e.isList:
		return e.Atom
	}
	parts := make([]string, len(e.List))
	for i, c := range e.List {
		parts[i] = c.String()
	}
	return "(" + strings.Join(parts, " ") + ")"
}

// ---------------------------------------------------------------------------
// Reader
// ---------------------------------------------------------------------------

type reader struct {
	src  string
	pos  int
	line int
}

// ParseSExprs reads every top-level expression in src. Line comments (;;)
// and block comments ((; ... ;)) are skipped.
func ParseSExprs(src string) ([]*SExpr, error) {
	r := &reader{src: src, line: 1}
	var out []*SExpr
	for {
		if err := r.skipSpace(); err != nil {
			return nil, err
		}
		if r.pos >= len(r.src) {
			return out, nil
		}
		e, err := r.read()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
}

func (r *reader) errorf(format string, args ...interface{}) error {
	return fmt.Errorf("line %d: %s", r.line, fmt.Sprintf(format, args...))
}

func (r *reader) skipSpace() error {
	for r.pos < len(r.src) {
		switch c := r.src[r.pos]; {
		case c == '\n':
			r.line++
			r.pos++
		case c == ' ' || c == '\t' || c == '\r':
			r.pos++
		case strings.HasPrefix(r.src[r.pos:], ";;"):
			for r.pos < len(r.src) && r.src[r.pos] != '\n' {
				r.pos++
			}
		case strings.HasPrefix(r.src[r.pos:], "(;"):
			end := strings.Index(r.src[r.pos:], ";)")
			if end < 0 {
				return r.errorf("unterminated block comment")
			}
			r.line += strings.Count(r.src[r.pos:r.pos+end], "\n")
			r.pos += end + 2
		default:
			return nil
		}
	}
	return nil
}

func (r *reader) read() (*SExpr, error) {
	line := r.line
	switch r.src[r.pos] {
	case '(':
		r.pos++
		list := &SExpr{isList: true, Line: line}
		for {
			if err := r.skipSpace(); err != nil {
				return nil, err
			}
			if r.pos >= len(r.src) {
				return nil, fmt.Errorf("line %d: unclosed '('", line)
			}
			if r.src[r.pos] == ')' {
				r.pos++
				return list, nil
			}
			e, err := r.read()
			if err != nil {
				return nil, err
			}
			list.List = append(list.List, e)
		}
	case ')':
		return nil, r.errorf("unexpected ')'")
	case '"':
		return r.readString()
	}

	start := r.pos
	for r.pos < len(r.src) && !strings.ContainsRune(" \t\r\n()\";", rune(r.src[r.pos])) {
		r.pos++
	}
	if start == r.pos {
		return nil, r.errorf("unexpected character %q", r.src[r.pos])
	}
	return &SExpr{Atom: r.src[start:r.pos], Line: line}, nil
}

// readString decodes a string literal. Escapes are \n \t \r \\ \' \" and
// two hex digits.
func (r *reader) readString() (*SExpr, error) {
	line := r.line
	r.pos++ // opening quote
	var buf []byte
	for {
		if r.pos >= len(r.src) || r.src[r.pos] == '\n' {
			return nil, fmt.Errorf("line %d: unterminated string", line)
		}
		c := r.src[r.pos]
		r.pos++
		if c == '"' {
			return &SExpr{Str: buf, Line: line, isStr: true}, nil
		}
		if c != '\\' {
			buf = append(buf, c)
			continue
		}
		if r.pos >= len(r.src) {
			return nil, fmt.Errorf("line %d: unterminated string", line)
		}
		e := r.src[r.pos]
		r.pos++
		switch e {
		case 'n':
			buf = append(buf, '\n')
		case 't':
			buf = append(buf, '\t')
		case 'r':
			buf = append(buf, '\r')
		case '\\', '\'', '"':
			buf = append(buf, e)
		default:
			if r.pos >= len(r.src) {
				return nil, fmt.Errorf("line %d: bad escape", line)
			}
			v, err := strconv.ParseUint(string([]byte{e, r.src[r.pos]}), 16, 8)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad escape \\%c", line, e)
			}
			r.pos++
			buf = append(buf, byte(v))
		}
	}
}
