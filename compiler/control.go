package compiler

import (
	"fmt"
	"io"
	"strings"
)

// ---------------------------------------------------------------------------
// Control: the emission engine that accumulates module text
// ---------------------------------------------------------------------------

// Options configures code emission.
type Options struct {
	MemoryPages   int  // initial page count of the exported memory
	ExportRuntime bool // export the runtime library under its public names
	IndentWidth   int  // spaces per indentation level
	Comments      bool // emit comment lines and trailing comments
}

// DefaultOptions returns the emission defaults.
func DefaultOptions() Options {
	return Options{
		MemoryPages:   1,
		ExportRuntime: true,
		IndentWidth:   2,
		Comments:      true,
	}
}

// Line is one emitted line: an instruction, a comment, or both.
type Line struct {
	Indent  int
	Code    string
	Comment string
}

// Param is a named value in a function header.
type Param struct {
	Name string // without the '$'
	Type string // stack value type, e.g. "i32"
}

// Signature is the single description of a generated function: its header
// is emitted from it and every call site consumes its result arity.
type Signature struct {
	Name    string // internal name, without the '$'
	Export  string // public name, empty when not exported
	Params  []Param
	Results []string
	Locals  []Param
}

// Header renders the opening line of the function.
func (s Signature) Header() string {
	var sb strings.Builder
	sb.WriteString("(func $")
	sb.WriteString(s.Name)
	for _, p := range s.Params {
		fmt.Fprintf(&sb, " (param $%s %s)", p.Name, p.Type)
	}
	if len(s.Results) > 0 {
		sb.WriteString(" (result")
		for _, r := range s.Results {
			sb.WriteString(" ")
			sb.WriteString(r)
		}
		sb.WriteString(")")
	}
	return sb.String()
}

// LoopLabels are the branch targets of the innermost while loop.
type LoopLabels struct {
	Exit     string
	Continue string
}

// Control accumulates emitted lines and owns the SymbolTable for the
// duration of a compilation.
type Control struct {
	Symbols *SymbolTable

	opts   Options
	lines  []Line
	indent int

	data    map[string]int // literal -> offset
	dataEnd int

	loops  []LoopLabels
	labels int
}

// NewControl creates an emission engine with a fresh symbol table.
func NewControl(opts Options) *Control {
	if opts.IndentWidth < 0 {
		opts.IndentWidth = 0
	}
	return &Control{
		Symbols: NewSymbolTable(),
		opts:    opts,
		data:    make(map[string]int),
	}
}

// Options returns the emission options.
func (c *Control) Options() Options { return c.opts }

// Code appends an instruction line at the current indentation.
func (c *Control) Code(line string) *Control {
	c.lines = append(c.lines, Line{Indent: c.indent, Code: line})
	return c
}

// Codef appends a formatted instruction line.
func (c *Control) Codef(format string, args ...interface{}) *Control {
	return c.Code(fmt.Sprintf(format, args...))
}

// Comment attaches a trailing comment to the last emitted line.
func (c *Control) Comment(text string) *Control {
	if !c.opts.Comments {
		return c
	}
	assert(len(c.lines) > 0, "Comment(%q) before any line", text)
	last := &c.lines[len(c.lines)-1]
	if last.Comment != "" {
		last.Comment += "; " + text
	} else {
		last.Comment = text
	}
	return c
}

// CommentLine appends a standalone comment line. An empty text yields a
// blank separator line.
func (c *Control) CommentLine(text string) *Control {
	if !c.opts.Comments {
		return c
	}
	c.lines = append(c.lines, Line{Indent: c.indent, Comment: text})
	return c
}

// Indent changes the indentation depth by delta levels.
func (c *Control) Indent(delta int) *Control {
	c.indent += delta
	assert(c.indent >= 0, "indentation went negative (%d)", c.indent)
	return c
}

// Depth returns the current indentation depth.
func (c *Control) Depth() int { return c.indent }

// Drop removes the top of the operand stack.
func (c *Control) Drop() *Control {
	return c.Code("(drop)")
}

// Guard records the current indentation; calling the returned function
// fails internally unless the indentation is back where it started.
func (c *Control) Guard() func() {
	start := c.indent
	return func() {
		assert(c.indent == start, "indentation imbalance: entered at %d, left at %d", start, c.indent)
	}
}

// Func emits sig's header and locals and indents the body.
func (c *Control) Func(sig Signature) *Control {
	c.Code(sig.Header())
	c.Indent(1)
	for _, l := range sig.Locals {
		c.Codef("(local $%s %s)", l.Name, l.Type)
	}
	return c
}

// EndFunc closes the function opened by Func.
func (c *Control) EndFunc() *Control {
	return c.Indent(-1).Code(")")
}

// Call emits a call to sig. The caller consumes len(sig.Results) values.
func (c *Control) Call(sig Signature) *Control {
	return c.Codef("(call $%s)", sig.Name)
}

// Export emits an export entry for sig if it has a public name.
func (c *Control) Export(sig Signature) *Control {
	if sig.Export == "" {
		return c
	}
	return c.Codef("(export %q (func $%s))", sig.Export, sig.Name)
}

// StringData places a null-terminated literal in the data segment and
// returns its offset. Each distinct literal is placed once.
func (c *Control) StringData(value string) int {
	if off, ok := c.data[value]; ok {
		return off
	}
	off := c.dataEnd
	c.data[value] = off
	c.dataEnd += len(value) + 1
	c.Codef("(data (i32.const %d) \"%s\\00\")", off, EscapeData(value))
	return off
}

// DataEnd returns the first byte past all literal data.
func (c *Control) DataEnd() int { return c.dataEnd }

// PushLoop allocates labels for a new innermost loop.
func (c *Control) PushLoop() LoopLabels {
	c.labels++
	l := LoopLabels{
		Exit:     fmt.Sprintf("exit_%d", c.labels),
		Continue: fmt.Sprintf("loop_%d", c.labels),
	}
	c.loops = append(c.loops, l)
	return l
}

// PopLoop discards the innermost loop labels.
func (c *Control) PopLoop() {
	assert(len(c.loops) > 0, "PopLoop outside a loop")
	c.loops = c.loops[:len(c.loops)-1]
}

// Loop returns the innermost loop labels.
func (c *Control) Loop() LoopLabels {
	assert(len(c.loops) > 0, "break or continue outside a loop")
	return c.loops[len(c.loops)-1]
}

// Lines returns the emitted lines.
func (c *Control) Lines() []Line { return c.lines }

// WriteTo renders the accumulated lines.
func (c *Control) WriteTo(w io.Writer) (int64, error) {
	n, err := io.WriteString(w, c.String())
	return int64(n), err
}

func (c *Control) String() string {
	var sb strings.Builder
	for _, l := range c.lines {
		if l.Code == "" && l.Comment == "" {
			sb.WriteString("\n")
			continue
		}
		sb.WriteString(strings.Repeat(" ", l.Indent*c.opts.IndentWidth))
		switch {
		case l.Code == "":
			sb.WriteString(";; ")
			sb.WriteString(l.Comment)
		case l.Comment == "":
			sb.WriteString(l.Code)
		default:
			sb.WriteString(l.Code)
			sb.WriteString("  ;; ")
			sb.WriteString(l.Comment)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// EscapeData escapes s for a data-segment string.
func EscapeData(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		b := s[i]
		if b >= 0x20 && b <= 0x7e && b != '\\' && b != '"' {
			sb.WriteByte(b)
			continue
		}
		fmt.Fprintf(&sb, "\\%02x", b)
	}
	return sb.String()
}
