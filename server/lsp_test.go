package server

import (
	"strings"
	"testing"
	"time"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/chazu/tubular/compiler"
)

const sample = `function fib(int n) : int {
  if (n < 2) { return n; }
  return fib(n - 1) + fib(n - 2);
}
function main() : int {
  return fib(10);
}
`

func analyzed(t *testing.T, text string) *document {
	t.Helper()
	return NewLSP(compiler.DefaultOptions()).analyze(text)
}

// recorder captures notifications sent through a glsp context.
type recorder struct {
	ch chan protocol.PublishDiagnosticsParams
}

func newRecorder() (*recorder, *glsp.Context) {
	r := &recorder{ch: make(chan protocol.PublishDiagnosticsParams, 4)}
	ctx := &glsp.Context{Notify: func(method string, params any) {
		if method == protocol.ServerTextDocumentPublishDiagnostics {
			r.ch <- params.(protocol.PublishDiagnosticsParams)
		}
	}}
	return r, ctx
}

func (r *recorder) next(t *testing.T) protocol.PublishDiagnosticsParams {
	t.Helper()
	select {
	case p := <-r.ch:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("no diagnostics published")
		return protocol.PublishDiagnosticsParams{}
	}
}

// ---------------------------------------------------------------------------
// Text helpers
// ---------------------------------------------------------------------------

func TestExtractPrefix(t *testing.T) {
	tests := []struct {
		text string
		pos  protocol.Position
		want string
	}{
		{"return fi", protocol.Position{Line: 0, Character: 9}, "fi"},
		{"", protocol.Position{Line: 0, Character: 0}, ""},
		{"a\nb\nwhi", protocol.Position{Line: 2, Character: 3}, "whi"},
		{"x = (si", protocol.Position{Line: 0, Character: 7}, "si"},
		{"x", protocol.Position{Line: 5, Character: 0}, ""},
		{"abc", protocol.Position{Line: 0, Character: 99}, "abc"},
	}
	for _, tc := range tests {
		if got := extractPrefix(tc.text, tc.pos); got != tc.want {
			t.Errorf("extractPrefix(%q, %v) = %q, want %q", tc.text, tc.pos, got, tc.want)
		}
	}
}

func TestExtractWord(t *testing.T) {
	tests := []struct {
		text string
		char protocol.UInteger
		want string
	}{
		{"return fib(n_1);", 8, "fib"},
		{"return fib(n_1);", 7, "fib"},
		{"return fib(n_1);", 12, "n_1"},
		{"return fib(n_1);", 6, "return"},
		{"a + b", 2, ""},
	}
	for _, tc := range tests {
		got := extractWord(tc.text, protocol.Position{Line: 0, Character: tc.char})
		if got != tc.want {
			t.Errorf("extractWord(%q, %d) = %q, want %q", tc.text, tc.char, got, tc.want)
		}
	}
}

func TestTokenRange(t *testing.T) {
	text := "int x = 1;\n  return value;"
	r := tokenRange(text, compiler.FilePos{Line: 2, Column: 10})
	if r.Start.Line != 1 || r.Start.Character != 9 || r.End.Character != 14 {
		t.Errorf("tokenRange = %+v, want line 1, 9..14", r)
	}

	r = tokenRange(text, compiler.FilePos{Line: 1, Column: 7})
	if r.Start.Character != 6 || r.End.Character != 7 {
		t.Errorf("tokenRange on '=' = %+v, want 6..7", r)
	}
}

// ---------------------------------------------------------------------------
// Analysis
// ---------------------------------------------------------------------------

func TestAnalyzeClean(t *testing.T) {
	doc := analyzed(t, sample)
	if doc.err != nil {
		t.Fatalf("err = %v", doc.err)
	}
	if doc.prog == nil {
		t.Fatal("no tree")
	}
	if diags := diagnostics(doc); len(diags) != 0 {
		t.Errorf("diagnostics = %+v, want none", diags)
	}
}

func TestDiagnosticsTypeError(t *testing.T) {
	doc := analyzed(t, "function f() : int {\n  return missing;\n}\n")
	if doc.prog == nil {
		t.Fatal("type errors should keep the tree")
	}
	diags := diagnostics(doc)
	if len(diags) != 1 {
		t.Fatalf("diagnostics = %+v, want one", diags)
	}
	d := diags[0]
	if d.Range.Start.Line != 1 || d.Range.Start.Character != 9 || d.Range.End.Character != 16 {
		t.Errorf("range = %+v, want line 1, 9..16", d.Range)
	}
	if d.Severity == nil || *d.Severity != protocol.DiagnosticSeverityError {
		t.Errorf("severity = %v", d.Severity)
	}
	if d.Source == nil || *d.Source != lspName {
		t.Errorf("source = %v", d.Source)
	}
	if !strings.Contains(d.Message, "missing") || strings.Contains(d.Message, "line 2") {
		t.Errorf("message = %q, want the bare message naming 'missing'", d.Message)
	}
}

func TestDiagnosticsSyntaxError(t *testing.T) {
	doc := analyzed(t, "function f() : int {\n  return 1\n}\n")
	if doc.prog != nil {
		t.Error("syntax error kept a tree")
	}
	if diags := diagnostics(doc); len(diags) != 1 {
		t.Errorf("diagnostics = %+v, want one", diags)
	}
}

// ---------------------------------------------------------------------------
// Tree-backed features
// ---------------------------------------------------------------------------

func TestComplete(t *testing.T) {
	doc := analyzed(t, sample)

	var labels []string
	for _, item := range complete(doc, "f") {
		labels = append(labels, item.Label)
	}
	if got := strings.Join(labels, " "); got != "fib function" {
		t.Errorf("complete(f) = %s, want \"fib function\"", got)
	}

	items := complete(doc, "si")
	if len(items) != 1 || items[0].Label != "size" || *items[0].Kind != protocol.CompletionItemKindFunction {
		t.Errorf("complete(si) = %+v", items)
	}

	if items := complete(doc, "zz"); len(items) != 0 {
		t.Errorf("complete(zz) = %+v, want none", items)
	}
}

func TestHover(t *testing.T) {
	doc := analyzed(t, sample)

	h := hover(doc, "fib")
	if h == nil {
		t.Fatal("no hover for fib")
	}
	content := h.Contents.(protocol.MarkupContent)
	if !strings.Contains(content.Value, "function fib(int n) : int") {
		t.Errorf("hover = %q", content.Value)
	}

	if h := hover(doc, "size"); h == nil {
		t.Error("no hover for builtin size")
	}
	if h := hover(doc, "n"); h != nil {
		t.Errorf("hover(n) = %+v, want nil", h)
	}
}

func TestDefinitionAndReferences(t *testing.T) {
	doc := analyzed(t, sample)
	uri := protocol.DocumentUri("file:///fib.tb")

	loc := definition(uri, doc, "fib")
	if loc == nil {
		t.Fatal("no definition for fib")
	}
	if loc.Range.Start.Line != 0 || loc.Range.Start.Character != 9 || loc.Range.End.Character != 12 {
		t.Errorf("definition range = %+v, want line 0, 9..12", loc.Range)
	}
	if definition(uri, doc, "size") != nil {
		t.Error("builtin size has a definition")
	}

	refs := references(uri, doc, "fib", false)
	if len(refs) != 3 {
		t.Fatalf("references = %d, want 3", len(refs))
	}
	wantLines := []protocol.UInteger{2, 2, 5}
	for i, r := range refs {
		if r.Range.Start.Line != wantLines[i] || r.URI != uri {
			t.Errorf("reference %d = %+v, want line %d", i, r, wantLines[i])
		}
	}

	if refs := references(uri, doc, "fib", true); len(refs) != 4 || refs[0].Range.Start.Line != 0 {
		t.Errorf("references with declaration = %+v", refs)
	}
}

func TestDocumentSymbols(t *testing.T) {
	doc := analyzed(t, sample)
	syms := documentSymbols(doc)
	if len(syms) != 2 {
		t.Fatalf("symbols = %d, want 2", len(syms))
	}
	fib := syms[0]
	if fib.Name != "fib" || fib.Kind != protocol.SymbolKindFunction || *fib.Detail != "fib(int n) : int" {
		t.Errorf("fib symbol = %+v", fib)
	}
	if len(fib.Children) != 1 || fib.Children[0].Name != "n" || fib.Children[0].Kind != protocol.SymbolKindVariable {
		t.Errorf("fib params = %+v", fib.Children)
	}
	if *syms[1].Detail != "main() : int" {
		t.Errorf("main detail = %q", *syms[1].Detail)
	}

	if syms := documentSymbols(analyzed(t, "function (")); len(syms) != 0 {
		t.Errorf("symbols for broken source = %+v", syms)
	}
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func TestDocumentLifecycle(t *testing.T) {
	s := NewLSP(compiler.DefaultOptions())
	rec, ctx := newRecorder()
	uri := protocol.DocumentUri("file:///a.tb")

	err := s.textDocumentDidOpen(ctx, &protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{URI: uri, Text: "function f() : int { return x; }"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if p := rec.next(t); p.URI != uri || len(p.Diagnostics) != 1 {
		t.Errorf("open diagnostics = %+v, want one", p)
	}

	err = s.textDocumentDidChange(ctx, &protocol.DidChangeTextDocumentParams{
		TextDocument: protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: uri},
		},
		ContentChanges: []any{protocol.TextDocumentContentChangeEventWhole{Text: sample}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if p := rec.next(t); len(p.Diagnostics) != 0 {
		t.Errorf("change diagnostics = %+v, want none", p.Diagnostics)
	}

	h, err := s.textDocumentHover(ctx, &protocol.HoverParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: uri},
			Position:     protocol.Position{Line: 5, Character: 10},
		},
	})
	if err != nil || h == nil {
		t.Errorf("hover on fib call = %v, %v", h, err)
	}

	if err := s.textDocumentDidClose(ctx, &protocol.DidCloseTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: uri},
	}); err != nil {
		t.Fatal(err)
	}
	if p := rec.next(t); len(p.Diagnostics) != 0 {
		t.Errorf("close diagnostics = %+v, want cleared", p.Diagnostics)
	}
	if s.lookup(uri) != nil {
		t.Error("document still open after close")
	}
}

func TestInitialize(t *testing.T) {
	s := NewLSP(compiler.DefaultOptions())
	result, err := s.initialize(&glsp.Context{}, &protocol.InitializeParams{})
	if err != nil {
		t.Fatal(err)
	}
	res := result.(protocol.InitializeResult)
	if res.ServerInfo == nil || res.ServerInfo.Name != lspName {
		t.Errorf("server info = %+v", res.ServerInfo)
	}
	if res.Capabilities.HoverProvider == nil || res.Capabilities.DocumentSymbolProvider == nil {
		t.Errorf("capabilities missing hover or symbols: %+v", res.Capabilities)
	}
}
