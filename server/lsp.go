// Package server provides a language server for Tubular source files.
package server

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/tubular/compiler"
)

const lspName = "tubular-lsp"

func log() commonlog.Logger { return commonlog.GetLogger("tubular.lsp") }

// keywords offered by completion.
var keywords = []string{
	"function", "int", "char", "string", "if", "else", "while", "return", "break", "continue",
}

// document is one open file and the result of checking it.
type document struct {
	text string
	prog *compiler.Program // nil when the text does not parse
	err  error             // first parse or type error
}

// LspServer checks open documents with the compiler and answers editor
// queries from the resulting trees.
type LspServer struct {
	opts compiler.Options

	mu   sync.Mutex
	docs map[string]*document // URI -> document

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a language server that checks documents with opts.
func NewLSP(opts compiler.Options) *LspServer {
	s := &LspServer{
		opts:    opts,
		docs:    make(map[string]*document),
		version: "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion:     s.textDocumentCompletion,
		TextDocumentHover:          s.textDocumentHover,
		TextDocumentDefinition:     s.textDocumentDefinition,
		TextDocumentReferences:     s.textDocumentReferences,
		TextDocumentDocumentSymbol: s.textDocumentDocumentSymbol,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)
	return s
}

// Run serves on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- Lifecycle ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	log().Info("initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}
	capabilities.CompletionProvider = &protocol.CompletionOptions{}

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	s.update(ctx, params.TextDocument.URI, params.TextDocument.Text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	// With full sync the last change carries the whole text.
	if len(params.ContentChanges) == 0 {
		return nil
	}
	last := params.ContentChanges[len(params.ContentChanges)-1]
	if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
		s.update(ctx, params.TextDocument.URI, whole.Text)
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

// update re-checks a document and publishes its diagnostics.
func (s *LspServer) update(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	doc := s.analyze(text)

	s.mu.Lock()
	s.docs[string(uri)] = doc
	s.mu.Unlock()

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics(doc),
	})
}

func (s *LspServer) lookup(uri protocol.DocumentUri) *document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[string(uri)]
}

// analyze parses and type-checks text. A compiler panic is logged and the
// document is kept without a tree.
func (s *LspServer) analyze(text string) (doc *document) {
	doc = &document{text: text}
	defer func() {
		if r := recover(); r != nil {
			log().Errorf("compiler failure: %v", r)
			doc.prog = nil
		}
	}()

	prog, err := compiler.NewParser(text).ParseProgram()
	if err != nil {
		doc.err = err
		return doc
	}
	doc.prog = prog
	_, doc.err = compiler.CompileProgram(prog, s.opts)
	return doc
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	doc := s.lookup(params.TextDocument.URI)
	if doc == nil {
		return nil, nil
	}
	prefix := extractPrefix(doc.text, params.Position)
	if prefix == "" {
		return nil, nil
	}
	return complete(doc, prefix), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	doc := s.lookup(params.TextDocument.URI)
	if doc == nil {
		return nil, nil
	}
	word := extractWord(doc.text, params.Position)
	if word == "" {
		return nil, nil
	}
	return hover(doc, word), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	uri := params.TextDocument.URI
	doc := s.lookup(uri)
	if doc == nil {
		return nil, nil
	}
	word := extractWord(doc.text, params.Position)
	if loc := definition(uri, doc, word); loc != nil {
		return *loc, nil
	}
	return nil, nil
}

func (s *LspServer) textDocumentReferences(ctx *glsp.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	uri := params.TextDocument.URI
	doc := s.lookup(uri)
	if doc == nil {
		return nil, nil
	}
	word := extractWord(doc.text, params.Position)
	return references(uri, doc, word, params.Context.IncludeDeclaration), nil
}

func (s *LspServer) textDocumentDocumentSymbol(ctx *glsp.Context, params *protocol.DocumentSymbolParams) (any, error) {
	doc := s.lookup(params.TextDocument.URI)
	if doc == nil {
		return nil, nil
	}
	return documentSymbols(doc), nil
}

// --- Tree-backed logic ---

// diagnostics converts the document's error, if any, into one diagnostic
// spanning the token at the error position.
func diagnostics(doc *document) []protocol.Diagnostic {
	diags := []protocol.Diagnostic{}
	if doc.err == nil {
		return diags
	}

	var cerr *compiler.Error
	msg := doc.err.Error()
	var rng protocol.Range
	if errors.As(doc.err, &cerr) {
		msg = cerr.Msg
		rng = tokenRange(doc.text, cerr.Pos)
	}

	severity := protocol.DiagnosticSeverityError
	source := lspName
	diags = append(diags, protocol.Diagnostic{
		Range:    rng,
		Severity: &severity,
		Source:   &source,
		Message:  msg,
	})
	return diags
}

func complete(doc *document, prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	add := func(label, detail string, kind protocol.CompletionItemKind) {
		if !strings.HasPrefix(label, prefix) {
			return
		}
		items = append(items, protocol.CompletionItem{
			Label:      label,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &label,
		})
	}

	for _, kw := range keywords {
		add(kw, "keyword", protocol.CompletionItemKindKeyword)
	}
	add("size", "size(string str) : int", protocol.CompletionItemKindFunction)
	if doc.prog != nil {
		for _, fn := range doc.prog.Functions() {
			add(fn.Name, signature(fn), protocol.CompletionItemKindFunction)
		}
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Label < items[j].Label })
	return items
}

func hover(doc *document, word string) *protocol.Hover {
	var b strings.Builder
	if fn := findFunction(doc, word); fn != nil {
		fmt.Fprintf(&b, "```tubular\nfunction %s\n```\n\n", signature(fn))
		fmt.Fprintf(&b, "Exported as `%s`.", fn.Name)
	} else if word == "size" {
		b.WriteString("```tubular\nfunction size(string str) : int\n```\n\n")
		b.WriteString("Runtime builtin: length of a string, not counting the terminator.")
	} else {
		return nil
	}

	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: b.String(),
		},
	}
}

func definition(uri protocol.DocumentUri, doc *document, word string) *protocol.Location {
	fn := findFunction(doc, word)
	if fn == nil {
		return nil
	}
	return &protocol.Location{URI: uri, Range: nameRange(doc.text, fn)}
}

// references lists the calls to function word, optionally with its
// definition first.
func references(uri protocol.DocumentUri, doc *document, word string, withDecl bool) []protocol.Location {
	var locations []protocol.Location
	if doc.prog == nil || word == "" {
		return locations
	}
	if withDecl {
		if loc := definition(uri, doc, word); loc != nil {
			locations = append(locations, *loc)
		}
	}
	walk(doc.prog, func(n compiler.Node) {
		if call, ok := n.(*compiler.Call); ok && call.Name == word {
			locations = append(locations, protocol.Location{URI: uri, Range: tokenRange(doc.text, call.Pos())})
		}
	})
	return locations
}

func documentSymbols(doc *document) []protocol.DocumentSymbol {
	symbols := []protocol.DocumentSymbol{}
	if doc.prog == nil {
		return symbols
	}
	for _, fn := range doc.prog.Functions() {
		detail := signature(fn)
		sym := protocol.DocumentSymbol{
			Name:           fn.Name,
			Detail:         &detail,
			Kind:           protocol.SymbolKindFunction,
			Range:          tokenRange(doc.text, fn.Pos()),
			SelectionRange: nameRange(doc.text, fn),
		}
		for _, p := range fn.Params {
			typ := p.Type.String()
			sym.Children = append(sym.Children, protocol.DocumentSymbol{
				Name:           p.Name,
				Detail:         &typ,
				Kind:           protocol.SymbolKindVariable,
				Range:          tokenRange(doc.text, p.Pos),
				SelectionRange: tokenRange(doc.text, p.Pos),
			})
		}
		symbols = append(symbols, sym)
	}
	return symbols
}

func findFunction(doc *document, name string) *compiler.Function {
	if doc.prog == nil {
		return nil
	}
	for _, fn := range doc.prog.Functions() {
		if fn.Name == name {
			return fn
		}
	}
	return nil
}

// signature renders "name(int a, char b) : int".
func signature(fn *compiler.Function) string {
	params := make([]string, len(fn.Params))
	for i, p := range fn.Params {
		params[i] = p.Type.String() + " " + p.Name
	}
	return fmt.Sprintf("%s(%s) : %s", fn.Name, strings.Join(params, ", "), fn.Return)
}

// walk visits n and its descendants in pre-order.
func walk(n compiler.Node, visit func(compiler.Node)) {
	visit(n)
	if p, ok := n.(interface{ Children() []compiler.Node }); ok {
		for _, c := range p.Children() {
			walk(c, visit)
		}
	}
}

// --- Text helpers ---

func lineAt(text string, line int) (string, bool) {
	lines := strings.Split(text, "\n")
	if line < 0 || line >= len(lines) {
		return "", false
	}
	return lines[line], true
}

func isWordByte(ch byte) bool {
	return ch == '_' || ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch >= '0' && ch <= '9'
}

// tokenRange covers the word starting at pos, or one character when pos is
// not on a word.
func tokenRange(text string, pos compiler.FilePos) protocol.Range {
	line, col := pos.Line-1, pos.Column-1
	if line < 0 {
		line = 0
	}
	if col < 0 {
		col = 0
	}
	end := col + 1
	if l, ok := lineAt(text, line); ok && col < len(l) && isWordByte(l[col]) {
		end = col
		for end < len(l) && isWordByte(l[end]) {
			end++
		}
	}
	return protocol.Range{
		Start: protocol.Position{Line: protocol.UInteger(line), Character: protocol.UInteger(col)},
		End:   protocol.Position{Line: protocol.UInteger(line), Character: protocol.UInteger(end)},
	}
}

// nameRange covers the name of fn, which follows the keyword at fn.Pos().
func nameRange(text string, fn *compiler.Function) protocol.Range {
	pos := fn.Pos()
	skip := pos.Column - 1 + len("function")
	if l, ok := lineAt(text, pos.Line-1); ok && pos.Column >= 1 && skip <= len(l) {
		if i := strings.Index(l[skip:], fn.Name); i >= 0 {
			pos.Column += len("function") + i
		}
	}
	return tokenRange(text, pos)
}

// extractPrefix returns the word fragment before the cursor.
func extractPrefix(text string, pos protocol.Position) string {
	line, ok := lineAt(text, int(pos.Line))
	if !ok {
		return ""
	}
	col := min(int(pos.Character), len(line))
	start := col
	for start > 0 && isWordByte(line[start-1]) {
		start--
	}
	return line[start:col]
}

// extractWord returns the whole word under the cursor.
func extractWord(text string, pos protocol.Position) string {
	line, ok := lineAt(text, int(pos.Line))
	if !ok {
		return ""
	}
	col := min(int(pos.Character), len(line))
	start, end := col, col
	for start > 0 && isWordByte(line[start-1]) {
		start--
	}
	for end < len(line) && isWordByte(line[end]) {
		end++
	}
	return line[start:end]
}

func boolPtr(b bool) *bool {
	return &b
}
