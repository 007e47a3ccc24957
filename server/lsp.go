// Package server implements a language server for Lox source files. Every
// document is compiled into a private heap on each change; the resulting
// diagnostics are published to the editor and the token stream backs
// completion, hover, go-to-definition and references.
package server

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/colox/compiler"
	"github.com/chazu/colox/vm"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "colox-lsp"

var log = commonlog.GetLogger("colox.lsp")

// LspServer serves LSP editor features over stdio.
type LspServer struct {
	mu   sync.Mutex
	docs map[string]*document // URI → latest analysis

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server.
func NewLSP() *LspServer {
	s := &LspServer{
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

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
		TextDocumentReferences: s.textDocumentReferences,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	log.Infof("colox LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{}
	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true
	capabilities.ReferencesProvider = true

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
	s.mu.Lock()
	clear(s.docs)
	s.mu.Unlock()
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	doc := s.update(params.TextDocument.URI, params.TextDocument.Text)
	s.publishDiagnostics(ctx, doc)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			doc := s.update(params.TextDocument.URI, whole.Text)
			s.publishDiagnostics(ctx, doc)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	// Clear diagnostics for the closed document
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

// update analyzes text and stores the result as the current state of uri.
func (s *LspServer) update(uri protocol.DocumentUri, text string) *document {
	doc := analyze(uri, text)
	s.mu.Lock()
	s.docs[string(uri)] = doc
	s.mu.Unlock()
	log.Debugf("%s: %d tokens, %d diagnostics", uri, len(doc.tokens), len(doc.diagnostics))
	return doc
}

func (s *LspServer) document(uri protocol.DocumentUri) *document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[string(uri)]
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	doc := s.document(params.TextDocument.URI)
	if doc == nil {
		return nil, nil
	}

	prefix := extractPrefix(doc.text, params.Position)
	if prefix == "" {
		return nil, nil
	}
	return doc.complete(prefix), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	doc := s.document(params.TextDocument.URI)
	if doc == nil {
		return nil, nil
	}

	word := extractWord(doc.text, params.Position)
	if word == "" {
		return nil, nil
	}
	return doc.hover(word), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	doc := s.document(params.TextDocument.URI)
	if doc == nil {
		return nil, nil
	}

	word := extractWord(doc.text, params.Position)
	if word == "" {
		return nil, nil
	}
	if loc := doc.definition(word); loc != nil {
		return []protocol.Location{*loc}, nil
	}
	return nil, nil
}

func (s *LspServer) textDocumentReferences(ctx *glsp.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	doc := s.document(params.TextDocument.URI)
	if doc == nil {
		return nil, nil
	}

	word := extractWord(doc.text, params.Position)
	if word == "" {
		return nil, nil
	}
	return doc.references(word), nil
}

// --- Diagnostics ---

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, doc *document) {
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         doc.uri,
		Diagnostics: doc.diagnostics,
	})
}

// --- Document analysis ---

// declaration is a name introduced by `var` or `fun`, or a parameter.
type declaration struct {
	name   string
	kind   string // "var", "fun" or "param"
	params []string
	tok    compiler.Token
}

type document struct {
	uri         protocol.DocumentUri
	text        string
	lineStarts  []int
	tokens      []compiler.Token
	decls       []declaration
	diagnostics []protocol.Diagnostic
}

// analyze compiles text into a throwaway heap and indexes its tokens.
func analyze(uri protocol.DocumentUri, text string) *document {
	doc := &document{
		uri:         uri,
		text:        text,
		lineStarts:  lineStarts(text),
		tokens:      compiler.Tokenize(text),
		diagnostics: []protocol.Diagnostic{},
	}
	doc.decls = collectDeclarations(doc.tokens)

	heap := vm.NewHeap(nil)
	defer heap.Free()
	if _, err := compiler.Compile(text, heap); err != nil {
		severity := protocol.DiagnosticSeverityError
		source := lspName
		for _, d := range compiler.Diagnostics(err) {
			doc.diagnostics = append(doc.diagnostics, protocol.Diagnostic{
				Range:    doc.span(d.Offset, d.Length),
				Severity: &severity,
				Source:   &source,
				Message:  d.Message,
			})
		}
	}
	return doc
}

func collectDeclarations(tokens []compiler.Token) []declaration {
	var decls []declaration
	for i := 0; i+1 < len(tokens); i++ {
		name := tokens[i+1]
		if name.Type != compiler.TokenIdentifier {
			continue
		}
		switch tokens[i].Type {
		case compiler.TokenVar:
			decls = append(decls, declaration{name: name.Lexeme, kind: "var", tok: name})
		case compiler.TokenFun:
			fn := declaration{name: name.Lexeme, kind: "fun", tok: name}
			var params []declaration
			j := i + 2
			if j < len(tokens) && tokens[j].Type == compiler.TokenLeftParen {
				for j++; j < len(tokens) && tokens[j].Type != compiler.TokenRightParen; j++ {
					if tokens[j].Type == compiler.TokenIdentifier {
						fn.params = append(fn.params, tokens[j].Lexeme)
						params = append(params, declaration{name: tokens[j].Lexeme, kind: "param", tok: tokens[j]})
					}
				}
			}
			decls = append(decls, fn)
			decls = append(decls, params...)
		}
	}
	return decls
}

func (d *document) lookup(name string) *declaration {
	for i := range d.decls {
		if d.decls[i].name == name {
			return &d.decls[i]
		}
	}
	return nil
}

func (d *document) complete(prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	seen := make(map[string]bool)
	add := func(label, detail string, kind protocol.CompletionItemKind) {
		if seen[label] || !strings.HasPrefix(label, prefix) {
			return
		}
		seen[label] = true
		labelCopy, detailCopy := label, detail
		items = append(items, protocol.CompletionItem{
			Label:      label,
			Kind:       &kind,
			Detail:     &detailCopy,
			InsertText: &labelCopy,
		})
	}

	for _, decl := range d.decls {
		switch decl.kind {
		case "fun":
			add(decl.name, signature(decl), protocol.CompletionItemKindFunction)
		default:
			add(decl.name, decl.kind, protocol.CompletionItemKindVariable)
		}
	}
	for _, name := range vm.NativeNames() {
		add(name, "native", protocol.CompletionItemKindFunction)
	}
	for _, kw := range compiler.Keywords() {
		add(kw, "keyword", protocol.CompletionItemKindKeyword)
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].Label < items[j].Label })
	return items
}

func (d *document) hover(word string) *protocol.Hover {
	var value string
	switch decl := d.lookup(word); {
	case decl != nil && decl.kind == "fun":
		value = fmt.Sprintf("```lox\n%s\n```\n\nDeclared on line %d.", signature(*decl), decl.tok.Line)
	case decl != nil:
		value = fmt.Sprintf("`%s %s`\n\nDeclared on line %d.", decl.kind, decl.name, decl.tok.Line)
	case isNative(word):
		value = fmt.Sprintf("`%s()`: native function", word)
	case compiler.IsKeyword(word):
		value = fmt.Sprintf("`%s`: keyword", word)
	default:
		return nil
	}

	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: value,
		},
	}
}

func (d *document) definition(word string) *protocol.Location {
	decl := d.lookup(word)
	if decl == nil {
		return nil
	}
	return &protocol.Location{
		URI:   d.uri,
		Range: d.span(decl.tok.Offset, len(decl.tok.Lexeme)),
	}
}

func (d *document) references(word string) []protocol.Location {
	var locations []protocol.Location
	for _, tok := range d.tokens {
		if tok.Type == compiler.TokenIdentifier && tok.Lexeme == word {
			locations = append(locations, protocol.Location{
				URI:   d.uri,
				Range: d.span(tok.Offset, len(tok.Lexeme)),
			})
		}
	}
	return locations
}

func signature(decl declaration) string {
	return fmt.Sprintf("fun %s(%s)", decl.name, strings.Join(decl.params, ", "))
}

func isNative(name string) bool {
	for _, n := range vm.NativeNames() {
		if n == name {
			return true
		}
	}
	return false
}

// --- Position helpers ---

func lineStarts(text string) []int {
	starts := []int{0}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

// position converts a byte offset to an LSP position. Columns count bytes,
// which matches UTF-16 units for ASCII source.
func (d *document) position(offset int) protocol.Position {
	if offset > len(d.text) {
		offset = len(d.text)
	}
	line := sort.Search(len(d.lineStarts), func(i int) bool { return d.lineStarts[i] > offset }) - 1
	return protocol.Position{
		Line:      protocol.UInteger(line),
		Character: protocol.UInteger(offset - d.lineStarts[line]),
	}
}

func (d *document) span(offset, length int) protocol.Range {
	return protocol.Range{
		Start: d.position(offset),
		End:   d.position(offset + length),
	}
}

// --- Text extraction helpers ---

// extractPrefix returns the identifier fragment before the cursor for
// completion.
func extractPrefix(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	// Walk backwards from cursor to find the start of the identifier
	start := col
	for start > 0 && isIdentChar(line[start-1]) {
		start--
	}

	return line[start:col]
}

// extractWord returns the full identifier under the cursor.
func extractWord(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	start := col
	for start > 0 && isIdentChar(line[start-1]) {
		start--
	}
	end := col
	for end < len(line) && isIdentChar(line[end]) {
		end++
	}

	return line[start:end]
}

func isIdentChar(c byte) bool {
	r := rune(c)
	return r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_')
}

func boolPtr(b bool) *bool {
	return &b
}
