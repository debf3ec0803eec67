// Package server provides a language server for clox programs.
package server

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode/utf16"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/cthuloops/clox/pkg/bytecode"
	"github.com/cthuloops/clox/pkg/value"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "clox-lsp"

var log = commonlog.GetLogger("clox.lsp")

// LspServer checks open documents with the assembler and answers hover
// and completion requests.
type LspServer struct {
	opts bytecode.AssembleOptions

	mu   sync.Mutex
	docs map[string]string // URI → full document content

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server. opts are used when assembling documents
// for diagnostics.
func NewLSP(opts bytecode.AssembleOptions) *LspServer {
	s := &LspServer{
		opts:    opts,
		docs:    make(map[string]string),
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
	log.Infof("clox LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{}
	capabilities.HoverProvider = true

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
	uri := params.TextDocument.URI
	text := params.TextDocument.Text

	s.mu.Lock()
	s.docs[string(uri)] = text
	s.mu.Unlock()

	s.publishDiagnostics(ctx, uri, text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.mu.Lock()
			s.docs[string(uri)] = whole.Text
			s.mu.Unlock()

			s.publishDiagnostics(ctx, uri, whole.Text)
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

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	s.mu.Lock()
	text := s.docs[string(params.TextDocument.URI)]
	s.mu.Unlock()

	return complete(extractPrefix(text, params.Position)), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	s.mu.Lock()
	text := s.docs[string(params.TextDocument.URI)]
	s.mu.Unlock()

	return hover(extractWord(text, params.Position)), nil
}

// complete returns the operator words starting with prefix.
func complete(prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	for _, word := range bytecode.Words() {
		if !strings.HasPrefix(word, strings.ToLower(prefix)) {
			continue
		}
		op, _ := bytecode.LookupWord(word)
		kind := protocol.CompletionItemKindFunction
		if op.IsArithmetic() {
			kind = protocol.CompletionItemKindOperator
		}
		detail := op.String()
		items = append(items, protocol.CompletionItem{
			Label:  word,
			Kind:   &kind,
			Detail: &detail,
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Label < items[j].Label })
	return items
}

// hover describes an operator word or a number literal.
func hover(word string) *protocol.Hover {
	if word == "" {
		return nil
	}

	var md string
	if op, ok := bytecode.LookupWord(word); ok {
		info := bytecode.GetOpcodeInfo(op)
		md = fmt.Sprintf("**%s** `%s`\n\npops %d, pushes %d", word, info.Name, info.StackPop, info.StackPush)
	} else if f, err := strconv.ParseFloat(word, 64); err == nil {
		md = fmt.Sprintf("constant `%s`", value.Format(value.Value(f)))
	} else {
		return nil
	}

	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: md,
		},
	}
}

// --- Diagnostics ---

// diagnose assembles text and converts a failure into a diagnostic.
func (s *LspServer) diagnose(text string) []protocol.Diagnostic {
	c, err := bytecode.Assemble(text, s.opts)
	if err == nil {
		c.Free()
		return []protocol.Diagnostic{}
	}

	rng := protocol.Range{}
	var aerr *bytecode.AssembleError
	if errors.As(err, &aerr) {
		line := max(aerr.Line-1, 0)
		var start, end protocol.UInteger
		if lines := strings.Split(text, "\n"); aerr.Token != "" && line < len(lines) {
			// Column is a byte offset; LSP counts UTF-16 units.
			prefix := lines[line][:min(max(aerr.Column-1, 0), len(lines[line]))]
			start = utf16Len(prefix)
			end = start + utf16Len(aerr.Token)
		}
		rng = protocol.Range{
			Start: protocol.Position{Line: protocol.UInteger(line), Character: start},
			End:   protocol.Position{Line: protocol.UInteger(line), Character: end},
		}
	}

	severity := protocol.DiagnosticSeverityError
	source := lspName
	return []protocol.Diagnostic{{
		Range:    rng,
		Severity: &severity,
		Source:   &source,
		Message:  err.Error(),
	}}
}

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	diagnostics := s.diagnose(text)
	log.Debugf("%s: %d diagnostic(s)", uri, len(diagnostics))

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}

// --- Text extraction helpers ---

// isWordByte reports whether b can appear in an operator word or number.
func isWordByte(b byte) bool {
	return b != ' ' && b != '\t' && b != '\r' && b != ';'
}

// extractPrefix returns the word fragment before the cursor for completion.
func extractPrefix(text string, pos protocol.Position) string {
	line, col, ok := lineAt(text, pos)
	if !ok {
		return ""
	}

	// Walk backwards from cursor to find the start of the word
	start := col
	for start > 0 && isWordByte(line[start-1]) {
		start--
	}
	return line[start:col]
}

// extractWord returns the full word under the cursor.
func extractWord(text string, pos protocol.Position) string {
	line, col, ok := lineAt(text, pos)
	if !ok {
		return ""
	}

	start := col
	for start > 0 && isWordByte(line[start-1]) {
		start--
	}
	end := col
	for end < len(line) && isWordByte(line[end]) {
		end++
	}
	return line[start:end]
}

// lineAt returns the line pos points into, with the column clamped to it.
func lineAt(text string, pos protocol.Position) (string, int, bool) {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return "", 0, false
	}
	line := lines[pos.Line]
	col := byteOffset(line, pos.Character)
	// Comments hold no words.
	if i := strings.IndexByte(line, ';'); i >= 0 && col > i {
		return "", 0, false
	}
	return line, col, true
}

// utf16Len returns the length of s in UTF-16 code units.
func utf16Len(s string) protocol.UInteger {
	return protocol.UInteger(len(utf16.Encode([]rune(s))))
}

// byteOffset converts a UTF-16 character position on line to a byte
// offset, clamped to the line length.
func byteOffset(line string, character protocol.UInteger) int {
	units := protocol.UInteger(0)
	for i, r := range line {
		if units >= character {
			return i
		}
		units += protocol.UInteger(utf16.RuneLen(r))
	}
	return len(line)
}

func boolPtr(b bool) *bool {
	return &b
}
