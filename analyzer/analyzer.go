// Package analyzer builds and queries the semantic model behind a workspace
// snapshot. Documents are parsed with tree-sitter's C# grammar into an
// immutable per-snapshot State holding symbol declarations, identifier
// references, inheritance edges and syntax diagnostics. States share
// unchanged per-document entries across incremental updates; an entry's
// parse tree is released only when the last State referencing it is closed.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/csharp"
)

// ErrNotInitialized is returned when Build is called before Init.
var ErrNotInitialized = errors.New("analyzer not initialized (call analyzer.Init first)")

// ErrNoSymbol is returned when no symbol can be resolved at a position.
var ErrNoSymbol = errors.New("no symbol at position")

var (
	initOnce sync.Once
	language atomic.Pointer[sitter.Language]
)

// Init performs the one-time language registration. It must complete before
// any other function in this package is called; the daemon supervisor calls
// it in its own stack frame before constructing the snapshot manager.
func Init() {
	initOnce.Do(func() {
		language.Store(csharp.GetLanguage())
	})
}

// Initialized reports whether Init has completed.
func Initialized() bool {
	return language.Load() != nil
}

func newParser() (*sitter.Parser, error) {
	lang := language.Load()
	if lang == nil {
		return nil, ErrNotInitialized
	}
	p := sitter.NewParser()
	p.SetLanguage(lang)
	return p, nil
}

// Symbol is a declared entity with the metadata clients can ask for.
// Line/Column point at the declaration's name token, 1-based; EndLine/
// EndColumn close the name span. ExtentEndLine closes the whole declaration.
type Symbol struct {
	Name                string
	Kind                string
	FullName            string
	File                string
	Line                int
	Column              int
	EndLine             int
	EndColumn           int
	ExtentEndLine       int
	Signature           string
	Documentation       string
	ContainingType      string
	ContainingNamespace string
	ReturnType          string
	Accessibility       string
	Modifiers           []string
	BaseTypes           []string
}

// HasModifier reports whether the declaration carries the given modifier.
func (s *Symbol) HasModifier(m string) bool {
	for _, mod := range s.Modifiers {
		if mod == m {
			return true
		}
	}
	return false
}

// IsType reports whether the symbol declares a type rather than a member.
func (s *Symbol) IsType() bool {
	switch s.Kind {
	case KindClass, KindInterface, KindStruct, KindRecord, KindEnum, KindDelegate:
		return true
	}
	return false
}

// Symbol kinds.
const (
	KindClass       = "class"
	KindInterface   = "interface"
	KindStruct      = "struct"
	KindRecord      = "record"
	KindEnum        = "enum"
	KindEnumMember  = "enum_member"
	KindDelegate    = "delegate"
	KindMethod      = "method"
	KindConstructor = "constructor"
	KindProperty    = "property"
	KindField       = "field"
	KindEvent       = "event"
	KindNamespace   = "namespace"
)

// Reference is one identifier usage site.
type Reference struct {
	Name       string
	File       string
	Line       int
	Column     int
	EndLine    int
	EndColumn  int
	Invocation bool   // usage is the callee of an invocation or object creation
	DeclName   bool   // usage is the name token of a declaration
	Caller     string // full name of the containing member, "" at type or file level
}

// Diagnostic is a parse-level finding for one document.
type Diagnostic struct {
	ID        string
	Severity  string
	Message   string
	File      string
	Line      int
	Column    int
	EndLine   int
	EndColumn int
}

// Diagnostic severities, mirroring the wire values.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// fileEntry holds everything extracted from one document plus the retained
// parse tree. Entries are shared between consecutive States; refs counts the
// States referencing the entry and the tree is closed at zero.
type fileEntry struct {
	path        string
	text        []byte
	tree        *sitter.Tree
	symbols     []*Symbol
	refs        []*Reference
	diagnostics []Diagnostic

	refcount atomic.Int32
}

func (e *fileEntry) retain() {
	e.refcount.Add(1)
}

func (e *fileEntry) release() {
	if e.refcount.Add(-1) == 0 {
		if e.tree != nil {
			e.tree.Close()
			e.tree = nil
		}
	}
}

// State is an immutable semantic index over one set of documents. It is safe
// for concurrent readers. Close releases the document entries; the State must
// not be used afterwards.
type State struct {
	entries    map[string]*fileEntry
	byName     map[string][]*Symbol
	byFullName map[string][]*Symbol

	closed atomic.Bool
}

// Build parses all documents and constructs a fresh State. The docs map is
// keyed by canonical document path.
func Build(ctx context.Context, docs map[string]string) (*State, error) {
	if !Initialized() {
		return nil, ErrNotInitialized
	}

	entries := make(map[string]*fileEntry, len(docs))

	paths := make([]string, 0, len(docs))
	for p := range docs {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			releaseAll(entries)
			return nil, err
		}
		entry, err := parseDocument(ctx, path, docs[path])
		if err != nil {
			releaseAll(entries)
			return nil, fmt.Errorf("failed to analyze %s: %w", path, err)
		}
		entries[path] = entry
	}

	return newState(entries), nil
}

// Update re-analyzes a single document and returns a new State sharing every
// other entry with the receiver. The receiver remains valid.
func (s *State) Update(ctx context.Context, path, text string) (*State, error) {
	if !Initialized() {
		return nil, ErrNotInitialized
	}

	entry, err := parseDocument(ctx, path, text)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze %s: %w", path, err)
	}

	entries := make(map[string]*fileEntry, len(s.entries))
	for p, e := range s.entries {
		if p == path {
			continue
		}
		e.retain()
		entries[p] = e
	}
	entries[path] = entry

	return newState(entries), nil
}

// Remove returns a new State without the given document. Removing an unknown
// path returns a State equivalent to the receiver.
func (s *State) Remove(ctx context.Context, path string) (*State, error) {
	entries := make(map[string]*fileEntry, len(s.entries))
	for p, e := range s.entries {
		if p == path {
			continue
		}
		e.retain()
		entries[p] = e
	}
	return newState(entries), nil
}

func newState(entries map[string]*fileEntry) *State {
	st := &State{
		entries:    entries,
		byName:     make(map[string][]*Symbol),
		byFullName: make(map[string][]*Symbol),
	}

	paths := make([]string, 0, len(entries))
	for p := range entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		for _, sym := range entries[p].symbols {
			st.byName[sym.Name] = append(st.byName[sym.Name], sym)
			st.byFullName[sym.FullName] = append(st.byFullName[sym.FullName], sym)
		}
	}
	return st
}

func releaseAll(entries map[string]*fileEntry) {
	for _, e := range entries {
		e.release()
	}
}

// Close releases the per-document entries. Idempotent.
func (s *State) Close() {
	if s == nil || !s.closed.CompareAndSwap(false, true) {
		return
	}
	releaseAll(s.entries)
}

// HasDocument reports whether path is part of this State.
func (s *State) HasDocument(path string) bool {
	_, ok := s.entries[path]
	return ok
}

// DocumentCount returns the number of analyzed documents.
func (s *State) DocumentCount() int {
	return len(s.entries)
}

// DocumentText returns the analyzed text of a document.
func (s *State) DocumentText(path string) (string, bool) {
	e, ok := s.entries[path]
	if !ok {
		return "", false
	}
	return string(e.text), true
}

func parseDocument(ctx context.Context, path, text string) (*fileEntry, error) {
	parser, err := newParser()
	if err != nil {
		return nil, err
	}

	content := []byte(text)
	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse: %w", err)
	}

	entry := &fileEntry{
		path: path,
		text: content,
		tree: tree,
	}
	entry.refcount.Store(1)

	ext := newExtraction(path, content)
	ext.walk(tree.RootNode())
	entry.symbols = ext.symbols
	entry.refs = ext.refs
	entry.diagnostics = ext.diagnostics

	return entry, nil
}
