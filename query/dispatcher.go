// Package query maps IPC methods onto snapshot reads and analyzer calls,
// shaping results into the wire envelopes.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/roslynquery/roslynquery/analyzer"
	"github.com/roslynquery/roslynquery/protocol"
	"github.com/roslynquery/roslynquery/workspace"
)

// Dispatcher executes one request against the current workspace snapshot.
// It is safe for concurrent use; every call acquires its own snapshot
// handle.
type Dispatcher struct {
	manager     *workspace.Manager
	idleTimeout time.Duration
	idleFor     func() time.Duration
	shutdown    func()
}

// New creates a dispatcher. idleFor reports how long the daemon has been
// idle (for ping); shutdown initiates a graceful stop and is invoked only
// after the shutdown reply has been flushed.
func New(manager *workspace.Manager, idleTimeout time.Duration, idleFor func() time.Duration, shutdown func()) *Dispatcher {
	return &Dispatcher{
		manager:     manager,
		idleTimeout: idleTimeout,
		idleFor:     idleFor,
		shutdown:    shutdown,
	}
}

// Handle dispatches one request. The returned after func, when non-nil, must
// be invoked once the response has been written to the client.
func (d *Dispatcher) Handle(ctx context.Context, req *protocol.Request) (resp *protocol.Response, after func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Panic handling %s: %v", req.Method, r)
			resp = protocol.NewErrorResponse(req.ID, protocol.CodeInternalError, "internal error")
			after = nil
		}
	}()

	if req.Method == "" {
		return protocol.NewErrorResponse(req.ID, protocol.CodeInvalidRequest, "missing method"), nil
	}

	var result any
	var derr *protocol.ResponseError

	switch req.Method {
	case "definition":
		result, derr = d.definition(ctx, req.Params, false)
	case "base-definition":
		result, derr = d.definition(ctx, req.Params, true)
	case "implementations":
		result, derr = d.implementations(ctx, req.Params)
	case "references":
		result, derr = d.references(ctx, req.Params)
	case "callers":
		result, derr = d.callers(ctx, req.Params)
	case "callees":
		result, derr = d.callees(ctx, req.Params)
	case "symbol":
		result, derr = d.symbol(ctx, req.Params)
	case "diagnostics":
		result, derr = d.diagnostics(ctx, req.Params)
	case "ping":
		result = d.ping()
	case "shutdown":
		result = protocol.ShutdownResult{Status: "shutting_down"}
		after = d.shutdown
	default:
		return protocol.NewErrorResponse(req.ID, protocol.CodeMethodNotFound,
			fmt.Sprintf("unknown method %q", req.Method)), nil
	}

	if derr != nil {
		return &protocol.Response{JSONRPC: protocol.Version, ID: req.ID, Error: derr}, nil
	}

	out, err := protocol.NewResponse(req.ID, result)
	if err != nil {
		log.Printf("Failed to encode %s result: %v", req.Method, err)
		return protocol.NewErrorResponse(req.ID, protocol.CodeInternalError, "failed to encode result"), nil
	}
	return out, after
}

func (d *Dispatcher) ping() protocol.PingResult {
	idle := time.Duration(0)
	if d.idleFor != nil {
		idle = d.idleFor()
	}
	return protocol.PingResult{
		Status:             "ok",
		IdleTimeoutMinutes: int(d.idleTimeout / time.Minute),
		IdleSeconds:        idle.Seconds(),
	}
}

// positionQuery resolves the shared prelude of every position method:
// snapshot acquisition, document lookup and symbol resolution; callers
// decode the params first. The callback runs with the handle held.
func (d *Dispatcher) positionQuery(ctx context.Context, pos protocol.PositionParams,
	run func(snap *workspace.Snapshot, st *analyzer.State, sym *analyzer.Symbol) any) (any, *protocol.ResponseError) {

	handle, err := d.manager.Current()
	if err != nil {
		return nil, &protocol.ResponseError{Code: protocol.CodeInternalError, Message: err.Error()}
	}
	defer handle.Release()

	snap := handle.Snapshot()
	st := snap.State()

	canonical, err := workspace.ResolveDocumentPath(snap.Root, pos.File)
	if err != nil || !snap.HasDocument(canonical) {
		return protocol.DefinitionResult{
			Envelope: protocol.NotFound(protocol.ErrDocumentNotFound,
				fmt.Sprintf("document not in workspace: %s", pos.File)),
		}, nil
	}

	sym, err := st.SymbolAt(canonical, pos.Line, pos.Column)
	if err != nil {
		if errors.Is(err, analyzer.ErrNoSymbol) {
			return protocol.DefinitionResult{
				Envelope: protocol.NotFound(protocol.ErrSymbolNotFound,
					fmt.Sprintf("no symbol at %s:%d:%d", pos.File, pos.Line, pos.Column)),
			}, nil
		}
		return nil, &protocol.ResponseError{Code: protocol.CodeInternalError, Message: err.Error()}
	}

	return run(snap, st, sym), nil
}

func decodeParams[T any](raw json.RawMessage, out *T) *protocol.ResponseError {
	if len(raw) == 0 {
		return &protocol.ResponseError{Code: protocol.CodeInvalidParams, Message: "missing params"}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &protocol.ResponseError{Code: protocol.CodeInvalidParams,
			Message: fmt.Sprintf("invalid params: %v", err)}
	}
	return nil
}

func decodePosition(raw json.RawMessage) (protocol.PositionParams, *protocol.ResponseError) {
	var pos protocol.PositionParams
	if derr := decodeParams(raw, &pos); derr != nil {
		return pos, derr
	}
	if pos.File == "" || pos.Line < 1 || pos.Column < 1 {
		return pos, &protocol.ResponseError{Code: protocol.CodeInvalidParams,
			Message: "params require file, line >= 1 and column >= 1"}
	}
	return pos, nil
}

func (d *Dispatcher) definition(ctx context.Context, raw json.RawMessage, base bool) (any, *protocol.ResponseError) {
	pos, derr := decodePosition(raw)
	if derr != nil {
		return nil, derr
	}

	return d.positionQuery(ctx, pos, func(snap *workspace.Snapshot, st *analyzer.State, sym *analyzer.Symbol) any {
		target := sym
		if base {
			baseSym, err := st.BaseDefinition(sym)
			if err != nil {
				return protocol.DefinitionResult{
					Envelope: protocol.NotFound(protocol.ErrSymbolNotFound,
						fmt.Sprintf("%s overrides or implements nothing", sym.Name)),
				}
			}
			target = baseSym
		}

		loc := symbolLocation(snap.Root, target)
		return protocol.DefinitionResult{
			Envelope:   protocol.OK(),
			Location:   &loc,
			SymbolName: target.Name,
			SymbolKind: target.Kind,
		}
	})
}

func (d *Dispatcher) implementations(ctx context.Context, raw json.RawMessage) (any, *protocol.ResponseError) {
	pos, derr := decodePosition(raw)
	if derr != nil {
		return nil, derr
	}

	return d.positionQuery(ctx, pos, func(snap *workspace.Snapshot, st *analyzer.State, sym *analyzer.Symbol) any {
		locations := make([]protocol.Location, 0)
		for _, impl := range st.Implementations(sym) {
			locations = append(locations, symbolLocation(snap.Root, impl))
		}
		return protocol.LocationsResult{
			Envelope:   protocol.OK(),
			SymbolName: sym.Name,
			Locations:  locations,
		}
	})
}

func (d *Dispatcher) references(ctx context.Context, raw json.RawMessage) (any, *protocol.ResponseError) {
	var params protocol.ReferencesParams
	if derr := decodeParams(raw, &params); derr != nil {
		return nil, derr
	}
	pos, derr := decodePosition(raw)
	if derr != nil {
		return nil, derr
	}

	return d.positionQuery(ctx, pos, func(snap *workspace.Snapshot, st *analyzer.State, sym *analyzer.Symbol) any {
		locations := make([]protocol.Location, 0)
		if params.IncludeDefinition {
			for _, decl := range st.Declarations(sym) {
				locations = append(locations, symbolLocation(snap.Root, decl))
			}
		}
		for _, ref := range st.References(sym) {
			locations = append(locations, referenceLocation(snap.Root, ref))
		}
		return protocol.LocationsResult{
			Envelope:   protocol.OK(),
			SymbolName: sym.Name,
			Locations:  locations,
		}
	})
}

func (d *Dispatcher) callers(ctx context.Context, raw json.RawMessage) (any, *protocol.ResponseError) {
	pos, derr := decodePosition(raw)
	if derr != nil {
		return nil, derr
	}

	return d.positionQuery(ctx, pos, func(snap *workspace.Snapshot, st *analyzer.State, sym *analyzer.Symbol) any {
		locations := make([]protocol.Location, 0)
		for _, ref := range st.Callers(sym) {
			locations = append(locations, referenceLocation(snap.Root, ref))
		}
		return protocol.LocationsResult{
			Envelope:   protocol.OK(),
			SymbolName: sym.Name,
			Locations:  locations,
		}
	})
}

func (d *Dispatcher) callees(ctx context.Context, raw json.RawMessage) (any, *protocol.ResponseError) {
	pos, derr := decodePosition(raw)
	if derr != nil {
		return nil, derr
	}

	return d.positionQuery(ctx, pos, func(snap *workspace.Snapshot, st *analyzer.State, sym *analyzer.Symbol) any {
		locations := make([]protocol.Location, 0)
		seen := make(map[protocol.Location]bool)
		for _, callee := range st.Callees(sym) {
			loc := symbolLocation(snap.Root, callee)
			if seen[loc] {
				continue
			}
			seen[loc] = true
			locations = append(locations, loc)
		}
		return protocol.LocationsResult{
			Envelope:   protocol.OK(),
			SymbolName: sym.Name,
			Locations:  locations,
		}
	})
}

func (d *Dispatcher) symbol(ctx context.Context, raw json.RawMessage) (any, *protocol.ResponseError) {
	pos, derr := decodePosition(raw)
	if derr != nil {
		return nil, derr
	}

	return d.positionQuery(ctx, pos, func(snap *workspace.Snapshot, st *analyzer.State, sym *analyzer.Symbol) any {
		loc := symbolLocation(snap.Root, sym)
		modifiers := sym.Modifiers
		if modifiers == nil {
			modifiers = []string{}
		}
		return protocol.SymbolResult{
			Envelope: protocol.OK(),
			SymbolDescriptor: protocol.SymbolDescriptor{
				Name:                sym.Name,
				Kind:                sym.Kind,
				FullName:            sym.FullName,
				Signature:           sym.Signature,
				Documentation:       sym.Documentation,
				ContainingType:      sym.ContainingType,
				ContainingNamespace: sym.ContainingNamespace,
				ReturnType:          sym.ReturnType,
				Accessibility:       sym.Accessibility,
				Modifiers:           modifiers,
				Location:            &loc,
			},
		}
	})
}

func (d *Dispatcher) diagnostics(ctx context.Context, raw json.RawMessage) (any, *protocol.ResponseError) {
	params := protocol.DiagnosticsParams{}
	if len(raw) > 0 {
		if derr := decodeParams(raw, &params); derr != nil {
			return nil, derr
		}
	}
	includeWarnings := params.IncludeWarnings == nil || *params.IncludeWarnings
	includeInfo := params.IncludeInfo != nil && *params.IncludeInfo

	handle, err := d.manager.Current()
	if err != nil {
		return nil, &protocol.ResponseError{Code: protocol.CodeInternalError, Message: err.Error()}
	}
	defer handle.Release()

	snap := handle.Snapshot()
	st := snap.State()

	file := ""
	if params.File != "" {
		canonical, err := workspace.ResolveDocumentPath(snap.Root, params.File)
		if err != nil || !snap.HasDocument(canonical) {
			return protocol.DiagnosticsResult{
				Envelope: protocol.NotFound(protocol.ErrDocumentNotFound,
					fmt.Sprintf("document not in workspace: %s", params.File)),
				Diagnostics: []protocol.Diagnostic{},
			}, nil
		}
		file = canonical
	}

	all := st.Diagnostics(file)
	result := protocol.DiagnosticsResult{
		Envelope:    protocol.OK(),
		Diagnostics: make([]protocol.Diagnostic, 0, len(all)),
	}

	// Counts cover everything the analyzer reported; the list honors the
	// severity filters.
	for _, diag := range all {
		switch diag.Severity {
		case analyzer.SeverityError:
			result.ErrorCount++
		case analyzer.SeverityWarning:
			result.WarningCount++
		case analyzer.SeverityInfo:
			result.InfoCount++
		}

		if diag.Severity == analyzer.SeverityWarning && !includeWarnings {
			continue
		}
		if diag.Severity == analyzer.SeverityInfo && !includeInfo {
			continue
		}

		loc := protocol.Location{
			File:      workspace.DisplayPath(snap.Root, diag.File),
			Line:      diag.Line,
			Column:    diag.Column,
			EndLine:   diag.EndLine,
			EndColumn: diag.EndColumn,
		}
		result.Diagnostics = append(result.Diagnostics, protocol.Diagnostic{
			ID:       diag.ID,
			Severity: diag.Severity,
			Message:  diag.Message,
			Location: &loc,
		})
	}

	return result, nil
}

func symbolLocation(root string, sym *analyzer.Symbol) protocol.Location {
	return protocol.Location{
		File:      workspace.DisplayPath(root, sym.File),
		Line:      sym.Line,
		Column:    sym.Column,
		EndLine:   sym.EndLine,
		EndColumn: sym.EndColumn,
	}
}

func referenceLocation(root string, ref *analyzer.Reference) protocol.Location {
	return protocol.Location{
		File:      workspace.DisplayPath(root, ref.File),
		Line:      ref.Line,
		Column:    ref.Column,
		EndLine:   ref.EndLine,
		EndColumn: ref.EndColumn,
	}
}
