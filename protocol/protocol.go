// Package protocol defines the wire types and framing for the roslyn-query
// IPC protocol. Messages are JSON-RPC 2.0 objects carried in length-prefixed
// frames over a local stream socket, one connection serving many
// request/response pairs.
package protocol

import "encoding/json"

// Version is the JSON-RPC protocol version carried on every message.
const Version = "2.0"

// JSON-RPC reserved error codes. Application-level outcomes such as
// "symbol not found" are NOT errors at this layer; they ride in the result
// envelope (see Envelope).
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Application error codes delivered inside a successful result envelope.
const (
	ErrDocumentNotFound = "document_not_found"
	ErrSymbolNotFound   = "symbol_not_found"
	ErrWorkspaceError   = "workspace_error"
)

// Request is a single JSON-RPC call. ID is an opaque correlator echoed
// verbatim in the response.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response carries either Result or Error, never both.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// ResponseError is a protocol-level failure (decode, dispatch, internal).
type ResponseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// NewResponse builds a success response, marshaling result into the Result
// field.
func NewResponse(id string, result any) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &Response{JSONRPC: Version, ID: id, Result: raw}, nil
}

// NewErrorResponse builds a protocol error response.
func NewErrorResponse(id string, code int, message string) *Response {
	return &Response{
		JSONRPC: Version,
		ID:      id,
		Error:   &ResponseError{Code: code, Message: message},
	}
}

// Position identifies a point in a source document. Line and Column are
// 1-based. File may be absolute or workspace-root-relative.
type Position struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

// Location is a position (optionally a span) rendered for clients. File is
// workspace-root-relative when the target lies beneath the root, otherwise
// the canonical absolute path.
type Location struct {
	File      string `json:"file"`
	Line      int    `json:"line"`
	Column    int    `json:"column"`
	EndLine   int    `json:"end_line,omitempty"`
	EndColumn int    `json:"end_column,omitempty"`
}

// SymbolDescriptor is the full metadata for a declared entity.
type SymbolDescriptor struct {
	Name                string    `json:"name"`
	Kind                string    `json:"kind"`
	FullName            string    `json:"full_name"`
	Signature           string    `json:"signature,omitempty"`
	Documentation       string    `json:"documentation,omitempty"`
	ContainingType      string    `json:"containing_type,omitempty"`
	ContainingNamespace string    `json:"containing_namespace,omitempty"`
	ReturnType          string    `json:"return_type,omitempty"`
	Accessibility       string    `json:"accessibility,omitempty"`
	Modifiers           []string  `json:"modifiers"`
	Location            *Location `json:"location,omitempty"`
}

// Diagnostic severity values.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// Diagnostic is a compiler message attached to an optional location.
type Diagnostic struct {
	ID       string    `json:"id"`
	Severity string    `json:"severity"`
	Message  string    `json:"message"`
	Location *Location `json:"location,omitempty"`
}

// Envelope is the shared prefix of every query result. Success false plus an
// application error code means "query ran, no result" and is deliberately a
// JSON-RPC success so clients can separate protocol faults from empty
// answers.
type Envelope struct {
	Success      bool   `json:"success"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// DefinitionResult answers definition and base-definition.
type DefinitionResult struct {
	Envelope
	Location   *Location `json:"location,omitempty"`
	SymbolName string    `json:"symbol_name,omitempty"`
	SymbolKind string    `json:"symbol_kind,omitempty"`
}

// LocationsResult answers implementations, references, callers and callees.
type LocationsResult struct {
	Envelope
	SymbolName string     `json:"symbol_name,omitempty"`
	Locations  []Location `json:"locations"`
}

// SymbolResult answers symbol.
type SymbolResult struct {
	Envelope
	SymbolDescriptor
}

// DiagnosticsResult answers diagnostics.
type DiagnosticsResult struct {
	Envelope
	Diagnostics  []Diagnostic `json:"diagnostics"`
	ErrorCount   int          `json:"error_count"`
	WarningCount int          `json:"warning_count"`
	InfoCount    int          `json:"info_count"`
}

// PingResult answers ping.
type PingResult struct {
	Status             string  `json:"status"`
	IdleTimeoutMinutes int     `json:"idle_timeout_minutes"`
	IdleSeconds        float64 `json:"idle_seconds"`
}

// ShutdownResult answers shutdown. The daemon flushes this reply before it
// begins stopping.
type ShutdownResult struct {
	Status string `json:"status"`
}

// PositionParams is the parameter shape shared by all position-based methods.
type PositionParams struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

// ReferencesParams extends PositionParams with the include-definition toggle.
type ReferencesParams struct {
	PositionParams
	IncludeDefinition bool `json:"include_definition"`
}

// DiagnosticsParams selects which diagnostics to return. File empty means
// the whole workspace.
type DiagnosticsParams struct {
	File            string `json:"file"`
	IncludeWarnings *bool  `json:"include_warnings,omitempty"`
	IncludeInfo     *bool  `json:"include_info,omitempty"`
}

// NotFound builds a failure envelope with the given application error code.
func NotFound(code, message string) Envelope {
	return Envelope{Success: false, ErrorCode: code, ErrorMessage: message}
}

// OK is the success envelope.
func OK() Envelope {
	return Envelope{Success: true}
}
