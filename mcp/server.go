// Package mcp exposes roslyn-query navigation as MCP (Model Context
// Protocol) tools so AI agents can query a workspace natively. Every tool
// proxies through the launcher to the per-workspace daemon, starting it on
// first use.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alpkeskin/gotoon"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/roslynquery/roslynquery/daemon"
	"github.com/roslynquery/roslynquery/protocol"
)

// Server wraps the MCP server bound to one workspace.
type Server struct {
	mcpServer     *server.MCPServer
	workspacePath string
}

// NewServer creates an MCP server for the workspace.
func NewServer(workspacePath string) *Server {
	s := &Server{
		workspacePath: workspacePath,
	}

	s.mcpServer = server.NewMCPServer(
		"roslyn-query",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	s.registerTools()
	return s
}

func positionTool(name, description string) mcp.Tool {
	return mcp.NewTool(name,
		mcp.WithDescription(description),
		mcp.WithString("file",
			mcp.Required(),
			mcp.Description("Source file, absolute or workspace-root-relative"),
		),
		mcp.WithNumber("line",
			mcp.Required(),
			mcp.Description("1-based line number"),
		),
		mcp.WithNumber("column",
			mcp.Required(),
			mcp.Description("1-based column number"),
		),
		mcp.WithString("format",
			mcp.Description("Output format: 'json' (default) or 'toon' (token-efficient)"),
		),
	)
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		positionTool("roslyn_definition",
			"Jump to the definition of the C# symbol at a position. Returns the declaration location with the symbol name and kind."),
		s.positionHandler("definition"))

	s.mcpServer.AddTool(
		positionTool("roslyn_base_definition",
			"Jump to the base of the C# symbol at a position: the overridden virtual/abstract member or the interface-declared member."),
		s.positionHandler("base-definition"))

	s.mcpServer.AddTool(
		positionTool("roslyn_implementations",
			"List implementations of the C# interface, type or member at a position."),
		s.positionHandler("implementations"))

	referencesTool := mcp.NewTool("roslyn_references",
		mcp.WithDescription("List all references to the C# symbol at a position. Useful before renaming or changing a signature."),
		mcp.WithString("file",
			mcp.Required(),
			mcp.Description("Source file, absolute or workspace-root-relative"),
		),
		mcp.WithNumber("line",
			mcp.Required(),
			mcp.Description("1-based line number"),
		),
		mcp.WithNumber("column",
			mcp.Required(),
			mcp.Description("1-based column number"),
		),
		mcp.WithBoolean("include_definition",
			mcp.Description("Prepend the definition location(s) to the list (default: false)"),
		),
		mcp.WithString("format",
			mcp.Description("Output format: 'json' (default) or 'toon' (token-efficient)"),
		),
	)
	s.mcpServer.AddTool(referencesTool, s.handleReferences)

	s.mcpServer.AddTool(
		positionTool("roslyn_callers",
			"List the call sites invoking the C# method at a position. Useful for understanding dependencies before modifying a method."),
		s.positionHandler("callers"))

	s.mcpServer.AddTool(
		positionTool("roslyn_callees",
			"List the definitions invoked from inside the C# method at a position."),
		s.positionHandler("callees"))

	s.mcpServer.AddTool(
		positionTool("roslyn_symbol",
			"Show full metadata for the C# symbol at a position: kind, signature, containing type and namespace, accessibility, modifiers, documentation."),
		s.positionHandler("symbol"))

	diagnosticsTool := mcp.NewTool("roslyn_diagnostics",
		mcp.WithDescription("Show compiler diagnostics for one file or the whole workspace, with error/warning/info counts."),
		mcp.WithString("file",
			mcp.Description("Source file to restrict to (optional; whole workspace when omitted)"),
		),
		mcp.WithBoolean("include_warnings",
			mcp.Description("Include warnings (default: true)"),
		),
		mcp.WithBoolean("include_info",
			mcp.Description("Include informational diagnostics (default: false)"),
		),
		mcp.WithString("format",
			mcp.Description("Output format: 'json' (default) or 'toon' (token-efficient)"),
		),
	)
	s.mcpServer.AddTool(diagnosticsTool, s.handleDiagnostics)

	statusTool := mcp.NewTool("roslyn_status",
		mcp.WithDescription("Check whether the workspace daemon is running and how long it has been idle."),
		mcp.WithString("format",
			mcp.Description("Output format: 'json' (default) or 'toon' (token-efficient)"),
		),
	)
	s.mcpServer.AddTool(statusTool, s.handleStatus)
}

// encodeOutput encodes data in the specified format (json or toon).
func encodeOutput(data any, format string) (string, error) {
	switch format {
	case "toon":
		return gotoon.Encode(data)
	default: // "json"
		jsonBytes, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return "", err
		}
		return string(jsonBytes), nil
	}
}

func resolveFormat(request mcp.CallToolRequest) (string, *mcp.CallToolResult) {
	format := request.GetString("format", "json")
	if format != "json" && format != "toon" {
		return "", mcp.NewToolResultError("format must be 'json' or 'toon'")
	}
	return format, nil
}

// call proxies one request to the workspace daemon, starting it if needed.
func (s *Server) call(method string, params any) (json.RawMessage, error) {
	client, _, err := daemon.EnsureRunning(s.workspacePath, -1)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	resp, err := client.Request(method, params)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%s (code %d)", resp.Error.Message, resp.Error.Code)
	}
	return resp.Result, nil
}

func requirePosition(request mcp.CallToolRequest) (protocol.PositionParams, *mcp.CallToolResult) {
	file, err := request.RequireString("file")
	if err != nil {
		return protocol.PositionParams{}, mcp.NewToolResultError("file parameter is required")
	}
	line, err := request.RequireInt("line")
	if err != nil {
		return protocol.PositionParams{}, mcp.NewToolResultError("line parameter is required")
	}
	column, err := request.RequireInt("column")
	if err != nil {
		return protocol.PositionParams{}, mcp.NewToolResultError("column parameter is required")
	}
	if line < 1 || column < 1 {
		return protocol.PositionParams{}, mcp.NewToolResultError("line and column are 1-based")
	}
	return protocol.PositionParams{File: file, Line: line, Column: column}, nil
}

// positionHandler builds the handler for a method taking only a position.
func (s *Server) positionHandler(method string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		pos, errResult := requirePosition(request)
		if errResult != nil {
			return errResult, nil
		}
		format, errResult := resolveFormat(request)
		if errResult != nil {
			return errResult, nil
		}

		raw, err := s.call(method, pos)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("%s failed: %v", method, err)), nil
		}
		return rawResult(raw, format)
	}
}

func (s *Server) handleReferences(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pos, errResult := requirePosition(request)
	if errResult != nil {
		return errResult, nil
	}
	format, errResult := resolveFormat(request)
	if errResult != nil {
		return errResult, nil
	}

	params := protocol.ReferencesParams{
		PositionParams:    pos,
		IncludeDefinition: request.GetBool("include_definition", false),
	}
	raw, err := s.call("references", params)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("references failed: %v", err)), nil
	}
	return rawResult(raw, format)
}

func (s *Server) handleDiagnostics(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, errResult := resolveFormat(request)
	if errResult != nil {
		return errResult, nil
	}

	includeWarnings := request.GetBool("include_warnings", true)
	includeInfo := request.GetBool("include_info", false)
	params := protocol.DiagnosticsParams{
		File:            request.GetString("file", ""),
		IncludeWarnings: &includeWarnings,
		IncludeInfo:     &includeInfo,
	}

	raw, err := s.call("diagnostics", params)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagnostics failed: %v", err)), nil
	}
	return rawResult(raw, format)
}

func (s *Server) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, errResult := resolveFormat(request)
	if errResult != nil {
		return errResult, nil
	}

	status, err := daemon.GetStatus(s.workspacePath)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status failed: %v", err)), nil
	}

	output, err := encodeOutput(status, format)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(output), nil
}

// rawResult re-encodes the daemon's JSON result in the requested format.
func rawResult(raw json.RawMessage, format string) (*mcp.CallToolResult, error) {
	if format == "json" {
		return mcp.NewToolResultText(string(raw)), nil
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to decode result: %v", err)), nil
	}
	output, err := encodeOutput(decoded, format)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(output), nil
}

// Serve runs the MCP server over stdio until the client disconnects.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}
