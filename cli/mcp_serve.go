package cli

import (
	"github.com/spf13/cobra"

	"github.com/roslynquery/roslynquery/mcp"
)

var mcpServeCmd = &cobra.Command{
	Use:   "mcp-serve [workspace]",
	Short: "Start roslyn-query as an MCP server",
	Long: `Start roslyn-query as an MCP (Model Context Protocol) server.

This allows AI agents to query the workspace through the MCP protocol. The
server communicates via stdio and exposes the following tools:

  - roslyn_definition: Jump to a symbol's definition
  - roslyn_base_definition: Jump to the overridden or interface-declared base
  - roslyn_implementations: List implementations of a type or member
  - roslyn_references: List references to a symbol
  - roslyn_callers: List call sites invoking a method
  - roslyn_callees: List definitions a method invokes
  - roslyn_symbol: Show full symbol metadata
  - roslyn_diagnostics: Show compiler diagnostics with counts
  - roslyn_status: Check the workspace daemon

Arguments:
  workspace  Optional .sln/.csproj file or directory containing one.
             Defaults to the current directory.

Configuration for Claude Code:
  claude mcp add roslyn-query -- roslyn-query mcp-serve /path/to/solution

Configuration for Cursor (.cursor/mcp.json):
  {
    "mcpServers": {
      "roslyn-query": {
        "command": "roslyn-query",
        "args": ["mcp-serve", "/path/to/solution"]
      }
    }
  }`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMCPServe,
}

func init() {
	rootCmd.AddCommand(mcpServeCmd)
}

func runMCPServe(cmd *cobra.Command, args []string) error {
	workspacePath := workspaceFlag
	if len(args) == 1 {
		workspacePath = args[0]
	}

	srv := mcp.NewServer(workspacePath)
	return srv.Serve()
}
