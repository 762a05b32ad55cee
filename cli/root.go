// Package cli wires the roslyn-query command tree: the daemon-facing serve
// command and the one-shot query commands that locate (or start) the daemon
// for a workspace and print its answers.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roslynquery/roslynquery/daemon"
)

// Client exit codes. Defined here so client front-ends are replaceable
// without touching the daemon.
const (
	ExitSuccess         = 0
	ExitNoResult        = 1
	ExitLoadFailure     = 2
	ExitArgumentError   = 3
	ExitConnectionError = 4
)

// ExitError carries an explicit process exit code out of a command.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

var (
	workspaceFlag string
	jsonOutput    bool
	toonOutput    bool
)

var rootCmd = &cobra.Command{
	Use:   "roslyn-query",
	Short: "Navigation queries against a resident C# workspace",
	Long: `roslyn-query keeps a parsed and analyzed model of a C# workspace
resident in a per-workspace background daemon and answers navigation
queries (definition, references, implementations, call hierarchy, symbol
metadata, diagnostics) over a local socket.

The first query against a workspace starts its daemon automatically; the
daemon shuts itself down after a configurable idle period.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workspaceFlag, "workspace", "w", ".",
		"Workspace: a .sln/.csproj file or a directory containing one")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output results in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&toonOutput, "toon", "t", false, "Output results in TOON format (token-efficient for AI agents)")
	rootCmd.MarkFlagsMutuallyExclusive("json", "toon")
}

// Execute runs the command tree and returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return ExitSuccess
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Message != "" {
			fmt.Fprintf(os.Stderr, "Error: %s\n", exitErr.Message)
		}
		return exitErr.Code
	}

	var daemonErr *daemon.DaemonError
	if errors.As(err, &daemonErr) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", daemonErr)
		if daemonErr.LoadFailure {
			return ExitLoadFailure
		}
		return ExitConnectionError
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return ExitArgumentError
}
