package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roslynquery/roslynquery/daemon"
	"github.com/roslynquery/roslynquery/protocol"
)

var includeDefinition bool

var definitionCmd = &cobra.Command{
	Use:   "definition <file> <line> <column>",
	Short: "Jump to the definition of the symbol at a position",
	Args:  cobra.ExactArgs(3),
	RunE:  runDefinitionLike("definition"),
}

var baseDefinitionCmd = &cobra.Command{
	Use:   "base-definition <file> <line> <column>",
	Short: "Jump to the overridden or interface-declared base of the symbol",
	Args:  cobra.ExactArgs(3),
	RunE:  runDefinitionLike("base-definition"),
}

var implementationsCmd = &cobra.Command{
	Use:   "implementations <file> <line> <column>",
	Short: "List implementations of the interface, type or member at a position",
	Args:  cobra.ExactArgs(3),
	RunE:  runLocationsLike("implementations"),
}

var referencesCmd = &cobra.Command{
	Use:   "references <file> <line> <column>",
	Short: "List references to the symbol at a position",
	Args:  cobra.ExactArgs(3),
	RunE:  runReferences,
}

var callersCmd = &cobra.Command{
	Use:   "callers <file> <line> <column>",
	Short: "List call sites invoking the symbol at a position",
	Args:  cobra.ExactArgs(3),
	RunE:  runLocationsLike("callers"),
}

var calleesCmd = &cobra.Command{
	Use:   "callees <file> <line> <column>",
	Short: "List the definitions invoked from the symbol at a position",
	Args:  cobra.ExactArgs(3),
	RunE:  runLocationsLike("callees"),
}

var symbolCmd = &cobra.Command{
	Use:   "symbol <file> <line> <column>",
	Short: "Show full metadata for the symbol at a position",
	Args:  cobra.ExactArgs(3),
	RunE:  runSymbol,
}

var (
	diagnosticsNoWarnings bool
	diagnosticsInfo       bool
)

var diagnosticsCmd = &cobra.Command{
	Use:   "diagnostics [file]",
	Short: "Show compiler diagnostics for a file or the whole workspace",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDiagnostics,
}

func init() {
	referencesCmd.Flags().BoolVar(&includeDefinition, "include-definition", false,
		"Prepend the definition location(s) to the reference list")
	diagnosticsCmd.Flags().BoolVar(&diagnosticsNoWarnings, "no-warnings", false, "Exclude warnings")
	diagnosticsCmd.Flags().BoolVar(&diagnosticsInfo, "info", false, "Include informational diagnostics")

	rootCmd.AddCommand(definitionCmd)
	rootCmd.AddCommand(baseDefinitionCmd)
	rootCmd.AddCommand(implementationsCmd)
	rootCmd.AddCommand(referencesCmd)
	rootCmd.AddCommand(callersCmd)
	rootCmd.AddCommand(calleesCmd)
	rootCmd.AddCommand(symbolCmd)
	rootCmd.AddCommand(diagnosticsCmd)
}

func parsePosition(args []string) (protocol.PositionParams, error) {
	line, err := strconv.Atoi(args[1])
	if err != nil || line < 1 {
		return protocol.PositionParams{}, fmt.Errorf("invalid line %q", args[1])
	}
	column, err := strconv.Atoi(args[2])
	if err != nil || column < 1 {
		return protocol.PositionParams{}, fmt.Errorf("invalid column %q", args[2])
	}
	return protocol.PositionParams{File: args[0], Line: line, Column: column}, nil
}

// callDaemon locates (or starts) the workspace daemon and performs one
// request, decoding the result envelope into out.
func callDaemon(method string, params, out any) error {
	client, _, err := daemon.EnsureRunning(workspaceFlag, -1)
	if err != nil {
		return err
	}
	defer client.Close()

	resp, err := client.Request(method, params)
	if err != nil {
		return &ExitError{Code: ExitConnectionError, Message: err.Error()}
	}
	if resp.Error != nil {
		code := ExitNoResult
		if resp.Error.Code == protocol.CodeInvalidParams {
			code = ExitArgumentError
		}
		return &ExitError{Code: code, Message: resp.Error.Message}
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return &ExitError{Code: ExitConnectionError,
			Message: fmt.Sprintf("failed to decode %s result: %v", method, err)}
	}
	return nil
}

// finishEnvelope prints the structured form when requested and maps a
// failure envelope to the no-result exit code.
func finishEnvelope(env protocol.Envelope, data any, renderText func()) error {
	printed, err := printStructured(data)
	if err != nil {
		return err
	}

	if !env.Success {
		if !printed {
			fmt.Fprintln(os.Stderr, env.ErrorMessage)
		}
		return &ExitError{Code: ExitNoResult}
	}
	if !printed {
		renderText()
	}
	return nil
}

func formatLocation(loc protocol.Location) string {
	return fmt.Sprintf("%s:%d:%d", loc.File, loc.Line, loc.Column)
}

func runDefinitionLike(method string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		pos, err := parsePosition(args)
		if err != nil {
			return &ExitError{Code: ExitArgumentError, Message: err.Error()}
		}

		var result protocol.DefinitionResult
		if err := callDaemon(method, pos, &result); err != nil {
			return err
		}
		return finishEnvelope(result.Envelope, result, func() {
			fmt.Printf("%s  %s (%s)\n", formatLocation(*result.Location), result.SymbolName, result.SymbolKind)
		})
	}
}

func runLocationsLike(method string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		pos, err := parsePosition(args)
		if err != nil {
			return &ExitError{Code: ExitArgumentError, Message: err.Error()}
		}

		var result protocol.LocationsResult
		if err := callDaemon(method, pos, &result); err != nil {
			return err
		}
		return finishEnvelope(result.Envelope, result, func() {
			if len(result.Locations) == 0 {
				fmt.Printf("No %s found for %s\n", method, result.SymbolName)
				return
			}
			for _, loc := range result.Locations {
				fmt.Println(formatLocation(loc))
			}
		})
	}
}

func runReferences(cmd *cobra.Command, args []string) error {
	pos, err := parsePosition(args)
	if err != nil {
		return &ExitError{Code: ExitArgumentError, Message: err.Error()}
	}

	params := protocol.ReferencesParams{PositionParams: pos, IncludeDefinition: includeDefinition}
	var result protocol.LocationsResult
	if err := callDaemon("references", params, &result); err != nil {
		return err
	}
	return finishEnvelope(result.Envelope, result, func() {
		for _, loc := range result.Locations {
			fmt.Println(formatLocation(loc))
		}
	})
}

func runSymbol(cmd *cobra.Command, args []string) error {
	pos, err := parsePosition(args)
	if err != nil {
		return &ExitError{Code: ExitArgumentError, Message: err.Error()}
	}

	var result protocol.SymbolResult
	if err := callDaemon("symbol", pos, &result); err != nil {
		return err
	}
	return finishEnvelope(result.Envelope, result, func() {
		fmt.Printf("%s %s\n", result.Kind, result.FullName)
		if result.Signature != "" {
			fmt.Printf("  signature: %s\n", result.Signature)
		}
		if result.ReturnType != "" {
			fmt.Printf("  returns:   %s\n", result.ReturnType)
		}
		fmt.Printf("  access:    %s\n", result.Accessibility)
		if result.ContainingType != "" {
			fmt.Printf("  type:      %s\n", result.ContainingType)
		}
		if result.ContainingNamespace != "" {
			fmt.Printf("  namespace: %s\n", result.ContainingNamespace)
		}
		if result.Location != nil {
			fmt.Printf("  location:  %s\n", formatLocation(*result.Location))
		}
		if result.Documentation != "" {
			fmt.Printf("  docs:      %s\n", result.Documentation)
		}
	})
}

func runDiagnostics(cmd *cobra.Command, args []string) error {
	includeWarnings := !diagnosticsNoWarnings
	params := protocol.DiagnosticsParams{
		IncludeWarnings: &includeWarnings,
		IncludeInfo:     &diagnosticsInfo,
	}
	if len(args) == 1 {
		params.File = args[0]
	}

	var result protocol.DiagnosticsResult
	if err := callDaemon("diagnostics", params, &result); err != nil {
		return err
	}
	return finishEnvelope(result.Envelope, result, func() {
		for _, diag := range result.Diagnostics {
			where := ""
			if diag.Location != nil {
				where = " at " + formatLocation(*diag.Location)
			}
			fmt.Printf("%s %s: %s%s\n", diag.Severity, diag.ID, diag.Message, where)
		}
		fmt.Printf("%d errors, %d warnings, %d info\n",
			result.ErrorCount, result.WarningCount, result.InfoCount)
	})
}
