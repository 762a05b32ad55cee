package cli

import (
	"github.com/spf13/cobra"

	"github.com/roslynquery/roslynquery/daemon"
)

var serveIdleTimeout int

var serveCmd = &cobra.Command{
	Use:   "serve <workspace>",
	Short: "Run the workspace daemon in the foreground",
	Long: `Run the per-workspace daemon. Query commands start it automatically in
the background, so running serve by hand is only needed for debugging or
for supervising the process yourself.

Exit codes: 0 clean shutdown, 1 fatal runtime error, 2 workspace load
failure. Diagnostics go to standard error; nothing is written to standard
output.`,
	Args: cobra.ExactArgs(1),
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&serveIdleTimeout, "idle-timeout", -1,
		"Idle minutes before self-shutdown (0 disables, default from workspace config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	code := daemon.Run(daemon.Options{
		WorkspacePath:      args[0],
		IdleTimeoutMinutes: serveIdleTimeout,
	})
	if code != daemon.ExitOK {
		return &ExitError{Code: code}
	}
	return nil
}
