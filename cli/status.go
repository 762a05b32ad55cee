package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roslynquery/roslynquery/daemon"
	"github.com/roslynquery/roslynquery/ipc"
	"github.com/roslynquery/roslynquery/protocol"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the workspace daemon is running",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Probe the running workspace daemon",
	Args:  cobra.NoArgs,
	RunE:  runPing,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the workspace daemon",
	Args:  cobra.NoArgs,
	RunE:  runStop,
}

var shutdownRPC bool

func init() {
	stopCmd.Flags().BoolVar(&shutdownRPC, "rpc", false,
		"Request shutdown over the socket instead of signaling the process")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(stopCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	status, err := daemon.GetStatus(workspaceFlag)
	if err != nil {
		return &ExitError{Code: ExitArgumentError, Message: err.Error()}
	}

	if printed, err := printStructured(status); err != nil || printed {
		return err
	}

	fmt.Printf("workspace: %s\n", status.Workspace)
	fmt.Printf("socket:    %s\n", status.SocketPath)
	fmt.Printf("pid file:  %s\n", status.PIDFilePath)
	if !status.Running {
		fmt.Println("daemon:    not running")
		return nil
	}
	fmt.Printf("daemon:    running (PID %d)\n", status.PID)
	if !status.Responsive {
		fmt.Println("state:     not responding")
		return nil
	}
	fmt.Printf("idle:      %.0fs (timeout %d min)\n", *status.IdleSeconds, *status.IdleTimeoutMinutes)
	return nil
}

func runPing(cmd *cobra.Command, args []string) error {
	client, _, err := daemon.Connect(workspaceFlag)
	if err != nil {
		return &ExitError{Code: ExitNoResult, Message: "daemon not running"}
	}
	defer client.Close()

	var pong protocol.PingResult
	if err := client.Call("ping", nil, &pong); err != nil {
		return &ExitError{Code: ExitConnectionError, Message: err.Error()}
	}

	if printed, err := printStructured(pong); err != nil || printed {
		return err
	}
	fmt.Printf("%s (idle %.0fs, timeout %d min)\n", pong.Status, pong.IdleSeconds, pong.IdleTimeoutMinutes)
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	paths, err := daemon.PathsFor(workspaceFlag)
	if err != nil {
		return &ExitError{Code: ExitArgumentError, Message: err.Error()}
	}

	pid, err := daemon.GetRunningPID(paths.PIDFile)
	if err != nil {
		return &ExitError{Code: ExitConnectionError, Message: err.Error()}
	}
	if pid == 0 {
		fmt.Println("Daemon is not running")
		return nil
	}

	if shutdownRPC {
		if err := stopOverRPC(paths.Socket); err != nil {
			return &ExitError{Code: ExitConnectionError, Message: err.Error()}
		}
	} else if err := daemon.StopDaemon(paths, pid); err != nil {
		return &ExitError{Code: ExitConnectionError, Message: err.Error()}
	}

	// The daemon removes its own files on a clean exit; wait for it before
	// falling back to cleanup.
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if !daemon.IsProcessRunning(pid) {
			daemon.CleanupStaleFiles(paths)
			fmt.Printf("Stopped daemon (PID %d)\n", pid)
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}

	return &ExitError{Code: ExitConnectionError,
		Message: fmt.Sprintf("daemon (PID %d) did not exit within 10s", pid)}
}

func stopOverRPC(socketPath string) error {
	client, err := ipc.Connect(socketPath, 2*time.Second)
	if err != nil {
		return err
	}
	defer client.Close()

	var result protocol.ShutdownResult
	return client.Call("shutdown", nil, &result)
}
