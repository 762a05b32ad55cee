package daemon

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/roslynquery/roslynquery/ipc"
)

const (
	// connectAttempts * connectInterval bounds how long a client waits for
	// a freshly spawned daemon to finish loading the workspace.
	connectAttempts = 30
	connectInterval = time.Second

	// probeTimeout is the dial deadline for a daemon believed to be up.
	probeTimeout = 2 * time.Second
)

// loadFailureMarker is the prefix the supervisor logs before exiting with
// ExitLoadFailure; the launcher uses it to classify early exits.
const loadFailureMarker = "workspace load failure"

// DaemonError reports a daemon that could not be started or reached. Log
// carries the tail of the daemon's stderr when available.
type DaemonError struct {
	Message     string
	Log         string
	LoadFailure bool
}

func (e *DaemonError) Error() string {
	if e.Log != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Log)
	}
	return e.Message
}

// EnsureRunning returns a connected client for the workspace, starting the
// daemon when none is running. Stale socket and PID files from a dead daemon
// are cleaned up before spawning.
func EnsureRunning(workspacePath string, idleTimeoutMinutes int) (*ipc.Client, *Paths, error) {
	paths, err := PathsFor(workspacePath)
	if err != nil {
		return nil, nil, err
	}

	pid, err := GetRunningPID(paths.PIDFile)
	if err != nil {
		return nil, paths, &DaemonError{Message: fmt.Sprintf("unreadable PID file: %v", err)}
	}

	if pid > 0 {
		client, err := connectWithRetry(paths.Socket, nil)
		if err != nil {
			return nil, paths, &DaemonError{
				Message: fmt.Sprintf("daemon is running (PID %d) but not responding on %s", pid, paths.Socket),
			}
		}
		return client, paths, nil
	}

	// No live daemon; whatever files remain are stale.
	CleanupStaleFiles(paths)

	childPID, exitCh, err := SpawnBackground(paths, idleTimeoutMinutes)
	if err != nil {
		return nil, paths, &DaemonError{Message: fmt.Sprintf("failed to spawn daemon: %v", err)}
	}

	client, err := connectWithRetry(paths.Socket, exitCh)
	if err != nil {
		logTail := readLogTail(paths.LogFile)
		derr := &DaemonError{
			Message:     fmt.Sprintf("daemon (PID %d) did not become ready", childPID),
			Log:         logTail,
			LoadFailure: strings.Contains(logTail, loadFailureMarker),
		}
		select {
		case <-exitCh:
			derr.Message = fmt.Sprintf("daemon (PID %d) exited before accepting connections", childPID)
		default:
		}
		return nil, paths, derr
	}
	return client, paths, nil
}

// Connect dials an already-running daemon without spawning one.
func Connect(workspacePath string) (*ipc.Client, *Paths, error) {
	paths, err := PathsFor(workspacePath)
	if err != nil {
		return nil, nil, err
	}

	client, err := ipc.Connect(paths.Socket, probeTimeout)
	if err != nil {
		return nil, paths, err
	}
	return client, paths, nil
}

// connectWithRetry dials the socket once per interval until it answers, the
// child exits, or the attempt budget runs out.
func connectWithRetry(socketPath string, exitCh <-chan struct{}) (*ipc.Client, error) {
	var lastErr error
	for attempt := 0; attempt < connectAttempts; attempt++ {
		if exitCh != nil {
			select {
			case <-exitCh:
				return nil, fmt.Errorf("daemon exited before accepting connections")
			default:
			}
		}

		client, err := ipc.Connect(socketPath, connectInterval)
		if err == nil {
			return client, nil
		}
		lastErr = err
		time.Sleep(connectInterval)
	}
	return nil, fmt.Errorf("gave up connecting to %s: %w", socketPath, lastErr)
}

// readLogTail returns the final chunk of the daemon log for error reporting.
func readLogTail(logPath string) string {
	const tailBytes = 4096

	data, err := os.ReadFile(logPath)
	if err != nil {
		return ""
	}
	if len(data) > tailBytes {
		data = data[len(data)-tailBytes:]
	}
	return strings.TrimSpace(string(data))
}
