// Package daemon provides lifecycle management for the per-workspace
// roslyn-query server process: runtime file paths, PID file handling,
// background spawning, the supervisor run loop and the client-side launcher.
//
// Each workspace gets exactly one daemon, rendezvoused through files named
// after the workspace key in the per-user runtime directory:
//
//	roslyn-query-<key>.sock   the IPC socket
//	roslyn-query-<key>.pid    the daemon's process ID
//	roslyn-query-<key>.log    stderr of background-spawned daemons
//
// The PID file contains a single line with the process ID as a decimal
// integer. Writes go through a temp file, a rename and a file lock so two
// racing daemons cannot interleave.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/roslynquery/roslynquery/internal/fileutil"
	"github.com/roslynquery/roslynquery/workspace"
)

const (
	filePrefix = "roslyn-query-"
	sockSuffix = ".sock"
	pidSuffix  = ".pid"
	logSuffix  = ".log"
)

// Paths bundles the rendezvous file locations for one workspace.
type Paths struct {
	Workspace string // canonical workspace path
	Key       string
	Socket    string
	PIDFile   string
	LogFile   string
}

// PathsFor canonicalizes the workspace path and derives its runtime file
// paths, creating the runtime directory.
func PathsFor(workspacePath string) (*Paths, error) {
	canonical, err := workspace.CanonicalPath(workspacePath)
	if err != nil {
		return nil, err
	}

	dir, err := workspace.RuntimeDir()
	if err != nil {
		return nil, err
	}

	key := workspace.Key(canonical)
	base := filepath.Join(dir, filePrefix+key)
	return &Paths{
		Workspace: canonical,
		Key:       key,
		Socket:    base + sockSuffix,
		PIDFile:   base + pidSuffix,
		LogFile:   base + logSuffix,
	}, nil
}

// WritePIDFile writes the current process ID to pidPath. A lock file
// serializes racing writers; the PID content lands via temp file + rename so
// readers never observe a partial write.
func WritePIDFile(pidPath string) error {
	if err := fileutil.EnsureParentDir(pidPath); err != nil {
		return fmt.Errorf("failed to create runtime directory: %w", err)
	}

	lockPath := pidPath + ".lock"
	lockFh, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	defer lockFh.Close()

	if err := fileutil.FlockExclusive(lockFh, true); err != nil {
		return fmt.Errorf("another daemon is starting for this workspace: %w", err)
	}
	defer func() {
		_ = fileutil.Funlock(lockFh)
	}()

	content := fmt.Sprintf("%d\n", os.Getpid())
	tmpPath := pidPath + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	if err := fileutil.ReplaceFileAtomically(tmpPath, pidPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename PID file: %w", err)
	}
	return nil
}

// ReadPIDFile reads the process ID from pidPath.
//
// Return values:
//   - (0, nil):   no PID file exists
//   - (pid, nil): PID file exists and holds a valid process ID
//   - (0, error): PID file exists but is corrupt or unreadable
//
// The process named by the PID may no longer exist; use GetRunningPID for
// stale detection and cleanup.
func ReadPIDFile(pidPath string) (int, error) {
	data, err := os.ReadFile(pidPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %w", err)
	}
	return pid, nil
}

// RemovePIDFile removes the PID file and its lock file.
func RemovePIDFile(pidPath string) error {
	_ = os.Remove(pidPath + ".lock")
	if err := os.Remove(pidPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// GetRunningPID returns the PID of the live daemon for pidPath, or 0. Stale
// PID files (process gone) are cleaned up as a side effect.
func GetRunningPID(pidPath string) (int, error) {
	pid, err := ReadPIDFile(pidPath)
	if err != nil {
		return 0, err
	}
	if pid == 0 {
		return 0, nil
	}

	if !IsProcessRunning(pid) {
		_ = RemovePIDFile(pidPath)
		return 0, nil
	}
	return pid, nil
}

// CleanupStaleFiles removes socket and PID files left behind by a daemon
// that died without its shutdown sequence. Callers must have established
// that no live daemon owns them.
func CleanupStaleFiles(paths *Paths) {
	_ = RemovePIDFile(paths.PIDFile)
	_ = os.Remove(paths.Socket)
}
