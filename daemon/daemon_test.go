package daemon

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/roslynquery/roslynquery/workspace"
)

func skipIfWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("file locking semantics differ on Windows")
	}
}

func testPaths(t *testing.T) *Paths {
	t.Helper()
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())

	ws := t.TempDir()
	paths, err := PathsFor(ws)
	if err != nil {
		t.Fatalf("PathsFor() failed: %v", err)
	}
	return paths
}

func TestPathsForNaming(t *testing.T) {
	paths := testPaths(t)

	key := workspace.Key(paths.Workspace)
	if paths.Key != key {
		t.Errorf("Key = %q, want %q", paths.Key, key)
	}

	if base := filepath.Base(paths.Socket); base != "roslyn-query-"+key+".sock" {
		t.Errorf("socket name = %q", base)
	}
	if base := filepath.Base(paths.PIDFile); base != "roslyn-query-"+key+".pid" {
		t.Errorf("pid file name = %q", base)
	}
	if base := filepath.Base(paths.LogFile); base != "roslyn-query-"+key+".log" {
		t.Errorf("log file name = %q", base)
	}

	if filepath.Dir(paths.Socket) != filepath.Dir(paths.PIDFile) {
		t.Error("socket and PID file should share the runtime directory")
	}
	if !strings.HasSuffix(filepath.Dir(paths.Socket), "roslyn-query") {
		t.Errorf("runtime dir = %q, want .../roslyn-query", filepath.Dir(paths.Socket))
	}
}

func TestPathsForSameWorkspaceSameKey(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())
	ws := t.TempDir()

	a, err := PathsFor(ws)
	if err != nil {
		t.Fatalf("PathsFor() failed: %v", err)
	}
	b, err := PathsFor(ws + string(filepath.Separator) + ".")
	if err != nil {
		t.Fatalf("PathsFor() failed: %v", err)
	}
	if a.Socket != b.Socket {
		t.Errorf("aliases resolved to different sockets: %q vs %q", a.Socket, b.Socket)
	}
}

func TestWriteAndReadPIDFile(t *testing.T) {
	skipIfWindows(t)
	paths := testPaths(t)

	if err := WritePIDFile(paths.PIDFile); err != nil {
		t.Fatalf("WritePIDFile() failed: %v", err)
	}

	pid, err := ReadPIDFile(paths.PIDFile)
	if err != nil {
		t.Fatalf("ReadPIDFile() failed: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("ReadPIDFile() = %d, want %d", pid, os.Getpid())
	}

	data, err := os.ReadFile(paths.PIDFile)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !strings.HasSuffix(string(data), "\n") {
		t.Error("PID file should end with a newline")
	}
}

func TestReadPIDFileNotExists(t *testing.T) {
	paths := testPaths(t)

	pid, err := ReadPIDFile(paths.PIDFile)
	if err != nil {
		t.Fatalf("ReadPIDFile() failed: %v", err)
	}
	if pid != 0 {
		t.Errorf("ReadPIDFile() = %d, want 0 for missing file", pid)
	}
}

func TestReadPIDFileCorrupt(t *testing.T) {
	paths := testPaths(t)

	if err := os.WriteFile(paths.PIDFile, []byte("not-a-pid\n"), 0600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if _, err := ReadPIDFile(paths.PIDFile); err == nil {
		t.Error("ReadPIDFile() succeeded on corrupt content")
	}
}

func TestGetRunningPIDCleansStaleFile(t *testing.T) {
	paths := testPaths(t)

	// Plant a PID that cannot be a live process.
	if err := os.WriteFile(paths.PIDFile, []byte("999999999\n"), 0600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	pid, err := GetRunningPID(paths.PIDFile)
	if err != nil {
		t.Fatalf("GetRunningPID() failed: %v", err)
	}
	if pid != 0 {
		t.Errorf("GetRunningPID() = %d, want 0 for dead process", pid)
	}
	if _, err := os.Stat(paths.PIDFile); !os.IsNotExist(err) {
		t.Error("stale PID file was not cleaned up")
	}
}

func TestGetRunningPIDReportsLiveProcess(t *testing.T) {
	skipIfWindows(t)
	paths := testPaths(t)

	if err := WritePIDFile(paths.PIDFile); err != nil {
		t.Fatalf("WritePIDFile() failed: %v", err)
	}

	pid, err := GetRunningPID(paths.PIDFile)
	if err != nil {
		t.Fatalf("GetRunningPID() failed: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("GetRunningPID() = %d, want %d", pid, os.Getpid())
	}
}

func TestRemovePIDFile(t *testing.T) {
	skipIfWindows(t)
	paths := testPaths(t)

	if err := WritePIDFile(paths.PIDFile); err != nil {
		t.Fatalf("WritePIDFile() failed: %v", err)
	}
	if err := RemovePIDFile(paths.PIDFile); err != nil {
		t.Fatalf("RemovePIDFile() failed: %v", err)
	}
	if _, err := os.Stat(paths.PIDFile); !os.IsNotExist(err) {
		t.Error("PID file still exists")
	}

	// Removing again is not an error.
	if err := RemovePIDFile(paths.PIDFile); err != nil {
		t.Errorf("second RemovePIDFile() failed: %v", err)
	}
}

func TestCleanupStaleFiles(t *testing.T) {
	paths := testPaths(t)

	if err := os.WriteFile(paths.PIDFile, []byte("999999999\n"), 0600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := os.WriteFile(paths.Socket, []byte(""), 0600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	CleanupStaleFiles(paths)

	if _, err := os.Stat(paths.PIDFile); !os.IsNotExist(err) {
		t.Error("PID file survived cleanup")
	}
	if _, err := os.Stat(paths.Socket); !os.IsNotExist(err) {
		t.Error("socket file survived cleanup")
	}
}

func TestIsProcessRunning(t *testing.T) {
	if !IsProcessRunning(os.Getpid()) {
		t.Error("current process reported as not running")
	}
	if IsProcessRunning(0) {
		t.Error("PID 0 reported as running")
	}
	if IsProcessRunning(-1) {
		t.Error("negative PID reported as running")
	}
}
