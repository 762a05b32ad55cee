package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/roslynquery/roslynquery/ipc"
	"github.com/roslynquery/roslynquery/protocol"
)

const testProject = `<Project Sdk="Microsoft.NET.Sdk">
  <PropertyGroup>
    <TargetFramework>net8.0</TargetFramework>
  </PropertyGroup>
</Project>
`

func writeDaemonWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "App.csproj"), []byte(testProject), 0644); err != nil {
		t.Fatalf("write project failed: %v", err)
	}
	source := "namespace N\n{\n    class C\n    {\n        public void M() { }\n    }\n}\n"
	if err := os.WriteFile(filepath.Join(dir, "T.cs"), []byte(source), 0644); err != nil {
		t.Fatalf("write source failed: %v", err)
	}
	return dir
}

func waitForSocket(t *testing.T, socketPath string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(socketPath); err == nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("socket %s never appeared", socketPath)
}

func TestSupervisorServesAndShutsDownOverRPC(t *testing.T) {
	skipIfWindows(t)
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())
	ws := writeDaemonWorkspace(t)

	paths, err := PathsFor(ws)
	if err != nil {
		t.Fatalf("PathsFor() failed: %v", err)
	}

	exitCh := make(chan int, 1)
	go func() {
		exitCh <- Run(Options{WorkspacePath: ws, IdleTimeoutMinutes: 30})
	}()

	waitForSocket(t, paths.Socket)

	client, err := ipc.Connect(paths.Socket, 2*time.Second)
	if err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}

	var pong protocol.PingResult
	if err := client.Call("ping", nil, &pong); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
	if pong.Status != "ok" {
		t.Errorf("ping status = %q, want ok", pong.Status)
	}
	if pong.IdleTimeoutMinutes != 30 {
		t.Errorf("idle_timeout_minutes = %d, want 30", pong.IdleTimeoutMinutes)
	}

	var def protocol.DefinitionResult
	if err := client.Call("definition",
		protocol.PositionParams{File: "T.cs", Line: 5, Column: 21}, &def); err != nil {
		t.Fatalf("definition failed: %v", err)
	}
	if !def.Success || def.SymbolName != "M" {
		t.Errorf("definition = %+v, want M", def)
	}

	if pid, err := GetRunningPID(paths.PIDFile); err != nil || pid == 0 {
		t.Errorf("PID file not live while serving: pid=%d err=%v", pid, err)
	}

	var stopResult protocol.ShutdownResult
	if err := client.Call("shutdown", nil, &stopResult); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	if stopResult.Status != "shutting_down" {
		t.Errorf("shutdown status = %q", stopResult.Status)
	}
	client.Close()

	select {
	case code := <-exitCh:
		if code != ExitOK {
			t.Errorf("exit code = %d, want %d", code, ExitOK)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("daemon did not exit after shutdown RPC")
	}

	// Shutdown completeness: rendezvous files are gone.
	if _, err := os.Stat(paths.Socket); !os.IsNotExist(err) {
		t.Error("socket file still present after shutdown")
	}
	if _, err := os.Stat(paths.PIDFile); !os.IsNotExist(err) {
		t.Error("PID file still present after shutdown")
	}
}

func TestSupervisorExitsWithLoadFailureCode(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())

	// An empty directory has no manifest; the daemon must exit 2 without
	// binding the socket.
	ws := t.TempDir()
	paths, err := PathsFor(ws)
	if err != nil {
		t.Fatalf("PathsFor() failed: %v", err)
	}

	code := Run(Options{WorkspacePath: ws, IdleTimeoutMinutes: 30})
	if code != ExitLoadFailure {
		t.Errorf("exit code = %d, want %d", code, ExitLoadFailure)
	}
	if _, err := os.Stat(paths.Socket); !os.IsNotExist(err) {
		t.Error("socket bound despite load failure")
	}
}

func TestSupervisorIdleShutdown(t *testing.T) {
	if testing.Short() {
		t.Skip("idle shutdown takes minutes")
	}
	skipIfWindows(t)
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())
	ws := writeDaemonWorkspace(t)

	paths, err := PathsFor(ws)
	if err != nil {
		t.Fatalf("PathsFor() failed: %v", err)
	}

	exitCh := make(chan int, 1)
	go func() {
		exitCh <- Run(Options{WorkspacePath: ws, IdleTimeoutMinutes: 1})
	}()

	waitForSocket(t, paths.Socket)

	// One ping, then silence; the watchdog checks every min(60s, timeout).
	client, err := ipc.Connect(paths.Socket, 2*time.Second)
	if err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	var pong protocol.PingResult
	if err := client.Call("ping", nil, &pong); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
	client.Close()

	select {
	case code := <-exitCh:
		if code != ExitOK {
			t.Errorf("exit code = %d, want %d", code, ExitOK)
		}
	case <-time.After(3 * time.Minute):
		t.Fatal("daemon did not idle out")
	}

	if _, err := os.Stat(paths.Socket); !os.IsNotExist(err) {
		t.Error("socket file still present after idle shutdown")
	}
	if _, err := os.Stat(paths.PIDFile); !os.IsNotExist(err) {
		t.Error("PID file still present after idle shutdown")
	}
}
