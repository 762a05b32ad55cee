package daemon

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roslynquery/roslynquery/analyzer"
	"github.com/roslynquery/roslynquery/config"
	"github.com/roslynquery/roslynquery/ipc"
	"github.com/roslynquery/roslynquery/query"
	"github.com/roslynquery/roslynquery/watcher"
	"github.com/roslynquery/roslynquery/workspace"
)

// Daemon process exit codes, part of the spawned-process contract.
const (
	ExitOK           = 0
	ExitRuntimeError = 1
	ExitLoadFailure  = 2
)

// drainTimeout bounds how long shutdown waits for in-flight handlers.
const drainTimeout = 5 * time.Second

// Options configures one supervisor run.
type Options struct {
	WorkspacePath string
	// IdleTimeoutMinutes < 0 defers to the workspace config (default 30);
	// 0 disables the idle watchdog.
	IdleTimeoutMinutes int
}

// Run executes the daemon until shutdown and returns its exit code.
//
// This frame only performs the analyzer's one-time global registration and
// then delegates: no analyzer-dependent type may be referenced before Init
// has completed, so the real startup lives in a separate function.
func Run(opts Options) int {
	analyzer.Init()
	return run(opts)
}

func run(opts Options) int {
	paths, err := PathsFor(opts.WorkspacePath)
	if err != nil {
		log.Printf("Failed to resolve workspace: %v", err)
		return ExitRuntimeError
	}

	if pid, err := GetRunningPID(paths.PIDFile); err == nil && pid > 0 {
		log.Printf("Daemon already running for %s (PID %d)", paths.Workspace, pid)
		return ExitOK
	}

	configRoot := paths.Workspace
	if info, err := os.Stat(configRoot); err == nil && !info.IsDir() {
		configRoot = filepath.Dir(configRoot)
	}
	cfg, err := config.Load(configRoot)
	if err != nil {
		log.Printf("Ignoring unreadable config: %v", err)
		cfg = config.DefaultConfig()
	}
	idleTimeout := time.Duration(cfg.ResolveIdleTimeoutMinutes(opts.IdleTimeoutMinutes)) * time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := workspace.NewManager(paths.Workspace)
	if err := manager.LoadInitial(ctx); err != nil {
		var loadErr *workspace.LoadError
		if errors.As(err, &loadErr) {
			log.Printf("workspace load failure: %v", err)
			return ExitLoadFailure
		}
		log.Printf("Failed to load workspace: %v", err)
		return ExitRuntimeError
	}
	defer manager.Close()
	root := manager.Root()
	log.Printf("Loaded workspace %s (version %d, %d documents)",
		root, manager.Version(), currentDocumentCount(manager))

	w, err := watcher.New(root, watcher.NewIgnoreMatcher(root, cfg.Ignore),
		time.Duration(cfg.Watch.DebounceMs)*time.Millisecond)
	if err != nil {
		log.Printf("Failed to create watcher: %v", err)
		return ExitRuntimeError
	}
	if err := w.Start(ctx); err != nil {
		log.Printf("Failed to start watcher: %v", err)
		w.Close()
		return ExitRuntimeError
	}

	stopCh := make(chan struct{})
	var stopOnce sync.Once
	requestStop := func() {
		stopOnce.Do(func() { close(stopCh) })
	}

	var srv *ipc.Server
	dispatcher := query.New(manager, idleTimeout,
		func() time.Duration { return srv.IdleFor() }, requestStop)

	srv, err = ipc.NewServer(paths.Socket, dispatcher)
	if err != nil {
		w.Close()
		// The bind may have lost a race with another daemon for this
		// workspace; only treat that as success when its PID file agrees.
		if pid, perr := GetRunningPID(paths.PIDFile); perr == nil && pid > 0 {
			log.Printf("Daemon already running for %s (PID %d)", paths.Workspace, pid)
			return ExitOK
		}
		log.Printf("Failed to bind socket: %v", err)
		return ExitRuntimeError
	}
	srv.Start(ctx)

	if err := WritePIDFile(paths.PIDFile); err != nil {
		log.Printf("Failed to write PID file: %v", err)
		srv.Shutdown(0)
		w.Close()
		return ExitRuntimeError
	}

	log.Printf("Serving %s on %s (idle timeout %s)", paths.Workspace, paths.Socket, idleTimeout)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		watchLoop(gCtx, manager, srv, w)
		return nil
	})

	if idleTimeout > 0 {
		g.Go(func() error {
			idleWatchdog(gCtx, srv, idleTimeout, requestStop)
			return nil
		})
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Printf("Received %v, shutting down", sig)
	case <-StopChannel(paths):
		log.Printf("Stop requested, shutting down")
	case <-stopCh:
		log.Printf("Shutdown requested, shutting down")
	}

	// Ordered shutdown: stop accepting, drain in-flight handlers, stop the
	// watcher, unbind the socket, retire the final snapshot, drop the PID
	// file.
	srv.StopAccepting()
	srv.Drain(drainTimeout)
	w.Close()
	srv.Unbind()
	cancel()
	_ = g.Wait()
	manager.Close()
	if err := RemovePIDFile(paths.PIDFile); err != nil {
		log.Printf("Failed to remove PID file: %v", err)
	}

	return ExitOK
}

func currentDocumentCount(manager *workspace.Manager) int {
	handle, err := manager.Current()
	if err != nil {
		return 0
	}
	defer handle.Release()
	return len(handle.Snapshot().Documents)
}

// watchLoop applies change batches to the snapshot manager. Every batch
// counts as activity so a workspace being edited does not idle out.
func watchLoop(ctx context.Context, manager *workspace.Manager, srv *ipc.Server, w *watcher.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-w.Batches():
			if !ok {
				return
			}
			srv.Touch()
			applyBatch(ctx, manager, batch)
		}
	}
}

// applyBatch routes one batch: a full-reload event rebuilds the workspace
// from disk; otherwise each document change is applied incrementally.
// Deleted and renamed-away documents stay in the snapshot until the next
// full reload.
func applyBatch(ctx context.Context, manager *workspace.Manager, batch []watcher.ChangeEvent) {
	for _, event := range batch {
		if event.FullReload {
			log.Printf("Full reload triggered by %s (%s)", event.Path, event.Kind)
			if err := manager.Reload(ctx); err != nil {
				log.Printf("Reload failed, keeping previous snapshot: %v", err)
			}
			return
		}
	}

	for _, event := range batch {
		switch event.Kind {
		case watcher.Created, watcher.Modified:
			canonical, err := workspace.CanonicalPath(event.Path)
			if err != nil {
				continue
			}
			text, err := workspace.ReadDocument(canonical)
			if err != nil {
				log.Printf("Skipping unreadable %s: %v", event.Path, err)
				continue
			}
			if err := manager.ApplyEdit(ctx, canonical, text); err != nil {
				log.Printf("Failed to apply edit for %s: %v", event.Path, err)
			}
		case watcher.Deleted, watcher.Renamed:
			// Deferred to the next full reload.
		}
	}
}

// idleWatchdog fires shutdown once the daemon has been idle for the
// configured timeout. The check interval is coarse on purpose.
func idleWatchdog(ctx context.Context, srv *ipc.Server, timeout time.Duration, requestStop func()) {
	interval := time.Minute
	if timeout < interval {
		interval = timeout
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if idle := srv.IdleFor(); idle >= timeout {
				log.Printf("Idle for %s (timeout %s), shutting down", idle.Round(time.Second), timeout)
				requestStop()
				return
			}
		}
	}
}
