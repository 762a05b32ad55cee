// Package watcher observes the workspace tree for source and manifest
// changes. Source events are coalesced per path and emitted as one batch
// after a debounce window; manifest events and watch-buffer overflows bypass
// the debounce and request an immediate full reload.
package watcher

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/roslynquery/roslynquery/workspace"
)

// ChangeKind classifies one filesystem event.
type ChangeKind int

const (
	Created ChangeKind = iota
	Modified
	Deleted
	Renamed
)

func (k ChangeKind) String() string {
	switch k {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	case Renamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// ChangeEvent is one coalesced change. Path is absolute. A Renamed event
// carries the renamed-away path in Path and leaves OldPath empty; OldPath is
// set when a later event for that path is merged onto the rename. The new
// name arrives as a separate event and is not paired with the rename.
// FullReload marks events that invalidate the project structure
// (manifest changes, watch overflow) and must trigger a workspace reload.
type ChangeEvent struct {
	Kind       ChangeKind
	Path       string
	OldPath    string
	FullReload bool
}

// DefaultDebounce is the coalescing window for source events.
const DefaultDebounce = 300 * time.Millisecond

// Watcher observes one workspace root recursively.
type Watcher struct {
	root     string
	fsw      *fsnotify.Watcher
	ignore   *IgnoreMatcher
	debounce time.Duration
	batches  chan []ChangeEvent
	done     chan struct{}

	mu      sync.Mutex
	pending *coalescer
	timer   *time.Timer
}

// New creates a watcher for the workspace root. debounce <= 0 selects the
// default window.
func New(root string, ignoreMatcher *IgnoreMatcher, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if ignoreMatcher == nil {
		ignoreMatcher = NewIgnoreMatcher(root, nil)
	}

	return &Watcher{
		root:     root,
		fsw:      fsw,
		ignore:   ignoreMatcher,
		debounce: debounce,
		batches:  make(chan []ChangeEvent, 16),
		done:     make(chan struct{}),
		pending:  newCoalescer(),
	}, nil
}

// Start begins watching. Batches are delivered on Batches until Close.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addRecursive(w.root); err != nil {
		return err
	}
	go w.processEvents(ctx)
	return nil
}

// Batches delivers coalesced change batches. A batch containing a FullReload
// event means the workspace structure is stale (or unknown) and must be
// reloaded from disk.
func (w *Watcher) Batches() <-chan []ChangeEvent {
	return w.batches
}

// Close stops the watcher. No batches are delivered afterwards.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	close(w.done)
	return w.fsw.Close()
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip inaccessible paths
		}
		if !info.IsDir() {
			return nil
		}

		relPath, err := filepath.Rel(w.root, path)
		if err != nil {
			return nil
		}
		if relPath != "." && w.ignore.ShouldIgnore(relPath) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			log.Printf("Failed to watch %s: %v", path, err)
		}
		return nil
	})
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			// An overflow (or any watcher-side error) leaves our view of
			// the tree unknown; a full reload resynchronizes from disk.
			log.Printf("Watcher error, scheduling full reload: %v", err)
			w.emitFullReload(ChangeEvent{Kind: Modified, Path: w.root, FullReload: true})
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	relPath, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		return
	}
	if w.ignore.ShouldIgnore(relPath) {
		return
	}

	if workspace.IsManifestPath(event.Name) {
		w.emitFullReload(ChangeEvent{
			Kind:       eventKind(event),
			Path:       event.Name,
			FullReload: true,
		})
		return
	}

	if !workspace.IsSourcePath(event.Name) {
		// A new directory needs its own watch registration.
		if event.Has(fsnotify.Create) {
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if err := w.addRecursive(event.Name); err != nil {
					log.Printf("Failed to add new directory %s: %v", event.Name, err)
				}
			}
		}
		return
	}

	w.debounceEvent(ChangeEvent{Kind: eventKind(event), Path: event.Name})
}

func eventKind(event fsnotify.Event) ChangeKind {
	switch {
	case event.Has(fsnotify.Create):
		return Created
	case event.Has(fsnotify.Write):
		return Modified
	case event.Has(fsnotify.Remove):
		return Deleted
	case event.Has(fsnotify.Rename):
		return Renamed
	default:
		return Modified
	}
}

// debounceEvent coalesces one source event and restarts the window.
func (w *Watcher) debounceEvent(event ChangeEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending.add(event)

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	batch := w.pending.take()
	w.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	w.deliver(batch)
}

// emitFullReload bypasses the debounce: pending source events ride along so
// they are not lost, and the reload event leads the batch.
func (w *Watcher) emitFullReload(event ChangeEvent) {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	pending := w.pending.take()
	w.mu.Unlock()

	w.deliver(append([]ChangeEvent{event}, pending...))
}

func (w *Watcher) deliver(batch []ChangeEvent) {
	select {
	case <-w.done:
	case w.batches <- batch:
	}
}

// coalescer accumulates per-path events between flushes. The last event for
// a path wins its kind, except that a rename's old path survives follow-up
// events fsnotify reports for the same path. Entry order is first-arrival
// order and determines batch order.
type coalescer struct {
	events map[string]ChangeEvent
	order  []string
}

func newCoalescer() *coalescer {
	return &coalescer{events: make(map[string]ChangeEvent)}
}

func (c *coalescer) add(event ChangeEvent) {
	existing, ok := c.events[event.Path]
	if !ok {
		c.order = append(c.order, event.Path)
		c.events[event.Path] = event
		return
	}

	merged := event
	if existing.Kind == Renamed && merged.OldPath == "" {
		merged.OldPath = existing.OldPath
		if merged.OldPath == "" {
			merged.OldPath = existing.Path
		}
	}
	c.events[event.Path] = merged
}

func (c *coalescer) take() []ChangeEvent {
	if len(c.order) == 0 {
		return nil
	}
	batch := make([]ChangeEvent, 0, len(c.order))
	for _, path := range c.order {
		batch = append(batch, c.events[path])
	}
	c.events = make(map[string]ChangeEvent)
	c.order = nil
	return batch
}
