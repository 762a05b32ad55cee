package workspace

import (
	"sync/atomic"

	"github.com/roslynquery/roslynquery/analyzer"
)

// Project is one loaded project handle.
type Project struct {
	Name string
	Path string // canonical path to the project manifest
	Dir  string // canonical project directory
}

// Document is one source document in a snapshot.
type Document struct {
	Path string // canonical absolute path
	Text string
}

// Snapshot is an immutable, versioned view of the workspace. Fields are never
// mutated after publication; a new version is published instead. The analyzer
// state is released when the snapshot has been retired and the last handle
// dropped.
type Snapshot struct {
	Version   int64
	Root      string
	Projects  []Project
	Documents map[string]*Document

	state *analyzer.State

	refs    atomic.Int32
	retired atomic.Bool
	closed  atomic.Bool
}

// State exposes the analyzer state for query execution. Valid for as long as
// the caller holds a Handle on this snapshot.
func (s *Snapshot) State() *analyzer.State {
	return s.state
}

// HasDocument reports whether the canonical path is part of the snapshot.
func (s *Snapshot) HasDocument(path string) bool {
	_, ok := s.Documents[path]
	return ok
}

func (s *Snapshot) acquire() {
	s.refs.Add(1)
}

func (s *Snapshot) release() {
	if s.refs.Add(-1) == 0 && s.retired.Load() {
		s.close()
	}
}

// retire marks the snapshot as superseded. Resources are released once the
// last outstanding handle is dropped; with no readers they are released now.
func (s *Snapshot) retire() {
	s.retired.Store(true)
	if s.refs.Load() == 0 {
		s.close()
	}
}

func (s *Snapshot) close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	if s.state != nil {
		s.state.Close()
	}
}

// Handle is a reference-counted reader lease on one snapshot. The snapshot
// and its analyzer state stay valid until Release, regardless of concurrent
// reloads. Release is idempotent.
type Handle struct {
	snap     *Snapshot
	released atomic.Bool
}

// Snapshot returns the leased snapshot.
func (h *Handle) Snapshot() *Snapshot {
	return h.snap
}

// Release drops the lease. After the snapshot has been retired and all
// handles released, its analyzer resources are freed.
func (h *Handle) Release() {
	if h == nil || !h.released.CompareAndSwap(false, true) {
		return
	}
	h.snap.release()
}
