// Package workspace maintains the loaded view of a C# solution: canonical
// workspace identity, immutable snapshots of the parsed projects, and the
// manager that publishes new snapshots while readers hold old ones.
package workspace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// CanonicalPath resolves p to its canonical absolute form: absolute, symlinks
// resolved when the path exists, cleaned, and case-folded on platforms whose
// filesystems are case-insensitive by default. Two aliases that canonicalize
// to the same bytes are the same workspace identity.
func CanonicalPath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path %s: %w", p, err)
	}

	// EvalSymlinks fails on paths that do not exist yet; keep the absolute
	// form in that case so key derivation still works for status queries.
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	abs = filepath.Clean(abs)
	if foldCase() {
		abs = strings.ToLower(abs)
	}
	return abs, nil
}

func foldCase() bool {
	return runtime.GOOS == "windows" || runtime.GOOS == "darwin"
}

// Key derives the stable workspace key: the hex-encoded first 8 bytes of the
// SHA-256 of the canonical path. Collisions between distinct canonical paths
// are vanishingly unlikely; collisions between aliases of one workspace are
// the caller's responsibility (supply canonical paths).
func Key(canonicalPath string) string {
	sum := sha256.Sum256([]byte(canonicalPath))
	return hex.EncodeToString(sum[:8])
}

// KeyFor canonicalizes p and returns its key.
func KeyFor(p string) (string, error) {
	canonical, err := CanonicalPath(p)
	if err != nil {
		return "", err
	}
	return Key(canonical), nil
}

// IsUnder reports whether path is root or lies beneath root. Both arguments
// must already be canonical.
func IsUnder(root, path string) bool {
	if path == root {
		return true
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// DisplayPath renders path relative to root when it lies beneath it,
// otherwise returns path unchanged. Used for every location sent to clients.
func DisplayPath(root, path string) string {
	if IsUnder(root, path) {
		if rel, err := filepath.Rel(root, path); err == nil {
			return filepath.ToSlash(rel)
		}
	}
	return path
}

// ResolveDocumentPath canonicalizes a client-supplied file reference that may
// be absolute or workspace-root-relative.
func ResolveDocumentPath(root, file string) (string, error) {
	if file == "" {
		return "", fmt.Errorf("empty file path")
	}
	p := file
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, filepath.FromSlash(file))
	}
	return CanonicalPath(p)
}

// RuntimeDir returns the per-user runtime directory holding socket, PID and
// log files, creating it with owner-only permissions. The user runtime dir
// environment variable wins when it names an existing directory; otherwise
// the system temporary directory is used.
func RuntimeDir() (string, error) {
	base := os.TempDir()
	if xdg := os.Getenv("XDG_RUNTIME_DIR"); xdg != "" {
		if info, err := os.Stat(xdg); err == nil && info.IsDir() {
			base = xdg
		}
	}

	dir := filepath.Join(base, "roslyn-query")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create runtime directory: %w", err)
	}
	return dir, nil
}
