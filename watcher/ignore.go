package watcher

import (
	"os"
	"path/filepath"

	ignore "github.com/sabhiram/go-gitignore"
)

// defaultIgnoreDirs are never watched regardless of gitignore contents.
// Build output directories churn constantly and never hold workspace sources.
var defaultIgnoreDirs = []string{
	"bin",
	"obj",
	".git",
	".vs",
	"packages",
	"node_modules",
}

// IgnoreMatcher decides which paths the watcher skips. It honors the
// workspace root .gitignore plus built-in and configured patterns.
type IgnoreMatcher struct {
	root      string
	gitignore *ignore.GitIgnore
	extra     *ignore.GitIgnore
	extraDirs []string
}

// NewIgnoreMatcher builds a matcher for the workspace root. extraPatterns
// come from the workspace config and use gitignore syntax.
func NewIgnoreMatcher(root string, extraPatterns []string) *IgnoreMatcher {
	m := &IgnoreMatcher{
		root:      root,
		extraDirs: defaultIgnoreDirs,
	}

	gitignorePath := filepath.Join(root, ".gitignore")
	if _, err := os.Stat(gitignorePath); err == nil {
		if gi, err := ignore.CompileIgnoreFile(gitignorePath); err == nil {
			m.gitignore = gi
		}
	}

	if len(extraPatterns) > 0 {
		m.extra = ignore.CompileIgnoreLines(extraPatterns...)
	}

	return m
}

// ShouldIgnore reports whether the root-relative path is excluded from
// watching.
func (m *IgnoreMatcher) ShouldIgnore(relPath string) bool {
	normalized := filepath.ToSlash(relPath)
	if normalized == "." || normalized == "" {
		return false
	}

	base := filepath.Base(normalized)
	for _, dir := range m.extraDirs {
		if base == dir {
			return true
		}
	}

	if m.gitignore != nil && (m.gitignore.MatchesPath(normalized) || m.gitignore.MatchesPath(normalized+"/")) {
		return true
	}
	if m.extra != nil && (m.extra.MatchesPath(normalized) || m.extra.MatchesPath(normalized+"/")) {
		return true
	}
	return false
}
