package watcher

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCoalescerOneEntryPerPath(t *testing.T) {
	c := newCoalescer()

	paths := []string{"/ws/a.cs", "/ws/b.cs", "/ws/c.cs"}
	for i := 0; i < 4; i++ {
		for _, p := range paths {
			c.add(ChangeEvent{Kind: Modified, Path: p})
		}
	}

	batch := c.take()
	if len(batch) != len(paths) {
		t.Fatalf("batch size = %d, want %d", len(batch), len(paths))
	}
	for i, event := range batch {
		if event.Path != paths[i] {
			t.Errorf("batch[%d] = %q, want first-arrival order %q", i, event.Path, paths[i])
		}
	}
}

func TestCoalescerLastWriterWinsKind(t *testing.T) {
	c := newCoalescer()

	c.add(ChangeEvent{Kind: Created, Path: "/ws/a.cs"})
	c.add(ChangeEvent{Kind: Modified, Path: "/ws/a.cs"})
	c.add(ChangeEvent{Kind: Deleted, Path: "/ws/a.cs"})

	batch := c.take()
	if len(batch) != 1 {
		t.Fatalf("batch size = %d, want 1", len(batch))
	}
	if batch[0].Kind != Deleted {
		t.Errorf("kind = %v, want Deleted (created-then-deleted collapses)", batch[0].Kind)
	}
}

func TestCoalescerRenamePreservesOldPath(t *testing.T) {
	c := newCoalescer()

	c.add(ChangeEvent{Kind: Renamed, Path: "/ws/old.cs"})
	c.add(ChangeEvent{Kind: Modified, Path: "/ws/old.cs"})

	batch := c.take()
	if len(batch) != 1 {
		t.Fatalf("batch size = %d, want 1", len(batch))
	}
	if batch[0].OldPath != "/ws/old.cs" {
		t.Errorf("OldPath = %q, want the renamed-away path preserved", batch[0].OldPath)
	}
}

func TestCoalescerTakeResets(t *testing.T) {
	c := newCoalescer()
	c.add(ChangeEvent{Kind: Modified, Path: "/ws/a.cs"})

	if got := len(c.take()); got != 1 {
		t.Fatalf("first take = %d events, want 1", got)
	}
	if got := c.take(); got != nil {
		t.Errorf("second take = %v, want nil", got)
	}
}

func TestEventKindString(t *testing.T) {
	tests := []struct {
		kind ChangeKind
		want string
	}{
		{Created, "created"},
		{Modified, "modified"},
		{Deleted, "deleted"},
		{Renamed, "renamed"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestIgnoreMatcherDefaults(t *testing.T) {
	m := NewIgnoreMatcher(t.TempDir(), nil)

	ignored := []string{"bin", "obj", ".git", filepath.Join("src", "bin"), "node_modules"}
	for _, p := range ignored {
		if !m.ShouldIgnore(p) {
			t.Errorf("ShouldIgnore(%q) = false, want true", p)
		}
	}

	kept := []string{"src", filepath.Join("src", "T.cs"), "App.csproj"}
	for _, p := range kept {
		if m.ShouldIgnore(p) {
			t.Errorf("ShouldIgnore(%q) = true, want false", p)
		}
	}
}

func TestIgnoreMatcherHonorsGitignore(t *testing.T) {
	dir := t.TempDir()
	gitignore := "generated/\n*.designer.cs\n"
	if err := os.WriteFile(filepath.Join(dir, ".gitignore"), []byte(gitignore), 0644); err != nil {
		t.Fatalf("write .gitignore failed: %v", err)
	}

	m := NewIgnoreMatcher(dir, nil)

	if !m.ShouldIgnore("generated") {
		t.Error("directory listed in .gitignore should be ignored")
	}
	if !m.ShouldIgnore(filepath.Join("src", "Form1.designer.cs")) {
		t.Error("pattern from .gitignore should apply")
	}
	if m.ShouldIgnore(filepath.Join("src", "Form1.cs")) {
		t.Error("unmatched file should not be ignored")
	}
}

func TestIgnoreMatcherExtraPatterns(t *testing.T) {
	m := NewIgnoreMatcher(t.TempDir(), []string{"third_party/"})

	if !m.ShouldIgnore("third_party") {
		t.Error("configured extra pattern should be honored")
	}
	if m.ShouldIgnore("first_party") {
		t.Error("unconfigured path should not be ignored")
	}
}
