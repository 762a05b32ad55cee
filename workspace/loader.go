package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/roslynquery/roslynquery/analyzer"
)

// SourceExtensions are the document patterns loaded into a snapshot.
var SourceExtensions = map[string]bool{
	".cs":  true,
	".csx": true,
}

// ManifestExtensions are the project-format patterns whose changes force a
// full reload.
var ManifestExtensions = map[string]bool{
	".csproj":  true,
	".sln":     true,
	".slnx":    true,
	".props":   true,
	".targets": true,
}

// skipDirs are directories never scanned for sources.
var skipDirs = map[string]bool{
	"bin":  true,
	"obj":  true,
	".git": true,
	".vs":  true,
}

// slnProjectLine matches one project entry of a solution file:
//
//	Project("{GUID}") = "Name", "rel\path\Name.csproj", "{GUID}"
var slnProjectLine = regexp.MustCompile(`(?m)^Project\("\{[^}]+\}"\)\s*=\s*"([^"]+)",\s*"([^"]+)"`)

// IsManifestPath reports whether the path looks like a project or solution
// manifest.
func IsManifestPath(path string) bool {
	return ManifestExtensions[strings.ToLower(filepath.Ext(path))]
}

// IsSourcePath reports whether the path looks like a source document.
func IsSourcePath(path string) bool {
	return SourceExtensions[strings.ToLower(filepath.Ext(path))]
}

// LoadError marks a malformed or unreadable workspace. The daemon maps it to
// its dedicated exit code.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load workspace %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// loadResult is one pass over the workspace on disk.
type loadResult struct {
	root      string
	projects  []Project
	documents map[string]*Document
}

// loadFromDisk resolves the workspace manifest, enumerates its projects and
// reads every source document.
func loadFromDisk(workspacePath string) (*loadResult, error) {
	manifest, err := resolveManifest(workspacePath)
	if err != nil {
		return nil, &LoadError{Path: workspacePath, Err: err}
	}

	root := filepath.Dir(manifest)
	projects, err := resolveProjects(manifest)
	if err != nil {
		return nil, &LoadError{Path: workspacePath, Err: err}
	}

	documents := make(map[string]*Document)
	for _, proj := range projects {
		if err := collectSources(proj.Dir, documents); err != nil {
			return nil, &LoadError{Path: workspacePath, Err: err}
		}
	}

	return &loadResult{root: root, projects: projects, documents: documents}, nil
}

// resolveManifest finds the solution or project manifest for a workspace
// path, which may name the manifest directly or a directory containing one.
func resolveManifest(workspacePath string) (string, error) {
	info, err := os.Stat(workspacePath)
	if err != nil {
		return "", err
	}

	if !info.IsDir() {
		if !IsManifestPath(workspacePath) {
			return "", fmt.Errorf("%s is not a solution or project manifest", workspacePath)
		}
		return workspacePath, nil
	}

	entries, err := os.ReadDir(workspacePath)
	if err != nil {
		return "", err
	}

	var solutions, projects []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".sln", ".slnx":
			solutions = append(solutions, filepath.Join(workspacePath, entry.Name()))
		case ".csproj":
			projects = append(projects, filepath.Join(workspacePath, entry.Name()))
		}
	}
	sort.Strings(solutions)
	sort.Strings(projects)

	if len(solutions) > 0 {
		return solutions[0], nil
	}
	if len(projects) > 0 {
		return projects[0], nil
	}
	return "", fmt.Errorf("no .sln or .csproj found in %s", workspacePath)
}

// resolveProjects expands a manifest into project handles. A solution lists
// its projects; a project manifest is its own single entry.
func resolveProjects(manifest string) ([]Project, error) {
	ext := strings.ToLower(filepath.Ext(manifest))
	if ext != ".sln" && ext != ".slnx" {
		canonical, err := CanonicalPath(manifest)
		if err != nil {
			return nil, err
		}
		return []Project{{
			Name: strings.TrimSuffix(filepath.Base(manifest), filepath.Ext(manifest)),
			Path: canonical,
			Dir:  filepath.Dir(canonical),
		}}, nil
	}

	data, err := os.ReadFile(manifest)
	if err != nil {
		return nil, err
	}

	solutionDir := filepath.Dir(manifest)
	var projects []Project
	for _, match := range slnProjectLine.FindAllStringSubmatch(string(data), -1) {
		name, rel := match[1], match[2]
		if !strings.EqualFold(filepath.Ext(rel), ".csproj") {
			// Solution folders and non-C# projects are listed the same way.
			continue
		}
		path := filepath.Join(solutionDir, filepath.FromSlash(strings.ReplaceAll(rel, `\`, "/")))
		canonical, err := CanonicalPath(path)
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(canonical); err != nil {
			return nil, fmt.Errorf("solution references missing project %s: %w", rel, err)
		}
		projects = append(projects, Project{Name: name, Path: canonical, Dir: filepath.Dir(canonical)})
	}

	if len(projects) == 0 {
		return nil, fmt.Errorf("solution %s lists no C# projects", manifest)
	}
	return projects, nil
}

// collectSources walks a project directory adding every source document.
// SDK-style projects include all sources beneath the project directory.
func collectSources(dir string, documents map[string]*Document) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip inaccessible paths
		}
		if info.IsDir() {
			name := filepath.Base(path)
			if skipDirs[name] || (strings.HasPrefix(name, ".") && path != dir) {
				return filepath.SkipDir
			}
			return nil
		}
		if !IsSourcePath(path) {
			return nil
		}

		canonical, err := CanonicalPath(path)
		if err != nil {
			return nil
		}
		if _, ok := documents[canonical]; ok {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		documents[canonical] = &Document{Path: canonical, Text: string(data)}
		return nil
	})
}

// buildSnapshot analyzes a load result into a publishable snapshot.
func buildSnapshot(ctx context.Context, version int64, loaded *loadResult) (*Snapshot, error) {
	docs := make(map[string]string, len(loaded.documents))
	for path, doc := range loaded.documents {
		docs[path] = doc.Text
	}

	state, err := analyzer.Build(ctx, docs)
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		Version:   version,
		Root:      loaded.root,
		Projects:  loaded.projects,
		Documents: loaded.documents,
		state:     state,
	}, nil
}
