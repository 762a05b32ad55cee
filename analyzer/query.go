package analyzer

import (
	"sort"

	sitter "github.com/smacker/go-tree-sitter"
)

// SymbolAt resolves the symbol referenced or declared at a 1-based position.
// Returns ErrNoSymbol when the position does not land on an identifier or the
// identifier resolves to nothing declared in the workspace.
func (s *State) SymbolAt(file string, line, column int) (*Symbol, error) {
	entry, ok := s.entries[file]
	if !ok {
		return nil, ErrNoSymbol
	}
	if line < 1 || column < 1 {
		return nil, ErrNoSymbol
	}

	point := sitter.Point{Row: uint32(line - 1), Column: uint32(column - 1)}
	node := entry.tree.RootNode().NamedDescendantForPointRange(point, point)
	if node == nil || node.Type() != "identifier" {
		return nil, ErrNoSymbol
	}

	name := node.Content(entry.text)
	nodeLine := int(node.StartPoint().Row) + 1
	nodeColumn := int(node.StartPoint().Column) + 1

	// The position may sit on a declaration name itself.
	for _, sym := range entry.symbols {
		if sym.Line == nodeLine && sym.Column == nodeColumn && sym.Name == name {
			return sym, nil
		}
	}

	return s.resolveName(name, file, line)
}

// resolveName picks the best declaration for a simple name seen at a usage
// site: a member of the enclosing type wins, then any declaration in the same
// file, then the first declaration in document order.
func (s *State) resolveName(name, file string, line int) (*Symbol, error) {
	candidates := s.byName[name]
	if len(candidates) == 0 {
		return nil, ErrNoSymbol
	}

	enclosing := s.enclosingType(file, line)

	best := candidates[0]
	bestScore := -1
	for _, cand := range candidates {
		score := 0
		if cand.File == file {
			score += 1
		}
		if enclosing != "" && cand.ContainingType == enclosing {
			score += 4
		}
		if enclosing != "" && cand.FullName == enclosing+"."+cand.Name {
			score += 2
		}
		if score > bestScore {
			best = cand
			bestScore = score
		}
	}
	return best, nil
}

// enclosingType returns the full name of the innermost type declaration
// covering the given line of a file, or "".
func (s *State) enclosingType(file string, line int) string {
	entry, ok := s.entries[file]
	if !ok {
		return ""
	}

	best := ""
	bestStart := -1
	for _, sym := range entry.symbols {
		if !sym.IsType() {
			continue
		}
		if sym.Line <= line && line <= sym.ExtentEndLine && sym.Line > bestStart {
			best = sym.FullName
			bestStart = sym.Line
		}
	}
	return best
}

// Declarations returns every declaration sharing the symbol's full name, in
// document order. Partial types declare one logical symbol in several places.
func (s *State) Declarations(sym *Symbol) []*Symbol {
	decls := s.byFullName[sym.FullName]
	if len(decls) == 0 {
		return []*Symbol{sym}
	}
	return decls
}

// References returns every usage of the symbol's name outside declaration
// name tokens, ordered by file then position.
func (s *State) References(sym *Symbol) []*Reference {
	return s.collectRefs(func(r *Reference) bool {
		return r.Name == sym.Name && !r.DeclName
	})
}

// Callers returns the call sites invoking the symbol.
func (s *State) Callers(sym *Symbol) []*Reference {
	return s.collectRefs(func(r *Reference) bool {
		return r.Name == sym.Name && r.Invocation
	})
}

// Callees returns the declarations invoked from inside the symbol's body, in
// call-site order. Calls that resolve to nothing in the workspace are
// skipped.
func (s *State) Callees(sym *Symbol) []*Symbol {
	calls := s.collectRefs(func(r *Reference) bool {
		return r.Caller == sym.FullName && r.Invocation
	})

	var out []*Symbol
	for _, call := range calls {
		target, err := s.resolveName(call.Name, call.File, call.Line)
		if err != nil {
			continue
		}
		out = append(out, target)
	}
	return out
}

func (s *State) collectRefs(match func(*Reference) bool) []*Reference {
	var out []*Reference
	for _, path := range s.sortedPaths() {
		for _, r := range s.entries[path].refs {
			if match(r) {
				out = append(out, r)
			}
		}
	}
	return out
}

func (s *State) sortedPaths() []string {
	paths := make([]string, 0, len(s.entries))
	for p := range s.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Implementations returns, for a type, the types deriving from or
// implementing it; for an interface member or virtual member, the members
// implementing or overriding it.
func (s *State) Implementations(sym *Symbol) []*Symbol {
	if sym.IsType() {
		return s.derivedTypes(sym.Name)
	}

	container := s.typeSymbol(sym.ContainingType)
	if container == nil {
		return nil
	}

	var out []*Symbol
	for _, derived := range s.derivedTypes(container.Name) {
		for _, member := range s.membersOf(derived.FullName) {
			if member.Name != sym.Name || member.Kind != sym.Kind {
				continue
			}
			if container.Kind == KindInterface || member.HasModifier("override") {
				out = append(out, member)
			}
		}
	}
	return out
}

// derivedTypes returns all types transitively listing name among their bases.
func (s *State) derivedTypes(name string) []*Symbol {
	seen := make(map[string]bool)
	frontier := []string{name}
	var out []*Symbol

	for len(frontier) > 0 {
		target := frontier[0]
		frontier = frontier[1:]

		for _, path := range s.sortedPaths() {
			for _, sym := range s.entries[path].symbols {
				if !sym.IsType() || seen[sym.FullName] {
					continue
				}
				for _, base := range sym.BaseTypes {
					if base == target {
						seen[sym.FullName] = true
						out = append(out, sym)
						frontier = append(frontier, sym.Name)
						break
					}
				}
			}
		}
	}
	return out
}

// membersOf returns the member declarations of a type, by full type name.
func (s *State) membersOf(typeFullName string) []*Symbol {
	var out []*Symbol
	for _, path := range s.sortedPaths() {
		for _, sym := range s.entries[path].symbols {
			if sym.ContainingType == typeFullName && !sym.IsType() {
				out = append(out, sym)
			}
		}
	}
	return out
}

// typeSymbol resolves a type by full name, falling back to simple name.
func (s *State) typeSymbol(name string) *Symbol {
	if name == "" {
		return nil
	}
	for _, sym := range s.byFullName[name] {
		if sym.IsType() {
			return sym
		}
	}
	for _, sym := range s.byName[simpleName(name)] {
		if sym.IsType() {
			return sym
		}
	}
	return nil
}

func simpleName(fullName string) string {
	for i := len(fullName) - 1; i >= 0; i-- {
		if fullName[i] == '.' {
			return fullName[i+1:]
		}
	}
	return fullName
}

// BaseDefinition returns the single symbol the given member overrides or
// implements: the base virtual/abstract member for an override, else the
// interface-declared member for an implicit interface implementation.
// Returns ErrNoSymbol when neither exists.
func (s *State) BaseDefinition(sym *Symbol) (*Symbol, error) {
	if sym.IsType() {
		return nil, ErrNoSymbol
	}

	container := s.typeSymbol(sym.ContainingType)
	if container == nil {
		return nil, ErrNoSymbol
	}

	if sym.HasModifier("override") {
		if base := s.baseMember(container, sym, func(m *Symbol) bool {
			return m.HasModifier("virtual") || m.HasModifier("abstract") || m.HasModifier("override")
		}); base != nil {
			return base, nil
		}
		return nil, ErrNoSymbol
	}

	if base := s.interfaceMember(container, sym); base != nil {
		return base, nil
	}
	return nil, ErrNoSymbol
}

// baseMember walks the base-class chain looking for a same-named member
// accepted by the predicate.
func (s *State) baseMember(container, sym *Symbol, accept func(*Symbol) bool) *Symbol {
	seen := make(map[string]bool)
	current := container

	for current != nil && !seen[current.FullName] {
		seen[current.FullName] = true

		var next *Symbol
		for _, baseName := range current.BaseTypes {
			base := s.typeSymbol(baseName)
			if base == nil || base.Kind == KindInterface {
				continue
			}
			for _, member := range s.membersOf(base.FullName) {
				if member.Name == sym.Name && member.Kind == sym.Kind && accept(member) {
					return member
				}
			}
			next = base
			break
		}
		current = next
	}
	return nil
}

// interfaceMember finds a same-named member declared by any interface the
// container lists among its bases.
func (s *State) interfaceMember(container, sym *Symbol) *Symbol {
	for _, baseName := range container.BaseTypes {
		base := s.typeSymbol(baseName)
		if base == nil || base.Kind != KindInterface {
			continue
		}
		for _, member := range s.membersOf(base.FullName) {
			if member.Name == sym.Name && member.Kind == sym.Kind {
				return member
			}
		}
	}
	return nil
}

// Diagnostics returns parse findings for one document, or for the whole
// workspace when file is empty.
func (s *State) Diagnostics(file string) []Diagnostic {
	if file != "" {
		entry, ok := s.entries[file]
		if !ok {
			return nil
		}
		out := make([]Diagnostic, len(entry.diagnostics))
		copy(out, entry.diagnostics)
		return out
	}

	var out []Diagnostic
	for _, path := range s.sortedPaths() {
		out = append(out, s.entries[path].diagnostics...)
	}
	return out
}
