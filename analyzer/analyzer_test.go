package analyzer

import (
	"context"
	"strings"
	"testing"
)

func buildState(t *testing.T, docs map[string]string) *State {
	t.Helper()
	Init()

	st, err := Build(context.Background(), docs)
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}
	t.Cleanup(st.Close)
	return st
}

const greeterSource = `namespace N
{
    class C
    {
        public void M() { }

        public void X()
        {
            M();
        }

        public void Y()
        {
            M();
        }
    }
}
`

func TestBuildExtractsSymbols(t *testing.T) {
	st := buildState(t, map[string]string{"/ws/T.cs": greeterSource})

	if st.DocumentCount() != 1 {
		t.Fatalf("DocumentCount() = %d, want 1", st.DocumentCount())
	}

	tests := []struct {
		name string
		kind string
		line int
	}{
		{"C", KindClass, 3},
		{"M", KindMethod, 5},
		{"X", KindMethod, 7},
		{"Y", KindMethod, 12},
	}
	for _, tt := range tests {
		syms := st.byName[tt.name]
		if len(syms) != 1 {
			t.Fatalf("symbol %q: got %d declarations, want 1", tt.name, len(syms))
		}
		sym := syms[0]
		if sym.Kind != tt.kind {
			t.Errorf("symbol %q: kind = %q, want %q", tt.name, sym.Kind, tt.kind)
		}
		if sym.Line != tt.line {
			t.Errorf("symbol %q: line = %d, want %d", tt.name, sym.Line, tt.line)
		}
	}

	m := st.byName["M"][0]
	if m.FullName != "N.C.M" {
		t.Errorf("FullName = %q, want %q", m.FullName, "N.C.M")
	}
	if m.ContainingType != "N.C" {
		t.Errorf("ContainingType = %q, want %q", m.ContainingType, "N.C")
	}
	if m.ContainingNamespace != "N" {
		t.Errorf("ContainingNamespace = %q, want %q", m.ContainingNamespace, "N")
	}
	if m.Accessibility != "public" {
		t.Errorf("Accessibility = %q, want public", m.Accessibility)
	}
	// "        public void M() { }": name token starts at column 21.
	if m.Column != 21 {
		t.Errorf("Column = %d, want 21", m.Column)
	}
}

func TestSymbolAtCallSiteResolvesDeclaration(t *testing.T) {
	st := buildState(t, map[string]string{"/ws/T.cs": greeterSource})

	// Line 9 is "            M();" with M at column 13.
	sym, err := st.SymbolAt("/ws/T.cs", 9, 13)
	if err != nil {
		t.Fatalf("SymbolAt() failed: %v", err)
	}
	if sym.Name != "M" || sym.Kind != KindMethod {
		t.Errorf("resolved %s (%s), want method M", sym.Name, sym.Kind)
	}
	if sym.Line != 5 {
		t.Errorf("definition line = %d, want 5", sym.Line)
	}
}

func TestSymbolAtDeclarationName(t *testing.T) {
	st := buildState(t, map[string]string{"/ws/T.cs": greeterSource})

	sym, err := st.SymbolAt("/ws/T.cs", 5, 21)
	if err != nil {
		t.Fatalf("SymbolAt() failed: %v", err)
	}
	if sym.Name != "M" || sym.Line != 5 {
		t.Errorf("resolved %s at line %d, want M at line 5", sym.Name, sym.Line)
	}
}

func TestSymbolAtWhitespaceFindsNothing(t *testing.T) {
	st := buildState(t, map[string]string{"/ws/T.cs": greeterSource})

	// Line 4 is "    {"; column 1 is indentation.
	if _, err := st.SymbolAt("/ws/T.cs", 4, 1); err != ErrNoSymbol {
		t.Errorf("SymbolAt(whitespace) error = %v, want ErrNoSymbol", err)
	}
	if _, err := st.SymbolAt("/ws/missing.cs", 1, 1); err != ErrNoSymbol {
		t.Errorf("SymbolAt(unknown file) error = %v, want ErrNoSymbol", err)
	}
}

func TestReferencesFindsAllCallSites(t *testing.T) {
	st := buildState(t, map[string]string{"/ws/T.cs": greeterSource})

	m := st.byName["M"][0]
	refs := st.References(m)
	if len(refs) < 2 {
		t.Fatalf("References(M) = %d sites, want >= 2", len(refs))
	}
	for _, ref := range refs {
		if ref.DeclName {
			t.Errorf("reference at %d:%d is a declaration name", ref.Line, ref.Column)
		}
	}
}

func TestCallersAndCallees(t *testing.T) {
	st := buildState(t, map[string]string{"/ws/T.cs": greeterSource})

	m := st.byName["M"][0]
	callers := st.Callers(m)
	if len(callers) != 2 {
		t.Fatalf("Callers(M) = %d, want 2", len(callers))
	}
	wantCallers := map[string]bool{"N.C.X": false, "N.C.Y": false}
	for _, ref := range callers {
		if _, ok := wantCallers[ref.Caller]; !ok {
			t.Errorf("unexpected caller %q", ref.Caller)
			continue
		}
		wantCallers[ref.Caller] = true
	}
	for name, seen := range wantCallers {
		if !seen {
			t.Errorf("missing caller %q", name)
		}
	}

	x := st.byName["X"][0]
	callees := st.Callees(x)
	if len(callees) != 1 {
		t.Fatalf("Callees(X) = %d, want 1", len(callees))
	}
	if callees[0].Name != "M" {
		t.Errorf("callee = %q, want M", callees[0].Name)
	}
}

const inheritanceSource = `namespace Zoo
{
    interface IAnimal
    {
        void Speak();
    }

    class Animal : IAnimal
    {
        public virtual void Speak() { }
    }

    class Dog : Animal
    {
        public override void Speak() { }
    }
}
`

func TestImplementationsOfInterface(t *testing.T) {
	st := buildState(t, map[string]string{"/ws/Zoo.cs": inheritanceSource})

	iface := st.byName["IAnimal"][0]
	impls := st.Implementations(iface)

	names := make(map[string]bool)
	for _, impl := range impls {
		names[impl.Name] = true
	}
	if !names["Animal"] {
		t.Error("Animal should implement IAnimal")
	}
	if !names["Dog"] {
		t.Error("Dog should be a transitive implementation of IAnimal")
	}
}

func TestImplementationsOfVirtualMember(t *testing.T) {
	st := buildState(t, map[string]string{"/ws/Zoo.cs": inheritanceSource})

	var virtualSpeak *Symbol
	for _, sym := range st.byName["Speak"] {
		if sym.ContainingType == "Zoo.Animal" {
			virtualSpeak = sym
		}
	}
	if virtualSpeak == nil {
		t.Fatal("Animal.Speak not extracted")
	}

	impls := st.Implementations(virtualSpeak)
	if len(impls) != 1 {
		t.Fatalf("Implementations(Animal.Speak) = %d, want 1", len(impls))
	}
	if impls[0].ContainingType != "Zoo.Dog" {
		t.Errorf("implementation in %q, want Zoo.Dog", impls[0].ContainingType)
	}
}

func TestBaseDefinitionOfOverride(t *testing.T) {
	st := buildState(t, map[string]string{"/ws/Zoo.cs": inheritanceSource})

	var overrideSpeak *Symbol
	for _, sym := range st.byName["Speak"] {
		if sym.ContainingType == "Zoo.Dog" {
			overrideSpeak = sym
		}
	}
	if overrideSpeak == nil {
		t.Fatal("Dog.Speak not extracted")
	}
	if !overrideSpeak.HasModifier("override") {
		t.Fatal("Dog.Speak should carry the override modifier")
	}

	base, err := st.BaseDefinition(overrideSpeak)
	if err != nil {
		t.Fatalf("BaseDefinition() failed: %v", err)
	}
	if base.ContainingType != "Zoo.Animal" {
		t.Errorf("base in %q, want Zoo.Animal", base.ContainingType)
	}
}

func TestBaseDefinitionOfInterfaceImplementation(t *testing.T) {
	st := buildState(t, map[string]string{"/ws/Zoo.cs": inheritanceSource})

	var animalSpeak *Symbol
	for _, sym := range st.byName["Speak"] {
		if sym.ContainingType == "Zoo.Animal" {
			animalSpeak = sym
		}
	}
	if animalSpeak == nil {
		t.Fatal("Animal.Speak not extracted")
	}

	base, err := st.BaseDefinition(animalSpeak)
	if err != nil {
		t.Fatalf("BaseDefinition() failed: %v", err)
	}
	if base.ContainingType != "Zoo.IAnimal" {
		t.Errorf("base in %q, want Zoo.IAnimal", base.ContainingType)
	}
}

func TestBaseDefinitionWithoutBase(t *testing.T) {
	st := buildState(t, map[string]string{"/ws/T.cs": greeterSource})

	m := st.byName["M"][0]
	if _, err := st.BaseDefinition(m); err != ErrNoSymbol {
		t.Errorf("BaseDefinition(M) error = %v, want ErrNoSymbol", err)
	}
}

func TestDiagnosticsOnBrokenSource(t *testing.T) {
	st := buildState(t, map[string]string{
		"/ws/Broken.cs": "namespace N { class Broken { public void M( } }\n",
		"/ws/Fine.cs":   "namespace N { class Fine { } }\n",
	})

	broken := st.Diagnostics("/ws/Broken.cs")
	if len(broken) == 0 {
		t.Fatal("expected at least one diagnostic for broken source")
	}
	for _, diag := range broken {
		if diag.Severity != SeverityError {
			t.Errorf("severity = %q, want error", diag.Severity)
		}
		if diag.Line < 1 || diag.Column < 1 {
			t.Errorf("diagnostic position %d:%d is not 1-based", diag.Line, diag.Column)
		}
	}

	if fine := st.Diagnostics("/ws/Fine.cs"); len(fine) != 0 {
		t.Errorf("clean file reported %d diagnostics", len(fine))
	}

	all := st.Diagnostics("")
	if len(all) != len(broken) {
		t.Errorf("workspace diagnostics = %d, want %d", len(all), len(broken))
	}
}

func TestDocCommentAndSignature(t *testing.T) {
	source := `namespace N
{
    class C
    {
        /// Says hello to the caller.
        public string Greet(string name)
        {
            return name;
        }
    }
}
`
	st := buildState(t, map[string]string{"/ws/T.cs": source})

	greet := st.byName["Greet"][0]
	if greet.Documentation != "Says hello to the caller." {
		t.Errorf("Documentation = %q", greet.Documentation)
	}
	if !strings.Contains(greet.Signature, "public string Greet(string name)") {
		t.Errorf("Signature = %q", greet.Signature)
	}
	if greet.ReturnType != "string" {
		t.Errorf("ReturnType = %q, want string", greet.ReturnType)
	}
}

func TestUpdateSharesUnchangedEntries(t *testing.T) {
	Init()
	ctx := context.Background()

	st1, err := Build(ctx, map[string]string{
		"/ws/A.cs": "namespace N { class A { } }\n",
		"/ws/B.cs": "namespace N { class B { } }\n",
	})
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}

	st2, err := st1.Update(ctx, "/ws/A.cs", "namespace N { class A2 { } }\n")
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	defer st2.Close()

	// The predecessor keeps answering from its own view.
	if len(st1.byName["A"]) != 1 {
		t.Error("old state lost symbol A after update")
	}
	if len(st1.byName["A2"]) != 0 {
		t.Error("old state sees the edited symbol")
	}

	// Closing the predecessor must not break shared entries.
	st1.Close()

	if len(st2.byName["A2"]) != 1 {
		t.Error("new state missing edited symbol A2")
	}
	if sym, err := st2.SymbolAt("/ws/B.cs", 1, 21); err != nil || sym.Name != "B" {
		t.Errorf("shared entry unusable after predecessor close: sym=%v err=%v", sym, err)
	}
}

func TestRemoveDropsDocument(t *testing.T) {
	Init()
	ctx := context.Background()

	st1, err := Build(ctx, map[string]string{
		"/ws/A.cs": "namespace N { class A { } }\n",
		"/ws/B.cs": "namespace N { class B { } }\n",
	})
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}
	defer st1.Close()

	st2, err := st1.Remove(ctx, "/ws/A.cs")
	if err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}
	defer st2.Close()

	if st2.HasDocument("/ws/A.cs") {
		t.Error("removed document still present")
	}
	if len(st2.byName["A"]) != 0 {
		t.Error("removed document's symbols still indexed")
	}
	if !st2.HasDocument("/ws/B.cs") {
		t.Error("unrelated document vanished")
	}
}
