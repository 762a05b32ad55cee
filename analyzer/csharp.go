package analyzer

import (
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// maxDiagnosticsPerFile caps how many parse findings one document reports.
const maxDiagnosticsPerFile = 100

// extraction walks one parse tree and collects symbols, identifier
// references and parse diagnostics.
type extraction struct {
	path    string
	content []byte

	symbols     []*Symbol
	refs        []*Reference
	diagnostics []Diagnostic

	// declNames maps the start byte of every declaration-name token so the
	// identifier pass can flag them instead of double-counting as usages.
	declNames map[uint32]bool
}

func newExtraction(path string, content []byte) *extraction {
	return &extraction{
		path:      path,
		content:   content,
		declNames: make(map[uint32]bool),
	}
}

type walkContext struct {
	namespace string
	typeSym   *Symbol
	memberSym *Symbol
}

func (c walkContext) containerFullName() string {
	if c.typeSym != nil {
		return c.typeSym.FullName
	}
	return c.namespace
}

func (c walkContext) callerFullName() string {
	if c.memberSym != nil {
		return c.memberSym.FullName
	}
	return ""
}

func (e *extraction) walk(root *sitter.Node) {
	e.walkNode(root, walkContext{})
	e.collectParseErrors(root)
}

func (e *extraction) walkNode(node *sitter.Node, ctx walkContext) {
	switch node.Type() {
	case "namespace_declaration", "file_scoped_namespace_declaration":
		name := e.nodeTypeName(node.ChildByFieldName("name"))
		if name != "" {
			if ctx.namespace != "" {
				name = ctx.namespace + "." + name
			}
			ctx.namespace = name
		}

	case "class_declaration":
		if sym := e.recordType(node, KindClass, ctx); sym != nil {
			ctx.typeSym = sym
		}
	case "interface_declaration":
		if sym := e.recordType(node, KindInterface, ctx); sym != nil {
			ctx.typeSym = sym
		}
	case "struct_declaration":
		if sym := e.recordType(node, KindStruct, ctx); sym != nil {
			ctx.typeSym = sym
		}
	case "record_declaration", "record_struct_declaration":
		if sym := e.recordType(node, KindRecord, ctx); sym != nil {
			ctx.typeSym = sym
		}
	case "enum_declaration":
		if sym := e.recordType(node, KindEnum, ctx); sym != nil {
			ctx.typeSym = sym
		}
	case "delegate_declaration":
		e.recordMember(node, KindDelegate, ctx)

	case "method_declaration":
		if sym := e.recordMember(node, KindMethod, ctx); sym != nil {
			ctx.memberSym = sym
		}
	case "constructor_declaration":
		if sym := e.recordMember(node, KindConstructor, ctx); sym != nil {
			ctx.memberSym = sym
		}
	case "property_declaration":
		if sym := e.recordMember(node, KindProperty, ctx); sym != nil {
			ctx.memberSym = sym
		}
	case "field_declaration", "event_field_declaration":
		e.recordFieldLike(node, ctx)
	case "enum_member_declaration":
		e.recordMember(node, KindEnumMember, ctx)

	case "identifier":
		e.recordIdentifier(node, ctx)
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		e.walkNode(node.Child(i), ctx)
	}
}

// recordType extracts a type declaration (class, interface, struct, record,
// enum) with its base list.
func (e *extraction) recordType(node *sitter.Node, kind string, ctx walkContext) *Symbol {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}

	sym := e.newSymbol(node, nameNode, kind, ctx)
	sym.BaseTypes = e.baseTypes(node)
	e.symbols = append(e.symbols, sym)
	return sym
}

// recordMember extracts a named member declaration.
func (e *extraction) recordMember(node *sitter.Node, kind string, ctx walkContext) *Symbol {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}

	sym := e.newSymbol(node, nameNode, kind, ctx)
	sym.ReturnType = e.returnType(node)
	e.symbols = append(e.symbols, sym)
	return sym
}

// recordFieldLike extracts field and event declarations, which nest their
// names inside variable declarators.
func (e *extraction) recordFieldLike(node *sitter.Node, ctx walkContext) {
	kind := KindField
	if node.Type() == "event_field_declaration" {
		kind = KindEvent
	}

	decl := findChildByType(node, "variable_declaration")
	if decl == nil {
		return
	}

	for i := 0; i < int(decl.ChildCount()); i++ {
		child := decl.Child(i)
		if child.Type() != "variable_declarator" {
			continue
		}
		nameNode := child.ChildByFieldName("name")
		if nameNode == nil {
			nameNode = findChildByType(child, "identifier")
		}
		if nameNode == nil {
			continue
		}
		sym := e.newSymbol(node, nameNode, kind, ctx)
		sym.ReturnType = e.nodeTypeName(decl.ChildByFieldName("type"))
		e.symbols = append(e.symbols, sym)
	}
}

func (e *extraction) newSymbol(decl, nameNode *sitter.Node, kind string, ctx walkContext) *Symbol {
	name := nameNode.Content(e.content)
	e.declNames[nameNode.StartByte()] = true

	container := ctx.containerFullName()
	fullName := name
	if container != "" {
		fullName = container + "." + name
	}

	containingType := ""
	if ctx.typeSym != nil {
		containingType = ctx.typeSym.FullName
	}

	modifiers := e.modifiers(decl)

	return &Symbol{
		Name:                name,
		Kind:                kind,
		FullName:            fullName,
		File:                e.path,
		Line:                int(nameNode.StartPoint().Row) + 1,
		Column:              int(nameNode.StartPoint().Column) + 1,
		EndLine:             int(nameNode.EndPoint().Row) + 1,
		EndColumn:           int(nameNode.EndPoint().Column) + 1,
		ExtentEndLine:       int(decl.EndPoint().Row) + 1,
		Signature:           e.signature(decl),
		Documentation:       e.docComment(decl),
		ContainingType:      containingType,
		ContainingNamespace: ctx.namespace,
		Accessibility:       accessibility(modifiers, kind),
		Modifiers:           modifiers,
	}
}

// recordIdentifier captures one identifier usage with its role.
func (e *extraction) recordIdentifier(node *sitter.Node, ctx walkContext) {
	name := node.Content(e.content)
	if name == "" {
		return
	}

	ref := &Reference{
		Name:      name,
		File:      e.path,
		Line:      int(node.StartPoint().Row) + 1,
		Column:    int(node.StartPoint().Column) + 1,
		EndLine:   int(node.EndPoint().Row) + 1,
		EndColumn: int(node.EndPoint().Column) + 1,
		Caller:    ctx.callerFullName(),
	}

	if e.declNames[node.StartByte()] {
		ref.DeclName = true
	} else if isInvocationCallee(node) {
		ref.Invocation = true
	}

	e.refs = append(e.refs, ref)
}

// isInvocationCallee reports whether the identifier is the called name of an
// invocation or object-creation expression.
func isInvocationCallee(node *sitter.Node) bool {
	parent := node.Parent()
	if parent == nil {
		return false
	}

	switch parent.Type() {
	case "invocation_expression":
		fn := parent.ChildByFieldName("function")
		return fn != nil && fn.StartByte() == node.StartByte()
	case "object_creation_expression", "implicit_object_creation_expression":
		typ := parent.ChildByFieldName("type")
		return typ != nil && typ.StartByte() == node.StartByte()
	case "member_access_expression":
		nameField := parent.ChildByFieldName("name")
		if nameField == nil || nameField.StartByte() != node.StartByte() {
			return false
		}
		gp := parent.Parent()
		if gp == nil {
			return false
		}
		if gp.Type() != "invocation_expression" {
			return false
		}
		fn := gp.ChildByFieldName("function")
		return fn != nil && fn.StartByte() == parent.StartByte()
	case "generic_name":
		// Foo<T>(...) or new Foo<T>(...): the generic name wraps the identifier.
		return isInvocationCallee(parent)
	}
	return false
}

func (e *extraction) modifiers(decl *sitter.Node) []string {
	var mods []string
	for i := 0; i < int(decl.ChildCount()); i++ {
		child := decl.Child(i)
		if child.Type() == "modifier" {
			mods = append(mods, child.Content(e.content))
		}
	}
	return mods
}

func accessibility(modifiers []string, kind string) string {
	var hasPublic, hasPrivate, hasProtected, hasInternal bool
	for _, m := range modifiers {
		switch m {
		case "public":
			hasPublic = true
		case "private":
			hasPrivate = true
		case "protected":
			hasProtected = true
		case "internal":
			hasInternal = true
		}
	}

	switch {
	case hasPublic:
		return "public"
	case hasProtected && hasInternal:
		return "protected internal"
	case hasProtected:
		return "protected"
	case hasInternal:
		return "internal"
	case hasPrivate:
		return "private"
	}

	// C# defaults: top-level types are internal, members are private.
	switch kind {
	case KindClass, KindInterface, KindStruct, KindRecord, KindEnum, KindDelegate:
		return "internal"
	case KindEnumMember:
		return "public"
	}
	return "private"
}

// signature renders the declaration header: everything up to the body,
// whitespace-collapsed.
func (e *extraction) signature(decl *sitter.Node) string {
	end := decl.EndByte()
	if body := decl.ChildByFieldName("body"); body != nil {
		end = body.StartByte()
	} else if accessors := findChildByType(decl, "accessor_list"); accessors != nil {
		end = accessors.StartByte()
	}

	start := decl.StartByte()
	if end > uint32(len(e.content)) {
		end = uint32(len(e.content))
	}
	if start >= end {
		return ""
	}
	return collapseWhitespace(string(e.content[start:end]))
}

// docComment gathers the contiguous run of /// comments immediately above
// the declaration.
func (e *extraction) docComment(decl *sitter.Node) string {
	var lines []string
	for prev := decl.PrevNamedSibling(); prev != nil; prev = prev.PrevNamedSibling() {
		if prev.Type() != "comment" {
			break
		}
		text := prev.Content(e.content)
		if !strings.HasPrefix(text, "///") {
			break
		}
		lines = append(lines, strings.TrimSpace(strings.TrimPrefix(text, "///")))
	}
	if len(lines) == 0 {
		return ""
	}
	// Collected bottom-up; restore source order.
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return strings.Join(lines, "\n")
}

func (e *extraction) returnType(decl *sitter.Node) string {
	if t := decl.ChildByFieldName("returns"); t != nil {
		return collapseWhitespace(t.Content(e.content))
	}
	if t := decl.ChildByFieldName("type"); t != nil {
		return collapseWhitespace(t.Content(e.content))
	}
	return ""
}

// baseTypes returns the simple names listed after the colon of a type
// declaration.
func (e *extraction) baseTypes(decl *sitter.Node) []string {
	bases := decl.ChildByFieldName("bases")
	if bases == nil {
		bases = findChildByType(decl, "base_list")
	}
	if bases == nil {
		return nil
	}

	var names []string
	for i := 0; i < int(bases.NamedChildCount()); i++ {
		if name := e.nodeTypeName(bases.NamedChild(i)); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// nodeTypeName extracts the simple name of a type reference node, taking the
// rightmost identifier of qualified names and dropping type arguments.
func (e *extraction) nodeTypeName(node *sitter.Node) string {
	if node == nil {
		return ""
	}
	switch node.Type() {
	case "identifier":
		return node.Content(e.content)
	case "qualified_name":
		if name := node.ChildByFieldName("name"); name != nil {
			return e.nodeTypeName(name)
		}
	case "generic_name":
		if id := findChildByType(node, "identifier"); id != nil {
			return id.Content(e.content)
		}
	}
	if id := findFirstDescendant(node, "identifier"); id != nil {
		return id.Content(e.content)
	}
	return ""
}

func (e *extraction) collectParseErrors(root *sitter.Node) {
	if !root.HasError() {
		return
	}
	e.walkParseErrors(root)
}

func (e *extraction) walkParseErrors(node *sitter.Node) {
	if len(e.diagnostics) >= maxDiagnosticsPerFile {
		return
	}

	switch {
	case node.IsError():
		e.diagnostics = append(e.diagnostics, Diagnostic{
			ID:        "RQ1001",
			Severity:  SeverityError,
			Message:   fmt.Sprintf("syntax error near %q", errorSnippet(node, e.content)),
			File:      e.path,
			Line:      int(node.StartPoint().Row) + 1,
			Column:    int(node.StartPoint().Column) + 1,
			EndLine:   int(node.EndPoint().Row) + 1,
			EndColumn: int(node.EndPoint().Column) + 1,
		})
		return
	case node.IsMissing():
		e.diagnostics = append(e.diagnostics, Diagnostic{
			ID:        "RQ1002",
			Severity:  SeverityError,
			Message:   fmt.Sprintf("missing %q", node.Type()),
			File:      e.path,
			Line:      int(node.StartPoint().Row) + 1,
			Column:    int(node.StartPoint().Column) + 1,
			EndLine:   int(node.EndPoint().Row) + 1,
			EndColumn: int(node.EndPoint().Column) + 1,
		})
		return
	}

	if !node.HasError() {
		return
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		e.walkParseErrors(node.Child(i))
	}
}

func errorSnippet(node *sitter.Node, content []byte) string {
	text := collapseWhitespace(node.Content(content))
	if len(text) > 24 {
		text = text[:24] + "..."
	}
	return text
}

func findChildByType(node *sitter.Node, nodeType string) *sitter.Node {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() == nodeType {
			return child
		}
	}
	return nil
}

func findFirstDescendant(node *sitter.Node, nodeType string) *sitter.Node {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() == nodeType {
			return child
		}
		if found := findFirstDescendant(child, nodeType); found != nil {
			return found
		}
	}
	return nil
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
