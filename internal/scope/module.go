// Package scope classifies the free identifiers of a function literal
// against the module that encloses it.
package scope

import (
	"bytes"
	"strconv"

	"github.com/tdewolff/parse/v2/js"
)

// RefKind is the import form a module reference was bound with.
type RefKind int

const (
	RefDefault RefKind = iota
	RefNamed
	RefNamespace
)

func (k RefKind) String() string {
	switch k {
	case RefNamed:
		return "named"
	case RefNamespace:
		return "namespace"
	default:
		return "default"
	}
}

// ModuleRef is one import binding a function refers to.
type ModuleRef struct {
	Kind     RefKind
	Local    string
	Imported string // exported name, for RefNamed
	Source   string // module specifier as written
}

// declKind classifies a module declaration root.
type declKind int

const (
	declPlain declKind = iota
	declFunction
	declClass
)

// Module indexes the imports and declarations of one parsed module.
type Module struct {
	imports map[string]ModuleRef
	decls   map[*js.Var]declKind
}

// NewModule indexes ast. The index is read-only afterwards and may be
// shared by every call site in the module.
func NewModule(ast *js.AST) *Module {
	m := &Module{
		imports: make(map[string]ModuleRef),
		decls:   make(map[*js.Var]declKind),
	}
	for _, stmt := range ast.List {
		if imp, ok := stmt.(*js.ImportStmt); ok {
			m.addImport(imp)
		}
	}
	js.Walk(&indexer{m: m}, ast)
	return m
}

// Import returns the import binding for a local name.
func (m *Module) Import(local string) (ModuleRef, bool) {
	ref, ok := m.imports[local]
	return ref, ok
}

func (m *Module) addImport(imp *js.ImportStmt) {
	source := Unquote(imp.Module)
	if imp.Default != nil {
		local := string(imp.Default)
		m.imports[local] = ModuleRef{Kind: RefDefault, Local: local, Source: source}
	}
	for _, alias := range imp.List {
		if alias.Binding == nil {
			continue
		}
		local := string(alias.Binding)
		switch {
		case bytes.Equal(alias.Name, []byte("*")):
			m.imports[local] = ModuleRef{Kind: RefNamespace, Local: local, Source: source}
		case alias.Name == nil:
			m.imports[local] = ModuleRef{Kind: RefNamed, Local: local, Imported: local, Source: source}
		case string(alias.Name) == "default":
			m.imports[local] = ModuleRef{Kind: RefDefault, Local: local, Source: source}
		default:
			m.imports[local] = ModuleRef{Kind: RefNamed, Local: local, Imported: Unquote(alias.Name), Source: source}
		}
	}
}

// indexer records which declarations bind callables.
type indexer struct {
	m *Module
}

func (ix *indexer) Enter(n js.INode) js.IVisitor {
	switch n := n.(type) {
	case *js.FuncDecl:
		if n.Name != nil {
			ix.m.decls[root(n.Name)] = declFunction
		}
	case *js.ClassDecl:
		if n.Name != nil {
			ix.m.decls[root(n.Name)] = declClass
		}
	case *js.VarDecl:
		for _, el := range n.List {
			v, ok := el.Binding.(*js.Var)
			if !ok || el.Default == nil {
				continue
			}
			switch unwrap(el.Default).(type) {
			case *js.ArrowFunc, *js.FuncDecl:
				ix.m.decls[root(v)] = declFunction
			case *js.ClassDecl:
				ix.m.decls[root(v)] = declClass
			}
		}
	}
	return ix
}

func (ix *indexer) Exit(js.INode) {}

// root follows a variable's link chain to the declared variable.
func root(v *js.Var) *js.Var {
	for v.Link != nil {
		v = v.Link
	}
	return v
}

func unwrap(e js.IExpr) js.IExpr {
	for {
		g, ok := e.(*js.GroupExpr)
		if !ok {
			return e
		}
		e = g.X
	}
}

// Unquote turns a string literal token (single or double quoted) into its
// value. Anything that is not a quoted literal is returned as-is.
func Unquote(b []byte) string {
	if len(b) < 2 {
		return string(b)
	}
	q := b[0]
	if (q != '"' && q != '\'') || b[len(b)-1] != q {
		return string(b)
	}
	if q == '\'' {
		inner := bytes.ReplaceAll(b[1:len(b)-1], []byte(`\'`), []byte(`'`))
		inner = bytes.ReplaceAll(inner, []byte(`"`), []byte(`\"`))
		b = append(append([]byte{'"'}, inner...), '"')
	}
	if s, err := strconv.Unquote(string(b)); err == nil {
		return s
	}
	return string(b[1 : len(b)-1])
}
