package scope

import (
	"fmt"
	"sort"

	"github.com/cryguy/spawn/internal/core"
	"github.com/tdewolff/parse/v2/js"
)

// Capture is what a function literal closes over.
type Capture struct {
	Vars    []string             // captured outer variables, sorted
	Modules map[string]ModuleRef // captured imports by local name
}

// ModuleNames returns the local names of the captured imports, sorted.
func (c *Capture) ModuleNames() []string {
	names := make([]string, 0, len(c.Modules))
	for name := range c.Modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve classifies every identifier referenced inside fn, which must be
// an *js.ArrowFunc or a function expression (*js.FuncDecl).
//
// Locals of fn are ignored, as are unbound globals. Imports become module
// references. Bindings to a function declaration, a class declaration, or
// a variable initialized with a function or class literal fail with a
// *core.CaptureError. Everything else is a captured variable.
func (m *Module) Resolve(fn js.INode) (*Capture, error) {
	switch fn.(type) {
	case *js.ArrowFunc, *js.FuncDecl:
	default:
		return nil, fmt.Errorf("spawn target must be a function literal, got %T", fn)
	}

	locals := make(map[*js.Var]struct{})
	js.Walk(&declCollector{locals: locals}, fn)

	refs := &refCollector{locals: locals, seen: make(map[*js.Var]struct{})}
	js.Walk(refs, fn)

	c := &Capture{Modules: make(map[string]ModuleRef)}
	vars := make(map[string]struct{})
	for _, v := range refs.roots {
		name := string(v.Data)
		if len(name) > 0 && name[0] == '#' {
			continue
		}
		if v.Decl == js.NoDecl {
			if ref, ok := m.imports[name]; ok {
				c.Modules[name] = ref
			}
			continue
		}
		switch m.decls[v] {
		case declFunction:
			return nil, &core.CaptureError{Name: name, Kind: core.CaptureFunction}
		case declClass:
			return nil, &core.CaptureError{Name: name, Kind: core.CaptureClass}
		}
		if v.Decl == js.FunctionDecl {
			return nil, &core.CaptureError{Name: name, Kind: core.CaptureFunction}
		}
		vars[name] = struct{}{}
	}

	c.Vars = make([]string, 0, len(vars))
	for name := range vars {
		c.Vars = append(c.Vars, name)
	}
	sort.Strings(c.Vars)
	return c, nil
}

// declCollector gathers every variable declared in any scope of a subtree.
type declCollector struct {
	locals map[*js.Var]struct{}
}

func (d *declCollector) Enter(n js.INode) js.IVisitor {
	switch n := n.(type) {
	case *js.BlockStmt:
		d.add(n.Scope.Declared)
	case *js.SwitchStmt:
		d.add(n.Scope.Declared)
	case *js.ClassDecl:
		d.add(n.Scope.Declared)
	}
	return d
}

func (d *declCollector) Exit(js.INode) {}

func (d *declCollector) add(vars js.VarArray) {
	for _, v := range vars {
		d.locals[root(v)] = struct{}{}
	}
}

// refCollector gathers the root of every non-local variable reference,
// in traversal order.
type refCollector struct {
	locals map[*js.Var]struct{}
	seen   map[*js.Var]struct{}
	roots  []*js.Var
}

func (r *refCollector) Enter(n js.INode) js.IVisitor {
	v, ok := n.(*js.Var)
	if !ok {
		return r
	}
	v = root(v)
	if _, local := r.locals[v]; local {
		return r
	}
	if _, dup := r.seen[v]; dup {
		return r
	}
	r.seen[v] = struct{}{}
	r.roots = append(r.roots, v)
	return r
}

func (r *refCollector) Exit(js.INode) {}
