// Package rewrite replaces spawn call sites with invocations of a worker
// handle.
package rewrite

import (
	"fmt"
	"strconv"

	"github.com/cryguy/spawn/internal/scope"
	"github.com/tdewolff/parse/v2/js"
)

// Site is a call expression together with its ancestors, outermost first.
// The call itself is not part of Path.
type Site struct {
	Call *js.CallExpr
	Path []js.INode
}

// insertion is a handle declaration waiting to be placed before stmt.
type insertion struct {
	list *[]js.IStmt
	stmt js.IStmt
	decl *js.VarDecl
}

// Rewriter edits one module. Call sites are rewritten in place as they are
// found; statements are only inserted by Apply, so a walk in progress never
// sees its lists shift.
type Rewriter struct {
	ast     *js.AST
	runtime string

	used       map[string]struct{}
	importName string
	newImport  *js.ImportStmt
	inserts    []insertion
	wrapped    map[js.IStmt]*js.BlockStmt
	handles    int
}

// New returns a Rewriter for ast whose handles are constructed from the
// default export of runtime.
func New(ast *js.AST, runtime string) *Rewriter {
	r := &Rewriter{
		ast:     ast,
		runtime: runtime,
		used:    make(map[string]struct{}),
		wrapped: make(map[js.IStmt]*js.BlockStmt),
	}
	js.Walk(&nameCollector{used: r.used}, ast)
	return r
}

// RuntimeImport returns the local name the runtime class is bound to. A
// default import of the runtime already present in the module is reused;
// otherwise one import is added at the top of the module, once.
func (r *Rewriter) RuntimeImport() string {
	if r.importName != "" {
		return r.importName
	}
	for _, stmt := range r.ast.List {
		imp, ok := stmt.(*js.ImportStmt)
		if ok && imp.Default != nil && scope.Unquote(imp.Module) == r.runtime {
			r.importName = string(imp.Default)
			return r.importName
		}
	}
	r.importName = r.unique("__Spawn")
	r.newImport = &js.ImportStmt{
		Default: []byte(r.importName),
		Module:  []byte(strconv.Quote(r.runtime)),
	}
	return r.importName
}

// Rewrite declares a handle for address before the statement holding the
// call and replaces the call with handle.run(env, ...extra). It returns the
// handle's name.
func (r *Rewriter) Rewrite(site Site, address string, env *js.ObjectExpr, extra []js.Arg) (string, error) {
	list, stmt, err := r.statementOf(site)
	if err != nil {
		return "", err
	}
	cls := r.RuntimeImport()

	r.handles++
	name := r.unique("_spawn")
	decl := &js.VarDecl{
		TokenType: js.ConstToken,
		List: []js.BindingElement{{
			Binding: &js.Var{Data: []byte(name), Decl: js.LexicalDecl},
			Default: &js.NewExpr{
				X: &js.Var{Data: []byte(cls)},
				Args: &js.Args{List: []js.Arg{{
					Value: &js.LiteralExpr{TokenType: js.StringToken, Data: []byte(strconv.Quote(address))},
				}}},
			},
		}},
	}
	r.inserts = append(r.inserts, insertion{list: list, stmt: stmt, decl: decl})

	args := make([]js.Arg, 0, 1+len(extra))
	args = append(args, js.Arg{Value: env})
	args = append(args, extra...)
	*site.Call = js.CallExpr{
		X: &js.DotExpr{
			X: &js.Var{Data: []byte(name)},
			Y: &js.LiteralExpr{TokenType: js.IdentifierToken, Data: []byte("run")},
		},
		Args: js.Args{List: args},
	}
	return name, nil
}

// Apply performs the recorded insertions. It is called once, after the
// walk that found the call sites.
func (r *Rewriter) Apply() {
	for _, ins := range r.inserts {
		list := *ins.list
		at := len(list)
		for i, s := range list {
			if s == ins.stmt {
				at = i
				break
			}
		}
		list = append(list, nil)
		copy(list[at+1:], list[at:])
		list[at] = ins.decl
		*ins.list = list
	}
	r.inserts = nil
	if r.newImport != nil {
		r.ast.List = append([]js.IStmt{r.newImport}, r.ast.List...)
		r.newImport = nil
	}
}

// Changed reports whether any call site was rewritten.
func (r *Rewriter) Changed() bool {
	return r.handles > 0
}

// statementOf finds the statement list and the statement of that list that
// contains the call. A statement sitting directly in an if, loop or with
// body is first wrapped in a block so the declaration has a list to live in.
func (r *Rewriter) statementOf(site Site) (*[]js.IStmt, js.IStmt, error) {
	path := site.Path
	for i := len(path) - 1; i >= 0; i-- {
		stmt, ok := path[i].(js.IStmt)
		if !ok || i == 0 {
			continue
		}
		if b, ok := r.wrapped[stmt]; ok {
			return &b.List, stmt, nil
		}
		switch parent := path[i-1].(type) {
		case *js.BlockStmt:
			if contains(parent.List, stmt) {
				return &parent.List, stmt, nil
			}
		case *js.CaseClause:
			if contains(parent.List, stmt) {
				return &parent.List, stmt, nil
			}
		case *js.IfStmt:
			if parent.Body == stmt {
				b := r.wrap(stmt)
				parent.Body = b
				return &b.List, stmt, nil
			}
			if parent.Else == stmt {
				b := r.wrap(stmt)
				parent.Else = b
				return &b.List, stmt, nil
			}
		case *js.WhileStmt:
			if parent.Body == stmt {
				b := r.wrap(stmt)
				parent.Body = b
				return &b.List, stmt, nil
			}
		case *js.DoWhileStmt:
			if parent.Body == stmt {
				b := r.wrap(stmt)
				parent.Body = b
				return &b.List, stmt, nil
			}
		case *js.WithStmt:
			if parent.Body == stmt {
				b := r.wrap(stmt)
				parent.Body = b
				return &b.List, stmt, nil
			}
		}
	}
	return nil, nil, fmt.Errorf("call is not inside a statement")
}

// wrap returns the block standing in for stmt, creating it on first use.
func (r *Rewriter) wrap(stmt js.IStmt) *js.BlockStmt {
	if b, ok := r.wrapped[stmt]; ok {
		return b
	}
	b := &js.BlockStmt{List: []js.IStmt{stmt}}
	r.wrapped[stmt] = b
	return b
}

func contains(list []js.IStmt, stmt js.IStmt) bool {
	for _, s := range list {
		if s == stmt {
			return true
		}
	}
	return false
}

// unique returns base, or base followed by the smallest suffix from 2 up
// that no identifier in the module uses yet, and reserves it.
func (r *Rewriter) unique(base string) string {
	name := base
	for n := 2; ; n++ {
		if _, taken := r.used[name]; !taken {
			break
		}
		name = base + strconv.Itoa(n)
	}
	r.used[name] = struct{}{}
	return name
}

// nameCollector records every identifier spelled anywhere in a module.
type nameCollector struct {
	used map[string]struct{}
}

func (c *nameCollector) Enter(n js.INode) js.IVisitor {
	switch n := n.(type) {
	case *js.Var:
		c.used[string(n.Data)] = struct{}{}
	case *js.ImportStmt:
		if n.Default != nil {
			c.used[string(n.Default)] = struct{}{}
		}
		for _, a := range n.List {
			if a.Binding != nil {
				c.used[string(a.Binding)] = struct{}{}
			}
		}
	}
	return c
}

func (c *nameCollector) Exit(js.INode) {}
