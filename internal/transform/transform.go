// Package transform rewrites every spawn call site of a module and
// generates the worker programs they refer to.
package transform

import (
	"fmt"
	"strings"

	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/js"

	"github.com/cryguy/spawn/internal/codegen"
	"github.com/cryguy/spawn/internal/core"
	"github.com/cryguy/spawn/internal/environ"
	"github.com/cryguy/spawn/internal/rewrite"
	"github.com/cryguy/spawn/internal/scope"
)

// Options configures one file transform.
type Options struct {
	ImportSource     string
	RuntimeSpecifier string
	Protocol         core.Protocol
	Aliases          map[string]string
	// Address names the loadable unit for a program hash.
	Address func(hash string) string
}

// Site describes one rewritten call.
type Site struct {
	Handle   string
	Address  string
	Captures []string
	Modules  []string
	Program  *codegen.Program
}

// Output is the result of transforming a file.
type Output struct {
	Code    string
	Sites   []Site
	Dialect Dialect
}

// Programs returns the generated programs in call-site order.
func (o *Output) Programs() []*codegen.Program {
	out := make([]*codegen.Program, len(o.Sites))
	for i, s := range o.Sites {
		out[i] = s.Program
	}
	return out
}

// File transforms one module. It returns nil and no error when id is not a
// script module or the module does not import spawn. The first failing
// call site aborts the whole file with a *core.TransformError.
func File(code, id string, opts Options) (*Output, error) {
	dialect, ok := DialectOf(id)
	if !ok {
		return nil, nil
	}
	if opts.ImportSource == "" {
		opts.ImportSource = core.DefaultImportSource
	}
	if opts.RuntimeSpecifier == "" {
		opts.RuntimeSpecifier = core.DefaultRuntimeID
	}
	if opts.Protocol == "" {
		opts.Protocol = core.ProtocolVariadic
	}
	if opts.Address == nil {
		opts.Address = codegen.FileName
	}
	if !strings.Contains(code, opts.ImportSource) {
		return nil, nil
	}

	fail := func(err error) (*Output, error) {
		return nil, &core.TransformError{File: id, Err: err}
	}

	lowered, err := Lower(code, id, dialect)
	if err != nil {
		return fail(err)
	}
	ast, err := js.Parse(parse.NewInputString(lowered), js.Options{})
	if err != nil {
		return fail(fmt.Errorf("parsing: %w", err))
	}
	bindings := FindSpawnBindings(ast, opts.ImportSource)
	if len(bindings) == 0 {
		return nil, nil
	}

	f := &finder{
		id:       id,
		opts:     opts,
		bindings: bindings,
		mod:      scope.NewModule(ast),
		rw:       rewrite.New(ast, opts.RuntimeSpecifier),
	}
	js.Walk(f, ast)
	if f.err != nil {
		return fail(f.err)
	}
	if !f.rw.Changed() {
		return nil, nil
	}
	f.rw.Apply()
	return &Output{Code: ast.JSString(), Sites: f.sites, Dialect: dialect}, nil
}

// finder walks a module, keeping the ancestor path of the current node,
// and rewrites spawn calls as it meets them.
type finder struct {
	id       string
	opts     Options
	bindings map[string]struct{}
	mod      *scope.Module
	rw       *rewrite.Rewriter

	path  []js.INode
	sites []Site
	err   error
}

func (f *finder) Enter(n js.INode) js.IVisitor {
	if f.err != nil {
		return nil
	}
	if call, ok := n.(*js.CallExpr); ok && f.isSpawn(call) {
		if fn := spawnTarget(call); fn != nil {
			if err := f.site(call, fn); err != nil {
				f.err = err
			}
			return nil
		}
	}
	f.path = append(f.path, n)
	return f
}

func (f *finder) Exit(js.INode) {
	f.path = f.path[:len(f.path)-1]
}

// isSpawn reports whether call's callee is an unshadowed spawn import.
func (f *finder) isSpawn(call *js.CallExpr) bool {
	v, ok := unwrap(call.X).(*js.Var)
	if !ok {
		return false
	}
	for v.Link != nil {
		v = v.Link
	}
	if v.Decl != js.NoDecl {
		return false
	}
	_, ok = f.bindings[string(v.Data)]
	return ok
}

// spawnTarget returns the function literal passed as the first argument,
// or nil when the call does not have one.
func spawnTarget(call *js.CallExpr) js.INode {
	if len(call.Args.List) == 0 || call.Args.List[0].Rest {
		return nil
	}
	switch fn := unwrap(call.Args.List[0].Value).(type) {
	case *js.ArrowFunc:
		return fn
	case *js.FuncDecl:
		return fn
	}
	return nil
}

func (f *finder) site(call *js.CallExpr, fn js.INode) error {
	capture, err := f.mod.Resolve(fn)
	if err != nil {
		return err
	}

	rest := call.Args.List[1:]
	if len(rest) > 0 {
		if obj, ok := optionsObject(rest[0]); ok {
			if err := f.moduleOptions(obj, capture); err != nil {
				return err
			}
			rest = rest[1:]
		}
	}
	if len(rest) > 0 && f.opts.Protocol == core.ProtocolSingle {
		return fmt.Errorf("spawn takes no extra arguments with the %s protocol", core.ProtocolSingle)
	}

	env := environ.Build(capture.Vars)
	bound, err := env.Prepend(fn)
	if err != nil {
		return err
	}
	prog, err := codegen.Generate(bound, capture.Modules, env.Names, codegen.Options{
		Origin:   f.id,
		Protocol: f.opts.Protocol,
		Aliases:  f.opts.Aliases,
	})
	if err != nil {
		return err
	}

	address := f.opts.Address(prog.Hash)
	extra := append([]js.Arg(nil), rest...)
	handle, err := f.rw.Rewrite(rewrite.Site{Call: call, Path: f.path}, address, env.Object, extra)
	if err != nil {
		return err
	}
	f.sites = append(f.sites, Site{
		Handle:   handle,
		Address:  address,
		Captures: env.Names,
		Modules:  capture.ModuleNames(),
		Program:  prog,
	})
	return nil
}

// optionsObject recognizes a `{ modules: {...} }` literal.
func optionsObject(arg js.Arg) (*js.ObjectExpr, bool) {
	if arg.Rest {
		return nil, false
	}
	obj, ok := unwrap(arg.Value).(*js.ObjectExpr)
	if !ok || len(obj.List) != 1 {
		return nil, false
	}
	p := obj.List[0]
	if p.Name == nil || p.Spread || !p.Name.IsIdent([]byte("modules")) {
		return nil, false
	}
	mods, ok := unwrap(p.Value).(*js.ObjectExpr)
	return mods, ok
}

// moduleOptions adds the imports named in a modules option to capture.
// Each value must be a module-level import binding; the worker imports it
// under the property key.
func (f *finder) moduleOptions(mods *js.ObjectExpr, capture *scope.Capture) error {
	for _, p := range mods.List {
		if p.Name == nil || p.Spread || p.Name.IsComputed() {
			return &core.ModuleOptionError{Key: "<computed>", Reason: "must use a plain property key"}
		}
		key := propertyKey(p.Name)
		v, ok := unwrap(p.Value).(*js.Var)
		if !ok {
			return &core.ModuleOptionError{Key: key, Reason: "must be an identifier bound by an import"}
		}
		for v.Link != nil {
			v = v.Link
		}
		ref, imported := f.mod.Import(string(v.Data))
		if v.Decl != js.NoDecl || !imported {
			return &core.ModuleOptionError{Key: key, Reason: fmt.Sprintf("'%s' is not bound by an import", v.Data)}
		}
		if !js.AsIdentifierName([]byte(key)) {
			return &core.ModuleOptionError{Key: key, Reason: "key is not a valid identifier"}
		}
		ref.Local = key
		capture.Modules[key] = ref
	}
	return nil
}

func propertyKey(name *js.PropertyName) string {
	if name.Literal.TokenType == js.StringToken {
		return scope.Unquote(name.Literal.Data)
	}
	return string(name.Literal.Data)
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
