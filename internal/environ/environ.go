// Package environ builds the two halves that thread captured variables
// into a relocated function: a destructuring parameter for the function and
// the matching object literal for the call site.
package environ

import (
	"fmt"
	"sort"

	"github.com/tdewolff/parse/v2/js"
)

// Env is a parameter pattern and its argument object, built from the same
// names in the same order.
type Env struct {
	Names   []string
	Pattern *js.BindingObject
	Object  *js.ObjectExpr
}

// Build returns the environment for names. Names are de-duplicated and
// sorted, so the output does not depend on the order they were found in.
func Build(names []string) Env {
	sorted := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)

	env := Env{
		Names:   sorted,
		Pattern: &js.BindingObject{List: make([]js.BindingObjectItem, 0, len(sorted))},
		Object:  &js.ObjectExpr{List: make([]js.Property, 0, len(sorted))},
	}
	for _, name := range sorted {
		data := []byte(name)
		env.Pattern.List = append(env.Pattern.List, js.BindingObjectItem{
			Key:   ident(data),
			Value: js.BindingElement{Binding: &js.Var{Data: data, Decl: js.ArgumentDecl}},
		})
		env.Object.List = append(env.Object.List, js.Property{
			Name:  ident(data),
			Value: &js.Var{Data: data},
		})
	}
	return env
}

func ident(data []byte) *js.PropertyName {
	return &js.PropertyName{Literal: js.LiteralExpr{TokenType: js.IdentifierToken, Data: data}}
}

// Symmetric reports whether the pattern and the object name exactly the
// same properties in the same order.
func (e Env) Symmetric() bool {
	if len(e.Pattern.List) != len(e.Object.List) || len(e.Names) != len(e.Pattern.List) {
		return false
	}
	for i, name := range e.Names {
		if !e.Pattern.List[i].Key.IsIdent([]byte(name)) || !e.Object.List[i].Name.IsIdent([]byte(name)) {
			return false
		}
	}
	return true
}

// RestParam names the rest parameter of the wrapper Prepend builds around
// function expressions.
const RestParam = "__spawn_args"

// Prepend returns fn taking the pattern as its first parameter. An arrow
// function gets the pattern added in place. A function expression is left
// untouched and wrapped in an arrow that binds the pattern and forwards
// the remaining arguments, so its own name, arguments object and length
// keep their meaning.
func (e Env) Prepend(fn js.INode) (js.INode, error) {
	if !e.Symmetric() {
		panic("environ: pattern and object out of sync")
	}
	param := js.BindingElement{Binding: e.Pattern}
	switch fn := fn.(type) {
	case *js.ArrowFunc:
		fn.Params.List = append([]js.BindingElement{param}, fn.Params.List...)
		return fn, nil
	case *js.FuncDecl:
		rest := []byte(RestParam)
		call := &js.CallExpr{
			X:    &js.GroupExpr{X: fn},
			Args: js.Args{List: []js.Arg{{Value: &js.Var{Data: rest}, Rest: true}}},
		}
		return &js.ArrowFunc{
			Params: js.Params{
				List: []js.BindingElement{param},
				Rest: &js.Var{Data: rest, Decl: js.ArgumentDecl},
			},
			Body: js.BlockStmt{List: []js.IStmt{&js.ReturnStmt{Value: call}}},
		}, nil
	}
	return nil, fmt.Errorf("cannot add environment parameter to %T", fn)
}
