package scope

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/js"

	"github.com/cryguy/spawn/internal/core"
)

// callFinder finds the first argument of the first spawn(...) call.
type callFinder struct {
	fn js.INode
}

func (f *callFinder) Enter(n js.INode) js.IVisitor {
	if f.fn != nil {
		return nil
	}
	call, ok := n.(*js.CallExpr)
	if !ok {
		return f
	}
	if v, ok := call.X.(*js.Var); ok && string(v.Data) == "spawn" && len(call.Args.List) > 0 {
		f.fn = unwrap(call.Args.List[0].Value)
		return nil
	}
	return f
}

func (f *callFinder) Exit(js.INode) {}

func resolve(t *testing.T, src string) (*Capture, error) {
	t.Helper()
	ast, err := js.Parse(parse.NewInputString(src), js.Options{})
	require.NoError(t, err)
	f := &callFinder{}
	js.Walk(f, ast)
	require.NotNil(t, f.fn, "no spawn call in %q", src)
	return NewModule(ast).Resolve(f.fn)
}

func TestResolveCapturesOuterVariables(t *testing.T) {
	c, err := resolve(t, `
		const k = 2;
		let label = "x";
		spawn((x) => x * k + label + k);
	`)
	require.NoError(t, err)
	assert.Equal(t, []string{"k", "label"}, c.Vars)
	assert.Empty(t, c.Modules)
}

func TestResolveIgnoresLocalsAndGlobals(t *testing.T) {
	c, err := resolve(t, `
		spawn(function (n) {
			const a = [1, 2, 3];
			const total = a.reduce((s, v) => s + v, n);
			return Math.max(total, JSON.parse("0"));
		});
	`)
	require.NoError(t, err)
	assert.Empty(t, c.Vars)
	assert.Empty(t, c.Modules)
}

func TestResolveModuleReferences(t *testing.T) {
	c, err := resolve(t, `
		import d from "dep";
		import { sum as add, mul } from "./math.js";
		import * as ns from "ns";
		import { unused } from "other";
		spawn(() => add(mul(1, 2), ns.value, d));
	`)
	require.NoError(t, err)
	assert.Empty(t, c.Vars)
	assert.Equal(t, []string{"add", "d", "mul", "ns"}, c.ModuleNames())
	assert.Equal(t, ModuleRef{Kind: RefNamed, Local: "add", Imported: "sum", Source: "./math.js"}, c.Modules["add"])
	assert.Equal(t, ModuleRef{Kind: RefNamed, Local: "mul", Imported: "mul", Source: "./math.js"}, c.Modules["mul"])
	assert.Equal(t, ModuleRef{Kind: RefNamespace, Local: "ns", Source: "ns"}, c.Modules["ns"])
	assert.Equal(t, ModuleRef{Kind: RefDefault, Local: "d", Source: "dep"}, c.Modules["d"])
}

func TestResolveRejectsCallables(t *testing.T) {
	cases := map[string]struct {
		src  string
		name string
		kind core.CaptureKind
	}{
		"function declaration": {`function helper() {} spawn(() => helper());`, "helper", core.CaptureFunction},
		"arrow binding":        {`const f = () => 1; spawn(() => f());`, "f", core.CaptureFunction},
		"function expression":  {`const g = (function () {}); spawn(() => g());`, "g", core.CaptureFunction},
		"class declaration":    {`class Point {} spawn(() => new Point());`, "Point", core.CaptureClass},
		"class expression":     {`const P = class {}; spawn(() => new P());`, "P", core.CaptureClass},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := resolve(t, tc.src)
			var ce *core.CaptureError
			require.True(t, errors.As(err, &ce), "got %v", err)
			assert.Equal(t, tc.name, ce.Name)
			assert.Equal(t, tc.kind, ce.Kind)
		})
	}
}

func TestResolveRejectsNonFunction(t *testing.T) {
	_, err := resolve(t, `const x = 1; spawn(x);`)
	require.Error(t, err)
}

func TestUnquote(t *testing.T) {
	assert.Equal(t, "a", Unquote([]byte(`"a"`)))
	assert.Equal(t, "it's", Unquote([]byte(`'it\'s'`)))
	assert.Equal(t, `say "hi"`, Unquote([]byte(`'say "hi"'`)))
	assert.Equal(t, "bare", Unquote([]byte(`bare`)))
}
