package environ

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/js"
)

// render prints n the way the program generator does.
func render(n js.INode) string {
	var sb strings.Builder
	n.JS(&sb)
	return sb.String()
}

func TestBuildSortsAndDeduplicates(t *testing.T) {
	env := Build([]string{"zeta", "alpha", "zeta", "mid"})
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, env.Names)
	assert.True(t, env.Symmetric())
	assert.Equal(t, "{alpha, mid, zeta}", render(env.Object))
}

func TestBuildEmpty(t *testing.T) {
	env := Build(nil)
	assert.Empty(t, env.Names)
	assert.True(t, env.Symmetric())
	assert.Equal(t, "{}", render(env.Object))
}

func TestSymmetricDetectsDrift(t *testing.T) {
	env := Build([]string{"a", "b"})
	env.Object.List = env.Object.List[:1]
	assert.False(t, env.Symmetric())
	assert.Panics(t, func() { _, _ = env.Prepend(&js.ArrowFunc{}) })
}

func firstFunc(t *testing.T, src string) js.INode {
	t.Helper()
	ast, err := js.Parse(parse.NewInputString(src), js.Options{})
	require.NoError(t, err)
	require.NotEmpty(t, ast.List)
	stmt, ok := ast.List[0].(*js.ExprStmt)
	require.True(t, ok, "want an expression statement, got %T", ast.List[0])
	x := stmt.Value
	for {
		g, ok := x.(*js.GroupExpr)
		if !ok {
			break
		}
		x = g.X
	}
	return x
}

func TestPrependArrow(t *testing.T) {
	fn := firstFunc(t, `((x, y) => x + y + k)`)
	env := Build([]string{"k"})
	got, err := env.Prepend(fn)
	require.NoError(t, err)

	arrow, ok := got.(*js.ArrowFunc)
	require.True(t, ok, "got %T", got)
	assert.Same(t, fn, got)
	require.Len(t, arrow.Params.List, 3)
	_, isPattern := arrow.Params.List[0].Binding.(*js.BindingObject)
	assert.True(t, isPattern)
	assert.True(t, strings.HasPrefix(render(arrow), "({k}, x, y) => "), render(arrow))
}

func TestPrependFunctionExpressionWraps(t *testing.T) {
	fn := firstFunc(t, `(function fib(n) { return n < 2 ? n : fib(n - 1) + fib(n - 2); })`)
	env := Build([]string{"b", "a2"})
	got, err := env.Prepend(fn)
	require.NoError(t, err)

	decl := fn.(*js.FuncDecl)
	require.Len(t, decl.Params.List, 1, "the function's own parameters must not change")

	arrow, ok := got.(*js.ArrowFunc)
	require.True(t, ok, "got %T", got)
	out := render(arrow)
	assert.True(t, strings.HasPrefix(out, "({a2, b}, ..."+RestParam+") => "), out)
	assert.Contains(t, out, "(function fib(n) ")
	assert.Contains(t, out, ")(..."+RestParam+");")

	_, err = js.Parse(parse.NewInputString("const fn = "+out+";"), js.Options{})
	require.NoError(t, err, out)
}

func TestPrependEmptyEnvironmentOnFunction(t *testing.T) {
	fn := firstFunc(t, `(function () { return arguments.length; })`)
	got, err := Build(nil).Prepend(fn)
	require.NoError(t, err)
	out := render(got)
	assert.True(t, strings.HasPrefix(out, "({}, ..."+RestParam+") => "), out)
	assert.Contains(t, out, "(function() ")
}

func TestPrependRejectsOtherNodes(t *testing.T) {
	env := Build([]string{"a"})
	_, err := env.Prepend(&js.Var{Data: []byte("a")})
	assert.Error(t, err)
}
