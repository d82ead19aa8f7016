package invoke

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/js"

	"github.com/cryguy/spawn/internal/codegen"
	"github.com/cryguy/spawn/internal/core"
	"github.com/cryguy/spawn/internal/environ"
)

// generate builds a program from a function literal that already takes
// the environment as its first parameter.
func generate(t *testing.T, fn string, protocol core.Protocol) *codegen.Program {
	t.Helper()
	ast, err := js.Parse(parse.NewInputString("("+fn+")"), js.Options{})
	require.NoError(t, err)
	stmt := ast.List[0].(*js.ExprStmt)
	prog, err := codegen.Generate(stmt.Value.(*js.GroupExpr).X, nil, nil, codegen.Options{
		Origin:   "/src/app.js",
		Protocol: protocol,
	})
	require.NoError(t, err)
	return prog
}

// wrapped builds a program the way the transform does for a function
// expression: the environment is bound by an outer arrow.
func wrapped(t *testing.T, fn string, captures []string) *codegen.Program {
	t.Helper()
	ast, err := js.Parse(parse.NewInputString("("+fn+")"), js.Options{})
	require.NoError(t, err)
	node := ast.List[0].(*js.ExprStmt).Value.(*js.GroupExpr).X
	bound, err := environ.Build(captures).Prepend(node)
	require.NoError(t, err)
	prog, err := codegen.Generate(bound, nil, captures, codegen.Options{Origin: "/src/app.js"})
	require.NoError(t, err)
	return prog
}
