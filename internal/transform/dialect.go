package transform

import (
	"fmt"
	"path"
	"strings"

	esbuild "github.com/evanw/esbuild/pkg/api"

	"github.com/cryguy/spawn/internal/codegen"
)

// Dialect is the source language of a module, decided by its extension.
type Dialect int

const (
	DialectJS Dialect = iota
	DialectJSX
	DialectTS
	DialectTSX
)

func (d Dialect) String() string {
	switch d {
	case DialectJSX:
		return "jsx"
	case DialectTS:
		return "ts"
	case DialectTSX:
		return "tsx"
	default:
		return "js"
	}
}

// Typed reports whether the dialect carries type-only syntax.
func (d Dialect) Typed() bool {
	return d == DialectTS || d == DialectTSX
}

// DialectOf returns the dialect of a module id. The second result is false
// for ids that are not script modules. A ?query or #hash suffix is ignored.
func DialectOf(id string) (Dialect, bool) {
	switch strings.ToLower(path.Ext(codegen.StripQuery(id))) {
	case ".js", ".mjs", ".cjs":
		return DialectJS, true
	case ".jsx":
		return DialectJSX, true
	case ".ts", ".mts", ".cts":
		return DialectTS, true
	case ".tsx":
		return DialectTSX, true
	}
	return DialectJS, false
}

// preserveImports keeps every import that is not explicitly type-only, so
// bindings used only inside a spawned function survive erasure.
const preserveImports = `{"compilerOptions":{"verbatimModuleSyntax":true}}`

// Lower erases types and JSX so the module can be parsed as plain
// JavaScript. Plain JavaScript is returned unchanged. Import and export
// statements are kept.
func Lower(code, id string, d Dialect) (string, error) {
	var loader esbuild.Loader
	switch d {
	case DialectJSX:
		loader = esbuild.LoaderJSX
	case DialectTS:
		loader = esbuild.LoaderTS
	case DialectTSX:
		loader = esbuild.LoaderTSX
	default:
		return code, nil
	}
	res := esbuild.Transform(code, esbuild.TransformOptions{
		Loader:      loader,
		Format:      esbuild.FormatESModule,
		Target:      esbuild.ESNext,
		Sourcefile:  id,
		TsconfigRaw: preserveImports,
		LogLevel:    esbuild.LogLevelSilent,
	})
	if len(res.Errors) > 0 {
		msgs := make([]string, len(res.Errors))
		for i, m := range res.Errors {
			msgs[i] = m.Text
		}
		return "", fmt.Errorf("lowering %s: %s", d, strings.Join(msgs, "; "))
	}
	return string(res.Code), nil
}
