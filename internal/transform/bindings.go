package transform

import (
	"github.com/cryguy/spawn/internal/scope"
	"github.com/tdewolff/parse/v2/js"
)

// FindSpawnBindings returns the local names that spawn is imported under
// from source: the default import and any named import of "spawn".
func FindSpawnBindings(ast *js.AST, source string) map[string]struct{} {
	names := make(map[string]struct{})
	for _, stmt := range ast.List {
		imp, ok := stmt.(*js.ImportStmt)
		if !ok || scope.Unquote(imp.Module) != source {
			continue
		}
		if imp.Default != nil {
			names[string(imp.Default)] = struct{}{}
		}
		for _, a := range imp.List {
			if a.Binding == nil {
				continue
			}
			imported := string(a.Binding)
			if a.Name != nil {
				imported = scope.Unquote(a.Name)
			}
			switch imported {
			case "spawn", "default":
				names[string(a.Binding)] = struct{}{}
			}
		}
	}
	return names
}
