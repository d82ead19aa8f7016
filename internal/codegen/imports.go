// Package codegen turns a relocated function and the imports it uses into
// a standalone worker program.
package codegen

import (
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/cryguy/spawn/internal/scope"
	"github.com/tdewolff/parse/v2/js"
)

// ResolveSource rewrites an import specifier for use from a worker program.
// Alias prefixes are replaced first; relative specifiers are then anchored
// at the directory of origin, the module the function came from. Bare
// specifiers and absolute paths pass through.
func ResolveSource(source, origin string, aliases map[string]string) string {
	source = applyAlias(source, aliases)
	if !strings.HasPrefix(source, "./") && !strings.HasPrefix(source, "../") {
		return source
	}
	dir := path.Dir(StripQuery(origin))
	joined := path.Join(dir, source)
	if !path.IsAbs(joined) && !strings.HasPrefix(joined, "../") {
		joined = "./" + joined
	}
	return joined
}

func applyAlias(source string, aliases map[string]string) string {
	best := ""
	for prefix := range aliases {
		if (source == prefix || strings.HasPrefix(source, prefix+"/")) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return source
	}
	return aliases[best] + source[len(best):]
}

// StripQuery drops a ?query or #hash suffix from a module id.
func StripQuery(id string) string {
	if i := strings.IndexAny(id, "?#"); i >= 0 {
		return id[:i]
	}
	return id
}

type importGroup struct {
	source     string
	defaults   []string
	namespaces []string
	named      []scope.ModuleRef
}

// Imports synthesizes the import block of a worker program. Each distinct
// source gets one statement. A source imported both as a namespace and by
// name keeps the namespace in the statement and derives the named bindings
// from it in a const declaration that follows the imports. Extra default
// or namespace bindings of the same source alias the first one.
func Imports(mods map[string]scope.ModuleRef, origin string, aliases map[string]string) string {
	if len(mods) == 0 {
		return ""
	}
	groups := make(map[string]*importGroup)
	for _, ref := range mods {
		src := ResolveSource(ref.Source, origin, aliases)
		g, ok := groups[src]
		if !ok {
			g = &importGroup{source: src}
			groups[src] = g
		}
		switch ref.Kind {
		case scope.RefDefault:
			g.defaults = append(g.defaults, ref.Local)
		case scope.RefNamespace:
			g.namespaces = append(g.namespaces, ref.Local)
		default:
			g.named = append(g.named, ref)
		}
	}
	sources := make([]string, 0, len(groups))
	for src := range groups {
		sources = append(sources, src)
	}
	sort.Strings(sources)

	var stmts, derived strings.Builder
	for _, src := range sources {
		g := groups[src]
		sort.Strings(g.defaults)
		sort.Strings(g.namespaces)
		sort.Slice(g.named, func(i, j int) bool { return g.named[i].Local < g.named[j].Local })

		var clause []string
		if len(g.defaults) > 0 {
			clause = append(clause, g.defaults[0])
		}
		switch {
		case len(g.namespaces) > 0:
			ns := g.namespaces[0]
			clause = append(clause, "* as "+ns)
			if len(g.named) > 0 {
				derived.WriteString("const { ")
				for i, ref := range g.named {
					if i > 0 {
						derived.WriteString(", ")
					}
					derived.WriteString(destructure(ref))
				}
				derived.WriteString(" } = " + ns + ";\n")
			}
		case len(g.named) > 0:
			specs := make([]string, len(g.named))
			for i, ref := range g.named {
				specs[i] = specifier(ref)
			}
			clause = append(clause, "{ "+strings.Join(specs, ", ")+" }")
		}
		for _, extra := range g.defaults[min(1, len(g.defaults)):] {
			derived.WriteString("const " + extra + " = " + g.defaults[0] + ";\n")
		}
		for _, extra := range g.namespaces[min(1, len(g.namespaces)):] {
			derived.WriteString("const " + extra + " = " + g.namespaces[0] + ";\n")
		}

		stmts.WriteString("import " + strings.Join(clause, ", ") + " from " + strconv.Quote(src) + ";\n")
	}
	return stmts.String() + derived.String()
}

// specifier formats a named import specifier.
func specifier(ref scope.ModuleRef) string {
	if ref.Imported == ref.Local {
		return ref.Local
	}
	return exportName(ref.Imported) + " as " + ref.Local
}

// destructure formats a named binding taken from a namespace object.
func destructure(ref scope.ModuleRef) string {
	if ref.Imported == ref.Local {
		return ref.Local
	}
	return exportName(ref.Imported) + ": " + ref.Local
}

func exportName(name string) string {
	if js.AsIdentifierName([]byte(name)) {
		return name
	}
	return strconv.Quote(name)
}
