package codegen

import (
	"fmt"
	"path/filepath"
	"strings"

	esbuild "github.com/evanw/esbuild/pkg/api"
)

// BundleOptions controls how a program is turned into a runnable script.
type BundleOptions struct {
	WorkingDir string            // base for a relative ResolveDir; defaults to the process cwd
	Aliases    map[string]string // esbuild package aliases
	External   []string          // specifiers left unresolved
}

// Bundle turns prog into one self-contained classic script with all of its
// imports inlined. A program without imports is returned as-is.
func Bundle(prog *Program, opts BundleOptions) (string, error) {
	if !needsBundling(prog.Source) {
		return prog.Source, nil
	}

	resolveDir := prog.ResolveDir
	if resolveDir == "" {
		resolveDir = "."
	}
	if !filepath.IsAbs(resolveDir) {
		base := opts.WorkingDir
		if base == "" {
			base = "."
		}
		abs, err := filepath.Abs(filepath.Join(base, resolveDir))
		if err != nil {
			return "", fmt.Errorf("resolving %s: %w", resolveDir, err)
		}
		resolveDir = abs
	}

	result := esbuild.Build(esbuild.BuildOptions{
		Stdin: &esbuild.StdinOptions{
			Contents:   prog.Source,
			ResolveDir: resolveDir,
			Sourcefile: FileName(prog.Hash),
			Loader:     esbuild.LoaderJS,
		},
		Bundle:      true,
		Format:      esbuild.FormatIIFE,
		Write:       false,
		Platform:    esbuild.PlatformBrowser,
		Target:      esbuild.ES2022,
		TreeShaking: esbuild.TreeShakingFalse,
		Alias:       opts.Aliases,
		External:    opts.External,
		LogLevel:    esbuild.LogLevelSilent,
	})
	if len(result.Errors) > 0 {
		return "", fmt.Errorf("bundling %s: %s", FileName(prog.Hash), joinMessages(result.Errors))
	}
	if len(result.OutputFiles) == 0 {
		return "", fmt.Errorf("bundling %s produced no output", FileName(prog.Hash))
	}
	return string(result.OutputFiles[0].Contents), nil
}

// needsBundling reports whether a program imports anything.
func needsBundling(source string) bool {
	return strings.Contains(source, "import ") ||
		strings.Contains(source, "import{") ||
		strings.Contains(source, "import(")
}

func joinMessages(msgs []esbuild.Message) string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return strings.Join(out, "; ")
}
