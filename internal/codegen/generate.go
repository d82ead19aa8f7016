package codegen

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"

	"github.com/cryguy/spawn/internal/core"
	"github.com/cryguy/spawn/internal/scope"
	"github.com/tdewolff/parse/v2/js"
)

// HashLen is the number of hex digits of the content digest kept as a
// program's identity.
const HashLen = 8

// Program is one generated worker program. It is immutable once built.
type Program struct {
	Hash       string
	Source     string
	Origin     string // module id the function was lifted out of
	ResolveDir string // directory imports are resolved against when bundling
	Protocol   core.Protocol
	Captures   []string
}

// Options controls program generation.
type Options struct {
	Origin   string
	Protocol core.Protocol
	Aliases  map[string]string
}

const variadicEntry = `
self.onmessage = async (event) => {
  const data = event.data;
  if (!data || data.type !== "run") return;

  const args = data.args || [];
  try {
    const result = await fn(...args);
    reply({ ok: true, result });
  } catch (error) {
    reply({
      ok: false,
      error: (error && error.message) || String(error),
    });
  }
};
`

const singleEntry = `
self.onmessage = async (event) => {
  const data = event.data;
  if (!data || data.type !== "run") return;

  try {
    const result = await fn(data.value);
    reply({ ok: true, result });
  } catch (error) {
    reply({
      ok: false,
      error: (error && error.message) || String(error),
    });
  }
};
`

// Generate emits the worker program for fn, which must already take the
// captured environment as its first parameter. mods are the imports fn
// refers to, keyed by local name.
func Generate(fn js.INode, mods map[string]scope.ModuleRef, captures []string, opts Options) (*Program, error) {
	switch fn.(type) {
	case *js.ArrowFunc, *js.FuncDecl:
	default:
		return nil, fmt.Errorf("codegen: cannot generate a program from %T", fn)
	}
	protocol := opts.Protocol
	if protocol == "" {
		protocol = core.ProtocolVariadic
	}
	if !protocol.Valid() {
		return nil, fmt.Errorf("codegen: unknown protocol %q", protocol)
	}

	var sb strings.Builder
	sb.WriteString(Imports(mods, opts.Origin, opts.Aliases))
	sb.WriteString("const reply = (msg) => self.postMessage(msg);\n")
	sb.WriteString("const fn = ")
	fn.JS(&sb)
	sb.WriteString(";\n")
	if protocol == core.ProtocolSingle {
		sb.WriteString(singleEntry)
	} else {
		sb.WriteString(variadicEntry)
	}

	src := sb.String()
	return &Program{
		Hash:       Hash(src),
		Source:     src,
		Origin:     opts.Origin,
		ResolveDir: path.Dir(StripQuery(opts.Origin)),
		Protocol:   protocol,
		Captures:   captures,
	}, nil
}

// Hash returns the content identity of a program text.
func Hash(src string) string {
	sum := sha256.Sum256([]byte(src))
	return hex.EncodeToString(sum[:])[:HashLen]
}

// FileName returns the asset name of a program with the given hash.
func FileName(hash string) string {
	return "__worker__" + hash + ".js"
}
