//go:build v8

// Package v8engine runs worker contexts on V8 through tommie/v8go. Build
// with -tags v8 to select it.
package v8engine

import (
	"github.com/cryguy/spawn/internal/core"
	v8 "github.com/tommie/v8go"
)

// Engine creates V8 isolates.
type Engine struct{}

var _ core.Engine = (*Engine)(nil)

// NewEngine returns the V8 engine.
func NewEngine() *Engine { return &Engine{} }

// Name returns "v8".
func (e *Engine) Name() string { return "v8" }

// NewVM creates an isolate with one context. The heap is capped at the
// configured memory limit.
func (e *Engine) NewVM(cfg core.RuntimeConfig) (core.VM, error) {
	var iso *v8.Isolate
	if cfg.MemoryLimitMB > 0 {
		heapSize := uint64(cfg.MemoryLimitMB) * 1024 * 1024
		iso = v8.NewIsolate(v8.WithResourceConstraints(heapSize/2, heapSize))
	} else {
		iso = v8.NewIsolate()
	}
	return &v8VM{iso: iso, ctx: v8.NewContext(iso)}, nil
}
