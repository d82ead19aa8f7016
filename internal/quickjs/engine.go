//go:build !v8

// Package quickjs runs worker contexts on modernc.org/quickjs, a pure-Go
// translation of QuickJS. It is the default engine.
package quickjs

import (
	"fmt"

	"github.com/cryguy/spawn/internal/core"
	"modernc.org/quickjs"
)

// Engine creates QuickJS contexts.
type Engine struct{}

var _ core.Engine = (*Engine)(nil)

// NewEngine returns the QuickJS engine.
func NewEngine() *Engine { return &Engine{} }

// Name returns "quickjs".
func (e *Engine) Name() string { return "quickjs" }

// NewVM creates a fresh context with the configured memory limit. The
// caller's goroutine owns it.
//
// Call depth is not bounded. The translated interpreter recurses on the Go
// stack and modernc.org/quickjs does not expose JS_SetMaxStackSize, so
// runaway recursion in worker code exceeds the Go stack limit and aborts
// the process. The v8 build throws a RangeError instead.
func (e *Engine) NewVM(cfg core.RuntimeConfig) (core.VM, error) {
	vm, err := quickjs.NewVM()
	if err != nil {
		return nil, fmt.Errorf("creating QuickJS VM: %w", err)
	}
	if cfg.MemoryLimitMB > 0 {
		vm.SetMemoryLimit(uintptr(cfg.MemoryLimitMB) * 1024 * 1024)
	}
	return &qjsVM{vm: vm, api: extractCAPI(vm)}, nil
}
