// Package webapi installs the dedicated-worker global scope into a
// JavaScript context: self, postMessage and the message events, timers,
// console, and a handful of globals.
package webapi

import (
	"go.uber.org/zap"

	"github.com/cryguy/spawn/internal/core"
	"github.com/cryguy/spawn/internal/eventloop"
)

// SetupFunc configures one part of a context's global scope.
type SetupFunc func(rt core.JSRuntime, el *eventloop.EventLoop) error

// WorkerScope returns the setup functions for a worker context, in the
// order they must run.
func WorkerScope(log *zap.Logger) []SetupFunc {
	return []SetupFunc{
		SetupCodec,
		SetupGlobals,
		SetupEncoding,
		SetupTimers,
		SetupConsole(log),
		SetupWorkerScope,
	}
}

// Setup runs every setup function against rt.
func Setup(rt core.JSRuntime, el *eventloop.EventLoop, fns []SetupFunc) error {
	for _, setup := range fns {
		if err := setup(rt, el); err != nil {
			return err
		}
	}
	return nil
}
