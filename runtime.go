package spawn

import (
	"context"

	"go.uber.org/zap"

	"github.com/cryguy/spawn/internal/invoke"
)

// Runtime runs the worker programs registered with a session. Each handle
// gets a fresh worker context per run, so runs never share globals.
type Runtime struct {
	inner *invoke.Runtime
}

type runtimeOptions struct {
	log    *zap.Logger
	engine Engine
	noWork bool
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*runtimeOptions)

// WithRuntimeLogger sets the runtime's logger.
func WithRuntimeLogger(log *zap.Logger) RuntimeOption {
	return func(o *runtimeOptions) { o.log = log }
}

// WithEngine replaces the engine selected by build tags.
func WithEngine(e Engine) RuntimeOption {
	return func(o *runtimeOptions) { o.engine = e }
}

// WithoutWorkers builds a runtime for an environment that cannot host
// worker contexts. Every run then fails with ErrNoWorkerSupport.
func WithoutWorkers() RuntimeOption {
	return func(o *runtimeOptions) { o.noWork = true }
}

// NewRuntime returns a runtime serving the programs of s. Bundled scripts
// are cached in the session's store.
func NewRuntime(s *Session, opts ...RuntimeOption) *Runtime {
	o := runtimeOptions{log: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	engine := o.engine
	switch {
	case o.noWork:
		engine = nil
	case engine == nil:
		engine = newEngine()
	}
	cfg := s.Config()
	inner := invoke.New(cfg.Runtime, engine, s,
		invoke.WithLogger(o.log),
		invoke.WithScriptCache(s.Store()),
		invoke.WithAliases(cfg.Build.Aliases),
	)
	return &Runtime{inner: inner}
}

// Supported reports whether this runtime can start workers.
func (r *Runtime) Supported() bool { return r.inner.Supported() }

// NewHandle returns a handle for the program served at address. The
// address is the one a rewritten call site passes to the runtime class.
func (r *Runtime) NewHandle(address string) (*Handle, error) {
	return r.inner.NewHandle(address)
}

// Call runs the program at address once with plain Go data. env becomes
// the captured environment and args the forwarded arguments. The result
// is converted back with ToGo.
func (r *Runtime) Call(ctx context.Context, address string, env map[string]any, args ...any) (any, error) {
	return r.inner.Call(ctx, address, env, args...)
}
