// Package invoke runs generated worker programs: one Handle per call site,
// one worker per Run, torn down as soon as the reply arrives.
package invoke

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/cryguy/spawn/internal/codegen"
	"github.com/cryguy/spawn/internal/core"
	"github.com/cryguy/spawn/internal/isolate"
	"github.com/cryguy/spawn/internal/value"
)

// Programs looks up registered worker programs by address.
type Programs interface {
	Program(address string) (*codegen.Program, error)
}

// ScriptCache keeps bundled scripts between runs, keyed by program hash.
type ScriptCache interface {
	Script(ctx context.Context, hash string) (string, error)
	PutScript(ctx context.Context, hash, script string) error
}

// Subscription is an attached worker event listener.
type Subscription interface {
	Remove()
}

// Worker is the host side of a running worker context.
type Worker interface {
	PostMessage(msg value.Value, transfer []value.Transferable) error
	AddEventListener(typ string, fn isolate.Listener) Subscription
	Terminate()
	Done() <-chan struct{}
}

// Spawner starts a worker running prog.
type Spawner interface {
	Spawn(ctx context.Context, prog *codegen.Program) (Worker, error)
}

// Runtime creates handles and the workers behind them.
type Runtime struct {
	cfg      core.RuntimeConfig
	engine   core.Engine
	programs Programs
	scripts  ScriptCache
	spawner  Spawner
	aliases  map[string]string
	log      *zap.Logger
	bundles  singleflight.Group
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger. If not set, the runtime logs nothing.
func WithLogger(log *zap.Logger) Option {
	return func(r *Runtime) {
		r.log = log.With(zap.String("svc", "spawn/invoke"))
	}
}

// WithScriptCache caches bundled scripts in c.
func WithScriptCache(c ScriptCache) Option {
	return func(r *Runtime) { r.scripts = c }
}

// WithAliases sets import aliases applied while bundling programs.
func WithAliases(aliases map[string]string) Option {
	return func(r *Runtime) { r.aliases = aliases }
}

// WithSpawner replaces the engine-backed spawner.
func WithSpawner(s Spawner) Option {
	return func(r *Runtime) { r.spawner = s }
}

// New returns a runtime that runs programs on engine. A nil engine is
// allowed: every Run then fails its preflight with
// core.ErrNoWorkerSupport.
func New(cfg core.RuntimeConfig, engine core.Engine, programs Programs, opts ...Option) *Runtime {
	r := &Runtime{
		cfg:      cfg,
		engine:   engine,
		programs: programs,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.spawner == nil && engine != nil {
		r.spawner = &engineSpawner{rt: r}
	}
	return r
}

// Supported reports whether workers can run at all.
func (r *Runtime) Supported() bool { return r.spawner != nil }

// NewHandle returns a handle for the program registered at address.
func (r *Runtime) NewHandle(address string) (*Handle, error) {
	prog, err := r.programs.Program(address)
	if err != nil {
		return nil, err
	}
	return newHandle(r, prog), nil
}

// Call runs the program at address once, converting Go data in and out.
// env becomes the captured environment object and args the forwarded
// arguments.
func (r *Runtime) Call(ctx context.Context, address string, env map[string]any, args ...any) (any, error) {
	h, err := r.NewHandle(address)
	if err != nil {
		return nil, err
	}
	defer h.Destroy()

	vals := make([]value.Value, 0, len(args)+1)
	if env == nil {
		vals = append(vals, value.NewObject())
	} else {
		vals = append(vals, value.FromGo(env))
	}
	for _, a := range args {
		vals = append(vals, value.FromGo(a))
	}
	res, err := h.Run(ctx, vals...)
	if err != nil {
		return nil, err
	}
	return value.ToGo(res), nil
}

// Script returns the runnable script for prog: bundled when it imports
// anything, cached when a cache is configured. Concurrent requests for the
// same program bundle once.
func (r *Runtime) Script(ctx context.Context, prog *codegen.Program) (string, error) {
	if r.scripts != nil {
		if s, err := r.scripts.Script(ctx, prog.Hash); err == nil {
			return s, nil
		}
	}
	v, err, _ := r.bundles.Do(prog.Hash, func() (any, error) {
		s, err := codegen.Bundle(prog, codegen.BundleOptions{Aliases: r.aliases})
		if err != nil {
			return "", err
		}
		if r.scripts != nil {
			if err := r.scripts.PutScript(ctx, prog.Hash, s); err != nil {
				r.log.Warn("caching bundled script failed", zap.String("hash", prog.Hash), zap.Error(err))
			}
		}
		return s, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// engineSpawner starts each worker in a fresh isolate.
type engineSpawner struct {
	rt *Runtime
}

func (s *engineSpawner) Spawn(ctx context.Context, prog *codegen.Program) (Worker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	script, err := s.rt.Script(ctx, prog)
	if err != nil {
		return nil, fmt.Errorf("loading worker %s: %w", codegen.FileName(prog.Hash), err)
	}
	iso, err := isolate.Start(s.rt.engine, script, s.rt.cfg, s.rt.log.With(zap.String("program", prog.Hash)))
	if err != nil {
		if errors.Is(err, core.ErrNoWorkerSupport) {
			return nil, err
		}
		return nil, fmt.Errorf("starting worker %s: %w", codegen.FileName(prog.Hash), err)
	}
	return isolateWorker{iso}, nil
}

// isolateWorker adapts *isolate.Isolate to Worker.
type isolateWorker struct {
	*isolate.Isolate
}

func (w isolateWorker) AddEventListener(typ string, fn isolate.Listener) Subscription {
	return w.Isolate.AddEventListener(typ, fn)
}
