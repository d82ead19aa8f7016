//go:build !v8

package invoke

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryguy/spawn/internal/core"
	"github.com/cryguy/spawn/internal/quickjs"
	"github.com/cryguy/spawn/internal/store"
	"github.com/cryguy/spawn/internal/value"
)

var runCfg = core.RuntimeConfig{MemoryLimitMB: 32, ExecutionTimeout: 5000, MaxMessageBytes: 1 << 20}

func quickjsRuntime(t *testing.T, progs map[string]string, protocol core.Protocol, opts ...Option) *Runtime {
	t.Helper()
	set := programSet{}
	for addr, fn := range progs {
		set[addr] = generate(t, fn, protocol)
	}
	return New(runCfg, quickjs.NewEngine(), set, opts...)
}

func TestQuickJSSum(t *testing.T) {
	rt := quickjsRuntime(t, map[string]string{"/sum.js": `({}, a, b) => a + b`}, core.ProtocolVariadic)
	require.True(t, rt.Supported())
	h, err := rt.NewHandle("/sum.js")
	require.NoError(t, err)

	got, err := h.Run(context.Background(), value.NewObject(), value.Number(2), value.Number(3))
	require.NoError(t, err)
	assert.Equal(t, value.Value(value.Number(5)), got)
	assert.Equal(t, StateDestroyed, h.State())
}

func TestQuickJSCapturedEnvironment(t *testing.T) {
	rt := quickjsRuntime(t, map[string]string{"/scale.js": `({k, label}, x) => label + ":" + x * k`}, core.ProtocolVariadic)
	got, err := rt.Call(context.Background(), "/scale.js", map[string]any{"k": 10, "label": "n"}, 4)
	require.NoError(t, err)
	assert.Equal(t, "n:40", got)
}

func TestQuickJSAsyncWork(t *testing.T) {
	rt := quickjsRuntime(t, map[string]string{
		"/later.js": `async ({}, ms) => { await new Promise((r) => setTimeout(r, ms)); return { done: true, items: [1, 2] }; }`,
	}, core.ProtocolVariadic)
	got, err := rt.Call(context.Background(), "/later.js", nil, 10)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"done": true, "items": []any{1.0, 2.0}}, got)
}

func TestQuickJSThrow(t *testing.T) {
	rt := quickjsRuntime(t, map[string]string{"/boom.js": `() => { throw new Error("boom"); }`}, core.ProtocolVariadic)
	_, err := rt.Call(context.Background(), "/boom.js", nil)
	var we *core.WorkerError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, "boom", we.Message)
}

func TestQuickJSSingleProtocol(t *testing.T) {
	rt := quickjsRuntime(t, map[string]string{"/single.js": `(v) => v.a * v.b`}, core.ProtocolSingle)
	got, err := rt.Call(context.Background(), "/single.js", map[string]any{"a": 6, "b": 7})
	require.NoError(t, err)
	assert.Equal(t, 42.0, got)
}

func TestQuickJSBufferRoundTrip(t *testing.T) {
	rt := quickjsRuntime(t, map[string]string{
		"/bytes.js": `({}, buf) => { const v = new Uint8Array(buf); return v.map((b) => b * 2).buffer; }`,
	}, core.ProtocolVariadic)
	h, err := rt.NewHandle("/bytes.js")
	require.NoError(t, err)
	buf := value.NewArrayBuffer([]byte{1, 2, 3})
	got, err := h.Run(context.Background(), value.NewObject(), buf)
	require.NoError(t, err)
	assert.True(t, buf.Detached())
	ab, ok := got.(*value.ArrayBuffer)
	require.True(t, ok, "got %#v", got)
	assert.Equal(t, []byte{2, 4, 6}, ab.Data)
}

func TestQuickJSTimeout(t *testing.T) {
	cfg := runCfg
	cfg.ExecutionTimeout = 100
	set := programSet{"/spin.js": generate(t, `() => { for (;;) {} }`, core.ProtocolVariadic)}
	rt := New(cfg, quickjs.NewEngine(), set)
	start := time.Now()
	_, err := rt.Call(context.Background(), "/spin.js", nil)
	var te *core.TransportError
	require.ErrorAs(t, err, &te)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestQuickJSIsolation(t *testing.T) {
	rt := quickjsRuntime(t, map[string]string{
		"/leak.js": `() => { globalThis.counter = (globalThis.counter || 0) + 1; return globalThis.counter; }`,
	}, core.ProtocolVariadic)
	for i := 0; i < 3; i++ {
		got, err := rt.Call(context.Background(), "/leak.js", nil)
		require.NoError(t, err)
		assert.Equal(t, 1.0, got, "run %d saw state from an earlier run", i)
	}
}

func TestQuickJSConcurrentHandles(t *testing.T) {
	rt := quickjsRuntime(t, map[string]string{"/sq.js": `({}, n) => n * n`}, core.ProtocolVariadic)
	var wg sync.WaitGroup
	results := make([]any, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = rt.Call(context.Background(), "/sq.js", nil, i)
		}(i)
	}
	wg.Wait()
	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, float64(i*i), results[i])
	}
}

// countingCache wraps the memory store and counts script writes.
type countingCache struct {
	*store.Memory
	mu   sync.Mutex
	puts int
}

func (c *countingCache) PutScript(ctx context.Context, hash, script string) error {
	c.mu.Lock()
	c.puts++
	c.mu.Unlock()
	return c.Memory.PutScript(ctx, hash, script)
}

func TestScriptCached(t *testing.T) {
	cache := &countingCache{Memory: store.NewMemory()}
	prog := generate(t, `({}, x) => x`, core.ProtocolVariadic)
	rt := New(runCfg, nil, programSet{"/id.js": prog}, WithScriptCache(cache))

	for i := 0; i < 3; i++ {
		s, err := rt.Script(context.Background(), prog)
		require.NoError(t, err)
		assert.Equal(t, prog.Source, s)
	}
	assert.Equal(t, 1, cache.puts)
}

func TestQuickJSRecursiveFunctionExpression(t *testing.T) {
	set := programSet{"/fib.js": wrapped(t, `function fib(n) { return n < 2 ? n : fib(n - 1) + fib(n - 2); }`, nil)}
	rt := New(runCfg, quickjs.NewEngine(), set)
	got, err := rt.Call(context.Background(), "/fib.js", nil, 10)
	require.NoError(t, err)
	assert.Equal(t, 55.0, got)
}

func TestQuickJSFunctionExpressionArguments(t *testing.T) {
	set := programSet{"/args.js": wrapped(t,
		`function (x) { return arguments.length + ":" + typeof arguments[0] + ":" + (x + k); }`, []string{"k"})}
	rt := New(runCfg, quickjs.NewEngine(), set)
	got, err := rt.Call(context.Background(), "/args.js", map[string]any{"k": 1}, 10)
	require.NoError(t, err)
	assert.Equal(t, "1:number:11", got)
}
