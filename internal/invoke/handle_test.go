package invoke

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryguy/spawn/internal/codegen"
	"github.com/cryguy/spawn/internal/core"
	"github.com/cryguy/spawn/internal/isolate"
	"github.com/cryguy/spawn/internal/value"
)

// programSet serves programs from a map keyed by address.
type programSet map[string]*codegen.Program

func (p programSet) Program(address string) (*codegen.Program, error) {
	prog, ok := p[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownProgram, address)
	}
	return prog, nil
}

type fakeSub struct {
	once   sync.Once
	remove func()
}

func (s *fakeSub) Remove() { s.once.Do(s.remove) }

// fakeWorker records traffic and lets a test script the worker side.
type fakeWorker struct {
	mu         sync.Mutex
	listeners  map[int]fakeListener
	nextID     int
	posted     []value.Value
	done       chan struct{}
	doneOnce   sync.Once
	terminated atomic.Int32
	onPost     func(w *fakeWorker, msg value.Value)
}

type fakeListener struct {
	typ string
	fn  isolate.Listener
}

func newFakeWorker(onPost func(w *fakeWorker, msg value.Value)) *fakeWorker {
	return &fakeWorker{listeners: make(map[int]fakeListener), done: make(chan struct{}), onPost: onPost}
}

func (w *fakeWorker) PostMessage(msg value.Value, transfer []value.Transferable) error {
	if _, _, err := value.Encode(msg, transfer); err != nil {
		return err
	}
	w.mu.Lock()
	w.posted = append(w.posted, msg)
	w.mu.Unlock()
	if w.onPost != nil {
		w.onPost(w, msg)
	}
	return nil
}

func (w *fakeWorker) AddEventListener(typ string, fn isolate.Listener) Subscription {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextID++
	id := w.nextID
	w.listeners[id] = fakeListener{typ: typ, fn: fn}
	return &fakeSub{remove: func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.listeners, id)
	}}
}

func (w *fakeWorker) emit(ev isolate.Event) {
	w.mu.Lock()
	var fns []isolate.Listener
	for _, l := range w.listeners {
		if l.typ == ev.Type {
			fns = append(fns, l.fn)
		}
	}
	w.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (w *fakeWorker) reply(v value.Value) {
	w.emit(isolate.Event{Type: isolate.EventMessage, Data: v})
}

func (w *fakeWorker) exit() { w.doneOnce.Do(func() { close(w.done) }) }

func (w *fakeWorker) Terminate() {
	w.terminated.Add(1)
	w.exit()
}

func (w *fakeWorker) Done() <-chan struct{} { return w.done }

func (w *fakeWorker) attached() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.listeners)
}

type fakeSpawner struct {
	mu      sync.Mutex
	err     error
	onPost  func(w *fakeWorker, msg value.Value)
	workers []*fakeWorker
}

func (s *fakeSpawner) Spawn(ctx context.Context, _ *codegen.Program) (Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	w := newFakeWorker(s.onPost)
	s.workers = append(s.workers, w)
	return w, nil
}

func (s *fakeSpawner) spawned() []*fakeWorker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*fakeWorker(nil), s.workers...)
}

const fakeAddr = "/@virtual:js-spawn:/__worker__abc.js"

func newFakeRuntime(s *fakeSpawner, protocol core.Protocol) *Runtime {
	progs := programSet{fakeAddr: {Hash: "abc", Protocol: protocol}}
	return New(core.RuntimeConfig{}, nil, progs, WithSpawner(s))
}

func ok(result value.Value) value.Value {
	return value.NewObject("ok", value.Bool(true), "result", result)
}

func waitState(t *testing.T, h *Handle, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.State() == want }, 5*time.Second, time.Millisecond)
}

func TestRunResolves(t *testing.T) {
	s := &fakeSpawner{onPost: func(w *fakeWorker, _ value.Value) { w.reply(ok(value.Number(7))) }}
	h, err := newFakeRuntime(s, core.ProtocolVariadic).NewHandle(fakeAddr)
	require.NoError(t, err)

	got, err := h.Run(context.Background(), value.NewObject(), value.Number(1))
	require.NoError(t, err)
	assert.Equal(t, value.Value(value.Number(7)), got)
	assert.Equal(t, []State{StateCreated, StateAwaiting, StateResolved, StateDestroyed}, h.History())
	assert.Zero(t, h.Listeners())

	workers := s.spawned()
	require.Len(t, workers, 1)
	assert.Equal(t, int32(1), workers[0].terminated.Load())
	assert.Zero(t, workers[0].attached())

	_, err = h.Run(context.Background(), value.NewObject())
	assert.ErrorIs(t, err, core.ErrDestroyed)
	assert.Len(t, s.spawned(), 1)
}

func TestEnvelopeShapes(t *testing.T) {
	s := &fakeSpawner{onPost: func(w *fakeWorker, _ value.Value) { w.reply(ok(value.Undefined{})) }}

	h, err := newFakeRuntime(s, core.ProtocolVariadic).NewHandle(fakeAddr)
	require.NoError(t, err)
	env := value.NewObject("k", value.Number(1))
	_, err = h.Run(context.Background(), env, value.String("x"))
	require.NoError(t, err)
	msg := s.spawned()[0].posted[0].(*value.Object)
	typ, _ := msg.Get("type")
	assert.Equal(t, value.Value(value.String("run")), typ)
	args, _ := msg.Get("args")
	require.IsType(t, &value.Array{}, args)
	assert.Equal(t, []value.Value{env, value.String("x")}, args.(*value.Array).Items)

	s2 := &fakeSpawner{onPost: s.onPost}
	h2, err := newFakeRuntime(s2, core.ProtocolSingle).NewHandle(fakeAddr)
	require.NoError(t, err)
	_, err = h2.Run(context.Background(), env)
	require.NoError(t, err)
	msg = s2.spawned()[0].posted[0].(*value.Object)
	v, _ := msg.Get("value")
	assert.Equal(t, value.Value(env), v)
	_, hasArgs := msg.Get("args")
	assert.False(t, hasArgs)
}

func TestSingleProtocolRejectsExtraArgs(t *testing.T) {
	s := &fakeSpawner{}
	h, err := newFakeRuntime(s, core.ProtocolSingle).NewHandle(fakeAddr)
	require.NoError(t, err)
	_, err = h.Run(context.Background(), value.NewObject(), value.Number(1))
	require.Error(t, err)
	assert.Equal(t, StateCreated, h.State())
	assert.Empty(t, s.spawned())
}

func TestWorkerErrorMessage(t *testing.T) {
	s := &fakeSpawner{onPost: func(w *fakeWorker, _ value.Value) {
		w.reply(value.NewObject("ok", value.Bool(false), "error", value.String("boom")))
	}}
	h, err := newFakeRuntime(s, core.ProtocolVariadic).NewHandle(fakeAddr)
	require.NoError(t, err)

	_, err = h.Run(context.Background(), value.NewObject())
	var we *core.WorkerError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, "boom", we.Message)
	assert.Equal(t, "boom", err.Error())
	assert.Equal(t, []State{StateCreated, StateAwaiting, StateRejected, StateDestroyed}, h.History())
}

func TestTransportFailures(t *testing.T) {
	cases := map[string]func(w *fakeWorker, msg value.Value){
		"malformed reply": func(w *fakeWorker, _ value.Value) { w.reply(value.String("nope")) },
		"missing ok":      func(w *fakeWorker, _ value.Value) { w.reply(value.NewObject("result", value.Number(1))) },
		"error event": func(w *fakeWorker, _ value.Value) {
			w.emit(isolate.Event{Type: isolate.EventError, Err: errors.New("script failed to load")})
		},
		"worker exit": func(w *fakeWorker, _ value.Value) { w.exit() },
	}
	for name, onPost := range cases {
		t.Run(name, func(t *testing.T) {
			s := &fakeSpawner{onPost: onPost}
			h, err := newFakeRuntime(s, core.ProtocolVariadic).NewHandle(fakeAddr)
			require.NoError(t, err)
			_, err = h.Run(context.Background(), value.NewObject())
			var te *core.TransportError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, StateDestroyed, h.State())
			assert.Zero(t, s.spawned()[0].attached())
		})
	}
}

func TestSpawnFailure(t *testing.T) {
	s := &fakeSpawner{err: errors.New("no such file")}
	h, err := newFakeRuntime(s, core.ProtocolVariadic).NewHandle(fakeAddr)
	require.NoError(t, err)
	_, err = h.Run(context.Background(), value.NewObject())
	var te *core.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, []State{StateCreated, StateAwaiting, StateRejected, StateDestroyed}, h.History())
}

func TestCloneErrorLeavesHandleUsable(t *testing.T) {
	s := &fakeSpawner{onPost: func(w *fakeWorker, _ value.Value) { w.reply(ok(value.Null{})) }}
	h, err := newFakeRuntime(s, core.ProtocolVariadic).NewHandle(fakeAddr)
	require.NoError(t, err)

	_, err = h.Run(context.Background(), value.NewObject("items", value.NewArray(value.NewObject("cb", value.Function{}))))
	var ce *core.CloneError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "captured.items[0].cb", ce.Path)

	_, err = h.Run(context.Background(), value.NewObject(), value.Symbol{})
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "args[1]", ce.Path)

	assert.Equal(t, StateCreated, h.State())
	assert.Empty(t, s.spawned())

	_, err = h.Run(context.Background(), value.NewObject())
	require.NoError(t, err)
}

func TestBusyAndDestroyWhileAwaiting(t *testing.T) {
	s := &fakeSpawner{}
	h, err := newFakeRuntime(s, core.ProtocolVariadic).NewHandle(fakeAddr)
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := h.Run(context.Background(), value.NewObject())
		errc <- err
	}()
	waitState(t, h, StateAwaiting)

	_, err = h.Run(context.Background(), value.NewObject())
	assert.ErrorIs(t, err, core.ErrBusy)

	h.Destroy()
	h.Destroy()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, core.ErrDestroyed)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Destroy")
	}
	assert.Equal(t, StateDestroyed, h.State())
	for _, w := range s.spawned() {
		assert.Equal(t, int32(1), w.terminated.Load())
		assert.Zero(t, w.attached())
	}
}

func TestContextCancel(t *testing.T) {
	s := &fakeSpawner{}
	h, err := newFakeRuntime(s, core.ProtocolVariadic).NewHandle(fakeAddr)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := h.Run(ctx, value.NewObject())
		errc <- err
	}()
	require.Eventually(t, func() bool { return len(s.spawned()) == 1 && s.spawned()[0].attached() == 2 },
		5*time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
	assert.Equal(t, []State{StateCreated, StateAwaiting, StateRejected, StateDestroyed}, h.History())
	assert.Equal(t, int32(1), s.spawned()[0].terminated.Load())
}

func TestNoWorkerSupport(t *testing.T) {
	rt := New(core.RuntimeConfig{}, nil, programSet{fakeAddr: {Hash: "abc"}})
	assert.False(t, rt.Supported())
	h, err := rt.NewHandle(fakeAddr)
	require.NoError(t, err)
	_, err = h.Run(context.Background(), value.NewObject())
	assert.ErrorIs(t, err, core.ErrNoWorkerSupport)
	assert.Equal(t, StateCreated, h.State())
}

func TestUnknownProgram(t *testing.T) {
	rt := New(core.RuntimeConfig{}, nil, programSet{})
	_, err := rt.NewHandle("/nowhere.js")
	assert.ErrorIs(t, err, core.ErrUnknownProgram)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "awaiting", StateAwaiting.String())
	assert.Equal(t, "State(9)", State(9).String())
}
