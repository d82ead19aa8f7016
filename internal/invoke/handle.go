package invoke

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cryguy/spawn/internal/codegen"
	"github.com/cryguy/spawn/internal/core"
	"github.com/cryguy/spawn/internal/isolate"
	"github.com/cryguy/spawn/internal/value"
)

// State is a handle's lifecycle position.
type State int

const (
	StateCreated State = iota
	StateAwaiting
	StateResolved
	StateRejected
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAwaiting:
		return "awaiting"
	case StateResolved:
		return "resolved"
	case StateRejected:
		return "rejected"
	case StateDestroyed:
		return "destroyed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Handle runs one worker program. A handle serves a single Run: once the
// reply (or a failure) arrives the worker is torn down and the handle is
// destroyed.
type Handle struct {
	rt       *Runtime
	prog     *codegen.Program
	protocol core.Protocol
	id       string
	log      *zap.Logger

	mu        sync.Mutex
	state     State
	history   []State
	worker    Worker
	subs      []Subscription
	destroyed chan struct{}
}

func newHandle(rt *Runtime, prog *codegen.Program) *Handle {
	id := uuid.NewString()
	protocol := prog.Protocol
	if protocol == "" {
		protocol = rt.cfg.Protocol
	}
	if protocol == "" {
		protocol = core.ProtocolVariadic
	}
	h := &Handle{
		rt:        rt,
		prog:      prog,
		protocol:  protocol,
		id:        id,
		log:       rt.log.With(zap.String("handle", id), zap.String("program", prog.Hash)),
		state:     StateCreated,
		history:   []State{StateCreated},
		destroyed: make(chan struct{}),
	}
	return h
}

// ID returns the handle's unique id.
func (h *Handle) ID() string { return h.id }

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// History returns every state the handle has been in, in order.
func (h *Handle) History() []State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]State(nil), h.history...)
}

// Listeners returns how many worker listeners the handle has attached.
func (h *Handle) Listeners() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// setState must be called with h.mu held.
func (h *Handle) setState(s State) {
	h.state = s
	h.history = append(h.history, s)
	h.log.Debug("handle state", zap.Stringer("state", s))
}

type outcome struct {
	data value.Value
	err  error
}

// Run sends args to a fresh worker and waits for its reply. args[0] is
// the captured environment; the rest are forwarded arguments. The
// single-value protocol sends args[0] alone.
//
// Run fails with core.ErrDestroyed on a destroyed handle, core.ErrBusy
// while another Run is outstanding, core.ErrNoWorkerSupport when workers
// cannot run here, and a *core.CloneError when an argument cannot cross.
// These leave the handle untouched. Once the worker is involved every
// outcome tears it down: a *core.WorkerError carries the message thrown
// inside the worker, a *core.TransportError any channel failure, and
// ctx.Err() a cancellation.
func (h *Handle) Run(ctx context.Context, args ...value.Value) (value.Value, error) {
	h.mu.Lock()
	switch h.state {
	case StateDestroyed, StateResolved, StateRejected:
		h.mu.Unlock()
		return nil, core.ErrDestroyed
	case StateAwaiting:
		h.mu.Unlock()
		return nil, core.ErrBusy
	}
	if !h.rt.Supported() {
		h.mu.Unlock()
		return nil, core.ErrNoWorkerSupport
	}
	if err := h.validate(args); err != nil {
		h.mu.Unlock()
		return nil, err
	}
	transfer := value.Transferables(args...)
	h.setState(StateAwaiting)
	h.mu.Unlock()

	w, err := h.rt.spawner.Spawn(ctx, h.prog)
	if err != nil {
		h.teardown(StateRejected)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &core.TransportError{Err: err}
	}

	results := make(chan outcome, 1)
	deliver := func(o outcome) {
		select {
		case results <- o:
		default:
		}
	}
	onMessage := w.AddEventListener(isolate.EventMessage, func(ev isolate.Event) {
		deliver(outcome{data: ev.Data})
	})
	onError := w.AddEventListener(isolate.EventError, func(ev isolate.Event) {
		deliver(outcome{err: ev.Err})
	})

	h.mu.Lock()
	h.worker = w
	h.subs = []Subscription{onMessage, onError}
	if h.state == StateDestroyed {
		// Destroy ran while the worker was starting.
		h.mu.Unlock()
		h.teardown(StateDestroyed)
		return nil, core.ErrDestroyed
	}
	h.mu.Unlock()

	if err := w.PostMessage(h.envelope(args), transfer); err != nil {
		h.teardown(StateRejected)
		var ce *core.CloneError
		if errors.As(err, &ce) {
			return nil, err
		}
		return nil, &core.TransportError{Err: err}
	}

	select {
	case o := <-results:
		if o.err != nil {
			h.teardown(StateRejected)
			return nil, &core.TransportError{Err: o.err}
		}
		res, err := readResponse(o.data)
		if err != nil {
			h.teardown(StateRejected)
			return nil, err
		}
		h.teardown(StateResolved)
		return res, nil
	case <-ctx.Done():
		h.teardown(StateRejected)
		return nil, ctx.Err()
	case <-w.Done():
		if h.State() == StateDestroyed {
			return nil, core.ErrDestroyed
		}
		h.teardown(StateRejected)
		return nil, &core.TransportError{Err: errors.New("worker exited without replying")}
	case <-h.destroyed:
		return nil, core.ErrDestroyed
	}
}

// validate checks every argument before any worker exists.
func (h *Handle) validate(args []value.Value) error {
	if h.protocol == core.ProtocolSingle && len(args) > 1 {
		return fmt.Errorf("the single-value protocol sends one value, got %d", len(args))
	}
	for i, a := range args {
		root := "captured"
		if i > 0 {
			root = fmt.Sprintf("args[%d]", i)
		}
		if err := value.Validate(a, root); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handle) envelope(args []value.Value) value.Value {
	if h.protocol == core.ProtocolSingle {
		var v value.Value = value.Undefined{}
		if len(args) > 0 {
			v = args[0]
		}
		return value.NewObject("type", value.String("run"), "value", v)
	}
	return value.NewObject("type", value.String("run"), "args", value.NewArray(args...))
}

// readResponse interprets {ok, result} / {ok, error}.
func readResponse(v value.Value) (value.Value, error) {
	obj, ok := v.(*value.Object)
	if !ok {
		return nil, &core.TransportError{Err: fmt.Errorf("malformed response: %s", value.KindOf(v))}
	}
	okv, _ := obj.Get("ok")
	flag, isBool := okv.(value.Bool)
	if !isBool {
		return nil, &core.TransportError{Err: errors.New("malformed response: missing ok flag")}
	}
	if flag {
		res, found := obj.Get("result")
		if !found {
			res = value.Undefined{}
		}
		return res, nil
	}
	msg, _ := obj.Get("error")
	if s, isStr := msg.(value.String); isStr {
		return nil, &core.WorkerError{Message: string(s)}
	}
	return nil, &core.WorkerError{Message: fmt.Sprint(value.ToGo(msg))}
}

// teardown detaches both listeners, terminates the worker and records
// final, then destroyed. It runs at most once.
func (h *Handle) teardown(final State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateAwaiting && h.state != StateDestroyed {
		return
	}
	for _, s := range h.subs {
		s.Remove()
	}
	h.subs = nil
	if h.worker != nil {
		h.worker.Terminate()
		h.worker = nil
	}
	if h.state == StateAwaiting {
		h.setState(final)
		h.setState(StateDestroyed)
	}
}

// Destroy tears the handle down. A Run in progress returns
// core.ErrDestroyed. It is idempotent.
func (h *Handle) Destroy() {
	h.mu.Lock()
	switch h.state {
	case StateDestroyed:
		h.mu.Unlock()
		return
	case StateAwaiting:
		for _, s := range h.subs {
			s.Remove()
		}
		h.subs = nil
		if h.worker != nil {
			h.worker.Terminate()
			h.worker = nil
		}
	}
	h.setState(StateDestroyed)
	close(h.destroyed)
	h.mu.Unlock()
}
