// Package isolate runs one worker program in its own JavaScript context,
// owned by a dedicated goroutine, and exposes it through a message channel
// shaped like a dedicated worker: PostMessage in, message and error events
// out.
package isolate

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/cryguy/spawn/internal/core"
	"github.com/cryguy/spawn/internal/eventloop"
	"github.com/cryguy/spawn/internal/value"
	"github.com/cryguy/spawn/internal/webapi"
)

// Event types a listener can subscribe to.
const (
	EventMessage = "message"
	EventError   = "error"
)

// Event is delivered to listeners. Data is set for message events, Err
// for error events.
type Event struct {
	Type string
	Data value.Value
	Err  error
}

// Listener receives events. It runs on the isolate's goroutine or on the
// watchdog's and must not block.
type Listener func(Event)

type inbound struct {
	data []byte
	bufs [][]byte
}

// outbound is what __spawn_take hands back.
type outbound struct {
	Kind    string      `json:"kind"`
	Wire    *value.Wire `json:"wire"`
	Slots   int         `json:"slots"`
	Message string      `json:"message"`
}

// Isolate is a running worker context.
type Isolate struct {
	cfg core.RuntimeConfig
	log *zap.Logger

	vmMu sync.Mutex
	vm   core.VM // nil once released

	mu        sync.Mutex
	inbox     []inbound
	listeners map[string]map[uint64]Listener
	nextID    uint64

	wake       chan struct{}
	stop       chan struct{}
	done       chan struct{}
	stopOnce   sync.Once
	terminated atomic.Bool

	watchMu  sync.Mutex
	watchdog *time.Timer
}

// Start creates a context with engine, installs the worker scope and
// evaluates script. It returns once the script has run; an evaluation
// error is returned and nothing is left running.
func Start(engine core.Engine, script string, cfg core.RuntimeConfig, log *zap.Logger) (*Isolate, error) {
	if engine == nil {
		return nil, core.ErrNoWorkerSupport
	}
	if log == nil {
		log = zap.NewNop()
	}
	w := &Isolate{
		cfg:       cfg,
		log:       log,
		listeners: make(map[string]map[uint64]Listener),
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	ready := make(chan error, 1)
	go w.run(engine, script, ready)
	if err := <-ready; err != nil {
		<-w.done
		return nil, err
	}
	return w, nil
}

func (w *Isolate) run(engine core.Engine, script string, ready chan<- error) {
	defer close(w.done)

	vm, err := engine.NewVM(w.cfg)
	if err != nil {
		ready <- err
		return
	}
	w.vmMu.Lock()
	w.vm = vm
	w.vmMu.Unlock()
	defer func() {
		w.vmMu.Lock()
		w.vm = nil
		vm.Close()
		w.vmMu.Unlock()
	}()

	el := eventloop.New()
	if err := webapi.Setup(vm, el, webapi.WorkerScope(w.log)); err != nil {
		ready <- fmt.Errorf("setting up worker scope: %w", err)
		return
	}
	if err := vm.Eval(script); err != nil {
		ready <- fmt.Errorf("evaluating worker program: %w", err)
		return
	}
	vm.RunMicrotasks()
	ready <- nil
	w.log.Debug("worker started", zap.String("engine", engine.Name()))

	for {
		if w.drainOutbox(vm) {
			return
		}
		el.FireDue(vm, time.Now())
		if w.drainOutbox(vm) {
			return
		}

		if w.wait(el) {
			return
		}
		for _, m := range w.takeInbox() {
			if w.terminated.Load() {
				return
			}
			w.deliver(vm, m)
			if w.drainOutbox(vm) {
				return
			}
		}
	}
}

// wait sleeps until a message arrives, the next timer is due, or the
// worker is stopped. It reports whether the worker was stopped.
func (w *Isolate) wait(el *eventloop.EventLoop) bool {
	var due <-chan time.Time
	if d, ok := el.NextDeadline(); ok {
		t := time.NewTimer(time.Until(d))
		defer t.Stop()
		due = t.C
	}
	select {
	case <-w.stop:
		return true
	case <-w.wake:
	case <-due:
	}
	return false
}

func (w *Isolate) takeInbox() []inbound {
	w.mu.Lock()
	defer w.mu.Unlock()
	in := w.inbox
	w.inbox = nil
	return in
}

// deliver hands one inbound message to the worker's message handlers.
func (w *Isolate) deliver(vm core.VM, m inbound) {
	for i, b := range m.bufs {
		if err := vm.WriteBinaryToJS(webapi.InboundSlot+strconv.Itoa(i), b); err != nil {
			w.emit(Event{Type: EventError, Err: fmt.Errorf("writing message buffer: %w", err)})
			return
		}
	}
	if err := vm.SetGlobal("__spawn_msg", string(m.data)); err != nil {
		w.emit(Event{Type: EventError, Err: fmt.Errorf("staging message: %w", err)})
		return
	}
	w.arm()
	err := vm.Eval("__spawn_dispatch(globalThis.__spawn_msg, " + strconv.Itoa(len(m.bufs)) + "); delete globalThis.__spawn_msg;")
	if err != nil {
		w.emit(Event{Type: EventError, Err: fmt.Errorf("dispatching message: %w", err)})
		return
	}
	vm.RunMicrotasks()
}

// drainOutbox forwards everything the worker queued. It reports whether
// the worker closed itself.
func (w *Isolate) drainOutbox(vm core.VM) bool {
	for {
		s, err := vm.EvalString("__spawn_take()")
		if err != nil {
			w.emit(Event{Type: EventError, Err: fmt.Errorf("reading worker outbox: %w", err)})
			return false
		}
		if s == "" {
			return false
		}
		var out outbound
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			w.emit(Event{Type: EventError, Err: fmt.Errorf("decoding worker message: %w", err)})
			continue
		}
		switch out.Kind {
		case "close":
			w.log.Debug("worker closed itself")
			w.Terminate()
			return true
		case "error":
			w.emit(Event{Type: EventError, Err: errors.New(out.Message)})
		case "message":
			w.disarm()
			v, err := w.readMessage(vm, &out, len(s))
			if err != nil {
				w.emit(Event{Type: EventError, Err: err})
				continue
			}
			w.emit(Event{Type: EventMessage, Data: v})
		}
	}
}

func (w *Isolate) readMessage(vm core.VM, out *outbound, size int) (value.Value, error) {
	if out.Wire == nil {
		return nil, errors.New("decoding worker message: missing payload")
	}
	if need := out.Wire.SlotCount(); need > out.Slots {
		return nil, fmt.Errorf("decoding worker message: %d buffers referenced, %d sent", need, out.Slots)
	}
	bufs := make([][]byte, out.Slots)
	for i := range bufs {
		b, err := vm.ReadBinaryFromJS(webapi.OutboundSlot + strconv.Itoa(i))
		if err != nil {
			return nil, fmt.Errorf("reading message buffer: %w", err)
		}
		bufs[i] = b
		size += len(b)
	}
	if limit := w.cfg.MaxMessageBytes; limit > 0 && size > limit {
		return nil, fmt.Errorf("worker message of %d bytes exceeds the %d byte limit", size, limit)
	}
	v, err := value.Decode(out.Wire, bufs)
	if err != nil {
		return nil, fmt.Errorf("decoding worker message: %w", err)
	}
	return v, nil
}

// arm starts the reply watchdog for a delivered message.
func (w *Isolate) arm() {
	timeout := w.cfg.Timeout()
	if timeout <= 0 {
		return
	}
	w.watchMu.Lock()
	defer w.watchMu.Unlock()
	if w.watchdog != nil {
		w.watchdog.Stop()
	}
	w.watchdog = time.AfterFunc(timeout, func() {
		w.log.Warn("worker did not reply in time", zap.Duration("timeout", timeout))
		w.emit(Event{Type: EventError, Err: fmt.Errorf("worker did not reply within %s", timeout)})
		w.interrupt()
	})
}

func (w *Isolate) disarm() {
	w.watchMu.Lock()
	defer w.watchMu.Unlock()
	if w.watchdog != nil {
		w.watchdog.Stop()
		w.watchdog = nil
	}
}

// PostMessage sends msg to the worker. Encoding happens on the caller's
// goroutine: buffers in transfer are moved and detached here, everything
// else is copied. It fails with a *core.CloneError for values that cannot
// cross and with core.ErrTerminated after Terminate.
func (w *Isolate) PostMessage(msg value.Value, transfer []value.Transferable) error {
	if w.terminated.Load() {
		return core.ErrTerminated
	}
	wire, bufs, err := value.Encode(msg, transfer)
	if err != nil {
		return err
	}
	data, err := wire.Marshal()
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	if limit := w.cfg.MaxMessageBytes; limit > 0 {
		size := len(data)
		for _, b := range bufs {
			size += len(b)
		}
		if size > limit {
			return fmt.Errorf("message of %d bytes exceeds the %d byte limit", size, limit)
		}
	}

	w.mu.Lock()
	w.inbox = append(w.inbox, inbound{data: data, bufs: bufs})
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
	return nil
}

// Subscription is an attached listener.
type Subscription struct {
	w    *Isolate
	typ  string
	id   uint64
	once sync.Once
}

// Remove detaches the listener. It is safe to call more than once.
func (s *Subscription) Remove() {
	s.once.Do(func() {
		s.w.mu.Lock()
		defer s.w.mu.Unlock()
		delete(s.w.listeners[s.typ], s.id)
	})
}

// AddEventListener attaches fn to events of type typ ("message" or
// "error").
func (w *Isolate) AddEventListener(typ string, fn Listener) *Subscription {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextID++
	if w.listeners[typ] == nil {
		w.listeners[typ] = make(map[uint64]Listener)
	}
	w.listeners[typ][w.nextID] = fn
	return &Subscription{w: w, typ: typ, id: w.nextID}
}

// Listeners returns how many listeners are attached.
func (w *Isolate) Listeners() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, l := range w.listeners {
		n += len(l)
	}
	return n
}

func (w *Isolate) emit(ev Event) {
	if w.terminated.Load() {
		return
	}
	w.mu.Lock()
	fns := make([]Listener, 0, len(w.listeners[ev.Type]))
	for _, fn := range w.listeners[ev.Type] {
		fns = append(fns, fn)
	}
	w.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// Terminate stops the worker at once, interrupting any script it is
// running. Pending messages are dropped and no further events fire. It is
// idempotent.
func (w *Isolate) Terminate() {
	w.stopOnce.Do(func() {
		w.terminated.Store(true)
		w.disarm()
		close(w.stop)
		w.interrupt()
		w.log.Debug("worker terminated")
	})
}

func (w *Isolate) interrupt() {
	w.vmMu.Lock()
	defer w.vmMu.Unlock()
	if w.vm != nil {
		w.vm.Interrupt()
	}
}

// Done is closed once the context has been released.
func (w *Isolate) Done() <-chan struct{} { return w.done }
