//go:build !v8

package isolate

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cryguy/spawn/internal/core"
	"github.com/cryguy/spawn/internal/quickjs"
	"github.com/cryguy/spawn/internal/value"
)

var testCfg = core.RuntimeConfig{MemoryLimitMB: 32, ExecutionTimeout: 5000, MaxMessageBytes: 1 << 20}

func start(t *testing.T, script string, cfg core.RuntimeConfig) *Isolate {
	t.Helper()
	w, err := Start(quickjs.NewEngine(), script, cfg, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		w.Terminate()
		<-w.Done()
	})
	return w
}

// collect attaches message and error listeners feeding a single channel.
func collect(w *Isolate) <-chan Event {
	ch := make(chan Event, 16)
	fn := func(ev Event) {
		select {
		case ch <- ev:
		default:
		}
	}
	w.AddEventListener(EventMessage, fn)
	w.AddEventListener(EventError, fn)
	return ch
}

func next(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a worker event")
	}
	return Event{}
}

func TestEcho(t *testing.T) {
	w := start(t, `onmessage = function(e) { postMessage(e.data + 1); };`, testCfg)
	events := collect(w)

	if err := w.PostMessage(value.Number(1), nil); err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	ev := next(t, events)
	if ev.Type != EventMessage || ev.Data != value.Value(value.Number(2)) {
		t.Fatalf("got %+v", ev)
	}
}

func TestMessagesInOrder(t *testing.T) {
	w := start(t, `onmessage = function(e) { postMessage(e.data); };`, testCfg)
	events := collect(w)
	for i := 0; i < 5; i++ {
		if err := w.PostMessage(value.Number(i), nil); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 5; i++ {
		ev := next(t, events)
		if ev.Data != value.Value(value.Number(i)) {
			t.Fatalf("message %d = %+v", i, ev)
		}
	}
}

func TestTransferBuffer(t *testing.T) {
	w := start(t, `onmessage = function(e) {
		var b = new Uint8Array(e.data);
		b[0] = 99;
		postMessage(e.data, [e.data]);
	};`, testCfg)
	events := collect(w)

	buf := value.NewArrayBuffer([]byte{1, 2, 3})
	if err := w.PostMessage(buf, []value.Transferable{buf}); err != nil {
		t.Fatal(err)
	}
	if !buf.Detached() {
		t.Error("sender buffer not detached")
	}
	ev := next(t, events)
	ab, ok := ev.Data.(*value.ArrayBuffer)
	if !ok || string(ab.Data) != "\x63\x02\x03" {
		t.Fatalf("got %+v", ev)
	}
}

func TestTimerReply(t *testing.T) {
	w := start(t, `onmessage = function(e) { setTimeout(function() { postMessage('late ' + e.data); }, 20); };`, testCfg)
	events := collect(w)
	if err := w.PostMessage(value.String("hi"), nil); err != nil {
		t.Fatal(err)
	}
	ev := next(t, events)
	if ev.Data != value.Value(value.String("late hi")) {
		t.Fatalf("got %+v", ev)
	}
}

func TestUncaughtErrorEvent(t *testing.T) {
	w := start(t, `onmessage = function() { throw new Error('boom'); };`, testCfg)
	events := collect(w)
	if err := w.PostMessage(value.Null{}, nil); err != nil {
		t.Fatal(err)
	}
	ev := next(t, events)
	if ev.Type != EventError || ev.Err == nil || ev.Err.Error() != "boom" {
		t.Fatalf("got %+v", ev)
	}
}

func TestWatchdog(t *testing.T) {
	cfg := testCfg
	cfg.ExecutionTimeout = 100
	w := start(t, `onmessage = function() { for (;;) {} };`, cfg)
	events := collect(w)
	if err := w.PostMessage(value.Null{}, nil); err != nil {
		t.Fatal(err)
	}
	ev := next(t, events)
	if ev.Type != EventError || !strings.Contains(ev.Err.Error(), "did not reply") {
		t.Fatalf("got %+v", ev)
	}
}

func TestCloneErrorOnPost(t *testing.T) {
	w := start(t, ``, testCfg)
	err := w.PostMessage(value.NewObject("cb", value.Function{}), nil)
	var ce *core.CloneError
	if !errors.As(err, &ce) || ce.Path != ".cb" {
		t.Fatalf("got %v", err)
	}
}

func TestMessageLimit(t *testing.T) {
	cfg := testCfg
	cfg.MaxMessageBytes = 64
	w := start(t, ``, cfg)
	err := w.PostMessage(value.NewArrayBuffer(make([]byte, 128)), nil)
	if err == nil || !strings.Contains(err.Error(), "exceeds") {
		t.Fatalf("got %v", err)
	}
}

func TestSelfClose(t *testing.T) {
	w := start(t, `onmessage = function() { close(); };`, testCfg)
	if err := w.PostMessage(value.Null{}, nil); err != nil {
		t.Fatal(err)
	}
	select {
	case <-w.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not exit after close()")
	}
	if err := w.PostMessage(value.Null{}, nil); !errors.Is(err, core.ErrTerminated) {
		t.Errorf("PostMessage after close = %v", err)
	}
}

func TestTerminate(t *testing.T) {
	w := start(t, `onmessage = function(e) { postMessage(e.data); };`, testCfg)
	events := collect(w)
	w.Terminate()
	w.Terminate()
	<-w.Done()
	if err := w.PostMessage(value.Null{}, nil); !errors.Is(err, core.ErrTerminated) {
		t.Errorf("PostMessage after Terminate = %v", err)
	}
	select {
	case ev := <-events:
		t.Errorf("event after Terminate: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestListenerRemove(t *testing.T) {
	w := start(t, ``, testCfg)
	sub := w.AddEventListener(EventMessage, func(Event) {})
	w.AddEventListener(EventError, func(Event) {})
	if n := w.Listeners(); n != 2 {
		t.Fatalf("listeners = %d", n)
	}
	sub.Remove()
	sub.Remove()
	if n := w.Listeners(); n != 1 {
		t.Errorf("listeners after remove = %d", n)
	}
}

func TestStartErrors(t *testing.T) {
	if _, err := Start(nil, "", testCfg, nil); !errors.Is(err, core.ErrNoWorkerSupport) {
		t.Errorf("nil engine: %v", err)
	}
	if _, err := Start(quickjs.NewEngine(), "this is not javascript(", testCfg, nil); err == nil {
		t.Error("syntax error did not fail Start")
	}
}
