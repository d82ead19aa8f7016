package eventloop

import (
	"strconv"
	"strings"
	"testing"
	"time"
)

// fakeRuntime records evaluated scripts instead of running them.
type fakeRuntime struct {
	evals      []string
	microtasks int
}

func (f *fakeRuntime) Eval(js string) error              { f.evals = append(f.evals, js); return nil }
func (f *fakeRuntime) EvalString(string) (string, error) { return "", nil }
func (f *fakeRuntime) EvalBool(string) (bool, error)     { return false, nil }
func (f *fakeRuntime) EvalInt(string) (int, error)       { return 0, nil }
func (f *fakeRuntime) RegisterFunc(string, any) error    { return nil }
func (f *fakeRuntime) SetGlobal(string, any) error       { return nil }
func (f *fakeRuntime) RunMicrotasks()                    { f.microtasks++ }

func TestNextDeadline(t *testing.T) {
	el := New()
	if _, ok := el.NextDeadline(); ok {
		t.Fatal("empty loop reported a deadline")
	}
	start := time.Now()
	el.RegisterTimer(50*time.Millisecond, false)
	el.RegisterTimer(10*time.Millisecond, false)
	d, ok := el.NextDeadline()
	if !ok {
		t.Fatal("expected a deadline")
	}
	if d.Before(start.Add(10*time.Millisecond)) || d.After(start.Add(50*time.Millisecond)) {
		t.Errorf("deadline %v not the earliest timer", d.Sub(start))
	}
}

func TestFireDueOrder(t *testing.T) {
	el := New()
	late := el.RegisterTimer(20*time.Millisecond, false)
	early := el.RegisterTimer(0, false)
	rt := &fakeRuntime{}

	if n := el.FireDue(rt, time.Now()); n != 1 {
		t.Fatalf("fired %d timers, want 1", n)
	}
	if !strings.Contains(rt.evals[0], "fire("+strconv.Itoa(early)+")") {
		t.Errorf("fired wrong timer: %s", rt.evals[0])
	}
	if rt.microtasks != 1 {
		t.Errorf("microtasks = %d, want 1", rt.microtasks)
	}

	if n := el.FireDue(rt, time.Now().Add(time.Second)); n != 1 {
		t.Fatalf("fired %d timers, want 1", n)
	}
	if !strings.Contains(rt.evals[1], "fire("+strconv.Itoa(late)+")") {
		t.Errorf("fired wrong timer: %s", rt.evals[1])
	}
	if el.HasPending() {
		t.Error("one-shot timers should be gone")
	}
}

func TestIntervalReschedules(t *testing.T) {
	el := New()
	id := el.RegisterTimer(0, true)
	rt := &fakeRuntime{}
	now := time.Now().Add(time.Millisecond)
	if n := el.FireDue(rt, now); n != 1 {
		t.Fatalf("fired %d, want 1", n)
	}
	if !el.HasPending() {
		t.Fatal("interval should stay pending")
	}
	d, _ := el.NextDeadline()
	if got := d.Sub(now); got != 10*time.Millisecond {
		t.Errorf("interval rescheduled after %v, want 10ms minimum", got)
	}
	el.ClearTimer(id)
	if el.HasPending() {
		t.Error("cleared interval still pending")
	}
}

func TestReset(t *testing.T) {
	el := New()
	el.RegisterTimer(time.Hour, false)
	el.Reset()
	if el.HasPending() {
		t.Error("Reset left timers behind")
	}
	if id := el.RegisterTimer(0, false); id != 1 {
		t.Errorf("ids not restarted, got %d", id)
	}
}
