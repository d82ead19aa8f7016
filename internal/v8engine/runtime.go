//go:build v8

package v8engine

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"

	"github.com/cryguy/spawn/internal/core"
	v8 "github.com/tommie/v8go"
)

// v8VM implements core.VM for the V8 engine: one isolate holding one
// context.
type v8VM struct {
	iso *v8.Isolate
	ctx *v8.Context
}

var _ core.VM = (*v8VM)(nil)

// Interrupt terminates the script running in the isolate. V8 allows this
// from any thread.
func (r *v8VM) Interrupt() {
	r.iso.TerminateExecution()
}

// Close releases the context and disposes of the isolate.
func (r *v8VM) Close() {
	r.ctx.Close()
	r.iso.Dispose()
}

func (r *v8VM) run(js string) (*v8.Value, error) {
	return r.ctx.RunScript(js, "worker.js")
}

func (r *v8VM) Eval(js string) error {
	_, err := r.run(js)
	return err
}

func (r *v8VM) EvalString(js string) (string, error) {
	val, err := r.run(js)
	if err != nil || val == nil {
		return "", err
	}
	return val.String(), nil
}

func (r *v8VM) EvalBool(js string) (bool, error) {
	val, err := r.run(js)
	if err != nil || val == nil {
		return false, err
	}
	return val.Boolean(), nil
}

func (r *v8VM) EvalInt(js string) (int, error) {
	val, err := r.run(js)
	if err != nil || val == nil {
		return 0, err
	}
	return int(val.Integer()), nil
}

// RegisterFunc exposes fn as a global function. fn may return nothing, one
// value, or a (T, error) pair whose non-nil error throws. Parameters and
// results are limited to strings, numbers and bools.
func (r *v8VM) RegisterFunc(name string, fn any) error {
	h := &hostFunc{name: name, fn: reflect.ValueOf(fn), vm: r}
	if h.fn.Kind() != reflect.Func {
		return fmt.Errorf("registering %s: expected a function, got %T", name, fn)
	}
	tmpl := v8.NewFunctionTemplate(r.iso, h.call)
	return r.ctx.Global().Set(name, tmpl.GetFunction(r.ctx))
}

// hostFunc adapts a Go function to a V8 callback.
type hostFunc struct {
	name string
	fn   reflect.Value
	vm   *v8VM
}

func (h *hostFunc) call(info *v8.FunctionCallbackInfo) *v8.Value {
	typ := h.fn.Type()
	args := info.Args()
	if len(args) < typ.NumIn() {
		return h.throw(fmt.Sprintf("%s requires %d argument(s), got %d", h.name, typ.NumIn(), len(args)))
	}
	in := make([]reflect.Value, typ.NumIn())
	for i := range in {
		in[i] = fromJS(args[i], typ.In(i))
	}
	out := h.fn.Call(in)
	if len(out) == 2 {
		if err, _ := out[1].Interface().(error); err != nil {
			return h.throw(fmt.Sprintf("calling %s: %v", h.name, err))
		}
	}
	if len(out) == 0 {
		return nil
	}
	v, err := toJS(h.vm, out[0].Interface())
	if err != nil {
		return h.throw(fmt.Sprintf("calling %s: %v", h.name, err))
	}
	return v
}

func (h *hostFunc) throw(msg string) *v8.Value {
	v, _ := v8.NewValue(h.vm.iso, msg)
	h.vm.iso.ThrowException(v)
	return nil
}

// fromJS converts a callback argument to the Go parameter type.
func fromJS(val *v8.Value, t reflect.Type) reflect.Value {
	switch t.Kind() {
	case reflect.String:
		return reflect.ValueOf(val.String()).Convert(t)
	case reflect.Int, reflect.Int32, reflect.Int64:
		return reflect.ValueOf(val.Integer()).Convert(t)
	case reflect.Float32, reflect.Float64:
		return reflect.ValueOf(val.Number()).Convert(t)
	case reflect.Bool:
		return reflect.ValueOf(val.Boolean()).Convert(t)
	}
	return reflect.Zero(t)
}

// toJS converts a Go value to a V8 value. Integers outside the int32
// range become doubles; anything that is not a scalar goes through JSON.
func toJS(r *v8VM, value any) (*v8.Value, error) {
	switch v := value.(type) {
	case nil:
		return v8.Undefined(r.iso), nil
	case *v8.Value:
		return v, nil
	case string, bool, float64:
		return v8.NewValue(r.iso, v)
	case int:
		return intValue(r.iso, int64(v))
	case int32:
		return v8.NewValue(r.iso, v)
	case int64:
		return intValue(r.iso, v)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encoding %T: %w", value, err)
	}
	return v8.JSONParse(r.ctx, string(data))
}

func intValue(iso *v8.Isolate, n int64) (*v8.Value, error) {
	if n >= math.MinInt32 && n <= math.MaxInt32 {
		return v8.NewValue(iso, int32(n))
	}
	return v8.NewValue(iso, float64(n))
}

func (r *v8VM) SetGlobal(name string, value any) error {
	v, err := toJS(r, value)
	if err != nil {
		return fmt.Errorf("setting %s: %w", name, err)
	}
	return r.ctx.Global().Set(name, v)
}

// RunMicrotasks pumps the V8 microtask queue.
func (r *v8VM) RunMicrotasks() {
	r.ctx.PerformMicrotaskCheckpoint()
}

// BinaryMode returns "sab": outbound buffers must be SharedArrayBuffers.
func (r *v8VM) BinaryMode() string { return "sab" }

// ReadBinaryFromJS copies the SharedArrayBuffer at the global and deletes it.
func (r *v8VM) ReadBinaryFromJS(globalName string) ([]byte, error) {
	defer func() { _ = r.Eval(fmt.Sprintf("delete globalThis[%q];", globalName)) }()
	sab, err := r.ctx.Global().Get(globalName)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", globalName, err)
	}
	data, release, err := sab.SharedArrayBufferGetContents()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", globalName, err)
	}
	defer release()
	return append([]byte{}, data...), nil
}

// WriteBinaryToJS stores a copy of data as an ArrayBuffer at the global,
// staged through a SharedArrayBuffer whose backing store Go can write.
func (r *v8VM) WriteBinaryToJS(globalName string, data []byte) error {
	staging := globalName + "_sab"
	if err := r.Eval(fmt.Sprintf("globalThis[%q] = new SharedArrayBuffer(%d);", staging, len(data))); err != nil {
		return fmt.Errorf("allocating %s: %w", staging, err)
	}
	if len(data) > 0 {
		if err := r.fill(staging, data); err != nil {
			_ = r.Eval(fmt.Sprintf("delete globalThis[%q];", staging))
			return err
		}
	}
	// Receivers get a plain ArrayBuffer, like QuickJS.
	return r.Eval(fmt.Sprintf(`(function() {
		var sab = globalThis[%[1]q];
		delete globalThis[%[1]q];
		var buf = new ArrayBuffer(sab.byteLength);
		new Uint8Array(buf).set(new Uint8Array(sab));
		globalThis[%[2]q] = buf;
	})()`, staging, globalName))
}

func (r *v8VM) fill(name string, data []byte) error {
	sab, err := r.ctx.Global().Get(name)
	if err != nil {
		return fmt.Errorf("filling %s: %w", name, err)
	}
	dst, release, err := sab.SharedArrayBufferGetContents()
	if err != nil {
		return fmt.Errorf("filling %s: %w", name, err)
	}
	copy(dst, data)
	release()
	return nil
}
