//go:build !v8

package quickjs

import (
	"encoding/hex"
	"fmt"
	"unsafe"

	"github.com/cryguy/spawn/internal/core"
	"modernc.org/libc"
	lib "modernc.org/libquickjs"
	"modernc.org/quickjs"
)

// qjsVM implements core.VM for the QuickJS engine.
type qjsVM struct {
	vm  *quickjs.VM
	api cAPI
}

var _ core.VM = (*qjsVM)(nil)

func (r *qjsVM) Eval(js string) error {
	v, err := r.vm.EvalValue(js, quickjs.EvalGlobal)
	if err != nil {
		return err
	}
	v.Free()
	return nil
}

// result evaluates js and returns the converted completion value.
func (r *qjsVM) result(js string) (any, error) {
	return r.vm.Eval(js, quickjs.EvalGlobal)
}

func (r *qjsVM) EvalString(js string) (string, error) {
	v, err := r.result(js)
	switch s := v.(type) {
	case nil:
		return "", err
	case string:
		return s, err
	default:
		return fmt.Sprint(s), err
	}
}

func (r *qjsVM) EvalBool(js string) (bool, error) {
	v, err := r.result(js)
	if err != nil {
		return false, err
	}
	if b, ok := v.(bool); ok {
		return b, nil
	}
	return false, fmt.Errorf("evaluating to bool: got %T", v)
}

func (r *qjsVM) EvalInt(js string) (int, error) {
	v, err := r.result(js)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	}
	return 0, fmt.Errorf("evaluating to int: got %T", v)
}

// RegisterFunc registers a Go function as a global JavaScript function.
// The QuickJS wrapper hands multi-value returns back as an array; a
// (T, error) pair is unwrapped here and a non-nil error throws a TypeError.
func (r *qjsVM) RegisterFunc(name string, fn any) error {
	rawName := "__raw_" + name
	if err := r.vm.RegisterFunc(rawName, fn, false); err != nil {
		return fmt.Errorf("registering %s: %w", name, err)
	}
	return r.Eval(fmt.Sprintf(`(function() {
		var raw = globalThis[%[1]q];
		delete globalThis[%[1]q];
		globalThis[%[2]q] = function() {
			var r = raw.apply(this, arguments);
			if (!Array.isArray(r)) return r;
			if (r[1] !== null && r[1] !== undefined) throw new TypeError("calling %[2]s: " + r[1]);
			return r[0];
		};
	})()`, rawName, name))
}

// SetGlobal sets a global property on the VM's global object.
func (r *qjsVM) SetGlobal(name string, value any) error {
	atom, err := r.vm.NewAtom(name)
	if err != nil {
		return fmt.Errorf("creating atom %q: %w", name, err)
	}
	glob := r.vm.GlobalObject()
	defer glob.Free()
	return glob.SetProperty(atom, value)
}

// RunMicrotasks pumps the QuickJS job queue.
func (r *qjsVM) RunMicrotasks() {
	r.api.executePendingJobs()
}

// Interrupt aborts the script currently running. Safe from any goroutine.
func (r *qjsVM) Interrupt() {
	r.vm.Interrupt()
}

// Close frees the VM.
func (r *qjsVM) Close() {
	r.vm.Close()
}

// BinaryMode returns "ab": buffers cross as plain ArrayBuffers.
func (r *qjsVM) BinaryMode() string { return "ab" }

// WriteBinaryToJS stores a copy of data as an ArrayBuffer at the global.
// With the C API available this is one JS_NewArrayBufferCopy.
func (r *qjsVM) WriteBinaryToJS(globalName string, data []byte) error {
	if len(data) == 0 {
		return r.Eval(fmt.Sprintf("globalThis[%q] = new ArrayBuffer(0);", globalName))
	}
	if !r.api.ok {
		return r.writeBinarySlow(globalName, data)
	}

	jsVal := lib.XJS_NewArrayBufferCopy(r.api.tls, r.api.ctx, uintptr(unsafe.Pointer(&data[0])), lib.Tsize_t(len(data)))
	cName, err := libc.CString(globalName)
	if err != nil {
		lib.XFreeValue(r.api.tls, r.api.ctx, jsVal)
		return fmt.Errorf("allocating property name: %w", err)
	}
	glob := lib.XJS_GetGlobalObject(r.api.tls, r.api.ctx)
	// JS_SetPropertyStr takes ownership of jsVal.
	ret := lib.XJS_SetPropertyStr(r.api.tls, r.api.ctx, glob, cName, jsVal)
	lib.XFreeValue(r.api.tls, r.api.ctx, glob)
	libc.Xfree(r.api.tls, cName)
	if ret < 0 {
		return fmt.Errorf("setting global %q", globalName)
	}
	return nil
}

// ReadBinaryFromJS copies the ArrayBuffer at the global into Go memory and
// deletes the global.
func (r *qjsVM) ReadBinaryFromJS(globalName string) ([]byte, error) {
	defer func() { _ = r.Eval(fmt.Sprintf("delete globalThis[%q];", globalName)) }()
	if !r.api.ok {
		return r.readBinarySlow(globalName)
	}

	cName, err := libc.CString(globalName)
	if err != nil {
		return nil, fmt.Errorf("allocating property name: %w", err)
	}
	glob := lib.XJS_GetGlobalObject(r.api.tls, r.api.ctx)
	jsVal := lib.XJS_GetPropertyStr(r.api.tls, r.api.ctx, glob, cName)
	lib.XFreeValue(r.api.tls, r.api.ctx, glob)
	libc.Xfree(r.api.tls, cName)
	defer lib.XFreeValue(r.api.tls, r.api.ctx, jsVal)

	var size lib.Tsize_t
	ptr := lib.XJS_GetArrayBuffer(r.api.tls, r.api.ctx, uintptr(unsafe.Pointer(&size)), jsVal)
	if ptr == 0 || size == 0 {
		return []byte{}, nil
	}
	out := make([]byte, size)
	copy(out, unsafe.Slice((*byte)(unsafe.Pointer(ptr)), size))
	return out, nil
}

// writeBinarySlow and readBinarySlow move bytes as hex text. They are used
// only when the C API pointers could not be recovered.
func (r *qjsVM) writeBinarySlow(globalName string, data []byte) error {
	return r.Eval(fmt.Sprintf(`(function(h) {
		var u = new Uint8Array(h.length / 2);
		for (var i = 0; i < u.length; i++) u[i] = parseInt(h.substr(i * 2, 2), 16);
		globalThis[%q] = u.buffer;
	})(%q)`, globalName, hex.EncodeToString(data)))
}

func (r *qjsVM) readBinarySlow(globalName string) ([]byte, error) {
	h, err := r.EvalString(fmt.Sprintf(`(function(b) {
		if (!b) return "";
		var u = new Uint8Array(b), out = "";
		for (var i = 0; i < u.length; i++) out += (u[i] < 16 ? "0" : "") + u[i].toString(16);
		return out;
	})(globalThis[%q])`, globalName))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", globalName, err)
	}
	out, err := hex.DecodeString(h)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", globalName, err)
	}
	return out, nil
}
