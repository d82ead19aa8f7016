//go:build !v8

package quickjs

import (
	"reflect"
	"unsafe"

	"modernc.org/libc"
	lib "modernc.org/libquickjs"
	"modernc.org/quickjs"
)

// cAPI holds the raw handles needed to call libquickjs directly. The Go
// wrapper never runs JS_ExecutePendingJob and copies buffers through
// strings, so both the job pump and binary transfer go around it.
//
// VM struct layout (modernc.org/quickjs@v0.17.1):
//
//	type VM struct {
//	    cContext uintptr
//	    ...
//	    runtime  *runtime
//	}
//
//	type runtime struct {
//	    cRuntime uintptr
//	    tls      *libc.TLS
//	}
type cAPI struct {
	ctx uintptr // JSContext*
	rt  uintptr // JSRuntime*
	tls *libc.TLS
	ok  bool
}

// extractCAPI recovers the unexported handles from vm. ok is false when
// the layout does not match, in which case callers use slower paths.
func extractCAPI(vm *quickjs.VM) (api cAPI) {
	defer func() {
		if recover() != nil {
			api = cAPI{}
		}
	}()

	vmVal := reflect.ValueOf(vm).Elem()
	if ctxField := vmVal.FieldByName("cContext"); ctxField.IsValid() && ctxField.Kind() == reflect.Uintptr {
		api.ctx = *(*uintptr)(unsafe.Pointer(ctxField.UnsafeAddr()))
	} else {
		// cContext is the first field of VM.
		api.ctx = *(*uintptr)(unsafe.Pointer(vm))
	}

	rtField := vmVal.FieldByName("runtime")
	if !rtField.IsValid() || rtField.IsNil() {
		return cAPI{}
	}
	rtVal := reflect.NewAt(rtField.Type().Elem(), unsafe.Pointer(rtField.Pointer())).Elem()

	cRuntime := rtVal.FieldByName("cRuntime")
	tls := rtVal.FieldByName("tls")
	if !cRuntime.IsValid() || !tls.IsValid() || tls.IsNil() {
		return cAPI{}
	}
	api.rt = uintptr(cRuntime.Uint())
	api.tls = (*libc.TLS)(unsafe.Pointer(tls.Pointer()))
	api.ok = api.ctx != 0 && api.rt != 0

	if api.ok {
		// Smoke test: the pointers must survive a trivial C call.
		glob := lib.XJS_GetGlobalObject(api.tls, api.ctx)
		lib.XFreeValue(api.tls, api.ctx, glob)
	}
	return api
}

// executePendingJobs runs queued promise jobs until the queue is empty and
// returns how many ran.
func (a cAPI) executePendingJobs() int {
	if a.rt == 0 || a.tls == nil {
		return 0
	}
	count := 0
	for lib.XJS_ExecutePendingJob(a.tls, a.rt, 0) > 0 {
		count++
	}
	return count
}
