package core

// JSRuntime is the part of a JavaScript engine the worker scope and the
// event loop need.
type JSRuntime interface {
	Eval(js string) error
	EvalString(js string) (string, error)
	EvalBool(js string) (bool, error)
	EvalInt(js string) (int, error)

	// RegisterFunc installs fn as a global function. fn may return a
	// (T, error) pair; a non-nil error throws in JS.
	RegisterFunc(name string, fn any) error

	// SetGlobal assigns a Go scalar to a global.
	SetGlobal(name string, value any) error

	// RunMicrotasks drains pending promise jobs.
	RunMicrotasks()
}

// BinaryTransferer moves byte buffers between Go and a JS global without
// going through string encodings. V8 bridges through SharedArrayBuffer,
// QuickJS copies through the libquickjs C API.
type BinaryTransferer interface {
	// ReadBinaryFromJS reads the buffer stored at the given global, deletes
	// the global, and returns a Go copy of its bytes.
	ReadBinaryFromJS(globalName string) ([]byte, error)

	// WriteBinaryToJS stores a JS ArrayBuffer holding a copy of data at
	// the given global.
	WriteBinaryToJS(globalName string, data []byte) error

	// BinaryMode returns the JS buffer type ReadBinaryFromJS expects:
	// "sab" for SharedArrayBuffer (V8), "ab" for ArrayBuffer (QuickJS).
	BinaryMode() string
}

// VM is one isolated JavaScript context, owned by exactly one goroutine.
// Interrupt is the only method that may be called from another goroutine.
type VM interface {
	JSRuntime
	BinaryTransferer

	// Interrupt aborts the JavaScript currently running, if any.
	Interrupt()

	// Close releases the context. The VM must not be used afterwards.
	Close()
}

// Engine creates VMs. Implementations are selected by build tag.
type Engine interface {
	Name() string
	NewVM(cfg RuntimeConfig) (VM, error)
}
