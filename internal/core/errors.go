package core

import (
	"errors"
	"fmt"
)

var (
	// ErrDestroyed is returned by Run on a handle that has been torn down.
	ErrDestroyed = errors.New("spawn: worker handle already destroyed")

	// ErrBusy is returned by Run while a request is already outstanding.
	ErrBusy = errors.New("spawn: worker handle is awaiting a response")

	// ErrNoWorkerSupport is returned when the runtime has no engine to run
	// worker contexts, e.g. inside a server rendering pass.
	ErrNoWorkerSupport = errors.New("spawn: isolated worker contexts are not available in this environment; " +
		"call spawn() only where workers can run")

	// ErrUnknownProgram is returned when a handle names an address that no
	// program is registered under.
	ErrUnknownProgram = errors.New("spawn: unknown worker program")

	// ErrTerminated is returned when posting to a worker that was terminated.
	ErrTerminated = errors.New("spawn: worker terminated")
)

// CaptureKind names a binding that may not be captured.
type CaptureKind string

const (
	CaptureFunction CaptureKind = "function"
	CaptureClass    CaptureKind = "class"
)

// CaptureError reports a captured binding that cannot cross into a worker.
type CaptureError struct {
	Name string
	Kind CaptureKind
}

func (e *CaptureError) Error() string {
	switch e.Kind {
	case CaptureClass:
		return fmt.Sprintf("cannot capture class '%s' in spawn: class instances cannot be transferred to workers; "+
			"construct it inside the spawn callback instead", e.Name)
	default:
		return fmt.Sprintf("cannot capture function '%s' in spawn: functions cannot be transferred to workers; "+
			"define it inside the spawn callback or import it from a module", e.Name)
	}
}

// ModuleOptionError reports a bad entry in the spawn options' modules map.
type ModuleOptionError struct {
	Key    string
	Reason string
}

func (e *ModuleOptionError) Error() string {
	return fmt.Sprintf("modules.%s %s", e.Key, e.Reason)
}

// TransformError wraps a build-time failure with the module it came from.
type TransformError struct {
	File string
	Err  error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("[js-spawn] %s: %v", e.File, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// CloneError reports a value that cannot be copied or moved across the
// channel. Path locates the offending sub-value.
type CloneError struct {
	Path   string
	Reason string
}

func (e *CloneError) Error() string {
	if e.Path == "" {
		return "spawn: " + e.Reason
	}
	return fmt.Sprintf("spawn: %s: %s", e.Path, e.Reason)
}

// WorkerError is an application-level failure thrown inside the worker.
// Its message is exactly the text the worker reported.
type WorkerError struct {
	Message string
}

func (e *WorkerError) Error() string { return e.Message }

// TransportError is a channel-level failure: the worker failed to load,
// crashed while dispatching, timed out, or sent a malformed reply.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("spawn: worker channel error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
