package spawn

import (
	"github.com/cryguy/spawn/internal/codegen"
	"github.com/cryguy/spawn/internal/core"
	"github.com/cryguy/spawn/internal/invoke"
	"github.com/cryguy/spawn/internal/store"
	"github.com/cryguy/spawn/internal/transform"
	"github.com/cryguy/spawn/internal/value"
)

// Type aliases re-exporting internal types so callers can use
// spawn.Config, spawn.Value, etc. without importing internal packages.

type Config = core.Config
type BuildConfig = core.BuildConfig
type RuntimeConfig = core.RuntimeConfig
type Protocol = core.Protocol
type Mode = core.Mode
type Engine = core.Engine

type Program = codegen.Program
type Site = transform.Site
type ArtifactStore = store.ArtifactStore

type Handle = invoke.Handle
type State = invoke.State

type CaptureError = core.CaptureError
type ModuleOptionError = core.ModuleOptionError
type TransformError = core.TransformError
type CloneError = core.CloneError
type WorkerError = core.WorkerError
type TransportError = core.TransportError

type Value = value.Value
type Undefined = value.Undefined
type Null = value.Null
type Bool = value.Bool
type Number = value.Number
type String = value.String
type BigInt = value.BigInt
type Date = value.Date
type RegExp = value.RegExp
type Array = value.Array
type Object = value.Object
type Map = value.Map
type Set = value.Set
type ArrayBuffer = value.ArrayBuffer
type TypedArray = value.TypedArray
type ImageHandle = value.Handle

// Constants re-exported from core and invoke.
const (
	ProtocolVariadic = core.ProtocolVariadic
	ProtocolSingle   = core.ProtocolSingle
	ModeDevelopment  = core.ModeDevelopment
	ModeProduction   = core.ModeProduction

	StateCreated   = invoke.StateCreated
	StateAwaiting  = invoke.StateAwaiting
	StateResolved  = invoke.StateResolved
	StateRejected  = invoke.StateRejected
	StateDestroyed = invoke.StateDestroyed
)

// Errors re-exported from core.
var (
	ErrDestroyed       = core.ErrDestroyed
	ErrBusy            = core.ErrBusy
	ErrNoWorkerSupport = core.ErrNoWorkerSupport
	ErrUnknownProgram  = core.ErrUnknownProgram
	ErrTerminated      = core.ErrTerminated
)

// Functions re-exported from internal packages.
var (
	DefaultConfig   = core.DefaultConfig
	LoadConfig      = core.LoadConfig
	FromGo          = value.FromGo
	ToGo            = value.ToGo
	NewObject       = value.NewObject
	NewArray        = value.NewArray
	NewArrayBuffer  = value.NewArrayBuffer
	NewMemoryStore  = store.NewMemory
	OpenSQLiteStore = store.OpenSQLite
)
