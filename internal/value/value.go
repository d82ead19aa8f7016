// Package value is the closed set of values that can travel between the
// invoking side and a worker context.
//
// Primitives are Go value types. Every other kind is a pointer, and the
// pointer is the value's identity: two slots holding the same *Array alias
// one array, and graphs may be cyclic.
package value

import (
	"math/big"
	"time"
)

// Value is implemented only by the types in this package.
type Value interface {
	kind() Kind
}

// Kind is the concrete variant of a Value.
type Kind uint8

const (
	KindUndefined Kind = iota
	KindNull
	KindBool
	KindNumber
	KindBigInt
	KindString
	KindDate
	KindRegExp
	KindArray
	KindObject
	KindMap
	KindSet
	KindArrayBuffer
	KindTypedArray
	KindHandle
	KindFunction
	KindSymbol
	KindHostObject
)

var kindNames = [...]string{
	KindUndefined:   "undefined",
	KindNull:        "null",
	KindBool:        "boolean",
	KindNumber:      "number",
	KindBigInt:      "bigint",
	KindString:      "string",
	KindDate:        "Date",
	KindRegExp:      "RegExp",
	KindArray:       "Array",
	KindObject:      "Object",
	KindMap:         "Map",
	KindSet:         "Set",
	KindArrayBuffer: "ArrayBuffer",
	KindTypedArray:  "TypedArray",
	KindHandle:      "Handle",
	KindFunction:    "function",
	KindSymbol:      "symbol",
	KindHostObject:  "HostObject",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// KindOf returns the variant of v. A nil Value is undefined.
func KindOf(v Value) Kind {
	if v == nil {
		return KindUndefined
	}
	return v.kind()
}

// ----- primitives -----

type (
	Undefined struct{}
	Null      struct{}
	Bool      bool
	Number    float64
	String    string
)

// BigInt is an arbitrary-precision integer.
type BigInt struct{ Int *big.Int }

func (Undefined) kind() Kind { return KindUndefined }
func (Null) kind() Kind      { return KindNull }
func (Bool) kind() Kind      { return KindBool }
func (Number) kind() Kind    { return KindNumber }
func (String) kind() Kind    { return KindString }
func (BigInt) kind() Kind    { return KindBigInt }

// NewBigInt wraps an int64.
func NewBigInt(n int64) BigInt { return BigInt{Int: big.NewInt(n)} }

// ----- leaf objects -----

// Date is a point in time with millisecond precision.
type Date struct{ Time time.Time }

// RegExp is a regular expression literal.
type RegExp struct{ Source, Flags string }

func (*Date) kind() Kind   { return KindDate }
func (*RegExp) kind() Kind { return KindRegExp }

// ----- containers -----

// Array is an ordered sequence.
type Array struct{ Items []Value }

// Prop is one own property of an Object.
type Prop struct {
	Key   string
	Value Value
}

// Object is a plain key-value mapping with string keys in insertion order.
// Keys are unique; use Set to keep it that way.
type Object struct{ Props []Prop }

// Entry is one key-value pair of a Map.
type Entry struct{ Key, Value Value }

// Map is an ordered key-value map with arbitrary keys.
type Map struct{ Entries []Entry }

// Set is an ordered collection of unique values.
type Set struct{ Items []Value }

func (*Array) kind() Kind  { return KindArray }
func (*Object) kind() Kind { return KindObject }
func (*Map) kind() Kind    { return KindMap }
func (*Set) kind() Kind    { return KindSet }

// NewArray returns an array holding items.
func NewArray(items ...Value) *Array { return &Array{Items: items} }

// NewObject builds an object from alternating key, value arguments.
func NewObject(kv ...any) *Object {
	o := &Object{}
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		v, ok := kv[i+1].(Value)
		if !ok {
			v = FromGo(kv[i+1])
		}
		o.Set(key, v)
	}
	return o
}

// Get returns the property stored under key.
func (o *Object) Get(key string) (Value, bool) {
	for _, p := range o.Props {
		if p.Key == key {
			return p.Value, true
		}
	}
	return nil, false
}

// Set stores v under key, replacing an existing property in place.
func (o *Object) Set(key string, v Value) {
	for i := range o.Props {
		if o.Props[i].Key == key {
			o.Props[i].Value = v
			return
		}
	}
	o.Props = append(o.Props, Prop{Key: key, Value: v})
}

// Keys returns the property names in insertion order.
func (o *Object) Keys() []string {
	keys := make([]string, len(o.Props))
	for i, p := range o.Props {
		keys[i] = p.Key
	}
	return keys
}

// ----- binary data -----

// ArrayBuffer is a byte buffer. A transferred buffer is detached: its
// bytes moved to the receiver and it reads as empty afterwards.
type ArrayBuffer struct {
	Data     []byte
	Shared   bool // SharedArrayBuffer
	detached bool
}

func (*ArrayBuffer) kind() Kind { return KindArrayBuffer }

// NewArrayBuffer wraps data without copying it.
func NewArrayBuffer(data []byte) *ArrayBuffer { return &ArrayBuffer{Data: data} }

// Detached reports whether the buffer was transferred away.
func (b *ArrayBuffer) Detached() bool { return b.detached }

func (b *ArrayBuffer) detach() {
	b.Data = nil
	b.detached = true
}

// ViewType names a TypedArray constructor or DataView.
type ViewType string

const (
	Int8Array         ViewType = "Int8Array"
	Uint8Array        ViewType = "Uint8Array"
	Uint8ClampedArray ViewType = "Uint8ClampedArray"
	Int16Array        ViewType = "Int16Array"
	Uint16Array       ViewType = "Uint16Array"
	Int32Array        ViewType = "Int32Array"
	Uint32Array       ViewType = "Uint32Array"
	Float32Array      ViewType = "Float32Array"
	Float64Array      ViewType = "Float64Array"
	BigInt64Array     ViewType = "BigInt64Array"
	BigUint64Array    ViewType = "BigUint64Array"
	DataView          ViewType = "DataView"
)

var elementSizes = map[ViewType]int{
	Int8Array: 1, Uint8Array: 1, Uint8ClampedArray: 1,
	Int16Array: 2, Uint16Array: 2,
	Int32Array: 4, Uint32Array: 4, Float32Array: 4,
	Float64Array: 8, BigInt64Array: 8, BigUint64Array: 8,
	DataView: 1,
}

// ElementSize returns the byte width of one element, or 0 for an unknown type.
func (t ViewType) ElementSize() int { return elementSizes[t] }

// TypedArray is a typed view over a byte range of Buffer.
type TypedArray struct {
	Type       ViewType
	Buffer     *ArrayBuffer
	ByteOffset int
	ByteLength int
}

func (*TypedArray) kind() Kind { return KindTypedArray }

// NewUint8Array returns a view covering all of buf.
func NewUint8Array(buf *ArrayBuffer) *TypedArray {
	return &TypedArray{Type: Uint8Array, Buffer: buf, ByteLength: len(buf.Data)}
}

// Bytes returns the viewed byte range.
func (t *TypedArray) Bytes() []byte {
	if t.Buffer == nil || t.Buffer.detached {
		return nil
	}
	end := t.ByteOffset + t.ByteLength
	if end > len(t.Buffer.Data) {
		end = len(t.Buffer.Data)
	}
	if t.ByteOffset > end {
		return nil
	}
	return t.Buffer.Data[t.ByteOffset:end]
}

// HandleType names a zero-copy transferable platform object.
type HandleType string

const (
	MessagePort     HandleType = "MessagePort"
	ImageBitmap     HandleType = "ImageBitmap"
	OffscreenCanvas HandleType = "OffscreenCanvas"
)

// Handle is a transferable platform object. Pixels, when set, carries the
// backing storage of a bitmap or canvas.
type Handle struct {
	Type     HandleType
	Width    int
	Height   int
	Pixels   *ArrayBuffer
	detached bool
}

func (*Handle) kind() Kind { return KindHandle }

// Detached reports whether the handle was transferred away.
func (h *Handle) Detached() bool { return h.detached }

// ----- disallowed -----

// Function stands for a callable value. It is never cloneable.
type Function struct{ Name string }

// Symbol stands for a symbol value. It is never cloneable.
type Symbol struct{ Description string }

// HostObject is a live object of the host environment (a weak collection,
// a window, a UI-tree node, an open connection). It is never cloneable.
type HostObject struct{ Type string }

func (Function) kind() Kind    { return KindFunction }
func (Symbol) kind() Kind      { return KindSymbol }
func (*HostObject) kind() Kind { return KindHostObject }
