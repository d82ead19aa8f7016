package value

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/cryguy/spawn/internal/core"
)

// Wire is the JSON form of a value graph: a flat node table whose
// containers refer to their children by index, so aliasing and cycles
// survive. Byte buffers travel out of band; a "buf" node names its slot.
type Wire struct {
	Root  int    `json:"root"`
	Nodes []Node `json:"nodes"`
}

// Node is one entry of the table. Kind selects which fields are meaningful.
type Node struct {
	Kind    string  `json:"k"`
	Bool    bool    `json:"b,omitempty"`
	Num     float64 `json:"n,omitempty"`
	Special string  `json:"x,omitempty"` // NaN, Infinity, -Infinity, -0
	Str     string  `json:"s,omitempty"`
	Flags   string  `json:"f,omitempty"`
	Items   []int   `json:"i,omitempty"`
	Props   []PRef  `json:"p,omitempty"`
	Entries []ERef  `json:"e,omitempty"`
	Slot    int     `json:"slot,omitempty"`
	Shared  bool    `json:"shared,omitempty"`
	Type    string  `json:"t,omitempty"`
	Ref     int     `json:"r,omitempty"`
	Offset  int     `json:"o,omitempty"`
	Length  int     `json:"l,omitempty"`
	Width   int     `json:"w,omitempty"`
	Height  int     `json:"h,omitempty"`
}

// PRef is an object property pointing at its value node.
type PRef struct {
	Key string `json:"key"`
	V   int    `json:"v"`
}

// ERef is a map entry pointing at its key and value nodes.
type ERef struct {
	K int `json:"k"`
	V int `json:"v"`
}

const (
	nodeUndefined = "undef"
	nodeNull      = "null"
	nodeBool      = "bool"
	nodeNumber    = "num"
	nodeBigInt    = "big"
	nodeString    = "str"
	nodeDate      = "date"
	nodeRegExp    = "re"
	nodeArray     = "arr"
	nodeObject    = "obj"
	nodeMap       = "map"
	nodeSet       = "set"
	nodeBuffer    = "buf"
	nodeView      = "view"
	nodeHandle    = "handle"
)

// noRef marks an absent child reference (a handle without pixels).
const noRef = -1

// Encode serializes v. Buffers listed in transfer are moved: their bytes
// are handed over without a copy and they are detached once the whole
// graph has encoded. Every other buffer is copied. A duplicate or already
// detached transfer entry is a *core.CloneError, as is any disallowed
// value or an untransferred MessagePort or OffscreenCanvas.
func Encode(v Value, transfer []Transferable) (*Wire, [][]byte, error) {
	moving := make(map[Transferable]struct{}, len(transfer))
	for i, t := range transfer {
		if _, dup := moving[t]; dup {
			return nil, nil, &core.CloneError{
				Path:   fmt.Sprintf("transfer[%d]", i),
				Reason: "duplicate entry in transfer list",
			}
		}
		if isDetached(t) {
			return nil, nil, &core.CloneError{
				Path:   fmt.Sprintf("transfer[%d]", i),
				Reason: "transferable is already detached",
			}
		}
		moving[t] = struct{}{}
	}

	e := &encoder{moving: moving, ids: make(map[Value]int)}
	root, err := e.encode(v, "")
	if err != nil {
		return nil, nil, err
	}
	for t := range moving {
		switch t := t.(type) {
		case *ArrayBuffer:
			t.detach()
		case *Handle:
			t.detached = true
			if t.Pixels != nil {
				t.Pixels.detach()
			}
		}
	}
	return &Wire{Root: root, Nodes: e.nodes}, e.bufs, nil
}

func isDetached(t Transferable) bool {
	switch t := t.(type) {
	case *ArrayBuffer:
		return t.detached
	case *Handle:
		return t.detached
	}
	return false
}

type encoder struct {
	moving map[Transferable]struct{}
	ids    map[Value]int
	nodes  []Node
	bufs   [][]byte
}

func (e *encoder) add(n Node) int {
	e.nodes = append(e.nodes, n)
	return len(e.nodes) - 1
}

func (e *encoder) encode(v Value, path string) (int, error) {
	switch v := v.(type) {
	case nil, Undefined:
		return e.add(Node{Kind: nodeUndefined}), nil
	case Null:
		return e.add(Node{Kind: nodeNull}), nil
	case Bool:
		return e.add(Node{Kind: nodeBool, Bool: bool(v)}), nil
	case Number:
		return e.add(numberNode(float64(v))), nil
	case BigInt:
		s := "0"
		if v.Int != nil {
			s = v.Int.String()
		}
		return e.add(Node{Kind: nodeBigInt, Str: s}), nil
	case String:
		return e.add(Node{Kind: nodeString, Str: string(v)}), nil
	}

	if Classify(v) == ClassDisallowed {
		return 0, &core.CloneError{Path: rootPath(path), Reason: disallowedReason(v)}
	}
	if id, ok := e.ids[v]; ok {
		return id, nil
	}
	// Reserve the slot before descending so cycles point back at it.
	id := e.add(Node{})
	e.ids[v] = id

	var n Node
	switch v := v.(type) {
	case *Date:
		n = Node{Kind: nodeDate, Num: float64(v.Time.UnixMilli())}
	case *RegExp:
		n = Node{Kind: nodeRegExp, Str: v.Source, Flags: v.Flags}
	case *Array:
		n = Node{Kind: nodeArray, Items: make([]int, len(v.Items))}
		for i, item := range v.Items {
			c, err := e.encode(item, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return 0, err
			}
			n.Items[i] = c
		}
	case *Object:
		n = Node{Kind: nodeObject, Props: make([]PRef, len(v.Props))}
		for i, p := range v.Props {
			c, err := e.encode(p.Value, propPath(path, p.Key))
			if err != nil {
				return 0, err
			}
			n.Props[i] = PRef{Key: p.Key, V: c}
		}
	case *Map:
		n = Node{Kind: nodeMap, Entries: make([]ERef, len(v.Entries))}
		for i, ent := range v.Entries {
			k, err := e.encode(ent.Key, fmt.Sprintf("%s.keys()[%d]", path, i))
			if err != nil {
				return 0, err
			}
			val, err := e.encode(ent.Value, path+".get("+keyRepr(ent.Key, i)+")")
			if err != nil {
				return 0, err
			}
			n.Entries[i] = ERef{K: k, V: val}
		}
	case *Set:
		n = Node{Kind: nodeSet, Items: make([]int, len(v.Items))}
		for i, item := range v.Items {
			c, err := e.encode(item, fmt.Sprintf("%s.values()[%d]", path, i))
			if err != nil {
				return 0, err
			}
			n.Items[i] = c
		}
	case *ArrayBuffer:
		if v.detached {
			return 0, &core.CloneError{Path: rootPath(path), Reason: "ArrayBuffer is detached"}
		}
		n = Node{Kind: nodeBuffer, Slot: e.buffer(v, false), Shared: v.Shared}
	case *TypedArray:
		if v.Buffer == nil {
			return 0, &core.CloneError{Path: rootPath(path), Reason: "view has no buffer"}
		}
		ref, err := e.encode(v.Buffer, path+".buffer")
		if err != nil {
			return 0, err
		}
		n = Node{Kind: nodeView, Type: string(v.Type), Ref: ref, Offset: v.ByteOffset, Length: v.ByteLength}
	case *Handle:
		_, moved := e.moving[v]
		if !moved && v.Type != ImageBitmap {
			return 0, &core.CloneError{Path: rootPath(path), Reason: string(v.Type) + " must be transferred, not cloned"}
		}
		n = Node{Kind: nodeHandle, Type: string(v.Type), Width: v.Width, Height: v.Height, Ref: noRef}
		if v.Pixels != nil {
			pid := e.add(Node{Kind: nodeBuffer, Slot: e.buffer(v.Pixels, moved)})
			n.Ref = pid
		}
	default:
		return 0, &core.CloneError{Path: rootPath(path), Reason: fmt.Sprintf("unsupported value %T", v)}
	}
	e.nodes[id] = n
	return id, nil
}

// buffer assigns an out-of-band slot to b, moving or copying its bytes.
func (e *encoder) buffer(b *ArrayBuffer, force bool) int {
	_, moved := e.moving[b]
	data := b.Data
	if !moved && !force {
		data = append([]byte(nil), b.Data...)
	}
	e.bufs = append(e.bufs, data)
	return len(e.bufs) - 1
}

func numberNode(f float64) Node {
	switch {
	case math.IsNaN(f):
		return Node{Kind: nodeNumber, Special: "NaN"}
	case math.IsInf(f, 1):
		return Node{Kind: nodeNumber, Special: "Infinity"}
	case math.IsInf(f, -1):
		return Node{Kind: nodeNumber, Special: "-Infinity"}
	case f == 0 && math.Signbit(f):
		return Node{Kind: nodeNumber, Special: "-0"}
	}
	return Node{Kind: nodeNumber, Num: f}
}

func rootPath(path string) string {
	if path == "" {
		return "value"
	}
	return path
}

// Decode rebuilds the graph described by w, taking buffer bytes from bufs
// by slot. Aliasing and cycles are restored.
func Decode(w *Wire, bufs [][]byte) (Value, error) {
	if w == nil || len(w.Nodes) == 0 {
		return Undefined{}, nil
	}
	d := &decoder{w: w, bufs: bufs, out: make([]Value, len(w.Nodes))}
	return d.decode(w.Root)
}

type decoder struct {
	w    *Wire
	bufs [][]byte
	out  []Value
}

func (d *decoder) decode(i int) (Value, error) {
	if i < 0 || i >= len(d.w.Nodes) {
		return nil, fmt.Errorf("node index %d out of range", i)
	}
	if v := d.out[i]; v != nil {
		return v, nil
	}
	n := d.w.Nodes[i]
	switch n.Kind {
	case nodeUndefined:
		return Undefined{}, nil
	case nodeNull:
		return Null{}, nil
	case nodeBool:
		return Bool(n.Bool), nil
	case nodeNumber:
		return Number(specialNumber(n)), nil
	case nodeString:
		return String(n.Str), nil
	case nodeBigInt:
		b, ok := new(big.Int).SetString(n.Str, 10)
		if !ok {
			return nil, fmt.Errorf("invalid bigint %q", n.Str)
		}
		return BigInt{Int: b}, nil
	case nodeDate:
		v := &Date{Time: time.UnixMilli(int64(n.Num)).UTC()}
		d.out[i] = v
		return v, nil
	case nodeRegExp:
		v := &RegExp{Source: n.Str, Flags: n.Flags}
		d.out[i] = v
		return v, nil
	case nodeArray:
		v := &Array{Items: make([]Value, len(n.Items))}
		d.out[i] = v
		for j, c := range n.Items {
			item, err := d.decode(c)
			if err != nil {
				return nil, err
			}
			v.Items[j] = item
		}
		return v, nil
	case nodeObject:
		v := &Object{Props: make([]Prop, 0, len(n.Props))}
		d.out[i] = v
		for _, p := range n.Props {
			item, err := d.decode(p.V)
			if err != nil {
				return nil, err
			}
			v.Set(p.Key, item)
		}
		return v, nil
	case nodeMap:
		v := &Map{Entries: make([]Entry, len(n.Entries))}
		d.out[i] = v
		for j, e := range n.Entries {
			k, err := d.decode(e.K)
			if err != nil {
				return nil, err
			}
			val, err := d.decode(e.V)
			if err != nil {
				return nil, err
			}
			v.Entries[j] = Entry{Key: k, Value: val}
		}
		return v, nil
	case nodeSet:
		v := &Set{Items: make([]Value, len(n.Items))}
		d.out[i] = v
		for j, c := range n.Items {
			item, err := d.decode(c)
			if err != nil {
				return nil, err
			}
			v.Items[j] = item
		}
		return v, nil
	case nodeBuffer:
		if n.Slot < 0 || n.Slot >= len(d.bufs) {
			return nil, fmt.Errorf("buffer slot %d out of range", n.Slot)
		}
		data := d.bufs[n.Slot]
		if data == nil {
			data = []byte{}
		}
		v := &ArrayBuffer{Data: data, Shared: n.Shared}
		d.out[i] = v
		return v, nil
	case nodeView:
		if ViewType(n.Type).ElementSize() == 0 {
			return nil, fmt.Errorf("unknown view type %q", n.Type)
		}
		v := &TypedArray{Type: ViewType(n.Type), ByteOffset: n.Offset, ByteLength: n.Length}
		d.out[i] = v
		buf, err := d.decode(n.Ref)
		if err != nil {
			return nil, err
		}
		ab, ok := buf.(*ArrayBuffer)
		if !ok {
			return nil, fmt.Errorf("view %d refers to a %s", i, KindOf(buf))
		}
		v.Buffer = ab
		return v, nil
	case nodeHandle:
		v := &Handle{Type: HandleType(n.Type), Width: n.Width, Height: n.Height}
		d.out[i] = v
		if n.Ref != noRef {
			px, err := d.decode(n.Ref)
			if err != nil {
				return nil, err
			}
			if ab, ok := px.(*ArrayBuffer); ok {
				v.Pixels = ab
			}
		}
		return v, nil
	}
	return nil, fmt.Errorf("unknown node kind %q", n.Kind)
}

func specialNumber(n Node) float64 {
	switch n.Special {
	case "NaN":
		return math.NaN()
	case "Infinity":
		return math.Inf(1)
	case "-Infinity":
		return math.Inf(-1)
	case "-0":
		return math.Copysign(0, -1)
	}
	return n.Num
}

// Marshal encodes w as JSON.
func (w *Wire) Marshal() ([]byte, error) {
	return json.Marshal(w)
}

// UnmarshalWire parses JSON produced by Marshal or by the worker codec.
func UnmarshalWire(data []byte) (*Wire, error) {
	var w Wire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decoding wire message: %w", err)
	}
	return &w, nil
}

// SlotCount returns how many out-of-band buffers w refers to.
func (w *Wire) SlotCount() int {
	n := 0
	for _, node := range w.Nodes {
		if node.Kind == nodeBuffer && node.Slot+1 > n {
			n = node.Slot + 1
		}
	}
	return n
}
