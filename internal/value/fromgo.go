package value

import (
	"fmt"
	"math/big"
	"reflect"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/net/html"
)

// FromGo converts ordinary Go data into a Value. It never fails: anything
// that cannot travel becomes a disallowed variant, which Validate reports
// with its path.
//
//   - nil, bool, numbers and strings map to primitives; *big.Int to BigInt
//   - []byte wraps (does not copy) into an *ArrayBuffer
//   - slices and arrays become *Array; maps become *Object (string keys,
//     sorted) or *Map; structs become *Object keyed by JSON field name
//   - time.Time and *regexp.Regexp become *Date and *RegExp
//   - funcs become Function, channels and unsafe pointers *HostObject
//   - *html.Node and *websocket.Conn are live host objects, weak.Pointer
//     is a WeakRef, and a struct with only unexported fields (a sync.Mutex,
//     say) is opaque host state
//
// Pointers are followed; a pointer reached twice yields the same Value, so
// Go cycles become value cycles.
func FromGo(x any) Value {
	c := &converter{seen: make(map[uintptr]Value)}
	return c.convert(reflect.ValueOf(x))
}

type converter struct {
	seen map[uintptr]Value
}

var (
	timeType   = reflect.TypeOf(time.Time{})
	bigIntType = reflect.TypeOf((*big.Int)(nil))
	regexpType = reflect.TypeOf((*regexp.Regexp)(nil))
	nodeType   = reflect.TypeOf((*html.Node)(nil))
	connType   = reflect.TypeOf((*websocket.Conn)(nil))
	valueType  = reflect.TypeOf((*Value)(nil)).Elem()
)

func (c *converter) convert(rv reflect.Value) Value {
	if !rv.IsValid() {
		return Null{}
	}
	if rv.Type().Implements(valueType) && (rv.Kind() != reflect.Interface && rv.Kind() != reflect.Pointer || !rv.IsNil()) {
		return rv.Interface().(Value)
	}

	switch rv.Type() {
	case timeType:
		return &Date{Time: rv.Interface().(time.Time)}
	case bigIntType:
		if rv.IsNil() {
			return Null{}
		}
		return BigInt{Int: new(big.Int).Set(rv.Interface().(*big.Int))}
	case regexpType:
		if rv.IsNil() {
			return Null{}
		}
		return &RegExp{Source: rv.Interface().(*regexp.Regexp).String()}
	case nodeType:
		return &HostObject{Type: "Node"}
	case connType:
		return &HostObject{Type: "WebSocket"}
	}

	switch rv.Kind() {
	case reflect.Bool:
		return Bool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Number(float64(rv.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return Number(float64(rv.Uint()))
	case reflect.Float32, reflect.Float64:
		return Number(rv.Float())
	case reflect.String:
		return String(rv.String())
	case reflect.Interface:
		if rv.IsNil() {
			return Null{}
		}
		return c.convert(rv.Elem())
	case reflect.Pointer:
		if rv.IsNil() {
			return Null{}
		}
		if v, ok := c.seen[rv.Pointer()]; ok {
			return v
		}
		return c.convertPointee(rv)
	case reflect.Slice:
		if rv.IsNil() {
			return Null{}
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return NewArrayBuffer(rv.Bytes())
		}
		return c.convertList(rv)
	case reflect.Array:
		return c.convertList(rv)
	case reflect.Map:
		if rv.IsNil() {
			return Null{}
		}
		return c.convertMap(rv)
	case reflect.Struct:
		if t := rv.Type(); isWeakPointer(t) {
			return &HostObject{Type: "WeakRef"}
		} else if opaque(t) {
			return &HostObject{Type: t.String()}
		}
		return c.convertStruct(rv, nil)
	case reflect.Func:
		name := ""
		if !rv.IsNil() {
			if fn := runtime.FuncForPC(rv.Pointer()); fn != nil {
				name = fn.Name()
				if i := strings.LastIndexByte(name, '.'); i >= 0 {
					name = name[i+1:]
				}
			}
		}
		return Function{Name: name}
	case reflect.Chan:
		return &HostObject{Type: "chan"}
	default:
		return &HostObject{Type: rv.Type().String()}
	}
}

// convertPointee registers the result for rv before converting children.
func (c *converter) convertPointee(rv reflect.Value) Value {
	elem := rv.Elem()
	switch elem.Kind() {
	case reflect.Struct:
		if t := elem.Type(); t == timeType || isWeakPointer(t) || opaque(t) {
			return c.convert(elem)
		}
		o := &Object{}
		c.seen[rv.Pointer()] = o
		return c.convertStruct(elem, o)
	case reflect.Slice, reflect.Array, reflect.Map:
		v := c.convert(elem)
		c.seen[rv.Pointer()] = v
		return v
	default:
		return c.convert(elem)
	}
}

func (c *converter) convertList(rv reflect.Value) Value {
	a := &Array{Items: make([]Value, rv.Len())}
	if rv.Kind() == reflect.Slice && rv.Len() > 0 {
		c.seen[rv.Pointer()] = a
	}
	for i := range a.Items {
		a.Items[i] = c.convert(rv.Index(i))
	}
	return a
}

func (c *converter) convertMap(rv reflect.Value) Value {
	if rv.Type().Key().Kind() == reflect.String {
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
		o := &Object{Props: make([]Prop, 0, len(keys))}
		c.seen[rv.Pointer()] = o
		for _, k := range keys {
			o.Props = append(o.Props, Prop{Key: k.String(), Value: c.convert(rv.MapIndex(k))})
		}
		return o
	}
	m := &Map{}
	c.seen[rv.Pointer()] = m
	iter := rv.MapRange()
	for iter.Next() {
		m.Entries = append(m.Entries, Entry{Key: c.convert(iter.Key()), Value: c.convert(iter.Value())})
	}
	sort.SliceStable(m.Entries, func(i, j int) bool {
		return sortKey(m.Entries[i].Key) < sortKey(m.Entries[j].Key)
	})
	return m
}

func sortKey(v Value) string {
	return fmt.Sprintf("%T:%v", v, v)
}

func isWeakPointer(t reflect.Type) bool {
	return t.PkgPath() == "weak" && strings.HasPrefix(t.Name(), "Pointer[")
}

// opaque reports a struct that has fields but exports none of them.
func opaque(t reflect.Type) bool {
	if t.NumField() == 0 {
		return false
	}
	for i := 0; i < t.NumField(); i++ {
		if t.Field(i).IsExported() {
			return false
		}
	}
	return true
}

func (c *converter) convertStruct(rv reflect.Value, o *Object) Value {
	if o == nil {
		o = &Object{}
	}
	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := f.Name
		omitEmpty := false
		if tag, ok := f.Tag.Lookup("json"); ok {
			parts := strings.Split(tag, ",")
			if parts[0] == "-" && len(parts) == 1 {
				continue
			}
			if parts[0] != "" {
				name = parts[0]
			}
			for _, opt := range parts[1:] {
				if opt == "omitempty" {
					omitEmpty = true
				}
			}
		}
		fv := rv.Field(i)
		if omitEmpty && fv.IsZero() {
			continue
		}
		o.Set(name, c.convert(fv))
	}
	return o
}

// ToGo converts v into plain Go data: nil, bool, float64, string, *big.Int,
// time.Time, []byte, []any, map[string]any. Maps with non-string keys
// and sets become []any of entries ([2]any) or items. Views become the
// viewed []byte. Disallowed values become nil. Cycles are preserved for
// slices and maps only as far as Go allows; a revisited container yields
// the already converted Go value.
func ToGo(v Value) any {
	return toGo(v, make(map[Value]any))
}

func toGo(v Value, seen map[Value]any) any {
	if g, ok := seen[v]; ok && container(Classify(v)) {
		return g
	}
	switch v := v.(type) {
	case nil, Undefined, Null:
		return nil
	case Bool:
		return bool(v)
	case Number:
		return float64(v)
	case String:
		return string(v)
	case BigInt:
		return v.Int
	case *Date:
		return v.Time
	case *RegExp:
		return "/" + v.Source + "/" + v.Flags
	case *Array:
		out := make([]any, len(v.Items))
		seen[v] = out
		for i, item := range v.Items {
			out[i] = toGo(item, seen)
		}
		return out
	case *Object:
		out := make(map[string]any, len(v.Props))
		seen[v] = out
		for _, p := range v.Props {
			out[p.Key] = toGo(p.Value, seen)
		}
		return out
	case *Map:
		out := make([]any, len(v.Entries))
		seen[v] = out
		for i, e := range v.Entries {
			out[i] = [2]any{toGo(e.Key, seen), toGo(e.Value, seen)}
		}
		return out
	case *Set:
		out := make([]any, len(v.Items))
		seen[v] = out
		for i, item := range v.Items {
			out[i] = toGo(item, seen)
		}
		return out
	case *ArrayBuffer:
		return v.Data
	case *TypedArray:
		return v.Bytes()
	case *Handle:
		return v
	}
	return nil
}
