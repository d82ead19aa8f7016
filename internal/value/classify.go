package value

import (
	"fmt"
	"strconv"

	"github.com/tdewolff/parse/v2/js"
)

// Class groups kinds by how the transport treats them.
type Class uint8

const (
	// ClassPrimitive values are copied as-is (includes Date and RegExp).
	ClassPrimitive Class = iota
	// ClassSequence is an Array.
	ClassSequence
	// ClassMapping is an Object or a Map.
	ClassMapping
	// ClassSet is a Set.
	ClassSet
	// ClassBuffer is an ArrayBuffer or SharedArrayBuffer.
	ClassBuffer
	// ClassView is a TypedArray or DataView.
	ClassView
	// ClassHandle is a zero-copy transferable platform object.
	ClassHandle
	// ClassDisallowed values can never cross the channel.
	ClassDisallowed
)

// Classify decides the class of v.
func Classify(v Value) Class {
	switch KindOf(v) {
	case KindArray:
		return ClassSequence
	case KindObject, KindMap:
		return ClassMapping
	case KindSet:
		return ClassSet
	case KindArrayBuffer:
		return ClassBuffer
	case KindTypedArray:
		return ClassView
	case KindHandle:
		return ClassHandle
	case KindFunction, KindSymbol, KindHostObject:
		return ClassDisallowed
	default:
		return ClassPrimitive
	}
}

// container reports whether v has identity and can take part in a cycle.
func container(c Class) bool {
	switch c {
	case ClassSequence, ClassMapping, ClassSet, ClassBuffer, ClassView, ClassHandle:
		return true
	}
	return false
}

// children calls fn for every value directly reachable from v, in order,
// with the diagnostic path of each child.
func children(v Value, path string, fn func(child Value, path string) error) error {
	switch v := v.(type) {
	case *Array:
		for i, item := range v.Items {
			if err := fn(item, path+"["+strconv.Itoa(i)+"]"); err != nil {
				return err
			}
		}
	case *Object:
		for _, p := range v.Props {
			if err := fn(p.Value, propPath(path, p.Key)); err != nil {
				return err
			}
		}
	case *Map:
		for i, e := range v.Entries {
			if err := fn(e.Key, path+".keys()["+strconv.Itoa(i)+"]"); err != nil {
				return err
			}
			if err := fn(e.Value, path+".get("+keyRepr(e.Key, i)+")"); err != nil {
				return err
			}
		}
	case *Set:
		for i, item := range v.Items {
			if err := fn(item, path+".values()["+strconv.Itoa(i)+"]"); err != nil {
				return err
			}
		}
	case *TypedArray:
		if v.Buffer != nil {
			return fn(v.Buffer, path+".buffer")
		}
	}
	return nil
}

func propPath(path, key string) string {
	if js.AsIdentifierName([]byte(key)) {
		return path + "." + key
	}
	return path + "[" + strconv.Quote(key) + "]"
}

func keyRepr(k Value, i int) string {
	switch k := k.(type) {
	case String:
		return strconv.Quote(string(k))
	case Number:
		return strconv.FormatFloat(float64(k), 'g', -1, 64)
	case Bool:
		return strconv.FormatBool(bool(k))
	default:
		return fmt.Sprintf("#%d", i)
	}
}

func disallowedReason(v Value) string {
	switch v := v.(type) {
	case Function:
		if v.Name != "" {
			return fmt.Sprintf("function %s could not be cloned", v.Name)
		}
		return "function could not be cloned"
	case Symbol:
		return "symbol could not be cloned"
	case *HostObject:
		return fmt.Sprintf("%s object could not be cloned", v.Type)
	}
	return "value could not be cloned"
}
