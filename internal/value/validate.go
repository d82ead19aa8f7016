package value

import "github.com/cryguy/spawn/internal/core"

// Validate walks v and fails on the first value that can never cross the
// channel: a function, a symbol, or a host object. root names v in the
// error path (e.g. "captured" gives "captured.items[2].cb").
//
// Every container is visited once, so cyclic and shared graphs terminate.
func Validate(v Value, root string) error {
	seen := make(map[Value]struct{})
	return validate(v, root, seen)
}

func validate(v Value, path string, seen map[Value]struct{}) error {
	c := Classify(v)
	if c == ClassDisallowed {
		return &core.CloneError{Path: path, Reason: disallowedReason(v)}
	}
	if !container(c) {
		return nil
	}
	if _, ok := seen[v]; ok {
		return nil
	}
	seen[v] = struct{}{}

	switch v := v.(type) {
	case *ArrayBuffer:
		if v.detached {
			return &core.CloneError{Path: path, Reason: "ArrayBuffer is detached"}
		}
	case *Handle:
		if v.detached {
			return &core.CloneError{Path: path, Reason: string(v.Type) + " is detached"}
		}
	case *TypedArray:
		if v.Type.ElementSize() == 0 {
			return &core.CloneError{Path: path, Reason: "unknown view type " + string(v.Type)}
		}
	}
	return children(v, path, func(child Value, p string) error {
		return validate(child, p, seen)
	})
}
