package value

// Transferable is a value whose storage moves across the channel instead
// of being copied: *ArrayBuffer and *Handle.
type Transferable interface {
	Value
	transferable()
}

func (*ArrayBuffer) transferable() {}
func (*Handle) transferable()      {}

// Transferables collects the transfer list for v. Buffers and handles are
// added directly, views contribute their underlying buffer. Each
// transferable appears once, in first-reached order, however many paths
// lead to it, and cycles terminate.
func Transferables(vs ...Value) []Transferable {
	var (
		out     []Transferable
		visited = make(map[Value]struct{})
		added   = make(map[Transferable]struct{})
	)
	add := func(t Transferable) {
		if _, ok := added[t]; ok {
			return
		}
		added[t] = struct{}{}
		out = append(out, t)
	}

	var walk func(v Value)
	walk = func(v Value) {
		c := Classify(v)
		if !container(c) {
			return
		}
		if _, ok := visited[v]; ok {
			return
		}
		visited[v] = struct{}{}

		switch c {
		case ClassBuffer:
			add(v.(*ArrayBuffer))
			return
		case ClassHandle:
			add(v.(*Handle))
			return
		case ClassView:
			if buf := v.(*TypedArray).Buffer; buf != nil {
				visited[buf] = struct{}{}
				add(buf)
			}
			return
		}
		_ = children(v, "", func(child Value, _ string) error {
			walk(child)
			return nil
		})
	}
	for _, v := range vs {
		walk(v)
	}
	return out
}
