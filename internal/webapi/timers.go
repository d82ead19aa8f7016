package webapi

import (
	"time"

	"github.com/cryguy/spawn/internal/core"
	"github.com/cryguy/spawn/internal/eventloop"
)

// timersJS keeps callbacks in a table the event loop fires by id. A
// callback that throws is reported like any other uncaught error.
const timersJS = `
(function() {
	var table = Object.create(null);
	function add(repeat) {
		return function(fn, ms) {
			if (typeof fn !== 'function') return 0;
			var id = __spawn_timer_add(Math.max(0, Number(ms) || 0), repeat);
			table[id] = { fn: fn, args: Array.prototype.slice.call(arguments, 2), repeat: repeat };
			return id;
		};
	}
	function clear(id) {
		if (typeof id !== 'number' || !(id in table)) return;
		delete table[id];
		__spawn_timer_clear(id);
	}
	globalThis.__spawn_timers = {
		fire: function(id) {
			var t = table[id];
			if (!t) return;
			if (!t.repeat) delete table[id];
			try { t.fn.apply(globalThis, t.args); } catch (e) { globalThis.__spawn_report(e); }
		}
	};
	globalThis.setTimeout = add(false);
	globalThis.setInterval = add(true);
	globalThis.clearTimeout = clear;
	globalThis.clearInterval = clear;
})();
`

// SetupTimers installs setTimeout and setInterval backed by el.
func SetupTimers(rt core.JSRuntime, el *eventloop.EventLoop) error {
	add := func(ms int, repeat bool) int {
		return el.RegisterTimer(time.Duration(ms)*time.Millisecond, repeat)
	}
	if err := rt.RegisterFunc("__spawn_timer_add", add); err != nil {
		return err
	}
	if err := rt.RegisterFunc("__spawn_timer_clear", el.ClearTimer); err != nil {
		return err
	}
	return rt.Eval(timersJS)
}
