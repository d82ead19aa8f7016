package webapi

import (
	"fmt"
	"time"

	"github.com/cryguy/spawn/internal/core"
	"github.com/cryguy/spawn/internal/eventloop"
)

// globalsJS defines the small globals a dedicated worker scope expects.
// structuredClone round-trips through the same codec as postMessage, so
// both accept and reject exactly the same values.
const globalsJS = `
(function() {
	var codec = globalThis.__spawn_codec;

	globalThis.structuredClone = function structuredClone(value, options) {
		var transfer = (options && options.transfer) || [];
		var enc = codec.encode(value, transfer);
		var bufs = [];
		for (var i = 0; i < enc.bufs.length; i++) {
			bufs.push(enc.moved.indexOf(i) >= 0 ? codec.detach(enc.bufs[i]) : enc.bufs[i].slice(0));
		}
		return codec.decode(JSON.parse(JSON.stringify(enc.wire)), bufs);
	};

	if (typeof globalThis.queueMicrotask !== 'function') {
		globalThis.queueMicrotask = function(fn) {
			Promise.resolve().then(fn);
		};
	}

	globalThis.performance = {
		now: function() { return __spawn_now(); },
		timeOrigin: __spawn_time_origin
	};

	Object.defineProperty(globalThis, 'navigator', {
		value: { userAgent: 'spawn-worker/1.0', hardwareConcurrency: 1 },
		writable: true,
		configurable: true
	});
})();
`

// SetupGlobals registers structuredClone, performance, navigator and
// queueMicrotask. It needs the codec installed first.
func SetupGlobals(rt core.JSRuntime, _ *eventloop.EventLoop) error {
	start := time.Now()
	if err := rt.RegisterFunc("__spawn_now", func() float64 {
		return float64(time.Since(start).Nanoseconds()) / 1e6
	}); err != nil {
		return err
	}
	if err := rt.SetGlobal("__spawn_time_origin", float64(start.UnixNano())/1e6); err != nil {
		return err
	}
	if err := rt.Eval(globalsJS); err != nil {
		return fmt.Errorf("evaluating globals.js: %w", err)
	}
	return nil
}
