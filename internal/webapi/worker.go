package webapi

import (
	"fmt"

	"github.com/cryguy/spawn/internal/core"
	"github.com/cryguy/spawn/internal/eventloop"
)

// Globals the host uses to move byte buffers in and out of the context.
const (
	InboundSlot  = "__spawn_in_"
	OutboundSlot = "__spawn_out_"
)

// workerScopeJS turns the global object into a dedicated worker scope.
// Outbound traffic (messages, uncaught errors, close) is queued and
// collected by the host through __spawn_take; inbound messages arrive
// through __spawn_dispatch after their buffers were written to
// __spawn_in_<slot>.
const workerScopeJS = `
(function() {
	var codec = globalThis.__spawn_codec;
	var outbox = [];
	var listeners = { message: [], error: [], messageerror: [] };
	var closed = false;

	globalThis.self = globalThis;
	globalThis.onmessage = null;
	globalThis.onerror = null;
	globalThis.onmessageerror = null;

	function errorMessage(e) {
		if (e && e.message !== undefined) return String(e.message);
		return String(e);
	}

	function report(e) {
		var ev = { type: 'error', message: errorMessage(e), error: e, defaultPrevented: false,
			preventDefault: function() { this.defaultPrevented = true; } };
		fire(ev);
		if (!ev.defaultPrevented) outbox.push({ kind: 'error', message: ev.message });
	}

	function call(h, ev) {
		try {
			var r = h.call(globalThis, ev);
			if (r && typeof r.then === 'function') r.then(undefined, report);
		} catch (e) {
			if (ev.type === 'error') {
				outbox.push({ kind: 'error', message: errorMessage(e) });
				return;
			}
			report(e);
		}
	}

	function fire(ev) {
		var on = globalThis['on' + ev.type];
		if (typeof on === 'function') call(on, ev);
		var list = (listeners[ev.type] || []).slice();
		for (var i = 0; i < list.length; i++) call(list[i], ev);
	}

	globalThis.addEventListener = function(type, fn) {
		if (typeof fn !== 'function') return;
		if (!listeners[type]) listeners[type] = [];
		if (listeners[type].indexOf(fn) < 0) listeners[type].push(fn);
	};
	globalThis.removeEventListener = function(type, fn) {
		var list = listeners[type];
		if (!list) return;
		var i = list.indexOf(fn);
		if (i >= 0) list.splice(i, 1);
	};

	globalThis.postMessage = function(data, transfer) {
		if (closed) return;
		if (transfer && !Array.isArray(transfer)) transfer = transfer.transfer;
		var enc = codec.encode(data, transfer || []);
		var slots = [];
		for (var i = 0; i < enc.bufs.length; i++) {
			slots.push(enc.moved.indexOf(i) >= 0 ? codec.detach(enc.bufs[i]) : enc.bufs[i].slice(0));
		}
		outbox.push({ kind: 'message', wire: enc.wire, bufs: slots });
	};

	globalThis.close = function() {
		if (closed) return;
		closed = true;
		outbox.push({ kind: 'close' });
	};

	globalThis.__spawn_report = report;

	globalThis.__spawn_dispatch = function(json, count) {
		var bufs = [];
		for (var i = 0; i < count; i++) {
			var name = '` + InboundSlot + `' + i;
			bufs.push(globalThis[name]);
			delete globalThis[name];
		}
		if (closed) return;
		var data;
		try {
			data = codec.decode(JSON.parse(json), bufs);
		} catch (e) {
			fire({ type: 'messageerror', data: null });
			report(e);
			return;
		}
		fire({ type: 'message', data: data });
	};

	function outbound(b) {
		if (globalThis.__spawn_binary_mode !== 'sab') return b;
		var sab = new SharedArrayBuffer(b.byteLength);
		new Uint8Array(sab).set(new Uint8Array(b));
		return sab;
	}

	globalThis.__spawn_take = function() {
		var m = outbox.shift();
		if (!m) return '';
		if (m.kind !== 'message') return JSON.stringify(m);
		for (var i = 0; i < m.bufs.length; i++) {
			globalThis['` + OutboundSlot + `' + i] = outbound(m.bufs[i]);
		}
		return JSON.stringify({ kind: 'message', wire: m.wire, slots: m.bufs.length });
	};
})();
`

// SetupWorkerScope installs self, postMessage, onmessage, addEventListener,
// close and the host hooks that feed and drain the context.
func SetupWorkerScope(rt core.JSRuntime, _ *eventloop.EventLoop) error {
	if bt, ok := rt.(core.BinaryTransferer); ok {
		if err := rt.SetGlobal("__spawn_binary_mode", bt.BinaryMode()); err != nil {
			return fmt.Errorf("setting binary mode: %w", err)
		}
	}
	if err := rt.Eval(workerScopeJS); err != nil {
		return fmt.Errorf("evaluating worker scope: %w", err)
	}
	return nil
}
