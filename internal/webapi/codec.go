package webapi

import (
	"fmt"

	"github.com/cryguy/spawn/internal/core"
	"github.com/cryguy/spawn/internal/eventloop"
)

// codecJS converts between JS values and the node-table wire form the Go
// side reads with value.UnmarshalWire. Containers refer to children by
// index so shared references and cycles survive; byte buffers are
// returned separately and travel out of band.
const codecJS = `
(function() {
	var HANDLE = '__spawn_handle';
	var VIEWS = ['Int8Array', 'Uint8Array', 'Uint8ClampedArray', 'Int16Array', 'Uint16Array',
		'Int32Array', 'Uint32Array', 'Float32Array', 'Float64Array', 'BigInt64Array',
		'BigUint64Array', 'DataView'];
	var HOST = ['WeakMap', 'WeakSet', 'WeakRef', 'Promise', 'WebSocket'];

	function cloneError(msg) {
		var e = new Error(msg);
		e.name = 'DataCloneError';
		return e;
	}

	function isShared(v) {
		return typeof SharedArrayBuffer !== 'undefined' && v instanceof SharedArrayBuffer;
	}

	function viewName(v) {
		for (var i = 0; i < VIEWS.length; i++) {
			var C = globalThis[VIEWS[i]];
			if (typeof C === 'function' && v instanceof C) return VIEWS[i];
		}
		throw cloneError('unsupported view type');
	}

	function hostName(v) {
		for (var i = 0; i < HOST.length; i++) {
			var C = globalThis[HOST[i]];
			if (typeof C === 'function' && v instanceof C) return HOST[i];
		}
		return '';
	}

	function num(v) {
		if (v !== v) return { k: 'num', x: 'NaN' };
		if (v === Infinity) return { k: 'num', x: 'Infinity' };
		if (v === -Infinity) return { k: 'num', x: '-Infinity' };
		if (v === 0 && 1 / v < 0) return { k: 'num', x: '-0' };
		return { k: 'num', n: v };
	}

	function encode(value, transfer) {
		var nodes = [], bufs = [], moved = [], ids = new Map();
		var moving = new Set();
		for (var i = 0; i < (transfer || []).length; i++) {
			var t = transfer[i];
			if (moving.has(t)) throw cloneError('duplicate entry in transfer list');
			moving.add(t);
		}
		function add(n) { nodes.push(n); return nodes.length - 1; }
		function buffer(b) {
			bufs.push(b);
			if (moving.has(b)) moved.push(bufs.length - 1);
			return bufs.length - 1;
		}
		function enc(v, path) {
			switch (typeof v) {
			case 'undefined': return add({ k: 'undef' });
			case 'boolean': return add({ k: 'bool', b: v });
			case 'number': return add(num(v));
			case 'bigint': return add({ k: 'big', s: v.toString() });
			case 'string': return add({ k: 'str', s: v });
			case 'function': throw cloneError(path + ': function could not be cloned');
			case 'symbol': throw cloneError(path + ': symbol could not be cloned');
			}
			if (v === null) return add({ k: 'null' });
			if (ids.has(v)) return ids.get(v);
			var host = hostName(v);
			if (host) throw cloneError(path + ': ' + host + ' could not be cloned');
			var id = add(null);
			ids.set(v, id);
			var n, j;
			if (v instanceof Date) {
				n = { k: 'date', n: v.getTime() };
			} else if (v instanceof RegExp) {
				n = { k: 're', s: v.source, f: v.flags };
			} else if (v instanceof ArrayBuffer || isShared(v)) {
				n = { k: 'buf', slot: buffer(v), shared: isShared(v) };
			} else if (ArrayBuffer.isView(v)) {
				n = { k: 'view', t: viewName(v), r: enc(v.buffer, path + '.buffer'), o: v.byteOffset, l: v.byteLength };
			} else if (Array.isArray(v)) {
				n = { k: 'arr', i: [] };
				for (j = 0; j < v.length; j++) n.i.push(enc(v[j], path + '[' + j + ']'));
			} else if (v instanceof Map) {
				n = { k: 'map', e: [] };
				j = 0;
				v.forEach(function(val, key) {
					var kid = enc(key, path + '.keys()[' + j + ']');
					n.e.push({ k: kid, v: enc(val, path + '.get(' + j + ')') });
					j++;
				});
			} else if (v instanceof Set) {
				n = { k: 'set', i: [] };
				j = 0;
				v.forEach(function(val) { n.i.push(enc(val, path + '.values()[' + j++ + ']')); });
			} else if (v[HANDLE]) {
				if (!moving.has(v) && v[HANDLE] !== 'ImageBitmap') {
					throw cloneError(path + ': ' + v[HANDLE] + ' must be transferred, not cloned');
				}
				n = { k: 'handle', t: v[HANDLE], w: v.width || 0, h: v.height || 0, r: -1 };
				if (v.pixels) n.r = add({ k: 'buf', slot: buffer(v.pixels) });
			} else if (v instanceof Error) {
				n = { k: 'obj', p: [
					{ key: 'name', v: add({ k: 'str', s: String(v.name) }) },
					{ key: 'message', v: add({ k: 'str', s: String(v.message) }) }
				] };
			} else {
				n = { k: 'obj', p: [] };
				var keys = Object.keys(v);
				for (j = 0; j < keys.length; j++) {
					n.p.push({ key: keys[j], v: enc(v[keys[j]], path + '.' + keys[j]) });
				}
			}
			nodes[id] = n;
			return id;
		}
		var root = enc(value, 'value');
		return { wire: { root: root, nodes: nodes }, bufs: bufs, moved: moved };
	}

	function special(n) {
		switch (n.x) {
		case 'NaN': return NaN;
		case 'Infinity': return Infinity;
		case '-Infinity': return -Infinity;
		case '-0': return -0;
		}
		return n.n || 0;
	}

	function decode(w, bufs) {
		var nodes = w.nodes || [], out = new Array(nodes.length), made = new Array(nodes.length);
		function keep(i, v) { out[i] = v; made[i] = true; return v; }
		function dec(i) {
			i = i || 0;
			if (made[i]) return out[i];
			var n = nodes[i], v, j;
			if (!n) throw new Error('node index ' + i + ' out of range');
			switch (n.k) {
			case 'undef': return undefined;
			case 'null': return null;
			case 'bool': return !!n.b;
			case 'num': return special(n);
			case 'big': return BigInt(n.s || '0');
			case 'str': return n.s || '';
			case 'date': return keep(i, new Date(n.n || 0));
			case 're': return keep(i, new RegExp(n.s || '', n.f || ''));
			case 'arr':
				v = keep(i, []);
				for (j = 0; j < (n.i || []).length; j++) v.push(dec(n.i[j]));
				return v;
			case 'obj':
				v = keep(i, {});
				for (j = 0; j < (n.p || []).length; j++) v[n.p[j].key] = dec(n.p[j].v);
				return v;
			case 'map':
				v = keep(i, new Map());
				for (j = 0; j < (n.e || []).length; j++) v.set(dec(n.e[j].k), dec(n.e[j].v));
				return v;
			case 'set':
				v = keep(i, new Set());
				for (j = 0; j < (n.i || []).length; j++) v.add(dec(n.i[j]));
				return v;
			case 'buf':
				var b = bufs[n.slot || 0];
				if (b === undefined) throw new Error('buffer slot ' + (n.slot || 0) + ' out of range');
				if (n.shared && typeof SharedArrayBuffer !== 'undefined' && !isShared(b)) {
					var sab = new SharedArrayBuffer(b.byteLength);
					new Uint8Array(sab).set(new Uint8Array(b));
					b = sab;
				}
				return keep(i, b);
			case 'view':
				var C = globalThis[n.t];
				if (VIEWS.indexOf(n.t) < 0 || typeof C !== 'function') throw new Error('unknown view type ' + n.t);
				var vb = dec(n.r);
				if (n.t === 'DataView') return keep(i, new DataView(vb, n.o || 0, n.l || 0));
				return keep(i, new C(vb, n.o || 0, (n.l || 0) / C.BYTES_PER_ELEMENT));
			case 'handle':
				v = keep(i, { width: n.w || 0, height: n.h || 0, pixels: null });
				Object.defineProperty(v, HANDLE, { value: n.t, enumerable: false });
				if (n.r !== undefined && n.r >= 0) v.pixels = dec(n.r);
				return v;
			}
			throw new Error('unknown node kind ' + n.k);
		}
		return dec(w.root);
	}

	// detach finishes a move: the sender's buffer is unusable afterwards.
	function detach(b) {
		if (typeof b.transfer === 'function') {
			try { return b.transfer(); } catch (e) {}
		}
		return b.slice(0);
	}

	globalThis.__spawn_codec = { encode: encode, decode: decode, detach: detach, cloneError: cloneError };
})();
`

// SetupCodec installs the wire codec used by postMessage and structuredClone.
func SetupCodec(rt core.JSRuntime, _ *eventloop.EventLoop) error {
	if err := rt.Eval(codecJS); err != nil {
		return fmt.Errorf("evaluating codec.js: %w", err)
	}
	return nil
}
