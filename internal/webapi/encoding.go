package webapi

import (
	"fmt"

	"github.com/cryguy/spawn/internal/core"
	"github.com/cryguy/spawn/internal/eventloop"
)

// encodingJS implements atob and btoa over Latin-1 strings.
const encodingJS = `
(function() {
	var ALPHABET = 'ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/';
	var LOOKUP = {};
	for (var i = 0; i < ALPHABET.length; i++) LOOKUP[ALPHABET[i]] = i;

	function invalid(name) {
		var e = new Error(name + ': The string to be decoded is not correctly encoded.');
		e.name = 'InvalidCharacterError';
		return e;
	}

	globalThis.btoa = function btoa(data) {
		if (arguments.length < 1) throw new TypeError('btoa requires 1 argument');
		var s = String(data), out = '';
		for (var i = 0; i < s.length; i += 3) {
			var a = s.charCodeAt(i), b = s.charCodeAt(i + 1), c = s.charCodeAt(i + 2);
			if (a > 255 || b > 255 || c > 255) throw invalid('btoa');
			var n = (a << 16) | ((b || 0) << 8) | (c || 0);
			out += ALPHABET[(n >> 18) & 63] + ALPHABET[(n >> 12) & 63];
			out += i + 1 < s.length ? ALPHABET[(n >> 6) & 63] : '=';
			out += i + 2 < s.length ? ALPHABET[n & 63] : '=';
		}
		return out;
	};

	globalThis.atob = function atob(data) {
		if (arguments.length < 1) throw new TypeError('atob requires 1 argument');
		var s = String(data).replace(/[\t\n\f\r ]/g, '');
		if (s.length % 4 === 0) s = s.replace(/==?$/, '');
		if (s.length % 4 === 1 || /[^A-Za-z0-9+\/]/.test(s)) throw invalid('atob');
		var out = '', bits = 0, acc = 0;
		for (var i = 0; i < s.length; i++) {
			acc = (acc << 6) | LOOKUP[s[i]];
			bits += 6;
			if (bits >= 8) {
				bits -= 8;
				out += String.fromCharCode((acc >> bits) & 255);
			}
		}
		return out;
	};
})();
`

// SetupEncoding evaluates the pure-JS atob/btoa implementations.
func SetupEncoding(rt core.JSRuntime, _ *eventloop.EventLoop) error {
	if err := rt.Eval(encodingJS); err != nil {
		return fmt.Errorf("evaluating encoding.js: %w", err)
	}
	return nil
}
