package webapi

import (
	"go.uber.org/zap"

	"github.com/cryguy/spawn/internal/core"
	"github.com/cryguy/spawn/internal/eventloop"
)

// consoleJS builds a console object whose methods call __console.
const consoleJS = `
(function() {
	function format(arg) {
		if (typeof arg === 'string') return arg;
		if (arg instanceof Error) return String(arg.name) + ': ' + String(arg.message);
		if (typeof arg === 'object' && arg !== null) {
			try { return JSON.stringify(arg); } catch (e) { return '[object Object]'; }
		}
		return String(arg);
	}
	var levels = ['log', 'info', 'warn', 'error', 'debug', 'trace'];
	var con = {};
	levels.forEach(function(lvl) {
		con[lvl] = function() {
			var parts = [];
			for (var j = 0; j < arguments.length; j++) parts.push(format(arguments[j]));
			__console(lvl, parts.join(' '));
		};
	});
	var counters = {};
	con.count = function(label) {
		var l = label === undefined ? 'default' : String(label);
		counters[l] = (counters[l] || 0) + 1;
		con.log(l + ': ' + counters[l]);
	};
	con.assert = function(cond) {
		if (cond) return;
		var rest = Array.prototype.slice.call(arguments, 1);
		con.error.apply(null, ['Assertion failed'].concat(rest));
	};
	globalThis.console = con;
})();
`

// SetupConsole returns a setup function that routes console output to log.
// log and info map to Info, warn to Warn, error to Error, debug and
// trace to Debug.
func SetupConsole(log *zap.Logger) SetupFunc {
	return func(rt core.JSRuntime, _ *eventloop.EventLoop) error {
		if err := rt.RegisterFunc("__console", func(level, message string) {
			switch level {
			case "warn":
				log.Warn(message, zap.String("source", "console"))
			case "error":
				log.Error(message, zap.String("source", "console"))
			case "debug", "trace":
				log.Debug(message, zap.String("source", "console"))
			default:
				log.Info(message, zap.String("source", "console"))
			}
		}); err != nil {
			return err
		}
		return rt.Eval(consoleJS)
	}
}
