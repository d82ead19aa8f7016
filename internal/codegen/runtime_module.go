package codegen

import (
	"strconv"
	"strings"

	"github.com/cryguy/spawn/internal/core"
)

// runtimeModuleJS is the browser-side invocation runtime. Rewritten call
// sites import its default export and call run() once per handle.
const runtimeModuleJS = `const DISALLOWED = [
  typeof WeakMap !== "undefined" ? WeakMap : null,
  typeof WeakSet !== "undefined" ? WeakSet : null,
  typeof WeakRef !== "undefined" ? WeakRef : null,
  typeof Window !== "undefined" ? Window : null,
  typeof Node !== "undefined" ? Node : null,
  typeof WebSocket !== "undefined" ? WebSocket : null,
].filter(Boolean);

const TRANSFERABLE = [
  typeof ArrayBuffer !== "undefined" ? ArrayBuffer : null,
  typeof SharedArrayBuffer !== "undefined" ? SharedArrayBuffer : null,
  typeof MessagePort !== "undefined" ? MessagePort : null,
  typeof ImageBitmap !== "undefined" ? ImageBitmap : null,
  typeof OffscreenCanvas !== "undefined" ? OffscreenCanvas : null,
].filter(Boolean);

const isIdent = (key) => /^[A-Za-z_$][A-Za-z0-9_$]*$/.test(key);
const propPath = (path, key) =>
  isIdent(key) ? path + "." + key : path + "[" + JSON.stringify(key) + "]";

function classify(value) {
  const t = typeof value;
  if (t === "function") return "disallowed";
  if (t === "symbol") return "disallowed";
  if (value === null || t !== "object") return "primitive";
  if (DISALLOWED.some((C) => value instanceof C)) return "disallowed";
  if (TRANSFERABLE.some((C) => value instanceof C)) {
    return value instanceof ArrayBuffer ||
      (typeof SharedArrayBuffer !== "undefined" && value instanceof SharedArrayBuffer)
      ? "buffer"
      : "handle";
  }
  if (ArrayBuffer.isView(value)) return "view";
  if (Array.isArray(value)) return "sequence";
  if (value instanceof Map) return "mapping";
  if (value instanceof Set) return "set";
  return "object";
}

function validate(value, path, seen = new Set()) {
  const cls = classify(value);
  if (cls === "disallowed") {
    const what = typeof value === "function" ? "function" : typeof value === "symbol" ? "symbol" : "live host object";
    throw new TypeError("spawn: " + path + ": a " + what + " cannot be cloned to a worker");
  }
  if (cls === "primitive" || seen.has(value)) return;
  seen.add(value);
  switch (cls) {
    case "sequence":
      value.forEach((item, i) => validate(item, path + "[" + i + "]", seen));
      break;
    case "mapping": {
      let i = 0;
      for (const [k, v] of value) {
        validate(k, path + ".keys()[" + i + "]", seen);
        validate(v, path + ".get(" + (typeof k === "string" ? JSON.stringify(k) : "#" + i) + ")", seen);
        i++;
      }
      break;
    }
    case "set": {
      let i = 0;
      for (const v of value) validate(v, path + ".values()[" + i++ + "]", seen);
      break;
    }
    case "object":
      for (const key of Object.keys(value)) validate(value[key], propPath(path, key), seen);
      break;
  }
}

function collectTransferables(value, out = [], visited = new Set(), added = new Set()) {
  if (value === null || typeof value !== "object" || visited.has(value)) return out;
  visited.add(value);
  const add = (t) => {
    if (added.has(t)) return;
    added.add(t);
    out.push(t);
  };
  switch (classify(value)) {
    case "buffer":
    case "handle":
      add(value);
      break;
    case "view":
      add(value.buffer);
      break;
    case "sequence":
      for (const item of value) collectTransferables(item, out, visited, added);
      break;
    case "mapping":
      for (const [k, v] of value) {
        collectTransferables(k, out, visited, added);
        collectTransferables(v, out, visited, added);
      }
      break;
    case "set":
      for (const v of value) collectTransferables(v, out, visited, added);
      break;
    case "object":
      for (const key of Object.keys(value)) collectTransferables(value[key], out, visited, added);
      break;
  }
  return out;
}

export default class Spawn {
  constructor(url) {
    this.url = url;
    this.worker = null;
    this.state = "created";
    this.onMessage = null;
    this.onError = null;
  }

  run(...args) {
    if (this.state === "destroyed") {
      return Promise.reject(new Error("spawn: worker handle already destroyed"));
    }
    if (this.state === "awaiting") {
      return Promise.reject(new Error("spawn: worker handle is awaiting a response"));
    }
    if (typeof Worker === "undefined") {
      return Promise.reject(
        new Error("spawn: Web Workers are not available in this environment; spawn() can only run in a browser context")
      );
    }
    let transfer;
    try {
      args.forEach((arg, i) => validate(arg, i === 0 ? "captured" : "args[" + i + "]"));
      transfer = collectTransferables(args);
    } catch (error) {
      return Promise.reject(error);
    }

    return new Promise((resolve, reject) => {
      const worker = this.worker || new Worker(new URL(this.url, import.meta.url), { type: "module" });
      this.worker = worker;
      this.onMessage = (event) => {
        const data = event.data;
        this.destroy();
        if (data && data.ok) {
          resolve(data.result);
        } else {
          reject(new Error(data ? data.error : "spawn: empty response"));
        }
      };
      this.onError = (err) => {
        this.destroy();
        reject(err.error || err);
      };
      worker.addEventListener("message", this.onMessage);
      worker.addEventListener("error", this.onError);
      this.state = "awaiting";
      worker.postMessage(__ENVELOPE__, transfer);
    });
  }

  destroy() {
    if (this.state === "destroyed") return;
    this.state = "destroyed";
    if (!this.worker) return;
    this.worker.removeEventListener("message", this.onMessage);
    this.worker.removeEventListener("error", this.onError);
    this.onMessage = null;
    this.onError = null;
    this.worker.terminate();
    this.worker = null;
  }
}
`

// RuntimeModule returns the browser runtime module text for protocol p.
func RuntimeModule(p core.Protocol) string {
	envelope := `{ type: "run", args }`
	if p == core.ProtocolSingle {
		envelope = `{ type: "run", value: args[0] }`
	}
	return strings.Replace(runtimeModuleJS, "__ENVELOPE__", envelope, 1)
}

// StubModule returns the module served for the import source itself. It is
// only reached when a file importing spawn was not transformed.
func StubModule(importSource string) string {
	msg := "[" + importSource + "] spawn() was called at runtime but the transform was not applied. " +
		"Is the spawn build step enabled for this file?"
	return "export async function spawn(_fn, ..._args) {\n" +
		"  throw new Error(" + strconv.Quote(msg) + ");\n" +
		"}\n" +
		"export default spawn;\n"
}
