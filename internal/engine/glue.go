package engine

// preludeJS defines the script-visible surface on top of the __host_*
// functions: the core object, console, include and the dispatch entry used
// by the engine loop. It is evaluated once, after the host functions are
// registered.
const preludeJS = `
(function() {
	var g = globalThis;
	g.global = g;
	g.__currentSocket = 0;
	g.__handler = undefined;

	function toText(v) {
		if (typeof v === 'string') return v;
		try {
			var s = JSON.stringify(v);
			return s === undefined ? String(v) : s;
		} catch (e) {
			return String(v);
		}
	}

	function joinArgs(args) {
		var parts = [];
		for (var i = 0; i < args.length; i++) parts.push(toText(args[i]));
		return parts.join(' ');
	}

	function formatError(e) {
		var message = String(e);
		var stack = '';
		var module = '';
		if (e !== null && typeof e === 'object') {
			if (typeof e.stack === 'string') stack = e.stack;
			if (typeof e.__module === 'string') module = e.__module;
		}
		return JSON.stringify({ message: message, stack: stack, module: module });
	}
	g.__formatError = formatError;

	var loading = {};

	function load(spec, from) {
		var name = __host_resolve(String(spec), from || '');
		if (loading[name]) {
			throw new Error('circular include: ' + name);
		}
		loading[name] = true;
		try {
			var fn = (0, eval)(__host_load_module(name));
			var module = { exports: {} };
			var req = function(s) { return load(s, name); };
			var ret = fn.call(module.exports, module.exports, module, req, req);
			return ret !== undefined ? ret : module.exports;
		} catch (e) {
			if (e !== null && typeof e === 'object' && e.__module === undefined) {
				try { Object.defineProperty(e, '__module', { value: name }); } catch (_) {}
			}
			throw e;
		} finally {
			delete loading[name];
		}
	}

	g.include = function(name) {
		return load(name, '');
	};

	function socketOf(s) {
		return s === undefined || s === null ? g.__currentSocket : (s | 0);
	}

	function track(promise, socket) {
		var h = socketOf(socket);
		Promise.resolve(promise).then(
			function() { __host_settled(h, ''); },
			function(e) { __host_settled(h, formatError(e)); }
		);
		return promise;
	}

	g.core = {
		logSTDOUT: function() { __host_log('info', joinArgs(arguments)); },
		logSTDERR: function() { __host_log('error', joinArgs(arguments)); },
		socketWrite: function(a, b) {
			if (arguments.length >= 2) return __host_socket_write(socketOf(a), String(b));
			return __host_socket_write(g.__currentSocket, String(a));
		},
		socketClose: function(s) {
			return __host_socket_close(socketOf(s)) === 1;
		},
		getBytesLength: function(s) {
			return __host_byte_length(String(s));
		},
		currentSocket: function() {
			return g.__currentSocket;
		},
		backend: String(g.__backend || ''),
		track: track,
		importModule: function(name) {
			return new Promise(function(resolve) {
				resolve(load(name, ''));
			});
		}
	};

	if (typeof __host_sql === 'function') {
		g.core.sql = function(query) {
			var params = Array.prototype.slice.call(arguments, 1);
			return JSON.parse(__host_sql(String(query), JSON.stringify(params)));
		};
	}

	function logger(level) {
		return function() { __host_log(level, joinArgs(arguments)); };
	}
	g.console = {
		log: logger('info'),
		info: logger('info'),
		warn: logger('warn'),
		error: logger('error'),
		debug: logger('debug')
	};

	g.__bootstrap = function(src, name) {
		try {
			g.__handler = (0, eval)(src + '\n//# sourceURL=' + name);
			return '';
		} catch (e) {
			return formatError(e);
		}
	};

	g.__dispatch = function(socket, method, uri, module) {
		g.__currentSocket = socket;
		var request = { socket: socket, method: method, uri: uri, module: module };
		try {
			var result = g.__handler(request);
			if (result !== null && (typeof result === 'object' || typeof result === 'function') &&
				typeof result.then === 'function') {
				track(result, socket);
			}
			return '';
		} catch (e) {
			return formatError(e);
		}
	};
})();
`

// rejectionsJS reports promise rejections nobody handled on runtimes without
// a native rejection tracker. Promises produced by then/catch/finally, the
// Promise statics, core.importModule and timer callbacks are watched. A
// watched promise counts as handled once then is called on it; its own
// constructor property is replaced so that await goes through then as well.
// Rejections still unhandled when the engine finishes a pump are passed to
// __host_unhandled. Promises returned by async functions are only seen if
// one of these paths hands them over.
const rejectionsJS = `
(function() {
	var g = globalThis;
	var P = g.Promise;
	var nativeThen = P.prototype.then;
	var notPromise = Object.freeze({});
	var pending = [];

	function handled(p) {
		try {
			Object.defineProperty(p, '__handled', { value: true, configurable: true });
		} catch (e) {}
	}

	function watch(p) {
		if (p === null || typeof p !== 'object' || !(p instanceof P) || p.__watched) return p;
		try {
			Object.defineProperty(p, '__watched', { value: true });
			Object.defineProperty(p, 'constructor', { value: notPromise, configurable: true });
		} catch (e) {
			return p;
		}
		nativeThen.call(p, undefined, function(reason) {
			if (!p.__handled) pending.push({ promise: p, reason: reason });
		});
		return p;
	}
	g.__watchPromise = watch;

	P.prototype.then = function(onFulfilled, onRejected) {
		handled(this);
		return watch(nativeThen.call(this, onFulfilled, onRejected));
	};

	['reject', 'all', 'race', 'any'].forEach(function(name) {
		var fn = P[name];
		if (typeof fn !== 'function') return;
		P[name] = function() {
			return watch(fn.apply(this, arguments));
		};
	});

	var importModule = g.core.importModule;
	g.core.importModule = function(name) {
		return watch(importModule(name));
	};

	var fireTimer = g.__fireTimer;
	if (typeof fireTimer === 'function') {
		g.__fireTimer = function(id) {
			var r = fireTimer(id);
			if (r !== null && typeof r === 'object' && typeof r.then === 'function') watch(r);
			return r;
		};
	}

	g.__reportRejections = function() {
		if (pending.length === 0) return;
		var list = pending;
		pending = [];
		for (var i = 0; i < list.length; i++) {
			if (list[i].promise.__handled) continue;
			var reason = list[i].reason;
			var stack = reason !== null && typeof reason === 'object' && typeof reason.stack === 'string' ? reason.stack : '';
			__host_unhandled(String(reason), stack);
		}
	};
})();
`
