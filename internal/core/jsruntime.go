package core

// JSRuntime abstracts the JavaScript engine (QuickJS, V8 or goja) behind the
// small surface the execution engine needs. A JSRuntime is not safe for
// concurrent use; it belongs to the goroutine that created it.
type JSRuntime interface {
	// Eval evaluates JavaScript source and discards the result.
	Eval(js string) error

	// EvalString evaluates JavaScript and returns the result as a Go string.
	// undefined and null yield "".
	EvalString(js string) (string, error)

	// EvalBool evaluates JavaScript and returns the result as a Go bool.
	EvalBool(js string) (bool, error)

	// RegisterFunc registers a Go function as a global JavaScript function.
	// Arguments and results are marshaled for string, int, float64 and
	// bool. A function returning (T, error) throws in JS when the error is
	// non-nil.
	RegisterFunc(name string, fn any) error

	// SetGlobal sets a global variable. Basic Go types (string, int,
	// float64, bool) are converted to JS values.
	SetGlobal(name string, value any) error

	// RunMicrotasks drains the microtask queue (promise reactions).
	RunMicrotasks()

	// Close releases the runtime. It must be called on the owning goroutine.
	Close()
}

// RejectionTracker is implemented by runtimes that can report promise
// rejections nobody handled. The callback runs on the owning goroutine.
type RejectionTracker interface {
	OnUnhandledRejection(fn func(reason string))
}
