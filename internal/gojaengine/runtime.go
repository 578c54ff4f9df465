//go:build goja

// Package gojaengine provides a pure-Go core.JSRuntime backed by goja. Build
// with -tags goja. Unlike the QuickJS and V8 backends it can see promise
// rejections that nobody handled.
package gojaengine

import (
	"fmt"

	"github.com/dop251/goja"

	"github.com/cryguy/jsserve/internal/core"
)

// Runtime implements core.JSRuntime and core.RejectionTracker.
type Runtime struct {
	vm         *goja.Runtime
	rejected   map[*goja.Promise]struct{}
	order      []*goja.Promise
	onRejected func(reason string)
}

var (
	_ core.JSRuntime        = (*Runtime)(nil)
	_ core.RejectionTracker = (*Runtime)(nil)
)

// New creates a goja runtime. goja has no heap cap, so memoryLimitMB is
// ignored.
func New(memoryLimitMB int) (*Runtime, error) {
	_ = memoryLimitMB
	r := &Runtime{
		vm:       goja.New(),
		rejected: make(map[*goja.Promise]struct{}),
	}
	r.vm.SetPromiseRejectionTracker(r.track)
	return r, nil
}

func (r *Runtime) track(p *goja.Promise, op goja.PromiseRejectionOperation) {
	switch op {
	case goja.PromiseRejectionReject:
		if _, ok := r.rejected[p]; !ok {
			r.rejected[p] = struct{}{}
			r.order = append(r.order, p)
		}
	case goja.PromiseRejectionHandle:
		delete(r.rejected, p)
	}
}

// Eval evaluates JavaScript and discards the result.
func (r *Runtime) Eval(js string) error {
	_, err := r.vm.RunString(js)
	r.flushRejections()
	return err
}

// EvalString evaluates JavaScript and returns the result as a Go string.
func (r *Runtime) EvalString(js string) (string, error) {
	v, err := r.vm.RunString(js)
	r.flushRejections()
	if err != nil {
		return "", err
	}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return "", nil
	}
	return v.String(), nil
}

// EvalBool evaluates JavaScript and returns the result as a Go bool.
func (r *Runtime) EvalBool(js string) (bool, error) {
	v, err := r.vm.RunString(js)
	r.flushRejections()
	if err != nil {
		return false, err
	}
	b, ok := v.Export().(bool)
	if !ok {
		return false, fmt.Errorf("expected bool, got %T", v.Export())
	}
	return b, nil
}

// RegisterFunc registers a Go function as a global JavaScript function.
// goja converts arguments itself and throws when a trailing error result is
// non-nil.
func (r *Runtime) RegisterFunc(name string, fn any) error {
	return r.vm.Set(name, fn)
}

// SetGlobal sets a global variable.
func (r *Runtime) SetGlobal(name string, value any) error {
	return r.vm.Set(name, value)
}

// RunMicrotasks drains the job queue. goja already runs pending jobs when a
// top-level script returns, so an empty script is enough.
func (r *Runtime) RunMicrotasks() {
	_, _ = r.vm.RunString("")
	r.flushRejections()
}

// OnUnhandledRejection installs fn to receive the reason of every promise
// that is still unhandled once the job queue has drained.
func (r *Runtime) OnUnhandledRejection(fn func(reason string)) {
	r.onRejected = fn
}

func (r *Runtime) flushRejections() {
	if len(r.order) == 0 {
		return
	}
	order := r.order
	r.order = nil
	for _, p := range order {
		if _, ok := r.rejected[p]; !ok {
			continue
		}
		delete(r.rejected, p)
		if r.onRejected != nil {
			r.onRejected(describe(p.Result()))
		}
	}
}

func describe(v goja.Value) string {
	if v == nil {
		return "undefined"
	}
	if obj, ok := v.(*goja.Object); ok {
		if stack := obj.Get("stack"); stack != nil && !goja.IsUndefined(stack) {
			return stack.String()
		}
	}
	return v.String()
}

// Close interrupts anything still running; the runtime itself is reclaimed
// by the garbage collector.
func (r *Runtime) Close() {
	r.vm.Interrupt("runtime closed")
}
