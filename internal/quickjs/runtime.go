//go:build !v8 && !goja

// Package quickjs provides the default core.JSRuntime, backed by the pure-Go
// QuickJS port.
package quickjs

import (
	"encoding/json"
	"fmt"

	"github.com/cryguy/jsserve/internal/core"
	"modernc.org/quickjs"
)

// unwrapResult turns the [value, error] pair the wrapper produces for Go
// functions with two results into a return or a throw.
const unwrapResult = `(function(name, raw) {
	globalThis[name] = function() {
		var r = raw.apply(this, arguments);
		if (!Array.isArray(r) || r.length !== 2) return r;
		if (r[1] != null) throw new Error(String(r[1]));
		return r[0];
	};
})`

// Runtime implements core.JSRuntime on a single QuickJS VM.
type Runtime struct {
	vm   *quickjs.VM
	jobs jobQueue
}

var _ core.JSRuntime = (*Runtime)(nil)

// New creates a VM. A positive memoryLimitMB caps its heap.
func New(memoryLimitMB int) (*Runtime, error) {
	vm, err := quickjs.NewVM()
	if err != nil {
		return nil, fmt.Errorf("creating QuickJS VM: %w", err)
	}
	if memoryLimitMB > 0 {
		vm.SetMemoryLimit(uintptr(memoryLimitMB) << 20)
	}
	return &Runtime{vm: vm, jobs: jobQueueOf(vm)}, nil
}

func (r *Runtime) Eval(js string) error {
	v, err := r.vm.EvalValue(js, quickjs.EvalGlobal)
	if err != nil {
		return err
	}
	v.Free()
	return nil
}

// EvalString returns "" for undefined and null; other non-strings are
// formatted with fmt.
func (r *Runtime) EvalString(js string) (string, error) {
	result, err := r.vm.Eval(js, quickjs.EvalGlobal)
	if err != nil || result == nil {
		return "", err
	}
	if s, ok := result.(string); ok {
		return s, nil
	}
	return fmt.Sprint(result), nil
}

func (r *Runtime) EvalBool(js string) (bool, error) {
	result, err := r.vm.Eval(js, quickjs.EvalGlobal)
	if err != nil {
		return false, err
	}
	if b, ok := result.(bool); ok {
		return b, nil
	}
	return false, fmt.Errorf("expected bool, got %T", result)
}

// RegisterFunc exposes fn as a global function. A (T, error) result returns
// T or throws the error.
func (r *Runtime) RegisterFunc(name string, fn any) error {
	raw := "__go_" + name
	if err := r.vm.RegisterFunc(raw, fn, false); err != nil {
		return fmt.Errorf("registering %s: %w", name, err)
	}
	quoted, _ := json.Marshal(name)
	rawQuoted, _ := json.Marshal(raw)
	return r.Eval(fmt.Sprintf("%s(%s, globalThis[%s]); delete globalThis[%s];",
		unwrapResult, quoted, rawQuoted, rawQuoted))
}

func (r *Runtime) SetGlobal(name string, value any) error {
	atom, err := r.vm.NewAtom(name)
	if err != nil {
		return fmt.Errorf("setting %s: %w", name, err)
	}
	global := r.vm.GlobalObject()
	defer global.Free()
	return global.SetProperty(atom, value)
}

// RunMicrotasks drains the job queue.
func (r *Runtime) RunMicrotasks() {
	r.jobs.run()
}

func (r *Runtime) Close() {
	r.vm.Close()
}
