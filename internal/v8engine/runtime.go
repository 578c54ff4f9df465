//go:build v8

// Package v8engine provides a core.JSRuntime backed by V8. Build with -tags v8.
package v8engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/cryguy/jsserve/internal/core"
	v8 "github.com/tommie/v8go"
)

const origin = "jsserve"

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// Runtime implements core.JSRuntime on one isolate with one context.
type Runtime struct {
	iso *v8.Isolate
	ctx *v8.Context
}

var _ core.JSRuntime = (*Runtime)(nil)

// New creates an isolate and a context. A positive memoryLimitMB bounds the
// heap, which starts at half that size.
func New(memoryLimitMB int) (*Runtime, error) {
	var iso *v8.Isolate
	if memoryLimitMB > 0 {
		heap := uint64(memoryLimitMB) << 20
		iso = v8.NewIsolate(v8.WithResourceConstraints(heap/2, heap))
	} else {
		iso = v8.NewIsolate()
	}
	return &Runtime{iso: iso, ctx: v8.NewContext(iso)}, nil
}

func (r *Runtime) run(js string) (*v8.Value, error) {
	val, err := r.ctx.RunScript(js, origin)
	if err != nil {
		return nil, describe(err)
	}
	return val, nil
}

// describe folds the V8 location and stack into the error text so they
// survive as a plain error.
func describe(err error) error {
	var jsErr *v8.JSError
	if !errors.As(err, &jsErr) {
		return err
	}
	if jsErr.StackTrace != "" {
		return errors.New(jsErr.StackTrace)
	}
	if jsErr.Location != "" {
		return fmt.Errorf("%s (%s)", jsErr.Message, jsErr.Location)
	}
	return errors.New(jsErr.Message)
}

func (r *Runtime) Eval(js string) error {
	_, err := r.run(js)
	return err
}

// EvalString returns "" for undefined and null.
func (r *Runtime) EvalString(js string) (string, error) {
	val, err := r.run(js)
	if err != nil || val == nil || val.IsUndefined() || val.IsNull() {
		return "", err
	}
	return val.String(), nil
}

func (r *Runtime) EvalBool(js string) (bool, error) {
	val, err := r.run(js)
	if err != nil {
		return false, err
	}
	if val == nil || !val.IsBoolean() {
		return false, fmt.Errorf("expected boolean result")
	}
	return val.Boolean(), nil
}

// RegisterFunc exposes fn as a global function. fn may return nothing, one
// value, or a value and an error; a non-nil error becomes a thrown Error.
// Missing arguments arrive as zero values.
func (r *Runtime) RegisterFunc(name string, fn any) error {
	fv := reflect.ValueOf(fn)
	ft := fv.Type()
	if ft.Kind() != reflect.Func {
		return fmt.Errorf("registering %s: expected function, got %T", name, fn)
	}
	if ft.NumOut() > 2 || ft.NumOut() == 2 && !ft.Out(1).Implements(errorType) {
		return fmt.Errorf("registering %s: unsupported signature %s", name, ft)
	}

	tmpl := v8.NewFunctionTemplate(r.iso, func(info *v8.FunctionCallbackInfo) *v8.Value {
		args := info.Args()
		in := make([]reflect.Value, ft.NumIn())
		for i := range in {
			if i < len(args) {
				in[i] = fromJS(args[i], ft.In(i))
			} else {
				in[i] = reflect.Zero(ft.In(i))
			}
		}

		out := fv.Call(in)
		if len(out) == 2 && !out[1].IsNil() {
			return r.throw(out[1].Interface().(error))
		}
		if len(out) == 0 {
			return v8.Undefined(r.iso)
		}
		val, err := r.toJS(out[0].Interface())
		if err != nil {
			return r.throw(err)
		}
		return val
	})
	return r.ctx.Global().Set(name, tmpl.GetFunction(r.ctx))
}

// throw raises err as a JS Error in the calling script.
func (r *Runtime) throw(err error) *v8.Value {
	msg, _ := json.Marshal(err.Error())
	exc, rerr := r.ctx.RunScript("new Error("+string(msg)+")", origin)
	if rerr != nil {
		exc, _ = v8.NewValue(r.iso, err.Error())
	}
	return r.iso.ThrowException(exc)
}

func (r *Runtime) SetGlobal(name string, value any) error {
	val, err := r.toJS(value)
	if err != nil {
		return fmt.Errorf("setting %s: %w", name, err)
	}
	return r.ctx.Global().Set(name, val)
}

// RunMicrotasks performs a microtask checkpoint.
func (r *Runtime) RunMicrotasks() {
	r.ctx.PerformMicrotaskCheckpoint()
}

// Close disposes the context, then the isolate.
func (r *Runtime) Close() {
	r.ctx.Close()
	r.iso.Dispose()
}

func fromJS(val *v8.Value, t reflect.Type) reflect.Value {
	var v any
	switch t.Kind() {
	case reflect.String:
		v = val.String()
	case reflect.Int:
		v = int(val.Integer())
	case reflect.Int64:
		v = val.Integer()
	case reflect.Float64:
		v = val.Number()
	case reflect.Bool:
		v = val.Boolean()
	default:
		return reflect.Zero(t)
	}
	return reflect.ValueOf(v).Convert(t)
}

// toJS converts basic Go values. Integers become int32 so V8 yields a
// Number, not a BigInt. Anything else round-trips through JSON.
func (r *Runtime) toJS(value any) (*v8.Value, error) {
	switch v := value.(type) {
	case nil:
		return v8.Undefined(r.iso), nil
	case string, bool, float64:
		return v8.NewValue(r.iso, v)
	case int:
		return v8.NewValue(r.iso, int32(v))
	case int64:
		return v8.NewValue(r.iso, int32(v))
	case *v8.Value:
		return v, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encoding %T: %w", value, err)
	}
	quoted, _ := json.Marshal(string(data))
	return r.ctx.RunScript("JSON.parse("+string(quoted)+")", origin)
}
