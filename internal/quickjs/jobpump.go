//go:build !v8 && !goja

package quickjs

import (
	"reflect"
	"unsafe"

	"modernc.org/libc"
	lib "modernc.org/libquickjs"
	"modernc.org/quickjs"
)

// jobQueue drives JS_ExecutePendingJob for a VM. The modernc wrapper keeps
// the C runtime handle private and never runs the job queue itself, so
// promise reactions stay parked until something calls into libquickjs.
type jobQueue struct {
	rt  uintptr
	tls *libc.TLS
}

// run executes queued jobs until the queue is empty or a job fails, and
// reports how many ran. A failed job is dropped; the engine observes
// rejections through its own tracker.
func (q jobQueue) run() int {
	if q.tls == nil {
		return 0
	}
	n := 0
	for lib.XJS_ExecutePendingJob(q.tls, q.rt, 0) > 0 {
		n++
	}
	return n
}

// jobQueueOf locates the C runtime behind vm. It relies on the layout of
// modernc.org/quickjs v0.17: VM.runtime points at a struct holding
// cRuntime uintptr and tls *libc.TLS. A zero jobQueue is returned if the
// layout no longer matches.
func jobQueueOf(vm *quickjs.VM) jobQueue {
	field := reflect.ValueOf(vm).Elem().FieldByName("runtime")
	if !field.IsValid() || field.IsNil() {
		return jobQueue{}
	}
	inner := reflect.NewAt(field.Type().Elem(), unsafe.Pointer(field.Pointer())).Elem()

	rt, tls := inner.FieldByName("cRuntime"), inner.FieldByName("tls")
	if !rt.IsValid() || !tls.IsValid() || tls.IsNil() {
		return jobQueue{}
	}
	return jobQueue{
		rt:  uintptr(rt.Uint()),
		tls: (*libc.TLS)(unsafe.Pointer(tls.Pointer())),
	}
}
