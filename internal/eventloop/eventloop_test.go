package eventloop

import (
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"
)

// fakeRuntime records what the loop asks the JS side to do.
type fakeRuntime struct {
	evals      []string
	microtasks int
	funcs      map[string]any
	failOn     string
}

func (f *fakeRuntime) Eval(js string) error {
	f.evals = append(f.evals, js)
	if f.failOn != "" && strings.Contains(js, f.failOn) {
		return errors.New("boom")
	}
	return nil
}
func (f *fakeRuntime) EvalString(string) (string, error) { return "", nil }
func (f *fakeRuntime) EvalBool(string) (bool, error)     { return false, nil }
func (f *fakeRuntime) RegisterFunc(name string, fn any) error {
	if f.funcs == nil {
		f.funcs = map[string]any{}
	}
	f.funcs[name] = fn
	return nil
}
func (f *fakeRuntime) SetGlobal(string, any) error { return nil }
func (f *fakeRuntime) RunMicrotasks()              { f.microtasks++ }
func (f *fakeRuntime) Close()                      {}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLoop() (*EventLoop, *clock) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	el := New()
	el.now = c.now
	return el, c
}

func TestEventLoop_New(t *testing.T) {
	el := New()
	if el.HasPending() {
		t.Error("new event loop should have no pending timers")
	}
	if _, ok := el.NextDeadline(); ok {
		t.Error("new event loop should have no deadline")
	}
}

func TestEventLoop_RegisterAndClear(t *testing.T) {
	el, c := newTestLoop()
	id1 := el.RegisterTimer(100*time.Millisecond, false)
	id2 := el.RegisterTimer(50*time.Millisecond, false)
	if id1 != 1 || id2 != 2 {
		t.Fatalf("ids = %d, %d, want 1, 2", id1, id2)
	}
	next, ok := el.NextDeadline()
	if !ok || !next.Equal(c.t.Add(50*time.Millisecond)) {
		t.Errorf("NextDeadline = %v, %v", next, ok)
	}
	el.ClearTimer(id2)
	next, _ = el.NextDeadline()
	if !next.Equal(c.t.Add(100 * time.Millisecond)) {
		t.Errorf("after clear, NextDeadline = %v", next)
	}
	el.ClearTimer(id1)
	if el.HasPending() {
		t.Error("all timers cleared but HasPending is true")
	}
}

func TestEventLoop_RunDueOrderAndLimit(t *testing.T) {
	el, c := newTestLoop()
	rt := &fakeRuntime{}
	late := el.RegisterTimer(30*time.Millisecond, false)
	early := el.RegisterTimer(10*time.Millisecond, false)
	el.RegisterTimer(time.Hour, false)

	if n := el.RunDue(rt, 0, nil); n != 0 {
		t.Fatalf("nothing is due yet, fired %d", n)
	}

	c.advance(40 * time.Millisecond)
	if n := el.RunDue(rt, 1, nil); n != 1 {
		t.Fatalf("limit 1 fired %d", n)
	}
	if !strings.Contains(rt.evals[0], "__fireTimer("+strconv.Itoa(early)+")") {
		t.Errorf("earliest timer should fire first, got %q", rt.evals[0])
	}
	if n := el.RunDue(rt, 5, nil); n != 1 {
		t.Fatalf("second pass fired %d", n)
	}
	if !strings.Contains(rt.evals[1], "__fireTimer("+strconv.Itoa(late)+")") {
		t.Errorf("second timer = %q", rt.evals[1])
	}
	if rt.microtasks != 2 {
		t.Errorf("microtasks pumped %d times, want 2", rt.microtasks)
	}
	if !el.HasPending() {
		t.Error("hour-long timer should still be pending")
	}
}

func TestEventLoop_IntervalReschedules(t *testing.T) {
	el, c := newTestLoop()
	rt := &fakeRuntime{}
	id := el.RegisterTimer(0, true)

	next, _ := el.NextDeadline()
	if !next.Equal(c.t) {
		t.Errorf("first interval deadline = %v, want now", next)
	}
	c.advance(time.Millisecond)
	el.RunDue(rt, 0, nil)
	next, _ = el.NextDeadline()
	if want := c.t.Add(minInterval); !next.Equal(want) {
		t.Errorf("rescheduled deadline = %v, want %v", next, want)
	}
	el.ClearTimer(id)
	if el.HasPending() {
		t.Error("interval should be gone after clear")
	}
}

func TestEventLoop_RunDueReportsErrors(t *testing.T) {
	el, c := newTestLoop()
	rt := &fakeRuntime{failOn: "__fireTimer(1)"}
	el.RegisterTimer(0, false)
	el.RegisterTimer(0, false)
	c.advance(time.Millisecond)

	var failed []int
	n := el.RunDue(rt, 0, func(id int, err error) { failed = append(failed, id) })
	if n != 2 {
		t.Fatalf("fired %d, want 2", n)
	}
	if len(failed) != 1 || failed[0] != 1 {
		t.Errorf("failed = %v, want [1]", failed)
	}
}

func TestEventLoop_Install(t *testing.T) {
	el := New()
	rt := &fakeRuntime{}
	if err := el.Install(rt); err != nil {
		t.Fatalf("Install: %v", err)
	}
	register, ok := rt.funcs["__timerRegister"].(func(int, bool) int)
	if !ok {
		t.Fatalf("__timerRegister has type %T", rt.funcs["__timerRegister"])
	}
	clearTimer, ok := rt.funcs["__timerClear"].(func(int))
	if !ok {
		t.Fatalf("__timerClear has type %T", rt.funcs["__timerClear"])
	}
	id := register(5, false)
	if !el.HasPending() {
		t.Error("register should create a timer")
	}
	clearTimer(id)
	if el.HasPending() {
		t.Error("clear should remove the timer")
	}
	if len(rt.evals) != 1 || !strings.Contains(rt.evals[0], "globalThis.setTimeout") {
		t.Error("timer glue not evaluated")
	}
}

func TestEventLoop_Reset(t *testing.T) {
	el := New()
	el.RegisterTimer(time.Second, false)
	el.RegisterTimer(time.Second, true)
	el.Reset()
	if el.HasPending() {
		t.Error("Reset should clear timers")
	}
	if id := el.RegisterTimer(0, false); id != 1 {
		t.Errorf("ids should restart at 1, got %d", id)
	}
}
