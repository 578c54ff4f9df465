package eventloop

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cryguy/jsserve/internal/core"
)

// minInterval keeps setInterval(fn, 0) from spinning the engine.
const minInterval = 10 * time.Millisecond

// timer is the scheduling half of a setTimeout or setInterval call. The
// callback itself lives in globalThis.__timerCallbacks under the same id.
type timer struct {
	deadline time.Time
	interval time.Duration // 0 for setTimeout, >0 for setInterval
	id       int
}

// EventLoop keeps the Go side of setTimeout/setInterval. It never sleeps:
// the owner asks for the next deadline, waits however it likes, and then
// calls RunDue on the runtime's goroutine.
type EventLoop struct {
	mu     sync.Mutex
	timers map[int]*timer
	nextID int
	now    func() time.Time
}

func New() *EventLoop {
	return &EventLoop{
		timers: make(map[int]*timer),
		now:    time.Now,
	}
}

const timersJS = `
(function() {
	globalThis.__timerCallbacks = {};
	function schedule(fn, delay, rest, interval) {
		if (typeof fn !== 'function') {
			return 0;
		}
		var ms = Math.max(0, Math.floor(Number(delay) || 0));
		var id = __timerRegister(ms, interval);
		globalThis.__timerCallbacks[id] = { fn: fn, args: rest, interval: interval };
		return id;
	}
	globalThis.setTimeout = function(fn, delay) {
		return schedule(fn, delay, Array.prototype.slice.call(arguments, 2), false);
	};
	globalThis.setInterval = function(fn, interval) {
		return schedule(fn, interval, Array.prototype.slice.call(arguments, 2), true);
	};
	globalThis.clearTimeout = globalThis.clearInterval = function(id) {
		if (typeof id !== 'number') {
			return;
		}
		__timerClear(id);
		delete globalThis.__timerCallbacks[id];
	};
	globalThis.__fireTimer = function(id) {
		var entry = globalThis.__timerCallbacks[id];
		if (!entry) return;
		if (!entry.interval) delete globalThis.__timerCallbacks[id];
		return entry.fn.apply(null, entry.args);
	};
})();
`

// Install registers the timer host functions on rt and defines the global
// timer API.
func (el *EventLoop) Install(rt core.JSRuntime) error {
	if err := rt.RegisterFunc("__timerRegister", func(delayMs int, isInterval bool) int {
		return el.RegisterTimer(time.Duration(delayMs)*time.Millisecond, isInterval)
	}); err != nil {
		return fmt.Errorf("registering __timerRegister: %w", err)
	}
	if err := rt.RegisterFunc("__timerClear", func(id int) {
		el.ClearTimer(id)
	}); err != nil {
		return fmt.Errorf("registering __timerClear: %w", err)
	}
	return rt.Eval(timersJS)
}

// RegisterTimer schedules a timer and returns its id. Intervals shorter than
// minInterval are raised to it.
func (el *EventLoop) RegisterTimer(delay time.Duration, isInterval bool) int {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.nextID++
	id := el.nextID
	t := &timer{id: id, deadline: el.now().Add(delay)}
	if isInterval {
		t.interval = max(delay, minInterval)
	}
	el.timers[id] = t
	return id
}

// ClearTimer forgets id. Unknown ids are ignored.
func (el *EventLoop) ClearTimer(id int) {
	el.mu.Lock()
	defer el.mu.Unlock()
	delete(el.timers, id)
}

// NextDeadline returns the earliest pending deadline.
func (el *EventLoop) NextDeadline() (time.Time, bool) {
	el.mu.Lock()
	defer el.mu.Unlock()
	var next time.Time
	found := false
	for _, t := range el.timers {
		if !found || t.deadline.Before(next) {
			next = t.deadline
			found = true
		}
	}
	return next, found
}

// due collects up to limit timers whose deadline has passed, earliest first,
// rescheduling intervals and removing one-shots.
func (el *EventLoop) due(limit int) []int {
	el.mu.Lock()
	defer el.mu.Unlock()
	now := el.now()
	var ready []*timer
	for _, t := range el.timers {
		if !t.deadline.After(now) {
			ready = append(ready, t)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		if ready[i].deadline.Equal(ready[j].deadline) {
			return ready[i].id < ready[j].id
		}
		return ready[i].deadline.Before(ready[j].deadline)
	})
	if limit > 0 && len(ready) > limit {
		ready = ready[:limit]
	}
	ids := make([]int, len(ready))
	for i, t := range ready {
		ids[i] = t.id
		if t.interval > 0 {
			t.deadline = now.Add(t.interval)
		} else {
			delete(el.timers, t.id)
		}
	}
	return ids
}

// RunDue fires at most limit expired timers (all of them if limit <= 0),
// running the microtask queue after each. A callback that throws is passed
// to onErr and does not stop the others. It returns the number fired.
// Must be called on the runtime's goroutine.
func (el *EventLoop) RunDue(rt core.JSRuntime, limit int, onErr func(id int, err error)) int {
	ids := el.due(limit)
	for _, id := range ids {
		if err := rt.Eval(fmt.Sprintf("__fireTimer(%d)", id)); err != nil && onErr != nil {
			onErr(id, err)
		}
		rt.RunMicrotasks()
	}
	return len(ids)
}

// HasPending reports whether any timer is scheduled.
func (el *EventLoop) HasPending() bool {
	el.mu.Lock()
	defer el.mu.Unlock()
	return len(el.timers) > 0
}

// Reset drops every timer and restarts ids at 1. The JS callbacks are left
// for the runtime to discard.
func (el *EventLoop) Reset() {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.timers = make(map[int]*timer)
	el.nextID = 0
}
