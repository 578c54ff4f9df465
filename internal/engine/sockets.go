package engine

import (
	"time"

	"github.com/cryguy/jsserve/internal/core"
	"github.com/cryguy/jsserve/internal/wire"
)

// handle is a dispatched task whose socket scripts may still write to.
type handle struct {
	task       *core.Task
	dispatched time.Time
}

// socketTable maps the integer handles scripts see to live sockets. Only the
// engine goroutine touches it.
type socketTable struct {
	m    map[int]*handle
	next int
}

func newSocketTable() *socketTable {
	return &socketTable{m: make(map[int]*handle)}
}

func (t *socketTable) add(task *core.Task, now time.Time) int {
	t.next++
	t.m[t.next] = &handle{task: task, dispatched: now}
	return t.next
}

func (t *socketTable) socket(h int) *wire.Socket {
	if hd, ok := t.m[h]; ok {
		return hd.task.Socket
	}
	return nil
}

func (t *socketTable) get(h int) *handle {
	return t.m[h]
}

func (t *socketTable) remove(h int) {
	delete(t.m, h)
}

func (t *socketTable) len() int {
	return len(t.m)
}
