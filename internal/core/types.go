package core

import "github.com/cryguy/jsserve/internal/wire"

// Task is one dynamic request handed from a worker to the engine. The worker
// gives up the socket once the task has been enqueued.
type Task struct {
	Socket *wire.Socket
	Module string // script resource, e.g. "foo.js"
	Method string
	URI    string // normalized, query included
}
