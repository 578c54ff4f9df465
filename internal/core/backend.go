package core

import "context"

// TaskDispatcher accepts dynamic requests for execution. The server depends
// on this instead of the engine itself.
type TaskDispatcher interface {
	// EnqueueTask blocks while the dispatcher is saturated. On error the
	// caller still owns the task's socket.
	EnqueueTask(ctx context.Context, task *Task) error
}
