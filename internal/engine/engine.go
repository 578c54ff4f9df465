// Package engine runs server-side scripts on one goroutine locked to one OS
// thread. Workers hand it tasks through a bounded queue; every script, host
// callback and socket handle belongs to that goroutine.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/cryguy/jsserve/internal/core"
	"github.com/cryguy/jsserve/internal/eventloop"
	"github.com/cryguy/jsserve/internal/queue"
	"github.com/cryguy/jsserve/internal/resource"
	"github.com/cryguy/jsserve/internal/sqlstore"
	"github.com/cryguy/jsserve/internal/wire"
)

var errNoHandler = errors.New("no request handler registered")

// Engine owns the script environment and the queue feeding it.
type Engine struct {
	cfg          core.EngineConfig
	store        *resource.Store
	logger       zerolog.Logger
	scriptLogger zerolog.Logger
	tasks        *queue.BoundedQueue[*core.Task]
	state        atomic.Int32

	mu       sync.Mutex
	started  bool
	closing  bool
	pending  sync.WaitGroup // EnqueueTask calls past the closing check
	stopCtx  context.Context
	stop     context.CancelFunc
	done     chan struct{}
	initDone chan error

	// Engine goroutine only.
	rt              core.JSRuntime
	timers          *eventloop.EventLoop
	sockets         *socketTable
	sources         *sourceCache
	hasEntry        bool
	watchRejections bool
	db              *sqlstore.Bridge
	now             func() time.Time
}

var _ core.TaskDispatcher = (*Engine)(nil)

// New creates an engine reading scripts from store. Nothing runs until
// Start. Zero values in cfg fall back to DefaultEngineConfig.
func New(cfg core.EngineConfig, store *resource.Store, logger zerolog.Logger) (*Engine, error) {
	def := core.DefaultEngineConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.BootstrapResource == "" {
		cfg.BootstrapResource = def.BootstrapResource
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.PumpLimit <= 0 {
		cfg.PumpLimit = def.PumpLimit
	}
	if store == nil {
		return nil, fmt.Errorf("engine: resource store is required")
	}

	logger = logger.With().Str("component", "engine").Str("backend", Backend).Logger()
	e := &Engine{
		cfg:          cfg,
		store:        store,
		logger:       logger,
		scriptLogger: logger.With().Str("source", "script").Logger(),
		tasks:        queue.New[*core.Task](cfg.QueueSize),
		done:         make(chan struct{}),
		initDone:     make(chan error, 1),
		sockets:      newSocketTable(),
		sources:      newSourceCache(),
		timers:       eventloop.New(),
		now:          time.Now,
	}
	e.stopCtx, e.stop = context.WithCancel(context.Background())

	if cfg.DatabasePath != "" {
		db, err := sqlstore.Open(cfg.DatabasePath, logger)
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		e.db = db
	}
	return e, nil
}

// State returns the engine goroutine's current lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}

// Start launches the engine goroutine and waits for the environment to be
// initialized. A missing or broken bootstrap script is not an error: the
// engine then answers every task with 500. Failing to create the runtime is.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.closing {
		e.mu.Unlock()
		return ErrShutdown
	}
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("engine already started")
	}
	e.started = true
	e.mu.Unlock()

	e.setState(StateInitializing)
	go e.run()
	return <-e.initDone
}

// EnqueueTask hands a task to the engine, blocking while the queue is full.
// It returns ErrShutdown once Shutdown has begun, or ctx.Err() if ctx ends
// first. On error the caller still owns the task's socket.
func (e *Engine) EnqueueTask(ctx context.Context, task *core.Task) error {
	if task == nil || task.Socket == nil {
		return fmt.Errorf("engine: task without socket")
	}
	e.mu.Lock()
	if e.closing {
		e.mu.Unlock()
		return ErrShutdown
	}
	e.pending.Add(1)
	e.mu.Unlock()
	defer e.pending.Done()

	ctx, cancel := mergeCancel(ctx, e.stopCtx)
	defer cancel()
	if err := e.tasks.EnqueueContext(ctx, task); err != nil {
		if e.stopCtx.Err() != nil {
			return ErrShutdown
		}
		return err
	}
	return nil
}

// mergeCancel returns a context done when either parent is.
func mergeCancel(ctx, other context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	stopAfter := context.AfterFunc(other, cancel)
	return merged, func() {
		stopAfter()
		cancel()
	}
}

// Shutdown stops accepting tasks, lets the current task finish, answers
// queued tasks with 503 and closes every socket the engine still holds. It
// waits for the engine goroutine to exit or ctx to end.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	first := !e.closing
	e.closing = true
	started := e.started
	e.mu.Unlock()

	if first {
		e.logger.Info().Int("queued", e.tasks.Len()).Msg("engine shutting down")
		e.stop()
	}

	if !started {
		if first {
			e.pending.Wait()
			e.drain()
			e.closeDB()
			e.setState(StateTerminated)
			close(e.done)
		}
		<-e.done
		return nil
	}

	// Wake the loop if it is idle; a full queue means it will wake anyway.
	e.tasks.EnqueueTimeout(nil, 0)

	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("engine shutdown: %w", ctx.Err())
	}
}

// Done is closed once the engine goroutine has terminated.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

func (e *Engine) shuttingDown() bool {
	return e.stopCtx.Err() != nil
}

func (e *Engine) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(e.done)

	if err := e.init(); err != nil {
		e.logger.Error().Err(err).Msg("engine initialization failed")
		e.initDone <- err
		e.mu.Lock()
		e.closing = true
		e.mu.Unlock()
		e.stop()
		e.pending.Wait()
		e.drain()
		e.closeDB()
		e.setState(StateTerminated)
		return
	}
	e.initDone <- nil

	e.loop()

	e.setState(StateShuttingDown)
	e.pending.Wait()
	e.drain()
	e.closeHandles()
	if e.timers.HasPending() {
		e.logger.Debug().Msg("discarding pending timers")
		e.timers.Reset()
	}
	e.rt.Close()
	e.closeDB()
	e.setState(StateTerminated)
	e.logger.Info().Msg("engine terminated")
}

// init creates the runtime and evaluates the prelude and bootstrap script.
func (e *Engine) init() error {
	rt, err := newRuntime(e.cfg.MemoryLimitMB)
	if err != nil {
		return fmt.Errorf("creating %s runtime: %w", Backend, err)
	}
	e.rt = rt

	tracker, native := rt.(core.RejectionTracker)
	if native {
		tracker.OnUnhandledRejection(func(reason string) {
			e.hostUnhandled(reason, "")
		})
	}
	if err := e.registerHost(); err != nil {
		rt.Close()
		return err
	}
	if err := e.timers.Install(rt); err != nil {
		rt.Close()
		return fmt.Errorf("installing timers: %w", err)
	}
	if err := rt.SetGlobal("__backend", Backend); err != nil {
		rt.Close()
		return fmt.Errorf("setting backend name: %w", err)
	}
	if err := rt.Eval(preludeJS); err != nil {
		rt.Close()
		return fmt.Errorf("evaluating prelude: %w", err)
	}
	if !native {
		if err := rt.Eval(rejectionsJS); err != nil {
			rt.Close()
			return fmt.Errorf("installing rejection tracking: %w", err)
		}
		e.watchRejections = true
	}

	if err := e.bootstrap(); err != nil {
		e.logger.Error().Err(err).Str("resource", e.cfg.BootstrapResource).
			Msg("bootstrap failed, every request will be answered with 500")
	}
	return nil
}

// bootstrap evaluates the bootstrap resource and records whether its
// completion value is callable.
func (e *Engine) bootstrap() error {
	name := e.cfg.BootstrapResource
	if e.store.Size(name) < 0 {
		return fmt.Errorf("bootstrap resource %q not found", name)
	}
	src := e.store.ReadAll(name)
	e.sources.put(name, src)

	out, err := e.rt.EvalString(fmt.Sprintf("globalThis.__bootstrap(%s, %s)", jsString(src), jsString(name)))
	if err != nil {
		return err
	}
	if out != "" {
		return e.newScriptError(out, name)
	}
	e.rt.RunMicrotasks()

	ok, err := e.rt.EvalBool("typeof globalThis.__handler === 'function'")
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: completion value is not a function", name)
	}
	e.hasEntry = true
	e.logger.Info().Str("resource", name).Msg("request handler registered")
	return nil
}

func (e *Engine) loop() {
	for {
		e.setState(StateReady)
		e.pump()
		e.sweep()
		if e.shuttingDown() {
			return
		}

		wait := e.cfg.IdleTimeout
		if next, ok := e.timers.NextDeadline(); ok {
			if d := time.Until(next); d < wait {
				wait = max(d, 0)
			}
		}

		e.setState(StateIdle)
		task, ok := e.tasks.DequeueTimeout(wait)
		if !ok || task == nil {
			continue
		}
		if e.shuttingDown() {
			e.reject(task)
			continue
		}
		e.setState(StateDispatching)
		e.dispatch(task)
	}
}

// pump runs microtasks and due timers until nothing fires or PumpLimit
// rounds have passed.
func (e *Engine) pump() {
	defer e.reportRejections()
	for i := 0; i < e.cfg.PumpLimit; i++ {
		e.rt.RunMicrotasks()
		fired := e.timers.RunDue(e.rt, 0, func(id int, err error) {
			e.logger.Error().Int("timer", id).Err(err).Msg("timer callback failed")
		})
		if fired == 0 {
			return
		}
	}
}

// reportRejections logs rejections still unhandled after a pump.
func (e *Engine) reportRejections() {
	if !e.watchRejections {
		return
	}
	if err := e.rt.Eval("__reportRejections()"); err != nil {
		e.logger.Error().Err(err).Msg("reporting unhandled rejections")
	}
}

// sweep forgets closed sockets and times out ones left open too long.
func (e *Engine) sweep() {
	now := e.now()
	for h, hd := range e.sockets.m {
		if hd.task.Socket.Closed() {
			e.sockets.remove(h)
			continue
		}
		if e.cfg.ResponseTimeout > 0 && now.Sub(hd.dispatched) >= e.cfg.ResponseTimeout {
			written := hd.task.Socket.Written()
			e.logger.Warn().Int("socket", h).Str("module", hd.task.Module).Str("uri", hd.task.URI).
				Int64("written", written).Msg("response timeout")
			// A partial response is cut short rather than followed by a second one.
			if written == 0 {
				_ = wire.WriteResponse(hd.task.Socket, wire.StatusError, "text/plain", "response timeout")
			}
			_ = hd.task.Socket.Close()
			e.sockets.remove(h)
		}
	}
}

func (e *Engine) dispatch(task *core.Task) {
	log := e.logger.With().Str("module", task.Module).Str("uri", task.URI).Logger()
	if !e.hasEntry {
		log.Warn().Msg(errNoHandler.Error())
		_ = wire.WriteResponse(task.Socket, wire.StatusError, "text/plain", errNoHandler.Error())
		_ = task.Socket.Close()
		return
	}

	h := e.sockets.add(task, e.now())
	log.Debug().Int("socket", h).Str("method", task.Method).Msg("dispatching")

	out, err := e.rt.EvalString(fmt.Sprintf("globalThis.__dispatch(%d, %s, %s, %s)",
		h, jsString(task.Method), jsString(task.URI), jsString(task.Module)))
	switch {
	case err != nil:
		e.fail(h, plainError(task.Module, err))
	case out != "":
		e.fail(h, e.newScriptError(out, task.Module))
	}
	e.rt.RunMicrotasks()
}

// reject answers a task that arrived too late with 503.
func (e *Engine) reject(task *core.Task) {
	_ = wire.WriteResponse(task.Socket, wire.StatusServiceUnavailable, "text/plain", wire.StatusServiceUnavailable.Text())
	_ = task.Socket.Close()
}

// drain rejects everything still queued.
func (e *Engine) drain() {
	n := 0
	for {
		task, ok := e.tasks.DequeueNoWait()
		if !ok {
			break
		}
		if task == nil {
			continue
		}
		e.reject(task)
		n++
	}
	if n > 0 {
		e.logger.Info().Int("tasks", n).Msg("rejected queued tasks")
	}
}

func (e *Engine) closeHandles() {
	for h, hd := range e.sockets.m {
		_ = hd.task.Socket.Close()
		e.sockets.remove(h)
	}
}

func (e *Engine) closeDB() {
	if e.db == nil {
		return
	}
	if err := e.db.Close(); err != nil {
		e.logger.Warn().Err(err).Msg("closing database")
	}
}

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
