package engine

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cryguy/jsserve/internal/wire"
)

// registerHost installs the __host_* functions the prelude builds on. Every
// closure runs on the engine goroutine.
func (e *Engine) registerHost() error {
	funcs := map[string]any{
		"__host_log":          e.hostLog,
		"__host_socket_write": e.hostSocketWrite,
		"__host_socket_close": e.hostSocketClose,
		"__host_byte_length":  func(s string) int { return len(s) },
		"__host_resolve":      resolveModule,
		"__host_load_module":  e.loadModule,
		"__host_settled":      e.hostSettled,
		"__host_unhandled":    e.hostUnhandled,
	}
	if e.db != nil {
		funcs["__host_sql"] = e.db.ExecJSON
	}
	for name, fn := range funcs {
		if err := e.rt.RegisterFunc(name, fn); err != nil {
			return fmt.Errorf("registering %s: %w", name, err)
		}
	}
	return nil
}

func (e *Engine) hostLog(level, msg string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	e.scriptLogger.WithLevel(lvl).Msg(msg)
}

func (e *Engine) hostSocketWrite(h int, data string) (int, error) {
	sock := e.sockets.socket(h)
	if sock == nil {
		return 0, fmt.Errorf("socket %d: %w", h, wire.ErrSocketClosed)
	}
	n, err := sock.WriteString(data)
	if err != nil {
		return n, fmt.Errorf("socket %d: %w", h, err)
	}
	return n, nil
}

// hostSocketClose returns 1 if this call closed the socket, 0 otherwise.
func (e *Engine) hostSocketClose(h int) int {
	sock := e.sockets.socket(h)
	if sock == nil {
		return 0
	}
	if err := sock.Close(); err != nil {
		return 0
	}
	return 1
}

// hostUnhandled logs a rejection that no handler and no socket claimed.
func (e *Engine) hostUnhandled(reason, stack string) {
	ev := e.logger.Warn().Str("reason", reason)
	if stack != "" {
		ev = ev.Str("stack", stack)
	}
	ev.Msg("unhandled promise rejection")
}

// hostSettled receives the outcome of a promise associated with a socket.
// errJSON is empty on fulfilment.
func (e *Engine) hostSettled(h int, errJSON string) {
	hd := e.sockets.get(h)
	module := ""
	if hd != nil {
		module = hd.task.Module
	}
	if errJSON != "" {
		e.fail(h, e.newScriptError(errJSON, module))
		return
	}
	if hd != nil && !hd.task.Socket.Closed() {
		e.logger.Debug().Int("socket", h).Str("module", module).Msg("handler settled with socket open, closing")
		_ = hd.task.Socket.Close()
	}
}

// fail logs a script error and, if the socket is still open, answers it
// with 500 and closes it.
func (e *Engine) fail(h int, se *ScriptError) {
	e.logger.Error().
		Str("resource", se.Resource).
		Int("line", se.Line).
		Str("source_line", se.SourceLine).
		Str("stack", se.Stack).
		Msg(se.Error())

	sock := e.sockets.socket(h)
	if sock == nil || sock.Closed() {
		return
	}
	if err := wire.WriteResponse(sock, wire.StatusError, "text/plain", se.Error()); err != nil {
		e.logger.Debug().Err(err).Int("socket", h).Msg("writing error response")
	}
	_ = sock.Close()
}
