package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cryguy/jsserve/internal/core"
	"github.com/cryguy/jsserve/internal/resource"
	"github.com/cryguy/jsserve/internal/wire"
)

const invalidRequestBody = "invalid resource request"

// handle serves one connection. Unless the request is handed to the
// dispatcher, the connection is closed before handle returns.
func (s *Server) handle(ctx context.Context, conn net.Conn, log zerolog.Logger) {
	sock := wire.NewSocket(conn)
	log = log.With().Str("remote", sock.RemoteAddr()).Logger()

	if s.cfg.ReadTimeout > 0 {
		_ = sock.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	}
	line, err := wire.ReadRequestLine(bufio.NewReader(sock))
	if err != nil {
		if !errors.Is(err, io.EOF) {
			log.Debug().Err(err).Msg("reading request line")
		}
		_ = sock.Close()
		return
	}
	_ = sock.SetReadDeadline(time.Time{})

	uri := wire.NormalizeURI(line.URI, s.cfg.IndexResource)
	log = log.With().Str("method", line.Method).Str("uri", uri).Logger()

	if !wire.ValidateMethod(line.Method) || !wire.ValidateURI(uri) {
		log.Debug().Int("status", int(wire.StatusTeapot)).Msg("rejected request")
		s.respond(sock, wire.StatusTeapot, "text/html", invalidRequestBody, log)
		return
	}

	name := wire.StripQuery(uri)
	contentType := s.store.ContentType(name)
	if contentType == resource.Executable {
		s.dispatch(ctx, sock, line.Method, uri, name, log)
		return
	}
	s.serveStatic(sock, name, contentType, log)
}

// dispatch routes an executable resource to its companion script.
func (s *Server) dispatch(ctx context.Context, sock *wire.Socket, method, uri, name string, log zerolog.Logger) {
	module := strings.TrimSuffix(name, "."+extension(name)) + ".js"
	if s.store.Size(module) <= 0 {
		s.notFound(sock, uri, log)
		return
	}

	task := &core.Task{Socket: sock, Module: module, Method: method, URI: uri}
	if err := s.dispatcher.EnqueueTask(ctx, task); err != nil {
		log.Warn().Err(err).Str("module", module).Msg("dispatch refused")
		s.respond(sock, wire.StatusServiceUnavailable, "text/plain", wire.StatusServiceUnavailable.Text(), log)
		return
	}
	log.Debug().Str("module", module).Msg("dispatched")
}

func (s *Server) serveStatic(sock *wire.Socket, name, contentType string, log zerolog.Logger) {
	defer sock.Close()

	size := s.store.Size(name)
	if size < 0 {
		s.notFound(sock, name, log)
		return
	}
	if err := wire.WriteHeader(sock, wire.StatusOK, contentType, size); err != nil {
		log.Debug().Err(err).Msg("writing header")
		return
	}
	if err := s.store.WriteTo(name, sock); err != nil {
		log.Warn().Err(err).Msg("streaming resource")
		return
	}
	log.Debug().Int("status", int(wire.StatusOK)).Int64("bytes", size).Msg("served")
}

func (s *Server) notFound(sock *wire.Socket, uri string, log zerolog.Logger) {
	log.Debug().Int("status", int(wire.StatusNotFound)).Msg("not found")
	s.respond(sock, wire.StatusNotFound, "text/plain", "resource not found: "+uri, log)
}

func (s *Server) respond(sock *wire.Socket, status wire.Status, contentType, body string, log zerolog.Logger) {
	if err := wire.WriteResponse(sock, status, contentType, body); err != nil {
		log.Debug().Err(err).Int("status", int(status)).Msg("writing response")
	}
	_ = sock.Close()
}

// extension returns what follows the last '.' of name.
func extension(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return ""
}
