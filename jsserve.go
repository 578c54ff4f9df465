// Package jsserve wires a resource store, the script engine and the TCP
// server into one service: static files are streamed by the server's
// workers, ".server" requests run through the engine's request handler.
package jsserve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cryguy/jsserve/internal/core"
	"github.com/cryguy/jsserve/internal/engine"
	"github.com/cryguy/jsserve/internal/resource"
	"github.com/cryguy/jsserve/internal/server"
)

// ErrEngineStopped is returned by Run when the engine terminates on its own.
var ErrEngineStopped = errors.New("engine terminated unexpectedly")

// Config aggregates everything a Service needs.
type Config struct {
	Root            string            `toml:"root"` // directory holding static files and scripts
	ShutdownTimeout time.Duration     `toml:"shutdown_timeout"`
	Server          core.ServerConfig `toml:"server"`
	Engine          core.EngineConfig `toml:"engine"`
}

// Defaults returns a Config with every default filled in except
// Server.Workers, which the caller sizes.
func Defaults() Config {
	return Config{
		Root:            ".",
		ShutdownTimeout: 10 * time.Second,
		Server:          core.DefaultServerConfig(),
		Engine:          core.DefaultEngineConfig(),
	}
}

// Service is a running front end plus its engine.
type Service struct {
	cfg      Config
	logger   zerolog.Logger
	store    *resource.Store
	engine   *engine.Engine
	server   *server.Server
	stopping atomic.Bool
}

// New builds the store, the engine and the server and binds the listener.
// Nothing runs until Run.
func New(cfg Config, logger zerolog.Logger) (*Service, error) {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = Defaults().ShutdownTimeout
	}
	store, err := resource.New(cfg.Root, logger)
	if err != nil {
		return nil, err
	}
	eng, err := engine.New(cfg.Engine, store, logger)
	if err != nil {
		return nil, err
	}
	srv, err := server.New(cfg.Server, store, eng, logger)
	if err != nil {
		_ = eng.Shutdown(context.Background())
		return nil, err
	}
	return &Service{
		cfg:    cfg,
		logger: logger.With().Str("component", "service").Logger(),
		store:  store,
		engine: eng,
		server: srv,
	}, nil
}

// Addr returns the address the server is bound to.
func (s *Service) Addr() net.Addr {
	return s.server.Addr()
}

// Run starts the engine and serves until ctx ends or Shutdown is called.
func (s *Service) Run(ctx context.Context) error {
	if err := s.engine.Start(); err != nil {
		_ = s.server.Shutdown(context.Background())
		return fmt.Errorf("starting engine: %w", err)
	}
	s.logger.Info().
		Str("addr", s.Addr().String()).
		Str("root", s.cfg.Root).
		Str("backend", engine.Backend).
		Msg("jsserve running")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.server.Serve(gctx)
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-s.engine.Done():
			if s.stopping.Load() {
				return nil
			}
			_ = s.server.Shutdown(context.Background())
			return ErrEngineStopped
		}
	})
	err := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if serr := s.Shutdown(shutdownCtx); serr != nil && err == nil {
		err = serr
	}
	return err
}

// Shutdown stops the server first, so no new tasks arrive, then the engine.
// It is safe to call more than once.
func (s *Service) Shutdown(ctx context.Context) error {
	s.stopping.Store(true)
	return errors.Join(
		s.server.Shutdown(ctx),
		s.engine.Shutdown(ctx),
	)
}
