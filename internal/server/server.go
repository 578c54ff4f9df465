// Package server accepts TCP connections and hands each one to a fixed pool
// of workers through a bounded intake queue. Workers serve static resources
// themselves and pass executable requests to a core.TaskDispatcher.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/cryguy/jsserve/internal/core"
	"github.com/cryguy/jsserve/internal/queue"
	"github.com/cryguy/jsserve/internal/resource"
)

// ErrNoWorkers is returned by New when the worker count is not positive.
var ErrNoWorkers = errors.New("workers must be a positive number")

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Server is the connection acceptor plus its worker pool.
type Server struct {
	cfg        core.ServerConfig
	store      *resource.Store
	dispatcher core.TaskDispatcher
	logger     zerolog.Logger
	listener   net.Listener
	intake     *queue.BoundedQueue[net.Conn]

	mu      sync.Mutex
	serving bool
	closed  bool
	stopCtx context.Context
	stop    context.CancelFunc
	done    chan struct{}
}

// New validates cfg and binds the listener. No goroutine runs until Serve.
func New(cfg core.ServerConfig, store *resource.Store, dispatcher core.TaskDispatcher, logger zerolog.Logger) (*Server, error) {
	if cfg.Workers <= 0 {
		return nil, ErrNoWorkers
	}
	if store == nil {
		return nil, errors.New("server: resource store is required")
	}
	if dispatcher == nil {
		return nil, errors.New("server: task dispatcher is required")
	}
	def := core.DefaultServerConfig()
	if cfg.IntakeQueueSize <= 0 {
		cfg.IntakeQueueSize = def.IntakeQueueSize
	}
	if cfg.IndexResource == "" {
		cfg.IndexResource = def.IndexResource
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	if cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.MaxConnections)
	}

	s := &Server{
		cfg:        cfg,
		store:      store,
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "server").Logger(),
		listener:   ln,
		intake:     queue.New[net.Conn](cfg.IntakeQueueSize),
		done:       make(chan struct{}),
	}
	s.stopCtx, s.stop = context.WithCancel(context.Background())
	return s, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve runs the acceptor and the workers until Shutdown is called or ctx
// ends. It returns nil after an orderly stop.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return net.ErrClosed
	}
	if s.serving {
		s.mu.Unlock()
		return errors.New("server: already serving")
	}
	s.serving = true
	s.mu.Unlock()
	defer close(s.done)

	stopOnCtx := context.AfterFunc(ctx, s.close)
	defer stopOnCtx()

	s.logger.Info().Str("addr", s.Addr().String()).Int("workers", s.cfg.Workers).Msg("serving")

	g, gctx := errgroup.WithContext(s.stopCtx)
	g.Go(func() error {
		s.acceptLoop()
		return nil
	})
	for i := 0; i < s.cfg.Workers; i++ {
		id := i
		g.Go(func() error {
			s.workerLoop(gctx, id)
			return nil
		})
	}
	err := g.Wait()
	s.drain()
	s.logger.Info().Msg("stopped")
	return err
}

// Shutdown stops accepting, lets workers finish the connection they hold and
// closes every connection still waiting in the intake queue.
func (s *Server) Shutdown(ctx context.Context) error {
	s.close()

	s.mu.Lock()
	serving := s.serving
	s.mu.Unlock()
	if !serving {
		s.drain()
		return nil
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("server shutdown: %w", ctx.Err())
	}
}

func (s *Server) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.stop()
	if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Warn().Err(err).Msg("closing listener")
	}
}

func (s *Server) acceptLoop() {
	var backoff time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || s.stopCtx.Err() != nil {
				return
			}
			if backoff == 0 {
				backoff = minAcceptBackoff
			} else {
				backoff = min(backoff*2, maxAcceptBackoff)
			}
			s.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("accept failed")
			select {
			case <-time.After(backoff):
			case <-s.stopCtx.Done():
				return
			}
			continue
		}
		backoff = 0

		if err := s.intake.EnqueueContext(s.stopCtx, conn); err != nil {
			_ = conn.Close()
			return
		}
	}
}

func (s *Server) workerLoop(ctx context.Context, id int) {
	log := s.logger.With().Int("worker", id).Logger()
	for {
		conn, err := s.intake.DequeueContext(ctx)
		if err != nil {
			return
		}
		s.handle(ctx, conn, log)
	}
}

// drain closes connections accepted but never picked up by a worker.
func (s *Server) drain() {
	n := 0
	for {
		conn, ok := s.intake.DequeueNoWait()
		if !ok {
			break
		}
		_ = conn.Close()
		n++
	}
	if n > 0 {
		s.logger.Info().Int("connections", n).Msg("closed queued connections")
	}
}
