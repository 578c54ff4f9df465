// Command jsserve serves a directory over HTTP, running ".server" requests
// through the JavaScript engine.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/rs/zerolog"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/cryguy/jsserve"
	"github.com/cryguy/jsserve/internal/engine"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	cfg, opts, err := loadConfig(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "jsserve: %v\n", err)
		return 2
	}

	logger, err := newLogger(opts, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "jsserve: %v\n", err)
		return 2
	}

	tuneProcess(logger)
	if cfg.Server.Workers == 0 {
		cfg.Server.Workers = runtime.GOMAXPROCS(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := jsserve.New(cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("startup failed")
		return 1
	}
	if err := svc.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("jsserve stopped")
		return 1
	}
	logger.Info().Msg("bye")
	return 0
}

func newLogger(opts options, w io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(opts.LogLevel))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q", opts.LogLevel)
	}
	switch opts.LogFormat {
	case "json":
	case "console", "":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	default:
		return zerolog.Nop(), fmt.Errorf("invalid log format %q", opts.LogFormat)
	}
	return zerolog.New(w).Level(level).With().Timestamp().Str("backend", engine.Backend).Logger(), nil
}

// tuneProcess matches GOMAXPROCS and GOMEMLIMIT to the container limits.
func tuneProcess(logger zerolog.Logger) {
	log := logger.With().Str("component", "process").Logger()
	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
		log.Debug().Msgf(format, args...)
	})); err != nil {
		log.Warn().Err(err).Msg("setting GOMAXPROCS")
	}
	limit, err := memlimit.SetGoMemLimitWithOpts(
		memlimit.WithRatio(0.9),
		memlimit.WithProvider(memlimit.ApplyFallback(memlimit.FromCgroup, memlimit.FromSystem)),
	)
	if err != nil {
		log.Debug().Err(err).Msg("GOMEMLIMIT left unchanged")
		return
	}
	log.Debug().Int64("limit", limit).Msg("GOMEMLIMIT set")
}
