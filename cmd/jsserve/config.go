package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/cryguy/jsserve"
)

const envPrefix = "JSSERVE_"

// options are the settings that shape the process rather than the service.
type options struct {
	ConfigFile string
	LogLevel   string
	LogFormat  string // "console" or "json"
}

// fileConfig is the TOML layout: the service config plus a [log] table.
type fileConfig struct {
	jsserve.Config
	Log struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
	} `toml:"log"`
}

// loadConfig resolves the configuration from, in increasing precedence,
// defaults, the TOML file, JSSERVE_* environment variables and flags.
func loadConfig(args []string) (jsserve.Config, options, error) {
	cfg := jsserve.Defaults()
	opts := options{LogLevel: "info", LogFormat: "console"}

	fs := flag.NewFlagSet("jsserve", flag.ContinueOnError)
	configFile := fs.String("config", envOrDefault(envPrefix+"CONFIG", ""), "path to a TOML config file")
	root := fs.String("root", "", "directory holding static files and scripts")
	host := fs.String("host", "", "listen host")
	port := fs.Int("port", 0, "listen port")
	workers := fs.Int("workers", 0, "worker goroutines, 0 for GOMAXPROCS")
	queue := fs.Int("queue", 0, "engine task queue capacity")
	intake := fs.Int("intake", 0, "accepted connection queue capacity")
	db := fs.String("db", "", "SQLite database for core.sql")
	logLevel := fs.String("log-level", "", "log level (trace, debug, info, warn, error)")
	logFormat := fs.String("log-format", "", "log output: console or json")
	if err := fs.Parse(args); err != nil {
		return cfg, opts, err
	}

	opts.ConfigFile = *configFile
	if opts.ConfigFile != "" {
		fc := fileConfig{Config: cfg}
		if _, err := toml.DecodeFile(opts.ConfigFile, &fc); err != nil {
			return cfg, opts, fmt.Errorf("reading config %s: %w", opts.ConfigFile, err)
		}
		cfg = fc.Config
		if fc.Log.Level != "" {
			opts.LogLevel = fc.Log.Level
		}
		if fc.Log.Format != "" {
			opts.LogFormat = fc.Log.Format
		}
	}

	if err := applyEnv(&cfg, &opts); err != nil {
		return cfg, opts, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "root":
			cfg.Root = *root
		case "host":
			cfg.Server.Host = *host
		case "port":
			cfg.Server.Port = *port
		case "workers":
			cfg.Server.Workers = *workers
		case "queue":
			cfg.Engine.QueueSize = *queue
		case "intake":
			cfg.Server.IntakeQueueSize = *intake
		case "db":
			cfg.Engine.DatabasePath = *db
		case "log-level":
			opts.LogLevel = *logLevel
		case "log-format":
			opts.LogFormat = *logFormat
		}
	})
	return cfg, opts, nil
}

func applyEnv(cfg *jsserve.Config, opts *options) error {
	cfg.Root = envOrDefault(envPrefix+"ROOT", cfg.Root)
	cfg.Server.Host = envOrDefault(envPrefix+"HOST", cfg.Server.Host)
	cfg.Server.IndexResource = envOrDefault(envPrefix+"INDEX", cfg.Server.IndexResource)
	cfg.Engine.BootstrapResource = envOrDefault(envPrefix+"BOOTSTRAP", cfg.Engine.BootstrapResource)
	cfg.Engine.DatabasePath = envOrDefault(envPrefix+"DB", cfg.Engine.DatabasePath)
	opts.LogLevel = envOrDefault(envPrefix+"LOG_LEVEL", opts.LogLevel)
	opts.LogFormat = envOrDefault(envPrefix+"LOG_FORMAT", opts.LogFormat)

	ints := []struct {
		key string
		dst *int
	}{
		{"PORT", &cfg.Server.Port},
		{"WORKERS", &cfg.Server.Workers},
		{"INTAKE", &cfg.Server.IntakeQueueSize},
		{"MAX_CONNECTIONS", &cfg.Server.MaxConnections},
		{"QUEUE", &cfg.Engine.QueueSize},
		{"PUMP_LIMIT", &cfg.Engine.PumpLimit},
		{"MEMORY_LIMIT_MB", &cfg.Engine.MemoryLimitMB},
	}
	for _, v := range ints {
		n, err := envInt(envPrefix+v.key, *v.dst)
		if err != nil {
			return err
		}
		*v.dst = n
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"READ_TIMEOUT", &cfg.Server.ReadTimeout},
		{"IDLE_TIMEOUT", &cfg.Engine.IdleTimeout},
		{"RESPONSE_TIMEOUT", &cfg.Engine.ResponseTimeout},
		{"SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
	}
	for _, v := range durations {
		d, err := envDuration(envPrefix+v.key, *v.dst)
		if err != nil {
			return err
		}
		*v.dst = d
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}
