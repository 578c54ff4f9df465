package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvOrDefault(t *testing.T) {
	const key = "JSSERVE_TEST_ENV"
	assert.Equal(t, "fallback", envOrDefault(key, "fallback"))

	t.Setenv(key, "value")
	assert.Equal(t, "value", envOrDefault(key, "fallback"))
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, opts, err := loadConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, ".", cfg.Root)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Zero(t, cfg.Server.Workers)
	assert.Equal(t, "info", opts.LogLevel)
	assert.Equal(t, "console", opts.LogFormat)
}

func TestLoadConfig_Precedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jsserve.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
root = "/srv/site"
shutdown_timeout = "3s"

[server]
port = 9000
workers = 3
read_timeout = "5s"

[engine]
queue_size = 64
idle_timeout = "250ms"
database_path = "/var/lib/jsserve/app.db"

[log]
level = "debug"
format = "json"
`), 0o644))

	t.Setenv("JSSERVE_PORT", "9100")
	t.Setenv("JSSERVE_QUEUE", "32")

	cfg, opts, err := loadConfig([]string{"-config", path, "-queue", "16"})
	require.NoError(t, err)

	assert.Equal(t, "/srv/site", cfg.Root)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Server.Workers)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "index.html", cfg.Server.IndexResource)
	assert.Equal(t, 16, cfg.Engine.QueueSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Engine.IdleTimeout)
	assert.Equal(t, "/var/lib/jsserve/app.db", cfg.Engine.DatabasePath)
	assert.Equal(t, "__global__.js", cfg.Engine.BootstrapResource)
	assert.Equal(t, "debug", opts.LogLevel)
	assert.Equal(t, "json", opts.LogFormat)
}

func TestLoadConfig_ConfigFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jsserve.toml")
	require.NoError(t, os.WriteFile(path, []byte("root = \"www\"\n"), 0o644))
	t.Setenv("JSSERVE_CONFIG", path)

	cfg, opts, err := loadConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, "www", cfg.Root)
	assert.Equal(t, path, opts.ConfigFile)
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, _, err := loadConfig([]string{"-config", filepath.Join(t.TempDir(), "nope.toml")})
		assert.Error(t, err)
	})

	t.Run("bad toml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.toml")
		require.NoError(t, os.WriteFile(path, []byte("[server\nport = "), 0o644))
		_, _, err := loadConfig([]string{"-config", path})
		assert.Error(t, err)
	})

	t.Run("bad env int", func(t *testing.T) {
		t.Setenv("JSSERVE_WORKERS", "many")
		_, _, err := loadConfig(nil)
		assert.ErrorContains(t, err, "JSSERVE_WORKERS")
	})

	t.Run("bad env duration", func(t *testing.T) {
		t.Setenv("JSSERVE_READ_TIMEOUT", "soon")
		_, _, err := loadConfig(nil)
		assert.ErrorContains(t, err, "JSSERVE_READ_TIMEOUT")
	})

	t.Run("unknown flag", func(t *testing.T) {
		_, _, err := loadConfig([]string{"-nope"})
		assert.Error(t, err)
	})
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(options{LogLevel: "warn", LogFormat: "json"}, &buf)
	require.NoError(t, err)
	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"message":"shown"`)

	_, err = newLogger(options{LogLevel: "loud", LogFormat: "json"}, &buf)
	assert.Error(t, err)
	_, err = newLogger(options{LogLevel: "info", LogFormat: "xml"}, &buf)
	assert.Error(t, err)
}

func TestRun_StartupFailure(t *testing.T) {
	var stderr bytes.Buffer
	code := run([]string{"-root", filepath.Join(t.TempDir(), "missing"), "-port", "0", "-log-format", "json"}, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "startup failed")

	stderr.Reset()
	assert.Equal(t, 2, run([]string{"-log-level", "loud"}, &stderr))
}
