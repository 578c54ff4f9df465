package jsserve

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSite(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func testConfig(root string) Config {
	cfg := Defaults()
	cfg.Root = root
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.Workers = 2
	cfg.Engine.IdleTimeout = 20 * time.Millisecond
	return cfg
}

func fetch(t *testing.T, addr net.Addr, uri string) string {
	t.Helper()
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	_, err = io.WriteString(conn, "GET "+uri+" HTTP/1.1\r\n\r\n")
	require.NoError(t, err)
	b, err := io.ReadAll(conn)
	require.NoError(t, err)
	return string(b)
}

func TestService_EndToEnd(t *testing.T) {
	root := writeSite(t, map[string]string{
		"index.html":    "<p>static</p>",
		"__global__.js": "(function(request) { return include(request.module)(request); })",
		"hello.server":  "",
		"hello.js": `module.exports = function(req) {
	var body = 'dynamic ' + req.uri;
	core.socketWrite('HTTP/1.1 200 OK\r\nContent-type: text/plain\r\nContent-Length: ' +
		core.getBytesLength(body) + '\r\n\r\n' + body);
	core.socketClose();
};`,
	})

	svc, err := New(testConfig(root), zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	assert.Equal(t,
		"HTTP/1.1 200 OK\r\nContent-type: text/html\r\nContent-Length: 13\r\n\r\n<p>static</p>",
		fetch(t, svc.Addr(), "/"))
	assert.Equal(t,
		"HTTP/1.1 200 OK\r\nContent-type: text/plain\r\nContent-Length: 20\r\n\r\ndynamic hello.server",
		fetch(t, svc.Addr(), "/hello.server"))
	assert.Contains(t, fetch(t, svc.Addr(), "/nothing.server"), "404 Resource Not Found")
	assert.Contains(t, fetch(t, svc.Addr(), "/bad//path.html"), "418 I'm a teapot")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestService_Shutdown(t *testing.T) {
	root := writeSite(t, map[string]string{"index.html": "x"})

	svc, err := New(testConfig(root), zerolog.Nop())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- svc.Run(context.Background()) }()
	assert.Contains(t, fetch(t, svc.Addr(), "/index.html"), "200 OK")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Shutdown(ctx))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}
}

func TestNew_Errors(t *testing.T) {
	cfg := testConfig(filepath.Join(t.TempDir(), "missing"))
	_, err := New(cfg, zerolog.Nop())
	assert.Error(t, err)

	cfg = testConfig(t.TempDir())
	cfg.Server.Workers = 0
	_, err = New(cfg, zerolog.Nop())
	assert.EqualError(t, err, "workers must be a positive number")
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, ".", cfg.Root)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "index.html", cfg.Server.IndexResource)
	assert.Equal(t, "__global__.js", cfg.Engine.BootstrapResource)
	assert.Equal(t, 256, cfg.Engine.QueueSize)
	assert.Zero(t, cfg.Server.Workers)
}

func TestService_ExampleSite(t *testing.T) {
	cfg := testConfig(filepath.Join("examples", "site"))
	cfg.Engine.DatabasePath = ":memory:"

	svc, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	resp := fetch(t, svc.Addr(), "/hello.server?name=go")
	assert.Contains(t, resp, "HTTP/1.1 200 OK\r\n")
	assert.Contains(t, resp, "\r\n\r\nhello, go\n")

	resp = fetch(t, svc.Addr(), "/request.server")
	assert.Contains(t, resp, "content-type: text/html")
	assert.Contains(t, resp, "request async")

	resp = fetch(t, svc.Addr(), "/later.server")
	assert.Contains(t, resp, "written after 50ms")

	resp = fetch(t, svc.Addr(), "/notes.server?add=first+note")
	assert.Contains(t, resp, `[{"id":1,"body":"first note"}]`)

	resp = fetch(t, svc.Addr(), "/broken.server")
	assert.Contains(t, resp, "HTTP/1.1 500 ERROR\r\n")
	assert.Contains(t, resp, "broken.js")

	resp = fetch(t, svc.Addr(), "/site.css")
	assert.Contains(t, resp, "Content-type: text/css")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
