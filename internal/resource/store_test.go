package resource

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore() *Store {
	return NewFS(fstest.MapFS{
		"index.html":     {Data: []byte("<h1>hi</h1>")},
		"empty.txt":      {Data: nil},
		"big.bin":        {Data: bytes.Repeat([]byte{0xAB, 0x00, 0x7F}, 5000)},
		"dir/nested.css": {Data: []byte("body{}")},
	}, zerolog.Nop())
}

func TestStore_Size(t *testing.T) {
	s := testStore()
	assert.EqualValues(t, 11, s.Size("index.html"))
	assert.EqualValues(t, 0, s.Size("empty.txt"))
	assert.EqualValues(t, 15000, s.Size("big.bin"))
	assert.EqualValues(t, 6, s.Size("dir/nested.css"))

	assert.EqualValues(t, -1, s.Size("missing.html"))
	assert.EqualValues(t, -1, s.Size("dir"), "directories are not resources")
	assert.EqualValues(t, -1, s.Size("../index.html"))
	assert.EqualValues(t, -1, s.Size("/index.html"))
	assert.EqualValues(t, -1, s.Size(""))
}

func TestContentType(t *testing.T) {
	cases := map[string]string{
		"index.html":       "text/html",
		"a/b/page.htm":     "text/html",
		"style.css":        "text/css",
		"app.js":           "application/javascript",
		"data.json":        "application/json",
		"logo.svg":         "image/svg+xml",
		"favicon.ico":      "image/x-icon",
		"pic.png":          "image/png",
		"pic.jpg":          "image/jpeg",
		"pic.JPEG":         DefaultContentType,
		"FOO.HTML":         DefaultContentType,
		"foo.SERVER":       DefaultContentType,
		"anim.gif":         "image/gif",
		"notes.txt":        "text/plain",
		"foo.server":       Executable,
		"foo.server?x=1":   Executable,
		"foo.html?a.b=c":   "text/html",
		"archive.tar.gz":   DefaultContentType,
		"noextension":      DefaultContentType,
		"weird.?query.css": DefaultContentType,
	}
	s := testStore()
	for name, want := range cases {
		assert.Equal(t, want, s.ContentType(name), name)
	}
}

func TestStore_WriteToRoundTrip(t *testing.T) {
	s := testStore()
	for _, name := range []string{"index.html", "empty.txt", "big.bin", "dir/nested.css"} {
		var buf bytes.Buffer
		require.NoError(t, s.WriteTo(name, &buf), name)
		assert.EqualValues(t, s.Size(name), buf.Len(), name)
	}

	var buf bytes.Buffer
	require.NoError(t, s.WriteTo("big.bin", &buf))
	assert.Equal(t, bytes.Repeat([]byte{0xAB, 0x00, 0x7F}, 5000), buf.Bytes())
}

func TestStore_WriteToMissing(t *testing.T) {
	s := testStore()
	var buf bytes.Buffer
	assert.Error(t, s.WriteTo("missing.html", &buf))
	assert.Error(t, s.WriteTo("../etc/passwd", &buf))
	assert.Zero(t, buf.Len())
}

type failingWriter struct{ after int }

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.after <= 0 {
		return 0, errors.New("peer gone")
	}
	w.after--
	return len(p), nil
}

func TestStore_WriteToWriterFailure(t *testing.T) {
	s := testStore()
	err := s.WriteTo("big.bin", &failingWriter{after: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "peer gone")
}

func TestStore_ReadAll(t *testing.T) {
	var logs bytes.Buffer
	s := NewFS(fstest.MapFS{
		"lib.js": {Data: []byte("module.exports = 1;")},
	}, zerolog.New(&logs))

	assert.Equal(t, "module.exports = 1;", s.ReadAll("lib.js"))
	assert.Equal(t, "", s.ReadAll("nope.js"))
	assert.Contains(t, logs.String(), "nope.js")
}

func TestNew_DirectoryRoot(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("abc"), 0o644))

	s, err := New(dir, zerolog.Nop())
	require.NoError(t, err)
	assert.EqualValues(t, 3, s.Size("a.txt"))

	var buf strings.Builder
	require.NoError(t, s.WriteTo("a.txt", &buf))
	assert.Equal(t, "abc", buf.String())

	_, err = New(filepath.Join(dir, "a.txt"), zerolog.Nop())
	assert.Error(t, err)
	_, err = New(filepath.Join(dir, "missing"), zerolog.Nop())
	assert.Error(t, err)
}
