package engine

import (
	"fmt"
	"io/fs"
	"path"
	"strings"

	esbuild "github.com/evanw/esbuild/pkg/api"
)

// moduleHeader opens the function every module body is evaluated in. It
// stays on the body's first line so line numbers are unchanged.
const moduleHeader = "(function(exports, module, require, include) {"

// resolveModule turns a specifier into a resource name. "./" and "../"
// specifiers are relative to the importing resource; anything else is
// relative to the store root.
func resolveModule(spec, from string) (string, error) {
	if spec == "" {
		return "", fmt.Errorf("empty module name")
	}
	var name string
	if strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../") {
		name = path.Join(path.Dir(from), spec)
	} else {
		name = path.Clean(strings.TrimLeft(spec, "/"))
	}
	if name == "." || !fs.ValidPath(name) {
		return "", fmt.Errorf("invalid module name %q", spec)
	}
	return name, nil
}

// isESModule reports whether src uses import/export syntax that has to be
// lowered before it can run as a function body.
func isESModule(src string) bool {
	return strings.Contains(src, "import ") ||
		strings.Contains(src, "import{") ||
		strings.Contains(src, "import(") ||
		strings.Contains(src, "export ") ||
		strings.Contains(src, "export{")
}

// transformModule lowers ES module syntax to CommonJS. import() becomes a
// promise around require, so dynamic imports go through the same loader.
func transformModule(name, src string) (string, error) {
	if !isESModule(src) {
		return src, nil
	}
	res := esbuild.Transform(src, esbuild.TransformOptions{
		Loader:     esbuild.LoaderJS,
		Format:     esbuild.FormatCommonJS,
		Sourcefile: name,
		Target:     esbuild.ES2017,
		Supported:  map[string]bool{"dynamic-import": false},
	})
	if len(res.Errors) > 0 {
		msg := res.Errors[0]
		if loc := msg.Location; loc != nil {
			return "", fmt.Errorf("%s:%d:%d: SyntaxError: %s", name, loc.Line, loc.Column+1, msg.Text)
		}
		return "", fmt.Errorf("%s: SyntaxError: %s", name, msg.Text)
	}
	return string(res.Code), nil
}

// loadModule reads a resource and returns the source of a function
// expression wrapping its body, ready for the prelude to evaluate.
func (e *Engine) loadModule(name string) (string, error) {
	if e.store.Size(name) < 0 {
		return "", fmt.Errorf("cannot find module %q", name)
	}
	src := e.store.ReadAll(name)
	code, err := transformModule(name, src)
	if err != nil {
		e.sources.put(name, src)
		return "", err
	}
	e.sources.put(name, code)
	e.logger.Debug().Str("resource", name).Bool("transformed", code != src).Msg("loading module")
	return moduleHeader + code + "\n})\n//# sourceURL=" + name, nil
}

// sourceCache remembers the text each resource was last evaluated as, for
// error context. It is only touched on the engine goroutine.
type sourceCache struct {
	m map[string][]string
}

func newSourceCache() *sourceCache {
	return &sourceCache{m: make(map[string][]string)}
}

func (c *sourceCache) put(name, src string) {
	c.m[name] = strings.Split(src, "\n")
}

func (c *sourceCache) has(name string) bool {
	_, ok := c.m[name]
	return ok
}

func (c *sourceCache) line(name string, n int) string {
	lines := c.m[name]
	if n < 1 || n > len(lines) {
		return ""
	}
	return strings.TrimRight(lines[n-1], "\r")
}
