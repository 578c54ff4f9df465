//go:build goja && !v8

package engine

import (
	"github.com/cryguy/jsserve/internal/core"
	"github.com/cryguy/jsserve/internal/gojaengine"
)

// Backend names the JavaScript engine compiled into this binary.
const Backend = "goja"

func newRuntime(memoryLimitMB int) (core.JSRuntime, error) {
	rt, err := gojaengine.New(memoryLimitMB)
	if err != nil {
		return nil, err
	}
	return rt, nil
}
