//go:build !v8 && !goja

package engine

import (
	"github.com/cryguy/jsserve/internal/core"
	"github.com/cryguy/jsserve/internal/quickjs"
)

// Backend names the JavaScript engine compiled into this binary.
const Backend = "quickjs"

func newRuntime(memoryLimitMB int) (core.JSRuntime, error) {
	rt, err := quickjs.New(memoryLimitMB)
	if err != nil {
		return nil, err
	}
	return rt, nil
}
