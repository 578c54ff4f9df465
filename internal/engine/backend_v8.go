//go:build v8

package engine

import (
	"github.com/cryguy/jsserve/internal/core"
	"github.com/cryguy/jsserve/internal/v8engine"
)

// Backend names the JavaScript engine compiled into this binary.
const Backend = "v8"

func newRuntime(memoryLimitMB int) (core.JSRuntime, error) {
	rt, err := v8engine.New(memoryLimitMB)
	if err != nil {
		return nil, err
	}
	return rt, nil
}
