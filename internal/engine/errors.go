package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrShutdown is returned by EnqueueTask once Shutdown has begun.
var ErrShutdown = errors.New("engine is shutting down")

// ScriptError describes an exception that escaped a script.
type ScriptError struct {
	Resource   string
	Line       int // 1-based, 0 if unknown
	Column     int // 1-based, 0 if unknown
	SourceLine string
	Message    string
	Stack      string
}

// Error renders "resource:line: message", then the offending source line
// with a caret under the column.
func (e *ScriptError) Error() string {
	var b strings.Builder
	if e.Resource != "" {
		b.WriteString(e.Resource)
		if e.Line > 0 {
			b.WriteString(":")
			b.WriteString(strconv.Itoa(e.Line))
		}
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.SourceLine != "" {
		b.WriteString("\n")
		b.WriteString(e.SourceLine)
		b.WriteString("\n")
		b.WriteString(underline(e.SourceLine, e.Column))
	}
	return b.String()
}

// underline marks column (or the whole trimmed line when column is unknown).
func underline(line string, column int) string {
	if column > 0 && column <= len(line)+1 {
		return strings.Repeat(" ", column-1) + "^"
	}
	start := len(line) - len(strings.TrimLeft(line, " \t"))
	end := len(strings.TrimRight(line, " \t"))
	if end <= start {
		return "^"
	}
	return strings.Repeat(" ", start) + strings.Repeat("^", end-start)
}

// jsError is what the prelude's __formatError produces.
type jsError struct {
	Message string `json:"message"`
	Stack   string `json:"stack"`
	Module  string `json:"module"`
}

var (
	// "file:line" or "file:line:col", optionally followed by goja's "(pc)"
	// and a closing paren, at the end of a stack frame.
	frameLoc = regexp.MustCompile(`([^\s():]+):(\d+)(?::(\d+))?(?:\(\d+\))?\)?\s*$`)
	// "name:line:col: text" as produced for module transform errors.
	messageLoc = regexp.MustCompile(`^(?:[A-Za-z]*Error: )?([\w./-]+):(\d+):(\d+): `)
)

// newScriptError decodes a formatted JS error and places it in the best
// known resource. fallback is used when nothing in the error names a loaded
// resource.
func (e *Engine) newScriptError(raw, fallback string) *ScriptError {
	var je jsError
	if err := json.Unmarshal([]byte(raw), &je); err != nil {
		je.Message = raw
	}
	se := &ScriptError{Message: je.Message, Stack: je.Stack}
	if je.Module != "" {
		fallback = je.Module
	}

	if m := messageLoc.FindStringSubmatch(je.Message); m != nil && e.sources.has(m[1]) {
		se.Resource = m[1]
		se.Line, _ = strconv.Atoi(m[2])
		se.Column, _ = strconv.Atoi(m[3])
	} else {
		se.Resource, se.Line, se.Column = e.locate(je.Stack, fallback)
	}
	se.SourceLine = e.sources.line(se.Resource, se.Line)
	return se
}

// locate picks the first stack frame that names a loaded resource. When no
// frame does (engines that cannot name eval'd code), the first frame with a
// line number is attributed to fallback.
func (e *Engine) locate(stack, fallback string) (string, int, int) {
	var firstLine, firstCol int
	for _, frame := range strings.Split(stack, "\n") {
		m := frameLoc.FindStringSubmatch(strings.TrimSpace(frame))
		if m == nil {
			continue
		}
		line, _ := strconv.Atoi(m[2])
		col, _ := strconv.Atoi(m[3])
		if e.sources.has(m[1]) {
			return m[1], line, col
		}
		if firstLine == 0 {
			firstLine, firstCol = line, col
		}
	}
	return fallback, firstLine, firstCol
}

func plainError(resource string, err error) *ScriptError {
	return &ScriptError{Resource: resource, Message: fmt.Sprint(err)}
}
