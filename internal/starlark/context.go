package starlark

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// FileOptions are the dialect options used for action files, initializers
// and code blocks.
var FileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// Env provides the globals visible to code blocks: the predeclared builtins,
// bound actions and whatever a grammar initializer defines.
type Env struct {
	// Actions contains the bound action callables by name.
	Actions starlark.StringDict

	// Initializer contains the globals defined by the grammar initializer.
	Initializer starlark.StringDict

	// globals is the combined set of all globals for execution
	globals starlark.StringDict

	// mu protects globals during initialization
	mu sync.RWMutex
}

// NewEnv creates an empty environment holding only the predeclared builtins.
func NewEnv() *Env {
	env := &Env{
		Actions:     make(starlark.StringDict),
		Initializer: make(starlark.StringDict),
	}
	env.buildGlobals()
	return env
}

// buildGlobals constructs the combined globals dict.
func (env *Env) buildGlobals() {
	env.mu.Lock()
	defer env.mu.Unlock()

	env.globals = Predeclared()
	maps.Copy(env.globals, env.Actions)
	maps.Copy(env.globals, env.Initializer)
}

// Globals returns the combined globals dictionary for Starlark execution.
func (env *Env) Globals() starlark.StringDict {
	env.mu.RLock()
	defer env.mu.RUnlock()
	return env.globals
}

// AddActions adds action callables to the environment.
// Returns error if a name conflicts with a builtin.
func (env *Env) AddActions(actions starlark.StringDict) error {
	for name := range actions {
		if IsReserved(name) {
			return fmt.Errorf("action %q conflicts with builtin", name)
		}
	}

	env.mu.Lock()
	maps.Copy(env.Actions, actions)
	env.mu.Unlock()

	env.buildGlobals()
	return nil
}

// ExecInitializer runs initializer source once and adds the globals it
// defines. Initializer globals may not shadow builtins or actions.
func (env *Env) ExecInitializer(thread *starlark.Thread, filename, src string) error {
	globals, err := starlark.ExecFileOptions(FileOptions, thread, filename, src, env.Globals())
	if err != nil {
		return &ExecError{File: filename, Message: err.Error(), Err: err}
	}

	env.mu.RLock()
	for name := range globals {
		if IsReserved(name) {
			env.mu.RUnlock()
			return &ExecError{File: filename, Message: fmt.Sprintf("initializer redefines builtin %q", name)}
		}
		if _, ok := env.Actions[name]; ok {
			env.mu.RUnlock()
			return &ExecError{File: filename, Message: fmt.Sprintf("initializer redefines action %q", name)}
		}
	}
	env.mu.RUnlock()

	env.mu.Lock()
	maps.Copy(env.Initializer, globals)
	env.mu.Unlock()

	env.buildGlobals()
	return nil
}

// Func compiles body into a function named name taking params. The body is
// dedented first; a body that is a single expression is returned as is.
// Names the body references that are neither params nor globals are
// reported as UndefinedErrors.
func (env *Env) Func(thread *starlark.Thread, filename, name string, params []string, body string) (*starlark.Function, error) {
	src := FuncSource(name, params, body)
	globals, err := starlark.ExecFileOptions(FileOptions, thread, filename, src, env.Globals())
	if err != nil {
		if undef := undefinedNames(err); len(undef) > 0 {
			return nil, undef
		}
		return nil, &ExecError{File: filename, Message: err.Error(), Err: err}
	}
	fn, ok := globals[name].(*starlark.Function)
	if !ok {
		return nil, &ExecError{File: filename, Message: fmt.Sprintf("%s is not a function", name)}
	}
	return fn, nil
}

// FuncSource renders the def statement Func compiles.
func FuncSource(name string, params []string, body string) string {
	lines := Dedent(body)
	if len(lines) == 1 {
		if _, err := syntax.ParseExpr("", lines[0], 0); err == nil {
			lines[0] = "return (" + lines[0] + ")"
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "def %s(%s):\n", name, strings.Join(params, ", "))
	if len(lines) == 0 {
		b.WriteString("    pass\n")
	}
	for _, line := range lines {
		b.WriteString("    ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// Dedent splits a code block body into lines and strips the indentation
// common to all non-blank lines after the first. The first line follows the
// opening brace and is trimmed on its own. Leading and trailing blank lines
// are dropped.
func Dedent(body string) []string {
	raw := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")
	if len(raw) > 0 {
		raw[0] = strings.TrimLeft(raw[0], " \t")
	}

	indent := -1
	for _, line := range raw[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		n := len(line) - len(strings.TrimLeft(line, " \t"))
		if indent < 0 || n < indent {
			indent = n
		}
	}

	lines := make([]string, 0, len(raw))
	for i, line := range raw {
		line = strings.TrimRight(line, " \t")
		if i > 0 && indent > 0 && len(line) >= indent {
			line = line[indent:]
		}
		lines = append(lines, line)
	}

	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// UndefinedError reports a name referenced by compiled code that is bound
// nowhere in scope.
type UndefinedError struct {
	Name string
	Pos  syntax.Position
	Msg  string
}

func (e *UndefinedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
}

// UndefinedErrors lists every unbound name found in one compilation.
type UndefinedErrors []*UndefinedError

func (e UndefinedErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	return fmt.Sprintf("%s (and %d more)", e[0], len(e)-1)
}

func undefinedNames(err error) UndefinedErrors {
	var list resolve.ErrorList
	if !errors.As(err, &list) {
		return nil
	}
	var out UndefinedErrors
	for _, e := range list {
		rest, ok := strings.CutPrefix(e.Msg, "undefined: ")
		if !ok {
			continue
		}
		name, _, _ := strings.Cut(rest, " ")
		out = append(out, &UndefinedError{Name: name, Pos: e.Pos, Msg: e.Msg})
	}
	return out
}

// ExecError represents an error while executing Starlark source.
type ExecError struct {
	File    string
	Line    int
	Message string
	Err     error
}

func (e *ExecError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}

func (e *ExecError) Unwrap() error { return e.Err }
