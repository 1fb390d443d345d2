// Package action defines the contract shared by the template assembler and
// grammar compilers: the context handed to semantic actions, and the
// name-to-action table a compiled parser dispatches into.
package action

import (
	"context"
	"fmt"
	"maps"

	"go.starlark.net/starlark"
)

// Position is a point in parser input. Offset is a byte offset; Line and
// Column are 1-based, Column counting runes.
type Position struct {
	Offset int `json:"offset" yaml:"offset"`
	Line   int `json:"line" yaml:"line"`
	Column int `json:"column" yaml:"column"`
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Location is the source range matched by a rule.
type Location struct {
	Start Position `json:"start" yaml:"start"`
	End   Position `json:"end" yaml:"end"`
}

func (l Location) String() string {
	return fmt.Sprintf("%s-%s", l.Start, l.End)
}

// Context is the value bound to an action's leading context parameter.
type Context struct {
	text     string
	location Location
	options  map[string]any
}

// NewContext creates a context for a single action invocation.
func NewContext(text string, loc Location, options map[string]any) *Context {
	return &Context{text: text, location: loc, options: options}
}

// Text returns the text matched by the enclosing rule.
func (c *Context) Text() string { return c.text }

// Location returns the source range matched by the enclosing rule.
func (c *Context) Location() Location { return c.location }

// Options returns a copy of the options passed to the parser at parse time.
func (c *Context) Options() map[string]any {
	if c.options == nil {
		return map[string]any{}
	}
	return maps.Clone(c.options)
}

// Option returns a single parse option.
func (c *Context) Option(key string) (any, bool) {
	v, ok := c.options[key]
	return v, ok
}

// Func is the Go form of a semantic action. args holds the label values
// forwarded positionally after the context; c is nil for actions that
// declare no context parameter.
type Func func(c *Context, args []any) (any, error)

// Binding is one entry of a Table.
type Binding struct {
	// Context reports whether the generated call passes a context object
	// as its first argument.
	Context bool

	// Arity is the number of label values forwarded after the context.
	Arity int

	Func Func

	// Starlark, when set, is the action as Starlark code. Compilers that
	// run Starlark call it directly with their own argument values, so
	// values pass between Starlark actions unconverted.
	Starlark starlark.Callable
}

// Table maps synthetic action names to bindings. A compiler exposes it to
// generated code for the lifetime of the parser.
type Table map[string]Binding

// Names returns the table's keys in no particular order.
func (t Table) Names() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	return names
}

// Parser is a compiled grammar. options are handed to actions through their
// context; compilers may also read their own keys from it.
type Parser interface {
	Parse(ctx context.Context, input string, options map[string]any) (any, error)
}

// BindingIssue describes a name referenced by generated code that is not
// bound in the scope it executes in.
type BindingIssue struct {
	Rule    string   `json:"rule"`
	Name    string   `json:"name"`
	Pos     Position `json:"pos"`
	Message string   `json:"message"`
}

func (i BindingIssue) String() string {
	if i.Name != "" {
		return fmt.Sprintf("%s: rule %s: %q is not bound: %s", i.Pos, i.Rule, i.Name, i.Message)
	}
	return fmt.Sprintf("%s: rule %s: %s", i.Pos, i.Rule, i.Message)
}
