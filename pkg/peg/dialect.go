package peg

import (
	"strings"

	starctx "github.com/leapstack-labs/pegtmpl/internal/starlark"
)

// Dialect renders the code blocks that invoke bound actions.
//
// Without a context parameter the block calls the action with no
// arguments:
//
//	{ return action0() }
//
// With one, it first binds the context to a struct exposing text(),
// location() and options, then forwards the remaining parameters by name:
//
//	{ ctx = struct(text = text, location = location, options = options)
//	return action0(ctx, a, b) }
type Dialect struct{}

// Invocation renders the block for action name.
func (Dialect) Invocation(name, contextParam string, args []string) string {
	if contextParam == "" {
		return "{ return " + name + "() }"
	}

	var b strings.Builder
	b.WriteString("{ ")
	b.WriteString(contextParam)
	b.WriteString(" = " + starctx.StructName + "(")
	b.WriteString(starctx.TextName + " = " + starctx.TextName + ", ")
	b.WriteString(starctx.LocationName + " = " + starctx.LocationName + ", ")
	b.WriteString(starctx.OptionsName + " = " + starctx.OptionsName + ")\n")
	b.WriteString("return " + name + "(")
	b.WriteString(strings.Join(append([]string{contextParam}, args...), ", "))
	b.WriteString(") }")
	return b.String()
}
