package peg

import (
	"fmt"

	starctx "github.com/leapstack-labs/pegtmpl/internal/starlark"
	"github.com/leapstack-labs/pegtmpl/pkg/action"
	"go.starlark.net/starlark"
)

// bridge exposes each table binding to code blocks as a builtin of the same
// name. Starlark bindings are called on the block's thread with the block's
// own values. Go bindings receive the struct built by the calling block
// decoded into an *action.Context, and their results travel back through
// starctx.WrapGo.
func bridge(table action.Table) starlark.StringDict {
	out := make(starlark.StringDict, len(table))
	for name, b := range table {
		out[name] = starlark.NewBuiltin(name, bindingFunc(b))
	}
	return out
}

func bindingFunc(b action.Binding) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(kwargs) > 0 {
			return nil, fmt.Errorf("%s: unexpected keyword arguments", fn.Name())
		}
		if b.Starlark == nil && b.Func == nil {
			return nil, fmt.Errorf("%s: action has no implementation", fn.Name())
		}

		want := b.Arity
		if b.Context {
			want++
		}
		if len(args) != want {
			return nil, fmt.Errorf("%s: got %d arguments, want %d", fn.Name(), len(args), want)
		}

		if b.Starlark != nil {
			return starlark.Call(thread, b.Starlark, args, nil)
		}

		var c *action.Context
		rest := args
		if b.Context {
			var err error
			if c, err = starctx.ContextFromStarlark(thread, args[0]); err != nil {
				return nil, fmt.Errorf("%s: %w", fn.Name(), err)
			}
			rest = args[1:]
		}

		goArgs, err := starctx.ToGoSlice(rest)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fn.Name(), err)
		}

		v, err := b.Func(c, goArgs)
		if err != nil {
			return nil, err
		}
		return starctx.WrapGo(v), nil
	}
}
