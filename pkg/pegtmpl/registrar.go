package pegtmpl

import (
	"errors"
	"fmt"
	"strconv"

	starctx "github.com/leapstack-labs/pegtmpl/internal/starlark"
	"github.com/leapstack-labs/pegtmpl/pkg/action"
	"go.starlark.net/starlark"
)

// Action describes a Go semantic action.
//
// Params is the formal parameter list as the action would declare it: a
// non-empty first entry names the context parameter, and the entries after
// it must match labels of the rule the action is spliced into. A nil or
// empty list, or an empty first entry, means the action takes nothing.
// When Params is nil, Signature is read instead, taking the first
// parenthesized list it contains:
//
//	pegtmpl.Action{Signature: "func(ctx, left, right)", Invoke: add}
type Action struct {
	Params    []string
	Signature string
	Invoke    action.Func
}

// Starlark is the source of a Starlark action: a lambda expression, or a
// file whose first def statement is the action.
//
//	pegtmpl.Starlark("lambda ctx, value: int(value)")
type Starlark string

// Entry is an action registered for one template slot.
type Entry struct {
	// Name is the synthetic name, action<index>, that generated code calls.
	Name string

	Params       []string
	ContextParam string
	Binding      action.Binding
}

// Args returns the parameters forwarded after the context, by name.
func (e Entry) Args() []string {
	if e.ContextParam == "" {
		return nil
	}
	return e.Params[1:]
}

// ActionName returns the synthetic name of the action in slot index.
func ActionName(index int) string {
	return "action" + strconv.Itoa(index)
}

// registrar turns slot values into entries. Starlark actions run on
// threads from pool.
type registrar struct {
	pool *starctx.ThreadPool
}

func (r *registrar) register(index int, v any) (Entry, error) {
	params, invoke, fn, err := r.resolve(index, v)
	if err != nil {
		return Entry{}, err
	}

	e := Entry{Name: ActionName(index), Params: params}
	if hasContext(params) {
		e.ContextParam = params[0]
	}
	e.Binding = action.Binding{
		Context: e.ContextParam != "",
		Arity:   len(e.Args()),
		Func:    invoke,
	}
	if fn != nil {
		e.Binding.Starlark = fn
	}
	return e, nil
}

// resolve returns the parameters and Go entry point of v, and for Starlark
// actions the function itself.
func (r *registrar) resolve(index int, v any) ([]string, action.Func, *starlark.Function, error) {
	switch a := v.(type) {
	case nil:
		return nil, nil, nil, &InvalidActionError{Index: index, Value: v, Reason: "action is nil"}

	case *Action:
		if a == nil {
			return nil, nil, nil, &InvalidActionError{Index: index, Value: v, Reason: "action is nil"}
		}
		return r.resolve(index, *a)

	case Action:
		if a.Invoke == nil {
			return nil, nil, nil, &InvalidActionError{Index: index, Value: v, Reason: "action has no Invoke function"}
		}
		params := a.Params
		if params == nil && a.Signature != "" {
			var err error
			if params, err = ParamsFromText(a.Signature); err != nil {
				return nil, nil, nil, &SignatureParseError{Index: index, Source: a.Signature, Message: err.Error(), Err: err}
			}
		}
		if err := validParams(params); err != nil {
			return nil, nil, nil, &SignatureParseError{Index: index, Source: a.Signature, Message: err.Error(), Err: err}
		}
		return params, a.Invoke, nil, nil

	case Starlark:
		fn, params, err := r.load(index, string(a))
		if err != nil {
			return nil, nil, nil, err
		}
		if err := validParams(params); err != nil {
			return nil, nil, nil, &SignatureParseError{Index: index, Source: string(a), Message: err.Error(), Err: err}
		}
		return params, r.starlarkFunc(fn, hasContext(params)), fn, nil

	case *starlark.Function:
		params, err := FunctionParams(a)
		if err != nil {
			return nil, nil, nil, &SignatureParseError{Index: index, Source: a.Name(), Message: err.Error(), Err: err}
		}
		if err := validParams(params); err != nil {
			return nil, nil, nil, &SignatureParseError{Index: index, Source: a.Name(), Message: err.Error(), Err: err}
		}
		return params, r.starlarkFunc(a, hasContext(params)), a, nil

	case starlark.Callable:
		return nil, nil, nil, &SignatureParseError{
			Index:   index,
			Source:  a.Name(),
			Message: fmt.Sprintf("%s %s has no visible parameter list", a.Type(), a.Name()),
		}
	}
	return nil, nil, nil, &InvalidActionError{Index: index, Value: v}
}

// load evaluates Starlark action source and returns its function.
func (r *registrar) load(index int, src string) (*starlark.Function, []string, error) {
	filename := ActionName(index)
	s, err := parseSource(filename, src)
	if err != nil {
		return nil, nil, &SignatureParseError{Index: index, Source: src, Message: err.Error(), Err: err}
	}

	thread := r.pool.Get(filename)
	defer r.pool.Put(thread)

	var v starlark.Value
	if s.def == "" {
		v, err = starlark.EvalOptions(starctx.FileOptions, thread, filename, src, starctx.Predeclared())
	} else {
		var globals starlark.StringDict
		globals, err = starlark.ExecFileOptions(starctx.FileOptions, thread, filename, src, starctx.Predeclared())
		v = globals[s.def]
	}
	if err != nil {
		return nil, nil, &InvalidActionError{Index: index, Value: src, Reason: fmt.Sprintf("loading starlark: %v", err)}
	}

	fn, ok := v.(*starlark.Function)
	if !ok {
		return nil, nil, &InvalidActionError{Index: index, Value: src, Reason: "starlark source is not a function"}
	}
	return fn, s.params, nil
}

// starlarkFunc adapts fn to action.Func for compilers that call actions
// from Go. The context, when present, is rebuilt as the struct generated
// code would pass.
func (r *registrar) starlarkFunc(fn *starlark.Function, withContext bool) action.Func {
	return func(c *action.Context, args []any) (any, error) {
		sargs := make(starlark.Tuple, 0, len(args)+1)
		if withContext {
			if c == nil {
				return nil, errors.New(fn.Name() + ": missing context")
			}
			cv, err := starctx.ContextToStarlark(c)
			if err != nil {
				return nil, err
			}
			sargs = append(sargs, cv)
		}
		for i, arg := range args {
			sv, err := starctx.GoToStarlark(arg)
			if err != nil {
				return nil, fmt.Errorf("%s: argument %d: %w", fn.Name(), i, err)
			}
			sargs = append(sargs, sv)
		}

		thread := r.pool.Get(fn.Name())
		defer r.pool.Put(thread)
		v, err := starlark.Call(thread, fn, sargs, nil)
		if err != nil {
			return nil, err
		}
		return starctx.ToGo(v)
	}
}

func hasContext(params []string) bool {
	return len(params) > 0 && params[0] != ""
}
