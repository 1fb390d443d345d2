package starlark

import (
	"fmt"

	"github.com/leapstack-labs/pegtmpl/pkg/action"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// Names bound in every code block. Action libraries and initializers may not
// redefine them.
const (
	TextName     = "text"
	LocationName = "location"
	OptionsName  = "options"
	StructName   = "struct"
)

// IsReserved reports whether name is bound by the runtime itself.
func IsReserved(name string) bool {
	switch name {
	case TextName, LocationName, OptionsName, StructName:
		return true
	}
	return false
}

// Predeclared returns the builtins available to every code block and action
// file. Actions and block-local values are added separately via Env.
func Predeclared() starlark.StringDict {
	return starlark.StringDict{
		StructName: starlark.NewBuiltin(StructName, starlarkstruct.Make),
	}
}

// TextFunc returns the zero-argument text() function of a code block.
func TextFunc(text string) *starlark.Builtin {
	return starlark.NewBuiltin(TextName, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
			return nil, err
		}
		return starlark.String(text), nil
	})
}

// LocationFunc returns the zero-argument location() function of a code block.
func LocationFunc(loc action.Location) *starlark.Builtin {
	v := LocationToStarlark(loc)
	return starlark.NewBuiltin(LocationName, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
			return nil, err
		}
		return v, nil
	})
}

// LocationToStarlark renders loc as struct(start=..., end=...), each end a
// struct(offset=..., line=..., column=...).
func LocationToStarlark(loc action.Location) *starlarkstruct.Struct {
	return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"start": positionToStarlark(loc.Start),
		"end":   positionToStarlark(loc.End),
	})
}

func positionToStarlark(p action.Position) *starlarkstruct.Struct {
	return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"offset": starlark.MakeInt(p.Offset),
		"line":   starlark.MakeInt(p.Line),
		"column": starlark.MakeInt(p.Column),
	})
}

// LocationFromStarlark decodes a value produced by LocationToStarlark.
func LocationFromStarlark(v starlark.Value) (action.Location, error) {
	var loc action.Location
	s, ok := v.(starlark.HasAttrs)
	if !ok {
		return loc, fmt.Errorf("location: want struct, got %s", v.Type())
	}
	for _, end := range []struct {
		name string
		dst  *action.Position
	}{{"start", &loc.Start}, {"end", &loc.End}} {
		pv, err := s.Attr(end.name)
		if err != nil || pv == nil {
			return loc, fmt.Errorf("location: missing %s", end.name)
		}
		p, err := positionFromStarlark(pv)
		if err != nil {
			return loc, fmt.Errorf("location.%s: %w", end.name, err)
		}
		*end.dst = p
	}
	return loc, nil
}

func positionFromStarlark(v starlark.Value) (action.Position, error) {
	var p action.Position
	s, ok := v.(starlark.HasAttrs)
	if !ok {
		return p, fmt.Errorf("want struct, got %s", v.Type())
	}
	for _, f := range []struct {
		name string
		dst  *int
	}{{"offset", &p.Offset}, {"line", &p.Line}, {"column", &p.Column}} {
		fv, err := s.Attr(f.name)
		if err != nil || fv == nil {
			return p, fmt.Errorf("missing %s", f.name)
		}
		if err := starlark.AsInt(fv, f.dst); err != nil {
			return p, fmt.Errorf("%s: %w", f.name, err)
		}
	}
	return p, nil
}

// OptionsToStarlark converts parse options to a frozen dict, so actions see
// them read-only.
func OptionsToStarlark(options map[string]any) (*starlark.Dict, error) {
	if options == nil {
		options = map[string]any{}
	}
	v, err := GoToStarlark(options)
	if err != nil {
		return nil, fmt.Errorf("options: %w", err)
	}
	dict := v.(*starlark.Dict)
	dict.Freeze()
	return dict, nil
}

// ContextToStarlark renders an action context the way generated code builds
// it: struct(text = text, location = location, options = options).
func ContextToStarlark(c *action.Context) (*starlarkstruct.Struct, error) {
	opts, err := OptionsToStarlark(c.Options())
	if err != nil {
		return nil, err
	}
	return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		TextName:     TextFunc(c.Text()),
		LocationName: LocationFunc(c.Location()),
		OptionsName:  opts,
	}), nil
}

// ContextFromStarlark decodes a context value built by a code block.
// text and location are called on thread; options must be a dict.
func ContextFromStarlark(thread *starlark.Thread, v starlark.Value) (*action.Context, error) {
	s, ok := v.(starlark.HasAttrs)
	if !ok {
		return nil, fmt.Errorf("context: want struct, got %s", v.Type())
	}

	textFn, err := s.Attr(TextName)
	if err != nil || textFn == nil {
		return nil, fmt.Errorf("context: missing %s", TextName)
	}
	tv, err := starlark.Call(thread, textFn, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("context.%s(): %w", TextName, err)
	}
	text, ok := starlark.AsString(tv)
	if !ok {
		return nil, fmt.Errorf("context.%s(): want string, got %s", TextName, tv.Type())
	}

	locFn, err := s.Attr(LocationName)
	if err != nil || locFn == nil {
		return nil, fmt.Errorf("context: missing %s", LocationName)
	}
	lv, err := starlark.Call(thread, locFn, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("context.%s(): %w", LocationName, err)
	}
	loc, err := LocationFromStarlark(lv)
	if err != nil {
		return nil, fmt.Errorf("context.%s(): %w", LocationName, err)
	}

	var options map[string]any
	ov, err := s.Attr(OptionsName)
	if err == nil && ov != nil && ov != starlark.None {
		gv, err := ToGo(ov)
		if err != nil {
			return nil, fmt.Errorf("context.%s: %w", OptionsName, err)
		}
		m, ok := gv.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("context.%s: want dict, got %s", OptionsName, ov.Type())
		}
		options = m
	}

	return action.NewContext(text, loc, options), nil
}
