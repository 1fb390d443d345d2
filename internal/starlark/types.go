// Package starlark provides the Starlark runtime pieces shared by grammar
// code blocks and Starlark semantic actions: value conversion, thread
// pooling and the predeclared environment.
package starlark

import (
	"fmt"
	"math/big"
	"sort"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// GoValue carries an arbitrary Go value through Starlark code unchanged.
// Actions written in Go may return values (structs, pointers) that have no
// Starlark equivalent; they travel as opaque GoValues and are unwrapped again
// by ToGo.
type GoValue struct {
	V any
}

var _ starlark.Value = GoValue{}

func (g GoValue) String() string        { return fmt.Sprintf("%v", g.V) }
func (g GoValue) Type() string          { return fmt.Sprintf("go:%T", g.V) }
func (g GoValue) Freeze()               {}
func (g GoValue) Truth() starlark.Bool  { return g.V != nil }
func (g GoValue) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: %s", g.Type()) }

// WrapGo hands a Go action result to Starlark without losing its Go type.
// Starlark values pass through. Strings, bools, int64 and float64 become
// their Starlark equivalents, which ToGo maps back to the same type. Every
// other value travels as a GoValue.
func WrapGo(v any) starlark.Value {
	switch val := v.(type) {
	case nil:
		return starlark.None
	case starlark.Value:
		return val
	case string:
		return starlark.String(val)
	case bool:
		return starlark.Bool(val)
	case int64:
		return starlark.MakeInt64(val)
	case float64:
		return starlark.Float(val)
	default:
		return GoValue{V: v}
	}
}

// GoToStarlark converts a Go value to a Starlark value.
// Values that are already Starlark values pass through; unsupported types
// are wrapped in a GoValue.
func GoToStarlark(v any) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case starlark.Value:
		return val, nil

	case string:
		return starlark.String(val), nil

	case int:
		return starlark.MakeInt(val), nil

	case int32:
		return starlark.MakeInt64(int64(val)), nil

	case int64:
		return starlark.MakeInt64(val), nil

	case uint:
		return starlark.MakeUint(val), nil

	case uint64:
		return starlark.MakeUint64(val), nil

	case *big.Int:
		return starlark.MakeBigInt(val), nil

	case float32:
		return starlark.Float(float64(val)), nil

	case float64:
		return starlark.Float(val), nil

	case bool:
		return starlark.Bool(val), nil

	case []string:
		list := make([]starlark.Value, len(val))
		for i, s := range val {
			list[i] = starlark.String(s)
		}
		return starlark.NewList(list), nil

	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := GoToStarlark(item)
			if err != nil {
				return nil, fmt.Errorf("list index %d: %w", i, err)
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil

	case map[string]any:
		dict := starlark.NewDict(len(val))
		for _, k := range sortedKeys(val) {
			sv, err := GoToStarlark(val[k])
			if err != nil {
				return nil, fmt.Errorf("dict key %q: %w", k, err)
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, fmt.Errorf("dict setkey %q: %w", k, err)
			}
		}
		return dict, nil

	default:
		return GoValue{V: v}, nil
	}
}

// ToGo converts a Starlark value back to a Go value.
// Returns: string, int64 (*big.Int outside its range), float64, bool, []any,
// map[string]any, nil, or the value carried by a GoValue. Other Starlark
// values, such as functions, are returned as they are.
func ToGo(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case nil, starlark.NoneType:
		return nil, nil

	case GoValue:
		return val.V, nil

	case starlark.String:
		return string(val), nil

	case starlark.Int:
		if i64, ok := val.Int64(); ok {
			return i64, nil
		}
		return val.BigInt(), nil

	case starlark.Float:
		return float64(val), nil

	case starlark.Bool:
		return bool(val), nil

	case *starlark.List:
		result := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			gv, err := ToGo(val.Index(i))
			if err != nil {
				return nil, fmt.Errorf("list index %d: %w", i, err)
			}
			result[i] = gv
		}
		return result, nil

	case starlark.Tuple:
		result := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			gv, err := ToGo(val.Index(i))
			if err != nil {
				return nil, fmt.Errorf("tuple index %d: %w", i, err)
			}
			result[i] = gv
		}
		return result, nil

	case *starlark.Dict:
		result := make(map[string]any)
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string, got %s", item[0].Type())
			}
			gv, err := ToGo(item[1])
			if err != nil {
				return nil, fmt.Errorf("dict key %q: %w", key, err)
			}
			result[string(key)] = gv
		}
		return result, nil

	case *starlarkstruct.Struct:
		result := make(map[string]any)
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				return nil, fmt.Errorf("struct field %q: %w", name, err)
			}
			gv, err := ToGo(attr)
			if err != nil {
				return nil, fmt.Errorf("struct field %q: %w", name, err)
			}
			result[name] = gv
		}
		return result, nil

	default:
		return val, nil
	}
}

// ToGoSlice converts each element of vs with ToGo.
func ToGoSlice(vs []starlark.Value) ([]any, error) {
	out := make([]any, len(vs))
	for i, v := range vs {
		gv, err := ToGo(v)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out[i] = gv
	}
	return out, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
