package pegtmpl

import "fmt"

// Fragment is one piece of a grammar template: a Literal or a Slot.
type Fragment interface {
	fragment()
}

// Literal is grammar text copied into the output unchanged.
type Literal string

// Slot is replaced by a generated code block invoking Action. Action is an
// Action, *Action, Starlark, or *starlark.Function.
type Slot struct {
	Action any
}

func (Literal) fragment() {}
func (Slot) fragment()    {}

// Template interleaves segments with actions: segments[0], actions[0],
// segments[1], ..., segments[k]. It fails with ErrArity unless there is
// exactly one more segment than actions.
func Template(segments []string, actions ...any) ([]Fragment, error) {
	if len(segments) != len(actions)+1 {
		return nil, fmt.Errorf("%w: got %d segments and %d actions", ErrArity, len(segments), len(actions))
	}

	frags := make([]Fragment, 0, len(segments)+len(actions))
	frags = append(frags, Literal(segments[0]))
	for i, a := range actions {
		frags = append(frags, Slot{Action: a}, Literal(segments[i+1]))
	}
	return frags, nil
}
