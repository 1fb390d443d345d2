package pegtmpl

import (
	"strings"

	starctx "github.com/leapstack-labs/pegtmpl/internal/starlark"
	"github.com/leapstack-labs/pegtmpl/pkg/action"
	"github.com/leapstack-labs/pegtmpl/pkg/peg"
)

// Dialect renders the code block that calls a registered action. args are
// the parameter names forwarded after contextParam; contextParam is empty
// for actions that take no context.
type Dialect interface {
	Invocation(name, contextParam string, args []string) string
}

// Assembly is an assembled grammar and the table its generated code calls.
type Assembly struct {
	Grammar string
	Table   action.Table
	Entries []Entry
}

var defaultThreads = starctx.NewThreadPool(0, nil)

// Assemble registers the action of every slot and renders frags into
// grammar text using dialect, or peg.Dialect when dialect is nil. Every
// action is registered before any text is produced.
func Assemble(dialect Dialect, frags ...Fragment) (*Assembly, error) {
	return assemble(&registrar{pool: defaultThreads}, dialect, frags)
}

func assemble(r *registrar, dialect Dialect, frags []Fragment) (*Assembly, error) {
	if dialect == nil {
		dialect = peg.Dialect{}
	}

	asm := &Assembly{Table: make(action.Table)}
	for _, f := range frags {
		slot, ok := f.(Slot)
		if !ok {
			continue
		}
		e, err := r.register(len(asm.Entries), slot.Action)
		if err != nil {
			return nil, err
		}
		asm.Entries = append(asm.Entries, e)
		asm.Table[e.Name] = e.Binding
	}

	asm.Grammar = Render(dialect, frags, asm.Entries)
	return asm, nil
}

// Render concatenates frags, replacing the i-th slot with the invocation
// of entries[i]. It panics if frags has more slots than entries.
func Render(dialect Dialect, frags []Fragment, entries []Entry) string {
	var sb strings.Builder
	next := 0
	for _, f := range frags {
		switch f := f.(type) {
		case Literal:
			sb.WriteString(string(f))
		case Slot:
			e := entries[next]
			next++
			sb.WriteString(dialect.Invocation(e.Name, e.ContextParam, e.Args()))
		}
	}
	return sb.String()
}
