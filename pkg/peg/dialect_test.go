package peg

import (
	"context"
	"testing"

	"github.com/leapstack-labs/pegtmpl/pkg/action"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialect_Invocation(t *testing.T) {
	tests := []struct {
		name   string
		ctx    string
		args   []string
		expect string
	}{
		{"no context", "", nil, "{ return action0() }"},
		{"context only", "ctx", nil,
			"{ ctx = struct(text = text, location = location, options = options)\nreturn action0(ctx) }"},
		{"context and args", "c", []string{"a", "b"},
			"{ c = struct(text = text, location = location, options = options)\nreturn action0(c, a, b) }"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, Dialect{}.Invocation("action0", tt.ctx, tt.args))
		})
	}
}

func TestDialect_InvocationRuns(t *testing.T) {
	table := action.Table{
		"action0": {Context: true, Arity: 1, Func: func(c *action.Context, args []any) (any, error) {
			return c.Text() + ":" + args[0].(string), nil
		}},
	}
	grammar := `start = v:$[a-z]+ [0-9]* ` + Dialect{}.Invocation("action0", "ctx", []string{"v"})

	p := compile(t, grammar, table)
	got, err := p.Parse(context.Background(), "abc12", nil)
	require.NoError(t, err)
	assert.Equal(t, "abc12:abc", got)
}
