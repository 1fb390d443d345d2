package peg

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/leapstack-labs/pegtmpl/internal/testutil"
	"github.com/leapstack-labs/pegtmpl/pkg/action"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const arithmetic = `
// Simple arithmetic with integer division.
Expression = head:Term tail:(_ ("+" / "-") _ Term)* {
  result = head
  for element in tail:
      if element[1] == "+":
          result += element[3]
      else:
          result -= element[3]
  return result
}

Term = head:Factor tail:(_ ("*" / "/") _ Factor)* {
  result = head
  for element in tail:
      if element[1] == "*":
          result *= element[3]
      else:
          result //= element[3]
  return result
}

Factor
  = "(" _ expr:Expression _ ")" { return expr }
  / Integer

Integer "integer" = _ [0-9]+ { return int(text().strip()) }

_ "whitespace" = [ \t\n\r]*
`

func compile(t *testing.T, grammar string, table action.Table, opts ...Option) *Parser {
	t.Helper()
	opts = append([]Option{WithLogger(testutil.NewTestLogger(t))}, opts...)
	p, err := Compile(context.Background(), grammar, table, opts...)
	require.NoError(t, err)
	return p
}

func TestParse_Arithmetic(t *testing.T) {
	p := compile(t, arithmetic, nil)

	tests := []struct {
		input string
		want  int64
	}{
		{"2", 2},
		{"2 * (3 + 4)", 14},
		{"10 - 4 - 3", 3},
		{" 7 / 2 ", 3},
		{"(1+2)*(3+4)", 21},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := p.Parse(context.Background(), tt.input, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Values(t *testing.T) {
	tests := []struct {
		name    string
		grammar string
		input   string
		want    any
	}{
		{"sequence", `start = "a" "b"`, "ab", []any{"a", "b"}},
		{"ignore case", `start = "select"i`, "SeLeCt", "SeLeCt"},
		{"class repeat", `start = [a-z]+`, "abc", []any{"a", "b", "c"}},
		{"text", `start = $[a-z]+`, "abc", "abc"},
		{"inverted class", `start = [^0-9]`, "x", "x"},
		{"class ignore case", `start = [a-c]i`, "B", "B"},
		{"any", `start = . .`, "é!", []any{"é", "!"}},
		{"optional missing", `start = "a"? "b"`, "b", []any{nil, "b"}},
		{"zero matches", `start = "a"* "b"`, "b", []any{[]any{}, "b"}},
		{"and predicate", `start = &"a" .`, "a", []any{nil, "a"}},
		{"not predicate", `start = !"a" .`, "b", []any{nil, "b"}},
		{"choice", `start = "a" / "b"`, "b", "b"},
		{"rule ref", "start = x x\nx = \"q\"", "qq", []any{"q", "q"}},
		{"expression block", `start = a:"x" b:"y" { a + b }`, "xy", "xy"},
		{"escapes", `start = "\t\x41é"`, "\tAé", "\tAé"},
		{"semicolons", "start = a;\na = \"a\";", "a", "a"},
		{"comments", "/* lead */ start = \"a\" // trailing\n", "a", "a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := compile(t, tt.grammar, nil)
			got, err := p.Parse(context.Background(), tt.input, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_LabelScopes(t *testing.T) {
	tests := []struct {
		name    string
		grammar string
		input   string
		want    any
	}{
		{"outer label in nested action", `start = a:"x" b:("y" { return a + "!" }) { return b }`, "xy", "x!"},
		{"semantic predicate sees label", `start = n:$[0-9]+ &{ return int(n) > 10 } { return int(n) }`, "42", int64(42)},
		{"single labeled action", `start = v:"z" { return v * 2 }`, "z", "zz"},
		{"label in choice alternative", `start = a:"a" { return "A" } / b:"b" { return "B" }`, "b", "B"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := compile(t, tt.grammar, nil)
			got, err := p.Parse(context.Background(), tt.input, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_SemanticPredicateFails(t *testing.T) {
	p := compile(t, `start = n:$[0-9]+ &{ return int(n) > 10 } { return int(n) }`, nil)
	_, err := p.Parse(context.Background(), "7", nil)
	var perr *ParseError
	assert.True(t, errors.As(err, &perr), "got %v", err)
}

func TestParse_Error(t *testing.T) {
	p := compile(t, arithmetic, nil)

	_, err := p.Parse(context.Background(), "2 +", nil)
	var perr *ParseError
	require.True(t, errors.As(err, &perr), "got %v", err)
	assert.Equal(t, action.Position{Offset: 3, Line: 1, Column: 4}, perr.Pos)
	assert.Equal(t, []string{`"("`, "integer"}, perr.Expected)
	assert.Empty(t, perr.Found)
	assert.Equal(t, `1:4: Expected "(" or integer but end of input found.`, err.Error())
}

func TestParse_ErrorTrailingInput(t *testing.T) {
	p := compile(t, "start = \"a\"\n", nil)

	_, err := p.Parse(context.Background(), "ab", nil)
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, []string{"end of input"}, perr.Expected)
	assert.Equal(t, "b", perr.Found)
	assert.Equal(t, 2, perr.Pos.Column)
}

func TestParse_ErrorPositionMultiline(t *testing.T) {
	p := compile(t, `start = "a\n" "b"`, nil)

	_, err := p.Parse(context.Background(), "a\nc", nil)
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, action.Position{Offset: 2, Line: 2, Column: 1}, perr.Pos)
	assert.Equal(t, `Expected "b" but "c" found.`, perr.Message())
}

func TestParse_Location(t *testing.T) {
	grammar := "start = \"a\\n\" b:B { return b }\nB = \"bc\" { return location().start.line * 100 + location().start.column }"
	p := compile(t, grammar, nil)

	got, err := p.Parse(context.Background(), "a\nbc", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(201), got)
}

func TestParse_Options(t *testing.T) {
	p := compile(t, `start = "x" { return options["mode"] }`, nil)

	got, err := p.Parse(context.Background(), "x", map[string]any{"mode": "m"})
	require.NoError(t, err)
	assert.Equal(t, "m", got)

	p = compile(t, `start = "x" { options["mode"] = 1 }`, nil)
	_, err = p.Parse(context.Background(), "x", map[string]any{"mode": "m"})
	var aerr *ActionError
	assert.True(t, errors.As(err, &aerr), "options must be read-only, got %v", err)
}

func TestParse_StartRule(t *testing.T) {
	grammar := "a = \"a\"\nb = \"b\"\n"

	p := compile(t, grammar, nil, WithAllowedStartRules("a", "b"))
	assert.Equal(t, []string{"a", "b"}, p.StartRules())

	got, err := p.Parse(context.Background(), "b", map[string]any{StartRuleOption: "b"})
	require.NoError(t, err)
	assert.Equal(t, "b", got)

	_, err = p.Parse(context.Background(), "c", map[string]any{StartRuleOption: "c"})
	assert.ErrorIs(t, err, ErrStartRule)

	p = compile(t, grammar, nil)
	_, err = p.Parse(context.Background(), "b", map[string]any{StartRuleOption: "b"})
	assert.ErrorIs(t, err, ErrStartRule)

	_, err = Compile(context.Background(), grammar, nil, WithAllowedStartRules("zzz"))
	assert.ErrorContains(t, err, `"zzz" is not defined`)
}

func TestParse_TableActions(t *testing.T) {
	table := action.Table{
		"action0": {
			Context: true,
			Arity:   1,
			Func: func(c *action.Context, args []any) (any, error) {
				mode, _ := c.Option("mode")
				return fmt.Sprintf("%s@%s:%v:%v", c.Text(), c.Location().Start, args[0], mode), nil
			},
		},
		"action1": {
			Func: func(c *action.Context, args []any) (any, error) {
				assert.Nil(t, c)
				return 7, nil
			},
		},
	}
	grammar := "start = value:[0-9]+ " + Dialect{}.Invocation("action0", "ctx", []string{"value"}) +
		"\n/ \"x\" " + Dialect{}.Invocation("action1", "", nil)
	p := compile(t, grammar, table)

	got, err := p.Parse(context.Background(), "12", map[string]any{"mode": "dev"})
	require.NoError(t, err)
	assert.Equal(t, "12@1:1:[1 2]:dev", got)

	got, err = p.Parse(context.Background(), "x", nil)
	require.NoError(t, err)
	assert.Equal(t, 7, got)
}

type treeNode struct {
	Kind  string
	Value string
}

func TestParse_GoValuesPassThrough(t *testing.T) {
	table := action.Table{
		"leaf": {Arity: 1, Func: func(_ *action.Context, args []any) (any, error) {
			return treeNode{Kind: "leaf", Value: args[0].(string)}, nil
		}},
		"wrap": {Arity: 1, Func: func(_ *action.Context, args []any) (any, error) {
			n := args[0].(treeNode)
			return treeNode{Kind: "wrap", Value: n.Value}, nil
		}},
	}
	p := compile(t, "start = v:leaf { return wrap(v) }\nleaf = s:$[a-z]+ { return leaf(s) }", table)

	got, err := p.Parse(context.Background(), "abc", nil)
	require.NoError(t, err)
	assert.Equal(t, treeNode{Kind: "wrap", Value: "abc"}, got)
}

func TestParse_ActionError(t *testing.T) {
	boom := errors.New("boom")
	table := action.Table{
		"action0": {Func: func(*action.Context, []any) (any, error) { return nil, boom }},
	}
	p := compile(t, `start = "a" `+Dialect{}.Invocation("action0", "", nil), table)

	_, err := p.Parse(context.Background(), "a", nil)
	var aerr *ActionError
	require.True(t, errors.As(err, &aerr), "got %v", err)
	assert.Equal(t, "start", aerr.Rule)
	assert.ErrorIs(t, err, boom)
}

func TestParse_ArityMismatch(t *testing.T) {
	table := action.Table{
		"action0": {Arity: 2, Func: func(*action.Context, []any) (any, error) { return nil, nil }},
	}
	p := compile(t, `start = a:"a" { return action0(a) }`, table)

	_, err := p.Parse(context.Background(), "a", nil)
	assert.ErrorContains(t, err, "got 1 arguments, want 2")
}

func TestParse_RuntimeBindingError(t *testing.T) {
	tests := []struct {
		name    string
		grammar string
		missing string
	}{
		{"missing label", `start = other:"a" ` + Dialect{}.Invocation("action0", "ctx", []string{"value"}), "value"},
		{"missing action", `start = "a" ` + Dialect{}.Invocation("action9", "", nil), "action9"},
	}

	table := action.Table{
		"action0": {Context: true, Arity: 1, Func: func(*action.Context, []any) (any, error) { return nil, nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := compile(t, tt.grammar, table)

			_, err := p.Parse(context.Background(), "a", nil)
			var berr *RuntimeBindingError
			require.True(t, errors.As(err, &berr), "got %v", err)
			assert.Equal(t, tt.missing, berr.Name)
			assert.Equal(t, "start", berr.Rule)

			// Blocks that never run are never resolved.
			_, err = p.Parse(context.Background(), "b", nil)
			var perr *ParseError
			assert.True(t, errors.As(err, &perr))
		})
	}
}

func TestParse_Initializer(t *testing.T) {
	grammar := `{
  def double(x):
      return x * 2
}

start = n:$[0-9]+ { return double(int(n)) }
`
	p := compile(t, grammar, nil)
	got, err := p.Parse(context.Background(), "21", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got)
}

func TestParse_Cancelled(t *testing.T) {
	p := compile(t, `start = "a" { return 1 }`, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Parse(ctx, "a", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParse_Concurrent(t *testing.T) {
	p := compile(t, arithmetic, nil)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := p.Parse(context.Background(), fmt.Sprintf("%d * 2", i), nil)
			assert.NoError(t, err)
			assert.Equal(t, int64(i*2), got)
		}()
	}
	wg.Wait()
}

func TestParseAll(t *testing.T) {
	p := compile(t, arithmetic, nil)

	got, err := p.ParseAll(context.Background(), []string{"1+1", "2*3", "(4)"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(2), int64(6), int64(4)}, got)

	_, err = p.ParseAll(context.Background(), []string{"1", "+"}, nil)
	assert.ErrorContains(t, err, "input 1")
}
