package action

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContext_OptionsAreCopied(t *testing.T) {
	opts := map[string]any{"base": 16}
	c := NewContext("ff", Location{
		Start: Position{Offset: 0, Line: 1, Column: 1},
		End:   Position{Offset: 2, Line: 1, Column: 3},
	}, opts)

	got := c.Options()
	got["base"] = 2
	assert.Equal(t, 16, opts["base"])

	v, ok := c.Option("base")
	assert.True(t, ok)
	assert.Equal(t, 16, v)

	assert.Equal(t, "ff", c.Text())
	assert.Equal(t, "1:1-1:3", c.Location().String())
}

func TestContext_NilOptions(t *testing.T) {
	c := NewContext("", Location{}, nil)
	assert.Equal(t, map[string]any{}, c.Options())
	_, ok := c.Option("x")
	assert.False(t, ok)
}

func TestTable_Names(t *testing.T) {
	tbl := Table{"action0": {}, "action1": {Context: true, Arity: 2}}
	assert.ElementsMatch(t, []string{"action0", "action1"}, tbl.Names())
}

func TestBindingIssue_String(t *testing.T) {
	tests := []struct {
		issue BindingIssue
		want  string
	}{
		{
			BindingIssue{Rule: "num", Name: "digits", Pos: Position{Line: 2, Column: 5}, Message: "no label or action"},
			`2:5: rule num: "digits" is not bound: no label or action`,
		},
		{
			BindingIssue{Rule: "num", Pos: Position{Line: 1, Column: 1}, Message: "syntax error"},
			"1:1: rule num: syntax error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.issue.String())
		})
	}
}
