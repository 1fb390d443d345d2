package library

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFile(t *testing.T) {
	src := `
def add(ctx, a, b):
    """Adds two labels."""
    return a + b

def scale(ctx, n, factor=2, unit="x", neg=-1):
    return n * factor

def collect(ctx, *items, **opts):
    return items

def _private():
    pass

VALUE = 1
`
	ns, err := ParseFile("/lib/calc.star", []byte(src))
	require.NoError(t, err)
	assert.Equal(t, "calc", ns.Name)
	assert.Equal(t, "/lib/calc.star", ns.Path)
	require.Len(t, ns.Functions, 3)

	add := ns.Functions[0]
	assert.Equal(t, "add", add.Name)
	assert.Equal(t, 2, add.Line)
	assert.Equal(t, "Adds two labels.", add.Docstring)
	assert.Equal(t, []string{"ctx", "a", "b"}, add.Params)
	assert.Equal(t, "add(ctx, a, b)", add.Signature())
	assert.False(t, add.Variadic)

	scale := ns.Functions[1]
	assert.Equal(t, []string{"ctx", "n", "factor=2", `unit="x"`, "neg=-1"}, scale.Args)
	assert.Equal(t, []string{"ctx", "n", "factor", "unit", "neg"}, scale.Params)
	assert.Empty(t, scale.Docstring)

	collect := ns.Functions[2]
	assert.True(t, collect.Variadic)
	assert.Equal(t, []string{"ctx", "*items", "**opts"}, collect.Args)
	assert.Equal(t, []string{"ctx"}, collect.Params)
}

func TestParseFile_SyntaxError(t *testing.T) {
	_, err := ParseFile("/lib/bad.star", []byte("def broken(:\n"))
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, err.Error(), "parse bad.star")
}
