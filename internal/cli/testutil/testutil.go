// Package testutil provides test utilities for CLI testing.
package testutil

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/leapstack-labs/pegtmpl/internal/cli/config"
	"github.com/leapstack-labs/pegtmpl/internal/cli/output"
	internaltestutil "github.com/leapstack-labs/pegtmpl/internal/testutil"
	"github.com/spf13/cobra"
)

// CalcActions is the action library written by SetupTestProject.
const CalcActions = `
def add(ctx, a, b):
    """Adds two numbers."""
    return a + b

def mul(ctx, a, b):
    """Multiplies two numbers.

    Both operands must be ints.
    """
    return a * b
`

// SumTemplate is the template written by SetupTestProject as
// grammars/sum.pegt.
const SumTemplate = `/*---
name: sum
allowed_start_rules: [num]
options:
  base: 10
---*/
sum = a:num "+" b:num {{ calc.add }}
num = d:$[0-9a-f]+ {{ lambda ctx, d: int(d, ctx.options["base"]) }}
`

// SetupTestProject creates a temporary project: pegtmpl.yaml, an actions
// directory holding calc.star and grammars/sum.pegt.
func SetupTestProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	files := map[string]string{
		"pegtmpl.yaml":      "actions_dir: actions\nstate_path: .pegtmpl/state.db\n",
		"actions/calc.star": CalcActions,
		"grammars/sum.pegt": SumTemplate,
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			t.Fatalf("failed to create directory for %s: %v", name, err)
		}
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
	return dir
}

// ProjectConfig returns the configuration of a project made by
// SetupTestProject, with the given output format.
func ProjectConfig(dir, format string) *config.Config {
	cfg := config.Default()
	cfg.ProjectRoot = dir
	cfg.ActionsDir = filepath.Join(dir, "actions")
	cfg.StatePath = filepath.Join(dir, ".pegtmpl", "state.db")
	cfg.Output = format
	return cfg
}

// Result is the captured output of a command run.
type Result struct {
	Out    string
	ErrOut string
	Err    error
}

// RunCommand executes cmd with args, cfg and a test logger in its context,
// reading stdin from in when it is non-nil.
func RunCommand(t *testing.T, cmd *cobra.Command, cfg *config.Config, in io.Reader, args ...string) Result {
	t.Helper()

	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	if in != nil {
		cmd.SetIn(in)
	}
	cmd.SetArgs(args)

	ctx := config.NewContext(context.Background(), cfg)
	ctx = config.WithLogger(ctx, internaltestutil.NewTestLogger(t))
	err := cmd.ExecuteContext(ctx)
	return Result{Out: out.String(), ErrOut: errOut.String(), Err: err}
}

// TestRenderer wraps a Renderer for testing with captured output buffers.
type TestRenderer struct {
	*output.Renderer
	Out    *bytes.Buffer
	ErrOut *bytes.Buffer
}

// NewTestRenderer creates a new test renderer with the specified mode and TTY state.
func NewTestRenderer(mode output.Mode, isTTY bool) *TestRenderer {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return &TestRenderer{
		Renderer: output.NewRendererWithTTY(out, errOut, isTTY, mode),
		Out:      out,
		ErrOut:   errOut,
	}
}

// ansiPattern matches ANSI escape codes.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// AssertNoANSI checks that a string contains no ANSI escape codes.
func AssertNoANSI(t *testing.T, s string) {
	t.Helper()
	if ansiPattern.MatchString(s) {
		t.Errorf("string contains ANSI escape codes: %q", s)
	}
}

// AssertValidMarkdown checks for unclosed code fences and empty headers.
func AssertValidMarkdown(t *testing.T, md string) {
	t.Helper()

	if n := strings.Count(md, "```"); n%2 != 0 {
		t.Errorf("unbalanced code fences in markdown: found %d occurrences", n)
	}
	for i, line := range strings.Split(md, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") && strings.TrimLeft(trimmed, "# ") == "" {
			t.Errorf("empty header at line %d: %q", i+1, line)
		}
	}
}
