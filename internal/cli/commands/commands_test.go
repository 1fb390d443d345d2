package commands

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leapstack-labs/pegtmpl/internal/cli/output"
	"github.com/leapstack-labs/pegtmpl/internal/cli/testutil"
	"github.com/leapstack-labs/pegtmpl/internal/engine"
	"github.com/leapstack-labs/pegtmpl/internal/library"
	"github.com/leapstack-labs/pegtmpl/internal/state"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandMetadata(t *testing.T) {
	tests := []struct {
		cmd   *cobra.Command
		use   string
		flags []string
	}{
		{NewBuildCommand(), "build <template>", []string{"emit"}},
		{NewParseCommand(), "parse <template> [input]", []string{"file", "start", "option", "lines"}},
		{NewCheckCommand(), "check [paths...]", []string{"concurrency"}},
		{NewActionsCommand(), "actions", nil},
		{NewREPLCommand(), "repl <template>", nil},
		{NewServeCommand(), "serve [paths...]", []string{"addr", "watch", "debounce"}},
		{NewHistoryCommand(), "history [template]", []string{"limit", "prune"}},
	}

	for _, tt := range tests {
		t.Run(tt.use, func(t *testing.T) {
			assert.Equal(t, tt.use, tt.cmd.Use)
			assert.NotEmpty(t, tt.cmd.Short, "Short should not be empty")
			assert.NotEmpty(t, tt.cmd.Example, "Example should not be empty")
			for _, flag := range tt.flags {
				assert.NotNil(t, tt.cmd.Flags().Lookup(flag), "flag %q should exist", flag)
			}
		})
	}
}

func TestBuildCommand(t *testing.T) {
	dir := testutil.SetupTestProject(t)
	path := filepath.Join(dir, "grammars", "sum.pegt")

	res := testutil.RunCommand(t, NewBuildCommand(), testutil.ProjectConfig(dir, "json"), nil, path, "--emit", "all")
	require.NoError(t, res.Err, res.ErrOut)

	var out BuildOutput
	require.NoError(t, json.Unmarshal([]byte(res.Out), &out))
	assert.Equal(t, "sum", out.Name)
	assert.Len(t, out.Hash, 16)
	assert.NotEmpty(t, out.BuildID)
	assert.Contains(t, out.Grammar, "return action0(ctx, a, b)")
	assert.Equal(t, []ActionInfo{
		{Name: "action0", Context: "ctx", Params: []string{"a", "b"}},
		{Name: "action1", Context: "ctx", Params: []string{"d"}},
	}, out.Actions)
}

func TestBuildCommand_Markdown(t *testing.T) {
	dir := testutil.SetupTestProject(t)
	path := filepath.Join(dir, "grammars", "sum.pegt")

	res := testutil.RunCommand(t, NewBuildCommand(), testutil.ProjectConfig(dir, "markdown"), nil, path, "--emit", "all")
	require.NoError(t, res.Err, res.ErrOut)

	assert.True(t, strings.HasPrefix(res.Out, "## sum ("), res.Out)
	assert.Contains(t, res.Out, "```peg\n")
	assert.Contains(t, res.Out, "| action0 | ctx | a, b |")
	testutil.AssertValidMarkdown(t, res.Out)
	testutil.AssertNoANSI(t, res.Out)
}

func TestBuildCommand_Errors(t *testing.T) {
	dir := testutil.SetupTestProject(t)
	bad := filepath.Join(dir, "bad.pegt")
	require.NoError(t, os.WriteFile(bad, []byte(`start = "x" {{ nope }}`), 0o600))
	cfg := testutil.ProjectConfig(dir, "json")

	res := testutil.RunCommand(t, NewBuildCommand(), cfg, nil, bad)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "build failed")
	assert.Equal(t, engine.KindResolve, engine.ErrorKind(res.Err))

	res = testutil.RunCommand(t, NewBuildCommand(), cfg, nil, bad, "--emit", "everything")
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "invalid --emit")
}

func TestParseCommand(t *testing.T) {
	dir := testutil.SetupTestProject(t)
	path := filepath.Join(dir, "grammars", "sum.pegt")
	inputFile := filepath.Join(dir, "input.txt")
	require.NoError(t, os.WriteFile(inputFile, []byte("7+8"), 0o600))

	tests := []struct {
		name  string
		args  []string
		stdin string
		want  any
	}{
		{"argument", []string{"12+30"}, "", float64(42)},
		{"stdin", nil, "1+2", float64(3)},
		{"file", []string{"-f", inputFile}, "", float64(15)},
		{"start rule and option", []string{"ff", "--start", "num", "-O", "base=16"}, "", float64(255)},
		{"lines", []string{"--lines"}, "1+1\n\n2+2\n", []any{float64(2), float64(4)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{path}, tt.args...)
			res := testutil.RunCommand(t, NewParseCommand(), testutil.ProjectConfig(dir, "json"), strings.NewReader(tt.stdin), args...)
			require.NoError(t, res.Err, res.ErrOut)

			var got any
			require.NoError(t, json.Unmarshal([]byte(res.Out), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCommand_Errors(t *testing.T) {
	dir := testutil.SetupTestProject(t)
	path := filepath.Join(dir, "grammars", "sum.pegt")
	cfg := testutil.ProjectConfig(dir, "json")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"syntax error", []string{path, "1+"}, "Expected"},
		{"bad start rule", []string{path, "1", "--start", "sum2"}, "cannot start parsing from rule"},
		{"bad option", []string{path, "1", "-O", "base"}, "want key=value"},
		{"argument and file", []string{path, "1", "-f", "x"}, "mutually exclusive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := testutil.RunCommand(t, NewParseCommand(), cfg, nil, tt.args...)
			require.Error(t, res.Err)
			assert.Contains(t, res.Err.Error(), tt.want)
		})
	}
}

func TestCheckCommand(t *testing.T) {
	dir := testutil.SetupTestProject(t)
	cfg := testutil.ProjectConfig(dir, "json")

	res := testutil.RunCommand(t, NewCheckCommand(), cfg, nil, filepath.Join(dir, "grammars"))
	require.NoError(t, res.Err, res.ErrOut)

	var results []*engine.CheckResult
	require.NoError(t, json.Unmarshal([]byte(res.Out), &results))
	require.Len(t, results, 1)
	assert.True(t, results[0].OK())
	assert.Equal(t, 2, results[0].Actions)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "grammars", "bad.pegt"), []byte(`start = "x" {{ nope }}`), 0o600))
	cfg.Output = "text"
	res = testutil.RunCommand(t, NewCheckCommand(), cfg, nil, filepath.Join(dir, "grammars"))
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "1 of 2 templates failed")
	assert.Contains(t, res.ErrOut, "bad.pegt: [resolve]")
	assert.Contains(t, res.Out, "sum.pegt")
}

func TestActionsCommand(t *testing.T) {
	dir := testutil.SetupTestProject(t)

	res := testutil.RunCommand(t, NewActionsCommand(), testutil.ProjectConfig(dir, "json"), nil)
	require.NoError(t, res.Err, res.ErrOut)

	var libs []*library.Namespace
	require.NoError(t, json.Unmarshal([]byte(res.Out), &libs))
	require.Len(t, libs, 1)
	assert.Equal(t, "calc", libs[0].Name)
	require.Len(t, libs[0].Functions, 2)
	assert.Equal(t, "add", libs[0].Functions[0].Name)
	assert.Equal(t, []string{"ctx", "a", "b"}, libs[0].Functions[0].Params)

	res = testutil.RunCommand(t, NewActionsCommand(), testutil.ProjectConfig(dir, "markdown"), nil)
	require.NoError(t, res.Err, res.ErrOut)
	assert.Contains(t, res.Out, "| calc.mul | mul(ctx, a, b) | Multiplies two numbers. |")
}

func TestHistoryCommand(t *testing.T) {
	dir := testutil.SetupTestProject(t)
	path := filepath.Join(dir, "grammars", "sum.pegt")
	cfg := testutil.ProjectConfig(dir, "json")

	for range 2 {
		res := testutil.RunCommand(t, NewBuildCommand(), cfg, nil, path)
		require.NoError(t, res.Err, res.ErrOut)
	}

	res := testutil.RunCommand(t, NewHistoryCommand(), cfg, nil, path)
	require.NoError(t, res.Err, res.ErrOut)
	var builds []*state.Build
	require.NoError(t, json.Unmarshal([]byte(res.Out), &builds))
	require.Len(t, builds, 2)
	assert.Equal(t, state.BuildSucceeded, builds[0].Status)
	assert.Equal(t, "sum", builds[0].Name)

	res = testutil.RunCommand(t, NewHistoryCommand(), cfg, nil, "--prune", "1")
	require.NoError(t, res.Err, res.ErrOut)
	assert.JSONEq(t, `{"pruned": 1}`, res.Out)

	cfg.StatePath = ""
	res = testutil.RunCommand(t, NewHistoryCommand(), cfg, nil)
	assert.ErrorIs(t, res.Err, engine.ErrNoHistory)
}

func TestREPLSession(t *testing.T) {
	dir := testutil.SetupTestProject(t)
	ctx := context.Background()

	eng, err := engine.New(ctx, engine.Config{ActionsDir: filepath.Join(dir, "actions")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	tr := testutil.NewTestRenderer(output.ModeText, false)
	s := &replSession{
		engine:  eng,
		path:    filepath.Join(dir, "grammars", "sum.pegt"),
		options: make(map[string]any),
		r:       tr.Renderer,
	}
	require.NoError(t, s.reload(ctx))

	tests := []struct {
		line    string
		quit    bool
		out     string
		errOut  string
		startAt string
	}{
		{line: "12+30", out: "42\n", startAt: "sum"},
		{line: ".start num", startAt: "num"},
		{line: ".set base=16", startAt: "num"},
		{line: "ff", out: "255\n", startAt: "num"},
		{line: ".options", out: "base: 16\n", startAt: "num"},
		{line: ".start nope", errOut: `cannot start parsing from rule "nope"`, startAt: "num"},
		{line: ".rules", out: "sum num\n", startAt: "num"},
		{line: "zz", errOut: "Expected", startAt: "num"},
		{line: ".bogus", errOut: "unknown command: .bogus", startAt: "num"},
		{line: "   ", startAt: "num"},
		{line: ".quit", quit: true, startAt: "num"},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			tr.Out.Reset()
			tr.ErrOut.Reset()

			assert.Equal(t, tt.quit, s.handle(ctx, tt.line))
			assert.Equal(t, tt.out, tr.Out.String())
			if tt.errOut != "" {
				assert.Contains(t, tr.ErrOut.String(), tt.errOut)
			} else {
				assert.Empty(t, tr.ErrOut.String())
			}
			assert.Equal(t, tt.startAt, s.startRule())
		})
	}
}

func TestREPLSession_ReloadPicksUpLibraries(t *testing.T) {
	dir := testutil.SetupTestProject(t)
	ctx := context.Background()

	eng, err := engine.New(ctx, engine.Config{ActionsDir: filepath.Join(dir, "actions")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	tr := testutil.NewTestRenderer(output.ModeText, false)
	s := &replSession{
		engine:  eng,
		path:    filepath.Join(dir, "grammars", "sum.pegt"),
		options: make(map[string]any),
		r:       tr.Renderer,
	}
	require.NoError(t, s.reload(ctx))

	s.handle(ctx, "1+2")
	assert.Equal(t, "3\n", tr.Out.String())

	lib := strings.Replace(testutil.CalcActions, "return a + b", "return a + b + 1000", 1)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "actions", "calc.star"), []byte(lib), 0o600))

	tr.Out.Reset()
	s.handle(ctx, ".reload")
	s.handle(ctx, "1+2")
	assert.Contains(t, tr.Out.String(), "1003\n")
	assert.Empty(t, tr.ErrOut.String())
}

func TestParseOptions(t *testing.T) {
	tests := []struct {
		name    string
		pairs   []string
		want    map[string]any
		wantErr bool
	}{
		{"none", nil, nil, false},
		{"typed", []string{"base=16", "strict=true", "name=calc", "empty="}, map[string]any{
			"base": 16, "strict": true, "name": "calc", "empty": "",
		}, false},
		{"missing value", []string{"base"}, nil, true},
		{"missing key", []string{"=1"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseOptions(tt.pairs)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewVersionCommand(t *testing.T) {
	res := testutil.RunCommand(t, NewVersionCommand("1.2.3"), testutil.ProjectConfig(t.TempDir(), "text"), nil)
	require.NoError(t, res.Err)
	assert.Contains(t, res.Out, "pegtmpl v1.2.3")
}
