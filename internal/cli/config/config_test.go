package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("project-dir", "", "")
	fs.String("actions-dir", "", "")
	fs.String("state", "", "")
	fs.StringP("output", "o", "", "")
	fs.BoolP("verbose", "v", false, "")
	fs.String("labels", "", "")
	fs.String("addr", "", "")
	fs.Bool("watch", false, "")
	fs.String("start", "", "")
	return fs
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "pegtmpl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	cfg, err := Load("", nil)
	require.NoError(t, err)

	wd, _ := os.Getwd()
	assert.Equal(t, wd, cfg.ProjectRoot)
	assert.Empty(t, cfg.File)
	assert.Equal(t, filepath.Join(wd, DefaultActionsDir), cfg.ActionsDir)
	assert.Equal(t, filepath.Join(wd, DefaultStateFile), cfg.StatePath)
	assert.Equal(t, DefaultOutput, cfg.Output)
	assert.Equal(t, DefaultLabelPolicy, cfg.LabelPolicy)
	assert.Equal(t, DefaultHistoryLimit, cfg.HistoryLimit)
	assert.Equal(t, DefaultServeAddr, cfg.Serve.Addr)
	assert.Equal(t, DefaultDebounce, cfg.Serve.Debounce)
	assert.Equal(t, DefaultNamespace, cfg.Metrics.Namespace)
}

func TestLoad_FileFoundUpward(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, `
actions_dir: lib
state_path: ":memory:"
label_policy: strict
history_limit: 5
options:
  base: 16
serve:
  addr: ":9000"
  watch: true
  debounce: 250ms
  paths: [grammars]
metrics:
  runtime: true
`)
	sub := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(sub, 0o750))
	t.Chdir(sub)

	cfg, err := Load("", nil)
	require.NoError(t, err)

	rootAbs := filepath.Dir(cfg.File)
	assert.Equal(t, "pegtmpl.yaml", filepath.Base(cfg.File))
	assert.Equal(t, rootAbs, cfg.ProjectRoot)
	assert.Equal(t, filepath.Join(rootAbs, "lib"), cfg.ActionsDir)
	assert.Equal(t, ":memory:", cfg.StatePath)
	assert.Equal(t, "strict", cfg.LabelPolicy)
	assert.Equal(t, 5, cfg.HistoryLimit)
	assert.Equal(t, map[string]any{"base": 16}, cfg.Options)
	assert.Equal(t, ":9000", cfg.Serve.Addr)
	assert.True(t, cfg.Serve.Watch)
	assert.Equal(t, 250*time.Millisecond, cfg.Serve.Debounce)
	assert.Equal(t, []string{filepath.Join(rootAbs, "grammars")}, cfg.Serve.Paths)
	assert.True(t, cfg.Metrics.Runtime)
}

func TestLoad_Precedence(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "output: text\nlabel_policy: warn\nserve:\n  addr: \":1\"\n")
	t.Chdir(root)

	tests := []struct {
		name   string
		env    map[string]string
		args   []string
		output string
		policy string
		addr   string
	}{
		{
			name:   "file",
			output: "text", policy: "warn", addr: ":1",
		},
		{
			name:   "env over file",
			env:    map[string]string{"PEGTMPL_OUTPUT": "json", "PEGTMPL_SERVE__ADDR": ":2"},
			output: "json", policy: "warn", addr: ":2",
		},
		{
			name:   "flags over env",
			env:    map[string]string{"PEGTMPL_OUTPUT": "json"},
			args:   []string{"-o", "yaml", "--labels", "strict", "--addr", ":3"},
			output: "yaml", policy: "strict", addr: ":3",
		},
		{
			name:   "unmapped flag ignored",
			args:   []string{"--start", "num"},
			output: "text", policy: "warn", addr: ":1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			fs := testFlags()
			require.NoError(t, fs.Parse(tt.args))

			cfg, err := Load("", fs)
			require.NoError(t, err)
			assert.Equal(t, tt.output, cfg.Output)
			assert.Equal(t, tt.policy, cfg.LabelPolicy)
			assert.Equal(t, tt.addr, cfg.Serve.Addr)
		})
	}
}

func TestLoad_EnvList(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("PEGTMPL_SERVE__PATHS", "a,b")
	t.Setenv("PEGTMPL_SERVE__DEBOUNCE", "1s")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(cfg.ProjectRoot, "a"), filepath.Join(cfg.ProjectRoot, "b")}, cfg.Serve.Paths)
	assert.Equal(t, time.Second, cfg.Serve.Debounce)
}

func TestLoad_PathFlagsResolveAgainstWorkingDir(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "actions_dir: lib\n")
	sub := filepath.Join(root, "sub")
	require.NoError(t, os.MkdirAll(sub, 0o750))
	t.Chdir(sub)

	fs := testFlags()
	require.NoError(t, fs.Parse([]string{"--state", "s.db"}))

	cfg, err := Load("", fs)
	require.NoError(t, err)

	wd, _ := os.Getwd()
	assert.Equal(t, filepath.Join(wd, "s.db"), cfg.StatePath)
	assert.Equal(t, filepath.Join(cfg.ProjectRoot, "lib"), cfg.ActionsDir)
}

func TestLoad_ExplicitFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("verbose: true\n"), 0o600))

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.True(t, cfg.Verbose)
	assert.Equal(t, filepath.Dir(cfg.File), cfg.ProjectRoot)

	_, err = Load(filepath.Join(dir, "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestLoad_ProjectDirFlag(t *testing.T) {
	project := t.TempDir()
	writeConfig(t, project, "history_limit: 3\n")
	t.Chdir(t.TempDir())

	fs := testFlags()
	require.NoError(t, fs.Parse([]string{"--project-dir", project}))

	cfg, err := Load("", fs)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.HistoryLimit)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errSub  string
	}{
		{"bad output", "output: xml\n", "invalid output format"},
		{"bad policy", "label_policy: loose\n", "label_policy"},
		{"negative limit", "history_limit: -1\n", "history_limit"},
		{"bad yaml", "output: [\n", "error reading config file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, tt.content)
			t.Chdir(dir)

			_, err := Load("", nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSub)
		})
	}
}

func TestContext(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, Default(), FromContext(ctx))
	assert.NotNil(t, GetLogger(ctx))

	cfg := &Config{Output: "json"}
	assert.Same(t, cfg, FromContext(NewContext(ctx, cfg)))
}
