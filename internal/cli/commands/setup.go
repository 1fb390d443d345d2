package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/pegtmpl/internal/cli/config"
	"github.com/leapstack-labs/pegtmpl/internal/cli/output"
	"github.com/leapstack-labs/pegtmpl/internal/engine"
	"github.com/leapstack-labs/pegtmpl/internal/metrics"
	"github.com/leapstack-labs/pegtmpl/pkg/pegtmpl"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Engine   *engine.Engine
	Metrics  *metrics.Collector
	Renderer *output.Renderer
}

// NewCommandContext creates a CommandContext with an engine. The cleanup
// function must be called, typically via defer.
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func(), error) {
	cc, err := NewCommandContextWithoutEngine(cmd)
	if err != nil {
		return nil, nil, err
	}

	cc.Metrics = metrics.NewCollector(metrics.Config{
		Namespace:      cc.Cfg.Metrics.Namespace,
		RuntimeMetrics: cc.Cfg.Metrics.Runtime,
	})
	cc.Engine, err = createEngine(cmd, cc.Cfg, cc.Logger, cc.Metrics)
	if err != nil {
		return nil, nil, err
	}
	return cc, func() { _ = cc.Engine.Close() }, nil
}

// NewCommandContextWithoutEngine creates a CommandContext without an engine.
func NewCommandContextWithoutEngine(cmd *cobra.Command) (*CommandContext, error) {
	cfg := config.FromContext(cmd.Context())
	mode, err := output.ParseMode(cfg.Output)
	if err != nil {
		return nil, err
	}
	return &CommandContext{
		Cfg:      cfg,
		Logger:   config.GetLogger(cmd.Context()),
		Renderer: output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), mode),
	}, nil
}

func createEngine(cmd *cobra.Command, cfg *config.Config, logger *slog.Logger, collector *metrics.Collector) (*engine.Engine, error) {
	if cfg.StatePath != "" && cfg.StatePath != ":memory:" {
		if dir := filepath.Dir(cfg.StatePath); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create state directory: %w", err)
			}
		}
	}

	// validated when the config was loaded
	policy, _ := pegtmpl.ParseLabelPolicy(cfg.LabelPolicy)

	return engine.New(cmd.Context(), engine.Config{
		ActionsDir:  cfg.ActionsDir,
		StatePath:   cfg.StatePath,
		LabelPolicy: policy,
		Options:     cfg.Options,
		Metrics:     collector,
		Logger:      logger,
	})
}

// absPaths makes paths absolute so history entries match whatever
// directory a command runs from.
func absPaths(paths []string) ([]string, error) {
	out := make([]string, len(paths))
	for i, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, err
		}
		out[i] = abs
	}
	return out, nil
}

// parseOptions turns key=value pairs into parse options. Values are read
// as YAML scalars, so 10 is an int and true a bool.
func parseOptions(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	opts := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid option %q (want key=value)", pair)
		}
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil || v == nil {
			v = raw
		}
		opts[key] = v
	}
	return opts, nil
}
