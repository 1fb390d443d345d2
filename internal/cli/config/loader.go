package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes configuration environment variables. A double
// underscore separates nested keys: PEGTMPL_SERVE__ADDR sets serve.addr.
const EnvPrefix = "PEGTMPL_"

// maxUpwardSearchLevels limits how far up the directory tree to search for
// a project file.
const maxUpwardSearchLevels = 10

// flagKeys maps flag names to config keys. Flags not listed here are
// command options, not configuration.
var flagKeys = map[string]string{
	"actions-dir": "actions_dir",
	"state":       "state_path",
	"output":      "output",
	"verbose":     "verbose",
	"labels":      "label_policy",
	"addr":        "serve.addr",
	"watch":       "serve.watch",
	"debounce":    "serve.debounce",
}

// pathFlags are resolved against the working directory rather than the
// project root.
var pathFlags = map[string]bool{"actions-dir": true, "state": true}

type (
	configKey struct{}
	loggerKey struct{}
)

// Default returns the configuration used when nothing is loaded.
func Default() *Config {
	return &Config{
		ActionsDir:   DefaultActionsDir,
		StatePath:    DefaultStateFile,
		Output:       DefaultOutput,
		LabelPolicy:  DefaultLabelPolicy,
		HistoryLimit: DefaultHistoryLimit,
		Serve: ServeConfig{
			Addr:     DefaultServeAddr,
			Debounce: DefaultDebounce,
		},
		Metrics: MetricsConfig{Namespace: DefaultNamespace},
	}
}

func defaults() map[string]any {
	return map[string]any{
		"actions_dir":       DefaultActionsDir,
		"state_path":        DefaultStateFile,
		"output":            DefaultOutput,
		"verbose":           false,
		"label_policy":      DefaultLabelPolicy,
		"history_limit":     DefaultHistoryLimit,
		"serve.addr":        DefaultServeAddr,
		"serve.watch":       false,
		"serve.debounce":    DefaultDebounce.String(),
		"metrics.namespace": DefaultNamespace,
		"metrics.runtime":   false,
	}
}

// Load reads configuration. Precedence, highest first: flags, environment,
// config file, defaults. cfgFile names the config file explicitly;
// otherwise pegtmpl.yaml is searched for upward from the working directory.
// Relative paths from the file or defaults resolve against the project
// root, the directory holding the config file.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	root, cfgFile, err := projectRoot(cfgFile, flags)
	if err != nil {
		return nil, err
	}
	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	flagPaths := make(map[string]string)
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			if pathFlags[f.Name] {
				if abs, err := filepath.Abs(f.Value.String()); err == nil {
					flagPaths[key] = abs
				}
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				// PEGTMPL_SERVE__PATHS=a,b
				mapstructure.StringToSliceHookFunc(","),
			),
			Result:           cfg,
			WeaklyTypedInput: true,
		},
	}); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.ProjectRoot = root
	cfg.File = cfgFile

	cfg.ActionsDir = resolvePath(cfg.ActionsDir, flagPaths["actions_dir"], root)
	cfg.StatePath = resolvePath(cfg.StatePath, flagPaths["state_path"], root)
	for i, p := range cfg.Serve.Paths {
		cfg.Serve.Paths[i] = resolvePath(p, "", root)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// projectRoot picks the project root and config file. An explicit file
// anchors the root at its directory; otherwise the nearest directory
// holding a project file, then the working directory.
func projectRoot(cfgFile string, flags *pflag.FlagSet) (string, string, error) {
	if cfgFile != "" {
		abs, err := filepath.Abs(cfgFile)
		if err != nil {
			return "", "", err
		}
		if _, err := os.Stat(abs); err != nil {
			return "", "", fmt.Errorf("config file: %w", err)
		}
		return filepath.Dir(abs), abs, nil
	}

	start, err := os.Getwd()
	if err != nil {
		return "", "", err
	}
	if flags != nil && flags.Changed("project-dir") {
		dir, _ := flags.GetString("project-dir")
		if start, err = filepath.Abs(dir); err != nil {
			return "", "", err
		}
		if name := configIn(start); name != "" {
			return start, name, nil
		}
		return start, "", nil
	}

	dir := start
	for range maxUpwardSearchLevels {
		if name := configIn(dir); name != "" {
			return dir, name, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return start, "", nil
}

// configIn returns the project file in dir, or "".
func configIn(dir string) string {
	for _, name := range configNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// resolvePath prefers the path given by flag, then joins relative paths to
// root. ":memory:" is kept as is.
func resolvePath(path, fromFlag, root string) string {
	switch {
	case fromFlag != "":
		return fromFlag
	case path == "" || path == ":memory:" || filepath.IsAbs(path):
		return path
	}
	return filepath.Join(root, path)
}

// NewContext returns a context carrying cfg.
func NewContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// FromContext returns the configuration stored in ctx, or Default.
func FromContext(ctx context.Context) *Config {
	if ctx != nil {
		if c, ok := ctx.Value(configKey{}).(*Config); ok {
			return c
		}
	}
	return Default()
}

// WithLogger returns a context carrying logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
			return l
		}
	}
	return slog.New(slog.DiscardHandler)
}
