// Package config loads pegtmpl CLI configuration from defaults, a
// pegtmpl.yaml project file, PEGTMPL_ environment variables and flags.
package config

import "time"

// Config holds all CLI configuration options.
type Config struct {
	// ProjectRoot is the directory relative paths resolve against.
	ProjectRoot string `koanf:"-"`
	// File is the config file that was loaded, if any.
	File string `koanf:"-"`

	ActionsDir   string         `koanf:"actions_dir"`
	StatePath    string         `koanf:"state_path"`
	Output       string         `koanf:"output"`
	Verbose      bool           `koanf:"verbose"`
	LabelPolicy  string         `koanf:"label_policy"`
	HistoryLimit int            `koanf:"history_limit"`
	Options      map[string]any `koanf:"options"`
	Serve        ServeConfig    `koanf:"serve"`
	Metrics      MetricsConfig  `koanf:"metrics"`
}

// ServeConfig configures `pegtmpl serve`.
type ServeConfig struct {
	Addr     string        `koanf:"addr"`
	Watch    bool          `koanf:"watch"`
	Debounce time.Duration `koanf:"debounce"`
	// Paths are the template files or directories to serve.
	Paths []string `koanf:"paths"`
}

// MetricsConfig configures the Prometheus collector.
type MetricsConfig struct {
	Namespace string `koanf:"namespace"`
	Runtime   bool   `koanf:"runtime"`
}

// Defaults.
const (
	DefaultActionsDir   = "actions"
	DefaultStateFile    = ".pegtmpl/state.db"
	DefaultOutput       = "auto"
	DefaultLabelPolicy  = "ignore"
	DefaultHistoryLimit = 20
	DefaultServeAddr    = "127.0.0.1:8780"
	DefaultDebounce     = 100 * time.Millisecond
	DefaultNamespace    = "pegtmpl"
)

// configNames are the project file names, in lookup order.
var configNames = []string{"pegtmpl.yaml", "pegtmpl.yml"}
