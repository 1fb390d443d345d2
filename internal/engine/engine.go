// Package engine builds grammar template files into parsers. It loads the
// action libraries a template refers to, assembles and compiles the
// grammar, and records every build to the history store and metrics.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/leapstack-labs/pegtmpl/internal/library"
	"github.com/leapstack-labs/pegtmpl/internal/metrics"
	"github.com/leapstack-labs/pegtmpl/internal/state"
	"github.com/leapstack-labs/pegtmpl/internal/template"
	"github.com/leapstack-labs/pegtmpl/pkg/peg"
	"github.com/leapstack-labs/pegtmpl/pkg/pegtmpl"
)

// ErrNoHistory is returned by history queries on an engine without a
// state store.
var ErrNoHistory = errors.New("build history is disabled (no state path)")

// Config holds engine configuration.
type Config struct {
	// ActionsDir holds the shared .star action libraries (optional).
	ActionsDir string
	// StatePath is the SQLite build history database. Empty disables
	// history.
	StatePath string
	// LabelPolicy applies to templates that do not set their own.
	LabelPolicy pegtmpl.LabelPolicy
	// Options are default parse options; template options override them.
	Options map[string]any
	// Metrics is optional.
	Metrics *metrics.Collector
	// Logger is the structured logger (optional, uses discard if nil).
	Logger *slog.Logger
}

// Engine builds templates. It is safe for concurrent use.
type Engine struct {
	logger     *slog.Logger
	store      *state.SQLiteStore
	metrics    *metrics.Collector
	mu         sync.RWMutex
	modules    []*library.Module
	actionsDir string
	policy     pegtmpl.LabelPolicy
	options    map[string]any
}

// New creates an engine, loading the shared action libraries and opening
// the history store.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	logger.Debug("initializing engine", "actions_dir", cfg.ActionsDir, "state_path", cfg.StatePath)

	e := &Engine{
		logger:     logger,
		metrics:    cfg.Metrics,
		actionsDir: cfg.ActionsDir,
		policy:     cfg.LabelPolicy,
		options:    cfg.Options,
	}

	if err := e.ReloadLibraries(); err != nil {
		return nil, err
	}

	if cfg.StatePath != "" {
		store := state.NewSQLiteStore()
		if err := store.Open(ctx, cfg.StatePath); err != nil {
			return nil, fmt.Errorf("failed to open state store: %w", err)
		}
		e.store = store
	}
	return e, nil
}

// ReloadLibraries reloads the shared action libraries from the actions
// directory. Later builds use the new code; on error the previously loaded
// libraries stay in use.
func (e *Engine) ReloadLibraries() error {
	if e.actionsDir == "" {
		return nil
	}
	reg, err := library.LoadAndRegister(e.actionsDir, e.logger)
	if err != nil {
		return fmt.Errorf("failed to load actions: %w", err)
	}

	e.mu.Lock()
	e.modules = reg.Modules()
	e.mu.Unlock()
	e.logger.Debug("loaded action libraries", "dir", e.actionsDir, "modules", reg.Len())
	return nil
}

// Close releases the history store.
func (e *Engine) Close() error {
	if e.store == nil {
		return nil
	}
	return e.store.Close()
}

// Result is a built template.
type Result struct {
	Path     string
	Name     string
	Template *template.Template
	Assembly *pegtmpl.Assembly
	Parser   *peg.Parser
	// Hash identifies the assembled grammar text.
	Hash string
	// Options are the merged default parse options.
	Options  map[string]any
	BuildID  string
	Duration time.Duration
}

// Build builds the template at path and records the outcome.
func (e *Engine) Build(ctx context.Context, path string) (*Result, error) {
	start := time.Now()
	res, err := e.build(ctx, path)
	duration := time.Since(start)

	name := templateName(path, res)
	if e.metrics != nil {
		actions, size := 0, 0
		if res != nil && res.Assembly != nil {
			actions, size = len(res.Assembly.Entries), len(res.Assembly.Grammar)
		}
		e.metrics.RecordBuild(name, actions, size, duration, err, ErrorKind(err))
	}

	id, recErr := e.record(ctx, path, name, res, duration, err)
	if recErr != nil {
		e.logger.Warn("failed to record build", "template", path, "error", recErr)
	}

	if err != nil {
		e.logger.Debug("build failed", "template", path, "kind", ErrorKind(err), "error", err)
		return nil, err
	}
	res.BuildID = id
	res.Duration = duration
	e.logger.Info("built template",
		"template", path,
		"actions", len(res.Assembly.Entries),
		"hash", res.Hash,
		"duration", duration.Round(time.Microsecond))
	return res, nil
}

func (e *Engine) build(ctx context.Context, path string) (*Result, error) {
	tmpl, err := template.ParseFile(path)
	if err != nil {
		return nil, err
	}
	fm := tmpl.Frontmatter

	reg, err := e.registry(path, fm.Actions)
	if err != nil {
		return nil, err
	}
	frags, err := tmpl.Fragments(reg)
	if err != nil {
		return nil, err
	}

	policy := e.policy
	if fm.Labels != "" {
		// validated when the frontmatter was parsed
		policy, _ = pegtmpl.ParseLabelPolicy(fm.Labels)
	}

	compiler := peg.NewCompiler(
		peg.WithFilename(path),
		peg.WithLogger(e.logger),
		peg.WithAllowedStartRules(fm.StartRules()...),
	)
	b := pegtmpl.New(
		pegtmpl.WithCompiler(compiler),
		pegtmpl.WithLogger(e.logger),
		pegtmpl.WithLabelPolicy(policy),
	)

	res := &Result{Path: path, Template: tmpl}
	res.Name = templateName(path, res)
	if res.Assembly, err = b.Assemble(frags...); err != nil {
		return res, err
	}
	res.Hash = computeHash(res.Assembly.Grammar)

	p, err := b.Compile(ctx, res.Assembly)
	if err != nil {
		return res, err
	}
	res.Parser = p.(*peg.Parser)

	res.Options = make(map[string]any, len(e.options)+len(fm.Options))
	maps.Copy(res.Options, e.options)
	maps.Copy(res.Options, fm.Options)
	return res, nil
}

// registry collects the shared libraries plus the action files a template
// lists, resolved relative to the template.
func (e *Engine) registry(path string, files []string) (*library.Registry, error) {
	e.mu.RLock()
	modules := e.modules
	e.mu.RUnlock()

	reg := library.NewRegistry()
	if err := reg.RegisterAll(modules); err != nil {
		return nil, err
	}
	loader := library.NewLoader(filepath.Dir(path), e.logger)
	for _, f := range files {
		if !filepath.IsAbs(f) {
			f = filepath.Join(filepath.Dir(path), f)
		}
		m, err := loader.LoadFile(f)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func (e *Engine) record(ctx context.Context, path, name string, res *Result, duration time.Duration, buildErr error) (string, error) {
	if e.store == nil {
		return "", nil
	}
	b := &state.Build{
		Template: path,
		Name:     name,
		Status:   state.BuildSucceeded,
		Duration: duration,
	}
	if res != nil && res.Assembly != nil {
		b.GrammarHash = res.Hash
		b.Actions = len(res.Assembly.Entries)
		b.Bytes = len(res.Assembly.Grammar)
	}
	if buildErr != nil {
		b.Status = state.BuildFailed
		b.Error = buildErr.Error()
	}
	if err := e.store.RecordBuild(ctx, b); err != nil {
		return "", err
	}
	return b.ID, nil
}

// Parse runs res's parser over input. options override res.Options.
func (e *Engine) Parse(ctx context.Context, res *Result, input string, options map[string]any) (any, error) {
	opts := make(map[string]any, len(res.Options)+len(options))
	maps.Copy(opts, res.Options)
	maps.Copy(opts, options)

	start := time.Now()
	v, err := res.Parser.Parse(ctx, input, opts)
	if e.metrics != nil {
		e.metrics.RecordParse(res.Name, len(input), time.Since(start), err, ErrorKind(err))
	}
	return v, err
}

// ParseAll parses inputs concurrently with res's parser.
func (e *Engine) ParseAll(ctx context.Context, res *Result, inputs []string, options map[string]any) ([]any, error) {
	opts := make(map[string]any, len(res.Options)+len(options))
	maps.Copy(opts, res.Options)
	maps.Copy(opts, options)

	start := time.Now()
	out, err := res.Parser.ParseAll(ctx, inputs, opts)
	if e.metrics != nil {
		size := 0
		for _, in := range inputs {
			size += len(in)
		}
		e.metrics.RecordParse(res.Name, size, time.Since(start), err, ErrorKind(err))
	}
	return out, err
}

// History lists recorded builds, newest first. An empty template lists
// builds of every template.
func (e *Engine) History(ctx context.Context, template string, limit int) ([]*state.Build, error) {
	if e.store == nil {
		return nil, ErrNoHistory
	}
	return e.store.ListBuilds(ctx, template, limit)
}

// PruneHistory keeps the newest keep builds.
func (e *Engine) PruneHistory(ctx context.Context, keep int) (int64, error) {
	if e.store == nil {
		return 0, ErrNoHistory
	}
	return e.store.PruneBuilds(ctx, keep)
}

// Libraries describes the shared action libraries.
func (e *Engine) Libraries() ([]*library.Namespace, error) {
	e.mu.RLock()
	modules := e.modules
	e.mu.RUnlock()

	out := make([]*library.Namespace, 0, len(modules))
	for _, m := range modules {
		ns, err := library.DescribeModule(m)
		if err != nil {
			return nil, err
		}
		out = append(out, ns)
	}
	return out, nil
}

func templateName(path string, res *Result) string {
	if res != nil && res.Template != nil && res.Template.Frontmatter != nil && res.Template.Frontmatter.Name != "" {
		return res.Template.Frontmatter.Name
	}
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}
