// Package peg is a runtime parsing expression grammar engine. Grammars use
// PEG.js syntax with Starlark code blocks; semantic actions bound in an
// action.Table are callable from every block.
package peg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	starctx "github.com/leapstack-labs/pegtmpl/internal/starlark"
	"github.com/leapstack-labs/pegtmpl/pkg/action"
	"go.starlark.net/starlark"
)

// StartRuleOption is the parse option key that selects a start rule.
const StartRuleOption = "startRule"

// Option configures compilation.
type Option func(*config)

type config struct {
	file         string
	allowedStart []string
	logger       *slog.Logger
	poolSize     int
}

// WithFilename names the grammar source in error messages.
func WithFilename(name string) Option {
	return func(c *config) { c.file = name }
}

// WithAllowedStartRules lists the rules a parse may start from. The first
// one is the default. Without it only the grammar's first rule is allowed.
func WithAllowedStartRules(rules ...string) Option {
	return func(c *config) { c.allowedStart = rules }
}

// WithLogger sets the logger for compilation and Starlark print output.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithThreadPoolSize bounds the number of idle Starlark threads kept for
// reuse across parses.
func WithThreadPoolSize(n int) Option {
	return func(c *config) { c.poolSize = n }
}

// Compiler compiles grammars with a fixed set of options. It satisfies the
// compiler, dialect and binding checker contracts of the template builder.
type Compiler struct {
	opts []Option
}

// NewCompiler creates a compiler.
func NewCompiler(opts ...Option) *Compiler {
	return &Compiler{opts: opts}
}

// Compile compiles grammar against table.
func (c *Compiler) Compile(ctx context.Context, grammar string, table action.Table) (action.Parser, error) {
	p, err := Compile(ctx, grammar, table, c.opts...)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// CheckBindings compiles grammar and reports every unbound name in its
// code blocks.
func (c *Compiler) CheckBindings(ctx context.Context, grammar string, table action.Table) ([]action.BindingIssue, error) {
	return CheckBindings(ctx, grammar, table, c.opts...)
}

// Invocation renders a code block calling name; see Dialect.
func (c *Compiler) Invocation(name, contextParam string, args []string) string {
	return Dialect{}.Invocation(name, contextParam, args)
}

// Parser is a compiled grammar. It is safe for concurrent use.
type Parser struct {
	grammar *Grammar
	file    string
	env     *starctx.Env
	blocks  []*block
	start   string
	allowed map[string]bool
	pool    *starctx.ThreadPool
	logger  *slog.Logger
}

// Compile parses and validates grammar, binds table into the code block
// environment and runs the initializer. Code blocks themselves are compiled
// when they first run.
func Compile(ctx context.Context, grammar string, table action.Table, opts ...Option) (*Parser, error) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}

	g, err := ParseGrammar(cfg.file, grammar)
	if err != nil {
		return nil, err
	}
	if err := analyze(cfg.file, g); err != nil {
		return nil, err
	}

	p := &Parser{
		grammar: g,
		file:    cfg.file,
		env:     starctx.NewEnv(),
		blocks:  make([]*block, g.nblocks),
		allowed: make(map[string]bool),
		pool:    starctx.NewThreadPool(cfg.poolSize, cfg.logger),
		logger:  cfg.logger,
	}

	starts := cfg.allowedStart
	if len(starts) == 0 {
		starts = []string{g.Rules[0].Name}
	}
	for _, name := range starts {
		if _, ok := g.Rule(name); !ok {
			return nil, fmt.Errorf("allowed start rule %q is not defined", name)
		}
		p.allowed[name] = true
	}
	p.start = starts[0]

	for _, code := range g.Blocks() {
		if err := p.checkBlockSyntax(code); err != nil {
			return nil, err
		}
		p.blocks[code.id] = &block{code: code}
	}

	if err := p.env.AddActions(bridge(table)); err != nil {
		return nil, fmt.Errorf("binding actions: %w", err)
	}

	if g.Initializer != nil {
		if err := p.runInitializer(ctx, g.Initializer); err != nil {
			return nil, err
		}
	}

	p.logger.Debug("compiled grammar",
		"file", cfg.file,
		"rules", len(g.Rules),
		"blocks", g.nblocks,
		"actions", len(table),
		"start", p.start)
	return p, nil
}

// Grammar returns the analyzed grammar.
func (p *Parser) Grammar() *Grammar { return p.grammar }

// StartRules returns the rules a parse may start from, default first.
func (p *Parser) StartRules() []string {
	out := []string{p.start}
	for _, r := range p.grammar.Rules {
		if p.allowed[r.Name] && r.Name != p.start {
			out = append(out, r.Name)
		}
	}
	return out
}

func (p *Parser) runInitializer(ctx context.Context, code *Code) error {
	thread := p.pool.Get("initializer")
	defer p.pool.Put(thread)
	stop := starctx.CancelOnDone(ctx, thread)
	defer stop()

	src := strings.Join(starctx.Dedent(code.Body), "\n") + "\n"
	if err := p.env.ExecInitializer(thread, p.blockFile(code), src); err != nil {
		return &GrammarSyntaxError{
			File:    p.file,
			Pos:     code.Pos,
			Message: fmt.Sprintf("initializer: %v", err),
			Err:     err,
		}
	}
	return nil
}

// checkBlockSyntax rejects code blocks that are not valid Starlark.
// Name resolution is left to the first run.
func (p *Parser) checkBlockSyntax(code *Code) error {
	src := starctx.FuncSource(blockName(code), blockParams(code), code.Body)
	if _, err := starctx.FileOptions.Parse(p.blockFile(code), src, 0); err != nil {
		return &GrammarSyntaxError{
			File:    p.file,
			Pos:     code.Pos,
			Message: fmt.Sprintf("invalid code block in rule %s: %v", code.Rule, err),
			Err:     err,
		}
	}
	return nil
}

func (p *Parser) blockFile(code *Code) string {
	file := p.file
	if file == "" {
		file = "grammar"
	}
	if code.Rule == "" {
		return file
	}
	return fmt.Sprintf("%s[%s]", file, code.Rule)
}

// block is a lazily compiled code block.
type block struct {
	code *Code
	once sync.Once
	fn   *starlark.Function
	err  error
}

// blockFunc returns the compiled function for code, compiling it on first
// use. Compilation errors are sticky.
func (p *Parser) blockFunc(code *Code) (*starlark.Function, error) {
	b := p.blocks[code.id]
	b.once.Do(func() {
		thread := starctx.NewThread(p.blockFile(code), p.logger)
		b.fn, b.err = p.env.Func(thread, p.blockFile(code), blockName(code), blockParams(code), code.Body)
		if b.err == nil {
			return
		}
		var undef starctx.UndefinedErrors
		if errors.As(b.err, &undef) {
			b.err = &RuntimeBindingError{Rule: code.Rule, Name: undef[0].Name, Pos: code.Pos, Err: undef}
			return
		}
		b.err = &ActionError{Rule: code.Rule, Pos: code.Pos, Err: b.err}
	})
	return b.fn, b.err
}

func blockName(code *Code) string {
	return fmt.Sprintf("block%d", code.id)
}

func blockParams(code *Code) []string {
	params := make([]string, 0, 3+len(code.Labels))
	params = append(params, starctx.TextName, starctx.LocationName, starctx.OptionsName)
	return append(params, code.Labels...)
}
