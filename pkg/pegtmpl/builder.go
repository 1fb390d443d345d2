// Package pegtmpl builds parsers from grammar templates: literal grammar
// text interleaved with semantic actions. Each action is registered under
// a synthetic name, its parameter list is recovered, and a code block
// calling it is spliced into the grammar before the text is compiled.
//
//	p, err := pegtmpl.Grammar(ctx,
//		[]string{`start = value:$[0-9]+ `, ``},
//		pegtmpl.Action{Params: []string{"ctx", "value"}, Invoke: toInt},
//	)
//
// Labels used by a rule must match the parameter names of the action
// spliced into it. By default that contract is not checked until the
// generated code runs; see WithLabelPolicy.
package pegtmpl

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	starctx "github.com/leapstack-labs/pegtmpl/internal/starlark"
	"github.com/leapstack-labs/pegtmpl/pkg/action"
	"github.com/leapstack-labs/pegtmpl/pkg/peg"
)

// Parser is a compiled grammar.
type Parser = action.Parser

// Compiler compiles assembled grammar text. The table stays bound to the
// returned parser for its lifetime.
type Compiler interface {
	Compile(ctx context.Context, grammar string, table action.Table) (Parser, error)
}

// BindingChecker is implemented by compilers that can report, before any
// parse, the names generated code references but the grammar never binds.
type BindingChecker interface {
	CheckBindings(ctx context.Context, grammar string, table action.Table) ([]action.BindingIssue, error)
}

// LabelPolicy controls how label/parameter mismatches are handled at build
// time.
type LabelPolicy int

const (
	// LabelsIgnore leaves mismatches to surface when generated code runs.
	LabelsIgnore LabelPolicy = iota
	// LabelsWarn logs every mismatch and builds anyway.
	LabelsWarn
	// LabelsStrict fails the build with a LabelMismatchError.
	LabelsStrict
)

func (p LabelPolicy) String() string {
	switch p {
	case LabelsWarn:
		return "warn"
	case LabelsStrict:
		return "strict"
	default:
		return "ignore"
	}
}

// ParseLabelPolicy parses "ignore", "warn" or "strict". The empty string
// is "ignore".
func ParseLabelPolicy(s string) (LabelPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ignore":
		return LabelsIgnore, nil
	case "warn":
		return LabelsWarn, nil
	case "strict":
		return LabelsStrict, nil
	}
	return LabelsIgnore, fmt.Errorf("invalid label policy %q (want ignore, warn or strict)", s)
}

// Option configures a Builder.
type Option func(*Builder)

// WithCompiler sets the grammar compiler. The default is a peg.Compiler.
// A compiler that also implements Dialect renders the generated blocks.
func WithCompiler(c Compiler) Option {
	return func(b *Builder) { b.compiler = c }
}

// WithDialect overrides the code block syntax.
func WithDialect(d Dialect) Option {
	return func(b *Builder) { b.dialect = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) { b.logger = logger }
}

// WithLabelPolicy sets how unbound labels are reported at build time.
// Checking needs a compiler that implements BindingChecker.
func WithLabelPolicy(p LabelPolicy) Option {
	return func(b *Builder) { b.policy = p }
}

// Builder assembles and compiles grammar templates. Builds share nothing
// but the Builder's configuration; a Builder is safe for concurrent use.
type Builder struct {
	compiler Compiler
	dialect  Dialect
	logger   *slog.Logger
	policy   LabelPolicy
	threads  *starctx.ThreadPool
}

// New creates a Builder.
func New(opts ...Option) *Builder {
	b := &Builder{}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.New(slog.DiscardHandler)
	}
	if b.compiler == nil {
		b.compiler = peg.NewCompiler(peg.WithLogger(b.logger))
	}
	if b.dialect == nil {
		if d, ok := b.compiler.(Dialect); ok {
			b.dialect = d
		} else {
			b.dialect = peg.Dialect{}
		}
	}
	b.threads = starctx.NewThreadPool(0, b.logger)
	return b
}

// Grammar builds a parser from segments interleaved with actions. There
// must be exactly one more segment than actions.
func (b *Builder) Grammar(ctx context.Context, segments []string, actions ...any) (Parser, error) {
	frags, err := Template(segments, actions...)
	if err != nil {
		return nil, err
	}
	return b.Fragments(ctx, frags...)
}

// Fragments builds a parser from an ordered list of fragments. Nothing is
// compiled unless every action registers.
func (b *Builder) Fragments(ctx context.Context, frags ...Fragment) (Parser, error) {
	asm, err := b.Assemble(frags...)
	if err != nil {
		return nil, err
	}
	return b.Compile(ctx, asm)
}

// Compile applies the label policy to asm and compiles it.
func (b *Builder) Compile(ctx context.Context, asm *Assembly) (Parser, error) {
	if err := b.checkLabels(ctx, asm); err != nil {
		return nil, err
	}
	return b.compiler.Compile(ctx, asm.Grammar, asm.Table)
}

// Assemble registers the actions of frags and renders the grammar text
// without compiling it.
func (b *Builder) Assemble(frags ...Fragment) (*Assembly, error) {
	asm, err := assemble(&registrar{pool: b.threads}, b.dialect, frags)
	if err != nil {
		return nil, err
	}
	b.logger.Debug("assembled grammar",
		"fragments", len(frags),
		"actions", len(asm.Entries),
		"bytes", len(asm.Grammar))
	return asm, nil
}

func (b *Builder) checkLabels(ctx context.Context, asm *Assembly) error {
	if b.policy == LabelsIgnore {
		return nil
	}
	checker, ok := b.compiler.(BindingChecker)
	if !ok {
		b.logger.Warn("compiler cannot check label bindings", "policy", b.policy.String())
		return nil
	}

	issues, err := checker.CheckBindings(ctx, asm.Grammar, asm.Table)
	if err != nil {
		return err
	}
	if len(issues) == 0 {
		return nil
	}
	if b.policy == LabelsStrict {
		return &LabelMismatchError{Issues: issues}
	}
	for _, issue := range issues {
		b.logger.Warn("unbound name in generated code",
			"rule", issue.Rule,
			"name", issue.Name,
			"pos", issue.Pos.String(),
			"message", issue.Message)
	}
	return nil
}

// Grammar builds a parser with a default Builder.
func Grammar(ctx context.Context, segments []string, actions ...any) (Parser, error) {
	return New().Grammar(ctx, segments, actions...)
}
