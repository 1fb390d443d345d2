package peg

import (
	"context"
	"fmt"
	"runtime"
	"slices"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	starctx "github.com/leapstack-labs/pegtmpl/internal/starlark"
	"github.com/leapstack-labs/pegtmpl/pkg/action"
	"go.starlark.net/starlark"
	"golang.org/x/sync/errgroup"
)

// cancelCheckInterval is the number of rule invocations between checks of
// the parse context.
const cancelCheckInterval = 1024

// Parse parses input from the default start rule, or the rule named by the
// StartRuleOption option. The whole input must match. options are visible
// to code blocks as the read-only dict `options`.
//
// The result is converted to Go values: strings, int64 (*big.Int when out of
// range), float64, bool, []any, map[string]any, nil, or whatever Go actions
// returned, unchanged.
func (p *Parser) Parse(ctx context.Context, input string, options map[string]any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := p.start
	if v, ok := options[StartRuleOption]; ok {
		name, _ := v.(string)
		if !p.allowed[name] {
			return nil, fmt.Errorf("%w %q", ErrStartRule, name)
		}
		start = name
	}

	optionsDict, err := starctx.OptionsToStarlark(options)
	if err != nil {
		return nil, err
	}

	thread := p.pool.Get("parse")
	defer p.pool.Put(thread)
	stop := starctx.CancelOnDone(ctx, thread)
	defer stop()

	r := &run{
		p:       p,
		ctx:     ctx,
		input:   input,
		thread:  thread,
		options: optionsDict,
		lines:   lineStarts(input),
		memo:    make(map[memoKey]memoEntry),
	}

	rule, _ := p.grammar.Rule(start)
	v, ok := r.callRule(rule)
	if r.err != nil {
		return nil, r.err
	}
	if ok && r.pos == len(input) {
		return starctx.ToGo(v)
	}
	if ok {
		r.failAt(r.pos, "end of input")
	}
	return nil, r.parseError()
}

// ParseAll parses inputs concurrently. Results are in input order; the
// first failure cancels the remaining parses.
func (p *Parser) ParseAll(ctx context.Context, inputs []string, options map[string]any) ([]any, error) {
	results := make([]any, len(inputs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i, input := range inputs {
		g.Go(func() error {
			v, err := p.Parse(ctx, input, options)
			if err != nil {
				return fmt.Errorf("input %d: %w", i, err)
			}
			results[i] = v
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

type memoKey struct {
	rule string
	pos  int
}

type memoEntry struct {
	val starlark.Value
	end int
	ok  bool
}

// scope holds label values. Sequences write into the scope they are given;
// every other composite hands its children a fresh child scope, so labels
// never leak out of the sequence that binds them.
type scope struct {
	parent *scope
	names  []string
	values []starlark.Value
}

func (s *scope) child() *scope { return &scope{parent: s} }

func (s *scope) set(name string, v starlark.Value) {
	s.names = append(s.names, name)
	s.values = append(s.values, v)
}

func (s *scope) lookup(name string) starlark.Value {
	for sc := s; sc != nil; sc = sc.parent {
		if i := slices.Index(sc.names, name); i >= 0 {
			return sc.values[i]
		}
	}
	return starlark.None
}

// run is the state of a single parse.
type run struct {
	p       *Parser
	ctx     context.Context
	input   string
	thread  *starlark.Thread
	options *starlark.Dict
	lines   []int // byte offset of each line start

	pos  int
	memo map[memoKey]memoEntry

	maxFail  int
	expected []string
	silent   int

	steps int
	err   error // fatal: stops the parse
}

func (r *run) callRule(rule *Rule) (starlark.Value, bool) {
	r.steps++
	if r.steps%cancelCheckInterval == 0 {
		if err := r.ctx.Err(); err != nil {
			r.err = err
			return nil, false
		}
	}

	key := memoKey{rule: rule.Name, pos: r.pos}
	if m, ok := r.memo[key]; ok {
		r.pos = m.end
		return m.val, m.ok
	}

	start := r.pos
	if rule.DisplayName != "" {
		r.silent++
	}
	v, ok := r.eval(rule.Expr, &scope{})
	if rule.DisplayName != "" {
		r.silent--
		if !ok {
			r.failAt(start, rule.DisplayName)
		}
	}
	if r.err != nil {
		return nil, false
	}
	if !ok {
		r.pos = start
	}

	r.memo[key] = memoEntry{val: v, end: r.pos, ok: ok}
	return v, ok
}

func (r *run) eval(e Expr, sc *scope) (starlark.Value, bool) {
	if r.err != nil {
		return nil, false
	}

	switch n := e.(type) {
	case *Literal:
		return r.matchLiteral(n)

	case *Class:
		return r.matchChar(n, func(c rune) bool { return n.matches(c) })

	case *AnyChar:
		return r.matchChar(n, func(rune) bool { return true })

	case *RuleRef:
		rule, _ := r.p.grammar.Rule(n.Name)
		return r.callRule(rule)

	case *Sequence:
		return r.evalSequence(n, sc.child())

	case *Labeled:
		return r.evalLabeled(n, sc)

	case *Choice:
		start := r.pos
		for _, alt := range n.Alternatives {
			if v, ok := r.eval(alt, sc.child()); ok {
				return v, true
			}
			if r.err != nil {
				return nil, false
			}
			r.pos = start
		}
		return nil, false

	case *ActionExpr:
		start := r.pos
		own := sc.child()
		var ok bool
		switch inner := n.Expr.(type) {
		case *Sequence:
			_, ok = r.evalSequence(inner, own)
		case *Labeled:
			_, ok = r.evalLabeled(inner, own)
		default:
			_, ok = r.eval(inner, own)
		}
		if !ok {
			return nil, false
		}
		return r.runBlock(n.Code, own, start, r.pos)

	case *SemanticAnd:
		v, ok := r.runBlock(n.Code, sc, r.pos, r.pos)
		if !ok || !bool(v.Truth()) {
			return nil, false
		}
		return starlark.None, true

	case *SemanticNot:
		v, ok := r.runBlock(n.Code, sc, r.pos, r.pos)
		if !ok || bool(v.Truth()) {
			return nil, false
		}
		return starlark.None, true

	case *TextExpr:
		start := r.pos
		if _, ok := r.eval(n.Expr, sc.child()); !ok {
			return nil, false
		}
		return starlark.String(r.input[start:r.pos]), true

	case *AndPredicate:
		start := r.pos
		r.silent++
		_, ok := r.eval(n.Expr, sc.child())
		r.silent--
		r.pos = start
		if !ok {
			return nil, false
		}
		return starlark.None, true

	case *NotPredicate:
		start := r.pos
		r.silent++
		_, ok := r.eval(n.Expr, sc.child())
		r.silent--
		r.pos = start
		if ok || r.err != nil {
			return nil, false
		}
		return starlark.None, true

	case *Optional:
		start := r.pos
		v, ok := r.eval(n.Expr, sc.child())
		if !ok {
			if r.err != nil {
				return nil, false
			}
			r.pos = start
			return starlark.None, true
		}
		return v, true

	case *ZeroOrMore:
		return r.evalRepeat(n.Expr, sc, 0)

	case *OneOrMore:
		return r.evalRepeat(n.Expr, sc, 1)

	case *Group:
		return r.eval(n.Expr, sc.child())
	}

	r.err = fmt.Errorf("unsupported expression %T", e)
	return nil, false
}

func (r *run) evalSequence(n *Sequence, sc *scope) (starlark.Value, bool) {
	start := r.pos
	values := make([]starlark.Value, 0, len(n.Elements))
	for _, elem := range n.Elements {
		v, ok := r.eval(elem, sc)
		if !ok {
			r.pos = start
			return nil, false
		}
		values = append(values, v)
	}
	return starlark.NewList(values), true
}

func (r *run) evalLabeled(n *Labeled, sc *scope) (starlark.Value, bool) {
	v, ok := r.eval(n.Expr, sc.child())
	if !ok {
		return nil, false
	}
	sc.set(n.Label, v)
	return v, true
}

func (r *run) evalRepeat(e Expr, sc *scope, min int) (starlark.Value, bool) {
	start := r.pos
	var values []starlark.Value
	for {
		at := r.pos
		v, ok := r.eval(e, sc.child())
		if !ok {
			if r.err != nil {
				return nil, false
			}
			r.pos = at
			break
		}
		values = append(values, v)
	}
	if len(values) < min {
		r.pos = start
		return nil, false
	}
	return starlark.NewList(values), true
}

func (r *run) matchLiteral(n *Literal) (starlark.Value, bool) {
	end := r.pos + len(n.Value)
	if end <= len(r.input) {
		s := r.input[r.pos:end]
		if s == n.Value || (n.IgnoreCase && strings.EqualFold(s, n.Value)) {
			r.pos = end
			return starlark.String(s), true
		}
	}
	r.fail(describe(n))
	return nil, false
}

func (r *run) matchChar(e Expr, match func(rune) bool) (starlark.Value, bool) {
	if r.pos < len(r.input) {
		c, size := utf8.DecodeRuneInString(r.input[r.pos:])
		if match(c) {
			s := r.input[r.pos : r.pos+size]
			r.pos += size
			return starlark.String(s), true
		}
	}
	r.fail(describe(e))
	return nil, false
}

func (c *Class) matches(ch rune) bool {
	in := c.contains(ch)
	if !in && c.IgnoreCase {
		in = c.contains(unicode.ToLower(ch)) || c.contains(unicode.ToUpper(ch))
	}
	return in != c.Inverted
}

func (c *Class) contains(ch rune) bool {
	for _, rg := range c.Ranges {
		if ch >= rg.Low && ch <= rg.High {
			return true
		}
	}
	return false
}

// runBlock calls code with the match text and location of [start, end) and
// the labels in scope.
func (r *run) runBlock(code *Code, sc *scope, start, end int) (starlark.Value, bool) {
	fn, err := r.p.blockFunc(code)
	if err != nil {
		r.err = err
		return nil, false
	}

	loc := r.location(start, end)
	args := make(starlark.Tuple, 0, 3+len(code.Labels))
	args = append(args,
		starctx.TextFunc(r.input[start:end]),
		starctx.LocationFunc(loc),
		r.options)
	for _, name := range code.Labels {
		args = append(args, sc.lookup(name))
	}

	v, err := starlark.Call(r.thread, fn, args, nil)
	if err != nil {
		if ctxErr := r.ctx.Err(); ctxErr != nil {
			r.err = ctxErr
		} else {
			r.err = &ActionError{Rule: code.Rule, Pos: loc.Start, Err: err}
		}
		return nil, false
	}
	return v, true
}

func (r *run) fail(desc string) { r.failAt(r.pos, desc) }

func (r *run) failAt(pos int, desc string) {
	if r.silent > 0 || pos < r.maxFail {
		return
	}
	if pos > r.maxFail {
		r.maxFail = pos
		r.expected = r.expected[:0]
	}
	r.expected = append(r.expected, desc)
}

func (r *run) parseError() *ParseError {
	expected := slices.Clone(r.expected)
	sort.Strings(expected)
	expected = slices.Compact(expected)

	var found string
	if r.maxFail < len(r.input) {
		c, size := utf8.DecodeRuneInString(r.input[r.maxFail:])
		if c == utf8.RuneError && size <= 1 {
			found = r.input[r.maxFail : r.maxFail+1]
		} else {
			found = string(c)
		}
	}
	return &ParseError{Pos: r.position(r.maxFail), Expected: expected, Found: found}
}

func (r *run) location(start, end int) action.Location {
	return action.Location{Start: r.position(start), End: r.position(end)}
}

// position converts a byte offset to a line and rune column.
func (r *run) position(offset int) action.Position {
	line := sort.Search(len(r.lines), func(i int) bool { return r.lines[i] > offset })
	lineStart := r.lines[line-1]
	return action.Position{
		Offset: offset,
		Line:   line,
		Column: utf8.RuneCountInString(r.input[lineStart:offset]) + 1,
	}
}

func lineStarts(input string) []int {
	starts := []int{0}
	for i := 0; i < len(input); i++ {
		if input[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}
