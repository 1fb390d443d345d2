package peg

import (
	"slices"
	"strings"

	starctx "github.com/leapstack-labs/pegtmpl/internal/starlark"
)

// starlarkKeywords cannot be labels: labels become block parameters.
var starlarkKeywords = map[string]bool{
	"and": true, "break": true, "continue": true, "def": true, "elif": true,
	"else": true, "for": true, "if": true, "in": true, "lambda": true,
	"load": true, "not": true, "or": true, "pass": true, "return": true,
	"while": true, "None": true, "True": true, "False": true,
}

// analyze validates g and records the labels each code block can see.
func analyze(file string, g *Grammar) error {
	for _, r := range g.Rules {
		var err error
		Walk(r.Expr, func(e Expr) {
			ref, ok := e.(*RuleRef)
			if !ok || err != nil {
				return
			}
			if _, ok := g.index[ref.Name]; !ok {
				err = newGrammarSyntaxErrorf(file, ref.pos, "rule %q is not defined", ref.Name)
			}
		})
		if err != nil {
			return err
		}
	}

	for _, r := range g.Rules {
		if err := bindLabels(file, r.Expr, nil); err != nil {
			return err
		}
	}

	nullable := computeNullable(g)

	for _, r := range g.Rules {
		var err error
		Walk(r.Expr, func(e Expr) {
			if err != nil {
				return
			}
			var inner Expr
			switch n := e.(type) {
			case *ZeroOrMore:
				inner = n.Expr
			case *OneOrMore:
				inner = n.Expr
			default:
				return
			}
			if nullable.expr(inner) {
				err = newGrammarSyntaxErrorf(file, e.Position(),
					"possible infinite loop when parsing (repetition used with an expression that may not consume any input)")
			}
		})
		if err != nil {
			return err
		}
	}

	return checkLeftRecursion(file, g, nullable)
}

// bindLabels walks e with the labels visible from enclosing sequences and
// records the scope of every code block. It mirrors how the evaluator
// builds scopes at run time.
func bindLabels(file string, e Expr, visible []string) error {
	switch n := e.(type) {
	case *Sequence:
		local := slices.Clone(visible)
		seen := make(map[string]bool)
		for _, elem := range n.Elements {
			if l, ok := elem.(*Labeled); ok {
				if err := checkLabel(file, l, seen); err != nil {
					return err
				}
				if err := bindLabels(file, l.Expr, local); err != nil {
					return err
				}
				local = append(local, l.Label)
				continue
			}
			if err := bindLabels(file, elem, local); err != nil {
				return err
			}
		}
		return nil

	case *Labeled:
		if err := checkLabel(file, n, map[string]bool{}); err != nil {
			return err
		}
		return bindLabels(file, n.Expr, visible)

	case *ActionExpr:
		if err := bindLabels(file, n.Expr, visible); err != nil {
			return err
		}
		n.Code.Labels = scopeNames(visible, labelsOf(n.Expr))
		return nil

	case *SemanticAnd:
		n.Code.Labels = scopeNames(visible, nil)
		return nil

	case *SemanticNot:
		n.Code.Labels = scopeNames(visible, nil)
		return nil

	case *Choice:
		for _, a := range n.Alternatives {
			if err := bindLabels(file, a, visible); err != nil {
				return err
			}
		}
		return nil

	case *TextExpr:
		return bindLabels(file, n.Expr, visible)
	case *AndPredicate:
		return bindLabels(file, n.Expr, visible)
	case *NotPredicate:
		return bindLabels(file, n.Expr, visible)
	case *Optional:
		return bindLabels(file, n.Expr, visible)
	case *ZeroOrMore:
		return bindLabels(file, n.Expr, visible)
	case *OneOrMore:
		return bindLabels(file, n.Expr, visible)
	case *Group:
		return bindLabels(file, n.Expr, visible)
	}
	return nil
}

func checkLabel(file string, l *Labeled, seen map[string]bool) error {
	switch {
	case starctx.IsReserved(l.Label):
		return newGrammarSyntaxErrorf(file, l.pos, "label %q is reserved", l.Label)
	case starlarkKeywords[l.Label]:
		return newGrammarSyntaxErrorf(file, l.pos, "label %q is a keyword", l.Label)
	case seen[l.Label]:
		return newGrammarSyntaxErrorf(file, l.pos, "label %q is already defined", l.Label)
	}
	seen[l.Label] = true
	return nil
}

// labelsOf returns the labels an action attached to e can see directly.
func labelsOf(e Expr) []string {
	switch n := e.(type) {
	case *Sequence:
		var out []string
		for _, elem := range n.Elements {
			if l, ok := elem.(*Labeled); ok {
				out = append(out, l.Label)
			}
		}
		return out
	case *Labeled:
		return []string{n.Label}
	}
	return nil
}

// scopeNames merges outer and inner labels; inner labels shadow outer ones.
func scopeNames(outer, inner []string) []string {
	out := make([]string, 0, len(outer)+len(inner))
	for _, name := range outer {
		if !slices.Contains(inner, name) && !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	return append(out, inner...)
}

type nullability map[string]bool

// computeNullable finds the rules that can succeed without consuming input.
func computeNullable(g *Grammar) nullability {
	n := make(nullability, len(g.Rules))
	for changed := true; changed; {
		changed = false
		for _, r := range g.Rules {
			if !n[r.Name] && n.expr(r.Expr) {
				n[r.Name] = true
				changed = true
			}
		}
	}
	return n
}

func (n nullability) expr(e Expr) bool {
	switch e := e.(type) {
	case *Choice:
		return slices.ContainsFunc(e.Alternatives, n.expr)
	case *Sequence:
		for _, elem := range e.Elements {
			if !n.expr(elem) {
				return false
			}
		}
		return true
	case *Labeled:
		return n.expr(e.Expr)
	case *TextExpr:
		return n.expr(e.Expr)
	case *ActionExpr:
		return n.expr(e.Expr)
	case *Group:
		return n.expr(e.Expr)
	case *OneOrMore:
		return n.expr(e.Expr)
	case *Literal:
		return e.Value == ""
	case *RuleRef:
		return n[e.Name]
	case *Class, *AnyChar:
		return false
	}
	// predicates, ?, *
	return true
}

// leftRefs returns the rules e may invoke before consuming any input.
func (n nullability) leftRefs(e Expr) []string {
	switch e := e.(type) {
	case *RuleRef:
		return []string{e.Name}
	case *Choice:
		var out []string
		for _, a := range e.Alternatives {
			out = append(out, n.leftRefs(a)...)
		}
		return out
	case *Sequence:
		var out []string
		for _, elem := range e.Elements {
			out = append(out, n.leftRefs(elem)...)
			if !n.expr(elem) {
				break
			}
		}
		return out
	case *Labeled:
		return n.leftRefs(e.Expr)
	case *TextExpr:
		return n.leftRefs(e.Expr)
	case *AndPredicate:
		return n.leftRefs(e.Expr)
	case *NotPredicate:
		return n.leftRefs(e.Expr)
	case *Optional:
		return n.leftRefs(e.Expr)
	case *ZeroOrMore:
		return n.leftRefs(e.Expr)
	case *OneOrMore:
		return n.leftRefs(e.Expr)
	case *ActionExpr:
		return n.leftRefs(e.Expr)
	case *Group:
		return n.leftRefs(e.Expr)
	}
	return nil
}

func checkLeftRecursion(file string, g *Grammar, nullable nullability) error {
	const (
		unvisited = iota
		active
		done
	)
	state := make(map[string]int, len(g.Rules))
	var path []string

	var visit func(r *Rule) error
	visit = func(r *Rule) error {
		state[r.Name] = active
		path = append(path, r.Name)
		for _, name := range nullable.leftRefs(r.Expr) {
			switch state[name] {
			case active:
				i := slices.Index(path, name)
				cycle := append(slices.Clone(path[i:]), name)
				return newGrammarSyntaxErrorf(file, r.Pos,
					"possible infinite loop when parsing (left recursion: %s)", strings.Join(cycle, " -> "))
			case unvisited:
				next, _ := g.Rule(name)
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		path = path[:len(path)-1]
		state[r.Name] = done
		return nil
	}

	for _, r := range g.Rules {
		if state[r.Name] == unvisited {
			if err := visit(r); err != nil {
				return err
			}
		}
	}
	return nil
}
