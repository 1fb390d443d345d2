package peg

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/leapstack-labs/pegtmpl/pkg/action"
)

// Grammar is a parsed grammar.
type Grammar struct {
	// Initializer is the optional leading code block. It runs once when the
	// grammar is compiled; the globals it defines are visible to every block.
	Initializer *Code

	Rules []*Rule

	index   map[string]int
	nblocks int
}

// Rule returns the rule named name.
func (g *Grammar) Rule(name string) (*Rule, bool) {
	i, ok := g.index[name]
	if !ok {
		return nil, false
	}
	return g.Rules[i], true
}

// Blocks returns every code block in the grammar, rule by rule, the
// initializer excluded.
func (g *Grammar) Blocks() []*Code {
	var out []*Code
	for _, r := range g.Rules {
		Walk(r.Expr, func(e Expr) {
			switch n := e.(type) {
			case *ActionExpr:
				out = append(out, n.Code)
			case *SemanticAnd:
				out = append(out, n.Code)
			case *SemanticNot:
				out = append(out, n.Code)
			}
		})
	}
	return out
}

// Rule is a named grammar rule.
type Rule struct {
	Name        string
	DisplayName string
	Expr        Expr
	Pos         action.Position
}

// Expr is a parsing expression.
type Expr interface {
	Position() action.Position
	String() string
}

type node struct {
	pos action.Position
}

func (n node) Position() action.Position { return n.pos }

// Choice tries each alternative in order; the first match wins.
type Choice struct {
	node
	Alternatives []Expr
}

// Sequence matches its elements in order. Its value is the list of element
// values.
type Sequence struct {
	node
	Elements []Expr
}

// Labeled binds the value of Expr to Label for code blocks in scope.
type Labeled struct {
	node
	Label string
	Expr  Expr
}

// TextExpr ($expr) evaluates to the input matched by Expr.
type TextExpr struct {
	node
	Expr Expr
}

// AndPredicate (&expr) succeeds if Expr matches, consuming nothing.
type AndPredicate struct {
	node
	Expr Expr
}

// NotPredicate (!expr) succeeds if Expr does not match, consuming nothing.
type NotPredicate struct {
	node
	Expr Expr
}

// Optional (expr?) evaluates to Expr's value, or None.
type Optional struct {
	node
	Expr Expr
}

// ZeroOrMore (expr*) evaluates to the list of matches.
type ZeroOrMore struct {
	node
	Expr Expr
}

// OneOrMore (expr+) evaluates to the list of matches.
type OneOrMore struct {
	node
	Expr Expr
}

// Literal matches a string, optionally ignoring case.
type Literal struct {
	node
	Value      string
	IgnoreCase bool
}

// ClassRange is one item of a character class. Single characters have
// Low == High.
type ClassRange struct {
	Low, High rune
}

// Class matches one character from (or, when Inverted, outside) a set.
type Class struct {
	node
	Ranges     []ClassRange
	Inverted   bool
	IgnoreCase bool
	Raw        string
}

// AnyChar (.) matches any single character.
type AnyChar struct {
	node
}

// RuleRef invokes another rule.
type RuleRef struct {
	node
	Name string
}

// ActionExpr runs Code after Expr matches; its value is Code's result.
type ActionExpr struct {
	node
	Expr Expr
	Code *Code
}

// SemanticAnd (&{ code }) succeeds if Code returns a true value.
type SemanticAnd struct {
	node
	Code *Code
}

// SemanticNot (!{ code }) succeeds if Code returns a false value.
type SemanticNot struct {
	node
	Code *Code
}

// Code is a Starlark code block.
type Code struct {
	// Body is the text between the braces.
	Body string

	// Pos is the position of the opening brace.
	Pos action.Position

	// Rule is the name of the enclosing rule.
	Rule string

	// Labels holds the labels in scope, outermost first, set when the
	// grammar is analyzed.
	Labels []string

	// id indexes the block within its grammar; the initializer is -1.
	id int
}

func (c *Code) String() string { return "{" + c.Body + "}" }

func (e *Choice) String() string {
	parts := make([]string, len(e.Alternatives))
	for i, a := range e.Alternatives {
		parts[i] = a.String()
	}
	return strings.Join(parts, " / ")
}

func (e *Sequence) String() string {
	parts := make([]string, len(e.Elements))
	for i, a := range e.Elements {
		parts[i] = a.String()
	}
	return strings.Join(parts, " ")
}

func (e *Labeled) String() string      { return e.Label + ":" + e.Expr.String() }
func (e *TextExpr) String() string     { return "$" + e.Expr.String() }
func (e *AndPredicate) String() string { return "&" + e.Expr.String() }
func (e *NotPredicate) String() string { return "!" + e.Expr.String() }
func (e *Optional) String() string     { return e.Expr.String() + "?" }
func (e *ZeroOrMore) String() string   { return e.Expr.String() + "*" }
func (e *OneOrMore) String() string    { return e.Expr.String() + "+" }
func (e *AnyChar) String() string      { return "." }
func (e *RuleRef) String() string      { return e.Name }
func (e *ActionExpr) String() string   { return e.Expr.String() + " " + e.Code.String() }
func (e *SemanticAnd) String() string  { return "&" + e.Code.String() }
func (e *SemanticNot) String() string  { return "!" + e.Code.String() }

func (e *Literal) String() string {
	s := strconv.Quote(e.Value)
	if e.IgnoreCase {
		s += "i"
	}
	return s
}

func (e *Class) String() string {
	s := e.Raw
	if e.IgnoreCase {
		s += "i"
	}
	return s
}

// Walk calls fn for e and every expression beneath it, parents first.
func Walk(e Expr, fn func(Expr)) {
	fn(e)
	switch n := e.(type) {
	case *Choice:
		for _, a := range n.Alternatives {
			Walk(a, fn)
		}
	case *Sequence:
		for _, a := range n.Elements {
			Walk(a, fn)
		}
	case *Labeled:
		Walk(n.Expr, fn)
	case *TextExpr:
		Walk(n.Expr, fn)
	case *AndPredicate:
		Walk(n.Expr, fn)
	case *NotPredicate:
		Walk(n.Expr, fn)
	case *Optional:
		Walk(n.Expr, fn)
	case *ZeroOrMore:
		Walk(n.Expr, fn)
	case *OneOrMore:
		Walk(n.Expr, fn)
	case *ActionExpr:
		Walk(n.Expr, fn)
	case *Group:
		Walk(n.Expr, fn)
	}
}

// describe renders an expectation the way parse errors print it.
func describe(e Expr) string {
	switch n := e.(type) {
	case *Literal:
		return n.String()
	case *Class:
		return n.String()
	case *AnyChar:
		return "any character"
	default:
		return fmt.Sprintf("%v", e)
	}
}
