package peg

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/leapstack-labs/pegtmpl/pkg/action"
)

// Group is a parenthesized expression that hides the labels inside it.
// The grammar parser only produces it around labeled expressions, where it
// changes scoping; other parentheses are transparent.
type Group struct {
	node
	Expr Expr
}

func (e *Group) String() string { return "(" + e.Expr.String() + ")" }

// ParseGrammar parses grammar source into an unanalyzed Grammar.
// file names the source in error messages and may be empty.
func ParseGrammar(file, src string) (*Grammar, error) {
	p := &grammarParser{src: src, file: file, line: 1, col: 1}
	return p.parseGrammar()
}

// grammarParser is a hand-written recursive descent parser over grammar
// source.
type grammarParser struct {
	src  string
	file string
	pos  int // current byte offset
	line int // current line number (1-based)
	col  int // current column number (1-based)

	rule   string // rule being parsed
	blocks int
}

type parserState struct {
	pos, line, col int
}

func (p *grammarParser) save() parserState     { return parserState{p.pos, p.line, p.col} }
func (p *grammarParser) restore(s parserState) { p.pos, p.line, p.col = s.pos, s.line, s.col }

func (p *grammarParser) position() action.Position {
	return action.Position{Offset: p.pos, Line: p.line, Column: p.col}
}

func (p *grammarParser) eof() bool { return p.pos >= len(p.src) }

// peek returns the current rune without consuming it.
func (p *grammarParser) peek() rune {
	if p.eof() {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(p.src[p.pos:])
	return r
}

// peekAt returns the byte at offset n from the current position.
func (p *grammarParser) peekAt(n int) byte {
	if p.pos+n >= len(p.src) {
		return 0
	}
	return p.src[p.pos+n]
}

// advance consumes one rune and returns it.
func (p *grammarParser) advance() rune {
	if p.eof() {
		return 0
	}
	r, size := utf8.DecodeRuneInString(p.src[p.pos:])
	p.pos += size
	if r == '\n' {
		p.line++
		p.col = 1
	} else {
		p.col++
	}
	return r
}

func (p *grammarParser) matchString(s string) bool {
	return strings.HasPrefix(p.src[p.pos:], s)
}

func (p *grammarParser) errorf(pos action.Position, format string, args ...any) *GrammarSyntaxError {
	return newGrammarSyntaxErrorf(p.file, pos, format, args...)
}

// skip consumes whitespace and comments.
func (p *grammarParser) skip() error {
	for !p.eof() {
		switch {
		case unicode.IsSpace(p.peek()):
			p.advance()
		case p.matchString("//"):
			for !p.eof() && p.peek() != '\n' {
				p.advance()
			}
		case p.matchString("/*"):
			start := p.position()
			p.advance()
			p.advance()
			for !p.matchString("*/") {
				if p.eof() {
					return p.errorf(start, "unterminated comment")
				}
				p.advance()
			}
			p.advance()
			p.advance()
		default:
			return nil
		}
	}
	return nil
}

func (p *grammarParser) parseGrammar() (*Grammar, error) {
	g := &Grammar{index: make(map[string]int)}

	if err := p.skip(); err != nil {
		return nil, err
	}
	if p.peek() == '{' {
		code, err := p.parseCode()
		if err != nil {
			return nil, err
		}
		code.id = -1
		g.Initializer = code
		if err := p.skip(); err != nil {
			return nil, err
		}
		if p.peek() == ';' {
			p.advance()
		}
	}

	for {
		if err := p.skip(); err != nil {
			return nil, err
		}
		if p.eof() {
			break
		}
		rule, err := p.parseRule()
		if err != nil {
			return nil, err
		}
		if _, dup := g.index[rule.Name]; dup {
			return nil, p.errorf(rule.Pos, "rule %q is already defined", rule.Name)
		}
		g.index[rule.Name] = len(g.Rules)
		g.Rules = append(g.Rules, rule)
	}

	if len(g.Rules) == 0 {
		return nil, p.errorf(p.position(), "grammar has no rules")
	}
	g.nblocks = p.blocks
	return g, nil
}

func (p *grammarParser) parseRule() (*Rule, error) {
	pos := p.position()
	name, ok := p.parseIdent()
	if !ok {
		return nil, p.errorf(pos, "expected rule name, found %s", p.found())
	}
	p.rule = name
	rule := &Rule{Name: name, Pos: pos}

	if err := p.skip(); err != nil {
		return nil, err
	}
	if q := p.peek(); q == '"' || q == '\'' {
		display, err := p.parseString()
		if err != nil {
			return nil, err
		}
		rule.DisplayName = display
		if err := p.skip(); err != nil {
			return nil, err
		}
	}

	if p.peek() != '=' {
		return nil, p.errorf(p.position(), "expected \"=\" after rule name %q, found %s", name, p.found())
	}
	p.advance()
	if err := p.skip(); err != nil {
		return nil, err
	}

	expr, err := p.parseChoice()
	if err != nil {
		return nil, err
	}
	rule.Expr = expr

	if err := p.skip(); err != nil {
		return nil, err
	}
	if p.peek() == ';' {
		p.advance()
	}
	return rule, nil
}

func (p *grammarParser) parseChoice() (Expr, error) {
	pos := p.position()
	first, err := p.parseActionExpr()
	if err != nil {
		return nil, err
	}
	alts := []Expr{first}

	for {
		if err := p.skip(); err != nil {
			return nil, err
		}
		if p.peek() != '/' {
			break
		}
		p.advance()
		if err := p.skip(); err != nil {
			return nil, err
		}
		alt, err := p.parseActionExpr()
		if err != nil {
			return nil, err
		}
		alts = append(alts, alt)
	}

	if len(alts) == 1 {
		return first, nil
	}
	return &Choice{node: node{pos}, Alternatives: alts}, nil
}

func (p *grammarParser) parseActionExpr() (Expr, error) {
	pos := p.position()
	expr, err := p.parseSequence()
	if err != nil {
		return nil, err
	}
	if err := p.skip(); err != nil {
		return nil, err
	}
	if p.peek() != '{' {
		return expr, nil
	}
	code, err := p.parseCode()
	if err != nil {
		return nil, err
	}
	return &ActionExpr{node: node{pos}, Expr: expr, Code: code}, nil
}

func (p *grammarParser) parseSequence() (Expr, error) {
	pos := p.position()
	var elems []Expr
	for {
		if err := p.skip(); err != nil {
			return nil, err
		}
		if !p.startsElement() {
			break
		}
		elem, err := p.parseLabeled()
		if err != nil {
			return nil, err
		}
		elems = append(elems, elem)
	}

	switch len(elems) {
	case 0:
		return nil, p.errorf(p.position(), "expected expression, found %s", p.found())
	case 1:
		return elems[0], nil
	}
	return &Sequence{node: node{pos}, Elements: elems}, nil
}

// startsElement reports whether a sequence element starts here. An
// identifier that begins the next rule definition does not.
func (p *grammarParser) startsElement() bool {
	switch r := p.peek(); {
	case r == '"', r == '\'', r == '[', r == '.', r == '(', r == '$', r == '&', r == '!':
		return true
	case isIdentStart(r):
		return !p.atRuleStart()
	}
	return false
}

// atRuleStart looks ahead for `name "display"? =`.
func (p *grammarParser) atRuleStart() bool {
	s := p.save()
	defer p.restore(s)

	if _, ok := p.parseIdent(); !ok {
		return false
	}
	if p.skip() != nil {
		return false
	}
	if q := p.peek(); q == '"' || q == '\'' {
		if _, err := p.parseString(); err != nil {
			return false
		}
		if p.skip() != nil {
			return false
		}
	}
	return p.peek() == '='
}

func (p *grammarParser) parseLabeled() (Expr, error) {
	pos := p.position()
	if isIdentStart(p.peek()) {
		s := p.save()
		label, _ := p.parseIdent()
		if err := p.skip(); err != nil {
			return nil, err
		}
		if p.peek() == ':' {
			p.advance()
			if err := p.skip(); err != nil {
				return nil, err
			}
			expr, err := p.parsePrefixed()
			if err != nil {
				return nil, err
			}
			return &Labeled{node: node{pos}, Label: label, Expr: expr}, nil
		}
		p.restore(s)
	}
	return p.parsePrefixed()
}

func (p *grammarParser) parsePrefixed() (Expr, error) {
	pos := p.position()
	switch p.peek() {
	case '$':
		p.advance()
		if err := p.skip(); err != nil {
			return nil, err
		}
		expr, err := p.parseSuffixed()
		if err != nil {
			return nil, err
		}
		return &TextExpr{node: node{pos}, Expr: expr}, nil

	case '&', '!':
		op := p.advance()
		if err := p.skip(); err != nil {
			return nil, err
		}
		if p.peek() == '{' {
			code, err := p.parseCode()
			if err != nil {
				return nil, err
			}
			if op == '&' {
				return &SemanticAnd{node: node{pos}, Code: code}, nil
			}
			return &SemanticNot{node: node{pos}, Code: code}, nil
		}
		expr, err := p.parseSuffixed()
		if err != nil {
			return nil, err
		}
		if op == '&' {
			return &AndPredicate{node: node{pos}, Expr: expr}, nil
		}
		return &NotPredicate{node: node{pos}, Expr: expr}, nil
	}
	return p.parseSuffixed()
}

func (p *grammarParser) parseSuffixed() (Expr, error) {
	pos := p.position()
	expr, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	s := p.save()
	if err := p.skip(); err != nil {
		return nil, err
	}
	switch p.peek() {
	case '?':
		p.advance()
		return &Optional{node: node{pos}, Expr: expr}, nil
	case '*':
		p.advance()
		return &ZeroOrMore{node: node{pos}, Expr: expr}, nil
	case '+':
		p.advance()
		return &OneOrMore{node: node{pos}, Expr: expr}, nil
	}
	p.restore(s)
	return expr, nil
}

func (p *grammarParser) parsePrimary() (Expr, error) {
	pos := p.position()
	switch r := p.peek(); {
	case r == '"' || r == '\'':
		value, err := p.parseString()
		if err != nil {
			return nil, err
		}
		lit := &Literal{node: node{pos}, Value: value}
		if p.peek() == 'i' && !isIdentPart(rune(p.peekAt(1))) {
			p.advance()
			lit.IgnoreCase = true
		}
		return lit, nil

	case r == '[':
		return p.parseClass()

	case r == '.':
		p.advance()
		return &AnyChar{node: node{pos}}, nil

	case r == '(':
		p.advance()
		if err := p.skip(); err != nil {
			return nil, err
		}
		expr, err := p.parseChoice()
		if err != nil {
			return nil, err
		}
		if err := p.skip(); err != nil {
			return nil, err
		}
		if p.peek() != ')' {
			return nil, p.errorf(p.position(), "expected \")\", found %s", p.found())
		}
		p.advance()
		if _, ok := expr.(*Labeled); ok {
			return &Group{node: node{pos}, Expr: expr}, nil
		}
		return expr, nil

	case isIdentStart(r):
		name, _ := p.parseIdent()
		return &RuleRef{node: node{pos}, Name: name}, nil
	}
	return nil, p.errorf(pos, "expected expression, found %s", p.found())
}

func (p *grammarParser) parseIdent() (string, bool) {
	if !isIdentStart(p.peek()) {
		return "", false
	}
	start := p.pos
	for !p.eof() && isIdentPart(p.peek()) {
		p.advance()
	}
	return p.src[start:p.pos], true
}

// parseString parses a quoted literal with Go-like escapes.
func (p *grammarParser) parseString() (string, error) {
	start := p.position()
	quote := p.advance()
	var b strings.Builder
	for {
		if p.eof() || p.peek() == '\n' {
			return "", p.errorf(start, "unterminated string literal")
		}
		r := p.advance()
		if r == quote {
			return b.String(), nil
		}
		if r == '\\' {
			er, err := p.parseEscape()
			if err != nil {
				return "", err
			}
			b.WriteRune(er)
			continue
		}
		b.WriteRune(r)
	}
}

// parseEscape decodes the escape sequence after a backslash.
func (p *grammarParser) parseEscape() (rune, error) {
	pos := p.position()
	if p.eof() {
		return 0, p.errorf(pos, "unterminated escape sequence")
	}
	switch r := p.advance(); r {
	case 'n':
		return '\n', nil
	case 't':
		return '\t', nil
	case 'r':
		return '\r', nil
	case 'b':
		return '\b', nil
	case 'f':
		return '\f', nil
	case 'v':
		return '\v', nil
	case '0':
		return 0, nil
	case 'x':
		return p.parseHex(pos, 2)
	case 'u':
		return p.parseHex(pos, 4)
	default:
		return r, nil
	}
}

func (p *grammarParser) parseHex(pos action.Position, n int) (rune, error) {
	if p.pos+n > len(p.src) {
		return 0, p.errorf(pos, "invalid escape sequence")
	}
	v, err := strconv.ParseUint(p.src[p.pos:p.pos+n], 16, 32)
	if err != nil {
		return 0, p.errorf(pos, "invalid escape sequence")
	}
	for range n {
		p.advance()
	}
	return rune(v), nil
}

func (p *grammarParser) parseClass() (Expr, error) {
	pos := p.position()
	start := p.pos
	p.advance() // [
	class := &Class{node: node{pos}}
	if p.peek() == '^' {
		p.advance()
		class.Inverted = true
	}

	for {
		if p.eof() || p.peek() == '\n' {
			return nil, p.errorf(pos, "unterminated character class")
		}
		if p.peek() == ']' {
			p.advance()
			break
		}
		low, err := p.classChar()
		if err != nil {
			return nil, err
		}
		high := low
		if p.peek() == '-' && p.peekAt(1) != ']' {
			p.advance()
			if high, err = p.classChar(); err != nil {
				return nil, err
			}
			if high < low {
				return nil, p.errorf(pos, "invalid character range %c-%c", low, high)
			}
		}
		class.Ranges = append(class.Ranges, ClassRange{Low: low, High: high})
	}

	class.Raw = p.src[start:p.pos]
	if p.peek() == 'i' && !isIdentPart(rune(p.peekAt(1))) {
		p.advance()
		class.IgnoreCase = true
	}
	return class, nil
}

func (p *grammarParser) classChar() (rune, error) {
	r := p.advance()
	if r == '\\' {
		return p.parseEscape()
	}
	return r, nil
}

// parseCode scans a brace-balanced code block. Braces inside Starlark
// string literals and comments do not count.
func (p *grammarParser) parseCode() (*Code, error) {
	pos := p.position()
	p.advance() // {
	start := p.pos
	depth := 1

	for {
		if p.eof() {
			return nil, p.errorf(pos, "unterminated code block")
		}
		switch r := p.peek(); r {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				body := p.src[start:p.pos]
				p.advance()
				code := &Code{Body: body, Pos: pos, Rule: p.rule, id: p.blocks}
				p.blocks++
				return code, nil
			}
		case '#':
			for !p.eof() && p.peek() != '\n' {
				p.advance()
			}
			continue
		case '"', '\'':
			if err := p.skipCodeString(r); err != nil {
				return nil, err
			}
			continue
		}
		p.advance()
	}
}

func (p *grammarParser) skipCodeString(quote rune) error {
	pos := p.position()
	triple := strings.Repeat(string(quote), 3)
	if p.matchString(triple) {
		for range 3 {
			p.advance()
		}
		for !p.matchString(triple) {
			if p.eof() {
				return p.errorf(pos, "unterminated string in code block")
			}
			if p.advance() == '\\' {
				p.advance()
			}
		}
		for range 3 {
			p.advance()
		}
		return nil
	}

	p.advance()
	for {
		if p.eof() || p.peek() == '\n' {
			return p.errorf(pos, "unterminated string in code block")
		}
		r := p.advance()
		if r == '\\' {
			p.advance()
			continue
		}
		if r == quote {
			return nil
		}
	}
}

// found describes the input at the current position for error messages.
func (p *grammarParser) found() string {
	if p.eof() {
		return "end of input"
	}
	return strconv.QuoteRune(p.peek())
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
