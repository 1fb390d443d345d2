package template

import (
	"strings"
	"unicode/utf8"
)

// TokenType identifies the type of token.
type TokenType int

// TokenType constants for template token types.
const (
	TokenText TokenType = iota // Literal grammar text
	TokenSlot                  // Slot content (between {{ and }})
	TokenEOF                   // End of input
)

func (t TokenType) String() string {
	switch t {
	case TokenText:
		return "TEXT"
	case TokenSlot:
		return "SLOT"
	case TokenEOF:
		return "EOF"
	default:
		return "UNKNOWN"
	}
}

// Token represents a lexical token.
type Token struct {
	Type  TokenType
	Value string
	Pos   Position
}

// Lexer tokenizes template text.
type Lexer struct {
	input    string
	file     string
	pos      int // current position in input
	line     int // current line number (1-based)
	col      int // current column number (1-based)
	lastLine int // line at start of current token
	lastCol  int // column at start of current token
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input, file string) *Lexer {
	return newLexerAt(input, file, 1, 1)
}

// newLexerAt creates a lexer for input that begins at line:col of file.
func newLexerAt(input, file string, line, col int) *Lexer {
	return &Lexer{
		input: input,
		file:  file,
		line:  line,
		col:   col,
	}
}

// Tokenize converts the input into a slice of tokens.
func (l *Lexer) Tokenize() ([]Token, error) {
	var tokens []Token
	for {
		tok, err := l.nextToken()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			return tokens, nil
		}
	}
}

func (l *Lexer) nextToken() (Token, error) {
	if l.pos >= len(l.input) {
		return Token{Type: TokenEOF, Pos: l.position()}, nil
	}
	if l.matchString("{{") {
		return l.scanSlot()
	}
	return l.scanText()
}

// scanText scans grammar text up to the next slot or EOF.
func (l *Lexer) scanText() (Token, error) {
	l.markStart()
	start := l.pos

	for l.pos < len(l.input) && !l.matchString("{{") {
		l.advance()
	}

	return Token{
		Type:  TokenText,
		Value: l.input[start:l.pos],
		Pos:   l.startPosition(),
	}, nil
}

// scanSlot scans a {{ ... }} slot. Braces nested inside it, as in a
// lambda returning a dict, must balance.
func (l *Lexer) scanSlot() (Token, error) {
	l.markStart()

	// Skip {{
	l.pos += 2
	l.col += 2

	start := l.pos
	depth := 0

	for l.pos < len(l.input) {
		if depth == 0 && l.matchString("}}") {
			value := strings.TrimSpace(l.input[start:l.pos])
			l.pos += 2
			l.col += 2
			return Token{
				Type:  TokenSlot,
				Value: value,
				Pos:   l.startPosition(),
			}, nil
		}

		switch l.peek() {
		case '{':
			depth++
		case '}':
			if depth > 0 {
				depth--
			}
		}
		l.advance()
	}

	return Token{}, NewLexError(l.startPosition(), "unclosed slot: missing '}}'")
}

// peek returns the current rune without advancing.
func (l *Lexer) peek() rune {
	if l.pos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.pos:])
	return r
}

// advance moves to the next rune, updating position tracking.
func (l *Lexer) advance() {
	if l.pos >= len(l.input) {
		return
	}
	r, size := utf8.DecodeRuneInString(l.input[l.pos:])
	l.pos += size
	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
}

func (l *Lexer) matchString(s string) bool {
	return strings.HasPrefix(l.input[l.pos:], s)
}

func (l *Lexer) markStart() {
	l.lastLine = l.line
	l.lastCol = l.col
}

func (l *Lexer) position() Position {
	return Position{File: l.file, Line: l.line, Column: l.col}
}

func (l *Lexer) startPosition() Position {
	return Position{File: l.file, Line: l.lastLine, Column: l.lastCol}
}
