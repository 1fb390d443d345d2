package peg

import (
	"errors"
	"fmt"
	"strings"

	"github.com/leapstack-labs/pegtmpl/pkg/action"
)

// ErrStartRule is returned when a parse asks for a start rule that is not
// allowed.
var ErrStartRule = errors.New("cannot start parsing from rule")

// GrammarSyntaxError reports grammar text the compiler rejects: syntax
// errors and structurally invalid grammars.
type GrammarSyntaxError struct {
	File    string
	Pos     action.Position
	Message string
	Err     error
}

func newGrammarSyntaxErrorf(file string, pos action.Position, format string, args ...any) *GrammarSyntaxError {
	return &GrammarSyntaxError{File: file, Pos: pos, Message: fmt.Sprintf(format, args...)}
}

func (e *GrammarSyntaxError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Pos.Line, e.Pos.Column, e.Message)
	}
	return fmt.Sprintf("%d:%d: %s", e.Pos.Line, e.Pos.Column, e.Message)
}

func (e *GrammarSyntaxError) Unwrap() error { return e.Err }

// RuntimeBindingError reports a code block that references a name bound
// nowhere in its scope: a missing label or an unknown action. It surfaces
// when the block first runs.
type RuntimeBindingError struct {
	Rule string
	Name string
	Pos  action.Position
	Err  error
}

func (e *RuntimeBindingError) Error() string {
	return fmt.Sprintf("%s: rule %s: code block references undefined name %q", e.Pos, e.Rule, e.Name)
}

func (e *RuntimeBindingError) Unwrap() error { return e.Err }

// ActionError reports a code block or action that failed while running.
type ActionError struct {
	Rule string
	Pos  action.Position
	Err  error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s: rule %s: action failed: %v", e.Pos, e.Rule, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// ParseError reports input that does not match the grammar. Pos is the
// furthest position any expression failed at.
type ParseError struct {
	Pos      action.Position
	Expected []string
	// Found is the offending character, empty at end of input.
	Found string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Message())
}

// Message renders the error without its position.
func (e *ParseError) Message() string {
	found := "end of input"
	if e.Found != "" {
		found = fmt.Sprintf("%q", e.Found)
	}
	return fmt.Sprintf("Expected %s but %s found.", joinExpected(e.Expected), found)
}

func joinExpected(exp []string) string {
	switch len(exp) {
	case 0:
		return "nothing"
	case 1:
		return exp[0]
	case 2:
		return exp[0] + " or " + exp[1]
	}
	return strings.Join(exp[:len(exp)-1], ", ") + ", or " + exp[len(exp)-1]
}
