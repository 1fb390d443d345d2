package template

import "fmt"

// Error is the base interface for all template errors.
type Error interface {
	error
	Position() Position
}

// baseError provides common error functionality.
type baseError struct {
	pos Position
	msg string
}

func (e *baseError) Position() Position { return e.pos }
func (e *baseError) Error() string {
	return fmt.Sprintf("%s: %s", e.pos, e.msg)
}

// LexError represents an error during lexical analysis.
type LexError struct {
	baseError
}

// NewLexError creates a new lexer error.
func NewLexError(pos Position, msg string) *LexError {
	return &LexError{baseError: baseError{pos: pos, msg: msg}}
}

// ParseError represents a malformed slot.
type ParseError struct {
	baseError
}

// NewParseErrorf creates a new parser error with formatting.
func NewParseErrorf(pos Position, format string, args ...any) *ParseError {
	return &ParseError{baseError: baseError{pos: pos, msg: fmt.Sprintf(format, args...)}}
}

// ResolveError reports a slot whose action could not be found.
type ResolveError struct {
	baseError
	Cause error
}

// WrapResolveError wraps an underlying lookup error.
func WrapResolveError(pos Position, ref string, cause error) *ResolveError {
	return &ResolveError{
		baseError: baseError{pos: pos, msg: fmt.Sprintf("cannot resolve action %q", ref)},
		Cause:     cause,
	}
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("%s: %v", e.baseError.Error(), e.Cause)
}

func (e *ResolveError) Unwrap() error {
	return e.Cause
}

// FrontmatterParseError represents a frontmatter parsing error.
type FrontmatterParseError struct {
	File    string
	Message string
}

func (e *FrontmatterParseError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s: %s", e.File, e.Message)
	}
	return e.Message
}

// UnknownFieldError represents an error for unknown frontmatter fields.
type UnknownFieldError struct {
	File  string
	Field string
}

func (e *UnknownFieldError) Error() string {
	msg := fmt.Sprintf("unknown field %q in frontmatter, use \"meta\" field for custom fields", e.Field)
	if e.File != "" {
		return fmt.Sprintf("%s: %s", e.File, msg)
	}
	return msg
}
