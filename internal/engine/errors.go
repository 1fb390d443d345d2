package engine

import (
	"context"
	"errors"

	"github.com/leapstack-labs/pegtmpl/internal/library"
	"github.com/leapstack-labs/pegtmpl/internal/template"
	"github.com/leapstack-labs/pegtmpl/pkg/peg"
	"github.com/leapstack-labs/pegtmpl/pkg/pegtmpl"
)

// Error kinds, used as metric labels and in check reports.
const (
	KindTemplate       = "template"
	KindResolve        = "resolve"
	KindLibrary        = "library"
	KindArity          = "arity"
	KindInvalidAction  = "invalid_action"
	KindSignature      = "signature"
	KindLabelMismatch  = "label_mismatch"
	KindGrammarSyntax  = "grammar_syntax"
	KindRuntimeBinding = "runtime_binding"
	KindAction         = "action"
	KindParse          = "parse"
	KindStartRule      = "start_rule"
	KindCanceled       = "canceled"
	KindOther          = "other"
)

// ErrorKind classifies err. It returns "" for nil.
func ErrorKind(err error) string {
	var (
		resolveErr *template.ResolveError
		tmplErr    template.Error
		fmErr      *template.FrontmatterParseError
		fieldErr   *template.UnknownFieldError
		loadErr    *library.LoadError
		regErr     *library.RegistryError
		invalidErr *pegtmpl.InvalidActionError
		sigErr     *pegtmpl.SignatureParseError
		labelErr   *pegtmpl.LabelMismatchError
		grammarErr *peg.GrammarSyntaxError
		bindingErr *peg.RuntimeBindingError
		actionErr  *peg.ActionError
		parseErr   *peg.ParseError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case errors.As(err, &resolveErr):
		return KindResolve
	case errors.As(err, &tmplErr), errors.As(err, &fmErr), errors.As(err, &fieldErr):
		return KindTemplate
	case errors.As(err, &loadErr), errors.As(err, &regErr):
		return KindLibrary
	case errors.Is(err, pegtmpl.ErrArity):
		return KindArity
	case errors.As(err, &invalidErr):
		return KindInvalidAction
	case errors.As(err, &sigErr):
		return KindSignature
	case errors.As(err, &labelErr):
		return KindLabelMismatch
	case errors.As(err, &grammarErr):
		return KindGrammarSyntax
	case errors.As(err, &bindingErr):
		return KindRuntimeBinding
	case errors.As(err, &actionErr):
		return KindAction
	case errors.As(err, &parseErr):
		return KindParse
	case errors.Is(err, peg.ErrStartRule):
		return KindStartRule
	}
	return KindOther
}
