package peg

import (
	"context"
	"errors"

	starctx "github.com/leapstack-labs/pegtmpl/internal/starlark"
	"github.com/leapstack-labs/pegtmpl/pkg/action"
)

// CheckBindings compiles grammar and resolves every code block up front,
// reporting each name a block references that is bound nowhere: labels
// missing from the enclosing rule and actions missing from table. Grammar
// errors are returned as errors, not issues.
func CheckBindings(ctx context.Context, grammar string, table action.Table, opts ...Option) ([]action.BindingIssue, error) {
	p, err := Compile(ctx, grammar, table, opts...)
	if err != nil {
		return nil, err
	}
	return p.CheckBindings(), nil
}

// CheckBindings resolves every code block of p. Blocks compiled here stay
// compiled for later parses.
func (p *Parser) CheckBindings() []action.BindingIssue {
	var issues []action.BindingIssue
	for _, code := range p.grammar.Blocks() {
		_, err := p.blockFunc(code)
		if err == nil {
			continue
		}

		var undef starctx.UndefinedErrors
		if errors.As(err, &undef) {
			for _, u := range undef {
				issues = append(issues, action.BindingIssue{
					Rule:    code.Rule,
					Name:    u.Name,
					Pos:     code.Pos,
					Message: u.Msg,
				})
			}
			continue
		}
		issues = append(issues, action.BindingIssue{
			Rule:    code.Rule,
			Pos:     code.Pos,
			Message: err.Error(),
		})
	}
	return issues
}
