package pegtmpl

import (
	"errors"
	"fmt"
	"strings"

	"github.com/leapstack-labs/pegtmpl/pkg/action"
)

// ErrArity is returned when a template's segments and actions do not
// interleave: there must be exactly one more segment than actions.
var ErrArity = errors.New("template needs exactly one more segment than actions")

// InvalidActionError reports a template slot whose value is not an action.
type InvalidActionError struct {
	Index  int
	Value  any
	Reason string
}

func (e *InvalidActionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("action %d: %s", e.Index, e.Reason)
	}
	return fmt.Sprintf("action %d: %T is not callable", e.Index, e.Value)
}

// SignatureParseError reports an action whose parameter list could not be
// recovered.
type SignatureParseError struct {
	Index   int
	Source  string
	Message string
	Err     error
}

func (e *SignatureParseError) Error() string {
	return fmt.Sprintf("action %d: cannot read parameter list: %s", e.Index, e.Message)
}

func (e *SignatureParseError) Unwrap() error { return e.Err }

// LabelMismatchError is returned under LabelsStrict when generated code
// references names the grammar does not bind.
type LabelMismatchError struct {
	Issues []action.BindingIssue
}

func (e *LabelMismatchError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d unbound name(s) in generated code", len(e.Issues))
	for _, issue := range e.Issues {
		sb.WriteString("\n  ")
		sb.WriteString(issue.String())
	}
	return sb.String()
}
