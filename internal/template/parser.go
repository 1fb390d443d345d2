package template

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/leapstack-labs/pegtmpl/pkg/pegtmpl"
	"go.starlark.net/starlark"
)

var (
	refPattern    = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)
	lambdaPattern = regexp.MustCompile(`^lambda\b`)
)

// ParseFile reads and parses the template at path.
func ParseFile(path string) (*Template, error) {
	content, err := os.ReadFile(path) //nolint:gosec // G304: template path is chosen by the user
	if err != nil {
		return nil, fmt.Errorf("failed to read template: %w", err)
	}
	return Parse(path, string(content))
}

// Parse parses template content. file is used in positions only.
func Parse(file, content string) (*Template, error) {
	fm, end, err := extractFrontmatter(file, content)
	if err != nil {
		return nil, err
	}

	body := content[end:]
	line := 1 + strings.Count(content[:end], "\n")
	col := end - strings.LastIndex(content[:end], "\n")
	// the body starts on the line after the closing ---*/
	if end > 0 {
		if rest, ok := strings.CutPrefix(body, "\n"); ok {
			body, line, col = rest, line+1, 1
		} else if rest, ok := strings.CutPrefix(body, "\r\n"); ok {
			body, line, col = rest, line+1, 1
		}
	}

	tokens, err := newLexerAt(body, file, line, col).Tokenize()
	if err != nil {
		return nil, err
	}

	t := &Template{Path: file, Frontmatter: fm}
	for _, tok := range tokens {
		switch tok.Type {
		case TokenText:
			t.Nodes = append(t.Nodes, &TextNode{nodeBase: nodeBase{pos: tok.Pos}, Text: tok.Value})
		case TokenSlot:
			slot, err := parseSlot(tok)
			if err != nil {
				return nil, err
			}
			t.Nodes = append(t.Nodes, slot)
		}
	}
	return t, nil
}

func parseSlot(tok Token) (*SlotNode, error) {
	slot := &SlotNode{nodeBase: nodeBase{pos: tok.Pos}}
	switch {
	case tok.Value == "":
		return nil, NewParseErrorf(tok.Pos, "empty slot")
	case lambdaPattern.MatchString(tok.Value):
		slot.Source = tok.Value
	case refPattern.MatchString(tok.Value):
		slot.Ref = tok.Value
	default:
		return nil, NewParseErrorf(tok.Pos, "invalid slot %q: want name, namespace.name or a lambda", tok.Value)
	}
	return slot, nil
}

// Resolver finds library actions by reference.
type Resolver interface {
	Lookup(ref string) (*starlark.Function, error)
}

// Fragments converts t into builder fragments, resolving references with
// r. r may be nil when the template has only inline actions.
func (t *Template) Fragments(r Resolver) ([]pegtmpl.Fragment, error) {
	frags := make([]pegtmpl.Fragment, 0, len(t.Nodes))
	for _, n := range t.Nodes {
		switch n := n.(type) {
		case *TextNode:
			frags = append(frags, pegtmpl.Literal(n.Text))
		case *SlotNode:
			if n.Source != "" {
				frags = append(frags, pegtmpl.Slot{Action: pegtmpl.Starlark(n.Source)})
				continue
			}
			if r == nil {
				return nil, WrapResolveError(n.Pos(), n.Ref, errors.New("no action libraries loaded"))
			}
			fn, err := r.Lookup(n.Ref)
			if err != nil {
				return nil, WrapResolveError(n.Pos(), n.Ref, err)
			}
			frags = append(frags, pegtmpl.Slot{Action: fn})
		}
	}
	return frags, nil
}
