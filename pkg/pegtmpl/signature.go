package pegtmpl

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	starctx "github.com/leapstack-labs/pegtmpl/internal/starlark"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

var (
	paramListRe  = regexp.MustCompile(`\(([^)]*)\)`)
	identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	syntheticRe  = regexp.MustCompile(`^action[0-9]+$`)
)

// ParamsFromText returns the first parenthesized, comma separated list in
// decl, each entry trimmed. "f(ctx, a, b)" yields [ctx a b]; "()" yields
// nothing. It fails when decl has no parenthesized list.
func ParamsFromText(decl string) ([]string, error) {
	m := paramListRe.FindStringSubmatch(decl)
	if m == nil {
		return nil, errors.New("no parenthesized parameter list")
	}
	if strings.TrimSpace(m[1]) == "" {
		return nil, nil
	}

	params := strings.Split(m[1], ",")
	for i := range params {
		params[i] = strings.TrimSpace(params[i])
	}
	// trailing comma
	if len(params) > 1 && params[len(params)-1] == "" {
		params = params[:len(params)-1]
	}
	return params, nil
}

// ParamsFromSource returns the parameters of Starlark source holding a
// lambda expression or at least one def statement; the first def wins.
func ParamsFromSource(src string) ([]string, error) {
	s, err := parseSource("action", src)
	if err != nil {
		return nil, err
	}
	return s.params, nil
}

// FunctionParams returns the declared parameters of a Starlark function.
// Variadic and keyword-only parameters cannot be bound positionally and
// are rejected.
func FunctionParams(fn *starlark.Function) ([]string, error) {
	if fn.HasVarargs() || fn.HasKwargs() {
		return nil, fmt.Errorf("%s: variadic parameters are not supported", fn.Name())
	}
	if fn.NumKwonlyParams() > 0 {
		return nil, fmt.Errorf("%s: keyword-only parameters are not supported", fn.Name())
	}
	params := make([]string, fn.NumParams())
	for i := range params {
		params[i], _ = fn.Param(i)
	}
	return params, nil
}

// source is a parsed Starlark action.
type source struct {
	params []string
	def    string // function name; empty for a lambda
}

func parseSource(filename, src string) (*source, error) {
	if expr, err := starctx.FileOptions.ParseExpr(filename, src, 0); err == nil {
		if lambda, ok := unparen(expr).(*syntax.LambdaExpr); ok {
			params, err := syntaxParams(lambda.Params)
			if err != nil {
				return nil, err
			}
			return &source{params: params}, nil
		}
	}

	f, err := starctx.FileOptions.Parse(filename, src, 0)
	if err != nil {
		return nil, err
	}
	for _, stmt := range f.Stmts {
		def, ok := stmt.(*syntax.DefStmt)
		if !ok {
			continue
		}
		params, err := syntaxParams(def.Params)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", def.Name.Name, err)
		}
		return &source{params: params, def: def.Name.Name}, nil
	}
	return nil, errors.New("source defines no function")
}

func unparen(e syntax.Expr) syntax.Expr {
	for {
		p, ok := e.(*syntax.ParenExpr)
		if !ok {
			return e
		}
		e = p.X
	}
}

func syntaxParams(exprs []syntax.Expr) ([]string, error) {
	params := make([]string, 0, len(exprs))
	for _, e := range exprs {
		switch p := e.(type) {
		case *syntax.Ident:
			params = append(params, p.Name)
		case *syntax.BinaryExpr:
			// name=default
			id, ok := p.X.(*syntax.Ident)
			if p.Op != syntax.EQ || !ok {
				return nil, fmt.Errorf("unsupported parameter %s", p.Op)
			}
			params = append(params, id.Name)
		case *syntax.UnaryExpr:
			return nil, errors.New("variadic parameters are not supported")
		default:
			return nil, fmt.Errorf("unsupported parameter %T", e)
		}
	}
	return params, nil
}

// validParams checks that every name the generated call forwards is an
// identifier the generated block can bind: not the struct constructor, not
// a synthetic action name, and not repeated. An empty first entry means
// "no context".
func validParams(params []string) error {
	seen := make(map[string]bool, len(params))
	for i, p := range params {
		if i == 0 && p == "" {
			continue
		}
		switch {
		case !identifierRe.MatchString(p):
			return fmt.Errorf("parameter %d: %q is not an identifier", i, p)
		case p == starctx.StructName:
			return fmt.Errorf("parameter %d: %q is reserved", i, p)
		case syntheticRe.MatchString(p):
			return fmt.Errorf("parameter %d: %q collides with generated action names", i, p)
		case seen[p]:
			return fmt.Errorf("parameter %d: %q is repeated", i, p)
		}
		seen[p] = true
	}
	return nil
}
