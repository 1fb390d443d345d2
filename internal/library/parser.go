package library

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	starctx "github.com/leapstack-labs/pegtmpl/internal/starlark"
	"go.starlark.net/syntax"
)

// Function describes a public function of an action file, read without
// executing it.
type Function struct {
	Name string `json:"name" yaml:"name"`

	// Args are the parameters as written, defaults included ("n=0").
	Args []string `json:"args" yaml:"args"`

	// Params are the bare parameter names a generated call forwards.
	Params []string `json:"params" yaml:"params"`

	// Variadic is set when the function takes *args or **kwargs, which
	// template slots cannot bind.
	Variadic bool `json:"variadic,omitempty" yaml:"variadic,omitempty"`

	Docstring string `json:"docstring,omitempty" yaml:"docstring,omitempty"`
	Line      int    `json:"line" yaml:"line"`
}

// Signature returns name(args...).
func (f *Function) Signature() string {
	return f.Name + "(" + strings.Join(f.Args, ", ") + ")"
}

// Namespace describes a parsed action file.
type Namespace struct {
	Name      string      `json:"name" yaml:"name"`
	Path      string      `json:"path" yaml:"path"`
	Functions []*Function `json:"functions" yaml:"functions"`
}

// ParseFile statically parses an action file and lists its public
// functions in source order.
func ParseFile(filename string, content []byte) (*Namespace, error) {
	f, err := starctx.FileOptions.Parse(filename, content, 0)
	if err != nil {
		return nil, &ParseError{File: filename, Message: err.Error()}
	}

	ns := &Namespace{
		Name: strings.TrimSuffix(filepath.Base(filename), ".star"),
		Path: filename,
	}
	for _, stmt := range f.Stmts {
		def, ok := stmt.(*syntax.DefStmt)
		if !ok || strings.HasPrefix(def.Name.Name, "_") {
			continue
		}
		fn := &Function{
			Name:      def.Name.Name,
			Line:      int(def.Name.NamePos.Line),
			Docstring: docstring(def.Body),
		}
		extractParams(fn, def.Params)
		ns.Functions = append(ns.Functions, fn)
	}
	return ns, nil
}

// DescribeModule statically parses the file m was loaded from.
func DescribeModule(m *Module) (*Namespace, error) {
	content, err := os.ReadFile(m.Path)
	if err != nil {
		return nil, &ParseError{File: m.Path, Message: fmt.Sprintf("failed to read file: %v", err)}
	}
	ns, err := ParseFile(m.Path, content)
	if err != nil {
		return nil, err
	}
	ns.Name = m.Namespace
	return ns, nil
}

func extractParams(fn *Function, params []syntax.Expr) {
	for _, param := range params {
		switch p := param.(type) {
		case *syntax.Ident:
			fn.Args = append(fn.Args, p.Name)
			fn.Params = append(fn.Params, p.Name)
		case *syntax.BinaryExpr:
			if ident, ok := p.X.(*syntax.Ident); ok && p.Op == syntax.EQ {
				fn.Args = append(fn.Args, ident.Name+"="+exprString(p.Y))
				fn.Params = append(fn.Params, ident.Name)
			}
		case *syntax.UnaryExpr:
			fn.Variadic = true
			prefix := "*"
			if p.Op == syntax.STARSTAR {
				prefix = "**"
			}
			if ident, ok := p.X.(*syntax.Ident); ok {
				fn.Args = append(fn.Args, prefix+ident.Name)
			} else {
				fn.Args = append(fn.Args, prefix)
			}
		}
	}
}

// docstring returns the leading string literal of body, if any.
func docstring(body []syntax.Stmt) string {
	if len(body) == 0 {
		return ""
	}
	stmt, ok := body[0].(*syntax.ExprStmt)
	if !ok {
		return ""
	}
	lit, ok := stmt.X.(*syntax.Literal)
	if !ok || lit.Token != syntax.STRING {
		return ""
	}
	s, _ := lit.Value.(string)
	return strings.TrimSpace(s)
}

func exprString(expr syntax.Expr) string {
	switch e := expr.(type) {
	case *syntax.Literal:
		return e.Raw
	case *syntax.Ident:
		return e.Name
	case *syntax.ListExpr:
		return "[]"
	case *syntax.DictExpr:
		return "{}"
	case *syntax.TupleExpr:
		return "()"
	case *syntax.UnaryExpr:
		if e.Op == syntax.MINUS {
			return "-" + exprString(e.X)
		}
		return exprString(e.X)
	default:
		return "..."
	}
}

// ParseError represents an error during static parsing.
type ParseError struct {
	File    string
	Message string
}

func (e *ParseError) Error() string {
	return "parse " + filepath.Base(e.File) + ": " + e.Message
}
