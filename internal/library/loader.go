// Package library loads Starlark action libraries. Each .star file in a
// directory is a namespace named after the file; its public functions can
// fill template slots as namespace.function.
package library

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	starctx "github.com/leapstack-labs/pegtmpl/internal/starlark"
	"go.starlark.net/starlark"
)

// Loader scans a directory for .star files and loads them as Starlark modules.
type Loader struct {
	dir    string
	logger *slog.Logger
}

// NewLoader creates a loader for dir. print() output of loaded files goes
// to logger.
func NewLoader(dir string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Loader{dir: dir, logger: logger}
}

// Module is a loaded action file.
type Module struct {
	// Namespace is derived from the filename ("calc" from "calc.star").
	Namespace string

	Path string

	// Exports holds every global whose name does not start with "_".
	Exports starlark.StringDict
}

// Load loads every .star file in the directory, in filename order. A
// missing directory yields no modules.
func (l *Loader) Load() ([]*Module, error) {
	info, err := os.Stat(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to access actions directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("actions path is not a directory: %s", l.dir)
	}

	files, err := filepath.Glob(filepath.Join(l.dir, "*.star"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan actions directory: %w", err)
	}

	modules := make([]*Module, 0, len(files))
	for _, file := range files {
		m, err := l.LoadFile(file)
		if err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}
	l.logger.Debug("loaded action libraries", "dir", l.dir, "count", len(modules))
	return modules, nil
}

// LoadFile loads a single .star file.
func (l *Loader) LoadFile(path string) (*Module, error) {
	content, err := os.ReadFile(path) //nolint:gosec // G304: path is an action file chosen by the user
	if err != nil {
		return nil, &LoadError{File: path, Message: fmt.Sprintf("failed to read file: %v", err), Err: err}
	}

	namespace := strings.TrimSuffix(filepath.Base(path), ".star")
	if err := validateNamespace(namespace); err != nil {
		return nil, &LoadError{File: path, Message: err.Error(), Err: err}
	}

	thread := starctx.NewThread("load:"+namespace, l.logger)
	globals, err := starlark.ExecFileOptions(starctx.FileOptions, thread, path, content, starctx.Predeclared())
	if err != nil {
		return nil, &LoadError{File: path, Message: fmt.Sprintf("starlark execution error: %v", err), Err: err}
	}

	exports := make(starlark.StringDict)
	for name, value := range globals {
		if !strings.HasPrefix(name, "_") {
			exports[name] = value
		}
	}

	return &Module{Namespace: namespace, Path: path, Exports: exports}, nil
}

// validateNamespace checks that name can be used as an identifier.
func validateNamespace(name string) error {
	if name == "" {
		return fmt.Errorf("namespace cannot be empty")
	}
	for i, r := range name {
		switch {
		case isLetter(r) || r == '_':
		case i > 0 && isDigit(r):
		case i == 0:
			return fmt.Errorf("namespace must start with letter or underscore: %s", name)
		default:
			return fmt.Errorf("namespace contains invalid character: %s", name)
		}
	}
	return nil
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

// LoadError represents an error loading an action file.
type LoadError struct {
	File    string
	Message string
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("actions/%s: %s", filepath.Base(e.File), e.Message)
}

func (e *LoadError) Unwrap() error { return e.Err }
