package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/leapstack-labs/pegtmpl/pkg/action"
	"github.com/leapstack-labs/pegtmpl/pkg/pegtmpl"
	"golang.org/x/sync/errgroup"
)

// TemplateExt is the extension of grammar template files.
const TemplateExt = ".pegt"

// Discover expands paths into template files. Directories are walked for
// *.pegt files; files are taken as given. The result is sorted and free of
// duplicates.
func Discover(paths ...string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("failed to access %s: %w", root, err)
		}
		if !info.IsDir() {
			add(filepath.Clean(root))
			continue
		}
		err = filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
			if walkErr != nil || info.IsDir() || !strings.HasSuffix(info.Name(), TemplateExt) {
				return nil //nolint:nilerr // skip directories and other files
			}
			add(filepath.Clean(path))
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(out)
	return out, nil
}

// CheckResult is the outcome of checking one template.
type CheckResult struct {
	Path    string                `json:"path" yaml:"path"`
	Name    string                `json:"name" yaml:"name"`
	Rules   int                   `json:"rules" yaml:"rules"`
	Actions int                   `json:"actions" yaml:"actions"`
	Hash    string                `json:"hash,omitempty" yaml:"hash,omitempty"`
	Kind    string                `json:"kind,omitempty" yaml:"kind,omitempty"`
	Error   string                `json:"error,omitempty" yaml:"error,omitempty"`
	Issues  []action.BindingIssue `json:"issues,omitempty" yaml:"issues,omitempty"`
}

// OK reports whether the template built without errors or unbound names.
func (r *CheckResult) OK() bool {
	return r.Error == "" && len(r.Issues) == 0
}

// Check builds every template in paths concurrently and reports, besides
// build errors, every name generated code references but never binds.
// Results are in path order. concurrency <= 0 means unbounded.
func (e *Engine) Check(ctx context.Context, paths []string, concurrency int) ([]*CheckResult, error) {
	results := make([]*CheckResult, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i, path := range paths {
		g.Go(func() error {
			results[i] = e.check(ctx, path)
			// only cancellation aborts the whole check
			return ctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Engine) check(ctx context.Context, path string) *CheckResult {
	r := &CheckResult{Path: path}
	res, err := e.Build(ctx, path)
	if err != nil {
		r.Name = templateName(path, nil)
		r.Kind = ErrorKind(err)
		r.Error = err.Error()
		var mismatch *pegtmpl.LabelMismatchError
		if errors.As(err, &mismatch) {
			r.Issues = mismatch.Issues
		}
		return r
	}
	r.Name = res.Name
	r.Rules = len(res.Parser.Grammar().Rules)
	r.Actions = len(res.Assembly.Entries)
	r.Hash = res.Hash
	r.Issues = res.Parser.CheckBindings()
	if len(r.Issues) > 0 {
		r.Kind = KindRuntimeBinding
	}
	return r
}

// computeHash returns a short content hash of the assembled grammar.
func computeHash(content string) string {
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:8])
}
