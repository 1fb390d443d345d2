package commands

import (
	"fmt"
	"runtime"

	"github.com/leapstack-labs/pegtmpl/internal/cli/output"
	"github.com/leapstack-labs/pegtmpl/internal/engine"
	"github.com/spf13/cobra"
)

// CheckOptions holds options for the check command.
type CheckOptions struct {
	Concurrency int
}

// NewCheckCommand creates the check command.
func NewCheckCommand() *cobra.Command {
	opts := &CheckOptions{}

	cmd := &cobra.Command{
		Use:   "check [paths...]",
		Short: "Build templates and report errors and unbound names",
		Long: `Build every template found under the given files or directories
(the current directory by default) and report build errors and names in
code blocks that neither a label nor the action table binds.

Exits non-zero when any template fails.`,
		Example: `  # Check every template in the project
  pegtmpl check

  # Check one directory, four templates at a time
  pegtmpl check grammars/ -j 4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, args, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.Concurrency, "concurrency", "j", runtime.GOMAXPROCS(0), "Templates built at once")
	return cmd
}

func runCheck(cmd *cobra.Command, args []string, opts *CheckOptions) error {
	if len(args) == 0 {
		args = []string{"."}
	}
	args, err := absPaths(args)
	if err != nil {
		return err
	}
	paths, err := engine.Discover(args...)
	if err != nil {
		return err
	}

	cc, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	results, err := cc.Engine.Check(cmd.Context(), paths, opts.Concurrency)
	if err != nil {
		return err
	}

	r := cc.Renderer
	if r.Structured() {
		if err := r.Structure(results); err != nil {
			return err
		}
	} else {
		renderCheck(r, results)
	}

	failed := 0
	for _, res := range results {
		if !res.OK() {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d templates failed", failed, len(results))
	}
	return nil
}

func renderCheck(r *output.Renderer, results []*engine.CheckResult) {
	if len(results) == 0 {
		r.Warning("no templates found")
		return
	}
	for _, res := range results {
		switch {
		case res.Error != "":
			r.Error(fmt.Sprintf("%s: [%s] %s", res.Path, res.Kind, res.Error))
		case len(res.Issues) > 0:
			r.Error(fmt.Sprintf("%s: %d unbound names", res.Path, len(res.Issues)))
			for _, issue := range res.Issues {
				r.Warning(issue.String())
			}
		default:
			r.Success(fmt.Sprintf("%s %s", res.Path,
				r.Muted(fmt.Sprintf("(%d rules, %d actions)", res.Rules, res.Actions))))
		}
	}
}
