package commands

import (
	"strings"

	"github.com/leapstack-labs/pegtmpl/internal/cli/output"
	"github.com/leapstack-labs/pegtmpl/internal/library"
	"github.com/spf13/cobra"
)

// NewActionsCommand creates the actions command.
func NewActionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "actions",
		Short: "List the shared action libraries",
		Long: `List the functions defined by the .star files in the actions directory.
Templates call them as {{ namespace.function }}, or by bare name when only
one library defines it.`,
		Example: `  pegtmpl actions
  pegtmpl actions --actions-dir lib -o yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runActions(cmd)
		},
	}
}

func runActions(cmd *cobra.Command) error {
	cc, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	libs, err := cc.Engine.Libraries()
	if err != nil {
		return err
	}

	r := cc.Renderer
	if r.Structured() {
		return r.Structure(libs)
	}
	renderActions(r, cc.Cfg.ActionsDir, libs)
	return nil
}

func renderActions(r *output.Renderer, dir string, libs []*library.Namespace) {
	if len(libs) == 0 {
		r.Warning("no action libraries in " + dir)
		return
	}
	var rows [][]any
	for _, ns := range libs {
		for _, fn := range ns.Functions {
			doc, _, _ := strings.Cut(fn.Docstring, "\n")
			rows = append(rows, []any{ns.Name + "." + fn.Name, fn.Signature(), doc})
		}
	}
	r.Table([]string{"Action", "Signature", "Description"}, rows)
}
