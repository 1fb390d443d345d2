package commands

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/pegtmpl/internal/cli/output"
	"github.com/leapstack-labs/pegtmpl/internal/engine"
	"github.com/spf13/cobra"
)

// Emit values for build --emit.
const (
	EmitGrammar = "grammar"
	EmitActions = "actions"
	EmitAll     = "all"
)

// BuildOptions holds options for the build command.
type BuildOptions struct {
	Emit string
}

// BuildOutput is the structured output of the build command.
type BuildOutput struct {
	Name    string       `json:"name" yaml:"name"`
	Path    string       `json:"path" yaml:"path"`
	Hash    string       `json:"hash" yaml:"hash"`
	BuildID string       `json:"build_id,omitempty" yaml:"build_id,omitempty"`
	Grammar string       `json:"grammar,omitempty" yaml:"grammar,omitempty"`
	Actions []ActionInfo `json:"actions,omitempty" yaml:"actions,omitempty"`
}

// ActionInfo describes one generated action.
type ActionInfo struct {
	Name    string   `json:"name" yaml:"name"`
	Context string   `json:"context,omitempty" yaml:"context,omitempty"`
	Params  []string `json:"params" yaml:"params"`
}

// NewBuildCommand creates the build command.
func NewBuildCommand() *cobra.Command {
	opts := &BuildOptions{}

	cmd := &cobra.Command{
		Use:   "build <template>",
		Short: "Assemble a template into a grammar",
		Long: `Assemble a grammar template, compile it and print the generated grammar.

Every {{ action }} slot becomes a call to a synthetic action<i> function
that receives the labeled values named by the action's parameters.`,
		Example: `  # Print the assembled grammar
  pegtmpl build grammars/calc.pegt

  # Show the generated action table
  pegtmpl build grammars/calc.pegt --emit actions

  # Everything, as JSON
  pegtmpl build grammars/calc.pegt --emit all -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.Emit, "emit", EmitGrammar, "What to print: grammar, actions or all")
	_ = cmd.RegisterFlagCompletionFunc("emit", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{EmitGrammar, EmitActions, EmitAll}, cobra.ShellCompDirectiveNoFileComp
	})
	return cmd
}

func runBuild(cmd *cobra.Command, path string, opts *BuildOptions) error {
	switch opts.Emit {
	case EmitGrammar, EmitActions, EmitAll:
	default:
		return fmt.Errorf("invalid --emit %q (want grammar, actions or all)", opts.Emit)
	}

	abs, err := absPaths([]string{path})
	if err != nil {
		return err
	}
	cc, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := cc.Engine.Build(cmd.Context(), abs[0])
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}

	out := buildOutput(res, opts.Emit)
	r := cc.Renderer
	if r.Structured() {
		return r.Structure(out)
	}
	renderBuild(r, out)
	return nil
}

func buildOutput(res *engine.Result, emit string) *BuildOutput {
	out := &BuildOutput{
		Name:    res.Name,
		Path:    res.Path,
		Hash:    res.Hash,
		BuildID: res.BuildID,
	}
	if emit != EmitActions {
		out.Grammar = res.Assembly.Grammar
	}
	if emit != EmitGrammar {
		for _, e := range res.Assembly.Entries {
			out.Actions = append(out.Actions, ActionInfo{
				Name:    e.Name,
				Context: e.ContextParam,
				Params:  e.Args(),
			})
		}
		if out.Actions == nil {
			out.Actions = []ActionInfo{}
		}
	}
	return out
}

func renderBuild(r *output.Renderer, out *BuildOutput) {
	r.Header(fmt.Sprintf("%s (%s)", out.Name, out.Hash))
	if out.Grammar != "" {
		r.Code("peg", strings.TrimRight(out.Grammar, "\n"))
	}
	if out.Actions != nil {
		if out.Grammar != "" {
			r.Println()
		}
		rows := make([][]any, 0, len(out.Actions))
		for _, a := range out.Actions {
			rows = append(rows, []any{a.Name, a.Context, strings.Join(a.Params, ", ")})
		}
		r.Table([]string{"Action", "Context", "Params"}, rows)
	}
}
