package commands

import (
	"fmt"
	"time"

	"github.com/leapstack-labs/pegtmpl/internal/cli/output"
	"github.com/leapstack-labs/pegtmpl/internal/state"
	"github.com/spf13/cobra"
)

// HistoryOptions holds options for the history command.
type HistoryOptions struct {
	Limit int
	Prune int
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand() *cobra.Command {
	opts := &HistoryOptions{}

	cmd := &cobra.Command{
		Use:   "history [template]",
		Short: "Show recorded template builds",
		Long: `Show builds recorded in the state database, newest first, optionally
limited to one template. --prune deletes all but the newest builds.`,
		Example: `  pegtmpl history
  pegtmpl history grammars/calc.pegt --limit 5
  pegtmpl history --prune 100`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, args, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 0, "Builds to show (default: history_limit)")
	cmd.Flags().IntVar(&opts.Prune, "prune", 0, "Keep only the newest N builds")
	return cmd
}

func runHistory(cmd *cobra.Command, args []string, opts *HistoryOptions) error {
	cc, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()
	ctx := cmd.Context()
	r := cc.Renderer

	if opts.Prune > 0 {
		n, err := cc.Engine.PruneHistory(ctx, opts.Prune)
		if err != nil {
			return err
		}
		if r.Structured() {
			return r.Structure(map[string]int64{"pruned": n})
		}
		r.Success(fmt.Sprintf("pruned %d builds", n))
		return nil
	}

	var template string
	if len(args) > 0 {
		abs, err := absPaths(args)
		if err != nil {
			return err
		}
		template = abs[0]
	}
	limit := opts.Limit
	if limit == 0 {
		limit = cc.Cfg.HistoryLimit
	}

	builds, err := cc.Engine.History(ctx, template, limit)
	if err != nil {
		return err
	}
	if r.Structured() {
		if builds == nil {
			builds = []*state.Build{}
		}
		return r.Structure(builds)
	}
	renderHistory(r, builds)
	return nil
}

func renderHistory(r *output.Renderer, builds []*state.Build) {
	if len(builds) == 0 {
		r.Println("No builds recorded.")
		return
	}
	rows := make([][]any, 0, len(builds))
	for _, b := range builds {
		detail := b.GrammarHash
		if b.Status == state.BuildFailed {
			detail = b.Error
		}
		rows = append(rows, []any{
			b.CreatedAt.Local().Format(time.DateTime),
			b.Name,
			string(b.Status),
			b.Actions,
			b.Duration.Round(time.Microsecond).String(),
			detail,
		})
	}
	r.Table([]string{"Time", "Template", "Status", "Actions", "Duration", "Hash / Error"}, rows)
}
