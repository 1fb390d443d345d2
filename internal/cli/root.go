// Package cli provides the command-line interface for pegtmpl.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/leapstack-labs/pegtmpl/internal/cli/commands"
	"github.com/leapstack-labs/pegtmpl/internal/cli/config"
	"github.com/leapstack-labs/pegtmpl/internal/cli/output"
	"github.com/spf13/cobra"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "pegtmpl",
		Short: "pegtmpl - PEG grammar templates with Starlark actions",
		Long: `pegtmpl assembles PEG grammar templates into parsers.

A template is a PEG grammar whose actions are written inline as
{{ action }} slots: a Starlark lambda, a function from an action library,
or a .star file. Each slot is bound to a generated action<i> function that
receives the labeled values its parameters name.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}

			level := slog.LevelWarn
			if cfg.Verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

			ctx := config.NewContext(cmd.Context(), cfg)
			ctx = config.WithLogger(ctx, logger)
			cmd.SetContext(ctx)

			if cfg.File != "" {
				logger.Debug("using config file", "path", cfg.File)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(fmt.Sprintf("{{.Name}} {{.Version}} (commit %s, built %s)\n", GitCommit, BuildDate))

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: pegtmpl.yaml in the project)")
	flags.String("project-dir", "", "Project root (default: nearest directory with pegtmpl.yaml)")
	flags.String("actions-dir", "", "Directory of shared .star action libraries")
	flags.String("state", "", "Path to the build history database")
	flags.String("labels", "", "Label check policy: ignore, warn or strict")
	flags.BoolP("verbose", "v", false, "Verbose output")
	flags.StringP("output", "o", "", "Output format (auto|text|markdown|json|yaml)")

	_ = rootCmd.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return output.Modes, cobra.ShellCompDirectiveNoFileComp
	})
	_ = rootCmd.RegisterFlagCompletionFunc("labels", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"ignore", "warn", "strict"}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(commands.NewVersionCommand(Version))
	rootCmd.AddCommand(commands.NewBuildCommand())
	rootCmd.AddCommand(commands.NewParseCommand())
	rootCmd.AddCommand(commands.NewCheckCommand())
	rootCmd.AddCommand(commands.NewActionsCommand())
	rootCmd.AddCommand(commands.NewREPLCommand())
	rootCmd.AddCommand(commands.NewServeCommand())
	rootCmd.AddCommand(commands.NewHistoryCommand())
	rootCmd.AddCommand(NewCompletionCommand())

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// NewCompletionCommand creates the completion command.
func NewCompletionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for pegtmpl.

Bash:
  $ source <(pegtmpl completion bash)

Zsh:
  $ pegtmpl completion zsh > "${fpath[1]}/_pegtmpl"

Fish:
  $ pegtmpl completion fish | source

PowerShell:
  PS> pegtmpl completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
			return nil
		},
	}
}
