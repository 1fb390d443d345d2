package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/leapstack-labs/pegtmpl/internal/cli/output"
	"github.com/leapstack-labs/pegtmpl/pkg/peg"
	"github.com/spf13/cobra"
)

// ParseOptions holds options for the parse command.
type ParseOptions struct {
	File      string
	StartRule string
	Options   []string
	Lines     bool
}

// NewParseCommand creates the parse command.
func NewParseCommand() *cobra.Command {
	opts := &ParseOptions{}

	cmd := &cobra.Command{
		Use:   "parse <template> [input]",
		Short: "Parse input with a template's grammar",
		Long: `Build a template and parse input with it, printing the value the
actions produce.

Input is read from the argument, from --file, or from stdin.`,
		Example: `  # Parse an argument
  pegtmpl parse calc.pegt "1 + 2 * 3"

  # Parse a file starting from another rule
  pegtmpl parse json.pegt -f data.json --start value

  # Parse every line of stdin, passing an option to the actions
  cat exprs.txt | pegtmpl parse calc.pegt --lines -O base=16`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runParse(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "Read input from file")
	cmd.Flags().StringVar(&opts.StartRule, "start", "", "Rule to start parsing from")
	cmd.Flags().StringArrayVarP(&opts.Options, "option", "O", nil, "Parse option passed to actions (key=value, repeatable)")
	cmd.Flags().BoolVar(&opts.Lines, "lines", false, "Parse each non-empty input line separately")
	return cmd
}

func runParse(cmd *cobra.Command, args []string, opts *ParseOptions) error {
	input, err := readInput(cmd, args[1:], opts.File)
	if err != nil {
		return err
	}
	parseOpts, err := parseOptions(opts.Options)
	if err != nil {
		return err
	}
	if opts.StartRule != "" {
		if parseOpts == nil {
			parseOpts = make(map[string]any, 1)
		}
		parseOpts[peg.StartRuleOption] = opts.StartRule
	}

	cc, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	path, err := absPaths(args[:1])
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	res, err := cc.Engine.Build(ctx, path[0])
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}

	var result any
	if opts.Lines {
		result, err = cc.Engine.ParseAll(ctx, res, splitLines(input), parseOpts)
	} else {
		result, err = cc.Engine.Parse(ctx, res, input, parseOpts)
	}
	if err != nil {
		return err
	}
	return renderValue(cc.Renderer, result)
}

// readInput returns the input argument, the file contents or stdin.
func readInput(cmd *cobra.Command, args []string, file string) (string, error) {
	switch {
	case len(args) > 0 && file != "":
		return "", errors.New("input argument and --file are mutually exclusive")
	case len(args) > 0:
		return args[0], nil
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read input: %w", err)
		}
		return string(b), nil
	}
	b, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return string(b), nil
}

func splitLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// renderValue prints a parse result. Text and markdown modes show it as
// JSON.
func renderValue(r *output.Renderer, v any) error {
	if r.Structured() {
		return r.Structure(v)
	}
	if r.EffectiveMode() == output.ModeMarkdown {
		r.Println("```json")
		defer r.Println("```")
	}
	return r.JSON(v)
}
