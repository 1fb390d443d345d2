package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"path/filepath"
	"slices"
	"strings"

	"github.com/chzyer/readline"
	"github.com/leapstack-labs/pegtmpl/internal/cli/output"
	"github.com/leapstack-labs/pegtmpl/internal/engine"
	"github.com/leapstack-labs/pegtmpl/pkg/peg"
	"github.com/spf13/cobra"
)

const replPrompt = "pegtmpl> "

// NewREPLCommand creates the repl command.
func NewREPLCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "repl <template>",
		Short: "Parse input interactively",
		Long: `Build a template and parse each line typed at the prompt, printing the
result. Dot commands change the start rule and parse options, show the
assembled grammar, or rebuild the template after editing it.`,
		Example: `  pegtmpl repl grammars/calc.pegt`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runREPL(cmd, args[0])
		},
	}
}

func runREPL(cmd *cobra.Command, path string) error {
	abs, err := absPaths([]string{path})
	if err != nil {
		return err
	}
	cc, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	s := &replSession{
		engine:  cc.Engine,
		path:    abs[0],
		options: make(map[string]any),
		r:       cc.Renderer,
	}
	if err := s.reload(ctx); err != nil {
		return err
	}

	var historyFile string
	if sp := cc.Cfg.StatePath; sp != "" && sp != ":memory:" {
		historyFile = filepath.Join(filepath.Dir(sp), "repl_history")
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          replPrompt,
		HistoryFile:     historyFile,
		AutoComplete:    s.completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
		Stdout:          cmd.OutOrStdout(),
		Stderr:          cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize REPL: %w", err)
	}
	defer func() { _ = rl.Close() }()

	s.r.Printf("pegtmpl REPL (%s, start rule %s)\n", s.res.Name, s.startRule())
	s.r.Println("Type .help for commands, .quit to exit")
	s.r.Println()

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if s.handle(ctx, line) {
			return nil
		}
		rl.Config.AutoComplete = s.completer()
	}
}

// replSession is the state of a REPL: the built template, the start rule
// and the parse options set so far.
type replSession struct {
	engine  *engine.Engine
	path    string
	res     *engine.Result
	start   string
	options map[string]any
	r       *output.Renderer
}

func (s *replSession) reload(ctx context.Context) error {
	if err := s.engine.ReloadLibraries(); err != nil {
		return err
	}
	res, err := s.engine.Build(ctx, s.path)
	if err != nil {
		return err
	}
	s.res = res
	if s.start != "" && !slices.Contains(res.Parser.StartRules(), s.start) {
		s.start = ""
	}
	return nil
}

func (s *replSession) startRule() string {
	if s.start != "" {
		return s.start
	}
	return s.res.Parser.StartRules()[0]
}

// handle runs one input line and reports whether the session is over.
func (s *replSession) handle(ctx context.Context, line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	if !strings.HasPrefix(trimmed, ".") {
		s.parse(ctx, line)
		return false
	}

	command, arg, _ := strings.Cut(trimmed, " ")
	arg = strings.TrimSpace(arg)
	switch command {
	case ".quit", ".exit":
		return true
	case ".help":
		s.r.Println(replHelp)
	case ".grammar":
		s.r.Code("peg", strings.TrimRight(s.res.Assembly.Grammar, "\n"))
	case ".rules":
		s.r.Println(strings.Join(s.res.Parser.StartRules(), " "))
	case ".start":
		switch {
		case arg == "":
			s.r.Println(s.startRule())
		case slices.Contains(s.res.Parser.StartRules(), arg):
			s.start = arg
		default:
			s.r.Error(fmt.Sprintf("%v %q (allowed: %s)", peg.ErrStartRule, arg, strings.Join(s.res.Parser.StartRules(), ", ")))
		}
	case ".set":
		opts, err := parseOptions([]string{arg})
		if err != nil {
			s.r.Error(err.Error())
			break
		}
		maps.Copy(s.options, opts)
	case ".unset":
		delete(s.options, arg)
	case ".options":
		if err := s.r.YAML(s.effectiveOptions()); err != nil {
			s.r.Error(err.Error())
		}
	case ".reload":
		if err := s.reload(ctx); err != nil {
			s.r.Error(err.Error())
			break
		}
		s.r.Success(fmt.Sprintf("rebuilt %s (%s)", s.res.Name, s.res.Hash))
	default:
		s.r.Error(fmt.Sprintf("unknown command: %s (type .help for commands)", command))
	}
	return false
}

func (s *replSession) effectiveOptions() map[string]any {
	opts := make(map[string]any, len(s.res.Options)+len(s.options))
	maps.Copy(opts, s.res.Options)
	maps.Copy(opts, s.options)
	return opts
}

func (s *replSession) parse(ctx context.Context, input string) {
	opts := maps.Clone(s.options)
	if s.start != "" {
		opts[peg.StartRuleOption] = s.start
	}
	v, err := s.engine.Parse(ctx, s.res, input, opts)
	if err != nil {
		s.r.Error(err.Error())
		return
	}
	if err := s.r.JSON(v); err != nil {
		s.r.Error(err.Error())
	}
}

func (s *replSession) completer() *readline.PrefixCompleter {
	var rules []readline.PrefixCompleterInterface
	for _, name := range s.res.Parser.StartRules() {
		rules = append(rules, readline.PcItem(name))
	}
	return readline.NewPrefixCompleter(
		readline.PcItem(".help"),
		readline.PcItem(".grammar"),
		readline.PcItem(".rules"),
		readline.PcItem(".start", rules...),
		readline.PcItem(".set"),
		readline.PcItem(".unset"),
		readline.PcItem(".options"),
		readline.PcItem(".reload"),
		readline.PcItem(".quit"),
	)
}

const replHelp = `
Commands:
  .help           Show this help message
  .grammar        Show the assembled grammar
  .rules          List the allowed start rules
  .start [rule]   Show or set the start rule
  .set key=value  Set a parse option
  .unset key      Remove a parse option
  .options        Show the parse options in effect
  .reload         Rebuild the template
  .quit / .exit   Exit the REPL

Any other line is parsed and its result printed as JSON.`
