package commands

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/leapstack-labs/pegtmpl/internal/server"
	"github.com/spf13/cobra"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [paths...]",
		Short: "Serve template parsers over HTTP",
		Long: `Build every template under the given paths (serve.paths from the config,
or the current directory) and serve them over HTTP:

  GET  /api/grammars               list templates and build errors
  GET  /api/grammars/{name}        show an assembled grammar
  POST /api/grammars/{name}/parse  parse {"input": ..., "start_rule": ...}
  POST /api/reload                 rebuild every template
  GET  /api/events                 reload events (server-sent events)
  GET  /metrics                    Prometheus metrics

With --watch, templates are rebuilt when a template or action file changes.`,
		Example: `  pegtmpl serve grammars/ --watch
  pegtmpl serve --addr :9000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, args)
		},
	}

	// read through the config, see config.flagKeys
	cmd.Flags().String("addr", "", "Listen address (default: serve.addr)")
	cmd.Flags().Bool("watch", false, "Rebuild on file changes")
	cmd.Flags().Duration("debounce", 0, "Delay before rebuilding after a change")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cc, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	paths := args
	if len(paths) == 0 {
		paths = cc.Cfg.Serve.Paths
	}
	if len(paths) == 0 {
		paths = []string{"."}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(server.Config{
		Engine:     cc.Engine,
		Metrics:    cc.Metrics,
		Paths:      paths,
		ActionsDir: cc.Cfg.ActionsDir,
		Addr:       cc.Cfg.Serve.Addr,
		Watch:      cc.Cfg.Serve.Watch,
		Debounce:   cc.Cfg.Serve.Debounce,
		Logger:     cc.Logger,
	})
	if err := srv.Load(ctx, "startup"); err != nil {
		return err
	}

	cc.Renderer.Success(fmt.Sprintf("serving %s on http://%s", describeNames(srv.Names()), displayAddr(cc.Cfg.Serve.Addr)))
	if err := srv.Serve(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func describeNames(names []string) string {
	switch len(names) {
	case 0:
		return "no grammars"
	case 1:
		return "1 grammar (" + names[0] + ")"
	}
	return fmt.Sprintf("%d grammars (%s)", len(names), strings.Join(names, ", "))
}

// displayAddr turns ":8080" into "localhost:8080".
func displayAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}
