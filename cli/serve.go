package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zhubert/plural-editor/config"
	"github.com/zhubert/plural-editor/extensions"
	"github.com/zhubert/plural-editor/logger"
	"github.com/zhubert/plural-editor/rpc"
	"github.com/zhubert/plural-editor/server"
	"github.com/zhubert/plural-editor/transport/httptransport"
	"github.com/zhubert/plural-editor/transport/socket"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the editor core",
	Long: `Start the editor core with the specified configuration.
This serves the JSON-RPC API and the websocket channel until interrupted.`,
	PreRun: func(cmd *cobra.Command, args []string) {
		// Bind flags to viper
		v.BindPFlag("transport.addr", cmd.Flags().Lookup("addr"))
		v.BindPFlag("log.level", cmd.Flags().Lookup("log-level"))
		v.BindPFlag("log.file", cmd.Flags().Lookup("log-file"))
		v.BindPFlag("transport.socket", cmd.Flags().Lookup("socket"))

		// Handle verbose flag specially
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			v.Set("log.level", "debug")
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(v, configPath(cmd))
		if err != nil {
			return err
		}
		if err := setupLogging(cfg.Log); err != nil {
			return err
		}
		defer logger.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		core, handler, err := newCore(ctx, cfg)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Serving %d states on %s\n", core.States().Len(), cfg.Transport.Addr)
		logger.Get().Info("starting core", "states", core.States().Len(), "addr", cfg.Transport.Addr)

		err = run(ctx, core, newSocket(cfg))
		if handler.ConnCount() > 0 {
			logger.Get().Warn("connections still open at exit", "count", handler.ConnCount())
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "Listen address (default "+httptransport.DefaultAddr+")")
	serveCmd.Flags().StringP("log-level", "l", "", "Log level (debug, info, warn, error)")
	serveCmd.Flags().String("log-file", "", "Log file, - for stderr")
	serveCmd.Flags().String("socket", "", "Also serve JSON-RPC on this Unix socket")
	serveCmd.Flags().BoolP("verbose", "v", false, "Enable verbose logging (sets log level to debug)")
}

// setupLogging initializes the logger from the log section.
func setupLogging(lc config.LogConfig) error {
	switch lc.File {
	case "-":
		logger.InitWriter(os.Stderr)
	case "":
		path, err := logger.DefaultLogPath()
		if err != nil {
			return err
		}
		if err := logger.Init(path); err != nil {
			return err
		}
	default:
		if err := logger.Init(lc.File); err != nil {
			return err
		}
	}
	if lc.Level == "" {
		return nil
	}
	return logger.SetLevel(lc.Level)
}

// newCore wires the configured states to an HTTP transport.
func newCore(ctx context.Context, cfg *config.Config) (*server.Core, *httptransport.Handler, error) {
	handler := httptransport.New(cfg.Transport.Addr,
		httptransport.WithShutdownTimeout(cfg.Transport.ShutdownTimeout),
		httptransport.WithOriginPatterns(cfg.Transport.OriginPatterns...),
		httptransport.WithRPCOptions(rpc.WithCallTimeout(cfg.RPC.CallTimeout)),
	)
	conf := server.NewConfiguration(handler, cfg.Router.Buffer)

	states, err := cfg.BuildStates(ctx, extensions.NewSender(conf.Sender))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build states: %w", err)
	}

	var opts []server.Option
	if cfg.Router.ScopeStateUpdates {
		opts = append(opts, server.WithScopedStateUpdates())
	}
	return server.New(conf, states, opts...), handler, nil
}

// newSocket returns the configured RPC socket server, or nil.
func newSocket(cfg *config.Config) *socket.Server {
	if cfg.Transport.Socket == "" {
		return nil
	}
	return socket.New(cfg.Transport.Socket, rpc.WithCallTimeout(cfg.RPC.CallTimeout))
}

// run runs the core and, when present, the RPC socket until ctx is
// cancelled or either fails.
func run(ctx context.Context, core *server.Core, sock *socket.Server) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return core.Run(gctx)
	})
	if sock != nil {
		g.Go(func() error {
			return sock.Run(gctx, core.States())
		})
	}
	return g.Wait()
}
