package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/Iron-Ham/termhost/internal/activity"
	"github.com/Iron-Ham/termhost/internal/config"
	"github.com/Iron-Ham/termhost/internal/host"
	"github.com/Iron-Ham/termhost/internal/logging"
	"github.com/Iron-Ham/termhost/internal/metrics"
	"github.com/Iron-Ham/termhost/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the terminal host",
	Long: `Run the terminal host. Protocol messages are read as JSON lines from stdin
and events are written as JSON lines to stdout, unless --listen is given, in
which case clients connect over websocket instead.

The config file is watched; activity and reliability settings are re-applied
to terminals spawned after a change.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveListen  string
	serveOrigins []string
)

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "serve the protocol over websocket on this address instead of stdio")
	serveCmd.Flags().StringSliceVar(&serveOrigins, "allow-origin", nil, "additional websocket origins to accept")
	serveCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address")
	rootCmd.AddCommand(serveCmd)
}

// serveOptions are the carrier settings that come from flags only.
type serveOptions struct {
	listen  string
	origins []string
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if serveListen == "" && term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintln(cmd.ErrOrStderr(), "termhost: stdin is a terminal; expecting JSON protocol messages, one per line")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, serveOptions{listen: serveListen, origins: serveOrigins}, os.Stdin, os.Stdout)
}

// serve runs the host and its carriers until ctx is cancelled, the stdio
// input ends, or a carrier fails.
func serve(ctx context.Context, cfg *config.Config, opts serveOptions, in io.Reader, out io.Writer) error {
	logDir := cfg.Logging.LogDir()
	logger, err := logging.NewLoggerWithRotation(logDir, cfg.Logging.Level, cfg.Logging.Rotation())
	if err != nil {
		return fmt.Errorf("failed to open log: %w", err)
	}
	defer func() { _ = logger.Close() }()

	rec := metrics.NewRecorder()
	h := host.New(cfg.HostConfig(),
		host.WithLogger(logger),
		host.WithMetrics(rec),
		host.WithCrashLog(logging.NewCrashLog(logDir)),
	)

	if viper.ConfigFileUsed() != "" {
		viper.OnConfigChange(reloadConfig(h, logger))
		viper.WatchConfig()
	}

	logger.Info("host starting",
		"pid", os.Getpid(),
		"listen", opts.listen,
		"metrics_addr", cfg.Metrics.Addr,
		"config", viper.ConfigFileUsed(),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := pool.New().WithErrors().WithContext(ctx).WithCancelOnError().WithFirstError()
	p.Go(func(ctx context.Context) error {
		return h.Run(ctx)
	})
	if opts.listen != "" {
		ws := server.NewWebSocket(h, logger, allowOrigins(opts.origins))
		p.Go(func(ctx context.Context) error {
			return server.ListenAndServe(ctx, opts.listen, ws, logger)
		})
	} else {
		stdio := server.NewStdio(h, in, out, logger)
		p.Go(func(ctx context.Context) error {
			err := stdio.Serve(ctx)
			// The UI closed our stdin; shut everything down.
			cancel()
			return err
		})
	}
	if cfg.Metrics.Addr != "" {
		p.Go(func(ctx context.Context) error {
			return server.ListenAndServe(ctx, cfg.Metrics.Addr, rec.Handler(), logger)
		})
	}

	err = p.Wait()
	logger.Info("host stopped", "error", err)
	return err
}

// allowOrigins accepts same-origin requests plus the listed origins.
func allowOrigins(origins []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host {
			return true
		}
		return slices.Contains(origins, origin)
	}
}

// reloadable is the part of the host a config change touches.
type reloadable interface {
	SetActivityConfig(activity.Config)
	SetReliabilityMetrics(bool)
}

// reloadConfig returns the viper change handler. A file that fails
// validation is logged and ignored.
func reloadConfig(h reloadable, logger *logging.Logger) func(fsnotify.Event) {
	return func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := config.Load()
		if err != nil {
			logger.Warn("ignoring invalid configuration change", "file", e.Name, "error", err)
			return
		}
		h.SetActivityConfig(cfg.ActivityConfig())
		h.SetReliabilityMetrics(cfg.Host.ReliabilityMetrics)
		logger.Info("configuration reloaded", "file", e.Name)
	}
}
