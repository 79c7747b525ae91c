package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/i2kashif/CopperCore-sub002/internal/config"
	"github.com/i2kashif/CopperCore-sub002/internal/core"
	"github.com/i2kashif/CopperCore-sub002/internal/realtime"
)

const serveShutdownTimeout = 10 * time.Second

// NewServeCommand creates the serve command, the long-running realtime
// gateway: websocket fan-out of committed changes, the scheduled checkpoint
// worker, and Prometheus metrics.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the realtime gateway and checkpoint worker",
		Long: `Serve the websocket change feed on /ws and Prometheus metrics on
/metrics while the checkpoint worker seals and re-verifies the daily
digests in the background. Runs until interrupted.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(rootOpts, cmd, listen)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default: realtime.listen from config)")

	return cmd
}

func runServe(opts *RootOptions, cmd *cobra.Command, listen string) error {
	f := opts.formatter(cmd)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		wrapped := WrapExitError(ExitCommandError, "load configuration", err)
		_ = f.Error("config", wrapped.Error(), nil)
		return wrapped
	}
	if listen == "" {
		listen = cfg.Realtime.Listen
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := realtime.NewHub()
	reg := prometheus.NewRegistry()
	notifier := realtime.NewNotifier(hub,
		realtime.WithWindow(cfg.Realtime.Window),
		realtime.WithMetrics(realtime.NewMetrics(reg)),
	)
	defer notifier.Close()

	env, err := buildEnvironment(ctx, cfg, opts, cmd.ErrOrStderr(),
		core.WithChangeNotifier(notifier),
		core.WithMetricsRecorder(core.NewPrometheusMetricsRecorder(reg)),
	)
	if err != nil {
		_ = f.Error("config", err.Error(), nil)
		return err
	}
	env.Logger.Info("integrity gateway starting",
		"storage", cfg.Storage.Driver, "blob", cfg.Blob.Driver,
		"window", notifier.Window(), "checkpoint_interval", cfg.Checkpoint.Interval)

	worker := core.NewCheckpointWorker(env.Service, cfg.Checkpoint.Interval)
	go worker.Run(ctx)

	srv := &http.Server{
		Handler:           newServeHandler(hub, reg, env.Logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		wrapped := WrapExitError(ExitCommandError, "listen", err)
		_ = f.Error("listen", wrapped.Error(), nil)
		return wrapped
	}
	env.Logger.Info("listening", "addr", ln.Addr().String())

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serveShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return WrapExitError(ExitFailure, "shutdown", err)
		}
		<-serveErr
		env.Logger.Info("gateway stopped")
		return nil
	case err := <-serveErr:
		wrapped := WrapExitError(ExitFailure, "serve", err)
		_ = f.Error("serve", wrapped.Error(), nil)
		return wrapped
	}
}

// newServeHandler assembles the gateway routes: the websocket feed, the
// metrics endpoint, and a liveness probe.
func newServeHandler(hub *realtime.Hub, reg *prometheus.Registry, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", realtime.NewHandler(hub, logger))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	return mux
}
