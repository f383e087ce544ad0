package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"pkt.systems/gridd"
	"pkt.systems/pslog"
)

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(context.Background(),
		pslog.WithEnvPrefix("GRIDD_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "gridd")
	cmd := newRootCommand(baseLogger)
	ctx = withSignalCancel(ctx)
	if _, err := cmd.ExecuteContextC(ctx); err != nil {
		if err != context.Canceled {
			fmt.Fprintf(os.Stderr, "%s\n", err)
		}
		return 1
	}
	return 0
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	var cfg gridd.Config

	cmd := &cobra.Command{
		Use:           "gridd",
		Short:         "gridd is the scheduling hub of a browser-automation grid: it queues session requests and places each one on a worker node with a matching free slot",
		SilenceErrors: true,
		Example: `
  # Serve on the default port
  gridd

  # Custom port with a Prometheus scrape endpoint
  gridd --listen :4444 --metrics-listen :9090

  # Fail requests no node can ever serve instead of queueing them
  gridd --reject-unsupported-caps

  # Environment configuration
  GRIDD_LISTEN=:4444 GRIDD_SESSION_REQUEST_TIMEOUT=120s gridd
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := baseLogger
			ctx := cmd.Context()
			cmd.SilenceUsage = true

			logger.With("sys", "cli").Info("welcome to gridd",
				"pid", os.Getpid(),
				"uid", os.Getuid(),
				"gid", os.Getgid(),
			)

			if err := bindConfig(&cfg); err != nil {
				return err
			}
			logLevel := strings.TrimSpace(viper.GetString("log-level"))
			if logLevel != "" {
				if level, ok := pslog.ParseLevel(logLevel); ok {
					logger = logger.LogLevel(level)
				}
			}

			server, err := gridd.NewServer(cfg, gridd.WithLogger(logger))
			if err != nil {
				return err
			}

			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
				defer cancel()
				_ = server.Shutdown(shutdownCtx)
			}()

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					logger.With("sys", "cli").Error("shutdown failed", "error", err)
				}
			}()

			err = server.Start()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.String("listen", gridd.DefaultListen, "listen address")
	flags.String("listen-proto", gridd.DefaultListenProto, "listen network (tcp, tcp4, tcp6)")
	flags.String("metrics-listen", gridd.DefaultMetricsListen, "metrics listen address (Prometheus scrape endpoint; empty disables)")
	flags.String("pprof-listen", gridd.DefaultPprofListen, "pprof listen address (debug/pprof endpoints; empty disables)")
	flags.Duration("session-request-timeout", gridd.DefaultSessionRequestTimeout, "maximum time a session request may wait for a slot")
	flags.Duration("session-retry-interval", gridd.DefaultSessionRetryInterval, "queue reaper tick for timed-out session requests")
	flags.Duration("healthcheck-interval", gridd.DefaultHealthCheckInterval, "node health probe period")
	flags.Duration("healthcheck-grace", gridd.DefaultHealthCheckGrace, "delay before a new node's first health probe")
	flags.Duration("purge-interval", gridd.DefaultPurgeInterval, "dead-node sweep period")
	flags.Duration("node-heartbeat-max-age", 0, "heartbeat age before a node is presumed dead (default twice the health check interval)")
	flags.Duration("drain-interval", gridd.DefaultDrainInterval, "queue drain tick")
	flags.Bool("reject-unsupported-caps", false, "immediately fail requests no node can ever serve")
	flags.Duration("node-session-timeout", gridd.DefaultNodeSessionTimeout, "per-call timeout for session creation on a node")
	flags.Duration("node-health-timeout", gridd.DefaultNodeHealthTimeout, "per-call timeout for node health probes")
	maxBodyDefault := strings.ReplaceAll(humanize.Bytes(uint64(gridd.DefaultMaxBodyBytes)), " ", "")
	flags.String("max-body", maxBodyDefault, "maximum JSON payload size")
	flags.Duration("shutdown-timeout", gridd.DefaultShutdownTimeout, "overall graceful shutdown timeout")
	flags.String("log-level", "info", "log level (trace, debug, info, warn, error)")

	viper.SetEnvPrefix("GRIDD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	names := []string{
		"listen", "listen-proto", "metrics-listen", "pprof-listen",
		"session-request-timeout", "session-retry-interval",
		"healthcheck-interval", "healthcheck-grace",
		"purge-interval", "node-heartbeat-max-age", "drain-interval",
		"reject-unsupported-caps",
		"node-session-timeout", "node-health-timeout",
		"max-body", "shutdown-timeout", "log-level",
	}
	for _, name := range names {
		flag := flags.Lookup(name)
		if flag == nil {
			panic(fmt.Sprintf("flag %q not found", name))
		}
		if err := viper.BindPFlag(name, flag); err != nil {
			panic(err)
		}
	}

	cmd.AddCommand(newStatusCommand())
	cmd.AddCommand(newDrainCommand())

	return cmd
}

func bindConfig(cfg *gridd.Config) error {
	cfg.Listen = viper.GetString("listen")
	cfg.ListenProto = viper.GetString("listen-proto")
	cfg.MetricsListen = viper.GetString("metrics-listen")
	cfg.PprofListen = viper.GetString("pprof-listen")
	cfg.SessionRequestTimeout = viper.GetDuration("session-request-timeout")
	cfg.SessionRetryInterval = viper.GetDuration("session-retry-interval")
	cfg.HealthCheckInterval = viper.GetDuration("healthcheck-interval")
	cfg.HealthCheckGrace = viper.GetDuration("healthcheck-grace")
	cfg.PurgeInterval = viper.GetDuration("purge-interval")
	cfg.NodeHeartbeatMaxAge = viper.GetDuration("node-heartbeat-max-age")
	cfg.DrainInterval = viper.GetDuration("drain-interval")
	cfg.RejectUnsupportedCaps = viper.GetBool("reject-unsupported-caps")
	cfg.NodeSessionTimeout = viper.GetDuration("node-session-timeout")
	cfg.NodeHealthTimeout = viper.GetDuration("node-health-timeout")
	if maxBody := viper.GetString("max-body"); maxBody != "" {
		size, err := humanize.ParseBytes(maxBody)
		if err != nil {
			return fmt.Errorf("parse max-body: %w", err)
		}
		cfg.MaxBodyBytes = int64(size)
	}
	cfg.ShutdownTimeout = viper.GetDuration("shutdown-timeout")
	return nil
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}
