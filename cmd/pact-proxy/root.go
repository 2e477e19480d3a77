package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/NikZak/pact-proxy/internal/config"
	"github.com/NikZak/pact-proxy/internal/forward"
	"github.com/NikZak/pact-proxy/internal/journal"
	"github.com/NikZak/pact-proxy/internal/server"
	"github.com/NikZak/pact-proxy/internal/store"
	"github.com/NikZak/pact-proxy/internal/telemetry"
)

const shutdownTimeout = 30 * time.Second

type rootFlags struct {
	cfgFile   string
	pactsDir  string
	port      int
	consumer  string
	logLevel  string
	logFormat string
}

func newRootCmd() *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:   "pact-proxy",
		Short: "Record-and-replay HTTP proxy producing Pact contracts",
		Long: `pact-proxy serves GET requests addressed as /{scheme}/{host}/{path}.
Requests already recorded in the pact folder are replayed; anything else is
forwarded to the real host, recorded as a Pact V4 interaction and written to
{consumer}-{provider}.json.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.cfgFile)
			if err != nil {
				return err
			}
			applyFlags(cmd, &flags, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.cfgFile, "config", "c", "", "config file path (default "+config.DefaultPath+" if present)")
	f.StringVarP(&flags.pactsDir, "pact-files-folder", "f", "", "folder holding pact files (default ./pacts)")
	f.IntVarP(&flags.port, "port", "p", 0, "port to listen on (default random in 10000-10999)")
	f.StringVar(&flags.consumer, "consumer", "", "consumer name recorded in pacts (default consumer)")
	f.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	f.StringVar(&flags.logFormat, "log-format", "", "log format: json or text")

	return cmd
}

// applyFlags overrides cfg with every flag set on the command line.
func applyFlags(cmd *cobra.Command, flags *rootFlags, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("pact-files-folder") {
		cfg.Pacts.Dir = flags.pactsDir
	}
	if changed("port") {
		cfg.Server.Port = flags.port
	}
	if changed("consumer") {
		cfg.Pacts.Consumer = flags.consumer
	}
	if changed("log-level") {
		cfg.Log.Level = flags.logLevel
	}
	if changed("log-format") {
		cfg.Log.Format = flags.logFormat
	}
}

// Execute runs the root command.
func Execute() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, out io.Writer) error {
	level := new(slog.LevelVar)
	lvl, err := telemetry.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	level.Set(lvl)

	logger := telemetry.NewLogger(out, cfg.Log.Format, level)
	slog.SetDefault(logger)

	if cfg.Path != "" {
		err := config.Watch(ctx, cfg.Path, logger, func(next *config.Config) {
			l, err := telemetry.ParseLevel(next.Log.Level)
			if err != nil {
				logger.Warn("ignoring invalid log level", slog.String("error", err.Error()))
				return
			}
			if l != level.Level() {
				level.Set(l)
				logger.Info("log level changed", slog.String("level", l.String()))
			}
		})
		if err != nil {
			logger.Warn("config hot reload disabled", slog.String("error", err.Error()))
		}
	}

	if cfg.Telemetry.Tracing {
		shutdown, err := telemetry.InitTracer("pact-proxy", out, logger)
		if err != nil {
			return fmt.Errorf("initialize tracer: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
			}
		}()
	}

	st, err := store.LoadAll(cfg.Pacts.Dir, logger)
	if err != nil {
		return err
	}

	var metrics *telemetry.Metrics
	if cfg.Metrics.Enabled {
		metrics = telemetry.NewMetrics(nil)
	}

	var jr journal.Journal = journal.Nop{}
	if cfg.Journal.Path != "" {
		sqlj, err := journal.OpenSQLite(cfg.Journal.Path)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer sqlj.Close()
		jr = sqlj
	}

	fopts := []forward.Option{
		forward.WithRetry(cfg.Forward.Attempts, cfg.Forward.Backoff),
		forward.WithLogger(logger),
	}
	if metrics != nil {
		fopts = append(fopts, forward.WithObserver(metrics))
	}

	srv, err := server.New(st,
		server.WithLogger(logger),
		server.WithAddress(cfg.Server.Host, cfg.Server.Port),
		server.WithConsumer(cfg.Pacts.Consumer),
		server.WithForwarder(forward.New(fopts...)),
		server.WithMetrics(metrics),
		server.WithJournal(jr),
	)
	if err != nil {
		return err
	}

	if err := srv.StartBackground(); err != nil {
		srv.Close()
		return err
	}
	logger.Info("pact-proxy started",
		slog.Int("port", srv.Port()),
		slog.String("pacts_dir", cfg.Pacts.Dir),
		slog.Int("documents", st.Len()))

	<-ctx.Done()
	logger.Info("shutdown signal received, stopping proxy")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("pact-proxy stopped")
	return nil
}
