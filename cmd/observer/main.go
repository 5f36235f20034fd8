// Observer harvests subnet owners and validators from the taostats API into
// snapshot tables. Runs once, or on a ticker with health and metrics endpoints.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/arkiv/chain-observer/internal/harvest"
	"github.com/arkiv/chain-observer/internal/metrics"
	"github.com/arkiv/chain-observer/internal/snapshot"
	"github.com/arkiv/chain-observer/internal/ss58"
	"github.com/arkiv/chain-observer/internal/taostats"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd(os.Getenv).ExecuteContext(ctx)
	cancel()
	if err != nil {
		os.Exit(1)
	}
}

// app is the state shared by the harvest subcommands once flags and config
// are resolved.
type app struct {
	cfg     config
	log     *slog.Logger
	reg     *prometheus.Registry
	metrics *metrics.Metrics
}

func newRootCmd(getenv func(string) string) *cobra.Command {
	a := &app{}
	var (
		configPath string
		flags      config
	)

	root := &cobra.Command{
		Use:          "observer",
		Short:        "Harvest taostats subnet owners and validators into snapshot tables",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath, getenv)
			if err != nil {
				return err
			}
			pf := cmd.Flags()
			if pf.Changed("log-level") {
				cfg.LogLevel = flags.LogLevel
			}
			if pf.Changed("sqlite-path") {
				cfg.SQLitePath = flags.SQLitePath
			}
			if pf.Changed("database-url") {
				cfg.DatabaseURL = flags.DatabaseURL
			}
			if pf.Changed("interval") {
				cfg.IntervalSec = flags.IntervalSec
			}
			if pf.Changed("strict") {
				cfg.Strict = flags.Strict
			}

			a.cfg = cfg
			a.log = slog.New(slog.NewJSONHandler(cmd.OutOrStdout(), &slog.HandlerOptions{Level: cfg.logLevel()}))
			slog.SetDefault(a.log)
			a.reg = prometheus.NewRegistry()
			a.metrics = metrics.New(a.reg)
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "YAML config file")
	pf.StringVar(&flags.LogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	pf.StringVar(&flags.SQLitePath, "sqlite-path", snapshot.DefaultSQLitePath, "SQLite database file")
	pf.StringVar(&flags.DatabaseURL, "database-url", "", "PostgreSQL connection string; overrides --sqlite-path")
	pf.IntVar(&flags.IntervalSec, "interval", 0, "seconds between harvests; 0 runs once")
	pf.BoolVar(&flags.Strict, "strict", false, "exit non-zero when any job fails")

	root.AddCommand(
		a.harvestCmd("run", "Harvest owners then validators", true, true),
		a.harvestCmd("owners", "Harvest subnet owners", true, false),
		a.harvestCmd("validators", "Harvest validators above the stake threshold", false, true),
		newEncodeCmd(),
	)
	return root
}

func (a *app) harvestCmd(use, short string, owners, validators bool) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.harvest(cmd.Context(), owners, validators)
		},
	}
}

func (a *app) harvest(ctx context.Context, owners, validators bool) error {
	cc, err := a.cfg.clientConfig()
	if err != nil {
		return err
	}
	cc.Logger = a.log
	cc.Metrics = a.metrics
	client := taostats.New(cc)

	store, err := openStorage(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	writer := snapshot.NewWriter(store, a.log, a.metrics)

	reporter, flush, err := newReporter(a.cfg.SentryDSN, a.log)
	if err != nil {
		return err
	}
	defer flush()

	var jobs []harvest.Job
	if owners {
		jobs = append(jobs, harvest.NewOwnersJob(client, writer, a.log))
	}
	if validators {
		jobs = append(jobs, harvest.NewValidatorsJob(client, writer, a.cfg.MinValidatorStake, a.log))
	}
	runner := harvest.NewRunner(a.log, a.metrics, reporter, jobs...)

	if a.cfg.interval() > 0 {
		return a.serve(ctx, runner)
	}

	err = harvest.Err(runner.Run(ctx))
	if err != nil && a.cfg.Strict {
		return err
	}
	return nil
}

// serve runs the harvest on a ticker and exposes /healthz and /metrics until
// ctx is done.
func (a *app) serve(ctx context.Context, runner *harvest.Runner) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srv := &http.Server{Addr: a.cfg.addr(), Handler: newMux(a.reg, a.metrics)}
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server stopped", "err", err)
			serveErr <- err
			cancel()
		}
	}()
	a.log.Info("starting", "addr", a.cfg.addr(), "interval", a.cfg.interval())

	runWorker(ctx, runner, a.cfg.interval(), a.log)

	a.log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("shutdown", "err", err)
	}
	select {
	case err := <-serveErr:
		return err
	default:
		return nil
	}
}

// runWorker runs the harvest once, then again at every tick, until ctx is
// done. Failures are already logged and reported by the runner.
func runWorker(ctx context.Context, runner *harvest.Runner, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		outcomes := runner.Run(ctx)
		if err := harvest.Err(outcomes); err != nil {
			log.Warn("harvest pass had failures", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
		}
	}
}

func openStorage(ctx context.Context, cfg config) (snapshot.Storage, error) {
	if cfg.DatabaseURL != "" {
		return snapshot.OpenPostgres(ctx, cfg.DatabaseURL)
	}
	return snapshot.OpenSQLite(cfg.SQLitePath, snapshot.WithMkdirAll())
}

func newEncodeCmd() *cobra.Command {
	var format uint16
	cmd := &cobra.Command{
		Use:   "encode <hex>...",
		Short: "Print the SS58 address of each hex public key",
		Args:  cobra.MinimumNArgs(1),
		// encode needs no config, storage or logger.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, h := range args {
				addr, err := ss58.FromHexWithFormat(h, format)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), addr)
			}
			return nil
		},
	}
	cmd.Flags().Uint16Var(&format, "format", ss58.DefaultFormat, "SS58 network prefix")
	return cmd
}
