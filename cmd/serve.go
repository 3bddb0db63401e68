package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Synternet/bondingcurve-indexer/internal/publisher"
)

var (
	flagRunOnStart      *bool
	flagTelemetryPeriod *time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP run trigger and token queries, optionally running snapshots on a schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a := mustApp(ctx, appOptions{publish: true, registry: prometheus.DefaultRegisterer})
		defer a.Close()

		server := publisher.NewServer(
			a.indexer,
			publisher.WithServerLogger(logger),
			publisher.WithGatherer(prometheus.DefaultRegisterer, prometheus.DefaultGatherer),
		)
		a.addStatusCallbacks(server)

		httpServer := &http.Server{
			Addr:         cfg.HTTP.Addr,
			Handler:      server.NewRouter(),
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
		}

		group, gctx := errgroup.WithContext(ctx)
		group.Go(func() error {
			logger.Info("HTTP server listening", "addr", cfg.HTTP.Addr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		group.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})

		if cfg.Indexer.Schedule != "" {
			scheduler, err := publisher.NewScheduler(gctx, a.indexer, cfg.Indexer.Schedule, logger)
			if err != nil {
				return err
			}
			scheduler.Start()
			defer scheduler.Stop()
		}

		if *flagRunOnStart {
			group.Go(func() error {
				if _, err := a.indexer.RunOnce(gctx); err != nil {
					logger.Warn("Initial run failed", "err", err)
				}
				return nil
			})
		}

		if *flagTelemetryPeriod > 0 {
			group.Go(func() error {
				ticker := time.NewTicker(*flagTelemetryPeriod)
				defer ticker.Stop()
				for {
					select {
					case <-gctx.Done():
						return nil
					case <-ticker.C:
						logger.Info("Telemetry", "status", server.GetStatus())
					}
				}
			})
		}

		err := group.Wait()
		logger.Info("Shutdown", "err", err)
		return err
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	const (
		HTTP_ADDR        = "HTTP_ADDR"
		SCHEDULE         = "SCHEDULE"
		RUN_ON_START     = "RUN_ON_START"
		TELEMETRY_PERIOD = "TELEMETRY_PERIOD"
	)
	setDefault(HTTP_ADDR, cfg.HTTP.Addr)

	f := serveCmd.Flags()
	f.StringVar(&cfg.HTTP.Addr, "http-addr", os.Getenv(HTTP_ADDR), "HTTP listen address")
	f.StringVar(&cfg.Indexer.Schedule, "schedule", os.Getenv(SCHEDULE), "Cron schedule for in-process runs, seconds field optional (e.g. \"0 */5 * * * *\"); empty disables")
	_, runOnStart := os.LookupEnv(RUN_ON_START)
	flagRunOnStart = f.Bool("run-on-start", runOnStart, "Run one snapshot pass right after startup")
	flagTelemetryPeriod = f.DurationP("telemetry-period", "T", envDuration(TELEMETRY_PERIOD, time.Minute), "Status report period; 0 disables")
}
