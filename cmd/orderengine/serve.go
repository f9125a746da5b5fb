package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/souravmenon1999/dex-order-engine/internal/api"
	"github.com/souravmenon1999/dex-order-engine/internal/engine"
	"github.com/souravmenon1999/dex-order-engine/internal/execution"
	"github.com/souravmenon1999/dex-order-engine/internal/logging"
	"github.com/souravmenon1999/dex-order-engine/internal/metrics"
	"github.com/souravmenon1999/dex-order-engine/internal/pipeline"
	"github.com/souravmenon1999/dex-order-engine/internal/registry"
	"github.com/souravmenon1999/dex-order-engine/internal/report"
	"github.com/souravmenon1999/dex-order-engine/internal/router"
	"github.com/souravmenon1999/dex-order-engine/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, path, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logging.InitLogger(cfg.Log.Level, cfg.Log.Format)
	logger := logging.GetLogger()
	logger.Info().Str("config", path).Str("listen", cfg.Server.ListenAddr).Int("venues", len(cfg.Router.Venues)).Msg("config loaded")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	subs := registry.New(m)
	selector := router.NewSelector(router.SourcesFromConfig(cfg.Router), router.BreakerConfigFrom(cfg.Router.Breaker), m)
	executor := execution.NewSimulated(cfg.Execution)
	pipe := pipeline.New(selector, executor, subs, pipeline.TimeoutsFrom(cfg.Pipeline), m)

	// Pipelines outlive the request that started them, so the pool hangs
	// off a context of its own and is only cancelled during shutdown.
	pool := worker.NewPool(context.Background(), cfg.Pipeline.MaxInFlight, m)
	eng := engine.New(pipe, pool, m, engine.WithMaxAmount(decimal.NewFromFloat(cfg.Pipeline.MaxAmount)))
	srv := api.NewServer(cfg.Server, cfg.WebSocket, eng, subs, promReg)

	if cfg.Log.StatsSchedule != "" {
		rep, err := report.New(cfg.Log.StatsSchedule, func() report.Stats {
			breakers := make(map[string]string)
			for venue, state := range selector.BreakerStates() {
				breakers[venue] = state.String()
			}
			return report.Stats{InFlight: eng.InFlight(), Subscriptions: subs.Len(), Breakers: breakers}
		})
		if err != nil {
			return err
		}
		rep.Start()
		defer rep.Stop()
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	// Pool first, so open streams still receive the failed event of each
	// cancelled order.
	if err := pool.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("worker pool shutdown")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown")
	}
	logger.Info().Msg("stopped")
	return nil
}
