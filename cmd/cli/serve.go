package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/anstrom/stridescan/internal/api"
	"github.com/anstrom/stridescan/internal/config"
	"github.com/anstrom/stridescan/internal/daemon"
	"github.com/anstrom/stridescan/internal/db"
	"github.com/anstrom/stridescan/internal/errors"
	"github.com/anstrom/stridescan/internal/logging"
	"github.com/anstrom/stridescan/internal/metrics"
	"github.com/anstrom/stridescan/internal/scanning"
	"github.com/anstrom/stridescan/internal/scheduler"
	"github.com/anstrom/stridescan/internal/services"
	"github.com/anstrom/stridescan/internal/workers"
)

const defaultMetricsInterval = 15 * time.Second

func newServeCmd(opts *globalOptions) *cobra.Command {
	var pidFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scan API server and scheduler",
		Long: `Start the HTTP API. Scans submitted through the API or fired by the
configured schedule run on a bounded pool; results are kept in memory
and stored in PostgreSQL when a database is configured.

The server stops gracefully on SIGINT or SIGTERM and logs a status
dump on SIGUSR1.`,
		Example: `  stridescan serve
  stridescan serve --host 0.0.0.0 --port 9090
  stridescan serve --config /etc/stridescan/config.yaml --pid-file /run/stridescan.pid`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if pidFile != "" {
				pf, err := daemon.CreatePIDFile(pidFile)
				if err != nil {
					return err
				}
				defer func() {
					if err := pf.Remove(); err != nil {
						logging.Warn("Failed to remove PID file", "path", pidFile, "error", err)
					}
				}()
			}
			return runServe(ctx, opts.cfg)
		},
	}

	cmd.Flags().String("host", "", "API listen host (overrides config)")
	cmd.Flags().Int("port", 0, "API listen port (overrides config)")
	cmd.Flags().StringVar(&pidFile, "pid-file", "", "write the server PID to this file")
	if err := opts.v.BindPFlag("api.host", cmd.Flags().Lookup("host")); err != nil {
		logging.Warn("Failed to bind host flag", "error", err)
	}
	if err := opts.v.BindPFlag("api.port", cmd.Flags().Lookup("port")); err != nil {
		logging.Warn("Failed to bind port flag", "error", err)
	}
	return cmd
}

// runServe wires the pool, scan service, store, scheduler and API, then
// blocks until ctx is canceled.
func runServe(ctx context.Context, cfg *config.Config) error {
	logger := logging.Default().WithComponent("serve")

	if !cfg.API.Enabled && !cfg.Schedule.Enabled {
		return errors.NewConfigFieldError(errors.CodeConfiguration,
			"nothing to serve: enable the API or the schedule", "api.enabled", false)
	}

	var pm *metrics.PrometheusMetrics
	if cfg.Metrics.Enabled {
		pm = metrics.NewPrometheusMetrics()
		interval := cfg.Metrics.UpdateInterval
		if interval <= 0 {
			interval = defaultMetricsInterval
		}
		go pm.StartPeriodicUpdates(ctx, interval)
	}

	deps := api.Dependencies{Metrics: pm}
	serviceOpts := []services.Option{
		services.WithRecentLimit(cfg.API.RecentScans),
	}
	scanOpts := []scanning.Option{scanning.WithNetwork(cfg.Scanning.Network)}

	if cfg.Database.Enabled() {
		database, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := database.Close(); err != nil {
				logger.Warn("Failed to close database", "error", err)
			}
		}()

		var repo *db.ScanRepository
		if pm != nil {
			repo = db.NewScanRepository(database, pm)
		} else {
			repo = db.NewScanRepository(database, nil)
		}
		serviceOpts = append(serviceOpts, services.WithStore(repo))
		deps.History = repo
		deps.Database = database
	} else {
		logger.Info("No database configured, scan history is kept in memory only")
	}

	poolCfg := workers.DefaultConfig()
	poolCfg.Size = cfg.Scanning.MaxConcurrentScans
	poolCfg.QueueSize = cfg.Scanning.QueueSize

	var (
		pool *workers.Pool
		jobs workers.JobRecorder
	)
	if pm != nil {
		scanOpts = append(scanOpts, scanning.WithRecorder(pm))
		pool = workers.New(poolCfg, pm)
		jobs = pm
	} else {
		pool = workers.New(poolCfg, nil)
	}
	pool.Start()

	collected := make(chan struct{})
	go func() {
		defer close(collected)
		total, failed := workers.Collect(pool.Results(), jobs)
		logger.Info("Worker pool jobs finished", "total", total, "failed", failed)
	}()
	defer func() {
		if err := pool.Shutdown(); err != nil {
			logger.Warn("Worker pool shutdown incomplete", "error", err)
		}
		<-collected
	}()

	serviceOpts = append(serviceOpts, services.WithScanOptions(scanOpts...))
	svc := services.NewScanService(pool, serviceOpts...)
	deps.Scans = svc

	var sched *scheduler.Scheduler
	if cfg.Schedule.Enabled {
		sched = scheduler.NewScheduler(svc)
		if err := sched.LoadFromConfig(cfg); err != nil {
			return err
		}
		if err := sched.Start(); err != nil {
			return err
		}
		defer func() { <-sched.Stop().Done() }()
	}

	daemon.WatchStatusSignal(ctx, logger, func() []any {
		fields := serveStatus(cfg, svc, sched)
		if pm != nil {
			fields = append(fields,
				"uptime", pm.GetUptime().Round(time.Second).String(),
				"metrics_updated", pm.GetLastUpdate())
		}
		return fields
	})

	if !cfg.API.Enabled {
		logger.Info("API disabled, running scheduled scans only")
		<-ctx.Done()
		return nil
	}

	server, err := api.New(cfg, deps)
	if err != nil {
		return err
	}
	return server.Start(ctx)
}

// serveStatus summarizes the running server for the SIGUSR1 dump.
func serveStatus(cfg *config.Config, svc *services.ScanService, sched *scheduler.Scheduler) []any {
	counts := make(map[string]int)
	for _, scan := range svc.List() {
		counts[scan.Status]++
	}

	fields := []any{
		"api_enabled", cfg.API.Enabled,
		"database_configured", cfg.Database.Enabled(),
		"scans_queued", counts[services.StatusQueued],
		"scans_running", counts[services.StatusRunning],
		"scans_completed", counts[services.StatusCompleted],
		"scans_failed", counts[services.StatusFailed] + counts[services.StatusCanceled],
	}
	if cfg.API.Enabled {
		fields = append(fields, "api_address", cfg.GetAPIAddress())
	}
	if sched != nil {
		fields = append(fields, "scheduled_jobs", len(sched.GetJobs()))
	}
	return fields
}
