// Command pilot is the entry point for the gridpilot binary.
//
// Startup sequence (grounded on agent/cmd/agent/main.go's run()):
//  1. Parse CLI flags / environment variables
//  2. Build logger
//  3. Build the Communicator, Heartbeat Store, copytool Registry
//  4. Build the Staging Engine and Prometheus metrics registry
//  5. Build the Workflow Orchestrator (job/data/monitor stages)
//  6. Serve /metrics and block until the Orchestrator's stages exit or a
//     signal requests shutdown
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gridpilot/pilot/internal/communicator"
	"github.com/gridpilot/pilot/internal/config"
	"github.com/gridpilot/pilot/internal/copytool"
	"github.com/gridpilot/pilot/internal/copytool/gfal"
	"github.com/gridpilot/pilot/internal/copytool/rucio"
	"github.com/gridpilot/pilot/internal/copytool/s3"
	"github.com/gridpilot/pilot/internal/eventservice"
	"github.com/gridpilot/pilot/internal/heartbeat"
	"github.com/gridpilot/pilot/internal/logging"
	"github.com/gridpilot/pilot/internal/metrics"
	"github.com/gridpilot/pilot/internal/model"
	"github.com/gridpilot/pilot/internal/orchestrator"
	"github.com/gridpilot/pilot/internal/queues"
	"github.com/gridpilot/pilot/internal/replica"
	"github.com/gridpilot/pilot/internal/staging"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var serverURL, logLevel, stateDir string

	root := &cobra.Command{
		Use:   "pilot",
		Short: "pilot — grid workload agent",
		Long: `pilot stages input data, executes a grid payload, and stages output
data back to the grid, reporting progress to a PanDA-compatible server.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if serverURL != "" {
				cfg.ServerURL = serverURL
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			if stateDir != "" {
				cfg.StateDir = stateDir
			}
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())
	root.PersistentFlags().StringVar(&serverURL, "server-url", "", "PanDA server URL (overrides PANDA_SERVER_URL)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&stateDir, "state-dir", "", "Directory for pilot state (heartbeat file, etc.)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pilot %s (commit: %s)\n", version, commit)
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	logger, err := logging.Build(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting pilot",
		zap.String("version", version),
		zap.String("server", cfg.ServerURL),
		zap.String("site", cfg.SiteName),
	)

	comm := communicator.New(communicator.Config{ServerURL: cfg.ServerURL}, logger)
	hbStore := heartbeat.New(cfg.StateDir)

	registry := copytool.NewRegistry(buildCopytools(ctx, cfg, logger)...)

	storage := &model.Config{
		ACopytools: map[string][]string{"default": {"rucio", "gfal", "s3"}},
		ReadLAN:    []string{},
	}

	engine := &staging.Engine{
		Registry:   registry,
		Resolver:   &replica.Resolver{Storage: storage, DirectLocalInputAllowedSchemas: staging.DirectLocalInputAllowedSchemas, DirectRemoteInputAllowedSchemas: staging.DirectRemoteInputAllowedSchemas, RemoteInputAllowedSchemas: staging.RemoteInputAllowedSchemas},
		Storage:    storage,
		ACopytools: storage.ACopytools,
	}

	metricsReg := prometheus.NewRegistry()
	gauges := metrics.NewGauges(metricsReg)
	go runMetricsServer(ctx, cfg, metricsReg, gauges, logger)

	q := queues.NewBundle(0)

	jobStage := func(ctx context.Context, q *queues.Bundle) error {
		return runJobStage(ctx, q, comm, hbStore, cfg, logger)
	}
	dataStage := func(ctx context.Context, q *queues.Bundle) error {
		return runDataStage(ctx, q, engine, logger)
	}
	monitorStage := func(ctx context.Context, q *queues.Bundle) error {
		return runMonitorStage(ctx, q, hbStore, comm, cfg, logger)
	}

	orch := orchestrator.New(q, jobStage, dataStage, monitorStage, logger)

	if err := orch.Run(ctx); err != nil {
		logger.Warn("pilot stages exited with errors", zap.Error(err))
	}

	logger.Info("pilot stopped")
	return nil
}

// buildCopytools assembles the production copytool set: rucio and gfal are
// always available (they only need the CLI binary on PATH); s3 additionally
// requires a configured bucket and a loadable AWS credential chain, so it's
// registered only when both are available — a site without S3 storage still
// boots with the other two backends.
func buildCopytools(ctx context.Context, cfg config.Config, logger *zap.Logger) []copytool.Copytool {
	tools := []copytool.Copytool{rucio.New(""), gfal.New("")}

	if cfg.S3Bucket == "" {
		return tools
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Warn("failed to load AWS config, s3 copytool disabled", zap.Error(err))
		return tools
	}
	client := awss3.NewFromConfig(awsCfg)
	return append(tools, s3.New(client, cfg.S3Bucket))
}

// runMetricsServer periodically refreshes the host-resource gauges and
// serves them on cfg.MetricsAddr until ctx is cancelled. This runs alongside
// the three supervised stages rather than as a fourth orchestrator stage, so
// a metrics-server failure never contributes to the Orchestrator's
// AggregateError.
func runMetricsServer(ctx context.Context, cfg config.Config, reg *prometheus.Registry, gauges *metrics.Gauges, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snap, err := metrics.Collect(ctx, cfg.WorkDir)
				if err != nil {
					logger.Warn("failed to collect host metrics", zap.Error(err))
					continue
				}
				gauges.Update(snap)
			}
		}
	}()

	logger.Info("serving metrics", zap.String("addr", cfg.MetricsAddr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Warn("metrics server stopped", zap.Error(err))
	}
}

// runJobStage is the Communicator-facing stage: it polls the server for new
// job assignments, decodes them onto q.Jobs, hands every acquired job to the
// data stage for stage-in via q.DataIn, forwards validated jobs to
// monitoring with a heartbeat update, and reports terminal outcomes
// (q.FinishedJobs/q.FailedJobs) back to the server, grounded on
// pilot/control/job.control's queue-draining shape.
func runJobStage(ctx context.Context, q *queues.Bundle, comm *communicator.Communicator, hb *heartbeat.Store, cfg config.Config, logger *zap.Logger) error {
	pollTicker := time.NewTicker(30 * time.Second)
	defer pollTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-pollTicker.C:
			if err := acquireJobs(ctx, q, comm, cfg, logger); err != nil {
				logger.Warn("get_jobs failed", zap.Error(err))
			}

		case job, ok := <-q.Jobs:
			if !ok {
				return nil
			}
			if err := queues.TryPut(q.DataIn, job, "data_in"); err != nil {
				logger.Warn("failed to enqueue acquired job for stage-in", zap.String("job_id", job.ID), zap.Error(err))
			}

		case job, ok := <-q.ValidatedJobs:
			if !ok {
				return nil
			}
			if err := hb.Update(time.Now()); err != nil {
				logger.Warn("heartbeat update failed", zap.Error(err))
			}
			if err := queues.TryPut(q.MonitoredPayloads, job, "monitored_payloads"); err != nil {
				logger.Warn("failed to enqueue payload for monitoring", zap.Error(err))
			}

		case job, ok := <-q.FinishedJobs:
			if !ok {
				return nil
			}
			reportJobStatus(ctx, comm, job, "finished", logger)
			_ = queues.TryPut(q.CompletedJobs, job, "completed_jobs")
			_ = queues.TryPut(q.CompletedJobIDs, job.ID, "completed_job_ids")

		case job, ok := <-q.FailedJobs:
			if !ok {
				return nil
			}
			reportJobStatus(ctx, comm, job, "failed", logger)
		}
	}
}

// acquireJobs calls Communicator.GetJobs and pushes every decoded job onto
// q.Jobs, grounded on the dispatcher's getJob acquisition loop.
func acquireJobs(ctx context.Context, q *queues.Bundle, comm *communicator.Communicator, cfg config.Config, logger *zap.Logger) error {
	resp, err := comm.GetJobs(ctx, communicator.GetJobsRequest{SiteName: cfg.SiteName})
	if err != nil {
		return err
	}
	for _, raw := range resp.Jobs {
		job, err := model.JobFromJSON(raw)
		if err != nil {
			logger.Warn("failed to decode acquired job, skipped", zap.Error(err))
			continue
		}
		if job.WorkDir == "" {
			job.WorkDir = filepath.Join(cfg.WorkDir, job.ID)
		}
		if err := queues.TryPut(q.Jobs, job, "jobs"); err != nil {
			logger.Warn("failed to enqueue acquired job", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	return nil
}

// reportJobStatus sends a terminal job status back to the server, logging
// (rather than failing the stage) on error. A failed update is sent once
// only; it is not retried.
func reportJobStatus(ctx context.Context, comm *communicator.Communicator, job *model.Job, state string, logger *zap.Logger) {
	pandaID, err := job.PandaID()
	if err != nil {
		logger.Warn("cannot report job status for non-numeric job id", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	if err := comm.UpdateJobs(ctx, communicator.UpdateJobsRequest{PandaID: pandaID, State: state}); err != nil {
		logger.Warn("update_job failed", zap.String("job_id", job.ID), zap.String("state", state), zap.Error(err))
	}
}

// runDataStage drains q.DataIn/q.DataOut, invoking the Staging Engine's
// StageIn/StageOut for each job, grounded on pilot/control/data.control's
// queue-draining shape. A successful stage-in hands the job to
// q.ValidatedJobs for heartbeat/monitoring dispatch; a successful stage-out
// hands it to q.FinishedJobs.
func runDataStage(ctx context.Context, q *queues.Bundle, engine *staging.Engine, logger *zap.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job, ok := <-q.DataIn:
			if !ok {
				return nil
			}
			if err := engine.StageIn(ctx, job, []string{"default"}); err != nil {
				logger.Warn("stage-in failed", zap.String("job_id", job.ID), zap.Error(err))
				_ = queues.TryPut(q.FailedJobs, job, "failed_jobs")
				continue
			}
			_ = queues.TryPut(q.ValidatedJobs, job, "validated_jobs")
		case job, ok := <-q.DataOut:
			if !ok {
				return nil
			}
			if err := engine.StageOut(ctx, job, []string{"default"}); err != nil {
				logger.Warn("stage-out failed", zap.String("job_id", job.ID), zap.Error(err))
				_ = queues.TryPut(q.FailedJobs, job, "failed_jobs")
				continue
			}
			_ = queues.TryPut(q.FinishedJobs, job, "finished_jobs")
		}
	}
}

// runMonitorStage drains q.MonitoredPayloads: for an Event-Service job it
// starts the Event-Service Executor so the payload process can dial in for
// event ranges over its IPC socket, then forwards the job to q.DataOut for
// stage-out — the payload container itself that would drive that socket is
// out of scope (spec.md §1). It also periodically checks heartbeat
// suspension, grounded on pilot/control/monitor.control.
func runMonitorStage(ctx context.Context, q *queues.Bundle, hb *heartbeat.Store, comm *communicator.Communicator, cfg config.Config, logger *zap.Logger) error {
	limit := time.Duration(cfg.HeartbeatSec) * time.Second
	if limit <= 0 {
		limit = 10 * time.Minute
	}
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case job, ok := <-q.MonitoredPayloads:
			if !ok {
				return nil
			}
			if job.NEvents > 0 {
				superviseEventServiceJob(ctx, job, comm, cfg, logger)
			}
			if err := queues.TryPut(q.DataOut, job, "data_out"); err != nil {
				logger.Warn("failed to enqueue job for stage-out", zap.String("job_id", job.ID), zap.Error(err))
			}

		case <-ticker.C:
			suspended, err := hb.IsSuspended(time.Now(), limit)
			if err != nil {
				logger.Warn("failed to read heartbeat state", zap.Error(err))
				continue
			}
			if suspended {
				logger.Warn("pilot heartbeat suspended beyond limit", zap.Duration("limit", limit))
			}
		}
	}
}

// superviseEventServiceJob starts an Event-Service Executor bound to a
// per-job IPC socket under cfg.StateDir, running for the lifetime of ctx so
// the payload process can dial in for event ranges.
func superviseEventServiceJob(ctx context.Context, job *model.Job, comm *communicator.Communicator, cfg config.Config, logger *zap.Logger) {
	pandaID, err := job.PandaID()
	if err != nil {
		logger.Warn("event-service job has non-numeric id, executor skipped", zap.String("job_id", job.ID), zap.Error(err))
		return
	}

	socketPath := filepath.Join(cfg.StateDir, fmt.Sprintf("pilot-%d.sock", pandaID))
	exec := eventservice.New(socketPath, pandaID, comm, logger)

	go func() {
		if err := exec.Run(ctx); err != nil {
			logger.Warn("event-service executor stopped", zap.String("job_id", job.ID), zap.Error(err))
		}
	}()
}
