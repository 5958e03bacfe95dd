package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gocloud.dev/pubsub"
	_ "gocloud.dev/pubsub/mempubsub"
	"golang.org/x/sync/errgroup"

	"go.appointy.com/capi/config"
	"go.appointy.com/capi/jobs"
	"go.appointy.com/capi/metrics"
	"go.appointy.com/capi/pgnotify"
	"go.appointy.com/capi/plugins"
)

// insertChannel is notified by the insert trigger of capi_worker.jobs.
const insertChannel = "jobs:insert"

type workerOptions struct {
	*rootOptions
	concurrency int
	metricsAddr string
}

func newWorkerCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &workerOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run queued jobs",
		Long: `Run the jobs queued in capi_worker.jobs until interrupted. On SIGINT or
SIGTERM the worker stops leasing, waits for running jobs up to
WORKER_DRAIN_TIMEOUT and releases the rest.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.Config
			if cmd.Flags().Changed("concurrency") {
				cfg.WorkerConcurrency = opts.concurrency
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return work(cmd.Context(), cfg, opts.metricsAddr, opts.Logger)
		},
	}

	cmd.Flags().IntVarP(&opts.concurrency, "concurrency", "c", 0, "jobs run at once (WORKER_CONCURRENCY)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

func work(ctx context.Context, cfg *config.Config, metricsAddr string, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	queue, err := jobs.OpenPgQueue(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer queue.Close()

	runner := jobs.NewRunner(queue,
		jobs.WithConcurrency(cfg.WorkerConcurrency),
		jobs.WithPollInterval(cfg.WorkerPollInterval),
		jobs.WithLease(cfg.WorkerLease),
		jobs.WithDrainTimeout(cfg.WorkerDrainTimeout),
		jobs.WithStoreTimeout(cfg.StoreTimeout),
		jobs.WithRunnerLogger(logger),
		jobs.WithRunnerMetrics(m),
	)
	if cfg.PubSubTopicURL != "" {
		topic, err := pubsub.OpenTopic(ctx, cfg.PubSubTopicURL)
		if err != nil {
			return err
		}
		defer topic.Shutdown(context.WithoutCancel(ctx)) //nolint:errcheck
		runner.Handle(plugins.PublishEventTask, plugins.PublishEvent(topic))
	} else {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		runner.Handle(plugins.PublishEventTask, plugins.NotifyEvent(db))
	}

	inserts := pgnotify.New(cfg.DatabaseURL, pgnotify.WithLogger(logger))
	if err := inserts.Listen(insertChannel); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return inserts.Run(gctx, pgnotify.Signal(insertChannel, runner.Wake())) })
	if metricsAddr != "" {
		srv := &http.Server{Addr: metricsAddr, Handler: m.Handler()}
		g.Go(func() error {
			<-gctx.Done()
			return srv.Close()
		})
		g.Go(func() error {
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	// The runner stops on ctx, not gctx: without wake-ups it still polls.
	g.Go(func() error { return runner.Run(ctx) })
	return g.Wait()
}
