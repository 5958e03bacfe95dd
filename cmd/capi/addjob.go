package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"go.appointy.com/capi/jobs"
)

type addJobOptions struct {
	*rootOptions
	RunAt       string
	MaxAttempts int
}

// newAddJobCommand queues a job through capi_worker.add_job, the same
// function database code calls.
func newAddJobCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &addJobOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add-job <task> [payload]",
		Short: "Queue a job",
		Long: `Queue a job for the worker. The payload is a JSON object.

Example:
  capi add-job publish_event '{"topic": "graphql:new_boat:6f1c1f5e-4a0e-4d54-9a7e-0f3a6c1b2c01", "event": "created", "subject": "1"}'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			nj := jobs.NewJob{Task: args[0], MaxAttempts: opts.MaxAttempts}
			if nj.MaxAttempts == 0 {
				nj.MaxAttempts = opts.Config.WorkerMaxAttempts
			}
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return fmt.Errorf("payload is not valid JSON")
				}
				nj.Payload = json.RawMessage(args[1])
			}
			if opts.RunAt != "" {
				at, err := time.Parse(time.RFC3339, opts.RunAt)
				if err != nil {
					return fmt.Errorf("--run-at: %w", err)
				}
				nj.RunAt = at
			}

			ctx := cmd.Context()
			q, err := jobs.OpenPgQueue(ctx, opts.Config.DatabaseURL)
			if err != nil {
				return err
			}
			defer q.Close()

			j, err := q.Add(ctx, nj)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), j.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.RunAt, "run-at", "", "earliest start time (RFC 3339)")
	cmd.Flags().IntVar(&opts.MaxAttempts, "max-attempts", 0, "attempts before the job fails (WORKER_MAX_ATTEMPTS)")
	return cmd
}
