package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/thebtf/storyline/internal/config"
	"github.com/thebtf/storyline/pkg/client"
)

var workerAddr string

// remoteClient builds a control API client from --addr, or from the configured port and token.
func remoteClient() (*client.Client, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if workerAddr != "" {
		return client.New(workerAddr, cfg.Worker.AuthToken), nil
	}
	return client.NewLocal(cfg.Worker.Port, cfg.Worker.AuthToken), nil
}

func newTriggerCmd() *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Ask a running worker to run the pipeline now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := remoteClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), wait)
			defer cancel()

			res, err := c.TriggerRun(ctx)
			if res != nil && res.Running {
				fmt.Fprintln(cmd.OutOrStdout(), "run still in progress")
				return nil
			}
			if res != nil && res.Stats != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(res.Stats); encErr != nil {
					return encErr
				}
			}
			return err
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 30*time.Minute, "how long to wait for the run to finish")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the health and run statistics of a running worker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := remoteClient()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			h, err := c.Health(ctx)
			if err != nil {
				return fmt.Errorf("worker health: %w", err)
			}
			if !client.VersionsCompatible(h.Version, Version) {
				log.Warn().Str("worker", h.Version).Str("cli", Version).Msg("worker version differs from CLI")
			}

			st, err := c.Stats(ctx)
			if err != nil {
				return fmt.Errorf("worker stats: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "status:   %s (version %s, up %s)\n", h.Status, h.Version, st.Uptime)
			fmt.Fprintf(out, "runs:     %d (%d failed), running=%v\n", st.Runs, st.FailedRuns, st.Running)

			last, err := c.LastRun(ctx)
			switch {
			case errors.Is(err, client.ErrNoRun):
				fmt.Fprintln(out, "last run: none")
			case err != nil:
				return fmt.Errorf("last run: %w", err)
			default:
				fmt.Fprintf(out, "last run: %s at %s, %d fetched, %d enriched, %d new clusters, %d attached\n",
					last.RunID, last.StartedAt.Format(time.RFC3339), last.Fetched, last.Enriched, last.ClustersCreated, last.Attached)
			}
			return nil
		},
	}
}
