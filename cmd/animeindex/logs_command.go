package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"animeindex/internal/config"
	"animeindex/internal/logging"
	"animeindex/internal/logs"
)

const logWaitInterval = 500 * time.Millisecond

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		lines  int
		follow bool
		filter string
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the worker log",
		Long: `Print the last lines of the newest animeindex run log. --filter keeps only
lines containing the given text, for example "task_id=42" or
"kind=generate-score". With --follow and no log yet, waits for a run to start.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			path, err := logging.LatestLogFile(cfg.Paths.LogDir, config.LogFilePattern)
			if err != nil {
				return err
			}
			if path == "" {
				if !follow {
					fmt.Fprintf(out, "No log files in %s\n", cfg.Paths.LogDir)
					return nil
				}
				if path, err = waitForLogFile(cmd.Context(), cfg.Paths.LogDir); err != nil {
					return err
				}
			}

			result, err := logs.Tail(cmd.Context(), path, logs.TailOptions{Offset: -1, Limit: lines, Filter: filter})
			if err != nil {
				return err
			}
			for _, line := range result.Lines {
				fmt.Fprintln(out, line)
			}
			if !follow {
				return nil
			}
			return logs.Follow(cmd.Context(), path, result.Offset, filter, func(line string) {
				fmt.Fprintln(out, line)
			})
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines until interrupted")
	cmd.Flags().StringVar(&filter, "filter", "", "Only show lines containing this text")
	return cmd
}

func waitForLogFile(ctx context.Context, dir string) (string, error) {
	ticker := time.NewTicker(logWaitInterval)
	defer ticker.Stop()
	for {
		path, err := logging.LatestLogFile(dir, config.LogFilePattern)
		if err != nil || path != "" {
			return path, err
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}
