package main

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"animeindex/internal/catalog"
	"animeindex/internal/queue"
	"animeindex/internal/scan"
)

func newScanCommand(ctx *commandContext) *cobra.Command {
	var (
		schedule string
		kinds    []string
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Enqueue tasks for works that need attention",
		Long: `Walk the catalog and enqueue resolve, facts, availability and score
tasks for works that are missing data or due a recheck.

Without --schedule a single pass runs and its report is printed. With
--schedule the scanner runs on the cron expression until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			selected, err := requireKinds(kinds)
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			var opts []scan.Option
			if len(selected) > 0 {
				opts = append(opts, scan.WithKinds(selected...))
			}

			return ctx.withStores(func(store *queue.Store, catalogStore *catalog.Store) error {
				rt, err := buildRuntime(cfg, catalogStore, logger)
				if err != nil {
					return err
				}
				scanner := scan.New(cfg, store, catalogStore, rt.registry, logger, opts...)

				if expr := strings.TrimSpace(schedule); expr != "" {
					if _, err := scan.ParseSchedule(expr); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Scanning on schedule %q; press Ctrl+C to stop\n", expr)
					return scanner.Schedule(cmd.Context(), expr)
				}

				report, err := scanner.Run(cmd.Context())
				if errors.Is(err, scan.ErrLocked) {
					return fmt.Errorf("another scan is running (lock %s)", cfg.ScanLockPath())
				}
				if err != nil {
					return err
				}
				printReport(cmd, report)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&schedule, "schedule", "", "Run on a cron schedule instead of once")
	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "Only scan for these task kinds")
	return cmd
}

func printReport(cmd *cobra.Command, report scan.Report) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Scan queued %d task(s) in %s\n", report.Total(), report.Duration.Round(time.Millisecond))
	if len(report.Results) == 0 {
		return
	}
	kinds := make([]string, 0, len(report.Results))
	for kind := range report.Results {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	var rows [][]string
	for _, kind := range kinds {
		results := make([]string, 0, len(report.Results[kind]))
		for result := range report.Results[kind] {
			results = append(results, string(result))
		}
		sort.Strings(results)
		for _, result := range results {
			count := report.Results[kind][queue.EnqueueResult(result)]
			rows = append(rows, []string{kind, result, strconv.Itoa(count)})
		}
	}
	fmt.Fprint(out, renderTable([]string{"Kind", "Result", "Tasks"}, rows, []columnAlignment{alignLeft, alignLeft, alignRight}))
}
