package main

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"animeindex/internal/catalog"
	"animeindex/internal/config"
	"animeindex/internal/daemon"
	"animeindex/internal/preflight"
	"animeindex/internal/queue"
	"animeindex/internal/scan"
	"animeindex/internal/workflow"
)

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	var (
		once   bool
		noScan bool
		budget int
		kinds  []string
	)

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Process queued tasks",
		Long: `Run the worker lanes against the task queue.

By default the worker runs until interrupted, polling for new tasks. The first
worker on a data directory also runs the scan schedule, serves the ops
listener and prunes old run logs; further workers started while it runs only
process tasks, claiming from the same queue. With --once it drains every
claimable task and exits with a summary.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			selected, err := requireKinds(kinds)
			if err != nil {
				return err
			}

			var opts []workflow.Option
			lanes := cfg.Workflow.Lanes
			if len(selected) > 0 {
				lanes = []config.Lane{{Name: "cli", Kinds: selected}}
				opts = append(opts, workflow.WithLanes(lanes))
			}
			if cmd.Flags().Changed("budget") {
				opts = append(opts, workflow.WithBudget(budget))
			}
			var kindsToCheck []string
			for _, lane := range lanes {
				kindsToCheck = append(kindsToCheck, lane.Kinds...)
			}
			if err := preflight.Err(preflight.RunAll(cfg, kindsToCheck)); err != nil {
				return fmt.Errorf("preflight: %w", err)
			}

			logger, err := ctx.logger()
			if err != nil {
				return err
			}

			return ctx.withStores(func(store *queue.Store, catalogStore *catalog.Store) error {
				rt, err := buildRuntime(cfg, catalogStore, logger)
				if err != nil {
					return err
				}
				manager, err := workflow.NewManager(cfg, store, logger, rt.handlers, opts...)
				if err != nil {
					return err
				}

				if once {
					summary, err := manager.Run(cmd.Context(), workflow.ModeDrain)
					printSummary(cmd, summary)
					return err
				}

				var scanner *scan.Scanner
				if !noScan {
					scanner = scan.New(cfg, store, catalogStore, rt.registry, logger)
				}
				d, err := daemon.New(cfg, store, catalogStore, logger, manager, scanner)
				if err != nil {
					return err
				}
				return d.Run(cmd.Context())
			})
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Drain claimable tasks and exit")
	cmd.Flags().BoolVar(&noScan, "no-scan", false, "Disable scheduled scans")
	cmd.Flags().IntVar(&budget, "budget", 0, "Maximum tasks to process in this run (0 for no cap)")
	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "Restrict a single lane to these task kinds")
	return cmd
}

func printSummary(cmd *cobra.Command, summary workflow.Summary) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Processed %d task(s) in %s\n", summary.Processed, summary.Duration.Round(time.Millisecond))
	if summary.BudgetSpent {
		fmt.Fprintln(out, "Iteration budget exhausted")
	}
	if len(summary.Outcomes) == 0 {
		return
	}
	outcomes := make([]string, 0, len(summary.Outcomes))
	for outcome := range summary.Outcomes {
		outcomes = append(outcomes, outcome)
	}
	sort.Strings(outcomes)
	rows := make([][]string, 0, len(outcomes))
	for _, outcome := range outcomes {
		rows = append(rows, []string{outcome, strconv.Itoa(summary.Outcomes[outcome])})
	}
	fmt.Fprint(out, renderTable([]string{"Outcome", "Tasks"}, rows, []columnAlignment{alignLeft, alignRight}))
}
