package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"animeindex/internal/api"
	"animeindex/internal/catalog"
	"animeindex/internal/queue"
	"animeindex/internal/sqlstore"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and maintain the task queue",
	}

	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueuePruneCommand(ctx))
	queueCmd.AddCommand(newQueueReclaimCommand(ctx))
	queueCmd.AddCommand(newQueueHealthCommand(ctx))

	return queueCmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show task counts by status and kind",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(func(store *queue.Store) error {
				stats, err := api.NewQueueService(store).Stats(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, stats)
				}
				out := cmd.OutOrStdout()
				rows := make([][]string, 0, len(stats.Counts))
				for _, status := range queue.AllStatuses() {
					rows = append(rows, []string{string(status), strconv.Itoa(stats.Counts[string(status)])})
				}
				fmt.Fprint(out, renderTable([]string{"Status", "Tasks"}, rows, []columnAlignment{alignLeft, alignRight}))
				if len(stats.ByKind) == 0 {
					return nil
				}
				kindRows := make([][]string, 0, len(stats.ByKind))
				for _, row := range stats.ByKind {
					kindRows = append(kindRows, []string{row.Kind, row.Status, strconv.Itoa(row.Count)})
				}
				fmt.Fprint(out, renderTable([]string{"Kind", "Status", "Tasks"}, kindRows, []columnAlignment{alignLeft, alignLeft, alignRight}))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var (
		statuses []string
		kinds    []string
		subject  int64
		limit    int
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := queue.ListFilter{SubjectID: subject, Limit: limit}
			for _, value := range statuses {
				status, ok := queue.ParseStatus(value)
				if !ok {
					return fmt.Errorf("unknown status %q", value)
				}
				filter.Statuses = append(filter.Statuses, status)
			}
			selected, err := requireKinds(kinds)
			if err != nil {
				return err
			}
			filter.Kinds = selected

			return ctx.withQueue(func(store *queue.Store) error {
				tasks, err := api.NewQueueService(store).List(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.TaskListResponse{Tasks: tasks})
				}
				if len(tasks) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No tasks")
					return nil
				}
				rows := make([][]string, 0, len(tasks))
				for _, task := range tasks {
					rows = append(rows, []string{
						strconv.FormatInt(task.ID, 10),
						strconv.FormatInt(task.SubjectID, 10),
						task.Kind,
						task.Status,
						strconv.Itoa(task.Attempts),
						task.LastOutcome,
						task.LastError,
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Work", "Kind", "Status", "Attempts", "Outcome", "Error"},
					rows,
					[]columnAlignment{alignRight, alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by status (pending, claimed, done, failed)")
	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "Filter by task kind")
	cmd.Flags().Int64Var(&subject, "subject", 0, "Filter by work ID")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum tasks to list (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "task")
			if err != nil {
				return err
			}
			return ctx.withQueue(func(store *queue.Store) error {
				task, err := api.NewQueueService(store).Describe(cmd.Context(), id)
				if err != nil {
					return err
				}
				if task == nil {
					return fmt.Errorf("task %d not found", id)
				}
				if asJSON {
					return writeJSON(cmd, api.TaskResponse{Task: *task})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderKeyValues([][2]string{
					{"ID", strconv.FormatInt(task.ID, 10)},
					{"Work", strconv.FormatInt(task.SubjectID, 10)},
					{"Kind", task.Kind},
					{"Payload", string(task.Payload)},
					{"Priority", strconv.Itoa(task.Priority)},
					{"Status", task.Status},
					{"Attempts", strconv.Itoa(task.Attempts)},
					{"Outcome", task.LastOutcome},
					{"Error", task.LastError},
					{"Claimed by", task.ClaimedBy},
					{"Available at", task.AvailableAt},
					{"Last checked", task.LastCheckedAt},
					{"Created", task.CreatedAt},
					{"Updated", task.UpdatedAt},
				}))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [task-id...]",
		Short: "Return failed tasks to pending",
		Long:  "Reset failed tasks to pending with a fresh attempt count. Without IDs every failed task is retried.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := parseID(arg, "task")
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			return ctx.withQueue(func(store *queue.Store) error {
				count, err := store.RetryFailed(cmd.Context(), ids...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Retried %d failed task(s)\n", count)
				return nil
			})
		},
	}
}

func newQueuePruneCommand(ctx *commandContext) *cobra.Command {
	var olderThan int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete finished tasks older than a cutoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			days := cfg.Queue.PruneAfterDays
			if cmd.Flags().Changed("older-than") {
				days = olderThan
			}
			if days < 0 {
				return fmt.Errorf("--older-than must not be negative")
			}
			cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
			return ctx.withQueue(func(store *queue.Store) error {
				count, err := store.Prune(cmd.Context(), cutoff)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d task(s) finished more than %d day(s) ago\n", count, days)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&olderThan, "older-than", 0, "Age in days (defaults to queue.prune_after_days)")
	return cmd
}

func newQueueReclaimCommand(ctx *commandContext) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "reclaim",
		Short: "Return abandoned claims to pending",
		Long: `Return claimed tasks whose heartbeat is older than the claim timeout to
pending. With --all every claimed task is returned, which is only safe when no
worker is running.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			cutoff := time.Now().Add(-cfg.ClaimTimeout())
			if all {
				cutoff = time.Now().Add(time.Second)
			}
			return ctx.withQueue(func(store *queue.Store) error {
				count, err := store.ReclaimStale(cmd.Context(), cutoff)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reclaimed %d task(s)\n", count)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Reclaim every claimed task regardless of heartbeat")
	return cmd
}

func newQueueHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check queue and catalog database health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(store *queue.Store, catalogStore *catalog.Store) error {
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				queueHealth, err := store.CheckHealth(cmd.Context())
				if err != nil {
					return err
				}
				catalogHealth, err := catalogStore.CheckHealth(cmd.Context())
				if err != nil {
					return err
				}
				summary, err := store.Health(cmd.Context())
				if err != nil {
					return err
				}

				printSection(out, "Queue database", healthLines(queueHealth, colorize))
				printSection(out, "Catalog database", healthLines(catalogHealth, colorize))
				printSection(out, "Tasks", []string{
					renderStatusLine("Total", statusInfo, strconv.Itoa(summary.Total), colorize),
					renderStatusLine("Pending", statusInfo, strconv.Itoa(summary.Pending), colorize),
					renderStatusLine("Claimed", statusInfo, strconv.Itoa(summary.Claimed), colorize),
					renderStatusLine("Done", statusOK, strconv.Itoa(summary.Done), colorize),
					renderStatusLine("Failed", failedKind(summary.Failed), strconv.Itoa(summary.Failed), colorize),
				})
				if !healthy(queueHealth) || !healthy(catalogHealth) {
					return fmt.Errorf("database health check failed")
				}
				return nil
			})
		},
	}
}

func healthy(h sqlstore.Health) bool {
	return h.DatabaseExists && h.DatabaseReadable && h.TableExists && h.IntegrityCheck && len(h.MissingColumns) == 0
}

func healthLines(h sqlstore.Health, colorize bool) []string {
	lines := []string{
		renderStatusLine("Path", statusInfo, h.DBPath, colorize),
		renderStatusLine("Readable", okOrError(h.DatabaseReadable), yesNo(h.DatabaseReadable), colorize),
		renderStatusLine("Schema version", statusInfo, strconv.Itoa(h.SchemaVersion), colorize),
		renderStatusLine("Integrity", okOrError(h.IntegrityCheck), yesNo(h.IntegrityCheck), colorize),
		renderStatusLine("Rows", statusInfo, strconv.Itoa(h.TotalRows), colorize),
	}
	if len(h.MissingColumns) > 0 {
		lines = append(lines, renderStatusLine("Missing columns", statusError, strings.Join(h.MissingColumns, ", "), colorize))
	}
	if h.Error != "" {
		lines = append(lines, renderStatusLine("Error", statusError, h.Error, colorize))
	}
	return lines
}

func okOrError(ok bool) statusKind {
	if ok {
		return statusOK
	}
	return statusError
}

func failedKind(count int) statusKind {
	if count > 0 {
		return statusWarn
	}
	return statusOK
}

func parseID(value, what string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", what, value)
	}
	return id, nil
}
