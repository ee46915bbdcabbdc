package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"animeindex/internal/catalog"
	"animeindex/internal/logging"
	"animeindex/internal/titlematch"
)

func newResolveCommand(ctx *commandContext) *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "resolve <work-id>",
		Short: "Preview how a work would resolve against a source",
		Long: `Search the source for the work's title and print the resolver's decision
with the ranked candidates. Nothing is written to the catalog.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "work")
			if err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			source = strings.ToLower(strings.TrimSpace(source))
			if source == "" && len(cfg.Scan.Sources) > 0 {
				source = cfg.Scan.Sources[0]
			}
			if err := cfg.RequireSource(source); err != nil {
				return err
			}

			return ctx.withCatalog(func(store *catalog.Store) error {
				rt, err := buildRuntime(cfg, store, logging.NewNop())
				if err != nil {
					return err
				}
				handler, err := rt.resolver()
				if err != nil {
					return err
				}
				decision, err := handler.Preview(cmd.Context(), id, source)
				if err != nil {
					return err
				}
				printDecision(cmd, source, decision)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&source, "source", "s", "", "Source to search (defaults to the first scan source)")
	return cmd
}

func printDecision(cmd *cobra.Command, source string, decision titlematch.Decision) {
	out := cmd.OutOrStdout()
	best := ""
	if decision.Best != nil {
		best = decision.Best.ExternalID
	}
	fmt.Fprint(out, renderKeyValues([][2]string{
		{"Source", source},
		{"Action", string(decision.Action)},
		{"Reason", decision.Reason},
		{"Term", decision.Term},
		{"Best", best},
		{"Top score", formatScore(decision.Top1)},
		{"Runner-up", formatScore(decision.Top2)},
		{"Gap", formatScore(decision.Gap)},
		{"Exact", yesNo(decision.Exact)},
		{"Candidates", strconv.Itoa(decision.CandidateCount)},
	}))
	if len(decision.Ranked) == 0 {
		return
	}
	rows := make([][]string, 0, len(decision.Ranked))
	for i, scored := range decision.Ranked {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			scored.ExternalID,
			formatScore(scored.Score),
			scored.MatchedName,
			strings.Join(scored.Names, " / "),
		})
	}
	fmt.Fprint(out, renderTable(
		[]string{"#", "External ID", "Score", "Matched", "Names"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignLeft},
	))
}

func formatScore(value float64) string {
	return strconv.FormatFloat(value, 'f', 3, 64)
}
