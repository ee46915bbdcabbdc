package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"animeindex/internal/api"
	"animeindex/internal/catalog"
)

func newCatalogCommand(ctx *commandContext) *cobra.Command {
	catalogCmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage catalog works, links and attributes",
	}

	catalogCmd.AddCommand(newCatalogAddCommand(ctx))
	catalogCmd.AddCommand(newCatalogShowCommand(ctx))
	catalogCmd.AddCommand(newCatalogSearchCommand(ctx))
	catalogCmd.AddCommand(newCatalogSetCommand(ctx))
	catalogCmd.AddCommand(newCatalogLinkCommand(ctx))
	catalogCmd.AddCommand(newCatalogUnlinkCommand(ctx))
	catalogCmd.AddCommand(newCatalogCandidatesCommand(ctx))

	return catalogCmd
}

func newCatalogAddCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "add <title>",
		Short: "Add a work by its primary title",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := strings.Join(args, " ")
			return ctx.withCatalog(func(store *catalog.Store) error {
				work, err := store.CreateWork(cmd.Context(), title)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added work %d: %s\n", work.ID, work.Title)
				return nil
			})
		},
	}
}

func newCatalogShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <work-id>",
		Short: "Show a work with its links, attributes and candidates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "work")
			if err != nil {
				return err
			}
			return ctx.withCatalog(func(store *catalog.Store) error {
				resp, err := api.NewCatalogService(store).Describe(cmd.Context(), id)
				if err != nil {
					return err
				}
				if resp == nil {
					return fmt.Errorf("work %d not found", id)
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				renderWork(cmd, resp)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func renderWork(cmd *cobra.Command, resp *api.WorkResponse) {
	out := cmd.OutOrStdout()
	work := resp.Work
	fmt.Fprintf(out, "Work %d: %s\n", work.ID, work.Title)

	if len(work.Links) > 0 {
		rows := make([][]string, 0, len(work.Links))
		for _, link := range work.Links {
			rows = append(rows, []string{link.Source, link.ExternalID, link.Provenance, link.LinkedAt})
		}
		fmt.Fprint(out, renderTable([]string{"Source", "External ID", "Provenance", "Linked"}, rows, nil))
	}
	if len(work.Attributes) > 0 {
		rows := make([][]string, 0, len(work.Attributes))
		for _, attr := range work.Attributes {
			rows = append(rows, []string{attr.Name, string(attr.Value), attr.Provenance, attr.Source, attr.UpdatedAt})
		}
		fmt.Fprint(out, renderTable([]string{"Attribute", "Value", "Provenance", "Source", "Updated"}, rows, nil))
	}
	if len(resp.Candidates) > 0 {
		fmt.Fprint(out, renderCandidates(resp.Candidates))
	}
}

func renderCandidates(candidates []api.Candidate) string {
	rows := make([][]string, 0, len(candidates))
	for _, c := range candidates {
		rows = append(rows, []string{
			c.Source,
			c.ExternalID,
			strconv.FormatFloat(c.Score, 'f', 3, 64),
			c.Outcome,
			strings.Join(c.Names, " / "),
		})
	}
	return renderTable(
		[]string{"Source", "External ID", "Score", "Outcome", "Names"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	)
}

func newCatalogSearchCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search works by title",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return ctx.withCatalog(func(store *catalog.Store) error {
				hits, err := store.Search(cmd.Context(), query, limit)
				if err != nil {
					return err
				}
				if len(hits) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No matches")
					return nil
				}
				rows := make([][]string, 0, len(hits))
				for _, hit := range hits {
					rows = append(rows, []string{
						strconv.FormatInt(hit.WorkID, 10),
						hit.Title,
						hit.MatchedName,
						strconv.FormatFloat(hit.Dice, 'f', 3, 64),
						yesNo(hit.Contained),
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Title", "Matched", "Similarity", "Contained"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum results")
	return cmd
}

func newCatalogSetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "set <work-id> <attribute> <value>",
		Short: "Set a manual attribute value",
		Long: `Set an attribute by hand. The value is parsed as JSON when it is valid JSON
and stored as a string otherwise. Manual values are never overwritten by
workers, including forced rechecks.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "work")
			if err != nil {
				return err
			}
			name := strings.TrimSpace(args[1])
			if name == "" {
				return errors.New("attribute name is required")
			}
			value := parseValue(args[2])
			return ctx.withCatalog(func(store *catalog.Store) error {
				if _, err := store.MustGetWork(cmd.Context(), id); err != nil {
					return err
				}
				result, err := store.Patch(cmd.Context(), id, map[string]any{name: value}, catalog.PatchOptions{
					Force:      true,
					Provenance: catalog.ProvenanceManual,
					Source:     "manual",
				})
				if err != nil {
					return err
				}
				if result.Changed() {
					fmt.Fprintf(cmd.OutOrStdout(), "Set %s on work %d\n", name, id)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "%s on work %d unchanged\n", name, id)
				}
				return nil
			})
		},
	}
}

func parseValue(raw string) any {
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
		return decoded
	}
	return raw
}

func newCatalogLinkCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "link <work-id> <source> <external-id>",
		Short: "Link a work to an external id by hand",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "work")
			if err != nil {
				return err
			}
			source := strings.ToLower(strings.TrimSpace(args[1]))
			externalID := strings.TrimSpace(args[2])
			return ctx.withCatalog(func(store *catalog.Store) error {
				result, err := store.Link(cmd.Context(), id, source, externalID, catalog.ProvenanceManual)
				var conflict *catalog.ConflictError
				if errors.As(err, &conflict) {
					return fmt.Errorf("link refused: %w", err)
				}
				if err != nil {
					return err
				}
				if _, err := store.ClearCandidates(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Link %s:%s on work %d %s\n", source, externalID, id, result)
				return nil
			})
		},
	}
}

func newCatalogUnlinkCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "unlink <work-id> <source>",
		Short: "Remove a work's link for a source",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "work")
			if err != nil {
				return err
			}
			source := strings.ToLower(strings.TrimSpace(args[1]))
			return ctx.withCatalog(func(store *catalog.Store) error {
				removed, err := store.Unlink(cmd.Context(), id, source, catalog.ProvenanceManual)
				if err != nil {
					return err
				}
				if !removed {
					fmt.Fprintf(cmd.OutOrStdout(), "Work %d has no %s link\n", id, source)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s link from work %d\n", source, id)
				return nil
			})
		},
	}
}

func newCatalogCandidatesCommand(ctx *commandContext) *cobra.Command {
	var (
		outcome string
		limit   int
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "candidates",
		Short: "List stored resolution candidates awaiting review",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCatalog(func(store *catalog.Store) error {
				candidates, err := store.ListCandidates(cmd.Context(), strings.TrimSpace(outcome), limit)
				if err != nil {
					return err
				}
				dtos := api.FromCandidates(candidates)
				if asJSON {
					return writeJSON(cmd, dtos)
				}
				if len(dtos) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No candidates")
					return nil
				}
				rows := make([][]string, 0, len(dtos))
				for _, c := range dtos {
					rows = append(rows, []string{
						strconv.FormatInt(c.WorkID, 10),
						c.Source,
						c.ExternalID,
						strconv.FormatFloat(c.Score, 'f', 3, 64),
						c.Outcome,
						strings.Join(c.Names, " / "),
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Work", "Source", "External ID", "Score", "Outcome", "Names"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&outcome, "outcome", "", "Filter by outcome (e.g. deferred)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum candidates to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}
