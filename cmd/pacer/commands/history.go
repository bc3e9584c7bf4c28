package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openpacer/openpacer/pkg/config"
	"github.com/openpacer/openpacer/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "history [uuid]",
		Short: "Inspect recorded transitions",
		Long: `List completed transitions from the history store, or show the full
per-action record of a single transition by UUID.`,
		Example: `  # List the most recent transitions
  pacer history

  # Show one transition in detail
  pacer history 2f3a17c4-8a4e-4c51-9a2b-0d9f6f6f2a11

  # Page through older history
  pacer history --limit 50 --offset 100`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			store, err := stores.NewHistoryStore(stores.Config{Path: cfg.History.Path})
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := store.Init(ctx); err != nil {
				return err
			}
			defer store.Close()
			if err := store.Migrate(ctx); err != nil {
				return err
			}

			if len(args) == 1 {
				rec, err := store.GetTransition(ctx, args[0])
				if err != nil {
					return err
				}
				return printTransition(rec)
			}

			records, err := store.ListTransitions(ctx, limit, offset)
			if err != nil {
				return err
			}
			return printTransitionList(records)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum transitions to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "transitions to skip")

	return cmd
}

func printTransition(rec *stores.TransitionRecord) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}

	outcome := "complete"
	if rec.Aborted {
		outcome = fmt.Sprintf("aborted (%s)", rec.AbortReason)
	}
	fmt.Printf("Transition %s\n", rec.UUID)
	fmt.Printf("  source:     %s\n", rec.Source)
	fmt.Printf("  started:    %s\n", rec.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("  completed:  %s\n", rec.CompletedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("  outcome:    %s\n", outcome)
	fmt.Printf("  counts:     confirmed=%d failed=%d skipped=%d\n", rec.Confirmed, rec.Failed, rec.Skipped)
	fmt.Printf("  completion: %s\n", rec.CompletionAction)

	if len(rec.Actions) > 0 {
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "  ID\tNAME\tSTATUS\tRC")
		for _, a := range rec.Actions {
			fmt.Fprintf(w, "  %d\t%s\t%s\t%d\n", a.ActionID, a.Name, a.Status, a.ExitCode)
		}
		return w.Flush()
	}
	return nil
}

func printTransitionList(records []*stores.TransitionRecord) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "UUID\tSOURCE\tSTARTED\tOUTCOME\tCONFIRMED\tFAILED\tSKIPPED")
	for _, rec := range records {
		outcome := "complete"
		if rec.Aborted {
			outcome = "aborted"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			rec.UUID,
			rec.Source,
			rec.StartedAt.Format("2006-01-02 15:04:05"),
			outcome,
			rec.Confirmed,
			rec.Failed,
			rec.Skipped,
		)
	}
	return w.Flush()
}
