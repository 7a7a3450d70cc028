package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/client-sync/internal/model"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect and manage sync run history",
	Long:  "Commands for listing, viewing, resuming, and cancelling unification runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent sync runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := env.ledger.List(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		run, err := env.ledger.Get(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

// -- runs resume --

var runsResumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Resume a paused run and drive it to completion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.ledger.Resume(ctx, args[0]); err != nil {
			return eris.Wrap(err, "runs resume")
		}

		run, err := env.ledger.Get(ctx, args[0])
		if err != nil {
			return err
		}

		for run.Status == model.RunContinuing {
			if err := env.engine.RunChunk(ctx, run); err != nil {
				return eris.Wrap(err, "resume chunk")
			}
			run, err = env.ledger.Get(ctx, run.ID)
			if err != nil {
				return err
			}
		}

		printRunSummary(run)
		return nil
	},
}

// -- runs cancel --

var runsCancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel all active and paused runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.ledger.ForceCancel(ctx)
		if err != nil {
			return eris.Wrap(err, "runs cancel")
		}
		fmt.Printf("Cancelled %d run(s)\n", n)
		return nil
	},
}

func init() {
	runsListCmd.Flags().Int("limit", 20, "max number of runs to display")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsResumeCmd)
	runsCmd.AddCommand(runsCancelCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to out.
func formatRunsList(out io.Writer, runs []model.SyncRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tCHUNK\tPROCESSED\tMERGED\tERRORS\tSTARTED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t------\t-----\t---------\t------\t------\t-------\t--------")

	for _, r := range runs {
		end := r.UpdatedAt
		if r.CompletedAt != nil {
			end = *r.CompletedAt
		}
		dur := end.Sub(r.StartedAt).Round(time.Second).String()

		var merged int64
		for _, c := range r.Counts {
			merged += c.Merged()
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			truncateID(r.ID),
			r.Status,
			r.Chunk,
			r.TotalProcessed(),
			merged,
			r.TotalErrors(),
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// printRunSummary writes a per-source breakdown of one finished run.
func printRunSummary(run *model.SyncRun) {
	fmt.Printf("Run %s: %s", run.ID, run.Status)
	if run.Message != "" {
		fmt.Printf(" (%s)", run.Message)
	}
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SOURCE\tPROCESSED\tCREATED\tUPDATED\tSKIPPED\tCONFLICTS\tERRORS")
	for _, src := range run.Sources {
		c := run.Counts[src]
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
			src, c.Processed, c.Created, c.Updated, c.Skipped, c.Conflicts, c.Errors)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
