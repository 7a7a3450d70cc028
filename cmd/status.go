package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/client-sync/internal/model"
	"github.com/sells-group/client-sync/internal/unify"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pending staging backlog and the active run",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		pending, err := unify.PendingCounts(ctx, env.pool, model.AllSources)
		if err != nil {
			return eris.Wrap(err, "status")
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "SOURCE\tPENDING")
		for _, src := range model.AllSources {
			_, _ = fmt.Fprintf(w, "%s\t%d\n", src, pending[src])
		}
		_, _ = fmt.Fprintf(w, "total\t%d\n", unify.TotalPending(pending))
		_ = w.Flush()

		active, err := env.ledger.ActiveRun(ctx)
		if err != nil {
			return err
		}
		if active == nil {
			fmt.Println("\nNo active run.")
			return nil
		}

		fmt.Printf("\nActive run %s (%s), chunk %d, %d processed\n",
			truncateID(active.ID), active.Status, active.Chunk, active.TotalProcessed())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
