package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/client-sync/internal/unify"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		pool, err := syncPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := unify.Migrate(ctx, pool); err != nil {
			return err
		}
		fmt.Println("Migrations applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
