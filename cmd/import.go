package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/client-sync/internal/ingest"
)

var importFilePath string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Stage a spreadsheet of contacts for unification",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		pool, err := syncPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		result, err := ingest.ImportXLSX(ctx, pool, importFilePath)
		if err != nil {
			return eris.Wrap(err, "import")
		}

		zap.L().Info("import complete",
			zap.Int64("staged", result.Staged),
			zap.Int64("skipped", result.Skipped),
			zap.String("file", importFilePath),
		)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importFilePath, "file", "", "path to xlsx file (required)")
	_ = importCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(importCmd)
}
