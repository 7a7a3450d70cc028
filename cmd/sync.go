package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/client-sync/internal/model"
	"github.com/sells-group/client-sync/internal/unify"
)

var (
	syncSources     []string
	syncBatchSize   int
	syncForceCancel bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a unification pass to completion",
	Long:  "Triggers a unification run and drives its chunks in-process until the staging backlog drains. The server's HTTP chaining is not used; the same checkpoints are written, so an interrupted run resumes normally.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.engine.Start(ctx, unify.StartRequest{
			Sources:     syncSources,
			BatchSize:   syncBatchSize,
			ForceCancel: syncForceCancel,
		})
		if err != nil {
			return eris.Wrap(err, "sync trigger")
		}

		switch result.Status {
		case unify.StartCancelled:
			fmt.Printf("Cancelled %d run(s)\n", result.CancelledRuns)
			return nil
		case unify.StartNothingPending:
			fmt.Println("Nothing pending, no run started")
			return nil
		case unify.StartAlreadyRunning:
			return eris.Errorf("run %s is already %s; use --force-cancel to take over",
				result.Run.ID, result.Run.Status)
		}

		run := result.Run
		zap.L().Info("run started",
			zap.String("run_id", run.ID),
			zap.Int64("pending", unify.TotalPending(result.PendingCounts)),
			zap.Int64("estimated_secs", result.EstimatedSecs),
		)

		// Without an HTTP invoker each chunk leaves the run in continuing
		// state; drive the next chunk ourselves until a terminal state.
		for {
			if err := env.engine.RunChunk(ctx, run); err != nil {
				return eris.Wrap(err, "sync chunk")
			}

			run, err = env.ledger.Get(ctx, run.ID)
			if err != nil {
				return err
			}
			if run.Status != model.RunContinuing {
				break
			}
		}

		printRunSummary(run)
		if run.Status != model.RunCompleted {
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().StringSliceVar(&syncSources, "sources", nil, "sources to process (crm, chat, sheet; default all)")
	syncCmd.Flags().IntVar(&syncBatchSize, "batch-size", 0, "per-source fetch batch size (default from config)")
	syncCmd.Flags().BoolVar(&syncForceCancel, "force-cancel", false, "cancel any active or paused run and exit")
	rootCmd.AddCommand(syncCmd)
}
