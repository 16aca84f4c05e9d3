package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sevigo/repo-pulse/internal/core"
)

var (
	syncUser  string
	syncRepos []string
	syncFull  bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Enqueues a sync run for a user's repositories",
	Long:  `Enqueues an incremental-sync orchestration job. With --full every repository is reconciled over the full lookback window; with --repo the run is limited to the named repositories.`,
	RunE: func(_ *cobra.Command, _ []string) error {
		manager, log, cleanup, err := setupQueue()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx := context.Background()
		payload, err := core.EncodePayload(&core.OrchestrationRequest{
			UserID:              syncUser,
			RepositoryFullNames: syncRepos,
			ForceFull:           syncFull,
		})
		if err != nil {
			return err
		}

		jobType := core.JobTypeIncrementalSync
		if syncFull {
			jobType = core.JobTypeInitialSync
		}

		job, err := manager.Enqueue(ctx, core.QueueSync, jobType, payload,
			core.EnqueueOptions{Priority: core.PriorityHigh})
		if err != nil {
			return fmt.Errorf("failed to enqueue sync: %w", err)
		}

		log.Info("sync job enqueued", "job_id", job.ID, "type", job.Type, "status", job.Status)
		fmt.Printf("enqueued %s job %s\n", job.Type, job.ID)
		return nil
	},
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	syncCmd.Flags().StringVar(&syncUser, "user", "", "Owner whose repositories are synced (required)")
	syncCmd.Flags().StringArrayVar(&syncRepos, "repo", nil, "Limit the run to these owner/name repositories (repeatable)")
	syncCmd.Flags().BoolVar(&syncFull, "full", false, "Force a full sync window for every repository")
	_ = syncCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(syncCmd)
}
