package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var jobJSON bool

var jobCmd = &cobra.Command{
	Use:   "job <id>",
	Short: "Shows the current state of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		manager, _, cleanup, err := setupQueue()
		if err != nil {
			return err
		}
		defer cleanup()

		job, err := manager.GetJob(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("failed to load job %s: %w", args[0], err)
		}

		if jobJSON {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(job)
		}

		fmt.Printf("id:        %s\n", job.ID)
		fmt.Printf("type:      %s (queue %s)\n", job.Type, job.Queue)
		fmt.Printf("status:    %s\n", job.Status)
		fmt.Printf("priority:  %s\n", job.Priority)
		fmt.Printf("attempts:  %d/%d\n", job.Attempts, job.MaxAttempts)
		fmt.Printf("progress:  %d%% %s\n", job.ProgressPercent, job.ProgressMessage)
		if job.LastError != "" {
			fmt.Printf("last error: %s\n", job.LastError)
		}
		if job.Result != nil {
			fmt.Printf("result:    success=%t %s\n", job.Result.Success, job.Result.Message)
		}
		return nil
	},
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	jobCmd.Flags().BoolVar(&jobJSON, "json", false, "Output job as JSON")
	rootCmd.AddCommand(jobCmd)
}
