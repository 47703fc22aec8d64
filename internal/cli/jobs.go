package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/lingostream/internal/service"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs [job-id]",
	Short: "List or inspect batch jobs",
	Long: `List all batch jobs or inspect a specific job by ID.

Examples:
  lingostream jobs              # List all jobs
  lingostream jobs abc123       # Show details for job abc123
  lingostream jobs cancel abc123`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJobs,
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a batch job",
	Long: `Cancel a batch job. Queued segments are dropped without charge and
in-flight segments are refunded. Cancelling a finished job does nothing.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := apiClient.CancelBatch(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("cancel job: %w", err)
		}
		fmt.Printf("Cancel requested for %s (status: %s)\n", snap.ID, snap.Status)
		return nil
	},
}

func init() {
	jobsCmd.AddCommand(jobsCancelCmd)
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if len(args) == 1 {
		return showJob(ctx, args[0])
	}
	return listJobs(ctx)
}

func listJobs(ctx context.Context) error {
	jobs, err := apiClient.ListBatches(ctx)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("%-10s %-12s %-12s %-10s %-8s %s\n", "ID", "USER", "STATUS", "PROGRESS", "FAILED", "STARTED")
	fmt.Println("------------------------------------------------------------------------")

	for _, job := range jobs {
		progress := fmt.Sprintf("%d/%d", job.Completed, job.Total)
		started := job.StartedAt.Local().Format("15:04:05")
		fmt.Printf("%-10s %-12s %-12s %-10s %-8d %s\n", job.ID, job.UserID, job.Status, progress, job.Failed, started)
	}

	return nil
}

func showJob(ctx context.Context, id string) error {
	job, err := apiClient.GetBatch(ctx, id)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}
	printJob(job)
	return nil
}

func printJob(job *service.BatchSnapshot) {
	fmt.Printf("Job: %s\n", job.ID)
	fmt.Printf("  User: %s\n", job.UserID)
	fmt.Printf("  Status: %s\n", job.Status)
	fmt.Printf("  Progress: %d/%d (concurrency %d)\n", job.Completed, job.Total, job.Concurrency)
	fmt.Printf("  Started: %s\n", job.StartedAt.Format(time.RFC3339))
	if job.CompletedAt != nil {
		fmt.Printf("  Completed: %s\n", job.CompletedAt.Format(time.RFC3339))
		duration := job.CompletedAt.Sub(job.StartedAt)
		fmt.Printf("  Duration: %s\n", duration.Round(time.Millisecond))
	}

	fmt.Printf("\nOutcomes: %d success, %d failed, %d cancelled\n", job.Success, job.Failed, job.Cancelled)
	for _, s := range job.Segments {
		line := fmt.Sprintf("  %-10s %s", s.Outcome, s.SegmentID)
		switch {
		case s.Cached:
			line += " (cached)"
		case s.Charged > 0:
			line += fmt.Sprintf(" (%d points)", s.Charged)
		}
		if s.Reason != nil {
			line += fmt.Sprintf(" [%s] %s", s.Reason.Code, s.Reason.Message)
		}
		fmt.Println(line)
	}
}
