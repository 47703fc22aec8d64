package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/lingostream/internal/server"
	"github.com/raphaelgruber/lingostream/internal/service"
)

var (
	batchDocument    string
	batchConcurrency int
	batchForce       bool
	batchLang        string
	batchWait        bool
	batchDetach      bool
)

var batchCmd = &cobra.Command{
	Use:   "batch [segment-id...]",
	Short: "Explain many segments with a bounded worker pool",
	Long: `Explain a list of segments, or every segment of a document, in the
background. Already explained or cached segments are skipped at no charge.

On a terminal a progress bar follows the batch; press x to cancel it or q
to leave it running. Use --wait for plain line output.

Examples:
  lingostream batch --document lesson-1
  lingostream batch lesson-1-1 lesson-1-2 --concurrency 2
  lingostream batch --document lesson-1 --detach`,
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().StringVar(&batchDocument, "document", "", "explain every segment of this document")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "parallel model calls (default: server setting)")
	batchCmd.Flags().BoolVar(&batchForce, "force", false, "regenerate even if cached")
	batchCmd.Flags().StringVar(&batchLang, "lang", "", "target language code")
	batchCmd.Flags().BoolVar(&batchWait, "wait", false, "wait with plain output instead of the progress UI")
	batchCmd.Flags().BoolVar(&batchDetach, "detach", false, "print the job id and return immediately")
}

func runBatch(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && batchDocument == "" {
		return fmt.Errorf("give segment ids or --document")
	}
	ctx := context.Background()

	snap, err := apiClient.StartBatch(ctx, server.BatchRequest{
		UserID:          userID,
		SegmentIDs:      args,
		DocumentID:      batchDocument,
		Concurrency:     batchConcurrency,
		ForceRegenerate: batchForce,
		TargetLanguage:  batchLang,
	})
	if err != nil {
		return fmt.Errorf("start batch: %w", err)
	}

	switch {
	case batchDetach:
		fmt.Printf("Started batch %s (%d segments)\n", snap.ID, snap.Total)
		return nil
	case batchWait || !isTerminal(os.Stdout):
		return waitBatch(ctx, snap)
	default:
		return RunBatchProgress(apiClient, snap)
	}
}

// waitBatch prints one line per finished segment.
func waitBatch(ctx context.Context, snap *service.BatchSnapshot) error {
	fmt.Printf("Batch %s: %d segments\n", snap.ID, snap.Total)
	done, err := apiClient.WatchBatch(ctx, snap.ID, func(ev service.BatchEvent) error {
		if ev.Type != service.EventSegmentUpdated {
			return nil
		}
		line := fmt.Sprintf("  %-10s %s", ev.Outcome, ev.SegmentID)
		if ev.Cached {
			line += " (cached)"
		}
		if ev.Reason != nil {
			line += ": " + ev.Reason.Message
		}
		fmt.Println(line)
		return nil
	})
	if err != nil {
		return fmt.Errorf("watch batch: %w", err)
	}
	fmt.Printf("Done: %d explained, %d failed, %d cancelled\n", done.Success, done.Failed, done.Cancelled)
	return nil
}
