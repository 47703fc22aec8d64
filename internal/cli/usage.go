package cli

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/lingostream/internal/metrics"
	"github.com/raphaelgruber/lingostream/internal/models"
)

var (
	usageSince    string
	usageDetailed bool
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show usage statistics",
	Long: `Show server runtime statistics and token usage for cost monitoring.

Examples:
  lingostream usage
  lingostream usage --since 7d
  lingostream usage --detailed`,
	RunE: runUsage,
}

func init() {
	usageCmd.Flags().StringVar(&usageSince, "since", "24h", "time period (e.g., '24h', '7d', '30d')")
	usageCmd.Flags().BoolVar(&usageDetailed, "detailed", false, "show detailed breakdown")
}

func runUsage(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	stats, err := apiClient.GetServerStats(ctx)
	if err != nil {
		return fmt.Errorf("get server stats: %w", err)
	}
	printServerStats(stats)
	fmt.Println()

	since, err := sinceDuration(usageSince)
	if err != nil {
		return err
	}
	summary, err := apiClient.GetUsageSummary(ctx, since.String())
	if err != nil {
		return fmt.Errorf("get token usage: %w", err)
	}
	printUsageSummary(summary, usageSince, usageDetailed)
	return nil
}

// sinceDuration parses Go durations plus a "d" day suffix.
func sinceDuration(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid duration: %s", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid duration: %s", s)
	}
	return d, nil
}

func printUsageSummary(summary *models.UsageSummary, label string, detailed bool) {
	fmt.Printf("Token Usage (since %s)\n", label)
	fmt.Printf("═══════════════════════════════════════\n\n")

	fmt.Printf("Requests:     %d\n", summary.Requests)
	fmt.Printf("Total tokens: %d\n", summary.TotalTokens)
	fmt.Printf("Points spent: %d\n", summary.CostPoints)

	if detailed && len(summary.ByModel) > 0 {
		fmt.Printf("\nBy Model:\n")
		for _, model := range sortedKeys(summary.ByModel) {
			tokens := summary.ByModel[model]
			pct := 0.0
			if summary.TotalTokens > 0 {
				pct = float64(tokens) / float64(summary.TotalTokens) * 100
			}
			fmt.Printf("  %-25s %10d (%5.1f%%)\n", model, tokens, pct)
		}
	}
	if detailed && len(summary.ByUserPoints) > 0 {
		fmt.Printf("\nPoints By User:\n")
		for _, user := range sortedKeys(summary.ByUserPoints) {
			fmt.Printf("  %-25s %10d\n", user, summary.ByUserPoints[user])
		}
	}
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// printServerStats displays server runtime statistics.
func printServerStats(stats *metrics.Snapshot) {
	fmt.Printf("Server Statistics (in-memory, since restart)\n")
	fmt.Printf("═══════════════════════════════════════════════\n")
	fmt.Printf("Uptime: %.1f seconds, streams in flight: %d\n", stats.UptimeSeconds, stats.InFlight)

	if stats.LLMStream != nil {
		fmt.Printf("\nLLM Stream:\n")
		printOpStats(stats.LLMStream)
		printTokenStats(stats.LLMStream)
	}
	if stats.Ledger != nil {
		fmt.Printf("\nLedger:\n")
		printOpStats(stats.Ledger)
	}
	if stats.CacheLookup != nil {
		fmt.Printf("\nCache Lookup:\n")
		printOpStats(stats.CacheLookup)
	}
	if stats.DBQuery != nil {
		fmt.Printf("\nDB Query:\n")
		printOpStats(stats.DBQuery)
	}

	if len(stats.Outcomes) > 0 {
		fmt.Printf("\nOutcomes:\n")
		ops := make([]string, 0, len(stats.Outcomes))
		for op := range stats.Outcomes {
			ops = append(ops, op)
		}
		sort.Strings(ops)
		for _, op := range ops {
			parts := make([]string, 0, len(stats.Outcomes[op]))
			for _, outcome := range sortedKeys(stats.Outcomes[op]) {
				parts = append(parts, fmt.Sprintf("%s=%d", outcome, stats.Outcomes[op][outcome]))
			}
			fmt.Printf("  %-14s %s\n", op, strings.Join(parts, " "))
		}
	}
}

// printOpStats displays timing statistics for an operation.
func printOpStats(op *metrics.OperationSnapshot) {
	fmt.Printf("  Calls: %d, Total: %dms\n", op.Count, op.TotalTimeMs)
	fmt.Printf("  Time: avg %.1fms, min %dms, max %dms\n",
		op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
}

// printTokenStats displays token statistics if available.
func printTokenStats(op *metrics.OperationSnapshot) {
	if op.TotalInputTokens == nil || op.TotalOutputTokens == nil {
		return
	}
	fmt.Printf("  Tokens In:  %d total", *op.TotalInputTokens)
	if op.AvgInputTokens != nil {
		fmt.Printf(", avg %.0f", *op.AvgInputTokens)
	}
	if op.MinInputTokens != nil && op.MaxInputTokens != nil {
		fmt.Printf(", min %d, max %d", *op.MinInputTokens, *op.MaxInputTokens)
	}
	fmt.Println()

	fmt.Printf("  Tokens Out: %d total", *op.TotalOutputTokens)
	if op.AvgOutputTokens != nil {
		fmt.Printf(", avg %.0f", *op.AvgOutputTokens)
	}
	if op.MinOutputTokens != nil && op.MaxOutputTokens != nil {
		fmt.Printf(", min %d, max %d", *op.MinOutputTokens, *op.MaxOutputTokens)
	}
	fmt.Println()
}
