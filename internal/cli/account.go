package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	creditAmount int64
	entriesLimit int
)

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Show or top up the points balance",
	Long: `Show the points balance of the current user, or top it up with --credit.

A negative balance means a settlement cost more than was held; new
requests are declined until the account is credited.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		var (
			balance int64
			err     error
		)
		if creditAmount != 0 {
			balance, err = apiClient.Credit(ctx, userID, creditAmount)
		} else {
			balance, err = apiClient.Balance(ctx, userID)
		}
		if err != nil {
			return fmt.Errorf("balance: %w", err)
		}
		line := fmt.Sprintf("%s: %d points", userID, balance)
		if balance < 0 {
			line = defaultTheme.errorStyle().Render(line + fmt.Sprintf(" (%d owed)", -balance))
		}
		fmt.Println(line)
		return nil
	},
}

var entriesCmd = &cobra.Command{
	Use:   "entries",
	Short: "List ledger entries, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := apiClient.Entries(context.Background(), userID, entriesLimit)
		if err != nil {
			return fmt.Errorf("list entries: %w", err)
		}
		if len(entries) == 0 {
			fmt.Println("No entries found")
			return nil
		}
		fmt.Printf("%-32s %-20s %-9s %6s %8s %s\n", "ID", "SEGMENT", "STATUS", "HELD", "SETTLED", "CREATED")
		for _, e := range entries {
			fmt.Printf("%-32s %-20s %-9s %6d %8d %s\n",
				e.ID, truncate(e.SegmentID, 20), e.Status, e.Held, e.Settled, e.CreatedAt.Local().Format(time.DateTime))
		}
		return nil
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Refund holds abandoned past the hold timeout",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := apiClient.Reconcile(context.Background())
		if err != nil {
			return fmt.Errorf("reconcile: %w", err)
		}
		fmt.Printf("Refunded %d holds (%d points), settled %d delivered, skipped %d\n",
			res.Refunded, res.Points, res.Settled, res.Skipped)
		return nil
	},
}

func init() {
	balanceCmd.Flags().Int64Var(&creditAmount, "credit", 0, "add points to the balance")
	entriesCmd.Flags().IntVar(&entriesLimit, "limit", 20, "maximum entries to show")
}
