// Package cli provides the command-line interface for lingostream.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/lingostream/internal/client"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose   bool
	serverURL string
	userID    string

	apiClient *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "lingostream",
	Short: "Metered streaming explanations for language learners",
	Long: `lingostream explains segments of foreign-language text with an LLM,
streaming the explanation as it is generated and charging a points balance
for every model call.

Segments are loaded once, then explained one at a time or in batches.
Cached explanations are served for free.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}
		apiClient = client.New(serverURL)
		return nil
	},
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	defaultUser := os.Getenv("LINGOSTREAM_USER")
	if defaultUser == "" {
		defaultUser = "default"
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server URL (default $LINGOSTREAM_SERVER_URL or http://localhost:8484)")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", defaultUser, "account to bill ($LINGOSTREAM_USER)")

	rootCmd.AddCommand(segmentsCmd)
	rootCmd.AddCommand(explainCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(balanceCmd)
	rootCmd.AddCommand(entriesCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("lingostream", Version)
	},
}
