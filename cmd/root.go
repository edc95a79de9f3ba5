// Package cmd defines and implements the CLI commands for the market-crawler
// executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "market-crawler",
		Short: "A concurrent crawler for paginated app catalog listings.",
		Long: `market-crawler walks a paginated catalog service page by page,
extracts app records from each listing page and streams them to a
destination file as JSON Lines, one record per line.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional)")

	cmd.AddCommand(newCrawlCmd())

	return cmd
}

// Execute is the main entry point. The returned error signals a non-zero
// process exit.
func Execute() error {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}
