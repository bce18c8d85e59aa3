package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd(openEnv).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(open opener) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Inspect and operate the commission ledger",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().BoolP("json", "j", false, "Output as JSON")

	rootCmd.AddCommand(earningsCmd(open))
	rootCmd.AddCommand(statementCmd(open))
	rootCmd.AddCommand(withdrawCmd(open))
	rootCmd.AddCommand(retryScanCmd(open))
	return rootCmd
}
