package main

import (
	"fmt"
	"os"

	"github.com/aretw0/caretree"
	"github.com/aretw0/caretree/internal/presentation/tui"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of caretree",
	Run: func(cmd *cobra.Command, args []string) {
		if tui.IsTerminal(os.Stdout) {
			tui.PrintBanner(cmd.OutOrStdout(), caretree.Version)
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "caretree version %s\n", caretree.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
