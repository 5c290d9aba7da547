package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:     "version",
	Short:   "Print the dcap version",
	GroupID: "system",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("dcap %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
