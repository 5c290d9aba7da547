package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nadia/dcap/internal/config"
	"github.com/nadia/dcap/internal/output"
	"github.com/nadia/dcap/internal/queue"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show connectivity and queue state",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		online := client.HealthCheck(cmd.Context()) == nil

		var pending int
		if q, err := queue.Open(getBaseDir()); err == nil {
			pending, _ = q.Count()
			q.Close()
		}

		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return output.JSON(map[string]any{
				"server":  config.GetServerURL(),
				"online":  online,
				"pending": pending,
				"session": sessionID,
			})
		}

		fmt.Printf("SERVER: %s\n", config.GetServerURL())
		if online {
			output.Success("online")
		} else {
			output.Warning("offline, edits will be queued")
		}
		fmt.Printf("QUEUE: %d pending action(s)\n", pending)
		fmt.Printf("SESSION: %s\n", sessionID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
