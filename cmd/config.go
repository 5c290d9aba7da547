package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nadia/dcap/internal/config"
	"github.com/nadia/dcap/internal/output"
)

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Read and write global settings",
	GroupID: "system",
	Long: `Settings live at ~/.config/dcap/config.json. Keys:

  server.url       capture server base URL
  server.api_key   bearer token for API calls
  server.user_id   identity attached to comments and locks
  sync.interval    recurring sync period (duration, e.g. 30s)
  sync.retry_cap   failed passes before a queued action is dropped
  device_id        stable machine identity (read-only in practice)`,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		value, err := config.Get(cfg, args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		fmt.Println(value)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one setting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if err := config.Set(cfg, args[0], args[1]); err != nil {
			output.Error("%v", err)
			return err
		}
		if err := config.Save(cfg); err != nil {
			output.Error("%v", err)
			return err
		}
		output.Success("%s = %s", args[0], args[1])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	rootCmd.AddCommand(configCmd)
}
