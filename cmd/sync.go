package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nadia/dcap/internal/breaker"
	"github.com/nadia/dcap/internal/config"
	"github.com/nadia/dcap/internal/connectivity"
	"github.com/nadia/dcap/internal/engine"
	"github.com/nadia/dcap/internal/notify"
	"github.com/nadia/dcap/internal/output"
	"github.com/nadia/dcap/internal/queue"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	Short:   "Replay queued actions against the server",
	GroupID: "queue",
	Long: `Runs one sync pass over the offline queue: each pending action is sent
to the server in enqueue order with retries and backoff. Failed actions stay
queued for the next pass until they hit the retry cap.

With --watch, keeps running: syncs whenever connectivity returns and on a
recurring timer while the queue is non-empty.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := queue.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer q.Close()

		client := newClient()
		watch, _ := cmd.Flags().GetBool("watch")

		var notifier notify.Notifier = notify.Terminal{}
		if watch {
			notifier = notify.Log{}
		}

		eng := engine.New(q, client, breaker.NewRegistry(), notifier, engine.Options{
			RetryCap: config.GetRetryCap(),
			Interval: config.GetSyncInterval(),
		})

		if !watch {
			sum, err := eng.Sync(cmd.Context())
			if err != nil {
				output.Error("%v", err)
				return err
			}
			if sum.Applied == 0 && sum.Failed == 0 && sum.Evicted == 0 {
				output.Info("Nothing to sync")
			}
			return nil
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		watcher := connectivity.NewWatcher(client.HealthCheck, eng.Trigger, connectivity.Options{})
		go watcher.Run(ctx)

		output.Info("Watching queue, Ctrl-C to stop")
		eng.Run(ctx, watcher.Online)
		return nil
	},
}

func init() {
	syncCmd.Flags().Bool("watch", false, "keep syncing on connectivity and timer events")
	rootCmd.AddCommand(syncCmd)
}
