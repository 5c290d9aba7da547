package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nadia/dcap/internal/lock"
	"github.com/nadia/dcap/internal/models"
	"github.com/nadia/dcap/internal/output"
)

var lockCmd = &cobra.Command{
	Use:     "lock",
	Short:   "Manage per-document editing locks",
	GroupID: "locks",
}

var lockAcquireCmd = &cobra.Command{
	Use:   "acquire <document-id>",
	Short: "Take the editing lock on a document",
	Long: `Takes the advisory editing lock. Losing the race to another session is
not an error: the current holder is reported instead.

With --hold, keeps the lock renewed until interrupted, then releases it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		docID := args[0]
		mgr := lock.NewManager(newClient(), sessionID, lock.Options{})
		hold, _ := cmd.Flags().GetBool("hold")

		ctx := cmd.Context()
		if hold {
			holdCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			status, err := mgr.Hold(holdCtx, docID)
			if err != nil {
				output.Error("%v", err)
				return err
			}
			printLockStatus(cmd, docID, status)
			if status.State != models.LockedBySelf {
				return nil
			}
			output.Info("Holding lock on %s, Ctrl-C to release", docID)
			<-holdCtx.Done()
			return nil
		}

		status, err := mgr.Acquire(ctx, docID)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		printLockStatus(cmd, docID, status)
		return nil
	},
}

var lockReleaseCmd = &cobra.Command{
	Use:   "release <document-id>",
	Short: "Give up this session's lock on a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr := lock.NewManager(newClient(), sessionID, lock.Options{})
		if err := mgr.Release(cmd.Context(), args[0]); err != nil {
			output.Error("%v", err)
			return err
		}
		output.Success("Released lock on %s", args[0])
		return nil
	},
}

var lockStatusCmd = &cobra.Command{
	Use:   "status <document-id>",
	Short: "Show who holds the lock on a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr := lock.NewManager(newClient(), sessionID, lock.Options{})
		status, err := mgr.Status(cmd.Context(), args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		printLockStatus(cmd, args[0], status)
		return nil
	},
}

var lockWatchCmd = &cobra.Command{
	Use:   "watch <document-id>",
	Short: "Stream lock state changes for a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		mgr := lock.NewManager(newClient(), sessionID, lock.Options{})
		statuses, err := mgr.Watch(ctx, args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}

		for status := range statuses {
			printLockStatus(cmd, args[0], status)
		}
		return nil
	},
}

func printLockStatus(cmd *cobra.Command, docID string, status lock.Status) {
	if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
		output.JSON(map[string]any{
			"document_id": docID,
			"state":       status.State.String(),
			"lock":        status.Lock,
		})
		return
	}
	fmt.Printf("%s  %s\n", docID, output.FormatLock(status.Lock, sessionID))
}

func init() {
	lockAcquireCmd.Flags().Bool("hold", false, "keep the lock renewed until interrupted")

	lockCmd.AddCommand(lockAcquireCmd)
	lockCmd.AddCommand(lockReleaseCmd)
	lockCmd.AddCommand(lockStatusCmd)
	lockCmd.AddCommand(lockWatchCmd)
	rootCmd.AddCommand(lockCmd)
}
