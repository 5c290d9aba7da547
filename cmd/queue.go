package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/nadia/dcap/internal/models"
	"github.com/nadia/dcap/internal/output"
	"github.com/nadia/dcap/internal/queue"
	"github.com/nadia/dcap/internal/remote"
)

var queueCmd = &cobra.Command{
	Use:     "queue",
	Aliases: []string{"q"},
	Short:   "Inspect and manage the offline action queue",
	GroupID: "queue",
}

var queueAddCmd = &cobra.Command{
	Use:   "add <kind> <document-id>",
	Short: "Queue a document mutation for the next sync pass",
	Long: `Queues one mutation to be replayed against the server. Kinds:

  update_metadata    --field key=value (repeatable)
  validate_document
  add_comment        --comment "text"
  update_status      --status <pending|extracted|validated|exported|rejected>`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := models.ActionKind(args[0])
		targetID := args[1]

		payload, err := buildPayload(cmd, kind)
		if err != nil {
			output.Error("%v", err)
			return err
		}

		q, err := queue.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer q.Close()

		id, err := q.Enqueue(kind, targetID, payload)
		if err != nil {
			output.Error("%v", err)
			return err
		}

		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return output.JSON(map[string]string{"id": id})
		}
		output.Success("Queued %s for %s (%s)", kind, targetID, id)
		return nil
	},
}

var queueListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List pending actions in replay order",
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := queue.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer q.Close()

		pending, err := q.Pending()
		if err != nil {
			output.Error("%v", err)
			return err
		}

		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return output.JSON(pending)
		}
		if len(pending) == 0 {
			output.Info("Queue is empty")
			return nil
		}
		fmt.Print(output.SectionHeader(fmt.Sprintf("pending actions (%d)", len(pending))))
		for i := range pending {
			fmt.Println("  " + output.FormatActionShort(&pending[i]))
		}
		return nil
	},
}

var queueDiscardCmd = &cobra.Command{
	Use:   "discard <action-id>",
	Short: "Remove one queued action without replaying it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := queue.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer q.Close()

		if err := q.Remove(args[0]); err != nil {
			output.Error("%v", err)
			return err
		}
		output.Success("Discarded %s", args[0])
		return nil
	},
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every queued action",
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := queue.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer q.Close()

		n, err := q.Count()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if n == 0 {
			output.Info("Queue is empty")
			return nil
		}

		force, _ := cmd.Flags().GetBool("force")
		if !force && !confirmClear(n) {
			output.Info("Aborted")
			return nil
		}
		if err := q.Clear(); err != nil {
			output.Error("%v", err)
			return err
		}
		output.Success("Cleared %d action(s)", n)
		return nil
	},
}

// confirmClear asks before dropping unsynced edits. Non-interactive runs
// must pass --force instead.
func confirmClear(n int) bool {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		output.Error("refusing to clear %d unsynced action(s) without a terminal, use --force", n)
		return false
	}
	fmt.Printf("Drop %d unsynced action(s)? [y/N]: ", n)
	reader := bufio.NewReader(os.Stdin)
	response, _ := reader.ReadString('\n')
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}

// buildPayload assembles the kind-specific payload from flags.
func buildPayload(cmd *cobra.Command, kind models.ActionKind) ([]byte, error) {
	switch kind {
	case models.KindUpdateMetadata:
		pairs, _ := cmd.Flags().GetStringToString("field")
		if len(pairs) == 0 {
			return nil, fmt.Errorf("update_metadata requires at least one --field key=value")
		}
		return json.Marshal(remote.MetadataPayload{Fields: pairs})

	case models.KindValidateDocument:
		return []byte(`{}`), nil

	case models.KindAddComment:
		comment, _ := cmd.Flags().GetString("comment")
		if comment == "" {
			return nil, fmt.Errorf("add_comment requires --comment")
		}
		author, _ := cmd.Flags().GetString("author")
		return json.Marshal(remote.CommentPayload{Body: comment, AuthorID: author})

	case models.KindUpdateStatus:
		status := models.DocumentStatus(cmd.Flag("status").Value.String())
		if !models.ValidStatus(status) {
			return nil, fmt.Errorf("update_status requires --status with a known status")
		}
		return json.Marshal(remote.StatusPayload{Status: status})
	}
	return nil, fmt.Errorf("unknown action kind %q", kind)
}

func init() {
	queueAddCmd.Flags().StringToString("field", nil, "metadata field as key=value (repeatable)")
	queueAddCmd.Flags().String("comment", "", "comment text for add_comment")
	queueAddCmd.Flags().String("author", "", "comment author for add_comment")
	queueAddCmd.Flags().String("status", "", "new status for update_status")
	queueClearCmd.Flags().Bool("force", false, "clear without confirmation")

	queueCmd.AddCommand(queueAddCmd)
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueDiscardCmd)
	queueCmd.AddCommand(queueClearCmd)
	rootCmd.AddCommand(queueCmd)
}
