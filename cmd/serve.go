package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nadia/dcap/internal/output"
	"github.com/nadia/dcap/internal/server"
	"github.com/nadia/dcap/internal/serverdb"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Run the capture server",
	GroupID: "system",
	Long: `Runs the HTTP capture server the client syncs against: document
mutations, the per-document lock table, and the websocket lock change feed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		dbPath, _ := cmd.Flags().GetString("db")
		apiKey, _ := cmd.Flags().GetString("api-key")

		store, err := serverdb.Open(dbPath)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer store.Close()

		srv := server.New(server.Config{ListenAddr: addr, DBPath: dbPath, APIKey: apiKey}, store)
		if err := srv.Start(); err != nil {
			output.Error("%v", err)
			return err
		}
		fmt.Printf("Listening on %s\n", srv.Addr())

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().String("addr", ":8080", "listen address")
	serveCmd.Flags().String("db", "dcap-server.db", "server database path")
	serveCmd.Flags().String("api-key", "", "require this bearer token on API calls")
	rootCmd.AddCommand(serveCmd)
}
