package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nadia/dcap/internal/config"
	"github.com/nadia/dcap/internal/output"
	"github.com/nadia/dcap/internal/queue"
)

var initCmd = &cobra.Command{
	Use:     "init",
	Short:   "Initialize the local offline queue",
	Long:    `Creates the local .dcap directory and the queue database.`,
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		baseDir := getBaseDir()

		if _, err := os.Stat(filepath.Join(baseDir, ".dcap")); err == nil {
			output.Warning(".dcap/ already exists")
			return nil
		}

		q, err := queue.Initialize(baseDir)
		if err != nil {
			output.Error("failed to initialize queue: %v", err)
			return err
		}
		defer q.Close()

		fmt.Println("INITIALIZED .dcap/")

		deviceID, err := config.GetDeviceID()
		if err != nil {
			output.Error("failed to set up device identity: %v", err)
			return err
		}
		fmt.Printf("Device: %s\n", deviceID)

		addToGitignore(filepath.Join(baseDir, ".gitignore"))
		return nil
	},
}

func addToGitignore(path string) {
	content, _ := os.ReadFile(path)
	contentStr := string(content)

	if strings.Contains(contentStr, ".dcap/") {
		return
	}
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		return
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer f.Close()

	if len(contentStr) > 0 && !strings.HasSuffix(contentStr, "\n") {
		f.WriteString("\n")
	}
	f.WriteString(".dcap/\n")
	fmt.Println("Added .dcap/ to .gitignore")
}

func init() {
	rootCmd.AddCommand(initCmd)
}
