package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	baseURL    string
	showHidden bool
)

var rootCmd = &cobra.Command{
	Use:   "arb",
	Short: "Arbor CLI - Browse and manipulate a served directory tree",
	Long: `Arbor CLI (arb) talks to a running arbord server over websocket.

It provides commands to list and watch the served tree, run file
operations, and drive the shared clipboard.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&baseURL, "url", getEnvOrDefault("ARBOR_URL", "http://localhost:7388"), "arbord server URL")
	rootCmd.PersistentFlags().BoolVar(&showHidden, "hidden", false, "include dotfiles")
}

func getEnvOrDefault(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}
