package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "appmanager",
	Short: "Application Manager simulator",
	Long: `appmanager plays the platform Application Manager over NATS so that
appbridge processes can register and receive lifecycle events.

Available commands:
  serve    Accept registrations and send events typed on stdin

Use "appmanager [command] --help" for more information about a command.`,
	SilenceUsage: true,
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
