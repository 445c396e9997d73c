package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose    bool
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "sona",
	Short: "Voice therapeutic companion relay",
	Long: `sona - relay server and tooling for the voice therapeutic companion.

The serve command runs the websocket relay: per-connection audio feature
extraction, animation state, session orchestration, transcript
encryption, and the realtime model bridge. The remaining commands
inspect the datastore the server writes.

Examples:
  # Run the relay with a config file
  sona serve -f sona.yaml

  # Inspect stored sessions
  sona sessions list -f sona.yaml
  sona sessions query -f sona.yaml --jq '.[] | select(.abandoned)'

  # Render a user's progress dashboard
  sona dashboard -f sona.yaml <user-id>`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "f", "sona.yaml", "config file path")
}

// IsVerbose returns whether verbose mode is enabled.
func IsVerbose() bool {
	return verbose
}
