// Package cli wires the cobra command surface: serving, and a line-mode
// client for poking a running server.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	// Version is set via ldflags at build time.
	Version = "dev"
	// GitCommit is set via ldflags at build time.
	GitCommit = "unknown"
	// BuildDate is set via ldflags at build time.
	BuildDate = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "kioku",
	Short: "Kioku - in-memory cache server speaking the memcached text protocol",
	Long: `Kioku is a single-node, in-memory key/value cache server. It speaks the
classic memcached ASCII protocol over TCP: get/gets, the six storage verbs,
incr/decr, delete, touch, flush_all, stats and version.`,
	Version: Version,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

// Execute initializes and runs the CLI application.
func Execute() {
	executeErr := rootCmd.Execute()
	if executeErr != nil {
		fmt.Fprintln(os.Stderr, executeErr)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(
		fmt.Sprintf(
			"Kioku version %s\nGit commit: %s\nBuild date: %s\n",
			Version,
			GitCommit,
			BuildDate,
		),
	)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")
}
