package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set via ldflags at build time
var (
	Version   = "dev"
	BuildTime = ""
	GitCommit = ""
)

var rootCmd = &cobra.Command{
	Use:     "pulse",
	Short:   "Pulse - realtime presence and event fan-out coordinator",
	Long:    `The realtime coordinator for the OpenTeams work-management platform: tracks which users are connected to which workspaces and fans task, typing and notification events out to their subscribers.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate("pulse version {{.Version}}\n")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
