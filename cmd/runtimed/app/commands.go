// Package app provides the entry point for the runtimed command-line application.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/boltlabs/runtimed/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "runtimed",
	DisableAutoGenTag: true,
	Short:             "runtimed brokers remote dev runtime sessions for the editor",
	Long: `runtimed is the session broker between the browser editor and the compose
orchestration platform. It creates and reuses per-chat runtime sessions,
scopes filesystem access to the session's compose, and garbage-collects
sessions whose idle lease has expired.

All state lives on the platform itself; the broker holds nothing durable
and can be restarted or scaled at will.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
}

// NewRootCmd creates a new root command for the runtimed CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}
