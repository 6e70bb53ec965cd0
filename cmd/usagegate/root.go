package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "usagegate",
	Short: "API usage reporting service over gateway access logs",
	Long: `Usagegate aggregates API gateway access logs into per-client usage
reports: request counts, error counts and last-seen times over a time
window, with client IDs resolved to display names.

Quick start:
  usagegate serve     # Start the reporting server
  usagegate validate  # Validate configuration

Local development:
  usagegate seed      # Load access-log lines into a sqlite source`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "usagegate.yaml", "config file path")
}
