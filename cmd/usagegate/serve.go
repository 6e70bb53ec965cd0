package main

import (
	"fmt"
	"os"

	"github.com/bracketai/usagegate/bootstrap"
	"github.com/bracketai/usagegate/config"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the usage reporting server",
	Long: `Start the usagegate server.

The server will:
  - Load configuration from usagegate.yaml (or --config)
  - Or load configuration from USAGEGATE_* environment variables
  - Verify inbound identity tokens against the configured team domain
  - Serve aggregated per-client usage reports at /usage

Environment variables (for container deployments):
  USAGEGATE_SOURCE              - Log source: remote, fixture or sqlite
  USAGEGATE_LOGSTORE_URL        - Remote log store base URL
  USAGEGATE_LOG_GROUP           - Remote log group identifier
  USAGEGATE_ACCESS_TEAM_DOMAIN  - Identity provider base URL
  USAGEGATE_ACCESS_AUD          - Expected token audience
  USAGEGATE_ALIAS_FILE          - Client alias map YAML path
  USAGEGATE_SERVER_PORT         - Server port (default: 8080)
  USAGEGATE_LOG_LEVEL           - Log level: debug, info, warn, error

Examples:
  usagegate serve
  usagegate serve --config /etc/usagegate/config.yaml

  # Container (env vars only):
  USAGEGATE_SOURCE=sqlite USAGEGATE_SOURCE_DSN=logs.db usagegate serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	hasConfigFile := false
	if _, err := os.Stat(cfgFile); err == nil {
		hasConfigFile = true
	}

	if !hasConfigFile && !config.HasEnvConfig() {
		fmt.Println("No configuration found.")
		fmt.Println()
		fmt.Printf("Option 1: Create %s\n", cfgFile)
		fmt.Println("Option 2: Set USAGEGATE_SOURCE environment variable")
		fmt.Println()
		fmt.Println("Example (env vars):")
		fmt.Println("  USAGEGATE_SOURCE=sqlite USAGEGATE_SOURCE_DSN=logs.db usagegate serve")
		return nil
	}

	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	if !hasConfigFile {
		fmt.Println("Running with environment variables (no config file)")
	}

	app, err := bootstrap.New(cfg)
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}

	// Run (blocks until shutdown)
	return app.Run()
}
