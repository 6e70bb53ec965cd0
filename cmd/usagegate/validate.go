package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/bracketai/usagegate/adapters/alias"
	"github.com/bracketai/usagegate/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration before deployment",
	Long: `Validate the usagegate configuration file.

Checks:
  - YAML syntax is valid
  - Required fields are present
  - Alias file loads (when configured)
  - Identity provider key endpoint is reachable (optional)

Examples:
  usagegate validate
  usagegate validate --config /etc/usagegate/config.yaml`,
	RunE: runValidate,
}

var validateCheckAccess bool

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateCheckAccess, "check-access", false, "check if the identity provider key endpoint is reachable")
}

func runValidate(cmd *cobra.Command, args []string) error {
	fmt.Printf("Validating %s...\n\n", cfgFile)

	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		fmt.Printf("  %s Config file exists\n", crossMark)
		return fmt.Errorf("config file not found: %s", cfgFile)
	}
	fmt.Printf("  %s Config file exists\n", checkMark)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Printf("  %s Config syntax valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Printf("  %s Config syntax valid\n", checkMark)

	// Show config summary
	fmt.Printf("  %s Source: %s\n", checkMark, cfg.Source.Kind)
	fmt.Printf("  %s Default window: %dh\n", checkMark, cfg.Window.DefaultHours)
	fmt.Printf("  %s Cache TTL: %ds\n", checkMark, cfg.Cache.TTLSeconds)
	if cfg.Access.Enabled {
		fmt.Printf("  %s Access gate enabled (audience: %s)\n", checkMark, cfg.Access.Audience)
	} else {
		fmt.Printf("  %s Access gate disabled\n", checkMark)
	}

	if cfg.Alias.Path != "" {
		if _, err := alias.New(cfg.Alias.Path, zerolog.Nop()); err != nil {
			fmt.Printf("  %s Alias file loads\n", crossMark)
			fmt.Printf("      Error: %v\n", err)
		} else {
			fmt.Printf("  %s Alias file loads\n", checkMark)
		}
	}

	if validateCheckAccess && cfg.Access.TeamDomain != "" {
		if err := checkAccessReachable(cfg.Access.TeamDomain); err != nil {
			fmt.Printf("  %s Identity provider reachable\n", crossMark)
			fmt.Printf("      Error: %v\n", err)
		} else {
			fmt.Printf("  %s Identity provider reachable\n", checkMark)
		}
	}

	fmt.Println()
	fmt.Println("Configuration is valid.")
	return nil
}

func checkAccessReachable(teamDomain string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, teamDomain+"/cdn-cgi/access/certs", nil)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("key endpoint returned %d", resp.StatusCode)
	}
	return nil
}

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)
