package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bracketai/usagegate/adapters/sqlite"
	"github.com/bracketai/usagegate/domain/logrec"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed <file>",
	Short: "Load access-log lines into a sqlite log source",
	Long: `Load raw access-log lines from a file into the configured sqlite
database, one record per line. Blank lines and lines starting with '#'
are ignored. Each record's ingest time is its position in the file
spread over the last hour, so a freshly seeded database produces a
non-empty report immediately.

Examples:
  usagegate seed access.log
  usagegate seed --dsn logs.db access.log`,
	Args: cobra.ExactArgs(1),
	RunE: runSeed,
}

var seedDSN string

func init() {
	rootCmd.AddCommand(seedCmd)

	seedCmd.Flags().StringVar(&seedDSN, "dsn", "", "sqlite database path (default: source.dsn from config)")
}

func runSeed(cmd *cobra.Command, args []string) error {
	dsn := seedDSN
	if dsn == "" {
		dsn = os.Getenv("USAGEGATE_SOURCE_DSN")
	}
	if dsn == "" {
		return fmt.Errorf("no database path: pass --dsn or set USAGEGATE_SOURCE_DSN")
	}

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read log file: %w", err)
	}
	if len(lines) == 0 {
		return fmt.Errorf("no records in %s", args[0])
	}

	db, err := sqlite.Open(dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return err
	}

	src := sqlite.NewLogSource(db)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)
	step := time.Hour / time.Duration(len(lines))

	for i, line := range lines {
		rec := logrec.Raw{
			Message:    line,
			IngestTime: base.Add(time.Duration(i) * step),
		}
		if err := src.Insert(ctx, rec); err != nil {
			return fmt.Errorf("insert record %d: %w", i+1, err)
		}
	}

	fmt.Printf("Seeded %d records into %s\n", len(lines), dsn)
	return nil
}
