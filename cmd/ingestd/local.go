package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/empi-rf/ingestd/internal/config"
	"github.com/empi-rf/ingestd/internal/ingest"
)

var localCmd = &cobra.Command{
	Use:   "local",
	Short: "Ingest JSON documents from a local directory",
	Long: `Scan a directory tree for JSON metadata documents and ingest them.

Each cycle walks the source directory, parses every *.json file, and
merges it into the table named by its SchemaID, overwriting any existing
row with the same identifier. A snapshot file in the source directory
remembers which rows each path produced; with --delete-missing, rows for
files that disappeared are removed.

With --watch, filesystem events trigger a rescan ahead of the interval.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(cmd, config.New())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		logger := newLogger("[local] ")

		mon, err := startMonitor(cfg, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error starting monitor: %v\n", err)
			os.Exit(1)
		}
		if mon != nil {
			defer mon.Stop()
		}

		ingester, err := ingest.NewLocal(cfg.SourceDir, connector(cfg), cfg.DeleteMissing, &ingest.Config{
			PollInterval: cfg.Interval,
			Allowed:      cfg.Allowed,
			Events:       events(mon),
			Logger:       logger,
			Debug:        verbose,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		once, _ := cmd.Flags().GetBool("once")
		watch, _ := cmd.Flags().GetBool("watch")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger.Printf("Watching %s every %v", cfg.SourceDir, cfg.Interval)
		if err := ingester.Run(ctx, once, watch); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	localCmd.Flags().Bool("once", false, "Run a single scan cycle and exit")
	localCmd.Flags().Bool("watch", false, "Rescan on filesystem events between polls")
	localCmd.Flags().Duration("interval", 10*time.Second, "Poll interval between scan cycles")
	localCmd.Flags().String("source", "data", "Directory to scan for *.json files")
	localCmd.Flags().Bool("delete-missing", false, "Delete rows for files removed from the source directory")
	localCmd.Flags().StringSlice("allowed", nil, "SchemaIDs to ingest (default: all)")
	localCmd.Flags().Int("monitor-port", 0, "WebSocket monitor port (0 disables)")
	localCmd.Flags().String("db-driver", "mysql", "Database driver (mysql or sqlite3)")
	localCmd.Flags().String("db-host", "127.0.0.1", "Database host")
	localCmd.Flags().Int("db-port", 3306, "Database port")
	localCmd.Flags().String("db-user", "", "Database user")
	localCmd.Flags().String("db-password", "", "Database password")
	localCmd.Flags().String("db-name", "ingest", "Database name")
	localCmd.Flags().String("db-path", "ingest.db", "SQLite database path")
	rootCmd.AddCommand(localCmd)
}
