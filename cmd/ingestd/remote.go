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
	"github.com/empi-rf/ingestd/internal/schema"
	"github.com/empi-rf/ingestd/internal/webdav"
)

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Ingest JSON documents from a WebDAV share",
	Long: `Poll a WebDAV share for JSON metadata documents and ingest them.

Each cycle lists the share, fetches documents whose etag or modification
time changed, validates them against the schema directory, and inserts
them into the table named by their SchemaID. Documents whose identifier
already exists in the target table are skipped.

Every file's outcome (ok, skipped, error) is recorded in the ingest_state
table; skipped and failed files are retried on the next cycle.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(cmd, config.New())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		if cfg.WebDAV.URL == "" {
			fmt.Fprintf(os.Stderr, "Error: WebDAV URL not configured (--webdav-url)\n")
			os.Exit(1)
		}

		logger := newLogger("[remote] ")

		client, err := webdav.NewClient(cfg.WebDAV.URL, cfg.WebDAV.Root, cfg.WebDAV.User, cfg.WebDAV.Password)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid WebDAV URL: %v\n", err)
			os.Exit(1)
		}

		mon, err := startMonitor(cfg, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error starting monitor: %v\n", err)
			os.Exit(1)
		}
		if mon != nil {
			defer mon.Stop()
		}

		ingester, err := ingest.NewRemote(client, connector(cfg), schema.NewValidator(cfg.SchemaDir), &ingest.Config{
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

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger.Printf("Watching %s every %v", client.Target(), cfg.Interval)
		if err := ingester.Run(ctx, once); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	remoteCmd.Flags().Bool("once", false, "Run a single scan cycle and exit")
	remoteCmd.Flags().Duration("interval", 10*time.Second, "Poll interval between scan cycles")
	remoteCmd.Flags().String("webdav-url", "", "WebDAV base URL")
	remoteCmd.Flags().String("webdav-root", "", "Subpath under the WebDAV base URL")
	remoteCmd.Flags().String("webdav-user", "", "WebDAV username")
	remoteCmd.Flags().String("webdav-password", "", "WebDAV password")
	remoteCmd.Flags().String("schema-dir", "schemas", "Directory with <SchemaID>.json schema files")
	remoteCmd.Flags().StringSlice("allowed", nil, "SchemaIDs to ingest (default: all)")
	remoteCmd.Flags().Int("monitor-port", 0, "WebSocket monitor port (0 disables)")
	remoteCmd.Flags().String("db-driver", "mysql", "Database driver (mysql or sqlite3)")
	remoteCmd.Flags().String("db-host", "127.0.0.1", "Database host")
	remoteCmd.Flags().Int("db-port", 3306, "Database port")
	remoteCmd.Flags().String("db-user", "", "Database user")
	remoteCmd.Flags().String("db-password", "", "Database password")
	remoteCmd.Flags().String("db-name", "ingest", "Database name")
	remoteCmd.Flags().String("db-path", "ingest.db", "SQLite database path")
	rootCmd.AddCommand(remoteCmd)
}
