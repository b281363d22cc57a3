// Command ingestd watches a JSON document source and projects validated
// documents into relational tables. The remote subcommand polls a WebDAV
// share; the local subcommand scans a filesystem directory.
package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/empi-rf/ingestd/internal/config"
	"github.com/empi-rf/ingestd/internal/ingest"
	"github.com/empi-rf/ingestd/internal/monitor"
	"github.com/empi-rf/ingestd/internal/store"
)

var (
	configFile string
	logFile    string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "ingestd",
	Short: "Change-driven JSON document ingestion daemon",
	Long: `ingestd ingests JSON metadata documents into relational tables.

Documents are routed by their SchemaID key to a table of the same name,
validated against JSON Schema files, and upserted column by column. Each
document's etag and modification time are recorded so unchanged files are
skipped on subsequent scans.

Sources:
  remote   poll a WebDAV share
  local    scan a filesystem directory`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: ./ingestd.{yaml,toml,json})")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Append logs to this file with rotation (default: stderr)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable per-file trace logging")
}

// newLogger builds the daemon logger, rotating through lumberjack when a
// log file is configured.
func newLogger(prefix string) *log.Logger {
	var out io.Writer = os.Stderr
	if logFile != "" {
		out = &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
	}
	return log.New(out, prefix, log.LstdFlags)
}

// loadConfig merges the command's flags over environment and file settings.
func loadConfig(cmd *cobra.Command, v *viper.Viper) (*config.Config, error) {
	bindings := map[string]string{
		"database.driver":   "db-driver",
		"database.host":     "db-host",
		"database.port":     "db-port",
		"database.user":     "db-user",
		"database.password": "db-password",
		"database.name":     "db-name",
		"database.path":     "db-path",
		"webdav.url":        "webdav-url",
		"webdav.user":       "webdav-user",
		"webdav.password":   "webdav-password",
		"webdav.root":       "webdav-root",
		"schema-dir":        "schema-dir",
		"source":            "source",
		"allowed":           "allowed",
		"interval":          "interval",
		"delete-missing":    "delete-missing",
		"monitor-port":      "monitor-port",
	}
	for key, flag := range bindings {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("failed to bind flag %s: %w", flag, err)
			}
		}
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}
	return config.Load(v, configFile)
}

// connector returns the per-cycle database opener. Each scan cycle opens a
// fresh connection and closes it when done.
func connector(cfg *config.Config) ingest.ConnectFunc {
	driver := cfg.Database.Driver
	dsn := cfg.Database.DSN()
	return func() (*store.DB, error) {
		return store.Open(driver, dsn)
	}
}

// startMonitor starts the websocket monitor when a port is configured and
// returns it as an event sink, or nil when monitoring is disabled.
func startMonitor(cfg *config.Config, logger *log.Logger) (*monitor.Server, error) {
	if cfg.MonitorPort == 0 {
		return nil, nil
	}
	srv := monitor.NewServer(&monitor.Config{Port: cfg.MonitorPort, Logger: logger})
	if err := srv.Start(); err != nil {
		return nil, err
	}
	return srv, nil
}

// events adapts the optional monitor to the nil-safe Events interface.
// A typed nil *monitor.Server must not leak into the interface value.
func events(srv *monitor.Server) ingest.Events {
	if srv == nil {
		return nil
	}
	return srv
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
